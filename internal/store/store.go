// Package store persists per-chain cursor state durably, so a restart
// resumes scraping and processing from where it left off instead of
// re-scanning or re-crediting already-applied logs (spec §3
// "Persisted state layout" notes the schema is logical, serialisation
// host-defined — this package is that host choice).
//
// Key layout and the encode/Put/decode/Get shape are grounded on the
// teacher's rawdb accessor pattern (prefix + identifier -> RLP blob,
// log.Crit on unexpected encode/write failure).
package store

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/chain-fusion/harmonize/internal/chainstate"
	"github.com/chain-fusion/harmonize/internal/types"
)

// chainCursorPrefix + chainID(4 bytes big-endian) -> RLP(cursorRecord)
var chainCursorPrefix = []byte("cc")

func chainCursorKey(chainID types.ChainID) []byte {
	key := make([]byte, 0, len(chainCursorPrefix)+4)
	key = append(key, chainCursorPrefix...)
	key = append(key, byte(chainID>>24), byte(chainID>>16), byte(chainID>>8), byte(chainID))
	return key
}

// processedLogSource is the RLP-friendly encoding of a chainstate.LogSource.
type processedLogSource struct {
	TxHash   common.Hash
	LogIndex uint64
}

// cursorRecord is the durable encoding of everything a ChainState needs
// to resume after a restart without re-scraping or re-crediting.
type cursorRecord struct {
	LastObservedBlock  uint64
	LastScrapedBlock   uint64
	LastProcessedBlock uint64
	Nonce              uint64
	SkippedBlocks      []uint64
	ProcessedLogs      []processedLogSource
}

// Store wraps a LevelDB handle dedicated to engine persistence.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the LevelDB database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveChainCursor persists chain's cursor triple, nonce, skipped blocks
// and processed-log set.
func (s *Store) SaveChainCursor(chain *chainstate.ChainState) {
	processed := chain.ProcessedLogSources()
	record := cursorRecord{
		LastObservedBlock:  chain.LastObservedBlock,
		LastScrapedBlock:   chain.LastScrapedBlock,
		LastProcessedBlock: chain.LastProcessedBlock,
		Nonce:              chain.Nonce,
		SkippedBlocks:      chain.SkippedBlocks(),
		ProcessedLogs:      make([]processedLogSource, len(processed)),
	}
	for i, src := range processed {
		record.ProcessedLogs[i] = processedLogSource{TxHash: src.TxHash, LogIndex: uint64(src.LogIndex)}
	}

	enc, err := rlp.EncodeToBytes(&record)
	if err != nil {
		log.Crit("Failed to RLP encode chain cursor", "chain", chain.ChainID, "err", err)
	}
	if err := s.db.Put(chainCursorKey(chain.ChainID), enc, nil); err != nil {
		log.Crit("Failed to persist chain cursor", "chain", chain.ChainID, "err", err)
	}
}

// LoadChainCursor applies any persisted cursor for chain.ChainID onto
// chain in place. It is a no-op if nothing was ever saved for that
// chain (a fresh chain starts from its configured initial cursor).
func (s *Store) LoadChainCursor(chain *chainstate.ChainState) error {
	data, err := s.db.Get(chainCursorKey(chain.ChainID), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	var record cursorRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return err
	}

	chain.LastObservedBlock = record.LastObservedBlock
	chain.LastScrapedBlock = record.LastScrapedBlock
	chain.LastProcessedBlock = record.LastProcessedBlock
	chain.Nonce = record.Nonce
	for _, n := range record.SkippedBlocks {
		chain.RestoreSkippedBlock(n)
	}
	for _, src := range record.ProcessedLogs {
		chain.RestoreProcessed(chainstate.LogSource{TxHash: src.TxHash, LogIndex: uint(src.LogIndex)})
	}
	return nil
}
