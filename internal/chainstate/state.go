// Package chainstate holds per-chain scan state: the cursor triple
// (observed/scraped/processed), the queue of logs awaiting application,
// the set of already-applied log sources, and the set of blocks skipped
// because their logs exceeded the provider's response-size limit
// (spec §4.A).
package chainstate

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/types"
)

// LogSource uniquely identifies a log entry within a chain: the
// transaction that emitted it and its log index within the block. The
// pair (ChainID, LogSource) is applied to the ledger at
// most once.
type LogSource struct {
	TxHash   common.Hash
	LogIndex uint
}

func (s LogSource) String() string {
	return fmt.Sprintf("%s:%d", s.TxHash.Hex(), s.LogIndex)
}

// BlockTag selects which finality level to query from the RPC provider.
type BlockTag int

const (
	Latest BlockTag = iota
	Safe
	Finalized
)

// PendingLog pairs a LogSource with the raw entry awaiting decode and
// application.
type PendingLog struct {
	Source LogSource
	Entry  rpcmulti.LogEntry
}

// ChainState is the mutable per-chain cursor and queue state described
// in spec §3. It is never destroyed while the chain remains configured.
type ChainState struct {
	ChainID            types.ChainID
	EndpointAddresses  []common.Address
	BlockTag           BlockTag

	LastObservedBlock uint64
	LastScrapedBlock  uint64
	LastProcessedBlock uint64

	Nonce uint64

	logsToProcess map[LogSource]rpcmulti.LogEntry
	logOrder      []LogSource
	processedLogs mapset.Set[LogSource]
	skippedBlocks mapset.Set[uint64]
}

// New creates a ChainState starting at lastScrapedBlock (inclusive); the
// scraper will begin at lastScrapedBlock+1.
func New(chainID types.ChainID, endpoints []common.Address, tag BlockTag, lastScrapedBlock uint64) *ChainState {
	return &ChainState{
		ChainID:           chainID,
		EndpointAddresses: endpoints,
		BlockTag:          tag,
		LastScrapedBlock:  lastScrapedBlock,
		logsToProcess:     make(map[LogSource]rpcmulti.LogEntry),
		processedLogs:     mapset.NewSet[LogSource](),
		skippedBlocks:     mapset.NewSet[uint64](),
	}
}

// RecordLogToProcess enqueues entry under source. Panics if source is
// already queued or already applied — spec §4.A calls this "a duplicate
// event bug", i.e. a fatal invariant violation rather than a recoverable
// error.
func (c *ChainState) RecordLogToProcess(source LogSource, entry rpcmulti.LogEntry) {
	if _, exists := c.logsToProcess[source]; exists {
		panic(fmt.Sprintf("BUG: duplicate log source queued twice: %s", source))
	}
	if c.processedLogs.Contains(source) {
		panic(fmt.Sprintf("BUG: log source re-queued after being processed: %s", source))
	}
	c.logsToProcess[source] = entry
	c.logOrder = append(c.logOrder, source)
}

// RecordProcessedLog moves source from logsToProcess into processedLogs.
// Panics if source was never queued or has already been processed.
func (c *ChainState) RecordProcessedLog(source LogSource) {
	if _, exists := c.logsToProcess[source]; !exists {
		panic(fmt.Sprintf("BUG: attempted to record processing of an unknown log source: %s", source))
	}
	if c.processedLogs.Contains(source) {
		panic(fmt.Sprintf("BUG: attempted to process log source twice: %s", source))
	}
	delete(c.logsToProcess, source)
	c.logOrder = removeSource(c.logOrder, source)
	c.processedLogs.Add(source)
}

// RecordSkippedBlock marks blockNumber as skipped because its logs
// exceeded the provider's response-size limit even after full adaptive
// narrowing. Panics on a duplicate skip.
func (c *ChainState) RecordSkippedBlock(blockNumber uint64) {
	if !c.skippedBlocks.Add(blockNumber) {
		panic(fmt.Sprintf("BUG: block %d was already recorded as skipped", blockNumber))
	}
}

// HasLogsToProcess reports whether any queued log awaits application.
func (c *ChainState) HasLogsToProcess() bool { return len(c.logsToProcess) > 0 }

// PendingInOrder returns the queued (source, entry) pairs in the order
// they were recorded — the ascending (blockNumber, logIndex) order the
// scraper preserved from the RPC response (spec §4.B "Ordering").
func (c *ChainState) PendingInOrder() []PendingLog {
	out := make([]PendingLog, 0, len(c.logOrder))
	for _, src := range c.logOrder {
		out = append(out, PendingLog{Source: src, Entry: c.logsToProcess[src]})
	}
	return out
}

// IsProcessed reports whether source has already been applied.
func (c *ChainState) IsProcessed(source LogSource) bool { return c.processedLogs.Contains(source) }

// SkippedBlocks returns the set of blocks skipped due to oversized logs.
func (c *ChainState) SkippedBlocks() []uint64 { return c.skippedBlocks.ToSlice() }

// ProcessedLogSources returns every LogSource recorded as applied, for
// durable persistence across restarts.
func (c *ChainState) ProcessedLogSources() []LogSource { return c.processedLogs.ToSlice() }

// RestoreProcessed re-marks source as already applied, without going
// through RecordProcessedLog's queue bookkeeping. Intended only for
// reconstructing state loaded from durable storage at startup.
func (c *ChainState) RestoreProcessed(source LogSource) { c.processedLogs.Add(source) }

// RestoreSkippedBlock re-marks blockNumber as skipped, without the
// duplicate-skip panic RecordSkippedBlock enforces during normal
// operation. Intended only for startup restoration from durable storage.
func (c *ChainState) RestoreSkippedBlock(blockNumber uint64) { c.skippedBlocks.Add(blockNumber) }

// NextNonce returns the nonce to use for the next outbound transaction.
// The nonce is authoritative local state, never read back from the
// chain (spec §4.H "Nonce discipline").
func (c *ChainState) NextNonce() uint64 { return c.Nonce }

// AdvanceNonce increments the per-chain nonce. Callers must only invoke
// this after a transaction submission succeeds (spec §4.H step 4).
func (c *ChainState) AdvanceNonce() { c.Nonce++ }

func removeSource(order []LogSource, target LogSource) []LogSource {
	for i, s := range order {
		if s == target {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
