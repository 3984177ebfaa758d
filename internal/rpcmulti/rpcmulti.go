// Package rpcmulti is the external adapter façade (spec §4.J): typed,
// multi-provider views over the EVM JSON-RPC methods the engine needs.
// Each call is run against every configured provider and the results are
// classified Consistent/Inconsistent, mirroring the Rust source's
// `MultiGetLogsResult`/`MultiFeeHistoryResult`/... wrappers.
//
// The production transport (the actual multi-provider HTTP client) is an
// external collaborator per spec §1; this package defines the interface
// the rest of the engine consumes and a thin wrapper around
// go-ethereum's ethclient/rpc for a single upstream, which satisfies it.
package rpcmulti

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	htypes "github.com/chain-fusion/harmonize/internal/types"
)

// LogEntry is the decoded-enough representation of a single EVM log, the
// unit the scraper enqueues and the decoder consumes.
type LogEntry struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Result wraps a value with the outcome of comparing it across all
// configured providers for one call.
type Result[T any] struct {
	Consistent bool
	Value      T
	Err        error
}

// Ok builds a Consistent result carrying value.
func Ok[T any](value T) Result[T] { return Result[T]{Consistent: true, Value: value} }

// Failed builds a Consistent result carrying a provider-side error (as
// opposed to a disagreement between providers).
func Failed[T any](err error) Result[T] { return Result[T]{Consistent: true, Err: err} }

// Inconsistent builds a result recording that providers disagreed.
func Inconsistent[T any]() Result[T] { return Result[T]{Consistent: false} }

// FeeHistory is the subset of eth_feeHistory this engine consumes.
type FeeHistory struct {
	BaseFeePerGas []*big.Int
	Reward        [][]*big.Int // reward[block][percentileIndex]
}

// Client is the multi-provider façade consumed by the scraper, fee
// oracle and withdrawal pipeline.
type Client interface {
	LatestBlockNumber(ctx context.Context, chain htypes.ChainID, tag int) Result[uint64]
	GetLogs(ctx context.Context, chain htypes.ChainID, addresses []common.Address, from, to uint64) Result[[]LogEntry]
	FeeHistory(ctx context.Context, chain htypes.ChainID, blockCount uint64, rewardPercentiles []float64) Result[FeeHistory]
	SendRawTransaction(ctx context.Context, chain htypes.ChainID, rawTx []byte) Result[common.Hash]
	TransactionReceipt(ctx context.Context, chain htypes.ChainID, txHash common.Hash) Result[*types.Receipt]
}

// IsResponseTooLarge reports whether err signals that the provider
// rejected a eth_getLogs call because the requested range's logs exceed
// its response-size limit — the trigger for adaptive range narrowing
// (spec §4.B). Providers are not standardized here, so this matches on
// the common substrings used by go-ethereum and major RPC vendors.
func IsResponseTooLarge(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"response size exceeded", "query returned more than", "limit exceeded", "block range is too large", "too many results"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// SingleProviderClient adapts a single go-ethereum ethclient.Client (and
// its underlying rpc.Client, for the raw eth_feeHistory call) to
// the Client interface. It never disagrees with itself, so every result
// is Consistent by construction; a real multi-provider transport
// composes several of these and folds the results.
type SingleProviderClient struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewSingleProviderClient dials endpoint once and wraps it.
func NewSingleProviderClient(ctx context.Context, endpoint string) (*SingleProviderClient, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &SingleProviderClient{eth: ethclient.NewClient(rpcClient), rpc: rpcClient}, nil
}

// LatestBlockNumber returns the height of the block selected by tag:
// 1 is "safe", 2 is "finalized" (the chainstate.BlockTag values) and any
// other value is "latest".
func (c *SingleProviderClient) LatestBlockNumber(ctx context.Context, _ htypes.ChainID, tag int) Result[uint64] {
	var number *big.Int
	switch tag {
	case 1:
		number = big.NewInt(int64(rpc.SafeBlockNumber))
	case 2:
		number = big.NewInt(int64(rpc.FinalizedBlockNumber))
	default:
		n, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return Failed[uint64](err)
		}
		return Ok(n)
	}
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return Failed[uint64](err)
	}
	return Ok(header.Number.Uint64())
}

func (c *SingleProviderClient) GetLogs(ctx context.Context, _ htypes.ChainID, addresses []common.Address, from, to uint64) Result[[]LogEntry] {
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	})
	if err != nil {
		return Failed[[]LogEntry](err)
	}
	out := make([]LogEntry, len(logs))
	for i, l := range logs {
		out[i] = LogEntry{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			LogIndex:    l.Index,
		}
	}
	return Ok(out)
}

// feeHistoryRaw mirrors the eth_feeHistory JSON response shape, decoding
// its hex-quantity fields with go-ethereum's own hexutil types — the
// same package the teacher's ethclient_rollup.go uses for hex-encoded
// RPC values (there hexutil.Bytes, here hexutil.Big/hexutil.Uint64).
type feeHistoryRaw struct {
	BaseFeePerGas []*hexutil.Big   `json:"baseFeePerGas"`
	Reward        [][]*hexutil.Big `json:"reward"`
}

func (c *SingleProviderClient) FeeHistory(ctx context.Context, _ htypes.ChainID, blockCount uint64, rewardPercentiles []float64) Result[FeeHistory] {
	var raw feeHistoryRaw
	err := c.rpc.CallContext(ctx, &raw, "eth_feeHistory", hexutil.Uint64(blockCount), "latest", rewardPercentiles)
	if err != nil {
		return Failed[FeeHistory](err)
	}
	fh := FeeHistory{}
	for _, b := range raw.BaseFeePerGas {
		fh.BaseFeePerGas = append(fh.BaseFeePerGas, b.ToInt())
	}
	for _, row := range raw.Reward {
		var r []*big.Int
		for _, v := range row {
			r = append(r, v.ToInt())
		}
		fh.Reward = append(fh.Reward, r)
	}
	return Ok(fh)
}

func (c *SingleProviderClient) SendRawTransaction(ctx context.Context, _ htypes.ChainID, rawTx []byte) Result[common.Hash] {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return Failed[common.Hash](err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return Failed[common.Hash](err)
	}
	return Ok(tx.Hash())
}

func (c *SingleProviderClient) TransactionReceipt(ctx context.Context, _ htypes.ChainID, txHash common.Hash) Result[*types.Receipt] {
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return Failed[*types.Receipt](err)
	}
	return Ok(r)
}
