// Package feeoracle computes EIP-1559 fee settings from fee history
// (spec §4.G).
package feeoracle

import (
	"context"
	"errors"
	"math/big"
	"sort"

	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/types"
)

// Window is the number of trailing blocks requested from fee_history.
const Window = 9

// RewardPercentile is the single percentile requested per block.
const RewardPercentile = 95

// minMaxFeePerGas is the 1.5 gwei floor on maxFeePerGas.
var minMaxFeePerGas = big.NewInt(1_500_000_000)

// ErrInconsistentFeeHistory is returned when the multi-provider fee
// history call disagreed across providers — a hard error for the
// caller, per spec §4.G.
var ErrInconsistentFeeHistory = errors.New("feeoracle: inconsistent fee history across providers")

// Estimate is the fee setting pair a transaction builder consumes.
type Estimate struct {
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
}

// Compute computes fee settings for chain by requesting Window blocks
// of fee history at the 95th percentile and taking the median tip.
func Compute(ctx context.Context, client rpcmulti.Client, chain types.ChainID) (Estimate, error) {
	result := client.FeeHistory(ctx, chain, Window, []float64{RewardPercentile})
	if !result.Consistent {
		return Estimate{}, ErrInconsistentFeeHistory
	}
	if result.Err != nil {
		return Estimate{}, result.Err
	}

	fh := result.Value
	if len(fh.BaseFeePerGas) == 0 {
		return Estimate{}, errors.New("feeoracle: fee history response has no base fee entries")
	}
	base := fh.BaseFeePerGas[len(fh.BaseFeePerGas)-1]

	tip := medianTip(fh.Reward)
	maxFee := new(big.Int).Add(tip, base)
	if maxFee.Cmp(minMaxFeePerGas) < 0 {
		maxFee = new(big.Int).Set(minMaxFeePerGas)
	}
	return Estimate{MaxPriorityFeePerGas: tip, MaxFeePerGas: maxFee}, nil
}

// medianTip flattens the per-block 95th-percentile rewards, sorts them
// ascending, and returns the element at index ⌊(Window-1)/2⌋, or zero if
// there are too few entries to index.
func medianTip(reward [][]*big.Int) *big.Int {
	var tips []*big.Int
	for _, row := range reward {
		tips = append(tips, row...)
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Cmp(tips[j]) < 0 })

	idx := (Window - 1) / 2
	if idx >= len(tips) {
		return big.NewInt(0)
	}
	return new(big.Int).Set(tips[idx])
}
