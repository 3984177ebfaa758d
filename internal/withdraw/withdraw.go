// Package withdraw implements the on-chain withdrawal pipeline (spec
// §4.H): build, escrow debit, sign, submit, receipt, reconcile.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chain-fusion/harmonize/internal/chainstate"
	"github.com/chain-fusion/harmonize/internal/feeoracle"
	"github.com/chain-fusion/harmonize/internal/ledger"
	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/txsigner"
	htypes "github.com/chain-fusion/harmonize/internal/types"
)

// Gas limits are implementation constants (spec §4.H step 1; §9 notes
// the ERC-20 figure is a pessimistic placeholder pending per-call
// estimation).
const (
	GasLimitNative uint64 = 21_000
	GasLimitErc20  uint64 = 5_000_000
)

var erc20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// Request describes a single withdrawal.
type Request struct {
	User    htypes.UserID
	To      common.Address
	ChainID htypes.ChainID
	Kind    htypes.AssetKind
	Token   htypes.TokenAddress // only meaningful for Erc20
	Amount  htypes.Amount
}

// Pipeline wires the ledger and signer together to execute withdrawals.
// One Pipeline serves every configured chain; per-chain nonce state
// lives in the caller-supplied ChainState, and the RPC façade is passed
// per call since different chains may use different provider sets.
type Pipeline struct {
	Ledger *ledger.Ledger
	Signer *txsigner.Signer
}

// escrow tracks what has actually been debited so a failure path can
// compensate precisely what was taken, regardless of asset kind.
type escrow struct {
	erc20Key     ledger.Erc20Key
	erc20Debited htypes.Amount // zero if Kind == Native
	nativeDebited htypes.Amount
}

// Execute runs the full withdrawal pipeline for req against chain (which
// must be the ChainState for req.ChainID) using client as the RPC façade
// for that chain.
func (p *Pipeline) Execute(ctx context.Context, client rpcmulti.Client, chain *chainstate.ChainState, req Request) error {
	data, gasLimit, err := buildCalldata(req)
	if err != nil {
		return err
	}

	fee, err := feeoracle.Compute(ctx, client, req.ChainID)
	if err != nil {
		return fmt.Errorf("withdraw: fee estimate: %w", err)
	}

	maxGasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), new(big.Int).Add(fee.MaxFeePerGas, fee.MaxPriorityFeePerGas))
	maxGasCostAmount := htypes.AmountFromBig(maxGasCost)

	esc, err := p.debitEscrow(req, maxGasCostAmount)
	if err != nil {
		return fmt.Errorf("withdraw: escrow debit: %w", err)
	}

	to := req.To
	txValue := big.NewInt(0)
	if req.Kind == htypes.Native {
		txValue = req.Amount.Big()
	} else {
		to = req.Token
	}

	signed, err := p.Signer.Sign(ctx, txsigner.Params{
		ChainID:              req.ChainID,
		Nonce:                chain.NextNonce(),
		To:                   to,
		Value:                txValue,
		Gas:                  gasLimit,
		MaxFeePerGas:         fee.MaxFeePerGas,
		MaxPriorityFeePerGas: fee.MaxPriorityFeePerGas,
		Data:                 data,
	})
	if err != nil {
		p.compensate(req, esc)
		return fmt.Errorf("withdraw: sign: %w", err)
	}

	rawTx, err := signed.MarshalBinary()
	if err != nil {
		p.compensate(req, esc)
		return fmt.Errorf("withdraw: encode signed tx: %w", err)
	}

	sendResult := client.SendRawTransaction(ctx, req.ChainID, rawTx)
	if !sendResult.Consistent {
		p.compensate(req, esc)
		return errors.New("withdraw: inconsistent submit result across providers")
	}
	if sendResult.Err != nil {
		p.compensate(req, esc)
		return fmt.Errorf("withdraw: submit: %w", sendResult.Err)
	}
	chain.AdvanceNonce()

	receiptResult := client.TransactionReceipt(ctx, req.ChainID, sendResult.Value)
	if !receiptResult.Consistent {
		p.compensate(req, esc)
		return errors.New("withdraw: inconsistent receipt across providers")
	}
	if receiptResult.Err != nil {
		p.compensate(req, esc)
		return fmt.Errorf("withdraw: receipt: %w", receiptResult.Err)
	}
	receipt := receiptResult.Value
	if receipt == nil {
		p.compensate(req, esc)
		return errors.New("withdraw: no receipt returned")
	}

	return p.reconcile(req, maxGasCostAmount, receipt)
}

// debitEscrow debits the native gas cost and, for an ERC-20 withdrawal,
// the withdrawn token amount; for a native withdrawal the withdrawn
// amount is folded into the same native debit as the gas cost (spec
// §4.H step 3). On partial failure (gas debited, asset debit fails) the
// gas debit is rolled back so the call leaves no side effects.
func (p *Pipeline) debitEscrow(req Request, maxGasCost htypes.Amount) (escrow, error) {
	nativeAmount := maxGasCost
	if req.Kind == htypes.Native {
		sum, err := maxGasCost.Add(req.Amount)
		if err != nil {
			return escrow{}, fmt.Errorf("escrow amount overflow: %w", err)
		}
		nativeAmount = sum
	}

	if _, err := p.Ledger.DebitNative(req.User, req.ChainID, nativeAmount); err != nil {
		return escrow{}, err
	}

	if req.Kind == htypes.Native {
		return escrow{nativeDebited: nativeAmount}, nil
	}

	key := ledger.Erc20Key{Group: req.ChainID, Key: req.Token}
	if _, err := p.Ledger.DebitErc20(req.User, key, req.Amount); err != nil {
		if _, rollback := p.Ledger.CreditNative(req.User, req.ChainID, nativeAmount); rollback != nil {
			panic(fmt.Sprintf("BUG: failed to roll back gas escrow after ERC-20 debit failure: %v", rollback))
		}
		return escrow{}, err
	}
	return escrow{nativeDebited: nativeAmount, erc20Key: key, erc20Debited: req.Amount}, nil
}

func (p *Pipeline) reconcile(req Request, maxGasCost htypes.Amount, receipt *types.Receipt) error {
	actual := htypes.AmountFromBig(new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice))

	if maxGasCost.Cmp(actual) < 0 {
		panic(fmt.Sprintf("BUG: gas_used cost (%s) exceeds max_gas_cost (%s)", actual, maxGasCost))
	}

	refund, err := maxGasCost.Sub(actual)
	if err != nil {
		panic(fmt.Sprintf("BUG: refund computation underflowed: %v", err))
	}
	if !refund.IsZero() {
		if _, err := p.Ledger.CreditNative(req.User, req.ChainID, refund); err != nil {
			panic(fmt.Sprintf("BUG: refund credit failed: %v", err))
		}
	}
	return nil
}

// compensate re-credits everything debitEscrow took, in full, on any
// failure path (spec §4.H step 6 "Failure"). A transaction that is mined
// but reverted does not reach compensate: it goes through reconcile,
// which charges gasUsed × effectiveGasPrice and keeps the withdrawn
// amount debited.
func (p *Pipeline) compensate(req Request, esc escrow) {
	if !esc.nativeDebited.IsZero() {
		if _, err := p.Ledger.CreditNative(req.User, req.ChainID, esc.nativeDebited); err != nil {
			panic(fmt.Sprintf("BUG: native compensation credit failed: %v", err))
		}
	}
	if !esc.erc20Debited.IsZero() {
		if _, err := p.Ledger.CreditErc20(req.User, esc.erc20Key, esc.erc20Debited); err != nil {
			panic(fmt.Sprintf("BUG: erc20 compensation credit failed: %v", err))
		}
	}
}

func buildCalldata(req Request) ([]byte, uint64, error) {
	switch req.Kind {
	case htypes.Native:
		return nil, GasLimitNative, nil
	case htypes.Erc20:
		amountBytes := req.Amount.Bytes32()
		data := make([]byte, 0, 4+32+32)
		data = append(data, erc20TransferSelector...)
		data = append(data, common.LeftPadBytes(req.To.Bytes(), 32)...)
		data = append(data, amountBytes[:]...)
		return data, GasLimitErc20, nil
	default:
		return nil, 0, fmt.Errorf("withdraw: unknown asset kind %v", req.Kind)
	}
}
