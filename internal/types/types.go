// Package types defines the identifiers and value types shared across the
// virtual-account engine: opaque user identities, chain and token
// addressing, and the 256-bit amounts held in every balance.
package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UserID is the opaque, externally-assigned identity of an authenticated
// user. The ledger never inspects its contents; the event decoder builds
// it from the hex encoding of a deposit log's user-topic payload.
type UserID string

// ChainID identifies a target EVM-compatible chain.
type ChainID uint32

// TokenAddress is the 20-byte address of an ERC-20 contract.
type TokenAddress = common.Address

// Amount is a non-negative 256-bit integer. The zero value is zero.
type Amount struct {
	inner uint256.Int
}

// NewAmount wraps a uint64 into an Amount.
func NewAmount(v uint64) Amount {
	var a Amount
	a.inner.SetUint64(v)
	return a
}

// AmountFromUint256 constructs an Amount holding a copy of v.
func AmountFromUint256(v *uint256.Int) Amount {
	var a Amount
	a.inner.Set(v)
	return a
}

// AmountFromBig constructs an Amount from a non-negative *big.Int.
func AmountFromBig(v *big.Int) Amount {
	var a Amount
	a.inner.SetFromBig(v)
	return a
}

// AmountFromBigEndian interprets data (big-endian, any length up to 32
// bytes) as an unsigned integer, matching the wire encoding of Solidity
// uint256 log data (spec §6 "Wire-level event formats").
func AmountFromBigEndian(data []byte) Amount {
	var a Amount
	a.inner.SetBytes(data)
	return a
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.inner.IsZero() }

// Cmp compares two amounts the way uint256.Int.Cmp does.
func (a Amount) Cmp(b Amount) int { return a.inner.Cmp(&b.inner) }

// Add returns a+b and reports ArithmeticOverflow on 256-bit overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	var sum Amount
	_, overflow := sum.inner.AddOverflow(&a.inner, &b.inner)
	if overflow {
		return Amount{}, ErrArithmeticOverflow
	}
	return sum, nil
}

// Sub returns a-b and reports InsufficientBalance if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, ErrInsufficientBalance
	}
	var diff Amount
	diff.inner.Sub(&a.inner, &b.inner)
	return diff, nil
}

// Uint256 returns the underlying uint256.Int, safe to mutate by the caller
// without affecting a.
func (a Amount) Uint256() *uint256.Int {
	v := a.inner
	return &v
}

func (a Amount) String() string { return a.inner.Dec() }

// Bytes32 returns the big-endian 32-byte encoding of the amount, the
// wire format for a Solidity uint256 (spec §6).
func (a Amount) Bytes32() [32]byte { return a.inner.Bytes32() }

// Big returns the amount as a *big.Int, for interop with go-ethereum
// APIs that speak big.Int rather than uint256.Int.
func (a Amount) Big() *big.Int { return a.inner.ToBig() }

// AssetKind tags which balance store a key belongs to.
type AssetKind int

const (
	Native AssetKind = iota
	Erc20
)

func (k AssetKind) String() string {
	switch k {
	case Native:
		return "native"
	case Erc20:
		return "erc20"
	default:
		return fmt.Sprintf("AssetKind(%d)", int(k))
	}
}
