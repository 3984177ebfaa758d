// Package txsigner builds EIP-1559 transactions and signs them through
// the external threshold-ECDSA oracle (spec §4.F).
package txsigner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chain-fusion/harmonize/internal/ecdsaoracle"
	htypes "github.com/chain-fusion/harmonize/internal/types"
)

// ErrRecoveryParityMissing is returned when neither candidate parity bit
// recovers to the expected signer address — a fatal signer failure.
var ErrRecoveryParityMissing = errors.New("txsigner: no recovery parity matches the cached public key")

// Params is the unsigned content of an EIP-1559 transaction (spec §4.F).
type Params struct {
	ChainID              htypes.ChainID
	Nonce                uint64
	To                   common.Address
	Value                *big.Int
	Gas                  uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Data                 []byte
}

// Signer signs EIP-1559 transactions via a threshold-ECDSA oracle,
// caching the engine's own address so signatures can be validated by
// parity search (spec §4.F) instead of trusting the oracle's choice of
// v, which the oracle never returns in the first place.
type Signer struct {
	oracle         ecdsaoracle.Oracle
	keyID          ecdsaoracle.KeyID
	derivationPath ecdsaoracle.DerivationPath

	address   common.Address
	publicKey []byte
}

// New fetches the oracle's public key once and derives the engine's EVM
// address from it (spec §4.F "Public-key-to-address").
func New(ctx context.Context, oracle ecdsaoracle.Oracle, keyID ecdsaoracle.KeyID, path ecdsaoracle.DerivationPath) (*Signer, error) {
	pub, err := oracle.PublicKey(ctx, keyID, path)
	if err != nil {
		return nil, fmt.Errorf("txsigner: fetch public key: %w", err)
	}
	addr, err := AddressFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("txsigner: derive address: %w", err)
	}
	return &Signer{oracle: oracle, keyID: keyID, derivationPath: path, address: addr, publicKey: pub}, nil
}

// Address returns the engine's EVM address derived from its public key.
func (s *Signer) Address() common.Address { return s.address }

// AddressFromPublicKey implements spec §4.F: parse as SEC1 uncompressed
// (must begin with 0x04), take keccak256(pubkey[1:])[12:32].
func AddressFromPublicKey(pub []byte) (common.Address, error) {
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}, errors.New("txsigner: public key is not SEC1 uncompressed")
	}
	hash := crypto.Keccak256(pub[1:])
	return common.BytesToAddress(hash[12:]), nil
}

// Sign builds the unsigned EIP-1559 transaction from params, RLP-encodes
// it with the 0x02 type prefix, keccak256-hashes it, and calls the
// oracle for a (r, s) signature. It then searches both recovery parity
// candidates for the one that recovers to the signer's own address.
func (s *Signer) Sign(ctx context.Context, params Params) (*types.Transaction, error) {
	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(uint64(params.ChainID)),
		Nonce:     params.Nonce,
		GasTipCap: params.MaxPriorityFeePerGas,
		GasFeeCap: params.MaxFeePerGas,
		Gas:       params.Gas,
		To:        &params.To,
		Value:     params.Value,
		Data:      params.Data,
		AccessList: types.AccessList{},
	})

	signer := types.NewLondonSigner(unsigned.ChainId())
	digest := signer.Hash(unsigned)

	rs, err := s.oracle.Sign(ctx, s.keyID, s.derivationPath, digest)
	if err != nil {
		return nil, fmt.Errorf("txsigner: oracle sign: %w", err)
	}
	if len(rs) != 64 {
		return nil, fmt.Errorf("txsigner: oracle returned %d-byte signature, want 64", len(rs))
	}

	signed, err := s.applyParity(unsigned, signer, digest, rs)
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// applyParity tries v=0 and v=1, recovering the sender address for each
// candidate full signature, and keeps whichever one matches s.address.
func (s *Signer) applyParity(unsigned *types.Transaction, signer types.Signer, digest [32]byte, rs []byte) (*types.Transaction, error) {
	for _, v := range [2]byte{0, 1} {
		full := make([]byte, 65)
		copy(full, rs)
		full[64] = v

		pub, err := crypto.SigToPub(digest[:], full)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) != s.address {
			continue
		}

		signed, err := unsigned.WithSignature(signer, full)
		if err != nil {
			return nil, fmt.Errorf("txsigner: attach signature: %w", err)
		}
		return signed, nil
	}
	return nil, ErrRecoveryParityMissing
}
