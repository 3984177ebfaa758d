// Package ecdsaoracle defines the external threshold-ECDSA signing
// collaborator (spec §4.J) and provides an in-process mock suitable for
// tests and local development, backed by a single real secp256k1 key
// rather than an actual threshold signing ceremony.
package ecdsaoracle

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSignCycles is the cycle cost budgeted per sign_with_ecdsa call
// against the external oracle (spec §4.J).
const DefaultSignCycles = 10_000_000_000

// KeyID names a specific key configuration held by the oracle (e.g. the
// IC management canister's "key_1"/"test_key_1"/"dfx_test_key").
type KeyID string

// DerivationPath is an opaque sequence of path components used to derive
// a distinct public key from the oracle's root key material.
type DerivationPath [][]byte

// Oracle is the threshold-ECDSA signing collaborator the transaction
// signer calls. Implementations must treat both methods as suspension
// points (spec §5): no engine state may be held locked across a call.
type Oracle interface {
	// PublicKey returns the SEC1-uncompressed public key for path under
	// keyID.
	PublicKey(ctx context.Context, keyID KeyID, path DerivationPath) ([]byte, error)
	// Sign returns the 64-byte (r, s) signature of the given 32-byte
	// digest under path/keyID. No recovery parity is returned; the
	// caller searches for it (spec §4.F).
	Sign(ctx context.Context, keyID KeyID, path DerivationPath, digest [32]byte) ([]byte, error)
}

// Mock is an in-process Oracle backed by one real secp256k1 key pair. It
// ignores keyID and path — every derivation yields the same key — which
// is sufficient for exercising the signer/withdrawal pipeline without a
// real threshold-signing ceremony.
type Mock struct {
	priv *ecdsa.PrivateKey
}

// NewMock generates a fresh key pair for the mock oracle.
func NewMock() (*Mock, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("ecdsaoracle: generate mock key: %w", err)
	}
	return &Mock{priv: priv}, nil
}

// NewMockFromKey wraps an existing key, for deterministic tests.
func NewMockFromKey(priv *ecdsa.PrivateKey) *Mock {
	return &Mock{priv: priv}
}

func (m *Mock) PublicKey(_ context.Context, _ KeyID, _ DerivationPath) ([]byte, error) {
	return crypto.FromECDSAPub(&m.priv.PublicKey), nil
}

func (m *Mock) Sign(_ context.Context, _ KeyID, _ DerivationPath, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], m.priv)
	if err != nil {
		return nil, fmt.Errorf("ecdsaoracle: sign: %w", err)
	}
	// crypto.Sign returns a 65-byte [R || S || V] signature; the oracle
	// contract only ever returns the 64-byte (r, s) pair, leaving parity
	// recovery to the caller.
	return sig[:64], nil
}
