package txsigner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/chain-fusion/harmonize/internal/ecdsaoracle"
	htypes "github.com/chain-fusion/harmonize/internal/types"
)

func TestSignProducesRecoverableTransaction(t *testing.T) {
	mock, err := ecdsaoracle.NewMock()
	require.NoError(t, err)

	ctx := context.Background()
	signer, err := New(ctx, mock, "test_key_1", nil)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, signer.Address())

	to := common.HexToAddress("0x00000000000000000000000000000000000B0B")
	tx, err := signer.Sign(ctx, Params{
		ChainID:              htypes.ChainID(1),
		Nonce:                7,
		To:                   to,
		Value:                big.NewInt(1_000_000),
		Gas:                  21000,
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	})
	require.NoError(t, err)

	gethSigner := types.NewLondonSigner(tx.ChainId())
	recovered, err := types.Sender(gethSigner, tx)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)

	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, to, *tx.To())
}

func TestAddressFromPublicKeyRejectsCompressedKey(t *testing.T) {
	_, err := AddressFromPublicKey([]byte{0x02, 0x01})
	require.Error(t, err)
}

func TestAddressFromPublicKeyMatchesCrypto(t *testing.T) {
	mock, err := ecdsaoracle.NewMock()
	require.NoError(t, err)
	pub, err := mock.PublicKey(context.Background(), "k", nil)
	require.NoError(t, err)

	addr, err := AddressFromPublicKey(pub)
	require.NoError(t, err)
	require.Len(t, addr, 20)

	key, err := crypto.UnmarshalPubkey(pub)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(*key), addr)
}
