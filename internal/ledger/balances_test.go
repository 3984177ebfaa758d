package ledger

import (
	"testing"

	"github.com/chain-fusion/harmonize/internal/types"
	"github.com/stretchr/testify/require"
)

func TestFlatStorePrunesZeroBalance(t *testing.T) {
	s := NewFlatStore[types.ChainID]()
	_, err := s.Credit(1, types.NewAmount(10))
	require.NoError(t, err)
	require.False(t, s.IsEmpty())

	_, err = s.Debit(1, types.NewAmount(10))
	require.NoError(t, err)
	require.True(t, s.IsEmpty(), "a zero balance must be pruned")
}

func TestGroupedStorePrunesEmptyGroup(t *testing.T) {
	s := NewGroupedStore[types.ChainID, int]()
	key := GroupKey[types.ChainID, int]{Group: 1, Key: 7}
	_, err := s.Credit(key, types.NewAmount(50))
	require.NoError(t, err)
	require.False(t, s.IsEmpty())

	_, err = s.Debit(key, types.NewAmount(50))
	require.NoError(t, err)
	require.True(t, s.IsEmpty(), "an empty inner group must be pruned")
}

func TestGroupedStoreTransferAcrossGroups(t *testing.T) {
	a := NewGroupedStore[types.ChainID, int]()
	b := NewGroupedStore[types.ChainID, int]()
	key := GroupKey[types.ChainID, int]{Group: 5, Key: 1}

	_, err := a.Credit(key, types.NewAmount(300))
	require.NoError(t, err)
	require.NoError(t, a.Transfer(b, key, types.NewAmount(300)))

	require.True(t, a.Get(key).IsZero())
	require.Equal(t, 0, b.Get(key).Cmp(types.NewAmount(300)))
}

func TestFlatStoreDebitAbsentKey(t *testing.T) {
	s := NewFlatStore[types.ChainID]()
	_, err := s.Debit(1, types.NewAmount(1))
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
}
