package guard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func chainKey(kind Kind, chain int) string {
	return fmt.Sprintf("%s:%d", kind, chain)
}

func TestAcquireRejectsSecondConcurrentHolder(t *testing.T) {
	s := NewSet()
	g1, err := s.Acquire(chainKey(ScrapeLogs, 1))
	require.NoError(t, err)
	require.True(t, s.Held(chainKey(ScrapeLogs, 1)))

	_, err = s.Acquire(chainKey(ScrapeLogs, 1))
	require.ErrorIs(t, err, ErrAlreadyActive)

	g1.Release()
	require.False(t, s.Held(chainKey(ScrapeLogs, 1)))
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := NewSet()
	g, err := s.Acquire(chainKey(ScrapeLogs, 1))
	require.NoError(t, err)
	g.Release()
	require.NotPanics(t, g.Release)
}

func TestDifferentChainsDoNotContend(t *testing.T) {
	s := NewSet()
	_, err := s.Acquire(chainKey(ScrapeLogs, 1))
	require.NoError(t, err)
	_, err = s.Acquire(chainKey(ScrapeLogs, 2))
	require.NoError(t, err, "guards are scoped per-chain; chain 2 must not contend with chain 1")
}

func TestDifferentKindsOnSameChainDoNotContend(t *testing.T) {
	s := NewSet()
	_, err := s.Acquire(chainKey(ScrapeLogs, 1))
	require.NoError(t, err)
	_, err = s.Acquire(chainKey(ProcessLogs, 1))
	require.NoError(t, err)
}

func TestReleaseOnDeferAfterPanicStillClearsKey(t *testing.T) {
	s := NewSet()
	key := chainKey(ScrapeLogs, 1)

	func() {
		g, err := s.Acquire(key)
		require.NoError(t, err)
		defer g.Release()
		defer func() { recover() }()
		panic("boom")
	}()

	require.False(t, s.Held(key))
}
