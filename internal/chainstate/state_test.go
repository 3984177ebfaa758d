package chainstate

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/types"
)

func testSource(txByte byte, idx uint) LogSource {
	var h common.Hash
	h[0] = txByte
	return LogSource{TxHash: h, LogIndex: idx}
}

func TestNewStartsWithEmptyQueue(t *testing.T) {
	cs := New(1, nil, Latest, 100)
	require.Equal(t, uint64(100), cs.LastScrapedBlock)
	require.False(t, cs.HasLogsToProcess())
	require.Empty(t, cs.PendingInOrder())
	require.Empty(t, cs.SkippedBlocks())
}

func TestRecordLogToProcessPanicsOnDuplicateQueue(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	src := testSource(1, 0)
	cs.RecordLogToProcess(src, rpcmulti.LogEntry{})
	require.Panics(t, func() {
		cs.RecordLogToProcess(src, rpcmulti.LogEntry{})
	})
}

func TestRecordLogToProcessPanicsAfterAlreadyProcessed(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	src := testSource(1, 0)
	cs.RecordLogToProcess(src, rpcmulti.LogEntry{})
	cs.RecordProcessedLog(src)
	require.Panics(t, func() {
		cs.RecordLogToProcess(src, rpcmulti.LogEntry{})
	})
}

func TestRecordProcessedLogPanicsOnUnknownSource(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	require.Panics(t, func() {
		cs.RecordProcessedLog(testSource(9, 0))
	})
}

func TestRecordProcessedLogPanicsOnDoubleProcess(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	src := testSource(1, 0)
	cs.RecordLogToProcess(src, rpcmulti.LogEntry{})
	cs.RecordProcessedLog(src)
	require.Panics(t, func() {
		cs.RecordProcessedLog(src)
	})
}

func TestRecordProcessedLogMarksSourceApplied(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	src := testSource(1, 0)
	cs.RecordLogToProcess(src, rpcmulti.LogEntry{})
	require.True(t, cs.HasLogsToProcess())
	require.False(t, cs.IsProcessed(src))

	cs.RecordProcessedLog(src)
	require.False(t, cs.HasLogsToProcess())
	require.True(t, cs.IsProcessed(src))
	require.Empty(t, cs.PendingInOrder())
}

func TestRecordSkippedBlockPanicsOnDuplicate(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	cs.RecordSkippedBlock(42)
	require.Panics(t, func() {
		cs.RecordSkippedBlock(42)
	})
	require.Equal(t, []uint64{42}, cs.SkippedBlocks())
}

func TestPendingInOrderPreservesInsertionOrder(t *testing.T) {
	cs := New(1, nil, Latest, 0)
	s0 := testSource(1, 0)
	s1 := testSource(1, 1)
	s2 := testSource(2, 0)

	cs.RecordLogToProcess(s0, rpcmulti.LogEntry{BlockNumber: 10, LogIndex: 0})
	cs.RecordLogToProcess(s1, rpcmulti.LogEntry{BlockNumber: 10, LogIndex: 1})
	cs.RecordLogToProcess(s2, rpcmulti.LogEntry{BlockNumber: 11, LogIndex: 0})

	pending := cs.PendingInOrder()
	require.Len(t, pending, 3)
	require.Equal(t, []LogSource{s0, s1, s2}, []LogSource{pending[0].Source, pending[1].Source, pending[2].Source})

	// Processing the middle entry must not disturb the relative order of
	// the remaining two.
	cs.RecordProcessedLog(s1)
	pending = cs.PendingInOrder()
	require.Len(t, pending, 2)
	require.Equal(t, []LogSource{s0, s2}, []LogSource{pending[0].Source, pending[1].Source})
}

func TestCursorFieldsAreIndependentlyMutable(t *testing.T) {
	cs := New(types.ChainID(1), nil, Finalized, 0)
	cs.LastObservedBlock = 500
	cs.LastScrapedBlock = 480
	cs.LastProcessedBlock = 470

	require.GreaterOrEqual(t, cs.LastObservedBlock, cs.LastScrapedBlock)
	require.GreaterOrEqual(t, cs.LastScrapedBlock, cs.LastProcessedBlock)
}
