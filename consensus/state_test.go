package consensus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log/term"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	cstypes "pbftsim_demo/consensus/types"
	"pbftsim_demo/libs/metric"
	"pbftsim_demo/types"
)

var fixedTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

// engineLogger is a TestingLogger which uses a different color for each
// node ("node" key must exist).
func engineLogger() log.Logger {
	return log.TestingLoggerWithColorFn(func(keyvals ...interface{}) term.FgBgColor {
		for i := 0; i < len(keyvals)-1; i += 2 {
			if keyvals[i] == "node" {
				if id, ok := keyvals[i+1].(int); ok {
					return term.FgBgColor{Fg: term.Color(uint8(id + 1))}
				}
			}
		}
		return term.FgBgColor{}
	})
}

func newTestEngine(t *testing.T, n int, options ...EngineOption) *RoundEngine {
	options = append([]EngineOption{WithClock(func() time.Time { return fixedTime })}, options...)
	e, err := NewRoundEngine(n, options...)
	require.NoError(t, err)
	e.SetLogger(engineLogger())
	return e
}

// runPhases 依次执行from..to，任何一步出错都直接失败
func runPhases(t *testing.T, e *RoundEngine, from, to int) RoundSnapshot {
	var snap RoundSnapshot
	var err error
	for i := from; i <= to; i++ {
		snap, err = e.Step(i)
		require.NoError(t, err, "step %d", i)
	}
	return snap
}

func eventsOfKind(events []types.MessageEvent, kind types.MessageKind) []types.MessageEvent {
	out := []types.MessageEvent{}
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestNewRoundEngineInitialState(t *testing.T) {
	e := newTestEngine(t, 4)
	snap := e.Snapshot()

	assert.Equal(t, 4, snap.NodeCount)
	assert.Equal(t, 1, snap.MaxFaults)
	assert.Equal(t, cstypes.MakeRoundState(), snap.RoundState)
	assert.Empty(t, snap.MessageLog)
	require.NotNil(t, snap.Leader())
	assert.Equal(t, 0, snap.Leader().ID)

	_, err := NewRoundEngine(3)
	assert.Equal(t, types.ErrInvalidNodeCount, errors.Cause(err))
}

func TestInitializeRejectsInvalidNodeCount(t *testing.T) {
	e := newTestEngine(t, 5)
	for _, n := range []int{0, 3, 11, -1} {
		_, err := e.Initialize(n)
		assert.Equal(t, types.ErrInvalidNodeCount, errors.Cause(err), "n=%d", n)
		assert.True(t, types.IsConfigurationError(err))
	}
	// 被拒绝的调用不改变状态
	assert.Equal(t, 5, e.NodeCount())
}

func TestInitializeKeepsMessageLog(t *testing.T) {
	e := newTestEngine(t, 4)
	runPhases(t, e, 0, 4)
	logLen := len(e.Snapshot().MessageLog)
	require.NotZero(t, logLen)

	snap, err := e.Initialize(7)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.NodeCount)
	assert.Equal(t, cstypes.MakeRoundState(), snap.RoundState)
	// 旧日志保留，只多一条初始化记录
	require.Len(t, snap.MessageLog, logLen+1)
	last := snap.MessageLog[logLen]
	assert.Equal(t, types.KindInitialize, last.Kind)
	assert.Equal(t, types.LabelSystem, last.From)
	assert.Equal(t, types.LabelNetwork, last.To)
	assert.Equal(t, types.DeliveryOk, last.Status)
	assert.Equal(t, "simulation initialized: 7 nodes, f=2", last.Detail)

	blocks, err := e.Blocks()
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestFullRoundIsSafeWithoutFaults(t *testing.T) {
	for n := types.MinNodeCount; n <= types.MaxNodeCount; n++ {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			e := newTestEngine(t, n)
			snap := runPhases(t, e, 0, 4)

			assert.Equal(t, cstypes.VerdictSafe, snap.RoundState.Verdict)
			assert.EqualValues(t, 1, snap.RoundState.CommittedBlockCount)
			assert.EqualValues(t, 2, snap.RoundState.Sequence)
			assert.Equal(t, 0, snap.RoundState.NextPhase)
			for _, node := range snap.Nodes {
				assert.Equal(t, types.PhaseCommittedFinal, node.PhaseStatus)
			}

			events := snap.MessageLog
			assert.Len(t, eventsOfKind(events, types.KindInitialize), 1)
			assert.Len(t, eventsOfKind(events, types.KindPrePrepare), n-1)
			assert.Len(t, eventsOfKind(events, types.KindPrepare), n*(n-1))
			assert.Len(t, eventsOfKind(events, types.KindCommit), n*(n-1))
			assert.Len(t, eventsOfKind(events, types.KindBlockCommitted), 1)
			for _, ev := range events {
				assert.Equal(t, types.DeliveryOk, ev.Status, ev.String())
			}

			for _, tally := range snap.Tallies {
				assert.Equal(t, n-1, tally.PrepareReceived)
				assert.True(t, tally.Prepared)
				assert.True(t, tally.CommittedLocally)
			}
		})
	}
}

func TestFullRoundWithToleratedFaults(t *testing.T) {
	for n := types.MinNodeCount; n <= types.MaxNodeCount; n++ {
		f := types.MaxTolerableFaults(n)
		e := newTestEngine(t, n)
		// 从最后一个节点开始注入，避开leader
		for i := 0; i < f; i++ {
			require.NoError(t, e.InjectFault(n-1-i, types.FaultCrash))
		}
		snap := runPhases(t, e, 0, 4)
		assert.Equal(t, cstypes.VerdictSafe, snap.RoundState.Verdict, "n=%d", n)
		assert.EqualValues(t, 1, snap.RoundState.CommittedBlockCount, "n=%d", n)
	}
}

func TestOverToleranceIsUnsafeAtFirstStep(t *testing.T) {
	for n := types.MinNodeCount; n <= types.MaxNodeCount; n++ {
		f := types.MaxTolerableFaults(n)
		e := newTestEngine(t, n)
		for i := 0; i <= f; i++ {
			require.NoError(t, e.InjectFault(i, types.FaultCrash))
		}
		before := len(e.Snapshot().MessageLog)

		snap, err := e.Step(0)
		require.NoError(t, err)
		assert.Equal(t, cstypes.VerdictUnsafe, snap.RoundState.Verdict, "n=%d", n)

		// 只追加一条CRITICAL的提交失败记录，没有协议消息
		require.Len(t, snap.MessageLog, before+1, "n=%d", n)
		ev := snap.MessageLog[before]
		assert.False(t, ev.Kind.IsProtocol())
		assert.Equal(t, types.KindBlockCommitFailed, ev.Kind)
		assert.Equal(t, types.DeliveryCritical, ev.Status)
		assert.Equal(t, fmt.Sprintf("active faults exceed f: %d > %d, Init aborted", f+1, f), ev.Detail)
	}
}

func TestRepeatedUnsafeStepIsLogged(t *testing.T) {
	e := newTestEngine(t, 4)
	runPhases(t, e, 0, 1)
	require.NoError(t, e.InjectFault(1, types.FaultCrash))
	require.NoError(t, e.InjectFault(2, types.FaultByzantine))
	before := len(e.Snapshot().MessageLog)

	for i := 0; i < 2; i++ {
		snap, err := e.Step(2)
		require.NoError(t, err)
		assert.Equal(t, cstypes.VerdictUnsafe, snap.RoundState.Verdict)
	}
	tail := e.LogSince(before)
	require.Len(t, tail, 2)
	for _, ev := range tail {
		assert.Equal(t, types.KindBlockCommitFailed, ev.Kind)
		assert.Equal(t, types.DeliveryCritical, ev.Status)
	}
	assert.Empty(t, eventsOfKind(tail, types.KindPrepare))
}

// N=4, f=1: 节点3崩溃，整轮仍然安全
func TestCrashOneOfFour(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(3, types.FaultCrash))

	snap := runPhases(t, e, 0, 4)
	assert.Equal(t, cstypes.VerdictSafe, snap.RoundState.Verdict)
	assert.EqualValues(t, 1, snap.RoundState.CommittedBlockCount)

	// 崩溃节点不会进入最终提交
	assert.Equal(t, types.PhaseCommitted, snap.Node(3).PhaseStatus)
	assert.Equal(t, types.PhaseCommittedFinal, snap.Node(0).PhaseStatus)

	prepares := eventsOfKind(snap.MessageLog, types.KindPrepare)
	assert.Len(t, prepares, 9)
	blocked := 0
	for _, ev := range prepares {
		assert.NotEqual(t, 3, ev.FromID)
		if ev.ToID == 3 {
			assert.Equal(t, types.DeliveryBlockedCrashedReceiver, ev.Status)
			blocked++
		}
	}
	assert.Equal(t, 3, blocked)
	assert.Equal(t, 2, snap.Tally(0).PrepareReceived)
	assert.True(t, snap.Tally(0).Prepared)

	committed := eventsOfKind(snap.MessageLog, types.KindBlockCommitted)
	require.Len(t, committed, 1)
	assert.Equal(t, "quorum reached: 3/2 nodes", committed[0].Detail)

	blocks, err := e.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.EqualValues(t, 1, blocks[0].Sequence)
	assert.Equal(t, types.MakeBlock(0, 1, 0).Digest, blocks[0].Digest)
	assert.True(t, fixedTime.Equal(blocks[0].CommitTime))
}

// N=4, f=1: 节点1、2崩溃，step(1)直接判定Unsafe，没有pre-prepare
func TestCrashTwoOfFour(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(1, types.FaultCrash))
	require.NoError(t, e.InjectFault(2, types.FaultCrash))

	injected := eventsOfKind(e.Snapshot().MessageLog, types.KindFaultInjected)
	require.Len(t, injected, 2)
	assert.Equal(t, types.DeliveryOk, injected[0].Status)
	assert.Equal(t, types.DeliveryCritical, injected[1].Status)
	assert.Equal(t, "CRASH fault injected (2/4 faulty, f=1)", injected[1].Detail)

	snap, err := e.Step(1)
	require.NoError(t, err)
	assert.Equal(t, cstypes.VerdictUnsafe, snap.RoundState.Verdict)
	assert.Empty(t, eventsOfKind(snap.MessageLog, types.KindPrePrepare))
}

// N=7, f=2: 节点5是拜占庭节点，它发出的prepare全部是冲突消息
func TestByzantinePrepare(t *testing.T) {
	e := newTestEngine(t, 7)
	require.NoError(t, e.InjectFault(5, types.FaultByzantine))

	snap := runPhases(t, e, 0, 2)
	prepares := eventsOfKind(snap.MessageLog, types.KindPrepare)
	require.Len(t, prepares, 42)

	honest := types.MakeBlock(0, 1, 0).Digest
	for _, ev := range prepares {
		switch {
		case ev.FromID == 5:
			assert.Equal(t, types.DeliveryConflictingByzantine, ev.Status)
			assert.NotEqual(t, honest, ev.Digest)
		default:
			assert.Equal(t, types.DeliveryOk, ev.Status)
			assert.Equal(t, honest, ev.Digest)
		}
	}

	tally := snap.Tally(0)
	assert.Equal(t, 6, tally.PrepareReceived)
	assert.Equal(t, 5, tally.PrepareMatching)
	assert.True(t, tally.Prepared)
}

func TestByzantineLeaderPrePrepare(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(0, types.FaultByzantine))

	snap := runPhases(t, e, 0, 1)
	prePrepares := eventsOfKind(snap.MessageLog, types.KindPrePrepare)
	require.Len(t, prePrepares, 3)
	for _, ev := range prePrepares {
		assert.Equal(t, 0, ev.FromID)
		assert.Equal(t, types.DeliveryConflictingByzantine, ev.Status)
	}
	assert.True(t, snap.Tally(1).PrePrepared)
	assert.Equal(t, types.PhasePrePrepared, snap.Node(0).PhaseStatus)
	assert.Equal(t, types.PhaseIdle, snap.Node(1).PhaseStatus)
}

func TestFaultyLeaderCannotPrePrepare(t *testing.T) {
	for _, fault := range []types.FaultStatus{types.FaultCrash, types.FaultOmission} {
		e := newTestEngine(t, 4)
		require.NoError(t, e.InjectFault(0, fault))

		snap := runPhases(t, e, 0, 1)
		prePrepares := eventsOfKind(snap.MessageLog, types.KindPrePrepare)
		require.Len(t, prePrepares, 3, fault.String())
		for _, ev := range prePrepares {
			assert.Equal(t, types.DeliveryBlockedCrashedSender, ev.Status, fault.String())
			assert.Equal(t, "leader has "+fault.String()+" fault", ev.Detail)
			assert.False(t, ev.Status.Delivered())
		}
		for id := 1; id < 4; id++ {
			assert.False(t, snap.Tally(id).PrePrepared)
			assert.Equal(t, types.PhaseIdle, snap.Node(id).PhaseStatus)
		}
	}
}

func TestPrePrepareToFaultyReplicas(t *testing.T) {
	e := newTestEngine(t, 7)
	require.NoError(t, e.InjectFault(2, types.FaultCrash))
	require.NoError(t, e.InjectFault(4, types.FaultOmission))

	snap := runPhases(t, e, 0, 1)
	for _, ev := range eventsOfKind(snap.MessageLog, types.KindPrePrepare) {
		switch ev.ToID {
		case 2:
			assert.Equal(t, types.DeliveryBlockedCrashedReceiver, ev.Status)
		case 4:
			assert.Equal(t, types.DeliveryOmitted, ev.Status)
		default:
			assert.Equal(t, types.DeliveryOk, ev.Status)
		}
	}
	assert.False(t, snap.Tally(2).PrePrepared)
	assert.True(t, snap.Tally(4).PrePrepared)
}

// 崩溃节点：不会作为发送方出现在任何送达的消息里，也不会成功接收任何消息
func TestCrashNodeNeverDelivers(t *testing.T) {
	for _, id := range []int{0, 2} {
		e := newTestEngine(t, 4)
		require.NoError(t, e.InjectFault(id, types.FaultCrash))
		snap := runPhases(t, e, 0, 4)

		for _, ev := range snap.MessageLog {
			if ev.Kind == types.KindFaultInjected {
				continue
			}
			if ev.IsFrom(id) {
				assert.False(t, ev.Status.Delivered(), ev.String())
			}
			if ev.IsTo(id) {
				assert.NotEqual(t, types.DeliveryOk, ev.Status, ev.String())
			}
		}
	}
}

// 遗漏节点：能收不能发
func TestOmissionNodeOnlyReceives(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(2, types.FaultOmission))
	snap := runPhases(t, e, 0, 4)

	receivedOk := 0
	for _, ev := range snap.MessageLog {
		if !ev.Kind.IsProtocol() {
			continue
		}
		if ev.IsFrom(2) {
			assert.False(t, ev.Status.Delivered(), ev.String())
		}
		if ev.IsTo(2) && ev.Status == types.DeliveryOk {
			receivedOk++
		}
	}
	// prepare和commit各收到3条
	assert.Equal(t, 6, receivedOk)
	assert.Equal(t, 3, snap.Tally(2).PrepareReceived)
	assert.Len(t, eventsOfKind(snap.MessageLog, types.KindPrepare), 9)
	assert.Equal(t, cstypes.VerdictSafe, snap.RoundState.Verdict)
}

func TestByzantineNodeAlwaysConflicts(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(1, types.FaultByzantine))
	snap := runPhases(t, e, 0, 4)

	sent := 0
	for _, ev := range snap.MessageLog {
		if ev.Kind.IsProtocol() && ev.IsFrom(1) {
			assert.Equal(t, types.DeliveryConflictingByzantine, ev.Status)
			sent++
		}
	}
	assert.Equal(t, 6, sent)
	// 拜占庭节点仍然算作故障节点，non-faulty=3 >= f+1
	assert.Equal(t, cstypes.VerdictSafe, snap.RoundState.Verdict)
}

func TestStepOutOfOrder(t *testing.T) {
	e := newTestEngine(t, 4)

	_, err := e.Step(2)
	assert.Equal(t, types.ErrPhaseOutOfOrder, errors.Cause(err))
	assert.True(t, types.IsSequencingError(err))
	assert.Empty(t, e.Snapshot().MessageLog)

	for _, idx := range []int{-1, 5, 100} {
		_, err = e.Step(idx)
		assert.Equal(t, types.ErrPhaseOutOfOrder, errors.Cause(err), "phase %d", idx)
	}

	runPhases(t, e, 0, 1)
	// 不允许重放
	_, err = e.Step(1)
	assert.Equal(t, types.ErrPhaseOutOfOrder, errors.Cause(err))
	_, err = e.Step(0)
	assert.Equal(t, types.ErrPhaseOutOfOrder, errors.Cause(err))

	snap, err := e.Step(2)
	require.NoError(t, err)
	assert.Equal(t, cstypes.PhasePrepare, snap.RoundState.Phase)
	assert.Equal(t, 3, snap.RoundState.NextPhase)
}

func TestUnsafeRoundHaltsUntilReset(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(1, types.FaultCrash))
	require.NoError(t, e.InjectFault(2, types.FaultCrash))

	snap, err := e.Step(0)
	require.NoError(t, err)
	require.Equal(t, cstypes.VerdictUnsafe, snap.RoundState.Verdict)

	e.ClearAllFaults()
	_, err = e.Step(0)
	assert.Equal(t, types.ErrRoundHalted, errors.Cause(err))

	snap, err = e.Reset()
	require.NoError(t, err)
	assert.Equal(t, cstypes.VerdictUnset, snap.RoundState.Verdict)
	assert.Equal(t, 4, snap.NodeCount)
	last := snap.MessageLog[len(snap.MessageLog)-1]
	assert.Equal(t, types.KindInitialize, last.Kind)
	assert.Equal(t, "simulation initialized: 4 nodes, f=1", last.Detail)

	snap = runPhases(t, e, 0, 4)
	assert.Equal(t, cstypes.VerdictSafe, snap.RoundState.Verdict)
}

func TestConsecutiveRounds(t *testing.T) {
	e := newTestEngine(t, 5)
	for round := 1; round <= 3; round++ {
		snap := runPhases(t, e, 0, 4)
		assert.EqualValues(t, round, snap.RoundState.CommittedBlockCount)
		assert.EqualValues(t, round+1, snap.RoundState.Sequence)
	}

	blocks, err := e.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.NotEqual(t, blocks[0].Digest, blocks[1].Digest)

	// 新一轮Init后节点状态回到Idle
	snap, err := e.Step(0)
	require.NoError(t, err)
	for _, node := range snap.Nodes {
		assert.Equal(t, types.PhaseIdle, node.PhaseStatus)
	}
	assert.Equal(t, cstypes.VerdictUnset, snap.RoundState.Verdict)
}

func TestInjectFaultErrors(t *testing.T) {
	e := newTestEngine(t, 4)

	err := e.InjectFault(4, types.FaultCrash)
	assert.Equal(t, types.ErrNodeOutOfRange, errors.Cause(err))
	err = e.InjectFault(-1, types.FaultCrash)
	assert.Equal(t, types.ErrNodeOutOfRange, errors.Cause(err))
	err = e.InjectFault(1, types.FaultNone)
	assert.Equal(t, types.ErrInvalidFaultStatus, errors.Cause(err))

	require.NoError(t, e.InjectFault(1, types.FaultByzantine))
	err = e.InjectFault(1, types.FaultCrash)
	assert.Equal(t, types.ErrNodeAlreadyFaulty, errors.Cause(err))

	require.NoError(t, e.InjectFault(2, types.FaultCrash))
	require.NoError(t, e.InjectFault(3, types.FaultOmission))
	err = e.InjectFault(0, types.FaultCrash)
	assert.Equal(t, types.ErrTooManyFaults, errors.Cause(err))

	snap := e.Snapshot()
	assert.Equal(t, 3, snap.ActiveFaults)
	assert.Equal(t, 1, snap.NonFaulty)
	// 只有成功的注入会写日志
	assert.Len(t, eventsOfKind(snap.MessageLog, types.KindFaultInjected), 3)
}

func TestClearFault(t *testing.T) {
	e := newTestEngine(t, 4)
	require.NoError(t, e.InjectFault(2, types.FaultOmission))

	require.NoError(t, e.ClearFault(2))
	err := e.ClearFault(2)
	assert.Equal(t, types.ErrNodeNotFaulty, errors.Cause(err))
	err = e.ClearFault(9)
	assert.Equal(t, types.ErrNodeOutOfRange, errors.Cause(err))

	snap := e.Snapshot()
	assert.Zero(t, snap.ActiveFaults)
	cleared := eventsOfKind(snap.MessageLog, types.KindFaultCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, 2, cleared[0].ToID)
	assert.Equal(t, types.LabelSystem, cleared[0].From)
}

func TestClearAllFaultsIdempotent(t *testing.T) {
	e := newTestEngine(t, 7)
	require.NoError(t, e.InjectFault(1, types.FaultCrash))
	require.NoError(t, e.InjectFault(3, types.FaultByzantine))

	first := e.ClearAllFaults()
	second := e.ClearAllFaults()

	assert.Zero(t, first.ActiveFaults)
	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Len(t, second.MessageLog, len(first.MessageLog)+1)

	last := second.MessageLog[len(second.MessageLog)-1]
	assert.Equal(t, types.KindFaultCleared, last.Kind)
	assert.Equal(t, types.LabelNetwork, last.To)
}

func TestTriggerViewChange(t *testing.T) {
	e := newTestEngine(t, 4)
	runPhases(t, e, 0, 2)

	_, err := e.TriggerViewChange()
	assert.Equal(t, types.ErrViewChangeMidRound, errors.Cause(err))

	runPhases(t, e, 3, 4)
	snap, err := e.TriggerViewChange()
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.RoundState.View)
	assert.Equal(t, 1, snap.Leader().ID)

	vc := eventsOfKind(snap.MessageLog, types.KindViewChange)
	require.Len(t, vc, 1)
	assert.Equal(t, "view 0 -> 1, leader Node 0 -> Node 1", vc[0].Detail)

	snap = runPhases(t, e, 0, 1)
	for _, ev := range eventsOfKind(e.LogSince(vc[0].Index), types.KindPrePrepare) {
		assert.Equal(t, 1, ev.FromID)
		assert.EqualValues(t, 1, ev.View)
		assert.EqualValues(t, 2, ev.Sequence)
	}
}

func TestLogIndicesAndLogSince(t *testing.T) {
	e := newTestEngine(t, 4)
	snap := runPhases(t, e, 0, 4)

	for i, ev := range snap.MessageLog {
		assert.Equal(t, i, ev.Index)
		assert.Equal(t, fixedTime, ev.Timestamp)
	}

	tail := e.LogSince(len(snap.MessageLog) - 1)
	require.Len(t, tail, 1)
	assert.Equal(t, types.KindBlockCommitted, tail[0].Kind)
	assert.Empty(t, e.LogSince(len(snap.MessageLog)))
}

func TestEngineIsDeterministic(t *testing.T) {
	run := func() []types.MessageEvent {
		e := newTestEngine(t, 7)
		require.NoError(t, e.InjectFault(2, types.FaultByzantine))
		require.NoError(t, e.InjectFault(6, types.FaultOmission))
		return runPhases(t, e, 0, 4).MessageLog
	}
	assert.Equal(t, run(), run())

	seeded := func(seed int64) []types.MessageEvent {
		e := newTestEngine(t, 4, WithFaultModel(NewFaultModelWithSeed(seed)))
		require.NoError(t, e.InjectFault(1, types.FaultByzantine))
		return runPhases(t, e, 0, 2).MessageLog
	}
	assert.Equal(t, seeded(42), seeded(42))
	assert.NotEqual(t, seeded(42), seeded(43))
}

func TestListenerReceivesEveryEvent(t *testing.T) {
	e := newTestEngine(t, 4)

	received := []types.MessageEvent{}
	require.NoError(t, e.AddListener("test", func(ev types.MessageEvent) {
		received = append(received, ev)
	}))

	snap := runPhases(t, e, 0, 4)
	assert.Equal(t, snap.MessageLog, received)

	e.RemoveListener("test")
	e.ClearAllFaults()
	assert.Len(t, received, len(snap.MessageLog))
}

func TestRegisterMetrics(t *testing.T) {
	e := newTestEngine(t, 4)
	ms := metric.NewMetricSet()
	require.NoError(t, e.RegisterMetrics(ms))
	assert.Equal(t, metric.ErrMetricLabelExist, errors.Cause(e.RegisterMetrics(ms)))

	runPhases(t, e, 0, 4)
	assert.EqualValues(t, 12, e.counters.Count(types.KindPrepare.String()))
	assert.EqualValues(t, 1, e.counters.Count(types.KindBlockCommitted.String()))

	out := ms.Snapshot(MetricLabelConsensus)
	assert.Contains(t, out[MetricLabelConsensus], `"committed_blocks":1`)
	assert.Contains(t, out[MetricLabelConsensus], `"verdict":"safe"`)

	// 重新初始化后计数器从零开始，只剩初始化这一条
	_, err := e.Initialize(5)
	require.NoError(t, err)
	assert.Zero(t, e.counters.Count(types.KindPrepare.String()))
	assert.EqualValues(t, 1, e.counters.Count(types.KindInitialize.String()))
	assert.JSONEq(t, `{"Initialize":1,"status:ok":1}`, ms.Snapshot(MetricLabelDelivery)[MetricLabelDelivery])
}

// Reset和Initialize交错执行时，最后一条初始化记录和最终的节点数一致
func TestResetDoesNotRaceInitialize(t *testing.T) {
	e := newTestEngine(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Reset()
			assert.NoError(t, err)
		}()
		go func(n int) {
			defer wg.Done()
			_, err := e.Initialize(n)
			assert.NoError(t, err)
		}(types.MinNodeCount + i%7)
	}
	wg.Wait()

	snap := e.Snapshot()
	inits := eventsOfKind(snap.MessageLog, types.KindInitialize)
	require.Len(t, inits, 40)
	want := fmt.Sprintf("simulation initialized: %d nodes, f=%d", snap.NodeCount, snap.MaxFaults)
	assert.Equal(t, want, inits[len(inits)-1].Detail)
}
