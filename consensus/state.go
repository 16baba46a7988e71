package consensus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"

	cstypes "pbftsim_demo/consensus/types"
	"pbftsim_demo/libs/metric"
	"pbftsim_demo/store"
	"pbftsim_demo/types"
)

// engine向外广播的事件
const (
	EventNewMessage = "NewMessage"
)

// metric注册用的label
const (
	MetricLabelConsensus = "consensus"
	MetricLabelDelivery  = "delivery"
)

// RoundEngine 单轮PBFT模拟的状态机
// 外部驱动每次调用Step推进一个阶段，每次调用都是原子的：
// 持有mtx直到该阶段的所有消息写入日志、所有节点状态更新完毕
type RoundEngine struct {
	Logger log.Logger

	mtx        sync.Mutex
	nodes      *types.NodeSet
	roundState cstypes.RoundState
	messageLog *types.MessageLog

	faultModel *FaultModel
	blockStore store.Store

	// 本轮每个节点收到的pre-prepare/prepare/commit
	prePrepared  map[int]bool
	prepareVotes *cstypes.VoteTally
	commitVotes  *cstypes.VoteTally

	eventSwitch events.EventSwitch
	metric      *roundMetric
	counters    *metric.CounterSet

	now func() time.Time
}

type EngineOption func(*RoundEngine)

// WithFaultModel replaces the default deterministic fault model.
func WithFaultModel(fm *FaultModel) EngineOption {
	return func(e *RoundEngine) {
		e.faultModel = fm
	}
}

func WithBlockStore(bs store.Store) EngineOption {
	return func(e *RoundEngine) {
		e.blockStore = bs
	}
}

// WithClock 测试时固定时间戳
func WithClock(now func() time.Time) EngineOption {
	return func(e *RoundEngine) {
		e.now = now
	}
}

// NewRoundEngine creates an engine with n nodes, already initialized.
func NewRoundEngine(n int, options ...EngineOption) (*RoundEngine, error) {
	if err := types.ValidateNodeCount(n); err != nil {
		return nil, err
	}

	e := &RoundEngine{
		Logger:       log.NewNopLogger(),
		nodes:        types.NewNodeSet(n, 0),
		roundState:   cstypes.MakeRoundState(),
		messageLog:   types.NewMessageLog(),
		faultModel:   NewFaultModel(),
		prePrepared:  make(map[int]bool),
		prepareVotes: cstypes.NewVoteTally(),
		commitVotes:  cstypes.NewVoteTally(),
		eventSwitch:  events.NewEventSwitch(),
		metric:       newRoundMetric(),
		counters:     metric.NewCounterSet(),
		now:          time.Now,
	}

	for _, opt := range options {
		opt(e)
	}
	if e.blockStore == nil {
		e.blockStore = store.NewMemBlockStore(e.Logger)
	}

	e.markMetric()
	return e, nil
}

func (e *RoundEngine) SetLogger(logger log.Logger) {
	e.Logger = logger
	if bs, ok := e.blockStore.(*store.BlockStore); ok {
		bs.SetLogger(logger.With("module", "store"))
	}
}

// RegisterMetrics 把engine的metric注册到node的MetricSet
func (e *RoundEngine) RegisterMetrics(ms *metric.MetricSet) error {
	if err := ms.Register(MetricLabelConsensus, e.metric); err != nil {
		return err
	}
	return ms.Register(MetricLabelDelivery, e.counters)
}

// AddListener registers cb for every message appended to the log. Callbacks
// run while the engine lock is held and must not call back into the engine.
func (e *RoundEngine) AddListener(listenerID string, cb func(types.MessageEvent)) error {
	return e.eventSwitch.AddListenerForEvent(listenerID, EventNewMessage, func(data events.EventData) {
		if ev, ok := data.(types.MessageEvent); ok {
			cb(ev)
		}
	})
}

func (e *RoundEngine) RemoveListener(listenerID string) {
	e.eventSwitch.RemoveListener(listenerID)
}

//-----------------------------------------------------------------------------
// 外部操作

// Initialize 重新创建n个节点，并把轮次状态重置为{view:0, sequence:1, Init, 0, Unset}
// 消息日志只追加，不会被清空
func (e *RoundEngine) Initialize(n int) (RoundSnapshot, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.initialize(n)
}

// Reset re-initializes with the current node count.
func (e *RoundEngine) Reset() (RoundSnapshot, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.initialize(e.nodes.Size())
}

// 调用方持有mtx
func (e *RoundEngine) initialize(n int) (RoundSnapshot, error) {
	if err := types.ValidateNodeCount(n); err != nil {
		return RoundSnapshot{}, err
	}
	if err := e.blockStore.Reset(); err != nil {
		return RoundSnapshot{}, errors.Wrap(err, "reset block store")
	}

	e.nodes = types.NewNodeSet(n, 0)
	e.roundState = cstypes.MakeRoundState()
	e.resetTallies()
	e.counters.Clear()

	e.appendEvent(types.MessageEvent{
		From:   types.LabelSystem,
		To:     types.LabelNetwork,
		FromID: types.SystemID,
		ToID:   types.SystemID,
		Kind:   types.KindInitialize,
		Status: types.DeliveryOk,
		Detail: fmt.Sprintf("simulation initialized: %d nodes, f=%d", n, types.MaxTolerableFaults(n)),
	})
	e.Logger.Info("initialize simulation", "nodes", n, "f", types.MaxTolerableFaults(n))
	e.markMetric()
	return e.snapshot(), nil
}

// InjectFault 注入故障，节点已经有故障时必须先清除
// 注入后故障数超过f时，日志里该事件标记为CRITICAL
func (e *RoundEngine) InjectFault(nodeID int, status types.FaultStatus) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	n := e.nodes.Size()
	node := e.nodes.GetByID(nodeID)
	if node == nil {
		return errors.Wrapf(types.ErrNodeOutOfRange, "node %d, size %d", nodeID, n)
	}
	if !node.IsFaulty() && e.nodes.ActiveFaultCount()+1 > n-1 {
		return errors.Wrapf(types.ErrTooManyFaults, "%d nodes already faulty", e.nodes.ActiveFaultCount())
	}
	if err := e.nodes.SetFaultStatus(nodeID, status); err != nil {
		return err
	}

	active := e.nodes.ActiveFaultCount()
	maxFaults := types.MaxTolerableFaults(n)
	delivery := types.DeliveryOk
	if types.IsOverTolerance(active, n) {
		delivery = types.DeliveryCritical
	}

	e.appendEvent(types.MessageEvent{
		From:   types.LabelSystem,
		To:     node.Label(),
		FromID: types.SystemID,
		ToID:   node.ID,
		Kind:   types.KindFaultInjected,
		Status: delivery,
		Detail: fmt.Sprintf("%s fault injected (%d/%d faulty, f=%d)", strings.ToUpper(status.String()), active, n, maxFaults),
	})

	if delivery == types.DeliveryCritical {
		e.Logger.Error("fault count exceeds tolerance", "node", nodeID, "fault", status, "active", active, "f", maxFaults)
	} else {
		e.Logger.Info("fault injected", "node", nodeID, "fault", status, "active", active, "f", maxFaults)
	}
	e.markMetric()
	return nil
}

// ClearFault removes the fault of a single node.
func (e *RoundEngine) ClearFault(nodeID int) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	node := e.nodes.GetByID(nodeID)
	if node == nil {
		return errors.Wrapf(types.ErrNodeOutOfRange, "node %d, size %d", nodeID, e.nodes.Size())
	}
	previous := node.FaultStatus
	if err := e.nodes.ClearFault(nodeID); err != nil {
		return err
	}

	e.appendEvent(types.MessageEvent{
		From:   types.LabelSystem,
		To:     node.Label(),
		FromID: types.SystemID,
		ToID:   node.ID,
		Kind:   types.KindFaultCleared,
		Status: types.DeliveryOk,
		Detail: fmt.Sprintf("%s fault removed", strings.ToUpper(previous.String())),
	})
	e.Logger.Info("fault cleared", "node", nodeID, "fault", previous)
	e.markMetric()
	return nil
}

// ClearAllFaults 清除所有故障，重复调用只会多一条日志，不会改变节点状态
func (e *RoundEngine) ClearAllFaults() RoundSnapshot {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	cleared := e.nodes.ClearAllFaults()
	e.appendEvent(types.MessageEvent{
		From:   types.LabelSystem,
		To:     types.LabelNetwork,
		FromID: types.SystemID,
		ToID:   types.SystemID,
		Kind:   types.KindFaultCleared,
		Status: types.DeliveryOk,
		Detail: fmt.Sprintf("all faults cleared (%d)", cleared),
	})
	e.Logger.Info("all faults cleared", "cleared", cleared)
	e.markMetric()
	return e.snapshot()
}

// TriggerViewChange 视图切换的桩实现：只在两轮之间允许，view+1并轮换leader
func (e *RoundEngine) TriggerViewChange() (RoundSnapshot, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.roundState.NextPhase != cstypes.PhaseInit.Index() {
		return RoundSnapshot{}, errors.Wrapf(types.ErrViewChangeMidRound, "next phase is %d", e.roundState.NextPhase)
	}

	oldLeader := e.nodes.LeaderID(e.roundState.View)
	e.roundState.View++
	e.nodes.SetLeader(e.roundState.View)
	newLeader := e.nodes.LeaderID(e.roundState.View)

	e.appendEvent(types.MessageEvent{
		From:   types.LabelSystem,
		To:     types.LabelNetwork,
		FromID: types.SystemID,
		ToID:   types.SystemID,
		Kind:   types.KindViewChange,
		Status: types.DeliveryOk,
		Detail: fmt.Sprintf("view %d -> %d, leader %s -> %s",
			e.roundState.View-1, e.roundState.View, types.NodeLabel(oldLeader), types.NodeLabel(newLeader)),
	})
	e.Logger.Info("view change", "view", e.roundState.View, "leader", newLeader)
	e.metric.MarkViewChange()
	e.markMetric()
	return e.snapshot(), nil
}

// Step 执行下标为phaseIndex的阶段
//
// 1. 活跃故障数超过f：verdict=Unsafe，只记一条CRITICAL的BlockCommitFailed，不产生协议消息，正常返回
// 2. 本轮已经被判定为Unsafe：必须重新初始化
// 3. phaseIndex必须等于NextPhase，不允许跳过或重放阶段
func (e *RoundEngine) Step(phaseIndex int) (RoundSnapshot, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	phase, ok := cstypes.PhaseFromIndex(phaseIndex)
	if !ok {
		return RoundSnapshot{}, errors.Wrapf(types.ErrPhaseOutOfOrder, "unknown phase index %d", phaseIndex)
	}

	n := e.nodes.Size()
	active := e.nodes.ActiveFaultCount()
	if types.IsOverTolerance(active, n) {
		maxFaults := types.MaxTolerableFaults(n)
		e.appendEvent(types.MessageEvent{
			From:   types.LabelNetwork,
			To:     types.LabelBlockchain,
			FromID: types.SystemID,
			ToID:   types.SystemID,
			Kind:   types.KindBlockCommitFailed,
			Status: types.DeliveryCritical,
			Detail: fmt.Sprintf("active faults exceed f: %d > %d, %s aborted", active, maxFaults, phase),
		})
		e.Logger.Error("active faults exceed tolerance, round unsafe",
			"phase", phase, "active", active, "f", maxFaults)
		e.setVerdict(cstypes.VerdictUnsafe)
		e.markMetric()
		return e.snapshot(), nil
	}

	if e.roundState.IsHalted() {
		return RoundSnapshot{}, errors.Wrapf(types.ErrRoundHalted, "view %d sequence %d", e.roundState.View, e.roundState.Sequence)
	}
	if phaseIndex != e.roundState.NextPhase {
		return RoundSnapshot{}, errors.Wrapf(types.ErrPhaseOutOfOrder, "expected phase %d, got %d", e.roundState.NextPhase, phaseIndex)
	}

	e.Logger.Debug("enter phase", "phase", phase, "view", e.roundState.View, "sequence", e.roundState.Sequence)

	var err error
	switch phase {
	case cstypes.PhaseInit:
		e.enterInit()
	case cstypes.PhasePrePrepare:
		e.enterPrePrepare()
	case cstypes.PhasePrepare:
		e.enterPrepare()
	case cstypes.PhaseCommit:
		e.enterCommit()
	case cstypes.PhaseFinalize:
		err = e.enterFinalize()
	}
	if err != nil {
		return RoundSnapshot{}, err
	}

	e.roundState.Phase = phase
	if phase != cstypes.PhaseFinalize {
		e.roundState.NextPhase = phaseIndex + 1
	}
	e.markMetric()
	return e.snapshot(), nil
}

//-----------------------------------------------------------------------------
// 各阶段的实现，调用方持有mtx

// enterInit 保留当前view和sequence，所有节点回到Idle，leader准备本轮提案
func (e *RoundEngine) enterInit() {
	e.nodes.ResetPhases()
	e.nodes.SetLeader(e.roundState.View)
	e.resetTallies()

	e.roundState.Verdict = cstypes.VerdictUnset
	leader := e.nodes.LeaderID(e.roundState.View)
	e.roundState.Proposal = types.MakeBlock(e.roundState.View, e.roundState.Sequence, leader)

	e.appendEvent(types.MessageEvent{
		From:   types.LabelSystem,
		To:     types.LabelNetwork,
		FromID: types.SystemID,
		ToID:   types.SystemID,
		Kind:   types.KindInitialize,
		Status: types.DeliveryOk,
		Digest: e.roundState.Proposal.Digest,
		Detail: fmt.Sprintf("%d nodes, leader %s, f=%d", e.nodes.Size(), types.NodeLabel(leader), types.MaxTolerableFaults(e.nodes.Size())),
	})
}

// enterPrePrepare leader向其他所有节点发送pre-prepare
// leader发不出去(crash或omission)时每个接收方记一条BlockedCrashedSender，接收方状态不变
func (e *RoundEngine) enterPrePrepare() {
	leader := e.nodes.GetByID(e.nodes.LeaderID(e.roundState.View))
	leader.PhaseStatus = types.PhasePrePrepared
	canSend := e.faultModel.CanSend(leader)

	for _, replica := range e.nodes.Nodes {
		if replica.ID == leader.ID {
			continue
		}
		msg := e.newMessage(types.KindPrePrepare, leader, replica)

		if !canSend {
			msg.Status = types.DeliveryBlockedCrashedSender
			msg.Detail = fmt.Sprintf("leader has %s fault", leader.FaultStatus)
			e.appendMessage(msg)
			continue
		}
		if !e.faultModel.CanReceive(replica) {
			msg.Status = types.DeliveryBlockedCrashedReceiver
			e.appendMessage(msg)
			continue
		}

		msg = e.faultModel.TransformOutgoing(leader, msg)
		if replica.FaultStatus == types.FaultOmission {
			// 收到了，只是之后发不出回应
			msg.Status = types.DeliveryOmitted
		}
		e.prePrepared[replica.ID] = true
		e.appendMessage(msg)
	}

	if !canSend {
		e.Logger.Info("leader cannot send pre-prepare", "leader", leader.ID, "fault", leader.FaultStatus)
	}
}

func (e *RoundEngine) enterPrepare() {
	e.broadcastAll(types.KindPrepare, types.PhasePrepared, e.prepareVotes)
	e.logTally("prepare", e.prepareVotes, types.PreparedThreshold(e.nodes.Size()))
}

func (e *RoundEngine) enterCommit() {
	e.broadcastAll(types.KindCommit, types.PhaseCommitted, e.commitVotes)
	e.logTally("commit", e.commitVotes, types.CommittedThreshold(e.nodes.Size()))
}

// broadcastAll prepare和commit共用的两两广播
// 发不出去的节点直接沉默，不记录日志
func (e *RoundEngine) broadcastAll(kind types.MessageKind, status types.PhaseStatus, tally *cstypes.VoteTally) {
	for _, node := range e.nodes.Nodes {
		node.PhaseStatus = status
	}

	for _, sender := range e.nodes.Nodes {
		if !e.faultModel.CanSend(sender) {
			continue
		}
		for _, receiver := range e.nodes.Nodes {
			if sender.ID == receiver.ID {
				continue
			}
			msg := e.newMessage(kind, sender, receiver)
			if !e.faultModel.CanReceive(receiver) {
				msg.Status = types.DeliveryBlockedCrashedReceiver
			} else {
				msg = e.faultModel.TransformOutgoing(sender, msg)
				if err := tally.AddVote(receiver.ID, sender.ID, msg.Status == types.DeliveryOk); err != nil {
					e.Logger.Error("add vote failed", "kind", kind, "from", sender.ID, "to", receiver.ID, "err", err)
				}
			}
			e.appendMessage(msg)
		}
	}
}

// enterFinalize 唯一的提交决策点：非故障节点数>=f+1则提交，否则本轮Unsafe
func (e *RoundEngine) enterFinalize() error {
	n := e.nodes.Size()
	nonFaulty := e.nodes.NonFaultyCount()
	required := types.FinalQuorum(n)

	if nonFaulty < required {
		e.appendEvent(types.MessageEvent{
			From:   types.LabelNetwork,
			To:     types.LabelBlockchain,
			FromID: types.SystemID,
			ToID:   types.SystemID,
			Kind:   types.KindBlockCommitFailed,
			Status: types.DeliveryCritical,
			Digest: e.roundState.Proposal.Digest,
			Detail: fmt.Sprintf("insufficient quorum: %d < %d", nonFaulty, required),
		})
		e.Logger.Error("block commit failed", "sequence", e.roundState.Sequence, "nonFaulty", nonFaulty, "required", required)
		e.setVerdict(cstypes.VerdictUnsafe)
		return nil
	}

	block := e.roundState.Proposal.Copy()
	block.CommitTime = e.now()
	if err := e.blockStore.SaveBlock(block); err != nil {
		return errors.Wrapf(err, "commit block %d", block.Sequence)
	}

	e.roundState.CommittedBlockCount++
	for _, node := range e.nodes.Nodes {
		if node.FaultStatus != types.FaultCrash {
			node.PhaseStatus = types.PhaseCommittedFinal
		}
	}
	e.appendEvent(types.MessageEvent{
		From:   types.LabelNetwork,
		To:     types.LabelBlockchain,
		FromID: types.SystemID,
		ToID:   types.SystemID,
		Kind:   types.KindBlockCommitted,
		Status: types.DeliveryOk,
		Digest: block.Digest,
		Detail: fmt.Sprintf("quorum reached: %d/%d nodes", nonFaulty, required),
	})
	e.Logger.Info("block committed", "view", block.View, "sequence", block.Sequence, "digest", block.Digest,
		"nonFaulty", nonFaulty, "required", required)

	e.setVerdict(cstypes.VerdictSafe)
	e.roundState.Sequence++
	e.roundState.NextPhase = cstypes.PhaseInit.Index()
	return nil
}

//-----------------------------------------------------------------------------
// helpers

func (e *RoundEngine) newMessage(kind types.MessageKind, from, to *types.Node) Message {
	var digest []byte
	if e.roundState.Proposal != nil {
		digest = e.roundState.Proposal.Digest
	}
	return Message{
		Kind:     kind,
		From:     from.ID,
		To:       to.ID,
		View:     e.roundState.View,
		Sequence: e.roundState.Sequence,
		Digest:   digest,
		Status:   types.DeliveryOk,
	}
}

func (e *RoundEngine) appendMessage(msg Message) {
	e.appendEvent(types.MessageEvent{
		From:   e.nodeLabel(msg.From),
		To:     types.NodeLabel(msg.To),
		FromID: msg.From,
		ToID:   msg.To,
		Kind:   msg.Kind,
		Status: msg.Status,
		Digest: msg.Digest,
		Detail: msg.Detail,
	})
}

// leader在日志里带上角色，和前端显示保持一致
func (e *RoundEngine) nodeLabel(id int) string {
	if id == e.nodes.LeaderID(e.roundState.View) {
		return types.NodeLabel(id) + " (Leader)"
	}
	return types.NodeLabel(id)
}

func (e *RoundEngine) appendEvent(ev types.MessageEvent) {
	ev.Timestamp = e.now()
	ev.View = e.roundState.View
	ev.Sequence = e.roundState.Sequence
	ev = e.messageLog.Append(ev)

	e.counters.Inc(ev.Kind.String())
	e.counters.Inc("status:" + ev.Status.String())
	e.Logger.Debug("append message", "index", ev.Index, "from", ev.From, "to", ev.To, "kind", ev.Kind, "status", ev.Status)

	e.eventSwitch.FireEvent(EventNewMessage, ev)
}

func (e *RoundEngine) setVerdict(v cstypes.Verdict) {
	if v == cstypes.VerdictUnsafe && e.roundState.Verdict != cstypes.VerdictUnsafe {
		e.metric.MarkUnsafe()
	}
	e.roundState.Verdict = v
}

func (e *RoundEngine) resetTallies() {
	e.prePrepared = make(map[int]bool)
	e.prepareVotes.Reset()
	e.commitVotes.Reset()
}

func (e *RoundEngine) logTally(name string, tally *cstypes.VoteTally, threshold int) {
	for _, node := range e.nodes.Nodes {
		if node.IsFaulty() {
			continue
		}
		e.Logger.Debug(name+" tally", "node", node.ID, "received", tally.Received(node.ID),
			"matching", tally.Matching(node.ID), "threshold", threshold)
	}
}

func (e *RoundEngine) markMetric() {
	n := e.nodes.Size()
	e.metric.MarkRound(e.roundState, n, types.MaxTolerableFaults(n), e.nodes.ActiveFaultCount(), e.messageLog.Len())
}
