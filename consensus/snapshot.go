package consensus

import (
	cstypes "pbftsim_demo/consensus/types"
	"pbftsim_demo/types"
)

// NodeTally - 单个节点本轮收到的投票统计
// Received包含拜占庭节点发来的冲突消息，Matching只统计摘要一致的消息
type NodeTally struct {
	NodeID           int  `json:"node_id"`
	PrePrepared      bool `json:"pre_prepared"`
	PrepareReceived  int  `json:"prepare_received"`
	PrepareMatching  int  `json:"prepare_matching"`
	Prepared         bool `json:"prepared"`
	CommitReceived   int  `json:"commit_received"`
	CommitMatching   int  `json:"commit_matching"`
	CommittedLocally bool `json:"committed_locally"`
}

// RoundSnapshot is a read-only copy of the engine state. Nothing in it aliases
// engine memory, so callers may keep or mutate it freely.
type RoundSnapshot struct {
	NodeCount          int `json:"node_count"`
	MaxFaults          int `json:"max_tolerable_faults"`
	ActiveFaults       int `json:"active_faults"`
	NonFaulty          int `json:"non_faulty"`
	PreparedThreshold  int `json:"prepared_threshold"`
	CommittedThreshold int `json:"committed_threshold"`
	FinalQuorum        int `json:"final_quorum"`

	Nodes      []*types.Node        `json:"nodes"`
	RoundState cstypes.RoundState   `json:"round_state"`
	Tallies    []NodeTally          `json:"tallies"`
	MessageLog []types.MessageEvent `json:"message_log"`
}

// Leader returns the leader node of the snapshot.
func (s RoundSnapshot) Leader() *types.Node {
	for _, node := range s.Nodes {
		if node.IsLeader() {
			return node
		}
	}
	return nil
}

func (s RoundSnapshot) Node(id int) *types.Node {
	if id < 0 || id >= len(s.Nodes) {
		return nil
	}
	return s.Nodes[id]
}

func (s RoundSnapshot) Tally(id int) NodeTally {
	if id < 0 || id >= len(s.Tallies) {
		return NodeTally{NodeID: id}
	}
	return s.Tallies[id]
}

// Snapshot returns a copy of the full engine state, including the whole log.
func (e *RoundEngine) Snapshot() RoundSnapshot {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.snapshot()
}

// LogSince 只返回offset之后的日志，供前端增量拉取
func (e *RoundEngine) LogSince(offset int) []types.MessageEvent {
	return e.messageLog.Since(offset)
}

func (e *RoundEngine) LogLen() int {
	return e.messageLog.Len()
}

// Blocks 已提交的区块，按sequence排序
func (e *RoundEngine) Blocks() ([]*types.Block, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.blockStore.Blocks()
}

func (e *RoundEngine) NodeCount() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.nodes.Size()
}

func (e *RoundEngine) RoundState() cstypes.RoundState {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.roundState.Copy()
}

// 调用方持有mtx
func (e *RoundEngine) snapshot() RoundSnapshot {
	n := e.nodes.Size()
	prepared := types.PreparedThreshold(n)
	committed := types.CommittedThreshold(n)

	nodes := e.nodes.Copy().Nodes
	tallies := make([]NodeTally, 0, n)
	for _, node := range nodes {
		t := NodeTally{
			NodeID:          node.ID,
			PrePrepared:     e.prePrepared[node.ID],
			PrepareReceived: e.prepareVotes.Received(node.ID),
			PrepareMatching: e.prepareVotes.Matching(node.ID),
			CommitReceived:  e.commitVotes.Received(node.ID),
			CommitMatching:  e.commitVotes.Matching(node.ID),
		}
		t.Prepared = t.PrepareMatching >= prepared
		t.CommittedLocally = t.CommitMatching >= committed
		tallies = append(tallies, t)
	}

	return RoundSnapshot{
		NodeCount:          n,
		MaxFaults:          types.MaxTolerableFaults(n),
		ActiveFaults:       e.nodes.ActiveFaultCount(),
		NonFaulty:          e.nodes.NonFaultyCount(),
		PreparedThreshold:  prepared,
		CommittedThreshold: committed,
		FinalQuorum:        types.FinalQuorum(n),
		Nodes:              nodes,
		RoundState:         e.roundState.Copy(),
		Tallies:            tallies,
		MessageLog:         e.messageLog.Events(),
	}
}
