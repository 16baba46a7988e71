package types

import (
	"fmt"

	"pbftsim_demo/types"
)

//-----------------------------------------------------------------------------
// Phase enum type

// Phase enumerates the steps of one PBFT round.
type Phase uint8

// Phase
const (
	PhaseInit       = Phase(0x00) // 初始化，所有节点回到Idle
	PhasePrePrepare = Phase(0x01) // leader广播提案
	PhasePrepare    = Phase(0x02) // 节点之间两两广播prepare
	PhaseCommit     = Phase(0x03) // 节点之间两两广播commit
	PhaseFinalize   = Phase(0x04) // 判断是否达到最终法定人数并提交区块

	NumPhases = 5
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhasePrePrepare:
		return "PrePrepare"
	case PhasePrepare:
		return "Prepare"
	case PhaseCommit:
		return "Commit"
	case PhaseFinalize:
		return "Finalize"
	default:
		return "Unknown"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p Phase) Index() int {
	return int(p)
}

// Description 给展示层使用的阶段说明
func (p Phase) Description() string {
	switch p {
	case PhaseInit:
		return "Network is initialized with N nodes and the leader (view mod N) prepares a block proposal."
	case PhasePrePrepare:
		return "The leader broadcasts <PRE-PREPARE, v, n, D> with the proposed block to every replica."
	case PhasePrepare:
		return "Each replica broadcasts <PREPARE, v, n, D, i>; a replica is prepared after 2f matching messages."
	case PhaseCommit:
		return "Each prepared replica broadcasts <COMMIT, v, n, D, i>; a replica commits after 2f+1 messages."
	case PhaseFinalize:
		return "The block is committed if at least f+1 non-faulty nodes remain."
	default:
		return ""
	}
}

// PhaseFromIndex 外部驱动按0..4的下标调用step
func PhaseFromIndex(idx int) (Phase, bool) {
	if idx < 0 || idx >= NumPhases {
		return PhaseInit, false
	}
	return Phase(idx), true
}

//-----------------------------------------------------------------------------
// Verdict enum type

type Verdict uint8

const (
	VerdictUnset  = Verdict(0)
	VerdictSafe   = Verdict(1)
	VerdictUnsafe = Verdict(2)
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnset:
		return "unset"
	case VerdictSafe:
		return "safe"
	case VerdictUnsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// RoundState - 一轮PBFT模拟的状态，只由RoundEngine修改
type RoundState struct {
	View                int64   `json:"view"`
	Sequence            int64   `json:"sequence"`
	Phase               Phase   `json:"phase"`      // 最后一个执行完成的阶段
	NextPhase           int     `json:"next_phase"` // 下一次step必须传入的阶段下标
	CommittedBlockCount int64   `json:"committed_block_count"`
	Verdict             Verdict `json:"verdict"`

	Proposal *types.Block `json:"proposal,omitempty"` // 本轮leader提议的区块
}

// MakeRoundState 初始状态 {view:0, sequence:1, phase:Init, committed:0, verdict:Unset}
func MakeRoundState() RoundState {
	return RoundState{
		View:                0,
		Sequence:            1,
		Phase:               PhaseInit,
		NextPhase:           PhaseInit.Index(),
		CommittedBlockCount: 0,
		Verdict:             VerdictUnset,
	}
}

func (rs RoundState) IsHalted() bool {
	return rs.Verdict == VerdictUnsafe
}

func (rs RoundState) Copy() RoundState {
	rsCopy := rs
	rsCopy.Proposal = rs.Proposal.Copy()
	return rsCopy
}

func (rs RoundState) String() string {
	return fmt.Sprintf("RoundState{v=%d n=%d phase=%v next=%d committed=%d verdict=%v}",
		rs.View, rs.Sequence, rs.Phase, rs.NextPhase, rs.CommittedBlockCount, rs.Verdict)
}
