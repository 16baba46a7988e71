package types

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type NodeRole uint8

const (
	RoleReplica = NodeRole(0)
	RoleLeader  = NodeRole(1)
)

func (r NodeRole) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleReplica:
		return "replica"
	default:
		return "unknown"
	}
}

func (r NodeRole) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// FaultStatus 节点当前被注入的故障类型，None表示节点正常
type FaultStatus uint8

const (
	FaultNone      = FaultStatus(0)
	FaultCrash     = FaultStatus(1) // 既不发送也不接收
	FaultByzantine = FaultStatus(2) // 照常收发，但发出的内容是伪造的
	FaultOmission  = FaultStatus(3) // 只接收，不发送
)

func (f FaultStatus) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultCrash:
		return "crash"
	case FaultByzantine:
		return "byzantine"
	case FaultOmission:
		return "omission"
	default:
		return "unknown"
	}
}

func (f FaultStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// ParseFaultStatus converts the textual fault name used by the CLI and RPC
// layers ("crash", "byzantine", "omission") into a FaultStatus.
func ParseFaultStatus(s string) (FaultStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crash":
		return FaultCrash, nil
	case "byzantine":
		return FaultByzantine, nil
	case "omission":
		return FaultOmission, nil
	case "none", "":
		return FaultNone, nil
	default:
		return FaultNone, errors.Wrapf(ErrInvalidFaultStatus, "unknown fault type %q", s)
	}
}

// PhaseStatus 节点在本轮共识中推进到的阶段
type PhaseStatus uint8

const (
	PhaseIdle           = PhaseStatus(0)
	PhasePrePrepared    = PhaseStatus(1)
	PhasePrepared       = PhaseStatus(2)
	PhaseCommitted      = PhaseStatus(3)
	PhaseCommittedFinal = PhaseStatus(4)
)

func (p PhaseStatus) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrePrepared:
		return "pre-prepared"
	case PhasePrepared:
		return "prepared"
	case PhaseCommitted:
		return "committed"
	case PhaseCommittedFinal:
		return "committed-final"
	default:
		return "unknown"
	}
}

func (p PhaseStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Node - 参与模拟的单个节点
// X、Y只用于前端绘制拓扑，与协议正确性无关
type Node struct {
	ID          int         `json:"id"`
	Role        NodeRole    `json:"role"`
	FaultStatus FaultStatus `json:"fault_status"`
	PhaseStatus PhaseStatus `json:"phase_status"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
}

func (n *Node) IsFaulty() bool {
	return n.FaultStatus != FaultNone
}

func (n *Node) IsLeader() bool {
	return n.Role == RoleLeader
}

// Label returns the name used for the node in message log entries.
func (n *Node) Label() string {
	return NodeLabel(n.ID)
}

func NodeLabel(id int) string {
	return fmt.Sprintf("Node %d", id)
}

func (n *Node) Copy() *Node {
	nCopy := *n
	return &nCopy
}

func (n *Node) String() string {
	if n == nil {
		return "nil-Node"
	}
	return fmt.Sprintf("Node{%d %v fault=%v phase=%v}", n.ID, n.Role, n.FaultStatus, n.PhaseStatus)
}
