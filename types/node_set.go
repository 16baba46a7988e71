package types

import (
	"math"

	"github.com/pkg/errors"
)

// 拓扑布局参数，只影响前端绘制坐标
const (
	layoutCenterX = 300.0
	layoutCenterY = 200.0
	layoutRadius  = 150.0
)

// NodeSet holds the identity, role and fault status of every simulated node.
//
// Fault status is only changed through SetFaultStatus, ClearFault and
// ClearAllFaults; phase status is only changed by the round engine.
//
// NOTE: Not goroutine-safe. The round engine owns the set and serialises
// access to it.
type NodeSet struct {
	Nodes []*Node `json:"nodes"`

	activeFaultCount int
}

// NewNodeSet creates n nodes arranged on a circle. The leader for the given
// view is node view mod n.
func NewNodeSet(n int, view int64) *NodeSet {
	nodes := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		angle := float64(i) / float64(n) * math.Pi * 2
		nodes = append(nodes, &Node{
			ID:          i,
			Role:        RoleReplica,
			FaultStatus: FaultNone,
			PhaseStatus: PhaseIdle,
			X:           layoutCenterX + math.Cos(angle)*layoutRadius,
			Y:           layoutCenterY + math.Sin(angle)*layoutRadius,
		})
	}

	ns := &NodeSet{Nodes: nodes}
	ns.SetLeader(view)
	return ns
}

func (ns *NodeSet) Size() int {
	if ns == nil {
		return 0
	}
	return len(ns.Nodes)
}

// GetByID returns the node with the given id, or nil if it is out of range.
func (ns *NodeSet) GetByID(id int) *Node {
	if id < 0 || id >= ns.Size() {
		return nil
	}
	return ns.Nodes[id]
}

// LeaderID leader id = view mod n
func (ns *NodeSet) LeaderID(view int64) int {
	if ns.Size() == 0 {
		return -1
	}
	return int(view % int64(ns.Size()))
}

// SetLeader 切换视图后重新分配leader角色，保证同一时刻只有一个leader
func (ns *NodeSet) SetLeader(view int64) {
	leader := ns.LeaderID(view)
	for _, node := range ns.Nodes {
		if node.ID == leader {
			node.Role = RoleLeader
		} else {
			node.Role = RoleReplica
		}
	}
}

func (ns *NodeSet) Leader() *Node {
	for _, node := range ns.Nodes {
		if node.IsLeader() {
			return node
		}
	}
	return nil
}

// SetFaultStatus 给节点注入故障
// 已经有故障的节点必须先清除故障才能再次注入
func (ns *NodeSet) SetFaultStatus(id int, status FaultStatus) error {
	node := ns.GetByID(id)
	if node == nil {
		return errors.Wrapf(ErrNodeOutOfRange, "node %d, size %d", id, ns.Size())
	}
	if status == FaultNone || status > FaultOmission {
		return errors.Wrapf(ErrInvalidFaultStatus, "cannot inject %v", status)
	}
	if node.IsFaulty() {
		return errors.Wrapf(ErrNodeAlreadyFaulty, "node %d is %v", id, node.FaultStatus)
	}

	node.FaultStatus = status
	ns.recount()
	return nil
}

// ClearFault removes the fault of a single node.
func (ns *NodeSet) ClearFault(id int) error {
	node := ns.GetByID(id)
	if node == nil {
		return errors.Wrapf(ErrNodeOutOfRange, "node %d, size %d", id, ns.Size())
	}
	if !node.IsFaulty() {
		return errors.Wrapf(ErrNodeNotFaulty, "node %d", id)
	}

	node.FaultStatus = FaultNone
	ns.recount()
	return nil
}

// ClearAllFaults resets every node to FaultNone and returns how many faults
// were cleared. Calling it on a set without faults is a no-op.
func (ns *NodeSet) ClearAllFaults() int {
	cleared := 0
	for _, node := range ns.Nodes {
		if node.IsFaulty() {
			node.FaultStatus = FaultNone
			cleared++
		}
	}
	ns.recount()
	return cleared
}

// ResetPhases 新一轮开始时所有节点回到Idle
func (ns *NodeSet) ResetPhases() {
	for _, node := range ns.Nodes {
		node.PhaseStatus = PhaseIdle
	}
}

func (ns *NodeSet) CountByPredicate(predicate func(*Node) bool) int {
	count := 0
	for _, node := range ns.Nodes {
		if predicate(node) {
			count++
		}
	}
	return count
}

func (ns *NodeSet) ActiveFaultCount() int {
	return ns.activeFaultCount
}

func (ns *NodeSet) NonFaultyCount() int {
	return ns.CountByPredicate(func(n *Node) bool { return !n.IsFaulty() })
}

func (ns *NodeSet) recount() {
	ns.activeFaultCount = ns.CountByPredicate(func(n *Node) bool { return n.IsFaulty() })
}

// Copy makes a deep copy of the set, used for snapshots.
func (ns *NodeSet) Copy() *NodeSet {
	nodes := make([]*Node, len(ns.Nodes))
	for i, node := range ns.Nodes {
		nodes[i] = node.Copy()
	}
	return &NodeSet{Nodes: nodes, activeFaultCount: ns.activeFaultCount}
}
