package consensus

import (
	"math/rand"

	"pbftsim_demo/types"
)

// Message - 一条即将发出的协议消息
type Message struct {
	Kind     types.MessageKind
	From     int
	To       int
	View     int64
	Sequence int64
	Digest   []byte
	Status   types.DeliveryStatus
	Detail   string
}

// FaultModel decides, from a node's fault status alone, whether the node may
// send or receive and how its outgoing messages are altered.
//
// crash: 收发都不行
// omission: 只能收不能发
// byzantine: 收发都正常，但发出的内容是伪造的
type FaultModel struct {
	// 为空时伪造内容完全确定；需要"随机"效果时由调用方显式传入带种子的源
	rng *rand.Rand
}

func NewFaultModel() *FaultModel {
	return &FaultModel{}
}

// NewFaultModelWithSeed varies the fabricated Byzantine payload using an
// explicitly seeded source, so runs stay reproducible for a given seed.
func NewFaultModelWithSeed(seed int64) *FaultModel {
	return &FaultModel{rng: rand.New(rand.NewSource(seed))}
}

func (fm *FaultModel) CanSend(node *types.Node) bool {
	switch node.FaultStatus {
	case types.FaultCrash, types.FaultOmission:
		return false
	default:
		return true
	}
}

func (fm *FaultModel) CanReceive(node *types.Node) bool {
	return node.FaultStatus != types.FaultCrash
}

// TransformOutgoing 拜占庭节点发出的消息会被替换成冲突的区块摘要
func (fm *FaultModel) TransformOutgoing(sender *types.Node, msg Message) Message {
	if sender.FaultStatus != types.FaultByzantine {
		return msg
	}

	variant := uint64(msg.Kind)
	if fm.rng != nil {
		variant = fm.rng.Uint64()
	}
	msg.Digest = types.ConflictingDigest(msg.Digest, sender.ID, variant)
	msg.Status = types.DeliveryConflictingByzantine
	return msg
}
