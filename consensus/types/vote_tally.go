package types

import (
	"errors"
	"sort"
)

var (
	ErrDuplicateVote = errors.New("duplicate vote")
)

// VoteTally 记录某一阶段每个节点从哪些不同的对等节点收到了消息
// matching只统计内容正确的消息，拜占庭节点伪造的消息只计入received
type VoteTally struct {
	received map[int]map[int]bool // receiver -> sender -> matching
}

func NewVoteTally() *VoteTally {
	return &VoteTally{
		received: make(map[int]map[int]bool),
	}
}

// AddVote 同一个sender对同一个receiver只能计一次
func (vt *VoteTally) AddVote(receiver, sender int, matching bool) error {
	senders, exist := vt.received[receiver]
	if !exist {
		senders = make(map[int]bool)
		vt.received[receiver] = senders
	}
	if _, dup := senders[sender]; dup {
		return ErrDuplicateVote
	}
	senders[sender] = matching
	return nil
}

// Received 收到的来自不同节点的消息数（包含伪造的）
func (vt *VoteTally) Received(receiver int) int {
	return len(vt.received[receiver])
}

// Matching 收到的内容正确的消息数
func (vt *VoteTally) Matching(receiver int) int {
	count := 0
	for _, ok := range vt.received[receiver] {
		if ok {
			count++
		}
	}
	return count
}

func (vt *VoteTally) Senders(receiver int) []int {
	senders := make([]int, 0, len(vt.received[receiver]))
	for sender := range vt.received[receiver] {
		senders = append(senders, sender)
	}
	sort.Ints(senders)
	return senders
}

func (vt *VoteTally) Reset() {
	vt.received = make(map[int]map[int]bool)
}
