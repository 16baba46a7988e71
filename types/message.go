package types

import (
	"fmt"
	"time"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// 非节点参与方在日志中的名字
const (
	LabelSystem     = "System"
	LabelNetwork    = "Network"
	LabelBlockchain = "Blockchain"

	// SystemID 非节点参与方的id
	SystemID = -1
)

type MessageKind uint8

const (
	KindInitialize        = MessageKind(0x01)
	KindPrePrepare        = MessageKind(0x02)
	KindPrepare           = MessageKind(0x03)
	KindCommit            = MessageKind(0x04)
	KindBlockCommitted    = MessageKind(0x05)
	KindBlockCommitFailed = MessageKind(0x06)
	KindFaultInjected     = MessageKind(0x07)
	KindFaultCleared      = MessageKind(0x08)
	KindViewChange        = MessageKind(0x09)
)

func (k MessageKind) String() string {
	switch k {
	case KindInitialize:
		return "Initialize"
	case KindPrePrepare:
		return "PRE-PREPARE"
	case KindPrepare:
		return "PREPARE"
	case KindCommit:
		return "COMMIT"
	case KindBlockCommitted:
		return "Block Committed"
	case KindBlockCommitFailed:
		return "Block Commit Failed"
	case KindFaultInjected:
		return "Fault Injected"
	case KindFaultCleared:
		return "Fault Cleared"
	case KindViewChange:
		return "View Change"
	default:
		return "Unknown"
	}
}

func (k MessageKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// IsProtocol PRE-PREPARE/PREPARE/COMMIT是节点间的协议消息，其余都是系统事件
func (k MessageKind) IsProtocol() bool {
	return k == KindPrePrepare || k == KindPrepare || k == KindCommit
}

type DeliveryStatus uint8

const (
	DeliveryOk                     = DeliveryStatus(0x00)
	DeliveryBlockedCrashedSender   = DeliveryStatus(0x01)
	DeliveryBlockedCrashedReceiver = DeliveryStatus(0x02)
	DeliveryOmitted                = DeliveryStatus(0x03)
	DeliveryConflictingByzantine   = DeliveryStatus(0x04)
	DeliveryCritical               = DeliveryStatus(0x05) // 故障数超过容忍上限
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryOk:
		return "ok"
	case DeliveryBlockedCrashedSender:
		return "blocked - sender crashed"
	case DeliveryBlockedCrashedReceiver:
		return "blocked - target crashed"
	case DeliveryOmitted:
		return "omitted"
	case DeliveryConflictingByzantine:
		return "conflicting - byzantine source"
	case DeliveryCritical:
		return "CRITICAL"
	default:
		return "unknown"
	}
}

func (s DeliveryStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Delivered 消息是否真正到达了接收方（内容可能是伪造的）
func (s DeliveryStatus) Delivered() bool {
	return s == DeliveryOk || s == DeliveryConflictingByzantine
}

// MessageEvent - 消息日志中的一条记录，写入日志后不再修改
type MessageEvent struct {
	Index     int              `json:"index"`
	Timestamp time.Time        `json:"timestamp"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	FromID    int              `json:"from_id"`
	ToID      int              `json:"to_id"`
	Kind      MessageKind      `json:"kind"`
	Status    DeliveryStatus   `json:"status"`
	View      int64            `json:"view"`
	Sequence  int64            `json:"sequence"`
	Digest    tmbytes.HexBytes `json:"digest,omitempty"`
	Detail    string           `json:"detail,omitempty"`
}

// IsFrom 判断事件是否由某个节点发出
func (ev MessageEvent) IsFrom(id int) bool {
	return ev.FromID == id && ev.FromID != SystemID
}

func (ev MessageEvent) IsTo(id int) bool {
	return ev.ToID == id && ev.ToID != SystemID
}

func (ev MessageEvent) String() string {
	s := fmt.Sprintf("#%d [%s] %s -> %s %v (%v)",
		ev.Index, ev.Timestamp.Format("15:04:05.000"), ev.From, ev.To, ev.Kind, ev.Status)
	if ev.Detail != "" {
		s += " " + ev.Detail
	}
	return s
}
