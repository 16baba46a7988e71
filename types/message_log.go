package types

import "sync"

// MessageLog is the append-only record of every simulated message and system
// event. Insertion order is the serialization order seen by viewers.
//
// The engine is the only writer; the lock lets RPC handlers read while a step
// is being applied.
type MessageLog struct {
	mtx    sync.RWMutex
	events []MessageEvent
}

func NewMessageLog() *MessageLog {
	return &MessageLog{events: make([]MessageEvent, 0, 64)}
}

// Append 写入一条事件并返回其下标，Index字段由日志统一分配
func (ml *MessageLog) Append(ev MessageEvent) MessageEvent {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()

	ev.Index = len(ml.events)
	ml.events = append(ml.events, ev)
	return ev
}

func (ml *MessageLog) Len() int {
	ml.mtx.RLock()
	defer ml.mtx.RUnlock()
	return len(ml.events)
}

// Events returns a copy of the whole log.
func (ml *MessageLog) Events() []MessageEvent {
	return ml.Since(0)
}

// Since 返回offset之后的事件（拷贝），前端可以只增量拉取
func (ml *MessageLog) Since(offset int) []MessageEvent {
	ml.mtx.RLock()
	defer ml.mtx.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(ml.events) {
		return []MessageEvent{}
	}
	out := make([]MessageEvent, len(ml.events)-offset)
	copy(out, ml.events[offset:])
	return out
}

func (ml *MessageLog) Filter(predicate func(MessageEvent) bool) []MessageEvent {
	ml.mtx.RLock()
	defer ml.mtx.RUnlock()

	out := []MessageEvent{}
	for _, ev := range ml.events {
		if predicate(ev) {
			out = append(out, ev)
		}
	}
	return out
}
