package metric

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrMetricLabelExist = errors.New("metric label already exist")
)

func NewMetricSet() *MetricSet {
	return &MetricSet{
		metrics: make(map[string]MetricItem),
	}
}

// MetricSet 以label为key的metric注册表，node启动时各模块把自己的metric注册进来
type MetricSet struct {
	mtx     sync.RWMutex
	metrics map[string]MetricItem
}

// Register 同一个label只能注册一次
func (ms *MetricSet) Register(label string, item MetricItem) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()

	if _, existed := ms.metrics[label]; existed {
		return ErrMetricLabelExist
	}
	ms.metrics[label] = item
	return nil
}

func (ms *MetricSet) Has(label string) bool {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()
	_, existed := ms.metrics[label]
	return existed
}

func (ms *MetricSet) Get(label string) MetricItem {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()
	return ms.metrics[label]
}

// Labels returns the registered labels in sorted order.
func (ms *MetricSet) Labels() []string {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	labels := make([]string, 0, len(ms.metrics))
	for label := range ms.metrics {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Snapshot 返回label -> JSON，label为空时返回全部
func (ms *MetricSet) Snapshot(labels ...string) map[string]string {
	if len(labels) == 0 {
		labels = ms.Labels()
	}

	out := make(map[string]string, len(labels))
	for _, label := range labels {
		if item := ms.Get(label); item != nil {
			out[label] = item.JSONString()
		}
	}
	return out
}
