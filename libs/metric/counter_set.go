package metric

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
	gometrics "github.com/rcrowley/go-metrics"
)

// CounterSet 基于go-metrics的一组计数器，按名字累加
type CounterSet struct {
	registry gometrics.Registry
}

func NewCounterSet() *CounterSet {
	return &CounterSet{registry: gometrics.NewRegistry()}
}

func (cs *CounterSet) Inc(name string) {
	gometrics.GetOrRegisterCounter(name, cs.registry).Inc(1)
}

func (cs *CounterSet) Count(name string) int64 {
	if c, ok := cs.registry.Get(name).(gometrics.Counter); ok {
		return c.Count()
	}
	return 0
}

func (cs *CounterSet) Names() []string {
	names := []string{}
	cs.registry.Each(func(name string, _ interface{}) {
		names = append(names, name)
	})
	sort.Strings(names)
	return names
}

// Clear 删除所有计数器，engine重新初始化模拟时调用
func (cs *CounterSet) Clear() {
	cs.registry.UnregisterAll()
}

func (cs *CounterSet) JSONString() string {
	counts := make(map[string]int64)
	cs.registry.Each(func(name string, i interface{}) {
		if c, ok := i.(gometrics.Counter); ok {
			counts[name] = c.Count()
		}
	})
	s, _ := jsoniter.MarshalToString(counts)
	return s
}
