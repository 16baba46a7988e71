package metric

// MetricItem - 每个模块注册一个MetricItem，rpc层统一以JSON形式返回
type MetricItem interface {
	JSONString() string
}

type staticMetricItem struct {
	value string
}

func (s *staticMetricItem) JSONString() string {
	return s.value
}

// Static wraps a fixed JSON string, mostly useful for build info and tests.
func Static(value string) MetricItem {
	return &staticMetricItem{value: value}
}
