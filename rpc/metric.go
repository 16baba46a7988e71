package rpc

import (
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultMetrics struct {
	Metrics map[string]string `json:"metrics"`
}

// JSONMetrics label为空时返回全部metric
func JSONMetrics(ctx *rpctypes.Context, label string) (*ResultMetrics, error) {
	var labels []string
	if label != "" {
		labels = []string{label}
	}

	metrics := env.MetricSet.Snapshot(labels...)
	env.Logger.Debug("metrics requested", "label", label, "count", len(metrics))
	return &ResultMetrics{Metrics: metrics}, nil
}
