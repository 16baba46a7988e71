package rpc

import (
	"github.com/tendermint/tendermint/libs/log"

	"pbftsim_demo/consensus"
	"pbftsim_demo/libs/metric"
)

var (
	env *Environment
)

// SetEnvironment sets up the given Environment.
// It will race if multiple Node call SetEnvironment.
func SetEnvironment(e *Environment) {
	env = e
}

// Environment contains objects and interfaces used by the RPC. It is expected
// to be setup once during startup.
type Environment struct {
	Engine    *consensus.RoundEngine
	MetricSet *metric.MetricSet

	Logger log.Logger
}
