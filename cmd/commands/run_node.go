package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	nm "pbftsim_demo/node"
)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a node
func AddNodeFlags(cmd *cobra.Command) {
	// bind flags
	cmd.Flags().String("moniker", config.Moniker, "node name")

	// rpc flags
	cmd.Flags().String("rpc.laddr", config.RPC.ListenAddress, "RPC listen address. Port required")

	// simulation flags
	cmd.Flags().Int("simulation.nodes", config.Simulation.Nodes, "number of simulated nodes (4..10)")
	cmd.Flags().StringSlice("simulation.faults", config.Simulation.Faults,
		"faults injected at start, id:type with type crash|byzantine|omission")
	cmd.Flags().Int64("simulation.fault_seed", config.Simulation.FaultSeed, "seed for forged byzantine payloads (0 = fixed)")
	cmd.Flags().Bool("simulation.auto_play", config.Simulation.AutoPlay, "step the round automatically")
	cmd.Flags().Duration("simulation.auto_play_interval", config.Simulation.AutoPlayInterval, "delay between automatic steps")
	cmd.Flags().Bool("simulation.reset_on_unsafe", config.Simulation.ResetOnUnsafe,
		"start a fresh simulation after an unsafe verdict")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
// It can be used with a custom node provider.
func NewRunNodeCmd(nodeProvider nm.Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the simulation node with its RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("Started node", "rpc", n.RPCAddrs(), "nodes", n.Engine().NodeCount())

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
