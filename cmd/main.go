package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "pbftsim_demo/cmd/commands"
	cfg "pbftsim_demo/config"
	nm "pbftsim_demo/node"
)

func main() {
	rootCmd := cmd.RootCmd

	// NOTE:
	// Users wishing to supply a custom engine setup (fault model, block
	// store, extra listeners) can copy this file and use something other
	// than the DefaultNewNode function
	nodeFunc := nm.DefaultNewNode

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.SimulateCmd,
		cmd.NewRunNodeCmd(nodeFunc),
		cli.NewCompletionCmd(rootCmd, true),
	)

	executor := cli.PrepareBaseCmd(rootCmd, "PBFT", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultSimDir)))
	if err := executor.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
