package commands

import (
	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	cfg "pbftsim_demo/config"
)

// InitFilesCmd writes a default config file into the home directory.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the simulator home directory",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	configFile := config.ConfigFile()
	if tmos.FileExists(configFile) {
		logger.Info("Found config file", "path", configFile)
		return nil
	}

	if _, err := cfg.EnsureRoot(config.RootDir); err != nil {
		return err
	}
	// 命令行参数覆盖的值也写进去
	if err := cfg.WriteConfigFile(configFile, config); err != nil {
		return err
	}
	logger.Info("Generated config file", "path", configFile)
	return nil
}
