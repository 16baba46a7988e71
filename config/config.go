package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	tmcfg "github.com/tendermint/tendermint/config"

	"pbftsim_demo/types"
)

const (
	// DefaultSimDir 默认的home目录，位于$HOME下
	DefaultSimDir = ".pbftsim"

	DefaultLogLevel = "info"

	LogFormatPlain = tmcfg.LogFormatPlain
	LogFormatJSON  = tmcfg.LogFormatJSON

	defaultConfigDir      = "config"
	defaultConfigFileName = "config.toml"
)

// Config 模拟器的全部配置
// RPC直接复用tendermint的RPCConfig，jsonrpc server的参数都从这里取
type Config struct {
	BaseConfig `mapstructure:",squash"`

	RPC        *tmcfg.RPCConfig  `mapstructure:"rpc"`
	Simulation *SimulationConfig `mapstructure:"simulation"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseConfig: DefaultBaseConfig(),
		RPC:        tmcfg.DefaultRPCConfig(),
		Simulation: DefaultSimulationConfig(),
	}
}

// TestConfig uses a random RPC port and a short auto play interval.
func TestConfig() *Config {
	return &Config{
		BaseConfig: DefaultBaseConfig(),
		RPC:        tmcfg.TestRPCConfig(),
		Simulation: TestSimulationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.RPC.RootDir = root
	return cfg
}

func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [rpc] section")
	}
	if err := cfg.Simulation.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [simulation] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	Moniker string `mapstructure:"moniker"`

	// Output level for logging, e.g. "info" or "consensus:debug,*:info"
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`

	// 日志同时写入该文件并按大小滚动，相对路径相对于RootDir，为空时只输出到stdout
	LogFile string `mapstructure:"log_file"`
}

func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   "pbftsim",
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
	}
}

func (cfg BaseConfig) ConfigFile() string {
	return filepath.Join(cfg.RootDir, defaultConfigDir, defaultConfigFileName)
}

// LogFilePath returns the absolute log file path, or "" when file logging is off.
func (cfg BaseConfig) LogFilePath() string {
	if cfg.LogFile == "" {
		return ""
	}
	if filepath.IsAbs(cfg.LogFile) {
		return cfg.LogFile
	}
	return filepath.Join(cfg.RootDir, cfg.LogFile)
}

func (cfg BaseConfig) ConfigDir() string {
	return filepath.Join(cfg.RootDir, defaultConfigDir)
}

func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SimulationConfig

// SimulationConfig 初始节点数、初始故障和自动播放
type SimulationConfig struct {
	Nodes int `mapstructure:"nodes"`

	// 启动时注入的故障，格式为"id:type"，例如"3:crash"
	Faults []string `mapstructure:"faults"`

	// 非0时拜占庭节点的伪造内容由该种子生成
	FaultSeed int64 `mapstructure:"fault_seed"`

	AutoPlay         bool          `mapstructure:"auto_play"`
	AutoPlayInterval time.Duration `mapstructure:"auto_play_interval"`
	ResetOnUnsafe    bool          `mapstructure:"reset_on_unsafe"`
}

func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Nodes:            types.MinNodeCount,
		Faults:           []string{},
		FaultSeed:        0,
		AutoPlay:         false,
		AutoPlayInterval: 800 * time.Millisecond,
		ResetOnUnsafe:    false,
	}
}

func TestSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.AutoPlayInterval = 10 * time.Millisecond
	return cfg
}

func (cfg *SimulationConfig) ValidateBasic() error {
	if err := types.ValidateNodeCount(cfg.Nodes); err != nil {
		return err
	}
	if cfg.AutoPlayInterval <= 0 {
		return errors.New("auto_play_interval must be positive")
	}
	for _, spec := range cfg.Faults {
		if _, _, err := ParseFault(spec); err != nil {
			return err
		}
	}
	return nil
}

// ParseFault parses an "id:type" fault description such as "3:crash".
func ParseFault(spec string) (int, types.FaultStatus, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, types.FaultNone, errors.Errorf("invalid fault %q, expected id:type", spec)
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, types.FaultNone, errors.Wrapf(err, "invalid node id in fault %q", spec)
	}
	status, err := types.ParseFaultStatus(parts[1])
	if err != nil {
		return 0, types.FaultNone, err
	}
	if status == types.FaultNone {
		return 0, types.FaultNone, errors.Wrapf(types.ErrInvalidFaultStatus, "fault %q", spec)
	}
	return id, status, nil
}
