package config

import (
	"bytes"
	"io/ioutil"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	tmos "github.com/tendermint/tendermint/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root and config directories if they don't exist,
// and writes the default config file if it is missing.
func EnsureRoot(rootDir string) (string, error) {
	cfg := DefaultConfig().SetRoot(rootDir)
	if err := tmos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		return "", errors.Wrap(err, "ensure root dir")
	}
	if err := tmos.EnsureDir(cfg.ConfigDir(), DefaultDirPerm); err != nil {
		return "", errors.Wrap(err, "ensure config dir")
	}

	configFile := cfg.ConfigFile()
	if !tmos.FileExists(configFile) {
		if err := WriteConfigFile(configFile, cfg); err != nil {
			return "", err
		}
	}
	return configFile, nil
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(configFilePath string, config *Config) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		return errors.Wrap(err, "render config template")
	}
	return ioutil.WriteFile(configFilePath, buffer.Bytes(), 0644)
}

const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

# Also write logs to this file, rotated by size. Relative paths are
# resolved against the home directory; empty means stdout only
log_file = "{{ .BaseConfig.LogFile }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###       RPC Server Configuration Options          ###
#######################################################
[rpc]

# TCP or UNIX socket address for the RPC server to listen on
laddr = "{{ .RPC.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
cors_allowed_origins = [{{ range .RPC.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# Maximum number of simultaneous connections (including WebSocket).
max_open_connections = {{ .RPC.MaxOpenConnections }}

# Maximum size of request body, in bytes
max_body_bytes = {{ .RPC.MaxBodyBytes }}

# Maximum size of request header, in bytes
max_header_bytes = {{ .RPC.MaxHeaderBytes }}

#######################################################
###         Simulation Configuration Options        ###
#######################################################
[simulation]

# Number of simulated nodes, 4..10
nodes = {{ .Simulation.Nodes }}

# Faults injected at start, "id:type" with type crash|byzantine|omission
faults = [{{ range .Simulation.Faults }}{{ printf "%q, " . }}{{end}}]

# Non-zero seed varies the payload forged by byzantine nodes
fault_seed = {{ .Simulation.FaultSeed }}

# Step the round automatically
auto_play = {{ .Simulation.AutoPlay }}
auto_play_interval = "{{ .Simulation.AutoPlayInterval }}"

# Start a fresh simulation after an unsafe verdict instead of idling
reset_on_unsafe = {{ .Simulation.ResetOnUnsafe }}
`
