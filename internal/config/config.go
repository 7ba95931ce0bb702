// Package config provides configuration management for mcpbridge: service
// settings loaded with precedence (flags > environment > settings file >
// defaults) and the servers file that describes launchable MCP servers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// CloneBackend selects how repositories are fetched during provisioning.
type CloneBackend string

const (
	CloneBackendCLI   CloneBackend = "cli"    // the git executable
	CloneBackendGoGit CloneBackend = "go-git" // in-process clone
)

func ValidCloneBackends() map[CloneBackend]struct{} {
	return map[CloneBackend]struct{}{
		CloneBackendCLI:   {},
		CloneBackendGoGit: {},
	}
}

// Settings holds the bridge's service configuration.
type Settings struct {
	ListenAddr    string        `mapstructure:"listen_addr" validate:"required"`              // address the HTTP server binds to
	ConfigFile    string        `mapstructure:"config_file" validate:"required"`              // path of the servers file
	ServerKey     string        `mapstructure:"server_key" validate:"required"`               // which server of the servers file to run
	Route         string        `mapstructure:"route" validate:"required,startswith=/"`       // path of the query endpoint
	RequestField  string        `mapstructure:"request_field"`                                // field a request body must carry, empty disables the check
	QueryTimeout  time.Duration `mapstructure:"query_timeout" validate:"gt=0"`                // bound on waiting for one reply line
	AuthToken     string        `mapstructure:"auth_token"`                                   // bearer token, empty disables auth
	WorkspaceRoot string        `mapstructure:"workspace_root"`                               // where repositories are checked out, empty means cwd
	CloneBackend  CloneBackend  `mapstructure:"clone_backend" validate:"required"`            // how repositories are fetched
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"gte=0"`              // how long a stopping server may take to exit
	LogFormat     string        `mapstructure:"log_format" validate:"oneof=json pretty auto"` // log encoding
	LogLevel      string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// flagKeys maps settings keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"listen_addr":    "listen",
	"config_file":    "config",
	"server_key":     "server",
	"route":          "route",
	"request_field":  "request-field",
	"query_timeout":  "timeout",
	"auth_token":     "auth-token",
	"workspace_root": "workspace",
	"clone_backend":  "clone-backend",
	"log_format":     "log-format",
	"log_level":      "log-level",
}

// setupViper configures Viper with defaults, the optional settings file and
// environment variables. Environment variables use the MCPBRIDGE_ prefix; the
// unprefixed MCP_CONFIG_FILE, MCP_SERVER_KEY and MCP_AUTH_TOKEN are honoured too.
func setupViper(settingsPath string, flags *pflag.FlagSet) error {
	viper.Reset()
	setViperDefaults()
	viper.SetEnvPrefix(core.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	legacyEnv := map[string]string{
		"config_file": "MCP_CONFIG_FILE",
		"server_key":  "MCP_SERVER_KEY",
		"auth_token":  "MCP_AUTH_TOKEN",
	}
	for key, legacy := range legacyEnv {
		prefixed := core.EnvPrefix + "_" + strings.ToUpper(key)
		if err := viper.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := viper.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	if settingsPath != "" {
		viper.SetConfigFile(settingsPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	return nil
}

// setViperDefaults sets default values in Viper
func setViperDefaults() {
	viper.SetDefault("listen_addr", core.DefaultListenAddr)
	viper.SetDefault("config_file", core.DefaultConfigFile)
	viper.SetDefault("server_key", core.DefaultServerKey)
	viper.SetDefault("route", core.DefaultRoute)
	viper.SetDefault("request_field", core.DefaultRequestField)
	viper.SetDefault("query_timeout", core.DefaultQueryTimeout)
	viper.SetDefault("auth_token", "")
	viper.SetDefault("workspace_root", "")
	viper.SetDefault("clone_backend", string(CloneBackendCLI))
	viper.SetDefault("shutdown_grace", core.DefaultShutdownGrace)
	viper.SetDefault("log_format", core.LogFormatJSON)
	viper.SetDefault("log_level", "info")
}

// LoadSettings loads settings with precedence: flags > environment > settings file > defaults.
// settingsPath and flags are both optional.
func LoadSettings(settingsPath string, flags *pflag.FlagSet) (*Settings, error) {
	if err := setupViper(settingsPath, flags); err != nil {
		return nil, core.NewError(core.KindConfig, "load settings", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, core.NewError(core.KindConfig, "load settings", fmt.Errorf("failed to unmarshal settings: %w", err))
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Validate checks the settings values.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return core.NewError(core.KindConfig, "validate settings", err)
	}
	if _, ok := ValidCloneBackends()[s.CloneBackend]; !ok {
		return core.NewError(core.KindConfig, "validate settings",
			fmt.Errorf("clone_backend must be one of: %s, got '%s'", core.JoinMapKeys(ValidCloneBackends()), s.CloneBackend))
	}
	return nil
}

// AuthEnabled reports whether requests must carry a bearer token.
func (s *Settings) AuthEnabled() bool {
	return s.AuthToken != ""
}
