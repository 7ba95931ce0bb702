package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// ServerProcessConfig describes one launchable MCP server.
type ServerProcessConfig struct {
	Command      string            `json:"command" yaml:"command" validate:"required"` // executable path or name
	Args         []string          `json:"args" yaml:"args"`                           // arguments, passed verbatim
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`         // variables added to the process environment
	Repository   string            `json:"repository,omitempty" yaml:"repository,omitempty"`
	BuildCommand string            `json:"build_command,omitempty" yaml:"build_command,omitempty" validate:"omitempty,excluded_without=Repository"`
}

// ServersConfig maps a server key to its launch parameters.
type ServersConfig map[string]*ServerProcessConfig

var validate = validator.New()

// LoadServers reads a servers file. Files ending in .yaml or .yml are parsed
// as YAML, anything else as JSON.
func LoadServers(path string) (ServersConfig, error) {
	// #nosec G304 -- path is provided by operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewError(core.KindConfig, fmt.Sprintf("read servers file %s", path), err)
	}

	servers := ServersConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &servers)
	default:
		err = json.Unmarshal(data, &servers)
	}
	if err != nil {
		return nil, core.NewError(core.KindConfig, fmt.Sprintf("parse servers file %s", path), err)
	}

	for key, server := range servers {
		if server == nil {
			return nil, core.NewError(core.KindConfig, fmt.Sprintf("server %q", key), fmt.Errorf("entry is empty"))
		}
		if err := validate.Struct(server); err != nil {
			return nil, core.NewError(core.KindConfig, fmt.Sprintf("server %q", key), err)
		}
		if server.Env == nil {
			server.Env = map[string]string{}
		}
	}

	return servers, nil
}

// Keys returns the configured server keys in sorted order.
func (s ServersConfig) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Lookup returns the configuration for key or a ConfigNotFound error that
// suggests the closest configured key.
func (s ServersConfig) Lookup(key string) (*ServerProcessConfig, error) {
	if server, ok := s[key]; ok {
		return server, nil
	}

	var cause error
	if suggestion := s.suggest(key); suggestion != "" {
		cause = fmt.Errorf("no server named %q. Did you mean: %s?", key, suggestion)
	} else if len(s) == 0 {
		cause = fmt.Errorf("no server named %q, the servers file is empty", key)
	} else {
		cause = fmt.Errorf("no server named %q, available: %s", key, core.JoinMapKeys(s))
	}
	return nil, core.NewError(core.KindConfigNotFound, "lookup server", cause)
}

// suggest finds the configured key closest to key, if it is close enough to
// be a plausible typo.
func (s ServersConfig) suggest(key string) string {
	keyLower := strings.ToLower(key)

	bestKey := ""
	bestDistance := -1
	for _, candidate := range s.Keys() {
		distance := levenshtein.ComputeDistance(keyLower, strings.ToLower(candidate))
		if bestDistance == -1 || distance < bestDistance {
			bestKey = candidate
			bestDistance = distance
		}
	}

	// a third of the key length tolerates typos without matching unrelated names
	maxDistance := max(len(key)/3, 2)
	if bestDistance >= 0 && bestDistance <= maxDistance {
		return bestKey
	}
	return ""
}

// ResolveServer loads the servers file at path and selects key.
func ResolveServer(path string, key string) (*ServerProcessConfig, error) {
	servers, err := LoadServers(path)
	if err != nil {
		return nil, err
	}
	return servers.Lookup(key)
}
