package core

import (
	"maps"
	"os"
	"slices"
	"strings"
)

// EnvMap converts a KEY=VALUE list into a map. Later entries win.
func EnvMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		m[key] = value
	}
	return m
}

// OverlayEnv returns a KEY=VALUE list holding every key of base and upper,
// where upper wins on collision. The result is sorted by key so command
// environments are reproducible.
func OverlayEnv(base map[string]string, upper map[string]string) []string {
	merged := make(map[string]string, len(base)+len(upper))
	maps.Copy(merged, base)
	maps.Copy(merged, upper)

	keys := slices.Sorted(maps.Keys(merged))
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// SpawnEnv is the environment of a long-lived server: the inherited
// environment with the configured variables taking precedence.
func SpawnEnv(configured map[string]string) []string {
	return OverlayEnv(EnvMap(os.Environ()), configured)
}

// BuildEnv is the environment of a build step: the configured variables
// overlaid by the full inherited environment, so host values win.
func BuildEnv(configured map[string]string) []string {
	return OverlayEnv(configured, EnvMap(os.Environ()))
}
