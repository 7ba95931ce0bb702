package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
)

var (
	version = "dev"
	// build time date
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		core.MustFprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command. Running it without a subcommand serves.
func newRootCmd() *cobra.Command {
	var settingsPath string

	rootCmd := &cobra.Command{
		Use:   "mcpbridge",
		Short: "HTTP bridge for stdio MCP servers",
		Long: `mcpbridge runs one MCP server as a child process and exposes it over HTTP.
Each POST to the query route is written to the server's stdin as a single JSON
line and the line the server writes back is returned as the response.

Settings come from flags, MCPBRIDGE_* environment variables (MCP_CONFIG_FILE,
MCP_SERVER_KEY and MCP_AUTH_TOKEN are honoured too), an optional settings file
and built-in defaults, in that order.`,
		Version:       fmt.Sprintf("%s (built: %s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		// Default to serve command when no subcommand is provided
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommand(cmd, settingsPath)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsPath, "settings", "", "Path to a settings file (yaml, json or toml)")
	flags.String("listen", core.DefaultListenAddr, "Address to listen on")
	flags.String("config", core.DefaultConfigFile, "Path to the servers file")
	flags.String("server", core.DefaultServerKey, "Key of the server to run")
	flags.String("route", core.DefaultRoute, "Path of the query endpoint")
	flags.String("request-field", core.DefaultRequestField, "Field every request body must carry (empty disables the check)")
	flags.Duration("timeout", core.DefaultQueryTimeout, "How long to wait for a reply line")
	flags.String("auth-token", "", "Bearer token required on the query endpoint")
	flags.String("workspace", "", "Directory repositories are cloned into (default: current directory)")
	flags.String("clone-backend", string(config.CloneBackendCLI), "How repositories are cloned: cli or go-git")
	flags.String("log-format", core.LogFormatJSON, "Log format: json, pretty or auto")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(newServeCmd(&settingsPath))
	rootCmd.AddCommand(newProvisionCmd(&settingsPath))
	rootCmd.AddCommand(newCheckCmd(&settingsPath))
	rootCmd.AddCommand(newQueryCmd(&settingsPath))

	return rootCmd
}

// loadSettings loads settings for cmd and initializes the global logger.
// The returned function flushes the logger.
func loadSettings(cmd *cobra.Command, settingsPath string) (*config.Settings, func(), error) {
	settings, err := config.LoadSettings(settingsPath, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := core.InitLogger(settings.LogFormat, settings.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sync := func() {
		_ = zap.L().Sync() //nolint:errcheck // Ignore sync errors on stdout/stderr, they're not critical and common in test environments
	}
	return settings, sync, nil
}
