package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dorcha-inc/mcpbridge/internal/bridge"
	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
	"github.com/dorcha-inc/mcpbridge/internal/provision"
	"github.com/dorcha-inc/mcpbridge/internal/server"
)

// newServeCmd creates the serve command
func newServeCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server and serve queries over HTTP",
		Long: `Provision and start the configured MCP server, then forward HTTP queries to it.
This is the default command when no subcommand is specified.

Startup failures (unknown server key, clone, build or spawn errors) are fatal.
Failures of individual queries are answered with HTTP 500.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommand(cmd, *settingsPath)
		},
	}
}

func serveCommand(cmd *cobra.Command, settingsPath string) error {
	settings, sync, err := loadSettings(cmd, settingsPath)
	if err != nil {
		return err
	}
	defer sync()

	ctx, cancel := setupSignalHandling(cmd.Context())
	defer cancel()

	return runServe(ctx, settings)
}

// runServe runs the bridge until ctx ends
func runServe(ctx context.Context, settings *config.Settings) error {
	process, channel, err := startServer(ctx, settings)
	if err != nil {
		return err
	}
	defer stopServer(process, channel, settings)

	srv := server.NewBridgeServer(settings, process, channel)
	if err := srv.Serve(ctx, settings.ListenAddr); err != nil {
		if errors.Is(err, context.Canceled) {
			zap.L().Info("Server context canceled, exiting gracefully")
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startServer resolves, provisions and spawns the configured server.
func startServer(ctx context.Context, settings *config.Settings) (*bridge.RunningProcess, *bridge.Channel, error) {
	serverCfg, err := config.ResolveServer(settings.ConfigFile, settings.ServerKey)
	if err != nil {
		return nil, nil, err
	}

	provisioner, err := provision.NewProvisionerFromSettings(settings)
	if err != nil {
		return nil, nil, err
	}

	dir, err := provisioner.Provision(ctx, serverCfg)
	if err != nil {
		return nil, nil, err
	}

	// the child outlives ctx so that it can be stopped in order on shutdown
	supervisor := bridge.NewSupervisor(core.NewExecCommandRunner(), nil)
	process, err := supervisor.Spawn(context.WithoutCancel(ctx), settings.ServerKey, serverCfg, dir)
	if err != nil {
		return nil, nil, err
	}

	return process, bridge.NewProcessChannel(process, settings.QueryTimeout), nil
}

func stopServer(process *bridge.RunningProcess, channel *bridge.Channel, settings *config.Settings) {
	channel.Close()

	grace := settings.ShutdownGrace
	if grace <= 0 {
		grace = core.DefaultShutdownGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := process.Stop(ctx); err != nil {
		zap.L().Warn("MCP server stopped with error", zap.Error(err))
	}
}

// setupSignalHandling cancels the returned context on SIGINT or SIGTERM
func setupSignalHandling(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			zap.L().Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
