package main

import (
	"github.com/spf13/cobra"

	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
	"github.com/dorcha-inc/mcpbridge/internal/provision"
)

// newProvisionCmd creates the provision command
func newProvisionCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Clone and build the configured server without starting it",
		Long: `Materialize the working directory of the configured server and print its path.
When the server names a repository, any existing checkout is removed, the
repository is cloned again and the build command is run. Otherwise the current
directory is printed and nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, sync, err := loadSettings(cmd, *settingsPath)
			if err != nil {
				return err
			}
			defer sync()

			serverCfg, err := config.ResolveServer(settings.ConfigFile, settings.ServerKey)
			if err != nil {
				return err
			}

			provisioner, err := provision.NewProvisionerFromSettings(settings)
			if err != nil {
				return err
			}

			dir, err := provisioner.Provision(cmd.Context(), serverCfg)
			if err != nil {
				return err
			}

			core.MustFprintf(cmd.OutOrStdout(), "%s\n", dir)
			return nil
		},
	}
}
