package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dorcha-inc/mcpbridge/internal/config"
)

// checkEntry is one server in the check command's JSON output.
type checkEntry struct {
	Key        string   `json:"key"`
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	Repository string   `json:"repository,omitempty"`
	Selected   bool     `json:"selected"`
}

// newCheckCmd creates the check command
func newCheckCmd(settingsPath *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate settings and the servers file",
		Long: `Load the settings and the servers file, validate every server entry and make
sure the selected server key exists. Lists the configured servers, marking the
selected one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, sync, err := loadSettings(cmd, *settingsPath)
			if err != nil {
				return err
			}
			defer sync()

			servers, err := config.LoadServers(settings.ConfigFile)
			if err != nil {
				return err
			}
			if _, err := servers.Lookup(settings.ServerKey); err != nil {
				return err
			}

			entries := make([]checkEntry, 0, len(servers))
			for _, key := range servers.Keys() {
				server := servers[key]
				entries = append(entries, checkEntry{
					Key:        key,
					Command:    server.Command,
					Args:       server.Args,
					Repository: server.Repository,
					Selected:   key == settings.ServerKey,
				})
			}

			if jsonOutput {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "\tKEY\tCOMMAND\tREPOSITORY"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for _, entry := range entries {
				marker := ""
				if entry.Selected {
					marker = "*"
				}
				command := strings.TrimSpace(entry.Command + " " + strings.Join(entry.Args, " "))
				repository := entry.Repository
				if repository == "" {
					repository = "-"
				}
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, entry.Key, command, repository); err != nil {
					return fmt.Errorf("failed to write server: %w", err)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
