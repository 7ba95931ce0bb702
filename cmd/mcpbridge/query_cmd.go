package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// newQueryCmd creates the query command
func newQueryCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "query [JSON]",
		Short: "Send one query to the configured server and print the reply",
		Long: `Provision and start the configured server, send a single JSON query, print the
reply line and stop the server. The query is read from the argument, or from
stdin when no argument (or "-") is given.`,
		Example: `  mcpbridge query --server brave-search '{"mcp":"latest go release"}'
  echo '{"mcp":"ping"}' | mcpbridge query`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			settings, sync, err := loadSettings(cmd, *settingsPath)
			if err != nil {
				return err
			}
			defer sync()

			process, channel, err := startServer(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer stopServer(process, channel, settings)

			reply, err := channel.Query(cmd.Context(), payload)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			core.MustFprintf(cmd.OutOrStdout(), "%s\n", reply)
			return nil
		},
	}
}

// readPayload returns the query given on the command line or stdin.
func readPayload(stdin io.Reader, args []string) (json.RawMessage, error) {
	var raw string
	if len(args) == 1 && args[0] != "-" {
		raw = args[0]
	} else {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read query from stdin: %w", err)
		}
		raw = string(data)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("query is empty")
	}
	if !json.Valid([]byte(raw)) {
		return nil, errors.New("query must be valid JSON")
	}
	return json.RawMessage(raw), nil
}
