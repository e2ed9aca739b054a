package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

type sessionsResponse struct {
	Sessions []rendezvous.Session `json:"sessions"`
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage active sessions",
	}

	cmd.AddCommand(sessionsListCmd())

	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body sessionsResponse
			if err := getJSON(cmd.Context(), "/admin/sessions", &body); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(body.Sessions, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
