package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type statusResponse struct {
	Connections int `json:"connections"`
	Peers       int `json:"peers"`
	Sessions    int `json:"sessions"`
	Requests    int `json:"pending_requests"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon-wide connection, peer, session, and request counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body statusResponse
			if err := getJSON(cmd.Context(), "/admin/status", &body); err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			out, err := formatStatus(body, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
