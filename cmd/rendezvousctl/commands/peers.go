package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

type peersResponse struct {
	Peers []rendezvous.Peer `json:"peers"`
}

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage registered peers",
	}

	cmd.AddCommand(peersListCmd())

	return cmd
}

func peersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body peersResponse
			if err := getJSON(cmd.Context(), "/admin/peers", &body); err != nil {
				return fmt.Errorf("list peers: %w", err)
			}

			out, err := formatPeers(body.Peers, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
