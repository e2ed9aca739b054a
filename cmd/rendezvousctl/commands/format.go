package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// --- Peers ---

func formatPeers(peers []rendezvous.Peer, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(peers)
	case formatTable:
		return formatPeersTable(peers)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPeersTable(peers []rendezvous.Peer) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSTATUS\tNETWORK\tSESSIONS\tSOCKET\tCONNECTED-AT")

	for _, p := range peers {
		network := p.NetworkID
		if network == "" {
			network = valueNA
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			p.UserID,
			p.Status,
			network,
			len(p.SessionIDs),
			p.SocketID,
			p.ConnectedAt.Format("2006-01-02T15:04:05Z07:00"),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- Sessions ---

func formatSessions(sessions []rendezvous.Session, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(sessions)
	case formatTable:
		return formatSessionsTable(sessions)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionsTable(sessions []rendezvous.Session) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION-ID\tHOST\tSTATUS\tPARTICIPANTS\tCREATED-AT")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.SessionID,
			s.HostUserID,
			s.Status,
			len(s.Participants),
			s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- Status ---

func formatStatus(s statusResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(s)
	case formatTable:
		return formatStatusTable(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusTable(s statusResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Connections:\t%d\n", s.Connections)
	fmt.Fprintf(w, "Peers:\t%d\n", s.Peers)
	fmt.Fprintf(w, "Sessions:\t%d\n", s.Sessions)
	fmt.Fprintf(w, "Pending Requests:\t%d\n", s.Requests)
	_ = w.Flush()

	return buf.String()
}

// --- JSON ---

func formatJSONValue(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}

	return string(raw) + "\n", nil
}
