package rendezvous

import "log/slog"

// Broadcaster derives recipient sets from the registries at emission
// time (no cached fan-out lists) and emits frames sequentially, in peer
// registry insertion order, to each recipient (SPEC_FULL.md §4.8).
//
// Grounded on spec.md §5's explicit instruction: "Broadcast snapshots
// the recipient set under the lock, then releases the lock before
// performing the per-socket writes (the socket handle itself has an
// internal send lock)." PeerRegistry's read methods already snapshot
// under RLock and return, so by the time Broadcaster iterates the slice
// no registry lock is held — only each Socket's own internal send lock
// serializes the write.
type Broadcaster struct {
	sockets *SocketRegistry
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster bound to the given SocketRegistry.
func NewBroadcaster(sockets *SocketRegistry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		sockets: sockets,
		logger:  logger.With(slog.String("component", "rendezvous.broadcaster")),
	}
}

// PeerStatusUpdatePayload is the wire shape for a PEER_STATUS_UPDATE
// frame (SPEC_FULL.md §6).
type PeerStatusUpdatePayload struct {
	ID             string   `json:"id"`
	Profile        *Profile `json:"profile,omitempty"`
	Status         string   `json:"status"`
	ConnectionMode string   `json:"connectionMode"`
}

// BroadcastPeerStatus emits PEER_STATUS_UPDATE to every recipient in
// recipients, sequentially, computing connection_mode per-recipient
// against peers (Open Question (c): always recomputed, never cached).
// Frames emitted by a single handler call appear in the order emitted
// (spec.md §5, ordering guarantee (a)).
func (b *Broadcaster) BroadcastPeerStatus(peers *PeerRegistry, subjectUserID string, status PeerStatus, recipients []*Peer) {
	for _, recipient := range recipients {
		sock := b.sockets.Lookup(recipient.SocketID)
		if sock == nil {
			continue
		}

		mode := ModeRemote
		if peers.SameLAN(subjectUserID, recipient.UserID) {
			mode = ModeLAN
		}

		payload := PeerStatusUpdatePayload{
			ID:             subjectUserID,
			Status:         string(status),
			ConnectionMode: string(mode),
		}

		if err := sock.Send("PEER_STATUS_UPDATE", payload); err != nil {
			b.logger.Debug("broadcast send failed",
				slog.String("recipient", recipient.UserID),
				slog.String("error", err.Error()),
			)
		}
	}
}
