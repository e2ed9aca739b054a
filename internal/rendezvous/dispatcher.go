package rendezvous

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Dispatcher parses incoming frames, authorizes them against the
// connection's current state, and routes them to Manager handlers
// (SPEC_FULL.md §4.2). Handlers are pure functions of (connection,
// registries, payload) and may emit zero or more frames; Dispatcher
// itself holds no state beyond a Manager reference and a logger.
//
// Grounded on internal/server/server.go's RPC-dispatch-with-error-
// mapping shape, adapted from one ConnectRPC method per RPC to a single
// table keyed by the frame's `event` field.
type Dispatcher struct {
	mgr    *Manager
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher bound to mgr.
func NewDispatcher(mgr *Manager, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{mgr: mgr, logger: logger.With(slog.String("component", "rendezvous.dispatcher"))}
}

// Dispatch decodes raw as a Frame and routes it. On JSON parse failure,
// emits ERROR with ERR_5003. Unknown events produce ERR_5003 naming the
// event. Wrong-state events produce ERR_5005 if the connection has not
// reached AUTHED yet, or ERR_2006 if it is AUTHED but has not completed
// PEER_REGISTER (PING aside, which is accepted in any non-closed state
// and therefore never rejected here).
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Connection, sock Socket, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		emitError(sock, CodeInvalidMessage, "malformed frame")
		return
	}

	if frame.Event != "PING" { // HandlePing marks PING itself.
		conn.MarkAlive() // any received application frame counts as liveness (spec.md §4.7).
	}

	if !isKnownEvent(frame.Event) {
		emitError(sock, CodeInvalidMessage, "unknown event: "+frame.Event)
		return
	}

	if !conn.Authorize(frame.Event) {
		if conn.State() == StateAuthed {
			emitError(sock, CodePeerMustRegister, "peer must register first")
		} else {
			emitError(sock, CodeSocketNotAuthed, "socket not authenticated")
		}
		return
	}

	switch frame.Event {
	case "AUTH":
		var p AuthPayload
		if !decode(sock, frame.Data, &p) {
			return
		}
		d.mgr.HandleAuth(ctx, conn, sock, p)

	case "PEER_REGISTER":
		var p PeerRegisterPayload
		if len(frame.Data) > 0 && !decode(sock, frame.Data, &p) {
			return
		}
		d.mgr.HandlePeerRegister(conn, sock, p)

	case "DISCOVER_PEERS":
		d.mgr.HandleDiscoverPeers(conn, sock)

	case "CONNECTION_REQUEST":
		var p ConnectionRequestPayload
		if !decode(sock, frame.Data, &p) {
			return
		}
		d.mgr.HandleConnectionRequest(conn, sock, p)

	case "CONNECTION_RESPONSE":
		var p ConnectionResponsePayload
		if !decode(sock, frame.Data, &p) {
			return
		}
		d.mgr.HandleConnectionResponse(conn, sock, p)

	case "SEND_MESSAGE":
		var p SendMessagePayload
		if !decode(sock, frame.Data, &p) {
			return
		}
		d.mgr.HandleSendMessage(conn, sock, p)

	case "PING":
		d.mgr.HandlePing(conn, sock)
	}
}

// decode unmarshals data into v, emitting ERR_5003 on failure. Returns
// whether decoding succeeded.
func decode(sock Socket, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		emitError(sock, CodeInvalidMessage, "missing data")
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		emitError(sock, CodeInvalidMessage, "invalid data")
		return false
	}

	return true
}

//nolint:gochecknoglobals // event name set is intentionally package-level.
var knownEvents = map[string]bool{
	"AUTH":                true,
	"PEER_REGISTER":       true,
	"DISCOVER_PEERS":      true,
	"CONNECTION_REQUEST":  true,
	"CONNECTION_RESPONSE": true,
	"SEND_MESSAGE":        true,
	"PING":                true,
}

func isKnownEvent(event string) bool {
	return knownEvents[event]
}
