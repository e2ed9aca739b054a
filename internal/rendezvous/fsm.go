package rendezvous

// This file implements the connection lifecycle state machine (SPEC_FULL.md
// §4.1) as a pure function over a transition table -- no side effects, no
// Connection dependency. Unlisted (state, event) pairs are silently
// ignored: the event is dropped and the connection stays put.
//
// State diagram:
//
//	CONNECTED --AUTH--> AUTHED --PEER_REGISTER--> REGISTERED
//	   |                   |                          |
//	   +---------------+---+--------------------------+
//	                   |
//	              any terminal event (protocol error, auth
//	              timeout, supersession, liveness failure,
//	              explicit disconnect, socket close)
//	                   v
//	                CLOSED

// ConnState is a connection lifecycle state.
type ConnState uint8

const (
	// StateConnected is the initial state: socket open, unauthenticated.
	StateConnected ConnState = iota

	// StateAuthed means identity has been verified but the connection has
	// not yet registered a Peer.
	StateAuthed

	// StateRegistered means the connection is present in the peer
	// registry and eligible for discovery and pairing.
	StateRegistered

	// StateClosed is terminal. No further transitions are possible.
	StateClosed
)

// String returns the human-readable name of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthed:
		return "AUTHED"
	case StateRegistered:
		return "REGISTERED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnEvent is a connection lifecycle event.
type ConnEvent uint8

const (
	// EventAuth is a successful AUTH frame.
	EventAuth ConnEvent = iota

	// EventPeerRegister is a successful PEER_REGISTER frame.
	EventPeerRegister

	// EventProtocolError is a fatal protocol violation.
	EventProtocolError

	// EventAuthTimeout is the 10s auth timer firing before AUTH succeeds.
	EventAuthTimeout

	// EventSuperseded is a newer connection for the same user evicting
	// this one.
	EventSuperseded

	// EventLivenessFailure is the heartbeat supervisor's two-miss
	// termination.
	EventLivenessFailure

	// EventDisconnect is an explicit client-initiated or socket-close
	// disconnect.
	EventDisconnect
)

// String returns the human-readable name of the event.
func (e ConnEvent) String() string {
	switch e {
	case EventAuth:
		return "Auth"
	case EventPeerRegister:
		return "PeerRegister"
	case EventProtocolError:
		return "ProtocolError"
	case EventAuthTimeout:
		return "AuthTimeout"
	case EventSuperseded:
		return "Superseded"
	case EventLivenessFailure:
		return "LivenessFailure"
	case EventDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key: current state + incoming event.
type stateEvent struct {
	state ConnState
	event ConnEvent
}

// ConnFSMResult holds the outcome of applying an event to the connection
// FSM. The caller inspects Changed to decide whether transition-side
// bookkeeping (logging, metrics, registry mutation) is needed.
type ConnFSMResult struct {
	// OldState is the state before the event was applied.
	OldState ConnState

	// NewState is the state after the event was applied. Equal to
	// OldState when the event is not applicable in OldState.
	NewState ConnState

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// terminalEvents are accepted from every non-closed state and always
// drive the connection to StateClosed.
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var terminalEvents = map[ConnEvent]bool{
	EventProtocolError:   true,
	EventAuthTimeout:     true,
	EventSuperseded:      true,
	EventLivenessFailure: true,
	EventDisconnect:      true,
}

// fsmTable is the complete connection FSM transition table for the
// forward-progress events (AUTH, PEER_REGISTER). Terminal events are
// handled separately by ApplyEvent since they apply uniformly across all
// non-closed states.
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var fsmTable = map[stateEvent]ConnState{
	{StateConnected, EventAuth}:      StateAuthed,
	{StateAuthed, EventPeerRegister}: StateRegistered,
}

// ApplyEvent applies an event to the given state and returns the result.
//
// This is a pure function with no side effects. Terminal events
// (ProtocolError, AuthTimeout, Superseded, LivenessFailure, Disconnect)
// are accepted from any non-closed state and drive the connection to
// StateClosed. CLOSED is absorbing: every event is ignored once closed.
// Any other (state, event) pair not in the forward-progress table is
// silently ignored and Changed is false.
func ApplyEvent(currentState ConnState, event ConnEvent) ConnFSMResult {
	if currentState == StateClosed {
		return ConnFSMResult{OldState: currentState, NewState: currentState, Changed: false}
	}

	if terminalEvents[event] {
		return ConnFSMResult{OldState: currentState, NewState: StateClosed, Changed: true}
	}

	key := stateEvent{state: currentState, event: event}
	newState, ok := fsmTable[key]
	if !ok {
		return ConnFSMResult{OldState: currentState, NewState: currentState, Changed: false}
	}

	return ConnFSMResult{
		OldState: currentState,
		NewState: newState,
		Changed:  currentState != newState,
	}
}

// EventAuthorized reports whether event is permitted to be dispatched while
// the connection is in state. This mirrors SPEC_FULL.md §4.1's event
// authorization rule: AUTH and PING are accepted in CONNECTED; all other
// events require at least AUTHED; discovery, connection request, response,
// and send-message require REGISTERED.
//
// PING is accepted in any non-closed state. Disconnect/ProtocolError/
// AuthTimeout/Superseded/LivenessFailure are handled outside this table:
// terminal events are driven internally, never dispatched from a
// decoded client frame.
func EventAuthorized(state ConnState, eventName string) bool {
	switch eventName {
	case "AUTH":
		return state == StateConnected
	case "PEER_REGISTER":
		return state == StateAuthed
	case "DISCOVER_PEERS", "CONNECTION_REQUEST", "CONNECTION_RESPONSE", "SEND_MESSAGE":
		return state == StateRegistered
	case "PING":
		return state != StateClosed
	default:
		return false
	}
}
