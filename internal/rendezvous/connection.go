package rendezvous

import (
	"sync"
	"sync/atomic"
	"time"
)

// Connection is the per-socket lifecycle record (spec.md §3). Exactly
// one exists per accepted socket; it is created on accept and destroyed
// on close. State transitions are driven exclusively through
// ApplyEvent via (*Connection).Apply, so a single mutex guards both the
// FSM state and the identity/network fields that become readable as the
// state advances.
type Connection struct {
	SocketID string

	mu        sync.Mutex
	state     ConnState
	identity  *UserIdentity
	networkID string
	ipHash    string

	connectedAt time.Time

	// alive is flipped false by the heartbeat supervisor's sweep and
	// set true by any received application frame or pong. Two
	// consecutive misses (~60s) terminate the connection.
	alive atomic.Bool

	// cleanedUp gates the disconnect path to a single execution: a
	// heartbeat-initiated termination and a peer-initiated close can
	// race (spec.md §9, "Heartbeat vs. disconnect").
	cleanedUp atomic.Bool
}

// NewConnection creates a Connection in StateConnected.
func NewConnection(socketID, ipHash string) *Connection {
	c := &Connection{
		SocketID:    socketID,
		state:       StateConnected,
		ipHash:      ipHash,
		connectedAt: time.Now(),
	}
	c.alive.Store(true)

	return c
}

// Apply applies event to the connection's FSM and, if the transition
// succeeds, updates the stored state. Returns the FSM result so callers
// can branch on Changed/NewState.
func (c *Connection) Apply(event ConnEvent) ConnFSMResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := ApplyEvent(c.state, event)
	c.state = result.NewState

	return result
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Authorize reports whether eventName is permitted in the connection's
// current state (spec.md §4.1, event authorization).
func (c *Connection) Authorize(eventName string) bool {
	return EventAuthorized(c.State(), eventName)
}

// SetIdentity records the verified identity and resolved network id
// (captured once, at AUTH time, and treated as immutable thereafter per
// I4).
func (c *Connection) SetIdentity(identity *UserIdentity, networkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.identity = identity
	c.networkID = networkID
}

// Identity returns the verified identity, or nil if not yet AUTHED.
func (c *Connection) Identity() *UserIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.identity
}

// NetworkID returns the network id captured at AUTH time (may be "").
func (c *Connection) NetworkID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.networkID
}

// IPHash returns the connection's salted IP hash (I6: never the raw
// address).
func (c *Connection) IPHash() string {
	return c.ipHash
}

// ConnectedAt returns the acceptance timestamp.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// MarkAlive sets the liveness flag, called on any received application
// frame or pong (spec.md §4.7).
func (c *Connection) MarkAlive() {
	c.alive.Store(true)
}

// SweepTick is called by the heartbeat supervisor once per sweep. It
// reports whether the connection had already missed a prior sweep (and
// should now be terminated), and otherwise arms the next miss by
// clearing the alive flag.
func (c *Connection) SweepTick() (shouldTerminate bool) {
	if !c.alive.Swap(false) {
		return true
	}

	return false
}

// MarkCleanedUp reports whether this call is the first to claim the
// disconnect cleanup path. Subsequent calls (from a racing heartbeat
// termination and an explicit close, for instance) return false and
// must no-op.
func (c *Connection) MarkCleanedUp() (first bool) {
	return c.cleanedUp.CompareAndSwap(false, true)
}
