package rendezvous

import "sync"

// Socket is the narrow handle the socket registry hands back to
// handlers and the broadcast engine. Connection (in package transport)
// implements this interface; rendezvous never imports transport (socket
// registration flows the other way, through the Manager's public API),
// avoiding an import cycle.
type Socket interface {
	// SocketID returns this socket's opaque id.
	SocketID() string

	// Send writes a single wire frame. Implementations must be safe for
	// concurrent use (spec.md §5: "the socket handle itself has an
	// internal send lock").
	Send(event string, data any) error

	// Ping writes a transport-level liveness probe (spec.md §4.7: "send
	// a low-level ping"), distinct from any application frame. A reply
	// arrives out-of-band and is observed by the transport layer, which
	// reports it back as MarkAlive — Ping itself only sends.
	Ping() error

	// Close closes the underlying connection with the given
	// application-level close code.
	Close(code int, reason string) error
}

// SocketRegistry maps an opaque socket id to its live connection handle
// (SPEC_FULL.md §4, "Socket registry").
type SocketRegistry struct {
	mu      sync.RWMutex
	sockets map[string]Socket
}

// NewSocketRegistry creates an empty SocketRegistry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{sockets: make(map[string]Socket)}
}

// Register installs sock under its own SocketID.
func (r *SocketRegistry) Register(sock Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sockets[sock.SocketID()] = sock
}

// Unregister removes socketID.
func (r *SocketRegistry) Unregister(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sockets, socketID)
}

// Lookup returns the Socket for socketID, or nil if absent (i.e., not
// currently live).
func (r *SocketRegistry) Lookup(socketID string) Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sockets[socketID]
}

// Count returns the number of live sockets.
func (r *SocketRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sockets)
}
