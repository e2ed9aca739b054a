package rendezvous

import (
	"context"
	"log/slog"
)

// PresenceEvent describes a peer presence transition, consumed by the
// optional notify package (internal/notify). Emission never blocks on a
// consumer: the channel is buffered and a full channel drops the event
// with a warning log, matching internal/bfd/manager.go's
// RunDispatch/publicNotifyCh drop-and-warn policy.
type PresenceEvent struct {
	UserID string
	Status PeerStatus
}

// MetricsReporter is the narrow interface the Manager uses to record
// metrics. internal/metrics.Collector implements it; tests may supply a
// no-op.
type MetricsReporter interface {
	RecordConnection(delta int)
	RecordPeer(delta int)
	RecordSession(delta int)
	RecordAuthFailure()
	RecordError(code string)
}

type noopMetrics struct{}

func (noopMetrics) RecordConnection(int) {}
func (noopMetrics) RecordPeer(int)       {}
func (noopMetrics) RecordSession(int)    {}
func (noopMetrics) RecordAuthFailure()   {}
func (noopMetrics) RecordError(string)   {}

// Manager is the single source of truth for presence, session
// membership, and routing (SPEC_FULL.md §1). It owns the four
// registries, the broadcaster, and the external-collaborator
// dependencies, and exposes the high-level operations the protocol
// dispatcher's handlers call.
//
// Grounded on internal/bfd/manager.go's role as the central owner of
// registries plus external collaborators (here: Verifier, Resolver) in
// place of the teacher's UDP sender.
type Manager struct {
	peers    *PeerRegistry
	sessions *SessionRegistry
	requests *RequestRegistry
	sockets  *SocketRegistry
	bcast    *Broadcaster

	verifier Verifier
	resolver Resolver

	metrics MetricsReporter
	logger  *slog.Logger

	presenceCh chan PresenceEvent
}

// ManagerOption configures optional Manager dependencies. Grounded on
// internal/bfd/manager.go's ManagerOption functional-options pattern.
type ManagerOption func(*Manager)

// WithManagerMetrics installs a MetricsReporter.
func WithManagerMetrics(m MetricsReporter) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithPresenceBuffer sets the buffer size of the presence-event channel
// consumed by internal/notify. Default is 64.
func WithPresenceBuffer(n int) ManagerOption {
	return func(mgr *Manager) { mgr.presenceCh = make(chan PresenceEvent, n) }
}

// NewManager constructs a Manager with fresh registries.
func NewManager(logger *slog.Logger, verifier Verifier, resolver Resolver, opts ...ManagerOption) *Manager {
	logger = logger.With(slog.String("component", "rendezvous.manager"))

	peers := NewPeerRegistry(logger)

	mgr := &Manager{
		peers:      peers,
		sessions:   NewSessionRegistry(peers, logger),
		requests:   NewRequestRegistry(logger),
		sockets:    NewSocketRegistry(),
		verifier:   verifier,
		resolver:   resolver,
		metrics:    noopMetrics{},
		logger:     logger,
		presenceCh: make(chan PresenceEvent, 64),
	}
	mgr.bcast = NewBroadcaster(mgr.sockets, logger)

	for _, opt := range opts {
		opt(mgr)
	}

	return mgr
}

// Close stops the Manager's background goroutines (currently, the
// request registry's ttlcache eviction loop). Callers should invoke it
// once on shutdown; tests that construct a Manager should defer it too,
// since it is the only goroutine a Manager itself starts.
func (m *Manager) Close() {
	m.requests.Close()
}

// PresenceEvents returns the channel internal/notify consumes.
func (m *Manager) PresenceEvents() <-chan PresenceEvent {
	return m.presenceCh
}

// emitPresence is non-blocking: a full channel drops the event.
func (m *Manager) emitPresence(ev PresenceEvent) {
	select {
	case m.presenceCh <- ev:
	default:
		m.logger.Warn("presence event dropped, consumer not keeping up", slog.String("user_id", ev.UserID))
	}
}

// Accept registers a newly-opened socket and returns its Connection
// record. The transport layer calls this once per accepted WebSocket,
// before starting the per-connection read pump and the 10s auth timer.
func (m *Manager) Accept(sock Socket, ipHash string) *Connection {
	conn := NewConnection(sock.SocketID(), ipHash)
	m.sockets.Register(sock)
	m.metrics.RecordConnection(1)

	return conn
}

// AuthTimeout is called by the 10s auth timer if the connection has not
// reached AUTHED. It applies EventAuthTimeout, emits ERROR with
// ERR_1001 (time ran out before any token arrived is indistinguishable
// from "missing" at this point), and closes with 4001. This is the
// implicit timeout path (spec.md §4.1/§8 scenario S1): AUTH_FAILED is
// reserved for an explicit, failed AUTH attempt in HandleAuth.
func (m *Manager) AuthTimeout(conn *Connection, sock Socket) {
	if conn.State() != StateConnected {
		return // already past CONNECTED, or already closed — no-op.
	}
	if result := conn.Apply(EventAuthTimeout); !result.Changed {
		return
	}

	_ = sock.Send("ERROR", ErrorPayload{Code: CodeTokenMissing, Message: "authentication timeout"})
	_ = sock.Close(CloseAuthTimeout, "authentication timeout")

	m.Disconnect(conn, sock)
}

// Disconnect runs the disconnect path (SPEC_FULL.md §4.9). It is
// idempotent: MarkCleanedUp gates it to a single execution per
// connection, since a heartbeat-initiated termination and a
// peer-initiated close can race (spec.md §9).
func (m *Manager) Disconnect(conn *Connection, sock Socket) {
	if !conn.MarkCleanedUp() {
		return
	}

	wasRegistered := conn.State() == StateRegistered
	conn.Apply(EventDisconnect)

	m.sockets.Unregister(conn.SocketID)
	m.metrics.RecordConnection(-1)

	if !wasRegistered {
		return
	}

	identity := conn.Identity()
	if identity == nil {
		return
	}

	userID := identity.UserID
	if m.peers.LookupBySocket(conn.SocketID) == nil {
		return // superseded: supersede already removed this connection's Peer.
	}
	ended := m.sessions.HandleUserDisconnect(userID)
	m.metrics.RecordSession(-len(ended))
	m.requests.PurgeForUser(userID)
	m.peers.UnregisterByUser(userID)
	m.metrics.RecordPeer(-1)

	recipients := m.peers.AllOnlineExcept(userID)
	m.bcast.BroadcastPeerStatus(m.peers, userID, StatusOffline, recipients)
	m.emitPresence(PresenceEvent{UserID: userID, Status: StatusOffline})
}

// HandleAuth runs the AUTH handler (spec.md §4.6). It performs
// supersession before installing identity on conn, matching spec.md
// §4.1's ordering guarantee: the new connection's AUTH_SUCCESS is
// emitted only after the prior connection (if any) has been closed and
// removed.
func (m *Manager) HandleAuth(ctx context.Context, conn *Connection, sock Socket, payload AuthPayload) {
	if payload.Token == "" {
		// A token that was never provided is ERR_1001 "missing," the
		// same condition the 10s auth timer reports (spec.md §8 S1):
		// ERROR, not AUTH_FAILED. AUTH_FAILED is reserved for an
		// explicit, invalid/expired token below.
		_ = sock.Send("ERROR", ErrorPayload{Code: CodeTokenMissing, Message: "token missing"})
		_ = sock.Close(CloseAuthTimeout, "token missing")
		m.Disconnect(conn, sock)
		return
	}

	identity, authErr := m.verifier.Verify(ctx, payload.Token)
	if authErr != nil {
		m.metrics.RecordAuthFailure()

		code := CodeTokenInvalid
		if authErr.Kind == IdentityErrorExpired {
			code = CodeTokenExpired
		}

		_ = sock.Send("AUTH_FAILED", ErrorPayload{Code: code, Message: authErr.Error()})
		_ = sock.Close(CloseAuthTimeout, "authentication failed")
		m.Disconnect(conn, sock)
		return
	}

	m.supersede(identity.UserID)

	networkID, err := m.resolver.ActiveNetwork(ctx, identity.UserID)
	if err != nil {
		networkID = "" // degrade silently per spec.md §7.
	}

	conn.SetIdentity(identity, networkID)
	conn.Apply(EventAuth)

	_ = sock.Send("AUTH_SUCCESS", AuthSuccessPayload{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
	})
}

// PeerSnapshot returns a defensive copy of every registered peer, for
// the admin introspection surface.
func (m *Manager) PeerSnapshot() []Peer {
	return m.peers.Snapshot()
}

// SessionSnapshot returns a defensive copy of every active session, for
// the admin introspection surface.
func (m *Manager) SessionSnapshot() []Session {
	return m.sessions.Snapshot()
}

// Counts returns the current size of every registry, for the admin
// introspection surface and for metrics scraping that wants a
// point-in-time gauge rather than the Manager's running deltas.
func (m *Manager) Counts() (connections, peers, sessions, requests int) {
	return m.sockets.Count(), m.peers.Count(), m.sessions.Count(), m.requests.Count()
}

// supersede evicts any prior live Peer for userID: sends it an error
// frame and closes it with 4002, then removes the prior Peer and socket
// registration, entirely before the caller installs the new connection
// (spec.md §4.1).
func (m *Manager) supersede(userID string) {
	prior := m.peers.LookupByUser(userID)
	if prior == nil {
		return
	}

	if priorSock := m.sockets.Lookup(prior.SocketID); priorSock != nil {
		_ = priorSock.Send("ERROR", ErrorPayload{Code: CodePeerAlreadyConnected, Message: "superseded by a newer connection"})
		_ = priorSock.Close(CloseSuperseded, "superseded")
	}

	m.peers.UnregisterByUser(userID)
	m.sockets.Unregister(prior.SocketID)
	m.metrics.RecordPeer(-1)
}
