package rendezvous

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// heartbeatInterval is the sweep period (spec.md §4.7).
const heartbeatInterval = 30 * time.Second

// trackedConn pairs a Connection with the Socket used to ping and, if
// necessary, forcibly close it.
type trackedConn struct {
	conn *Connection
	sock Socket
}

// HeartbeatSupervisor periodically sweeps every live connection,
// terminating any that missed two consecutive sweeps (~60s) without a
// pong or application frame (spec.md §4.7).
//
// Grounded on internal/bfd/manager.go's per-session timeout goroutines
// and cmd/gobfd/main.go's daemon-goroutine-in-errgroup wiring: one
// goroutine, started by the caller as an errgroup member, running until
// ctx is cancelled.
type HeartbeatSupervisor struct {
	mgr      *Manager
	logger   *slog.Logger
	interval time.Duration

	mu    sync.Mutex
	conns map[string]trackedConn
}

// NewHeartbeatSupervisor creates a HeartbeatSupervisor bound to mgr,
// sweeping at heartbeatInterval. Use WithHeartbeatInterval to override.
func NewHeartbeatSupervisor(mgr *Manager, logger *slog.Logger, opts ...HeartbeatOption) *HeartbeatSupervisor {
	sup := &HeartbeatSupervisor{
		mgr:      mgr,
		conns:    make(map[string]trackedConn),
		interval: heartbeatInterval,
		logger:   logger.With(slog.String("component", "rendezvous.heartbeat")),
	}

	for _, opt := range opts {
		opt(sup)
	}

	return sup
}

// HeartbeatOption configures an optional HeartbeatSupervisor parameter.
type HeartbeatOption func(*HeartbeatSupervisor)

// WithHeartbeatInterval overrides the default 30s sweep period, e.g. from
// the daemon's HeartbeatConfig.
func WithHeartbeatInterval(d time.Duration) HeartbeatOption {
	return func(sup *HeartbeatSupervisor) {
		if d > 0 {
			sup.interval = d
		}
	}
}

// Track registers a connection for heartbeat supervision. The transport
// layer calls this once per accepted socket, alongside Manager.Accept.
func (h *HeartbeatSupervisor) Track(conn *Connection, sock Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn.SocketID] = trackedConn{conn: conn, sock: sock}
}

// Untrack removes a connection from supervision. The transport layer
// calls this from its own cleanup path once a connection is closed.
func (h *HeartbeatSupervisor) Untrack(socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, socketID)
}

// Run sweeps every heartbeatInterval until ctx is cancelled. Intended to
// run as an errgroup member: `g.Go(func() error { return sup.Run(gCtx) })`.
func (h *HeartbeatSupervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep walks every tracked connection once. A connection that already
// missed the previous sweep is terminated; otherwise its alive flag is
// cleared and a low-level ping is sent, arming the next miss.
func (h *HeartbeatSupervisor) sweep() {
	h.mu.Lock()
	snapshot := make(map[string]trackedConn, len(h.conns))
	for k, v := range h.conns {
		snapshot[k] = v
	}
	h.mu.Unlock()

	for socketID, tc := range snapshot {
		if tc.conn.SweepTick() {
			h.logger.Info("connection missed two heartbeat sweeps, terminating", slog.String("socket_id", socketID))
			_ = tc.sock.Close(1001, "heartbeat timeout")
			h.mgr.Disconnect(tc.conn, tc.sock)
			h.Untrack(socketID)
			continue
		}

		_ = tc.sock.Ping()
	}
}
