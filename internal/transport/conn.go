// Package transport implements the /ws duplex endpoint (SPEC_FULL.md
// §6) on top of gorilla/websocket. It owns the WebSocket upgrade, the
// per-connection read pump, and the synchronized write path; it knows
// nothing about peers, sessions, or requests — all protocol semantics
// live in internal/rendezvous, reached through the rendezvous.Socket
// interface this package implements.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// authTimeout is the window from accept in which AUTH must succeed
// (spec.md §4.1).
const authTimeout = 10 * time.Second

// maxFrameBytes bounds a single inbound frame to guard against
// unbounded allocation from a malicious or buggy client.
const maxFrameBytes = 64 * 1024

// Conn wraps a *websocket.Conn with the opaque socket id and internal
// send lock spec.md §5 requires ("the socket handle itself has an
// internal send lock"). It implements rendezvous.Socket.
//
// Grounded conceptually on internal/netio/receiver.go's
// Receiver.Run/recvLoop shape (goroutine-per-source, context-aware read
// loop) even though the wire format is unrelated (BFD Control packets
// vs. JSON text frames): one goroutine per accepted socket reads frames
// in a loop until the connection closes or ctx is cancelled.
type Conn struct {
	socketID string
	ws       *websocket.Conn
	logger   *slog.Logger

	sendMu sync.Mutex
}

var _ rendezvous.Socket = (*Conn)(nil)

// newConn wraps ws with a freshly minted socket id
// (`sock_<uuid-v4>`, SPEC_FULL.md §6).
func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	socketID := "sock_" + uuid.NewString()
	return &Conn{
		socketID: socketID,
		ws:       ws,
		logger:   logger.With(slog.String("socket_id", socketID)),
	}
}

// SocketID implements rendezvous.Socket.
func (c *Conn) SocketID() string { return c.socketID }

// Send implements rendezvous.Socket. Frames are JSON-encoded as
// `{event, data}` (SPEC_FULL.md §6).
func (c *Conn) Send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	frame := rendezvous.Frame{Event: event, Data: raw}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Ping implements rendezvous.Socket. It writes a native WebSocket
// control-frame ping (spec.md §4.7); the corresponding pong is observed
// by the pong handler registered in ServeHTTP, not by this method.
func (c *Conn) Ping() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close implements rendezvous.Socket. It sends a WebSocket close frame
// carrying the application-level code before tearing down the
// connection.
func (c *Conn) Close(code int, reason string) error {
	c.sendMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.sendMu.Unlock()

	return c.ws.Close()
}

// readLoop reads frames from ws until it errors or ctx is cancelled,
// handing each to dispatch. It returns when the connection is no longer
// readable; the caller is responsible for the disconnect path.
func (c *Conn) readLoop(ctx context.Context, dispatch func(ctx context.Context, raw []byte)) {
	c.ws.SetReadLimit(maxFrameBytes)

	for {
		if ctx.Err() != nil {
			return
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("read error, closing", slog.String("error", err.Error()))
			}
			return
		}

		dispatch(ctx, raw)
	}
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// drives each one's lifecycle: accept, auth timer, read pump, and
// disconnect on read-loop exit.
type Handler struct {
	upgrader websocket.Upgrader
	mgr      *rendezvous.Manager
	dispatch *rendezvous.Dispatcher
	sup      *rendezvous.HeartbeatSupervisor
	logger   *slog.Logger
}

// NewHandler creates a Handler bound to mgr, dispatch, and sup.
func NewHandler(mgr *rendezvous.Manager, dispatch *rendezvous.Dispatcher, sup *rendezvous.HeartbeatSupervisor, logger *slog.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// No origin restriction here: the protocol has no
			// browser-cookie-based auth to protect against CSRF, and
			// AUTH requires a bearer token the page origin cannot forge.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mgr:      mgr,
		dispatch: dispatch,
		sup:      sup,
		logger:   logger.With(slog.String("component", "transport.handler")),
	}
}

// ServeHTTP implements http.Handler for the /ws route.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	ipHash := HashIP(RemoteIP(r))
	conn := newConn(ws, h.logger)

	rzConn := h.mgr.Accept(conn, ipHash)
	h.sup.Track(rzConn, conn)

	// A pong is as good as any application frame for liveness purposes
	// (spec.md §4.7): route it straight into the FSM's alive flag.
	ws.SetPongHandler(func(string) error {
		rzConn.MarkAlive()
		return nil
	})

	ctx := r.Context()

	timer := time.AfterFunc(authTimeout, func() {
		if rzConn.State() == rendezvous.StateConnected {
			h.mgr.AuthTimeout(rzConn, conn)
			h.sup.Untrack(conn.SocketID())
		}
	})
	defer timer.Stop()

	conn.readLoop(ctx, func(ctx context.Context, raw []byte) {
		h.dispatch.Dispatch(ctx, rzConn, conn, raw)
	})

	h.mgr.Disconnect(rzConn, conn)
	h.sup.Untrack(conn.SocketID())
}
