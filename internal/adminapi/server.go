package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"connectrpc.com/grpchealth"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// Server serves the admin introspection surface: JSON snapshots of the
// peer/session registries plus the ConnectRPC health-check service
// (which needs no generated code, unlike the full admin RPC surface).
type Server struct {
	mgr    *rendezvous.Manager
	logger *slog.Logger
}

// NewServer creates a Server bound to mgr.
func NewServer(mgr *rendezvous.Manager, logger *slog.Logger) *Server {
	return &Server{mgr: mgr, logger: logger.With(slog.String("component", "adminapi.server"))}
}

// Handler returns the fully wired http.Handler for the admin listener,
// wrapped in logging and panic-recovery middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/peers", s.handlePeers)
	mux.HandleFunc("GET /admin/sessions", s.handleSessions)
	mux.HandleFunc("GET /admin/status", s.handleStatus)

	checker := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName)
	mux.Handle(grpchealth.NewHandler(checker))

	return recoveryMiddleware(s.logger, loggingMiddleware(s.logger, mux))
}

type peersResponse struct {
	Peers []rendezvous.Peer `json:"peers"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, peersResponse{Peers: s.mgr.PeerSnapshot()})
}

type sessionsResponse struct {
	Sessions []rendezvous.Session `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: s.mgr.SessionSnapshot()})
}

type statusResponse struct {
	Connections int `json:"connections"`
	Peers       int `json:"peers"`
	Sessions    int `json:"sessions"`
	Requests    int `json:"pending_requests"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connections, peers, sessions, requests := s.mgr.Counts()
	writeJSON(w, http.StatusOK, statusResponse{
		Connections: connections,
		Peers:       peers,
		Sessions:    sessions,
		Requests:    requests,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
