package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

type fakeVerifier struct {
	valid map[string]*rendezvous.UserIdentity
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (*rendezvous.UserIdentity, *rendezvous.IdentityError) {
	id, ok := v.valid[token]
	if !ok {
		return nil, &rendezvous.IdentityError{Kind: rendezvous.IdentityErrorInvalid}
	}
	return id, nil
}

type fakeResolver struct{}

func (fakeResolver) ActiveNetwork(context.Context, string) (string, error) { return "", nil }

func newTestServer(t *testing.T) (*Server, *rendezvous.Manager) {
	t.Helper()
	mgr := rendezvous.NewManager(slog.Default(), &fakeVerifier{valid: map[string]*rendezvous.UserIdentity{}}, fakeResolver{})
	t.Cleanup(mgr.Close)
	return NewServer(mgr, slog.Default()), mgr
}

func TestServerHandleStatusEmpty(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Connections != 0 || body.Peers != 0 || body.Sessions != 0 || body.Requests != 0 {
		t.Errorf("body = %+v, want all zero", body)
	}
}

func TestServerHandlePeersReflectsManagerState(t *testing.T) {
	t.Parallel()

	srv, mgr := newTestServer(t)

	sock := &testSocket{id: "sock-1"}
	conn := mgr.Accept(sock, "")
	conn.SetIdentity(&rendezvous.UserIdentity{UserID: "user-1", DisplayName: "Ada"}, "")
	conn.Apply(rendezvous.EventAuth)
	mgr.HandlePeerRegister(conn, sock, rendezvous.PeerRegisterPayload{DisplayName: "Ada"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/peers", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body peersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Peers) != 1 || body.Peers[0].UserID != "user-1" {
		t.Errorf("peers = %+v, want one peer with ID user-1", body.Peers)
	}
}

func TestServerHandleSessionsEmpty(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)

	srv.Handler().ServeHTTP(rec, req)

	var body sessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Sessions) != 0 {
		t.Errorf("sessions = %+v, want empty", body.Sessions)
	}
}

func TestServerHealthCheckServed(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/grpc.health.v1.Health/Check", nil)
	req.Header.Set("Content-Type", "application/json")

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code == http.StatusNotFound {
		t.Error("grpchealth service not mounted on the admin mux")
	}
}

func TestServerUnknownRouteNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/bogus", nil)

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// testSocket is a minimal rendezvous.Socket double for adminapi tests,
// which only need a registry entry to exist, not wire delivery.
type testSocket struct{ id string }

func (s *testSocket) SocketID() string           { return s.id }
func (s *testSocket) Send(string, any) error     { return nil }
func (s *testSocket) Ping() error                { return nil }
func (s *testSocket) Close(int, string) error    { return nil }
