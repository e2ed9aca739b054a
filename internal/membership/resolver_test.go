package membership_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dantte-lp/rendezvous/internal/membership"
)

func TestHTTPResolverActiveNetworkSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/user-1/active-network") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"network_id": "net-42"})
	}))
	defer srv.Close()

	r := membership.NewHTTPResolver(srv.URL, slog.Default())

	networkID, err := r.ActiveNetwork(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("ActiveNetwork: %v", err)
	}
	if networkID != "net-42" {
		t.Errorf("networkID = %q, want net-42", networkID)
	}
}

func TestHTTPResolverNotFoundDegradesToNullNetwork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := membership.NewHTTPResolver(srv.URL, slog.Default())

	networkID, err := r.ActiveNetwork(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("ActiveNetwork: %v", err)
	}
	if networkID != "" {
		t.Errorf("networkID = %q, want empty (null network)", networkID)
	}
}

func TestHTTPResolverRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"network_id": "net-after-retry"})
	}))
	defer srv.Close()

	r := membership.NewHTTPResolver(srv.URL, slog.Default(), membership.WithMaxElapsed(5*time.Second))

	networkID, err := r.ActiveNetwork(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("ActiveNetwork: %v", err)
	}
	if networkID != "net-after-retry" {
		t.Errorf("networkID = %q, want net-after-retry", networkID)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestHTTPResolverGivesUpAfterMaxElapsed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := membership.NewHTTPResolver(srv.URL, slog.Default(), membership.WithMaxElapsed(300*time.Millisecond))

	_, err := r.ActiveNetwork(t.Context(), "user-1")
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if !strings.Contains(err.Error(), "membership service unavailable") {
		t.Errorf("error = %v, want it to wrap ErrMembershipUnavailable", err)
	}
}

func TestHTTPResolverNonRetryableClientErrorFailsFast(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := membership.NewHTTPResolver(srv.URL, slog.Default(), membership.WithMaxElapsed(2*time.Second))

	_, err := r.ActiveNetwork(t.Context(), "user-1")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (403 must not retry)", attempts.Load())
	}
}
