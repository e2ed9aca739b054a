package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteIPPrefersForwardedFor(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.RemoteAddr = "10.0.0.1:54321"

	if got := RemoteIP(r); got != "203.0.113.7" {
		t.Errorf("RemoteIP() = %q, want 203.0.113.7", got)
	}
}

func TestRemoteIPFallsBackToRemoteAddr(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.9:443"

	if got := RemoteIP(r); got != "192.0.2.9" {
		t.Errorf("RemoteIP() = %q, want 192.0.2.9", got)
	}
}

func TestRemoteIPHandlesAddrWithoutPort(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.9"

	if got := RemoteIP(r); got != "192.0.2.9" {
		t.Errorf("RemoteIP() = %q, want 192.0.2.9 (no port to split)", got)
	}
}

func TestHashIPIsStableAndNonReversible(t *testing.T) {
	t.Parallel()

	a := HashIP("203.0.113.7")
	b := HashIP("203.0.113.7")
	c := HashIP("203.0.113.8")

	if a != b {
		t.Error("HashIP is not stable across identical inputs")
	}
	if a == c {
		t.Error("HashIP collided across different inputs")
	}
	if len(a) != 64 { // hex-encoded sha256
		t.Errorf("len(HashIP(...)) = %d, want 64", len(a))
	}
	if a == "203.0.113.7" {
		t.Error("HashIP returned the raw input unchanged")
	}
}
