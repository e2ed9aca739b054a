package rendezvous_test

import (
	"sync"
	"testing"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// sentFrame records one Send call observed by a fakeSocket.
type sentFrame struct {
	event string
	data  any
}

// fakeSocket is a rendezvous.Socket test double recording every Send and
// Close call under its own lock, mirroring the "socket has its own send
// lock" invariant the real transport.Conn implementation upholds.
type fakeSocket struct {
	id string

	mu     sync.Mutex
	sent   []sentFrame
	pings  int
	closed bool
	code   int
	reason string
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id}
}

func (s *fakeSocket) SocketID() string { return s.id }

func (s *fakeSocket) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentFrame{event: event, data: data})
	return nil
}

func (s *fakeSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.code = code
	s.reason = reason
	return nil
}

func (s *fakeSocket) sentEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, f := range s.sent {
		out[i] = f.event
	}
	return out
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestSocketRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := rendezvous.NewSocketRegistry()
	sock := newFakeSocket("sock-1")

	reg.Register(sock)

	if got := reg.Lookup("sock-1"); got != sock {
		t.Errorf("Lookup returned a different socket")
	}
	if got := reg.Lookup("missing"); got != nil {
		t.Errorf("Lookup(missing) = %v, want nil", got)
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestSocketRegistryUnregister(t *testing.T) {
	t.Parallel()

	reg := rendezvous.NewSocketRegistry()
	sock := newFakeSocket("sock-1")
	reg.Register(sock)

	reg.Unregister("sock-1")

	if got := reg.Lookup("sock-1"); got != nil {
		t.Error("socket still present after Unregister")
	}
	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	// Unregistering an absent socket is a silent no-op.
	reg.Unregister("sock-1")
}

func TestSocketRegistryReplace(t *testing.T) {
	t.Parallel()

	reg := rendezvous.NewSocketRegistry()
	first := newFakeSocket("sock-1")
	second := newFakeSocket("sock-1")

	reg.Register(first)
	reg.Register(second)

	if got := reg.Lookup("sock-1"); got != second {
		t.Error("re-registering the same socket id did not replace the prior handle")
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 (replace, not add)", got)
	}
}
