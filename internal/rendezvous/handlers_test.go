package rendezvous_test

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// authedConn builds a Manager plus one connection already advanced to
// AUTHED for userID, ready for a handler under test.
func authedConn(t *testing.T, mgr *rendezvous.Manager, socketID, userID, networkID string) (*rendezvous.Connection, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket(socketID)
	conn := mgr.Accept(sock, "")
	conn.SetIdentity(&rendezvous.UserIdentity{UserID: userID}, networkID)
	conn.Apply(rendezvous.EventAuth)
	return conn, sock
}

func TestHandlePeerRegisterDefaultsAndBroadcast(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	conn, sock := authedConn(t, mgr, "sock-1", "user-1", "net-a")
	other, otherSock := authedConn(t, mgr, "sock-2", "user-2", "net-a")
	mgr.HandlePeerRegister(other, otherSock, rendezvous.PeerRegisterPayload{})

	mgr.HandlePeerRegister(conn, sock, rendezvous.PeerRegisterPayload{})

	if conn.State() != rendezvous.StateRegistered {
		t.Errorf("conn.State() = %s, want REGISTERED", conn.State())
	}

	events := sock.sentEvents()
	if len(events) != 1 || events[0] != "PEER_REGISTERED" {
		t.Errorf("sent events = %v, want [PEER_REGISTERED]", events)
	}
	payload := sock.sent[0].data.(rendezvous.PeerRegisteredPayload)
	if payload.Profile.IDE != "other" || payload.Profile.Role != string(rendezvous.RoleGuest) {
		t.Errorf("default profile = %+v, want IDE=other Role=guest", payload.Profile)
	}

	// The already-registered peer (user-2) must receive a presence
	// broadcast about user-1 coming online.
	otherEvents := otherSock.sentEvents()
	found := false
	for _, e := range otherEvents {
		if e == "PEER_STATUS_UPDATE" {
			found = true
		}
	}
	if !found {
		t.Errorf("otherSock events = %v, want a PEER_STATUS_UPDATE", otherEvents)
	}
}

func TestHandleDiscoverPeersNullNetwork(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()
	conn, sock := authedConn(t, mgr, "sock-1", "user-1", "")

	mgr.HandleDiscoverPeers(conn, sock)

	payload := sock.sent[0].data.(rendezvous.PeersListPayload)
	if len(payload.Peers) != 0 {
		t.Errorf("Peers = %v, want empty for a null network", payload.Peers)
	}
}

func TestHandleDiscoverPeersScopedAndExcludesSelf(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	self, selfSock := authedConn(t, mgr, "sock-1", "user-1", "net-a")
	mgr.HandlePeerRegister(self, selfSock, rendezvous.PeerRegisterPayload{})

	sameNet, sameNetSock := authedConn(t, mgr, "sock-2", "user-2", "net-a")
	mgr.HandlePeerRegister(sameNet, sameNetSock, rendezvous.PeerRegisterPayload{})

	otherNet, otherNetSock := authedConn(t, mgr, "sock-3", "user-3", "net-b")
	mgr.HandlePeerRegister(otherNet, otherNetSock, rendezvous.PeerRegisterPayload{})

	selfSock.mu.Lock()
	selfSock.sent = nil
	selfSock.mu.Unlock()

	mgr.HandleDiscoverPeers(self, selfSock)

	payload := selfSock.sent[0].data.(rendezvous.PeersListPayload)
	if len(payload.Peers) != 1 || payload.Peers[0].ID != "user-2" {
		t.Errorf("Peers = %v, want only user-2", payload.Peers)
	}
}

func TestHandleConnectionRequestAndResponseAccepted(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	requester, requesterSock := authedConn(t, mgr, "sock-1", "user-1", "net-a")
	mgr.HandlePeerRegister(requester, requesterSock, rendezvous.PeerRegisterPayload{})

	target, targetSock := authedConn(t, mgr, "sock-2", "user-2", "net-a")
	mgr.HandlePeerRegister(target, targetSock, rendezvous.PeerRegisterPayload{})

	requesterSock.mu.Lock()
	requesterSock.sent = nil
	requesterSock.mu.Unlock()
	targetSock.mu.Lock()
	targetSock.sent = nil
	targetSock.mu.Unlock()

	mgr.HandleConnectionRequest(requester, requesterSock, rendezvous.ConnectionRequestPayload{TargetID: "user-2"})

	targetEvents := targetSock.sentEvents()
	if len(targetEvents) != 1 || targetEvents[0] != "CONNECTION_REQUEST_RECEIVED" {
		t.Fatalf("target events = %v, want [CONNECTION_REQUEST_RECEIVED]", targetEvents)
	}
	received := targetSock.sent[0].data.(rendezvous.ConnectionRequestReceivedPayload)

	mgr.HandleConnectionResponse(target, targetSock, rendezvous.ConnectionResponsePayload{
		RequestID: received.RequestID,
		Accepted:  true,
	})

	requesterEvents := requesterSock.sentEvents()
	if len(requesterEvents) != 1 || requesterEvents[0] != "CONNECTION_ACCEPTED" {
		t.Errorf("requester events = %v, want [CONNECTION_ACCEPTED]", requesterEvents)
	}

	targetEventsAfter := targetSock.sentEvents()
	if len(targetEventsAfter) != 2 || targetEventsAfter[1] != "SESSION_CREATED" {
		t.Errorf("target events after response = %v, want [..., SESSION_CREATED]", targetEventsAfter)
	}
}

func TestHandleConnectionRequestDifferentNetwork(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	requester, requesterSock := authedConn(t, mgr, "sock-1", "user-1", "net-a")
	mgr.HandlePeerRegister(requester, requesterSock, rendezvous.PeerRegisterPayload{})
	target, targetSock := authedConn(t, mgr, "sock-2", "user-2", "net-b")
	mgr.HandlePeerRegister(target, targetSock, rendezvous.PeerRegisterPayload{})

	requesterSock.mu.Lock()
	requesterSock.sent = nil
	requesterSock.mu.Unlock()

	mgr.HandleConnectionRequest(requester, requesterSock, rendezvous.ConnectionRequestPayload{TargetID: "user-2"})

	events := requesterSock.sentEvents()
	if len(events) != 1 || events[0] != "ERROR" {
		t.Fatalf("events = %v, want [ERROR]", events)
	}
	payload := requesterSock.sent[0].data.(rendezvous.ErrorPayload)
	if payload.Code != rendezvous.CodePeerNotSameNetwork {
		t.Errorf("error code = %q, want %q", payload.Code, rendezvous.CodePeerNotSameNetwork)
	}
}

func TestHandleConnectionResponseRejected(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	requester, requesterSock := authedConn(t, mgr, "sock-1", "user-1", "net-a")
	mgr.HandlePeerRegister(requester, requesterSock, rendezvous.PeerRegisterPayload{})
	target, targetSock := authedConn(t, mgr, "sock-2", "user-2", "net-a")
	mgr.HandlePeerRegister(target, targetSock, rendezvous.PeerRegisterPayload{})

	mgr.HandleConnectionRequest(requester, requesterSock, rendezvous.ConnectionRequestPayload{TargetID: "user-2"})
	received := targetSock.sent[len(targetSock.sent)-1].data.(rendezvous.ConnectionRequestReceivedPayload)

	requesterSock.mu.Lock()
	requesterSock.sent = nil
	requesterSock.mu.Unlock()

	mgr.HandleConnectionResponse(target, targetSock, rendezvous.ConnectionResponsePayload{
		RequestID: received.RequestID,
		Accepted:  false,
	})

	events := requesterSock.sentEvents()
	if len(events) != 1 || events[0] != "CONNECTION_REJECTED" {
		t.Errorf("requester events = %v, want [CONNECTION_REJECTED]", events)
	}
	if _, _, sessions, _ := mgr.Counts(); sessions != 0 {
		t.Errorf("sessions = %d, want 0 after rejection", sessions)
	}
}

func TestHandleConnectionResponseUnauthorized(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	requester, requesterSock := authedConn(t, mgr, "sock-1", "user-1", "net-a")
	mgr.HandlePeerRegister(requester, requesterSock, rendezvous.PeerRegisterPayload{})
	target, targetSock := authedConn(t, mgr, "sock-2", "user-2", "net-a")
	mgr.HandlePeerRegister(target, targetSock, rendezvous.PeerRegisterPayload{})
	bystander, bystanderSock := authedConn(t, mgr, "sock-3", "user-3", "net-a")
	mgr.HandlePeerRegister(bystander, bystanderSock, rendezvous.PeerRegisterPayload{})

	mgr.HandleConnectionRequest(requester, requesterSock, rendezvous.ConnectionRequestPayload{TargetID: "user-2"})
	received := targetSock.sent[len(targetSock.sent)-1].data.(rendezvous.ConnectionRequestReceivedPayload)

	bystanderSock.mu.Lock()
	bystanderSock.sent = nil
	bystanderSock.mu.Unlock()

	mgr.HandleConnectionResponse(bystander, bystanderSock, rendezvous.ConnectionResponsePayload{
		RequestID: received.RequestID,
		Accepted:  true,
	})

	events := bystanderSock.sentEvents()
	if len(events) != 1 || events[0] != "ERROR" {
		t.Fatalf("events = %v, want [ERROR]", events)
	}
	payload := bystanderSock.sent[0].data.(rendezvous.ErrorPayload)
	if payload.Code != rendezvous.CodeRequestUnauthorized {
		t.Errorf("error code = %q, want %q", payload.Code, rendezvous.CodeRequestUnauthorized)
	}
}

func TestHandleSendMessageBestEffort(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	a, aSock := authedConn(t, mgr, "sock-1", "user-a", "net-a")
	mgr.HandlePeerRegister(a, aSock, rendezvous.PeerRegisterPayload{})
	b, bSock := authedConn(t, mgr, "sock-2", "user-b", "net-a")
	mgr.HandlePeerRegister(b, bSock, rendezvous.PeerRegisterPayload{})

	mgr.HandleConnectionRequest(a, aSock, rendezvous.ConnectionRequestPayload{TargetID: "user-b"})
	received := bSock.sent[len(bSock.sent)-1].data.(rendezvous.ConnectionRequestReceivedPayload)
	mgr.HandleConnectionResponse(b, bSock, rendezvous.ConnectionResponsePayload{RequestID: received.RequestID, Accepted: true})

	sessionCreated := bSock.sent[len(bSock.sent)-1].data.(rendezvous.SessionCreatedPayload)

	bSock.mu.Lock()
	bSock.sent = nil
	bSock.mu.Unlock()

	mgr.HandleSendMessage(a, aSock, rendezvous.SendMessagePayload{
		SessionID: sessionCreated.SessionID,
		Content:   json.RawMessage(`"hello"`),
		Type:      "text",
	})

	events := bSock.sentEvents()
	if len(events) != 1 || events[0] != "MESSAGE_RECEIVED" {
		t.Fatalf("recipient events = %v, want [MESSAGE_RECEIVED]", events)
	}
	payload := bSock.sent[0].data.(rendezvous.MessageReceivedPayload)
	if string(payload.Content) != `"hello"` || payload.From != "user-a" {
		t.Errorf("payload = %+v, want Content=hello From=user-a", payload)
	}
}

func TestHandleSendMessageNotParticipant(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()

	a, aSock := authedConn(t, mgr, "sock-1", "user-a", "net-a")
	mgr.HandlePeerRegister(a, aSock, rendezvous.PeerRegisterPayload{})
	b, bSock := authedConn(t, mgr, "sock-2", "user-b", "net-a")
	mgr.HandlePeerRegister(b, bSock, rendezvous.PeerRegisterPayload{})
	outsider, outsiderSock := authedConn(t, mgr, "sock-3", "user-c", "net-a")
	mgr.HandlePeerRegister(outsider, outsiderSock, rendezvous.PeerRegisterPayload{})

	mgr.HandleConnectionRequest(a, aSock, rendezvous.ConnectionRequestPayload{TargetID: "user-b"})
	received := bSock.sent[len(bSock.sent)-1].data.(rendezvous.ConnectionRequestReceivedPayload)
	mgr.HandleConnectionResponse(b, bSock, rendezvous.ConnectionResponsePayload{RequestID: received.RequestID, Accepted: true})
	sessionCreated := bSock.sent[len(bSock.sent)-1].data.(rendezvous.SessionCreatedPayload)

	outsiderSock.mu.Lock()
	outsiderSock.sent = nil
	outsiderSock.mu.Unlock()

	mgr.HandleSendMessage(outsider, outsiderSock, rendezvous.SendMessagePayload{
		SessionID: sessionCreated.SessionID,
		Content:   json.RawMessage(`"hi"`),
	})

	events := outsiderSock.sentEvents()
	if len(events) != 1 || events[0] != "ERROR" {
		t.Fatalf("events = %v, want [ERROR]", events)
	}
	payload := outsiderSock.sent[0].data.(rendezvous.ErrorPayload)
	if payload.Code != rendezvous.CodeNotParticipant {
		t.Errorf("error code = %q, want %q", payload.Code, rendezvous.CodeNotParticipant)
	}
}

func TestHandlePing(t *testing.T) {
	t.Parallel()

	verifier, resolver := newTestManagerDeps()
	mgr := rendezvous.NewManager(slog.Default(), verifier, resolver)
	defer mgr.Close()
	conn, sock := authedConn(t, mgr, "sock-1", "user-1", "")

	mgr.HandlePing(conn, sock)

	events := sock.sentEvents()
	if len(events) != 1 || events[0] != "PONG" {
		t.Errorf("events = %v, want [PONG]", events)
	}
}
