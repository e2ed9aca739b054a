package rendezvous

import "time"

// HandlePeerRegister runs the PEER_REGISTER handler (spec.md §4.6).
// Precondition (AUTHED) is enforced by the dispatcher before this is
// called.
func (m *Manager) HandlePeerRegister(conn *Connection, sock Socket, payload PeerRegisterPayload) {
	identity := conn.Identity()

	displayName := payload.DisplayName
	if displayName == "" {
		displayName = identity.DisplayName
	}

	ide := payload.IDE
	if ide == "" {
		ide = "other"
	}

	role := RoleTag(payload.Role)
	if role == "" {
		role = RoleGuest
	}

	profile := Profile{DisplayName: displayName, IDE: ide, Role: role}

	p := m.peers.Register(identity.UserID, profile, conn.SocketID, conn.IPHash(), conn.NetworkID())
	conn.Apply(EventPeerRegister)
	m.metrics.RecordPeer(1)

	_ = sock.Send("PEER_REGISTERED", PeerRegisteredPayload{
		ID: p.UserID,
		Profile: ProfileView{
			DisplayName: p.Profile.DisplayName,
			Role:        string(p.Profile.Role),
			IDE:         p.Profile.IDE,
		},
		Status: string(p.Status),
	})

	recipients := m.peers.AllOnlineExcept(identity.UserID)
	m.bcast.BroadcastPeerStatus(m.peers, identity.UserID, StatusOnline, recipients)
	m.emitPresence(PresenceEvent{UserID: identity.UserID, Status: StatusOnline})
}

// HandleDiscoverPeers runs the DISCOVER_PEERS handler (spec.md §4.6).
// Client-supplied filters are always ignored (Open Question (b)).
func (m *Manager) HandleDiscoverPeers(conn *Connection, sock Socket) {
	identity := conn.Identity()
	networkID := conn.NetworkID()

	if networkID == "" {
		_ = sock.Send("PEERS_LIST", PeersListPayload{Peers: []PeerView{}})
		return
	}

	candidates := m.peers.OnlineInNetwork(networkID)

	views := make([]PeerView, 0, len(candidates))
	for _, p := range candidates {
		if p.UserID == identity.UserID {
			continue
		}

		mode := ModeRemote
		if m.peers.SameLAN(identity.UserID, p.UserID) {
			mode = ModeLAN
		}

		views = append(views, PeerView{
			ID: p.UserID,
			Profile: ProfileView{
				DisplayName: p.Profile.DisplayName,
				Role:        string(p.Profile.Role),
				IDE:         p.Profile.IDE,
			},
			Status:         string(p.Status),
			ConnectionMode: string(mode),
		})
	}

	_ = sock.Send("PEERS_LIST", PeersListPayload{Peers: views})
}

// HandleConnectionRequest runs the CONNECTION_REQUEST handler (spec.md
// §4.6).
func (m *Manager) HandleConnectionRequest(conn *Connection, sock Socket, payload ConnectionRequestPayload) {
	identity := conn.Identity()

	target := m.peers.LookupByUser(payload.TargetID)
	if target == nil {
		emitError(sock, CodePeerNotFound, "peer not found")
		return
	}

	networkID := conn.NetworkID()
	if networkID == "" || target.NetworkID != networkID {
		emitError(sock, CodePeerNotSameNetwork, "peer not in same network")
		return
	}

	targetSock := m.sockets.Lookup(target.SocketID)
	if targetSock == nil {
		emitError(sock, CodeTargetOffline, "target offline")
		return
	}

	requestID := m.requests.Create(identity.UserID, payload.TargetID)

	_ = targetSock.Send("CONNECTION_REQUEST_RECEIVED", ConnectionRequestReceivedPayload{
		RequestID: requestID,
		From:      peerFromView(m, identity.UserID),
	})
}

// HandleConnectionResponse runs the CONNECTION_RESPONSE handler
// (spec.md §4.6). Once the request is found and the responder is its
// target, the request is removed, whether accepted or rejected.
func (m *Manager) HandleConnectionResponse(conn *Connection, sock Socket, payload ConnectionResponsePayload) {
	identity := conn.Identity()

	req := m.requests.Get(payload.RequestID)
	if req == nil {
		emitError(sock, CodeRequestNotFound, "request not found")
		return
	}

	if req.ToUserID != identity.UserID {
		emitError(sock, CodeRequestUnauthorized, "request unauthorized")
		return
	}

	m.requests.Remove(payload.RequestID)

	requester := m.peers.LookupByUser(req.FromUserID)
	if requester == nil {
		emitError(sock, CodePeerNotFound, "peer not found")
		return
	}

	requesterSock := m.sockets.Lookup(requester.SocketID)

	if !payload.Accepted {
		if requesterSock != nil {
			_ = requesterSock.Send("CONNECTION_REJECTED", ConnectionRejectedPayload{
				RequestID: payload.RequestID,
				TargetID:  identity.UserID,
			})
		}
		return
	}

	session := m.sessions.CreateForPair(req.FromUserID, requester.SocketID, identity.UserID, conn.SocketID)
	m.metrics.RecordSession(1)

	if requesterSock != nil {
		_ = requesterSock.Send("CONNECTION_ACCEPTED", ConnectionAcceptedPayload{
			RequestID: payload.RequestID,
			SessionID: session.SessionID,
			Peer:      peerFromView(m, identity.UserID),
		})
	}

	_ = sock.Send("SESSION_CREATED", SessionCreatedPayload{
		SessionID: session.SessionID,
		Peer:      peerFromView(m, req.FromUserID),
	})
}

// HandleSendMessage runs the SEND_MESSAGE handler (spec.md §4.6).
// Best-effort, fire-and-forget: no ack, no persistence, no redelivery.
func (m *Manager) HandleSendMessage(conn *Connection, sock Socket, payload SendMessagePayload) {
	identity := conn.Identity()

	session := m.sessions.Get(payload.SessionID)
	if session == nil {
		emitError(sock, CodeSessionNotFound, "session not found")
		return
	}

	if !m.sessions.IsParticipant(payload.SessionID, identity.UserID) {
		emitError(sock, CodeNotParticipant, "not a session participant")
		return
	}

	m.sessions.UpdateActivity(payload.SessionID, identity.UserID)
	m.peers.UpdateActivity(identity.UserID)

	timestamp := time.Now().UTC().Format(time.RFC3339)

	for _, p := range m.sessions.Participants(payload.SessionID) {
		if p.UserID == identity.UserID {
			continue
		}

		recipientSock := m.sockets.Lookup(p.SocketID)
		if recipientSock == nil {
			continue // best-effort: silently drop, no redelivery (spec.md §4.6).
		}

		_ = recipientSock.Send("MESSAGE_RECEIVED", MessageReceivedPayload{
			SessionID:     payload.SessionID,
			From:          identity.UserID,
			Content:       payload.Content,
			Type:          payload.Type,
			CorrelationID: payload.CorrelationID,
			Timestamp:     timestamp,
		})
	}
}

// HandlePing runs the PING handler (spec.md §4.6). Accepted in any
// non-closed state.
func (m *Manager) HandlePing(conn *Connection, sock Socket) {
	conn.MarkAlive()

	if identity := conn.Identity(); identity != nil && conn.State() == StateRegistered {
		m.peers.UpdateActivity(identity.UserID)
	}

	_ = sock.Send("PONG", PongPayload{Timestamp: time.Now().UnixMilli()})
}

// emitError sends an ERROR frame. Non-fatal: the socket stays open
// (spec.md §7).
func emitError(sock Socket, code, message string) {
	_ = sock.Send("ERROR", ErrorPayload{Code: code, Message: message})
}

// callerProfile and peerFromView are small helpers that look a Peer's
// profile up by user_id for embedding in outgoing frames. They tolerate
// a vanished Peer (race with a concurrent disconnect) by returning a
// zero-value profile rather than failing the whole frame.
func callerProfile(m *Manager, userID string) ProfileView {
	p := m.peers.LookupByUser(userID)
	if p == nil {
		return ProfileView{}
	}

	return ProfileView{DisplayName: p.Profile.DisplayName, Role: string(p.Profile.Role), IDE: p.Profile.IDE}
}

func peerFromView(m *Manager, userID string) FromView {
	return FromView{ID: userID, Profile: callerProfile(m, userID)}
}
