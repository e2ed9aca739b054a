package rendezvous

import (
	"log/slog"
	"sync"
	"time"
)

// PeerRegistry is the in-memory mapping of user <-> live connection,
// profile, network, and IP-hash (SPEC_FULL.md §4.3). It maintains a
// primary user_id -> Peer map and a secondary socket_id -> user_id
// cross-reference, updated atomically per operation under a single
// RWMutex.
//
// Grounded on internal/bfd/manager.go's dual-map registry shape
// (sessions / sessionsByPeer).
type PeerRegistry struct {
	mu           sync.RWMutex
	byUser       map[string]*Peer
	userBySocket map[string]string
	order        []string // user_ids in registration order, for broadcast ordering
	logger       *slog.Logger
}

// NewPeerRegistry creates an empty PeerRegistry.
func NewPeerRegistry(logger *slog.Logger) *PeerRegistry {
	return &PeerRegistry{
		byUser:       make(map[string]*Peer),
		userBySocket: make(map[string]string),
		logger:       logger.With(slog.String("component", "rendezvous.peer_registry")),
	}
}

// Register installs a Peer for user_id. If a prior Peer exists for
// user_id, its socket mapping is removed and its session list is
// preserved into the new record (SPEC_FULL.md §4.3: this is a
// defensive fallback — the supersession path normally removes the
// prior record first via UnregisterByUser).
func (r *PeerRegistry) Register(userID string, profile Profile, socketID, ipHash, networkID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var preservedSessions []string
	_, existed := r.byUser[userID]
	if prior, ok := r.byUser[userID]; ok {
		delete(r.userBySocket, prior.SocketID)
		preservedSessions = prior.SessionIDs
	}
	if !existed {
		r.order = append(r.order, userID)
	}

	now := time.Now()
	p := &Peer{
		UserID:         userID,
		SocketID:       socketID,
		Profile:        profile,
		Status:         StatusOnline,
		SessionIDs:     preservedSessions,
		IPHash:         ipHash,
		NetworkID:      networkID,
		ConnectedAt:    now,
		LastActivityAt: now,
	}

	r.byUser[userID] = p
	r.userBySocket[socketID] = userID

	r.logger.Debug("peer registered", slog.String("user_id", userID), slog.String("socket_id", socketID))

	return p
}

// UnregisterByUser removes the Peer for user_id, if any, and its socket
// cross-reference.
func (r *PeerRegistry) UnregisterByUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byUser[userID]
	if !ok {
		return
	}

	delete(r.byUser, userID)
	delete(r.userBySocket, p.SocketID)
	r.removeFromOrder(userID)
}

// UnregisterBySocket removes the Peer owning socketID, if any.
func (r *PeerRegistry) UnregisterBySocket(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.userBySocket[socketID]
	if !ok {
		return
	}

	delete(r.userBySocket, socketID)
	delete(r.byUser, userID)
	r.removeFromOrder(userID)
}

// removeFromOrder drops userID from the insertion-order slice. Callers
// must hold r.mu for writing.
func (r *PeerRegistry) removeFromOrder(userID string) {
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// LookupByUser returns the Peer for user_id, or nil if absent. The
// returned pointer must be treated as read-only by callers outside the
// registry's own lock.
func (r *PeerRegistry) LookupByUser(userID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byUser[userID]
}

// LookupBySocket returns the Peer owning socketID, or nil if absent.
func (r *PeerRegistry) LookupBySocket(socketID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.userBySocket[socketID]
	if !ok {
		return nil
	}

	return r.byUser[userID]
}

// UpdateStatus sets the Peer's status field. No-op if the Peer is gone.
func (r *PeerRegistry) UpdateStatus(userID string, status PeerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byUser[userID]; ok {
		p.Status = status
	}
}

// UpdateActivity stamps last_activity_at to now. No-op if the Peer is
// gone.
func (r *PeerRegistry) UpdateActivity(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byUser[userID]; ok {
		p.LastActivityAt = time.Now()
	}
}

// AddSession inserts sessionID into the Peer's session list. Idempotent:
// a repeated insert is a no-op (R2).
func (r *PeerRegistry) AddSession(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byUser[userID]
	if !ok {
		return
	}

	for _, id := range p.SessionIDs {
		if id == sessionID {
			return
		}
	}

	p.SessionIDs = append(p.SessionIDs, sessionID)
}

// RemoveSession removes sessionID from the Peer's session list, if
// present.
func (r *PeerRegistry) RemoveSession(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byUser[userID]
	if !ok {
		return
	}

	out := p.SessionIDs[:0]
	for _, id := range p.SessionIDs {
		if id != sessionID {
			out = append(out, id)
		}
	}
	p.SessionIDs = out
}

// OnlineInNetwork returns every online Peer whose network_id equals
// networkID, in peer-registry insertion order (spec.md §5, ordering
// guarantee (a)/broadcast engine). A null (empty-string) networkID
// never matches — callers must treat that as "discovery disabled"
// before calling, per SPEC_FULL.md §4.3.
func (r *PeerRegistry) OnlineInNetwork(networkID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if networkID == "" {
		return nil
	}

	var out []*Peer
	for _, userID := range r.order {
		p := r.byUser[userID]
		if p != nil && p.Status == StatusOnline && p.NetworkID == networkID {
			out = append(out, p)
		}
	}

	return out
}

// AllOnlineExcept returns every online Peer other than exceptUserID, in
// peer-registry insertion order. Used by the PEER_REGISTER and
// disconnect broadcasts (spec.md §4.6/§4.9), which are not
// network-scoped: presence broadcasts reach every online peer, while
// discovery and pairing (OnlineInNetwork, CONNECTION_REQUEST) remain
// strictly network-scoped.
func (r *PeerRegistry) AllOnlineExcept(exceptUserID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Peer
	for _, userID := range r.order {
		if userID == exceptUserID {
			continue
		}
		p := r.byUser[userID]
		if p != nil && p.Status == StatusOnline {
			out = append(out, p)
		}
	}

	return out
}

// SameLAN reports whether both users have a non-empty, equal IP hash.
func (r *PeerRegistry) SameLAN(userA, userB string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byUser[userA]
	if !ok || a.IPHash == "" {
		return false
	}

	b, ok := r.byUser[userB]
	if !ok || b.IPHash == "" {
		return false
	}

	return a.IPHash == b.IPHash
}

// Snapshot returns a defensive copy of every Peer currently registered,
// for admin introspection. No lock is held during serialization by the
// caller.
func (r *PeerRegistry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.byUser))
	for _, p := range r.byUser {
		out = append(out, *p)
	}

	return out
}

// Count returns the number of registered peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}
