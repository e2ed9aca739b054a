package rendezvous

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionRegistry holds active pairwise sessions and their participant
// membership (SPEC_FULL.md §4.4). Always exactly two participants in
// this core.
//
// Grounded on internal/bfd/manager.go's registry shape, generalized
// from a single-key map to the participant-map-per-session structure
// spec.md's data model requires.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	peers    *PeerRegistry
	logger   *slog.Logger
}

// NewSessionRegistry creates an empty SessionRegistry bound to the given
// PeerRegistry (sessions write session_ids into Peer records through it).
func NewSessionRegistry(peers *PeerRegistry, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		peers:    peers,
		logger:   logger.With(slog.String("component", "rendezvous.session_registry")),
	}
}

// CreateForPair creates a new Session with userA as host (the original
// requester). Writes the new session_id into both Peers' session_ids via
// the peer registry.
func (r *SessionRegistry) CreateForPair(userA, socketA, userB, socketB string) *Session {
	r.mu.Lock()

	now := time.Now()
	sessionID := "ses_" + uuid.NewString()

	s := &Session{
		SessionID:  sessionID,
		HostUserID: userA,
		Participants: map[string]*Participant{
			userA: {UserID: userA, SocketID: socketA, RoleTag: RoleHost, JoinedAt: now, LastActivityAt: now},
			userB: {UserID: userB, SocketID: socketB, RoleTag: RoleGuest, JoinedAt: now, LastActivityAt: now},
		},
		Status:         SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.sessions[sessionID] = s
	r.mu.Unlock()

	r.peers.AddSession(userA, sessionID)
	r.peers.AddSession(userB, sessionID)

	r.logger.Debug("session created",
		slog.String("session_id", sessionID),
		slog.String("host", userA),
		slog.String("guest", userB),
	)

	return s
}

// Get returns the Session, or nil if absent.
func (r *SessionRegistry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[sessionID]
}

// IsParticipant reports whether userID participates in sessionID.
func (r *SessionRegistry) IsParticipant(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}

	_, ok = s.Participants[userID]
	return ok
}

// Participants returns a defensive copy of the session's participants.
func (r *SessionRegistry) Participants(sessionID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}

	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, *p)
	}

	return out
}

// UpdateActivity stamps the session's and the participant's
// last_activity_at to now.
func (r *SessionRegistry) UpdateActivity(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	now := time.Now()
	s.LastActivityAt = now
	if p, ok := s.Participants[userID]; ok {
		p.LastActivityAt = now
	}
}

// RemoveParticipant removes userID from sessionID. If the departing user
// is the host, or the session becomes empty, the session is ended
// (destroyed) and true is returned alongside the final participant list
// (for broadcasting consequences to the remaining party, if any).
func (r *SessionRegistry) RemoveParticipant(sessionID, userID string) (ended bool, remaining []Participant) {
	r.mu.Lock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}

	isHost := s.HostUserID == userID
	delete(s.Participants, userID)

	if isHost || len(s.Participants) == 0 {
		for _, p := range s.Participants {
			remaining = append(remaining, *p)
		}
		s.Status = SessionEnded
		delete(r.sessions, sessionID)
		ended = true
	}

	r.mu.Unlock()

	r.peers.RemoveSession(userID, sessionID)
	for _, p := range remaining {
		r.peers.RemoveSession(p.UserID, sessionID)
	}

	return ended, remaining
}

// End unconditionally ends sessionID: marks it ended, removes it from
// every remaining peer's session list, and deletes the session record.
func (r *SessionRegistry) End(sessionID string) {
	r.mu.Lock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	s.Status = SessionEnded
	var userIDs []string
	for uid := range s.Participants {
		userIDs = append(userIDs, uid)
	}
	delete(r.sessions, sessionID)

	r.mu.Unlock()

	for _, uid := range userIDs {
		r.peers.RemoveSession(uid, sessionID)
	}
}

// HandleUserDisconnect calls RemoveParticipant for every session userID
// participates in. Returns, per session ended, the remaining
// participants (for broadcast by the caller). ConnectionRequest cleanup
// is handled separately by the RequestRegistry.
func (r *SessionRegistry) HandleUserDisconnect(userID string) map[string][]Participant {
	r.mu.RLock()
	var sessionIDs []string
	for id, s := range r.sessions {
		if _, ok := s.Participants[userID]; ok {
			sessionIDs = append(sessionIDs, id)
		}
	}
	r.mu.RUnlock()

	result := make(map[string][]Participant)
	for _, id := range sessionIDs {
		ended, remaining := r.RemoveParticipant(id, userID)
		if ended {
			result[id] = remaining
		}
	}

	return result
}

// Count returns the number of active sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Snapshot returns a defensive copy of every active session, for admin
// introspection.
func (r *SessionRegistry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		cp.Participants = make(map[string]*Participant, len(s.Participants))
		for k, v := range s.Participants {
			pc := *v
			cp.Participants[k] = &pc
		}
		out = append(out, cp)
	}

	return out
}
