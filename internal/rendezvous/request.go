package rendezvous

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// requestTTL is the lifetime of a ConnectionRequest (spec.md §3, I5).
const requestTTL = 30 * time.Second

// RequestRegistry holds short-lived pending ConnectionRequests with a
// 30s TTL (SPEC_FULL.md §4.5). Built on ttlcache/v3 rather than a
// hand-rolled expiry map plus sweep goroutine; see DESIGN.md for the
// grounding (malbeclabs-doublezero's direct dependency on the same
// library).
type RequestRegistry struct {
	cache  *ttlcache.Cache[string, *ConnectionRequest]
	logger *slog.Logger
}

// NewRequestRegistry creates a RequestRegistry and starts its internal
// eviction loop. Call Close to stop the loop on shutdown.
func NewRequestRegistry(logger *slog.Logger) *RequestRegistry {
	cache := ttlcache.New[string, *ConnectionRequest](
		ttlcache.WithTTL[string, *ConnectionRequest](requestTTL),
		// A Get must not extend the 30s lifetime.
		ttlcache.WithDisableTouchOnHit[string, *ConnectionRequest](),
	)

	r := &RequestRegistry{
		cache:  cache,
		logger: logger.With(slog.String("component", "rendezvous.request_registry")),
	}

	go cache.Start()

	return r
}

// Create allocates a unique opaque request id, stamps created_at, and
// stores the request with a fresh TTL. The identifier format is
// `req_<base36-timestamp>_<random-suffix>` per SPEC_FULL.md §6.
func (r *RequestRegistry) Create(from, to string) string {
	now := time.Now()
	requestID := formatRequestID(now)

	req := &ConnectionRequest{
		RequestID:  requestID,
		FromUserID: from,
		ToUserID:   to,
		CreatedAt:  now,
	}

	r.cache.Set(requestID, req, requestTTL)

	return requestID
}

// Get returns the request, or nil if absent or expired. ttlcache's
// internal loop (started in NewRequestRegistry) evicts each entry at its
// exact expiry time; a Get also treats an expired-but-not-yet-swept
// entry as a miss, so I5 holds regardless of sweep timing.
func (r *RequestRegistry) Get(requestID string) *ConnectionRequest {
	item := r.cache.Get(requestID)
	if item == nil {
		return nil
	}

	return item.Value()
}

// Remove deletes the request unconditionally.
func (r *RequestRegistry) Remove(requestID string) {
	r.cache.Delete(requestID)
}

// PurgeForUser removes every pending request whose from_user_id or
// to_user_id equals userID (spec.md §4.4, handle_user_disconnect).
func (r *RequestRegistry) PurgeForUser(userID string) {
	var toDelete []string
	r.cache.Range(func(item *ttlcache.Item[string, *ConnectionRequest]) bool {
		req := item.Value()
		if req.FromUserID == userID || req.ToUserID == userID {
			toDelete = append(toDelete, item.Key())
		}
		return true
	})

	for _, id := range toDelete {
		r.cache.Delete(id)
	}
}

// Count returns the number of live (non-expired) pending requests.
func (r *RequestRegistry) Count() int {
	return r.cache.Len()
}

// Close stops the internal eviction loop.
func (r *RequestRegistry) Close() {
	r.cache.Stop()
}

// formatRequestID builds a req_<base36-timestamp>_<random-suffix> id.
func formatRequestID(t time.Time) string {
	ts := formatBase36(t.UnixNano())
	suffix := uuid.NewString()[:8]
	return "req_" + ts + "_" + suffix
}

const base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"

// formatBase36 renders n in base36, matching the compact timestamp
// encoding SPEC_FULL.md §6 specifies for request ids.
func formatBase36(n int64) string {
	if n == 0 {
		return "0"
	}

	buf := make([]byte, 0, 16)
	neg := n < 0
	if neg {
		n = -n
	}

	for n > 0 {
		buf = append(buf, base36Digits[n%36])
		n /= 36
	}

	if neg {
		buf = append(buf, '-')
	}

	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf)
}
