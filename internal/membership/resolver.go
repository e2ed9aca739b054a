// Package membership implements rendezvous.Resolver against an HTTP
// membership service that knows which network (organization, team, or
// workspace) a user currently belongs to. Outages degrade silently to a
// null network id (spec.md §7) rather than surfacing an error to the
// caller's caller.
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// ErrMembershipUnavailable wraps a non-retryable or budget-exhausted
// lookup failure.
var ErrMembershipUnavailable = errors.New("membership service unavailable")

// HTTPResolver is a rendezvous.Resolver backed by a REST membership
// service. Grounded on malbeclabs-doublezero's direct dependency on
// cenkalti/backoff/v4 for retrying flaky upstream calls: a short
// exponential backoff wraps the single HTTP round trip, capped so a
// degraded membership service cannot stall AUTH indefinitely.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
	logger     *slog.Logger
}

var _ rendezvous.Resolver = (*HTTPResolver)(nil)

// Option configures an HTTPResolver.
type Option func(*HTTPResolver)

// WithHTTPClient overrides the default http.Client (e.g. for timeouts
// or transport-level instrumentation).
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPResolver) { r.httpClient = c }
}

// WithMaxElapsed bounds the total retry budget. Default is 3s.
func WithMaxElapsed(d time.Duration) Option {
	return func(r *HTTPResolver) { r.maxElapsed = d }
}

// NewHTTPResolver creates an HTTPResolver against baseURL, expected to
// expose `GET {baseURL}/users/{userID}/active-network`.
func NewHTTPResolver(baseURL string, logger *slog.Logger, opts ...Option) *HTTPResolver {
	r := &HTTPResolver{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		maxElapsed: 3 * time.Second,
		logger:     logger.With(slog.String("component", "membership.resolver")),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type activeNetworkResponse struct {
	NetworkID string `json:"network_id"`
}

// ActiveNetwork implements rendezvous.Resolver.
func (r *HTTPResolver) ActiveNetwork(ctx context.Context, userID string) (string, error) {
	endpoint := r.baseURL + "/users/" + url.PathEscape(userID) + "/active-network"

	var networkID string

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(1*time.Second),
		backoff.WithMaxElapsedTime(r.maxElapsed),
	)
	policy := backoff.WithContext(b, ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err) // retryable: network-level failure.
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(nil) // user has no active network; not an error.
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("membership service returned %d", resp.StatusCode) // retryable.
		}

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("membership service returned %d", resp.StatusCode))
		}

		var body activeNetworkResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}

		networkID = body.NetworkID
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		r.logger.Warn("active network lookup failed, degrading to null network",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", ErrMembershipUnavailable, err)
	}

	return networkID, nil
}
