// Package identity implements rendezvous.Verifier against bearer JWTs
// (SPEC_FULL.md §4.1/§6). Verification is a pure check: parse, validate
// signature and standard claims, map to a UserIdentity. It performs no
// I/O and holds no session state of its own.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// claims is the expected shape of the token's payload. RegisteredClaims
// supplies exp/iat/nbf/iss validation; the rendezvous-specific fields
// are flattened alongside them the way a typical SSO-issued access
// token carries them.
type claims struct {
	jwt.RegisteredClaims

	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Provider    string   `json:"provider"`
	Roles       []string `json:"roles"`
}

// JWTVerifier is a rendezvous.Verifier backed by a static or rotating
// HMAC/RSA key set. Grounded on internal/bfd/auth.go's AuthKeyStore
// shape (multiple keys active at once, looked up by id, to support
// hitless rotation) generalized from a per-ID byte secret to a JWT key
// function.
type JWTVerifier struct {
	keyFunc        jwt.Keyfunc
	expectedIssuer string
	clockSkew      time.Duration
	logger         *slog.Logger
}

// Option configures a JWTVerifier.
type Option func(*JWTVerifier)

// WithExpectedIssuer rejects tokens whose iss claim does not match.
func WithExpectedIssuer(issuer string) Option {
	return func(v *JWTVerifier) { v.expectedIssuer = issuer }
}

// WithClockSkew tolerates clock drift of up to skew when validating
// exp/nbf. Default is 0.
func WithClockSkew(skew time.Duration) Option {
	return func(v *JWTVerifier) { v.clockSkew = skew }
}

// NewJWTVerifier creates a JWTVerifier. keyFunc resolves the signing
// key for a parsed token, typically by its `kid` header, allowing
// multiple active keys for rotation (the AuthKeyStore idiom above).
func NewJWTVerifier(keyFunc jwt.Keyfunc, logger *slog.Logger, opts ...Option) *JWTVerifier {
	v := &JWTVerifier{
		keyFunc: keyFunc,
		logger:  logger.With(slog.String("component", "identity.verifier")),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

var _ rendezvous.Verifier = (*JWTVerifier)(nil)

// Verify implements rendezvous.Verifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*rendezvous.UserIdentity, *rendezvous.IdentityError) {
	if token == "" {
		return nil, &rendezvous.IdentityError{Kind: rendezvous.IdentityErrorMissing, Err: errors.New("token missing")}
	}

	parserOpts := []jwt.ParserOption{jwt.WithLeeway(v.clockSkew)}
	if v.expectedIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.expectedIssuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, v.keyFunc, parserOpts...)
	if err != nil {
		return nil, &rendezvous.IdentityError{Kind: classify(err), Err: fmt.Errorf("parse token: %w", err)}
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, &rendezvous.IdentityError{Kind: rendezvous.IdentityErrorInvalid, Err: errors.New("token claims malformed")}
	}

	userID := c.Subject
	if userID == "" {
		return nil, &rendezvous.IdentityError{Kind: rendezvous.IdentityErrorInvalid, Err: errors.New("token missing subject")}
	}

	return &rendezvous.UserIdentity{
		UserID:      userID,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		ProviderTag: c.Provider,
		Roles:       c.Roles,
	}, nil
}

// classify maps a jwt/v5 parse error to the coarser IdentityErrorKind
// the Manager uses to pick between ERR_1002 (invalid) and ERR_1003
// (expired).
func classify(err error) rendezvous.IdentityErrorKind {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return rendezvous.IdentityErrorExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenMalformed):
		return rendezvous.IdentityErrorInvalid
	default:
		return rendezvous.IdentityErrorInvalid
	}
}
