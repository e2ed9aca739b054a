package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyNotFound indicates the token's `kid` header names a key that is
// not configured.
var ErrKeyNotFound = fmt.Errorf("auth key not found")

// ErrUnexpectedSigningMethod indicates the token's algorithm does not
// match HMAC, the only family this keystore issues.
var ErrUnexpectedSigningMethod = fmt.Errorf("unexpected signing method")

// HMACKeyStore holds multiple active HMAC secrets keyed by id, the same
// hitless-rotation shape as internal/bfd/auth.go's AuthKeyStore
// (multiple keys active at once, looked up by id) generalized from
// byte-secret digests to JWT signing keys.
type HMACKeyStore struct {
	keys map[string][]byte
}

// NewHMACKeyStore builds a keystore from a kid->secret map.
func NewHMACKeyStore(keys map[string][]byte) *HMACKeyStore {
	copied := make(map[string][]byte, len(keys))
	for kid, secret := range keys {
		copied[kid] = secret
	}

	return &HMACKeyStore{keys: copied}
}

// Keyfunc returns a jwt.Keyfunc that looks up the signing secret by the
// token's `kid` header, rejecting any non-HMAC algorithm.
func (s *HMACKeyStore) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedSigningMethod, token.Method.Alg())
		}

		kid, _ := token.Header["kid"].(string)

		secret, ok := s.lookup(kid)
		if !ok {
			return nil, fmt.Errorf("%w: kid=%q", ErrKeyNotFound, kid)
		}

		return secret, nil
	}
}

func (s *HMACKeyStore) lookup(kid string) ([]byte, bool) {
	if secret, ok := s.keys[kid]; ok {
		return secret, true
	}

	// A single-key deployment need not set `kid` at all; fall back to
	// the sole configured key, matching AuthKeyStore.CurrentKey's
	// single-key-deployment convenience.
	// A token that names an unconfigured kid is still rejected.
	if kid == "" && len(s.keys) == 1 {
		for _, secret := range s.keys {
			return secret, true
		}
	}

	return nil, false
}
