package rendezvous

import "context"

// IdentityErrorKind classifies why Verifier.Verify failed (SPEC_FULL.md
// §6).
type IdentityErrorKind uint8

const (
	IdentityErrorUnknown IdentityErrorKind = iota
	IdentityErrorExpired
	IdentityErrorInvalid
	IdentityErrorMissing
	IdentityErrorUnavailable
)

// IdentityError is returned by Verifier.Verify on failure.
type IdentityError struct {
	Kind IdentityErrorKind
	Err  error
}

func (e *IdentityError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "identity verification failed"
}

func (e *IdentityError) Unwrap() error { return e.Err }

// Verifier validates a bearer credential and returns a user identity
// (SPEC_FULL.md §6, "external collaborator interfaces"). Implementations
// may perform network I/O (the only per-event operation, besides
// Resolver.ActiveNetwork, permitted to suspend the calling task —
// spec.md §5).
type Verifier interface {
	Verify(ctx context.Context, token string) (*UserIdentity, *IdentityError)
}

// Resolver maps a user to its active network id (SPEC_FULL.md §6).
// Returning ("", nil) or a non-nil error both result in a null
// network_id: pairing becomes impossible but the connection stays up
// (spec.md §7, "membership-resolver outages degrade silently").
type Resolver interface {
	ActiveNetwork(ctx context.Context, userID string) (networkID string, err error)
}
