package domain

import "context"

// SessionListener receives the signed-in identity, or nil after sign-out.
type SessionListener func(identity *Identity)

// IdentityProvider verifies credentials and owns the persisted session.
//
// Errors are *errors.ProviderError values carrying one of the provider codes.
// OnSessionChange delivers the current state once the provider has resolved its
// persisted session, then every sign-in, sign-out and claims change in the
// order they happen.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string) (*Identity, error)
	VerifyCredentials(ctx context.Context, email, password string) (*Identity, error)
	EndSession(ctx context.Context) error
	SendResetEmail(ctx context.Context, email string) error
	SetDisplayName(ctx context.Context, identity *Identity, name string) error
	OnSessionChange(listener SessionListener) (unsubscribe func())
	CurrentIdentity() *Identity
}
