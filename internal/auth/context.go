package auth

import (
	"context"

	"github.com/crosswindhq/crosswind/pkg/models"
)

type identityKey struct{}

// WithIdentity attaches the authenticated caller to the context.
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the authenticated caller, or nil when the request is
// unauthenticated (only possible in dev mode).
func IdentityFrom(ctx context.Context) *models.Identity {
	identity, _ := ctx.Value(identityKey{}).(*models.Identity)
	return identity
}
