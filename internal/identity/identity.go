// Package identity resolves session tokens into trusted identities. Session
// issuance and verification live in an external identity service; this
// package only validates what that service minted and loads the directory row
// so cooldown state is current.
package identity

import (
	"context"
	"errors"

	"github.com/podgraph/podgraph-go/internal/store"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrUnknownIdentity is returned when a verified token references a DID
	// absent from the directory.
	ErrUnknownIdentity = errors.New("unknown identity")
)

// Resolver turns a bearer token into a trusted identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*store.Identity, error)
}

type contextKey struct{}

// WithIdentity returns a context carrying the resolved identity.
func WithIdentity(ctx context.Context, ident *store.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, ident)
}

// FromContext returns the identity attached to the context, or nil.
func FromContext(ctx context.Context) *store.Identity {
	ident, _ := ctx.Value(contextKey{}).(*store.Identity)
	return ident
}
