package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/podgraph/podgraph-go/internal/store"
)

// SessionClaims are the claims the external identity service puts in a
// session token.
type SessionClaims struct {
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	Role   string `json:"role"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 session tokens minted by the external identity
// service and resolves them against the identity directory. The directory is
// authoritative for mutable state (cooldown); the token is authoritative for
// who the caller is.
type JWTResolver struct {
	secret    []byte
	directory store.IdentityStore
}

// NewJWTResolver creates a resolver with the shared signing secret.
func NewJWTResolver(secret []byte, directory store.IdentityStore) *JWTResolver {
	return &JWTResolver{secret: secret, directory: directory}
}

// Resolve verifies the token and loads the directory row for its DID.
// Directory rows missing for a valid token are created on first sight; the
// registration flow owns the row afterwards.
func (r *JWTResolver) Resolve(ctx context.Context, token string) (*store.Identity, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.DID == "" {
		return nil, ErrInvalidToken
	}

	ident, err := r.directory.GetIdentity(ctx, claims.DID)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// First request after registration: materialize the directory row from
	// the token claims.
	ident = &store.Identity{
		DID:    claims.DID,
		Handle: claims.Handle,
		Role:   claims.Role,
		Tier:   claims.Tier,
	}
	if ident.Role == "" {
		ident.Role = store.RoleMember
	}
	if ident.Tier == "" {
		ident.Tier = store.TierSoft
	}
	if err := r.directory.UpsertIdentity(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// MintSessionToken creates a signed session token. Only the external identity
// service mints tokens in production; this helper exists for dev mode and
// tests.
func MintSessionToken(secret []byte, ident *store.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		DID:    ident.DID,
		Handle: ident.Handle,
		Role:   ident.Role,
		Tier:   ident.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
