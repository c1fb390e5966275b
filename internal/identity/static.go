package identity

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/podgraph/podgraph-go/internal/store"
)

// StaticKey binds a bcrypt-hashed API key to an identity. Used by dev-mode
// deployments that run without the external identity service.
type StaticKey struct {
	KeyHash string `toml:"key_hash" mapstructure:"key_hash"`
	DID     string `toml:"did" mapstructure:"did"`
	Handle  string `toml:"handle" mapstructure:"handle"`
	Email   string `toml:"email" mapstructure:"email"`
	Role    string `toml:"role" mapstructure:"role"`
	Tier    string `toml:"tier" mapstructure:"tier"`
}

// StaticResolver resolves raw API keys against a fixed table of bcrypt
// hashes. Matching is linear over the table; the table is a handful of dev
// entries, never production scale.
type StaticResolver struct {
	keys      []StaticKey
	directory store.IdentityStore
}

// NewStaticResolver creates a resolver and seeds the directory with the
// configured identities so cooldown tracking works for them.
func NewStaticResolver(ctx context.Context, keys []StaticKey, directory store.IdentityStore) (*StaticResolver, error) {
	for _, k := range keys {
		ident := &store.Identity{
			DID:    k.DID,
			Handle: k.Handle,
			Email:  k.Email,
			Role:   k.Role,
			Tier:   k.Tier,
		}
		if ident.Role == "" {
			ident.Role = store.RoleMember
		}
		if ident.Tier == "" {
			ident.Tier = store.TierSoft
		}
		if err := directory.UpsertIdentity(ctx, ident); err != nil {
			return nil, err
		}
	}
	return &StaticResolver{keys: keys, directory: directory}, nil
}

// Resolve compares the token against every configured key hash.
func (r *StaticResolver) Resolve(ctx context.Context, token string) (*store.Identity, error) {
	for _, k := range r.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(token)) == nil {
			return r.directory.GetIdentity(ctx, k.DID)
		}
	}
	return nil, ErrInvalidToken
}

// HashKey bcrypt-hashes a raw API key for inclusion in a config file.
func HashKey(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
