package policy_test

import (
	"testing"
	"time"

	"github.com/podgraph/podgraph-go/internal/policy"
	"github.com/podgraph/podgraph-go/internal/store"
)

func TestCanSendSimpleInvite(t *testing.T) {
	q := policy.DefaultQuotas()

	tests := []struct {
		name    string
		role    string
		pending int
		allowed bool
		limit   int
	}{
		{"member under quota", store.RoleMember, 2, true, 3},
		{"member at quota", store.RoleMember, 3, false, 3},
		{"newbie at quota", store.RoleNewbie, 1, false, 1},
		{"newbie fresh", store.RoleNewbie, 0, true, 1},
		{"trusted under quota", store.RoleTrusted, 4, true, 5},
		{"legendary at quota", store.RoleLegendary, 10, false, 10},
		{"admin unlimited", store.RoleAdmin, 5000, true, policy.Unlimited},
		{"unknown role gets member limit", "wizard", 3, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.CanSendSimpleInvite(q, tt.role, tt.pending)
			if d.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.allowed)
			}
			if d.Limit != tt.limit {
				t.Errorf("Limit = %d, want %d", d.Limit, tt.limit)
			}
			if d.Pending != tt.pending {
				t.Errorf("Pending = %d, want %d", d.Pending, tt.pending)
			}
		})
	}
}

func TestCanSendSimpleInviteRemaining(t *testing.T) {
	q := policy.DefaultQuotas()

	d := policy.CanSendSimpleInvite(q, store.RoleMember, 1)
	if d.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", d.Remaining)
	}
	d = policy.CanSendSimpleInvite(q, store.RoleMember, 3)
	if d.Remaining != 0 {
		t.Errorf("Remaining at quota = %d, want 0", d.Remaining)
	}
}

func TestQuotasFromMap(t *testing.T) {
	q, err := policy.QuotasFromMap(map[string]any{
		"limits":        map[string]any{"member": 7, "vip": 20},
		"default_limit": 2,
	})
	if err != nil {
		t.Fatalf("QuotasFromMap: %v", err)
	}
	if got := q.LimitFor(store.RoleMember); got != 7 {
		t.Errorf("member limit = %d, want 7", got)
	}
	if got := q.LimitFor("vip"); got != 20 {
		t.Errorf("vip limit = %d, want 20", got)
	}
	// Roles not overridden keep their stock limits.
	if got := q.LimitFor(store.RoleNewbie); got != 1 {
		t.Errorf("newbie limit = %d, want 1", got)
	}
	if got := q.LimitFor("stranger"); got != 2 {
		t.Errorf("unknown role limit = %d, want 2", got)
	}

	q, err = policy.QuotasFromMap(nil)
	if err != nil {
		t.Fatalf("QuotasFromMap(nil): %v", err)
	}
	if got := q.LimitFor(store.RoleMember); got != 3 {
		t.Errorf("nil map member limit = %d, want 3", got)
	}
}

func graphIdent(tier string, cooldown *time.Time) *store.Identity {
	return &store.Identity{
		DID:           "did:tester",
		Role:          store.RoleMember,
		Tier:          tier,
		CooldownUntil: cooldown,
	}
}

func TestCanSendGraphInvite(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name       string
		ident      *store.Identity
		inGraph    bool
		hasPending bool
		allowed    bool
		reason     policy.GraphDenyReason
	}{
		{"allowed", graphIdent(store.TierHard, nil), true, false, true, policy.DenyNone},
		{"soft tier", graphIdent(store.TierSoft, nil), true, false, false, policy.DenyTier},
		{"not in graph", graphIdent(store.TierHard, nil), false, false, false, policy.DenyNotInGraph},
		{"on cooldown", graphIdent(store.TierHard, &future), true, false, false, policy.DenyCooldown},
		{"cooldown elapsed", graphIdent(store.TierHard, &past), true, false, true, policy.DenyNone},
		{"pending exists", graphIdent(store.TierHard, nil), true, true, false, policy.DenyPendingExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.CanSendGraphInvite(tt.ident, tt.inGraph, tt.hasPending, now)
			if d.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.allowed)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestCooldownDenialCarriesRetryAt(t *testing.T) {
	until := time.Now().Add(3 * 24 * time.Hour)
	d := policy.CanSendGraphInvite(graphIdent(store.TierHard, &until), true, false, time.Now())
	if d.RetryAt == nil {
		t.Fatal("RetryAt not set on cooldown denial")
	}
	if !d.RetryAt.Equal(until) {
		t.Errorf("RetryAt = %v, want %v", d.RetryAt, until)
	}
}
