// Package policy implements the cooldown/quota admission-control decisions
// for invite creation. All functions are pure: they take the current state as
// arguments and never touch storage, so deployments can swap quota tables
// without touching the lifecycle service.
package policy

import (
	"time"

	"github.com/podgraph/podgraph-go/internal/platform/cfgmap"
	"github.com/podgraph/podgraph-go/internal/store"
)

// Unlimited marks a role with no simple-invite quota.
const Unlimited = -1

// Quotas maps roles to the maximum number of unconsumed simple invites an
// identity of that role may have outstanding. Unknown roles fall back to
// DefaultLimit.
type Quotas struct {
	Limits       map[string]int `mapstructure:"limits"`
	DefaultLimit int            `mapstructure:"default_limit"`
}

// DefaultQuotas returns the stock role quota table.
func DefaultQuotas() Quotas {
	return Quotas{
		Limits: map[string]int{
			store.RoleAdmin:     Unlimited,
			store.RoleLegendary: 10,
			store.RoleTrusted:   5,
			store.RoleMember:    3,
			store.RoleNewbie:    1,
		},
		DefaultLimit: 3,
	}
}

// QuotasFromMap decodes a quota table from a raw config map, filling any
// role not mentioned from the default table.
func QuotasFromMap(raw map[string]any) (Quotas, error) {
	q := DefaultQuotas()
	if raw == nil {
		return q, nil
	}
	var override Quotas
	if err := cfgmap.Decode(raw, &override); err != nil {
		return Quotas{}, err
	}
	for role, limit := range override.Limits {
		q.Limits[role] = limit
	}
	if override.DefaultLimit != 0 {
		q.DefaultLimit = override.DefaultLimit
	}
	return q, nil
}

// LimitFor returns the quota limit for the given role.
func (q Quotas) LimitFor(role string) int {
	if limit, ok := q.Limits[role]; ok {
		return limit
	}
	return q.DefaultLimit
}

// Decision is the outcome of a simple-invite quota check.
type Decision struct {
	Allowed   bool
	Limit     int // Unlimited for unmetered roles
	Pending   int
	Remaining int // Unlimited for unmetered roles
}

// CanSendSimpleInvite decides whether an identity with the given role and
// count of outstanding unconsumed invites may create another one.
func CanSendSimpleInvite(q Quotas, role string, pending int) Decision {
	limit := q.LimitFor(role)
	if limit == Unlimited {
		return Decision{Allowed: true, Limit: Unlimited, Pending: pending, Remaining: Unlimited}
	}
	remaining := limit - pending
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   pending < limit,
		Limit:     limit,
		Pending:   pending,
		Remaining: remaining,
	}
}

// Graph-invite deny reasons.
type GraphDenyReason string

const (
	DenyNone          GraphDenyReason = ""
	DenyTier          GraphDenyReason = "tier"
	DenyNotInGraph    GraphDenyReason = "not_in_graph"
	DenyCooldown      GraphDenyReason = "cooldown"
	DenyPendingExists GraphDenyReason = "pending_exists"
)

// GraphDecision is the outcome of a graph-invite eligibility check.
type GraphDecision struct {
	Allowed bool
	Reason  GraphDenyReason
	// RetryAt is set for cooldown denials: the moment the gate reopens.
	RetryAt *time.Time
}

// CanSendGraphInvite decides whether the identity may originate a trust-graph
// invite at now. The caller supplies the two stored facts the policy cannot
// derive itself: graph membership and whether a pending invite already exists.
func CanSendGraphInvite(ident *store.Identity, inGraph, hasPending bool, now time.Time) GraphDecision {
	if ident.Tier != store.TierHard {
		return GraphDecision{Reason: DenyTier}
	}
	if !inGraph {
		return GraphDecision{Reason: DenyNotInGraph}
	}
	if ident.OnCooldown(now) {
		retryAt := *ident.CooldownUntil
		return GraphDecision{Reason: DenyCooldown, RetryAt: &retryAt}
	}
	if hasPending {
		return GraphDecision{Reason: DenyPendingExists}
	}
	return GraphDecision{Allowed: true}
}
