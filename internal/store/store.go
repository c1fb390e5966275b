// Package store provides persistence primitives and driver abstractions for
// the trust graph: identities, invites, pods and pod memberships.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrExhausted         = errors.New("invite exhausted")
	ErrLimitReached      = errors.New("unconsumed invite limit reached")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateMember   = errors.New("duplicate pod member")
	ErrClosed            = errors.New("store closed")
)

// Identity tiers. Soft identities are lightweight registrations; hard
// identities are verified and may originate trust-graph invites.
const (
	TierSoft = "soft"
	TierHard = "hard"
)

// Identity roles known to the quota policy. Unknown roles fall back to the
// member quota.
const (
	RoleAdmin     = "admin"
	RoleLegendary = "legendary"
	RoleTrusted   = "trusted"
	RoleMember    = "member"
	RoleNewbie    = "newbie"
)

// GraphInviteStatus is the lifecycle status of a trust-graph invite.
type GraphInviteStatus string

const (
	GraphInvitePending  GraphInviteStatus = "pending"
	GraphInviteAccepted GraphInviteStatus = "accepted"
	GraphInviteRevoked  GraphInviteStatus = "revoked"
	GraphInviteExpired  GraphInviteStatus = "expired"
)

// Terminal reports whether s is a terminal status. Pending is the only
// non-terminal status; accepted, revoked and expired never transition again.
func (s GraphInviteStatus) Terminal() bool {
	return s != GraphInvitePending
}

// Identity is a participant in the trust graph. Rows are created by the
// external registration flow (via UpsertIdentity); this service only mutates
// CooldownUntil.
type Identity struct {
	DID           string     `json:"did" gorm:"primaryKey;column:did"`
	Handle        string     `json:"handle,omitempty"`
	Email         string     `json:"email,omitempty" gorm:"index"`
	Role          string     `json:"role"`
	Tier          string     `json:"tier"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Label returns the human-facing name for the identity: the handle when set,
// otherwise the raw DID.
func (i *Identity) Label() string {
	if i.Handle != "" {
		return i.Handle
	}
	return i.DID
}

// OnCooldown reports whether the identity's invite cooldown is active at now.
func (i *Identity) OnCooldown(now time.Time) bool {
	return i.CooldownUntil != nil && i.CooldownUntil.After(now)
}

// Pod is a named membership group. A pod with exactly two active members is a
// connection, the bilateral trust relationship this service manages.
type Pod struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	OwnerDID   string    `json:"ownerDid" gorm:"index;column:owner_did"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Pod types and visibilities used by connection pods.
const (
	PodTypeConnection = "connection"
	VisibilityPrivate = "private"
)

// PodMembership is an edge in the trust graph. RemovedAt is a soft-delete
// marker: nil means the membership is active.
type PodMembership struct {
	ID        uint       `json:"-" gorm:"primaryKey;autoIncrement"`
	PodID     string     `json:"podId" gorm:"index;column:pod_id"`
	DID       string     `json:"did" gorm:"index;column:did"`
	Role      string     `json:"role"`
	AddedBy   string     `json:"addedBy" gorm:"column:added_by"`
	CreatedAt time.Time  `json:"createdAt"`
	RemovedAt *time.Time `json:"removedAt,omitempty"`
}

// Membership roles within a pod.
const (
	MemberRoleOwner  = "owner"
	MemberRoleMember = "member"
)

// Active reports whether the membership edge is live.
func (m *PodMembership) Active() bool { return m.RemovedAt == nil }

// SimpleInvite is a shareable, capacity-limited invite code. It has no
// explicit status: it is open while UsedCount < MaxUses and exhausted after.
type SimpleInvite struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	Code       string     `json:"code" gorm:"uniqueIndex"`
	FromDID    string     `json:"fromDid" gorm:"index;column:from_did"`
	MaxUses    int        `json:"maxUses"`
	UsedCount  int        `json:"usedCount"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	ConsumedBy string     `json:"consumedBy,omitempty" gorm:"column:consumed_by"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Exhausted reports whether the invite has no uses left.
func (i *SimpleInvite) Exhausted() bool { return i.UsedCount >= i.MaxUses }

// GraphInvite is a single-target, time-boxed trust-graph invite. Exactly one
// of InviteeDID and InviteeEmail addresses the target.
type GraphInvite struct {
	ID           string            `json:"id" gorm:"primaryKey"`
	InviterDID   string            `json:"inviterDid" gorm:"index;column:inviter_did"`
	InviteeDID   string            `json:"inviteeDid,omitempty" gorm:"index;column:invitee_did"`
	InviteeEmail string            `json:"inviteeEmail,omitempty" gorm:"index"`
	Status       GraphInviteStatus `json:"status" gorm:"index"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	AcceptedAt   *time.Time        `json:"acceptedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Due reports whether a pending invite should be lazily expired at now.
func (i *GraphInvite) Due(now time.Time) bool {
	return i.Status == GraphInvitePending && i.ExpiresAt.Before(now)
}

// InviteStore defines atomic operations over both invite flavors.
// Implementations must not expose read-then-write gaps: consume and
// transition are single conditional writes.
type InviteStore interface {
	// Simple invites.
	// CreateSimpleInvite counts the creator's unconsumed invites and inserts
	// in one atomic step: the insert happens only while the count is below
	// limit, otherwise ErrLimitReached. A negative limit disables the gate.
	CreateSimpleInvite(ctx context.Context, inv *SimpleInvite, limit int) error
	GetSimpleInvite(ctx context.Context, code string) (*SimpleInvite, error)
	ListSimpleInvites(ctx context.Context, fromDID string) ([]*SimpleInvite, error)
	// CountPendingSimpleInvites counts unconsumed invites from the given
	// identity (ConsumedAt is nil).
	CountPendingSimpleInvites(ctx context.Context, fromDID string) (int, error)
	// ConsumeSimpleInvite checks UsedCount < MaxUses and increments in one
	// conditional write, recording the consumer. Concurrent callers racing
	// the same code see at most MaxUses successes in aggregate. Returns
	// ErrNotFound for an unknown code and ErrExhausted when no uses remain.
	ConsumeSimpleInvite(ctx context.Context, code, byDID string) (*SimpleInvite, error)
	DeleteSimpleInvite(ctx context.Context, code string) error

	// Graph invites.
	// CreateGraphInvite inserts only if the inviter has no pending invite;
	// the check and the insert are one atomic step. Returns ErrAlreadyExists
	// when a pending invite from the same inviter exists.
	CreateGraphInvite(ctx context.Context, inv *GraphInvite) error
	GetGraphInvite(ctx context.Context, id string) (*GraphInvite, error)
	ListGraphInvitesByInviter(ctx context.Context, inviterDID string) ([]*GraphInvite, error)
	// ListGraphInvitesForTarget returns invites addressed to the given DID or
	// email (either may be empty).
	ListGraphInvitesForTarget(ctx context.Context, did, email string) ([]*GraphInvite, error)
	HasPendingGraphInvite(ctx context.Context, inviterDID string) (bool, error)
	// TransitionGraphInvite performs a conditional status update guarded on
	// the current status. Returns ErrInvalidTransition when the invite is no
	// longer in the from status, ErrNotFound when it does not exist.
	// An accept (to == accepted, acceptedAt set) additionally requires
	// ExpiresAt >= *acceptedAt; a deadline that lapsed since the caller's
	// expiry check flips the invite to expired instead of accepting it.
	TransitionGraphInvite(ctx context.Context, id string, from, to GraphInviteStatus, acceptedAt *time.Time) error
	// ExpireGraphInviteIfDue flips pending to expired iff ExpiresAt < now.
	// Reports whether the flip happened. Unknown ids are a no-op.
	ExpireGraphInviteIfDue(ctx context.Context, id string, now time.Time) (bool, error)
}

// PodStore defines transactional operations over pods and memberships.
type PodStore interface {
	// FormConnection inserts a pod and exactly two membership rows in one
	// transaction. If the two identities already share an active pod the
	// existing pod is returned unchanged (idempotent under retry). The two
	// DIDs must differ.
	FormConnection(ctx context.Context, didA, didB, ownerDID, name string) (*Pod, error)
	// LeaveConnection soft-deletes the membership and, within the same
	// transaction, deletes the pod (cascading its membership rows) when no
	// active members remain. Returns ErrNotFound when the pod does not exist
	// or the identity is not an active member.
	LeaveConnection(ctx context.Context, podID, did string) error
	GetPod(ctx context.Context, podID string) (*Pod, error)
	ActiveMembers(ctx context.Context, podID string) ([]*PodMembership, error)
	// PodsOf returns the active memberships of the given identity.
	PodsOf(ctx context.Context, did string) ([]*PodMembership, error)
	HasActiveMembership(ctx context.Context, did string) (bool, error)
}

// IdentityStore defines the identity directory operations. Identities are
// created by the external registration flow; the invite core only touches the
// cooldown gate.
type IdentityStore interface {
	UpsertIdentity(ctx context.Context, ident *Identity) error
	GetIdentity(ctx context.Context, did string) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	SetCooldown(ctx context.Context, did string, until time.Time) error
	ClearCooldown(ctx context.Context, did string) error
}
