// Package memory implements an in-memory store driver. It backs tests and
// dev-mode runs; all operations execute under a single mutex, which gives the
// same atomicity guarantees the sqlite driver gets from transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/podgraph/podgraph-go/internal/store"
)

func init() {
	store.Register("memory", NewDriver)
}

// Driver is the in-memory store driver.
type Driver struct {
	mu sync.Mutex

	identities    map[string]*store.Identity     // by DID
	simpleInvites map[string]*store.SimpleInvite // by code
	graphInvites  map[string]*store.GraphInvite  // by id
	pods          map[string]*store.Pod          // by id
	memberships   []*store.PodMembership

	closed bool
}

// NewDriver creates a new memory driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	return &Driver{
		identities:    make(map[string]*store.Identity),
		simpleInvites: make(map[string]*store.SimpleInvite),
		graphInvites:  make(map[string]*store.GraphInvite),
		pods:          make(map[string]*store.Pod),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "memory" }

// Init is a no-op for the memory driver.
func (d *Driver) Init(ctx context.Context) error { return nil }

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Identity directory

func (d *Driver) UpsertIdentity(ctx context.Context, ident *store.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	cp := *ident
	if existing, ok := d.identities[ident.DID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	d.identities[cp.DID] = &cp
	return nil
}

func (d *Driver) GetIdentity(ctx context.Context, did string) (*store.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ident, ok := d.identities[did]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (d *Driver) GetIdentityByEmail(ctx context.Context, email string) (*store.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ident := range d.identities {
		if ident.Email != "" && strings.EqualFold(ident.Email, email) {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) SetCooldown(ctx context.Context, did string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ident, ok := d.identities[did]
	if !ok {
		return store.ErrNotFound
	}
	ident.CooldownUntil = &until
	ident.UpdatedAt = time.Now()
	return nil
}

func (d *Driver) ClearCooldown(ctx context.Context, did string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ident, ok := d.identities[did]
	if !ok {
		return store.ErrNotFound
	}
	ident.CooldownUntil = nil
	ident.UpdatedAt = time.Now()
	return nil
}

// Simple invites

func (d *Driver) CreateSimpleInvite(ctx context.Context, inv *store.SimpleInvite, limit int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.simpleInvites[inv.Code]; dup {
		return store.ErrAlreadyExists
	}
	// Count and insert under the same lock; this is the quota gate.
	if limit >= 0 {
		pending := 0
		for _, existing := range d.simpleInvites {
			if existing.FromDID == inv.FromDID && existing.ConsumedAt == nil {
				pending++
			}
		}
		if pending >= limit {
			return store.ErrLimitReached
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	cp := *inv
	d.simpleInvites[cp.Code] = &cp
	return nil
}

func (d *Driver) GetSimpleInvite(ctx context.Context, code string) (*store.SimpleInvite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	inv, ok := d.simpleInvites[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (d *Driver) ListSimpleInvites(ctx context.Context, fromDID string) ([]*store.SimpleInvite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*store.SimpleInvite
	for _, inv := range d.simpleInvites {
		if inv.FromDID == fromDID {
			cp := *inv
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (d *Driver) CountPendingSimpleInvites(ctx context.Context, fromDID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, inv := range d.simpleInvites {
		if inv.FromDID == fromDID && inv.ConsumedAt == nil {
			count++
		}
	}
	return count, nil
}

func (d *Driver) ConsumeSimpleInvite(ctx context.Context, code, byDID string) (*store.SimpleInvite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	inv, ok := d.simpleInvites[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Check and increment under the same lock; this is the conditional write.
	if inv.UsedCount >= inv.MaxUses {
		return nil, store.ErrExhausted
	}
	now := time.Now()
	inv.UsedCount++
	inv.ConsumedAt = &now
	inv.ConsumedBy = byDID
	cp := *inv
	return &cp, nil
}

func (d *Driver) DeleteSimpleInvite(ctx context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.simpleInvites[code]; !ok {
		return store.ErrNotFound
	}
	delete(d.simpleInvites, code)
	return nil
}

// Graph invites

func (d *Driver) CreateGraphInvite(ctx context.Context, inv *store.GraphInvite) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Check and insert under the same lock: at most one pending invite per
	// inviter, no matter how many creates race.
	for _, existing := range d.graphInvites {
		if existing.InviterDID == inv.InviterDID && existing.Status == store.GraphInvitePending {
			return store.ErrAlreadyExists
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	if inv.Status == "" {
		inv.Status = store.GraphInvitePending
	}
	cp := *inv
	d.graphInvites[cp.ID] = &cp
	return nil
}

func (d *Driver) GetGraphInvite(ctx context.Context, id string) (*store.GraphInvite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	inv, ok := d.graphInvites[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (d *Driver) ListGraphInvitesByInviter(ctx context.Context, inviterDID string) ([]*store.GraphInvite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*store.GraphInvite
	for _, inv := range d.graphInvites {
		if inv.InviterDID == inviterDID {
			cp := *inv
			result = append(result, &cp)
		}
	}
	sortGraphInvites(result)
	return result, nil
}

func (d *Driver) ListGraphInvitesForTarget(ctx context.Context, did, email string) ([]*store.GraphInvite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*store.GraphInvite
	for _, inv := range d.graphInvites {
		if (did != "" && inv.InviteeDID == did) ||
			(email != "" && inv.InviteeEmail != "" && strings.EqualFold(inv.InviteeEmail, email)) {
			cp := *inv
			result = append(result, &cp)
		}
	}
	sortGraphInvites(result)
	return result, nil
}

func (d *Driver) HasPendingGraphInvite(ctx context.Context, inviterDID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, inv := range d.graphInvites {
		if inv.InviterDID == inviterDID && inv.Status == store.GraphInvitePending {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) TransitionGraphInvite(ctx context.Context, id string, from, to store.GraphInviteStatus, acceptedAt *time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	inv, ok := d.graphInvites[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != from {
		return store.ErrInvalidTransition
	}
	// An accept whose deadline lapsed since the caller's expiry check flips
	// the invite to expired instead.
	if to == store.GraphInviteAccepted && acceptedAt != nil && inv.ExpiresAt.Before(*acceptedAt) {
		inv.Status = store.GraphInviteExpired
		return store.ErrInvalidTransition
	}
	inv.Status = to
	if acceptedAt != nil {
		inv.AcceptedAt = acceptedAt
	}
	return nil
}

func (d *Driver) ExpireGraphInviteIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	inv, ok := d.graphInvites[id]
	if !ok {
		return false, nil
	}
	if inv.Status != store.GraphInvitePending || !inv.ExpiresAt.Before(now) {
		return false, nil
	}
	inv.Status = store.GraphInviteExpired
	return true, nil
}

// Pods and memberships

func (d *Driver) FormConnection(ctx context.Context, didA, didB, ownerDID, name string) (*store.Pod, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if didA == didB {
		return nil, store.ErrDuplicateMember
	}

	// Idempotency: if the pair already shares an active pod, return it.
	if pod := d.sharedActivePod(didA, didB); pod != nil {
		cp := *pod
		return &cp, nil
	}

	now := time.Now()
	pod := &store.Pod{
		ID:         uuid.New().String(),
		OwnerDID:   ownerDID,
		Name:       name,
		Type:       store.PodTypeConnection,
		Visibility: store.VisibilityPrivate,
		CreatedAt:  now,
	}
	d.pods[pod.ID] = pod

	for _, did := range []string{didA, didB} {
		role := store.MemberRoleMember
		if did == ownerDID {
			role = store.MemberRoleOwner
		}
		d.memberships = append(d.memberships, &store.PodMembership{
			PodID:     pod.ID,
			DID:       did,
			Role:      role,
			AddedBy:   ownerDID,
			CreatedAt: now,
		})
	}

	cp := *pod
	return &cp, nil
}

// sharedActivePod returns a pod where both DIDs are active members, if any.
// Caller must hold d.mu.
func (d *Driver) sharedActivePod(didA, didB string) *store.Pod {
	podsOfA := make(map[string]bool)
	for _, m := range d.memberships {
		if m.Active() && m.DID == didA {
			podsOfA[m.PodID] = true
		}
	}
	for _, m := range d.memberships {
		if m.Active() && m.DID == didB && podsOfA[m.PodID] {
			return d.pods[m.PodID]
		}
	}
	return nil
}

func (d *Driver) LeaveConnection(ctx context.Context, podID, did string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pods[podID]; !ok {
		return store.ErrNotFound
	}

	var target *store.PodMembership
	for _, m := range d.memberships {
		if m.PodID == podID && m.DID == did && m.Active() {
			target = m
			break
		}
	}
	if target == nil {
		return store.ErrNotFound
	}

	now := time.Now()
	target.RemovedAt = &now

	// Count-then-delete happens under the same lock as the removal.
	remaining := 0
	for _, m := range d.memberships {
		if m.PodID == podID && m.Active() {
			remaining++
		}
	}
	if remaining == 0 {
		delete(d.pods, podID)
		kept := d.memberships[:0]
		for _, m := range d.memberships {
			if m.PodID != podID {
				kept = append(kept, m)
			}
		}
		d.memberships = kept
	}
	return nil
}

func (d *Driver) GetPod(ctx context.Context, podID string) (*store.Pod, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pod, ok := d.pods[podID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pod
	return &cp, nil
}

func (d *Driver) ActiveMembers(ctx context.Context, podID string) ([]*store.PodMembership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*store.PodMembership
	for _, m := range d.memberships {
		if m.PodID == podID && m.Active() {
			cp := *m
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (d *Driver) PodsOf(ctx context.Context, did string) ([]*store.PodMembership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*store.PodMembership
	for _, m := range d.memberships {
		if m.DID == did && m.Active() {
			cp := *m
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (d *Driver) HasActiveMembership(ctx context.Context, did string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.memberships {
		if m.DID == did && m.Active() {
			return true, nil
		}
	}
	return false, nil
}

func sortGraphInvites(invites []*store.GraphInvite) {
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.Before(invites[j].CreatedAt)
	})
}

// Compile-time interface checks
var _ store.Driver = (*Driver)(nil)
var _ store.InviteStore = (*Driver)(nil)
var _ store.PodStore = (*Driver)(nil)
var _ store.IdentityStore = (*Driver)(nil)
