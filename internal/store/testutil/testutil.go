// Package testutil provides a shared conformance suite for store drivers.
// Both the memory and sqlite drivers must pass the same behavioral tests,
// in particular the atomicity guarantees around consume and transition.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/podgraph/podgraph-go/internal/store"
)

// Stores bundles the interfaces a full driver implements.
type Stores interface {
	store.Driver
	store.InviteStore
	store.PodStore
	store.IdentityStore
}

// OpenDriver creates and initializes a driver, failing the test on error.
func OpenDriver(t *testing.T, cfg *store.DriverConfig) Stores {
	t.Helper()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New(%q): %v", cfg.Driver, err)
	}
	if err := driver.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { driver.Close() })

	s, ok := driver.(Stores)
	if !ok {
		t.Fatalf("driver %q does not implement all store interfaces", cfg.Driver)
	}
	return s
}

// TestIdentity returns a hard-tier identity for tests.
func TestIdentity(did string) *store.Identity {
	return &store.Identity{
		DID:    did,
		Handle: "user-" + did,
		Email:  did + "@example.org",
		Role:   store.RoleMember,
		Tier:   store.TierHard,
	}
}

// RunDriverTests runs the conformance suite against the given driver. newCfg
// is called once per subtest so every case starts from an empty store.
func RunDriverTests(t *testing.T, name string, newCfg func(t *testing.T) *store.DriverConfig) {
	t.Run(name+"/simple_invite_consume", func(t *testing.T) { testSimpleInviteConsume(t, newCfg(t)) })
	t.Run(name+"/simple_invite_concurrent", func(t *testing.T) { testSimpleInviteConcurrent(t, newCfg(t)) })
	t.Run(name+"/simple_invite_pending_count", func(t *testing.T) { testPendingCount(t, newCfg(t)) })
	t.Run(name+"/simple_invite_create_limit", func(t *testing.T) { testSimpleInviteCreateLimit(t, newCfg(t)) })
	t.Run(name+"/graph_invite_transition", func(t *testing.T) { testGraphInviteTransition(t, newCfg(t)) })
	t.Run(name+"/graph_invite_single_pending", func(t *testing.T) { testGraphInviteSinglePending(t, newCfg(t)) })
	t.Run(name+"/graph_invite_expiry", func(t *testing.T) { testGraphInviteExpiry(t, newCfg(t)) })
	t.Run(name+"/form_connection", func(t *testing.T) { testFormConnection(t, newCfg(t)) })
	t.Run(name+"/leave_connection", func(t *testing.T) { testLeaveConnection(t, newCfg(t)) })
	t.Run(name+"/identity_cooldown", func(t *testing.T) { testIdentityCooldown(t, newCfg(t)) })
}

func testSimpleInviteConsume(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	inv := &store.SimpleInvite{Code: "abc123", FromDID: "did:a", MaxUses: 1}
	if err := s.CreateSimpleInvite(ctx, inv, -1); err != nil {
		t.Fatalf("CreateSimpleInvite: %v", err)
	}

	got, err := s.ConsumeSimpleInvite(ctx, "abc123", "did:b")
	if err != nil {
		t.Fatalf("ConsumeSimpleInvite: %v", err)
	}
	if got.UsedCount != 1 {
		t.Errorf("UsedCount = %d, want 1", got.UsedCount)
	}
	if got.ConsumedBy != "did:b" {
		t.Errorf("ConsumedBy = %q, want did:b", got.ConsumedBy)
	}
	if got.ConsumedAt == nil {
		t.Error("ConsumedAt not set")
	}

	if _, err := s.ConsumeSimpleInvite(ctx, "abc123", "did:c"); !errors.Is(err, store.ErrExhausted) {
		t.Errorf("second consume: err = %v, want ErrExhausted", err)
	}
	if _, err := s.ConsumeSimpleInvite(ctx, "nope", "did:b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown code: err = %v, want ErrNotFound", err)
	}
}

func testSimpleInviteConcurrent(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	const attempts = 16
	inv := &store.SimpleInvite{Code: "race1", FromDID: "did:a", MaxUses: 1}
	if err := s.CreateSimpleInvite(ctx, inv, -1); err != nil {
		t.Fatalf("CreateSimpleInvite: %v", err)
	}

	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeSimpleInvite(ctx, "race1", "did:racer"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	if won != 1 {
		t.Errorf("%d consumers succeeded on max_uses=1 invite, want exactly 1", won)
	}

	final, err := s.GetSimpleInvite(ctx, "race1")
	if err != nil {
		t.Fatalf("GetSimpleInvite: %v", err)
	}
	if final.UsedCount != 1 {
		t.Errorf("final UsedCount = %d, want 1", final.UsedCount)
	}
}

func testPendingCount(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	for _, code := range []string{"p1", "p2", "p3"} {
		if err := s.CreateSimpleInvite(ctx, &store.SimpleInvite{Code: code, FromDID: "did:a", MaxUses: 1}, -1); err != nil {
			t.Fatalf("CreateSimpleInvite(%s): %v", code, err)
		}
	}

	count, err := s.CountPendingSimpleInvites(ctx, "did:a")
	if err != nil {
		t.Fatalf("CountPendingSimpleInvites: %v", err)
	}
	if count != 3 {
		t.Errorf("pending = %d, want 3", count)
	}

	if _, err := s.ConsumeSimpleInvite(ctx, "p2", "did:b"); err != nil {
		t.Fatalf("ConsumeSimpleInvite: %v", err)
	}

	count, err = s.CountPendingSimpleInvites(ctx, "did:a")
	if err != nil {
		t.Fatalf("CountPendingSimpleInvites: %v", err)
	}
	if count != 2 {
		t.Errorf("pending after consume = %d, want 2", count)
	}
}

func testSimpleInviteCreateLimit(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	// Limit reached: the conditional insert rejects, even from concurrent
	// creators racing the same count.
	const attempts = 16
	const limit = 3

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.CreateSimpleInvite(ctx, &store.SimpleInvite{
				Code:    fmt.Sprintf("lim%02d", i),
				FromDID: "did:a",
				MaxUses: 1,
			}, limit)
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrLimitReached):
		default:
			t.Fatalf("CreateSimpleInvite: %v", err)
		}
	}
	if created != limit {
		t.Errorf("%d creates succeeded with limit %d, want exactly %d", created, limit, limit)
	}

	count, err := s.CountPendingSimpleInvites(ctx, "did:a")
	if err != nil {
		t.Fatalf("CountPendingSimpleInvites: %v", err)
	}
	if count != limit {
		t.Errorf("pending = %d, want %d", count, limit)
	}

	// Consuming one reopens the gate.
	invites, err := s.ListSimpleInvites(ctx, "did:a")
	if err != nil {
		t.Fatalf("ListSimpleInvites: %v", err)
	}
	if _, err := s.ConsumeSimpleInvite(ctx, invites[0].Code, "did:b"); err != nil {
		t.Fatalf("ConsumeSimpleInvite: %v", err)
	}
	if err := s.CreateSimpleInvite(ctx, &store.SimpleInvite{Code: "lim-extra", FromDID: "did:a", MaxUses: 1}, limit); err != nil {
		t.Errorf("create after consume: %v", err)
	}
}

func testGraphInviteTransition(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	inv := &store.GraphInvite{
		InviterDID: "did:a",
		InviteeDID: "did:b",
		Status:     store.GraphInvitePending,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := s.CreateGraphInvite(ctx, inv); err != nil {
		t.Fatalf("CreateGraphInvite: %v", err)
	}

	pending, err := s.HasPendingGraphInvite(ctx, "did:a")
	if err != nil || !pending {
		t.Fatalf("HasPendingGraphInvite = %v, %v; want true", pending, err)
	}

	now := time.Now()
	if err := s.TransitionGraphInvite(ctx, inv.ID, store.GraphInvitePending, store.GraphInviteAccepted, &now); err != nil {
		t.Fatalf("TransitionGraphInvite: %v", err)
	}

	// All transitions out of pending are terminal.
	err = s.TransitionGraphInvite(ctx, inv.ID, store.GraphInvitePending, store.GraphInviteRevoked, nil)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("double transition: err = %v, want ErrInvalidTransition", err)
	}

	err = s.TransitionGraphInvite(ctx, "missing", store.GraphInvitePending, store.GraphInviteRevoked, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}

	got, err := s.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetGraphInvite: %v", err)
	}
	if got.Status != store.GraphInviteAccepted {
		t.Errorf("Status = %q, want accepted", got.Status)
	}
	if got.AcceptedAt == nil {
		t.Error("AcceptedAt not set")
	}
}

func testGraphInviteSinglePending(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	// Concurrent creates from one inviter: the check and the insert are one
	// atomic step, so exactly one pending invite lands.
	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.CreateGraphInvite(ctx, &store.GraphInvite{
				InviterDID: "did:a",
				InviteeDID: fmt.Sprintf("did:target%02d", i),
				Status:     store.GraphInvitePending,
				ExpiresAt:  time.Now().Add(time.Hour),
			})
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrAlreadyExists):
		default:
			t.Fatalf("CreateGraphInvite: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("%d pending invites created from one inviter, want exactly 1", created)
	}

	sent, err := s.ListGraphInvitesByInviter(ctx, "did:a")
	if err != nil {
		t.Fatalf("ListGraphInvitesByInviter: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent invites = %d, want 1", len(sent))
	}

	// A terminal invite does not block a new one.
	if err := s.TransitionGraphInvite(ctx, sent[0].ID, store.GraphInvitePending, store.GraphInviteRevoked, nil); err != nil {
		t.Fatalf("TransitionGraphInvite: %v", err)
	}
	if err := s.CreateGraphInvite(ctx, &store.GraphInvite{
		InviterDID: "did:a",
		InviteeDID: "did:next",
		Status:     store.GraphInvitePending,
		ExpiresAt:  time.Now().Add(time.Hour),
	}); err != nil {
		t.Errorf("create after revoke: %v", err)
	}
}

func testGraphInviteExpiry(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	inv := &store.GraphInvite{
		InviterDID: "did:a",
		InviteeDID: "did:b",
		Status:     store.GraphInvitePending,
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	if err := s.CreateGraphInvite(ctx, inv); err != nil {
		t.Fatalf("CreateGraphInvite: %v", err)
	}

	flipped, err := s.ExpireGraphInviteIfDue(ctx, inv.ID, time.Now())
	if err != nil {
		t.Fatalf("ExpireGraphInviteIfDue: %v", err)
	}
	if !flipped {
		t.Error("due invite not expired")
	}

	// Second call is a no-op: the invite is no longer pending.
	flipped, err = s.ExpireGraphInviteIfDue(ctx, inv.ID, time.Now())
	if err != nil || flipped {
		t.Errorf("repeat expiry = %v, %v; want false, nil", flipped, err)
	}

	got, err := s.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetGraphInvite: %v", err)
	}
	if got.Status != store.GraphInviteExpired {
		t.Errorf("Status = %q, want expired", got.Status)
	}

	// An accept CAS arriving after the deadline must not land; the invite
	// flips to expired instead.
	late := &store.GraphInvite{
		InviterDID: "did:c",
		InviteeDID: "did:d",
		Status:     store.GraphInvitePending,
		ExpiresAt:  time.Now().Add(-time.Second),
	}
	if err := s.CreateGraphInvite(ctx, late); err != nil {
		t.Fatalf("CreateGraphInvite: %v", err)
	}
	now := time.Now()
	err = s.TransitionGraphInvite(ctx, late.ID, store.GraphInvitePending, store.GraphInviteAccepted, &now)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("accept past deadline: err = %v, want ErrInvalidTransition", err)
	}
	got, err = s.GetGraphInvite(ctx, late.ID)
	if err != nil {
		t.Fatalf("GetGraphInvite: %v", err)
	}
	if got.Status != store.GraphInviteExpired {
		t.Errorf("late accept status = %q, want expired", got.Status)
	}
}

func testFormConnection(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	pod, err := s.FormConnection(ctx, "did:a", "did:b", "did:a", "a <-> b")
	if err != nil {
		t.Fatalf("FormConnection: %v", err)
	}

	members, err := s.ActiveMembers(ctx, pod.ID)
	if err != nil {
		t.Fatalf("ActiveMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("active members = %d, want 2", len(members))
	}

	// Retry is idempotent: same pod, no extra rows.
	again, err := s.FormConnection(ctx, "did:b", "did:a", "did:b", "b <-> a")
	if err != nil {
		t.Fatalf("FormConnection retry: %v", err)
	}
	if again.ID != pod.ID {
		t.Errorf("retry created new pod %s, want %s", again.ID, pod.ID)
	}

	if _, err := s.FormConnection(ctx, "did:a", "did:a", "did:a", "self"); !errors.Is(err, store.ErrDuplicateMember) {
		t.Errorf("self connection: err = %v, want ErrDuplicateMember", err)
	}
}

func testLeaveConnection(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	pod, err := s.FormConnection(ctx, "did:a", "did:b", "did:a", "a <-> b")
	if err != nil {
		t.Fatalf("FormConnection: %v", err)
	}

	if err := s.LeaveConnection(ctx, pod.ID, "did:a"); err != nil {
		t.Fatalf("LeaveConnection: %v", err)
	}

	// One active member remains; the pod survives.
	if _, err := s.GetPod(ctx, pod.ID); err != nil {
		t.Fatalf("GetPod after first leave: %v", err)
	}

	// Leaving twice is NotFound: the membership is already removed.
	if err := s.LeaveConnection(ctx, pod.ID, "did:a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double leave: err = %v, want ErrNotFound", err)
	}

	if err := s.LeaveConnection(ctx, pod.ID, "did:b"); err != nil {
		t.Fatalf("LeaveConnection last member: %v", err)
	}

	// Last leaver cascades pod deletion.
	if _, err := s.GetPod(ctx, pod.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPod after cascade: err = %v, want ErrNotFound", err)
	}
	if err := s.LeaveConnection(ctx, pod.ID, "did:b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("leave deleted pod: err = %v, want ErrNotFound", err)
	}

	inGraph, err := s.HasActiveMembership(ctx, "did:b")
	if err != nil || inGraph {
		t.Errorf("HasActiveMembership = %v, %v; want false, nil", inGraph, err)
	}
}

func testIdentityCooldown(t *testing.T, cfg *store.DriverConfig) {
	s := OpenDriver(t, cfg)
	ctx := context.Background()

	if err := s.UpsertIdentity(ctx, TestIdentity("did:cool")); err != nil {
		t.Fatalf("UpsertIdentity: %v", err)
	}

	until := time.Now().Add(7 * 24 * time.Hour)
	if err := s.SetCooldown(ctx, "did:cool", until); err != nil {
		t.Fatalf("SetCooldown: %v", err)
	}
	ident, err := s.GetIdentity(ctx, "did:cool")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if ident.CooldownUntil == nil {
		t.Fatal("CooldownUntil not set")
	}
	if !ident.OnCooldown(time.Now()) {
		t.Error("OnCooldown = false, want true")
	}

	if err := s.ClearCooldown(ctx, "did:cool"); err != nil {
		t.Fatalf("ClearCooldown: %v", err)
	}
	ident, err = s.GetIdentity(ctx, "did:cool")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if ident.CooldownUntil != nil {
		t.Errorf("CooldownUntil = %v, want nil", ident.CooldownUntil)
	}

	if err := s.SetCooldown(ctx, "did:ghost", until); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetCooldown unknown did: err = %v, want ErrNotFound", err)
	}

	if _, err := s.GetIdentityByEmail(ctx, "did:cool@example.org"); err != nil {
		t.Errorf("GetIdentityByEmail: %v", err)
	}
}
