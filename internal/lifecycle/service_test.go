package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/podgraph/podgraph-go/internal/lifecycle"
	"github.com/podgraph/podgraph-go/internal/policy"
	"github.com/podgraph/podgraph-go/internal/store"
	"github.com/podgraph/podgraph-go/internal/store/memory"
)

type allStores interface {
	store.InviteStore
	store.PodStore
	store.IdentityStore
}

type fixture struct {
	svc    *lifecycle.Service
	stores allStores
	clock  *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	driver, err := memory.NewDriver(&store.DriverConfig{Driver: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	stores := driver.(allStores)
	clock := &fakeClock{now: time.Now()}
	svc := lifecycle.New(stores, stores, stores, policy.DefaultQuotas(), nil,
		lifecycle.WithClock(clock.Now))
	return &fixture{svc: svc, stores: stores, clock: clock}
}

func (f *fixture) addIdentity(t *testing.T, did, role, tier string) *store.Identity {
	t.Helper()
	ident := &store.Identity{
		DID:    did,
		Handle: "h-" + did,
		Email:  did + "@example.org",
		Role:   role,
		Tier:   tier,
	}
	if err := f.stores.UpsertIdentity(context.Background(), ident); err != nil {
		t.Fatal(err)
	}
	return ident
}

// connect forms a pod between two dids directly, bypassing invites.
func (f *fixture) connect(t *testing.T, didA, didB string) *store.Pod {
	t.Helper()
	pod, err := f.stores.FormConnection(context.Background(), didA, didB, didA, didA+" ↔ "+didB)
	if err != nil {
		t.Fatal(err)
	}
	return pod
}

func wantKind(t *testing.T, err error, kind lifecycle.Kind) *lifecycle.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", kind)
	}
	le := lifecycle.AsError(err)
	if le == nil {
		t.Fatalf("expected lifecycle error, got %T: %v", err, err)
	}
	if le.Kind != kind {
		t.Fatalf("error kind = %v (%s), want %v", le.Kind, le.Reason, kind)
	}
	return le
}

func TestCreateSimpleInviteQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)

	// A member may hold 3 unconsumed invites.
	for i := 0; i < 3; i++ {
		res, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
		if err != nil {
			t.Fatalf("invite %d: %v", i+1, err)
		}
		if res.Invite.Code == "" {
			t.Fatal("empty code")
		}
		if want := 3 - (i + 1); res.Remaining != want {
			t.Errorf("invite %d: Remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	// The 4th is rate-limited with the limiting values attached.
	_, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
	le := wantKind(t, err, lifecycle.KindRateLimited)
	if le.Limit != 3 || le.Pending != 3 {
		t.Errorf("limit/pending = %d/%d, want 3/3", le.Limit, le.Pending)
	}
}

func TestCreateSimpleInviteMaxUsesValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleAdmin, store.TierHard)

	res, err := f.svc.CreateSimpleInvite(ctx, alice, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Invite.MaxUses != 1 {
		t.Errorf("default MaxUses = %d, want 1", res.Invite.MaxUses)
	}

	_, err = f.svc.CreateSimpleInvite(ctx, alice, 99)
	wantKind(t, err, lifecycle.KindBadRequest)
}

func TestAcceptSimpleInviteFormsConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)
	bob := f.addIdentity(t, "did:b", store.RoleMember, store.TierSoft)

	res, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
	if err != nil {
		t.Fatal(err)
	}

	pod, err := f.svc.AcceptSimpleInvite(ctx, res.Invite.Code, bob)
	if err != nil {
		t.Fatalf("AcceptSimpleInvite: %v", err)
	}

	members, err := f.stores.ActiveMembers(ctx, pod.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, m := range members {
		got[m.DID] = true
	}
	if len(members) != 2 || !got["did:a"] || !got["did:b"] {
		t.Errorf("pod members = %v, want {did:a, did:b}", got)
	}

	consumed, err := f.stores.GetSimpleInvite(ctx, res.Invite.Code)
	if err != nil {
		t.Fatal(err)
	}
	if consumed.UsedCount != 1 || consumed.ConsumedBy != "did:b" {
		t.Errorf("usedCount=%d consumedBy=%q, want 1/did:b", consumed.UsedCount, consumed.ConsumedBy)
	}

	for _, did := range []string{"did:a", "did:b"} {
		status, err := f.svc.Status(ctx, did)
		if err != nil {
			t.Fatal(err)
		}
		if !status.InGraph || status.ConnectionCount != 1 {
			t.Errorf("%s status = %+v, want inGraph with 1 connection", did, status)
		}
	}
}

func TestAcceptSimpleInviteSecondUseIsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)
	bob := f.addIdentity(t, "did:b", store.RoleMember, store.TierSoft)
	carol := f.addIdentity(t, "did:c", store.RoleMember, store.TierSoft)

	res, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AcceptSimpleInvite(ctx, res.Invite.Code, bob); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.AcceptSimpleInvite(ctx, res.Invite.Code, carol)
	le := wantKind(t, err, lifecycle.KindGone)
	if le.Reason != lifecycle.ReasonAlreadyUsed {
		t.Errorf("reason = %q, want already_used", le.Reason)
	}

	// No second pod came into being.
	status, err := f.svc.Status(ctx, "did:c")
	if err != nil {
		t.Fatal(err)
	}
	if status.InGraph {
		t.Error("carol ended up in the graph from a dead invite")
	}
}

func TestAcceptSimpleInviteSelfRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)

	res, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.AcceptSimpleInvite(ctx, res.Invite.Code, alice)
	le := wantKind(t, err, lifecycle.KindBadRequest)
	if le.Reason != lifecycle.ReasonSelfInvite {
		t.Errorf("reason = %q, want self_invite", le.Reason)
	}

	// Self-accept must not burn a use.
	inv, err := f.stores.GetSimpleInvite(ctx, res.Invite.Code)
	if err != nil {
		t.Fatal(err)
	}
	if inv.UsedCount != 0 {
		t.Errorf("usedCount = %d after rejected self-accept, want 0", inv.UsedCount)
	}
}

func TestConcurrentAcceptSingleUseCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)

	res, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
	if err != nil {
		t.Fatal(err)
	}

	const racers = 8
	accepters := make([]*store.Identity, racers)
	for i := range accepters {
		accepters[i] = f.addIdentity(t, "did:racer"+string(rune('a'+i)), store.RoleMember, store.TierSoft)
	}

	var wg sync.WaitGroup
	outcomes := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = f.svc.AcceptSimpleInvite(ctx, res.Invite.Code, accepters[i])
		}(i)
	}
	wg.Wait()

	wins, gones := 0, 0
	for _, err := range outcomes {
		switch {
		case err == nil:
			wins++
		case lifecycle.KindOf(err) == lifecycle.KindGone:
			gones++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || gones != racers-1 {
		t.Errorf("wins=%d gones=%d, want 1/%d", wins, gones, racers-1)
	}
}

func TestConcurrentCreateSimpleInviteQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)

	// member quota is 3; racing creates must not stack past it.
	const racers = 16
	var wg sync.WaitGroup
	outcomes := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = f.svc.CreateSimpleInvite(ctx, alice, 1)
		}(i)
	}
	wg.Wait()

	created, limited := 0, 0
	for _, err := range outcomes {
		switch {
		case err == nil:
			created++
		case lifecycle.KindOf(err) == lifecycle.KindRateLimited:
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 3 || limited != racers-3 {
		t.Errorf("created=%d limited=%d, want 3/%d", created, limited, racers-3)
	}

	pending, err := f.stores.CountPendingSimpleInvites(ctx, "did:a")
	if err != nil {
		t.Fatal(err)
	}
	if pending != 3 {
		t.Errorf("pending = %d, want 3", pending)
	}
}

func TestRevokeSimpleInviteOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)

	res, err := f.svc.CreateSimpleInvite(ctx, alice, 1)
	if err != nil {
		t.Fatal(err)
	}

	err = f.svc.RevokeSimpleInvite(ctx, res.Invite.Code, "did:mallory")
	wantKind(t, err, lifecycle.KindForbidden)

	if err := f.svc.RevokeSimpleInvite(ctx, res.Invite.Code, "did:a"); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}
	err = f.svc.RevokeSimpleInvite(ctx, res.Invite.Code, "did:a")
	wantKind(t, err, lifecycle.KindNotFound)
}

// graphReady returns a hard-tier identity that is already in the graph, the
// precondition for sending graph invites.
func (f *fixture) graphReady(t *testing.T, did string) *store.Identity {
	ident := f.addIdentity(t, did, store.RoleMember, store.TierHard)
	f.addIdentity(t, did+":peer", store.RoleMember, store.TierSoft)
	f.connect(t, did, did+":peer")
	return ident
}

func TestCreateGraphInviteGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soft := f.addIdentity(t, "did:soft", store.RoleMember, store.TierSoft)
	_, err := f.svc.CreateGraphInvite(ctx, soft, lifecycle.GraphInviteTarget{DID: "did:x"})
	wantKind(t, err, lifecycle.KindForbidden)

	hardOutside := f.addIdentity(t, "did:outside", store.RoleMember, store.TierHard)
	_, err = f.svc.CreateGraphInvite(ctx, hardOutside, lifecycle.GraphInviteTarget{DID: "did:x"})
	wantKind(t, err, lifecycle.KindForbidden)

	inviter := f.graphReady(t, "did:in")
	_, err = f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{})
	wantKind(t, err, lifecycle.KindBadRequest)

	_, err = f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: inviter.DID})
	wantKind(t, err, lifecycle.KindBadRequest)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:x"})
	if err != nil {
		t.Fatalf("CreateGraphInvite: %v", err)
	}
	if inv.Status != store.GraphInvitePending {
		t.Errorf("status = %q, want pending", inv.Status)
	}

	// One pending invite per inviter.
	_, err = f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:y"})
	le := wantKind(t, err, lifecycle.KindRateLimited)
	if le.Reason != lifecycle.ReasonPendingExists {
		t.Errorf("reason = %q, want pending_invite_exists", le.Reason)
	}
}

func TestCreateGraphInviteAfterStalePendingExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")

	if _, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:x"}); err != nil {
		t.Fatal(err)
	}

	// Past the TTL the abandoned invite expires lazily and stops blocking.
	f.clock.Advance(lifecycle.GraphInviteTTL + time.Hour)
	if _, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:y"}); err != nil {
		t.Fatalf("create after stale pending: %v", err)
	}
}

func TestConcurrentCreateGraphInviteSinglePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")

	const racers = 16
	var wg sync.WaitGroup
	outcomes := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := "did:t" + string(rune('a'+i))
			_, outcomes[i] = f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: target})
		}(i)
	}
	wg.Wait()

	created, limited := 0, 0
	for _, err := range outcomes {
		switch {
		case err == nil:
			created++
		case lifecycle.KindOf(err) == lifecycle.KindRateLimited:
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 || limited != racers-1 {
		t.Errorf("created=%d limited=%d, want 1/%d", created, limited, racers-1)
	}

	list, err := f.svc.ListGraphInvites(ctx, inviter)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Sent) != 1 {
		t.Errorf("sent invites = %d, want 1", len(list.Sent))
	}
}

func TestAcceptGraphInviteSetsBothCooldowns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	invitee := f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}

	pod, err := f.svc.AcceptGraphInvite(ctx, inv.ID, invitee)
	if err != nil {
		t.Fatalf("AcceptGraphInvite: %v", err)
	}

	members, err := f.stores.ActiveMembers(ctx, pod.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("pod members = %d, want 2", len(members))
	}

	wantUntil := f.clock.Now().Add(lifecycle.CooldownPeriod)
	for _, did := range []string{"did:in", "did:out"} {
		ident, err := f.stores.GetIdentity(ctx, did)
		if err != nil {
			t.Fatal(err)
		}
		if ident.CooldownUntil == nil {
			t.Fatalf("%s: cooldown not set", did)
		}
		if !ident.CooldownUntil.Equal(wantUntil) {
			t.Errorf("%s: cooldown = %v, want %v", did, ident.CooldownUntil, wantUntil)
		}
	}

	// The accepted invite records when.
	got, err := f.stores.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.GraphInviteAccepted || got.AcceptedAt == nil {
		t.Errorf("invite after accept = %q/%v", got.Status, got.AcceptedAt)
	}
}

func TestAcceptGraphInviteByEmailMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	invitee := f.addIdentity(t, "did:mail", store.RoleMember, store.TierSoft)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{Email: "DID:MAIL@example.org"})
	if err != nil {
		t.Fatal(err)
	}

	// Email match is case-insensitive against the accepter's profile email.
	if _, err := f.svc.AcceptGraphInvite(ctx, inv.ID, invitee); err != nil {
		t.Fatalf("AcceptGraphInvite by email: %v", err)
	}
}

func TestAcceptGraphInviteWrongTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)
	stranger := f.addIdentity(t, "did:stranger", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.AcceptGraphInvite(ctx, inv.ID, stranger)
	le := wantKind(t, err, lifecycle.KindForbidden)
	if le.Reason != lifecycle.ReasonNotAddressed {
		t.Errorf("reason = %q, want not_addressed_to_caller", le.Reason)
	}

	_, err = f.svc.AcceptGraphInvite(ctx, inv.ID, inviter)
	le = wantKind(t, err, lifecycle.KindForbidden)
	if le.Reason != lifecycle.ReasonSelfInvite {
		t.Errorf("self accept reason = %q, want self_invite", le.Reason)
	}
}

func TestAcceptGraphInviteExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	invitee := f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(lifecycle.GraphInviteTTL + time.Minute)

	_, err = f.svc.AcceptGraphInvite(ctx, inv.ID, invitee)
	le := wantKind(t, err, lifecycle.KindGone)
	if le.Reason != lifecycle.ReasonExpired {
		t.Errorf("reason = %q, want expired", le.Reason)
	}

	got, err := f.stores.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.GraphInviteExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}
}

func TestAcceptGraphInviteDoubleAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	invitee := f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AcceptGraphInvite(ctx, inv.ID, invitee); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.AcceptGraphInvite(ctx, inv.ID, invitee)
	wantKind(t, err, lifecycle.KindGone)
}

func TestRevokeGraphInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}

	// Put the inviter on cooldown to observe the revoke clearing it.
	if err := f.stores.SetCooldown(ctx, "did:in", f.clock.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	stranger := f.addIdentity(t, "did:stranger", store.RoleMember, store.TierHard)
	err = f.svc.RevokeGraphInvite(ctx, inv.ID, stranger)
	wantKind(t, err, lifecycle.KindForbidden)

	if err := f.svc.RevokeGraphInvite(ctx, inv.ID, inviter); err != nil {
		t.Fatalf("RevokeGraphInvite: %v", err)
	}

	// Revocation imposes no penalty: cooldown cleared.
	ident, err := f.stores.GetIdentity(ctx, "did:in")
	if err != nil {
		t.Fatal(err)
	}
	if ident.CooldownUntil != nil {
		t.Errorf("cooldown after revoke = %v, want nil", ident.CooldownUntil)
	}

	got, err := f.stores.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.GraphInviteRevoked {
		t.Errorf("status = %q, want revoked", got.Status)
	}
}

func TestRevokeAcceptedInviteIsBadRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	invitee := f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AcceptGraphInvite(ctx, inv.ID, invitee); err != nil {
		t.Fatal(err)
	}

	err = f.svc.RevokeGraphInvite(ctx, inv.ID, inviter)
	le := wantKind(t, err, lifecycle.KindBadRequest)
	if le.Reason != lifecycle.ReasonWrongStatus {
		t.Errorf("reason = %q, want wrong_status", le.Reason)
	}

	// Status unchanged by the failed revoke.
	got, err := f.stores.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.GraphInviteAccepted {
		t.Errorf("status = %q, want accepted", got.Status)
	}
}

func TestListGraphInvitesLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.graphReady(t, "did:in")
	invitee := f.addIdentity(t, "did:out", store.RoleMember, store.TierHard)

	inv, err := f.svc.CreateGraphInvite(ctx, inviter, lifecycle.GraphInviteTarget{DID: "did:out"})
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(lifecycle.GraphInviteTTL + time.Minute)

	list, err := f.svc.ListGraphInvites(ctx, inviter)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Sent) != 1 || list.Sent[0].Status != store.GraphInviteExpired {
		t.Errorf("sent = %+v, want one expired invite", list.Sent)
	}

	// The flip is persisted, not display-only.
	got, err := f.stores.GetGraphInvite(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.GraphInviteExpired {
		t.Errorf("stored status = %q, want expired", got.Status)
	}

	recv, err := f.svc.ListGraphInvites(ctx, invitee)
	if err != nil {
		t.Fatal(err)
	}
	if len(recv.Received) != 1 {
		t.Errorf("received = %d invites, want 1", len(recv.Received))
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addIdentity(t, "did:a", store.RoleMember, store.TierHard)
	f.addIdentity(t, "did:b", store.RoleMember, store.TierHard)
	pod := f.connect(t, "did:a", "did:b")

	err := f.svc.Disconnect(ctx, pod.ID, "did:nobody")
	wantKind(t, err, lifecycle.KindNotFound)

	if err := f.svc.Disconnect(ctx, pod.ID, "did:a"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Disconnect(ctx, pod.ID, "did:b"); err != nil {
		t.Fatal(err)
	}

	// Pod is gone once the last member left.
	err = f.svc.Disconnect(ctx, pod.ID, "did:b")
	wantKind(t, err, lifecycle.KindNotFound)

	status, err := f.svc.Status(ctx, "did:a")
	if err != nil {
		t.Fatal(err)
	}
	if status.InGraph || status.ConnectionCount != 0 {
		t.Errorf("status after full disconnect = %+v", status)
	}
}

func TestStatusRequiresDID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Status(context.Background(), "")
	wantKind(t, err, lifecycle.KindBadRequest)
}
