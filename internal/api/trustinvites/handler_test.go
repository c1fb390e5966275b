package trustinvites_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	trustapi "github.com/podgraph/podgraph-go/internal/api/trustinvites"
	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/lifecycle"
	"github.com/podgraph/podgraph-go/internal/policy"
	"github.com/podgraph/podgraph-go/internal/store"
	"github.com/podgraph/podgraph-go/internal/store/memory"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type env struct {
	router chi.Router
	svc    *lifecycle.Service
	stores interface {
		store.InviteStore
		store.PodStore
		store.IdentityStore
	}
	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	driver, err := memory.NewDriver(&store.DriverConfig{Driver: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	stores := driver.(interface {
		store.InviteStore
		store.PodStore
		store.IdentityStore
	})

	e := &env{stores: stores, now: time.Now()}
	e.svc = lifecycle.New(stores, stores, stores, policy.DefaultQuotas(), testLogger,
		lifecycle.WithClock(func() time.Time { return e.now }))

	h := trustapi.NewHandler(e.svc, testLogger)
	r := chi.NewRouter()
	r.Post("/trust-invites", h.HandleCreate)
	r.Get("/trust-invites", h.HandleList)
	r.Post("/trust-invites/{id}/accept", h.HandleAccept)
	r.Delete("/trust-invites/{id}", h.HandleRevoke)
	e.router = r
	return e
}

// inGraphIdentity returns a hard-tier identity holding one connection, which
// is what sending a trust invite requires.
func (e *env) inGraphIdentity(t *testing.T, did string) *store.Identity {
	t.Helper()
	ident := e.identity(t, did, store.TierHard)
	peer := e.identity(t, did+":peer", store.TierSoft)
	if _, err := e.stores.FormConnection(context.Background(), ident.DID, peer.DID, ident.DID, "seed"); err != nil {
		t.Fatal(err)
	}
	return ident
}

func (e *env) identity(t *testing.T, did, tier string) *store.Identity {
	t.Helper()
	ident := &store.Identity{
		DID:    did,
		Handle: "h-" + did,
		Email:  did + "@example.org",
		Role:   store.RoleMember,
		Tier:   tier,
	}
	if err := e.stores.UpsertIdentity(context.Background(), ident); err != nil {
		t.Fatal(err)
	}
	return ident
}

func (e *env) do(method, path, body string, as *store.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if as != nil {
		req = req.WithContext(identity.WithIdentity(req.Context(), as))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func reasonCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envl struct {
		Error struct {
			ReasonCode string `json:"reason_code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envl); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return envl.Error.ReasonCode
}

func TestHandleCreate_Success(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")
	e.identity(t, "did:out", store.TierSoft)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:out"}`, inviter)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp trustapi.InviteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID == "" {
		t.Error("id is empty")
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if want := e.now.Add(lifecycle.GraphInviteTTL); !resp.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", resp.ExpiresAt, want)
	}
}

func TestHandleCreate_SoftTierForbidden(t *testing.T) {
	e := newEnv(t)
	soft := e.identity(t, "did:soft", store.TierSoft)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:x"}`, soft)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if rc := reasonCode(t, w); rc != "tier_not_eligible" {
		t.Errorf("reason_code = %q, want tier_not_eligible", rc)
	}
}

func TestHandleCreate_PendingExists(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")

	if w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:x"}`, inviter); w.Code != http.StatusCreated {
		t.Fatalf("first invite: expected 201, got %d", w.Code)
	}

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:y"}`, inviter)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if rc := reasonCode(t, w); rc != "pending_invite_exists" {
		t.Errorf("reason_code = %q, want pending_invite_exists", rc)
	}
}

func TestHandleCreate_MissingTarget(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")

	w := e.do(http.MethodPost, "/trust-invites", `{}`, inviter)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleAccept_Success(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")
	invitee := e.identity(t, "did:out", store.TierHard)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:out"}`, inviter)
	var created trustapi.InviteResponse
	json.NewDecoder(w.Body).Decode(&created)

	w = e.do(http.MethodPost, "/trust-invites/"+created.ID+"/accept", "", invitee)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var accepted trustapi.AcceptResponse
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.PodID == "" {
		t.Error("podId is empty")
	}

	// Both parties carry the reciprocal cooldown afterward.
	for _, did := range []string{"did:in", "did:out"} {
		ident, err := e.stores.GetIdentity(context.Background(), did)
		if err != nil {
			t.Fatal(err)
		}
		if ident.CooldownUntil == nil {
			t.Errorf("%s: cooldown not set after accept", did)
		}
	}
}

func TestHandleAccept_ExpiredIsGone(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")
	invitee := e.identity(t, "did:out", store.TierHard)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:out"}`, inviter)
	var created trustapi.InviteResponse
	json.NewDecoder(w.Body).Decode(&created)

	e.now = e.now.Add(lifecycle.GraphInviteTTL + time.Minute)

	w = e.do(http.MethodPost, "/trust-invites/"+created.ID+"/accept", "", invitee)
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d: %s", w.Code, w.Body.String())
	}
	if rc := reasonCode(t, w); rc != "expired" {
		t.Errorf("reason_code = %q, want expired", rc)
	}
}

func TestHandleAccept_NotAddressed(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")
	e.identity(t, "did:out", store.TierHard)
	stranger := e.identity(t, "did:stranger", store.TierHard)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:out"}`, inviter)
	var created trustapi.InviteResponse
	json.NewDecoder(w.Body).Decode(&created)

	w = e.do(http.MethodPost, "/trust-invites/"+created.ID+"/accept", "", stranger)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if rc := reasonCode(t, w); rc != "not_addressed_to_caller" {
		t.Errorf("reason_code = %q, want not_addressed_to_caller", rc)
	}
}

func TestHandleRevoke(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")
	e.identity(t, "did:out", store.TierHard)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:out"}`, inviter)
	var created trustapi.InviteResponse
	json.NewDecoder(w.Body).Decode(&created)

	w = e.do(http.MethodDelete, "/trust-invites/"+created.ID, "", inviter)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Revoked invites cannot be revoked again.
	w = e.do(http.MethodDelete, "/trust-invites/"+created.ID, "", inviter)
	if w.Code != http.StatusBadRequest {
		t.Errorf("second revoke: expected 400, got %d", w.Code)
	}
}

func TestHandleList_SplitsDirections(t *testing.T) {
	e := newEnv(t)
	inviter := e.inGraphIdentity(t, "did:in")
	invitee := e.identity(t, "did:out", store.TierHard)

	w := e.do(http.MethodPost, "/trust-invites", `{"inviteeDid":"did:out"}`, inviter)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}

	w = e.do(http.MethodGet, "/trust-invites", "", inviter)
	var sentView trustapi.ListResponse
	if err := json.NewDecoder(w.Body).Decode(&sentView); err != nil {
		t.Fatal(err)
	}
	if len(sentView.Sent) != 1 || len(sentView.Received) != 0 {
		t.Errorf("inviter view = %d sent / %d received, want 1/0", len(sentView.Sent), len(sentView.Received))
	}

	w = e.do(http.MethodGet, "/trust-invites", "", invitee)
	var recvView trustapi.ListResponse
	if err := json.NewDecoder(w.Body).Decode(&recvView); err != nil {
		t.Fatal(err)
	}
	if len(recvView.Sent) != 0 || len(recvView.Received) != 1 {
		t.Errorf("invitee view = %d sent / %d received, want 0/1", len(recvView.Sent), len(recvView.Received))
	}
}
