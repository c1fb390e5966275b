// Package lifecycle orchestrates the invite state machines: create, inspect,
// accept and revoke for both invite flavors, converging on connection
// formation. It is the only component with cross-store transactional
// requirements; the stores provide the atomic primitives, this service
// sequences them.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/podgraph/podgraph-go/internal/graph"
	"github.com/podgraph/podgraph-go/internal/platform/logutil"
	"github.com/podgraph/podgraph-go/internal/policy"
	"github.com/podgraph/podgraph-go/internal/store"
)

// GraphInviteTTL is how long a trust-graph invite stays acceptable.
const GraphInviteTTL = 7 * 24 * time.Hour

// CooldownPeriod is the invite cooldown applied to both parties when a
// graph invite is accepted.
const CooldownPeriod = 7 * 24 * time.Hour

// MaxSimpleInviteUses caps the per-code capacity a caller may request.
const MaxSimpleInviteUses = 10

// Service implements the invite lifecycle over the stores.
type Service struct {
	invites   store.InviteStore
	pods      store.PodStore
	directory store.IdentityStore
	graph     *graph.Query
	quotas    policy.Quotas
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock. Tests use this to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the lifecycle service.
func New(invites store.InviteStore, pods store.PodStore, directory store.IdentityStore, quotas policy.Quotas, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		invites:   invites,
		pods:      pods,
		directory: directory,
		graph:     graph.New(pods),
		quotas:    quotas,
		now:       time.Now,
		logger:    logutil.NoopIfNil(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph returns the graph query the service derives membership facts from.
func (s *Service) Graph() *graph.Query { return s.graph }

// SimpleInviteResult is returned by CreateSimpleInvite: the invite plus the
// remaining quota after creation.
type SimpleInviteResult struct {
	Invite    *store.SimpleInvite
	Limit     int
	Remaining int
}

// CreateSimpleInvite creates a shareable invite code, enforcing the role
// quota against the caller's unconsumed invites.
func (s *Service) CreateSimpleInvite(ctx context.Context, ident *store.Identity, maxUses int) (*SimpleInviteResult, error) {
	if maxUses <= 0 {
		maxUses = 1
	}
	if maxUses > MaxSimpleInviteUses {
		return nil, badRequest(ReasonInvalidArgument, "maxUses out of range")
	}

	pending, err := s.invites.CountPendingSimpleInvites(ctx, ident.DID)
	if err != nil {
		return nil, internal("failed to count pending invites", err)
	}

	decision := policy.CanSendSimpleInvite(s.quotas, ident.Role, pending)
	if !decision.Allowed {
		return nil, quotaExceeded(decision.Limit, decision.Pending)
	}

	code, err := generateCode()
	if err != nil {
		return nil, internal("failed to generate invite code", err)
	}

	invite := &store.SimpleInvite{
		Code:      code,
		FromDID:   ident.DID,
		MaxUses:   maxUses,
		CreatedAt: s.now(),
	}
	// The store re-checks the quota inside the insert: the count above can
	// go stale under concurrent creates, the store-level gate cannot.
	if err := s.invites.CreateSimpleInvite(ctx, invite, decision.Limit); err != nil {
		if errors.Is(err, store.ErrLimitReached) {
			return nil, quotaExceeded(decision.Limit, decision.Limit)
		}
		return nil, internal("failed to create invite", err)
	}

	s.logger.Info("simple invite created", "code", code, "from", ident.DID, "max_uses", maxUses)

	remaining := decision.Remaining
	if remaining != policy.Unlimited {
		remaining--
	}
	return &SimpleInviteResult{Invite: invite, Limit: decision.Limit, Remaining: remaining}, nil
}

// ListSimpleInvites returns the caller's simple invites.
func (s *Service) ListSimpleInvites(ctx context.Context, did string) ([]*store.SimpleInvite, error) {
	invites, err := s.invites.ListSimpleInvites(ctx, did)
	if err != nil {
		return nil, internal("failed to list invites", err)
	}
	return invites, nil
}

// GetSimpleInvite looks up an invite by code. This is the public lookup used
// by the landing page; it leaks nothing beyond the invite row itself.
func (s *Service) GetSimpleInvite(ctx context.Context, code string) (*store.SimpleInvite, error) {
	invite, err := s.invites.GetSimpleInvite(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("invite not found")
	}
	if err != nil {
		return nil, internal("failed to load invite", err)
	}
	return invite, nil
}

// RevokeSimpleInvite deletes an invite. Only the exact creator may revoke.
func (s *Service) RevokeSimpleInvite(ctx context.Context, code, callerDID string) error {
	invite, err := s.invites.GetSimpleInvite(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("invite not found")
	}
	if err != nil {
		return internal("failed to load invite", err)
	}
	if invite.FromDID != callerDID {
		return forbidden(ReasonNotOwner, "only the creator may revoke an invite")
	}
	if err := s.invites.DeleteSimpleInvite(ctx, code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("invite not found")
		}
		return internal("failed to delete invite", err)
	}
	return nil
}

// AcceptSimpleInvite consumes the code and forms a connection between the
// creator and the accepter. The consume is a single conditional write, so
// concurrent accepts on a maxUses=1 code produce exactly one connection.
func (s *Service) AcceptSimpleInvite(ctx context.Context, code string, accepter *store.Identity) (*store.Pod, error) {
	invite, err := s.invites.GetSimpleInvite(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("invite not found")
	}
	if err != nil {
		return nil, internal("failed to load invite", err)
	}

	// FromDID is immutable, so checking it before the consume is race-free.
	if invite.FromDID == accepter.DID {
		return nil, badRequest(ReasonSelfInvite, "cannot accept your own invite")
	}

	consumed, err := s.invites.ConsumeSimpleInvite(ctx, code, accepter.DID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("invite not found")
	}
	if errors.Is(err, store.ErrExhausted) {
		return nil, gone(ReasonAlreadyUsed, "invite already used")
	}
	if err != nil {
		return nil, internal("failed to consume invite", err)
	}

	inviter, err := s.directory.GetIdentity(ctx, consumed.FromDID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, internal("failed to load inviter", err)
	}

	pod, err := s.pods.FormConnection(ctx, consumed.FromDID, accepter.DID, consumed.FromDID,
		connectionName(labelFor(inviter, consumed.FromDID), accepter.Label()))
	if err != nil {
		return nil, internal("failed to form connection", err)
	}

	s.logger.Info("simple invite accepted",
		"code", code, "from", consumed.FromDID, "by", accepter.DID, "pod", pod.ID)
	return pod, nil
}

// GraphInviteTarget addresses a graph invite: exactly one of DID and Email.
type GraphInviteTarget struct {
	DID   string
	Email string
}

// CreateGraphInvite creates a single-target trust-graph invite after the
// policy gate passes.
func (s *Service) CreateGraphInvite(ctx context.Context, ident *store.Identity, target GraphInviteTarget) (*store.GraphInvite, error) {
	if target.DID == "" && target.Email == "" {
		return nil, badRequest(ReasonMissingTarget, "invitee did or email required")
	}
	if target.DID == ident.DID {
		return nil, badRequest(ReasonSelfInvite, "cannot invite yourself")
	}
	if target.Email != "" && ident.Email != "" && strings.EqualFold(target.Email, ident.Email) {
		return nil, badRequest(ReasonSelfInvite, "cannot invite yourself")
	}

	now := s.now()

	// Lazily expire the caller's stale pending invite before the duplicate
	// check, so an abandoned invite never blocks a new one.
	if err := s.expireDue(ctx, ident.DID); err != nil {
		return nil, err
	}

	inGraph, err := s.graph.IsInGraph(ctx, ident.DID)
	if err != nil {
		return nil, internal("failed to check graph membership", err)
	}
	hasPending, err := s.invites.HasPendingGraphInvite(ctx, ident.DID)
	if err != nil {
		return nil, internal("failed to check pending invites", err)
	}

	decision := policy.CanSendGraphInvite(ident, inGraph, hasPending, now)
	if !decision.Allowed {
		switch decision.Reason {
		case policy.DenyTier:
			return nil, forbidden(ReasonWrongTier, "hard identity tier required")
		case policy.DenyNotInGraph:
			return nil, forbidden(ReasonNotInGraph, "caller is not in the trust graph")
		case policy.DenyCooldown:
			return nil, cooldownActive(*decision.RetryAt)
		case policy.DenyPendingExists:
			return nil, pendingExists()
		}
	}

	invite := &store.GraphInvite{
		InviterDID:   ident.DID,
		InviteeDID:   target.DID,
		InviteeEmail: target.Email,
		Status:       store.GraphInvitePending,
		ExpiresAt:    now.Add(GraphInviteTTL),
		CreatedAt:    now,
	}
	// The store enforces the single-pending rule inside the insert; the
	// HasPendingGraphInvite read above only shapes the friendly-path error.
	if err := s.invites.CreateGraphInvite(ctx, invite); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, pendingExists()
		}
		return nil, internal("failed to create graph invite", err)
	}

	s.logger.Info("graph invite created",
		"id", invite.ID, "inviter", ident.DID, "invitee_did", target.DID, "invitee_email", target.Email != "")
	return invite, nil
}

// GraphInviteList is the sent/received split returned to callers.
type GraphInviteList struct {
	Sent     []*store.GraphInvite
	Received []*store.GraphInvite
}

// ListGraphInvites returns the caller's sent and received invites, lazily
// expiring any pending row whose deadline has passed before returning it.
func (s *Service) ListGraphInvites(ctx context.Context, ident *store.Identity) (*GraphInviteList, error) {
	sent, err := s.invites.ListGraphInvitesByInviter(ctx, ident.DID)
	if err != nil {
		return nil, internal("failed to list sent invites", err)
	}
	received, err := s.invites.ListGraphInvitesForTarget(ctx, ident.DID, ident.Email)
	if err != nil {
		return nil, internal("failed to list received invites", err)
	}

	now := s.now()
	for _, batch := range [][]*store.GraphInvite{sent, received} {
		for _, inv := range batch {
			if inv.Due(now) {
				if _, err := s.invites.ExpireGraphInviteIfDue(ctx, inv.ID, now); err != nil {
					return nil, internal("failed to expire invite", err)
				}
				inv.Status = store.GraphInviteExpired
			}
		}
	}

	return &GraphInviteList{Sent: sent, Received: received}, nil
}

// AcceptGraphInvite accepts a pending invite addressed to the accepter,
// forms the connection, and puts both parties on invite cooldown.
//
// Expiry is re-checked here inside the accept path itself; a prior list call
// having flipped the status is never relied upon.
func (s *Service) AcceptGraphInvite(ctx context.Context, id string, accepter *store.Identity) (*store.Pod, error) {
	now := s.now()

	if _, err := s.invites.ExpireGraphInviteIfDue(ctx, id, now); err != nil {
		return nil, internal("failed to expire invite", err)
	}

	invite, err := s.invites.GetGraphInvite(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("invite not found")
	}
	if err != nil {
		return nil, internal("failed to load invite", err)
	}

	if invite.Status == store.GraphInviteExpired {
		return nil, gone(ReasonExpired, "invite has expired")
	}
	if invite.Status != store.GraphInvitePending {
		return nil, gone(ReasonWrongStatus, "invite is no longer pending")
	}

	if invite.InviterDID == accepter.DID {
		return nil, forbidden(ReasonSelfInvite, "cannot accept your own invite")
	}
	if !addressedTo(invite, accepter) {
		return nil, forbidden(ReasonNotAddressed, "invite is not addressed to you")
	}

	// CAS on status closes the double-accept race: the loser of two
	// concurrent accepts sees ErrInvalidTransition.
	acceptedAt := now
	err = s.invites.TransitionGraphInvite(ctx, id, store.GraphInvitePending, store.GraphInviteAccepted, &acceptedAt)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("invite not found")
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		// The deadline may have lapsed between the expiry check above and
		// the CAS; the store flips such invites to expired.
		if current, gerr := s.invites.GetGraphInvite(ctx, id); gerr == nil && current.Status == store.GraphInviteExpired {
			return nil, gone(ReasonExpired, "invite has expired")
		}
		return nil, gone(ReasonWrongStatus, "invite is no longer pending")
	}
	if err != nil {
		return nil, internal("failed to accept invite", err)
	}

	inviter, err := s.directory.GetIdentity(ctx, invite.InviterDID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, internal("failed to load inviter", err)
	}

	pod, err := s.pods.FormConnection(ctx, invite.InviterDID, accepter.DID, invite.InviterDID,
		connectionName(labelFor(inviter, invite.InviterDID), accepter.Label()))
	if err != nil {
		return nil, internal("failed to form connection", err)
	}

	// Both parties go on cooldown. Reciprocal on purpose: a fresh connection
	// pauses further graph invites from either side for a week.
	until := now.Add(CooldownPeriod)
	for _, did := range []string{invite.InviterDID, accepter.DID} {
		if err := s.directory.SetCooldown(ctx, did, until); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, internal("failed to set cooldown", err)
		}
	}

	s.logger.Info("graph invite accepted",
		"id", id, "inviter", invite.InviterDID, "accepter", accepter.DID, "pod", pod.ID)
	return pod, nil
}

// RevokeGraphInvite revokes a pending invite. Only the inviter may revoke,
// and revocation clears the revoker's cooldown: backing out costs nothing,
// unlike acceptance.
func (s *Service) RevokeGraphInvite(ctx context.Context, id string, revoker *store.Identity) error {
	now := s.now()

	if _, err := s.invites.ExpireGraphInviteIfDue(ctx, id, now); err != nil {
		return internal("failed to expire invite", err)
	}

	invite, err := s.invites.GetGraphInvite(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("invite not found")
	}
	if err != nil {
		return internal("failed to load invite", err)
	}

	if invite.InviterDID != revoker.DID {
		return forbidden(ReasonNotOwner, "only the inviter may revoke an invite")
	}

	err = s.invites.TransitionGraphInvite(ctx, id, store.GraphInvitePending, store.GraphInviteRevoked, nil)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("invite not found")
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		return badRequest(ReasonWrongStatus, "only pending invites can be revoked")
	}
	if err != nil {
		return internal("failed to revoke invite", err)
	}

	if err := s.directory.ClearCooldown(ctx, revoker.DID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return internal("failed to clear cooldown", err)
	}

	s.logger.Info("graph invite revoked", "id", id, "inviter", revoker.DID)
	return nil
}

// Disconnect removes the caller from a pod, cascading pod deletion when the
// caller was the last active member.
func (s *Service) Disconnect(ctx context.Context, podID, did string) error {
	err := s.pods.LeaveConnection(ctx, podID, did)
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Reason: ReasonNotAMember, Message: "no active membership in this pod"}
	}
	if err != nil {
		return internal("failed to leave connection", err)
	}
	s.logger.Info("connection left", "pod", podID, "did", did)
	return nil
}

// ConnectionStatus is the graph-membership summary for an identity.
type ConnectionStatus struct {
	DID             string `json:"did"`
	InGraph         bool   `json:"inGraph"`
	ConnectionCount int    `json:"connectionCount"`
}

// Status reports whether the identity is in the trust graph and how many
// bilateral connections it holds.
func (s *Service) Status(ctx context.Context, did string) (*ConnectionStatus, error) {
	if did == "" {
		return nil, badRequest(ReasonInvalidArgument, "did required")
	}
	inGraph, err := s.graph.IsInGraph(ctx, did)
	if err != nil {
		return nil, internal("failed to check graph membership", err)
	}
	count, err := s.graph.ConnectionCount(ctx, did)
	if err != nil {
		return nil, internal("failed to count connections", err)
	}
	return &ConnectionStatus{DID: did, InGraph: inGraph, ConnectionCount: count}, nil
}

// expireDue lazily expires the inviter's due pending invites.
func (s *Service) expireDue(ctx context.Context, inviterDID string) error {
	sent, err := s.invites.ListGraphInvitesByInviter(ctx, inviterDID)
	if err != nil {
		return internal("failed to list invites", err)
	}
	now := s.now()
	for _, inv := range sent {
		if inv.Due(now) {
			if _, err := s.invites.ExpireGraphInviteIfDue(ctx, inv.ID, now); err != nil {
				return internal("failed to expire invite", err)
			}
		}
	}
	return nil
}

func addressedTo(invite *store.GraphInvite, accepter *store.Identity) bool {
	if invite.InviteeDID != "" {
		return invite.InviteeDID == accepter.DID
	}
	if invite.InviteeEmail != "" && accepter.Email != "" {
		return strings.EqualFold(invite.InviteeEmail, accepter.Email)
	}
	return false
}

func labelFor(ident *store.Identity, fallbackDID string) string {
	if ident != nil {
		return ident.Label()
	}
	return fallbackDID
}

func connectionName(inviterLabel, accepterLabel string) string {
	return inviterLabel + " ↔ " + accepterLabel
}

// generateCode creates a random shareable invite code.
func generateCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
