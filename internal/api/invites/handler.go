// Package invites implements the shareable invite-code endpoints: create,
// list, lookup, revoke, and accept. Accepting a code forms a connection
// between the code's creator and the accepter.
package invites

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podgraph/podgraph-go/internal/api"
	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/lifecycle"
	"github.com/podgraph/podgraph-go/internal/platform/logutil"
	"github.com/podgraph/podgraph-go/internal/store"
)

// Handler handles the /invites routes.
type Handler struct {
	svc    *lifecycle.Service
	logger *slog.Logger
}

// NewHandler creates a new invites handler.
func NewHandler(svc *lifecycle.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logutil.NoopIfNil(logger)}
}

// CreateRequest is the body of POST /invites.
type CreateRequest struct {
	MaxUses int `json:"maxUses"`
}

// InviteResponse is the wire shape of a simple invite.
type InviteResponse struct {
	Code       string     `json:"code"`
	FromDID    string     `json:"fromDid"`
	MaxUses    int        `json:"maxUses"`
	UsedCount  int        `json:"usedCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	ConsumedBy string     `json:"consumedBy,omitempty"`
}

// CreateResponse is the body of a successful POST /invites: the invite plus
// the caller's remaining quota.
type CreateResponse struct {
	Invite    InviteResponse `json:"invite"`
	Limit     int            `json:"limit"`
	Remaining int            `json:"remaining"`
}

// AcceptResponse is the body of a successful accept: the formed connection.
type AcceptResponse struct {
	PodID   string    `json:"podId"`
	Name    string    `json:"name"`
	Created time.Time `json:"createdAt"`
}

func toInviteResponse(inv *store.SimpleInvite) InviteResponse {
	return InviteResponse{
		Code:       inv.Code,
		FromDID:    inv.FromDID,
		MaxUses:    inv.MaxUses,
		UsedCount:  inv.UsedCount,
		CreatedAt:  inv.CreatedAt,
		ConsumedAt: inv.ConsumedAt,
		ConsumedBy: inv.ConsumedBy,
	}
}

// HandleCreate handles POST /invites.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req CreateRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteBadRequest(w, api.ReasonBadRequest, "failed to parse request body")
			return
		}
	}

	res, err := h.svc.CreateSimpleInvite(r.Context(), ident, req.MaxUses)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreateResponse{
		Invite:    toInviteResponse(res.Invite),
		Limit:     res.Limit,
		Remaining: res.Remaining,
	})
}

// HandleList handles GET /invites: the caller's own invites.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	invites, err := h.svc.ListSimpleInvites(r.Context(), ident.DID)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	out := make([]InviteResponse, 0, len(invites))
	for _, inv := range invites {
		out = append(out, toInviteResponse(inv))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /invites/{code}. Public: the invite landing page
// fetches this without a session.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	inv, err := h.svc.GetSimpleInvite(r.Context(), code)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toInviteResponse(inv))
}

// HandleRevoke handles DELETE /invites/{code}.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	code := chi.URLParam(r, "code")
	if err := h.svc.RevokeSimpleInvite(r.Context(), code, ident.DID); err != nil {
		api.WriteLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAccept handles POST /invites/{code}/accept.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	code := chi.URLParam(r, "code")
	pod, err := h.svc.AcceptSimpleInvite(r.Context(), code, ident)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	h.logger.Info("invite accepted over http", "code", code, "by", ident.DID)
	api.WriteJSON(w, http.StatusCreated, AcceptResponse{
		PodID:   pod.ID,
		Name:    pod.Name,
		Created: pod.CreatedAt,
	})
}
