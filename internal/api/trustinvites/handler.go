// Package trustinvites implements the directed trust-graph invite endpoints:
// create, list, accept, revoke. These invites are single-target and run the
// pending/accepted/revoked/expired state machine.
package trustinvites

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

// Handler handles the /trust-invites routes.
type Handler struct {
	svc    *lifecycle.Service
	logger *slog.Logger
}

// NewHandler creates a new trust-invites handler.
func NewHandler(svc *lifecycle.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logutil.NoopIfNil(logger)}
}

// CreateRequest is the body of POST /trust-invites. Exactly one of
// InviteeDID and InviteeEmail addresses the invite.
type CreateRequest struct {
	InviteeDID   string `json:"inviteeDid"`
	InviteeEmail string `json:"inviteeEmail"`
}

// InviteResponse is the wire shape of a trust-graph invite.
type InviteResponse struct {
	ID           string     `json:"id"`
	InviterDID   string     `json:"inviterDid"`
	InviteeDID   string     `json:"inviteeDid,omitempty"`
	InviteeEmail string     `json:"inviteeEmail,omitempty"`
	Status       string     `json:"status"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ListResponse splits invites by direction relative to the caller.
type ListResponse struct {
	Sent     []InviteResponse `json:"sent"`
	Received []InviteResponse `json:"received"`
}

// AcceptResponse is the body of a successful accept: the formed connection.
type AcceptResponse struct {
	PodID   string    `json:"podId"`
	Name    string    `json:"name"`
	Created time.Time `json:"createdAt"`
}

func toInviteResponse(inv *store.GraphInvite) InviteResponse {
	return InviteResponse{
		ID:           inv.ID,
		InviterDID:   inv.InviterDID,
		InviteeDID:   inv.InviteeDID,
		InviteeEmail: inv.InviteeEmail,
		Status:       string(inv.Status),
		ExpiresAt:    inv.ExpiresAt,
		AcceptedAt:   inv.AcceptedAt,
		CreatedAt:    inv.CreatedAt,
	}
}

// HandleCreate handles POST /trust-invites.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "failed to parse request body")
		return
	}

	inv, err := h.svc.CreateGraphInvite(r.Context(), ident, lifecycle.GraphInviteTarget{
		DID:   req.InviteeDID,
		Email: req.InviteeEmail,
	})
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, toInviteResponse(inv))
}

// HandleList handles GET /trust-invites: invites sent by and addressed to
// the caller.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	list, err := h.svc.ListGraphInvites(r.Context(), ident)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	out := ListResponse{
		Sent:     make([]InviteResponse, 0, len(list.Sent)),
		Received: make([]InviteResponse, 0, len(list.Received)),
	}
	for _, inv := range list.Sent {
		out.Sent = append(out.Sent, toInviteResponse(inv))
	}
	for _, inv := range list.Received {
		out.Received = append(out.Received, toInviteResponse(inv))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// HandleAccept handles POST /trust-invites/{id}/accept.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	pod, err := h.svc.AcceptGraphInvite(r.Context(), id, ident)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	h.logger.Info("trust invite accepted over http", "id", id, "by", ident.DID)
	api.WriteJSON(w, http.StatusOK, AcceptResponse{
		PodID:   pod.ID,
		Name:    pod.Name,
		Created: pod.CreatedAt,
	})
}

// HandleRevoke handles DELETE /trust-invites/{id}.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.RevokeGraphInvite(r.Context(), id, ident); err != nil {
		api.WriteLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
