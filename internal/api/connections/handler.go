// Package connections implements the connection endpoints: the public
// graph-membership status lookup and leaving a connection pod.
package connections

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/podgraph/podgraph-go/internal/api"
	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/lifecycle"
	"github.com/podgraph/podgraph-go/internal/platform/logutil"
)

// Handler handles the /connections routes.
type Handler struct {
	svc    *lifecycle.Service
	logger *slog.Logger
}

// NewHandler creates a new connections handler.
func NewHandler(svc *lifecycle.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logutil.NoopIfNil(logger)}
}

// HandleStatus handles GET /connections/status/{did}. Public: graph
// membership is a boolean fact other services key trust decisions on.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	status, err := h.svc.Status(r.Context(), did)
	if err != nil {
		api.WriteLifecycleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

// HandleLeave handles DELETE /connections/{podId}: the caller leaves the pod.
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	podID := chi.URLParam(r, "podId")
	if err := h.svc.Disconnect(r.Context(), podID, ident.DID); err != nil {
		api.WriteLifecycleError(w, err)
		return
	}

	h.logger.Info("connection left over http", "pod", podID, "did", ident.DID)
	w.WriteHeader(http.StatusNoContent)
}
