package executions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/interlock-labs/conduit/pkg/api"
	"github.com/interlock-labs/conduit/pkg/authz"
)

// Handler exposes the execution history routes.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers execution routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executions", authz.RequirePermission(authz.PermWorkflowView, h.handleList))
	mux.HandleFunc("GET /api/executions/{id}", authz.RequirePermission(authz.PermWorkflowView, h.handleGet))
	mux.HandleFunc("GET /api/executions/{id}/timeline", authz.RequirePermission(authz.PermWorkflowView, h.handleTimeline))
	mux.HandleFunc("POST /api/executions/{id}/retry", authz.RequirePermission(authz.PermWorkflowDeploy, h.handleRetry))
	mux.HandleFunc("POST /api/executions/{id}/nodes/{nodeId}/retry", authz.RequirePermission(authz.PermWorkflowDeploy, h.handleRetryNode))
}

func organizationID(r *http.Request) (string, bool) {
	identity, ok := authz.IdentityFrom(r.Context())
	if !ok || identity.OrganizationID == "" {
		return "", false
	}
	return identity.OrganizationID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(r)
	if !ok {
		api.WriteForbidden(w, "Organization context required")
		return
	}

	q := r.URL.Query()
	filter := Filter{
		WorkflowID: q.Get("workflowId"),
		Status:     q.Get("status"),
		Limit:      50,
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	list, err := h.store.List(r.Context(), orgID, filter)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if list == nil {
		list = []*Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(r)
	if !ok {
		api.WriteForbidden(w, "Organization context required")
		return
	}
	ex, err := h.store.Get(r.Context(), orgID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(r)
	if !ok {
		api.WriteForbidden(w, "Organization context required")
		return
	}
	runs, err := h.store.Timeline(r.Context(), orgID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []*NodeRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": runs})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(r)
	if !ok {
		api.WriteForbidden(w, "Organization context required")
		return
	}
	clone, err := h.store.Retry(r.Context(), orgID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, clone)
}

func (h *Handler) handleRetryNode(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(r)
	if !ok {
		api.WriteForbidden(w, "Organization context required")
		return
	}
	run, err := h.store.RetryNode(r.Context(), orgID, r.PathValue("id"), r.PathValue("nodeId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		api.WriteNotFound(w, "Execution not found")
		return
	}
	api.WriteInternal(w, err)
}
