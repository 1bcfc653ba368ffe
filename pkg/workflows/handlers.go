package workflows

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/interlock-labs/conduit/pkg/api"
	"github.com/interlock-labs/conduit/pkg/authz"
)

// Handler exposes the workflow version routes.
type Handler struct {
	store *VersionStore
}

func NewHandler(store *VersionStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers version routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows/{workflowId}/publish",
		authz.RequirePermission(authz.PermWorkflowDeploy, h.handlePublish))
	mux.HandleFunc("GET /api/workflows/{workflowId}/diff/{environment}",
		authz.RequirePermission(authz.PermWorkflowView, h.handleDiff))
	mux.HandleFunc("POST /api/workflows/{workflowId}/rollback",
		authz.RequirePermission(authz.PermWorkflowDeploy, h.handleRollback))
}

type publishRequest struct {
	Environment string          `json:"environment"`
	Definition  json.RawMessage `json:"definition"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFrom(r.Context())
	if !ok || identity.OrganizationID == "" {
		api.WriteForbidden(w, "Organization context required")
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Environment == "" {
		req.Environment = EnvProduction
	}
	if len(req.Definition) == 0 {
		api.WriteBadRequest(w, "definition is required")
		return
	}

	v, err := h.store.Publish(r.Context(), identity.OrganizationID,
		r.PathValue("workflowId"), req.Environment, identity.UserID, req.Definition)
	if err != nil {
		writeVersionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFrom(r.Context())
	if !ok || identity.OrganizationID == "" {
		api.WriteForbidden(w, "Organization context required")
		return
	}

	diff, err := h.store.DiffAgainstDraft(r.Context(), identity.OrganizationID,
		r.PathValue("workflowId"), r.PathValue("environment"))
	if err != nil {
		writeVersionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(diff)
}

type rollbackRequest struct {
	Environment string `json:"environment"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFrom(r.Context())
	if !ok || identity.OrganizationID == "" {
		api.WriteForbidden(w, "Organization context required")
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Environment == "" {
		req.Environment = EnvProduction
	}

	v, err := h.store.Rollback(r.Context(), identity.OrganizationID,
		r.PathValue("workflowId"), req.Environment)
	if err != nil {
		writeVersionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeVersionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadEnvironment):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNoPrevious):
		api.WriteConflict(w, err.Error())
	case errors.Is(err, ErrNotFound):
		api.WriteNotFound(w, "Workflow version not found")
	default:
		api.WriteInternal(w, err)
	}
}
