package options

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/interlock-labs/conduit/pkg/api"
	"github.com/interlock-labs/conduit/pkg/authz"
)

// Handler exposes the dynamic-option resolution route.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the option route on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /schemas/{app}/{operation}/options/{parameter}", h.handleOptions)
}

type optionsRequest struct {
	ConnectionID     string         `json:"connectionId"`
	OperationType    string         `json:"operationType,omitempty"`
	Dependencies     map[string]any `json:"dependencies,omitempty"`
	Search           string         `json:"search,omitempty"`
	Cursor           string         `json:"cursor,omitempty"`
	Limit            int            `json:"limit,omitempty"`
	ForceRefresh     bool           `json:"forceRefresh,omitempty"`
	AdditionalConfig map[string]any `json:"additionalConfig,omitempty"`
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFrom(r.Context())
	if !ok || identity.OrganizationID == "" {
		api.WriteForbidden(w, "Organization context required")
		return
	}

	var body optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if body.ConnectionID == "" {
		api.WriteBadRequest(w, "connectionId is required")
		return
	}
	operationType := body.OperationType
	if operationType == "" {
		operationType = "action"
	}

	req := Request{
		ConnectorID:      r.PathValue("app"),
		ConnectionID:     body.ConnectionID,
		UserID:           identity.UserID,
		OrganizationID:   identity.OrganizationID,
		OperationType:    operationType,
		OperationID:      r.PathValue("operation"),
		ParameterPath:    r.PathValue("parameter"),
		Dependencies:     body.Dependencies,
		Search:           body.Search,
		Cursor:           body.Cursor,
		Limit:            body.Limit,
		ForceRefresh:     body.ForceRefresh,
		AdditionalConfig: body.AdditionalConfig,
	}

	result, err := h.service.Get(r.Context(), req)
	if err != nil {
		var missing *MissingDependenciesError
		var notFound *NotFoundError
		switch {
		case errors.As(err, &missing):
			api.WriteBadRequest(w, missing.Error())
		case errors.As(err, &notFound):
			api.WriteNotFound(w, notFound.Error())
		default:
			api.WriteInternal(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
