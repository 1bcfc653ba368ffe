package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/interlock-labs/conduit/pkg/api"
	"github.com/interlock-labs/conduit/pkg/authz"
	"github.com/interlock-labs/conduit/pkg/credentials"
)

var spreadsheetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CredentialsLookup loads the credential record for a connection in the
// caller's organization.
type CredentialsLookup func(ctx context.Context, organizationID, connectionID string) (map[string]any, error)

// Handler exposes the metadata resolution routes.
type Handler struct {
	service *Service
	lookup  CredentialsLookup
}

func NewHandler(service *Service, lookup CredentialsLookup) *Handler {
	return &Handler{service: service, lookup: lookup}
}

// RegisterRoutes registers metadata routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /metadata/resolve", h.handleResolve)
	mux.HandleFunc("GET /api/sheets/{spreadsheetId}/metadata", h.handleSheets)
}

type resolveRequest struct {
	Connector    string         `json:"connector"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Credentials  map[string]any `json:"credentials,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Connector == "" {
		api.WriteBadRequest(w, "connector is required")
		return
	}

	creds := req.Credentials
	if req.ConnectionID != "" && h.lookup != nil {
		identity, ok := authz.IdentityFrom(r.Context())
		if !ok || identity.OrganizationID == "" {
			api.WriteForbidden(w, "Organization context required")
			return
		}
		record, err := h.lookup(r.Context(), identity.OrganizationID, req.ConnectionID)
		if err != nil {
			api.WriteNotFound(w, "Connection not found")
			return
		}
		creds = record
	}

	result := h.service.Resolve(r.Context(), req.Connector, &Request{
		Credentials: credentials.New(creds),
		Params:      req.Params,
		Options:     req.Options,
	})
	writeResult(w, result)
}

func (h *Handler) handleSheets(w http.ResponseWriter, r *http.Request) {
	spreadsheetID := r.PathValue("spreadsheetId")
	if !spreadsheetIDPattern.MatchString(spreadsheetID) {
		api.WriteBadRequest(w, "Invalid spreadsheet id")
		return
	}

	var creds map[string]any
	if connectionID := r.URL.Query().Get("connectionId"); connectionID != "" && h.lookup != nil {
		identity, ok := authz.IdentityFrom(r.Context())
		if !ok || identity.OrganizationID == "" {
			api.WriteForbidden(w, "Organization context required")
			return
		}
		record, err := h.lookup(r.Context(), identity.OrganizationID, connectionID)
		if err != nil {
			api.WriteNotFound(w, "Connection not found")
			return
		}
		creds = record
	}

	params := map[string]any{"spreadsheetId": spreadsheetID}
	if sheetName := r.URL.Query().Get("sheetName"); sheetName != "" {
		params["sheetName"] = sheetName
	}

	result := h.service.Resolve(r.Context(), "google-sheets", &Request{
		Credentials: credentials.New(creds),
		Params:      params,
	})
	writeResult(w, result)
}

// writeResult serializes a Result, preserving the vendor status where it
// maps onto a caller-facing one.
func writeResult(w http.ResponseWriter, result *Result) {
	status := http.StatusOK
	if !result.Success {
		switch result.Status {
		case 400, 401, 403, 404, 422:
			status = result.Status
		case 429:
			status = http.StatusTooManyRequests
		default:
			status = http.StatusBadGateway
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
