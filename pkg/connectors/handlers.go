package connectors

import (
	"encoding/json"
	"net/http"
)

// Handler exposes the registry's read-only routes.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers catalog routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/registry/capabilities", h.handleCapabilities)
	mux.HandleFunc("GET /metadata/v1/connectors", h.handleCatalog)
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.registry.Capabilities())
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"connectors": h.registry.PublicCatalog(),
	})
}
