package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interlock-labs/conduit/pkg/api"
)

// DefaultStateTTL bounds how long an authorization flow may stay open.
const DefaultStateTTL = 10 * time.Minute

// ProviderConfig declares one OAuth provider's authorization endpoint.
type ProviderConfig struct {
	AuthorizeURL string
	ClientID     string
	Scopes       []string
	// ExtraParams are appended to every authorization URL (e.g.
	// access_type=offline for Google).
	ExtraParams map[string]string
}

type flowState struct {
	Provider     string
	ReturnURL    string
	ConnectionID string
	CreatedAt    time.Time
}

// stateStore holds pending authorization flows keyed by state token.
type stateStore struct {
	mu    sync.Mutex
	flows map[string]flowState
	ttl   time.Duration
	now   func() time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{flows: make(map[string]flowState), ttl: ttl, now: time.Now}
}

func (s *stateStore) put(fs flowState) string {
	state := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.flows {
		if s.now().Sub(v.CreatedAt) > s.ttl {
			delete(s.flows, k)
		}
	}
	fs.CreatedAt = s.now()
	s.flows[state] = fs
	return state
}

func (s *stateStore) take(state string) (flowState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.flows[state]
	if !ok {
		return flowState{}, false
	}
	delete(s.flows, state)
	if s.now().Sub(fs.CreatedAt) > s.ttl {
		return flowState{}, false
	}
	return fs, true
}

// Handler exposes the OAuth authorization routes. The code-for-token
// exchange happens downstream; these routes mint state, build the
// provider authorize URL, and bounce the callback to the caller's
// return URL.
type Handler struct {
	providers   map[string]ProviderConfig
	states      *stateStore
	callbackURL string
}

// NewHandler builds the OAuth route handler. publicURL is the server's
// externally reachable origin used to derive the callback URL.
func NewHandler(providers map[string]ProviderConfig, publicURL string) *Handler {
	normalized := make(map[string]ProviderConfig, len(providers))
	for name, cfg := range providers {
		normalized[strings.ToLower(name)] = cfg
	}
	return &Handler{
		providers:   normalized,
		states:      newStateStore(DefaultStateTTL),
		callbackURL: strings.TrimRight(publicURL, "/") + "/api/oauth/callback",
	}
}

// RegisterRoutes registers OAuth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/oauth/authorize/{provider}", h.handleAuthorize)
	mux.HandleFunc("GET /api/oauth/callback/{provider}", h.handleCallback)
}

type authorizeRequest struct {
	ReturnURL    string   `json:"returnUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
	Label        string   `json:"label,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(r.PathValue("provider"))
	cfg, ok := h.providers[provider]
	if !ok {
		api.WriteNotFound(w, "Unknown OAuth provider")
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	state := h.states.put(flowState{
		Provider:     provider,
		ReturnURL:    req.ReturnURL,
		ConnectionID: req.ConnectionID,
	})

	scopes := cfg.Scopes
	if len(req.Scopes) > 0 {
		scopes = req.Scopes
	}

	values := url.Values{}
	values.Set("client_id", cfg.ClientID)
	values.Set("redirect_uri", h.callbackURL+"/"+provider)
	values.Set("response_type", "code")
	values.Set("state", state)
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}
	for k, v := range cfg.ExtraParams {
		values.Set(k, v)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"authUrl": cfg.AuthorizeURL + "?" + values.Encode(),
		"state":   state,
	})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(r.PathValue("provider"))
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		api.WriteBadRequest(w, "code and state are required")
		return
	}

	flow, ok := h.states.take(state)
	if !ok || flow.Provider != provider {
		api.WriteBadRequest(w, "Unknown or expired state")
		return
	}
	if flow.ReturnURL == "" {
		// No return target; report completion inline.
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"provider": provider,
			"code":     code,
			"state":    state,
		})
		return
	}

	values := url.Values{}
	values.Set("code", code)
	values.Set("state", state)
	values.Set("provider", provider)
	if flow.ConnectionID != "" {
		values.Set("connectionId", flow.ConnectionID)
	}
	if email := r.URL.Query().Get("email"); email != "" {
		values.Set("email", email)
	}

	sep := "?"
	if strings.Contains(flow.ReturnURL, "?") {
		sep = "&"
	}
	http.Redirect(w, r, flow.ReturnURL+sep+values.Encode(), http.StatusFound)
}
