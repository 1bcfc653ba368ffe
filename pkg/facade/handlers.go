package facade

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/interlock-labs/conduit/pkg/api"
	"github.com/interlock-labs/conduit/pkg/authz"
	"github.com/interlock-labs/conduit/pkg/envelope"
	"github.com/interlock-labs/conduit/pkg/executions"
	"github.com/interlock-labs/conduit/pkg/observability"
)

// Handler exposes the synchronous execution route.
type Handler struct {
	factory   *Factory
	store     executions.Store
	telemetry *observability.Provider
}

// NewHandler builds the execution route handler. telemetry may be nil.
func NewHandler(factory *Factory, store executions.Store, telemetry *observability.Provider) *Handler {
	return &Handler{factory: factory, store: store, telemetry: telemetry}
}

// RegisterRoutes registers the execution route on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/executions",
		authz.RequirePermission(authz.PermWorkflowDeploy, h.handleExecute))
}

type executeRequest struct {
	ConnectionID string         `json:"connectionId"`
	Operation    string         `json:"operation"`
	Params       map[string]any `json:"params,omitempty"`
	WorkflowID   string         `json:"workflowId,omitempty"`
	NodeID       string         `json:"nodeId,omitempty"`
}

type executeResponse struct {
	ExecutionID string             `json:"executionId"`
	Result      *envelope.Response `json:"result"`
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFrom(r.Context())
	if !ok || identity.OrganizationID == "" {
		api.WriteForbidden(w, "Organization context required")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ConnectionID == "" || req.Operation == "" {
		api.WriteBadRequest(w, "connectionId and operation are required")
		return
	}

	fc, err := h.factory.ForConnection(r.Context(), identity.OrganizationID, req.ConnectionID)
	if err != nil {
		api.WriteNotFound(w, err.Error())
		return
	}

	ex := &executions.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     req.WorkflowID,
		OrganizationID: identity.OrganizationID,
		Status:         executions.StatusRunning,
		Trigger:        "api",
	}
	if err := h.store.Create(r.Context(), ex); err != nil {
		api.WriteInternal(w, err)
		return
	}

	ctx := r.Context()
	done := func(error) {}
	if h.telemetry != nil {
		ctx, done = h.telemetry.TrackOperation(ctx, "execute",
			observability.AttrConnectorID.String(fc.ConnectorID()),
			observability.AttrOperationID.String(req.Operation),
			observability.AttrOrganization.String(identity.OrganizationID),
			observability.AttrExecutionID.String(ex.ID),
		)
	}

	started := time.Now().UTC()
	resp := fc.Execute(ctx, req.Operation, req.Params)

	status := executions.StatusSucceeded
	var execErr error
	if !resp.Success {
		status = executions.StatusFailed
		execErr = errors.New(resp.Error)
	}
	done(execErr)

	output, _ := json.Marshal(resp)
	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = req.Operation
	}
	finished := time.Now().UTC()
	_ = h.store.RecordNode(ctx, &executions.NodeRun{
		ID:          uuid.NewString(),
		ExecutionID: ex.ID,
		NodeID:      nodeID,
		ConnectorID: fc.ConnectorID(),
		OperationID: req.Operation,
		Status:      status,
		Attempt:     1,
		Error:       resp.Error,
		Output:      output,
		StartedAt:   &started,
		FinishedAt:  &finished,
	})
	_ = h.store.UpdateStatus(ctx, ex.ID, status, resp.Error)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(api.FailureStatus(resp))
	_ = json.NewEncoder(w).Encode(executeResponse{ExecutionID: ex.ID, Result: resp})
}
