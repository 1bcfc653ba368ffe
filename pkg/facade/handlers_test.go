package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-labs/conduit/pkg/authz"
	"github.com/interlock-labs/conduit/pkg/executions"
)

func deployIdentity() *authz.Identity {
	return &authz.Identity{
		UserID:         "user-1",
		OrganizationID: "org-1",
		Role:           authz.RoleAdmin,
		Permissions:    authz.PermissionsFor(authz.RoleAdmin),
	}
}

func executeRequestBody(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/executions", strings.NewReader(body))
	return req.WithContext(authz.WithIdentity(context.Background(), deployIdentity()))
}

func TestHandleExecute_RecordsExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "42"})
	}))
	defer srv.Close()

	store := executions.NewMemoryStore()
	factory := NewFactory(FactoryConfig{
		Registry: testRegistry(t, srv.URL),
		Lookup:   testLookup(testConnection()),
	})
	mux := http.NewServeMux()
	NewHandler(factory, store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, executeRequestBody(t,
		`{"connectionId":"conn-1","operation":"get_task","params":{"taskId":"42"}}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp executeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Result.Success)
	require.NotEmpty(t, resp.ExecutionID)

	ex, err := store.Get(context.Background(), "org-1", resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, executions.StatusSucceeded, ex.Status)

	runs, err := store.Timeline(context.Background(), "org-1", resp.ExecutionID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "get_task", runs[0].OperationID)
	assert.Equal(t, executions.StatusSucceeded, runs[0].Status)
	require.NotNil(t, runs[0].StartedAt)
	require.NotNil(t, runs[0].FinishedAt)
	assert.False(t, runs[0].FinishedAt.Before(*runs[0].StartedAt))
}

func TestHandleExecute_FailureMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer srv.Close()

	store := executions.NewMemoryStore()
	factory := NewFactory(FactoryConfig{
		Registry: testRegistry(t, srv.URL),
		Lookup:   testLookup(testConnection()),
	})
	mux := http.NewServeMux()
	NewHandler(factory, store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, executeRequestBody(t,
		`{"connectionId":"conn-1","operation":"listProjects"}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp executeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Success)

	ex, err := store.Get(context.Background(), "org-1", resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, executions.StatusFailed, ex.Status)
}

func TestHandleExecute_ValidatesBody(t *testing.T) {
	store := executions.NewMemoryStore()
	factory := NewFactory(FactoryConfig{
		Registry: testRegistry(t, "http://unused"),
		Lookup:   testLookup(testConnection()),
	})
	mux := http.NewServeMux()
	NewHandler(factory, store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, executeRequestBody(t, `{"operation":"get_task"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute_UnknownConnection(t *testing.T) {
	store := executions.NewMemoryStore()
	factory := NewFactory(FactoryConfig{
		Registry: testRegistry(t, "http://unused"),
		Lookup:   testLookup(nil),
	})
	mux := http.NewServeMux()
	NewHandler(factory, store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, executeRequestBody(t,
		`{"connectionId":"ghost","operation":"get_task"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleExecute_RequiresPermission(t *testing.T) {
	store := executions.NewMemoryStore()
	factory := NewFactory(FactoryConfig{
		Registry: testRegistry(t, "http://unused"),
		Lookup:   testLookup(testConnection()),
	})
	mux := http.NewServeMux()
	NewHandler(factory, store, nil).RegisterRoutes(mux)

	viewer := &authz.Identity{
		UserID:         "user-2",
		OrganizationID: "org-1",
		Role:           authz.RoleViewer,
		Permissions:    authz.PermissionsFor(authz.RoleViewer),
	}
	req := httptest.NewRequest("POST", "/api/executions",
		strings.NewReader(`{"connectionId":"conn-1","operation":"get_task"}`))
	req = req.WithContext(authz.WithIdentity(context.Background(), viewer))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemoryConnections_Scoping(t *testing.T) {
	store := NewMemoryConnections()
	store.Put(testConnection())

	conn, err := store.Lookup(context.Background(), "org-1", "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "tracker", conn.ConnectorID)

	_, err = store.Lookup(context.Background(), "org-2", "conn-1")
	assert.Error(t, err, "foreign org cannot resolve the connection")

	_, err = store.Lookup(context.Background(), "", "conn-1")
	assert.Error(t, err, "lookups without an organization fail")

	creds, err := store.CredentialsLookup(context.Background(), "org-1", "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", creds["accessToken"])
	_ = conn
}
