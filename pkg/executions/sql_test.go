package executions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func executionRows(ex *Execution) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "workflow_id", "organization_id", "status",
		"trigger_kind", "retry_of", "error",
		"started_at", "finished_at", "created_at",
	}).AddRow(ex.ID, ex.WorkflowID, ex.OrganizationID, ex.Status,
		ex.Trigger, ex.RetryOf, ex.Error, nil, nil, ex.CreatedAt)
}

func TestSQLStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	ex := &Execution{
		ID: "ex-1", WorkflowID: "wf-1", OrganizationID: "org-a",
		Status: StatusSucceeded, CreatedAt: time.Now(),
	}
	mock.ExpectQuery(`SELECT .+ FROM executions WHERE id = \$1 AND organization_id = \$2`).
		WithArgs("ex-1", "org-a").
		WillReturnRows(executionRows(ex))

	got, err := store.Get(context.Background(), "org-a", "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM executions WHERE id = \$1 AND organization_id = \$2`).
		WithArgs("ghost", "org-a").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), "org-a", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_CreateAssignsDefaults(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO executions`).
		WithArgs(sqlmock.AnyArg(), "wf-1", "org-a", StatusPending, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ex := &Execution{WorkflowID: "wf-1", OrganizationID: "org-a"}
	require.NoError(t, store.Create(context.Background(), ex))
	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, StatusPending, ex.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListBuildsFilterQuery(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM executions WHERE organization_id = \$1 AND workflow_id = \$2 AND status = \$3 ORDER BY created_at DESC LIMIT \$4`).
		WithArgs("org-a", "wf-1", StatusFailed, 10).
		WillReturnRows(executionRows(&Execution{
			ID: "ex-2", WorkflowID: "wf-1", OrganizationID: "org-a",
			Status: StatusFailed, CreatedAt: time.Now(),
		}))

	list, err := store.List(context.Background(), "org-a", Filter{
		WorkflowID: "wf-1", Status: StatusFailed, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusFailed, list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusStampsFinish(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE executions SET status = \$1, error = \$2, finished_at = \$4 WHERE id = \$3`).
		WithArgs(StatusFailed, "boom", "ex-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "ex-1", StatusFailed, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE executions SET status = \$1, error = \$2 WHERE id = \$3`).
		WithArgs(StatusPending, "", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.UpdateStatus(context.Background(), "ghost", StatusPending, ""), ErrNotFound)
}

func TestSQLStore_RecordNode(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO execution_nodes`).
		WithArgs(sqlmock.AnyArg(), "ex-1", "node-1", "asana", "create_task",
			StatusSucceeded, 1, "", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := &NodeRun{
		ExecutionID: "ex-1", NodeID: "node-1",
		ConnectorID: "asana", OperationID: "create_task",
		Status: StatusSucceeded,
	}
	require.NoError(t, store.RecordNode(context.Background(), run))
	assert.Equal(t, 1, run.Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
