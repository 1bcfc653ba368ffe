package executions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists executions in PostgreSQL or SQLite. Placeholders use
// the $n form, which both drivers accept.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the execution tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_kind TEXT,
			retry_of TEXT,
			error TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_org_created
			ON executions (organization_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS execution_nodes (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			connector_id TEXT,
			operation_id TEXT,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			error TEXT,
			output TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_nodes_execution
			ON execution_nodes (execution_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate executions: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, ex *Execution) error {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.Status == "" {
		ex.Status = StatusPending
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, organization_id, status, trigger_kind, retry_of, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ex.ID, ex.WorkflowID, ex.OrganizationID, ex.Status, ex.Trigger, ex.RetryOf, ex.Error, ex.CreatedAt)
	return err
}

const executionColumns = `id, workflow_id, organization_id, status,
	COALESCE(trigger_kind, ''), COALESCE(retry_of, ''), COALESCE(error, ''),
	started_at, finished_at, created_at`

func scanExecution(row interface{ Scan(...any) error }) (*Execution, error) {
	var ex Execution
	var started, finished sql.NullTime
	err := row.Scan(&ex.ID, &ex.WorkflowID, &ex.OrganizationID, &ex.Status,
		&ex.Trigger, &ex.RetryOf, &ex.Error, &started, &finished, &ex.CreatedAt)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		ex.StartedAt = &started.Time
	}
	if finished.Valid {
		ex.FinishedAt = &finished.Time
	}
	return &ex, nil
}

func (s *SQLStore) Get(ctx context.Context, organizationID, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1 AND organization_id = $2`,
		id, organizationID)
	ex, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ex, err
}

func (s *SQLStore) List(ctx context.Context, organizationID string, f Filter) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE organization_id = $1`
	args := []any{organizationID}
	if f.WorkflowID != "" {
		args = append(args, f.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	var stampColumn string
	switch status {
	case StatusRunning:
		stampColumn = "started_at"
	case StatusSucceeded, StatusFailed, StatusCanceled:
		stampColumn = "finished_at"
	}

	query := `UPDATE executions SET status = $1, error = $2 WHERE id = $3`
	if stampColumn != "" {
		query = `UPDATE executions SET status = $1, error = $2, ` + stampColumn + ` = $4 WHERE id = $3`
	}
	args := []any{status, errMsg, id}
	if stampColumn != "" {
		args = append(args, time.Now().UTC())
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) RecordNode(ctx context.Context, run *NodeRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Attempt == 0 {
		run.Attempt = 1
	}
	var output any
	if len(run.Output) > 0 {
		output = string(run.Output)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_nodes (id, execution_id, node_id, connector_id, operation_id, status, attempt, error, output, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.ExecutionID, run.NodeID, run.ConnectorID, run.OperationID,
		run.Status, run.Attempt, run.Error, output, run.StartedAt, run.FinishedAt)
	return err
}

func (s *SQLStore) Timeline(ctx context.Context, organizationID, executionID string) ([]*NodeRun, error) {
	if _, err := s.Get(ctx, organizationID, executionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, COALESCE(connector_id, ''), COALESCE(operation_id, ''),
			status, attempt, COALESCE(error, ''), COALESCE(output, ''), started_at, finished_at
		 FROM execution_nodes WHERE execution_id = $1 ORDER BY started_at, attempt`,
		executionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*NodeRun
	for rows.Next() {
		var run NodeRun
		var output string
		var started, finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.ExecutionID, &run.NodeID, &run.ConnectorID,
			&run.OperationID, &run.Status, &run.Attempt, &run.Error, &output,
			&started, &finished); err != nil {
			return nil, err
		}
		if output != "" {
			run.Output = []byte(output)
		}
		if started.Valid {
			run.StartedAt = &started.Time
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func (s *SQLStore) Retry(ctx context.Context, organizationID, id string) (*Execution, error) {
	original, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	clone := &Execution{
		WorkflowID:     original.WorkflowID,
		OrganizationID: original.OrganizationID,
		Status:         StatusPending,
		Trigger:        "retry",
		RetryOf:        original.ID,
	}
	if err := s.Create(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

func (s *SQLStore) RetryNode(ctx context.Context, organizationID, executionID, nodeID string) (*NodeRun, error) {
	runs, err := s.Timeline(ctx, organizationID, executionID)
	if err != nil {
		return nil, err
	}
	attempt := 0
	var template *NodeRun
	for _, run := range runs {
		if run.NodeID == nodeID {
			template = run
			if run.Attempt > attempt {
				attempt = run.Attempt
			}
		}
	}
	if template == nil {
		return nil, ErrNotFound
	}
	retry := &NodeRun{
		ExecutionID: executionID,
		NodeID:      nodeID,
		ConnectorID: template.ConnectorID,
		OperationID: template.OperationID,
		Status:      StatusPending,
		Attempt:     attempt + 1,
	}
	if err := s.RecordNode(ctx, retry); err != nil {
		return nil, err
	}
	return retry, nil
}

var _ Store = (*SQLStore)(nil)
var _ Store = (*MemoryStore)(nil)
