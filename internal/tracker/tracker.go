// Package tracker records long-running operations (daily runs, validations,
// backfills) in the workflows table so API clients can poll their progress
// after the triggering request has returned.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/google/uuid"
)

// Workflow statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Workflow is one tracked operation
type Workflow struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Output     string     `json:"output"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Tracker persists workflow state
type Tracker struct {
	db     *sql.DB
	logger logger.Logger
}

// New creates a Tracker on an existing database handle. The workflows table
// is created by the store schema.
func New(db *sql.DB) *Tracker {
	return &Tracker{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("tracker"),
	}
}

// Start registers a new running workflow and returns its id
func (t *Tracker) Start(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	_, err := t.db.ExecContext(ctx,
		"INSERT INTO workflows (id, name, status, started_at) VALUES (?, ?, ?, ?)",
		id, name, StatusRunning, time.Now().UTC())
	if err != nil {
		return "", errors.StoreError(errors.CodeStoreUnavailable, "start workflow", err)
	}

	t.logger.WithFields(logger.Fields{"workflow_id": id, "name": name}).Info("Workflow started")
	return id, nil
}

// AppendOutput appends a line to the workflow's output log
func (t *Tracker) AppendOutput(ctx context.Context, id, line string) error {
	_, err := t.db.ExecContext(ctx,
		"UPDATE workflows SET output = output || ? WHERE id = ?",
		line+"\n", id)
	if err != nil {
		return errors.StoreError(errors.CodeStoreUnavailable, "append workflow output", err)
	}
	return nil
}

// Finish marks the workflow succeeded or failed and stamps its end time
func (t *Tracker) Finish(ctx context.Context, id string, succeeded bool) error {
	status := StatusSucceeded
	if !succeeded {
		status = StatusFailed
	}

	_, err := t.db.ExecContext(ctx,
		"UPDATE workflows SET status = ?, finished_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return errors.StoreError(errors.CodeStoreUnavailable, "finish workflow", err)
	}

	t.logger.WithFields(logger.Fields{"workflow_id": id, "status": status}).Info("Workflow finished")
	return nil
}

// Get returns one workflow by id, or nil when it does not exist
func (t *Tracker) Get(ctx context.Context, id string) (*Workflow, error) {
	row := t.db.QueryRowContext(ctx,
		"SELECT id, name, status, output, started_at, finished_at FROM workflows WHERE id = ?", id)

	workflow, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "get workflow", err)
	}
	return workflow, nil
}

// List returns the most recent workflows, newest first
func (t *Tracker) List(ctx context.Context, limit int) ([]*Workflow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := t.db.QueryContext(ctx,
		"SELECT id, name, status, output, started_at, finished_at FROM workflows ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "list workflows", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, "list workflows", err)
		}
		workflows = append(workflows, workflow)
	}
	return workflows, rows.Err()
}

// Cleanup removes finished workflows older than the retention period and
// returns how many were removed.
func (t *Tracker) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := t.db.ExecContext(ctx,
		"DELETE FROM workflows WHERE status != ? AND started_at < ?",
		StatusRunning, cutoff)
	if err != nil {
		return 0, errors.StoreError(errors.CodeStoreUnavailable, "cleanup workflows", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		t.logger.WithField("removed", affected).Info("Cleaned up old workflows")
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var workflow Workflow
	var finished sql.NullTime

	err := row.Scan(&workflow.ID, &workflow.Name, &workflow.Status,
		&workflow.Output, &workflow.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		workflow.FinishedAt = &finished.Time
	}
	return &workflow, nil
}
