package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// StaleExecutionReason is the fixed error recorded on steps interrupted by a
// process restart. FindInterruptedPipelineRun matches on it.
const StaleExecutionReason = "Server restarted — pipeline interrupted"

// terminalGuard excludes terminal rows from status transitions. Terminal
// steps are never reopened except by ResetIncompleteSteps on resume.
const terminalGuard = `status NOT IN ('completed', 'failed', 'stopped')`

// ExecutionStore manages pipeline runs and their step rows.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreatePipelineRun persists a run and its planned steps in one transaction.
// Steps are inserted with status pending; IDs are assigned here.
func (s *ExecutionStore) CreatePipelineRun(httpCtx context.Context, run *models.PipelineRun, steps []*models.Step) error {
	if run.ChatID == "" {
		return NewValidationError("chat_id", "required")
	}
	if !run.Intent.IsValid() {
		return NewValidationError("intent", "invalid value")
	}
	if !run.Scope.IsValid() {
		return NewValidationError("scope", "invalid value")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, chat_id, project_id, project_path, user_message,
		                            intent, scope, aborted, current_batch, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		run.ID, run.ChatID, run.ProjectID, run.ProjectPath, run.UserMessage,
		string(run.Intent), string(run.Scope), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}

	for _, step := range steps {
		if err := insertStep(ctx, tx, run.ID, step); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertSteps adds steps to an existing run, used by dynamic plan expansion
// (parallel dev split, remediation, summary).
func (s *ExecutionStore) InsertSteps(httpCtx context.Context, runID string, steps []*models.Step) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, step := range steps {
		if err := insertStep(ctx, tx, runID, step); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, runID string, step *models.Step) error {
	if step.AgentKey == "" {
		return NewValidationError("agent_key", "required")
	}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	step.PipelineRunID = runID
	if step.Status == "" {
		step.Status = models.StepStatusPending
	}

	deps, err := json.Marshal(step.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal depends_on: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_executions (id, pipeline_run_id, agent_key, instance_id, input,
		                               depends_on, retry_count, status)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		step.ID, runID, step.AgentKey, step.InstanceID, step.Input,
		string(deps), string(step.Status))
	if err != nil {
		return fmt.Errorf("failed to create step: %w", err)
	}
	return nil
}

// UpdateStepDependencies rewrites a step's dependency set, used when the
// parallel dev split re-points dependents at the app step.
func (s *ExecutionStore) UpdateStepDependencies(httpCtx context.Context, stepID string, deps []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	encoded, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("failed to marshal depends_on: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE agent_executions SET depends_on = ? WHERE id = ?`, string(encoded), stepID)
	if err != nil {
		return fmt.Errorf("failed to update step dependencies: %w", err)
	}
	return nil
}

// DeletePendingStep removes a step that never started, used when the
// parallel dev split replaces the single frontend-dev step.
func (s *ExecutionStore) DeletePendingStep(httpCtx context.Context, stepID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_executions WHERE id = ? AND status = 'pending'`, stepID)
	if err != nil {
		return fmt.Errorf("failed to delete step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPipelineRun retrieves a run by ID.
func (s *ExecutionStore) GetPipelineRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, project_id, project_path, user_message, intent, scope,
		        aborted, current_batch, started_at
		 FROM pipeline_runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestPipelineRun retrieves the most recent run for a chat.
func (s *ExecutionStore) LatestPipelineRun(ctx context.Context, chatID string) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, project_id, project_path, user_message, intent, scope,
		        aborted, current_batch, started_at
		 FROM pipeline_runs WHERE chat_id = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`, chatID)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*models.PipelineRun, error) {
	var r models.PipelineRun
	var intent, scope, startedAt string
	var aborted int
	err := row.Scan(&r.ID, &r.ChatID, &r.ProjectID, &r.ProjectPath, &r.UserMessage,
		&intent, &scope, &aborted, &r.CurrentBatch, &startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}
	r.Intent = models.Intent(intent)
	r.Scope = models.Scope(scope)
	r.Aborted = aborted != 0
	r.StartedAt = parseTime(startedAt)
	return &r, nil
}

// SetCurrentBatch records scheduler progress for observability and resume.
func (s *ExecutionStore) SetCurrentBatch(httpCtx context.Context, runID string, batch int) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET current_batch = ? WHERE id = ?`, batch, runID)
	if err != nil {
		return fmt.Errorf("failed to update current batch: %w", err)
	}
	return nil
}

// MarkRunAborted flags a run as user-aborted.
func (s *ExecutionStore) MarkRunAborted(httpCtx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET aborted = 1 WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to mark run aborted: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *ExecutionStore) GetStep(ctx context.Context, id string) (*models.Step, error) {
	rows, err := s.db.QueryContext(ctx, stepSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	defer rows.Close()

	steps, err := scanSteps(rows)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	return steps[0], nil
}

// ListSteps returns every step of a run in insertion order.
func (s *ExecutionStore) ListSteps(ctx context.Context, runID string) ([]*models.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		stepSelect+` WHERE pipeline_run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	return scanSteps(rows)
}

const stepSelect = `SELECT id, pipeline_run_id, agent_key, instance_id, input, depends_on,
       retry_count, status, output, error, started_at, completed_at
FROM agent_executions`

func scanSteps(rows *sql.Rows) ([]*models.Step, error) {
	var steps []*models.Step
	for rows.Next() {
		var st models.Step
		var status, deps string
		var startedAt, completedAt sql.NullString
		err := rows.Scan(&st.ID, &st.PipelineRunID, &st.AgentKey, &st.InstanceID,
			&st.Input, &deps, &st.RetryCount, &status, &st.Output, &st.Error,
			&startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Status = models.StepStatus(status)
		if deps != "" {
			if err := json.Unmarshal([]byte(deps), &st.DependsOn); err != nil {
				return nil, fmt.Errorf("failed to unmarshal depends_on: %w", err)
			}
		}
		st.StartedAt = parseNullTime(startedAt)
		st.CompletedAt = parseNullTime(completedAt)
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// RecordStepStart transitions a step to running and stamps started_at.
func (s *ExecutionStore) RecordStepStart(httpCtx context.Context, stepID string) error {
	return s.transition(stepID,
		`UPDATE agent_executions SET status = 'running', started_at = ?
		 WHERE id = ? AND `+terminalGuard,
		formatTime(time.Now()), stepID)
}

// RecordStepRetry transitions a step to retrying with the attempt count and
// the error that triggered it.
func (s *ExecutionStore) RecordStepRetry(httpCtx context.Context, stepID string, attempt int, reason string) error {
	return s.transition(stepID,
		`UPDATE agent_executions SET status = 'retrying', retry_count = ?, error = ?
		 WHERE id = ? AND `+terminalGuard,
		attempt, reason, stepID)
}

// RecordStepComplete finalizes a successful step with its full output.
func (s *ExecutionStore) RecordStepComplete(httpCtx context.Context, stepID, output string) error {
	return s.transition(stepID,
		`UPDATE agent_executions SET status = 'completed', output = ?, error = '', completed_at = ?
		 WHERE id = ? AND `+terminalGuard,
		output, formatTime(time.Now()), stepID)
}

// RecordStepFailed finalizes a failed step with its error.
func (s *ExecutionStore) RecordStepFailed(httpCtx context.Context, stepID, reason string) error {
	return s.transition(stepID,
		`UPDATE agent_executions SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND `+terminalGuard,
		reason, formatTime(time.Now()), stepID)
}

// RecordStepStopped finalizes a step interrupted by user abort.
func (s *ExecutionStore) RecordStepStopped(httpCtx context.Context, stepID string) error {
	return s.transition(stepID,
		`UPDATE agent_executions SET status = 'stopped', completed_at = ?
		 WHERE id = ? AND `+terminalGuard,
		formatTime(time.Now()), stepID)
}

// transition runs one guarded status update. Zero rows affected means the
// step was already terminal (or missing), which is not an error: terminal
// states win races by design of the guard.
func (s *ExecutionStore) transition(stepID, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update step %s: %w", stepID, err)
	}
	return nil
}

// ResetIncompleteSteps reopens every non-completed step of a run for resume:
// status back to pending, retry count and error cleared. Completed steps are
// never touched.
func (s *ExecutionStore) ResetIncompleteSteps(httpCtx context.Context, runID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_executions
		 SET status = 'pending', retry_count = 0, error = '', output = '',
		     started_at = NULL, completed_at = NULL
		 WHERE pipeline_run_id = ? AND status != 'completed'`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset steps: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupStaleExecutions marks every step still running or retrying as
// failed with StaleExecutionReason, voids their provisional token records,
// and inserts one system message per affected chat. Safe to run repeatedly;
// a second invocation finds nothing to do.
func (s *ExecutionStore) CleanupStaleExecutions(httpCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT e.id, r.chat_id
		 FROM agent_executions e
		 JOIN pipeline_runs r ON r.id = e.pipeline_run_id
		 WHERE e.status IN ('running', 'retrying')`)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale executions: %w", err)
	}

	var stepIDs []string
	chatIDs := make(map[string]struct{})
	for rows.Next() {
		var stepID, chatID string
		if err := rows.Scan(&stepID, &chatID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan stale execution: %w", err)
		}
		stepIDs = append(stepIDs, stepID)
		chatIDs[chatID] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(stepIDs) == 0 {
		return 0, tx.Commit()
	}

	now := formatTime(time.Now())
	for _, stepID := range stepIDs {
		_, err := tx.ExecContext(ctx,
			`UPDATE agent_executions SET status = 'failed', error = ?, completed_at = ?
			 WHERE id = ? AND `+terminalGuard,
			StaleExecutionReason, now, stepID)
		if err != nil {
			return 0, fmt.Errorf("failed to fail stale step %s: %w", stepID, err)
		}
		// A crash between gateway completion and finalize leaves the
		// write-ahead rows estimated; they never happened as billed calls.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM token_usage WHERE step_id = ? AND estimated = 1`, stepID)
		if err != nil {
			return 0, fmt.Errorf("failed to void stale token usage: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM billing_ledger WHERE step_id = ? AND estimated = 1`, stepID)
		if err != nil {
			return 0, fmt.Errorf("failed to void stale ledger rows: %w", err)
		}
	}

	for chatID := range chatIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, role, agent_key, content, created_at)
			 VALUES (?, ?, 'system', '', ?, ?)`,
			uuid.New().String(), chatID, StaleExecutionReason, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert restart notice: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(stepIDs), nil
}

// FindInterruptedPipelineRun returns the latest run of a chat that was cut
// off mid-flight: it has steps still marked running/retrying (pre-cleanup)
// or failed with StaleExecutionReason (post-cleanup).
func (s *ExecutionStore) FindInterruptedPipelineRun(ctx context.Context, chatID string) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.chat_id, r.project_id, r.project_path, r.user_message, r.intent,
		        r.scope, r.aborted, r.current_batch, r.started_at
		 FROM pipeline_runs r
		 WHERE r.chat_id = ? AND EXISTS (
		     SELECT 1 FROM agent_executions e
		     WHERE e.pipeline_run_id = r.id
		       AND (e.status IN ('running', 'retrying')
		            OR (e.status = 'failed' AND e.error = ?))
		 )
		 ORDER BY r.started_at DESC, r.id DESC LIMIT 1`,
		chatID, StaleExecutionReason)
	return scanRun(row)
}
