package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// TokenStore dual-writes token records to the operational token_usage table
// (joined to chats, deleted with them) and the permanent billing_ledger.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Insert writes one record to both tables. Called with Estimated=true for
// the write-ahead provisional row; IDs are assigned here when absent.
func (s *TokenStore) Insert(httpCtx context.Context, rec *models.TokenRecord) error {
	if rec.ChatID == "" {
		return NewValidationError("chat_id", "required")
	}
	if rec.StepID == "" {
		return NewValidationError("step_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.Usage.Total()
	}
	createdAt := formatTime(rec.CreatedAt)
	estimated := 0
	if rec.Estimated {
		estimated = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO token_usage (id, step_id, chat_id, agent_key, provider, model,
		                          api_key_hash, input_tokens, output_tokens,
		                          cache_creation_tokens, cache_read_tokens,
		                          estimated, cost_estimate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StepID, rec.ChatID, rec.AgentKey, rec.Provider, rec.Model,
		rec.APIKeyHash, rec.Usage.InputTokens, rec.Usage.OutputTokens,
		rec.Usage.CacheCreationInputTokens, rec.Usage.CacheReadInputTokens,
		estimated, rec.CostEstimate, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert token usage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO billing_ledger (id, step_id, chat_id, project_id, agent_key, provider,
		                             model, api_key_hash, input_tokens, output_tokens,
		                             cache_creation_tokens, cache_read_tokens, total_tokens,
		                             estimated, cost_estimate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StepID, rec.ChatID, rec.ProjectID, rec.AgentKey, rec.Provider,
		rec.Model, rec.APIKeyHash, rec.Usage.InputTokens, rec.Usage.OutputTokens,
		rec.Usage.CacheCreationInputTokens, rec.Usage.CacheReadInputTokens,
		rec.TotalTokens, estimated, rec.CostEstimate, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Finalize replaces a provisional record's counts with the real ones in both
// tables and clears the estimated flag.
func (s *TokenStore) Finalize(httpCtx context.Context, recordID string, usage models.TokenUsage, cost float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE token_usage
		 SET input_tokens = ?, output_tokens = ?, cache_creation_tokens = ?,
		     cache_read_tokens = ?, estimated = 0, cost_estimate = ?
		 WHERE id = ?`,
		usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens,
		usage.CacheReadInputTokens, cost, recordID)
	if err != nil {
		return fmt.Errorf("failed to finalize token usage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE billing_ledger
		 SET input_tokens = ?, output_tokens = ?, cache_creation_tokens = ?,
		     cache_read_tokens = ?, total_tokens = ?, estimated = 0, cost_estimate = ?
		 WHERE id = ?`,
		usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens,
		usage.CacheReadInputTokens, usage.Total(), cost, recordID)
	if err != nil {
		return fmt.Errorf("failed to finalize ledger row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Void deletes a provisional record from both tables. The call it tracked
// never completed, so nothing was billed.
func (s *TokenStore) Void(httpCtx context.Context, recordID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM token_usage WHERE id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to void token usage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM billing_ledger WHERE id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to void ledger row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SumChatTokens totals every token column for a chat, provisional rows
// included: write-ahead records count as spend until voided.
func (s *TokenStore) SumChatTokens(ctx context.Context, chatID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens + output_tokens + cache_creation_tokens + cache_read_tokens), 0)
		 FROM token_usage WHERE chat_id = ?`, chatID)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum chat tokens: %w", err)
	}
	return total, nil
}

// SumCostSince totals ledger cost estimates from a cutoff time onward.
func (s *TokenStore) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_estimate), 0) FROM billing_ledger WHERE created_at >= ?`,
		formatTime(since))
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum cost: %w", err)
	}
	return total, nil
}

// SumProjectCost totals ledger cost estimates for one project.
func (s *TokenStore) SumProjectCost(ctx context.Context, projectID string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_estimate), 0) FROM billing_ledger WHERE project_id = ?`,
		projectID)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum project cost: %w", err)
	}
	return total, nil
}

// ListChatUsage returns the operational token records of a chat in
// chronological order.
func (s *TokenStore) ListChatUsage(ctx context.Context, chatID string) ([]models.TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step_id, chat_id, agent_key, provider, model, api_key_hash,
		        input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
		        estimated, cost_estimate, created_at
		 FROM token_usage WHERE chat_id = ?
		 ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token usage: %w", err)
	}
	defer rows.Close()

	var recs []models.TokenRecord
	for rows.Next() {
		var rec models.TokenRecord
		var estimated int
		var createdAt string
		err := rows.Scan(&rec.ID, &rec.StepID, &rec.ChatID, &rec.AgentKey, &rec.Provider,
			&rec.Model, &rec.APIKeyHash, &rec.Usage.InputTokens, &rec.Usage.OutputTokens,
			&rec.Usage.CacheCreationInputTokens, &rec.Usage.CacheReadInputTokens,
			&estimated, &rec.CostEstimate, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token record: %w", err)
		}
		rec.Estimated = estimated != 0
		rec.TotalTokens = rec.Usage.Total()
		rec.CreatedAt = parseTime(createdAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListLedgerRows pages through the permanent ledger for reconciliation.
// Rows are returned in primary-key order starting after afterID.
func (s *TokenStore) ListLedgerRows(ctx context.Context, afterID string, limit int) ([]models.TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step_id, chat_id, project_id, agent_key, provider, model, api_key_hash,
		        input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
		        total_tokens, estimated, cost_estimate, created_at
		 FROM billing_ledger WHERE id > ?
		 ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger rows: %w", err)
	}
	defer rows.Close()

	var recs []models.TokenRecord
	for rows.Next() {
		var rec models.TokenRecord
		var estimated int
		var createdAt string
		err := rows.Scan(&rec.ID, &rec.StepID, &rec.ChatID, &rec.ProjectID, &rec.AgentKey,
			&rec.Provider, &rec.Model, &rec.APIKeyHash, &rec.Usage.InputTokens,
			&rec.Usage.OutputTokens, &rec.Usage.CacheCreationInputTokens,
			&rec.Usage.CacheReadInputTokens, &rec.TotalTokens, &estimated,
			&rec.CostEstimate, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		rec.Estimated = estimated != 0
		rec.CreatedAt = parseTime(createdAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpdateLedgerRow rewrites one ledger row's cache columns and cost after
// reconciliation recomputes them.
func (s *TokenStore) UpdateLedgerRow(httpCtx context.Context, id string, usage models.TokenUsage, cost float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE billing_ledger
		 SET input_tokens = ?, output_tokens = ?, cache_creation_tokens = ?,
		     cache_read_tokens = ?, cost_estimate = ?
		 WHERE id = ?`,
		usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens,
		usage.CacheReadInputTokens, cost, id)
	if err != nil {
		return fmt.Errorf("failed to update ledger row: %w", err)
	}
	return nil
}
