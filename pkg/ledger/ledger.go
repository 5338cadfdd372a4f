package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// Ledger is the write-ahead usage tracker. Before every LLM call a
// provisional record lands in both usage tables; after the call the
// record is finalized with real counts or voided. Crash between the two
// leaves a provisional row that boot-time cleanup voids via the step it
// belongs to.
type Ledger struct {
	tokens  *store.TokenStore
	catalog *Catalog
	est     *Estimator
	pub     *events.Publisher
	log     *slog.Logger
}

// New creates a Ledger. Publisher may be nil (events are then skipped).
func New(tokens *store.TokenStore, catalog *Catalog, est *Estimator, pub *events.Publisher) *Ledger {
	return &Ledger{
		tokens:  tokens,
		catalog: catalog,
		est:     est,
		pub:     pub,
		log:     slog.With("component", "ledger"),
	}
}

// Call describes one upcoming LLM call for provisional tracking.
type Call struct {
	StepID     string
	ChatID     string
	ProjectID  string
	AgentKey   string
	Provider   config.ProviderType
	Model      string
	APIKeyHash string
	// PromptText is everything sent to the model, concatenated, for the
	// input-token estimate.
	PromptText string
}

// TrackProvisionalUsage inserts the write-ahead record for a call and
// returns it. Input tokens are estimated from the prompt text; output is
// unknown before the call and recorded as zero until finalization.
func (l *Ledger) TrackProvisionalUsage(ctx context.Context, call Call) (*models.TokenRecord, error) {
	usage := models.TokenUsage{InputTokens: l.est.Count(call.PromptText)}
	rec := &models.TokenRecord{
		StepID:       call.StepID,
		ChatID:       call.ChatID,
		ProjectID:    call.ProjectID,
		AgentKey:     call.AgentKey,
		Provider:     string(call.Provider),
		Model:        call.Model,
		APIKeyHash:   call.APIKeyHash,
		Usage:        usage,
		Estimated:    true,
		CostEstimate: l.catalog.EstimateCost(call.Provider, call.Model, usage),
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.tokens.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("track provisional usage: %w", err)
	}

	l.log.Debug("Provisional usage tracked",
		"record_id", rec.ID, "chat_id", rec.ChatID, "agent", rec.AgentKey,
		"estimated_input_tokens", usage.InputTokens)
	return rec, nil
}

// FinalizeTokenUsage replaces the provisional counts with the real ones,
// recomputes cost and broadcasts the finalized record.
func (l *Ledger) FinalizeTokenUsage(ctx context.Context, rec *models.TokenRecord, usage models.TokenUsage) error {
	cost := l.catalog.EstimateCost(config.ProviderType(rec.Provider), rec.Model, usage)
	if err := l.tokens.Finalize(ctx, rec.ID, usage, cost); err != nil {
		return fmt.Errorf("finalize token usage: %w", err)
	}

	rec.Usage = usage
	rec.TotalTokens = usage.Total()
	rec.Estimated = false
	rec.CostEstimate = cost

	l.log.Debug("Token usage finalized",
		"record_id", rec.ID, "chat_id", rec.ChatID, "agent", rec.AgentKey,
		"total_tokens", rec.TotalTokens, "cost", cost)
	l.broadcast(rec)
	return nil
}

// VoidProvisionalUsage deletes the write-ahead record: the call it
// tracked failed or was cancelled, so nothing is billed.
func (l *Ledger) VoidProvisionalUsage(ctx context.Context, rec *models.TokenRecord) error {
	if err := l.tokens.Void(ctx, rec.ID); err != nil {
		return fmt.Errorf("void provisional usage: %w", err)
	}
	l.log.Debug("Provisional usage voided",
		"record_id", rec.ID, "chat_id", rec.ChatID, "agent", rec.AgentKey)
	return nil
}

func (l *Ledger) broadcast(rec *models.TokenRecord) {
	if err := l.pub.PublishTokenUsage(events.TokenUsagePayload{
		ChatID:                   rec.ChatID,
		AgentName:                rec.AgentKey,
		Provider:                 rec.Provider,
		Model:                    rec.Model,
		InputTokens:              rec.Usage.InputTokens,
		OutputTokens:             rec.Usage.OutputTokens,
		CacheCreationInputTokens: rec.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     rec.Usage.CacheReadInputTokens,
		TotalTokens:              rec.Usage.Total(),
		CostEstimate:             rec.CostEstimate,
	}); err != nil {
		l.log.Warn("Failed to broadcast token usage", "record_id", rec.ID, "error", err)
	}
}
