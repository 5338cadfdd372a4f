package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
)

// GateResult is one budget gate's decision. The token gate fills the
// token fields, the cost gates the cost fields. A disabled gate (zero
// limit) always allows.
type GateResult struct {
	Allowed       bool
	Warning       bool
	CurrentTokens int
	TokenLimit    int
	CurrentCost   float64
	CostLimit     float64
}

// Budget evaluates the three spend gates the scheduler consults before
// the first step, between steps, and before remediation.
type Budget struct {
	tokens tokenSummer
	cfg    *config.BudgetConfig
}

// tokenSummer is the slice of the token store the gates read.
type tokenSummer interface {
	SumChatTokens(ctx context.Context, chatID string) (int, error)
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	SumProjectCost(ctx context.Context, projectID string) (float64, error)
}

// NewBudget creates the budget gates.
func NewBudget(tokens tokenSummer, cfg *config.BudgetConfig) *Budget {
	return &Budget{tokens: tokens, cfg: cfg}
}

// CheckChatTokenLimit gates a chat on its total token spend, provisional rows
// included.
func (b *Budget) CheckChatTokenLimit(ctx context.Context, chatID string) (GateResult, error) {
	limit := b.cfg.MaxTokensPerChat
	if limit <= 0 {
		return GateResult{Allowed: true}, nil
	}
	current, err := b.tokens.SumChatTokens(ctx, chatID)
	if err != nil {
		return GateResult{}, fmt.Errorf("check chat token limit: %w", err)
	}
	return GateResult{
		Allowed:       current < limit,
		Warning:       float64(current) >= b.cfg.WarnRatio*float64(limit),
		CurrentTokens: current,
		TokenLimit:    limit,
	}, nil
}

// CheckDailyLimit gates on the ledger cost accumulated since midnight UTC.
func (b *Budget) CheckDailyLimit(ctx context.Context) (GateResult, error) {
	limit := b.cfg.MaxCostPerDay
	if limit <= 0 {
		return GateResult{Allowed: true}, nil
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	current, err := b.tokens.SumCostSince(ctx, midnight)
	if err != nil {
		return GateResult{}, fmt.Errorf("check daily cost limit: %w", err)
	}
	return GateResult{
		Allowed:     current < limit,
		Warning:     current >= b.cfg.WarnRatio*limit,
		CurrentCost: current,
		CostLimit:   limit,
	}, nil
}

// CheckProjectLimit gates on a project's lifetime ledger cost.
func (b *Budget) CheckProjectLimit(ctx context.Context, projectID string) (GateResult, error) {
	limit := b.cfg.MaxCostPerProject
	if limit <= 0 {
		return GateResult{Allowed: true}, nil
	}
	current, err := b.tokens.SumProjectCost(ctx, projectID)
	if err != nil {
		return GateResult{}, fmt.Errorf("check project cost limit: %w", err)
	}
	return GateResult{
		Allowed:     current < limit,
		Warning:     current >= b.cfg.WarnRatio*limit,
		CurrentCost: current,
		CostLimit:   limit,
	}, nil
}

// CheckAll runs every enabled gate for a chat/project pair and returns
// the first blocking result, or the first warning when none block.
func (b *Budget) CheckAll(ctx context.Context, chatID, projectID string) (GateResult, error) {
	results := make([]GateResult, 0, 3)

	chat, err := b.CheckChatTokenLimit(ctx, chatID)
	if err != nil {
		return GateResult{}, err
	}
	results = append(results, chat)

	daily, err := b.CheckDailyLimit(ctx)
	if err != nil {
		return GateResult{}, err
	}
	results = append(results, daily)

	if projectID != "" {
		project, err := b.CheckProjectLimit(ctx, projectID)
		if err != nil {
			return GateResult{}, err
		}
		results = append(results, project)
	}

	for _, r := range results {
		if !r.Allowed {
			return r, nil
		}
	}
	for _, r := range results {
		if r.Warning {
			return r, nil
		}
	}
	return GateResult{Allowed: true}, nil
}
