package models

import "time"

// TokenUsage aggregates token counts for one agent invocation, summed across
// every round of the tool loop. Cache columns follow provider billing:
// cache-creation tokens are writes to the server-side prompt cache,
// cache-read tokens are hits against it.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Total returns the total token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// TokenRecord is one ledger row, dual-written to the operational table and
// the permanent billing ledger. Rows start provisional (Estimated=true) and
// are either finalized with exact counts or voided.
type TokenRecord struct {
	ID           string     `json:"id"`
	StepID       string     `json:"step_id"`
	ChatID       string     `json:"chat_id"`
	ProjectID    string     `json:"project_id,omitempty"`
	AgentKey     string     `json:"agent_key"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	APIKeyHash   string     `json:"api_key_hash,omitempty"`
	Usage        TokenUsage `json:"usage"`
	// TotalTokens is the provider-reported total as stored. Normally equal
	// to Usage.Total(); imported rows may exceed in+out with empty cache
	// columns, which reconciliation resolves.
	TotalTokens  int       `json:"total_tokens"`
	Estimated    bool      `json:"estimated"`
	CostEstimate float64   `json:"cost_estimate"`
	CreatedAt    time.Time `json:"created_at"`
}
