// Package ledger tracks token usage and cost for every LLM call and
// enforces the chat, daily, and project budgets. Usage rows are written
// ahead of each call as estimates, then finalized or voided.
package ledger

import (
	"log/slog"
	"strings"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// ModelCost is the per-million-token price of one model.
type ModelCost struct {
	InputPer1M  float64
	OutputPer1M float64
}

// CacheMultipliers scale the input price for prompt-cache traffic.
// Creation writes cost more than plain input on Anthropic; reads cost a
// fraction everywhere.
type CacheMultipliers struct {
	Create float64
	Read   float64
}

// defaultModelCosts is the bundled pricing catalog, keyed by provider then
// model ID. Versioned IDs fall back to prefix matches.
var defaultModelCosts = map[config.ProviderType]map[string]ModelCost{
	config.ProviderAnthropic: {
		"claude-sonnet-4-5": {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-sonnet-4":   {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-3-7-sonnet": {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-3-5-sonnet": {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-opus-4":     {InputPer1M: 15.0, OutputPer1M: 75.0},
		"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.0},
		"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	},
	config.ProviderOpenAI: {
		"gpt-4o":       {InputPer1M: 2.50, OutputPer1M: 10.0},
		"gpt-4o-mini":  {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4.1":      {InputPer1M: 2.0, OutputPer1M: 8.0},
		"gpt-4.1-mini": {InputPer1M: 0.40, OutputPer1M: 1.60},
		"o1":           {InputPer1M: 15.0, OutputPer1M: 60.0},
		"o3-mini":      {InputPer1M: 1.10, OutputPer1M: 4.40},
	},
	config.ProviderGoogle: {
		"gemini-2.5-pro":   {InputPer1M: 1.25, OutputPer1M: 10.0},
		"gemini-2.5-flash": {InputPer1M: 0.30, OutputPer1M: 2.50},
		"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
		"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.0},
		"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	},
	config.ProviderXAI: {
		"grok-3":      {InputPer1M: 3.0, OutputPer1M: 15.0},
		"grok-3-mini": {InputPer1M: 0.30, OutputPer1M: 0.50},
	},
	config.ProviderDeepSeek: {
		"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.10},
		"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19},
	},
	config.ProviderMistral: {
		"mistral-large":  {InputPer1M: 2.0, OutputPer1M: 6.0},
		"mistral-medium": {InputPer1M: 0.40, OutputPer1M: 2.0},
		"mistral-small":  {InputPer1M: 0.10, OutputPer1M: 0.30},
		"codestral":      {InputPer1M: 0.30, OutputPer1M: 0.90},
	},
}

// cacheMultipliers holds the provider-specific cache pricing factors,
// applied to the input price.
var cacheMultipliers = map[config.ProviderType]CacheMultipliers{
	config.ProviderAnthropic: {Create: 1.25, Read: 0.10},
	config.ProviderOpenAI:    {Create: 0, Read: 0.5},
	config.ProviderGoogle:    {Create: 0, Read: 0.25},
	config.ProviderXAI:       {Create: 0, Read: 0},
	config.ProviderDeepSeek:  {Create: 0, Read: 0.1},
	config.ProviderMistral:   {Create: 0, Read: 0},
}

// Catalog resolves model prices, bundled defaults overlaid with config
// overrides.
type Catalog struct {
	overrides map[config.ProviderType]map[string]config.PricingOverride
	log       *slog.Logger
}

// NewCatalog builds a catalog with optional config overrides.
func NewCatalog(overrides map[config.ProviderType]map[string]config.PricingOverride) *Catalog {
	return &Catalog{
		overrides: overrides,
		log:       slog.With("component", "pricing_catalog"),
	}
}

// Lookup resolves the price for one model. Exact match first, then prefix
// match in either direction for versioned IDs. Unknown models price at zero
// with a warning, so usage is still recorded.
func (c *Catalog) Lookup(provider config.ProviderType, model string) (ModelCost, bool) {
	model = strings.TrimSpace(model)
	if model == "" {
		return ModelCost{}, false
	}

	if providerOverrides, ok := c.overrides[provider]; ok {
		if o, ok := providerOverrides[model]; ok {
			return ModelCost{InputPer1M: o.InputPer1M, OutputPer1M: o.OutputPer1M}, true
		}
	}

	providerCosts, ok := defaultModelCosts[provider]
	if !ok {
		return ModelCost{}, false
	}
	if cost, ok := providerCosts[model]; ok {
		return cost, true
	}
	for modelID, cost := range providerCosts {
		if strings.HasPrefix(model, modelID) || strings.HasPrefix(modelID, model) {
			return cost, true
		}
	}
	return ModelCost{}, false
}

// Multipliers returns the cache pricing factors for a provider.
func Multipliers(provider config.ProviderType) CacheMultipliers {
	return cacheMultipliers[provider]
}

// EstimateCost prices a usage record in USD. Cache-creation tokens are
// billed at input price times the create multiplier, cache reads at input
// price times the read multiplier.
func (c *Catalog) EstimateCost(provider config.ProviderType, model string, usage models.TokenUsage) float64 {
	cost, ok := c.Lookup(provider, model)
	if !ok {
		c.log.Warn("No pricing for model, cost recorded as zero",
			"provider", provider, "model", model)
		return 0
	}
	mult := Multipliers(provider)

	perToken := func(per1M float64) float64 { return per1M / 1_000_000 }
	total := float64(usage.InputTokens)*perToken(cost.InputPer1M) +
		float64(usage.OutputTokens)*perToken(cost.OutputPer1M) +
		float64(usage.CacheCreationInputTokens)*perToken(cost.InputPer1M)*mult.Create +
		float64(usage.CacheReadInputTokens)*perToken(cost.InputPer1M)*mult.Read
	return total
}
