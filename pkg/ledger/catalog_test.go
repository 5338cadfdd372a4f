package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

func TestCatalogLookupExactMatch(t *testing.T) {
	c := NewCatalog(nil)

	cost, ok := c.Lookup(config.ProviderAnthropic, "claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, 3.0, cost.InputPer1M)
	assert.Equal(t, 15.0, cost.OutputPer1M)
}

func TestCatalogLookupVersionedID(t *testing.T) {
	c := NewCatalog(nil)

	// Dated model IDs resolve through the prefix fallback.
	cost, ok := c.Lookup(config.ProviderAnthropic, "claude-sonnet-4-5-20250929")
	require.True(t, ok)
	assert.Equal(t, 3.0, cost.InputPer1M)

	cost, ok = c.Lookup(config.ProviderOpenAI, "gpt-4o-2024-11-20")
	require.True(t, ok)
	assert.Equal(t, 2.50, cost.InputPer1M)
}

func TestCatalogLookupUnknown(t *testing.T) {
	c := NewCatalog(nil)

	_, ok := c.Lookup(config.ProviderAnthropic, "totally-made-up")
	assert.False(t, ok)
	_, ok = c.Lookup(config.ProviderType("nonexistent"), "claude-sonnet-4-5")
	assert.False(t, ok)
	_, ok = c.Lookup(config.ProviderAnthropic, "")
	assert.False(t, ok)
}

func TestCatalogOverridesWin(t *testing.T) {
	c := NewCatalog(map[config.ProviderType]map[string]config.PricingOverride{
		config.ProviderAnthropic: {
			"claude-sonnet-4-5": {InputPer1M: 1.0, OutputPer1M: 2.0},
		},
	})

	cost, ok := c.Lookup(config.ProviderAnthropic, "claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, 1.0, cost.InputPer1M)
	assert.Equal(t, 2.0, cost.OutputPer1M)
}

func TestEstimateCostPlainTokens(t *testing.T) {
	c := NewCatalog(nil)

	// 1M in at $3 + 1M out at $15.
	cost := c.EstimateCost(config.ProviderAnthropic, "claude-sonnet-4-5", models.TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	})
	assert.InDelta(t, 18.0, cost, 1e-9)
}

func TestEstimateCostCacheMultipliers(t *testing.T) {
	c := NewCatalog(nil)
	usage := models.TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}

	// Anthropic: create 1.25×, read 0.10× of the $3 input price.
	cost := c.EstimateCost(config.ProviderAnthropic, "claude-sonnet-4-5", usage)
	assert.InDelta(t, 3.0*1.25+3.0*0.10, cost, 1e-9)

	// OpenAI: no creation surcharge, reads at half input price.
	cost = c.EstimateCost(config.ProviderOpenAI, "gpt-4o", usage)
	assert.InDelta(t, 0+2.50*0.5, cost, 1e-9)

	// xAI prices cache traffic at zero.
	cost = c.EstimateCost(config.ProviderXAI, "grok-3", usage)
	assert.InDelta(t, 0, cost, 1e-9)
}

func TestEstimateCostUnknownModelIsZero(t *testing.T) {
	c := NewCatalog(nil)
	cost := c.EstimateCost(config.ProviderAnthropic, "unknown-model-x", models.TokenUsage{
		InputTokens: 5000, OutputTokens: 5000,
	})
	assert.Zero(t, cost)
}

func TestEstimatorCount(t *testing.T) {
	e := NewEstimator()

	assert.Zero(t, e.Count(""))

	n := e.Count("Build me a landing page with a hero section and pricing table.")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 40)
}
