package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAgentsFieldByField(t *testing.T) {
	builtin := map[string]*AgentConfig{
		"frontend-dev": {
			DisplayName:     "Frontend Developer",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupDevelopment,
			MaxOutputTokens: 65536,
			MaxToolSteps:    12,
			Tools:           true,
		},
	}
	user := map[string]*AgentConfig{
		"frontend-dev": {Provider: ProviderOpenAI, Model: "gpt-4o"},
		"extra":        {Provider: ProviderGoogle, Model: "gemini-2.0-flash"},
	}

	merged := mergeAgents(builtin, user)

	fe := merged["frontend-dev"]
	require.NotNil(t, fe)
	assert.Equal(t, ProviderOpenAI, fe.Provider)
	assert.Equal(t, "gpt-4o", fe.Model)
	assert.Equal(t, "Frontend Developer", fe.DisplayName)
	assert.Equal(t, 65536, fe.MaxOutputTokens)
	assert.True(t, fe.Tools)

	extra := merged["extra"]
	require.NotNil(t, extra)
	assert.Equal(t, DefaultMaxOutputTokens, extra.MaxOutputTokens)
	assert.Equal(t, DefaultMaxToolSteps, extra.MaxToolSteps)
}

func TestMergeAgentsDoesNotMutateBuiltin(t *testing.T) {
	builtin := GetBuiltinAgents()
	user := map[string]*AgentConfig{
		AgentArchitect: {Model: "custom-model"},
	}

	_ = mergeAgents(builtin, user)

	// The builtin map handed to merge must stay untouched.
	assert.Equal(t, "claude-sonnet-4-20250514", builtin[AgentArchitect].Model)
}

func TestBuiltinCaps(t *testing.T) {
	agents := GetBuiltinAgents()

	tests := []struct {
		key       string
		maxOutput int
		maxSteps  int
	}{
		{AgentResearch, 3000, 10},
		{AgentArchitect, 12000, 10},
		{AgentFrontendDev, 65536, 12},
		{AgentBackendDev, 32768, 8},
		{AgentStyling, 32768, 8},
		{AgentCodeReview, 2000, 10},
		{AgentSecurity, 2000, 10},
		{AgentQA, 2000, 10},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg, ok := agents[tt.key]
			require.True(t, ok)
			assert.Equal(t, tt.maxOutput, cfg.MaxOutputTokens)
			assert.Equal(t, tt.maxSteps, cfg.MaxToolSteps)
		})
	}
}

func TestBuiltinToolAccess(t *testing.T) {
	agents := GetBuiltinAgents()

	// Only developer agents get sandbox tools.
	for key, cfg := range agents {
		if cfg.Group == GroupDevelopment {
			assert.True(t, cfg.Tools, "developer agent %s should have tools", key)
		} else {
			assert.False(t, cfg.Tools, "non-developer agent %s should not have tools", key)
		}
	}
}
