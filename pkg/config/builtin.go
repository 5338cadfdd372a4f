package config

// Built-in agent set. User YAML may override any field per agent key or add
// new keys entirely; merge semantics are "user wins field-by-field".
//
// Output-token and tool-step caps per role: developer agents get room to
// emit whole files, reviewers are kept terse, planning agents sit between.

// Agent keys used by the planner. The orchestrator pseudo-agent has three
// role variants with their own cheap model bindings.
const (
	AgentResearch    = "research"
	AgentArchitect   = "architect"
	AgentFrontendDev = "frontend-dev"
	AgentBackendDev  = "backend-dev"
	AgentStyling     = "styling"
	AgentCodeReview  = "code-review"
	AgentSecurity    = "security"
	AgentQA          = "qa"
	AgentTesting     = "testing"

	AgentClassify = "orchestrator:classify"
	AgentQuestion = "orchestrator:question"
	AgentSummary  = "orchestrator:summary"
)

// Default caps applied when an agent config leaves them unset.
const (
	DefaultMaxOutputTokens = 8192
	DefaultMaxToolSteps    = 10
)

// GetBuiltinAgents returns the built-in agent configurations.
// Returns a fresh map on each call so merges never mutate shared state.
func GetBuiltinAgents() map[string]*AgentConfig {
	return map[string]*AgentConfig{
		AgentResearch: {
			DisplayName:     "Research",
			Provider:        ProviderAnthropic,
			Model:           "claude-3-5-haiku-latest",
			Group:           GroupPlanning,
			MaxOutputTokens: 3000,
			MaxToolSteps:    10,
		},
		AgentArchitect: {
			DisplayName:     "Architect",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupPlanning,
			MaxOutputTokens: 12000,
			MaxToolSteps:    10,
		},
		AgentFrontendDev: {
			DisplayName:     "Frontend Developer",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupDevelopment,
			MaxOutputTokens: 65536,
			MaxToolSteps:    12,
			Tools:           true,
		},
		AgentBackendDev: {
			DisplayName:     "Backend Developer",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupDevelopment,
			MaxOutputTokens: 32768,
			MaxToolSteps:    8,
			Tools:           true,
		},
		AgentStyling: {
			DisplayName:     "Styling",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupDevelopment,
			MaxOutputTokens: 32768,
			MaxToolSteps:    8,
			Tools:           true,
		},
		AgentCodeReview: {
			DisplayName:     "Code Review",
			Provider:        ProviderAnthropic,
			Model:           "claude-3-5-haiku-latest",
			Group:           GroupQuality,
			MaxOutputTokens: 2000,
			MaxToolSteps:    10,
		},
		AgentSecurity: {
			DisplayName:     "Security Review",
			Provider:        ProviderAnthropic,
			Model:           "claude-3-5-haiku-latest",
			Group:           GroupQuality,
			MaxOutputTokens: 2000,
			MaxToolSteps:    10,
		},
		AgentQA: {
			DisplayName:     "QA Review",
			Provider:        ProviderAnthropic,
			Model:           "claude-3-5-haiku-latest",
			Group:           GroupQuality,
			MaxOutputTokens: 2000,
			MaxToolSteps:    10,
		},
		AgentTesting: {
			DisplayName:     "Test Analysis",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupQuality,
			MaxOutputTokens: 8192,
			MaxToolSteps:    10,
		},
		AgentClassify: {
			DisplayName:     "Intent Classifier",
			Provider:        ProviderAnthropic,
			Model:           "claude-3-5-haiku-latest",
			Group:           GroupPlanning,
			MaxOutputTokens: 256,
			MaxToolSteps:    1,
		},
		AgentQuestion: {
			DisplayName:     "Assistant",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			Group:           GroupPlanning,
			MaxOutputTokens: 8192,
			MaxToolSteps:    10,
		},
		AgentSummary: {
			DisplayName:     "Summary",
			Provider:        ProviderAnthropic,
			Model:           "claude-3-5-haiku-latest",
			Group:           GroupPlanning,
			MaxOutputTokens: 2000,
			MaxToolSteps:    1,
		},
	}
}
