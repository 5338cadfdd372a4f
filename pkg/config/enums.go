package config

// ProviderType defines supported LLM providers
type ProviderType string

const (
	// ProviderAnthropic is the Anthropic Claude API
	ProviderAnthropic ProviderType = "anthropic"
	// ProviderOpenAI is the OpenAI API
	ProviderOpenAI ProviderType = "openai"
	// ProviderGoogle is the Google Gemini API
	ProviderGoogle ProviderType = "google"
	// ProviderXAI is the xAI Grok API (OpenAI-compatible)
	ProviderXAI ProviderType = "xai"
	// ProviderDeepSeek is the DeepSeek API (OpenAI-compatible)
	ProviderDeepSeek ProviderType = "deepseek"
	// ProviderMistral is the Mistral API (OpenAI-compatible)
	ProviderMistral ProviderType = "mistral"
)

// IsValid checks if the provider type is valid
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle,
		ProviderXAI, ProviderDeepSeek, ProviderMistral:
		return true
	default:
		return false
	}
}

// AllProviders lists every supported provider type.
func AllProviders() []ProviderType {
	return []ProviderType{
		ProviderAnthropic, ProviderOpenAI, ProviderGoogle,
		ProviderXAI, ProviderDeepSeek, ProviderMistral,
	}
}

// AgentGroup classifies agents by pipeline phase
type AgentGroup string

const (
	// GroupPlanning covers intent classification, research, and architecture
	GroupPlanning AgentGroup = "planning"
	// GroupDevelopment covers the file-writing developer agents
	GroupDevelopment AgentGroup = "development"
	// GroupQuality covers reviewers and test analysis
	GroupQuality AgentGroup = "quality"
)

// IsValid checks if the agent group is valid
func (g AgentGroup) IsValid() bool {
	return g == GroupPlanning || g == GroupDevelopment || g == GroupQuality
}
