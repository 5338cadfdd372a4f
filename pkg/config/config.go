package config

// Config is the fully loaded, validated runtime configuration.
type Config struct {
	configDir string

	System   *SystemConfig
	Budgets  *BudgetConfig
	Pipeline *PipelineConfig
	Sandbox  *SandboxConfig

	// Pricing holds per-provider model pricing overrides layered over the
	// bundled catalog.
	Pricing map[ProviderType]map[string]PricingOverride

	AgentRegistry *AgentRegistry
}

// ConfigDir returns the directory this configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Agents           int
	PricingOverrides int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	overrides := 0
	for _, models := range c.Pricing {
		overrides += len(models)
	}
	return Stats{
		Agents:           len(c.AgentRegistry.All()),
		PricingOverrides: overrides,
	}
}
