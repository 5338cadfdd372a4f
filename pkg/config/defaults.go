package config

// DefaultSystemConfig returns system defaults for local use.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		ListenAddr:   ":8420",
		ProjectsDir:  "./projects",
		PromptsDir:   "./prompts",
		DatabasePath: "./pagegen.db",
	}
}

// DefaultBudgetConfig returns the default budget gates: a per-chat token cap,
// daily and per-project cost gates disabled, warning at 80%.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		MaxTokensPerChat:  500000,
		MaxCostPerDay:     0,
		MaxCostPerProject: 0,
		WarnRatio:         0.8,
	}
}

// DefaultPipelineConfig returns the default scheduler bounds.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxParallelSteps:      4,
		MaxRetries:            3,
		MaxRemediationCycles:  1,
		StreamThrottleMs:      150,
		HistoryMaxMessages:    6,
		HistoryMaxChars:       3000,
		UpstreamTruncateChars: 10000,
	}
}

// DefaultSandboxConfig returns the default sandbox bounds.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		MaxVersionsPerRun: 10,
		IgnorePatterns: []string{
			"node_modules/**",
			"dist/**",
			"build/**",
			".git/**",
			".next/**",
		},
	}
}
