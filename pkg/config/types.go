package config

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string `yaml:"listen_addr"`
	// AllowedWSOrigins lists origins accepted for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	// ProjectsDir is where generated project sandboxes live.
	ProjectsDir string `yaml:"projects_dir"`
	// PromptsDir holds the on-disk system prompt defaults.
	PromptsDir string `yaml:"prompts_dir"`
	// DatabasePath is the SQLite file path (":memory:" for tests).
	DatabasePath string `yaml:"database_path"`
}

// BudgetConfig holds the token and cost gates enforced by the scheduler.
// A zero limit disables that gate.
type BudgetConfig struct {
	MaxTokensPerChat  int     `yaml:"max_tokens_per_chat"`
	MaxCostPerDay     float64 `yaml:"max_cost_per_day"`
	MaxCostPerProject float64 `yaml:"max_cost_per_project"`
	// WarnRatio is the fraction of a limit at which a warning is broadcast.
	WarnRatio float64 `yaml:"warn_ratio"`
}

// PipelineConfig bounds scheduler behavior.
type PipelineConfig struct {
	MaxParallelSteps     int `yaml:"max_parallel_steps"`
	MaxRetries           int `yaml:"max_retries"`
	MaxRemediationCycles int `yaml:"max_remediation_cycles"`
	// StreamThrottleMs is the minimum interval between thinking-stream
	// broadcasts for one agent.
	StreamThrottleMs int `yaml:"stream_throttle_ms"`
	// HistoryMaxMessages / HistoryMaxChars cap the chat history section of
	// agent prompts.
	HistoryMaxMessages int `yaml:"history_max_messages"`
	HistoryMaxChars    int `yaml:"history_max_chars"`
	// UpstreamTruncateChars caps each upstream output embedded in a prompt.
	UpstreamTruncateChars int `yaml:"upstream_truncate_chars"`
	// ResearchEnabled runs the research agent before planning build intents.
	ResearchEnabled bool `yaml:"research_enabled"`
	// ExtractMarkdownFences lets the file-extraction fallback also accept
	// annotated markdown fences, not just tool_call blocks.
	ExtractMarkdownFences bool `yaml:"extract_markdown_fences"`
	// RemediationIncludeSource adds the project source manifest to
	// remediation inputs (off by default; review findings that reference
	// unplanned files may need it).
	RemediationIncludeSource bool `yaml:"remediation_include_source"`
}

// SandboxConfig bounds the file tools.
type SandboxConfig struct {
	// MaxVersionsPerRun caps save_version calls per pipeline run.
	MaxVersionsPerRun int `yaml:"max_versions_per_run"`
	// IgnorePatterns are doublestar globs excluded from list_files trees.
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// PricingOverride adjusts per-million-token pricing for one model.
type PricingOverride struct {
	InputPer1M  float64 `yaml:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m"`
}
