package config

// mergeAgents merges built-in and user-defined agents. User entries override
// built-in entries field-by-field; unset user fields keep the built-in value;
// unknown keys are added as new agents. Missing caps fall back to the
// process-wide defaults so every config in the registry carries concrete
// values.
func mergeAgents(builtin, user map[string]*AgentConfig) map[string]*AgentConfig {
	merged := make(map[string]*AgentConfig, len(builtin)+len(user))
	for key, cfg := range builtin {
		copied := *cfg
		merged[key] = &copied
	}
	for key, userCfg := range user {
		if userCfg == nil {
			continue
		}
		base, ok := merged[key]
		if !ok {
			copied := *userCfg
			merged[key] = &copied
			continue
		}
		if userCfg.DisplayName != "" {
			base.DisplayName = userCfg.DisplayName
		}
		if userCfg.Provider != "" {
			base.Provider = userCfg.Provider
		}
		if userCfg.Model != "" {
			base.Model = userCfg.Model
		}
		if userCfg.Group != "" {
			base.Group = userCfg.Group
		}
		if userCfg.MaxOutputTokens != 0 {
			base.MaxOutputTokens = userCfg.MaxOutputTokens
		}
		if userCfg.MaxToolSteps != 0 {
			base.MaxToolSteps = userCfg.MaxToolSteps
		}
		if userCfg.Tools {
			base.Tools = true
		}
	}
	for _, cfg := range merged {
		if cfg.MaxOutputTokens == 0 {
			cfg.MaxOutputTokens = DefaultMaxOutputTokens
		}
		if cfg.MaxToolSteps == 0 {
			cfg.MaxToolSteps = DefaultMaxToolSteps
		}
	}
	return merged
}
