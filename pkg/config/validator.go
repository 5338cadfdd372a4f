package config

import (
	"errors"
	"fmt"
)

// Validator performs comprehensive validation on loaded configuration
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every configuration section, collecting all errors
// so a user sees the full list in one pass.
func (v *Validator) ValidateAll() error {
	var errs []error

	for _, key := range v.cfg.AgentRegistry.Keys() {
		agent, _ := v.cfg.AgentRegistry.Get(key)
		if err := v.validateAgent(key, agent); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.validateBudgets(v.cfg.Budgets); err != nil {
		errs = append(errs, err)
	}
	if err := v.validatePipeline(v.cfg.Pipeline); err != nil {
		errs = append(errs, err)
	}
	if err := v.validateSandbox(v.cfg.Sandbox); err != nil {
		errs = append(errs, err)
	}
	for provider := range v.cfg.Pricing {
		if !provider.IsValid() {
			errs = append(errs, &ValidationError{
				Component: "pricing", ID: string(provider),
				Err: fmt.Errorf("%w: unknown provider", ErrInvalidValue),
			})
		}
	}

	return errors.Join(errs...)
}

func (v *Validator) validateAgent(key string, agent *AgentConfig) error {
	if agent.Provider == "" {
		return &ValidationError{Component: "agent", ID: key, Field: "provider", Err: ErrMissingRequiredField}
	}
	if !agent.Provider.IsValid() {
		return &ValidationError{Component: "agent", ID: key, Field: "provider",
			Err: fmt.Errorf("%w: %q", ErrInvalidValue, agent.Provider)}
	}
	if agent.Model == "" {
		return &ValidationError{Component: "agent", ID: key, Field: "model", Err: ErrMissingRequiredField}
	}
	if agent.Group != "" && !agent.Group.IsValid() {
		return &ValidationError{Component: "agent", ID: key, Field: "group",
			Err: fmt.Errorf("%w: %q", ErrInvalidValue, agent.Group)}
	}
	if agent.MaxOutputTokens < 0 {
		return &ValidationError{Component: "agent", ID: key, Field: "max_output_tokens",
			Err: fmt.Errorf("%w: must be >= 0", ErrInvalidValue)}
	}
	if agent.MaxToolSteps < 0 {
		return &ValidationError{Component: "agent", ID: key, Field: "max_tool_steps",
			Err: fmt.Errorf("%w: must be >= 0", ErrInvalidValue)}
	}
	return nil
}

func (v *Validator) validateBudgets(b *BudgetConfig) error {
	if b.MaxTokensPerChat < 0 || b.MaxCostPerDay < 0 || b.MaxCostPerProject < 0 {
		return &ValidationError{Component: "budgets", ID: "limits",
			Err: fmt.Errorf("%w: limits must be >= 0 (0 disables)", ErrInvalidValue)}
	}
	if b.WarnRatio < 0 || b.WarnRatio > 1 {
		return &ValidationError{Component: "budgets", ID: "warn_ratio",
			Err: fmt.Errorf("%w: must be within [0,1]", ErrInvalidValue)}
	}
	return nil
}

func (v *Validator) validatePipeline(p *PipelineConfig) error {
	if p.MaxParallelSteps < 1 {
		return &ValidationError{Component: "pipeline", ID: "max_parallel_steps",
			Err: fmt.Errorf("%w: must be >= 1", ErrInvalidValue)}
	}
	if p.MaxRetries < 0 {
		return &ValidationError{Component: "pipeline", ID: "max_retries",
			Err: fmt.Errorf("%w: must be >= 0", ErrInvalidValue)}
	}
	if p.MaxRemediationCycles < 0 || p.MaxRemediationCycles > 2 {
		return &ValidationError{Component: "pipeline", ID: "max_remediation_cycles",
			Err: fmt.Errorf("%w: must be within [0,2]", ErrInvalidValue)}
	}
	if p.StreamThrottleMs < 0 {
		return &ValidationError{Component: "pipeline", ID: "stream_throttle_ms",
			Err: fmt.Errorf("%w: must be >= 0", ErrInvalidValue)}
	}
	return nil
}

func (v *Validator) validateSandbox(s *SandboxConfig) error {
	if s.MaxVersionsPerRun < 0 || s.MaxVersionsPerRun > 10 {
		return &ValidationError{Component: "sandbox", ID: "max_versions_per_run",
			Err: fmt.Errorf("%w: must be within [0,10]", ErrInvalidValue)}
	}
	return nil
}
