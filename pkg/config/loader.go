package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// pagegenYAML mirrors the pagegen.yaml file structure.
type pagegenYAML struct {
	System   *SystemConfig                               `yaml:"system"`
	Agents   map[string]*AgentConfig                     `yaml:"agents"`
	Budgets  *BudgetConfig                               `yaml:"budgets"`
	Pipeline *PipelineConfig                             `yaml:"pipeline"`
	Sandbox  *SandboxConfig                              `yaml:"sandbox"`
	Pricing  map[ProviderType]map[string]PricingOverride `yaml:"pricing"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load pagegen.yaml from configDir (optional; defaults apply without it)
//  2. Expand environment variables
//  3. Merge built-in + user-defined agent configurations
//  4. Apply default values for budgets, pipeline, and sandbox sections
//  5. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"pricing_overrides", stats.PricingOverrides)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	userCfg, err := loader.loadPagegenYAML()
	if err != nil {
		return nil, NewLoadError("pagegen.yaml", err)
	}

	agents := mergeAgents(GetBuiltinAgents(), userCfg.Agents)

	// Budgets, pipeline, and sandbox: start from defaults, merge user values
	// on top so unset fields keep their defaults.
	budgets := DefaultBudgetConfig()
	if userCfg.Budgets != nil {
		if err := mergo.Merge(budgets, userCfg.Budgets, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge budget config: %w", err)
		}
	}
	pipeline := DefaultPipelineConfig()
	if userCfg.Pipeline != nil {
		if err := mergo.Merge(pipeline, userCfg.Pipeline, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
		}
	}
	sandbox := DefaultSandboxConfig()
	if userCfg.Sandbox != nil {
		if err := mergo.Merge(sandbox, userCfg.Sandbox, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge sandbox config: %w", err)
		}
	}
	system := DefaultSystemConfig()
	if userCfg.System != nil {
		if err := mergo.Merge(system, userCfg.System, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge system config: %w", err)
		}
	}

	pricing := userCfg.Pricing
	if pricing == nil {
		pricing = make(map[ProviderType]map[string]PricingOverride)
	}

	return &Config{
		configDir:     configDir,
		System:        system,
		Budgets:       budgets,
		Pipeline:      pipeline,
		Sandbox:       sandbox,
		Pricing:       pricing,
		AgentRegistry: NewAgentRegistry(agents),
	}, nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// loadPagegenYAML loads the main config file. A missing file is not an
// error: built-in defaults cover local runs.
func (l *configLoader) loadPagegenYAML() (*pagegenYAML, error) {
	var cfg pagegenYAML
	cfg.Agents = make(map[string]*AgentConfig)

	if err := l.loadYAML("pagegen.yaml", &cfg); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No pagegen.yaml found, using built-in defaults")
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}
