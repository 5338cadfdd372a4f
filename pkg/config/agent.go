package config

import (
	"fmt"
	"sort"
	"sync"
)

// AgentConfig binds an agent role to one provider+model plus its runtime caps.
// Zero caps mean "use the built-in default for this key" (resolved at merge
// time, so a loaded registry always carries concrete values).
type AgentConfig struct {
	DisplayName     string       `yaml:"display_name"`
	Provider        ProviderType `yaml:"provider"`
	Model           string       `yaml:"model"`
	Group           AgentGroup   `yaml:"group"`
	MaxOutputTokens int          `yaml:"max_output_tokens,omitempty"`
	MaxToolSteps    int          `yaml:"max_tool_steps,omitempty"`
	// Tools grants the agent the sandbox file tools. Reviewer and planning
	// agents run without tools.
	Tools bool `yaml:"tools,omitempty"`
}

// AgentRegistry provides lookup access to merged agent configurations.
// Read-only after construction.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
}

// NewAgentRegistry creates a registry from merged configurations.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	if agents == nil {
		agents = make(map[string]*AgentConfig)
	}
	return &AgentRegistry{agents: agents}
}

// Get returns the config for an agent key.
func (r *AgentRegistry) Get(key string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, key)
	}
	return cfg, nil
}

// Has reports whether an agent key exists.
func (r *AgentRegistry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[key]
	return ok
}

// Keys returns all agent keys in sorted order.
func (r *AgentRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.agents))
	for k := range r.agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns the full key → config map. Callers must not mutate entries.
func (r *AgentRegistry) All() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		out[k] = v
	}
	return out
}
