package prompt

import (
	"embed"
	"strings"
	"sync"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

// genericFallback covers agent keys without a bundled prompt (user-added
// agents from YAML config).
const genericFallback = `You are a specialist agent in a web project generation pipeline.
Complete the task in the Current Request section using the provided context.
Be precise and produce only what the task asks for.`

var (
	defaultsOnce sync.Once
	defaults     map[string]string
)

// embeddedDefault returns the bundled prompt for an agent key, or the
// generic fallback when none is bundled.
func embeddedDefault(agentKey string) string {
	defaultsOnce.Do(loadDefaults)
	if text, ok := defaults[agentKey]; ok {
		return text
	}
	return genericFallback
}

// DefaultPrompts returns a copy of every bundled prompt keyed by agent.
// Used to materialize the prompts directory on first boot.
func DefaultPrompts() map[string]string {
	defaultsOnce.Do(loadDefaults)
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

func loadDefaults() {
	defaults = make(map[string]string)
	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return
	}
	for _, entry := range entries {
		data, err := defaultsFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			continue
		}
		defaults[agentKeyForFile(entry.Name())] = strings.TrimSpace(string(data))
	}
}
