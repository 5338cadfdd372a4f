// Package prompt resolves the system prompt for each agent. Resolution
// order: operator override in app_settings, then the on-disk prompts
// directory, then the embedded defaults shipped in the binary. The disk
// layer is hot-reloaded through fsnotify so prompt edits take effect
// without a restart.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// reloadDebounce coalesces bursts of fsnotify events (editors often fire
// several per save) into one reload.
const reloadDebounce = 250 * time.Millisecond

// OverrideSource supplies operator prompt overrides. Implemented by
// store.SettingsStore.
type OverrideSource interface {
	PromptOverride(ctx context.Context, agentKey string) (string, error)
}

// Store resolves agent system prompts.
type Store struct {
	dir       string
	overrides OverrideSource
	log       *slog.Logger

	mu   sync.RWMutex
	disk map[string]string // agentKey → prompt text from dir

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewStore creates a prompt store over dir. An empty dir disables the
// disk layer; a nil OverrideSource disables overrides.
func NewStore(dir string, overrides OverrideSource) *Store {
	return &Store{
		dir:       dir,
		overrides: overrides,
		log:       slog.With("component", "prompt_store"),
		disk:      make(map[string]string),
	}
}

// Load scans the prompts directory into the disk layer. A missing
// directory is fine — embedded defaults cover every agent.
func (s *Store) Load() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read prompts dir: %w", err)
	}

	disk := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.log.Warn("Failed to read prompt file", "file", entry.Name(), "error", err)
			continue
		}
		key := agentKeyForFile(entry.Name())
		disk[key] = strings.TrimSpace(string(data))
	}

	s.mu.Lock()
	s.disk = disk
	s.mu.Unlock()

	s.log.Debug("Prompts loaded from disk", "dir", s.dir, "count", len(disk))
	return nil
}

// Resolve returns the effective system prompt for an agent. Never empty:
// agents without any specific prompt get the generic fallback.
func (s *Store) Resolve(ctx context.Context, agentKey string) string {
	if s.overrides != nil {
		override, err := s.overrides.PromptOverride(ctx, agentKey)
		switch {
		case err == nil && strings.TrimSpace(override) != "":
			return override
		case err != nil && !errors.Is(err, store.ErrNotFound):
			s.log.Warn("Prompt override lookup failed, using defaults",
				"agent", agentKey, "error", err)
		}
	}

	s.mu.RLock()
	text, ok := s.disk[agentKey]
	s.mu.RUnlock()
	if ok && text != "" {
		return text
	}

	return embeddedDefault(agentKey)
}

// Watch starts the fsnotify reload loop over the prompts directory.
// No-op when the disk layer is disabled or the directory doesn't exist.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch prompts dir: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.watchCancel = cancel

	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher)

	s.log.Info("Prompt hot-reload active", "dir", s.dir)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (s *Store) Close() error {
	s.watchMu.Lock()
	watcher := s.watcher
	cancel := s.watchCancel
	s.watcher = nil
	s.watchCancel = nil
	s.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	s.watchWg.Wait()
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.watchWg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := s.Load(); err != nil {
				s.log.Warn("Prompt reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("Prompt watcher error", "error", err)
		}
	}
}

// agentKeyForFile maps a prompt filename back to its agent key. Colons in
// keys (the orchestrator role variants) are stored as dashes on disk.
func agentKeyForFile(name string) string {
	key := strings.TrimSuffix(name, ".md")
	if strings.HasPrefix(key, "orchestrator-") {
		key = "orchestrator:" + strings.TrimPrefix(key, "orchestrator-")
	}
	return key
}

// FileNameForAgent is the inverse mapping, used when materializing the
// default prompt files to disk.
func FileNameForAgent(agentKey string) string {
	return strings.ReplaceAll(agentKey, ":", "-") + ".md"
}
