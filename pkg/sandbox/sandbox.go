// Package sandbox exposes the file tools agents call during a pipeline run.
// Every operation is scoped to one project root; paths are sanitized and
// containment-checked before any filesystem access.
package sandbox

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
)

// Versioner snapshots a project on request. Implementations live outside
// this package; save_version only forwards to it.
type Versioner interface {
	SaveVersion(ctx context.Context, projectID, label string) (versionID string, err error)
}

// ChangeNotifier receives notifications after successful writes.
type ChangeNotifier interface {
	FilesChanged(projectID string, paths []string)
}

// Config assembles a sandbox for one pipeline run.
type Config struct {
	ProjectRoot string
	ProjectID   string
	Versioner   Versioner // nil disables save_version
	Notifier    ChangeNotifier
	// MaxVersionsPerRun caps save_version calls for this run.
	MaxVersionsPerRun int
	// IgnorePatterns are doublestar globs list_files filters out.
	IgnorePatterns []string
}

// Sandbox executes the five file tools for one pipeline run. Safe for
// concurrent use; parallel dev agents share one instance.
type Sandbox struct {
	root        string
	projectID   string
	versioner   Versioner
	notifier    ChangeNotifier
	maxVersions int
	ignores     []string
	log         *slog.Logger

	mu           sync.Mutex
	versionsUsed int
	written      []string
	writtenSet   map[string]struct{}
}

// New creates a sandbox rooted at cfg.ProjectRoot.
func New(cfg Config) (*Sandbox, error) {
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}
	return &Sandbox{
		root:        root,
		projectID:   cfg.ProjectID,
		versioner:   cfg.Versioner,
		notifier:    cfg.Notifier,
		maxVersions: cfg.MaxVersionsPerRun,
		ignores:     cfg.IgnorePatterns,
		log:         slog.With("component", "sandbox", "project_id", cfg.ProjectID),
		writtenSet:  make(map[string]struct{}),
	}, nil
}

// Root returns the absolute project root.
func (s *Sandbox) Root() string {
	return s.root
}

// WrittenFiles returns every path written through this sandbox so far,
// deduplicated, in first-write order.
func (s *Sandbox) WrittenFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

func (s *Sandbox) recordWritten(paths []string) {
	s.mu.Lock()
	for _, p := range paths {
		if _, seen := s.writtenSet[p]; !seen {
			s.writtenSet[p] = struct{}{}
			s.written = append(s.written, p)
		}
	}
	s.mu.Unlock()

	if s.notifier != nil && len(paths) > 0 {
		s.notifier.FilesChanged(s.projectID, paths)
	}
}

// WriteDirect writes one file outside the tool loop, with the same
// sanitation, containment checks and change notification as write_file.
// Used by the extraction fallback when a model narrated its files instead
// of calling tools.
func (s *Sandbox) WriteDirect(path, content string) (string, error) {
	written, err := s.writeOne(path, content)
	if err != nil {
		return "", err
	}
	s.recordWritten([]string{written})
	return written, nil
}

// takeVersionSlot burns one save_version slot, reporting false when the
// per-run cap is exhausted.
func (s *Sandbox) takeVersionSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionsUsed >= s.maxVersions {
		return false
	}
	s.versionsUsed++
	return true
}
