package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathEscapeError indicates a path resolved outside the project root.
// It surfaces inside the tool result, never as an Execute error.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escapes project root: %s", e.Path)
}

// SanitizeFilePath normalizes a model-supplied file path: backslashes become
// forward slashes, then wrapping whitespace, quotes, backticks, and leading
// "./" are stripped until a fixed point. Idempotent; may return "".
func SanitizeFilePath(path string) string {
	s := strings.ReplaceAll(path, "\\", "/")
	for {
		trimmed := strings.TrimSpace(s)
		trimmed = strings.Trim(trimmed, "\"'`")
		trimmed = strings.TrimPrefix(trimmed, "./")
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// resolve maps a sanitized relative path to an absolute path under the
// project root, rejecting anything that escapes it.
func (s *Sandbox) resolve(rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	relCheck, err := filepath.Rel(s.root, abs)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", &PathEscapeError{Path: rel}
	}
	return abs, nil
}
