// Package extract recovers file writes from raw model text. It is the
// fallback for dev agents whose model emitted tool calls as text instead
// of using the native tool API: the runner hands over the full response
// only when zero native write_file/write_files results were seen.
package extract

import (
	"encoding/json"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/sandbox"
)

// File is one recovered write, sanitized and containment-checked.
type File struct {
	Path    string
	Content string
}

// Options tunes the extractor.
type Options struct {
	// MarkdownFences enables the fence fallback: code fences annotated
	// with a path heading or comment. Off by default — fences holding
	// example snippets false-positive too easily.
	MarkdownFences bool
}

var (
	toolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

	// Field recovery for bodies that defeat both JSON parses.
	pathFieldPattern = regexp.MustCompile(`"path"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	// Content runs to the final quote before the closing braces; (?s) lets
	// raw newlines through.
	contentFieldPattern = regexp.MustCompile(`(?s)"content"\s*:\s*"(.*)"\s*,?\s*\}\s*\}?\s*$`)

	// Markdown fence fallback: an optional "### path" heading above the
	// fence, or a "// path" first line inside it.
	fencePattern       = regexp.MustCompile("(?s)(?:###\\s*`?([^`\\n]+?)`?\\s*\\n+)?```[a-zA-Z]*\\n(.*?)```")
	fenceCommentHeader = regexp.MustCompile(`^(?://|/\*|<!--|#)\s*([\w./\-]+\.[a-zA-Z]+)\s*(?:\*/|-->)?$`)
)

// toolCallBody is the expected JSON inside a <tool_call> block.
type toolCallBody struct {
	Name       string `json:"name"`
	Parameters struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Files   []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	} `json:"parameters"`
}

// Files scans a dev agent's response text for file writes. Recovered
// paths are sanitized, deduplicated (first occurrence wins) and checked
// against project-root containment; offending entries are dropped.
func Files(text string, opts Options) []File {
	var raw []File

	for _, match := range toolCallPattern.FindAllStringSubmatch(text, -1) {
		raw = append(raw, parseToolCall(match[1])...)
	}

	if len(raw) == 0 && opts.MarkdownFences {
		raw = append(raw, parseFences(text)...)
	}

	return postProcess(raw)
}

// parseToolCall runs the three parse stages over one block body:
// strict JSON, newline-repaired JSON, then regex field recovery.
func parseToolCall(body string) []File {
	if files, ok := parseBodyJSON(body); ok {
		return files
	}
	if files, ok := parseBodyJSON(escapeRawNewlines(body)); ok {
		slog.Debug("Tool call JSON repaired", "bytes", len(body))
		return files
	}

	pathMatch := pathFieldPattern.FindStringSubmatch(body)
	contentMatch := contentFieldPattern.FindStringSubmatch(body)
	if pathMatch == nil || contentMatch == nil {
		slog.Warn("Unparseable tool call block dropped", "bytes", len(body))
		return nil
	}
	slog.Debug("Tool call fields recovered by regex", "path", pathMatch[1])
	return []File{{
		Path:    unescapeJSONString(pathMatch[1]),
		Content: unescapeJSONString(contentMatch[1]),
	}}
}

func parseBodyJSON(body string) ([]File, bool) {
	var call toolCallBody
	if err := json.Unmarshal([]byte(body), &call); err != nil {
		return nil, false
	}
	switch call.Name {
	case "write_file":
		if call.Parameters.Path == "" {
			return nil, false
		}
		return []File{{Path: call.Parameters.Path, Content: call.Parameters.Content}}, true
	case "write_files":
		var files []File
		for _, f := range call.Parameters.Files {
			if f.Path != "" {
				files = append(files, File{Path: f.Path, Content: f.Content})
			}
		}
		return files, len(files) > 0
	default:
		return nil, false
	}
}

// escapeRawNewlines escapes literal control characters inside JSON string
// literals. Models frequently emit file content with real newlines where
// JSON requires \n.
func escapeRawNewlines(body string) string {
	var b strings.Builder
	b.Grow(len(body) + 64)

	inString := false
	escaped := false
	for _, r := range body {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\r':
				b.WriteString(`\r`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			}
		} else if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unescapeJSONString undoes the common escapes in a regex-recovered field.
// Not a full JSON decoder — by this stage the body already failed two
// real parses, so best effort is the contract.
func unescapeJSONString(s string) string {
	r := strings.NewReplacer(
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
		`\"`, `"`,
		`\\`, `\`,
	)
	return r.Replace(s)
}

// parseFences extracts files from annotated markdown fences.
func parseFences(text string) []File {
	var files []File
	for _, match := range fencePattern.FindAllStringSubmatch(text, -1) {
		heading, body := match[1], match[2]

		filePath := strings.TrimSpace(heading)
		lines := strings.SplitN(body, "\n", 2)
		if filePath == "" && len(lines) > 0 {
			if m := fenceCommentHeader.FindStringSubmatch(strings.TrimSpace(lines[0])); m != nil {
				filePath = m[1]
				if len(lines) == 2 {
					body = lines[1]
				} else {
					body = ""
				}
			}
		}
		if filePath == "" {
			continue
		}
		files = append(files, File{Path: filePath, Content: body})
	}
	return files
}

// postProcess applies the cleanup every recovered file goes through:
// BOM strip, CRLF→LF, path sanitation, first-wins dedupe, containment.
func postProcess(raw []File) []File {
	var out []File
	seen := make(map[string]struct{}, len(raw))

	for _, f := range raw {
		p := sandbox.SanitizeFilePath(f.Path)
		if p == "" {
			continue
		}
		if !contained(p) {
			slog.Warn("Extracted path escapes project root, dropped", "path", f.Path)
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		content := strings.TrimPrefix(f.Content, "\uFEFF")
		content = strings.ReplaceAll(content, "\r\n", "\n")
		out = append(out, File{Path: p, Content: content})
	}
	return out
}

// contained rejects absolute paths and anything that walks above the
// project root after cleaning.
func contained(p string) bool {
	if strings.HasPrefix(p, "/") {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}
