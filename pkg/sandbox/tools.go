package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/llm"
)

// Tool names exposed to models.
const (
	ToolWriteFile   = "write_file"
	ToolWriteFiles  = "write_files"
	ToolReadFile    = "read_file"
	ToolListFiles   = "list_files"
	ToolSaveVersion = "save_version"
)

const (
	writeFileSchema = `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path relative to the project root"},
			"content": {"type": "string", "description": "Complete file content"}
		},
		"required": ["path", "content"]
	}`
	writeFilesSchema = `{
		"type": "object",
		"properties": {
			"files": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"path": {"type": "string"},
						"content": {"type": "string"}
					},
					"required": ["path", "content"]
				}
			}
		},
		"required": ["files"]
	}`
	readFileSchema = `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path relative to the project root"}
		},
		"required": ["path"]
	}`
	listFilesSchema = `{
		"type": "object",
		"properties": {
			"dir": {"type": "string", "description": "Subdirectory to list, defaults to the project root"}
		}
	}`
	saveVersionSchema = `{
		"type": "object",
		"properties": {
			"label": {"type": "string", "description": "Human-readable label for the snapshot"}
		},
		"required": ["label"]
	}`
)

var toolSchemas = map[string]*jsonschema.Schema{
	ToolWriteFile:   jsonschema.MustCompileString("write_file.json", writeFileSchema),
	ToolWriteFiles:  jsonschema.MustCompileString("write_files.json", writeFilesSchema),
	ToolReadFile:    jsonschema.MustCompileString("read_file.json", readFileSchema),
	ToolListFiles:   jsonschema.MustCompileString("list_files.json", listFilesSchema),
	ToolSaveVersion: jsonschema.MustCompileString("save_version.json", saveVersionSchema),
}

// Definitions implements llm.ToolExecutor.
func (s *Sandbox) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:             ToolWriteFile,
			Description:      "Write one file to the project. Creates parent directories as needed and overwrites existing content.",
			ParametersSchema: writeFileSchema,
		},
		{
			Name:             ToolWriteFiles,
			Description:      "Write multiple files to the project in one call. Prefer this when creating several files at once.",
			ParametersSchema: writeFilesSchema,
		},
		{
			Name:             ToolReadFile,
			Description:      "Read one project file and return its content.",
			ParametersSchema: readFileSchema,
		},
		{
			Name:             ToolListFiles,
			Description:      "List the project file tree. Hidden files and dependency directories are omitted.",
			ParametersSchema: listFilesSchema,
		},
		{
			Name:             ToolSaveVersion,
			Description:      "Snapshot the current project state under a label.",
			ParametersSchema: saveVersionSchema,
		},
	}
}

// Execute implements llm.ToolExecutor. Failures come back as structured
// error results so the model can read them and self-correct; Execute itself
// never aborts the stream.
func (s *Sandbox) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	schema, ok := toolSchemas[call.Name]
	if !ok {
		return errorResult(fmt.Sprintf("Unknown tool: %s", call.Name))
	}

	var decoded any
	if err := json.Unmarshal([]byte(call.Arguments), &decoded); err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err))
	}
	if err := schema.Validate(decoded); err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err))
	}

	switch call.Name {
	case ToolWriteFile:
		return s.writeFile(call.Arguments)
	case ToolWriteFiles:
		return s.writeFiles(call.Arguments)
	case ToolReadFile:
		return s.readFile(call.Arguments)
	case ToolListFiles:
		return s.listFiles(call.Arguments)
	case ToolSaveVersion:
		return s.saveVersion(ctx, call.Arguments)
	default:
		return errorResult(fmt.Sprintf("Unknown tool: %s", call.Name))
	}
}

func errorResult(msg string) llm.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return llm.ToolResult{Content: string(payload), IsError: true}
}

func (s *Sandbox) writeFile(args string) llm.ToolResult {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return errorResult(err.Error())
	}

	written, err := s.writeOne(in.Path, in.Content)
	if err != nil {
		return errorResult(err.Error())
	}
	s.recordWritten([]string{written})

	payload, _ := json.Marshal(map[string]any{"success": true, "path": written})
	return llm.ToolResult{Content: string(payload), Paths: []string{written}}
}

func (s *Sandbox) writeFiles(args string) llm.ToolResult {
	var in struct {
		Files []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return errorResult(err.Error())
	}

	var written []string
	fileErrors := map[string]string{}
	for _, f := range in.Files {
		p, err := s.writeOne(f.Path, f.Content)
		if err != nil {
			key := SanitizeFilePath(f.Path)
			if key == "" {
				key = f.Path
			}
			fileErrors[key] = err.Error()
			continue
		}
		written = append(written, p)
	}
	s.recordWritten(written)

	out := map[string]any{"written": written}
	if len(fileErrors) > 0 {
		out["errors"] = fileErrors
	}
	payload, _ := json.Marshal(out)
	return llm.ToolResult{Content: string(payload), Paths: written, IsError: len(written) == 0 && len(fileErrors) > 0}
}

// writeOne sanitizes, containment-checks, and writes a single file.
func (s *Sandbox) writeOne(rawPath, content string) (string, error) {
	sanitized := SanitizeFilePath(rawPath)
	if sanitized == "" {
		return "", fmt.Errorf("empty file path")
	}
	abs, err := s.resolve(sanitized)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create directories for %s: %w", sanitized, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", sanitized, err)
	}
	s.log.Debug("File written", "path", sanitized, "bytes", len(content))
	return sanitized, nil
}

func (s *Sandbox) readFile(args string) llm.ToolResult {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return errorResult(err.Error())
	}

	sanitized := SanitizeFilePath(in.Path)
	if sanitized == "" {
		return errorResult("empty file path")
	}
	abs, err := s.resolve(sanitized)
	if err != nil {
		return errorResult(err.Error())
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		// Structured, not an exception: the model recovers by listing files.
		return errorResult("File not found")
	}
	if err != nil {
		return errorResult(err.Error())
	}
	return llm.ToolResult{Content: string(data)}
}

// FileNode is one entry of the list_files tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Children []FileNode `json:"children,omitempty"`
}

func (s *Sandbox) listFiles(args string) llm.ToolResult {
	var in struct {
		Dir string `json:"dir"`
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return errorResult(err.Error())
	}

	base := SanitizeFilePath(in.Dir)
	abs, err := s.resolve(base)
	if err != nil {
		return errorResult(err.Error())
	}

	tree, err := s.buildTree(abs, base)
	if err != nil {
		return errorResult(err.Error())
	}
	payload, _ := json.Marshal(tree)
	return llm.ToolResult{Content: string(payload)}
}

func (s *Sandbox) buildTree(absDir, relDir string) ([]FileNode, error) {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var nodes []FileNode
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		relPath := path.Join(relDir, name)
		if s.ignored(relPath, entry.IsDir()) {
			continue
		}
		node := FileNode{Name: name, Path: relPath}
		if entry.IsDir() {
			node.Type = "directory"
			children, err := s.buildTree(filepath.Join(absDir, name), relPath)
			if err != nil {
				return nil, err
			}
			node.Children = children
		} else {
			node.Type = "file"
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *Sandbox) ignored(relPath string, isDir bool) bool {
	for _, pattern := range s.ignores {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		// A pattern like "node_modules/**" must also drop the directory
		// itself, or the walk descends into it anyway.
		if isDir {
			if ok, _ := doublestar.Match(pattern, relPath+"/"); ok {
				return true
			}
			if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/**"), relPath); ok {
				return true
			}
		}
	}
	return false
}

func (s *Sandbox) saveVersion(ctx context.Context, args string) llm.ToolResult {
	var in struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return errorResult(err.Error())
	}

	if s.versioner == nil {
		return errorResult("Versioning is not available for this project")
	}
	if !s.takeVersionSlot() {
		return errorResult(fmt.Sprintf("VersionLimitReached: at most %d versions may be saved per run", s.maxVersions))
	}

	versionID, err := s.versioner.SaveVersion(ctx, s.projectID, in.Label)
	if err != nil {
		return errorResult(fmt.Sprintf("save version: %v", err))
	}
	payload, _ := json.Marshal(map[string]any{"success": true, "versionId": versionID})
	return llm.ToolResult{Content: string(payload)}
}
