package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/sandbox"
)

// maxDevBatches bounds the parallel component batches regardless of how
// many files the architect plans.
const maxDevBatches = 4

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\\n(.*?)```")

// ParseFilePlan pulls the architect's file plan out of its response. The
// prompt asks for a fenced, pre-bucketed JSON block; flat file lists and
// unfenced JSON are tolerated, with paths bucketed by prefix.
func ParseFilePlan(output string) (*models.FilePlan, bool) {
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(output, -1) {
		if p, ok := decodeFilePlan(strings.TrimSpace(m[1])); ok {
			return p, true
		}
	}
	start, end := strings.Index(output, "{"), strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		if p, ok := decodeFilePlan(output[start : end+1]); ok {
			return p, true
		}
	}
	return nil, false
}

func decodeFilePlan(body string) (*models.FilePlan, bool) {
	var p models.FilePlan
	if err := json.Unmarshal([]byte(body), &p); err == nil {
		if sanitized := sanitizePlan(&p); !sanitized.IsEmpty() {
			return sanitized, true
		}
	}

	var flat struct {
		FilePlan []json.RawMessage `json:"file_plan"`
		Files    []json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal([]byte(body), &flat); err != nil {
		return nil, false
	}
	raws := flat.FilePlan
	if len(raws) == 0 {
		raws = flat.Files
	}
	entries := decodeEntries(raws)
	if len(entries) == 0 {
		return nil, false
	}
	if bucketed := sanitizePlan(bucketEntries(entries)); !bucketed.IsEmpty() {
		return bucketed, true
	}
	return nil, false
}

// decodeEntries accepts both bare path strings and {action, path} objects.
func decodeEntries(raws []json.RawMessage) []models.PlanEntry {
	var entries []models.PlanEntry
	for _, raw := range raws {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			entries = append(entries, models.PlanEntry{Action: "create", Path: s})
			continue
		}
		var e models.PlanEntry
		if err := json.Unmarshal(raw, &e); err == nil && e.Path != "" {
			if e.Action == "" {
				e.Action = "create"
			}
			entries = append(entries, e)
		}
	}
	return entries
}

// bucketEntries sorts a flat file list into the three dev buckets by path
// prefix: components/pages are independent UI work, the lib-style
// directories are shared code, root-level entry files are app wiring.
// Unknown directories land in components so they still get implemented.
func bucketEntries(entries []models.PlanEntry) *models.FilePlan {
	p := &models.FilePlan{}
	for _, e := range entries {
		switch bucketFor(e.Path) {
		case "shared":
			p.Shared = append(p.Shared, e)
		case "app":
			p.App = append(p.App, e)
		default:
			p.Components = append(p.Components, e)
		}
	}
	return p
}

func bucketFor(path string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(path, "./"), "src/")
	dir, _, found := strings.Cut(rel, "/")
	if !found {
		return "app"
	}
	switch strings.ToLower(dir) {
	case "components", "pages":
		return "components"
	case "hooks", "utils", "types", "lib", "helpers", "constants", "context":
		return "shared"
	default:
		return "components"
	}
}

// sanitizePlan normalizes every path and drops entries that sanitize to
// nothing.
func sanitizePlan(p *models.FilePlan) *models.FilePlan {
	return &models.FilePlan{
		Components: sanitizeEntries(p.Components),
		Shared:     sanitizeEntries(p.Shared),
		App:        sanitizeEntries(p.App),
	}
}

func sanitizeEntries(entries []models.PlanEntry) []models.PlanEntry {
	var clean []models.PlanEntry
	for _, e := range entries {
		if path := sandbox.SanitizeFilePath(e.Path); path != "" {
			e.Path = path
			clean = append(clean, e)
		}
	}
	return clean
}

// ExpandFrontendDev swaps the single pending frontend-dev step for
// parallel instances derived from the architect's file plan: an optional
// shared-code batch, up to maxDevBatches component batches that run
// alongside it, and an app step that runs after every other instance.
// Steps that depended on the original frontend-dev step are re-pointed at
// the app step. The input list is returned unchanged when the architect
// output has no usable plan.
func ExpandFrontendDev(steps []*models.Step, architectOutput string) []*models.Step {
	filePlan, ok := ParseFilePlan(architectOutput)
	if !ok || filePlan.IsEmpty() {
		return steps
	}

	baseIdx := -1
	for i, s := range steps {
		if s.AgentKey == config.AgentFrontendDev && s.InstanceID == "" && s.Status == models.StepStatusPending {
			baseIdx = i
			break
		}
	}
	if baseIdx < 0 {
		return steps
	}
	base := steps[baseIdx]

	var instances []*models.Step
	var priorIDs []string

	if len(filePlan.Shared) > 0 {
		shared := instanceStep(base, "frontend-dev-shared", "shared hooks, utilities and types", filePlan.Shared, base.DependsOn)
		instances = append(instances, shared)
		priorIDs = append(priorIDs, shared.ID)
	}

	for i, batch := range splitBatches(filePlan.Components) {
		step := instanceStep(base, fmt.Sprintf("frontend-dev-%d", i+1), "UI components listed below", batch, base.DependsOn)
		instances = append(instances, step)
		priorIDs = append(priorIDs, step.ID)
	}

	appDeps := priorIDs
	if len(appDeps) == 0 {
		appDeps = base.DependsOn
	}
	app := instanceStep(base, "frontend-dev-app", "app entry files that wire the finished components together", filePlan.App, appDeps)
	instances = append(instances, app)

	out := make([]*models.Step, 0, len(steps)-1+len(instances))
	out = append(out, steps[:baseIdx]...)
	out = append(out, instances...)
	out = append(out, steps[baseIdx+1:]...)

	for _, s := range out {
		for j, dep := range s.DependsOn {
			if dep == base.ID {
				s.DependsOn[j] = app.ID
			}
		}
	}
	return out
}

func instanceStep(base *models.Step, instanceID, focus string, entries []models.PlanEntry, deps []string) *models.Step {
	return &models.Step{
		ID:            uuid.New().String(),
		PipelineRunID: base.PipelineRunID,
		AgentKey:      base.AgentKey,
		InstanceID:    instanceID,
		Input:         batchInput(base.Input, focus, entries),
		DependsOn:     append([]string(nil), deps...),
		Status:        models.StepStatusPending,
	}
}

func batchInput(base, focus string, entries []models.PlanEntry) string {
	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\nYou are responsible for the %s. Do not write any other files.", focus)
	if len(entries) > 0 {
		b.WriteString("\n\n## Assigned Files\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s %s\n", e.Action, e.Path)
		}
	}
	return b.String()
}

// splitBatches divides the component list into ceil(n/4) contiguous
// chunks, capped at maxDevBatches.
func splitBatches(components []models.PlanEntry) [][]models.PlanEntry {
	if len(components) == 0 {
		return nil
	}
	n := (len(components) + 3) / 4
	if n > maxDevBatches {
		n = maxDevBatches
	}
	size := (len(components) + n - 1) / n

	var batches [][]models.PlanEntry
	for start := 0; start < len(components); start += size {
		end := start + size
		if end > len(components) {
			end = len(components)
		}
		batches = append(batches, components[start:end])
	}
	return batches
}
