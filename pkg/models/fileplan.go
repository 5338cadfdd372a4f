package models

// PlanEntry is one file the architect intends to create or modify.
type PlanEntry struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

// FilePlan is the architect's file list bucketed for parallel development:
// UI components and pages, shared code (hooks/utils/types/lib), and the
// app entry files that stitch everything together.
type FilePlan struct {
	Components []PlanEntry `json:"components"`
	Shared     []PlanEntry `json:"shared"`
	App        []PlanEntry `json:"app"`
}

// IsEmpty reports whether the plan names no files at all.
func (p *FilePlan) IsEmpty() bool {
	return len(p.Components) == 0 && len(p.Shared) == 0 && len(p.App) == 0
}
