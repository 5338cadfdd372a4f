// Package plan builds the execution DAG for a pipeline run. No LLM is
// consulted here: the graph is a pure function of intent, scope, and the
// optional research output, so identical requests always produce
// identical plans. The only dynamic part is the parallel frontend split,
// applied after the architect step completes.
package plan

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

var backendKeywords = regexp.MustCompile(`(?i)\b(api routes?|server-side|database|express|backend api|rest api|websocket server|authentication server)\b`)

// Build produces the step DAG for one pipeline run. Steps come back in
// dependency order with fresh IDs, pending status, and the user message
// embedded verbatim in every input.
func Build(userMessage, researchJSON string, intent models.Intent, scope models.Scope) []*models.Step {
	switch intent {
	case models.IntentQuestion:
		return []*models.Step{newStep(config.AgentQuestion, userMessage)}
	case models.IntentFix:
		return fixPlan(userMessage, scope)
	default:
		return buildPlan(userMessage, researchJSON, scope)
	}
}

// buildPlan is the full generation graph:
// architect → frontend-dev → backend-dev? → styling → three reviewers.
// The developers run sequentially so they never race on shared files; the
// reviewers are read-only and run in parallel.
func buildPlan(userMessage, researchJSON string, scope models.Scope) []*models.Step {
	architect := newStep(config.AgentArchitect, userMessage)
	frontend := newStep(config.AgentFrontendDev, userMessage, architect.ID)
	steps := []*models.Step{architect, frontend}

	devIDs := []string{frontend.ID}
	if (scope == models.ScopeFull || scope == models.ScopeBackend) && NeedsBackend(researchJSON) {
		backend := newStep(config.AgentBackendDev, userMessage, frontend.ID)
		steps = append(steps, backend)
		devIDs = append(devIDs, backend.ID)
	}

	styling := newStep(config.AgentStyling, userMessage, devIDs...)
	steps = append(steps, styling)

	for _, reviewer := range []string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA} {
		steps = append(steps, newStep(reviewer, userMessage, styling.ID))
	}
	return steps
}

// fixPlan starts from the testing agent, chains the in-scope developers
// sequentially, and fans out to the reviewers after the last one.
func fixPlan(userMessage string, scope models.Scope) []*models.Step {
	testing := newStep(config.AgentTesting, userMessage)
	steps := []*models.Step{testing}

	var devKeys []string
	switch scope {
	case models.ScopeFrontend:
		devKeys = []string{config.AgentFrontendDev}
	case models.ScopeBackend:
		devKeys = []string{config.AgentBackendDev}
	case models.ScopeStyling:
		devKeys = []string{config.AgentStyling}
	default:
		devKeys = []string{config.AgentFrontendDev, config.AgentBackendDev, config.AgentStyling}
	}

	prev := testing
	for _, key := range devKeys {
		dev := newStep(key, userMessage, prev.ID)
		steps = append(steps, dev)
		prev = dev
	}

	for _, reviewer := range []string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA} {
		steps = append(steps, newStep(reviewer, userMessage, prev.ID))
	}
	return steps
}

func newStep(agentKey, input string, deps ...string) *models.Step {
	return &models.Step{
		ID:        uuid.New().String(),
		AgentKey:  agentKey,
		Input:     input,
		DependsOn: deps,
		Status:    models.StepStatusPending,
	}
}

type researchDoc struct {
	Features []struct {
		RequiresBackend bool `json:"requires_backend"`
	} `json:"features"`
}

// NeedsBackend decides whether the plan includes the backend developer.
// Structured research output is authoritative; for free text a keyword
// scan applies, guarded against explicit "no backend" statements. The
// scan errs toward frontend-only: a bare mention of a REST endpoint is
// not enough.
func NeedsBackend(researchJSON string) bool {
	trimmed := strings.TrimSpace(researchJSON)
	if trimmed == "" {
		return false
	}

	if body := jsonBody(trimmed); body != "" {
		var doc researchDoc
		if err := json.Unmarshal([]byte(body), &doc); err == nil {
			for _, f := range doc.Features {
				if f.RequiresBackend {
					return true
				}
			}
			return false
		}
	}

	if strings.Contains(strings.ToLower(trimmed), "no backend") {
		return false
	}
	return backendKeywords.MatchString(trimmed)
}

// jsonBody strips an optional markdown fence and returns s when it looks
// like a JSON object, empty otherwise.
func jsonBody(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
			trimmed = trimmed[i+1:]
		}
		trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
	}
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	return ""
}
