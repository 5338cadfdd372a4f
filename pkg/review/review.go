// Package review inspects the reviewer agent outputs (code review,
// security, QA) after a pipeline's development steps finish and decides
// whether a remediation pass is needed. Detection is text-based: the
// reviewer prompts ask for a strict JSON verdict, but models drift, so
// the detector also recognizes the pass/fail phrasings they fall back to.
package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

var (
	passPhrases = []string{
		"qa review: pass",
		"passed with no issues",
		"zero security vulnerabilities",
		"safe for production",
	}

	failMarkers = []string{
		"[fail]",
		"critical issue",
		"must fix",
		"severity: critical",
		"severity: high",
	}

	// Tolerates whitespace around the colon; reviewer JSON is often
	// pretty-printed despite instructions.
	failStatusPattern = regexp.MustCompile(`"status"\s*:\s*"fail"`)
)

// Evaluate scans reviewer outputs keyed by agent key and returns the
// combined findings. A failing reviewer's raw output is attached so the
// remediation step can quote it back to the fixer agents; routing hints
// ([frontend], [backend], [styling]) are collected from failing outputs
// only.
func Evaluate(outputs map[string]string) *models.ReviewFindings {
	findings := &models.ReviewFindings{}

	for agent, output := range outputs {
		if isClean(output) || !isFailing(output) {
			continue
		}
		findings.HasIssues = true

		raw := output
		switch agent {
		case config.AgentCodeReview:
			findings.CodeReview = &raw
		case config.AgentSecurity:
			findings.Security = &raw
		case config.AgentQA:
			findings.QA = &raw
		}

		lower := strings.ToLower(output)
		if strings.Contains(lower, "[frontend]") {
			findings.FrontendIssues = true
		}
		if strings.Contains(lower, "[backend]") {
			findings.BackendIssues = true
		}
		if strings.Contains(lower, "[styling]") {
			findings.StylingIssues = true
		}
	}

	return findings
}

// Fixers maps routing hints to the dev agents that remediate them.
// No hints defaults to the frontend developer, which owns most of the
// generated surface.
func Fixers(f *models.ReviewFindings) []string {
	if f == nil || !f.HasIssues {
		return nil
	}
	var fixers []string
	if f.FrontendIssues {
		fixers = append(fixers, config.AgentFrontendDev)
	}
	if f.BackendIssues {
		fixers = append(fixers, config.AgentBackendDev)
	}
	if f.StylingIssues {
		fixers = append(fixers, config.AgentStyling)
	}
	if len(fixers) == 0 {
		fixers = []string{config.AgentFrontendDev}
	}
	return fixers
}

// RemediationBrief builds the corrective task handed to each fixer agent:
// the failing reviewer outputs verbatim, in a fixed order, under an
// instruction to re-emit whole corrected files.
func RemediationBrief(f *models.ReviewFindings) string {
	outputs := f.FailingOutputs()

	var b strings.Builder
	b.WriteString("Reviewers found problems in the generated project. Address every issue below and output the complete corrected files using write_file tool calls.\n")
	for _, key := range []string{config.AgentCodeReview, config.AgentSecurity, config.AgentQA} {
		out, ok := outputs[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## Findings from %s\n%s\n", key, strings.TrimSpace(out))
	}
	return b.String()
}

// isClean reports whether a reviewer output signals no problems: empty,
// a parseable pass verdict, or one of the known pass phrasings. Clean
// takes precedence over failing so that verdicts like
// {"status":"pass","notes":"no critical issues"} are not misread by the
// substring scan.
func isClean(output string) bool {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return true
	}
	if status, ok := parseStatus(trimmed); ok {
		return status == "pass"
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range passPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func isFailing(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range failMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return failStatusPattern.MatchString(lower)
}

type statusVerdict struct {
	Status string `json:"status"`
}

// parseStatus extracts the status field from a JSON verdict, tolerating
// a surrounding markdown fence.
func parseStatus(s string) (string, bool) {
	candidate := stripFence(s)
	if !strings.HasPrefix(candidate, "{") {
		return "", false
	}
	var v statusVerdict
	if err := json.Unmarshal([]byte(candidate), &v); err != nil || v.Status == "" {
		return "", false
	}
	return strings.ToLower(v.Status), true
}

func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
