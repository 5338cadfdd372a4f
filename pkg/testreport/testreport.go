// Package testreport parses vitest JSON reporter output into the failure
// list a fix pipeline embeds in its testing step input. The format is
// jest-compatible: a top-level testResults array of suites, each with
// assertionResults per test.
package testreport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Failure is one failing test, or one suite that failed to load.
type Failure struct {
	File    string `json:"file"`
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// Report summarizes a vitest run.
type Report struct {
	Total    int       `json:"total"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

type vitestSuite struct {
	Name             string `json:"name"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	AssertionResults []struct {
		FullName        string   `json:"fullName"`
		Title           string   `json:"title"`
		Status          string   `json:"status"`
		FailureMessages []string `json:"failureMessages"`
	} `json:"assertionResults"`
}

type vitestOutput struct {
	NumTotalTests  int           `json:"numTotalTests"`
	NumFailedTests int           `json:"numFailedTests"`
	TestResults    []vitestSuite `json:"testResults"`
}

// ParseVitest decodes vitest --reporter=json output. A suite that failed
// with no assertion results never ran at all (import error, syntax error);
// it is reported as a single [Collection Error] failure so the fix agents
// see it instead of a silently-empty run.
func ParseVitest(data []byte) (*Report, error) {
	var out vitestOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing vitest output: %w", err)
	}

	report := &Report{
		Total:  out.NumTotalTests,
		Failed: out.NumFailedTests,
	}

	for _, suite := range out.TestResults {
		if suite.Status == "failed" && len(suite.AssertionResults) == 0 {
			report.Failures = append(report.Failures, Failure{
				File:    suite.Name,
				Name:    "[Collection Error]",
				Message: strings.TrimSpace(suite.Message),
			})
			continue
		}
		for _, a := range suite.AssertionResults {
			if a.Status != "failed" {
				continue
			}
			name := a.FullName
			if name == "" {
				name = a.Title
			}
			report.Failures = append(report.Failures, Failure{
				File:    suite.Name,
				Name:    name,
				Message: strings.TrimSpace(strings.Join(a.FailureMessages, "\n")),
			})
		}
	}

	if len(report.Failures) > report.Failed {
		report.Failed = len(report.Failures)
	}
	return report, nil
}

// HasFailures reports whether anything in the run needs fixing.
func (r *Report) HasFailures() bool {
	return r != nil && len(r.Failures) > 0
}

// Summary renders the failures as the text block handed to the testing
// agent. Empty when the run was green.
func (r *Report) Summary() string {
	if !r.HasFailures() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d tests failed.\n", r.Failed, r.Total)
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n- %s > %s\n", f.File, f.Name)
		if f.Message != "" {
			for _, line := range strings.Split(f.Message, "\n") {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	return b.String()
}
