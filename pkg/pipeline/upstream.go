package pipeline

import (
	"fmt"
	"strings"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

func isReviewer(agentKey string) bool {
	switch agentKey {
	case config.AgentCodeReview, config.AgentSecurity, config.AgentQA:
		return true
	}
	return false
}

// upstreamFor selects which completed outputs a step sees, keyed by the
// producing step's name. Reviewers get the architect plan plus a path
// manifest instead of raw dev output: thousands of lines of generated
// code drown a reviewer's context without improving its verdict.
// Remediation fixers additionally see the three reviewer verdicts, and
// the summary sees everything.
func (e *execution) upstreamFor(st *models.Step) map[string]string {
	switch {
	case st.AgentKey == config.AgentSummary:
		return e.completedOutputs()
	case isReviewer(st.AgentKey) && e.phases[st.ID] == phaseReReview:
		return e.latestOutputs(config.AgentArchitect)
	case isReviewer(st.AgentKey):
		m := e.latestOutputs(config.AgentArchitect)
		if manifest := e.sourceManifest(); manifest != "" {
			m["project-source"] = manifest
		}
		return m
	case e.phases[st.ID] == phaseRemediation:
		m := e.latestOutputs(config.AgentArchitect,
			config.AgentCodeReview, config.AgentSecurity, config.AgentQA)
		if e.sched.cfg.RemediationIncludeSource {
			if manifest := e.sourceManifest(); manifest != "" {
				m["project-source"] = manifest
			}
		}
		return m
	default:
		return e.dependencyOutputs(st)
	}
}

// completedOutputs returns every completed step's output, newest
// instance of a name winning.
func (e *execution) completedOutputs() map[string]string {
	out := make(map[string]string)
	for _, st := range e.steps {
		if st.Status == models.StepStatusCompleted && st.Output != "" {
			out[st.Name()] = st.Output
		}
	}
	return out
}

// latestOutputs picks the newest completed output per requested agent
// key, skipping parallel instances.
func (e *execution) latestOutputs(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, st := range e.steps {
		if st.Status != models.StepStatusCompleted || st.Output == "" || st.InstanceID != "" {
			continue
		}
		for _, k := range keys {
			if st.AgentKey == k {
				out[k] = st.Output
				break
			}
		}
	}
	return out
}

// dependencyOutputs returns the outputs of a step's direct dependencies.
func (e *execution) dependencyOutputs(st *models.Step) map[string]string {
	byID := e.stepsByID()
	out := make(map[string]string, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		d := byID[dep]
		if d != nil && d.Status == models.StepStatusCompleted && d.Output != "" {
			out[d.Name()] = d.Output
		}
	}
	return out
}

// sourceManifest lists the files written this run, paths only.
func (e *execution) sourceManifest() string {
	if e.sandbox == nil {
		return ""
	}
	files := e.sandbox.WrittenFiles()
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d files written this run:\n", len(files))
	for _, f := range files {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteByte('\n')
	}
	return b.String()
}
