package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/plan"
)

// maxSummaryChars caps the one-line UI summary.
const maxSummaryChars = 120

var (
	toolCallBlockPattern = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>`)
	fencedBlockPattern   = regexp.MustCompile("(?s)```.*?```")
	trailingFencePattern = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\\n(.*?)```\\s*$")
	sentenceEndPattern   = regexp.MustCompile(`[.!?](\s+[A-Z]|\s*$)`)
	listMarkerPattern    = regexp.MustCompile(`^\d+[.)]\s+`)
)

// Summarize derives the persisted step content and the one-line UI
// summary from an agent's full response text. A trailing {"summary": …}
// block some agents append is consumed: its text becomes the summary and
// the block is stripped from the content. Research and architect outputs
// summarize from their structured fields instead.
func Summarize(agentKey, fullText string) (content, summary string) {
	content, blockSummary := splitTrailingSummary(fullText)

	switch agentKey {
	case config.AgentResearch:
		if s := researchSummary(content); s != "" {
			return content, clampSummary(s)
		}
	case config.AgentArchitect:
		if s := architectSummary(content); s != "" {
			return content, clampSummary(s)
		}
	}

	if blockSummary != "" {
		return content, clampSummary(blockSummary)
	}
	return content, clampSummary(firstSentence(content))
}

// splitTrailingSummary detaches a trailing fenced JSON block carrying a
// "summary" field. File plans and research documents are left alone, and
// a block that is the entire response is kept as the content.
func splitTrailingSummary(text string) (body, summary string) {
	m := trailingFencePattern.FindStringSubmatchIndex(text)
	if m == nil {
		return text, ""
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text[m[2]:m[3]])), &doc); err != nil {
		return text, ""
	}
	s, ok := doc["summary"].(string)
	if !ok {
		return text, ""
	}
	if _, isPlan := doc["components"]; isPlan {
		return text, ""
	}
	if _, isResearch := doc["features"]; isResearch {
		return text, ""
	}

	body = strings.TrimSpace(text[:m[0]])
	if body == "" {
		return text, ""
	}
	return body, strings.TrimSpace(s)
}

type researchOutput struct {
	Summary string `json:"summary"`
}

func researchSummary(content string) string {
	body := strings.TrimSpace(content)
	if fence := trailingFencePattern.FindStringSubmatch(body); fence != nil && strings.HasPrefix(body, "```") {
		body = strings.TrimSpace(fence[1])
	}
	if !strings.HasPrefix(body, "{") {
		return ""
	}
	var doc researchOutput
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Summary)
}

func architectSummary(content string) string {
	p, ok := plan.ParseFilePlan(content)
	if !ok {
		return ""
	}
	total := len(p.Components) + len(p.Shared) + len(p.App)
	return fmt.Sprintf("Planned %d files: %d components, %d shared, %d app",
		total, len(p.Components), len(p.Shared), len(p.App))
}

// firstSentence returns the first natural-language sentence of the text,
// with tool-call and code blocks removed so narrated file writes never
// leak into the UI line.
func firstSentence(text string) string {
	cleaned := toolCallBlockPattern.ReplaceAllString(text, "")
	cleaned = fencedBlockPattern.ReplaceAllString(cleaned, "")

	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			// Headings label sections; the prose below them summarizes.
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "*->"))
		line = listMarkerPattern.ReplaceAllString(line, "")
		if len(line) < 3 {
			continue
		}
		if loc := sentenceEndPattern.FindStringIndex(line); loc != nil {
			return strings.TrimSpace(line[:loc[0]+1])
		}
		return line
	}
	return ""
}

func clampSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxSummaryChars {
		return s
	}
	return string(runes[:maxSummaryChars-3]) + "..."
}
