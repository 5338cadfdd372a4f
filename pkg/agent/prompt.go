package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PromptLimits caps the variable-size prompt sections.
type PromptLimits struct {
	// HistoryMaxMessages / HistoryMaxChars bound the chat history section.
	HistoryMaxMessages int
	HistoryMaxChars    int
	// UpstreamMaxChars bounds each embedded upstream output; longer values
	// are truncated head+tail with an elision marker.
	UpstreamMaxChars int
}

// DefaultPromptLimits mirrors the pipeline config defaults.
func DefaultPromptLimits() PromptLimits {
	return PromptLimits{HistoryMaxMessages: 6, HistoryMaxChars: 3000, UpstreamMaxChars: 10000}
}

func (l PromptLimits) orDefaults() PromptLimits {
	d := DefaultPromptLimits()
	if l.HistoryMaxMessages <= 0 {
		l.HistoryMaxMessages = d.HistoryMaxMessages
	}
	if l.HistoryMaxChars <= 0 {
		l.HistoryMaxChars = d.HistoryMaxChars
	}
	if l.UpstreamMaxChars <= 0 {
		l.UpstreamMaxChars = d.UpstreamMaxChars
	}
	return l
}

// BuildPrompt assembles the user prompt in the fixed section order:
// chat history, context, previous agent outputs, current request. Empty
// sections are omitted; the current request is always present.
func BuildPrompt(in Input) string {
	return BuildPromptWithLimits(in, DefaultPromptLimits())
}

// BuildPromptWithLimits is BuildPrompt with explicit section caps.
func BuildPromptWithLimits(in Input, limits PromptLimits) string {
	limits = limits.orDefaults()
	var b strings.Builder

	if history := formatHistory(in, limits); history != "" {
		b.WriteString("## Chat History\n")
		b.WriteString(history)
		b.WriteString("\n")
	}

	if len(in.Context) > 0 {
		dump, err := json.MarshalIndent(in.Context, "", "  ")
		if err == nil {
			b.WriteString("## Context\n")
			b.Write(dump)
			b.WriteString("\n\n")
		}
	}

	if len(in.UpstreamOutputs) > 0 {
		b.WriteString("## Previous Agent Outputs\n")
		keys := make([]string, 0, len(in.UpstreamOutputs))
		for k := range in.UpstreamOutputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n### %s\n%s\n", k, truncateHeadTail(in.UpstreamOutputs[k], limits.UpstreamMaxChars))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Current Request\n")
	b.WriteString(in.UserMessage)
	return b.String()
}

// formatHistory renders the most recent messages, newest-last, dropping
// older ones once the character cap is reached.
func formatHistory(in Input, limits PromptLimits) string {
	history := in.ChatHistory
	if len(history) == 0 {
		return ""
	}
	if len(history) > limits.HistoryMaxMessages {
		history = history[len(history)-limits.HistoryMaxMessages:]
	}

	// Walk backwards so the newest messages survive the character cap.
	var lines []string
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		line := m.Role + ": " + m.Content
		if total+len(line) > limits.HistoryMaxChars && len(lines) > 0 {
			break
		}
		if total+len(line) > limits.HistoryMaxChars {
			line = truncateHeadTail(line, limits.HistoryMaxChars)
		}
		lines = append(lines, line)
		total += len(line)
	}

	// Reverse back to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

const elisionMarker = "\n\n[... output truncated ...]\n\n"

// truncateHeadTail keeps the start and end of an oversized value: the
// head carries the structure, the tail the conclusions.
func truncateHeadTail(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	head := max * 2 / 3
	tail := max - head
	return string(runes[:head]) + elisionMarker + string(runes[len(runes)-tail:])
}
