package llm

import (
	"context"
	"strings"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

const analyzerReplyFormat = `
Return JSON only: {"issues": [{"message": "...", "severity": "info|warning|error", "location": {"start": <char offset>, "end": <char offset>}}]}.
Offsets index into the text exactly as given. Omit location when the issue has no single span. Return an empty list when nothing needs attention.`

var analyzerPrompts = map[model.JobKind]string{
	model.JobKindCoherenceLint: `You review fiction for internal consistency: contradictions in facts, timeline slips, characters acting against established traits, objects or places that change without explanation.`,
	model.JobKindClarityCheck:  `You review fiction prose for clarity: ambiguous pronouns, confusing sentence structure, unclear scene transitions, jargon a reader cannot resolve from context.`,
	model.JobKindPolicyCheck:   `You review fiction against a content policy: flag passages with sexual content involving minors, instructions for real-world violence or weapons, or targeted harassment of real people. Do not flag fictional violence or mature themes on their own.`,
}

// Analyzer implements core.Analyzer for the three lint kinds.
type Analyzer struct {
	c *Client
}

var _ core.Analyzer = (*Analyzer)(nil)

// Analyzer returns the lint adapter.
func (c *Client) Analyzer() *Analyzer { return &Analyzer{c: c} }

// Analyze runs the lint pass for kind over text. Locations outside the text are dropped.
func (a *Analyzer) Analyze(ctx context.Context, kind model.JobKind, text string) ([]core.AnalysisIssue, error) {
	system, ok := analyzerPrompts[kind]
	if !ok {
		return nil, apperrors.UnsupportedKindf("no analysis prompt for %s", kind)
	}

	var reply struct {
		Issues []core.AnalysisIssue `json:"issues"`
	}
	if err := a.c.jsonChat(ctx, a.c.cfg.ChatModel, system+analyzerReplyFormat, text, issuesSchema, &reply, "analysis"); err != nil {
		return nil, err
	}

	n := len([]rune(text))
	out := reply.Issues[:0]
	for _, is := range reply.Issues {
		is.Message = strings.TrimSpace(is.Message)
		if is.Message == "" {
			continue
		}
		if loc := is.Location; loc != nil && (loc.Start > loc.End || loc.End > n) {
			is.Location = nil
		}
		is.Severity = strings.ToLower(strings.TrimSpace(is.Severity))
		out = append(out, is)
	}
	return out, nil
}
