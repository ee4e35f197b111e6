package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/chunking"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

const (
	maxEntitySamples = 8
	// Preview appends an ellipsis, so 119 runes keeps excerpts within 120 characters.
	excerptRunes = 119
)

var analysisTitles = map[model.JobKind]string{
	model.JobKindCoherenceLint: "Coherence issues found",
	model.JobKindClarityCheck:  "Clarity issues found",
	model.JobKindPolicyCheck:   "Policy issues found",
}

// DetectEntities runs entity detection over a document and signals what it found.
func (h *Handlers) DetectEntities(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
	p, err := payloadAs[model.DocumentPayload](job, payload)
	if err != nil {
		return model.HandlerResult{}, err
	}
	if h.deps.Detector == nil {
		return model.HandlerResult{}, apperrors.DependencyUnconfigured(string(core.CapEntityDetection))
	}
	doc, err := h.loadDocument(ctx, job, p.DocumentID)
	if err != nil {
		return model.HandlerResult{}, err
	}
	text := strings.TrimSpace(doc.ContentText)
	if text == "" {
		return model.HandlerResult{}, apperrors.EmptyContentf("Document has no text; nothing to detect.")
	}

	found, err := h.deps.Detector.Detect(ctx, text)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("detect entities in document %s: %w", doc.ID, err)
	}
	if len(found) == 0 {
		return model.Skip("No entities detected."), nil
	}

	samples := make([]string, 0, min(len(found), maxEntitySamples))
	for _, e := range found[:min(len(found), maxEntitySamples)] {
		samples = append(samples, e.Name)
	}
	n, err := h.emit(ctx, core.NotificationInput{
		Job:         job,
		Kind:        model.NotificationPulseSignal,
		Title:       "Entities detected",
		Description: fmt.Sprintf("Found %d possible entities in %s: %s.", len(found), docLabel(doc), strings.Join(samples, ", ")),
		Target:      model.TargetRef{Type: model.TargetDocument, ID: doc.ID},
		Metadata: map[string]any{
			"count":    len(found),
			"samples":  samples,
			"entities": found,
		},
	})
	if err != nil {
		return model.HandlerResult{}, err
	}
	return model.HandlerResult{
		Summary:   fmt.Sprintf("Detected %d entities.", len(found)),
		ResultRef: core.RawResult(map[string]any{"notification_id": n.ID, "count": len(found)}),
	}, nil
}

// Analyze runs the coherence, clarity or policy lint for the job's kind.
func (h *Handlers) Analyze(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
	p, err := payloadAs[model.AnalysisPayload](job, payload)
	if err != nil {
		return model.HandlerResult{}, err
	}
	if h.deps.Analyzer == nil {
		return model.HandlerResult{}, apperrors.DependencyUnconfigured(string(core.CapAnalysis))
	}
	doc, err := h.loadDocument(ctx, job, p.DocumentID)
	if err != nil {
		return model.HandlerResult{}, err
	}
	text := strings.TrimSpace(doc.ContentText)
	if text == "" {
		return model.HandlerResult{}, apperrors.EmptyContentf("Document has no text; nothing to analyze.")
	}

	issues, err := h.deps.Analyzer.Analyze(ctx, job.Kind, text)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("%s document %s: %w", job.Kind, doc.ID, err)
	}
	if len(issues) == 0 {
		return model.Skip("No issues found."), nil
	}

	excerpt := issueExcerpt(text, issues[0])
	meta := map[string]any{
		"count":         len(issues),
		"excerpt":       excerpt,
		"first_message": issues[0].Message,
		"issues":        issues,
	}
	if p.Focus != "" {
		meta["focus"] = p.Focus
	}
	n, err := h.emit(ctx, core.NotificationInput{
		Job:         job,
		Kind:        model.NotificationPulseSignal,
		Title:       analysisTitles[job.Kind],
		Description: fmt.Sprintf("%s in %s: %q", pluralIssues(len(issues)), docLabel(doc), excerpt),
		Target:      model.TargetRef{Type: model.TargetDocument, ID: doc.ID},
		Metadata:    meta,
	})
	if err != nil {
		return model.HandlerResult{}, err
	}
	return model.HandlerResult{
		Summary:   fmt.Sprintf("Found %s.", pluralIssues(len(issues))),
		ResultRef: core.RawResult(map[string]any{"notification_id": n.ID, "count": len(issues)}),
	}, nil
}

// issueExcerpt quotes the located span of the issue, falling back to its message.
func issueExcerpt(text string, issue core.AnalysisIssue) string {
	if loc := issue.Location; loc != nil {
		runes := []rune(text)
		if loc.Start >= 0 && loc.Start < loc.End && loc.End <= len(runes) {
			return chunking.Preview(string(runes[loc.Start:loc.End]), excerptRunes)
		}
	}
	return chunking.Preview(issue.Message, excerptRunes)
}

func pluralIssues(n int) string {
	if n == 1 {
		return "1 issue"
	}
	return fmt.Sprintf("%d issues", n)
}

func docLabel(doc *model.Document) string {
	if t := strings.TrimSpace(doc.Title); t != "" {
		return fmt.Sprintf("%q", t)
	}
	return "this document"
}
