package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// ruleTarget is the view of a document or entity that rules are evaluated against.
type ruleTarget struct {
	ref   model.TargetRef
	label string
	text  string
	data  any
}

// CheckRules evaluates the project's invariant or watchlist rules, depending on the job kind,
// against one document or entity. All violations of a run go out as a single notification.
func (h *Handlers) CheckRules(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
	p, err := payloadAs[model.RulesPayload](job, payload)
	if err != nil {
		return model.HandlerResult{}, err
	}
	ruleKind := model.RuleKindInvariant
	if job.Kind == model.JobKindWatchlistScan {
		ruleKind = model.RuleKindWatchlist
	}

	target, err := h.loadRuleTarget(ctx, job, p)
	if err != nil {
		return model.HandlerResult{}, err
	}
	if strings.TrimSpace(target.text) == "" {
		return model.HandlerResult{}, apperrors.EmptyContentf("Target has no text; nothing to check.")
	}

	all, err := h.deps.Rules.ListEnabled(ctx, job.Scope.ProjectID, ruleKind)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("list %s rules: %w", ruleKind, err)
	}
	rules := make([]*model.ProjectRule, 0, len(all))
	for _, r := range all {
		if r != nil && r.Enabled && r.Matches(p.TargetType) {
			rules = append(rules, r)
		}
	}
	if len(rules) == 0 {
		return model.Skip("No rules configured."), nil
	}

	var violations, broken []RuleViolation
	for _, r := range rules {
		v := RuleViolation{RuleID: r.ID, RuleName: r.Name, Description: r.Description}
		switch ruleKind {
		case model.RuleKindInvariant:
			violated, err := evaluateInvariant(r, target.data)
			if err != nil {
				h.logger.WarnContext(ctx, "invariant rule not evaluable", "rule_id", r.ID, "error", err)
				v.Error = err.Error()
				broken = append(broken, v)
				continue
			}
			if !violated {
				continue
			}
		case model.RuleKindWatchlist:
			v.Matched = watchlistMatches(r, target.text)
			if len(v.Matched) == 0 {
				continue
			}
		}
		violations = append(violations, v)
	}

	ref := map[string]any{"evaluated": len(rules), "violations": len(violations)}
	if len(broken) > 0 {
		ref["errors"] = broken
	}
	if len(violations) == 0 {
		return model.HandlerResult{Summary: "No violations found.", ResultRef: core.RawResult(ref)}, nil
	}

	title := "Invariant violations found"
	if ruleKind == model.RuleKindWatchlist {
		title = "Watchlist terms found"
	}
	names := make([]string, len(violations))
	for i, v := range violations {
		names[i] = v.RuleName
	}
	n, err := h.emit(ctx, core.NotificationInput{
		Job:         job,
		Kind:        model.NotificationPulseSignal,
		Title:       title,
		Description: fmt.Sprintf("%s breaks %d of %d rules: %s.", target.label, len(violations), len(rules), strings.Join(names, ", ")),
		Target:      target.ref,
		Metadata: map[string]any{
			"rule_kind":  ruleKind,
			"violations": violations,
		},
	})
	if err != nil {
		return model.HandlerResult{}, err
	}
	ref["notification_id"] = n.ID
	return model.HandlerResult{
		Summary:   fmt.Sprintf("%d of %d rules violated.", len(violations), len(rules)),
		ResultRef: core.RawResult(ref),
	}, nil
}

func (h *Handlers) loadRuleTarget(ctx context.Context, job *model.Job, p model.RulesPayload) (ruleTarget, error) {
	var (
		t   ruleTarget
		src any
	)
	switch p.TargetType {
	case model.TargetDocument:
		doc, err := h.loadDocument(ctx, job, p.TargetID)
		if err != nil {
			return t, err
		}
		t.ref = model.TargetRef{Type: model.TargetDocument, ID: doc.ID}
		t.label = docLabel(doc)
		t.text = doc.ContentText
		src = map[string]any{
			"id":           doc.ID,
			"project_id":   doc.ProjectID,
			"title":        doc.Title,
			"content_text": doc.ContentText,
			"word_count":   len(strings.Fields(doc.ContentText)),
		}
	case model.TargetEntity:
		e, err := h.loadEntity(ctx, job, p.TargetID)
		if err != nil {
			return t, err
		}
		t.ref = model.TargetRef{Type: model.TargetEntity, ID: e.ID}
		t.label = fmt.Sprintf("%q", e.Name)
		t.text = e.EmbeddingText()
		src = e
	default:
		return t, apperrors.ValidationField("target_type", fmt.Sprintf("unsupported rule target %q", p.TargetType))
	}

	data, err := toJMESData(src)
	if err != nil {
		return t, fmt.Errorf("encode %s %s for rules: %w", p.TargetType, p.TargetID, err)
	}
	t.data = data
	return t, nil
}
