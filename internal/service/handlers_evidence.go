package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

const (
	defaultImagePrompt = "List the names of the story characters shown or named in this image."
	targetAsset        = "asset"
)

type evidenceProposal struct {
	SuggestionID string `json:"suggestion_id"`
	EntityID     string `json:"entity_id"`
	EntityName   string `json:"entity_name"`
	MatchedName  string `json:"matched_name"`
}

// SuggestImageEvidence proposes entity evidence links for the characters recognised in an image.
// A name is used only when it matches exactly one project entity by name or alias.
func (h *Handlers) SuggestImageEvidence(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
	p, err := payloadAs[model.ImageEvidencePayload](job, payload)
	if err != nil {
		return model.HandlerResult{}, err
	}
	if h.deps.Images == nil {
		return model.HandlerResult{}, apperrors.DependencyUnconfigured(string(core.CapImageAnalysis))
	}

	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	names, err := h.deps.Images.ExtractCharacters(ctx, p.ImageURL, prompt)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("analyze image %s: %w", p.AssetID, err)
	}
	if len(names) == 0 {
		return model.Skip("No characters recognized in image."), nil
	}

	entities, err := h.deps.Content.ListProjectEntities(ctx, job.Scope.ProjectID)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("list project entities: %w", err)
	}
	index := indexEntityNames(entities)

	var (
		proposals []evidenceProposal
		ambiguous int
		proposed  = make(map[string]bool)
	)
	for _, name := range names {
		matches := index[strings.ToLower(strings.TrimSpace(name))]
		if len(matches) != 1 {
			if len(matches) > 1 {
				ambiguous++
			}
			continue
		}
		e := matches[0]
		if proposed[e.ID] {
			continue
		}
		proposed[e.ID] = true

		s, err := h.deps.Evidence.Propose(ctx, &model.EvidenceSuggestion{
			ProjectID:   job.Scope.ProjectID,
			AssetID:     p.AssetID,
			EntityID:    e.ID,
			MatchedName: name,
			Status:      model.EvidenceProposed,
			SourceJobID: job.ID,
		})
		if err != nil {
			return model.HandlerResult{}, fmt.Errorf("propose evidence for entity %s: %w", e.ID, err)
		}
		proposals = append(proposals, evidenceProposal{
			SuggestionID: s.ID,
			EntityID:     e.ID,
			EntityName:   e.Name,
			MatchedName:  name,
		})
	}

	h.logger.DebugContext(ctx, "image names matched",
		"job_id", job.ID,
		"asset_id", p.AssetID,
		"names", len(names),
		"proposed", len(proposals),
		"ambiguous", ambiguous,
	)
	if len(proposals) == 0 {
		return model.Skip("No unambiguous entity matches."), nil
	}

	entityNames := make([]string, len(proposals))
	for i, pr := range proposals {
		entityNames[i] = pr.EntityName
	}
	n, err := h.emit(ctx, core.NotificationInput{
		Job:         job,
		Kind:        model.NotificationSuggestion,
		Title:       "Evidence suggestions",
		Description: fmt.Sprintf("This image may show %s. Review the proposed evidence links.", strings.Join(entityNames, ", ")),
		Target:      model.TargetRef{Type: targetAsset, ID: p.AssetID},
		Metadata: map[string]any{
			"asset_id":    p.AssetID,
			"image_url":   p.ImageURL,
			"suggestions": proposals,
		},
	})
	if err != nil {
		return model.HandlerResult{}, err
	}
	return model.HandlerResult{
		Summary: fmt.Sprintf("Proposed %d evidence links.", len(proposals)),
		ResultRef: core.RawResult(map[string]any{
			"notification_id": n.ID,
			"suggestions":     proposals,
		}),
	}, nil
}

// indexEntityNames maps each lower-cased name and alias to the distinct entities carrying it.
func indexEntityNames(entities []*model.Entity) map[string][]*model.Entity {
	index := make(map[string][]*model.Entity)
	for _, e := range entities {
		if e == nil {
			continue
		}
		for _, n := range e.Names() {
			if !containsEntity(index[n], e.ID) {
				index[n] = append(index[n], e)
			}
		}
	}
	return index
}

func containsEntity(list []*model.Entity, id string) bool {
	for _, e := range list {
		if e.ID == id {
			return true
		}
	}
	return false
}
