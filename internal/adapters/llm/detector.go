package llm

import (
	"context"
	"strings"

	"github.com/Sophanos/saga-sub015/internal/core"
)

const detectorSystemPrompt = `You extract story entities from fiction manuscripts.
Return JSON only: {"entities": [{"name": "...", "type": "character|location|item|faction|event|concept", "confidence": 0.0-1.0}]}.
List each entity once under its fullest name. Skip pronouns and generic nouns.`

// Detector implements core.EntityDetector.
type Detector struct {
	c *Client
}

var _ core.EntityDetector = (*Detector)(nil)

// Detector returns the entity detection adapter.
func (c *Client) Detector() *Detector { return &Detector{c: c} }

// Detect lists entity mentions in text, deduplicated case-insensitively by name.
func (d *Detector) Detect(ctx context.Context, text string) ([]core.DetectedEntity, error) {
	var reply struct {
		Entities []core.DetectedEntity `json:"entities"`
	}
	if err := d.c.jsonChat(ctx, d.c.cfg.ChatModel, detectorSystemPrompt, text, entitiesSchema, &reply, "entity_detection"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(reply.Entities))
	out := make([]core.DetectedEntity, 0, len(reply.Entities))
	for _, e := range reply.Entities {
		e.Name = strings.TrimSpace(e.Name)
		key := strings.ToLower(e.Name)
		if e.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		e.Type = strings.ToLower(strings.TrimSpace(e.Type))
		out = append(out, e)
	}
	return out, nil
}
