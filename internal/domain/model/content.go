package model

import (
	"strings"
	"time"
)

// Document is the read-only view of a manuscript document used by analysis jobs.
type Document struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title,omitempty"`
	ContentText string    `json:"content_text"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Entity is a story entity (character, place, item) with free-form properties.
type Entity struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Aliases    []string       `json:"aliases,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EmbeddingText renders the entity as the text that gets embedded and scanned.
func (e *Entity) EmbeddingText() string {
	var b strings.Builder
	if e.Name != "" {
		b.WriteString(e.Name)
	}
	aliases := make([]string, 0, len(e.Aliases))
	for _, a := range e.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	if len(aliases) > 0 {
		b.WriteString("\n\nAliases: ")
		b.WriteString(strings.Join(aliases, ", "))
	}
	if n := strings.TrimSpace(e.Notes); n != "" {
		b.WriteString("\n\n")
		b.WriteString(n)
	}
	return strings.TrimSpace(b.String())
}

// Names returns the lower-cased name and aliases used for name matching.
func (e *Entity) Names() []string {
	out := make([]string, 0, 1+len(e.Aliases))
	if n := strings.ToLower(strings.TrimSpace(e.Name)); n != "" {
		out = append(out, n)
	}
	for _, a := range e.Aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Memory is a single remembered fact; it embeds as exactly one point.
type Memory struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id,omitempty"`
	Text      string    `json:"text"`
	VectorID  *string   `json:"vector_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tier is the subscription tier used for entitlement and model selection.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Entitlement describes what a user may trigger.
type Entitlement struct {
	UserID string
	Tier   Tier
	// AllowedKinds is nil when every kind is permitted.
	AllowedKinds map[JobKind]bool
}

// Allows reports whether kind may be enqueued under this entitlement.
func (e Entitlement) Allows(kind JobKind) bool {
	if e.AllowedKinds == nil {
		return true
	}
	return e.AllowedKinds[kind]
}
