// Package testutil provides database, Redis and fixture helpers for pipeline tests.
package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// EnqueueRequestBuilder provides a fluent interface for building EnqueueRequest values.
type EnqueueRequestBuilder struct {
	req *model.EnqueueRequest
}

// NewEnqueueRequest returns a builder for a detect_entities job on doc-1 with no debounce.
func NewEnqueueRequest() *EnqueueRequestBuilder {
	return &EnqueueRequestBuilder{
		req: &model.EnqueueRequest{
			Kind: model.JobKindDetectEntities,
			Scope: model.Scope{
				ProjectID:  "proj-1",
				UserID:     "user-1",
				DocumentID: "doc-1",
			},
			Payload:     json.RawMessage(`{"document_id":"doc-1"}`),
			ContentHash: "hash-1",
		},
	}
}

// WithKind sets the job kind.
func (b *EnqueueRequestBuilder) WithKind(kind model.JobKind) *EnqueueRequestBuilder {
	b.req.Kind = kind
	return b
}

// WithScope replaces the job scope.
func (b *EnqueueRequestBuilder) WithScope(scope model.Scope) *EnqueueRequestBuilder {
	b.req.Scope = scope
	return b
}

// WithDocument points the scope at a document.
func (b *EnqueueRequestBuilder) WithDocument(id string) *EnqueueRequestBuilder {
	b.req.Scope.DocumentID = id
	return b
}

// WithTarget points the scope at a typed target.
func (b *EnqueueRequestBuilder) WithTarget(targetType, targetID string) *EnqueueRequestBuilder {
	b.req.Scope.TargetType = targetType
	b.req.Scope.TargetID = targetID
	return b
}

// WithPayload sets the raw payload.
func (b *EnqueueRequestBuilder) WithPayload(payload string) *EnqueueRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithContentHash sets the content hash.
func (b *EnqueueRequestBuilder) WithContentHash(hash string) *EnqueueRequestBuilder {
	b.req.ContentHash = hash
	return b
}

// WithDebounce sets the debounce window.
func (b *EnqueueRequestBuilder) WithDebounce(d time.Duration) *EnqueueRequestBuilder {
	b.req.Debounce = d
	return b
}

// Build returns the built request.
func (b *EnqueueRequestBuilder) Build() *model.EnqueueRequest {
	return b.req
}

// SeedDocument inserts or replaces a document row.
func SeedDocument(t TestingTB, db *sql.DB, doc model.Document) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, content_text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			title = EXCLUDED.title,
			content_text = EXCLUDED.content_text,
			updated_at = now()
	`, doc.ID, doc.ProjectID, doc.Title, doc.ContentText); err != nil {
		t.Fatalf("seed document %s: %v", doc.ID, err)
	}
}

// SeedEntity inserts or replaces an entity row.
func SeedEntity(t TestingTB, db *sql.DB, e model.Entity) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	aliases := e.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	typ := e.Type
	if typ == "" {
		typ = "character"
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, type, name, aliases, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			aliases = EXCLUDED.aliases,
			notes = EXCLUDED.notes,
			updated_at = now()
	`, e.ID, e.ProjectID, typ, e.Name, aliases, e.Notes); err != nil {
		t.Fatalf("seed entity %s: %v", e.ID, err)
	}
}
