package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKind_Valid(t *testing.T) {
	for _, k := range AllJobKinds() {
		assert.True(t, k.Valid(), string(k))
	}
	assert.Len(t, AllJobKinds(), 9)
	assert.False(t, JobKind("unknown").Valid())
	assert.True(t, JobKindClarityCheck.IsAnalysis())
	assert.False(t, JobKindDigestDocument.IsAnalysis())
}

func TestJobKind_UnmarshalText(t *testing.T) {
	var k JobKind
	require.NoError(t, k.UnmarshalText([]byte(" Watchlist_Scan ")))
	assert.Equal(t, JobKindWatchlistScan, k)
	require.Error(t, k.UnmarshalText([]byte("browser")))
}

func TestScope_Key(t *testing.T) {
	base := Scope{ProjectID: "p1", UserID: "u1"}
	assert.Equal(t, "p=p1|u=u1", base.Key())

	withDoc := base
	withDoc.DocumentID = "d1"
	assert.Equal(t, "p=p1|u=u1|d=d1", withDoc.Key())

	withTarget := base
	withTarget.TargetType = "entity"
	withTarget.TargetID = "e9"
	assert.Equal(t, "p=p1|u=u1|t=entity:e9", withTarget.Key())
	assert.NotEqual(t, withDoc.Key(), withTarget.Key())
}

func TestEnqueueRequest_Validate(t *testing.T) {
	valid := EnqueueRequest{
		Kind:    JobKindDetectEntities,
		Scope:   Scope{ProjectID: "p1", UserID: "u1"},
		Payload: json.RawMessage(`{"document_id":"d1"}`),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*EnqueueRequest)
	}{
		{"bad kind", func(r *EnqueueRequest) { r.Kind = "nope" }},
		{"missing project", func(r *EnqueueRequest) { r.Scope.ProjectID = " " }},
		{"missing payload", func(r *EnqueueRequest) { r.Payload = nil }},
		{"negative debounce", func(r *EnqueueRequest) { r.Debounce = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			assert.Error(t, req.Validate())
		})
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    JobKind
		raw     string
		wantErr bool
		check   func(t *testing.T, p Payload)
	}{
		{
			name: "document payload keeps kind",
			kind: JobKindDigestDocument,
			raw:  `{"document_id":"d1"}`,
			check: func(t *testing.T, p Payload) {
				dp, ok := p.(DocumentPayload)
				require.True(t, ok)
				assert.Equal(t, "d1", dp.DocumentID)
				assert.Equal(t, JobKindDigestDocument, dp.Kind())
			},
		},
		{
			name: "analysis payload",
			kind: JobKindPolicyCheck,
			raw:  `{"document_id":"d1","focus":"tone"}`,
			check: func(t *testing.T, p Payload) {
				assert.Equal(t, JobKindPolicyCheck, p.Kind())
			},
		},
		{
			name: "embedding memory_delete",
			kind: JobKindEmbeddingGeneration,
			raw:  `{"target_type":"memory_delete","target_id":"m1","vector_id":"v1"}`,
			check: func(t *testing.T, p Payload) {
				ep := p.(EmbeddingPayload)
				assert.Equal(t, TargetMemoryDelete, ep.TargetType)
				assert.Equal(t, "v1", ep.VectorID)
			},
		},
		{name: "embedding bad target type", kind: JobKindEmbeddingGeneration, raw: `{"target_type":"chapter","target_id":"x"}`, wantErr: true},
		{name: "image requires url", kind: JobKindImageEvidenceSuggestions, raw: `{"image_url":"not a url","asset_id":"a1"}`, wantErr: true},
		{name: "rules target must be document or entity", kind: JobKindInvariantCheck, raw: `{"target_type":"memory","target_id":"m1"}`, wantErr: true},
		{name: "unknown field rejected", kind: JobKindDetectEntities, raw: `{"document_id":"d1","doc":"x"}`, wantErr: true},
		{name: "missing required", kind: JobKindDetectEntities, raw: `{}`, wantErr: true},
		{name: "empty", kind: JobKindDetectEntities, raw: ``, wantErr: true},
		{name: "unknown kind", kind: "browser", raw: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload(tt.kind, json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPayload))
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestPointID_Deterministic(t *testing.T) {
	key := PointKey(TargetDocument, "d1", 3)
	assert.Equal(t, "document:d1:3", key)
	assert.Equal(t, PointID(key), PointID(key))
	assert.NotEqual(t, PointID(key), PointID(PointKey(TargetDocument, "d1", 4)))
}

func TestEntity_NamesAndText(t *testing.T) {
	e := Entity{Name: "Mara Voss", Aliases: []string{" The Widow ", ""}, Notes: "Captain."}
	assert.Equal(t, []string{"mara voss", "the widow"}, e.Names())
	assert.Equal(t, "Mara Voss\n\nAliases: The Widow\n\nCaptain.", e.EmbeddingText())
}
