package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
	"github.com/Sophanos/saga-sub015/internal/mocks"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

type handlerFixture struct {
	content   *mocks.MockContentAccessor
	sink      *mocks.MockNotificationSink
	digests   *mocks.MockDigestRepository
	evidence  *mocks.MockEvidenceRepository
	rules     *mocks.MockRuleRepository
	generator *mocks.MockTextGenerator
	images    *mocks.MockImageAnalyzer
	detector  *mocks.MockEntityDetector
	analyzer  *mocks.MockAnalyzer
	exec      *mocks.MockExecutionResolver
	embedder  *mocks.MockEmbeddingService
	index     *mocks.MockVectorIndex
	deps      HandlerDeps
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &handlerFixture{
		content:   mocks.NewMockContentAccessor(ctrl),
		sink:      mocks.NewMockNotificationSink(ctrl),
		digests:   mocks.NewMockDigestRepository(ctrl),
		evidence:  mocks.NewMockEvidenceRepository(ctrl),
		rules:     mocks.NewMockRuleRepository(ctrl),
		generator: mocks.NewMockTextGenerator(ctrl),
		images:    mocks.NewMockImageAnalyzer(ctrl),
		detector:  mocks.NewMockEntityDetector(ctrl),
		analyzer:  mocks.NewMockAnalyzer(ctrl),
		exec:      mocks.NewMockExecutionResolver(ctrl),
		embedder:  mocks.NewMockEmbeddingService(ctrl),
		index:     mocks.NewMockVectorIndex(ctrl),
	}
	settings := DefaultPipelineSettings()
	f.deps = HandlerDeps{
		Content:       f.content,
		Notifications: f.sink,
		Digests:       f.digests,
		Evidence:      f.evidence,
		Rules:         f.rules,
		Embeddings: NewEmbeddingSync(EmbeddingSyncOptions{
			Embedder: f.embedder,
			Index:    f.index,
			Content:  f.content,
			Settings: settings,
			Metrics:  statsd.NewRecorder(),
			Now:      func() time.Time { return fixedNow },
		}),
		Generator: f.generator,
		Images:    f.images,
		Detector:  f.detector,
		Analyzer:  f.analyzer,
		Execution: f.exec,
		Settings:  settings,
	}
	return f
}

// run registers the handlers and invokes the one bound to job's kind, like the dispatcher does.
func (f *handlerFixture) run(t *testing.T, job *model.Job) (model.HandlerResult, error) {
	t.Helper()
	h, err := NewHandlers(f.deps)
	require.NoError(t, err)
	reg := core.NewRegistry()
	require.NoError(t, RegisterHandlers(reg, h))

	handler, ok := reg.Lookup(job.Kind)
	require.True(t, ok)
	payload, err := model.ParsePayload(job.Kind, job.Payload)
	require.NoError(t, err)
	return handler(context.Background(), job, payload)
}

// captureEmit records emitted notifications and assigns them ids.
func (f *handlerFixture) captureEmit(out *[]core.NotificationInput) *gomock.Call {
	return f.sink.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, in core.NotificationInput) (*model.Notification, error) {
			*out = append(*out, in)
			return &model.Notification{ID: "n-1"}, nil
		})
}

func newJob(kind model.JobKind, payload string) *model.Job {
	return &model.Job{
		ID:          "job-1",
		Kind:        kind,
		Scope:       model.Scope{ProjectID: "proj-1", UserID: "user-1"},
		Payload:     json.RawMessage(payload),
		ContentHash: "hash-1",
		Status:      model.JobStatusClaimed,
	}
}

func testDoc(text string) *model.Document {
	return &model.Document{ID: "doc-1", ProjectID: "proj-1", Title: "Chapter One", ContentText: text}
}

func TestNewHandlers_RequiresRepositories(t *testing.T) {
	_, err := NewHandlers(HandlerDeps{})
	require.Error(t, err)
	require.Error(t, RegisterHandlers(nil, nil))
}

func TestRegisterHandlers_Requirements(t *testing.T) {
	f := newHandlerFixture(t)
	h, err := NewHandlers(f.deps)
	require.NoError(t, err)
	reg := core.NewRegistry()
	require.NoError(t, RegisterHandlers(reg, h))

	assert.ElementsMatch(t, model.AllJobKinds(), reg.Kinds())
	assert.Equal(t, []core.Capability{core.CapEmbedding, core.CapVectorIndex},
		reg.Requirements(model.JobKindEmbeddingGeneration))
	assert.Equal(t, []core.Capability{core.CapTextGeneration}, reg.Requirements(model.JobKindDigestDocument))
	assert.Empty(t, reg.Requirements(model.JobKindInvariantCheck))
	assert.Error(t, RegisterHandlers(reg, h), "second registration is rejected")
}

func TestDetectEntities(t *testing.T) {
	f := newHandlerFixture(t)
	job := newJob(model.JobKindDetectEntities, `{"document_id":"doc-1"}`)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("Mara met Tobin at the docks."), nil)
	f.detector.EXPECT().Detect(gomock.Any(), "Mara met Tobin at the docks.").Return([]core.DetectedEntity{
		{Name: "Mara", Type: "character"},
		{Name: "Tobin", Type: "character"},
	}, nil)
	var emitted []core.NotificationInput
	f.captureEmit(&emitted)

	res, err := f.run(t, job)
	require.NoError(t, err)
	assert.Equal(t, "Detected 2 entities.", res.Summary)
	assert.JSONEq(t, `{"notification_id":"n-1","count":2}`, string(res.ResultRef))

	require.Len(t, emitted, 1)
	assert.Equal(t, model.NotificationPulseSignal, emitted[0].Kind)
	assert.Equal(t, "Entities detected", emitted[0].Title)
	assert.Contains(t, emitted[0].Description, "Mara, Tobin")
	assert.Equal(t, model.TargetRef{Type: model.TargetDocument, ID: "doc-1"}, emitted[0].Target)
}

func TestDetectEntities_NothingFound(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("Quiet."), nil)
	f.detector.EXPECT().Detect(gomock.Any(), gomock.Any()).Return(nil, nil)

	res, err := f.run(t, newJob(model.JobKindDetectEntities, `{"document_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "No entities detected.", res.Summary)
}

func TestHandlers_MissingDocumentIsSkipped(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(nil, nil)

	res, err := f.run(t, newJob(model.JobKindDetectEntities, `{"document_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "Document not found; nothing to do.", res.Summary)
	assert.Nil(t, res.ResultRef)
}

func TestHandlers_EmptyDocumentIsSkipped(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("  \n "), nil)

	res, err := f.run(t, newJob(model.JobKindCoherenceLint, `{"document_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "Document has no text; nothing to analyze.", res.Summary)
}

func TestHandlers_ScopeMismatchFails(t *testing.T) {
	f := newHandlerFixture(t)
	doc := testDoc("text")
	doc.ProjectID = "proj-other"
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(doc, nil)

	_, err := f.run(t, newJob(model.JobKindDetectEntities, `{"document_id":"doc-1"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsScopeMismatch(err))
}

func TestHandlers_UnconfiguredDependency(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.JobKind
		payload string
		unset   func(*HandlerDeps)
	}{
		{"detector", model.JobKindDetectEntities, `{"document_id":"doc-1"}`, func(d *HandlerDeps) { d.Detector = nil }},
		{"analyzer", model.JobKindPolicyCheck, `{"document_id":"doc-1"}`, func(d *HandlerDeps) { d.Analyzer = nil }},
		{"generator", model.JobKindDigestDocument, `{"document_id":"doc-1"}`, func(d *HandlerDeps) { d.Generator = nil }},
		{"embeddings", model.JobKindEmbeddingGeneration, `{"target_type":"document","target_id":"doc-1"}`,
			func(d *HandlerDeps) { d.Embeddings = nil }},
		{"images", model.JobKindImageEvidenceSuggestions, `{"image_url":"https://cdn.example/a.png","asset_id":"a1"}`,
			func(d *HandlerDeps) { d.Images = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			tt.unset(&f.deps)
			_, err := f.run(t, newJob(tt.kind, tt.payload))
			require.Error(t, err)
			assert.True(t, apperrors.IsDependencyUnconfigured(err))
		})
	}
}

func TestAnalyze_QuotesLocatedExcerpt(t *testing.T) {
	f := newHandlerFixture(t)
	text := "The ship sailed north. Then the ship sailed south without turning."
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc(text), nil)
	f.analyzer.EXPECT().Analyze(gomock.Any(), model.JobKindClarityCheck, text).Return([]core.AnalysisIssue{
		{Message: "Direction changes without a turn.", Location: &core.IssueLocation{Start: 23, End: 66}},
		{Message: "Repeated noun."},
	}, nil)
	var emitted []core.NotificationInput
	f.captureEmit(&emitted)

	res, err := f.run(t, newJob(model.JobKindClarityCheck, `{"document_id":"doc-1","focus":"motion"}`))
	require.NoError(t, err)
	assert.Equal(t, "Found 2 issues.", res.Summary)

	require.Len(t, emitted, 1)
	assert.Equal(t, "Clarity issues found", emitted[0].Title)
	meta, ok := emitted[0].Metadata.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Then the ship sailed south without turning.", meta["excerpt"])
	assert.Equal(t, "motion", meta["focus"])
}

func TestIssueExcerpt_Bounds(t *testing.T) {
	long := strings.Repeat("word ", 60)
	got := issueExcerpt(long, core.AnalysisIssue{Message: "m", Location: &core.IssueLocation{Start: 0, End: 300}})
	assert.LessOrEqual(t, len([]rune(got)), 120)

	got = issueExcerpt("short", core.AnalysisIssue{Message: "fallback", Location: &core.IssueLocation{Start: 3, End: 99}})
	assert.Equal(t, "fallback", got)
}

func TestDigestDocument(t *testing.T) {
	f := newHandlerFixture(t)
	f.deps.Settings.DigestMaxChars = 10
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("Mara climbs the lighthouse stairs."), nil)
	f.exec.EXPECT().Resolve(gomock.Any(), TaskDigestDocument, "user-1", gomock.Any()).
		Return(core.ExecutionContext{Model: "m-1", MaxTokens: 600})
	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req core.GenerateRequest) (string, error) {
			assert.Equal(t, "m-1", req.Model)
			assert.Equal(t, 600, req.MaxTokens)
			assert.Contains(t, req.Prompt, "---\nMara climb\n---")
			assert.Contains(t, req.Prompt, "only the beginning")
			return "Summary: Mara climbs.\nHighlights:\n- Stairs\n- Lamp", nil
		})
	f.digests.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *model.Digest) (*model.Digest, error) {
			assert.Equal(t, "hash-1", d.ContentHash)
			assert.Equal(t, "Mara climbs.", d.Summary)
			assert.Equal(t, []string{"Stairs", "Lamp"}, d.Highlights)
			assert.True(t, d.Truncated)
			out := *d
			out.ID = "dg-1"
			return &out, nil
		})

	res, err := f.run(t, newJob(model.JobKindDigestDocument, `{"document_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "Digest stored with 2 highlights. Input was truncated.", res.Summary)
	assert.JSONEq(t, `{"digest_id":"dg-1","truncated":true}`, string(res.ResultRef))
}

func TestDigestDocument_EmptyReplyFails(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("Text."), nil)
	f.exec.EXPECT().Resolve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(core.ExecutionContext{})
	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("   ", nil)

	_, err := f.run(t, newJob(model.JobKindDigestDocument, `{"document_id":"doc-1"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))
}

func TestGenerateEmbeddings_Document(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("One short paragraph."), nil)
	f.index.EXPECT().Scroll(gomock.Any(), gomock.Any(), 501).Return(nil, nil)
	f.embedder.EXPECT().EmbedBatch(gomock.Any(), []string{"One short paragraph."}).Return([][]float32{{0.1, 0.2}}, nil)
	f.index.EXPECT().Upsert(gomock.Any(), gomock.Len(1)).Return(nil)
	f.embedder.EXPECT().Model().Return("embed-1").AnyTimes()

	res, err := f.run(t, newJob(model.JobKindEmbeddingGeneration, `{"target_type":"document","target_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "Embedded 1 of 1 chunks.", res.Summary)
}

func TestGenerateEmbeddings_MemoryDelete(t *testing.T) {
	f := newHandlerFixture(t)
	f.index.EXPECT().Delete(gomock.Any(), []string{"vec-9"}).Return(nil)

	res, err := f.run(t, newJob(model.JobKindEmbeddingGeneration,
		`{"target_type":"memory_delete","target_id":"mem-1","vector_id":"vec-9"}`))
	require.NoError(t, err)
	assert.Equal(t, "Memory embedding removed.", res.Summary)
}

func TestGenerateEmbeddings_MissingEntitySkipped(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetEntityForAnalysis(gomock.Any(), "ent-1").Return(nil, nil)

	res, err := f.run(t, newJob(model.JobKindEmbeddingGeneration, `{"target_type":"entity","target_id":"ent-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "Entity not found; nothing to do.", res.Summary)
}

func TestSuggestImageEvidence(t *testing.T) {
	f := newHandlerFixture(t)
	job := newJob(model.JobKindImageEvidenceSuggestions, `{"image_url":"https://cdn.example/a.png","asset_id":"asset-1"}`)
	f.images.EXPECT().ExtractCharacters(gomock.Any(), "https://cdn.example/a.png", defaultImagePrompt).
		Return([]string{"Mara", "the Captain", "Unknown", "mara"}, nil)
	f.content.EXPECT().ListProjectEntities(gomock.Any(), "proj-1").Return([]*model.Entity{
		{ID: "e-1", ProjectID: "proj-1", Name: "Mara", Aliases: []string{"Mara"}},
		{ID: "e-2", ProjectID: "proj-1", Name: "Tobin", Aliases: []string{"The Captain"}},
		{ID: "e-3", ProjectID: "proj-1", Name: "Hale", Aliases: []string{"the captain"}},
	}, nil)
	f.evidence.EXPECT().Propose(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s *model.EvidenceSuggestion) (*model.EvidenceSuggestion, error) {
			assert.Equal(t, "e-1", s.EntityID)
			assert.Equal(t, "asset-1", s.AssetID)
			assert.Equal(t, model.EvidenceProposed, s.Status)
			out := *s
			out.ID = "s-1"
			return &out, nil
		})
	var emitted []core.NotificationInput
	f.captureEmit(&emitted)

	res, err := f.run(t, job)
	require.NoError(t, err)
	assert.Equal(t, "Proposed 1 evidence links.", res.Summary)
	require.Len(t, emitted, 1)
	assert.Equal(t, model.NotificationSuggestion, emitted[0].Kind)
	assert.Equal(t, model.TargetRef{Type: targetAsset, ID: "asset-1"}, emitted[0].Target)
}

func TestSuggestImageEvidence_NoCharacters(t *testing.T) {
	f := newHandlerFixture(t)
	f.images.EXPECT().ExtractCharacters(gomock.Any(), gomock.Any(), "Who is on deck?").Return(nil, nil)

	res, err := f.run(t, newJob(model.JobKindImageEvidenceSuggestions,
		`{"image_url":"https://cdn.example/a.png","asset_id":"asset-1","prompt":"Who is on deck?"}`))
	require.NoError(t, err)
	assert.Equal(t, "No characters recognized in image.", res.Summary)
}

func TestCheckRules_Invariant(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetEntityForAnalysis(gomock.Any(), "ent-1").Return(&model.Entity{
		ID: "ent-1", ProjectID: "proj-1", Name: "Mara", Type: "character",
		Properties: map[string]any{"age": 34},
	}, nil)
	f.rules.EXPECT().ListEnabled(gomock.Any(), "proj-1", model.RuleKindInvariant).Return([]*model.ProjectRule{
		{ID: "r-1", Name: "Adult", Expression: "properties.age >= `18`", Enabled: true},
		{ID: "r-2", Name: "Has eyes", Expression: "properties.eyes", Enabled: true},
		{ID: "r-3", Name: "Broken", Expression: "properties.[", Enabled: true},
		{ID: "r-4", Name: "Docs only", Expression: "title", AppliesTo: model.TargetDocument, Enabled: true},
	}, nil)
	var emitted []core.NotificationInput
	f.captureEmit(&emitted)

	res, err := f.run(t, newJob(model.JobKindInvariantCheck, `{"target_type":"entity","target_id":"ent-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "1 of 3 rules violated.", res.Summary)

	var ref struct {
		Evaluated  int             `json:"evaluated"`
		Violations int             `json:"violations"`
		Errors     []RuleViolation `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(res.ResultRef, &ref))
	assert.Equal(t, 3, ref.Evaluated)
	require.Len(t, ref.Errors, 1)
	assert.Equal(t, "r-3", ref.Errors[0].RuleID)

	require.Len(t, emitted, 1)
	assert.Equal(t, "Invariant violations found", emitted[0].Title)
	assert.Contains(t, emitted[0].Description, "Has eyes")
}

func TestCheckRules_WatchlistClean(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("A calm sea."), nil)
	f.rules.EXPECT().ListEnabled(gomock.Any(), "proj-1", model.RuleKindWatchlist).Return([]*model.ProjectRule{
		{ID: "w-1", Name: "Anachronisms", Terms: []string{"telephone"}, Enabled: true},
	}, nil)

	res, err := f.run(t, newJob(model.JobKindWatchlistScan, `{"target_type":"document","target_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "No violations found.", res.Summary)
}

func TestCheckRules_EmptyDocumentIsSkipped(t *testing.T) {
	for _, kind := range []model.JobKind{model.JobKindInvariantCheck, model.JobKindWatchlistScan} {
		t.Run(string(kind), func(t *testing.T) {
			f := newHandlerFixture(t)
			f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc(" \n\n "), nil)

			res, err := f.run(t, newJob(kind, `{"target_type":"document","target_id":"doc-1"}`))
			require.NoError(t, err)
			assert.Equal(t, "Target has no text; nothing to check.", res.Summary)
			assert.Nil(t, res.ResultRef)
		})
	}
}

func TestCheckRules_NoRules(t *testing.T) {
	f := newHandlerFixture(t)
	f.content.EXPECT().GetDocumentForAnalysis(gomock.Any(), "doc-1").Return(testDoc("Text."), nil)
	f.rules.EXPECT().ListEnabled(gomock.Any(), "proj-1", model.RuleKindWatchlist).Return(nil, nil)

	res, err := f.run(t, newJob(model.JobKindWatchlistScan, `{"target_type":"document","target_id":"doc-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "No rules configured.", res.Summary)
}
