// Package vectorindex stores chunk embeddings in Weaviate.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

const serviceName = "vector_index"

// Options configures the Weaviate-backed index.
type Options struct {
	// URL is the endpoint, e.g. http://localhost:8080.
	URL       string
	APIKey    string
	ClassName string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Index implements core.VectorIndex over one Weaviate class.
type Index struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

var _ core.VectorIndex = (*Index)(nil)

// New connects an Index. No request is made until first use; call EnsureSchema to create the class.
func New(opts Options) (*Index, error) {
	u, err := url.Parse(strings.TrimSpace(opts.URL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("vector index: invalid url %q", opts.URL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := weaviate.Config{
		Host:             u.Host,
		Scheme:           scheme,
		ConnectionClient: &http.Client{Timeout: timeout},
	}
	if opts.APIKey != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + opts.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	class := opts.ClassName
	if class == "" {
		class = "SagaChunk"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		client: client,
		class:  class,
		logger: logger.With("component", "vector_index", "class", class),
	}, nil
}

// Schema returns the class definition chunks are stored under. Vectors are supplied by the
// pipeline, so the class has no vectorizer.
func (ix *Index) Schema() *models.Class {
	filterable := true
	field := func(name, dataType, desc string) *models.Property {
		p := &models.Property{Name: name, DataType: []string{dataType}, Description: desc, IndexFilterable: &filterable}
		if dataType == "text" {
			p.Tokenization = "field"
		}
		return p
	}
	text := &models.Property{Name: "text", DataType: []string{"text"}, Description: "Chunk text.", Tokenization: "word"}
	return &models.Class{
		Class:       ix.class,
		Description: "One embedded chunk of a document, entity or memory.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			field("point_key", "text", "targetType:targetId:chunkIndex"),
			field("project_id", "text", "Owning project."),
			field("user_id", "text", "Author, when the target is user-scoped."),
			field("target_type", "text", "document, entity or memory."),
			field("target_id", "text", "Id of the embedded content."),
			text,
			{Name: "preview", DataType: []string{"text"}, Description: "Short prefix of the chunk for display."},
			field("chunk_index", "int", "Position of the chunk within the target."),
			field("chunk_hash", "int", "32-bit hash of the chunk text."),
			field("updated_at", "date", "When the chunk was last embedded."),
		},
	}
}

// EnsureSchema creates the class when it does not exist yet.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	if _, err := ix.client.Schema().ClassGetter().WithClassName(ix.class).Do(ctx); err == nil {
		return nil
	}
	if err := ix.client.Schema().ClassCreator().WithClass(ix.Schema()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", ix.class, err)
	}
	ix.logger.InfoContext(ctx, "vector class created")
	return nil
}

// Upsert writes points in one batch. Objects keep their id, so re-embedding a chunk index
// replaces the stored point.
func (ix *Index) Upsert(ctx context.Context, points []model.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	objects := make([]*models.Object, len(points))
	for i, p := range points {
		objects[i] = &models.Object{
			Class:      ix.class,
			ID:         strfmt.UUID(p.ID),
			Vector:     p.Vector,
			Properties: properties(p.Payload),
		}
	}

	resp, err := ix.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return apperrors.External(err, serviceName)
	}
	var failed []string
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil {
			continue
		}
		for _, e := range item.Result.Errors.Error {
			failed = append(failed, fmt.Sprintf("%s: %s", item.ID, e.Message))
		}
	}
	if len(failed) > 0 {
		return apperrors.External(fmt.Errorf("%d of %d objects rejected: %s",
			len(failed), len(points), strings.Join(failed, "; ")), serviceName)
	}
	return nil
}

func properties(p model.ChunkPayload) map[string]any {
	props := map[string]any{
		"point_key":   p.Key,
		"project_id":  p.ProjectID,
		"target_type": p.TargetType,
		"target_id":   p.TargetID,
		"text":        p.Text,
		"preview":     p.Preview,
		"chunk_index": p.ChunkIndex,
		"chunk_hash":  int64(p.ChunkHash),
		"updated_at":  p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.UserID != "" {
		props["user_id"] = p.UserID
	}
	return props
}

// Delete removes points by id. Ids that are already gone are ignored.
func (ix *Index) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := ix.client.Data().Deleter().WithClassName(ix.class).WithID(id).Do(ctx)
		if err != nil && !isNotFound(err) {
			return apperrors.External(err, serviceName)
		}
	}
	return nil
}

// DeleteByFilter removes every point of the filter's target, optionally only from MinChunkIndex on.
func (ix *Index) DeleteByFilter(ctx context.Context, f model.VectorFilter) (int, error) {
	where, err := whereFor(f)
	if err != nil {
		return 0, err
	}
	resp, err := ix.client.Batch().ObjectsBatchDeleter().
		WithClassName(ix.class).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, apperrors.External(err, serviceName)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		return int(resp.Results.Successful), apperrors.External(
			fmt.Errorf("%d deletes failed", resp.Results.Failed), serviceName)
	}
	return int(resp.Results.Successful), nil
}

// Scroll returns up to limit stored (index, hash) pairs for the target ordered by chunk_index.
func (ix *Index) Scroll(ctx context.Context, f model.VectorFilter, limit int) ([]model.StoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	where, err := whereFor(f)
	if err != nil {
		return nil, err
	}
	resp, err := ix.client.GraphQL().Get().
		WithClassName(ix.class).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"chunk_index"}, Order: graphql.Asc}).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "_additional { id }"},
			graphql.Field{Name: "chunk_index"},
			graphql.Field{Name: "chunk_hash"},
		).
		Do(ctx)
	if err != nil {
		return nil, apperrors.External(err, serviceName)
	}
	if len(resp.Errors) > 0 {
		return nil, apperrors.External(errors.New(resp.Errors[0].Message), serviceName)
	}
	return ix.parseChunks(resp)
}

type storedRow struct {
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
	ChunkIndex float64 `json:"chunk_index"`
	ChunkHash  float64 `json:"chunk_hash"`
}

func (ix *Index) parseChunks(resp *models.GraphQLResponse) ([]model.StoredChunk, error) {
	if resp == nil || resp.Data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var result struct {
		Get map[string][]storedRow `json:"Get"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode graphql data: %w", err)
	}
	rows := result.Get[ix.class]
	out := make([]model.StoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.StoredChunk{
			ID:         r.Additional.ID,
			ChunkIndex: int(r.ChunkIndex),
			ChunkHash:  uint32(r.ChunkHash),
		})
	}
	return out, nil
}

// whereFor builds the target predicate. Project, target type and target id are all required
// so a malformed filter can never match the whole class.
func whereFor(f model.VectorFilter) (*filters.WhereBuilder, error) {
	if f.ProjectID == "" || f.TargetType == "" || f.TargetID == "" {
		return nil, apperrors.Validationf("vector filter needs project, target type and target id")
	}
	operands := []*filters.WhereBuilder{
		filters.Where().WithPath([]string{"project_id"}).WithOperator(filters.Equal).WithValueText(f.ProjectID),
		filters.Where().WithPath([]string{"target_type"}).WithOperator(filters.Equal).WithValueText(f.TargetType),
		filters.Where().WithPath([]string{"target_id"}).WithOperator(filters.Equal).WithValueText(f.TargetID),
	}
	if f.MinChunkIndex != nil {
		operands = append(operands, filters.Where().
			WithPath([]string{"chunk_index"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueInt(int64(*f.MinChunkIndex)))
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

func isNotFound(err error) bool {
	var werr *fault.WeaviateClientError
	return errors.As(err, &werr) && werr.StatusCode == http.StatusNotFound
}
