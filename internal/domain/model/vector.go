package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// pointNamespace scopes deterministic vector object ids.
var pointNamespace = uuid.MustParse("4f6f1a8e-2b7c-4d53-9a51-7e0c3d2b9f10")

// Chunk is one bounded slice of a target's text.
type Chunk struct {
	Index int
	Text  string
	Hash  uint32
}

// PointKey is the deterministic key of a vector point: {targetType}:{targetId}:{chunkIndex}.
func PointKey(targetType, targetID string, chunkIndex int) string {
	return targetType + ":" + targetID + ":" + strconv.Itoa(chunkIndex)
}

// PointID maps a point key onto the UUID form vector stores require. The mapping is stable,
// so re-embedding the same chunk index replaces the existing point.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// ChunkPayload is the metadata stored alongside each vector.
type ChunkPayload struct {
	Key        string    `json:"point_key"`
	ProjectID  string    `json:"project_id"`
	UserID     string    `json:"user_id,omitempty"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Text       string    `json:"text"`
	Preview    string    `json:"preview"`
	ChunkIndex int       `json:"chunk_index"`
	ChunkHash  uint32    `json:"chunk_hash"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// VectorPoint is one embedding plus metadata.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload ChunkPayload
}

// VectorFilter selects points for one target. MinChunkIndex adds a chunk_index >= N predicate.
type VectorFilter struct {
	ProjectID     string
	TargetType    string
	TargetID      string
	MinChunkIndex *int
}

// StoredChunk is the (index, hash) pair read back from the index during diffing.
type StoredChunk struct {
	ID         string
	ChunkIndex int
	ChunkHash  uint32
}

// EmbeddingSyncResult is the result ref of an embedding_generation job.
type EmbeddingSyncResult struct {
	TargetType     string `json:"target_type"`
	TargetID       string `json:"target_id"`
	ChunkCount     int    `json:"chunk_count"`
	EmbeddedChunks int    `json:"embedded_chunks"`
	SkippedChunks  int    `json:"skipped_chunks"`
	DeletedPoints  int    `json:"deleted_points"`
	// UsedHashDiff is false when the stored-hash scan was skipped and every chunk re-embedded.
	UsedHashDiff bool `json:"used_hash_diff"`
	// StoredTailUnknown is set when more points were stored than the scan read, so points past
	// the new chunk count were trimmed without being inspected.
	StoredTailUnknown bool `json:"stored_tail_unknown,omitempty"`
}
