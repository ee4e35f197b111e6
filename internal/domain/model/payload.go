package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Embedding target types.
const (
	TargetDocument     = "document"
	TargetEntity       = "entity"
	TargetMemory       = "memory"
	TargetMemoryDelete = "memory_delete"
)

// payloadValidate is shared by every payload type; validator caches struct metadata.
var payloadValidate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidPayload wraps every payload decoding or validation failure.
var ErrInvalidPayload = errors.New("invalid job payload")

// Payload is the tagged union of per-kind job payloads.
type Payload interface {
	Kind() JobKind
}

// DocumentPayload targets a single document (detect_entities, digest_document).
type DocumentPayload struct {
	JobKind    JobKind `json:"-"`
	DocumentID string  `json:"document_id" validate:"required"`
}

// Kind implements Payload.
func (p DocumentPayload) Kind() JobKind { return p.JobKind }

// AnalysisPayload drives coherence_lint, clarity_check and policy_check.
type AnalysisPayload struct {
	JobKind    JobKind `json:"-"`
	DocumentID string  `json:"document_id"     validate:"required"`
	Focus      string  `json:"focus,omitempty" validate:"omitempty,max=200"`
}

// Kind implements Payload.
func (p AnalysisPayload) Kind() JobKind { return p.JobKind }

// EmbeddingPayload selects which content the diff engine synchronises.
type EmbeddingPayload struct {
	TargetType string `json:"target_type"         validate:"required,oneof=document entity memory memory_delete"`
	TargetID   string `json:"target_id"           validate:"required"`
	VectorID   string `json:"vector_id,omitempty"`
}

// Kind implements Payload.
func (EmbeddingPayload) Kind() JobKind { return JobKindEmbeddingGeneration }

// ImageEvidencePayload asks for character evidence in one project image.
type ImageEvidencePayload struct {
	ImageURL string `json:"image_url"        validate:"required,url"`
	AssetID  string `json:"asset_id"         validate:"required"`
	Prompt   string `json:"prompt,omitempty" validate:"omitempty,max=2000"`
}

// Kind implements Payload.
func (ImageEvidencePayload) Kind() JobKind { return JobKindImageEvidenceSuggestions }

// RulesPayload drives invariant_check and watchlist_scan over one target.
type RulesPayload struct {
	JobKind    JobKind `json:"-"`
	TargetType string  `json:"target_type" validate:"required,oneof=document entity"`
	TargetID   string  `json:"target_id"   validate:"required"`
}

// Kind implements Payload.
func (p RulesPayload) Kind() JobKind { return p.JobKind }

// ParsePayload decodes raw into the payload type registered for kind and validates it.
// Unknown fields are rejected so typos surface at enqueue time.
//
//nolint:ireturn // tagged union
func ParsePayload(kind JobKind, raw json.RawMessage) (Payload, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	var (
		target Payload
		err    error
	)
	switch kind {
	case JobKindDetectEntities, JobKindDigestDocument:
		var p DocumentPayload
		err = decodeStrict(raw, &p)
		p.JobKind = kind
		target = p
	case JobKindCoherenceLint, JobKindClarityCheck, JobKindPolicyCheck:
		var p AnalysisPayload
		err = decodeStrict(raw, &p)
		p.JobKind = kind
		target = p
	case JobKindEmbeddingGeneration:
		var p EmbeddingPayload
		err = decodeStrict(raw, &p)
		target = p
	case JobKindImageEvidenceSuggestions:
		var p ImageEvidencePayload
		err = decodeStrict(raw, &p)
		target = p
	case JobKindInvariantCheck, JobKindWatchlistScan:
		var p RulesPayload
		err = decodeStrict(raw, &p)
		p.JobKind = kind
		target = p
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, kind, err)
	}

	if verr := payloadValidate.Struct(target); verr != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidPayload, kind, describeValidation(verr))
	}
	return target, nil
}

// MarshalPayload encodes p for storage. The kind discriminator lives on the job row.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Validate checks that project and user are set and that target type and id come together.
func (s Scope) Validate() error {
	if err := payloadValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid scope: %s", describeValidation(err))
	}
	return nil
}
