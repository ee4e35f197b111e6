package core

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// Capability names an external service a handler needs before its job may be claimed.
type Capability string

const (
	CapEmbedding       Capability = "embedding"
	CapVectorIndex     Capability = "vector_index"
	CapTextGeneration  Capability = "text_generation"
	CapImageAnalysis   Capability = "image_analysis"
	CapEntityDetection Capability = "entity_detection"
	CapAnalysis        Capability = "analysis"
)

// CapabilitySet records which capabilities are configured in this process.
type CapabilitySet map[Capability]bool

// Missing returns the capabilities in required that the set lacks, in input order.
func (s CapabilitySet) Missing(required []Capability) []Capability {
	var out []Capability
	for _, c := range required {
		if !s[c] {
			out = append(out, c)
		}
	}
	return out
}

type registration struct {
	handler  Handler
	requires []Capability
}

// Registry is the closed mapping from job kind to handler.
type Registry struct {
	mu      sync.RWMutex
	entries map[model.JobKind]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.JobKind]registration)}
}

// Register binds handler to kind. Invalid kinds, nil handlers and duplicate registrations are rejected.
func (r *Registry) Register(kind model.JobKind, handler Handler, requires ...Capability) error {
	if !kind.Valid() {
		return fmt.Errorf("register handler: invalid kind %q", kind)
	}
	if handler == nil {
		return fmt.Errorf("register handler: nil handler for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[kind]; dup {
		return fmt.Errorf("register handler: %s already registered", kind)
	}
	r.entries[kind] = registration{handler: handler, requires: slices.Clone(requires)}
	return nil
}

// Lookup returns the handler bound to kind.
func (r *Registry) Lookup(kind model.JobKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	return e.handler, ok
}

// Requirements returns the capabilities kind needs. Unknown kinds need nothing, so they are
// claimed and failed rather than left pending forever.
func (r *Registry) Requirements(kind model.JobKind) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[kind].requires
}

// Kinds lists registered kinds in registration-independent canonical order.
func (r *Registry) Kinds() []model.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.JobKind
	for _, k := range model.AllJobKinds() {
		if _, ok := r.entries[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
