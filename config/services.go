package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeDispatcher runs the interval loop that drains eligible analysis jobs.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeReaper runs job hygiene (stale claims, retention).
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeDispatcher, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}

		mode := ServiceMode(name)
		switch mode {
		case ServiceModeDispatcher, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: dispatcher, reaper)", name)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// Pipeline bounds.
const (
	MinConcurrency = 1
	MaxConcurrency = 12
	MaxBatchSize   = 25
)

// PipelineConfig holds the dispatcher and diff engine tuning knobs.
type PipelineConfig struct {
	// Concurrency is the maximum number of workers per dispatcher run.
	Concurrency int `env:"PIPELINE_CONCURRENCY" envDefault:"4"`

	// BatchSize is the default number of eligible jobs fetched per run.
	BatchSize int `env:"PIPELINE_BATCH_SIZE" envDefault:"10"`

	// EmbedBatchSize is the number of texts sent per embedding request.
	EmbedBatchSize int `env:"PIPELINE_EMBED_BATCH_SIZE" envDefault:"8"`

	// ChunkMaxChars caps the size of a single chunk.
	ChunkMaxChars int `env:"PIPELINE_CHUNK_MAX_CHARS" envDefault:"1200"`

	// DigestMaxChars caps the document text handed to the digest prompt.
	DigestMaxChars int `env:"PIPELINE_DIGEST_MAX_CHARS" envDefault:"20000"`

	// ScanCeiling is the largest chunk count for which stored hashes are compared.
	ScanCeiling int `env:"PIPELINE_SCAN_CEILING" envDefault:"500"`

	// Interval is the dispatcher tick interval.
	Interval time.Duration `env:"PIPELINE_INTERVAL" envDefault:"2s"`

	// SingleFlightTTL bounds the Redis lock that keeps replicas from overlapping runs.
	// Zero disables the lock; claims still guard correctness.
	SingleFlightTTL time.Duration `env:"PIPELINE_SINGLE_FLIGHT_TTL" envDefault:"30s"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	p.Concurrency = clamp(p.Concurrency, MinConcurrency, MaxConcurrency)
	if p.BatchSize < 1 {
		p.BatchSize = 10
	}
	if p.BatchSize > MaxBatchSize {
		p.BatchSize = MaxBatchSize
	}
	if p.EmbedBatchSize < 1 {
		p.EmbedBatchSize = 8
	}
	if p.ChunkMaxChars < 1 {
		p.ChunkMaxChars = 1200
	}
	if p.DigestMaxChars < 1 {
		p.DigestMaxChars = 20000
	}
	if p.ScanCeiling < 0 {
		p.ScanCeiling = 0
	}
	if p.Interval < 100*time.Millisecond {
		p.Interval = 100 * time.Millisecond
	}
	if p.SingleFlightTTL < 0 {
		p.SingleFlightTTL = 0
	}
}

// DebounceConfig holds the per-kind debounce windows applied at enqueue.
type DebounceConfig struct {
	Default    time.Duration `env:"DEBOUNCE_DEFAULT"    envDefault:"5s"`
	Embedding  time.Duration `env:"DEBOUNCE_EMBEDDING"  envDefault:"3s"`
	Analysis   time.Duration `env:"DEBOUNCE_ANALYSIS"   envDefault:"30s"`
	Digest     time.Duration `env:"DEBOUNCE_DIGEST"     envDefault:"2m"`
	ImageScans time.Duration `env:"DEBOUNCE_IMAGE_SCAN" envDefault:"0s"`
}

// Sanitize applies guardrails to debounce windows.
func (d *DebounceConfig) Sanitize() {
	for _, v := range []*time.Duration{&d.Default, &d.Embedding, &d.Analysis, &d.Digest, &d.ImageScans} {
		if *v < 0 {
			*v = 0
		}
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// ClaimTimeout is how long a job may stay claimed before it is handed back to pending.
	ClaimTimeout time.Duration `env:"REAPER_CLAIM_TIMEOUT" envDefault:"15m"`

	// DoneMaxAge is the retention for finished jobs.
	DoneMaxAge time.Duration `env:"REAPER_DONE_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the retention for failed jobs.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"336h"` // 14 days

	// BatchSize is the maximum number of rows to process per operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.ClaimTimeout < 1*time.Minute {
		r.ClaimTimeout = 1 * time.Minute
	}
	if r.DoneMaxAge < 1*time.Hour {
		r.DoneMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1000
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
