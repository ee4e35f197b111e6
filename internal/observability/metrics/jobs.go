// Package metrics emits the standard pipeline metrics on top of a statsd.Sink.
package metrics

import (
	"time"

	obserrors "github.com/Sophanos/saga-sub015/internal/observability/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultSkipped = "skipped"
)

// Job lifecycle transitions.
const (
	TransitionClaimed  = "claimed"
	TransitionDone     = "done"
	TransitionFailed   = "failed"
	TransitionSkipped  = "skipped"
	TransitionRaced    = "raced"
	TransitionReleased = "released"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// RunMetric summarises one dispatcher invocation.
type RunMetric struct {
	Fetched  int
	Done     int
	Failed   int
	Skipped  int
	Raced    int
	Duration time.Duration
}

// EmitDispatchRun emits per-run counters and timing.
func EmitDispatchRun(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case in.Fetched == 0:
		result = ResultNoop
	case in.Failed > 0:
		result = ResultError
	}
	tags := map[string]string{"result": result}
	sink.Count("dispatch.run", 1, tags)
	sink.Gauge("dispatch.fetched", float64(in.Fetched), nil)
	if in.Skipped > 0 {
		sink.Count("dispatch.skipped_unconfigured", int64(in.Skipped), nil)
	}
	if in.Raced > 0 {
		sink.Count("dispatch.raced", int64(in.Raced), nil)
	}
	if in.Duration > 0 {
		sink.Timing("dispatch.duration", in.Duration, CloneTags(tags))
	}
}

// EmbeddingMetric describes one diff-engine sync.
type EmbeddingMetric struct {
	TargetType   string
	Embedded     int
	Skipped      int
	Deleted      int
	UsedHashDiff bool
}

// EmitEmbeddingSync records how much work the hash diff saved.
func EmitEmbeddingSync(sink statsd.Sink, in EmbeddingMetric) {
	if sink == nil {
		return
	}
	path := "hash_diff"
	if !in.UsedHashDiff {
		path = "full"
	}
	tags := map[string]string{"target_type": in.TargetType, "path": path}
	sink.Count("embedding.chunks_embedded", int64(in.Embedded), tags)
	sink.Count("embedding.chunks_skipped", int64(in.Skipped), CloneTags(tags))
	if in.Deleted > 0 {
		sink.Count("embedding.points_deleted", int64(in.Deleted), CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
