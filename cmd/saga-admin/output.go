package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sophanos/saga-sub015/internal/adapters/dispatcher"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	"github.com/Sophanos/saga-sub015/internal/service"
)

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows as aligned columns; the first row is the header.
func table(w io.Writer, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(r, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printEnqueueResults(w io.Writer, format string, results []*model.EnqueueResult) error {
	if format == "json" {
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		return writef(w, "no jobs enqueued\n")
	}
	rows := [][]string{{"JOB", "COALESCED", "ELIGIBLE AT"}}
	for _, r := range results {
		rows = append(rows, []string{r.JobID, fmt.Sprint(r.Coalesced), r.EligibleAt.UTC().Format(time.RFC3339)})
	}
	return table(w, rows)
}

func printStats(w io.Writer, format, kind string, s *model.JobStats) error {
	if format == "json" {
		return writeJSON(w, s)
	}
	if kind == "" {
		kind = "all"
	}
	return table(w, [][]string{
		{"KIND", "PENDING", "CLAIMED", "DONE", "FAILED"},
		{kind, fmt.Sprint(s.Pending), fmt.Sprint(s.Claimed), fmt.Sprint(s.Done), fmt.Sprint(s.Failed)},
	})
}

func printRunReport(w io.Writer, format string, r dispatcher.RunReport) error {
	if format == "json" {
		return writeJSON(w, r)
	}
	if err := writef(w, "fetched=%d claimed=%d done=%d failed=%d skipped=%d raced=%d released=%d\n",
		r.Fetched, r.Claimed, r.Done, r.Failed, r.Skipped, r.Raced, r.Released); err != nil {
		return err
	}
	if len(r.Outcomes) == 0 {
		return nil
	}
	rows := [][]string{{"JOB", "KIND", "OUTCOME", "DETAIL"}}
	for _, o := range r.Outcomes {
		rows = append(rows, []string{o.JobID, string(o.Kind), string(o.Outcome), outcomeDetail(o)})
	}
	return table(w, rows)
}

func outcomeDetail(o dispatcher.JobOutcome) string {
	switch {
	case o.Error != "":
		return o.Error
	case len(o.Missing) > 0:
		names := make([]string, len(o.Missing))
		for i, c := range o.Missing {
			names[i] = string(c)
		}
		return "missing " + strings.Join(names, ", ")
	default:
		return o.Summary
	}
}

func printReapReport(w io.Writer, format string, r service.ReapReport) error {
	if format == "json" {
		return writeJSON(w, map[string]any{
			"released":   r.Released,
			"done":       r.Done,
			"failed":     r.Failed,
			"elapsed_ms": r.Elapsed.Milliseconds(),
		})
	}
	return writef(w, "released=%d deleted_done=%d deleted_failed=%d elapsed=%s\n",
		r.Released, r.Done, r.Failed, r.Elapsed.Round(time.Millisecond))
}
