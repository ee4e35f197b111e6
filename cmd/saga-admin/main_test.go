package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/adapters/dispatcher"
	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	"github.com/Sophanos/saga-sub015/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticConfig() (config.AppConfig, error) {
	return config.AppConfig{}, nil
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand(staticConfig)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "enqueue", "document-changed", "run-once", "stats", "reap"}, names)
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	root := newRootCommand(staticConfig)
	root.SetArgs([]string{"stats", "--format", "xml"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_ConfigError(t *testing.T) {
	root := newRootCommand(func() (config.AppConfig, error) {
		return config.AppConfig{}, errors.New("bad env")
	})
	root.SetArgs([]string{"stats"})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config: bad env")
}

func TestEnqueueFlagsInput(t *testing.T) {
	t.Run("builds input", func(t *testing.T) {
		in, err := enqueueFlags{
			Kind:      " digest_document ",
			ProjectID: "p1",
			UserID:    "u1",
			Payload:   `{"document_id":"d1"}`,
		}.input()
		require.NoError(t, err)
		assert.Equal(t, model.JobKindDigestDocument, in.Kind)
		assert.Equal(t, model.Scope{ProjectID: "p1", UserID: "u1"}, in.Scope)
		assert.JSONEq(t, `{"document_id":"d1"}`, string(in.Payload.(json.RawMessage)))
		assert.Nil(t, in.Debounce)
	})

	t.Run("explicit zero debounce", func(t *testing.T) {
		in, err := enqueueFlags{Kind: "digest_document", Payload: `{}`, DebounceSet: true}.input()
		require.NoError(t, err)
		require.NotNil(t, in.Debounce)
		assert.Equal(t, time.Duration(0), *in.Debounce)
	})

	t.Run("rejects bad payloads", func(t *testing.T) {
		_, err := enqueueFlags{Kind: "digest_document"}.input()
		require.Error(t, err)
		_, err = enqueueFlags{Kind: "digest_document", Payload: "{"}.input()
		require.Error(t, err)
	})
}

func TestHasRedisConfig(t *testing.T) {
	assert.False(t, hasRedisConfig(nil))
	assert.False(t, hasRedisConfig(&config.RedisConfig{URI: "localhost:6379"}))
	assert.True(t, hasRedisConfig(&config.RedisConfig{Enabled: true, URI: "localhost:6379"}))
	assert.False(t, hasRedisConfig(&config.RedisConfig{Enabled: true, UseSentinel: true}))
	assert.True(t, hasRedisConfig(&config.RedisConfig{Enabled: true, UseSentinel: true, SentinelNodes: []string{"s:26379"}}))
}

func TestPrintRunReport(t *testing.T) {
	report := dispatcher.RunReport{
		Fetched: 3, Claimed: 2, Done: 1, Failed: 1, Skipped: 1,
		Outcomes: []dispatcher.JobOutcome{
			{JobID: "j1", Kind: model.JobKindDigestDocument, Outcome: dispatcher.OutcomeDone, Summary: "Digest stored with 2 highlights."},
			{JobID: "j2", Kind: model.JobKindCoherenceLint, Outcome: dispatcher.OutcomeFailed, Error: "provider timeout"},
			{
				JobID: "j3", Kind: model.JobKindEmbeddingGeneration, Outcome: dispatcher.OutcomeSkipped,
				Missing: []core.Capability{core.CapEmbedding, core.CapVectorIndex},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printRunReport(&buf, "text", report))
	out := buf.String()
	assert.Contains(t, out, "fetched=3 claimed=2 done=1 failed=1 skipped=1 raced=0 released=0")
	assert.Contains(t, out, "Digest stored with 2 highlights.")
	assert.Contains(t, out, "provider timeout")
	assert.Contains(t, out, "missing embedding, vector_index")

	buf.Reset()
	require.NoError(t, printRunReport(&buf, "json", report))
	var decoded dispatcher.RunReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report, decoded)
}

func TestPrintStatsAndReap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, "text", "", &model.JobStats{Pending: 4, Failed: 1}))
	assert.Contains(t, buf.String(), "KIND")
	assert.Contains(t, buf.String(), "all")

	buf.Reset()
	require.NoError(t, printReapReport(&buf, "text", service.ReapReport{Released: 2, Done: 10, Failed: 1, Elapsed: 1500 * time.Microsecond}))
	assert.Equal(t, "released=2 deleted_done=10 deleted_failed=1 elapsed=2ms\n", buf.String())

	buf.Reset()
	require.NoError(t, printEnqueueResults(&buf, "text", nil))
	assert.Equal(t, "no jobs enqueued\n", buf.String())
}
