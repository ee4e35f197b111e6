package config

import (
	"net/url"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - dispatcher",
			input:    "dispatcher",
			expected: map[ServiceMode]bool{ServiceModeDispatcher: true},
		},
		{
			name:  "both services with spaces",
			input: " dispatcher , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeDispatcher: true,
				ServiceModeReaper:     true,
			},
		},
		{
			name:     "duplicate services",
			input:    "reaper,reaper",
			expected: map[ServiceMode]bool{ServiceModeReaper: true},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,",
			expectError: true,
		},
		{
			name:        "unknown service",
			input:       "dispatcher,http",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d services, got %d", len(tt.expected), len(result))
			}
			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	cfg := AppConfig{Services: "dispatcher"}
	if !cfg.IsDispatcherEnabled() {
		t.Errorf("expected dispatcher enabled")
	}
	if cfg.IsReaperEnabled() {
		t.Errorf("expected reaper disabled")
	}

	cfg.Services = "nope"
	if cfg.IsDispatcherEnabled() || cfg.IsReaperEnabled() {
		t.Errorf("expected invalid service config to disable everything")
	}
}

func TestAppConfig_ParsePipelineDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	p := cfg.Pipeline
	if p.Concurrency != 4 || p.BatchSize != 10 || p.EmbedBatchSize != 8 {
		t.Fatalf("unexpected worker defaults: %+v", p)
	}
	if p.ChunkMaxChars != 1200 || p.DigestMaxChars != 20000 || p.ScanCeiling != 500 {
		t.Fatalf("unexpected engine defaults: %+v", p)
	}
	if cfg.OpenAI.Enabled() {
		t.Fatalf("expected provider disabled without an API key")
	}
}

func TestPipelineConfig_Sanitize(t *testing.T) {
	tests := []struct {
		name            string
		in              PipelineConfig
		wantConcurrency int
		wantBatch       int
	}{
		{name: "below floor", in: PipelineConfig{Concurrency: 0, BatchSize: 0}, wantConcurrency: 1, wantBatch: 10},
		{name: "above ceiling", in: PipelineConfig{Concurrency: 40, BatchSize: 200}, wantConcurrency: 12, wantBatch: 25},
		{name: "in range", in: PipelineConfig{Concurrency: 6, BatchSize: 20}, wantConcurrency: 6, wantBatch: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.Sanitize()
			if cfg.Concurrency != tt.wantConcurrency {
				t.Errorf("concurrency: want %d, got %d", tt.wantConcurrency, cfg.Concurrency)
			}
			if cfg.BatchSize != tt.wantBatch {
				t.Errorf("batch: want %d, got %d", tt.wantBatch, cfg.BatchSize)
			}
			if cfg.Interval < 100*time.Millisecond {
				t.Errorf("interval not floored: %v", cfg.Interval)
			}
		})
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, ClaimTimeout: time.Second}
	cfg.Sanitize()
	if cfg.Interval != time.Minute {
		t.Errorf("expected interval floor of 1m, got %v", cfg.Interval)
	}
	if cfg.ClaimTimeout != time.Minute {
		t.Errorf("expected claim timeout floor of 1m, got %v", cfg.ClaimTimeout)
	}
	if cfg.BatchSize != 1000 {
		t.Errorf("expected default batch size, got %d", cfg.BatchSize)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
		Prefix:        ".saga.pipeline.",
		PacketBytes:   -1,
		FlushInterval: -time.Second,
		Tags:          map[string]string{" ": "x", "env": " prod "},
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
	if cfg.Prefix != "saga.pipeline" {
		t.Fatalf("expected dots trimmed from prefix, got %q", cfg.Prefix)
	}
	if cfg.PacketBytes != 1432 || cfg.FlushInterval != 0 {
		t.Fatalf("expected packet/flush defaults, got %d/%v", cfg.PacketBytes, cfg.FlushInterval)
	}
	if len(cfg.Tags) != 1 || cfg.Tags["env"] != "prod" {
		t.Fatalf("unexpected tags %v", cfg.Tags)
	}
}

func TestObservabilityMetricsConfig_ParseTags(t *testing.T) {
	t.Setenv("OBSERVABILITY_METRICS_TAGS", "env:prod,region:eu")
	var cfg ObservabilityMetricsConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg.Sanitize()
	if cfg.Tags["env"] != "prod" || cfg.Tags["region"] != "eu" {
		t.Fatalf("unexpected tags %v", cfg.Tags)
	}
	if cfg.FlushInterval != time.Second || cfg.Prefix != "saga" {
		t.Fatalf("expected defaults, got %v %q", cfg.FlushInterval, cfg.Prefix)
	}
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := DBConfig{
		Host:           "db.internal",
		Port:           5433,
		User:           "saga",
		Password:       "p@ss/word",
		Name:           "saga",
		SSLMode:        "require",
		ConnectTimeout: 1500 * time.Millisecond,
	}

	u, err := url.Parse(cfg.DSN())
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Host != "db.internal:5433" || u.Path != "/saga" {
		t.Fatalf("unexpected host/path %q %q", u.Host, u.Path)
	}
	if pw, _ := u.User.Password(); pw != "p@ss/word" {
		t.Fatalf("password not round-tripped: %q", pw)
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Fatalf("sslmode = %q", got)
	}
	if got := u.Query().Get("connect_timeout"); got != "1" {
		t.Fatalf("connect_timeout = %q", got)
	}
}
