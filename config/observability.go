package config

import (
	"strings"
	"time"
)

const (
	defaultMetricsPrefix      = "saga"
	defaultMetricsPacketBytes = 1432
	maxMetricsPacketBytes     = 65000
)

// ObservabilityConfig groups configuration that controls metrics emission.
type ObservabilityConfig struct {
	Metrics ObservabilityMetricsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
}

// ObservabilityMetricsConfig controls emission of pipeline metrics to a DogStatsD agent.
// Tags are attached to every metric, e.g. OBSERVABILITY_METRICS_TAGS="env:prod,region:eu".
type ObservabilityMetricsConfig struct {
	Enabled       bool              `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string            `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string            `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"saga"`
	Tags          map[string]string `env:"OBSERVABILITY_METRICS_TAGS"           envKeyValSeparator:":"`
	FlushInterval time.Duration     `env:"OBSERVABILITY_METRICS_FLUSH_INTERVAL" envDefault:"1s"`
	PacketBytes   int               `env:"OBSERVABILITY_METRICS_PACKET_BYTES"   envDefault:"1432"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
	if c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "."); c.Prefix == "" {
		c.Prefix = defaultMetricsPrefix
	}
	if c.FlushInterval < 0 {
		c.FlushInterval = 0
	}
	if c.PacketBytes <= 0 || c.PacketBytes > maxMetricsPacketBytes {
		c.PacketBytes = defaultMetricsPacketBytes
	}
	for k, v := range c.Tags {
		if strings.TrimSpace(k) == "" {
			delete(c.Tags, k)
			continue
		}
		c.Tags[k] = strings.TrimSpace(v)
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}
