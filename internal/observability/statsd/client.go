// Package statsd emits DogStatsD-style metrics for the pipeline and provides an in-memory sink for tests.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

const defaultPacketBytes = 1432

// Config describes how to reach a DogStatsD agent.
// A disabled config or an empty address yields a client that drops every metric.
type Config struct {
	Enabled bool
	Address string
	Prefix  string
	// Tags are appended to every metric; per-call tags win on key collisions.
	Tags map[string]string
	// PacketBytes caps a datagram; lines are batched newline-separated up to it.
	PacketBytes int
	// FlushInterval bounds how long a batched line waits. Zero sends every line immediately.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Client batches metric lines into UDP datagrams. It is safe for concurrent use and
// every method is a no-op on a nil *Client.
type Client struct {
	prefix    string
	tags      map[string]string
	maxPacket int
	logger    *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	buf  []byte

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured agent unless disabled and starts the flush loop when
// FlushInterval is positive.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPacket := cfg.PacketBytes
	if maxPacket <= 0 {
		maxPacket = defaultPacketBytes
	}
	c := &Client{
		prefix:    strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		tags:      cleanTags(cfg.Tags),
		maxPacket: maxPacket,
		logger:    logger.With("component", "statsd"),
	}

	address := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || address == "" {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	c.conn = conn
	c.buf = make([]byte, 0, maxPacket)

	if cfg.FlushInterval > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.flushLoop(c.stop, cfg.FlushInterval)
	}
	return c, nil
}

// Enabled reports whether the client still holds a connection.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.emit(name, strconv.AppendInt(nil, value, 10), "c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.emit(name, strconv.AppendFloat(nil, value, 'f', -1, 64), "g", tags)
}

// Timing records a timing metric in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	ms := float64(value) / float64(time.Millisecond)
	c.emit(name, strconv.AppendFloat(nil, ms, 'f', -1, 64), "ms", tags)
}

// Flush sends any batched lines.
func (c *Client) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Close stops the flush loop, sends what is batched and releases the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.stop != nil {
		c.stopOnce.Do(func() { close(c.stop) })
		<-c.done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.flushLocked()
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) flushLoop(stop <-chan struct{}, every time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}

func (c *Client) emit(name string, value []byte, kind string, tags map[string]string) {
	if c == nil {
		return
	}
	line := c.formatLine(name, value, kind, tags)
	if line == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if len(c.buf) > 0 && len(c.buf)+1+len(line) > c.maxPacket {
		c.flushLocked()
	}
	if len(c.buf) > 0 {
		c.buf = append(c.buf, '\n')
	}
	c.buf = append(c.buf, line...)
	if c.done == nil || len(c.buf) >= c.maxPacket {
		c.flushLocked()
	}
}

func (c *Client) flushLocked() {
	if len(c.buf) == 0 || c.conn == nil {
		return
	}
	if _, err := c.conn.Write(c.buf); err != nil {
		c.logger.Debug("statsd write failed", "error", err, "bytes", len(c.buf))
	}
	c.buf = c.buf[:0]
}

// formatLine renders one DogStatsD line, or nil when name is blank after cleaning.
func (c *Client) formatLine(name string, value []byte, kind string, tags map[string]string) []byte {
	metric := metricName(c.prefix, name)
	if metric == "" {
		return nil
	}
	line := make([]byte, 0, len(metric)+len(value)+16)
	line = append(line, metric...)
	line = append(line, ':')
	line = append(line, value...)
	line = append(line, '|')
	line = append(line, kind...)
	return appendTags(line, c.tags, tags)
}

// metricName joins prefix and name, replacing characters the line protocol reserves.
func metricName(prefix, name string) string {
	n := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', ':', '|', '@', '#', ',', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	parts := strings.FieldsFunc(n, func(r rune) bool { return r == '.' })
	if len(parts) == 0 {
		return ""
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

func appendTags(line []byte, base, extra map[string]string) []byte {
	merged := maps.Clone(base)
	if merged == nil {
		merged = make(map[string]string, len(extra))
	}
	maps.Copy(merged, cleanTags(extra))
	if len(merged) == 0 {
		return line
	}
	line = append(line, "|#"...)
	for i, k := range slices.Sorted(maps.Keys(merged)) {
		if i > 0 {
			line = append(line, ',')
		}
		line = append(line, k...)
		line = append(line, ':')
		line = append(line, merged[k]...)
	}
	return line
}

func cleanTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if key := strings.TrimSpace(k); key != "" {
			out[key] = strings.TrimSpace(v)
		}
	}
	return out
}
