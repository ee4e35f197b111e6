package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, name, want string
	}{
		{"saga", "job.claimed", "saga.job.claimed"},
		{"saga", " job/claimed ", "saga.job_claimed"},
		{"", "foo..bar.", "foo.bar"},
		{"saga", "kind:digest|x", "saga.kind_digest_x"},
		{"saga", " . ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, metricName(tt.prefix, tt.name), "metricName(%q, %q)", tt.prefix, tt.name)
	}
}

func TestAppendTags(t *testing.T) {
	t.Parallel()

	base := cleanTags(map[string]string{"env": "prod", " service ": " pipeline "})
	got := appendTags([]byte("m:1|c"), base, map[string]string{"result": " ok ", "": "dropped", "env": "stage"})
	assert.Equal(t, "m:1|c|#env:stage,result:ok,service:pipeline", string(got))

	assert.Equal(t, "m:1|c", string(appendTags([]byte("m:1|c"), nil, nil)))
	assert.Equal(t, "prod", base["env"], "per-call tags must not leak into base tags")
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestClientSendsImmediatelyWithoutFlushInterval(t *testing.T) {
	t.Parallel()

	agent := listen(t)
	client, err := NewClient(Config{
		Enabled: true,
		Address: agent.LocalAddr().String(),
		Prefix:  ".saga.",
		Tags:    map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	client.Count("job.enqueued", 2, map[string]string{"kind": "digest_document"})
	assert.Equal(t, "saga.job.enqueued:2|c|#env:test,kind:digest_document", read(t, agent))

	client.Timing("job.duration", 1500*time.Microsecond, nil)
	assert.Equal(t, "saga.job.duration:1.5|ms|#env:test", read(t, agent))

	client.Gauge("queue.pending", 3, nil)
	assert.Equal(t, "saga.queue.pending:3|g|#env:test", read(t, agent))
}

func TestClientBatchesUntilFlush(t *testing.T) {
	t.Parallel()

	agent := listen(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       agent.LocalAddr().String(),
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	client.Count("a", 1, nil)
	client.Count("b", 2, nil)
	client.Flush()
	assert.Equal(t, "a:1|c\nb:2|c", read(t, agent))

	client.Gauge("c", 0.25, nil)
	require.NoError(t, client.Close())
	assert.Equal(t, "c:0.25|g", read(t, agent), "Close flushes pending lines")
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestClientSplitsAtPacketSize(t *testing.T) {
	t.Parallel()

	agent := listen(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       agent.LocalAddr().String(),
		PacketBytes:   16,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer client.Close()

	client.Count("first", 1, nil)  // 9 bytes
	client.Count("second", 1, nil) // would exceed 16 with the separator
	assert.Equal(t, "first:1|c", read(t, agent))
	client.Flush()
	assert.Equal(t, "second:1|c", read(t, agent))
}

func TestClientDisabled(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	client.Count("dropped", 1, nil)
	client.Flush()
	assert.NoError(t, client.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	nilClient.Count("x", 1, nil)
	nilClient.Timing("x", time.Second, nil)
	assert.NoError(t, nilClient.Close())
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "statsd dial"), err.Error())
}
