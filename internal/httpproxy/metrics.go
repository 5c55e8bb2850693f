package httpproxy

import (
	"io"
	"sync/atomic"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// Metrics counts a gateway's traffic. All fields are atomics; one Metrics
// is shared by every connection of a gateway.
type Metrics struct {
	numConnections      atomic.Int64
	activeConnections   atomic.Int64
	clientToServerBytes atomic.Int64
	serverToClientBytes atomic.Int64
}

func (m *Metrics) connectionOpened() {
	m.numConnections.Add(1)
	m.activeConnections.Add(1)
}

func (m *Metrics) connectionClosed() {
	m.activeConnections.Add(-1)
}

// Snapshot renders the counters as a ProxyMetrics record. The timestamp
// is left unset; the registry stamps it.
func (m *Metrics) Snapshot() *instancepb.ProxyMetrics {
	return &instancepb.ProxyMetrics{
		NumConnections:      m.numConnections.Load(),
		ActiveConnections:   m.activeConnections.Load(),
		ClientToServerBytes: m.clientToServerBytes.Load(),
		ServerToClientBytes: m.serverToClientBytes.Load(),
	}
}

// countingWriter adds everything written through it to counter.
type countingWriter struct {
	w       io.Writer
	counter *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.counter.Add(int64(n))
	return n, err
}
