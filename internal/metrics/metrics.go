// Package metrics tracks manager-side counters and exports them in
// Prometheus text exposition format on the status page.
package metrics

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// Collector tracks RPC traffic. Pool state is not counted incrementally;
// it is derived from a registry snapshot at scrape time.
type Collector struct {
	mu       sync.RWMutex
	rpcTotal map[string]int64 // key: method|code
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		rpcTotal: make(map[string]int64),
	}
}

// RecordRPC records one completed unary RPC.
func (c *Collector) RecordRPC(method, code string) {
	c.mu.Lock()
	c.rpcTotal[method+"|"+code]++
	c.mu.Unlock()
}

// UnaryServerInterceptor counts every unary RPC into c.
func UnaryServerInterceptor(c *Collector) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		c.RecordRPC(info.FullMethod, status.Code(err).String())
		return resp, err
	}
}

// instanceState buckets an instance for the pool gauge.
func instanceState(d *instancepb.InstanceDescription) string {
	switch {
	case d.KillRequest != nil:
		return "killed"
	case d.Parent != nil:
		return "claimed"
	}
	return "idle"
}

// WritePrometheus writes all metrics in Prometheus text exposition
// format. instances is a point-in-time registry snapshot.
func (c *Collector) WritePrometheus(w http.ResponseWriter, instances []*instancepb.InstanceDescription) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	pool := make(map[string]int64)  // type|state
	kills := make(map[string]int64) // reason
	for _, d := range instances {
		pool[string(d.InstanceType)+"|"+instanceState(d)]++
		if d.KillRequest != nil {
			kills[string(d.KillRequest.Reason)]++
		}
	}

	writeHelp(w, "warmpool_instances", "Registered instances by type and state", "gauge")
	for _, key := range sortedKeys(pool) {
		parts := splitKey(key, 2)
		writeMetric(w, "warmpool_instances", pool[key],
			"type", parts[0], "state", parts[1])
	}

	writeHelp(w, "warmpool_killed_instances", "Killed instances still in the registry, by reason", "gauge")
	for _, reason := range sortedKeys(kills) {
		writeMetric(w, "warmpool_killed_instances", kills[reason], "reason", reason)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	writeHelp(w, "warmpool_rpc_requests_total", "Total unary RPCs handled", "counter")
	for _, key := range sortedKeys(c.rpcTotal) {
		parts := splitKey(key, 2)
		writeMetric(w, "warmpool_rpc_requests_total", c.rpcTotal[key],
			"method", parts[0], "code", parts[1])
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
