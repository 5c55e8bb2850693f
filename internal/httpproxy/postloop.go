package httpproxy

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tzafon/warmpool/internal/instancepb"
)

const metricsPostPeriod = 5 * time.Second

// Poster is the slice of the post surface the metrics loop needs.
// *instancepb.PostClient satisfies it.
type Poster interface {
	PostInstanceDescription(ctx context.Context, desc *instancepb.InstanceDescription, opts ...grpc.CallOption) (bool, error)
}

// RunMetricsPostLoop posts the summed traffic counters of the given
// gateways every five seconds until ctx is cancelled. Best effort:
// failures are logged, never fatal.
func RunMetricsPostLoop(ctx context.Context, post Poster, id string, metrics []*Metrics, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	next := time.Now()
	for {
		next = next.Add(metricsPostPeriod)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}

		sum := sumMetrics(metrics)

		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := post.PostInstanceDescription(callCtx, &instancepb.InstanceDescription{
			InstanceID:   id,
			ProxyMetrics: sum,
		})
		cancel()
		if err != nil && ctx.Err() == nil {
			logger.Warn("Failed to post proxy metrics", zap.Error(err))
		}
	}
}

// sumMetrics totals the counters of several gateways into one record.
func sumMetrics(metrics []*Metrics) *instancepb.ProxyMetrics {
	sum := &instancepb.ProxyMetrics{}
	for _, m := range metrics {
		s := m.Snapshot()
		sum.NumConnections += s.NumConnections
		sum.ActiveConnections += s.ActiveConnections
		sum.ClientToServerBytes += s.ClientToServerBytes
		sum.ServerToClientBytes += s.ServerToClientBytes
	}
	return sum
}
