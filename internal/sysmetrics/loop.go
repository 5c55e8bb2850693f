package sysmetrics

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tzafon/warmpool/internal/instancepb"
)

const (
	postPeriod = 5 * time.Second
	rpcTimeout = 5 * time.Second
)

// Poster is the slice of the post surface the loop needs.
// *instancepb.PostClient satisfies it.
type Poster interface {
	PostInstanceDescription(ctx context.Context, desc *instancepb.InstanceDescription, opts ...grpc.CallOption) (bool, error)
}

// Loop posts memory readings for one instance every five seconds.
// Metrics are best effort: failures are logged and the loop keeps going.
type Loop struct {
	post   Poster
	id     string
	period time.Duration
	read   func() (*instancepb.SystemMetrics, error)
	logger *zap.Logger
}

func NewLoop(post Poster, id string, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{post: post, id: id, period: postPeriod, read: ReadMemory, logger: logger}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	next := time.Now()
	for {
		next = next.Add(l.period)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}

		m, err := l.read()
		if err != nil {
			l.logger.Warn("Failed to read memory metrics", zap.Error(err))
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		_, err = l.post.PostInstanceDescription(callCtx, &instancepb.InstanceDescription{
			InstanceID:    l.id,
			SystemMetrics: m,
		})
		cancel()
		if err != nil && ctx.Err() == nil {
			l.logger.Warn("Failed to post system metrics", zap.Error(err))
		}
	}
}
