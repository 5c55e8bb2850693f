// Package health keeps a container registered and visibly alive: one
// registration at startup, then a heartbeat every second. A rejected
// heartbeat means the manager no longer wants this instance; the loop
// returns an error so the whole process shuts down.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tzafon/warmpool/internal/instancepb"
)

const (
	heartbeatPeriod = 1 * time.Second
	rpcTimeout      = 5 * time.Second
	// maxConsecutiveErrors transport failures in a row end the loop.
	maxConsecutiveErrors = 3
)

// ErrHeartbeatRejected is returned when the manager answers a heartbeat
// with false, which means the instance has been killed.
var ErrHeartbeatRejected = errors.New("heartbeat rejected by manager")

// Registrar is the slice of the try surface the heartbeat needs.
// *instancepb.TryClient satisfies it.
type Registrar interface {
	TryAddInstance(ctx context.Context, desc *instancepb.InstanceDescription, opts ...grpc.CallOption) (bool, error)
	TryUpdateInstanceDescription(ctx context.Context, desc *instancepb.InstanceDescription, opts ...grpc.CallOption) (bool, error)
}

// Loop drives one instance's lifecycle against the manager.
type Loop struct {
	try    Registrar
	id     string
	period time.Duration
	logger *zap.Logger
}

// NewLoop creates a heartbeat loop for an already registered instance id.
func NewLoop(try Registrar, id string, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{try: try, id: id, period: heartbeatPeriod, logger: logger}
}

// Register performs the one-time registration. A false result is fatal:
// the id is already taken.
func Register(ctx context.Context, try Registrar, desc *instancepb.InstanceDescription) error {
	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	ok, err := try.TryAddInstance(callCtx, desc)
	if err != nil {
		return fmt.Errorf("register instance %s: %w", desc.InstanceID, err)
	}
	if !ok {
		return fmt.Errorf("register instance %s: id already registered", desc.InstanceID)
	}
	return nil
}

// Run sends heartbeats until ctx is cancelled (nil return), the manager
// rejects one (ErrHeartbeatRejected), or transport errors accumulate.
// Beats are scheduled on absolute deadlines so a slow RPC does not shift
// the cadence.
func (l *Loop) Run(ctx context.Context) error {
	next := time.Now()
	consecutiveErrors := 0
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

		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		ok, err := l.try.TryUpdateInstanceDescription(callCtx, &instancepb.InstanceDescription{
			InstanceID:  l.id,
			HealthCheck: &instancepb.HealthCheck{},
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutiveErrors++
			l.logger.Warn("Heartbeat failed",
				zap.Error(err),
				zap.Int("consecutive_errors", consecutiveErrors),
			)
			if consecutiveErrors >= maxConsecutiveErrors {
				return fmt.Errorf("heartbeat: %d consecutive transport errors: %w", consecutiveErrors, err)
			}
			continue
		}
		if !ok {
			return ErrHeartbeatRejected
		}
		consecutiveErrors = 0
	}
}
