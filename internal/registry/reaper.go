package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// Lifecycle limits enforced by the reaper.
const (
	reapPeriod     = 1 * time.Second
	heartbeatStale = 5 * time.Second
	sessionMax     = 1 * time.Hour
	instanceMaxAge = 24 * time.Hour
	agentGrace     = 60 * time.Second
)

// Reaper scans the store once a second and kills instances whose lifecycle
// limits have expired. Kills go through the normal apply path so the
// parent-dead cascade applies.
type Reaper struct {
	store  *Store
	logger *zap.Logger
}

func NewReaper(store *Store, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, logger: logger}
}

// Run blocks until ctx is cancelled. Scan deadlines are absolute: a slow
// scan does not push later scans back.
func (r *Reaper) Run(ctx context.Context) {
	next := r.store.now()
	for {
		next = next.Add(reapPeriod)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		r.scan()
	}
}

func (r *Reaper) scan() {
	now := r.store.now()
	for _, d := range r.store.Snapshot() {
		reason, ok := classify(d, now)
		if !ok {
			continue
		}
		applied, err := r.store.Apply(&instancepb.InstanceDescription{
			InstanceID:  d.InstanceID,
			KillRequest: &instancepb.KillRequest{Reason: reason},
		})
		if err != nil || !applied {
			// Lost a race with another kill; nothing to do.
			continue
		}
		r.logger.Info("Reaped instance",
			zap.String("instance_id", d.InstanceID),
			zap.String("instance_type", string(d.InstanceType)),
			zap.String("reason", string(reason)),
		)
	}
}

// classify decides whether an instance is past one of its limits. Rules
// are checked in order and the first match wins.
func classify(d *instancepb.InstanceDescription, now time.Time) (instancepb.KillReason, bool) {
	if d.KillRequest != nil {
		return "", false
	}

	nowMs := now.UnixMilli()
	olderThan := func(ms int64, limit time.Duration) bool {
		return nowMs-ms > limit.Milliseconds()
	}
	lastActivity := d.CreatedTimestampMs
	if d.HealthCheck != nil {
		lastActivity = d.HealthCheck.TimestampMs
	}

	switch d.InstanceType {
	case instancepb.TypeChromeBrowser, instancepb.TypeFakeInstance:
		// A claimed browser is single-use: the session expires an hour
		// after the parent attached.
		if d.Parent != nil && olderThan(d.Parent.TimestampMs, sessionMax) {
			return instancepb.KillReasonTimeout, true
		}
		if olderThan(lastActivity, heartbeatStale) {
			return instancepb.KillReasonHealthCheckFailed, true
		}
		if olderThan(d.CreatedTimestampMs, instanceMaxAge) {
			return instancepb.KillReasonKilled, true
		}
	case instancepb.TypeAgent:
		// Agents get a registration grace period before heartbeats count.
		if !olderThan(d.CreatedTimestampMs, agentGrace) {
			return "", false
		}
		if olderThan(lastActivity, heartbeatStale) {
			return instancepb.KillReasonHealthCheckFailed, true
		}
		if olderThan(lastActivity, instanceMaxAge) {
			return instancepb.KillReasonTimeout, true
		}
	}
	return "", false
}
