package httpproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// ErrPoolExhausted is returned when no instance could be claimed.
var ErrPoolExhausted = errors.New("no claimable instance available")

// claimStaleAfter is how old an instance's last heartbeat may be before
// the claimer skips it.
const claimStaleAfter = 5 * time.Second

// ServiceKind names one of the endpoints an instance publishes.
type ServiceKind string

const (
	ServiceChromeDebug ServiceKind = "chrome_debug"
	ServiceAutomation  ServiceKind = "automation"
)

// addr returns the published endpoint for this kind, or "" if absent.
func (k ServiceKind) addr(s *instancepb.Services) string {
	if s == nil {
		return ""
	}
	switch k {
	case ServiceChromeDebug:
		return s.ChromeDebug
	case ServiceAutomation:
		return s.Automation
	}
	return ""
}

// ClaimBackend claims one warm instance from the registry per incoming
// connection. The conditional parent write makes the registry pick a
// single winner when several gateways race for the same instance.
type ClaimBackend struct {
	Get *instancepb.GetClient
	Try *instancepb.TryClient
	// InstanceType is the pool to draw from.
	InstanceType instancepb.InstanceType
	// Kind selects which published endpoint the session connects to.
	Kind ServiceKind
	// ParentID is this gateway's own instance id, written as the claimed
	// instance's parent.
	ParentID string

	DialTimeout time.Duration
	Logger      *zap.Logger

	now func() time.Time // test hook
}

func (b *ClaimBackend) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *ClaimBackend) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// Claim walks the live pool and returns a connection to the first
// instance it wins. Skips anything killed, already claimed, stale or
// missing the requested endpoint. On exhaustion the client connection
// fails.
func (b *ClaimBackend) Claim(ctx context.Context, req *Request) (net.Conn, func(), error) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	resp, err := b.Get.GetAllInstances(listCtx, &instancepb.AllInstancesQuery{InstanceType: b.InstanceType})
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("list instances: %w", err)
	}

	for _, id := range resp.InstanceIDs {
		getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		d, err := b.Get.GetInstance(getCtx, &instancepb.InstanceRef{InstanceID: id})
		cancel()
		if err != nil {
			b.logger().Debug("Skipping instance", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		if !b.claimable(d) {
			continue
		}

		updCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		won, err := b.Try.TryUpdateInstanceDescription(updCtx, &instancepb.InstanceDescription{
			InstanceID: id,
			Parent:     &instancepb.Relationship{InstanceID: b.ParentID},
		})
		cancel()
		if err != nil {
			b.logger().Debug("Claim attempt failed", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		addr := b.Kind.addr(d.Services)
		conn, err := b.dial(ctx, addr)
		if err != nil {
			b.logger().Warn("Claimed instance unreachable, discarding",
				zap.String("instance_id", id),
				zap.String("addr", addr),
				zap.Error(err),
			)
			b.kill(id)
			continue
		}

		HostRewrite(addr, "/").Apply(req)
		b.logger().Info("Instance claimed",
			zap.String("instance_id", id),
			zap.String("addr", addr),
		)
		return conn, func() { b.kill(id) }, nil
	}

	return nil, nil, ErrPoolExhausted
}

// claimable filters the candidate list: alive, unclaimed, heartbeating
// within the staleness window, and publishing the endpoint we need.
func (b *ClaimBackend) claimable(d *instancepb.InstanceDescription) bool {
	if d.KillRequest != nil || d.Parent != nil {
		return false
	}
	if d.HealthCheck == nil {
		return false
	}
	if b.clock().UnixMilli()-d.HealthCheck.TimestampMs > claimStaleAfter.Milliseconds() {
		return false
	}
	return b.Kind.addr(d.Services) != ""
}

func (b *ClaimBackend) dial(ctx context.Context, addr string) (net.Conn, error) {
	timeout := b.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// kill marks a claimed instance for teardown. Instances are single-use:
// once a session ends (or the instance proved unreachable) it never goes
// back into the pool.
func (b *ClaimBackend) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := b.Try.TryUpdateInstanceDescription(ctx, &instancepb.InstanceDescription{
		InstanceID:  id,
		KillRequest: &instancepb.KillRequest{Reason: instancepb.KillReasonKilled},
	})
	if err != nil {
		b.logger().Warn("Failed to kill instance", zap.String("instance_id", id), zap.Error(err))
		return
	}
	if !ok {
		// Already dead, usually via the reaper.
		b.logger().Debug("Instance already killed", zap.String("instance_id", id))
	}
}
