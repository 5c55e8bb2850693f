package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	probeInterval       = 10 * time.Second
	probeTimeout        = 5 * time.Second
	probeUnhealthyAfter = 3
)

// EndpointProbe watches a local TCP endpoint and fails once it stops
// accepting connections. The browser container runs one against Chrome's
// DevTools socket: a wedged Chrome that never exits would otherwise keep
// heartbeating forever.
type EndpointProbe struct {
	addr           string
	interval       time.Duration
	timeout        time.Duration
	unhealthyAfter int
	logger         *zap.Logger
}

// NewEndpointProbe creates a probe for addr with default thresholds.
func NewEndpointProbe(addr string, logger *zap.Logger) *EndpointProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndpointProbe{
		addr:           addr,
		interval:       probeInterval,
		timeout:        probeTimeout,
		unhealthyAfter: probeUnhealthyAfter,
		logger:         logger,
	}
}

// Run dials the endpoint periodically. It returns nil when ctx is
// cancelled, or an error after enough consecutive failed probes. A
// single success resets the failure count.
func (p *EndpointProbe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := p.check(); err != nil {
			failures++
			p.logger.Warn("Endpoint probe failed",
				zap.String("addr", p.addr),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= p.unhealthyAfter {
				return fmt.Errorf("endpoint %s unhealthy after %d failed probes: %w", p.addr, failures, err)
			}
			continue
		}
		failures = 0
	}
}

func (p *EndpointProbe) check() error {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
