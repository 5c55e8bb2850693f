package health

import (
	"context"
	"net"
	"testing"
	"time"
)

func fastProbe(addr string) *EndpointProbe {
	p := NewEndpointProbe(addr, nil)
	p.interval = 5 * time.Millisecond
	p.timeout = 100 * time.Millisecond
	return p
}

func TestProbeHealthyEndpoint(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := fastProbe(lis.Addr().String()).Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil on cancel", err)
	}
}

func TestProbeFailsAfterConsecutiveErrors(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fastProbe(addr).Run(ctx); err == nil {
		t.Error("Run = nil, want error for dead endpoint")
	}
}

func TestProbeSuccessResetsFailures(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := fastProbe(lis.Addr().String())
	p.unhealthyAfter = 1

	// Healthy the whole run; must end via cancel, not failure threshold.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Errorf("Run = %v", err)
	}
}
