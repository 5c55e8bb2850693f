package httpproxy

import (
	"context"
	"fmt"
	"net"
	"time"
)

// StaticBackend forwards every connection to one fixed upstream after
// applying a fixed rewrite. The browser container uses it to front
// Chrome's DevTools endpoint.
type StaticBackend struct {
	// Addr is the dial target.
	Addr string
	// Rewrite is applied to every request head.
	Rewrite Rewrite
	// DialTimeout defaults to 10s.
	DialTimeout time.Duration
}

func (b *StaticBackend) Claim(ctx context.Context, req *Request) (net.Conn, func(), error) {
	timeout := b.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", b.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial upstream %s: %w", b.Addr, err)
	}
	b.Rewrite.Apply(req)
	return conn, func() {}, nil
}
