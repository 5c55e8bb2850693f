package httpproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// headReadTimeout bounds how long a client may take to send its request
// head before the connection is dropped.
const headReadTimeout = 30 * time.Second

// Backend turns a parsed request head into an upstream connection. Claim
// rewrites req in place for the upstream it picked; release is called
// exactly once when the session ends.
type Backend interface {
	Claim(ctx context.Context, req *Request) (conn net.Conn, release func(), err error)
}

// Gateway accepts TCP connections, terminates one request head each and
// pipes the rest of the connection to a claimed upstream.
type Gateway struct {
	addr    string
	backend Backend
	metrics *Metrics
	logger  *zap.Logger
}

// NewGateway creates a gateway listening on addr. metrics may be shared
// with a metrics post loop; pass nil to count into a private instance.
func NewGateway(addr string, backend Backend, metrics *Metrics, logger *zap.Logger) *Gateway {
	if metrics == nil {
		metrics = &Metrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{addr: addr, backend: backend, metrics: metrics, logger: logger}
}

// Metrics returns the gateway's traffic counters.
func (g *Gateway) Metrics() *Metrics { return g.metrics }

// Run listens and serves until ctx is cancelled. Per-connection failures
// are logged and isolated; only listener-level failures end the loop.
func (g *Gateway) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.addr, err)
	}
	g.logger.Info("Gateway listening", zap.String("addr", lis.Addr().String()))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go g.handle(ctx, conn)
	}
}

func (g *Gateway) handle(ctx context.Context, client net.Conn) {
	defer client.Close()
	g.metrics.connectionOpened()
	defer g.metrics.connectionClosed()

	logger := g.logger.With(zap.String("client", client.RemoteAddr().String()))

	client.SetReadDeadline(time.Now().Add(headReadTimeout))
	req, err := ReadRequest(client)
	if err != nil {
		logger.Warn("Dropping connection", zap.Error(err))
		return
	}
	client.SetReadDeadline(time.Time{})

	logger.Debug("Request head parsed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	)

	upstream, release, err := g.backend.Claim(ctx, req)
	if err != nil {
		logger.Warn("No upstream for connection", zap.Error(err))
		return
	}
	defer release()
	defer upstream.Close()

	if _, err := req.WriteTo(upstream); err != nil {
		logger.Warn("Failed to forward request head", zap.Error(err))
		return
	}

	if err := g.pipe(ctx, client, upstream); err != nil {
		logger.Debug("Session ended", zap.Error(err))
	}
}

// pipe copies bytes both ways until one side closes or ctx is cancelled,
// counting traffic into the gateway metrics.
func (g *Gateway) pipe(ctx context.Context, client, upstream net.Conn) error {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(&countingWriter{w: upstream, counter: &g.metrics.clientToServerBytes}, client)
		if tcpConn, ok := upstream.(*net.TCPConn); ok {
			tcpConn.CloseWrite()
		}
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(&countingWriter{w: client, counter: &g.metrics.serverToClientBytes}, upstream)
		if tcpConn, ok := client.(*net.TCPConn); ok {
			tcpConn.CloseWrite()
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		// Let the other direction drain briefly.
		select {
		case <-time.After(5 * time.Second):
		case <-errCh:
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}
