package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/tzafon/warmpool/internal/instancepb"
)

// Dial opens a gRPC client connection to the instance manager with mutual
// TLS, keepalive pings, and the protocol-version interceptor attached.
// grpc.NewClient connects lazily; use WaitReady to block until the manager
// answers.
func Dial(addr string, tlsCfg *tls.Config) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(instancepb.ClientVersionInterceptor()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial manager: %w", err)
	}
	return conn, nil
}

// WaitReady probes the manager with GetAllInstances until it responds,
// retrying with exponential backoff. It returns once a probe succeeds or
// ctx is cancelled. Containers call this before registering so a manager
// restart does not fail them permanently.
func WaitReady(ctx context.Context, conn *grpc.ClientConn, logger *zap.Logger) error {
	get := instancepb.NewGetClient(conn)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // never give up

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := get.GetAllInstances(probeCtx, &instancepb.AllInstancesQuery{
			InstanceType: instancepb.TypeFakeInstance,
		})
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		logger.Warn("Manager not reachable, retrying",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ServerOptions returns the gRPC server options for the manager: mTLS
// credentials, keepalive enforcement, the forced JSON codec, and the
// protocol-version interceptor. Extra interceptors run after the version
// check.
func ServerOptions(tlsCfg *tls.Config, extra ...grpc.UnaryServerInterceptor) []grpc.ServerOption {
	interceptors := append([]grpc.UnaryServerInterceptor{instancepb.ServerVersionInterceptor()}, extra...)
	return []grpc.ServerOption{
		grpc.Creds(credentials.NewTLS(tlsCfg)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ForceServerCodec(instancepb.Codec{}),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
}
