package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tzafon/warmpool/internal/health"
	"github.com/tzafon/warmpool/internal/httpproxy"
	"github.com/tzafon/warmpool/internal/instancepb"
	"github.com/tzafon/warmpool/internal/logging"
	"github.com/tzafon/warmpool/internal/transport"
)

const instanceIDPrefix = "ephemeral-browser-proxy"

func main() {
	var clientCfg transport.ClientConfig
	clientCfg.RegisterClientFlags(flag.CommandLine)
	cdpPort := flag.Int("cdp-port", 9222, "port the CDP claim gateway listens on")
	automationPort := flag.Int("automation-port", 1337, "port the automation claim gateway listens on")
	debugLog := flag.Bool("debug-log", false, "enable debug logging")
	flag.Parse()

	logger, err := logging.New(*debugLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	instanceID := proxyInstanceID()
	logging.Info("Starting ephemeral proxy", zap.String("instance_id", instanceID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := clientCfg.Connect()
	if err != nil {
		logging.Error("Failed to connect to instance manager", zap.Error(err))
		os.Exit(1)
	}
	defer conn.Close()
	if err := transport.WaitReady(ctx, conn, logger); err != nil {
		logging.Error("Instance manager never became reachable", zap.Error(err))
		os.Exit(1)
	}

	try := instancepb.NewTryClient(conn)
	get := instancepb.NewGetClient(conn)
	post := instancepb.NewPostClient(conn)

	// The proxy itself is a registry citizen so claimed browsers can point
	// their parent edge at it, but it publishes no services of its own.
	if err := health.Register(ctx, try, &instancepb.InstanceDescription{
		InstanceID:   instanceID,
		InstanceType: instancepb.TypeWarmpoolChromeProxy,
	}); err != nil {
		logging.Error("Registration failed", zap.Error(err))
		os.Exit(1)
	}

	newGateway := func(port int, kind httpproxy.ServiceKind) *httpproxy.Gateway {
		return httpproxy.NewGateway(
			fmt.Sprintf("0.0.0.0:%d", port),
			&httpproxy.ClaimBackend{
				Get:          get,
				Try:          try,
				InstanceType: instancepb.TypeChromeBrowser,
				Kind:         kind,
				ParentID:     instanceID,
				Logger:       logger,
			},
			nil,
			logger.With(zap.String("service", string(kind))),
		)
	}
	cdpGateway := newGateway(*cdpPort, httpproxy.ServiceChromeDebug)
	automationGateway := newGateway(*automationPort, httpproxy.ServiceAutomation)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cdpGateway.Run(ctx) })
	g.Go(func() error { return automationGateway.Run(ctx) })
	g.Go(func() error { return health.NewLoop(try, instanceID, logger).Run(ctx) })
	g.Go(func() error {
		return httpproxy.RunMetricsPostLoop(ctx, post, instanceID,
			[]*httpproxy.Metrics{cdpGateway.Metrics(), automationGateway.Metrics()}, logger)
	})

	if err := g.Wait(); err != nil {
		logging.Error("Ephemeral proxy failed", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("Ephemeral proxy stopped")
}

// proxyInstanceID prefers the pod hostname so the registry entry matches
// what the orchestrator shows.
func proxyInstanceID() string {
	if host := os.Getenv("HOSTNAME"); host != "" {
		return host
	}
	return fmt.Sprintf("%s-%s", instanceIDPrefix, uuid.New())
}
