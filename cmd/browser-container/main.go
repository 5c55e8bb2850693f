package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tzafon/warmpool/internal/child"
	"github.com/tzafon/warmpool/internal/health"
	"github.com/tzafon/warmpool/internal/httpproxy"
	"github.com/tzafon/warmpool/internal/instancepb"
	"github.com/tzafon/warmpool/internal/logging"
	"github.com/tzafon/warmpool/internal/sysmetrics"
	"github.com/tzafon/warmpool/internal/transport"
)

const instanceIDPrefix = "browser-container"

func main() {
	var clientCfg transport.ClientConfig
	clientCfg.RegisterClientFlags(flag.CommandLine)
	chromeBinaryPath := flag.String("chrome-binary-path", "", "path to the Chrome binary")
	cdpPort := flag.Int("cdp-port", 9222, "port the CDP gateway listens on")
	automationPort := flag.Int("automation-port", 1337, "port the automation helper listens on")
	automationPath := flag.String("automation-binary-path", "/app/tzafonwright", "automation helper directory")
	ipAddress := flag.String("ip-address", "", "address to publish; autodetected when empty")
	debugLog := flag.Bool("debug-log", false, "enable debug logging")
	flag.Parse()

	logger, err := logging.New(*debugLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if *chromeBinaryPath == "" {
		logging.Error("--chrome-binary-path is required")
		os.Exit(1)
	}

	instanceID := fmt.Sprintf("%s-%s", instanceIDPrefix, uuid.New())
	logging.Info("Starting browser container", zap.String("instance_id", instanceID))

	ip := *ipAddress
	if ip == "" {
		ip, err = detectIPAddress()
		if err != nil {
			logging.Error("Failed to detect IP address", zap.Error(err))
			os.Exit(1)
		}
	}
	logging.Info("Publishing services", zap.String("ip", ip))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// A child dying on its own takes the whole container down.
	childExited := make(chan error, 2)
	exited := func(err error) { childExited <- err }
	g.Go(func() error {
		select {
		case err := <-childExited:
			return fmt.Errorf("child process exited: %w", err)
		case <-ctx.Done():
			return nil
		}
	})

	devtoolsURL, err := child.StartChrome(ctx, *chromeBinaryPath, exited, logger)
	if err != nil {
		logging.Error("Failed to start Chrome", zap.Error(err))
		os.Exit(1)
	}
	if err := child.StartTzafonwright(ctx, *automationPath, devtoolsURL, *automationPort, exited, logger); err != nil {
		logging.Error("Failed to start automation helper", zap.Error(err))
		os.Exit(1)
	}

	// Front Chrome's ephemeral DevTools endpoint on the fixed CDP port.
	devtools, err := url.Parse(devtoolsURL)
	if err != nil || devtools.Host == "" {
		logging.Error("Bad DevTools URL", zap.String("url", devtoolsURL), zap.Error(err))
		os.Exit(1)
	}
	gateway := httpproxy.NewGateway(
		fmt.Sprintf("0.0.0.0:%d", *cdpPort),
		&httpproxy.StaticBackend{
			Addr: devtools.Host,
			Rewrite: httpproxy.Rewrite{
				Path:    httpproxy.ReplacePath(devtools.Path),
				Headers: []httpproxy.Header{{Name: "Host", Value: devtools.Host}},
			},
		},
		nil,
		logger,
	)
	g.Go(func() error { return gateway.Run(ctx) })
	g.Go(func() error { return health.NewEndpointProbe(devtools.Host, logger).Run(ctx) })

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
	if err := health.Register(ctx, try, &instancepb.InstanceDescription{
		InstanceID:   instanceID,
		InstanceType: instancepb.TypeChromeBrowser,
		Services: &instancepb.Services{
			ChromeDebug: fmt.Sprintf("%s:%d", ip, *cdpPort),
			Automation:  fmt.Sprintf("%s:%d", ip, *automationPort),
		},
	}); err != nil {
		logging.Error("Registration failed", zap.Error(err))
		os.Exit(1)
	}

	g.Go(func() error { return health.NewLoop(try, instanceID, logger).Run(ctx) })
	g.Go(func() error {
		return sysmetrics.NewLoop(instancepb.NewPostClient(conn), instanceID, logger).Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logging.Error("Browser container failed", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("Browser container stopped")
}

// detectIPAddress returns the first global unicast IPv4 address.
func detectIPAddress() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no routable IPv4 address found")
}
