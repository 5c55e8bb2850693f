package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/tzafon/warmpool/internal/config"
	"github.com/tzafon/warmpool/internal/instancepb"
	"github.com/tzafon/warmpool/internal/logging"
	"github.com/tzafon/warmpool/internal/metrics"
	"github.com/tzafon/warmpool/internal/registry"
	"github.com/tzafon/warmpool/internal/statuspage"
	"github.com/tzafon/warmpool/internal/transport"
)

func main() {
	var serverCfg transport.ServerConfig
	serverCfg.RegisterServerFlags(flag.CommandLine)
	statusPagePort := flag.Int("status-page-port", 4242, "status page HTTP port")
	debugLog := flag.Bool("debug-log", false, "enable debug logging")
	logFile := flag.String("log-file", "", "optional rotating log file path")
	configPath := flag.String("config", "", "optional YAML config file; explicit flags take precedence")
	flag.Parse()

	if *configPath != "" {
		if err := applyConfigFile(*configPath, &serverCfg, statusPagePort, debugLog, logFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := newLogger(*debugLog, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting instance manager",
		zap.Int("port", serverCfg.Port),
		zap.Int("status_page_port", *statusPagePort),
		zap.String("proto_version", instancepb.ProtoVersion),
	)

	reloader, err := transport.NewCertReloader(serverCfg.CertPath, serverCfg.KeyPath, logger)
	if err != nil {
		logging.Error("Failed to load TLS material", zap.Error(err))
		os.Exit(1)
	}
	tlsCfg, err := transport.ServerTLSConfigWithReloader(serverCfg.CAPath, reloader)
	if err != nil {
		logging.Error("Failed to load TLS material", zap.Error(err))
		os.Exit(1)
	}

	store := registry.NewStore(nil, logger)
	service := registry.NewService(store)
	reaper := registry.NewReaper(store, logger)
	collector := metrics.NewCollector()
	status := statuspage.NewServer(store, nil, logger)
	status.Metrics = collector

	grpcServer := grpc.NewServer(transport.ServerOptions(tlsCfg, metrics.UnaryServerInterceptor(collector))...)
	instancepb.RegisterTryServer(grpcServer, service)
	instancepb.RegisterPostServer(grpcServer, service)
	instancepb.RegisterGetServer(grpcServer, service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", serverCfg.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		go func() {
			<-ctx.Done()
			grpcServer.GracefulStop()
		}()
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		reaper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return status.Run(ctx, fmt.Sprintf("0.0.0.0:%d", *statusPagePort))
	})
	g.Go(func() error {
		return reloader.Watch(ctx)
	})

	if err := g.Wait(); err != nil {
		logging.Error("Instance manager failed", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("Instance manager stopped")
}

// applyConfigFile fills in every setting the user did not pass as an
// explicit flag from the YAML file.
func applyConfigFile(path string, serverCfg *transport.ServerConfig, statusPagePort *int, debugLog *bool, logFile *string) error {
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["port"] {
		serverCfg.Port = cfg.Port
	}
	if !set["status-page-port"] {
		*statusPagePort = cfg.StatusPagePort
	}
	if !set["ca-path"] {
		serverCfg.CAPath = cfg.TLS.CAFile
	}
	if !set["cert-path"] {
		serverCfg.CertPath = cfg.TLS.CertFile
	}
	if !set["key-path"] {
		serverCfg.KeyPath = cfg.TLS.KeyFile
	}
	if !set["debug-log"] {
		*debugLog = cfg.Log.Debug
	}
	if !set["log-file"] {
		*logFile = cfg.Log.File
	}
	return nil
}

func newLogger(debug bool, file string) (*zap.Logger, error) {
	if file != "" {
		return logging.NewWithFile(debug, file)
	}
	return logging.New(debug)
}
