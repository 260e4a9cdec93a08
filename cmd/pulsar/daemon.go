package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/api"
	"github.com/oriys/pulsar/internal/circuitbreaker"
	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/codec"
	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/dispatch"
	"github.com/oriys/pulsar/internal/grpc"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/pkg/vsock"
	"github.com/oriys/pulsar/internal/sample"
	"github.com/oriys/pulsar/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr  string
		grpcAddr  string
		advertise string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Pulsar daemon",
		Long:  "Serve actions to peers over gRPC, HTTP and framed streams, and expose the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("grpc") {
				cfg.Daemon.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("advertise") {
				cfg.Cluster.Advertise = advertise
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC address")
	cmd.Flags().StringVar(&advertise, "advertise", "", "Address peers reach this daemon on")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Peer:        cfg.Cluster.Advertise,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
	}

	callLog := logging.Default()
	if cfg.Daemon.CallLogFile != "" {
		if err := callLog.SetOutput(cfg.Daemon.CallLogFile); err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
		callLog.SetConsole(false)
	}
	defer callLog.Close()

	wireCodec, err := codec.ByName(cfg.Dispatch.Codec)
	if err != nil {
		return err
	}

	// Caller-side registry
	reg := action.NewRegistry()
	if isRemote(cfg, sample.ActionName) {
		err = sample.RegisterRemote(reg)
	} else {
		err = sample.Register(reg)
	}
	if err != nil {
		return fmt.Errorf("register actions: %w", err)
	}
	reg.Seal()
	recordRegistered(reg)

	// Actions served to peers
	peer := cluster.NewServer(
		cluster.WithServerCodec(wireCodec),
		cluster.WithServerTimeout(cfg.Cluster.ServerTimeout),
		cluster.WithServerLogger(callLog),
	)
	if err := sample.Serve(peer); err != nil {
		return fmt.Errorf("serve actions: %w", err)
	}
	peer.Seal()
	metrics.SetRegisteredActions(cluster.RouteServed, len(peer.Actions()))

	dir, err := openDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer dir.close()

	breakers := cluster.NewBreakerTransport(cluster.Dial(cluster.TransportOptions{
		Timeout: cfg.Cluster.DialTimeout,
	}), circuitbreaker.Config{
		ErrorPct:       cfg.Cluster.Breaker.ErrorPct,
		MinRequests:    cfg.Cluster.Breaker.MinRequests,
		WindowDuration: cfg.Cluster.Breaker.Window,
		OpenDuration:   cfg.Cluster.Breaker.OpenDuration,
		HalfOpenTrials: cfg.Cluster.Breaker.HalfOpenTrials,
	})
	transport := cluster.NewBalancedTransport(breakers)
	proxy := cluster.NewProxy(reg, transport, wireCodec)
	client := dispatch.New(reg,
		dispatch.WithRemoteInvoker(cluster.NewRemoteInvoker(proxy, reg, dir.resolver)),
		dispatch.WithDefaultTimeout(cfg.Dispatch.DefaultTimeout),
		dispatch.WithLogger(callLog),
	)

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched = scheduler.New(client, cfg.Schedule.Timeout)
		if err := sched.Add(cfg.Schedule.Spec, cfg.Schedule.Name); err != nil {
			return err
		}
	}

	checks := map[string]api.HealthCheck{}
	if dir.check != nil {
		checks["directory"] = dir.check
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	var grpcServer *grpc.Server
	if cfg.Daemon.GRPCAddr != "" {
		grpcServer = grpc.NewServer(peer)
		lis, err := net.Listen("tcp", cfg.Daemon.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		logging.Op().Info("gRPC server started", "addr", lis.Addr().String())
		g.Go(func() error { return grpcServer.Serve(lis) })
	}

	var httpServer *http.Server
	if cfg.Daemon.HTTPAddr != "" {
		httpServer = api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
			Client:    client,
			Peer:      peer,
			Scheduler: sched,
			Breakers:  breakers,
			Checks:    checks,
		})
	}

	if cfg.Daemon.StreamAddr != "" {
		lis, err := net.Listen("tcp", cfg.Daemon.StreamAddr)
		if err != nil {
			return fmt.Errorf("listen stream: %w", err)
		}
		logging.Op().Info("stream server started", "addr", lis.Addr().String())
		g.Go(func() error { return peer.ServeStream(gctx, lis) })
	}

	if cfg.Daemon.VsockPort != 0 {
		lis, err := vsock.Listen(cfg.Daemon.VsockPort)
		if err != nil {
			return fmt.Errorf("listen vsock: %w", err)
		}
		logging.Op().Info("vsock server started", "port", cfg.Daemon.VsockPort)
		g.Go(func() error { return peer.ServeStream(gctx, lis) })
	}

	if sched != nil {
		sched.Start()
	}

	if cfg.Cluster.Advertise != "" {
		if err := dir.Announce(ctx, cfg.Cluster.Advertise, peer.Actions()...); err != nil {
			logging.Op().Error("failed to announce actions", "peer", cfg.Cluster.Advertise, "error", err)
			stop()
			g.Wait()
			return fmt.Errorf("announce actions: %w", err)
		}
		logging.Op().Info("announced actions", "peer", cfg.Cluster.Advertise, "actions", len(peer.Actions()))
	}

	logging.Op().Info("Pulsar daemon started", "actions", reg.Len(), "served", len(peer.Actions()))

	g.Go(func() error {
		<-gctx.Done()
		logging.Op().Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
		defer cancel()

		if cfg.Cluster.Advertise != "" {
			if err := dir.Withdraw(shutdownCtx, cfg.Cluster.Advertise, peer.Actions()...); err != nil {
				logging.Op().Warn("failed to withdraw actions", "error", err)
			}
		}
		if sched != nil {
			sched.Stop()
		}
		if httpServer != nil {
			httpServer.Shutdown(shutdownCtx)
		}
		if grpcServer != nil {
			grpcServer.Stop()
		}
		transport.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func recordRegistered(reg *action.Registry) {
	var local, remote int
	for _, id := range reg.Names() {
		entry, _ := reg.Lookup(id)
		if entry.Remote() {
			remote++
			continue
		}
		local++
	}
	metrics.SetRegisteredActions(metrics.RouteLocal, local)
	metrics.SetRegisteredActions(metrics.RouteRemote, remote)
}
