package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pathfinder/common"
	"pathfinder/config"
	"pathfinder/controller"
	"pathfinder/etcd"
	"pathfinder/metrics"
	"pathfinder/packet_in"
	"pathfinder/provisioner"
	"pathfinder/routing"
	"pathfinder/southbound"
	"pathfinder/switches"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	var configPath, logLevel string

	rootCmd := &cobra.Command{
		Use:           "pathfinder",
		Short:         "Proactive shortest-path flow controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "pathfinder.toml", "path to the toml config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("pathfinder exited, err: %v", err)
	}
}

// setupLogging sends logs to stdout and a rotated file
func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir %s: %w", cfg.Dir, err)
	}
	logFile := filepath.Join(cfg.Dir, "pathfinder.log")
	fileLogger := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(level)

	log.Infof("Logging initialized: file=%s, stdout=enabled, level=%s", logFile, level)
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if info, err := metrics.CollectHostInfo(); err != nil {
		log.Warningf("run, collect host info failed, err: %v", err)
	} else {
		log.Infof("run, host: %s, platform: %s %s, cores: %d", info.Hostname, info.Platform, info.PlatformVersion, info.Cores)
	}

	pool, err := common.NewPool(common.PoolConfig{MaxWorkers: cfg.Routing.Workers})
	if err != nil {
		return err
	}
	defer pool.Release()

	source, err := etcd.NewTopologySource(etcd.EtcdConfig{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout.Duration,
		Prefix:      cfg.Etcd.Prefix,
	})
	if err != nil {
		return err
	}
	defer source.Close()

	registry := switches.NewRegistry()
	registry.OnChange = func(count int) {
		metrics.SwitchesRegistered.Set(float64(count))
	}

	manager := common.NewTopologyManager()
	prov := provisioner.New(registry, routing.SelectorByName(cfg.Routing.Selector), provisioner.RuleOptions{
		Priority:    cfg.Rules.Priority,
		IdleTimeout: cfg.Rules.IdleTimeout,
		HardTimeout: cfg.Rules.HardTimeout,
	})
	router := packetin.NewRouter(registry, manager, prov, packetin.NewLearningTable(cfg.PacketIn.LearningTTL.Duration))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	loop := controller.NewPollLoop(source, manager, routing.NewPathTableBuilder(pool), cfg.Controller.PollPeriod.Duration)
	loop.OnRebuild = func(snap *common.Snapshot) {
		log.Infof("run, path table v%d ready, pairs: %d", snap.Version, len(snap.Paths))
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}
	loop.OnTick = func() {
		if err := metrics.ObserveHost(); err != nil {
			log.Debugf("run, observe host failed, err: %v", err)
		}
	}

	sb := southbound.NewServer(southbound.DefaultSmuxConfig())
	sb.OnStateChange = registry.OnStateChange
	sb.OnPacketIn = router.HandlePacketIn

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sb.ListenAndServe(gctx, cfg.Southbound.ListenAddr)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	g.Go(func() error {
		log.Infof("run, metrics listening on %s", cfg.Metrics.ListenAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	healthListener, err := net.Listen("tcp", cfg.Health.ListenAddr)
	if err != nil {
		return fmt.Errorf("health listen on %s: %w", cfg.Health.ListenAddr, err)
	}
	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	g.Go(func() error {
		log.Infof("run, health service listening on %s", healthListener.Addr())
		return grpcServer.Serve(healthListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})

	log.Infof("pathfinder init success, poll period: %v, selector: %s", cfg.Controller.PollPeriod.Duration, cfg.Routing.Selector)
	err = g.Wait()
	log.Infof("pathfinder stopped")
	return err
}
