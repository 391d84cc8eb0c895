package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/internal/core/services"
	"depthcap/internal/infrastructure/codec"
	"depthcap/internal/infrastructure/device"
	"depthcap/internal/infrastructure/middleware"
	"depthcap/internal/infrastructure/monitoring"
	"depthcap/internal/infrastructure/recorder"
	repositories "depthcap/internal/infrastructure/repositories"
	"depthcap/internal/infrastructure/spool"
	"depthcap/internal/infrastructure/transport"
	"depthcap/pkg/config"
	"depthcap/pkg/logger"
	"depthcap/pkg/retry"
	"depthcap/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [host-address]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}
	if host := flag.Arg(0); host != "" {
		cfg.Host.Address = host
	}

	role, err := domain.ParseRole(cfg.Camera.Role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid camera role: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "depthcap",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = nil
	}

	// Spool journal (Redis when enabled and reachable, memory otherwise)
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	journal := repoFactory.CreateSpoolJournal()

	// Monitoring
	var metrics ports.MetricsRecorder
	var metricsHandler http.Handler
	if cfg.Monitoring.PrometheusEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = monitoring.NewPrometheusCollector(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	hub := monitoring.NewEventHub(log.With("component", "events"))

	pngCodec := codec.NewPNGCodec()
	supervisor := services.NewSupervisor(services.SupervisorConfig{
		ControlAddress:  cfg.ControlAddress(),
		TransferAddress: cfg.TransferAddress(),
		DialTimeout:     cfg.Host.DialTimeout,
		DialAttempts:    cfg.Host.DialAttempts,
		Handshake: services.HandshakeConfig{
			Role:         role,
			DeviceIndex:  cfg.Camera.DeviceIndex,
			StartTimeout: cfg.Recorder.StartTimeout,
			Recorders: map[domain.Role]services.RecorderSpec{
				domain.RoleMaster: {
					Command:   cfg.Recorder.Master.Command,
					Checklist: cfg.Recorder.Master.Checklist,
				},
				domain.RoleSubordinate: {
					Command:   cfg.Recorder.Subordinate.Command,
					Checklist: cfg.Recorder.Subordinate.Checklist,
				},
			},
		},
		Session: services.SessionConfig{
			CaptureTimeout: cfg.Camera.CaptureTimeout,
			UploadInterval: cfg.Pipeline.UploadInterval,
			CameraCount:    cfg.Pipeline.DefaultCameraCount,
			RecoverOrphans: cfg.Spool.RecoverOrphans,
		},
		Reconnect: retry.Config{
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			Jitter:       cfg.Reconnect.Jitter,
		},
	}, services.SupervisorDeps{
		Dial:     dial,
		Opener:   device.NewSyntheticOpener(cfg.Camera.SyntheticCount, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS),
		Recorder: recorder.NewExecRecorder(cfg.Spool.Root),
		NewStore: func(serial string) ports.FrameStore {
			return spool.NewFileFrameStore(cfg.Spool.Root, serial, pngCodec)
		},
		Journal: journal,
		Metrics: metrics,
		Events:  hub,
		Logger:  zapLogger,
	})

	var statusServer *monitoring.StatusServer
	var statusErr <-chan error
	if cfg.Monitoring.StatusEnabled {
		health := monitoring.NewHealthChecker()
		health.AddJournalCheck(journal, 2*time.Second)
		health.AddSessionCheck(supervisor.Status, time.Minute)

		statusServer = monitoring.NewStatusServer(cfg.Monitoring.StatusAddress, health, hub,
			supervisor.Status, metricsHandler, log.With("component", "status"),
			middleware.Tracing(),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerSecond: cfg.Monitoring.RateLimit.RequestsPerSecond,
				Burst:             cfg.Monitoring.RateLimit.Burst,
				MaxConcurrent:     cfg.Monitoring.RateLimit.MaxConcurrent,
			}),
		)
		statusErr = statusServer.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting capture client",
		"role", role.String(),
		"control", cfg.ControlAddress(),
		"transfer", cfg.TransferAddress(),
		"spool_root", cfg.Spool.Root,
		"redis_journal", repoFactory.UsingRedis(),
	)

	supervisorDone := make(chan error, 1)
	go func() { supervisorDone <- supervisor.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-statusErr:
		log.Errorw("status server failed", "error", err)
		stop()
	}
	<-supervisorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during status server shutdown", "error", err)
		}
	}
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error shutting down tracer provider", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("capture client stopped")
}

// dial adapts transport.Dial to services.DialFunc without leaking a typed
// nil into the interface on failure.
func dial(ctx context.Context, addr string, timeout time.Duration, name string) (ports.MessageChannel, error) {
	ch, err := transport.Dial(ctx, addr, timeout, name)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
