package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"
	"aivision/internal/core/services"
	httphandlers "aivision/internal/handlers/http"
	"aivision/internal/infrastructure/capture"
	"aivision/internal/infrastructure/codec"
	"aivision/internal/infrastructure/connection"
	"aivision/internal/infrastructure/middleware"
	"aivision/internal/infrastructure/monitoring"
	"aivision/internal/infrastructure/restapi"
	"aivision/pkg/config"
	"aivision/pkg/logger"
	"aivision/pkg/retry"
	"aivision/pkg/tracing"
	"aivision/pkg/utils"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	exportFormat := flag.String("export", "", "download an export (json, csv, images) and exit")
	outDir := flag.String("out", ".", "directory for -export output")
	modelPath := flag.String("upload-model", "", "upload a model file to the backend and exit")
	flag.Parse()

	// .env is optional outside development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "aivision-client",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warnw("tracing shutdown failed", "error", err)
		}
	}()

	var api *restapi.Client
	if cfg.API.BaseURL != "" {
		api = restapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout, log.Named("restapi"))
	}

	if *exportFormat != "" || *modelPath != "" {
		if api == nil {
			log.Fatal("api.base_url is required for -export and -upload-model")
		}
		if err := runOneShot(api, *exportFormat, *outDir, *modelPath, log); err != nil {
			log.Fatalw("request failed", "error", err)
		}
		return
	}

	if err := run(cfg, api, log); err != nil {
		log.Fatalw("vision client failed", "error", err)
	}
}

func runOneShot(api *restapi.Client, format, outDir, modelPath string, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if modelPath != "" {
		f, err := os.Open(modelPath)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := api.UploadModel(ctx, filepath.Base(modelPath), f)
		if err != nil {
			return err
		}
		color.Green("model %s uploaded (%d bytes)", info.Name, info.Size)
	}

	if format != "" {
		export, err := api.Export(ctx, format)
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, export.Filename)
		if err := os.WriteFile(path, export.Data, 0o644); err != nil {
			return err
		}
		log.Infow("export saved", "path", path, "bytes", len(export.Data))
	}
	return nil
}

func run(cfg *config.Config, api *restapi.Client, log *zap.SugaredLogger) error {
	clientID := domain.ClientID(utils.GenerateClientID())
	log = log.With("client_id", clientID)

	var stats ports.StatsRecorder
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
		stats = collector
	}

	connOpts := connection.DefaultOptions()
	connOpts.ClientID = clientID
	connOpts.HandshakeTimeout = cfg.Backend.HandshakeTimeout
	connOpts.WriteTimeout = cfg.Backend.WriteTimeout
	connOpts.PingInterval = cfg.Backend.PingInterval
	connOpts.PongTimeout = cfg.Backend.PongTimeout
	connOpts.MaxMessageBytes = cfg.Backend.MaxMessageBytes
	connOpts.CommandQueueSize = cfg.Backend.CommandQueueSize
	connOpts.Reconnect = retry.Config{
		Enabled:      cfg.Backend.Reconnect.Enabled,
		MaxAttempts:  cfg.Backend.Reconnect.MaxAttempts,
		InitialDelay: cfg.Backend.Reconnect.InitialDelay,
		MaxDelay:     cfg.Backend.Reconnect.MaxDelay,
		Multiplier:   cfg.Backend.Reconnect.Multiplier,
		Jitter:       cfg.Backend.Reconnect.Jitter,
	}
	conn := connection.NewManager(connOpts, stats, log.Named("connection"))

	wire := codec.New(codec.Options{
		Encoding:     codec.Encoding(cfg.Stream.Encoding),
		ImageDataURL: cfg.Stream.ImageDataURL,
	})

	var publisher ports.ConfigPublisher
	if api != nil {
		publisher = api
	}

	client := services.NewVisionClient(conn, wire, publisher, stats, cfg.Detection, services.ClientOptions{
		ClientID:        clientID,
		CaptureInterval: cfg.Stream.CaptureInterval,
		TickInterval:    cfg.Stream.TickInterval,
		Throttle: services.ThrottlerConfig{
			ResultTimeout: cfg.Stream.ResultTimeout,
			MaxSendRate:   cfg.Stream.MaxSendRate,
		},
		ForwardConfig: cfg.API.ForwardConfig && api != nil,
	}, log.Named("client"))
	defer client.Close()

	if collector != nil {
		client.Subscribe(collector.ObserveSnapshot)
	}
	client.Subscribe(newStatusLine().observe)

	source, err := capture.New(cfg)
	if err != nil {
		return fmt.Errorf("frame source: %w", err)
	}
	if source != nil {
		defer source.Close()
	}

	health := monitoring.NewHealthChecker()
	health.AddConnectionCheck(client.State)
	health.AddResultFreshnessCheck(client.Snapshot, 5*cfg.Stream.ResultTimeout)
	if api != nil {
		health.AddBackendAPICheck(api.Ping, 2*time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Status.Enabled {
		var metrics http.Handler
		if collector != nil {
			metrics = collector.Handler()
		}
		srv = &http.Server{
			Addr:         cfg.Status.Address,
			Handler:      statusRouter(cfg, client, health, metrics, log),
			ReadTimeout:  cfg.Status.ReadTimeout,
			WriteTimeout: cfg.Status.WriteTimeout,
		}
		go func() {
			log.Infof("status API listening on %s", cfg.Status.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	if cfg.Backend.AutoConnect {
		if err := client.Connect(cfg.Backend.Address); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, source) }()

	select {
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("status API: %w", err)
	case err := <-runErr:
		if err != nil {
			return err
		}
		if ctx.Err() == nil {
			log.Info("capture finished, waiting for shutdown signal")
			<-ctx.Done()
		}
	case <-ctx.Done():
		<-runErr
	}

	log.Info("shutting down vision client")
	client.Close()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Status.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("status API shutdown failed", "error", err)
			srv.Close()
		}
	}

	snap := client.Snapshot()
	log.Infow("session summary",
		"total_detections", snap.Session.TotalDetections,
		"captured_images", snap.Session.CapturedImages,
		"session_duration", utils.FormatDuration(time.Duration(snap.Metrics.SessionDuration*float64(time.Second))),
	)
	return nil
}

func statusRouter(
	cfg *config.Config,
	client ports.VisionService,
	health *monitoring.HealthChecker,
	metrics http.Handler,
	log *zap.SugaredLogger,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(logger.NewContextLogger(log.Desugar())),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)
	httphandlers.NewStatusHandler(client, health, metrics, log.Named("status")).SetupRoutes(router)
	return router
}

// statusLine prints a colored connection indicator whenever the state changes.
type statusLine struct {
	mu   sync.Mutex
	last domain.ConnectionState
	seen bool
}

func newStatusLine() *statusLine {
	return &statusLine{}
}

func (s *statusLine) observe(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen && snap.Connection == s.last {
		return
	}
	s.seen = true
	s.last = snap.Connection

	switch snap.Connection {
	case domain.StateConnected:
		color.Green("● %s", snap.Connection)
	case domain.StateConnecting, domain.StateReconnecting:
		color.Yellow("● %s", snap.Connection)
	default:
		color.Red("● %s", snap.Connection)
	}
}
