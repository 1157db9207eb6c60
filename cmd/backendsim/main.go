package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"aivision/internal/testbackend"
	"aivision/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	delay := flag.Duration("inference-delay", 40*time.Millisecond, "simulated inference time per frame")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	_ = godotenv.Load()

	zapLogger := logger.NewWithOptions(logger.Options{Level: *level, Format: "console"})
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	gin.SetMode(gin.ReleaseMode)
	backend := testbackend.New(testbackend.Options{InferenceDelay: *delay}, log.Named("backendsim"))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("simulated detection backend on %s (websocket /ws, REST /api)", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	backend.DropConnections()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown failed", "error", err)
	}

	stats := backend.Stats()
	log.Infow("backend stopped",
		"connections", stats.Connections,
		"frames", stats.FramesReceived,
		"total_detections", stats.Session.TotalDetections,
	)
}
