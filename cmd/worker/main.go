package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelconvert/internal/config"
	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/storage"
	"github.com/dunamismax/pixelconvert/internal/store"
	"github.com/dunamismax/pixelconvert/internal/telemetry"
	"github.com/dunamismax/pixelconvert/internal/webhook"
	"github.com/dunamismax/pixelconvert/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelconvert-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := convert.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer convert.Shutdown()

	converter, err := convert.NewConverter(convert.Options{
		StagingDir:     cfg.Convert.StagingDir,
		DefaultQuality: cfg.Convert.DefaultQuality,
		Logger:         log.New(os.Stdout, "[convert] ", log.LstdFlags|log.Lmsgprefix),
	})
	if err != nil {
		logger.Fatalf("converter init failed: %v", err)
	}

	batchStore, closeStore, err := store.Open(context.Background(), cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("batch store init failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("batch store close error: %v", err)
		}
	}()

	opts := worker.Options{
		BatchStore: batchStore,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.Secret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   cfg.Webhook.MaxRetries + 1,
		}),
	}
	if cfg.Worker.PublishOutputs {
		publisher, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage client init failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = publisher.EnsureBucket(ctx)
		cancel()
		if err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
		opts.Publisher = publisher
		logger.Printf("publishing outputs bucket=%s", publisher.Bucket())
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, converter, opts)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_batches=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveBatches,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			logger.Printf("worker failed: %v", err)
		}
	case <-stop:
		logger.Println("shutting down")
		srv.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
