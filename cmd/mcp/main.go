package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/dunamismax/pixelconvert/internal/config"
	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/mcpserver"
	"github.com/dunamismax/pixelconvert/internal/telemetry"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the MCP protocol.
	logger := log.New(os.Stderr, "[mcp] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelconvert-mcp",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		Writer:       os.Stderr,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := convert.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer convert.Shutdown()

	converter, err := convert.NewConverter(convert.Options{
		StagingDir:     cfg.Convert.StagingDir,
		DefaultQuality: cfg.Convert.DefaultQuality,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatalf("converter init failed: %v", err)
	}

	logger.Printf("serving stdio version=%s staging_dir=%s", version, cfg.Convert.StagingDir)
	if err := mcpserver.New(converter, logger, version).ServeStdio(); err != nil {
		logger.Printf("stdio server stopped: %v", err)
	}
}
