// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/aiclient"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/config"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/janitor"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/logging"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/registry"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/relay"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/resolver"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/routes"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/store"
	"github.com/itsoYang/rimag-assistant-platform/services/assistant/tracker"
)

const serviceName = "assistant-server"

// initTracer wires OTLP export when a collector endpoint is configured.
// Without one the service runs with tracing disabled rather than failing.
func initTracer() (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing export disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger, closeLogs, err := logging.Setup(logging.Config{
		Service: serviceName,
		Dir:     os.Getenv("ASSISTANT_LOG_DIR"),
	})
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer func() { _ = closeLogs() }()

	cfgPath := os.Getenv("ASSISTANT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	slog.Info("database ready", "driver", cfg.Database.Driver)

	reg := registry.New(st, logger)
	res := resolver.New(st, time.Duration(cfg.Relay.ResolverWindowMinutes)*time.Minute, logger)
	trk := tracker.New(st, logger)
	rel := relay.New(cfg.AIService, aiclient.New(cfg.AIService), res, trk, reg, st, logger)

	jn := janitor.New(cfg.Retention, st, logger)
	if err := jn.Start(); err != nil {
		log.Fatalf("failed to start janitor: %v", err)
	}
	defer jn.Stop()

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.Setup(router, cfg, st, reg, rel)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting assistant server", "addr", addr, "ai_service", cfg.AIService.BaseURL)
	if err := router.Run(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
