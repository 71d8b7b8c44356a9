// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package telemetry configures OpenTelemetry tracing for patch
// application.
package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "ilpatch"

// Config holds OpenTelemetry configuration
type Config struct {
	Enabled     bool
	ExporterURL string
	ServiceName string
	Version     string
}

// Init installs a global tracer provider exporting over OTLP/HTTP. The
// returned function flushes and stops it. With tracing disabled both are
// no-ops. The exporter connects lazily, so an unreachable collector does
// not fail Init.
func Init(ctx context.Context, config Config) (func(), error) {
	if !config.Enabled {
		return func() {}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if strings.Contains(config.ExporterURL, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(config.ExporterURL))
	} else if config.ExporterURL != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(config.ExporterURL))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	name := config.ServiceName
	if name == "" {
		name = tracerName
	}
	ver := config.Version
	if ver == "" {
		ver = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(ver),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the ilpatch tracer of the global provider.
func GetTracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// MethodAttr tags a span with the method being patched.
func MethodAttr(name string) attribute.KeyValue {
	return attribute.String("ilpatch.method", name)
}

// OwnersAttr tags a span with the owners of the applied hooks.
func OwnersAttr(owners []string) attribute.KeyValue {
	return attribute.StringSlice("ilpatch.owners", owners)
}

// GenerationAttr tags a span with a replacement generation.
func GenerationAttr(n int) attribute.KeyValue {
	return attribute.Int("ilpatch.generation", n)
}

// End records err on span, if any, and ends it.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
