// Package otel installs the OpenTelemetry tracer provider that the server's
// websocket and frame spans report to.
package otel

import (
	"context"
	"errors"
	"os"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	DefaultServiceName  = "orchestra"
	DefaultHTTPEndpoint = "localhost:4318"
)

type SDKOptions struct {
	Enabled            bool
	HTTPEndpoint       string
	ServiceName        string
	ServiceVersion     string
	ResourceAttributes map[string]string
}

// ShutdownFunc flushes buffered spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// SetupSDK installs a batching OTLP/HTTP tracer provider and the W3C
// propagators. When disabled the global no-op provider stays in place and
// the returned shutdown does nothing.
func SetupSDK(ctx context.Context, options SDKOptions) (ShutdownFunc, error) {
	if !options.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	endpoint := normalizeEndpoint(options.HTTPEndpoint)
	if endpoint == "" {
		endpoint = DefaultHTTPEndpoint
	}
	serviceName := strings.TrimSpace(options.ServiceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	resourceAttrs := []attribute.KeyValue{
		attribute.String("service.name", serviceName),
	}
	if strings.TrimSpace(options.ServiceVersion) != "" {
		resourceAttrs = append(resourceAttrs, attribute.String("service.version", options.ServiceVersion))
	}
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		resourceAttrs = append(resourceAttrs, attribute.String("host.name", host))
	}
	for key, value := range options.ResourceAttributes {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		resourceAttrs = append(resourceAttrs, attribute.String(trimmedKey, value))
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(resourceAttrs...))
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	previous := otelapi.GetTracerProvider()
	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(shutdownCtx context.Context) error {
		var shutdownErr error
		if err := tracerProvider.ForceFlush(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
		otelapi.SetTracerProvider(previous)
		return shutdownErr
	}, nil
}

// ParseResourceAttributes reads "k=v,k2=v2". Malformed pairs are skipped.
func ParseResourceAttributes(raw string) map[string]string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	attributes := make(map[string]string)
	for _, pair := range strings.Split(trimmed, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		attributes[key] = strings.TrimSpace(parts[1])
	}
	if len(attributes) == 0 {
		return nil
	}
	return attributes
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	endpoint = strings.TrimSuffix(endpoint, "/")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}
