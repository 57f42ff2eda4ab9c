package server

import (
	"context"
	"net/http"
	"testing"

	"orchestra/internal/destination"
	"orchestra/internal/message"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otelapi.GetTracerProvider()
	otelapi.SetTracerProvider(provider)
	t.Cleanup(func() {
		otelapi.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestHandleMessageRecordsSpan(t *testing.T) {
	recorder := installSpanRecorder(t)
	srv := New(Options{})
	srv.RegisterClient("client-a", &captureSender{}, "")

	srv.HandleMessage(context.Background(), "client-a",
		encodeFrame(t, "tool", destination.Conductor, message.TypeConductorQuery, map[string]any{"q": "status"}))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != frameSpanName {
		t.Fatalf("expected span %q, got %q", frameSpanName, spans[0].Name())
	}
	found := false
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "message.type" && attr.Value.AsString() == string(message.TypeConductorQuery) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected message.type attribute, got %v", spans[0].Attributes())
	}
}

func TestSanitizeWSTargetDropsToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://localhost/ws?clientId=agent-1&token=secret", nil)
	target := sanitizeWSTarget(req)
	if target != "/ws?clientId=agent-1" {
		t.Fatalf("unexpected target %q", target)
	}
}

func TestWSSpanAttributesIncludeRoute(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://localhost/ws", nil)
	attrs := wsSpanAttributes(req, wsRoute)
	want := attribute.String("http.route", wsRoute)
	for _, attr := range attrs {
		if attr == want {
			return
		}
	}
	t.Fatalf("expected %v in %v", want, attrs)
}
