package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// TestTraceHandler_NoSpanContext verifies that logs without span context
// do NOT include trace_id or span_id fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{})
	logger := slog.New(NewTraceHandler(jsonHandler))

	logger.InfoContext(context.Background(), "test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if _, exists := logEntry["trace_id"]; exists {
		t.Errorf("trace_id should not be present in logs without span context, got: %v", logEntry["trace_id"])
	}
	if _, exists := logEntry["span_id"]; exists {
		t.Errorf("span_id should not be present in logs without span context, got: %v", logEntry["span_id"])
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got: %v", logEntry["key"])
	}
}

// spanStub carries a fixed, valid span context so the handler has something
// to extract.
type spanStub struct {
	trace.Span
	spanContext trace.SpanContext
}

func (s *spanStub) SpanContext() trace.SpanContext { return s.spanContext }

func (s *spanStub) End(...trace.SpanEndOption) {}

func validSpanContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatalf("failed to build trace ID: %v", err)
	}
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatalf("failed to build span ID: %v", err)
	}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	return trace.ContextWithSpan(context.Background(), &spanStub{spanContext: spanCtx})
}

// TestTraceHandler_WithValidSpan verifies that logs carrying a valid span
// context include trace_id and span_id fields.
func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{})
	logger := slog.New(NewTraceHandler(jsonHandler))

	logger.InfoContext(validSpanContext(t), "test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if got := logEntry["trace_id"]; got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected trace_id='4bf92f3577b34da6a3ce929d0e0e4736', got: %v", got)
	}
	if got := logEntry["span_id"]; got != "00f067aa0ba902b7" {
		t.Errorf("expected span_id='00f067aa0ba902b7', got: %v", got)
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", logEntry["msg"])
	}
}

// TestTraceHandler_Enabled verifies that Enabled delegates to inner handler.
func TestTraceHandler_Enabled(t *testing.T) {
	jsonHandler := slog.NewJSONHandler(nil, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	traceHandler := NewTraceHandler(jsonHandler)

	ctx := context.Background()

	if traceHandler.Enabled(ctx, slog.LevelInfo) {
		t.Errorf("expected Info level to be disabled when handler level is Warn")
	}
	if !traceHandler.Enabled(ctx, slog.LevelWarn) {
		t.Errorf("expected Warn level to be enabled")
	}
	if !traceHandler.Enabled(ctx, slog.LevelError) {
		t.Errorf("expected Error level to be enabled")
	}
}

// TestTraceHandler_WithAttrs verifies that WithAttrs returns a new TraceHandler.
func TestTraceHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{})
	traceHandler := NewTraceHandler(jsonHandler)

	newHandler := traceHandler.WithAttrs([]slog.Attr{slog.String("component", "test")})

	if _, ok := newHandler.(*TraceHandler); !ok {
		t.Errorf("WithAttrs should return *TraceHandler, got: %T", newHandler)
	}

	slog.New(newHandler).InfoContext(context.Background(), "test")

	output := buf.String()
	if !strings.Contains(output, "component") || !strings.Contains(output, "test") {
		t.Errorf("expected attributes to be present in output, got: %s", output)
	}
}

// TestTraceHandler_WithGroup verifies that WithGroup returns a new TraceHandler.
func TestTraceHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{})
	traceHandler := NewTraceHandler(jsonHandler)

	newHandler := traceHandler.WithGroup("mygroup")

	if _, ok := newHandler.(*TraceHandler); !ok {
		t.Errorf("WithGroup should return *TraceHandler, got: %T", newHandler)
	}

	slog.New(newHandler).InfoContext(context.Background(), "test", "key", "value")

	if output := buf.String(); !strings.Contains(output, "mygroup") {
		t.Errorf("expected group to be present in output, got: %s", output)
	}
}

// TestTraceHandler_NilHandler verifies that NewTraceHandler panics with nil handler.
func TestTraceHandler_NilHandler(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("NewTraceHandler with nil handler should panic")
		}
	}()

	NewTraceHandler(nil)
}

// TestLoggerFromContext verifies the round trip through WithLogger and the
// slog.Default fallback when nothing is stored.
func TestLoggerFromContext(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFromContext(ctx); got != logger {
		t.Errorf("expected stored logger to be returned, got: %v", got)
	}
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Errorf("expected slog.Default() for bare context, got: %v", got)
	}
}
