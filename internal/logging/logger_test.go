package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
	}{
		{
			name:        "create logger with service name",
			serviceName: "test-service",
		},
		{
			name:        "create logger with empty service name",
			serviceName: "",
		},
		{
			name:        "create logger with complex service name",
			serviceName: "zekt-action-v1.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.serviceName)

			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if logger.service != tt.serviceName {
				t.Errorf("New() service = %q, want %q", logger.service, tt.serviceName)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{
			name:     "with trace context",
			hasTrace: true,
		},
		{
			name:     "without trace context",
			hasTrace: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test-service")
			ctx := context.Background()

			if tt.hasTrace {
				newCtx, span := otel.Tracer("test-tracer").Start(ctx, "test-span")
				ctx = newCtx
				defer span.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			if entry.Service != "test-service" {
				t.Errorf("WithContext() Service = %q, want %q", entry.Service, "test-service")
			}
			if entry.Time.Before(before) || entry.Time.After(after) {
				t.Errorf("WithContext() Time %v not between %v and %v", entry.Time, before, after)
			}
			if tt.hasTrace && entry.TraceID == "" {
				t.Error("WithContext() TraceID should not be empty with trace context")
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("WithContext() TraceID = %q, want empty string without trace", entry.TraceID)
			}
		})
	}
}

func TestLogger_WithFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{
			name:   "with string fields",
			fields: map[string]any{"key1": "value1", "key2": "value2"},
		},
		{
			name:   "with mixed type fields",
			fields: map[string]any{"count": 42, "active": true, "name": "test"},
		},
		{
			name:   "with nil fields",
			fields: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("test-service").WithFields(tt.fields)

			if tt.fields == nil {
				if entry.Fields != nil {
					t.Error("WithFields() Fields should be nil when input is nil")
				}
				return
			}
			if len(entry.Fields) != len(tt.fields) {
				t.Errorf("WithFields() Fields length = %d, want %d", len(entry.Fields), len(tt.fields))
			}
			for k, v := range tt.fields {
				if entry.Fields[k] != v {
					t.Errorf("WithFields() Fields[%q] = %v, want %v", k, entry.Fields[k], v)
				}
			}
		})
	}
}

func TestLogEntry_FluentMethods(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(*LogEntry) *LogEntry
		checkFn func(*testing.T, *LogEntry)
	}{
		{
			name: "WithTraceID",
			setupFn: func(e *LogEntry) *LogEntry {
				return e.WithTraceID("trace-123")
			},
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.TraceID != "trace-123" {
					t.Errorf("WithTraceID() TraceID = %q, want %q", e.TraceID, "trace-123")
				}
			},
		},
		{
			name: "WithRun",
			setupFn: func(e *LogEntry) *LogEntry {
				return e.WithRun(12345)
			},
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.RunID != 12345 {
					t.Errorf("WithRun() RunID = %d, want %d", e.RunID, 12345)
				}
			},
		},
		{
			name: "WithStep",
			setupFn: func(e *LogEntry) *LogEntry {
				return e.WithStep("build")
			},
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.StepID != "build" {
					t.Errorf("WithStep() StepID = %q, want %q", e.StepID, "build")
				}
			},
		},
		{
			name: "chained methods",
			setupFn: func(e *LogEntry) *LogEntry {
				return e.WithTraceID("trace-123").WithRun(7).WithStep("test").WithField("attempt", 2)
			},
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.TraceID != "trace-123" || e.RunID != 7 || e.StepID != "test" {
					t.Errorf("chained entry = %+v", e)
				}
				if e.Fields["attempt"] != 2 {
					t.Errorf("chained Fields[attempt] = %v, want 2", e.Fields["attempt"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("test-service").Plain()

			result := tt.setupFn(entry)
			if result != entry {
				t.Error("Fluent method should return same LogEntry instance")
			}

			tt.checkFn(t, entry)
		})
	}
}

func TestLogEntry_Output(t *testing.T) {
	tests := []struct {
		name      string
		logFn     func(*Logger)
		wantLevel string
		wantMsg   string
	}{
		{
			name:      "info",
			logFn:     func(l *Logger) { l.Plain().Info("Validating inputs...") },
			wantLevel: "info",
			wantMsg:   "Validating inputs...",
		},
		{
			name:      "warn formatted",
			logFn:     func(l *Logger) { l.Plain().Warnf("Received %d from API", 503) },
			wantLevel: "warn",
			wantMsg:   "Received 503 from API",
		},
		{
			name:      "debug via reporter",
			logFn:     func(l *Logger) { l.Debugf("Attempt %d/%d", 1, 3) },
			wantLevel: "debug",
			wantMsg:   "Attempt 1/3",
		},
		{
			name:      "error",
			logFn:     func(l *Logger) { l.Plain().Errorf("failed: %s", "boom") },
			wantLevel: "error",
			wantMsg:   "failed: boom",
		},
		{
			name:      "credential in message is redacted",
			logFn:     func(l *Logger) { l.Infof("sending Authorization: Bearer abc123") },
			wantLevel: "info",
			wantMsg:   "sending Authorization: Bearer [REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFn(NewWithWriter("test-service", &buf))

			lines := decodeLines(t, &buf)
			if len(lines) != 1 {
				t.Fatalf("expected 1 log line, got %d", len(lines))
			}
			if lines[0]["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", lines[0]["level"], tt.wantLevel)
			}
			if lines[0]["msg"] != tt.wantMsg {
				t.Errorf("msg = %v, want %v", lines[0]["msg"], tt.wantMsg)
			}
			if lines[0]["service"] != "test-service" {
				t.Errorf("service = %v, want test-service", lines[0]["service"])
			}
			if _, ok := lines[0]["fields"]; ok {
				t.Error("empty fields should be omitted")
			}
		})
	}
}

func TestLogEntry_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("test-service", &buf)

	logger.Plain().WithRun(42).WithError(errors.New("Bearer leaked-token rejected")).Error("delivery failed")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	fields, ok := lines[0]["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields missing: %v", lines[0])
	}
	if fields["error"] != "Bearer [REDACTED] rejected" {
		t.Errorf("error field = %v, want redacted", fields["error"])
	}
	if lines[0]["run_id"] != float64(42) {
		t.Errorf("run_id = %v, want 42", lines[0]["run_id"])
	}

	buf.Reset()
	logger.Plain().WithError(nil).Info("no error")
	lines = decodeLines(t, &buf)
	if _, ok := lines[0]["fields"]; ok {
		t.Error("WithError(nil) should not add fields")
	}
}

func TestDiscard(t *testing.T) {
	// Discard must satisfy Reporter without side effects.
	var r Reporter = Discard
	r.Debugf("x")
	r.Infof("y %d", 1)
	r.Warnf("z")
}

func TestSetDefaultService(t *testing.T) {
	original := Default().service
	defer SetDefaultService(original)

	SetDefaultService("zekt-test")
	if got := Plain().Service; got != "zekt-test" {
		t.Errorf("Plain().Service = %q, want %q", got, "zekt-test")
	}
}
