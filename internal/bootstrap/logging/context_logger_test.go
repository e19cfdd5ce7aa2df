package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestWithAttrsOverridesSameKey(t *testing.T) {
	ctx := WithAttrs(context.Background(), slog.String("stage", "join"), slog.String("run_id", "r1"))
	ctx = WithAttrs(ctx, slog.String("stage", "enrich"))

	attrs := Attrs(ctx)
	if len(attrs) != 2 {
		t.Fatalf("Attrs() len = %d, want 2", len(attrs))
	}
	if attrs[0].Key != "stage" || attrs[0].Value.String() != "enrich" {
		t.Fatalf("Attrs()[0] = %v, want stage=enrich", attrs[0])
	}
}

func TestNewJSONLoggerWritesContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithLogger(context.Background(), logger)
	ctx = WithAttrs(ctx, slog.String("component", "test"))
	Debug(ctx, "hello", slog.Int("rows", 3))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if record["component"] != "test" || record["msg"] != "hello" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["rows"] != float64(3) {
		t.Fatalf("rows = %v, want 3", record["rows"])
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := WithLogger(context.Background(), logger)

	Info(ctx, "skipped")
	Warn(ctx, "kept")

	out := buf.String()
	if strings.Contains(out, "skipped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewRejectsUnknownFormatAndLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("New() expected error for xml format")
	}
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatalf("New() expected error for unknown level")
	}
}
