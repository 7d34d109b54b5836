package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext_Fallback(t *testing.T) {
	if got := FromContext(context.Background()); got != slog.Default() {
		t.Error("expected slog.Default when no logger is attached")
	}
}

func TestWithLogger_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, "text")
	ctx := WithLogger(context.Background(), l)
	FromContext(ctx).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, "text").Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug logged without verbose: %q", buf.String())
	}
	New(&buf, true, "text").Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug missing with verbose: %q", buf.String())
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, "JSON").Warn("task failed", "task", "tables")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, buf.String())
	}
	if rec["level"] != "WARN" || rec["task"] != "tables" {
		t.Errorf("record = %v", rec)
	}
}
