package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "hw")).Error(context.Background(), "write failed",
		Int("port_id", 3),
		Bool("admin_up", true),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"msg":       "write failed",
		"level":     "ERROR",
		"component": "hw",
		"port_id":   float64(3),
		"admin_up":  true,
		"error":     "boom",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("field %q = %v, want %v", k, rec[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	log.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line not written")
	}
}

func TestWithRequestLoggerReusesExistingID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx, _ = WithRequestLogger(ctx, nil)
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("request id = %q, want req-1", got)
	}

	ctx2, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(ctx2) != id {
		t.Fatalf("EnsureRequestID did not attach a fresh id")
	}
}
