package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
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

func TestFrom_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithCorrelation(context.Background(), Correlation{RunID: "run-1", Scenario: "aup-login"})
	ctx = WithCorrelation(ctx, Correlation{Driver: "http"})
	From(ctx).Info("step")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	for key, want := range map[string]string{"run_id": "run-1", "scenario": "aup-login", "driver": "http", "msg": "step"} {
		if got := lines[0][key]; got != want {
			t.Fatalf("%s mismatch: got=%v want=%q", key, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestContextMiddleware_PropagatesRequestID(t *testing.T) {
	var seen string
	h := RequestContextMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationFromContext(r.Context()).RequestID
	}))

	req := httptest.NewRequest(http.MethodGet, "/cas/login", nil)
	req.Header.Set(RequestIDHeader, "run-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "run-42" {
		t.Fatalf("request id not propagated: got=%q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "run-42" {
		t.Fatalf("response header mismatch: got=%q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req-") {
		t.Fatalf("expected generated request id, got=%q", seen)
	}
}
