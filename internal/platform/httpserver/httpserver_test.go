package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/ailab/internal/platform/logging"
)

func TestWrap_SetsRequestIDHeader_WhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Wrap(logging.Discard(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	got := rec.Header().Get("X-Request-Id")
	if len(got) != 32 {
		t.Fatalf("X-Request-Id=%q, want 32 hex chars", got)
	}
}

func TestWrap_PreservesRequestIDHeader_WhenProvided(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if id, _ := RequestIDFromContext(r.Context()); id != "rid-123" {
			t.Errorf("context request id=%q", id)
		}
		w.WriteHeader(http.StatusOK)
	})
	h := Wrap(logging.Discard(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set("X-Request-Id", "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "rid-123" {
		t.Fatalf("X-Request-Id=%q, want rid-123", got)
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	h := Wrap(logging.Discard(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q, want application/json", ct)
	}
}

func TestReadyzWithChecks(t *testing.T) {
	handler := ReadyzWithChecks("testsvc",
		ReadinessCheck{Name: "ok", Check: func(ctx context.Context) error { return nil }},
		ReadinessCheck{Name: "down", Check: func(ctx context.Context) error { return errors.New("unreachable") }},
	)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "\"status\":\"not_ready\"") {
		t.Fatalf("expected not_ready status in response: %s", rec.Body.String())
	}
}

func TestWriteErrorIncludesDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	WriteError(rec, req, http.StatusConflict, "run_not_startable", "run is RUNNING")

	body := rec.Body.String()
	if rec.Code != http.StatusConflict || !strings.Contains(body, "run_not_startable") || !strings.Contains(body, "rid-1") {
		t.Fatalf("unexpected response %d %s", rec.Code, body)
	}
}

func TestWrap_NamesService(t *testing.T) {
	h := Wrap(logging.Discard(), "trainer", http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))
	if got := rec.Header().Get(ServiceHeader); got != "trainer" {
		t.Fatalf("%s=%q, want trainer", ServiceHeader, got)
	}
}

func TestReadyzChecksTimeOutIndependently(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	handler := ReadyzWithChecks("testsvc",
		ReadinessCheck{Name: "stuck", Timeout: 50 * time.Millisecond, Check: func(ctx context.Context) error {
			<-release
			return nil
		}},
		ReadinessCheck{Name: "slow", Timeout: time.Second, Check: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		}},
	)

	start := time.Now()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("readyz took %v, want the stuck check cut off at its timeout", elapsed)
	}

	var body struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable || body.Status != "not_ready" {
		t.Fatalf("readyz=%d %q, want 503 not_ready", rec.Code, body.Status)
	}
	if len(body.Checks) != 2 || body.Checks[0].Name != "stuck" || body.Checks[1].Name != "slow" {
		t.Fatalf("checks=%+v, want stuck then slow", body.Checks)
	}
	if body.Checks[0].Status != "fail" || !strings.Contains(body.Checks[0].Error, "timed out") {
		t.Fatalf("stuck check=%+v, want timed out failure", body.Checks[0])
	}
	if body.Checks[1].Status != "ok" {
		t.Fatalf("slow check=%+v, want ok", body.Checks[1])
	}
}
