package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/ailab/internal/platform/httpserver"
	"github.com/animus-labs/ailab/internal/platform/logging"
)

func echoHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = io.WriteString(w, name+" "+r.Method+" "+r.URL.Path)
	})
}

func echoUpstream(name string) *httptest.Server {
	return httptest.NewServer(echoHandler(name))
}

func TestGatewayRoutes(t *testing.T) {
	exp := echoUpstream("experiments")
	defer exp.Close()
	ds := echoUpstream("datasets")
	defer ds.Close()

	h, err := newGateway(logging.Discard(), upstreams{Experiments: exp.URL, DatasetRegistry: ds.URL})
	if err != nil {
		t.Fatalf("newGateway()=%v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/datasets", "datasets GET /datasets"},
		{"POST", "/datasets/upload", "datasets POST /datasets/upload"},
		{"GET", "/projects", "experiments GET /projects"},
		{"GET", "/experiments/e1", "experiments GET /experiments/e1"},
		{"POST", "/runs/r1/start_sync", "experiments POST /runs/r1/start_sync"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if string(body) != tt.want {
			t.Fatalf("%s %s body=%q, want %q", tt.method, tt.path, body, tt.want)
		}
	}

	resp, err := http.Get(srv.URL + "/lineage")
	if err != nil {
		t.Fatalf("GET /lineage: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /lineage status=%d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /readyz status=%d, want 200", resp.StatusCode)
	}
}

func TestGatewayUpstreamDown(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	h, err := newGateway(logging.Discard(), upstreams{Experiments: downURL, DatasetRegistry: downURL})
	if err != nil {
		t.Fatalf("newGateway()=%v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://example.test/runs", nil))
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "bad_gateway") {
		t.Fatalf("status=%d body=%s, want 502 bad_gateway", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://example.test/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rec.Code)
	}
}

func TestNewGatewayRejectsBadUpstream(t *testing.T) {
	if _, err := newGateway(logging.Discard(), upstreams{Experiments: "localhost:8083", DatasetRegistry: "http://localhost:8081"}); err == nil {
		t.Fatalf("newGateway() accepted an upstream without scheme")
	}
}

func TestGatewayKeepsUpstreamServiceHeader(t *testing.T) {
	exp := httptest.NewServer(httpserver.Wrap(logging.Discard(), "experiments", echoHandler("experiments")))
	defer exp.Close()
	ds := httptest.NewServer(httpserver.Wrap(logging.Discard(), "dataset-registry", echoHandler("datasets")))
	defer ds.Close()

	h, err := newGateway(logging.Discard(), upstreams{Experiments: exp.URL, DatasetRegistry: ds.URL})
	if err != nil {
		t.Fatalf("newGateway()=%v", err)
	}
	srv := httptest.NewServer(httpserver.Wrap(logging.Discard(), "gateway", h))
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/runs/r1", "experiments"},
		{"/datasets", "dataset-registry"},
		{"/healthz", "gateway"},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		_ = resp.Body.Close()
		if got := resp.Header.Values(httpserver.ServiceHeader); len(got) != 1 || got[0] != tt.want {
			t.Fatalf("GET %s %s=%v, want [%s]", tt.path, httpserver.ServiceHeader, got, tt.want)
		}
	}
}
