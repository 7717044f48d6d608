package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/animus-labs/ailab/internal/platform/httpserver"
)

type upstreams struct {
	Experiments     string
	DatasetRegistry string
}

// newGateway serves the public API from one address. Dataset routes go to the
// dataset registry; projects, experiments and runs go to the experiments
// service.
func newGateway(logger *slog.Logger, up upstreams) (http.Handler, error) {
	experiments, err := newReverseProxy(logger, up.Experiments)
	if err != nil {
		return nil, fmt.Errorf("experiments: %w", err)
	}
	datasets, err := newReverseProxy(logger, up.DatasetRegistry)
	if err != nil {
		return nil, fmt.Errorf("dataset-registry: %w", err)
	}

	client := &http.Client{Timeout: 750 * time.Millisecond}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("gateway"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(
		"gateway",
		upstreamCheck(client, "experiments", up.Experiments),
		upstreamCheck(client, "dataset-registry", up.DatasetRegistry),
	))

	mux.Handle("/datasets", datasets)
	mux.Handle("/datasets/", datasets)
	for _, prefix := range []string{"/projects", "/experiments", "/runs"} {
		mux.Handle(prefix, experiments)
		mux.Handle(prefix+"/", experiments)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "")
	})
	return mux, nil
}

func newReverseProxy(logger *slog.Logger, target string) (http.Handler, error) {
	upstream, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		if id, ok := httpserver.RequestIDFromContext(r.Context()); ok {
			r.Header.Set("X-Request-Id", id)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "upstream", upstream.Host, "request_id", r.Header.Get("X-Request-Id"), "error", err)
		w.Header().Set(httpserver.ServiceHeader, "gateway")
		httpserver.WriteError(w, r, http.StatusBadGateway, "bad_gateway", "")
	}
	// The upstream names itself; drop the gateway's own service header.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del(httpserver.ServiceHeader)
		proxy.ServeHTTP(w, r)
	}), nil
}

func upstreamCheck(client *http.Client, name, base string) httpserver.ReadinessCheck {
	return httpserver.ReadinessCheck{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthz status %d", resp.StatusCode)
			}
			return nil
		},
	}
}
