// Package metrics exposes the Prometheus metrics of the fetcher. Metrics are
// defined with promauto in the packages that update them; this package serves
// them over HTTP and documents them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the registerer every fetcher metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Handler returns the mux served by Serve: /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve exposes Handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Transport (pkg/client):
//   - fetch_requests_total{host, status} (Counter): HTTP attempts by host and status
//   - fetch_request_duration_seconds{host} (Histogram): attempt duration
//   - fetch_errors_total{class} (Counter): failed attempts by class (client, server, rate_limit, network)
//   - fetch_retries_total{error_class} (Counter): retries by error class
//   - fetch_retry_backoff_seconds{error_class} (Histogram): backoff waits
//   - fetch_retry_exhausted_total{error_class} (Counter): requests that used every attempt
//
// Throttling (pkg/ratelimit):
//   - fetch_rate_limited_total{host} (Counter): 429 responses
//   - fetch_rate_limit_wait_seconds (Histogram): waits applied after 429
//
// Auth (pkg/auth):
//   - fetch_oauth_tokens_total{result} (Counter): token lookups (ok, error)
//
// Pagination (pkg/pagination):
//   - fetch_pages_total{strategy} (Counter): pages produced
//
// Orchestration (pkg/fetcher, pkg/scheduler):
//   - fetch_runs_total{result} (Counter): fetch calls (success, failure, cancelled)
//   - fetch_records_total (Counter): flattened records produced
//   - fetch_scheduled_runs_total{result} (Counter): scheduler ticks (ran, skipped, failed)
//
// Output (pkg/sink, pkg/alert):
//   - fetch_sink_records_total{sink} (Counter): records written per sink
//   - fetch_alerts_total{result} (Counter): alert deliveries (sent, error)
//
// Example Prometheus Queries:
//
//   # Throttle rate per host
//   sum by (host) (rate(fetch_rate_limited_total[5m]))
//
//   # Failed runs in the last day
//   increase(fetch_runs_total{result="failure"}[1d])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(fetch_request_duration_seconds_bucket[5m]))
