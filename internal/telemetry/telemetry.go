package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/doorman/config"
	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Telemetry owns a private registry so one-shot runs can push exactly the
// series they produced.
type Telemetry struct {
	cfg      config.TelemetryConfig
	registry *prometheus.Registry
	logger   *log.Logger

	queries        *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	queryFilters   *prometheus.HistogramVec
	exportedDocs   *prometheus.CounterVec
	exportFailures *prometheus.CounterVec
	exportRuns     *prometheus.CounterVec
}

var _ query.Observer = (*Telemetry)(nil)

func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   log.New(log.Writer(), "[METRICS] ", log.LstdFlags),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_queries_total",
			Help: "Query engine executions by kind and outcome",
		}, []string{"kind", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "doorman_query_duration_seconds",
			Help:    "Query engine execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		queryFilters: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "doorman_query_filters",
			Help:    "Number of filters per query engine execution",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		}, []string{"kind"}),
		exportedDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_export_documents_total",
			Help: "Documents forwarded to each sink",
		}, []string{"sink"}),
		exportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_export_failures_total",
			Help: "Batches a sink failed to accept",
		}, []string{"sink"}),
		exportRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_export_runs_total",
			Help: "Export runs by outcome",
		}, []string{"outcome"}),
	}
	t.registry.MustRegister(
		t.queries, t.queryDuration, t.queryFilters, t.exportedDocs, t.exportFailures, t.exportRuns,
		collectors.NewGoCollector(),
	)
	return t
}

// ObserveQuery implements query.Observer.
func (t *Telemetry) ObserveQuery(kind query.QueryKind, filters int, err error, took time.Duration) {
	t.queries.WithLabelValues(kind.String(), Outcome(err)).Inc()
	t.queryDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
	t.queryFilters.WithLabelValues(kind.String()).Observe(float64(filters))
}

// ObserveBatch records one batch delivered (or not) to a sink.
func (t *Telemetry) ObserveBatch(sink string, docs int, err error) {
	if err != nil {
		t.exportFailures.WithLabelValues(sink).Inc()
		return
	}
	t.exportedDocs.WithLabelValues(sink).Add(float64(docs))
}

func (t *Telemetry) ObserveRun(err error) {
	t.exportRuns.WithLabelValues(Outcome(err)).Inc()
}

// Outcome buckets engine errors into a small fixed label set.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, query.ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, query.ErrNodeNotFound), errors.Is(err, query.ErrDistributedQueryNotFound):
		return "not_found"
	case errors.Is(err, query.ErrUnsupportedQueryKind),
		errors.Is(err, query.ErrUnsupportedFilterKind),
		errors.Is(err, query.ErrInvalidPagination),
		errors.Is(err, query.ErrInvalidOrder):
		return "invalid"
	case errors.Is(err, query.ErrStore):
		return "store"
	}
	return "error"
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the configured address until ctx is cancelled.
// It returns immediately when telemetry is disabled or no address is set.
func (t *Telemetry) Serve(ctx context.Context) error {
	if !t.cfg.Enabled || t.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	server := &http.Server{
		Addr:              t.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		t.logger.Printf("serving metrics on %s", t.cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// Push sends the registry to the configured pushgateway, if any.
func (t *Telemetry) Push(ctx context.Context) error {
	if !t.cfg.Enabled || t.cfg.PushgatewayURL == "" {
		return nil
	}
	if err := push.New(t.cfg.PushgatewayURL, t.cfg.JobName).Gatherer(t.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
