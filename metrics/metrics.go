package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes verdict and list-refresh counters. It satisfies both the
// pipeline's MetricsCollector and the refresher's RefreshObserver.
type Collector struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	entries   *prometheus.GaugeVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_warden_decisions_total",
			Help: "Verdicts rendered, by action and deciding filter.",
		}, []string{"action", "filter"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_warden_list_refresh_total",
			Help: "List refresh attempts, by list and outcome.",
		}, []string{"list", "result"}),
		entries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_warden_list_entries",
			Help: "Entries in the current snapshot of each list.",
		}, []string{"list"}),
	}
}

func (c *Collector) ObserveDecision(action, filter string) {
	if filter == "" {
		filter = "none"
	}
	c.decisions.WithLabelValues(action, filter).Inc()
}

func (c *Collector) ObserveRefresh(list string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.refreshes.WithLabelValues(list, result).Inc()
}

func (c *Collector) SetListEntries(list string, n int) {
	c.entries.WithLabelValues(list).Set(float64(n))
}

// Serve exposes the collector on /metrics until ctx is done. It blocks, so
// callers run it in a goroutine.
func (c *Collector) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "error", err)
	}
}
