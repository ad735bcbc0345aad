package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipworker_cycles_total",
		Help: "Orchestrator cycles by outcome",
	}, []string{"outcome"})
	Images = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipworker_images_total",
		Help: "Image tasks by outcome",
	}, []string{"outcome"})
	Posts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipworker_posts_total",
		Help: "Post aggregation tasks by outcome",
	}, []string{"outcome"})
	BulkItemFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipworker_bulk_item_failures_total",
		Help: "Bulk items rejected by the document store",
	}, []string{"stage"})
	HeartbeatFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipworker_heartbeat_failures_total",
		Help: "Heartbeat calls that failed",
	})
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipworker_cycle_duration_seconds",
		Help:    "Duration of non-idle cycles",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	Backlog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipworker_backlog_posts",
		Help: "Unprocessed posts reported by the last batch query",
	})
)

func init() {
	prometheus.MustRegister(Cycles, Images, Posts, BulkItemFailures, HeartbeatFailures, CycleDuration, Backlog)
}

// StartServer serves /metrics and /health on addr. An empty addr disables it.
// Listen failures are logged; the worker keeps running without metrics.
func StartServer(addr string, log zerolog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

// ObserveCycle records a cycle duration.
func ObserveCycle(elapsed time.Duration) {
	CycleDuration.Observe(elapsed.Seconds())
}
