package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// EventsRecorded counts burn records written, labeled by which path
	// observed them (scanner or trigger).
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "burnscope_events_recorded_total",
		Help: "Total number of burn events recorded",
	}, []string{"source"})

	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnscope_duplicate_events_total",
		Help: "Total number of duplicate inserts absorbed by the sink",
	})

	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnscope_batches_processed_total",
		Help: "Total number of scan sub-batches checkpointed",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnscope_subscription_reconnects_total",
		Help: "Total number of live subscription rebuilds",
	})

	ActionsUnresolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnscope_actions_unresolved_total",
		Help: "Submitted transfers whose inclusion result is unknown; needs manual reconciliation",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "burnscope_sweep_duration_seconds",
		Help:    "Duration of act-and-confirm cycles",
		Buckets: prometheus.DefBuckets,
	})
)

// Serve exposes /metrics on addr in a background goroutine. No-op when addr is
// empty.
func Serve(addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener start", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}
