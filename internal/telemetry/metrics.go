package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the saga-engine counters/histograms exposed on /metrics,
// grounded on the Prometheus usage in internal/queue/streams/metrics.go
// upstream but scoped to this domain's event types instead of crawler ones.
type Metrics struct {
	SagasStarted       *prometheus.CounterVec
	SagasCompleted     prometheus.Counter
	SagasFailed        *prometheus.CounterVec
	ToolLoopIterations prometheus.Histogram
	ChunksEmitted      prometheus.Counter
	StageLatency       *prometheus.HistogramVec
}

// NewMetrics registers and returns the saga-engine metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		SagasStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_sagas_started_total",
			Help: "Sagas enqueued onto q.initiated.",
		}, []string{"tenant_id"}),
		SagasCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "saga_sagas_completed_total",
			Help: "Sagas that reached terminal status completed.",
		}),
		SagasFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_sagas_failed_total",
			Help: "Sagas that reached terminal status error, by reason.",
		}, []string{"reason"}),
		ToolLoopIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "saga_tool_loop_iterations",
			Help:    "Iterations consumed per tool loop invocation.",
			Buckets: prometheus.LinearBuckets(1, 1, 9),
		}),
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "saga_chunker_chunks_emitted_total",
			Help: "Chunks emitted by the semantic chunker.",
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_stage_duration_seconds",
			Help:    "Stage handler duration by stage name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// ServeMetrics starts a /metrics and /healthz HTTP listener on addr. It
// blocks; callers should run it in its own goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return http.ListenAndServe(addr, mux)
}
