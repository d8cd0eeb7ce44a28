// Package metrics exposes Prometheus counters for the query and import
// pipelines.
package metrics

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// eventsTotal counts dispatcher outcomes.
	// Labels: outcome (success, error, blocked, dropped)
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "failurebot",
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Inbound chat events by terminal outcome",
	}, []string{"outcome"})

	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "failurebot",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Language model calls by operation and status",
	}, []string{"op", "status"})

	// llmTokensTotal labels: direction (input, output)
	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "failurebot",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Language model tokens by direction",
	}, []string{"direction"})

	validationRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "failurebot",
		Subsystem: "query",
		Name:      "validation_rejections_total",
		Help:      "Generated queries rejected before execution",
	})

	queryLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "failurebot",
		Subsystem: "query",
		Name:      "latency_seconds",
		Help:      "Storage execution latency for validated queries",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"})

	// importAttachmentsTotal labels: result (processed, skipped)
	importAttachmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "failurebot",
		Subsystem: "import",
		Name:      "attachments_total",
		Help:      "Case tracker attachments seen by import, by result",
	}, []string{"result"})

	// importLogsTotal labels: result (successful, failed)
	importLogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "failurebot",
		Subsystem: "import",
		Name:      "logs_total",
		Help:      "Failure logs imported, by result",
	}, []string{"result"})
)

func RecordEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMCall records one model call. err decides the status label.
func RecordLLMCall(op string, inputTokens, outputTokens int64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmCallsTotal.WithLabelValues(op, status).Inc()
	llmTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	llmTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

func RecordValidationRejection() {
	validationRejectionsTotal.Inc()
}

func ObserveQuery(kind string, d time.Duration) {
	queryLatencySeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordImport adds one import batch's accounting.
func RecordImport(processed, skipped, successful, failed int) {
	importAttachmentsTotal.WithLabelValues("processed").Add(float64(processed))
	importAttachmentsTotal.WithLabelValues("skipped").Add(float64(skipped))
	importLogsTotal.WithLabelValues("successful").Add(float64(successful))
	importLogsTotal.WithLabelValues("failed").Add(float64(failed))
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve blocks serving /metrics on addr. An empty addr disables it.
func Serve(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("metrics listening addr=%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
