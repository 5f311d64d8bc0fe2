// Package telemetry provides Prometheus metrics and OpenTelemetry tracing helpers.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generator outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
)

// Rejection reasons for inbound chat messages.
const (
	RejectBusy    = "busy"
	RejectEmpty   = "empty"
	RejectTooLong = "too_long"
)

var (
	once sync.Once

	ChatEvents        *prometheus.CounterVec
	GeneratorRequests *prometheus.CounterVec
	RejectedMessages  *prometheus.CounterVec

	GeneratorDuration prometheus.Observer

	ViewersGauge prometheus.Gauge
)

// Init registers metrics (idempotent). Helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		ChatEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "elizastream_chat_events_total", Help: "Chat events appended to the shared log"}, []string{"kind"})
		GeneratorRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "elizastream_generator_requests_total", Help: "Responder generation attempts by outcome"}, []string{"outcome"})
		RejectedMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "elizastream_rejected_messages_total", Help: "Inbound chat messages rejected before orchestration"}, []string{"reason"})
		GeneratorDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "elizastream_generator_duration_seconds", Help: "Generator round trip seconds", Buckets: prometheus.DefBuckets})
		ViewersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "elizastream_viewers", Help: "Live chat connections"})
	})
}

func IncChatEvent(kind string) {
	if ChatEvents != nil {
		ChatEvents.WithLabelValues(kind).Inc()
	}
}

func IncGeneratorRequest(outcome string) {
	if GeneratorRequests != nil {
		GeneratorRequests.WithLabelValues(outcome).Inc()
	}
}

func IncRejected(reason string) {
	if RejectedMessages != nil {
		RejectedMessages.WithLabelValues(reason).Inc()
	}
}

// SetViewers records the live connection count.
func SetViewers(n int) {
	if ViewersGauge != nil {
		ViewersGauge.Set(float64(n))
	}
}

// ObserveGenerator records a generator round trip duration.
func ObserveGenerator(d time.Duration) {
	if GeneratorDuration != nil {
		GeneratorDuration.Observe(d.Seconds())
	}
}
