package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcome labels shared by the barcode, wifi and bluetooth scanners.
const (
	OutcomeSaved     = "saved"
	OutcomeEmpty     = "empty"
	OutcomeDuplicate = "duplicate"
	OutcomeDebounced = "debounced"
	OutcomeRadioOff  = "radio_off"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// Metrics holds the process wide Prometheus metrics for the gateway.
type Metrics struct {
	HTTPLatency  *prometheus.HistogramVec
	ScanOutcomes *prometheus.CounterVec
}

// New creates and registers the gateway metrics on reg.
// A nil reg registers on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanmap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),

		ScanOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scanmap_scan_outcomes_total",
			Help: "Scan attempts by domain and outcome",
		}, []string{"domain", "outcome"}), // domain: "barcodes", "networks", "devices"
	}
}

// ObserveHTTP records the latency of one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m != nil {
		m.HTTPLatency.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
	}
}

// IncrementScanOutcome counts one scan attempt.
func (m *Metrics) IncrementScanOutcome(domain, outcome string) {
	if m != nil {
		m.ScanOutcomes.WithLabelValues(domain, outcome).Inc()
	}
}

// Handler exposes the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
