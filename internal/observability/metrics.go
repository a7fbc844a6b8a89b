package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	findingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raciline",
		Subsystem: "gaps",
		Name:      "findings_total",
		Help:      "Gap findings produced by workshop analyses, by issue and severity.",
	}, []string{"issue", "severity"})
	coverageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "raciline",
		Subsystem: "progress",
		Name:      "coverage_percent",
		Help:      "Latest RACI coverage percentage per workshop.",
	}, []string{"workshop_id"})
	exportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raciline",
		Subsystem: "export",
		Name:      "exports_total",
		Help:      "Exports rendered, by format and outcome.",
	}, []string{"format", "outcome"})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "raciline",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raciline",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(findingsTotal, coverageGauge, exportsTotal, requestDuration, webhookDeliveries)
}

// RecordFinding counts one finding of the given issue and severity.
func RecordFinding(issue, severity string) {
	findingsTotal.WithLabelValues(issue, severity).Inc()
}

// RecordCoverage updates the coverage gauge for a workshop.
func RecordCoverage(workshopID string, percent int) {
	if workshopID == "" {
		return
	}
	coverageGauge.WithLabelValues(workshopID).Set(float64(percent))
}

// ForgetWorkshop drops the coverage series of a deleted workshop.
func ForgetWorkshop(workshopID string) {
	coverageGauge.DeleteLabelValues(workshopID)
}

func RecordExport(format string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	exportsTotal.WithLabelValues(format, outcome).Inc()
}

func ObserveRequest(method string, status int, elapsed time.Duration) {
	requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func RecordWebhookDelivery(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	webhookDeliveries.WithLabelValues(outcome).Inc()
}
