package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zekt_runs_total",
			Help: "Total number of registration runs by final status.",
		},
		[]string{"status"}, // success, failed
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zekt_validation_failures_total",
			Help: "Total number of payloads rejected before delivery, by check.",
		},
		[]string{"check"}, // fields, size, structure
	)

	PayloadSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zekt_payload_size_bytes",
			Help:    "Size of validated payloads in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 6), // 1KiB .. 1MiB
		},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zekt_delivery_attempts_total",
			Help: "Total number of HTTP delivery attempts by outcome.",
		},
		[]string{"outcome"}, // delivered, retryable, terminal
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zekt_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zekt_delivery_latency_seconds",
			Help:    "Latency of individual delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status_code"},
	)

	FakeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zekt_fake_requests_total",
			Help: "Registrations received by the fake Zekt server, by response status.",
		},
		[]string{"status_code"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		RunsTotal,
		ValidationFailuresTotal,
		PayloadSizeBytes,
		DeliveryAttemptsTotal,
		RetriesTotal,
		DeliveryLatency,
		FakeRequestsTotal,
	)
}

// RecordRun counts a finished registration run
func RecordRun(status string) {
	RunsTotal.WithLabelValues(status).Inc()
}

// RecordValidationFailure counts a payload rejected by the named check
func RecordValidationFailure(check string) {
	ValidationFailuresTotal.WithLabelValues(check).Inc()
}

// ObservePayloadSize records the size of a payload that passed the size check
func ObservePayloadSize(bytes int) {
	PayloadSizeBytes.Observe(float64(bytes))
}

// RecordAttempt counts one HTTP attempt and its latency. statusCode is empty
// when the request never produced a response.
func RecordAttempt(outcome, statusCode string, latency time.Duration) {
	DeliveryAttemptsTotal.WithLabelValues(outcome).Inc()
	if statusCode == "" {
		statusCode = "none"
	}
	DeliveryLatency.WithLabelValues(statusCode).Observe(latency.Seconds())
}

// RecordRetry counts a scheduled retry by reason
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordFakeRequest counts a request served by the fake server
func RecordFakeRequest(statusCode string) {
	FakeRequestsTotal.WithLabelValues(statusCode).Inc()
}

// Push sends everything in reg to a Prometheus Pushgateway. CI steps are too
// short-lived to be scraped.
func Push(ctx context.Context, url, job string, reg *prometheus.Registry, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(reg)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	return p.PushContext(ctx)
}
