package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics records request traffic and batch voucher outcomes. A nil
// *POSMetrics is a valid no-op.
type POSMetrics struct {
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	vouchersCreated prometheus.Counter
	batchRejected   *prometheus.CounterVec
}

// NewPOSMetrics registers the collectors on reg. A nil registerer yields
// metrics that record nothing.
func NewPOSMetrics(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_http_requests_total",
		Help: "HTTP requests served, by route and status.",
	}, []string{"method", "route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	vouchersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_vouchers_created_total",
		Help: "Vouchers committed through batch creation.",
	})
	batchRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_voucher_batches_rejected_total",
		Help: "Voucher batches rejected, by reason.",
	}, []string{"reason"})
	reg.MustRegister(requests, latency, vouchersCreated, batchRejected)
	return &POSMetrics{
		requests:        requests,
		latency:         latency,
		vouchersCreated: vouchersCreated,
		batchRejected:   batchRejected,
	}
}

func (m *POSMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *POSMetrics) AddVouchersCreated(n int) {
	if m == nil || m.vouchersCreated == nil || n < 1 {
		return
	}
	m.vouchersCreated.Add(float64(n))
}

func (m *POSMetrics) IncBatchRejected(reason string) {
	if m == nil || m.batchRejected == nil {
		return
	}
	m.batchRejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
