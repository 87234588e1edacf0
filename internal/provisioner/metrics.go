package provisioner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request results recorded in fleetprov_requests_total.
const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultTimeout  = "timeout"
	resultError    = "error"
)

// Metrics are the Prometheus collectors of the provisioning handshake.
type Metrics struct {
	// MessagesTotal counts received messages by classified topic.
	// Messages on unknown topics are counted as "InvalidTopic".
	MessagesTotal *prometheus.CounterVec

	// RequestsTotal counts request/response exchanges by operation and result.
	RequestsTotal *prometheus.CounterVec

	// RequestLatency records the time from publish to response.
	RequestLatency *prometheus.HistogramVec

	// Attempts counts started handshakes, retries included.
	Attempts prometheus.Counter

	// Provisioned is 1 once credentials are stored.
	Provisioned prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetprov_messages_total",
				Help: "Messages received on provisioning topics, by classified topic.",
			},
			[]string{"topic"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetprov_requests_total",
				Help: "Provisioning requests by operation and result (accepted/rejected/timeout/error).",
			},
			[]string{"operation", "result"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetprov_request_latency_seconds",
				Help:    "Latency between publishing a provisioning request and receiving its response.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Attempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fleetprov_handshake_attempts_total",
				Help: "Provisioning handshakes started.",
			},
		),
		Provisioned: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetprov_provisioned",
				Help: "Whether the device holds provisioned credentials (1=yes, 0=no).",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.MessagesTotal, m.RequestsTotal, m.RequestLatency, m.Attempts, m.Provisioned)
	}
	return m
}
