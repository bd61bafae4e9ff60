package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_connections_active",
			Help: "Number of live socket sessions (count)",
		},
	)

	MessagesAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_messages_accepted_total",
			Help: "Total number of messages enqueued to the accept queue (count)",
		},
	)

	AcceptEnqueueDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_accept_enqueue_duration_ms",
			Help:    "Time to insert a message into the accept queue in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_deliveries_total",
			Help: "Total number of delivery attempts (count)",
		},
		[]string{"status"},
	)

	RedeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_redeliveries_total",
			Help: "Total number of messages handed to the redeliver queue (count)",
		},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_dropped_total",
			Help: "Total number of messages dropped without delivery (count)",
		},
		[]string{"reason"},
	)

	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_logins_total",
			Help: "Total number of login attempts (count)",
		},
		[]string{"result"},
	)

	RateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_rate_limit_total",
			Help: "Rate limiter decisions (count)",
		},
		[]string{"surface", "outcome"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

const (
	DropReasonExpired         = "expired"
	DropReasonValidation      = "validation"
	DropReasonUnauthenticated = "unauthenticated"
	DropReasonUnknownType     = "unknown_type"
)

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		ConnectionsActive,
		MessagesAcceptedTotal,
		AcceptEnqueueDuration,
		DeliveriesTotal,
		RedeliveriesTotal,
		MessagesDroppedTotal,
		LoginsTotal,
		RateLimitTotal,
		CircuitBreakerState,
	)
}

func ObserveAcceptEnqueue(d time.Duration) {
	AcceptEnqueueDuration.Observe(float64(d.Milliseconds()))
}
