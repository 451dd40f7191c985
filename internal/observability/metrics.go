package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	datagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "relay",
			Name:      "datagrams_received_total",
			Help:      "Datagrams received by the coordinator, by message kind.",
		},
		[]string{"kind"},
	)
	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "relay",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped by the coordinator, by reason.",
		},
		[]string{"reason"},
	)
	activeDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relayctl",
			Subsystem: "registry",
			Name:      "active_devices",
			Help:      "Devices currently considered live.",
		},
	)
	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Registration attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "session",
			Name:      "broadcasts_total",
			Help:      "Broadcast sessions, by terminal outcome.",
		},
		[]string{"outcome"},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Time from fan-out to session close.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	repliesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "session",
			Name:      "replies_forwarded_total",
			Help:      "Worker replies forwarded to the controller, by tally state.",
		},
		[]string{"tallied"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			datagramsReceived,
			datagramsDropped,
			activeDevices,
			registrations,
			sessions,
			sessionDuration,
			repliesForwarded,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordDatagram(kind string) {
	RegisterMetrics()
	datagramsReceived.WithLabelValues(kind).Inc()
}

func RecordDrop(reason string) {
	RegisterMetrics()
	datagramsDropped.WithLabelValues(reason).Inc()
}

func SetActiveDevices(n int) {
	RegisterMetrics()
	activeDevices.Set(float64(n))
}

func RecordRegistration(outcome string) {
	RegisterMetrics()
	registrations.WithLabelValues(outcome).Inc()
}

func RecordSession(outcome string, duration time.Duration) {
	RegisterMetrics()
	sessions.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(duration.Seconds())
}

func RecordForwardedReply(tallied bool) {
	RegisterMetrics()
	repliesForwarded.WithLabelValues(strconv.FormatBool(tallied)).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
