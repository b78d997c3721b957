// Package metrics provides Prometheus metrics for the UDP runtime. Every
// Record method is safe to call on a nil *Metrics, so components can take an
// optional collector without guarding each call.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "udpev"

// Metrics contains all collectors of one runtime.
type Metrics struct {
	// Socket metrics
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	IOErrors        *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec

	// Session metrics
	SessionsLive    *prometheus.GaugeVec
	SessionsAdded   *prometheus.CounterVec
	SessionsDeleted *prometheus.CounterVec
	SessionsExpired *prometheus.CounterVec

	// Loop metrics
	CronRuns       prometheus.Counter
	LoopIterations prometheus.Counter
}

// NewMetrics creates collectors registered with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates collectors registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Datagrams dispatched to a handler, by socket name",
		}, []string{"socket"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Datagrams sent, by socket name",
		}, []string{"socket"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped before the handler, by socket name and reason",
		}, []string{"socket", "reason"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes received, by socket name",
		}, []string{"socket"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes sent, by socket name",
		}, []string{"socket"}),
		IOErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_errors_total",
			Help:      "Socket send and receive failures, by socket name and direction",
		}, []string{"socket", "direction"}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Handler failures and panics, by socket name",
		}, []string{"socket"}),

		SessionsLive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live",
			Help:      "Live sessions, by timer",
		}, []string{"timer"}),
		SessionsAdded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_added_total",
			Help:      "Sessions added, by timer",
		}, []string{"timer"}),
		SessionsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deleted_total",
			Help:      "Sessions deleted before expiry, by timer",
		}, []string{"timer"}),
		SessionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions that reached their timeout, by timer",
		}, []string{"timer"}),

		CronRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_runs_total",
			Help:      "Cron task invocations",
		}),
		LoopIterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Event loop wait/dispatch cycles",
		}),
	}
}

func socketLabel(name int) string {
	return strconv.Itoa(name)
}

// RecordReceived records one dispatched datagram of n bytes.
func (m *Metrics) RecordReceived(socket int, n int) {
	if m == nil {
		return
	}

	m.PacketsReceived.WithLabelValues(socketLabel(socket)).Inc()
	m.BytesReceived.WithLabelValues(socketLabel(socket)).Add(float64(n))
}

// RecordSent records one sent datagram of n bytes.
func (m *Metrics) RecordSent(socket int, n int) {
	if m == nil {
		return
	}

	m.PacketsSent.WithLabelValues(socketLabel(socket)).Inc()
	m.BytesSent.WithLabelValues(socketLabel(socket)).Add(float64(n))
}

// RecordDropped records a datagram discarded before reaching its handler.
func (m *Metrics) RecordDropped(socket int, reason string) {
	if m == nil {
		return
	}

	m.PacketsDropped.WithLabelValues(socketLabel(socket), reason).Inc()
}

// RecordIOError records a failed send ("send") or receive ("recv").
func (m *Metrics) RecordIOError(socket int, direction string) {
	if m == nil {
		return
	}

	m.IOErrors.WithLabelValues(socketLabel(socket), direction).Inc()
}

// RecordHandlerError records a handler that returned an error or panicked.
func (m *Metrics) RecordHandlerError(socket int) {
	if m == nil {
		return
	}

	m.HandlerErrors.WithLabelValues(socketLabel(socket)).Inc()
}

// RecordCronRun records one cron invocation.
func (m *Metrics) RecordCronRun() {
	if m == nil {
		return
	}

	m.CronRuns.Inc()
}

// RecordIteration records one loop cycle.
func (m *Metrics) RecordIteration() {
	if m == nil {
		return
	}

	m.LoopIterations.Inc()
}

// SessionAdded implements timer.Observer.
func (m *Metrics) SessionAdded(timer string) {
	if m == nil {
		return
	}

	m.SessionsAdded.WithLabelValues(timer).Inc()
	m.SessionsLive.WithLabelValues(timer).Inc()
}

// SessionDeleted implements timer.Observer.
func (m *Metrics) SessionDeleted(timer string) {
	if m == nil {
		return
	}

	m.SessionsDeleted.WithLabelValues(timer).Inc()
	m.SessionsLive.WithLabelValues(timer).Dec()
}

// SessionExpired implements timer.Observer.
func (m *Metrics) SessionExpired(timer string) {
	if m == nil {
		return
	}

	m.SessionsExpired.WithLabelValues(timer).Inc()
	m.SessionsLive.WithLabelValues(timer).Dec()
}

// Handler returns a router serving /metrics from gatherer and a /healthz probe.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
