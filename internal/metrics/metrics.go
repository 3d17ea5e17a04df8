// Package metrics provides Prometheus metrics for wsport.
package metrics

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/philsphicas/wsport/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "wsport"

const (
	ReasonConnectFailed  = "connect_failed"
	ReasonConnectTimeout = "connect_timeout"
	ReasonRemoteClosed   = "remote_closed"
)

// Metrics holds all Prometheus metrics for wsport.
type Metrics struct {
	Registry *prometheus.Registry

	connectionOpen     prometheus.Gauge
	connectionsTotal   *prometheus.CounterVec
	connectionErrors   *prometheus.CounterVec
	messagesTotal      *prometheus.CounterVec
	bytesTotal         *prometheus.CounterVec
	connectionDuration prometheus.Histogram
	dialDuration       prometheus.Histogram
	activeSessions     prometheus.Gauge
	sessionsRejected   prometheus.Counter
}

// New creates a new Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		connectionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_open",
			Help:      "Number of remote connections currently open.",
		}),

		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total remote connections that opened and have since closed.",
		}, []string{"status"}),

		connectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Total number of connection errors, by reason.",
		}, []string{"reason"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total messages relayed, by direction.",
		}, []string{"direction"}),

		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total payload bytes relayed, by direction.",
		}, []string{"direction"}),

		connectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of closed remote connections in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		dialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dial_duration_seconds",
			Help:      "Time spent establishing the remote connection, in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of application sessions currently attached to the gateway.",
		}),

		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Total application sessions refused because one was already attached.",
		}),
	}

	reg.MustRegister(
		m.connectionOpen,
		m.connectionsTotal,
		m.connectionErrors,
		m.messagesTotal,
		m.bytesTotal,
		m.connectionDuration,
		m.dialDuration,
		m.activeSessions,
		m.sessionsRejected,
	)

	return m
}

// ConnectionError records a connection failure.
func (m *Metrics) ConnectionError(reason string) {
	if m == nil {
		return
	}
	m.connectionErrors.WithLabelValues(reason).Inc()
}

// DialReason returns "connect_timeout" if err is a timeout, otherwise
// "connect_failed".
func DialReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonConnectTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonConnectTimeout
	}
	return ReasonConnectFailed
}

// ObserveDialDuration records how long a dial took.
func (m *Metrics) ObserveDialDuration(seconds float64) {
	if m == nil {
		return
	}
	m.dialDuration.Observe(seconds)
}

// ObserveFrame counts one relayed message of size bytes.
func (m *Metrics) ObserveFrame(dir relay.Direction, size int) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(dir.String()).Inc()
	m.bytesTotal.WithLabelValues(dir.String()).Add(float64(size))
}

// ConnectionOpened increments the open connection gauge. Returns a
// ConnectionTracker to record the outcome when the connection closes.
func (m *Metrics) ConnectionOpened() *ConnectionTracker {
	if m == nil {
		return nil
	}
	m.connectionOpen.Inc()
	return &ConnectionTracker{m: m, start: time.Now()}
}

// ConnectionTracker records the outcome of a single remote connection.
type ConnectionTracker struct {
	m     *Metrics
	start time.Time
	once  sync.Once
}

// Done records the end of the connection. A nil err means it was closed
// locally; anything else counts as an error and, unless it is a context
// error, as a remote close.
func (t *ConnectionTracker) Done(err error) {
	if t == nil {
		return
	}
	t.once.Do(func() {
		status := "success"
		if err != nil {
			status = "error"
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				t.m.ConnectionError(ReasonRemoteClosed)
			}
		}
		t.m.connectionOpen.Dec()
		t.m.connectionsTotal.WithLabelValues(status).Inc()
		t.m.connectionDuration.Observe(time.Since(t.start).Seconds())
	})
}

// SessionStarted increments the active gateway session gauge and returns
// a func that decrements it.
func (m *Metrics) SessionStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeSessions.Inc()
	var once sync.Once
	return func() { once.Do(m.activeSessions.Dec) }
}

// SessionRejected counts a refused gateway session.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.sessionsRejected.Inc()
}

// Instrument returns cfg with hooks that record dial, connection and
// frame metrics. Hooks already set on cfg still run, after the metrics
// are recorded. Safe to call on a nil receiver (cfg is returned as-is).
func (m *Metrics) Instrument(cfg relay.Config) relay.Config {
	if m == nil {
		return cfg
	}
	onDial, onOpen, onClose, onFrame := cfg.OnDial, cfg.OnOpen, cfg.OnClose, cfg.OnFrame

	// The relay orders OnOpen before OnClose.
	var tracker *ConnectionTracker

	cfg.OnDial = func(d time.Duration, err error) {
		m.ObserveDialDuration(d.Seconds())
		if err != nil {
			m.ConnectionError(DialReason(err))
		}
		if onDial != nil {
			onDial(d, err)
		}
	}
	cfg.OnOpen = func() {
		tracker = m.ConnectionOpened()
		if onOpen != nil {
			onOpen()
		}
	}
	cfg.OnClose = func(err error) {
		tracker.Done(err)
		if onClose != nil {
			onClose(err)
		}
	}
	cfg.OnFrame = func(dir relay.Direction, size int) {
		m.ObserveFrame(dir, size)
		if onFrame != nil {
			onFrame(dir, size)
		}
	}
	return cfg
}
