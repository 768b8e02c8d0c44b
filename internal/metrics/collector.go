// Package metrics exposes Prometheus instruments for the voice session.
// All methods are safe on a nil *Collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	sessionAttempts     prometheus.Counter
	negotiationDuration *prometheus.HistogramVec
	sessionState        *prometheus.GaugeVec

	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	decodeErrors   prometheus.Counter
	remoteErrors   *prometheus.CounterVec
	recoveries     prometheus.Counter

	signalClients prometheus.Gauge
	signalDropped prometheus.Counter
}

var states = []string{"idle", "connecting", "active", "error"}

// NewCollector registers every instrument on a private registry so that
// several collectors can coexist in one process.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		sessionAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_attempts_total",
			Help:      "Number of start requests that began a negotiation",
		}),
		negotiationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Time spent in the connection handshake",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		sessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		framesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound data channel frames by event type",
		}, []string{"type"}),
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound data channel frames by event type",
		}, []string{"type"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames that could not be parsed",
		}),
		remoteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Error events from the peer by classification",
		}, []string{"class"}),
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery attempts issued after recoverable errors",
		}),
		signalClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_clients",
			Help:      "Connected presentation clients",
		}),
		signalDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_dropped_total",
			Help:      "Frames dropped for slow presentation clients",
		}),
	}
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) SessionAttempt() {
	if c == nil {
		return
	}
	c.sessionAttempts.Inc()
}

func (c *Collector) NegotiationFinished(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.negotiationDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (c *Collector) StateChanged(state string) {
	if c == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		c.sessionState.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) FrameSent(eventType string) {
	if c == nil {
		return
	}
	c.framesSent.WithLabelValues(eventType).Inc()
}

func (c *Collector) FrameReceived(eventType string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(eventType).Inc()
}

func (c *Collector) DecodeError() {
	if c == nil {
		return
	}
	c.decodeErrors.Inc()
}

func (c *Collector) RemoteError(class string) {
	if c == nil {
		return
	}
	c.remoteErrors.WithLabelValues(class).Inc()
}

func (c *Collector) Recovery() {
	if c == nil {
		return
	}
	c.recoveries.Inc()
}

func (c *Collector) SignalClients(n int) {
	if c == nil {
		return
	}
	c.signalClients.Set(float64(n))
}

func (c *Collector) SignalDropped() {
	if c == nil {
		return
	}
	c.signalDropped.Inc()
}
