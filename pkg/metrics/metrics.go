// Package metrics provides the Prometheus collectors shared by the runtime
// components. A nil *Collectors is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sdk"

// Collectors groups every metric the runtime records.
type Collectors struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	poolLeased      prometheus.Gauge
	poolWait        prometheus.Histogram
	wsReconnects    prometheus.Counter
	wsState         *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors, which is what tests and multiple SDK instances in
// one process want.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Transport attempts by method and status code (0 for transport failures).",
		}, []string{"method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of logical requests including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Retries by reason.",
		}, []string{"reason"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		poolLeased: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "leased_connections",
			Help:      "Connections currently leased.",
		}),
		poolWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time callers spent suspended waiting for a connection.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		wsReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "reconnect_attempts_total",
			Help:      "WebSocket reconnection attempts.",
		}),
		wsState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "state",
			Help:      "1 for the current WebSocket session state, 0 otherwise.",
		}, []string{"state"}),
	}
}

func (c *Collectors) ObserveAttempt(method string, code int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (c *Collectors) ObserveRequest(method string, d time.Duration) {
	if c == nil {
		return
	}
	c.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (c *Collectors) IncRetry(reason string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(reason).Inc()
}

func (c *Collectors) CacheHit() {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("hit").Inc()
}

func (c *Collectors) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collectors) SetLeased(n int) {
	if c == nil {
		return
	}
	c.poolLeased.Set(float64(n))
}

func (c *Collectors) ObserveWait(d time.Duration) {
	if c == nil {
		return
	}
	c.poolWait.Observe(d.Seconds())
}

func (c *Collectors) IncReconnect() {
	if c == nil {
		return
	}
	c.wsReconnects.Inc()
}

// SetState marks current as the active WebSocket state among all.
func (c *Collectors) SetState(current string, all ...string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.wsState.WithLabelValues(s).Set(v)
	}
}
