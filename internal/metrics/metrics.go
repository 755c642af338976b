package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick outcomes.
const (
	TickOK          = "ok"
	TickUnavailable = "source_unavailable"
)

// Dispatch outcomes.
const (
	DispatchDelivered = "delivered"
	DispatchFailed    = "failed"
	DispatchSkipped   = "skipped"
)

// Metrics groups the announcer's instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ticks            *prometheus.CounterVec
	eventsFetched    prometheus.Gauge
	malformed        prometheus.Counter
	dispatches       *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	dispatchDuration *prometheus.HistogramVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "announcer_ticks_total",
			Help: "Total number of scheduled ticks processed.",
		}, []string{"outcome"}),
		eventsFetched: f.NewGauge(prometheus.GaugeOpts{
			Name: "announcer_events_fetched",
			Help: "Number of upcoming events returned by the last successful fetch.",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "announcer_malformed_events_total",
			Help: "Total number of events skipped for missing start data.",
		}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "announcer_dispatches_total",
			Help: "Total number of webhook dispatch attempts.",
		}, []string{"window", "outcome"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "announcer_tick_duration_seconds",
			Help:    "Histogram of tick durations.",
			Buckets: prometheus.DefBuckets,
		}),
		dispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "announcer_dispatch_duration_seconds",
			Help:    "Histogram of webhook dispatch latencies.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

// ObserveTick records one finished tick.
func (m *Metrics) ObserveTick(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(time.Since(start).Seconds())
}

// SetEventsFetched records the size of the last fetch.
func (m *Metrics) SetEventsFetched(n int) {
	if m == nil {
		return
	}
	m.eventsFetched.Set(float64(n))
}

// IncMalformed counts a skipped malformed event.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// ObserveDispatch records one dispatch attempt. A zero start skips the
// latency histogram (used for dispatches that never went out).
func (m *Metrics) ObserveDispatch(window, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(window, outcome).Inc()
	if !start.IsZero() {
		m.dispatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
