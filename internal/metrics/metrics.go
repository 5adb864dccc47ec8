// Package metrics exposes pipeline counters in Prometheus format.
//
// Counters are fed from bus events and log level hooks, so the scheduler
// and dispatcher never import this package.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel/internal/eventbus"
	"sentinel/internal/notify"
	"sentinel/internal/scheduler"
	logx "sentinel/pkg/logx"
)

const namespace = "sentinel"

// Collector holds the registered metric vectors.
type Collector struct {
	started       prometheus.Counter
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	skipped       *prometheus.CounterVec
	activity      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	retries       *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	logLines      *prometheus.CounterVec
	reloads       prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_started_total",
			Help:      "Cycles that acquired a worker slot.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished subscription cycles by terminal status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one cycle from fetch to watermark update.",
			Buckets:   prometheus.DefBuckets,
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Due subscriptions not started on a tick.",
		}, []string{"reason"}),
		activity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_records_total",
			Help:      "Activity records reported by successful cycles.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Terminal delivery outcomes per channel kind.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_total",
			Help:      "Failed send attempts that were retried.",
		}, []string{"kind"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time from first send attempt to terminal outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_lines_total",
			Help:      "Emitted log lines by level.",
		}, []string{"level"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Applied configuration reloads.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Ops endpoint requests by route and status class.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		c.started,
		c.cycles,
		c.cycleDuration,
		c.skipped,
		c.activity,
		c.deliveries,
		c.retries,
		c.sendDuration,
		c.logLines,
		c.reloads,
		c.httpRequests,
	)
	return c
}

// Observe updates counters from one bus event. Unknown events are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.CycleStarted:
		c.started.Inc()
	case eventbus.CycleSucceeded, eventbus.CycleFailed:
		ev, ok := e.Data.(scheduler.CycleEvent)
		if !ok {
			return
		}
		c.cycles.WithLabelValues(string(ev.Status)).Inc()
		c.cycleDuration.Observe(ev.Duration.Seconds())
		for k, n := range ev.Counts {
			c.activity.WithLabelValues(string(k)).Add(float64(n))
		}
	case eventbus.CycleSkipped:
		if ev, ok := e.Data.(scheduler.CycleEvent); ok {
			c.skipped.WithLabelValues(ev.Reason).Inc()
		}
	case eventbus.DeliveryRetrying:
		if ev, ok := e.Data.(notify.DeliveryEvent); ok {
			c.retries.WithLabelValues(ev.Kind).Inc()
		}
	case eventbus.DeliverySent, eventbus.DeliveryFailed, eventbus.DeliveryDuplicate:
		ev, ok := e.Data.(notify.DeliveryEvent)
		if !ok {
			return
		}
		c.deliveries.WithLabelValues(ev.Kind, string(ev.Outcome)).Inc()
		if e.Type != eventbus.DeliveryDuplicate {
			c.sendDuration.WithLabelValues(ev.Kind).Observe(ev.Duration.Seconds())
		}
	case eventbus.ConfigReloaded:
		c.reloads.Inc()
	}
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// LogHook counts log lines; register it with logx.Service.OnLevel.
func (c *Collector) LogHook() logx.LevelHook {
	return func(l logx.Level) {
		c.logLines.WithLabelValues(l.String()).Inc()
	}
}

// Gauges are sampled on scrape.
type Gauges struct {
	InFlight     func() float64
	CircuitsOpen func() float64
	BusDropped   func() float64
	// Subscriptions returns counts keyed by status.
	Subscriptions func() map[string]float64
}

// RegisterGauges registers the non-nil gauge functions on reg.
func RegisterGauges(reg prometheus.Registerer, g Gauges) {
	if g.InFlight != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycles_in_flight",
			Help:      "Cycles currently running.",
		}, g.InFlight))
	}
	if g.CircuitsOpen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuits_open",
			Help:      "Subscriptions paused by the not-found breaker.",
		}, g.CircuitsOpen))
	}
	if g.BusDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events lost to slow bus subscribers.",
		}, g.BusDropped))
	}
	if g.Subscriptions != nil {
		reg.MustRegister(&subscriptionCollector{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "subscriptions"),
				"Subscriptions by status.",
				[]string{"status"}, nil,
			),
			fn: g.Subscriptions,
		})
	}
}

type subscriptionCollector struct {
	desc *prometheus.Desc
	fn   func() map[string]float64
}

func (s *subscriptionCollector) Describe(ch chan<- *prometheus.Desc) { ch <- s.desc }

func (s *subscriptionCollector) Collect(ch chan<- prometheus.Metric) {
	for status, n := range s.fn() {
		ch <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, n, status)
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveHTTP counts one ops endpoint response.
func (c *Collector) ObserveHTTP(route string, code int) {
	c.httpRequests.WithLabelValues(route, StatusClass(code)).Inc()
}

// StatusClass buckets an HTTP status code for labels, e.g. "2xx".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
