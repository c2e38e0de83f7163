// Package metrics registers the market service collectors. A nil *Metrics is
// valid and records nothing, so services can be built without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "freshsave"

type Metrics struct {
	Registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	deliveries    *prometheus.CounterVec
	lapsedOrders  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order transition attempts by source status, target status and outcome.",
		}, []string{"from", "to", "result"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Items handled by the expiry sweep by outcome.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one expiry sweep run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Discount notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		lapsedOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_lapsed_total",
			Help:      "Pending orders moved to expired by housekeeping.",
		}),
	}

	reg.MustRegister(m.transitions, m.sweepItems, m.sweepDuration, m.deliveries, m.lapsedOrders)
	return m
}

func (m *Metrics) Transition(from, to string, err error) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(from, to, result(err)).Inc()
}

func (m *Metrics) SweepItems(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.sweepItems.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) SweepDuration(d time.Duration) {
	if m == nil {
		return
	}

	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) Delivery(channel string, err error) {
	if m == nil {
		return
	}

	m.deliveries.WithLabelValues(channel, result(err)).Inc()
}

func (m *Metrics) OrdersLapsed(n int) {
	if m == nil || n == 0 {
		return
	}

	m.lapsedOrders.Add(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
