// Package metrics exposes poll and scrape outcomes to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsprackett/cursor-balance/internal/balance"
)

const namespace = "cursorbal"

// Label values for poll results.
const (
	PollOK        = "ok"
	PollLoggedOut = "logged_out"
	PollError     = "error"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	usagePercent *prometheus.GaugeVec
	usedDollars  prometheus.Gauge
	limitDollars prometheus.Gauge
	detailed     *prometheus.GaugeVec
	scrapes      *prometheus.CounterVec
	loggedIn     prometheus.Gauge
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of usage polls by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent in a single usage poll.",
			Buckets:   prometheus.DefBuckets,
		}),
		usagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_percent",
			Help:      "Plan usage percentage by kind (api, auto, total).",
		}, []string{"kind"}),
		usedDollars: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_used",
			Help:      "Plan usage consumed in the current billing cycle.",
		}),
		limitDollars: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_limit",
			Help:      "Plan usage limit for the current billing cycle.",
		}),
		detailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detailed_usage_dollars",
			Help:      "Spend in dollars by bucket (total, auto, others).",
		}, []string{"bucket"}),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detailed_updates_total",
			Help:      "Total number of detailed usage updates by source.",
		}, []string{"source"}),
		loggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "logged_in",
			Help:      "1 when the stored session is logged in.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.polls, m.pollDuration, m.usagePercent, m.usedDollars,
			m.limitDollars, m.detailed, m.scrapes, m.loggedIn,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) ObservePoll(result string, seconds float64) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollDuration.Observe(seconds)
	if result == PollLoggedOut {
		m.loggedIn.Set(0)
	}
}

func (m *Metrics) SetUsage(u *balance.Usage) {
	if m == nil || u == nil {
		return
	}
	m.loggedIn.Set(1)
	m.usagePercent.WithLabelValues("api").Set(u.APIPercentUsed)
	m.usagePercent.WithLabelValues("auto").Set(u.AutoPercentUsed)
	m.usagePercent.WithLabelValues("total").Set(u.TotalPercentUsed)
	m.usedDollars.Set(u.Used)
	m.limitDollars.Set(u.Limit)
}

func (m *Metrics) SetDetailed(d balance.DetailedUsage) {
	if m == nil {
		return
	}
	source := d.Source
	if source == "" {
		source = balance.SourcePage
	}
	m.scrapes.WithLabelValues(source).Inc()
	m.detailed.WithLabelValues("total").Set(d.Total)
	m.detailed.WithLabelValues("auto").Set(d.Auto)
	m.detailed.WithLabelValues("others").Set(d.Others)
}

// Reset clears usage gauges after a logout.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.loggedIn.Set(0)
	m.usagePercent.Reset()
	m.detailed.Reset()
	m.usedDollars.Set(0)
	m.limitDollars.Set(0)
}
