package dispatcher

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	ticks      prometheus.Counter
	fired      *prometheus.CounterVec
	failures   prometheus.Counter
	skipped    prometheus.Counter
	storeErrs  prometheus.Counter
	tickTime   prometheus.Histogram
	due        prometheus.Gauge
	lastTickTS prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "ticks_total",
			Help: "Completed dispatcher ticks.",
		}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "fired_total",
			Help: "Reminders delivered, by kind (once, recurring).",
		}, []string{"kind"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "delivery_failures_total",
			Help: "Deliveries that failed and will be retried next tick.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "skipped_total",
			Help: "Due reminders skipped because their stored schedule is invalid.",
		}),
		storeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "store_errors_total",
			Help: "Store reads or writes that failed during a tick.",
		}),
		tickTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "tick_duration_seconds",
			Help:    "Wall time of a dispatcher tick.",
			Buckets: prometheus.DefBuckets,
		}),
		due: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "due_reminders",
			Help: "Reminders found due in the last tick.",
		}),
		lastTickTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remindbot", Subsystem: "dispatcher", Name: "last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.fired, m.failures, m.skipped, m.storeErrs, m.tickTime, m.due, m.lastTickTS)
	}
	return m
}
