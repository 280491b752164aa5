package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"remindbot/internal/reminder"
)

// instrumented records per-operation latency and outcome.
type instrumented struct {
	Store
	ops *prometheus.HistogramVec
}

// Instrument wraps s so every call is observed in
// remindbot_store_op_duration_seconds{op,result}.
func Instrument(s Store, reg prometheus.Registerer) (Store, error) {
	ops := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remindbot",
		Subsystem: "store",
		Name:      "op_duration_seconds",
		Help:      "Reminder store operation latency.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"op", "result"})
	if err := reg.Register(ops); err != nil {
		return nil, err
	}
	return &instrumented{Store: s, ops: ops}, nil
}

func (m *instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func (m *instrumented) Put(ctx context.Context, r reminder.Reminder) error {
	start := time.Now()
	err := m.Store.Put(ctx, r)
	m.observe("put", start, err)
	return err
}

func (m *instrumented) List(ctx context.Context, chat, sender string) ([]reminder.Reminder, error) {
	start := time.Now()
	out, err := m.Store.List(ctx, chat, sender)
	m.observe("list", start, err)
	return out, err
}

func (m *instrumented) Delete(ctx context.Context, id, chat, sender string) (bool, error) {
	start := time.Now()
	ok, err := m.Store.Delete(ctx, id, chat, sender)
	m.observe("delete", start, err)
	return ok, err
}

func (m *instrumented) Advance(ctx context.Context, r reminder.Reminder) (bool, error) {
	start := time.Now()
	ok, err := m.Store.Advance(ctx, r)
	m.observe("advance", start, err)
	return ok, err
}

func (m *instrumented) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	start := time.Now()
	out, err := m.Store.LoadAll(ctx)
	m.observe("load_all", start, err)
	return out, err
}

func (m *instrumented) NextID(ctx context.Context) (string, error) {
	start := time.Now()
	id, err := m.Store.NextID(ctx)
	m.observe("next_id", start, err)
	return id, err
}
