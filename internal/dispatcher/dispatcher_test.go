package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

type sent struct{ chat, text string }

type fakeDeliverer struct {
	mu     sync.Mutex
	sent   []sent
	failOn map[string]bool
	notify chan struct{}
}

func (f *fakeDeliverer) Deliver(_ context.Context, chat, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[chat] {
		return errors.New("chat unreachable")
	}
	f.sent = append(f.sent, sent{chat: chat, text: text})
	if f.notify != nil {
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func put(t *testing.T, st storage.Store, r reminder.Reminder) {
	t.Helper()
	if err := st.Put(context.Background(), r); err != nil {
		t.Fatalf("Put %s: %v", r.ID, err)
	}
}

var now = time.Date(2024, 3, 10, 8, 0, 5, 0, time.UTC)

func newTestDispatcher(st Store, out Deliverer, reg prometheus.Registerer, conc int) *Dispatcher {
	return New(st, out, Config{Concurrency: conc, Location: time.UTC},
		WithClock(func() time.Time { return now }),
		WithRegisterer(reg),
	)
}

func TestTickOneTimeIsDeliveredAndDeleted(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{ID: "1", Chat: "c", Sender: "u", Message: "stretch", Time: now.Add(-time.Second), Created: now.Add(-time.Hour)})
	put(t, st, reminder.Reminder{ID: "2", Chat: "c", Sender: "u", Message: "later", Time: now.Add(time.Hour), Created: now.Add(-time.Hour)})

	out := &fakeDeliverer{}
	d := newTestDispatcher(st, out, prometheus.NewRegistry(), 1)
	rep, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Loaded != 2 || rep.Due != 1 || rep.Fired != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(out.sent) != 1 || out.sent[0].chat != "c" || out.sent[0].text != "⏰ Reminder\n\nstretch" {
		t.Fatalf("sent = %+v", out.sent)
	}
	all, _ := st.LoadAll(context.Background())
	if len(all) != 1 || all[0].ID != "2" {
		t.Fatalf("store after tick = %+v", all)
	}
}

func TestTickRecurringIsAdvanced(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{
		ID: "1", Chat: "c", Sender: "u", Message: "standup",
		Time: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), Created: now.Add(-48 * time.Hour),
		CronExpression: "0 8 * * *",
	})

	out := &fakeDeliverer{}
	d := newTestDispatcher(st, out, prometheus.NewRegistry(), 1)
	if _, err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	all, _ := st.LoadAll(context.Background())
	if len(all) != 1 {
		t.Fatalf("recurring reminder removed: %+v", all)
	}
	want := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	if !all[0].Time.Equal(want) {
		t.Fatalf("next = %s, want %s", all[0].Time, want)
	}
	if !all[0].LastTriggered.Equal(now) {
		t.Fatalf("lastTriggered = %s, want %s", all[0].LastTriggered, now)
	}

	// Not due any more: a second tick delivers nothing.
	if rep, _ := d.Tick(context.Background()); rep.Due != 0 || out.count() != 1 {
		t.Fatalf("second tick report = %+v, sent = %d", rep, out.count())
	}
}

func TestTickFailureLeavesRecordAndContinues(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{ID: "1", Chat: "down", Sender: "u", Message: "a", Time: now.Add(-time.Minute), Created: now.Add(-time.Hour)})
	put(t, st, reminder.Reminder{ID: "2", Chat: "up", Sender: "u", Message: "b", Time: now.Add(-time.Minute), Created: now.Add(-time.Hour)})
	put(t, st, reminder.Reminder{ID: "3", Chat: "down", Sender: "u", Message: "c", Time: now.Add(-time.Minute), Created: now.Add(-time.Hour), CronExpression: "*/5 * * * *"})

	reg := prometheus.NewRegistry()
	out := &fakeDeliverer{failOn: map[string]bool{"down": true}}
	d := newTestDispatcher(st, out, reg, 1)
	rep, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Due != 3 || rep.Fired != 1 || rep.Failed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	all, _ := st.LoadAll(context.Background())
	if len(all) != 2 {
		t.Fatalf("store = %+v, want failed records kept", all)
	}
	for _, r := range all {
		if !r.Time.Equal(now.Add(-time.Minute)) {
			t.Fatalf("failed record %s was modified: %s", r.ID, r.Time)
		}
	}
	if got := testutil.ToFloat64(d.m.failures); got != 2 {
		t.Fatalf("failures metric = %v, want 2", got)
	}
	if got := testutil.ToFloat64(d.m.fired.WithLabelValues("once")); got != 1 {
		t.Fatalf("fired{once} = %v, want 1", got)
	}

	// Retried on the next tick once the chat is reachable.
	out.mu.Lock()
	out.failOn = nil
	out.mu.Unlock()
	rep, _ = d.Tick(context.Background())
	if rep.Fired != 2 {
		t.Fatalf("retry report = %+v", rep)
	}
}

func TestTickSkipsInvalidStoredSchedule(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{ID: "1", Chat: "c", Sender: "u", Message: "x", Time: now.Add(-time.Minute), Created: now, CronExpression: "61 * * * *"})

	out := &fakeDeliverer{}
	d := newTestDispatcher(st, out, prometheus.NewRegistry(), 1)
	rep, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Skipped != 1 || out.count() != 0 {
		t.Fatalf("report = %+v, sent = %d", rep, out.count())
	}
	if all, _ := st.LoadAll(context.Background()); len(all) != 1 {
		t.Fatalf("skipped record should stay: %+v", all)
	}
}

func TestTickConcurrentFanOut(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	for i := 1; i <= 20; i++ {
		id := string(rune('a' + i))
		put(t, st, reminder.Reminder{ID: id, Chat: "c" + id, Sender: "u", Message: id, Time: now.Add(-time.Second), Created: now})
	}
	out := &fakeDeliverer{}
	d := newTestDispatcher(st, out, prometheus.NewRegistry(), 4)
	rep, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Fired != 20 || out.count() != 20 {
		t.Fatalf("report = %+v, sent = %d", rep, out.count())
	}
	if all, _ := st.LoadAll(context.Background()); len(all) != 0 {
		t.Fatalf("store not drained: %d left", len(all))
	}
}

type brokenStore struct{ Store }

func (brokenStore) LoadAll(context.Context) ([]reminder.Reminder, error) {
	return nil, errors.New("disk gone")
}

func TestTickReturnsLoadError(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(brokenStore{}, &fakeDeliverer{}, nil, 1)
	rep, err := d.Tick(context.Background())
	if err == nil || rep.StoreErrors != 1 {
		t.Fatalf("rep = %+v, err = %v", rep, err)
	}
	if !d.LastTick().IsZero() {
		t.Fatal("failed tick must not count as healthy")
	}
}

func TestRunTicksImmediatelyAndStops(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{ID: "1", Chat: "c", Sender: "u", Message: "x", Time: now.Add(-time.Second), Created: now})

	out := &fakeDeliverer{notify: make(chan struct{}, 1)}
	d := New(st, out, Config{Interval: time.Hour, Location: time.UTC}, WithClock(func() time.Time { return now }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-out.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not run immediately")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !d.Healthy(time.Now()) {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher should be healthy after a tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.Apply(Config{Interval: 2 * time.Hour, Location: time.UTC})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if d.Config().Interval != 2*time.Hour {
		t.Fatalf("interval = %s", d.Config().Interval)
	}
}

// hookDeliverer calls during while the send is in flight, then succeeds.
type hookDeliverer struct {
	fakeDeliverer
	during func()
}

func (h *hookDeliverer) Deliver(ctx context.Context, chat, text string) error {
	if h.during != nil {
		h.during()
	}
	return h.fakeDeliverer.Deliver(ctx, chat, text)
}

func TestTickDoesNotRestoreReminderDeletedDuringDelivery(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{
		ID: "1", Chat: "c", Sender: "u", Message: "water plants",
		Time: now.Add(-time.Second), Created: now.Add(-time.Hour), CronExpression: "* * * * *",
	})

	out := &hookDeliverer{during: func() {
		ok, err := st.Delete(context.Background(), "1", "c", "u")
		if err != nil || !ok {
			t.Errorf("Delete during delivery = %v, %v", ok, err)
		}
	}}
	d := newTestDispatcher(st, out, prometheus.NewRegistry(), 1)
	rep, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Fired != 1 || rep.StoreErrors != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if all, _ := st.LoadAll(context.Background()); len(all) != 0 {
		t.Fatalf("deleted reminder was written back: %+v", all)
	}
}

func TestTickDoesNotOverwriteReusedID(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	put(t, st, reminder.Reminder{
		ID: "1", Chat: "c", Sender: "u", Message: "old",
		Time: now.Add(-time.Second), Created: now.Add(-time.Hour), CronExpression: "*/5 * * * *",
	})
	fresh := reminder.Reminder{
		ID: "1", Chat: "c", Sender: "u", Message: "new",
		Time: now.Add(time.Hour), Created: now.Add(-time.Minute),
	}
	out := &hookDeliverer{during: func() {
		_, _ = st.Delete(context.Background(), "1", "c", "u")
		if err := st.Put(context.Background(), fresh); err != nil {
			t.Errorf("Put fresh: %v", err)
		}
	}}
	d := newTestDispatcher(st, out, prometheus.NewRegistry(), 1)
	if _, err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	all, _ := st.LoadAll(context.Background())
	if len(all) != 1 || all[0].Message != "new" || !all[0].Time.Equal(fresh.Time) || all[0].Recurring() {
		t.Fatalf("store = %+v, want the fresh reminder untouched", all)
	}
}

// flakyStore fails writes for one id.
type flakyStore struct {
	storage.Store
	failID string
}

var errWrite = errors.New("write failed")

func (f flakyStore) Advance(ctx context.Context, r reminder.Reminder) (bool, error) {
	if r.ID == f.failID {
		return false, errWrite
	}
	return f.Store.Advance(ctx, r)
}

func (f flakyStore) Delete(ctx context.Context, id, chat, sender string) (bool, error) {
	if id == f.failID {
		return false, errWrite
	}
	return f.Store.Delete(ctx, id, chat, sender)
}

func TestTickStoreWriteFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name     string
		failCron string // schedule of the record whose write fails
	}{
		{"delete", ""},
		{"advance", "0 9 * * *"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := openStore(t)
			put(t, st, reminder.Reminder{ID: "1", Chat: "c1", Sender: "u", Message: "a", Time: now.Add(-time.Minute), Created: now.Add(-3 * time.Hour)})
			put(t, st, reminder.Reminder{ID: "2", Chat: "c2", Sender: "u", Message: "b", Time: now.Add(-time.Minute), Created: now.Add(-2 * time.Hour), CronExpression: tc.failCron})
			put(t, st, reminder.Reminder{ID: "3", Chat: "c3", Sender: "u", Message: "c", Time: now.Add(-time.Minute), Created: now.Add(-time.Hour), CronExpression: "0 8 * * *"})

			reg := prometheus.NewRegistry()
			out := &fakeDeliverer{}
			d := newTestDispatcher(flakyStore{Store: st, failID: "2"}, out, reg, 1)
			rep, err := d.Tick(context.Background())
			if err != nil {
				t.Fatalf("Tick: %v", err)
			}
			if rep.Due != 3 || rep.Fired != 3 || rep.StoreErrors != 1 || out.count() != 3 {
				t.Fatalf("report = %+v, sent = %d", rep, out.count())
			}
			if got := testutil.ToFloat64(d.m.storeErrs); got != 1 {
				t.Fatalf("store errors metric = %v, want 1", got)
			}

			all, _ := st.LoadAll(context.Background())
			byID := map[string]reminder.Reminder{}
			for _, r := range all {
				byID[r.ID] = r
			}
			if _, ok := byID["1"]; ok {
				t.Fatal("one-time reminder 1 not deleted")
			}
			if r, ok := byID["2"]; !ok || !r.Time.Equal(now.Add(-time.Minute)) {
				t.Fatalf("reminder 2 = %+v, want kept unchanged after failed write", r)
			}
			if r := byID["3"]; !r.Time.Equal(time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)) {
				t.Fatalf("reminder 3 next = %s", r.Time)
			}
		})
	}
}
