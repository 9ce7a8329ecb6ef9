package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"zvonbot/internal/storage"
	"zvonbot/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	recs    []storage.TaskRecord
	saves   int
	loadErr error
}

func (m *memStore) Load(context.Context) ([]storage.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]storage.TaskRecord(nil), m.recs...), nil
}

func (m *memStore) Save(_ context.Context, recs []storage.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append([]storage.TaskRecord(nil), recs...)
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) records() []storage.TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.TaskRecord(nil), m.recs...)
}

type sentMsg struct {
	target string
	text   string
}

type captureSink struct {
	mu   sync.Mutex
	sent []sentMsg
	ch   chan sentMsg
	err  error
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan sentMsg, 32)}
}

func (c *captureSink) Send(_ context.Context, target, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentMsg{target: target, text: text})
	err := c.err
	c.mu.Unlock()
	select {
	case c.ch <- sentMsg{target: target, text: text}:
	default:
	}
	return err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testConfig() Config {
	return Config{RetryDelay: 30 * time.Millisecond, MinInterval: 10 * time.Millisecond}
}

func newTestEngine(t *testing.T, st storage.Store, sink Sink) *Service {
	t.Helper()
	if st == nil {
		st = &memStore{}
	}
	if sink == nil {
		sink = newCaptureSink()
	}
	s := New(testConfig(), st, sink, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = s.Stop(stopCtx)
		cancel()
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOneShotFiresOnceAndRetires(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	sink := newCaptureSink()
	s := newTestEngine(t, st, sink)

	fires := 0
	var mu sync.Mutex
	s.RegisterKind("call", 0, func(_ context.Context, task Task) (Outcome, error) {
		mu.Lock()
		fires++
		mu.Unlock()
		return Outcome{Text: "call mom"}, nil
	})

	tk, err := s.Create(context.Background(), 7, "chat-7", "call", nil, time.Now().Add(20*time.Millisecond), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ID == 0 || tk.Recurring() {
		t.Fatalf("unexpected task: %+v", tk)
	}

	select {
	case msg := <-sink.ch:
		if msg.target != "chat-7" || msg.text != "call mom" {
			t.Fatalf("unexpected delivery: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}

	waitFor(t, "task retirement", func() bool {
		return len(s.List(7)) == 0
	})

	// Give a hypothetical second fire room to happen; it must not.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	n := fires
	mu.Unlock()
	if n != 1 {
		t.Fatalf("one-shot fired %d times, want 1", n)
	}
	if got := len(st.records()); got != 0 {
		t.Fatalf("store still holds %d records after retirement", got)
	}
}

func TestRecurringTaskStaysScheduled(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	s := newTestEngine(t, st, nil)

	var mu sync.Mutex
	fires := 0
	s.RegisterKind("poll", 0, func(context.Context, Task) (Outcome, error) {
		mu.Lock()
		fires++
		mu.Unlock()
		return Outcome{}, nil
	})

	every := 40 * time.Millisecond
	tk, err := s.Create(context.Background(), 1, "c", "poll", nil, time.Now().Add(20*time.Millisecond), every)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, "three fires", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fires >= 3
	})

	got, err := s.Get(1, tk.ID)
	if err != nil {
		t.Fatalf("recurring task disappeared: %v", err)
	}
	if !got.DueAt.After(time.Now().Add(-every)) {
		t.Fatalf("due time did not advance: %v", got.DueAt)
	}
	// The persisted mirror tracks the live schedule.
	recs := st.records()
	if len(recs) != 1 || recs[0].Every != every.String() {
		t.Fatalf("unexpected persisted records: %+v", recs)
	}
}

func TestWorkerFailureKeepsSchedule(t *testing.T) {
	t.Parallel()
	sink := newCaptureSink()
	s := newTestEngine(t, nil, sink)

	var mu sync.Mutex
	attempts := 0
	s.RegisterKind("flaky", 0, func(context.Context, Task) (Outcome, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return Outcome{}, errors.New("upstream unavailable")
		}
		return Outcome{Text: "done"}, nil
	})

	if _, err := s.Create(context.Background(), 2, "c", "flaky", nil, time.Now().Add(15*time.Millisecond), 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// First attempt fails; the retry delay reschedules the same one-shot.
	select {
	case <-sink.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never delivered")
	}
	mu.Lock()
	n := attempts
	mu.Unlock()
	if n != 2 {
		t.Fatalf("attempts = %d, want 2", n)
	}
	waitFor(t, "retirement after successful retry", func() bool {
		return len(s.List(2)) == 0
	})
}

func TestCancelStopsPendingFire(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)

	var mu sync.Mutex
	fires := 0
	s.RegisterKind("slow", 0, func(context.Context, Task) (Outcome, error) {
		mu.Lock()
		fires++
		mu.Unlock()
		return Outcome{}, nil
	})

	tk, err := s.Create(context.Background(), 3, "c", "slow", nil, time.Now().Add(150*time.Millisecond), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Cancel(context.Background(), 3, tk.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Second cancel and lookups of the dead id report not found.
	if err := s.Cancel(context.Background(), 3, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Cancel = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(3, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after cancel = %v, want ErrNotFound", err)
	}

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fires != 0 {
		t.Fatalf("canceled task fired %d times", fires)
	}
}

func TestCancelUnknownID(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	if err := s.Cancel(context.Background(), 1, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel(999) = %v, want ErrNotFound", err)
	}
}

func TestOwnerIsolation(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })

	tk, err := s.Create(context.Background(), 10, "c", "k", nil, time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Get(11, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-owner Get = %v, want ErrNotFound", err)
	}
	if err := s.Cancel(context.Background(), 11, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-owner Cancel = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(10, tk.ID); err != nil {
		t.Fatalf("owner Get after cross-owner attempts: %v", err)
	}
}

func TestPerOwnerCapacity(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("capped", 10, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	s.RegisterKind("other", 10, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })

	due := time.Now().Add(time.Hour)
	for i := 0; i < 10; i++ {
		if _, err := s.Create(context.Background(), 5, "c", "capped", nil, due, 0); err != nil {
			t.Fatalf("Create #%d: %v", i+1, err)
		}
	}
	if _, err := s.Create(context.Background(), 5, "c", "capped", nil, due, 0); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("11th Create = %v, want ErrCapacityExceeded", err)
	}
	if got := len(s.List(5)); got != 10 {
		t.Fatalf("List after rejected create = %d tasks, want 10", got)
	}

	// The cap is per owner and per kind.
	if _, err := s.Create(context.Background(), 5, "c", "other", nil, due, 0); err != nil {
		t.Fatalf("other kind blocked by cap: %v", err)
	}
	if _, err := s.Create(context.Background(), 6, "c", "capped", nil, due, 0); err != nil {
		t.Fatalf("other owner blocked by cap: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })

	ctx := context.Background()
	if _, err := s.Create(ctx, 1, "c", "k", nil, time.Now().Add(-time.Minute), 0); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("past due = %v, want ErrInvalidSchedule", err)
	}
	if _, err := s.Create(ctx, 1, "c", "k", nil, time.Now().Add(time.Hour), time.Millisecond); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("tiny interval = %v, want ErrInvalidSchedule", err)
	}
	if _, err := s.Create(ctx, 1, "c", "nope", nil, time.Now().Add(time.Hour), 0); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind = %v, want ErrUnknownKind", err)
	}
}

func TestCreateBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &memStore{}, newCaptureSink(), logx.Nop(), nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	if _, err := s.Create(context.Background(), 1, "c", "k", nil, time.Now().Add(time.Hour), 0); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Create before Start = %v, want ErrNotStarted", err)
	}
}

func TestListOrderedByDueTime(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })

	base := time.Now().Add(time.Hour)
	for _, off := range []time.Duration{30 * time.Minute, 10 * time.Minute, 20 * time.Minute} {
		if _, err := s.Create(context.Background(), 9, "c", "k", nil, base.Add(off), 0); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	got := s.List(9)
	if len(got) != 3 {
		t.Fatalf("List = %d tasks, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DueAt.Before(got[i-1].DueAt) {
			t.Fatalf("tasks out of order: %v before %v", got[i].DueAt, got[i-1].DueAt)
		}
	}
}

func TestResumeAfterRestart(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	sink := newCaptureSink()

	// First incarnation: a one-shot far in the future plus a recurring task.
	a := newTestEngine(t, st, sink)
	a.RegisterKind("r", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	if _, err := a.Create(context.Background(), 1, "c", "r", json.RawMessage(`{"n":1}`), time.Now().Add(time.Hour), 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := a.Create(context.Background(), 1, "c", "r", nil, time.Now().Add(time.Hour), time.Minute); err != nil {
		t.Fatalf("Create recurring: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = a.Stop(stopCtx)
	cancel()

	// Second incarnation resumes both from the shared store.
	b := newTestEngine(t, st, sink)
	var mu sync.Mutex
	fires := 0
	b.RegisterKind("r", 0, func(context.Context, Task) (Outcome, error) {
		mu.Lock()
		fires++
		mu.Unlock()
		return Outcome{}, nil
	})
	if err := b.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}

	got := b.List(1)
	if len(got) != 2 {
		t.Fatalf("resumed %d tasks, want 2", len(got))
	}
	if string(got[0].Payload) != `{"n":1}` && string(got[1].Payload) != `{"n":1}` {
		t.Fatal("payload not preserved across restart")
	}
	// Nothing is due yet, so nothing fires.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fires != 0 {
		t.Fatalf("future tasks fired %d times right after resume", fires)
	}
}

func TestResumeOverdueCatchesUpOnce(t *testing.T) {
	t.Parallel()
	every := 300 * time.Millisecond
	st := &memStore{recs: []storage.TaskRecord{
		{
			ID: 42, OwnerID: 1, Target: "c", Kind: "poll",
			DueAt: time.Now().Add(-5 * every), Every: every.String(),
		},
		{
			ID: 43, OwnerID: 1, Target: "c", Kind: "poll",
			DueAt: time.Now().Add(-time.Hour),
		},
	}}
	s := newTestEngine(t, st, nil)

	var mu sync.Mutex
	fires := map[int64]int{}
	s.RegisterKind("poll", 0, func(_ context.Context, task Task) (Outcome, error) {
		mu.Lock()
		fires[task.ID]++
		mu.Unlock()
		return Outcome{}, nil
	})
	if err := s.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}

	// The overdue one-shot fires once and retires; the overdue recurring task
	// catches up with exactly one immediate fire, not one per missed interval.
	waitFor(t, "catch-up fires", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fires[42] >= 1 && fires[43] >= 1
	})
	time.Sleep(every / 2)
	mu.Lock()
	if fires[42] != 1 {
		mu.Unlock()
		t.Fatalf("recurring task caught up %d times, want 1", fires[42])
	}
	if fires[43] != 1 {
		mu.Unlock()
		t.Fatalf("one-shot fired %d times after resume, want 1", fires[43])
	}
	mu.Unlock()

	got, err := s.Get(1, 42)
	if err != nil {
		t.Fatalf("recurring task gone after catch-up: %v", err)
	}
	if !got.DueAt.After(time.Now()) {
		t.Fatalf("recurring due not moved to the future: %v", got.DueAt)
	}
	if _, err := s.Get(1, 43); !errors.Is(err, ErrNotFound) {
		t.Fatal("overdue one-shot still alive after catch-up fire")
	}
}

func TestResumeSkipsBadRecords(t *testing.T) {
	t.Parallel()
	st := &memStore{recs: []storage.TaskRecord{
		{ID: 1, OwnerID: 1, Target: "c", Kind: "known", DueAt: time.Now().Add(time.Hour)},
		{ID: 2, OwnerID: 1, Target: "c", Kind: "unknown", DueAt: time.Now().Add(time.Hour)},
		{ID: 0, OwnerID: 1, Target: "c", Kind: "known", DueAt: time.Now().Add(time.Hour)},
		{ID: 3, OwnerID: 1, Target: "c", Kind: "known"},
		{ID: 4, OwnerID: 1, Target: "c", Kind: "known", DueAt: time.Now().Add(time.Hour), Every: "banana"},
	}}
	s := newTestEngine(t, st, nil)
	s.RegisterKind("known", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	if err := s.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	got := s.List(1)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("resumed %+v, want only task 1", got)
	}
}

func TestResumeLoadFailureStartsEmpty(t *testing.T) {
	t.Parallel()
	st := &memStore{loadErr: errors.New("disk gone")}
	s := newTestEngine(t, st, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	if err := s.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll should degrade to empty, got %v", err)
	}
	if got := len(s.List(1)); got != 0 {
		t.Fatalf("unexpected tasks after failed load: %d", got)
	}
}

func TestIDsNotReusedAfterResume(t *testing.T) {
	t.Parallel()
	st := &memStore{recs: []storage.TaskRecord{
		{ID: 100, OwnerID: 1, Target: "c", Kind: "k", DueAt: time.Now().Add(time.Hour)},
	}}
	s := newTestEngine(t, st, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	if err := s.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	tk, err := s.Create(context.Background(), 1, "c", "k", nil, time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ID <= 100 {
		t.Fatalf("new id %d collides with restored id space", tk.ID)
	}
}

func TestSinkFailureDoesNotStopTask(t *testing.T) {
	t.Parallel()
	sink := newCaptureSink()
	sink.err = errors.New("telegram down")
	s := newTestEngine(t, nil, sink)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) {
		return Outcome{Text: "hi"}, nil
	})

	if _, err := s.Create(context.Background(), 1, "c", "k", nil, time.Now().Add(15*time.Millisecond), 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Delivery failed, but the fire still completes and the one-shot retires.
	waitFor(t, "retirement despite failed delivery", func() bool {
		return len(s.List(1)) == 0
	})
	if sink.count() != 1 {
		t.Fatalf("sink called %d times, want 1", sink.count())
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("a", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })
	s.RegisterKind("b", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })

	due := time.Now().Add(time.Hour)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, 1, "c", "a", nil, due, 0); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := s.Create(ctx, 2, "c", "b", nil, due, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st := s.Stats()
	if st.Total != 4 || st.Owners != 2 || st.PerKind["a"] != 3 || st.PerKind["b"] != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestNextDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	anchor := now.Add(-95 * time.Minute)

	tests := []struct {
		name  string
		task  Task
		retry time.Duration
		want  time.Time
	}{
		{
			name:  "failed one-shot retries after fixed delay",
			task:  Task{DueAt: now.Add(-time.Minute)},
			retry: time.Minute,
			want:  now.Add(time.Minute),
		},
		{
			name: "recurring advances one step",
			task: Task{DueAt: now.Add(-time.Second), Every: 10 * time.Minute},
			want: now.Add(10*time.Minute - time.Second),
		},
		{
			name: "recurring keeps anchor across missed intervals",
			task: Task{DueAt: anchor, Every: 30 * time.Minute},
			// 95 minutes late: skips the 3 missed slots, lands on anchor+4Δ.
			want: anchor.Add(4 * 30 * time.Minute),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := nextDue(tt.task, now, tt.retry)
			if !got.Equal(tt.want) {
				t.Fatalf("nextDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryVersionGates(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	tk, err := r.add(Task{OwnerID: 1, Kind: "k", DueAt: time.Now()}, 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if tk.Version != 1 {
		t.Fatalf("new task version = %d, want 1", tk.Version)
	}

	upd, ok := r.updateIfVersion(1, tk.ID, tk.Version, func(t *Task) { t.DueAt = t.DueAt.Add(time.Hour) })
	if !ok || upd.Version != 2 {
		t.Fatalf("update = %+v ok=%v", upd, ok)
	}

	// Stale version: both mutation paths refuse.
	if _, ok := r.updateIfVersion(1, tk.ID, tk.Version, func(*Task) {}); ok {
		t.Fatal("stale update accepted")
	}
	if _, ok := r.removeIfVersion(1, tk.ID, tk.Version); ok {
		t.Fatal("stale remove accepted")
	}
	if _, ok := r.removeIfVersion(1, tk.ID, upd.Version); !ok {
		t.Fatal("current-version remove refused")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	in := Task{
		ID: 5, OwnerID: 9, Target: "c", Kind: "k",
		Payload: json.RawMessage(`{"x":1}`),
		DueAt:   time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		Every:   45 * time.Minute,
	}
	out, err := taskFromRecord(recordFromTask(in))
	if err != nil {
		t.Fatalf("taskFromRecord: %v", err)
	}
	if out.ID != in.ID || out.OwnerID != in.OwnerID || out.Kind != in.Kind ||
		!out.DueAt.Equal(in.DueAt) || out.Every != in.Every || string(out.Payload) != `{"x":1}` {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestConcurrentCreateAndCancel(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, nil, nil)
	s.RegisterKind("k", 0, func(context.Context, Task) (Outcome, error) { return Outcome{}, nil })

	var wg sync.WaitGroup
	due := time.Now().Add(time.Hour)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(owner int64) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tk, err := s.Create(context.Background(), owner, "c", "k", nil, due, 0)
				if err != nil {
					panic(fmt.Sprintf("Create: %v", err))
				}
				if j%2 == 0 {
					_ = s.Cancel(context.Background(), owner, tk.ID)
				}
			}
		}(int64(i))
	}
	wg.Wait()

	total := 0
	for i := int64(0); i < 8; i++ {
		total += len(s.List(i))
	}
	if total != 8*10 {
		t.Fatalf("surviving tasks = %d, want %d", total, 8*10)
	}
}

func TestTransientErrorClassification(t *testing.T) {
	t.Parallel()
	base := errors.New("upstream timeout")
	wrapped := Transient(base)
	if !IsTransient(wrapped) {
		t.Fatal("wrapped error not recognized as transient")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("Unwrap lost the cause")
	}
	if got := wrapped.Error(); got != "transient: upstream timeout" {
		t.Fatalf("Error() = %q", got)
	}
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) must stay nil")
	}
	if IsTransient(base) {
		t.Fatal("plain error misclassified as transient")
	}
}
