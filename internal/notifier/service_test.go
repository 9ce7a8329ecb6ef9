package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zvonbot/internal/transport"
	"zvonbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	fail  int // fail this many sends before succeeding
	ch    chan string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{ch: make(chan string, 64)}
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Message) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                            { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	if a.fail > 0 {
		a.fail--
		a.mu.Unlock()
		return transport.MessageRef{}, errors.New("flood wait")
	}
	a.sent = append(a.sent, text)
	a.chats = append(a.chats, to.ChatID)
	a.mu.Unlock()
	select {
	case a.ch <- text:
	default:
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func testCfg() Config {
	return Config{
		Enabled:    true,
		Workers:    2,
		QueueSize:  16,
		RatePerSec: 1000,
		RetryMax:   2,
		RetryBase:  time.Millisecond,
	}
}

func startService(t *testing.T, cfg Config, ad *fakeAdapter) *Service {
	t.Helper()
	s := New(cfg, ad, logx.Nop(), nil)
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

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := startService(t, testCfg(), ad)

	if err := s.Send(context.Background(), "12345", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-ad.ch:
		if got != "hello" {
			t.Fatalf("delivered %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never delivered")
	}
	ad.mu.Lock()
	chat := ad.chats[0]
	ad.mu.Unlock()
	if chat != 12345 {
		t.Fatalf("delivered to chat %d", chat)
	}
}

func TestSendRejectsBadTarget(t *testing.T) {
	t.Parallel()
	s := startService(t, testCfg(), newFakeAdapter())
	if err := s.Send(context.Background(), "not-a-chat", "x"); !errors.Is(err, ErrBadTarget) {
		t.Fatalf("Send = %v, want ErrBadTarget", err)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.Enabled = false
	s := New(cfg, newFakeAdapter(), logx.Nop(), nil)
	if err := s.Notify(context.Background(), transport.ChatTarget{ChatID: 1}, "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify = %v, want ErrDisabled", err)
	}
}

func TestNotifyNotStarted(t *testing.T) {
	t.Parallel()
	s := New(testCfg(), newFakeAdapter(), logx.Nop(), nil)
	if err := s.Notify(context.Background(), transport.ChatTarget{ChatID: 1}, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify = %v, want ErrStopped", err)
	}
}

func TestRetryEventuallyDelivers(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.fail = 2
	s := startService(t, testCfg(), ad)

	if err := s.Send(context.Background(), "1", "retry me"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-ad.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("retries never delivered")
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	cfg := testCfg()
	cfg.Workers = 1
	cfg.DedupWindow = time.Minute
	s := startService(t, cfg, ad)

	to := transport.ChatTarget{ChatID: 9}
	if err := s.Notify(context.Background(), to, "same text"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case <-ad.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("first copy never delivered")
	}

	if err := s.Notify(context.Background(), to, "same text"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := s.Notify(context.Background(), to, "different text"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case got := <-ad.ch:
		if got != "different text" {
			t.Fatalf("duplicate slipped through: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second distinct message never delivered")
	}
	if n := ad.count(); n != 2 {
		t.Fatalf("delivered %d messages, want 2", n)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.QueueSize = 1
	cfg.Workers = 1
	// The service is never started, so nothing drains the queue. Fill it by
	// hand through the unexported field path: start, then saturate fast.
	ad := newFakeAdapter()
	ad.fail = 1 << 30 // every send fails, workers stay busy retrying
	cfg.RetryMax = 1000
	cfg.RetryBase = 50 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	s := startService(t, cfg, ad)

	var sawFull bool
	for i := 0; i < 64; i++ {
		if err := s.Notify(context.Background(), transport.ChatTarget{ChatID: 1}, "x"); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}
}

func TestPruneDedup(t *testing.T) {
	t.Parallel()
	s := New(testCfg(), newFakeAdapter(), logx.Nop(), nil)
	s.remember("expired", time.Now().Add(-time.Minute))
	s.remember("live", time.Now().Add(time.Minute))

	if got := s.PruneDedup(); got != 1 {
		t.Fatalf("PruneDedup = %d, want 1", got)
	}
	if s.suppressed("expired") {
		t.Fatal("expired key still suppresses")
	}
	if !s.suppressed("live") {
		t.Fatal("live key lost")
	}
}

func TestBackoffBounded(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	max := time.Second
	for attempt := 0; attempt < 20; attempt++ {
		d := backoff(base, max, attempt)
		if d <= 0 || d > max {
			t.Fatalf("backoff(attempt=%d) = %v out of (0, %v]", attempt, d, max)
		}
	}
}
