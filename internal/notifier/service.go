package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zvonbot/internal/eventbus"
	rtsup "zvonbot/internal/runtime/supervisor"
	kit "zvonbot/internal/transport"
	"zvonbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrBadTarget = errors.New("notifier target is not a chat id")
)

type job struct {
	to   kit.ChatTarget
	text string
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service implements an async delivery pipeline behind the engine's Sink:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	queue chan job
	sup   *rtsup.Supervisor

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log,
		bus:     bus,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	queue := s.queue
	workers := s.cfg.Workers
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.Go0(fmt.Sprintf("worker:%d", i), func(c context.Context) {
			s.worker(c, queue)
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	return sup.Wait(ctx)
}

// Send implements engine.Sink. The opaque target is a decimal chat id. The
// call enqueues and returns; delivery happens on a worker with rate limiting
// and bounded retries. A full queue surfaces as a delivery failure.
func (s *Service) Send(ctx context.Context, target, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTarget, target)
	}
	return s.Notify(ctx, kit.ChatTarget{ChatID: chatID}, text)
}

// Notify enqueues one outbound message.
func (s *Service) Notify(ctx context.Context, to kit.ChatTarget, text string) error {
	_ = ctx
	s.mu.Lock()
	queue := s.queue
	enabled := s.cfg.Enabled
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	if !enabled {
		return ErrDisabled
	}
	if queue == nil {
		return ErrStopped
	}

	j := job{to: to, text: text}
	if window > 0 {
		j.dedupKey = dedupKey(to.ChatID, text)
	}

	select {
	case queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	if j.dedupKey != "" && s.suppressed(j.dedupKey) {
		s.log.Debug("duplicate notification suppressed", logx.Int64("chat", j.to.ChatID))
		return
	}

	s.mu.Lock()
	lim := s.limiter
	retryMax := s.cfg.RetryMax
	retryBase := s.cfg.RetryBase
	retryMaxDelay := s.cfg.RetryMaxDelay
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	var err error
	for attempt := 0; ; attempt++ {
		_, err = s.adapter.SendText(ctx, j.to, j.text, nil)
		if err == nil || attempt >= retryMax || ctx.Err() != nil {
			break
		}
		delay := backoff(retryBase, retryMaxDelay, attempt)
		s.log.Debug("send failed; retrying", logx.Int64("chat", j.to.ChatID), logx.Int("attempt", attempt+1), logx.Duration("in", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	ev := DeliveryEvent{ChatID: j.to.ChatID, Key: j.dedupKey, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("notification delivery failed", logx.Int64("chat", j.to.ChatID), logx.Err(err))
		s.publish(eventbus.TypeNotifyFailed, ev)
		return
	}
	if j.dedupKey != "" && window > 0 {
		s.remember(j.dedupKey, time.Now().Add(window))
	}
	s.publish(eventbus.TypeNotifySent, ev)
}

func (s *Service) suppressed(key string) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	until, ok := s.dedup[key]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(s.dedup, key)
		return false
	}
	return true
}

func (s *Service) remember(key string, until time.Time) {
	s.mu.Lock()
	maxEntries := s.cfg.DedupMaxEntries
	s.mu.Unlock()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if len(s.dedup) >= maxEntries {
		s.pruneLocked()
	}
	s.dedup[key] = until
}

// PruneDedup drops expired dedup entries. Called periodically by housekeeping.
func (s *Service) PruneDedup() int {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	before := len(s.dedup)
	s.pruneLocked()
	return before - len(s.dedup)
}

func (s *Service) pruneLocked() {
	now := time.Now()
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func dedupKey(chatID int64, text string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d\x00%s", chatID, text)
	return strconv.FormatUint(h.Sum64(), 16)
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	// 20% jitter keeps retries from aligning.
	j := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d - j
}
