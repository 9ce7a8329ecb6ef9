package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Kind tags a task family sharing the engine. The work performed at fire time
// is the Worker registered for the kind, not engine branching.
type Kind string

// Task is one scheduled unit of one-shot or recurring future work owned by a
// single user.
//
// Target is an opaque delivery channel identifier; the engine never interprets
// it and only hands it to the Sink. Payload is kind-specific data carried
// through unchanged between fires (except when a Worker replaces it).
type Task struct {
	ID      int64
	OwnerID int64
	Target  string
	Kind    Kind
	Payload json.RawMessage
	DueAt   time.Time
	Every   time.Duration // 0 = one-shot; > 0 = fixed-interval recurrence

	// Version is bumped on every mutation and gates stale in-flight fire
	// attempts against a concurrently canceled/mutated task.
	Version uint64
}

// Recurring reports whether the task reschedules itself after firing.
func (t Task) Recurring() bool { return t.Every > 0 }

// Outcome is what a Worker produced for one fire.
type Outcome struct {
	// Payload, when non-nil, replaces the task payload on the next schedule.
	Payload json.RawMessage
	// Text, when non-empty, is delivered to the task's target via the Sink.
	Text string
}

// Worker executes one fire for a task kind. An error is treated as a
// transient failure: it is logged, the fire becomes a no-op, and the task
// stays on its schedule.
type Worker func(ctx context.Context, task Task) (Outcome, error)

// Sink delivers a notification to an opaque target. Delivery failures are
// logged and swallowed by the engine; they never stop a task.
type Sink interface {
	Send(ctx context.Context, target, text string) error
}

// Config controls engine-wide scheduling policy.
type Config struct {
	// RetryDelay is how long a one-shot task waits before the next attempt
	// after a failed fire. Default 1m.
	RetryDelay time.Duration

	// MinInterval is the smallest accepted recurrence interval. Default 1m.
	MinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Minute
	}
	return c
}

type kindDef struct {
	worker Worker
	// cap limits how many live tasks of this kind one owner may hold.
	// 0 means unlimited.
	cap int
}

// FireEvent is published on the event bus after a completed fire cycle.
type FireEvent struct {
	TaskID  int64  `json:"task_id"`
	OwnerID int64  `json:"owner_id"`
	Kind    string `json:"kind"`
	Retired bool   `json:"retired"`
	Error   string `json:"error,omitempty"`
}
