package engine

import (
	"context"
	"time"

	"zvonbot/internal/eventbus"
	"zvonbot/pkg/logx"
)

// runTask is the per-task execution unit. Exactly one runs per live task.
//
// The loop suspends until the due time, re-validates the task version at wake,
// fires, and commits the reschedule/retire with a second version check. Any
// mismatch means the task was canceled or mutated concurrently and the unit
// exits silently without side effects.
func (s *Service) runTask(ctx context.Context, owner, id int64, version uint64, stop <-chan struct{}) {
	for {
		t, ok := s.reg.get(owner, id)
		if !ok || t.Version != version {
			return
		}

		if d := time.Until(t.DueAt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				// Canceled mid-sleep: wake early, exit without firing.
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// Wake-time check: the task may have been canceled or mutated while
		// this unit slept.
		t, ok = s.reg.get(owner, id)
		if !ok || t.Version != version {
			return
		}

		next, alive := s.fire(ctx, t)
		if !alive {
			return
		}
		version = next
	}
}

// fire runs one fire cycle for the task snapshot: worker, sink, then the
// version-gated commit. It returns the task's new version and whether this
// execution unit should keep running.
func (s *Service) fire(ctx context.Context, t Task) (uint64, bool) {
	worker := s.workerFor(t.Kind)

	var (
		out     Outcome
		workErr error
	)
	if worker == nil {
		// Can only happen when a kind is unregistered at runtime; treat like
		// a transient failure so the schedule is preserved.
		s.log.Warn("no worker for task kind", logx.Int64("task", t.ID), logx.String("kind", string(t.Kind)))
	} else {
		out, workErr = worker(ctx, t)
		if workErr != nil {
			fields := []logx.Field{
				logx.Int64("task", t.ID),
				logx.String("kind", string(t.Kind)),
				logx.Err(workErr),
			}
			if IsTransient(workErr) {
				s.log.Debug("task work failed; keeping schedule", fields...)
			} else {
				s.log.Warn("task work failed; keeping schedule", fields...)
			}
		}
	}

	// At most one sink call per fire. A delivery failure is logged and
	// swallowed; the fire still counts as completed.
	if workErr == nil && out.Text != "" {
		if err := s.sink.Send(ctx, t.Target, out.Text); err != nil {
			s.log.Warn("notification delivery failed",
				logx.Int64("task", t.ID),
				logx.String("target", t.Target),
				logx.Err(err))
		}
	}

	if workErr == nil && !t.Recurring() {
		// One-shot completed: retire. The version gate skips the retire when
		// a cancel or mutation won the race mid-fire.
		if _, ok := s.reg.removeIfVersion(t.OwnerID, t.ID, t.Version); !ok {
			return 0, false
		}
		s.persist(ctx)
		s.publish(eventbus.TypeTaskRetired, FireEvent{TaskID: t.ID, OwnerID: t.OwnerID, Kind: string(t.Kind), Retired: true})
		s.log.Debug("one-shot task retired", logx.Int64("task", t.ID), logx.Int64("owner", t.OwnerID))
		return 0, false
	}

	now := time.Now()
	updated, ok := s.reg.updateIfVersion(t.OwnerID, t.ID, t.Version, func(cur *Task) {
		if workErr == nil && out.Payload != nil {
			cur.Payload = out.Payload
		}
		cur.DueAt = nextDue(t, now, s.cfg.RetryDelay)
	})
	if !ok {
		// Canceled/mutated mid-fire: skip the reschedule entirely.
		return 0, false
	}
	s.persist(ctx)

	ev := FireEvent{TaskID: t.ID, OwnerID: t.OwnerID, Kind: string(t.Kind)}
	if workErr != nil {
		ev.Error = workErr.Error()
	}
	s.publish(eventbus.TypeTaskFired, ev)
	return updated.Version, true
}

// nextDue computes the next fire time after a completed cycle.
//
// Recurring tasks keep the original anchor: due advances in whole recurrence
// steps until it lands in the future, so a catch-up fire after downtime does
// not drift the schedule, and a transient failure does not defer the next
// attempt. A failed one-shot retries after a fixed delay.
func nextDue(t Task, now time.Time, retryDelay time.Duration) time.Time {
	if !t.Recurring() {
		return now.Add(retryDelay)
	}
	next := t.DueAt.Add(t.Every)
	for !next.After(now) {
		next = next.Add(t.Every)
	}
	return next
}
