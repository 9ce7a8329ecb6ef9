package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"zvonbot/internal/eventbus"
	rtsup "zvonbot/internal/runtime/supervisor"
	"zvonbot/internal/storage"
	"zvonbot/pkg/logx"
)

// Service is the engine facade consumed by feature front-ends: create a task,
// list an owner's tasks, cancel a task, resume everything after a restart.
//
// The registry is the source of truth while the process lives; the store is a
// durable mirror updated synchronously on every mutation. A failed save is
// logged and never rolls back the in-memory mutation.
type Service struct {
	log   logx.Logger
	cfg   Config
	store storage.Store
	sink  Sink
	bus   eventbus.Bus

	reg *registry

	kmu   sync.RWMutex
	kinds map[Kind]kindDef

	// persistMu orders snapshot+save pairs so a save reflecting a newer
	// mutation is never overtaken by a stale one.
	persistMu sync.Mutex

	runMu   sync.Mutex
	runners map[int64]chan struct{}

	startMu sync.Mutex
	sup     *rtsup.Supervisor
}

func New(cfg Config, store storage.Store, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		cfg:     cfg.withDefaults(),
		store:   store,
		sink:    sink,
		bus:     bus,
		reg:     newRegistry(),
		kinds:   map[Kind]kindDef{},
		runners: map[int64]chan struct{}{},
	}
}

// RegisterKind installs the Worker and per-owner cap for a task kind.
// Kinds are registered once at startup, before Start.
func (s *Service) RegisterKind(kind Kind, capPerOwner int, w Worker) {
	s.kmu.Lock()
	s.kinds[kind] = kindDef{worker: w, cap: capPerOwner}
	s.kmu.Unlock()
}

func (s *Service) workerFor(kind Kind) Worker {
	s.kmu.RLock()
	defer s.kmu.RUnlock()
	return s.kinds[kind].worker
}

func (s *Service) capFor(kind Kind) (int, bool) {
	s.kmu.RLock()
	defer s.kmu.RUnlock()
	d, ok := s.kinds[kind]
	return d.cap, ok
}

// Start makes the engine ready to spawn execution units. It does not resume
// persisted tasks; call ResumeAll for that.
func (s *Service) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// One failing task must never stop the others.
		rtsup.WithCancelOnError(false),
	)
}

// Stop cancels every execution unit and waits for them, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.startMu.Lock()
	sup := s.sup
	s.sup = nil
	s.startMu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	return sup.Wait(ctx)
}

func (s *Service) supervisor() *rtsup.Supervisor {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.sup
}

// Create validates, registers, persists and schedules a new task.
func (s *Service) Create(ctx context.Context, owner int64, target string, kind Kind, payload json.RawMessage, dueAt time.Time, every time.Duration) (Task, error) {
	capPerOwner, known := s.capFor(kind)
	if !known {
		return Task{}, ErrUnknownKind
	}
	if !dueAt.After(time.Now()) {
		return Task{}, fmt.Errorf("%w: due time is not in the future", ErrInvalidSchedule)
	}
	if every != 0 && every < s.cfg.MinInterval {
		return Task{}, fmt.Errorf("%w: interval below %s", ErrInvalidSchedule, s.cfg.MinInterval)
	}
	if s.supervisor() == nil {
		return Task{}, ErrNotStarted
	}

	t, err := s.reg.add(Task{
		OwnerID: owner,
		Target:  target,
		Kind:    kind,
		Payload: payload,
		DueAt:   dueAt,
		Every:   every,
	}, capPerOwner)
	if err != nil {
		return Task{}, err
	}

	s.persist(ctx)
	s.spawn(t)
	s.log.Info("task created",
		logx.Int64("task", t.ID),
		logx.Int64("owner", owner),
		logx.String("kind", string(kind)),
		logx.Time("due", dueAt),
		logx.Duration("every", every))
	return t, nil
}

// List returns the owner's tasks ordered by ascending due time.
func (s *Service) List(owner int64) []Task {
	return s.reg.list(owner)
}

// Get returns one task by owner and id.
func (s *Service) Get(owner, id int64) (Task, error) {
	t, ok := s.reg.get(owner, id)
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

// Cancel removes the task and wakes its execution unit so it exits without
// firing. Canceling an unknown or already-canceled id reports ErrNotFound.
func (s *Service) Cancel(ctx context.Context, owner, id int64) error {
	t, ok := s.reg.remove(owner, id)
	if !ok {
		return ErrNotFound
	}
	s.stopRunner(id)
	s.persist(ctx)
	s.log.Info("task canceled", logx.Int64("task", id), logx.Int64("owner", owner), logx.String("kind", string(t.Kind)))
	return nil
}

// ResumeAll loads the store and schedules one execution unit per loaded task.
// Tasks whose due time elapsed while the process was down catch up with one
// immediate fire. Called once at startup, after Start.
func (s *Service) ResumeAll(ctx context.Context) error {
	if s.supervisor() == nil {
		return ErrNotStarted
	}

	recs, err := s.store.Load(ctx)
	if err != nil {
		// Load degrades to empty state rather than aborting startup.
		s.log.Error("task store load failed; starting empty", logx.Err(err))
		return nil
	}

	resumed := 0
	for _, rec := range recs {
		t, err := taskFromRecord(rec)
		if err != nil {
			s.log.Warn("skipping unreadable task record", logx.Int64("id", rec.ID), logx.Err(err))
			continue
		}
		if s.workerFor(t.Kind) == nil {
			s.log.Warn("skipping task of unregistered kind", logx.Int64("id", t.ID), logx.String("kind", string(t.Kind)))
			continue
		}
		t = s.reg.restore(t)
		s.spawn(t)
		resumed++
	}
	if resumed > 0 {
		s.publish(eventbus.TypeTaskResumed, resumed)
	}
	s.log.Info("tasks resumed", logx.Int("count", resumed), logx.Int("loaded", len(recs)))
	return nil
}

func (s *Service) spawn(t Task) {
	sup := s.supervisor()
	if sup == nil {
		return
	}
	stop := make(chan struct{})
	s.runMu.Lock()
	s.runners[t.ID] = stop
	s.runMu.Unlock()

	id, owner, ver := t.ID, t.OwnerID, t.Version
	sup.Go0(fmt.Sprintf("task:%d", id), func(ctx context.Context) {
		defer s.clearRunner(id, stop)
		s.runTask(ctx, owner, id, ver, stop)
	})
}

func (s *Service) stopRunner(id int64) {
	s.runMu.Lock()
	stop, ok := s.runners[id]
	if ok {
		delete(s.runners, id)
	}
	s.runMu.Unlock()
	if ok {
		close(stop)
	}
}

func (s *Service) clearRunner(id int64, stop chan struct{}) {
	s.runMu.Lock()
	if cur, ok := s.runners[id]; ok && cur == stop {
		delete(s.runners, id)
	}
	s.runMu.Unlock()
}

// persist mirrors the current registry into the store. The snapshot is taken
// inside the same critical section as the write, so saves are totally ordered
// and each one reflects every mutation committed before it.
func (s *Service) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	tasks := s.reg.snapshot()
	recs := make([]storage.TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		recs = append(recs, recordFromTask(t))
	}
	if err := s.store.Save(ctx, recs); err != nil {
		// In-memory state stays authoritative for the process lifetime.
		s.log.Error("task store save failed", logx.Int("tasks", len(recs)), logx.Err(err))
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func recordFromTask(t Task) storage.TaskRecord {
	rec := storage.TaskRecord{
		ID:      t.ID,
		OwnerID: t.OwnerID,
		Target:  t.Target,
		Kind:    string(t.Kind),
		Payload: t.Payload,
		DueAt:   t.DueAt,
	}
	if t.Every > 0 {
		rec.Every = t.Every.String()
	}
	return rec
}

func taskFromRecord(rec storage.TaskRecord) (Task, error) {
	t := Task{
		ID:      rec.ID,
		OwnerID: rec.OwnerID,
		Target:  rec.Target,
		Kind:    Kind(rec.Kind),
		Payload: rec.Payload,
		DueAt:   rec.DueAt,
	}
	if t.ID <= 0 {
		return Task{}, fmt.Errorf("invalid task id %d", rec.ID)
	}
	if rec.DueAt.IsZero() {
		return Task{}, fmt.Errorf("task %d has no due time", rec.ID)
	}
	// Missing recurrence means a one-shot task (older records omit it).
	if rec.Every != "" {
		every, err := time.ParseDuration(rec.Every)
		if err != nil || every < 0 {
			return Task{}, fmt.Errorf("task %d has invalid recurrence %q", rec.ID, rec.Every)
		}
		t.Every = every
	}
	return t, nil
}

// Stats reports live task counts per kind and the number of owners with at
// least one task.
type Stats struct {
	PerKind map[Kind]int
	Owners  int
	Total   int
}

func (s *Service) Stats() Stats {
	perKind, owners := s.reg.stats()
	total := 0
	for _, n := range perKind {
		total += n
	}
	return Stats{PerKind: perKind, Owners: owners, Total: total}
}
