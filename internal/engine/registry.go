package engine

import (
	"sort"
	"sync"
)

// registry is the authoritative in-memory index of live tasks, keyed by owner
// and task id. All mutation bumps the task version atomically with respect to
// concurrent reads, which is what lets runners detect that a task was canceled
// or rescheduled underneath them.
type registry struct {
	mu     sync.Mutex
	owners map[int64]map[int64]*Task
	nextID int64
}

func newRegistry() *registry {
	return &registry{owners: map[int64]map[int64]*Task{}, nextID: 1}
}

// add assigns the next id and inserts the task. capPerOwner limits how many
// tasks of the same kind the owner may hold (0 = unlimited); the cap is
// enforced at creation time only.
func (r *registry) add(t Task, capPerOwner int) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if capPerOwner > 0 {
		n := 0
		for _, cur := range r.owners[t.OwnerID] {
			if cur.Kind == t.Kind {
				n++
			}
		}
		if n >= capPerOwner {
			return Task{}, ErrCapacityExceeded
		}
	}

	t.ID = r.nextID
	r.nextID++
	t.Version = 1

	m := r.owners[t.OwnerID]
	if m == nil {
		m = map[int64]*Task{}
		r.owners[t.OwnerID] = m
	}
	cp := t
	m[t.ID] = &cp
	return t, nil
}

// restore re-enters a task loaded from the store, keeping its persisted id.
// Ids are never reused while the owning task exists, so the id counter moves
// past every restored id.
func (r *registry) restore(t Task) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.Version = 1
	if t.ID >= r.nextID {
		r.nextID = t.ID + 1
	}
	m := r.owners[t.OwnerID]
	if m == nil {
		m = map[int64]*Task{}
		r.owners[t.OwnerID] = m
	}
	cp := t
	m[t.ID] = &cp
	return t
}

func (r *registry) get(owner, id int64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.owners[owner][id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// list returns the owner's tasks ordered by ascending due time.
func (r *registry) list(owner int64) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.owners[owner]
	out := make([]Task, 0, len(m))
	for _, t := range m {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *registry) remove(owner, id int64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(owner, id)
}

// removeIfVersion removes the task only when its version still matches, so a
// retire decided before a concurrent cancel/mutation is discarded as stale.
func (r *registry) removeIfVersion(owner, id int64, version uint64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.owners[owner][id]
	if !ok || t.Version != version {
		return Task{}, false
	}
	return r.removeLocked(owner, id)
}

func (r *registry) removeLocked(owner, id int64) (Task, bool) {
	m := r.owners[owner]
	t, ok := m[id]
	if !ok {
		return Task{}, false
	}
	delete(m, id)
	if len(m) == 0 {
		delete(r.owners, owner)
	}
	return *t, true
}

// updateIfVersion applies fn and bumps the version in one critical section,
// but only when the current version still matches. Returns the updated copy.
func (r *registry) updateIfVersion(owner, id int64, version uint64, fn func(*Task)) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.owners[owner][id]
	if !ok || t.Version != version {
		return Task{}, false
	}
	fn(t)
	t.Version++
	return *t, true
}

// snapshot returns every live task, ordered by owner then due time, for
// persistence.
func (r *registry) snapshot() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Task
	for _, m := range r.owners {
		for _, t := range m {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// stats counts live tasks per kind plus the number of owners holding any.
func (r *registry) stats() (perKind map[Kind]int, owners int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perKind = map[Kind]int{}
	for _, m := range r.owners {
		if len(m) == 0 {
			continue
		}
		owners++
		for _, t := range m {
			perKind[t.Kind]++
		}
	}
	return perKind, owners
}
