// Package memstore is the in-memory reference implementation of
// chrono.Backend — the oracle used by the core package's tests and a
// viable single-process backend for small deployments. A concrete
// SQL-backed implementation is deliberately out of scope (see
// spec.md §1 and DESIGN.md); this package follows the same claim
// semantics a SQL backend would implement with `SELECT ... FOR UPDATE
// SKIP LOCKED`, but under a single mutex instead of row locks.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neofinancial/chrono/internal/chrono"
)

type record struct {
	task *chrono.Task
}

// Backend is a mutex-guarded map keyed by task ID, with a secondary index
// on (kind, idempotencyKey) for non-terminal tasks so Schedule can
// deduplicate in O(1).
type Backend struct {
	mu sync.RWMutex

	tasks map[string]*record
	// idempotency index: kind -> idempotencyKey -> task ID, entries
	// removed once the task reaches a terminal state.
	idempotency map[string]map[string]string
	now         func() time.Time
}

// New creates an empty backend. now defaults to time.Now; tests may
// override it to pin "the present" independent of a chrono.Clock.
func New() *Backend {
	return &Backend{
		tasks:       make(map[string]*record),
		idempotency: make(map[string]map[string]string),
		now:         time.Now,
	}
}

// WithClock overrides the time source used to stamp records. Intended for
// tests driving a chrono.ManualClock alongside the backend.
func (b *Backend) WithClock(now func() time.Time) *Backend {
	b.now = now
	return b
}

func (b *Backend) Schedule(_ context.Context, input chrono.ScheduleInput) (*chrono.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if input.IdempotencyKey != "" {
		if kindIndex, ok := b.idempotency[input.Kind]; ok {
			if existingID, ok := kindIndex[input.IdempotencyKey]; ok {
				if existing, ok := b.tasks[existingID]; ok {
					return existing.task.Clone(), nil
				}
			}
		}
	}

	task := &chrono.Task{
		ID:                   uuid.NewString(),
		Kind:                 input.Kind,
		Data:                 append([]byte(nil), input.Data...),
		Status:               chrono.StatusPending,
		Priority:             input.Priority,
		IdempotencyKey:       input.IdempotencyKey,
		ScheduledAt:          input.When,
		OriginalScheduleDate: input.When,
		RetryCount:           0,
	}

	b.tasks[task.ID] = &record{task: task}
	b.indexIdempotency(task)

	return task.Clone(), nil
}

func (b *Backend) indexIdempotency(task *chrono.Task) {
	if task.IdempotencyKey == "" {
		return
	}
	kindIndex, ok := b.idempotency[task.Kind]
	if !ok {
		kindIndex = make(map[string]string)
		b.idempotency[task.Kind] = kindIndex
	}
	kindIndex[task.IdempotencyKey] = task.ID
}

func (b *Backend) unindexIdempotency(task *chrono.Task) {
	if task.IdempotencyKey == "" {
		return
	}
	if kindIndex, ok := b.idempotency[task.Kind]; ok {
		delete(kindIndex, task.IdempotencyKey)
	}
}

func (b *Backend) Get(_ context.Context, taskID string) (*chrono.Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chrono.ErrTaskNotFound, taskID)
	}
	return rec.task.Clone(), nil
}

func (b *Backend) Claim(_ context.Context, input chrono.ClaimInput) (*chrono.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	staleCutoff := now.Add(-input.ClaimStaleTimeout)

	var eligible []*chrono.Task
	for _, rec := range b.tasks {
		t := rec.task
		if t.Kind != input.Kind {
			continue
		}
		switch {
		case t.Status == chrono.StatusPending && !t.ScheduledAt.After(now):
			eligible = append(eligible, t)
		case t.Status == chrono.StatusClaimed && t.ClaimedAt != nil && !t.ClaimedAt.After(staleCutoff):
			eligible = append(eligible, t)
		}
	}

	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, c := eligible[i], eligible[j]
		if a.Priority != c.Priority {
			return a.Priority < c.Priority
		}
		if !a.ScheduledAt.Equal(c.ScheduledAt) {
			return a.ScheduledAt.Before(c.ScheduledAt)
		}
		return a.OriginalScheduleDate.Before(c.OriginalScheduleDate)
	})

	winner := eligible[0]
	winner.Status = chrono.StatusClaimed
	claimedAt := now
	winner.ClaimedAt = &claimedAt

	return winner.Clone(), nil
}

func (b *Backend) Complete(_ context.Context, taskID string) (*chrono.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chrono.ErrTaskNotFound, taskID)
	}
	t := rec.task
	if t.Status == chrono.StatusCompleted {
		return t.Clone(), nil
	}
	if t.Status != chrono.StatusClaimed {
		return nil, fmt.Errorf("%w: complete requires CLAIMED, task %s is %s", chrono.ErrInvalidTransition, taskID, t.Status)
	}

	now := b.now()
	t.Status = chrono.StatusCompleted
	t.CompletedAt = &now
	t.LastExecutedAt = &now
	b.unindexIdempotency(t)

	return t.Clone(), nil
}

func (b *Backend) Unclaim(_ context.Context, taskID string, nextScheduledAt time.Time) (*chrono.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chrono.ErrTaskNotFound, taskID)
	}
	t := rec.task
	if t.Status != chrono.StatusClaimed {
		return nil, fmt.Errorf("%w: unclaim requires CLAIMED, task %s is %s", chrono.ErrInvalidTransition, taskID, t.Status)
	}

	now := b.now()
	t.Status = chrono.StatusPending
	t.ScheduledAt = nextScheduledAt
	t.RetryCount++
	t.ClaimedAt = nil
	t.LastExecutedAt = &now

	return t.Clone(), nil
}

func (b *Backend) Fail(_ context.Context, taskID string) (*chrono.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chrono.ErrTaskNotFound, taskID)
	}
	t := rec.task
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: fail requires a non-terminal task, %s is %s", chrono.ErrInvalidTransition, taskID, t.Status)
	}

	now := b.now()
	t.Status = chrono.StatusFailed
	t.LastExecutedAt = &now
	b.unindexIdempotency(t)

	return t.Clone(), nil
}

func (b *Backend) Delete(_ context.Context, key chrono.DeleteKey, force bool) (*chrono.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := key.ID
	if id == "" {
		kindIndex, ok := b.idempotency[key.Kind]
		if ok {
			id = kindIndex[key.IdempotencyKey]
		}
	}

	rec, ok := b.tasks[id]
	if !ok || id == "" {
		if force {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", chrono.ErrTaskNotFound, id)
	}

	t := rec.task
	if t.Status != chrono.StatusPending && !force {
		return nil, chrono.ErrDeleteNotPending
	}

	delete(b.tasks, t.ID)
	b.unindexIdempotency(t)

	return t.Clone(), nil
}

// Ping always succeeds — the in-memory backend has no external dependency
// to lose. It exists so Backend satisfies health.Pinger alongside any
// future out-of-process backend.
func (b *Backend) Ping(_ context.Context) error {
	return nil
}

func (b *Backend) CollectStatistics(_ context.Context, kinds []string) (map[string]chrono.KindStatistics, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	wanted := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	out := make(map[string]chrono.KindStatistics, len(kinds))
	for _, k := range kinds {
		out[k] = chrono.KindStatistics{}
	}

	for _, rec := range b.tasks {
		t := rec.task
		if len(kinds) > 0 && !wanted[t.Kind] {
			continue
		}
		stat := out[t.Kind]
		switch t.Status {
		case chrono.StatusPending:
			stat.PendingCount++
		case chrono.StatusClaimed:
			stat.ClaimedCount++
		case chrono.StatusFailed:
			stat.FailedCount++
		}
		out[t.Kind] = stat
	}

	return out, nil
}

var _ chrono.Backend = (*Backend)(nil)
var _ chrono.StatisticsBackend = (*Backend)(nil)
