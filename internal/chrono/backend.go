package chrono

import (
	"context"
	"time"
)

// ScheduleInput describes a new task. Priority defaults to 0 (highest) and
// IdempotencyKey is optional — when set, Schedule is a no-op if a
// non-terminal task already exists for (Kind, IdempotencyKey).
type ScheduleInput struct {
	Kind           string
	Data           []byte
	When           time.Time
	Priority       int
	IdempotencyKey string
}

// ClaimInput selects the kind a processor wants work for and the staleness
// window past which a CLAIMED task becomes eligible for re-claim.
type ClaimInput struct {
	Kind              string
	ClaimStaleTimeout time.Duration
}

// DeleteKey identifies a task either by ID, or by (Kind, IdempotencyKey).
// Exactly one addressing mode should be populated.
type DeleteKey struct {
	ID             string
	Kind           string
	IdempotencyKey string
}

// KindStatistics is a read-only snapshot of one kind's queue depth.
type KindStatistics struct {
	PendingCount int
	ClaimedCount int
	FailedCount  int
}

// Backend is the contract a storage plugin must satisfy. Every operation
// must be atomic with respect to concurrent callers — in particular, Claim
// must never hand the same task to two callers at once (I2), and Schedule
// must never create two non-terminal tasks for the same (Kind,
// IdempotencyKey) pair (I3).
type Backend interface {
	// Schedule creates a PENDING task, or returns the existing non-terminal
	// task for (Kind, IdempotencyKey) unchanged if one already exists.
	Schedule(ctx context.Context, input ScheduleInput) (*Task, error)

	// Get returns the current state of the task with the given ID.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Claim atomically selects and claims one eligible task of the given
	// kind — PENDING with ScheduledAt <= now, or CLAIMED with a stale
	// claim — ordered by ascending Priority, then ScheduledAt, then
	// OriginalScheduleDate. Returns (nil, nil) when nothing is eligible.
	Claim(ctx context.Context, input ClaimInput) (*Task, error)

	// Complete transitions a CLAIMED task to COMPLETED. Idempotent if the
	// task is already COMPLETED.
	Complete(ctx context.Context, taskID string) (*Task, error)

	// Unclaim transitions a CLAIMED task back to PENDING, advances
	// ScheduledAt to nextScheduledAt and increments RetryCount by exactly
	// one. Errors if the task is not CLAIMED.
	Unclaim(ctx context.Context, taskID string, nextScheduledAt time.Time) (*Task, error)

	// Fail transitions any non-terminal task to FAILED.
	Fail(ctx context.Context, taskID string) (*Task, error)

	// Delete removes a task addressed by key. If the task is not PENDING,
	// it is only removed when force is true. force=true on a missing task
	// returns (nil, nil) rather than an error.
	Delete(ctx context.Context, key DeleteKey, force bool) (*Task, error)
}

// StatisticsBackend is an optional capability a Backend may additionally
// implement. Its absence disables the statistics collector (C5).
type StatisticsBackend interface {
	CollectStatistics(ctx context.Context, kinds []string) (map[string]KindStatistics, error)
}
