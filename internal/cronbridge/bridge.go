// Package cronbridge adds cron-expression recurrence on top of the
// core runtime's one-shot task model. The core scheduler never changes a
// task's semantics once it is completed (§4.1); recurrence is built by
// rescheduling a fresh task from within the completing handler, the same
// "claim and fire, then compute the next run" shape the original
// dispatcher used for cron-backed schedules.
package cronbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neofinancial/chrono/internal/chrono"
)

// Schedule binds a cron expression to a task kind and payload. Rearm
// computes the next scheduled time and enqueues it via the orchestrator.
type Schedule struct {
	Kind       string
	Data       []byte
	Priority   int
	CronExpr   string
	expression cron.Schedule
}

// NewSchedule parses expr with the standard 5-field cron syntax.
func NewSchedule(kind, expr string, data []byte, priority int) (*Schedule, error) {
	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("cronbridge: invalid cron expression %q: %w", expr, err)
	}
	return &Schedule{Kind: kind, Data: data, Priority: priority, CronExpr: expr, expression: parsed}, nil
}

// Bridge rearms one or more cron.Schedules against a Chrono orchestrator.
type Bridge struct {
	chrono    *chrono.Chrono
	clock     chrono.Clock
	logger    *slog.Logger
	schedules map[string]*Schedule
}

func New(c *chrono.Chrono, clock chrono.Clock, logger *slog.Logger) *Bridge {
	if clock == nil {
		clock = chrono.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		chrono:    c,
		clock:     clock,
		logger:    logger.With("component", "cronbridge"),
		schedules: make(map[string]*Schedule),
	}
}

// Register adds a schedule and immediately arms its first occurrence.
func (b *Bridge) Register(ctx context.Context, s *Schedule) error {
	b.schedules[s.Kind] = s
	return b.Rearm(ctx, s.Kind)
}

// Rearm schedules the next occurrence of kind's cron expression as a new
// task. The task is scheduled without an IdempotencyKey, so each call
// enqueues another task, even when a previous call already armed the same
// occurrence.
func (b *Bridge) Rearm(ctx context.Context, kind string) error {
	s, ok := b.schedules[kind]
	if !ok {
		return fmt.Errorf("cronbridge: no schedule registered for kind %q", kind)
	}

	next := b.computeNext(s)

	if _, err := b.chrono.ScheduleTask(ctx, chrono.ScheduleInput{
		Kind:     s.Kind,
		Data:     s.Data,
		When:     next,
		Priority: s.Priority,
	}); err != nil {
		return fmt.Errorf("cronbridge: rearm %q: %w", kind, err)
	}

	b.logger.Info("rearmed cron schedule", "kind", kind, "next_at", next)
	return nil
}

// computeNext returns the next future run time, skipping any missed runs —
// e.g. after the process was down across several would-be firings.
func (b *Bridge) computeNext(s *Schedule) time.Time {
	now := b.clock.Now()
	next := s.expression.Next(now.Add(-time.Second))
	for next.Before(now) {
		next = s.expression.Next(next)
	}
	return next
}

// WithRearmOnCompletion wraps handler so that, after it returns
// successfully, the bridge arms the schedule's next occurrence. Wire this
// around the handler registered for a recurring kind.
func (b *Bridge) WithRearmOnCompletion(handler chrono.Handler) chrono.Handler {
	return func(ctx context.Context, task *chrono.Task) error {
		if err := handler(ctx, task); err != nil {
			return err
		}
		if err := b.Rearm(ctx, task.Kind); err != nil {
			b.logger.Error("rearm after completion failed", "kind", task.Kind, "error", err)
		}
		return nil
	}
}
