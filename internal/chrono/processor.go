package chrono

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler executes a task's business logic. Its return value is discarded
// on success; a non-nil error (including a timeout) triggers the
// retry-or-fail path.
type Handler func(ctx context.Context, task *Task) error

// ProcessorConfig tunes one SimpleProcessor. Zero values are replaced with
// the defaults below at construction time.
type ProcessorConfig struct {
	// ClaimIntervalMs is the delay between claim attempts after a claim
	// attempt returned a task.
	ClaimIntervalMs int
	// IdleIntervalMs is the delay between claim attempts after a claim
	// attempt returned nothing.
	IdleIntervalMs int
	// TaskHandlerTimeoutMs bounds a single handler invocation.
	TaskHandlerTimeoutMs int
	// ClaimStaleTimeoutMs is how long a CLAIMED task may go unfinished
	// before another worker may reclaim it.
	ClaimStaleTimeoutMs int
	// MaxRetries is the inclusive cap on RetryCount before a task is
	// permanently FAILED.
	MaxRetries int
}

const (
	defaultClaimIntervalMs      = 1000
	defaultIdleIntervalMs       = 5000
	defaultTaskHandlerTimeoutMs = 30000
	defaultClaimStaleTimeoutMs  = 60000
	defaultMaxRetries           = 10
)

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.ClaimIntervalMs == 0 {
		c.ClaimIntervalMs = defaultClaimIntervalMs
	}
	if c.IdleIntervalMs == 0 {
		c.IdleIntervalMs = defaultIdleIntervalMs
	}
	if c.TaskHandlerTimeoutMs == 0 {
		c.TaskHandlerTimeoutMs = defaultTaskHandlerTimeoutMs
	}
	if c.ClaimStaleTimeoutMs == 0 {
		c.ClaimStaleTimeoutMs = defaultClaimStaleTimeoutMs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

func (c ProcessorConfig) validate() error {
	if c.TaskHandlerTimeoutMs >= c.ClaimStaleTimeoutMs {
		return fmt.Errorf("chrono: taskHandlerTimeoutMs (%dms) must be less than claimStaleTimeoutMs (%dms), else a handler could still be running when another worker reclaims its task", c.TaskHandlerTimeoutMs, c.ClaimStaleTimeoutMs)
	}
	if c.ClaimIntervalMs >= c.IdleIntervalMs {
		return fmt.Errorf("chrono: claimIntervalMs (%dms) must be less than idleIntervalMs (%dms), else idle polling would be busier than active polling", c.ClaimIntervalMs, c.IdleIntervalMs)
	}
	return nil
}

// SimpleProcessor drives one kind's tasks through claim -> execute ->
// finalize. One instance is created per registered kind.
type SimpleProcessor struct {
	kind    string
	backend Backend
	handler Handler
	backoff Strategy
	config  ProcessorConfig
	clock   Clock
	logger  *slog.Logger
	Events  *Emitter

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSimpleProcessor validates config and constructs a processor for kind.
// Construction errors are fatal — §7 of the specification treats invalid
// intervals as configuration errors that never occur at runtime.
func NewSimpleProcessor(kind string, backend Backend, handler Handler, backoff Strategy, config ProcessorConfig, clock Clock, logger *slog.Logger) (*SimpleProcessor, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleProcessor{
		kind:    kind,
		backend: backend,
		handler: handler,
		backoff: backoff,
		config:  config,
		clock:   clock,
		logger:  logger.With("component", "processor", "kind", kind),
		Events:  &Emitter{},
	}, nil
}

// Start is idempotent: a second call while the loop is already running is
// a no-op. It blocks until the loop has entered its first iteration, so a
// Stop issued immediately after returns only once that first claim (and
// any resulting handler invocation) has resolved.
func (p *SimpleProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	started := make(chan struct{})
	go func() {
		defer close(doneCh)
		p.loop(ctx, stopCh, started)
	}()
	<-started

	p.logger.Info("processor started")
	p.Events.Emit(EventProcessorStarted, EventProcessorLifecyclePayload{Kind: p.kind, Timestamp: p.clock.Now()})
	return nil
}

// Stop is idempotent and blocks until the control loop has exited. Because
// an in-flight handler is never abandoned, Stop waits for a running handler
// to return: a handler that returns when its context is cancelled is bounded
// by TaskHandlerTimeoutMs, one that ignores cancellation is waited for until
// it returns.
func (p *SimpleProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("processor stopped")
	p.Events.Emit(EventProcessorStopped, EventProcessorLifecyclePayload{Kind: p.kind, Timestamp: p.clock.Now()})
}

func (p *SimpleProcessor) loop(ctx context.Context, stopCh chan struct{}, started chan struct{}) {
	first := true
	for {
		task, err := p.backend.Claim(ctx, ClaimInput{Kind: p.kind, ClaimStaleTimeout: time.Duration(p.config.ClaimStaleTimeoutMs) * time.Millisecond})

		if first {
			close(started)
			first = false
		}

		if err != nil {
			p.logger.Error("claim failed", "error", err)
			if p.sleepOrStop(ctx, stopCh, p.config.IdleIntervalMs) {
				return
			}
			continue
		}

		if task == nil {
			if p.sleepOrStop(ctx, stopCh, p.config.IdleIntervalMs) {
				return
			}
			continue
		}

		p.Events.Emit(EventTaskClaimed, EventTaskClaimedPayload{Task: task.Clone(), Timestamp: p.clock.Now()})
		p.execute(ctx, task)

		if p.sleepOrStop(ctx, stopCh, p.config.ClaimIntervalMs) {
			return
		}
	}
}

// sleepOrStop waits for ms milliseconds, checking stopCh both before and
// during the wait, and returns true if the loop should exit.
func (p *SimpleProcessor) sleepOrStop(ctx context.Context, stopCh chan struct{}, ms int) bool {
	select {
	case <-stopCh:
		return true
	default:
	}

	done := make(chan struct{})
	go func() {
		_ = p.clock.Sleep(ctx, time.Duration(ms)*time.Millisecond)
		close(done)
	}()

	select {
	case <-stopCh:
		return true
	case <-done:
		select {
		case <-stopCh:
			return true
		default:
			return false
		}
	}
}

func (p *SimpleProcessor) execute(ctx context.Context, task *Task) {
	start := p.clock.Now()

	timeout := time.Duration(p.config.TaskHandlerTimeoutMs) * time.Millisecond
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.handler(hctx, task)
	}()

	var handlerErr error
	select {
	case handlerErr = <-errCh:
	case <-hctx.Done():
		handlerErr = hctx.Err()
		<-errCh // never abandon the goroutine — join it before finalizing
	}

	if handlerErr == nil {
		p.finalizeSuccess(ctx, task, p.clock.Now().Sub(start))
		return
	}

	p.finalizeFailure(ctx, task, handlerErr)
}

func (p *SimpleProcessor) finalizeSuccess(ctx context.Context, task *Task, duration time.Duration) {
	completed, err := p.backend.Complete(ctx, task.ID)
	if err != nil {
		p.logger.Error("complete failed", "task_id", task.ID, "error", err)
		return
	}
	p.Events.Emit(EventTaskCompleted, EventTaskCompletedPayload{
		Task:       completed,
		DurationMS: duration.Milliseconds(),
		Timestamp:  p.clock.Now(),
	})
}

func (p *SimpleProcessor) finalizeFailure(ctx context.Context, task *Task, handlerErr error) {
	if task.RetryCount+1 > p.config.MaxRetries {
		failed, err := p.backend.Fail(ctx, task.ID)
		if err != nil {
			p.logger.Error("fail failed", "task_id", task.ID, "error", err)
			return
		}
		p.logger.Warn("task permanently failed", "task_id", task.ID, "retry_count", task.RetryCount, "error", handlerErr)
		p.Events.Emit(EventTaskFailed, EventTaskFailedPayload{Task: failed, Err: handlerErr, Timestamp: p.clock.Now()})
		return
	}

	delay := p.backoff.NextDelay(task.RetryCount)
	nextScheduledAt := p.clock.Now().Add(delay)

	unclaimed, err := p.backend.Unclaim(ctx, task.ID, nextScheduledAt)
	if err != nil {
		p.logger.Error("unclaim failed", "task_id", task.ID, "error", err)
		return
	}
	p.logger.Info("task scheduled for retry", "task_id", task.ID, "retry_count", unclaimed.RetryCount, "next_at", nextScheduledAt, "error", handlerErr)
	p.Events.Emit(EventTaskRetryScheduled, EventTaskRetryScheduledPayload{
		Task:            unclaimed,
		NextScheduledAt: nextScheduledAt,
		RetryCount:      unclaimed.RetryCount,
		Timestamp:       p.clock.Now(),
	})
}
