package chrono

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HandlerRegistration is the input to RegisterTaskHandler.
type HandlerRegistration struct {
	Kind            string
	Handler         Handler
	ProcessorConfig ProcessorConfig
	BackoffStrategy Strategy
}

// Chrono is the orchestrator: a handler registry that instantiates one
// SimpleProcessor per registered kind, bound to a shared Backend.
type Chrono struct {
	backend Backend
	clock   Clock
	logger  *slog.Logger
	Events  *Emitter

	mu         sync.Mutex
	started    bool
	processors map[string]*SimpleProcessor
}

// New constructs an orchestrator bound to backend. clock and logger may be
// nil, in which case RealClock and slog.Default are used.
func New(backend Backend, clock Clock, logger *slog.Logger) *Chrono {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chrono{
		backend:    backend,
		clock:      clock,
		logger:     logger.With("component", "chrono"),
		Events:     &Emitter{},
		processors: make(map[string]*SimpleProcessor),
	}
}

// RegisterTaskHandler creates and registers the processor for reg.Kind.
// Registering a second handler for an already-registered kind, or
// registering after Start, is a fatal (construction-time) error.
func (c *Chrono) RegisterTaskHandler(reg HandlerRegistration) (*SimpleProcessor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, fmt.Errorf("chrono: cannot register kind %q after start", reg.Kind)
	}
	if _, exists := c.processors[reg.Kind]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateKind, reg.Kind)
	}

	backoff := reg.BackoffStrategy
	if backoff == nil {
		backoff = LinearBackoff{BaseDelay: defaultBackoffBase}
	}

	proc, err := NewSimpleProcessor(reg.Kind, c.backend, reg.Handler, backoff, reg.ProcessorConfig, c.clock, c.logger)
	if err != nil {
		return nil, err
	}
	c.processors[reg.Kind] = proc
	return proc, nil
}

const defaultBackoffBase = 1000 * time.Millisecond // matches ProcessorConfig's 1s claim default order of magnitude

// ScheduleTask is a thin pass-through to the backend.
func (c *Chrono) ScheduleTask(ctx context.Context, input ScheduleInput) (*Task, error) {
	task, err := c.backend.Schedule(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("chrono: schedule task: %w", err)
	}
	return task, nil
}

// GetTask is a thin pass-through to the backend.
func (c *Chrono) GetTask(ctx context.Context, taskID string) (*Task, error) {
	task, err := c.backend.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("chrono: get task: %w", err)
	}
	return task, nil
}

// DeleteTask is a thin pass-through to the backend.
func (c *Chrono) DeleteTask(ctx context.Context, key DeleteKey, force bool) (*Task, error) {
	task, err := c.backend.Delete(ctx, key, force)
	if err != nil {
		return nil, fmt.Errorf("chrono: delete task: %w", err)
	}
	return task, nil
}

// Processor returns the processor registered for kind, if any — mainly
// useful for tests and for wiring event listeners from the embedding
// program.
func (c *Chrono) Processor(kind string) (*SimpleProcessor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.processors[kind]
	return p, ok
}

// Ping satisfies health.Pinger: it reports an error if the orchestrator has
// not been successfully started.
func (c *Chrono) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return fmt.Errorf("chrono: orchestrator is not running")
	}
	return nil
}

// Start launches every registered processor concurrently. If any
// processor fails to start, Start attempts to stop the processors that
// did start before returning the error.
func (c *Chrono) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	procs := make([]*SimpleProcessor, 0, len(c.processors))
	for _, p := range c.processors {
		procs = append(procs, p)
	}
	c.started = true
	c.mu.Unlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  []*SimpleProcessor
		firstErr error
	)

	for _, p := range procs {
		wg.Add(1)
		go func(p *SimpleProcessor) {
			defer wg.Done()
			if err := p.Start(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			started = append(started, p)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if firstErr != nil {
		var stopWg sync.WaitGroup
		for _, p := range started {
			stopWg.Add(1)
			go func(p *SimpleProcessor) {
				defer stopWg.Done()
				p.Stop()
			}(p)
		}
		stopWg.Wait()

		c.mu.Lock()
		c.started = false
		c.mu.Unlock()

		return fmt.Errorf("chrono: start: %w", firstErr)
	}

	c.logger.Info("chrono started", "kinds", len(procs))
	c.Events.Emit(EventChronoStarted, EventChronoLifecyclePayload{Timestamp: c.clock.Now()})
	return nil
}

// Stop stops every registered processor concurrently, waiting for all of
// them to finish draining in-flight handlers.
func (c *Chrono) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	procs := make([]*SimpleProcessor, 0, len(c.processors))
	for _, p := range c.processors {
		procs = append(procs, p)
	}
	c.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	for _, p := range procs {
		wg.Add(1)
		go func(p *SimpleProcessor) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failed = append(failed, fmt.Errorf("processor %q panicked while stopping: %v", p.kind, r))
					mu.Unlock()
				}
			}()
			p.Stop()
		}(p)
	}
	wg.Wait()

	c.mu.Lock()
	c.started = false
	c.mu.Unlock()

	if len(failed) > 0 {
		c.logger.Error("chrono stop aborted", "failures", len(failed))
		c.Events.Emit(EventChronoStopAborted, EventChronoLifecyclePayload{Err: errors.Join(failed...), Timestamp: c.clock.Now()})
		return
	}

	c.logger.Info("chrono stopped")
	c.Events.Emit(EventChronoStopped, EventChronoLifecyclePayload{Timestamp: c.clock.Now()})
}
