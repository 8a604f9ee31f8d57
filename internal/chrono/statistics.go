package chrono

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultStatCollectionIntervalMs = 1_800_000 // 30 minutes

// StatisticsCollectorConfig tunes the background sampler.
type StatisticsCollectorConfig struct {
	StatCollectionIntervalMs int
}

func (c StatisticsCollectorConfig) withDefaults() StatisticsCollectorConfig {
	if c.StatCollectionIntervalMs == 0 {
		c.StatCollectionIntervalMs = defaultStatCollectionIntervalMs
	}
	return c
}

// StatisticsCollector periodically samples backend.CollectStatistics and
// emits the result. It never halts on a sampling failure.
type StatisticsCollector struct {
	backend StatisticsBackend
	config  StatisticsCollectorConfig
	clock   Clock
	logger  *slog.Logger
	Events  *Emitter

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewStatisticsCollector returns nil if backend does not implement
// StatisticsBackend — callers should check for nil and skip Start.
func NewStatisticsCollector(backend Backend, config StatisticsCollectorConfig, clock Clock, logger *slog.Logger) *StatisticsCollector {
	statBackend, ok := backend.(StatisticsBackend)
	if !ok {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatisticsCollector{
		backend: statBackend,
		config:  config.withDefaults(),
		clock:   clock,
		logger:  logger.With("component", "statistics-collector"),
		Events:  &Emitter{},
	}
}

// Start begins sampling taskKinds every StatCollectionIntervalMs. A second
// call while already running is a no-op.
func (s *StatisticsCollector) Start(ctx context.Context, taskKinds []string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(doneCh)
		interval := time.Duration(s.config.StatCollectionIntervalMs) * time.Millisecond
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			if err := s.clock.Sleep(ctx, interval); err != nil {
				return
			}
			select {
			case <-stopCh:
				return
			default:
			}
			s.tick(ctx, taskKinds)
		}
	}()
}

func (s *StatisticsCollector) tick(ctx context.Context, taskKinds []string) {
	stats, err := s.backend.CollectStatistics(ctx, taskKinds)
	if err != nil {
		s.logger.Error("collect statistics failed", "error", err)
		s.Events.Emit(EventStatisticsCollectedError, EventStatisticsCollectedErrorPayload{Err: err, Timestamp: s.clock.Now()})
		return
	}
	s.Events.Emit(EventStatisticsCollected, EventStatisticsCollectedPayload{Statistics: stats, Timestamp: s.clock.Now()})
}

// Stop halts sampling. Idempotent.
func (s *StatisticsCollector) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
