package metrics

import (
	"github.com/neofinancial/chrono/internal/chrono"
)

// Attach subscribes the package-level collectors to one event stream so its
// events are reflected in /metrics without every call site having to touch
// prometheus directly. Task lifecycle events come from a processor's
// emitter, chrono.* events from the orchestrator's and statistics events
// from the statistics collector's; attach each emitter whose events should
// be recorded.
func Attach(events *chrono.Emitter) {
	events.On(chrono.EventTaskClaimed, func(payload any) {
		p, ok := payload.(chrono.EventTaskClaimedPayload)
		if !ok {
			return
		}
		latency := p.Timestamp.Sub(p.Task.ScheduledAt).Seconds()
		if latency < 0 {
			latency = 0
		}
		TaskClaimLatency.WithLabelValues(p.Task.Kind).Observe(latency)
		TasksInFlight.WithLabelValues(p.Task.Kind).Inc()
	})

	events.On(chrono.EventTaskCompleted, func(payload any) {
		p, ok := payload.(chrono.EventTaskCompletedPayload)
		if !ok {
			return
		}
		TaskExecutionDuration.WithLabelValues(p.Task.Kind, "success").Observe(float64(p.DurationMS) / 1000)
		TasksInFlight.WithLabelValues(p.Task.Kind).Dec()
		TasksFinishedTotal.WithLabelValues(p.Task.Kind, "completed").Inc()
	})

	events.On(chrono.EventTaskFailed, func(payload any) {
		p, ok := payload.(chrono.EventTaskFailedPayload)
		if !ok {
			return
		}
		TasksInFlight.WithLabelValues(p.Task.Kind).Dec()
		TasksFinishedTotal.WithLabelValues(p.Task.Kind, "failed").Inc()
	})

	events.On(chrono.EventTaskRetryScheduled, func(payload any) {
		p, ok := payload.(chrono.EventTaskRetryScheduledPayload)
		if !ok {
			return
		}
		TasksInFlight.WithLabelValues(p.Task.Kind).Dec()
		TasksFinishedTotal.WithLabelValues(p.Task.Kind, "retried").Inc()
	})

	events.On(chrono.EventChronoStarted, func(payload any) {
		p, ok := payload.(chrono.EventChronoLifecyclePayload)
		if !ok {
			return
		}
		ChronoStartTime.Set(float64(p.Timestamp.Unix()))
	})

	events.On(chrono.EventChronoStopAborted, func(any) {
		ChronoStopAbortedTotal.Inc()
	})

	events.On(chrono.EventStatisticsCollected, func(payload any) {
		p, ok := payload.(chrono.EventStatisticsCollectedPayload)
		if !ok {
			return
		}
		for kind, stat := range p.Statistics {
			QueueDepth.WithLabelValues(kind, "pending").Set(float64(stat.PendingCount))
			QueueDepth.WithLabelValues(kind, "claimed").Set(float64(stat.ClaimedCount))
			QueueDepth.WithLabelValues(kind, "failed").Set(float64(stat.FailedCount))
		}
	})

	events.On(chrono.EventStatisticsCollectedError, func(any) {
		StatisticsCollectionErrorsTotal.Inc()
	})
}
