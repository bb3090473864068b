package metrics

import "time"

// Sink receives runtime measurements. Calls are fire-and-forget and must
// never block the caller or return errors.
type Sink interface {
	// Trigger queue
	TriggerEnqueued(source string)
	TriggerDeduped(source string)
	QueueDepth(n int)

	// Turns
	TurnCompleted(outcome string, d time.Duration)
	OutboundVerdict(verdict string)
	SinkWriteFailed(sink string)

	// Scheduler
	SchedulerReloaded(active, invalid int)
	SchedulerFired(accepted bool)
}

const (
	SinkEvents  = "events"
	SinkJournal = "journal"
)
