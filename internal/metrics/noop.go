package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerEnqueued(source string)                 {}
func (n *NoopSink) TriggerDeduped(source string)                  {}
func (n *NoopSink) QueueDepth(int)                                {}
func (n *NoopSink) TurnCompleted(outcome string, d time.Duration) {}
func (n *NoopSink) OutboundVerdict(verdict string)                {}
func (n *NoopSink) SinkWriteFailed(sink string)                   {}
func (n *NoopSink) SchedulerReloaded(active, invalid int)         {}
func (n *NoopSink) SchedulerFired(accepted bool)                  {}
