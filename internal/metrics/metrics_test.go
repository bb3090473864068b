package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ Sink = (*NoopSink)(nil)
	_ Sink = (*PrometheusSink)(nil)
)

func TestNoopSink_AllMethods(t *testing.T) {
	s := NewNoopSink()
	s.TriggerEnqueued("chat_message")
	s.TriggerDeduped("scheduler")
	s.QueueDepth(3)
	s.TurnCompleted("completed", time.Second)
	s.OutboundVerdict("allowed")
	s.SinkWriteFailed(SinkEvents)
	s.SchedulerReloaded(2, 1)
	s.SchedulerFired(true)
}

func TestPrometheusSink_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.TriggerEnqueued("chat_message")
	s.TriggerEnqueued("chat_message")
	s.TriggerDeduped("scheduler")
	s.QueueDepth(4)
	s.TurnCompleted("errored", 2*time.Second)
	s.OutboundVerdict("suppressed")
	s.SinkWriteFailed(SinkJournal)
	s.SchedulerReloaded(5, 1)
	s.SchedulerFired(false)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"enqueued", testutil.ToFloat64(s.triggersEnqueued.WithLabelValues("chat_message")), 2},
		{"deduped", testutil.ToFloat64(s.triggersDeduped.WithLabelValues("scheduler")), 1},
		{"depth", testutil.ToFloat64(s.queueDepth), 4},
		{"turns", testutil.ToFloat64(s.turnsTotal.WithLabelValues("errored")), 1},
		{"verdicts", testutil.ToFloat64(s.outboundVerdicts.WithLabelValues("suppressed")), 1},
		{"sink errors", testutil.ToFloat64(s.sinkWriteErrors.WithLabelValues("journal")), 1},
		{"active jobs", testutil.ToFloat64(s.activeJobs), 5},
		{"invalid jobs", testutil.ToFloat64(s.invalidJobs), 1},
		{"reloads", testutil.ToFloat64(s.schedulerLoads), 1},
		{"fires", testutil.ToFloat64(s.schedulerFires.WithLabelValues("false")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestPrometheusSink_DoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg)
	s := NewPrometheusSink(reg)
	s.TriggerEnqueued("scheduler")
}
