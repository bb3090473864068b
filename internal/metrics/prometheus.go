package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tgifai/strix/internal/pkg/logs"
)

// PrometheusSink implements Sink on client_golang collectors. Registration
// errors are logged and never propagated.
type PrometheusSink struct {
	// Trigger queue
	triggersEnqueued *prometheus.CounterVec
	triggersDeduped  *prometheus.CounterVec
	queueDepth       prometheus.Gauge

	// Turns
	turnsTotal       *prometheus.CounterVec
	turnDuration     prometheus.Histogram
	outboundVerdicts *prometheus.CounterVec
	sinkWriteErrors  *prometheus.CounterVec

	// Scheduler
	activeJobs     prometheus.Gauge
	invalidJobs    prometheus.Gauge
	schedulerFires *prometheus.CounterVec
	schedulerLoads prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initQueueMetrics(reg)
	s.initTurnMetrics(reg)
	s.initSchedulerMetrics(reg)
	return s
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.triggersEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strix_triggers_enqueued_total",
		Help: "Triggers accepted into the queue, by source.",
	}, []string{"source"})
	s.triggersDeduped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strix_triggers_deduped_total",
		Help: "Scheduler triggers dropped because the job was already queued or running.",
	}, []string{"source"})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strix_queue_depth",
		Help: "Triggers waiting for the turn serializer.",
	})

	s.register(reg, s.triggersEnqueued, "strix_triggers_enqueued_total")
	s.register(reg, s.triggersDeduped, "strix_triggers_deduped_total")
	s.register(reg, s.queueDepth, "strix_queue_depth")
}

func (s *PrometheusSink) initTurnMetrics(reg prometheus.Registerer) {
	s.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strix_turns_total",
		Help: "Completed turn sessions, by outcome.",
	}, []string{"outcome"})
	s.turnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "strix_turn_duration_seconds",
		Help:    "Wall time of a turn session.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})
	s.outboundVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strix_outbound_verdicts_total",
		Help: "Loop guard verdicts for outbound message attempts.",
	}, []string{"verdict"})
	s.sinkWriteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strix_sink_write_errors_total",
		Help: "Failed appends to the event log or journal.",
	}, []string{"sink"})

	s.register(reg, s.turnsTotal, "strix_turns_total")
	s.register(reg, s.turnDuration, "strix_turn_duration_seconds")
	s.register(reg, s.outboundVerdicts, "strix_outbound_verdicts_total")
	s.register(reg, s.sinkWriteErrors, "strix_sink_write_errors_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strix_scheduler_active_jobs",
		Help: "Jobs in the active schedule after the last load.",
	})
	s.invalidJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strix_scheduler_invalid_jobs",
		Help: "Jobs rejected by the last load.",
	})
	s.schedulerFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strix_scheduler_fires_total",
		Help: "Scheduler firings, by whether the queue accepted them.",
	}, []string{"accepted"})
	s.schedulerLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strix_scheduler_reloads_total",
		Help: "Schedule loads performed.",
	})

	s.register(reg, s.activeJobs, "strix_scheduler_active_jobs")
	s.register(reg, s.invalidJobs, "strix_scheduler_invalid_jobs")
	s.register(reg, s.schedulerFires, "strix_scheduler_fires_total")
	s.register(reg, s.schedulerLoads, "strix_scheduler_reloads_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		logs.Warn("[metrics] failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) TriggerEnqueued(source string) {
	s.triggersEnqueued.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) TriggerDeduped(source string) {
	s.triggersDeduped.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) QueueDepth(n int) {
	s.queueDepth.Set(float64(n))
}

func (s *PrometheusSink) TurnCompleted(outcome string, d time.Duration) {
	s.turnsTotal.WithLabelValues(outcome).Inc()
	s.turnDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) OutboundVerdict(verdict string) {
	s.outboundVerdicts.WithLabelValues(verdict).Inc()
}

func (s *PrometheusSink) SinkWriteFailed(sink string) {
	s.sinkWriteErrors.WithLabelValues(sink).Inc()
}

func (s *PrometheusSink) SchedulerReloaded(active, invalid int) {
	s.schedulerLoads.Inc()
	s.activeJobs.Set(float64(active))
	s.invalidJobs.Set(float64(invalid))
}

func (s *PrometheusSink) SchedulerFired(accepted bool) {
	s.schedulerFires.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}
