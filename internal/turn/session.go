package turn

import "time"

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeErrored   Outcome = "errored"
)

// Error types recorded on errored sessions.
const (
	ErrorTypeExecutor  = "executor_error"
	ErrorTypePanic     = "panic"
	ErrorTypeCanceled  = "canceled"
	ErrorTypeSinkWrite = "sink_write_failed"
	ErrorTypeHardStop  = "send_message_loop_hard_stop"
)

// Session is one serialized turn. The Serializer owns it for the turn's
// whole lifetime.
type Session struct {
	ID        string
	Trigger   *Trigger
	StartTime time.Time
	EndTime   time.Time
	Outcome   Outcome
	ErrorType string
	Err       error
}

func (s *Session) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
