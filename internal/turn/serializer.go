package turn

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/loopguard"
	"github.com/tgifai/strix/internal/metrics"
	"github.com/tgifai/strix/internal/pkg/logs"
)

const defaultTypingInterval = 4 * time.Second

type Options struct {
	Executor  Executor
	Events    eventlog.Sink
	Journal   journal.Sink
	Messenger Messenger
	Metrics   metrics.Sink
	LoopGuard loopguard.Config

	// TypingInterval is how often the typing state is refreshed during a
	// chat turn. Zero means 4s.
	TypingInterval time.Duration

	Now          func() time.Time
	NewSessionID func() string
}

// Serializer runs at most one turn at a time. Any number of goroutines may
// Enqueue; a single consumer goroutine started by Start drains the queue in
// FIFO order.
type Serializer struct {
	opts  Options
	queue *Queue

	mu      sync.Mutex
	active  *Turn
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSerializer(opts Options) (*Serializer, error) {
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Events == nil || opts.Journal == nil {
		return nil, errors.New("event and journal sinks are required")
	}
	if opts.Messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.LoopGuard == (loopguard.Config{}) {
		opts.LoopGuard = loopguard.DefaultConfig()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = defaultTypingInterval
	}
	return &Serializer{opts: opts, queue: NewQueue()}, nil
}

// Enqueue offers t without blocking. It returns false when t is a scheduler
// trigger whose job already has a queued or running trigger.
func (s *Serializer) Enqueue(ctx context.Context, t *Trigger) bool {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = s.opts.Now().UTC()
	}

	return s.queue.Push(t, func(accepted bool, size int) {
		var rec eventlog.Record
		if accepted {
			s.opts.Metrics.TriggerEnqueued(string(t.Source))
			s.opts.Metrics.QueueDepth(size)
			rec = eventlog.New(eventlog.TypeEventQueued).
				With("source_event_type", string(t.Source)).
				With("channel_id", t.ChannelID).
				With("scheduler_name", t.JobName).
				With("queue_size", size)
			logs.CtxInfo(ctx, "[turn] queued %s trigger, channel=%s job=%s size=%d", t.Source, t.ChannelID, t.JobName, size)
		} else {
			s.opts.Metrics.TriggerDeduped(string(t.Source))
			rec = eventlog.New(eventlog.TypeEventDeduped).
				With("key", t.DedupeKey()).
				With("source_event_type", string(t.Source)).
				With("scheduler_name", t.JobName)
			logs.CtxInfo(ctx, "[turn] dropped duplicate trigger %s", t.DedupeKey())
		}
		if err := s.opts.Events.Append(ctx, rec); err != nil {
			s.opts.Metrics.SinkWriteFailed(metrics.SinkEvents)
			logs.CtxError(ctx, "[turn] append %s failed: %v", rec.Type, err)
		}
	})
}

func (s *Serializer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("serializer already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx)
	return nil
}

// Stop cancels the running turn and drops everything still queued.
func (s *Serializer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for serializer: %w", ctx.Err())
	}

	if n := s.queue.Drain(); n > 0 {
		logs.CtxWarn(ctx, "[turn] serializer stopped, dropped %d queued trigger(s)", n)
	} else {
		logs.CtxInfo(ctx, "[turn] serializer stopped")
	}
	return nil
}

func (s *Serializer) Len() int { return s.queue.Len() }

// ActiveSessionID returns the running session's id, or "" when idle.
func (s *Serializer) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.SessionID()
}

// Active returns the running turn if its session id is sessionID.
func (s *Serializer) Active(sessionID string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || sessionID == "" || s.active.SessionID() != sessionID {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
	}
	return s.active, nil
}

func (s *Serializer) RecordOutboundAttempt(ctx context.Context, sessionID, text string) (loopguard.Decision, error) {
	t, err := s.Active(sessionID)
	if err != nil {
		return loopguard.Decision{}, err
	}
	return t.RecordOutboundAttempt(ctx, text)
}

func (s *Serializer) loop(ctx context.Context) {
	defer close(s.done)
	for {
		trig, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		s.opts.Metrics.QueueDepth(s.queue.Len())
		s.runTurn(ctx, trig)
		s.queue.Release(trig)
	}
}

func (s *Serializer) setActive(t *Turn) {
	s.mu.Lock()
	s.active = t
	s.mu.Unlock()
}

func (s *Serializer) runTurn(ctx context.Context, trig *Trigger) *Session {
	sess := &Session{
		ID:        s.opts.NewSessionID(),
		Trigger:   trig,
		StartTime: s.opts.Now().UTC(),
	}
	ctx = logs.WithSession(ctx, sess.ID)
	turnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	t := newTurn(sess, &s.opts, cancel)
	s.setActive(t)
	defer s.setActive(nil)

	logs.CtxInfo(ctx, "[turn] start %s turn, channel=%s job=%s", trig.Source, trig.ChannelID, trig.JobName)

	started := eventlog.New(eventlog.TypeTurnStarted).
		With("source", string(trig.Source)).
		With("channel_id", trig.ChannelID).
		With("job_name", trig.JobName).
		With("enqueued_at", trig.EnqueuedAt.UTC().Format(time.RFC3339Nano))
	if err := t.appendEvent(ctx, started); err != nil {
		t.close()
		s.finish(ctx, t, err)
		return sess
	}

	stopTyping := s.keepTyping(turnCtx, trig)
	err := s.execute(ctx, turnCtx, t)
	stopTyping()
	t.close()
	s.finish(ctx, t, err)
	return sess
}

// keepTyping refreshes the typing state on a chat trigger's channel until the
// returned func is called. Failures are logged once per turn.
func (s *Serializer) keepTyping(ctx context.Context, trig *Trigger) func() {
	typist, ok := s.opts.Messenger.(Typist)
	if !ok || trig.Source != SourceChatMessage || trig.ChannelID == "" {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.opts.TypingInterval)
		defer ticker.Stop()

		warned := false
		for {
			if err := typist.Typing(ctx, trig.ChannelID); err != nil && !warned {
				warned = true
				logs.CtxWarn(ctx, "[turn] typing indicator on %s error: %v", trig.ChannelID, err)
			}
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// execute returns when the executor does, when the turn is hard-stopped or
// when the serializer is stopping.
func (s *Serializer) execute(runCtx, turnCtx context.Context, t *Turn) error {
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- &panicError{value: r, stack: debug.Stack()}
			}
		}()
		errCh <- s.opts.Executor.Execute(turnCtx, t)
	}()

	select {
	case err := <-errCh:
		return err
	case <-t.stopped:
		return ErrHardStop
	case <-runCtx.Done():
		return runCtx.Err()
	}
}

func (s *Serializer) finish(ctx context.Context, t *Turn, execErr error) {
	sess := t.session
	errType, err := s.classify(t, execErr)

	// Closing records must land even when the serializer is stopping.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		sess.Outcome, sess.ErrorType, sess.Err = OutcomeErrored, errType, err
		if pe, ok := err.(*panicError); ok {
			logs.CtxError(ctx, "[turn] executor panic: %v\n%s", pe.value, pe.stack)
		} else {
			logs.CtxError(ctx, "[turn] turn failed (%s): %v", errType, err)
		}
		s.appendClosing(ctx, sess, eventlog.New(eventlog.TypeToolCallError).
			With("tool", "turn").
			With("error_type", errType).
			With("error", err.Error()))
		if rerr := t.reactTrigger(ctx, channel.ReactionFailed); rerr != nil {
			logs.CtxWarn(ctx, "[turn] react on trigger message failed: %v", rerr)
		}
	} else {
		sess.Outcome = OutcomeCompleted
		if !t.hasJournal() {
			if jerr := s.appendClosing(ctx, sess, eventlog.New(eventlog.TypeJournalMissing)); jerr != nil {
				sess.Outcome, sess.ErrorType, sess.Err = OutcomeErrored, ErrorTypeSinkWrite, jerr
			}
		}
	}

	sess.EndTime = s.opts.Now().UTC()
	completed := eventlog.New(eventlog.TypeTurnCompleted).
		With("outcome", string(sess.Outcome)).
		With("duration_ms", sess.Duration().Milliseconds())
	if sess.ErrorType != "" {
		completed = completed.With("error_type", sess.ErrorType)
	}
	if err := s.appendClosing(ctx, sess, completed); err != nil && sess.Outcome != OutcomeErrored {
		sess.Outcome, sess.ErrorType, sess.Err = OutcomeErrored, ErrorTypeSinkWrite, err
	}

	s.opts.Metrics.TurnCompleted(string(sess.Outcome), sess.Duration())
	logs.CtxInfo(ctx, "[turn] end turn, outcome=%s duration=%s", sess.Outcome, sess.Duration())
}

// classify maps a turn's end state to an error type. A hard stop wins over
// whatever the executor returned, then a failed sink write.
func (s *Serializer) classify(t *Turn, execErr error) (string, error) {
	if t.isHardStopped() {
		return ErrorTypeHardStop, ErrHardStop
	}
	if sinkErr := t.failedSink(); sinkErr != nil {
		return ErrorTypeSinkWrite, sinkErr
	}
	if execErr == nil {
		return "", nil
	}
	var pe *panicError
	switch {
	case errors.As(execErr, &pe):
		return ErrorTypePanic, execErr
	case errors.Is(execErr, context.Canceled), errors.Is(execErr, context.DeadlineExceeded):
		return ErrorTypeCanceled, execErr
	default:
		return ErrorTypeExecutor, execErr
	}
}

func (s *Serializer) appendClosing(ctx context.Context, sess *Session, rec eventlog.Record) error {
	rec.SessionID = sess.ID
	if err := s.opts.Events.Append(ctx, rec); err != nil {
		s.opts.Metrics.SinkWriteFailed(metrics.SinkEvents)
		logs.CtxError(ctx, "[turn] append %s failed: %v", rec.Type, err)
		return err
	}
	return nil
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("executor panic: %v", e.value)
}
