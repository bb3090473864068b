package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/loopguard"
	"github.com/tgifai/strix/internal/metrics"
	"github.com/tgifai/strix/internal/pkg/logs"
)

var (
	ErrHardStop              = errors.New("send_message loop hard stop")
	ErrJournalAlreadyWritten = errors.New("journal entry already written for this session")
	ErrTurnClosed            = errors.New("turn is closed")
	ErrSessionNotActive      = errors.New("session is not active")
	ErrEmptyMessage          = errors.New("message text is empty")
)

const (
	toolSendMessage = "send_message"
	previewRunes    = 300
)

// SendResult describes one SendMessage call.
type SendResult struct {
	Verdict   loopguard.Verdict
	ChannelID string
	MessageID string
	Sent      bool
}

// Turn is the handle an Executor uses to act inside its session. Every
// method fails with ErrTurnClosed once the session has ended.
type Turn struct {
	session   *Session
	events    eventlog.Sink
	journal   journal.Sink
	messenger Messenger
	guard     *loopguard.Guard
	metrics   metrics.Sink

	cancel   context.CancelCauseFunc
	stopped  chan struct{}
	stopOnce sync.Once

	// gate is held shared by every emitting call and exclusively by close.
	gate   sync.RWMutex
	closed bool

	mu        sync.Mutex
	journaled bool
	sinkErr   error
	warned    bool
	lastSent  string
	lastMsgID string
}

func newTurn(sess *Session, opts *Options, cancel context.CancelCauseFunc) *Turn {
	return &Turn{
		session:   sess,
		events:    opts.Events,
		journal:   opts.Journal,
		messenger: opts.Messenger,
		guard:     loopguard.New(opts.LoopGuard),
		metrics:   opts.Metrics,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
}

func (t *Turn) SessionID() string { return t.session.ID }

// Trigger returns a copy of the trigger this turn runs for.
func (t *Turn) Trigger() Trigger { return *t.session.Trigger }

// AppendEvent writes rec attributed to this session. A write failure also
// fails the turn.
func (t *Turn) AppendEvent(ctx context.Context, rec eventlog.Record) error {
	t.gate.RLock()
	defer t.gate.RUnlock()
	if t.closed {
		return ErrTurnClosed
	}
	return t.appendEvent(ctx, rec)
}

func (t *Turn) appendEvent(ctx context.Context, rec eventlog.Record) error {
	rec.SessionID = t.session.ID
	if err := t.events.Append(ctx, rec); err != nil {
		t.metrics.SinkWriteFailed(metrics.SinkEvents)
		err = fmt.Errorf("append %s event: %w", rec.Type, err)
		t.recordSinkErr(err)
		return err
	}
	return nil
}

// AppendJournal writes the session's single journal entry.
func (t *Turn) AppendJournal(ctx context.Context, e journal.Entry) error {
	t.gate.RLock()
	defer t.gate.RUnlock()
	if t.closed {
		return ErrTurnClosed
	}
	if err := e.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.journaled {
		return ErrJournalAlreadyWritten
	}

	e.SessionID = t.session.ID
	if e.ChannelID == "" {
		e.ChannelID = t.session.Trigger.ChannelID
	}
	if err := t.journal.Append(ctx, e); err != nil {
		t.metrics.SinkWriteFailed(metrics.SinkJournal)
		err = fmt.Errorf("append journal: %w", err)
		if t.sinkErr == nil {
			t.sinkErr = err
		}
		return err
	}
	t.journaled = true
	return nil
}

// RecordOutboundAttempt runs text through the loop guard without sending
// it. Suppressed and hard-stopped attempts are logged here.
func (t *Turn) RecordOutboundAttempt(ctx context.Context, text string) (loopguard.Decision, error) {
	t.gate.RLock()
	defer t.gate.RUnlock()
	if t.closed {
		return loopguard.Decision{}, ErrTurnClosed
	}
	return t.observe(ctx, "", text)
}

func (t *Turn) observe(ctx context.Context, channelID, text string) (loopguard.Decision, error) {
	d := t.guard.Observe(text)
	t.metrics.OutboundVerdict(string(d.Verdict))

	switch d.Verdict {
	case loopguard.Suppressed:
		logs.CtxWarn(ctx, "[turn] outbound message suppressed, streak=%d similarity=%.3f", d.Streak, d.Similarity)
		err := t.appendEvent(ctx, loopRecord(eventlog.TypeLoopDetected, channelID, text, d))
		t.mu.Lock()
		first := !t.warned
		t.warned = true
		t.mu.Unlock()
		if first {
			t.reactLastSent(ctx, channel.ReactionWarning)
		}
		return d, err

	case loopguard.HardStop:
		if !d.Entered {
			return d, nil
		}
		logs.CtxError(ctx, "[turn] outbound loop hard stop, streak=%d", d.Streak)
		err := t.appendEvent(ctx, loopRecord(eventlog.TypeLoopHardStop, channelID, text, d))
		t.reactLastSent(context.WithoutCancel(ctx), channel.ReactionFailed)
		t.hardStop()
		return d, err
	}
	return d, nil
}

func loopRecord(typ, channelID, text string, d loopguard.Decision) eventlog.Record {
	rec := eventlog.New(typ).
		With("tool", toolSendMessage).
		With("streak", d.Streak).
		With("similarity", d.Similarity).
		With("text_preview", Preview(text))
	if channelID != "" {
		rec = rec.With("channel_id", channelID)
	}
	return rec
}

// SendMessage guards and delivers text. channelID defaults to the
// trigger's channel. Suppressed messages return a nil error; a hard stop
// returns ErrHardStop.
func (t *Turn) SendMessage(ctx context.Context, channelID, text string) (SendResult, error) {
	t.gate.RLock()
	defer t.gate.RUnlock()
	if t.closed {
		return SendResult{}, ErrTurnClosed
	}

	if channelID == "" {
		channelID = t.session.Trigger.ChannelID
	}
	res := SendResult{ChannelID: channelID}

	if strings.TrimSpace(text) == "" {
		rec := eventlog.New(eventlog.TypeToolCallError).
			With("tool", toolSendMessage).
			With("channel_id", channelID).
			With("error_type", "empty_message")
		if err := t.appendEvent(ctx, rec); err != nil {
			return res, err
		}
		return res, ErrEmptyMessage
	}

	d, err := t.observe(ctx, channelID, text)
	res.Verdict = d.Verdict
	if err != nil {
		return res, err
	}
	switch d.Verdict {
	case loopguard.Suppressed:
		return res, nil
	case loopguard.HardStop:
		return res, ErrHardStop
	}

	msgID, sent, err := t.messenger.SendMessage(ctx, channelID, text)
	if err != nil {
		rec := eventlog.New(eventlog.TypeToolCallError).
			With("tool", toolSendMessage).
			With("channel_id", channelID).
			With("error_type", "send_failed").
			With("error", err.Error())
		_ = t.appendEvent(ctx, rec)
		return res, err
	}
	res.MessageID, res.Sent = msgID, sent

	t.mu.Lock()
	t.lastSent, t.lastMsgID = channelID, msgID
	t.mu.Unlock()

	rec := eventlog.New(eventlog.TypeToolCall).
		With("tool", toolSendMessage).
		With("channel_id", channelID).
		With("sent", sent).
		With("message_id", msgID).
		With("text_preview", Preview(text))
	return res, t.appendEvent(ctx, rec)
}

// React sets a reaction on the chat message that triggered this turn. It is
// a no-op for scheduler turns.
func (t *Turn) React(ctx context.Context, reaction string) error {
	t.gate.RLock()
	defer t.gate.RUnlock()
	if t.closed {
		return ErrTurnClosed
	}
	return t.reactTrigger(ctx, reaction)
}

func (t *Turn) reactTrigger(ctx context.Context, reaction string) error {
	trig := t.session.Trigger
	if trig.MessageID == "" {
		return nil
	}
	return t.messenger.React(ctx, trig.ChannelID, trig.MessageID, reaction)
}

func (t *Turn) reactLastSent(ctx context.Context, reaction string) {
	t.mu.Lock()
	target, msgID := t.lastSent, t.lastMsgID
	t.mu.Unlock()
	if msgID == "" {
		return
	}
	if err := t.messenger.React(ctx, target, msgID, reaction); err != nil {
		logs.CtxWarn(ctx, "[turn] react %s on %s failed: %v", reaction, target, err)
	}
}

func (t *Turn) hardStop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		t.cancel(ErrHardStop)
	})
}

func (t *Turn) isHardStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *Turn) recordSinkErr(err error) {
	t.mu.Lock()
	if t.sinkErr == nil {
		t.sinkErr = err
	}
	t.mu.Unlock()
}

func (t *Turn) failedSink() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sinkErr
}

func (t *Turn) hasJournal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.journaled
}

// close waits for in-flight calls and rejects every later one.
func (t *Turn) close() {
	t.gate.Lock()
	t.closed = true
	t.gate.Unlock()
}

// Preview cuts s to the first 300 runes for event records.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes])
}
