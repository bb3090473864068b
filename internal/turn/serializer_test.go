package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/loopguard"
	"github.com/tgifai/strix/internal/metrics"
)

type fakeMessenger struct {
	mu        sync.Mutex
	n         int
	sent      []string
	reactions []string
}

func (m *fakeMessenger) SendMessage(_ context.Context, target, text string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	m.sent = append(m.sent, target+"|"+text)
	return fmt.Sprintf("m%d", m.n), true, nil
}

func (m *fakeMessenger) React(_ context.Context, target, messageID, reaction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, target+"|"+messageID+"|"+reaction)
	return nil
}

func (m *fakeMessenger) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *fakeMessenger) Reactions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reactions...)
}

// failingSink fails appends of the listed record types.
type failingSink struct {
	*eventlog.MemorySink
	failTypes map[string]bool
}

func (s *failingSink) Append(ctx context.Context, rec eventlog.Record) error {
	if s.failTypes[rec.Type] {
		return errors.New("disk full")
	}
	return s.MemorySink.Append(ctx, rec)
}

type harness struct {
	s         *Serializer
	events    *eventlog.MemorySink
	journal   *journal.MemorySink
	messenger *fakeMessenger
}

func newHarness(t *testing.T, exec Executor, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		events:    eventlog.NewMemorySink(),
		journal:   journal.NewMemorySink(),
		messenger: &fakeMessenger{},
	}
	opts := Options{
		Executor:  exec,
		Events:    h.events,
		Journal:   h.journal,
		Messenger: h.messenger,
	}
	if tweak != nil {
		tweak(&opts)
	}
	s, err := NewSerializer(opts)
	if err != nil {
		t.Fatalf("NewSerializer: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	h.s = s
	return h
}

func (h *harness) completed() []eventlog.Record {
	return h.events.OfType(eventlog.TypeTurnCompleted)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func journaling(ctx context.Context, tr *Turn) error {
	return tr.AppendJournal(ctx, journal.Entry{UserWanted: tr.Trigger().Payload, AgentDid: "ok"})
}

func TestSerializerRunsOneTurnAtATime(t *testing.T) {
	var running, maxRunning int32
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return journaling(ctx, tr)
	})
	h := newHarness(t, exec, nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				h.s.Enqueue(context.Background(), NewChatTrigger("C1", fmt.Sprintf("msg %d", i)))
			} else {
				h.s.Enqueue(context.Background(), NewSchedulerTrigger(fmt.Sprintf("job-%d", i), "", "p"))
			}
		}(i)
	}
	wg.Wait()
	waitFor(t, "all turns", func() bool { return len(h.completed()) == n })

	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Fatalf("expected at most one running turn, saw %d", got)
	}
	spans := eventlog.Sessions(h.events.Records())
	if len(spans) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(spans))
	}
	if overlaps := eventlog.Overlaps(spans); len(overlaps) != 0 {
		t.Fatalf("expected no overlapping sessions, got %d", len(overlaps))
	}
	if got := len(h.journal.Entries()); got != n {
		t.Fatalf("expected %d journal entries, got %d", n, got)
	}
}

func TestSerializerDropsDuplicateSchedulerFirings(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		if tr.Trigger().JobName == "daily-check-in" {
			<-release
		}
		return journaling(ctx, tr)
	})
	h := newHarness(t, exec, nil)
	ctx := context.Background()

	if !h.s.Enqueue(ctx, NewSchedulerTrigger("daily-check-in", "", "check in")) {
		t.Fatal("first firing should be accepted")
	}
	waitFor(t, "turn to start", func() bool { return h.s.ActiveSessionID() != "" })

	if h.s.Enqueue(ctx, NewSchedulerTrigger("daily-check-in", "", "check in")) {
		t.Fatal("firing while running should be dropped")
	}
	if !h.s.Enqueue(ctx, NewSchedulerTrigger("weekly", "", "w")) {
		t.Fatal("other job should be accepted")
	}
	if h.s.Enqueue(ctx, NewSchedulerTrigger("weekly", "", "w")) {
		t.Fatal("firing while queued should be dropped")
	}

	queued := h.events.OfType(eventlog.TypeEventQueued)
	if len(queued) != 2 {
		t.Fatalf("expected 2 event_queued records, got %d", len(queued))
	}
	deduped := h.events.OfType(eventlog.TypeEventDeduped)
	if len(deduped) != 2 {
		t.Fatalf("expected 2 event_deduped records, got %d", len(deduped))
	}
	if deduped[0].String("key") != "scheduler:daily-check-in" {
		t.Fatalf("unexpected dedupe key %q", deduped[0].String("key"))
	}

	close(release)
	waitFor(t, "both turns", func() bool { return len(h.completed()) == 2 })

	if !h.s.Enqueue(ctx, NewSchedulerTrigger("daily-check-in", "", "check in")) {
		t.Fatal("firing after the turn ended should be accepted")
	}
	waitFor(t, "third turn", func() bool { return len(h.completed()) == 3 })
}

func TestSerializerChatMessageDuringSchedulerTurn(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []Source
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		mu.Lock()
		order = append(order, tr.Trigger().Source)
		mu.Unlock()
		if tr.Trigger().Source == SourceScheduler {
			<-release
		}
		return journaling(ctx, tr)
	})
	h := newHarness(t, exec, nil)
	ctx := context.Background()

	h.s.Enqueue(ctx, NewSchedulerTrigger("daily-check-in", "", "check in"))
	waitFor(t, "scheduler turn", func() bool { return h.s.ActiveSessionID() != "" })

	if !h.s.Enqueue(ctx, NewChatTrigger("C1", "hello")) {
		t.Fatal("chat trigger must be queued, not dropped")
	}
	if h.s.Len() != 1 {
		t.Fatalf("expected chat trigger to wait in the queue, len=%d", h.s.Len())
	}

	close(release)
	waitFor(t, "both turns", func() bool { return len(h.completed()) == 2 })

	mu.Lock()
	if len(order) != 2 || order[0] != SourceScheduler || order[1] != SourceChatMessage {
		t.Fatalf("unexpected execution order: %v", order)
	}
	mu.Unlock()

	spans := eventlog.Sessions(h.events.Records())
	if len(spans) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(spans))
	}
	if spans[0].Source != string(SourceScheduler) || spans[0].JobName != "daily-check-in" {
		t.Fatalf("unexpected first session: %+v", spans[0])
	}
	if spans[1].Source != string(SourceChatMessage) || spans[1].ChannelID != "C1" {
		t.Fatalf("unexpected second session: %+v", spans[1])
	}
	if spans[1].Start.Before(spans[0].End) {
		t.Fatal("chat turn started before the scheduler turn ended")
	}
	if spans[1].Outcome != string(OutcomeCompleted) {
		t.Fatalf("expected chat turn completed, got %q", spans[1].Outcome)
	}
}

func TestSerializerHardStop(t *testing.T) {
	var mu sync.Mutex
	var verdicts []loopguard.Verdict
	var afterStop error
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		for i := 0; i < 15; i++ {
			res, err := tr.SendMessage(ctx, "", "I am stuck in a loop")
			mu.Lock()
			verdicts = append(verdicts, res.Verdict)
			mu.Unlock()
			if errors.Is(err, ErrHardStop) {
				_, next := tr.SendMessage(ctx, "", "I am stuck in a loop")
				mu.Lock()
				afterStop = next
				mu.Unlock()
				return err
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	h := newHarness(t, exec, nil)

	trig := NewChatTrigger("tg:1", "go")
	trig.MessageID = "in-1"
	h.s.Enqueue(context.Background(), trig)
	waitFor(t, "turn", func() bool { return len(h.completed()) == 1 })
	waitFor(t, "executor exit", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return afterStop != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(verdicts) != 10 {
		t.Fatalf("expected 10 attempts before hard stop, got %d", len(verdicts))
	}
	for i, v := range verdicts {
		want := loopguard.Allowed
		switch {
		case i == 9:
			want = loopguard.HardStop
		case i >= 2:
			want = loopguard.Suppressed
		}
		if v != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, v)
		}
	}
	if !errors.Is(afterStop, ErrHardStop) && !errors.Is(afterStop, ErrTurnClosed) {
		t.Fatalf("attempt after hard stop should not be allowed, got %v", afterStop)
	}

	if got := len(h.messenger.Sent()); got != 2 {
		t.Fatalf("expected 2 messages sent, got %d", got)
	}
	if got := len(h.events.OfType(eventlog.TypeLoopDetected)); got != 7 {
		t.Fatalf("expected 7 loop_detected records, got %d", got)
	}
	if got := len(h.events.OfType(eventlog.TypeLoopHardStop)); got != 1 {
		t.Fatalf("expected 1 hard_stop record, got %d", got)
	}

	done := h.completed()[0]
	if done.String("outcome") != string(OutcomeErrored) || done.String("error_type") != ErrorTypeHardStop {
		t.Fatalf("unexpected turn_completed: %v", done.Fields)
	}

	reactions := strings.Join(h.messenger.Reactions(), ",")
	for _, want := range []string{
		"tg:1|m2|" + channel.ReactionWarning,
		"tg:1|m2|" + channel.ReactionFailed,
		"tg:1|in-1|" + channel.ReactionFailed,
	} {
		if !strings.Contains(reactions, want) {
			t.Fatalf("missing reaction %q in %s", want, reactions)
		}
	}
}

func TestSerializerTurnErrors(t *testing.T) {
	cases := []struct {
		name     string
		exec     ExecutorFunc
		wantType string
	}{
		{
			name:     "executor error",
			exec:     func(context.Context, *Turn) error { return errors.New("model unavailable") },
			wantType: ErrorTypeExecutor,
		},
		{
			name:     "panic",
			exec:     func(context.Context, *Turn) error { panic("boom") },
			wantType: ErrorTypePanic,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			calls := int32(0)
			exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
				if atomic.AddInt32(&calls, 1) == 1 {
					return c.exec(ctx, tr)
				}
				return journaling(ctx, tr)
			})
			h := newHarness(t, exec, nil)
			h.s.Enqueue(context.Background(), NewChatTrigger("C1", "first"))
			h.s.Enqueue(context.Background(), NewChatTrigger("C1", "second"))
			waitFor(t, "both turns", func() bool { return len(h.completed()) == 2 })

			errs := h.events.OfType(eventlog.TypeToolCallError)
			if len(errs) != 1 {
				t.Fatalf("expected 1 tool_call_error, got %d", len(errs))
			}
			if errs[0].String("tool") != "turn" || errs[0].String("error_type") != c.wantType {
				t.Fatalf("unexpected tool_call_error: %v", errs[0].Fields)
			}
			done := h.completed()
			if done[0].String("outcome") != string(OutcomeErrored) {
				t.Fatalf("expected first turn errored, got %q", done[0].String("outcome"))
			}
			if done[1].String("outcome") != string(OutcomeCompleted) {
				t.Fatalf("expected second turn completed, got %q", done[1].String("outcome"))
			}
		})
	}
}

func TestSerializerSkipsExecutorWhenTurnStartCannotBeLogged(t *testing.T) {
	called := int32(0)
	exec := ExecutorFunc(func(context.Context, *Turn) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	sink := &failingSink{
		MemorySink: eventlog.NewMemorySink(),
		failTypes:  map[string]bool{eventlog.TypeTurnStarted: true},
	}
	h := newHarness(t, exec, func(o *Options) { o.Events = sink })

	h.s.Enqueue(context.Background(), NewChatTrigger("C1", "hi"))
	waitFor(t, "turn", func() bool { return len(sink.OfType(eventlog.TypeTurnCompleted)) == 1 })

	if atomic.LoadInt32(&called) != 0 {
		t.Fatal("executor must not run when turn_started cannot be written")
	}
	done := sink.OfType(eventlog.TypeTurnCompleted)[0]
	if done.String("error_type") != ErrorTypeSinkWrite {
		t.Fatalf("expected sink_write_failed, got %q", done.String("error_type"))
	}
}

func TestSerializerJournalFailureFailsTurn(t *testing.T) {
	h := newHarness(t, ExecutorFunc(journaling), nil)
	h.journal.SetErr(errors.New("read-only file system"))

	h.s.Enqueue(context.Background(), NewChatTrigger("C1", "hi"))
	waitFor(t, "turn", func() bool { return len(h.completed()) == 1 })

	done := h.completed()[0]
	if done.String("outcome") != string(OutcomeErrored) || done.String("error_type") != ErrorTypeSinkWrite {
		t.Fatalf("unexpected turn_completed: %v", done.Fields)
	}
}

type outcomeMetrics struct {
	*metrics.NoopSink
	mu       sync.Mutex
	outcomes []string
}

func (m *outcomeMetrics) TurnCompleted(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func TestSerializerUnloggedCompletionIsNotSuccess(t *testing.T) {
	sink := &failingSink{
		MemorySink: eventlog.NewMemorySink(),
		failTypes:  map[string]bool{eventlog.TypeTurnCompleted: true},
	}
	m := &outcomeMetrics{NoopSink: metrics.NewNoopSink()}
	s, err := NewSerializer(Options{
		Executor:  ExecutorFunc(journaling),
		Events:    sink,
		Journal:   journal.NewMemorySink(),
		Messenger: &fakeMessenger{},
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("NewSerializer: %v", err)
	}

	sess := s.runTurn(context.Background(), NewChatTrigger("C1", "hi"))
	if sess.Outcome != OutcomeErrored || sess.ErrorType != ErrorTypeSinkWrite {
		t.Fatalf("expected errored/sink_write_failed, got %s/%q", sess.Outcome, sess.ErrorType)
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != string(OutcomeErrored) {
		t.Fatalf("expected one errored metric, got %v", m.outcomes)
	}
}

func TestTurnJournalIsWrittenOnce(t *testing.T) {
	var second error
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		if err := journaling(ctx, tr); err != nil {
			return err
		}
		second = journaling(ctx, tr)
		return nil
	})
	h := newHarness(t, exec, nil)
	h.s.Enqueue(context.Background(), NewChatTrigger("C1", "hi"))
	waitFor(t, "turn", func() bool { return len(h.completed()) == 1 })

	if !errors.Is(second, ErrJournalAlreadyWritten) {
		t.Fatalf("expected ErrJournalAlreadyWritten, got %v", second)
	}
	entries := h.journal.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	started := h.events.OfType(eventlog.TypeTurnStarted)[0]
	if entries[0].SessionID != started.SessionID || entries[0].ChannelID != "C1" {
		t.Fatalf("journal entry not attributed to its session: %+v", entries[0])
	}
}

func TestSerializerRecordsMissingJournal(t *testing.T) {
	h := newHarness(t, ExecutorFunc(func(context.Context, *Turn) error { return nil }), nil)
	h.s.Enqueue(context.Background(), NewChatTrigger("C1", "hi"))
	waitFor(t, "turn", func() bool { return len(h.completed()) == 1 })

	if got := len(h.events.OfType(eventlog.TypeJournalMissing)); got != 1 {
		t.Fatalf("expected journal_missing, got %d", got)
	}
	if h.completed()[0].String("outcome") != string(OutcomeCompleted) {
		t.Fatal("a missing journal should not fail the turn")
	}
}

func TestTurnSendMessage(t *testing.T) {
	long := strings.Repeat("é", 400)
	var emptyErr error
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		_, emptyErr = tr.SendMessage(ctx, "", "   ")
		if _, err := tr.SendMessage(ctx, "tg:9", long); err != nil {
			return err
		}
		return journaling(ctx, tr)
	})
	h := newHarness(t, exec, nil)
	h.s.Enqueue(context.Background(), NewChatTrigger("C1", "hi"))
	waitFor(t, "turn", func() bool { return len(h.completed()) == 1 })

	if !errors.Is(emptyErr, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", emptyErr)
	}
	errs := h.events.OfType(eventlog.TypeToolCallError)
	if len(errs) != 1 || errs[0].String("error_type") != "empty_message" || errs[0].String("channel_id") != "C1" {
		t.Fatalf("unexpected tool_call_error records: %v", errs)
	}

	calls := h.events.OfType(eventlog.TypeToolCall)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool_call, got %d", len(calls))
	}
	call := calls[0]
	if call.String("channel_id") != "tg:9" || call.String("message_id") != "m1" {
		t.Fatalf("unexpected tool_call: %v", call.Fields)
	}
	if sent, _ := call.Get("sent"); sent != true {
		t.Fatalf("expected sent=true, got %v", sent)
	}
	if n := len([]rune(call.String("text_preview"))); n != 300 {
		t.Fatalf("expected 300-rune preview, got %d", n)
	}
}

func TestSerializerActiveSession(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		<-release
		return journaling(ctx, tr)
	})
	h := newHarness(t, exec, nil)
	ctx := context.Background()

	if _, err := h.s.RecordOutboundAttempt(ctx, "nope", "x"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}

	h.s.Enqueue(ctx, NewChatTrigger("C1", "hi"))
	waitFor(t, "turn", func() bool { return h.s.ActiveSessionID() != "" })
	id := h.s.ActiveSessionID()

	d, err := h.s.RecordOutboundAttempt(ctx, id, "hello")
	if err != nil || d.Verdict != loopguard.Allowed {
		t.Fatalf("RecordOutboundAttempt = %+v, %v", d, err)
	}
	tr, err := h.s.Active(id)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}

	close(release)
	waitFor(t, "turn end", func() bool { return len(h.completed()) == 1 })

	if _, err := h.s.Active(id); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ended session to be inactive, got %v", err)
	}
	if err := tr.AppendEvent(ctx, eventlog.New("late")); !errors.Is(err, ErrTurnClosed) {
		t.Fatalf("expected ErrTurnClosed, got %v", err)
	}
}

func TestSerializerStopDropsQueuedTriggers(t *testing.T) {
	started := make(chan struct{}, 1)
	exec := ExecutorFunc(func(ctx context.Context, tr *Turn) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	h := newHarness(t, exec, nil)
	ctx := context.Background()

	h.s.Enqueue(ctx, NewChatTrigger("C1", "one"))
	<-started
	h.s.Enqueue(ctx, NewChatTrigger("C1", "two"))
	h.s.Enqueue(ctx, NewChatTrigger("C1", "three"))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.s.Len() != 0 {
		t.Fatalf("expected empty queue after stop, got %d", h.s.Len())
	}
	done := h.completed()
	if len(done) != 1 || done[0].String("error_type") != ErrorTypeCanceled {
		t.Fatalf("expected one canceled turn, got %v", done)
	}
}

type typingMessenger struct {
	*fakeMessenger
	typing atomic.Int32
	target atomic.Value
}

func (m *typingMessenger) Typing(_ context.Context, target string) error {
	m.target.Store(target)
	m.typing.Add(1)
	return nil
}

func TestSerializerKeepsTypingDuringChatTurn(t *testing.T) {
	m := &typingMessenger{fakeMessenger: &fakeMessenger{}}
	s, err := NewSerializer(Options{
		Executor: ExecutorFunc(func(ctx context.Context, tr *Turn) error {
			deadline := time.Now().Add(3 * time.Second)
			for m.typing.Load() < 3 {
				if time.Now().After(deadline) {
					return errors.New("typing was not refreshed")
				}
				time.Sleep(time.Millisecond)
			}
			return journaling(ctx, tr)
		}),
		Events:         eventlog.NewMemorySink(),
		Journal:        journal.NewMemorySink(),
		Messenger:      m,
		TypingInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSerializer: %v", err)
	}

	sess := s.runTurn(context.Background(), NewChatTrigger("tg:42", "hi"))
	if sess.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, err = %v", sess.Outcome, sess.Err)
	}
	if got := m.target.Load(); got != "tg:42" {
		t.Fatalf("typing target = %v", got)
	}

	after := m.typing.Load()
	time.Sleep(30 * time.Millisecond)
	if m.typing.Load() != after {
		t.Fatal("typing continued after the turn ended")
	}

	before := m.typing.Load()
	sess = s.runTurn(context.Background(), NewSchedulerTrigger("daily", "tg:42", "review"))
	if sess.Outcome != OutcomeCompleted {
		t.Fatalf("scheduler outcome = %s, err = %v", sess.Outcome, sess.Err)
	}
	if m.typing.Load() != before {
		t.Fatal("scheduler turns must not show typing")
	}
}
