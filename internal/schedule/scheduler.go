package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/robfig/cron/v3"

	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/metrics"
	"github.com/tgifai/strix/internal/pkg/logs"
	"github.com/tgifai/strix/internal/turn"
)

const DefaultTickInterval = time.Second

// Enqueuer accepts the triggers the scheduler fires.
type Enqueuer interface {
	Enqueue(ctx context.Context, t *turn.Trigger) bool
}

type Options struct {
	Store    *Store
	Events   eventlog.Sink
	Enqueuer Enqueuer
	Metrics  metrics.Sink

	TickInterval time.Duration
	// Watch reloads the schedule when the file changes on disk.
	Watch bool
	Now   func() time.Time
}

type entry struct {
	job   Job
	sched cron.Schedule
	next  time.Time
}

// JobStatus is an active job and its next fire time.
type JobStatus struct {
	Job
	Next time.Time `json:"next_fire_at"`
}

type LoadResult struct {
	Active    int
	Invalid   int
	Duplicate int
}

// Scheduler owns the active job table. Load, Reload, Add and Remove are
// serialized by one mutex; nothing outside the package touches the table.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	active   map[string]*entry
	lastHash uint64
	hashed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("schedule store is required")
	}
	if opts.Events == nil {
		return nil, errors.New("event sink is required")
	}
	if opts.Enqueuer == nil {
		return nil, errors.New("enqueuer is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		opts:   opts,
		active: make(map[string]*entry),
	}, nil
}

// Start loads the schedule file and begins firing jobs. A file that cannot
// be read or parsed leaves the schedule empty; it is retried on the next
// change when watching.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Reload(ctx); err != nil {
		logs.CtxWarn(ctx, "[schedule] initial load failed: %v", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if s.opts.Watch {
		if err := s.startWatcher(ctx); err != nil {
			logs.CtxWarn(ctx, "[schedule] file watcher disabled: %v", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	logs.CtxInfo(ctx, "[schedule] scheduler started (file=%s tick=%s)", s.opts.Store.Path(), s.opts.TickInterval)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[schedule] stop timed out")
	}
	logs.CtxInfo(ctx, "[schedule] scheduler stopped")
}

// Load replaces the active table with jobs. Invalid jobs are logged and
// skipped; when a name repeats, the last definition wins. The returned
// error is only ever a failed event write.
func (s *Scheduler) Load(ctx context.Context, jobs []Job) (LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, jobs)
}

func (s *Scheduler) loadLocked(ctx context.Context, jobs []Job) (LoadResult, error) {
	now := s.opts.Now().UTC()

	last := make(map[string]int, len(jobs))
	for i, j := range jobs {
		if name := strings.TrimSpace(j.Name); name != "" {
			last[name] = i
		}
	}

	var (
		res      LoadResult
		writeErr error
	)
	emit := func(rec eventlog.Record) {
		if err := s.opts.Events.Append(ctx, rec); err != nil {
			s.opts.Metrics.SinkWriteFailed(metrics.SinkEvents)
			if writeErr == nil {
				writeErr = fmt.Errorf("append %s: %w", rec.Type, err)
			}
		}
	}

	active := make(map[string]*entry, len(jobs))
	for i, raw := range jobs {
		j := raw.Normalize()
		sched, err := j.compile()
		if err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				return res, err
			}
			res.Invalid++
			logs.CtxWarn(ctx, "[schedule] skip job: %v", err)
			emit(eventlog.New(ve.Kind).With("name", j.Name).With("error", ve.Err.Error()))
			continue
		}
		if last[j.Name] != i {
			res.Duplicate++
			logs.CtxWarn(ctx, "[schedule] job %s is defined again later, keeping the last definition", j.Name)
			emit(eventlog.New(eventlog.TypeSchedulerDuplicate).With("name", j.Name))
			continue
		}

		e := &entry{job: j, sched: sched, next: nextFire(sched, now)}
		// An unchanged job keeps a pending fire time across reloads.
		if prev, ok := s.active[j.Name]; ok && prev.job == j {
			e.next = prev.next
		}
		active[j.Name] = e
	}

	s.active = active
	res.Active = len(active)

	s.opts.Metrics.SchedulerReloaded(res.Active, res.Invalid)
	emit(eventlog.New(eventlog.TypeSchedulerReloaded).
		With("jobs", res.Active).
		With("invalid", res.Invalid))
	logs.CtxInfo(ctx, "[schedule] reloaded %d active job(s), %d invalid", res.Active, res.Invalid)
	return res, writeErr
}

// Reload re-reads the schedule file. A file that cannot be read or parsed
// keeps the current table.
func (s *Scheduler) Reload(ctx context.Context) (LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx, false)
}

func (s *Scheduler) reloadLocked(ctx context.Context, onlyIfChanged bool) (LoadResult, error) {
	data, err := s.opts.Store.Read()
	if err != nil {
		return LoadResult{}, s.loadFailed(ctx, err)
	}

	sum := xxhash.Sum64(data)
	if onlyIfChanged && s.hashed && sum == s.lastHash {
		return LoadResult{Active: len(s.active)}, nil
	}

	jobs, err := Parse(data)
	if err != nil {
		return LoadResult{}, s.loadFailed(ctx, err)
	}
	s.lastHash, s.hashed = sum, true
	return s.loadLocked(ctx, jobs)
}

func (s *Scheduler) loadFailed(ctx context.Context, err error) error {
	logs.CtxError(ctx, "[schedule] load %s failed: %v", s.opts.Store.Path(), err)
	rec := eventlog.New(eventlog.TypeSchedulerLoadFailed).
		With("path", s.opts.Store.Path()).
		With("error", err.Error())
	if aerr := s.opts.Events.Append(ctx, rec); aerr != nil {
		s.opts.Metrics.SinkWriteFailed(metrics.SinkEvents)
	}
	return err
}

// Add validates job, replaces any job with the same name, persists the
// schedule file and reloads. An invalid job returns a *ValidationError and
// changes nothing.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	job = job.Normalize()
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.opts.Store.Load()
	if err != nil {
		return err
	}

	next := make([]Job, 0, len(current)+1)
	replaced := false
	for _, j := range current {
		if strings.TrimSpace(j.Name) != job.Name {
			next = append(next, j)
			continue
		}
		if !replaced {
			next = append(next, job)
			replaced = true
		}
	}
	if !replaced {
		next = append(next, job)
	}

	if err := s.persistLocked(next); err != nil {
		return err
	}
	logs.CtxInfo(ctx, "[schedule] saved job %s (%s)", job.Name, job.Timing())
	_, err = s.loadLocked(ctx, next)
	return err
}

// Remove deletes every job named name, persists and reloads.
func (s *Scheduler) Remove(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.opts.Store.Load()
	if err != nil {
		return err
	}

	next := make([]Job, 0, len(current))
	for _, j := range current {
		if strings.TrimSpace(j.Name) != name {
			next = append(next, j)
		}
	}
	if len(next) == len(current) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if err := s.persistLocked(next); err != nil {
		return err
	}
	logs.CtxInfo(ctx, "[schedule] removed job %s", name)
	_, err = s.loadLocked(ctx, next)
	return err
}

func (s *Scheduler) persistLocked(jobs []Job) error {
	data, err := s.opts.Store.Save(jobs)
	if err != nil {
		return err
	}
	s.lastHash, s.hashed = xxhash.Sum64(data), true
	return nil
}

// List returns the active jobs ordered by name.
func (s *Scheduler) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.active))
	for _, e := range s.active {
		out = append(out, JobStatus{Job: e.job, Next: e.next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.opts.Now())
		}
	}
}

// tick fires every job due at now. The next fire time is computed forward
// from now, so periods missed while the process was busy or asleep collapse
// into this single firing.
func (s *Scheduler) tick(ctx context.Context, now time.Time) []Job {
	now = now.UTC()

	s.mu.Lock()
	var due []Job
	for _, e := range s.active {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		due = append(due, e.job)
		e.next = nextFire(e.sched, now)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	for _, j := range due {
		trig := turn.NewSchedulerTrigger(j.Name, j.ChannelID, j.Prompt)
		accepted := s.opts.Enqueuer.Enqueue(ctx, trig)
		s.opts.Metrics.SchedulerFired(accepted)
		if accepted {
			logs.CtxInfo(ctx, "[schedule] fired job %s", j.Name)
		} else {
			logs.CtxInfo(ctx, "[schedule] job %s is still pending, firing dropped", j.Name)
		}
	}
	return due
}
