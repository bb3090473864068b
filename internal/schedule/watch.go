package schedule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tgifai/strix/internal/pkg/logs"
)

const watchDebounce = 500 * time.Millisecond

// fileWatcher reloads the schedule when scheduler.yaml changes. The parent
// directory is watched so editors that save through rename are seen. Our
// own writes are skipped by content hash in reloadLocked.
type fileWatcher struct {
	s        *Scheduler
	fw       *fsnotify.Watcher
	target   string
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func (s *Scheduler) startWatcher(ctx context.Context) error {
	target, err := filepath.Abs(s.opts.Store.Path())
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schedule directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &fileWatcher{s: s, fw: fw, target: target, debounce: watchDebounce}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run(ctx)
	}()
	logs.CtxInfo(ctx, "[schedule] watching %s", target)
	return nil
}

func (w *fileWatcher) run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				logs.CtxDebug(ctx, "[schedule] %s changed (%s)", event.Name, event.Op)
				w.scheduleReload(ctx)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logs.CtxWarn(ctx, "[schedule] watcher error: %v", err)
		}
	}
}

func (w *fileWatcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.s.reloadIfChanged(ctx)
	})
}

func (s *Scheduler) reloadIfChanged(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.reloadLocked(ctx, true); err != nil {
		logs.CtxWarn(ctx, "[schedule] reload after file change failed: %v", err)
	}
}
