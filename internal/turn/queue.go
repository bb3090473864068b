package turn

import (
	"context"
	"sync"
)

// Queue is the unbounded FIFO feeding the Serializer. A dedupe key stays
// held from Push until Release, so it covers both the queued and the
// running trigger. There is no backpressure: producers never block and a
// stalled consumer lets the queue grow without limit.
type Queue struct {
	mu      sync.Mutex
	items   []*Trigger
	pending map[string]struct{}
	notify  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Push appends t unless its dedupe key is already held. admit, when not
// nil, runs under the queue lock before the trigger becomes visible to Pop,
// so anything it writes is ordered before the trigger's turn.
func (q *Queue) Push(t *Trigger, admit func(accepted bool, size int)) bool {
	q.mu.Lock()
	key := t.DedupeKey()
	if key != "" {
		if _, held := q.pending[key]; held {
			if admit != nil {
				admit(false, len(q.items))
			}
			q.mu.Unlock()
			return false
		}
		q.pending[key] = struct{}{}
	}
	q.items = append(q.items, t)
	if admit != nil {
		admit(true, len(q.items))
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until a trigger is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (*Trigger, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return t, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Release frees t's dedupe key once its turn has ended.
func (q *Queue) Release(t *Trigger) {
	key := t.DedupeKey()
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain drops every queued trigger and returns how many were dropped.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	for _, t := range q.items {
		if key := t.DedupeKey(); key != "" {
			delete(q.pending, key)
		}
	}
	q.items = nil
	return n
}
