package channel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/gg/gmap"
)

type Registry struct {
	chans map[string]Channel
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		chans: make(map[string]Channel, 8),
	}
}

func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chans[ch.ID()]; ok {
		return fmt.Errorf("channel %s already registered", ch.ID())
	}
	r.chans[ch.ID()] = ch
	return nil
}

func (r *Registry) Get(id string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.chans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch, nil
}

// List returns the registered channels ordered by id.
func (r *Registry) List() []Channel {
	r.mu.RLock()
	out := gmap.ToSlice(
		r.chans,
		func(k string, v Channel) Channel { return v },
	)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chans)
}

func (r *Registry) Unregister(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chans, id)
}
