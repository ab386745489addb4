// Package pending correlates purchase request ids with the entitlement key
// the request targets, so that results without a receipt can still be
// applied.
package pending

import (
	"sync"
	"time"

	"github.com/rcourtman/buttonclicker/internal/buffer"
	"github.com/rcourtman/buttonclicker/internal/catalog"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 1024
)

// EvictReason says why an entry left the registry without being taken.
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
)

type entry struct {
	key catalog.Key
	exp time.Time
}

// Registry is a bounded request id -> key map. Entries leave when taken, when
// their TTL elapses, or when the oldest entry is pushed out by capacity.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	data    map[string]entry
	order   *buffer.Queue[string]
	onEvict func(id string, key catalog.Key, reason EvictReason)
	now     func() time.Time
	closed  chan struct{}
	once    sync.Once
}

// Option customizes a Registry.
type Option func(*Registry)

// WithEvictHook is called (outside the lock) whenever an entry is dropped
// without being taken.
func WithEvictHook(fn func(id string, key catalog.Key, reason EvictReason)) Option {
	return func(r *Registry) { r.onEvict = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry. Non-positive limits fall back to defaults.
// A background goroutine sweeps expired entries every minute until Close.
func New(maxEntries int, ttl time.Duration, opts ...Option) *Registry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		ttl:    ttl,
		data:   make(map[string]entry),
		order:  buffer.New[string](maxEntries),
		now:    time.Now,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.cleanupLoop()
	return r
}

type evicted struct {
	id  string
	key catalog.Key
	why EvictReason
}

// Put records the key targeted by request id.
func (r *Registry) Put(id string, key catalog.Key) {
	var dropped []evicted

	r.mu.Lock()
	if _, exists := r.data[id]; exists {
		r.order.RemoveFunc(func(v string) bool { return v == id })
	}
	r.data[id] = entry{key: key, exp: r.now().Add(r.ttl)}
	if oldest, full := r.order.Push(id); full {
		if e, ok := r.data[oldest]; ok {
			delete(r.data, oldest)
			dropped = append(dropped, evicted{id: oldest, key: e.key, why: EvictCapacity})
		}
	}
	r.mu.Unlock()

	r.notify(dropped)
}

// Take returns and removes the key for request id.
func (r *Registry) Take(id string) (catalog.Key, bool) {
	var dropped []evicted

	r.mu.Lock()
	e, ok := r.data[id]
	if ok {
		delete(r.data, id)
		r.order.RemoveFunc(func(v string) bool { return v == id })
		if r.now().After(e.exp) {
			dropped = append(dropped, evicted{id: id, key: e.key, why: EvictExpired})
			ok = false
		}
	}
	r.mu.Unlock()

	r.notify(dropped)
	if !ok {
		return "", false
	}
	return e.key, true
}

// Len returns the number of tracked requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Sweep removes expired entries and returns how many were dropped.
func (r *Registry) Sweep() int {
	var dropped []evicted

	r.mu.Lock()
	now := r.now()
	for id, e := range r.data {
		if now.After(e.exp) {
			delete(r.data, id)
			dropped = append(dropped, evicted{id: id, key: e.key, why: EvictExpired})
		}
	}
	if len(dropped) > 0 {
		gone := make(map[string]struct{}, len(dropped))
		for _, d := range dropped {
			gone[d.id] = struct{}{}
		}
		r.order.RemoveFunc(func(v string) bool {
			_, ok := gone[v]
			return ok
		})
	}
	r.mu.Unlock()

	r.notify(dropped)
	return len(dropped)
}

func (r *Registry) notify(dropped []evicted) {
	if r.onEvict == nil {
		return
	}
	for _, d := range dropped {
		r.onEvict(d.id, d.key, d.why)
	}
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.closed:
			return
		}
	}
}

// Close stops the background sweeper. It is safe to call more than once.
func (r *Registry) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}
