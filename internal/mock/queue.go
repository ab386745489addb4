package mock

import (
	"sync"

	"github.com/rcourtman/buttonclicker/pkg/purchasing"
)

// eventQueue hands events to a single pump goroutine so push never blocks,
// even when the consumer is the caller.
type eventQueue struct {
	mu      sync.Mutex
	pending []purchasing.Event
	signal  chan struct{}
	done    chan struct{}
	out     chan purchasing.Event
	once    sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan purchasing.Event),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev purchasing.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) close() {
	q.once.Do(func() { close(q.done) })
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		var next purchasing.Event
		if len(q.pending) > 0 {
			next = q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}

		select {
		case q.out <- next:
		case <-q.done:
			return
		}
	}
}
