package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// stream is one Subscribe() subscriber's inbox. Dispatch's send must never
// suspend regardless of how slowly the consumer drains it, so incoming
// events land on an internal growable queue rather than directly on the
// bounded Go channel a reader ranges over; a pump goroutine moves events
// from the queue to the channel one at a time, blocking only itself while
// the queue, not the producer, absorbs any backlog. No example repo in the
// pack implements an unbounded channel literally — eventbus.MemoryBus's
// subscriber channel is bounded and drops on overflow — so this queue+pump
// shape is a standard-library construction, justified in DESIGN.md.
type stream struct {
	id string

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	closed bool

	out  chan Event
	dead atomic.Bool
}

func newStream() *stream {
	s := &stream{
		id:     uuid.NewString(),
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}
	go s.pump()
	return s
}

// send enqueues event without blocking the caller.
func (s *stream) send(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the queue onto out, one event at a time, blocking on the
// channel send (not the producer) when the consumer is slow.
func (s *stream) pump() {
	defer close(s.out)
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			closed := s.closed
			s.mu.Unlock()

			if closed {
				return
			}
			s.out <- event
		}
	}
}

// close stops the pump and releases the channel. Safe to call once.
func (s *stream) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	close(s.notify)
	s.dead.Store(true)
}
