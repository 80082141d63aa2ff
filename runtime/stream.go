package runtime

import (
	"sync"
)

// Stream serializes work items FIFO, mimicking a device-side work queue:
// each enqueued item starts only after the previous one finished, while the
// enqueuing goroutine returns immediately with an Event.
//
// The first error latches: later items are skipped (their events still fire)
// and Synchronize returns the latched error. A stream is safe for concurrent
// use, though items enqueued from different goroutines race for queue order.
type Stream struct {
	mu   sync.Mutex
	tail chan struct{}
	err  error
}

// NewStream creates an empty, immediately-synchronized stream.
func NewStream() *Stream {
	tail := make(chan struct{})
	close(tail)
	return &Stream{tail: tail}
}

// Event marks a point in a stream's work queue. It fires when every item
// enqueued before it has finished (or been skipped after an error).
type Event struct {
	done <-chan struct{}
}

// Wait blocks until the event fires.
func (ev *Event) Wait() {
	<-ev.done
}

// Done reports whether the event already fired, without blocking.
func (ev *Event) Done() bool {
	select {
	case <-ev.done:
		return true
	default:
		return false
	}
}

// Enqueue appends fn to the stream and returns the event that fires when it
// (and everything before it) completes.
func (s *Stream) Enqueue(fn func() error) *Event {
	s.mu.Lock()
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		<-prev
		s.mu.Lock()
		failed := s.err != nil
		s.mu.Unlock()
		if failed {
			return
		}
		if err := fn(); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	}()
	return &Event{done: done}
}

// Record returns an event marking the stream's current tail.
func (s *Stream) Record() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Event{done: s.tail}
}

// WaitEvent enqueues a barrier: items enqueued after it will not start until
// ev fires. Used to make one stream wait on another's progress.
func (s *Stream) WaitEvent(ev *Event) {
	s.Enqueue(func() error {
		ev.Wait()
		return nil
	})
}

// Synchronize blocks until every enqueued item has completed and returns the
// first error the stream latched, if any.
func (s *Stream) Synchronize() error {
	s.Record().Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
