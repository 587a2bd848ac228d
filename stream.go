package midjourney

import (
	"context"
	"iter"
	"sync"
)

// Event is one item delivered by a Stream. Exactly one of Created and
// Progress is set.
type Event struct {
	Created  *NewJob
	Progress *JobUpdate
}

// Stream is a Listener that buffers session events for pull-style
// consumption. Pass it to NewSession and read with Next or Events.
//
// When the buffer is full new events are dropped rather than blocking the
// session's receive loop; Dropped reports how many. The stream ends when the
// session is disconnected or its transport fails, so a Stream serves one
// connection.
type Stream struct {
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	err     error
	dropped int

	closeOnce sync.Once
}

// NewStream creates a Stream buffering up to size events.
func NewStream(size int) *Stream {
	if size <= 0 {
		size = 100
	}
	return &Stream{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// JobCreated implements Listener.
func (s *Stream) JobCreated(job NewJob) {
	s.push(Event{Created: &job})
}

// JobProgress implements Listener.
func (s *Stream) JobProgress(update JobUpdate) {
	s.push(Event{Progress: &update})
}

// Disconnected implements DisconnectListener. It ends the stream with err.
func (s *Stream) Disconnected(err error) {
	s.finish(err)
}

// Close ends the stream without an error. Buffered events remain readable.
func (s *Stream) Close() {
	s.finish(nil)
}

// Next returns the next event. After the stream has ended and its buffer is
// drained it returns nil and the error that ended it, if any.
func (s *Stream) Next(ctx context.Context) (*Event, error) {
	select {
	case ev := <-s.events:
		return &ev, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-s.events:
		return &ev, nil
	case <-s.done:
		// Drain any remaining events
		select {
		case ev := <-s.events:
			return &ev, nil
		default:
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
}

// Events returns an iterator over all events in the stream.
func (s *Stream) Events(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if ev == nil {
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Stream) push(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.events <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func (s *Stream) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
