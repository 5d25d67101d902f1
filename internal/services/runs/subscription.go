package runs

import (
    "context"
    "io"
    "sync"

    "scout/internal/domain"
)

// Subscription is one listener's view of a session. Events queue without
// bound so a slow reader never blocks the run or other listeners.
type Subscription struct {
    mu     sync.Mutex
    queue  []domain.Event
    closed bool
    notify chan struct{}
    detach func(*Subscription)
}

func newSubscription(detach func(*Subscription)) *Subscription {
    return &Subscription{notify: make(chan struct{}, 1), detach: detach}
}

func (s *Subscription) push(ev domain.Event) {
    s.mu.Lock()
    if !s.closed {
        s.queue = append(s.queue, ev)
    }
    s.mu.Unlock()
    s.wake()
}

func (s *Subscription) finish() {
    s.mu.Lock()
    s.closed = true
    s.mu.Unlock()
    s.wake()
}

func (s *Subscription) wake() {
    select {
    case s.notify <- struct{}{}:
    default:
    }
}

// Next blocks for the next event. It returns io.EOF once the session has
// finished and every queued event has been read.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
    for {
        s.mu.Lock()
        if len(s.queue) > 0 {
            ev := s.queue[0]
            s.queue[0] = domain.Event{}
            s.queue = s.queue[1:]
            s.mu.Unlock()
            return ev, nil
        }
        closed := s.closed
        s.mu.Unlock()
        if closed {
            return domain.Event{}, io.EOF
        }
        select {
        case <-ctx.Done():
            return domain.Event{}, ctx.Err()
        case <-s.notify:
        }
    }
}

// Close detaches the listener. The run is unaffected.
func (s *Subscription) Close() {
    if s.detach != nil {
        s.detach(s)
    }
    s.finish()
}
