package feed

import (
	"context"
	"sync"
)

// Transport is the part of a backend connection the sync core consumes:
// registering and releasing change-feed subscriptions. The WebSocket Conn
// implements it in production; feedtest.Transport implements it in memory.
type Transport interface {
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
	Unsubscribe(ctx context.Context, sub *Subscription) error
}

// Subscription is one active registration on the change feed. Events for
// the subscription are delivered on the Events channel until the
// subscription is released or the connection closes, at which point the
// channel is closed.
type Subscription struct {
	id     string
	filter Filter

	mu     sync.Mutex
	closed bool
	events chan Event
}

// NewSubscription is used by Transport implementations to construct a
// subscription with a delivery buffer of the given size.
func NewSubscription(id string, filter Filter, buffer int) *Subscription {
	return &Subscription{
		id:     id,
		filter: filter,
		events: make(chan Event, buffer),
	}
}

// ID returns the server-assigned subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Filter returns the filter the subscription was registered with.
func (s *Subscription) Filter() Filter { return s.filter }

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Deliver offers an event to the subscription without blocking. It reports
// whether the event was accepted; a full buffer or a released subscription
// rejects the delivery and the caller decides whether to log or drop.
// Deliver may race a Terminate: the event is then dropped, never sent on
// the closed channel.
func (s *Subscription) Deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Terminate closes the delivery channel. Only the owning Transport may call
// it; calling it again is a no-op.
func (s *Subscription) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
