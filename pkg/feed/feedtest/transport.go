// Package feedtest provides an in-memory feed.Transport for tests: events
// are force-fed with Push and fanned out to the registered subscriptions
// the same way the server would, including filter evaluation. Delivery is
// synchronous, which keeps tests deterministic.
package feedtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"

	"github.com/deskstream/deskstream/internal/codec"
	"github.com/deskstream/deskstream/pkg/feed"
)

// Transport is an in-memory feed.Transport.
type Transport struct {
	mu       sync.Mutex
	subs     map[string]*feed.Subscription
	released []feed.Filter
	codec    codec.Codec

	// FailSubscribe, when set, makes the next Subscribe call fail with
	// this error.
	FailSubscribe error
}

// New returns an empty transport.
func New() *Transport {
	return &Transport{
		subs:  make(map[string]*feed.Subscription),
		codec: codec.NewCBOR(),
	}
}

func (t *Transport) Subscribe(_ context.Context, filter feed.Filter) (*feed.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailSubscribe != nil {
		err := t.FailSubscribe
		t.FailSubscribe = nil
		return nil, err
	}

	id := uuid.Must(uuid.NewV4()).String()
	sub := feed.NewSubscription(id, filter, feed.DefaultEventBuffer)
	t.subs[id] = sub
	return sub, nil
}

func (t *Transport) Unsubscribe(_ context.Context, sub *feed.Subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[sub.ID()]; !ok {
		return fmt.Errorf("unknown subscription %s", sub.ID())
	}
	delete(t.subs, sub.ID())
	t.released = append(t.released, sub.Filter())
	sub.Terminate()
	return nil
}

// Push delivers an event to every active subscription whose filter matches.
// It returns the number of subscriptions the event was delivered to.
func (t *Transport) Push(ev feed.Event) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	delivered := 0
	for _, sub := range t.subs {
		if !t.matches(sub.Filter(), ev) {
			continue
		}
		ev := ev
		ev.Subscription = sub.ID()
		if sub.Deliver(ev) {
			delivered++
		}
	}
	return delivered
}

// ActiveCount returns how many subscriptions are currently registered.
func (t *Transport) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Released returns the filters of subscriptions released so far, in order.
func (t *Transport) Released() []feed.Filter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]feed.Filter(nil), t.released...)
}

func (t *Transport) matches(f feed.Filter, ev feed.Event) bool {
	if f.Table != ev.Table {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Eq) == 0 && len(f.Neq) == 0 {
		return true
	}

	row := map[string]any{}
	if len(ev.NewRow) > 0 {
		if err := t.codec.Unmarshal(ev.NewRow, &row); err != nil {
			return false
		}
	}
	for col, want := range f.Eq {
		if fmt.Sprint(row[col]) != want {
			return false
		}
	}
	for col, not := range f.Neq {
		if fmt.Sprint(row[col]) == not {
			return false
		}
	}
	return true
}

// Row encodes a value as a raw CBOR row payload for use in pushed events.
func Row(v any) cbor.RawMessage {
	c := codec.NewCBOR()
	data, err := c.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
