package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type (
	// Subscriber receives published events. Returned errors are logged and
	// counted; they never reach the command that produced the event.
	Subscriber interface {
		HandleEvent(ctx context.Context, env Envelope, ev Event) error
	}

	SubscriberFunc func(ctx context.Context, env Envelope, ev Event) error
)

func (f SubscriberFunc) HandleEvent(ctx context.Context, env Envelope, ev Event) error {
	return f(ctx, env, ev)
}

type (
	subscription struct {
		id    uint64
		name  string
		sub   Subscriber
		types map[string]struct{} // empty: all types
	}

	delivery struct {
		env Envelope
		ev  Event
	}

	busQueue struct {
		items []delivery
	}
)

// Bus delivers events to subscribers asynchronously. Events of one aggregate
// are delivered in publish order; aggregates do not wait on each other.
// Publish never blocks, so a subscriber may dispatch new commands into the
// router that published the event.
type Bus struct {
	log     *slog.Logger
	metrics Metrics
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	nextID uint64
	subs   []*subscription
	queues map[string]*busQueue
	closed bool
	wg     sync.WaitGroup
}

func NewBus(opts ...BusOption) *Bus {
	options := newBusOpts(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		log:     options.log.With(slog.String("component", "bus")),
		metrics: options.metrics,
		ctx:     ctx,
		cancel:  cancel,
		queues:  map[string]*busQueue{},
	}
}

// Subscribe registers sub for the given event types, or for every event when
// none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(name string, sub Subscriber, eventTypes ...string) (cancel func()) {
	s := &subscription{name: name, sub: sub, types: map[string]struct{}{}}
	for _, t := range eventTypes {
		s.types[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	b.log.Debug("subscribed", slog.String("subscriber", name), slog.Any("types", eventTypes))

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, cur := range b.subs {
			if cur.id == s.id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues envs for delivery. envs and events are parallel slices.
func (b *Bus) Publish(envs []Envelope, events []Event) {
	if len(envs) != len(events) {
		b.log.Error("publish: envelope and event count differ", slog.Int("envelopes", len(envs)), slog.Int("events", len(events)))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.Warn("publish on closed bus", slog.Int("num_events", len(envs)))
		return
	}

	for i, env := range envs {
		key := env.AggregateType + "/" + env.AggregateID
		q, ok := b.queues[key]
		if !ok {
			q = &busQueue{}
			b.queues[key] = q
			b.wg.Add(1)
			go b.drain(key, q)
		}
		q.items = append(q.items, delivery{env: env, ev: events[i]})
	}
}

func (b *Bus) drain(key string, q *busQueue) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(q.items) == 0 {
			delete(b.queues, key)
			b.mu.Unlock()
			return
		}
		d := q.items[0]
		q.items[0] = delivery{}
		q.items = q.items[1:]
		targets := b.matchingLocked(d.env.Type)
		b.mu.Unlock()

		for _, s := range targets {
			b.deliver(s, d)
		}
	}
}

func (b *Bus) matchingLocked(eventType string) []*subscription {
	out := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if len(s.types) == 0 {
			out = append(out, s)
			continue
		}
		if _, ok := s.types[eventType]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) deliver(s *subscription, d delivery) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		return s.sub.HandleEvent(b.ctx, d.env, d.ev)
	}()

	b.metrics.EventDelivered(d.env.Type, err == nil)
	if err != nil {
		b.log.Error(
			"deliver failed",
			slog.String("subscriber", s.name),
			d.env.logAttrs(),
			slog.Any("error", err),
		)
	}
}

// Flush blocks until every queued event has been delivered or ctx is done.
func (b *Bus) Flush(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		b.mu.Lock()
		n := len(b.queues)
		b.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close stops accepting events and waits for queued deliveries until ctx is
// done. Subscribers still running after that see their context cancelled.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	defer b.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
