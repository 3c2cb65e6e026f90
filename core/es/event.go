package es

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Event is a fact that happened to an aggregate. The type tag is what gets
// persisted, so it must stay stable across releases.
type Event interface {
	EventType() string
}

// EventRegistry maps event type tags to constructors so persisted events can
// be decoded without reflection.
type EventRegistry struct {
	mu    sync.RWMutex
	ctors map[string]func() Event
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{ctors: map[string]func() Event{}}
}

// Register adds constructors. The tag of each is taken from a sample instance.
func (r *EventRegistry) Register(ctors ...func() Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctor := range ctors {
		r.ctors[ctor().EventType()] = ctor
	}
}

// Types returns all registered type tags, sorted.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *EventRegistry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return ev, nil
}

var _ Decoder = (*EventRegistry)(nil)

// Ctor returns a constructor producing a fresh *T for decoding.
//
//	registry.Register(es.Ctor[Created](), es.Ctor[Booted]())
func Ctor[T any, PT interface {
	*T
	Event
}]() func() Event {
	return func() Event { return PT(new(T)) }
}
