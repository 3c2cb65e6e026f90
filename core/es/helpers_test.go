package es_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/codewandler/chargebridge/core/es"
)

// a small counter aggregate used across the package tests

type (
	opened struct {
		Name string `json:"name"`
	}
	incremented struct {
		By int `json:"by"`
	}
)

func (opened) EventType() string      { return "opened" }
func (incremented) EventType() string { return "incremented" }

type counter struct {
	Opened bool
	Name   string
	Count  int
}

func (c *counter) Apply(ev es.Event) error {
	switch e := ev.(type) {
	case *opened:
		c.Opened, c.Name = true, e.Name
	case *incremented:
		c.Count += e.By
	default:
		return errors.New("unexpected event")
	}
	return nil
}

func newRegistry() *es.EventRegistry {
	r := es.NewRegistry()
	r.Register(es.Ctor[opened](), es.Ctor[incremented]())
	return r
}

type (
	openCmd struct {
		ID   string
		Name string
		meta map[string]string
	}
	incCmd struct {
		ID string
		By int
	}
)

func (c openCmd) CommandType() string     { return "open" }
func (c openCmd) AggregateID() string     { return c.ID }
func (c openCmd) Validate() error         { return nil }
func (c openCmd) Meta() map[string]string { return c.meta }
func (c incCmd) CommandType() string      { return "inc" }
func (c incCmd) AggregateID() string      { return c.ID }
func (c incCmd) Validate() error {
	if c.By <= 0 {
		return errors.New("by must be positive")
	}
	return nil
}

var errNotOpen = errors.New("counter not open")

func registerCounter(r *es.Router[*counter]) {
	es.On(r, "open", func(_ context.Context, s *counter, c openCmd) (es.Decision, error) {
		if s.Opened {
			return es.Decision{Reply: "exists"}, nil
		}
		return es.Decision{Events: []es.Event{&opened{Name: c.Name}}}, nil
	})
	es.On(r, "inc", func(_ context.Context, s *counter, c incCmd) (es.Decision, error) {
		if !s.Opened {
			return es.Decision{}, errNotOpen
		}
		return es.Decision{Events: []es.Event{&incremented{By: c.By}}, Reply: s.Count + c.By}, nil
	})
}

// trackingStore records how many load/append cycles are in flight per
// aggregate at once.
type trackingStore struct {
	es.EventStore

	mu       sync.Mutex
	inFlight map[string]int
	maxSeen  atomic.Int32
}

func newTrackingStore(inner es.EventStore) *trackingStore {
	return &trackingStore{EventStore: inner, inFlight: map[string]int{}}
}

func (s *trackingStore) Load(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	s.mu.Lock()
	s.inFlight[aggID]++
	if n := int32(s.inFlight[aggID]); n > s.maxSeen.Load() {
		s.maxSeen.Store(n)
	}
	s.mu.Unlock()
	return s.EventStore.Load(ctx, aggType, aggID)
}

func (s *trackingStore) Append(ctx context.Context, aggType, aggID string, expected es.Version, envs []es.Envelope) (*es.StoreAppendResult, error) {
	defer func() {
		s.mu.Lock()
		s.inFlight[aggID]--
		s.mu.Unlock()
	}()
	return s.EventStore.Append(ctx, aggType, aggID, expected, envs)
}

// conflictingStore fails the first n appends with a concurrency conflict.
type conflictingStore struct {
	es.EventStore
	failures atomic.Int32
}

func (s *conflictingStore) Append(ctx context.Context, aggType, aggID string, expected es.Version, envs []es.Envelope) (*es.StoreAppendResult, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, es.ErrConcurrencyConflict
	}
	return s.EventStore.Append(ctx, aggType, aggID, expected, envs)
}

// commitStore numbers appends instead of events, the way a store that keeps
// one record per append does.
type commitStore struct {
	es.EventStore
	commits atomic.Uint64
}

func (s *commitStore) Append(ctx context.Context, aggType, aggID string, expected es.Version, envs []es.Envelope) (*es.StoreAppendResult, error) {
	res, err := s.EventStore.Append(ctx, aggType, aggID, expected, envs)
	if err != nil {
		return nil, err
	}
	commit := s.commits.Add(1)
	res.Seqs = slices.Repeat([]uint64{commit}, len(envs))
	res.LastSeq = commit
	return res, nil
}

// shortSeqStore reports a single sequence for the whole append.
type shortSeqStore struct {
	es.EventStore
}

func (s shortSeqStore) Append(ctx context.Context, aggType, aggID string, expected es.Version, envs []es.Envelope) (*es.StoreAppendResult, error) {
	res, err := s.EventStore.Append(ctx, aggType, aggID, expected, envs)
	if err != nil {
		return nil, err
	}
	res.Seqs = res.Seqs[len(res.Seqs)-1:]
	return res, nil
}
