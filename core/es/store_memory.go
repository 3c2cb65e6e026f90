package es

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

type streamKey struct{ aggType, aggID string }

// InMemoryStore keeps every stream in process. Envelopes are copied on the
// way in and out, so callers never share meta maps or payloads with it.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	streams map[streamKey][]Envelope
	// all holds every envelope in sequence order; all[i].Seq == i+1
	all []Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[streamKey][]Envelope{},
	}
}

func cloneEnvelope(e Envelope) Envelope {
	e.Meta = maps.Clone(e.Meta)
	e.Data = slices.Clone(e.Data)
	return e
}

func (s *InMemoryStore) Load(_ context.Context, aggType, aggID string) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamKey{aggType, aggID}]
	out := make([]Envelope, len(stream))
	for i, e := range stream {
		out[i] = cloneEnvelope(e)
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID string,
	expectVersion Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		key        = streamKey{aggType, aggID}
		stream     = s.streams[key]
		curVersion Version
	)
	if n := len(stream); n > 0 {
		curVersion = stream[n-1].Version
	}
	if curVersion != expectVersion {
		return nil, fmt.Errorf(
			"%w: expected version %d, got %d (agg_type=%s agg_id=%s)",
			ErrConcurrencyConflict, expectVersion, curVersion, aggType, aggID,
		)
	}

	var (
		appended = make([]Envelope, 0, len(events))
		seqs     = make([]uint64, 0, len(events))
		next     = uint64(len(s.all))
	)
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return nil, fmt.Errorf("envelope %s belongs to %s/%s, not %s/%s", e.ID, e.AggregateType, e.AggregateID, aggType, aggID)
		}
		if want := expectVersion + Version(i+1); e.Version != want {
			return nil, fmt.Errorf("envelope %s has version %d, want %d", e.ID, e.Version, want)
		}
		e = cloneEnvelope(e)
		e.Seq = next + uint64(i+1)
		appended = append(appended, e)
		seqs = append(seqs, e.Seq)
	}
	s.streams[key] = append(stream, appended...)
	s.all = append(s.all, appended...)
	lastSeq := seqs[len(seqs)-1]

	s.log.Debug("append",
		slog.String("aggregate_type", aggType),
		slog.String("aggregate_id", aggID),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(appended)),
	)
	return &StoreAppendResult{Seqs: seqs, LastSeq: lastSeq}, nil
}

func (s *InMemoryStore) ReadFrom(_ context.Context, afterSeq uint64, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if afterSeq >= uint64(len(s.all)) {
		return nil, nil
	}
	end := uint64(len(s.all))
	if limit > 0 {
		end = min(end, afterSeq+uint64(limit))
	}
	out := make([]Envelope, 0, end-afterSeq)
	for _, e := range s.all[afterSeq:end] {
		out = append(out, cloneEnvelope(e))
	}
	return out, nil
}

var (
	_ EventStore   = (*InMemoryStore)(nil)
	_ StreamReader = (*InMemoryStore)(nil)
)
