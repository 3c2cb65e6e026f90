package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is the fold target of an aggregate stream. Apply must be a pure state
// transition: the same events always produce the same state.
type State interface {
	Apply(event Event) error
}

// Repository rehydrates aggregate state from the event log and appends new
// events with optimistic concurrency.
type Repository struct {
	log         *slog.Logger
	store       EventStore
	registry    *EventRegistry
	metrics     Metrics
	idGenerator IDGenerator
}

func NewRepository(store EventStore, registry *EventRegistry, opts ...RepositoryOption) *Repository {
	options := newRepoOpts(opts...)
	return &Repository{
		log:         options.log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:       store,
		registry:    registry,
		metrics:     options.metrics,
		idGenerator: options.idGenerator,
	}
}

// Load folds the stream of aggType/aggID into state and returns the version
// it ended at. A missing stream leaves state untouched and returns version 0.
func (r *Repository) Load(ctx context.Context, aggType, aggID string, state State) (Version, error) {
	if aggType == "" {
		return 0, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return 0, errors.New("aggregate id is empty")
	}

	timer := r.metrics.StoreLoadDuration(aggType)
	loaded, err := r.store.Load(ctx, aggType, aggID)
	timer.ObserveDuration()
	if err != nil {
		return 0, fmt.Errorf("load agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}

	var cur Version
	for _, e := range loaded {
		if e.Version != cur+1 {
			return 0, fmt.Errorf("expect version %d, got %d", cur+1, e.Version)
		}
		evt, err := r.registry.Decode(e)
		if err != nil {
			return 0, err
		}
		if err := state.Apply(evt); err != nil {
			return 0, fmt.Errorf("apply %s@%d: %w", e.Type, e.Version, err)
		}
		cur = e.Version
	}

	r.log.Debug(
		"loaded",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID), cur.SlogAttr()),
		slog.Int("num_events", len(loaded)),
	)

	return cur, nil
}

// Save appends events to the stream, expecting it to still be at expected.
// Every envelope carries a copy of meta.
func (r *Repository) Save(
	ctx context.Context,
	aggType, aggID string,
	expected Version,
	meta map[string]string,
	events []Event,
) ([]Envelope, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	var (
		now  = time.Now()
		envs = make([]Envelope, 0, len(events))
		v    = expected
	)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
		}
		v++
		env := Envelope{
			ID:            r.idGenerator(),
			Version:       v,
			AggregateType: aggType,
			AggregateID:   aggID,
			Type:          ev.EventType(),
			OccurredAt:    now,
			Meta:          copyMeta(meta),
			Data:          data,
		}
		if err := env.Validate(); err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}

	timer := r.metrics.StoreAppendDuration(aggType)
	res, err := r.store.Append(ctx, aggType, aggID, expected, envs)
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return nil, errors.New("append returned nil result")
	}
	if len(res.Seqs) != len(envs) {
		return nil, fmt.Errorf("append returned %d sequences for %d events", len(res.Seqs), len(envs))
	}
	for i := range envs {
		envs[i].Seq = res.Seqs[i]
	}
	r.metrics.EventsAppended(aggType, len(envs))

	r.log.Debug(
		"saved",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID), v.SlogAttr()),
		slog.Uint64("last_seq", res.LastSeq),
		slog.Int("num_events", len(envs)),
	)

	return envs, nil
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
