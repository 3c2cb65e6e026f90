// Package estests holds a conformance suite every es.EventStore
// implementation is expected to pass.
package estests

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/core/es"
)

// StoreFactory returns an empty store. It is called once per sub test.
type StoreFactory func(t *testing.T) es.EventStore

func envelope(aggType, aggID string, v es.Version) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Version:       v,
		AggregateType: aggType,
		AggregateID:   aggID,
		Type:          "test_event",
		OccurredAt:    time.Now().UTC().Truncate(time.Millisecond),
		Data:          []byte(fmt.Sprintf(`{"n":%d}`, v)),
	}
}

func envelopes(aggType, aggID string, from es.Version, n int) []es.Envelope {
	out := make([]es.Envelope, n)
	for i := range n {
		out[i] = envelope(aggType, aggID, from+es.Version(i+1))
	}
	return out
}

// RunStoreSuite runs the conformance suite against stores from newStore.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Run("load missing stream", func(t *testing.T) {
		s := newStore(t)
		events, err := s.Load(t.Context(), "station", "none")
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("append and load", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		first := envelopes("station", "CS-1", 0, 2)
		first[0].Meta = map[string]string{es.MetaCorrelationToken: "tok-1", es.MetaIdentity: "user:alice"}
		res, err := s.Append(ctx, "station", "CS-1", 0, first)
		require.NoError(t, err)
		require.NotZero(t, res.LastSeq)
		require.Len(t, res.Seqs, 2)
		require.Equal(t, res.LastSeq, res.Seqs[1])

		res2, err := s.Append(ctx, "station", "CS-1", 2, envelopes("station", "CS-1", 2, 1))
		require.NoError(t, err)
		require.Greater(t, res2.LastSeq, res.LastSeq)
		require.Equal(t, []uint64{res2.LastSeq}, res2.Seqs)

		events, err := s.Load(ctx, "station", "CS-1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			require.Equal(t, es.Version(i+1), e.Version)
			require.Equal(t, "station", e.AggregateType)
			require.Equal(t, "CS-1", e.AggregateID)
			require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(e.Data))
			if i > 0 {
				require.GreaterOrEqual(t, e.Seq, events[i-1].Seq)
			}
		}
		require.Equal(t, res.Seqs[0], events[0].Seq)
		require.Equal(t, res2.LastSeq, events[2].Seq)
		require.Greater(t, events[2].Seq, events[1].Seq, "a later append gets a later sequence")
		require.Equal(t, first[0].ID, events[0].ID)
		require.Equal(t, "tok-1", events[0].MetaValue(es.MetaCorrelationToken))
		require.Equal(t, "user:alice", events[0].MetaValue(es.MetaIdentity))
		require.True(t, first[0].OccurredAt.Equal(events[0].OccurredAt))
	})

	t.Run("streams are separate", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		_, err := s.Append(ctx, "station", "CS-1", 0, envelopes("station", "CS-1", 0, 2))
		require.NoError(t, err)
		_, err = s.Append(ctx, "station", "CS-2", 0, envelopes("station", "CS-2", 0, 1))
		require.NoError(t, err)

		events, err := s.Load(ctx, "station", "CS-2")
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("wrong expected version", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		_, err := s.Append(ctx, "station", "CS-1", 0, envelopes("station", "CS-1", 0, 1))
		require.NoError(t, err)

		_, err = s.Append(ctx, "station", "CS-1", 0, envelopes("station", "CS-1", 0, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
		_, err = s.Append(ctx, "station", "CS-1", 5, envelopes("station", "CS-1", 5, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		events, err := s.Load(ctx, "station", "CS-1")
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("no events", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Append(t.Context(), "station", "CS-1", 0, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok        int
			conflicts int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Append(ctx, "station", "CS-1", 0, envelopes("station", "CS-1", 0, 1))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, es.ErrConcurrencyConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, ok, "exactly one writer wins")
		require.Equal(t, writers-1, conflicts)
		events, err := s.Load(ctx, "station", "CS-1")
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("racing multi event appends", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		const (
			writers = 6
			rounds  = 5
			batch   = 3
		)
		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range rounds {
					events, err := s.Load(ctx, "station", "CS-1")
					if err != nil {
						return
					}
					cur := es.Version(len(events))
					batchEnvs := envelopes("station", "CS-1", cur, batch)
					for i := range batchEnvs {
						batchEnvs[i].Meta = map[string]string{"writer": fmt.Sprint(w)}
					}
					_, err = s.Append(ctx, "station", "CS-1", cur, batchEnvs)
					if err == nil {
						mu.Lock()
						ok++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		events, err := s.Load(ctx, "station", "CS-1")
		require.NoError(t, err)
		require.NotZero(t, ok)
		require.Len(t, events, ok*batch, "failed appends store nothing")
		for i, e := range events {
			require.Equal(t, es.Version(i+1), e.Version)
			if i%batch > 0 {
				require.Equal(t, events[i-1].MetaValue("writer"), e.MetaValue("writer"), "an append is never interleaved")
			}
		}
	})

	t.Run("read from", func(t *testing.T) {
		s := newStore(t)
		r, ok := s.(es.StreamReader)
		if !ok {
			t.Skip("store does not implement es.StreamReader")
		}
		ctx := t.Context()

		events, err := r.ReadFrom(ctx, 0, 10)
		require.NoError(t, err)
		require.Empty(t, events)

		_, err = s.Append(ctx, "station", "CS-1", 0, envelopes("station", "CS-1", 0, 2))
		require.NoError(t, err)
		_, err = s.Append(ctx, "station", "CS-2", 0, envelopes("station", "CS-2", 0, 1))
		require.NoError(t, err)
		_, err = s.Append(ctx, "station", "CS-1", 2, envelopes("station", "CS-1", 2, 1))
		require.NoError(t, err)

		var (
			all   []es.Envelope
			after uint64
		)
		for {
			page, err := r.ReadFrom(ctx, after, 1)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			all = append(all, page...)
			after = page[len(page)-1].Seq
		}
		require.Len(t, all, 4)
		require.Equal(t, "CS-1", all[0].AggregateID)
		require.Equal(t, "CS-1", all[1].AggregateID)
		require.Equal(t, "CS-2", all[2].AggregateID)
		require.Equal(t, es.Version(3), all[3].Version)
		for i := 1; i < len(all); i++ {
			require.GreaterOrEqual(t, all[i].Seq, all[i-1].Seq)
		}
	})

	t.Run("ids with subject characters", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		ids := []string{"CS.1", "CS*1", "CS>1"}
		for _, id := range ids {
			_, err := s.Append(ctx, "station", id, 0, envelopes("station", id, 0, 1))
			require.NoError(t, err, id)
		}
		for _, id := range ids {
			events, err := s.Load(ctx, "station", id)
			require.NoError(t, err)
			require.Len(t, events, 1, id)
			require.Equal(t, id, events[0].AggregateID)
		}
	})
}
