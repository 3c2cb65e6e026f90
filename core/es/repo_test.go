package es_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/core/es"
)

func TestRepository_LoadMissing(t *testing.T) {
	repo := es.NewRepository(es.NewInMemoryStore(), newRegistry())
	var c counter
	v, err := repo.Load(t.Context(), "counter", "c-1", &c)
	require.NoError(t, err)
	require.Equal(t, es.Version(0), v)
	require.False(t, c.Opened)
}

func TestRepository_SaveAndLoad(t *testing.T) {
	var (
		n    int
		repo = es.NewRepository(
			es.NewInMemoryStore(),
			newRegistry(),
			es.WithIDGenerator(func() string { n++; return string(rune('a' + n)) }),
		)
		meta = map[string]string{es.MetaCorrelationToken: "tok-1"}
	)

	envs, err := repo.Save(t.Context(), "counter", "c-1", 0, meta, []es.Event{
		&opened{Name: "x"},
		&incremented{By: 2},
		&incremented{By: 3},
	})
	require.NoError(t, err)
	require.Len(t, envs, 3)
	for i, e := range envs {
		require.Equal(t, es.Version(i+1), e.Version)
		require.Equal(t, uint64(i+1), e.Seq)
		require.Equal(t, "tok-1", e.MetaValue(es.MetaCorrelationToken))
		require.NotEmpty(t, e.ID)
	}
	require.Equal(t, "opened", envs[0].Type)

	// meta is copied, not shared
	meta[es.MetaCorrelationToken] = "changed"
	require.Equal(t, "tok-1", envs[0].MetaValue(es.MetaCorrelationToken))

	var c counter
	v, err := repo.Load(t.Context(), "counter", "c-1", &c)
	require.NoError(t, err)
	require.Equal(t, es.Version(3), v)
	require.Equal(t, counter{Opened: true, Name: "x", Count: 5}, c)
}

func TestRepository_SaveTakesSeqsFromStore(t *testing.T) {
	repo := es.NewRepository(&commitStore{EventStore: es.NewInMemoryStore()}, newRegistry())
	_, err := repo.Save(t.Context(), "counter", "c-1", 0, nil, []es.Event{&opened{Name: "x"}})
	require.NoError(t, err)

	envs, err := repo.Save(t.Context(), "counter", "c-1", 1, nil, []es.Event{
		&incremented{By: 1},
		&incremented{By: 2},
	})
	require.NoError(t, err)
	require.Len(t, envs, 2)
	for _, e := range envs {
		require.Equal(t, uint64(2), e.Seq, "both events were stored in the second commit")
	}

	_, err = es.NewRepository(shortSeqStore{es.NewInMemoryStore()}, newRegistry()).
		Save(t.Context(), "counter", "c-1", 0, nil, []es.Event{&opened{Name: "x"}, &incremented{By: 1}})
	require.ErrorContains(t, err, "2 events")
}

func TestRepository_SaveConflict(t *testing.T) {
	repo := es.NewRepository(es.NewInMemoryStore(), newRegistry())
	_, err := repo.Save(t.Context(), "counter", "c-1", 0, nil, []es.Event{&opened{Name: "x"}})
	require.NoError(t, err)

	_, err = repo.Save(t.Context(), "counter", "c-1", 0, nil, []es.Event{&opened{Name: "y"}})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
}

func TestRepository_UnknownEventType(t *testing.T) {
	store := es.NewInMemoryStore()
	_, err := es.NewRepository(store, newRegistry()).
		Save(t.Context(), "counter", "c-1", 0, nil, []es.Event{&opened{Name: "x"}})
	require.NoError(t, err)

	var c counter
	_, err = es.NewRepository(store, es.NewRegistry()).Load(t.Context(), "counter", "c-1", &c)
	require.ErrorIs(t, err, es.ErrUnknownEventType)
}

func TestRepository_SaveNothing(t *testing.T) {
	repo := es.NewRepository(es.NewInMemoryStore(), newRegistry())
	_, err := repo.Save(t.Context(), "counter", "c-1", 0, nil, nil)
	require.ErrorIs(t, err, es.ErrStoreNoEvents)
}

func TestRegistry_Types(t *testing.T) {
	require.Equal(t, []string{"incremented", "opened"}, newRegistry().Types())
}
