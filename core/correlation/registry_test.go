package correlation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/core/correlation"
	"github.com/codewandler/chargebridge/ports/kv"
)

type pending struct {
	StationID string `json:"station_id"`
	Action    string `json:"action"`
}

type countingCounter struct {
	mu sync.Mutex
	n  float64
}

func (c *countingCounter) Inc() { c.Add(1) }
func (c *countingCounter) Add(d float64) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}
func (c *countingCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRegistry_RegisterResolve(t *testing.T) {
	r := correlation.New(correlation.Options[pending]{})
	defer r.Close()

	p := pending{StationID: "CS-1", Action: "Reset"}
	require.NoError(t, r.Register(t.Context(), "tok-1", p, time.Minute))
	require.Equal(t, 1, r.Pending())

	got, err := r.Resolve(t.Context(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, p, got)
	require.Equal(t, 0, r.Pending())

	_, err = r.Resolve(t.Context(), "tok-1")
	require.ErrorIs(t, err, correlation.ErrUnknownToken)
}

func TestRegistry_Errors(t *testing.T) {
	r := correlation.New(correlation.Options[pending]{})
	defer r.Close()

	require.ErrorIs(t, r.Register(t.Context(), "", pending{}, 0), correlation.ErrEmptyToken)
	_, err := r.Resolve(t.Context(), "")
	require.ErrorIs(t, err, correlation.ErrEmptyToken)

	require.NoError(t, r.Register(t.Context(), "tok-1", pending{}, 0))
	require.ErrorIs(t, r.Register(t.Context(), "tok-1", pending{}, 0), correlation.ErrDuplicateToken)

	_, err = r.Resolve(t.Context(), "never-registered")
	require.ErrorIs(t, err, correlation.ErrUnknownToken)
}

func TestRegistry_Expiry(t *testing.T) {
	var (
		mu      sync.Mutex
		expired []string
		counter = &countingCounter{}
		store   = kv.NewMemStore()
	)
	r := correlation.New(correlation.Options[pending]{
		Store:  store,
		Prefix: "ocppj.",
		OnExpire: func(token string, p pending) {
			mu.Lock()
			defer mu.Unlock()
			expired = append(expired, token+":"+p.Action)
		},
		Expired: counter,
	})
	defer r.Close()

	require.NoError(t, r.Register(t.Context(), "tok-1", pending{Action: "ClearCache"}, 20*time.Millisecond))
	require.NoError(t, r.Register(t.Context(), "tok-2", pending{Action: "Reset"}, time.Minute))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"tok-1:ClearCache"}, expired)
	mu.Unlock()
	require.EqualValues(t, 1, counter.value())

	// a late response for an expired request is unknown
	_, err := r.Resolve(t.Context(), "tok-1")
	require.ErrorIs(t, err, correlation.ErrUnknownToken)

	got, err := r.Resolve(t.Context(), "tok-2")
	require.NoError(t, err)
	require.Equal(t, "Reset", got.Action)
	require.Equal(t, 0, store.Len())
}

func TestRegistry_ResolveBeatsTimeout(t *testing.T) {
	var (
		mu    sync.Mutex
		fired int
	)
	r := correlation.New(correlation.Options[pending]{
		OnExpire: func(string, pending) {
			mu.Lock()
			fired++
			mu.Unlock()
		},
	})
	defer r.Close()

	require.NoError(t, r.Register(t.Context(), "tok-1", pending{}, 30*time.Millisecond))
	_, err := r.Resolve(t.Context(), "tok-1")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, fired)
}

func TestRegistry_ResolveIf(t *testing.T) {
	r := correlation.New(correlation.Options[pending]{})
	defer r.Close()

	require.NoError(t, r.Register(t.Context(), "tok-1", pending{StationID: "CS-1"}, time.Minute))
	fromStation := func(id string) func(pending) bool {
		return func(p pending) bool { return p.StationID == id }
	}

	got, err := r.ResolveIf(t.Context(), "tok-1", fromStation("CS-2"))
	require.ErrorIs(t, err, correlation.ErrRejected)
	require.Equal(t, "CS-1", got.StationID)
	require.Equal(t, 1, r.Pending(), "a rejected entry stays pending")

	got, err = r.ResolveIf(t.Context(), "tok-1", fromStation("CS-1"))
	require.NoError(t, err)
	require.Equal(t, "CS-1", got.StationID)
	require.Equal(t, 0, r.Pending())

	_, err = r.ResolveIf(t.Context(), "tok-1", fromStation("CS-1"))
	require.ErrorIs(t, err, correlation.ErrUnknownToken)
}

// slowStore holds every Put until release is closed.
type slowStore struct {
	kv.Store
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.Put(ctx, key, entry, opts)
}

func TestRegistry_SlowStoreDoesNotBlockOthers(t *testing.T) {
	mem := kv.NewMemStore()
	r := correlation.New(correlation.Options[pending]{Store: mem})
	defer r.Close()

	require.NoError(t, r.Register(t.Context(), "tok-fast", pending{Action: "Reset"}, time.Minute))

	slow := &slowStore{Store: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	rs := correlation.New(correlation.Options[pending]{Store: slow})
	defer rs.Close()

	registered := make(chan error, 1)
	go func() {
		registered <- rs.Register(context.Background(), "tok-slow", pending{Action: "ClearCache"}, time.Minute)
	}()
	<-slow.entered

	var resolveErr, duplicateErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rs.Pending()
		_, resolveErr = rs.Resolve(context.Background(), "tok-fast")
		duplicateErr = rs.Register(context.Background(), "tok-slow", pending{}, 0)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked behind a pending store write")
	}
	require.NoError(t, resolveErr)
	require.ErrorIs(t, duplicateErr, correlation.ErrDuplicateToken)

	close(slow.release)
	require.NoError(t, <-registered)
	require.Equal(t, 1, rs.Pending())

	got, err := rs.Resolve(t.Context(), "tok-slow")
	require.NoError(t, err)
	require.Equal(t, "ClearCache", got.Action)
}
