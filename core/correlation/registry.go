// Package correlation tracks requests sent to charging stations until their
// response arrives or they time out.
//
// Entries are kept in a kv.Store keyed by correlation token, so a shared
// store (NATS KV) lets any instance resolve a response. Expiry is driven by
// a local timer per entry.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/chargebridge/core/metrics"
	"github.com/codewandler/chargebridge/ports/kv"
)

var (
	ErrUnknownToken   = errors.New("unknown correlation token")
	ErrDuplicateToken = errors.New("correlation token already registered")
	ErrEmptyToken     = errors.New("correlation token is empty")
	ErrRejected       = errors.New("correlation entry rejected")
)

const DefaultTimeout = 30 * time.Second

// ExpireFunc is called once for each entry that timed out unresolved.
type ExpireFunc[T any] func(token string, value T)

type Options[T any] struct {
	Store  kv.Store
	Prefix string
	// DefaultTimeout applies when Register is called with timeout <= 0.
	DefaultTimeout time.Duration
	OnExpire       ExpireFunc[T]
	Log            *slog.Logger
	// Expired counts entries that timed out.
	Expired metrics.Counter
}

type Registry[T any] struct {
	store   kv.Store
	prefix  string
	timeout time.Duration
	expire  ExpireFunc[T]
	log     *slog.Logger
	expired metrics.Counter

	mu sync.Mutex
	// a nil timer reserves a token whose entry is still being stored
	timers map[string]*time.Timer
	closed bool
}

func New[T any](opts Options[T]) *Registry[T] {
	if opts.Store == nil {
		opts.Store = kv.NewMemStore()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Expired == nil {
		opts.Expired = metrics.NopCounter()
	}
	return &Registry[T]{
		store:   opts.Store,
		prefix:  opts.Prefix,
		timeout: opts.DefaultTimeout,
		expire:  opts.OnExpire,
		log:     opts.Log.With(slog.String("component", "correlation")),
		expired: opts.Expired,
		timers:  map[string]*time.Timer{},
	}
}

func (r *Registry[T]) key(token string) string { return r.prefix + token }

// Register stores value under token until it is resolved or timeout elapses.
func (r *Registry[T]) Register(ctx context.Context, token string, value T, timeout time.Duration) error {
	if token == "" {
		return ErrEmptyToken
	}
	if timeout <= 0 {
		timeout = r.timeout
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("correlation registry closed")
	}
	if _, ok := r.timers[token]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateToken, token)
	}
	r.timers[token] = nil
	r.mu.Unlock()

	// the store ttl is a backstop for entries whose owning instance died
	if err := kv.Put(ctx, r.store, r.key(token), value, kv.PutOptions{TTL: 2 * timeout}); err != nil {
		r.mu.Lock()
		delete(r.timers, token)
		r.mu.Unlock()
		return fmt.Errorf("register %s: %w", token, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[token]; !ok {
		// resolved while storing, or the registry was closed
		return nil
	}
	r.timers[token] = time.AfterFunc(timeout, func() { r.onTimeout(token) })

	r.log.Debug("registered", slog.String("token", token), slog.Duration("timeout", timeout))
	return nil
}

// Resolve removes and returns the entry for token. An unknown, already
// resolved or expired token yields ErrUnknownToken.
func (r *Registry[T]) Resolve(ctx context.Context, token string) (T, error) {
	var zero T
	if token == "" {
		return zero, ErrEmptyToken
	}

	v, err := kv.Take[T](ctx, r.store, r.key(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		return zero, err
	}

	r.mu.Lock()
	if t, ok := r.timers[token]; ok {
		if t != nil {
			t.Stop()
		}
		delete(r.timers, token)
	}
	r.mu.Unlock()
	return v, nil
}

// ResolveIf resolves token only if accept approves its entry. A rejected
// entry stays pending and is returned along with ErrRejected.
func (r *Registry[T]) ResolveIf(ctx context.Context, token string, accept func(T) bool) (T, error) {
	var zero T
	if token == "" {
		return zero, ErrEmptyToken
	}

	v, err := kv.Get[T](ctx, r.store, r.key(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		return zero, err
	}
	if !accept(v) {
		return v, fmt.Errorf("%w: %s", ErrRejected, token)
	}
	return r.Resolve(ctx, token)
}

// Pending returns the number of entries waiting on a local timer.
func (r *Registry[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Registry[T]) onTimeout(token string) {
	r.mu.Lock()
	if _, ok := r.timers[token]; !ok {
		// resolved concurrently
		r.mu.Unlock()
		return
	}
	delete(r.timers, token)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// another instance may have settled the entry meanwhile
	v, err := kv.Take[T](ctx, r.store, r.key(token))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			r.log.Error("take expired entry", slog.String("token", token), slog.Any("error", err))
		}
		return
	}

	r.expired.Inc()
	r.log.Info("request timed out", slog.String("token", token))
	if r.expire != nil {
		r.expire(token, v)
	}
}

// Close stops all timers. Entries stay in the store until their ttl.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for token, t := range r.timers {
		if t != nil {
			t.Stop()
		}
		delete(r.timers, token)
	}
}
