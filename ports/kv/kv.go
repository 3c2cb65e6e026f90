// Package kv is the key/value port behind the pending request registry.
// A process local store serves a single instance; a shared store lets any
// instance settle a request another instance sent.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

type Entry struct {
	Data []byte
	Meta map[string]any
}

type PutOptions struct {
	// TTL drops the entry after the given duration. Zero keeps it until
	// deleted or until the store's own limit.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (Entry, error)
	// Take removes the entry and returns it. When several callers take the
	// same key at once, exactly one gets the entry and the others get
	// ErrNotFound.
	Take(ctx context.Context, key string) (Entry, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Put stores v as JSON.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

func Get[T any](ctx context.Context, store Store, key string) (T, error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](key, entry)
}

func Take[T any](ctx context.Context, store Store, key string) (T, error) {
	entry, err := store.Take(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](key, entry)
}

func decode[T any](key string, entry Entry) (out T, err error) {
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		err = fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return
}
