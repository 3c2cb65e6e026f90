package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/chargebridge/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// TTL is the bucket wide maximum age of a key. Shorter per-key TTLs are
	// enforced on read.
	TTL time.Duration
}

// KvStore implements kv.Store on a JetStream key/value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	now     func() time.Time
}

type kvRecord struct {
	Data      []byte         `json:"data"`
	Meta      map[string]any `json:"meta,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitzero"`
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		TTL:      cfg.TTL,
		MaxBytes: 64 * 1024 * 1024,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	return &KvStore{kv: bucket, closeNc: closeNc, now: time.Now}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	rec := kvRecord{Data: entry.Data, Meta: entry.Meta}
	if opts.TTL > 0 {
		rec.ExpiresAt = k.now().Add(opts.TTL)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := k.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	rec, _, err := k.load(ctx, key)
	if err != nil {
		return kv.Entry{}, err
	}
	return kv.Entry{Data: rec.Data, Meta: rec.Meta}, nil
}

// Take deletes the key at the revision it was read at, so of two instances
// taking the same key only one succeeds.
func (k *KvStore) Take(ctx context.Context, key string) (kv.Entry, error) {
	rec, rev, err := k.load(ctx, key)
	if err != nil {
		return kv.Entry{}, err
	}
	if err := k.kv.Delete(ctx, key, jetstream.LastRevision(rev)); err != nil {
		if isWrongRevision(err) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("take %s: %w", key, err)
	}
	return kv.Entry{Data: rec.Data, Meta: rec.Meta}, nil
}

// load reads the live record of key with its revision. Records past their
// per-key expiry are deleted and reported missing.
func (k *KvStore) load(ctx context.Context, key string) (kvRecord, uint64, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kvRecord{}, 0, kv.ErrNotFound
		}
		return kvRecord{}, 0, fmt.Errorf("get %s: %w", key, err)
	}

	var rec kvRecord
	if err := json.Unmarshal(v.Value(), &rec); err != nil {
		return kvRecord{}, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	if !rec.ExpiresAt.IsZero() && !k.now().Before(rec.ExpiresAt) {
		_ = k.kv.Delete(ctx, key, jetstream.LastRevision(v.Revision()))
		return kvRecord{}, 0, kv.ErrNotFound
	}
	return rec, v.Revision(), nil
}

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	return errors.Is(err, jetstream.ErrKeyExists) ||
		(errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence)
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Close() { k.closeNc() }

var _ kv.Store = (*KvStore)(nil)
