package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/chargebridge/core/es"
)

const defaultTable = "events"

// unique_violation
const codeUniqueViolation = "23505"

//go:embed schema.sql
var schema string

type EventStoreConfig struct {
	Pool *pgxpool.Pool
	// Table defaults to "events".
	Table string
	// Migrate creates the table when missing.
	Migrate bool
	Log     *slog.Logger
}

// EventStore keeps every event as one row. The unique key on
// (aggregate_type, aggregate_id, version) turns a lost race into a
// concurrency conflict.
type EventStore struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.Pool == nil {
		return nil, errors.New("postgres: pool is nil")
	}
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &EventStore{
		pool:  cfg.Pool,
		table: pgx.Identifier{cfg.Table}.Sanitize(),
		log:   cfg.Log.With(slog.String("store", "postgres"), slog.String("table", cfg.Table)),
	}
	if cfg.Migrate {
		if err := s.migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *EventStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, strings.ReplaceAll(schema, "{{table}}", s.table)); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	s.log.Debug("schema ensured")
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggType string, aggID string) ([]es.Envelope, error) {
	startAt := time.Now()
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT seq, id, aggregate_type, aggregate_id, version, type, occurred_at, meta, data
FROM %s
WHERE aggregate_type = $1 AND aggregate_id = $2
ORDER BY version ASC`, s.table), aggType, aggID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}

	s.log.Debug(
		"loaded events",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Int("count", len(events)),
		slog.Duration("duration", time.Since(startAt)),
	)
	return events, nil
}

func (s *EventStore) ReadFrom(ctx context.Context, afterSeq uint64, limit int) ([]es.Envelope, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT seq, id, aggregate_type, aggregate_id, version, type, occurred_at, meta, data
FROM %s
WHERE seq > $1
ORDER BY seq ASC
LIMIT $2`, s.table), int64(afterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows pgx.Rows) ([]es.Envelope, error) {
	events := []es.Envelope{}
	for rows.Next() {
		var (
			env     es.Envelope
			version int64
			meta    []byte
			data    []byte
		)
		if err := rows.Scan(
			&env.Seq, &env.ID, &env.AggregateType, &env.AggregateID,
			&version, &env.Type, &env.OccurredAt, &meta, &data,
		); err != nil {
			return nil, err
		}
		if meta != nil {
			if err := json.Unmarshal(meta, &env.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of %s: %w", env.ID, err)
			}
		}
		env.Version = es.Version(version)
		env.Data = data
		events = append(events, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		if ev.Version != expectedVersion+es.Version(i+1) {
			return nil, fmt.Errorf("event %s: version %d does not follow %d", ev.ID, ev.Version, expectedVersion+es.Version(i))
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Appends to the table commit one at a time, so a reader following seq
	// never sees a gap that a slower transaction fills later.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table); err != nil {
		return nil, err
	}

	var current int64
	if err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(version), 0) FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2`, s.table,
	), aggType, aggID).Scan(&current); err != nil {
		return nil, err
	}
	if es.Version(current) != expectedVersion {
		return nil, conflict(aggType, aggID, expectedVersion, es.Version(current))
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (id, aggregate_type, aggregate_id, version, type, occurred_at, meta, data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING seq`, s.table)

	seqs := make([]uint64, len(events))
	for i, ev := range events {
		data := []byte(ev.Data)
		if len(data) == 0 {
			data = []byte("null")
		}
		if err := tx.QueryRow(ctx, insert,
			ev.ID, aggType, aggID, int64(ev.Version), ev.Type, ev.OccurredAt, metaArg(ev.Meta), data,
		).Scan(&seqs[i]); err != nil {
			return nil, s.insertErr(aggType, aggID, expectedVersion, err)
		}
	}
	lastSeq := seqs[len(seqs)-1]

	if err := tx.Commit(ctx); err != nil {
		return nil, s.insertErr(aggType, aggID, expectedVersion, err)
	}

	s.log.Debug(
		"appended events",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Int("count", len(events)),
		slog.Uint64("last_seq", lastSeq),
	)
	return &es.StoreAppendResult{Seqs: seqs, LastSeq: lastSeq}, nil
}

func (s *EventStore) insertErr(aggType, aggID string, expected es.Version, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s (agg_type=%s agg_id=%s expected=%d)",
			es.ErrConcurrencyConflict, pgErr.ConstraintName, aggType, aggID, expected)
	}
	return err
}

func conflict(aggType, aggID string, expected, got es.Version) error {
	return fmt.Errorf(
		"%w: expected version %d, got %d (agg_type=%s agg_id=%s)",
		es.ErrConcurrencyConflict, expected, got, aggType, aggID,
	)
}

// metaArg keeps an absent meta as SQL NULL.
func metaArg(meta map[string]string) any {
	if len(meta) == 0 {
		return nil
	}
	b, _ := json.Marshal(meta)
	return b
}

var (
	_ es.EventStore   = (*EventStore)(nil)
	_ es.StreamReader = (*EventStore)(nil)
)
