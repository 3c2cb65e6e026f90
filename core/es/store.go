package es

import (
	"context"
	"errors"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrStoreNoEvents       = errors.New("no events to store")
)

type (
	StoreAppendResult struct {
		// Seqs holds the sequence assigned to each appended envelope, in
		// append order. Stores that persist one append as a single record
		// assign the same sequence to all of its envelopes.
		Seqs    []uint64
		LastSeq uint64
	}

	// EventStore is the append-only, per-aggregate ordered event log.
	//
	// Load returns the stream in version order; a stream that does not exist
	// yields an empty slice and no error. Append only succeeds if the stream
	// is still at expectedVersion, otherwise it fails with an error matching
	// ErrConcurrencyConflict. An append is all or nothing: a failed append
	// stores none of its events.
	EventStore interface {
		Load(ctx context.Context, aggType string, aggID string) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID string, expectedVersion Version, events []Envelope) (*StoreAppendResult, error)
	}

	// StreamReader reads the log of every aggregate in sequence order.
	//
	// ReadFrom returns envelopes with a sequence greater than afterSeq, at
	// most limit of them unless that would split envelopes sharing one
	// sequence. An empty result means the reader is at the end of the log.
	StreamReader interface {
		ReadFrom(ctx context.Context, afterSeq uint64, limit int) ([]Envelope, error)
	}
)
