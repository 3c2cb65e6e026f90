package es

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Version represents the version number of an aggregate within its stream.
// It is a monotonically increasing value starting from 1 for the first event;
// 0 means the stream does not exist yet.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

// Well-known metadata keys carried on envelopes. Metadata is context, not
// part of the event's identity: two events with equal payloads are equal no
// matter which add-on or operator produced them.
const (
	MetaCorrelationToken = "correlation_token"
	MetaIdentity         = "identity"
	MetaAddOn            = "add_on"
	MetaCommand          = "command"
)

// Envelope wraps an event with metadata for persistence and routing.
// It is the unit of storage in the EventStore and of delivery on the Bus.
type Envelope struct {
	// ID is the unique identifier of this event envelope.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream version (1, 2, 3, ...).
	Version Version `json:"version"`
	// AggregateType identifies the type of aggregate this event belongs to.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the specific aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type tag used for decoding.
	Type string `json:"type"`
	// OccurredAt is when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
	// Meta carries the correlation token and identities of the originating command.
	Meta map[string]string `json:"meta,omitempty"`
	// Data contains the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	return nil
}

// MetaValue returns the metadata value for key, or "" when absent.
func (e Envelope) MetaValue(key string) string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta[key]
}

func (e Envelope) logAttrs() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", e.ID),
		slog.Uint64("seq", e.Seq),
		e.Version.SlogAttr(),
		slog.String("type", e.Type),
		slog.String("aggregate_id", e.AggregateID),
		slog.String("aggregate_type", e.AggregateType),
	)
}

type Decoder interface {
	Decode(e Envelope) (Event, error)
}
