package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"

	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	// ErrNoStation means no instance serves the station.
	ErrNoStation = errors.New("no instance serves the charging station")
)

type TransportConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for station subjects, e.g. "chargebridge" -> chargebridge.station.<id>
}

// Transport relays frames for a charging station to the instance that holds
// its connection, using NATS request/reply on one subject per station.
type Transport struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string

	mu   sync.Mutex
	subs map[*natsgo.Subscription]struct{}

	closed atomic.Bool
}

// responseFrame is the reply to a forwarded frame.
type responseFrame struct {
	Err string `json:"err,omitempty"`
}

func NewTransport(cfg TransportConfig) (*Transport, error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "chargebridge"
	}

	return &Transport{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("transport", "nats")),
		prefix:  prefix,
		subs:    make(map[*natsgo.Subscription]struct{}),
	}, nil
}

func (t *Transport) subjectStation(id cs.ChargingStationID) string {
	return t.prefix + ".station." + subjectToken(id.String())
}

// Forward hands data to the instance serving station id and waits until it
// was written to the station.
func (t *Transport) Forward(ctx context.Context, id cs.ChargingStationID, data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	msg, err := t.nc.RequestWithContext(ctx, t.subjectStation(id), data)
	if err != nil {
		if errors.Is(err, natsgo.ErrNoResponders) {
			return fmt.Errorf("%w: %s", ErrNoStation, id)
		}
		return fmt.Errorf("nats: request: %w", err)
	}

	var rf responseFrame
	if err := json.Unmarshal(msg.Data, &rf); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rf.Err != "" {
		return errors.New(rf.Err)
	}
	return nil
}

// Serve delivers frames forwarded to station id until stop is called or
// ctx ends.
func (t *Transport) Serve(ctx context.Context, id cs.ChargingStationID, deliver func(ctx context.Context, data []byte) error) (stop func(), err error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	sub, err := t.nc.Subscribe(t.subjectStation(id), func(msg *natsgo.Msg) {
		var rf responseFrame
		if err := deliver(ctx, msg.Data); err != nil {
			rf.Err = err.Error()
		}
		b, _ := json.Marshal(rf)
		if msg.Reply != "" {
			if err := msg.Respond(b); err != nil {
				t.log.Error("failed to publish reply", slog.Any("error", err))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe station: %w", err)
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			t.mu.Lock()
			delete(t.subs, sub)
			t.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, stop)
	return stop, nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return ErrTransportClosed
	}
	t.mu.Lock()
	for s := range t.subs {
		_ = s.Unsubscribe()
	}
	t.subs = map[*natsgo.Subscription]struct{}{}
	t.mu.Unlock()
	if t.nc != nil {
		_ = t.nc.Flush()
		t.closeNc()
	}
	return nil
}
