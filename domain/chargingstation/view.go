package chargingstation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codewandler/chargebridge/core/es"
)

// StationSummary is the read-side view of a station.
type StationSummary struct {
	ID         ChargingStationID `json:"id"`
	Protocol   string            `json:"protocol"`
	Connectors []Connector       `json:"connectors"`
	Registered bool              `json:"registered"`
	LastBootAt time.Time         `json:"last_boot_at,omitzero"`
	Version    es.Version        `json:"version"`
}

// StationView is an in-memory projection of station lifecycle events. It can
// be fed from the bus and from an es.Consumer following the durable log at
// the same time: each station only advances one version at a time, so
// repeated events are skipped and events past a gap wait for the log to
// deliver the missing ones.
type StationView struct {
	mu       sync.RWMutex
	stations map[ChargingStationID]*StationSummary
	versions map[ChargingStationID]es.Version
}

func NewStationView() *StationView {
	return &StationView{
		stations: map[ChargingStationID]*StationSummary{},
		versions: map[ChargingStationID]es.Version{},
	}
}

// Subscribe attaches the view to bus and returns the unsubscribe func.
func (v *StationView) Subscribe(bus *es.Bus) func() {
	return bus.Subscribe("station-view", v)
}

// Follow returns a consumer that replays the station log from r into the
// view. Start it to catch up, and to keep up with other instances.
func (v *StationView) Follow(r es.StreamReader, opts ...es.ConsumerOption) *es.Consumer {
	return es.NewConsumer("station-view", r, NewEventRegistry(), v, opts...)
}

func (v *StationView) HandleEvent(_ context.Context, env es.Envelope, ev es.Event) error {
	if env.AggregateType != AggregateType {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id := ChargingStationID(env.AggregateID)
	if env.Version != v.versions[id]+1 {
		return nil
	}
	v.versions[id] = env.Version

	switch e := ev.(type) {
	case *Created:
		v.stations[id] = &StationSummary{
			ID:         id,
			Protocol:   e.Protocol,
			Connectors: e.Connectors,
		}
	case *Booted:
		if s, ok := v.stations[id]; ok {
			s.LastBootAt = env.OccurredAt
			if e.Protocol != "" {
				s.Protocol = e.Protocol
			}
		}
	case *StationRegistered:
		if s, ok := v.stations[id]; ok {
			s.Registered = true
		}
	}
	if s, ok := v.stations[id]; ok {
		s.Version = env.Version
	}
	return nil
}

func (v *StationView) Get(id ChargingStationID) (StationSummary, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.stations[id]
	if !ok {
		return StationSummary{}, false
	}
	return *s, true
}

// List returns all stations ordered by id.
func (v *StationView) List() []StationSummary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]StationSummary, 0, len(v.stations))
	for _, s := range v.stations {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ es.Subscriber = (*StationView)(nil)
