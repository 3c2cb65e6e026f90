package chargingstation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/core/es"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

func TestStationView(t *testing.T) {
	bus := es.NewBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	view := cs.NewStationView()
	view.Subscribe(bus)

	r, err := cs.NewRouter(cs.RouterConfig{Store: es.NewInMemoryStore(), Bus: bus})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	svc := cs.NewService(r)

	for _, id := range []cs.ChargingStationID{"CS-2", "CS-1"} {
		cmd, err := cs.NewCreateCommand(id, cs.ProtocolOCPPS12, []cs.Connector{{ID: 1, Type: "Type2", MaxAmp: 32}}, nil, operator)
		require.NoError(t, err)
		_, err = svc.Dispatch(t.Context(), cmd)
		require.NoError(t, err)
	}
	_, err = svc.Boot(t.Context(), "CS-1", cs.ProtocolOCPPJ15, nil)
	require.NoError(t, err)
	reg, err := cs.NewRegisterCommand("CS-1", operator)
	require.NoError(t, err)
	_, err = svc.Dispatch(t.Context(), reg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))

	list := view.List()
	require.Len(t, list, 2)
	require.Equal(t, cs.ChargingStationID("CS-1"), list[0].ID)
	require.True(t, list[0].Registered)
	require.Equal(t, cs.ProtocolOCPPJ15, list[0].Protocol)
	require.False(t, list[0].LastBootAt.IsZero())
	require.Equal(t, es.Version(3), list[0].Version)
	require.False(t, list[1].Registered)

	_, ok := view.Get("CS-3")
	require.False(t, ok)
}

func TestStationView_FollowReplaysLog(t *testing.T) {
	store := es.NewInMemoryStore()
	r, err := cs.NewRouter(cs.RouterConfig{Store: store})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	svc := cs.NewService(r)

	cmd, err := cs.NewCreateCommand("CS-1", cs.ProtocolOCPPJ15, []cs.Connector{{ID: 1}, {ID: 2}}, nil, operator)
	require.NoError(t, err)
	_, err = svc.Dispatch(t.Context(), cmd)
	require.NoError(t, err)
	unlock, err := cs.NewRequestUnlockConnectorCommand("CS-1", cs.AllConnectors, operator)
	require.NoError(t, err)
	_, err = svc.Dispatch(t.Context(), unlock)
	require.NoError(t, err)

	// a fresh view, as after a restart
	view := cs.NewStationView()
	follower := view.Follow(store, es.WithPollInterval(10*time.Millisecond))
	require.NoError(t, follower.Start(t.Context()))
	t.Cleanup(follower.Stop)

	s, ok := view.Get("CS-1")
	require.True(t, ok)
	require.False(t, s.Registered)
	require.Equal(t, es.Version(3), s.Version)

	// events written elsewhere show up while following
	reg, err := cs.NewRegisterCommand("CS-1", operator)
	require.NoError(t, err)
	_, err = svc.Dispatch(t.Context(), reg)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := view.Get("CS-1")
		return s.Registered && s.Version == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStationView_AppliesEachVersionOnce(t *testing.T) {
	view := cs.NewStationView()
	ctx := context.Background()
	at := time.Now()

	envAt := func(v es.Version) es.Envelope {
		return es.Envelope{AggregateType: cs.AggregateType, AggregateID: "CS-1", Version: v, OccurredAt: at}
	}
	require.NoError(t, view.HandleEvent(ctx, envAt(1), &cs.Created{StationID: "CS-1", Protocol: cs.ProtocolOCPPS15}))

	// a gap waits for the missing event
	require.NoError(t, view.HandleEvent(ctx, envAt(3), &cs.StationRegistered{StationID: "CS-1"}))
	s, _ := view.Get("CS-1")
	require.False(t, s.Registered)
	require.Equal(t, es.Version(1), s.Version)

	require.NoError(t, view.HandleEvent(ctx, envAt(2), &cs.Booted{StationID: "CS-1", Protocol: cs.ProtocolOCPPJ15}))
	require.NoError(t, view.HandleEvent(ctx, envAt(3), &cs.StationRegistered{StationID: "CS-1"}))

	// redelivery from a second source changes nothing
	require.NoError(t, view.HandleEvent(ctx, envAt(1), &cs.Created{StationID: "CS-1", Protocol: cs.ProtocolOCPPS12}))

	s, _ = view.Get("CS-1")
	require.True(t, s.Registered)
	require.Equal(t, cs.ProtocolOCPPJ15, s.Protocol)
	require.Equal(t, es.Version(3), s.Version)
}
