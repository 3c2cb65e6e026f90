package chargingstation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/chargebridge/core/es"
)

type RouterConfig struct {
	Store      es.EventStore
	Bus        *es.Bus
	MaxRetries int
	Log        *slog.Logger
	Metrics    es.Metrics
}

// NewRouter builds the command router for charging stations with every
// command handler registered.
func NewRouter(cfg RouterConfig) (*es.Router[*Station], error) {
	if cfg.Store == nil {
		return nil, errors.New("charging station router: store is nil")
	}
	var repoOpts []es.RepositoryOption
	if cfg.Log != nil {
		repoOpts = append(repoOpts, es.WithLog(cfg.Log))
	}
	if cfg.Metrics != nil {
		repoOpts = append(repoOpts, es.WithMetrics(cfg.Metrics))
	}

	r, err := es.NewRouter(es.RouterOptions[*Station]{
		AggregateType: AggregateType,
		New:           NewStation,
		Repository:    es.NewRepository(cfg.Store, NewEventRegistry(), repoOpts...),
		Bus:           cfg.Bus,
		MaxRetries:    cfg.MaxRetries,
		Log:           cfg.Log,
		Metrics:       cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	registerHandlers(r)
	return r, nil
}

func registerHandlers(r *es.Router[*Station]) {
	es.On(r, CmdCreate, handleCreate)
	es.On(r, CmdBoot, created(handleBoot))
	es.On(r, CmdRegister, created(handleRegister))

	es.On(r, CmdRequestUnlockConnector, created(handleRequestUnlockConnector))
	es.On(r, CmdRequestClearCache, created(func(s *Station, _ RequestClearCacheCommand) (es.Decision, error) {
		return emit(&ClearCacheRequested{Requested: s.requested()}), nil
	}))
	es.On(r, CmdRequestChangeConfigurationItem, created(func(s *Station, c RequestChangeConfigurationItemCommand) (es.Decision, error) {
		return emit(&ChangeConfigurationItemRequested{Requested: s.requested(), Item: c.Item}), nil
	}))
	es.On(r, CmdRequestReset, created(func(s *Station, c RequestResetCommand) (es.Decision, error) {
		return emit(&ResetRequested{Requested: s.requested(), Type: c.Type}), nil
	}))
	es.On(r, CmdRequestChangeAvailability, created(func(s *Station, c RequestChangeAvailabilityCommand) (es.Decision, error) {
		if !c.ConnectorID.IsAll() && !s.HasConnector(c.ConnectorID) {
			return emit(&ConnectorNotFound{StationID: s.ID, ConnectorID: c.ConnectorID}), nil
		}
		return emit(&ChangeAvailabilityRequested{Requested: s.requested(), ConnectorID: c.ConnectorID, Availability: c.Availability}), nil
	}))
	es.On(r, CmdRequestDataTransfer, created(func(s *Station, c RequestDataTransferCommand) (es.Decision, error) {
		return emit(&DataTransferRequested{Requested: s.requested(), DataTransfer: c.DataTransfer}), nil
	}))
	es.On(r, CmdRequestReserveNow, created(func(s *Station, c RequestReserveNowCommand) (es.Decision, error) {
		if !c.ConnectorID.IsAll() && !s.HasConnector(c.ConnectorID) {
			return emit(&ConnectorNotFound{StationID: s.ID, ConnectorID: c.ConnectorID}), nil
		}
		return emit(&ReserveNowRequested{
			Requested:     s.requested(),
			ConnectorID:   c.ConnectorID,
			ReservationID: c.ReservationID,
			IDTag:         c.IDTag,
			ExpiresAt:     c.ExpiresAt,
		}), nil
	}))
	es.On(r, CmdRequestCancelReservation, created(func(s *Station, c RequestCancelReservationCommand) (es.Decision, error) {
		return emit(&CancelReservationRequested{Requested: s.requested(), ReservationID: c.ReservationID}), nil
	}))
	es.On(r, CmdRequestConfigurationItems, created(func(s *Station, c RequestConfigurationItemsCommand) (es.Decision, error) {
		return emit(&ConfigurationItemsRequested{Requested: s.requested(), Keys: c.Keys}), nil
	}))

	es.On(r, CmdInformConnectorUnlocked, created(func(s *Station, c InformConnectorUnlockedCommand) (es.Decision, error) {
		return emit(&ConnectorUnlocked{StationID: s.ID, ConnectorID: c.ConnectorID}), nil
	}))
	es.On(r, CmdInformCacheCleared, created(func(s *Station, _ InformCacheClearedCommand) (es.Decision, error) {
		return emit(&CacheCleared{StationID: s.ID}), nil
	}))
	es.On(r, CmdInformConfigurationItemChanged, created(func(s *Station, c InformConfigurationItemChangedCommand) (es.Decision, error) {
		return emit(&ConfigurationItemChanged{StationID: s.ID, Item: c.Item}), nil
	}))
	es.On(r, CmdInformResetAccepted, created(func(s *Station, c InformResetAcceptedCommand) (es.Decision, error) {
		return emit(&ResetAccepted{StationID: s.ID, Type: c.Type}), nil
	}))
	es.On(r, CmdInformAvailabilityChanged, created(func(s *Station, c InformAvailabilityChangedCommand) (es.Decision, error) {
		return emit(&AvailabilityChanged{StationID: s.ID, ConnectorID: c.ConnectorID, Availability: c.Availability}), nil
	}))
	es.On(r, CmdInformDataTransferResponse, created(func(s *Station, c InformDataTransferResponseCommand) (es.Decision, error) {
		return emit(&DataTransferResponded{StationID: s.ID, Data: c.Data}), nil
	}))
	es.On(r, CmdInformReservationStatus, created(func(s *Station, c InformReservationStatusCommand) (es.Decision, error) {
		return emit(&ReservationStatusChanged{StationID: s.ID, ReservationID: c.ReservationID, Status: c.Status}), nil
	}))
	es.On(r, CmdInformReservationCancelled, created(func(s *Station, c InformReservationCancelledCommand) (es.Decision, error) {
		return emit(&ReservationCancelled{StationID: s.ID, ReservationID: c.ReservationID}), nil
	}))
	es.On(r, CmdInformConfigurationItemsReceived, created(func(s *Station, c InformConfigurationItemsReceivedCommand) (es.Decision, error) {
		return emit(&ConfigurationItemsReceived{StationID: s.ID, Items: c.Items}), nil
	}))
}

// created guards a handler so it only runs on an existing station.
func created[C es.Command](fn func(s *Station, c C) (es.Decision, error)) func(context.Context, *Station, C) (es.Decision, error) {
	return func(_ context.Context, s *Station, c C) (es.Decision, error) {
		if !s.Created() {
			return es.Decision{}, fmt.Errorf("%w: %s", ErrNotFound, c.AggregateID())
		}
		return fn(s, c)
	}
}

func emit(events ...es.Event) es.Decision { return es.Decision{Events: events} }

func handleCreate(_ context.Context, s *Station, c CreateCommand) (es.Decision, error) {
	if s.Created() {
		return es.Decision{}, fmt.Errorf("%w: %s", ErrAlreadyExists, c.StationID)
	}
	return emit(&Created{
		StationID:  c.StationID,
		Protocol:   c.Protocol,
		Connectors: c.Connectors,
		Attributes: c.Attributes,
	}), nil
}

// handleBoot replies with the registration status as it was before this
// boot; the boot itself is always recorded.
func handleBoot(s *Station, c BootCommand) (es.Decision, error) {
	status := s.RegistrationStatus()
	return es.Decision{
		Events: []es.Event{&Booted{StationID: s.ID, Protocol: c.Protocol, Attributes: c.Attributes}},
		Reply:  status,
	}, nil
}

func handleRegister(s *Station, _ RegisterCommand) (es.Decision, error) {
	return emit(&StationRegistered{StationID: s.ID}), nil
}

func handleRequestUnlockConnector(s *Station, c RequestUnlockConnectorCommand) (es.Decision, error) {
	if int(c.ConnectorID) > len(s.Connectors) {
		return emit(&ConnectorNotFound{StationID: s.ID, ConnectorID: c.ConnectorID}), nil
	}
	if c.ConnectorID.IsAll() {
		events := make([]es.Event, 0, len(s.Connectors))
		for _, conn := range s.Connectors {
			events = append(events, &UnlockConnectorRequested{Requested: s.requested(), ConnectorID: conn.ID})
		}
		return es.Decision{Events: events}, nil
	}
	return emit(&UnlockConnectorRequested{Requested: s.requested(), ConnectorID: c.ConnectorID}), nil
}
