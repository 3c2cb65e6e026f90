// Package protocoltest provides a recording DomainService for binding tests.
package protocoltest

import (
	"context"
	"sync"

	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// Inform is one recorded call. Payload holds the operation specific value
// (connector, item, data, status, ...) or nil.
type Inform struct {
	Operation string
	StationID cs.ChargingStationID
	Token     cs.CorrelationToken
	AddOn     cs.AddOnIdentity
	Payload   any
}

// Service records every inform. Err, when set, is returned from all calls.
type Service struct {
	mu      sync.Mutex
	informs []Inform
	Err     error
}

func (s *Service) Informs() []Inform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Inform(nil), s.informs...)
}

func (s *Service) record(op string, id cs.ChargingStationID, token cs.CorrelationToken, addOn cs.AddOnIdentity, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.informs = append(s.informs, Inform{Operation: op, StationID: id, Token: token, AddOn: addOn, Payload: payload})
	return s.Err
}

func (s *Service) InformConnectorUnlocked(_ context.Context, id cs.ChargingStationID, connector cs.ConnectorID, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpUnlockConnector, id, token, addOn, connector)
}

func (s *Service) InformCacheCleared(_ context.Context, id cs.ChargingStationID, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpClearCache, id, token, addOn, nil)
}

func (s *Service) InformConfigurationItemChanged(_ context.Context, id cs.ChargingStationID, item cs.ConfigurationItem, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpChangeConfiguration, id, token, addOn, item)
}

func (s *Service) InformResetAccepted(_ context.Context, id cs.ChargingStationID, t cs.ResetType, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpReset, id, token, addOn, t)
}

func (s *Service) InformAvailabilityChanged(_ context.Context, id cs.ChargingStationID, _ cs.ConnectorID, a cs.Availability, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpChangeAvailability, id, token, addOn, a)
}

func (s *Service) InformDataTransferResponse(_ context.Context, id cs.ChargingStationID, data string, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpDataTransfer, id, token, addOn, data)
}

func (s *Service) InformReservationStatus(_ context.Context, id cs.ChargingStationID, _ cs.ReservationID, status cs.ReservationStatus, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpReserveNow, id, token, addOn, status)
}

func (s *Service) InformReservationCancelled(_ context.Context, id cs.ChargingStationID, reservation cs.ReservationID, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpCancelReservation, id, token, addOn, reservation)
}

func (s *Service) InformConfigurationItemsReceived(_ context.Context, id cs.ChargingStationID, items []cs.ConfigurationItem, token cs.CorrelationToken, addOn cs.AddOnIdentity) error {
	return s.record(protocol.OpGetConfiguration, id, token, addOn, items)
}

var _ protocol.DomainService = (*Service)(nil)
