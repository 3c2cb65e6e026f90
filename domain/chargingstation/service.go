package chargingstation

import (
	"context"
	"fmt"

	"github.com/codewandler/chargebridge/core/es"
)

// Dispatcher is the part of the router the service needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd es.Command) (es.Result[*Station], error)
}

// Service is the domain facade. Protocol add-ons report results through the
// Inform methods; operator and device ingress use the remaining methods.
type Service struct {
	router Dispatcher
}

func NewService(router Dispatcher) *Service {
	return &Service{router: router}
}

func (s *Service) Dispatch(ctx context.Context, cmd es.Command) (es.Result[*Station], error) {
	return s.router.Dispatch(ctx, cmd)
}

// Boot records a boot notification and returns the registration status the
// station had before it.
func (s *Service) Boot(ctx context.Context, id ChargingStationID, protocol string, attributes map[string]string) (RegistrationStatus, error) {
	cmd, err := NewBootCommand(id, protocol, attributes, StationIdentity(id))
	if err != nil {
		return "", err
	}
	res, err := s.router.Dispatch(ctx, cmd)
	if err != nil {
		return "", err
	}
	status, ok := res.Reply.(RegistrationStatus)
	if !ok {
		return "", fmt.Errorf("boot %s: unexpected reply %T", id, res.Reply)
	}
	return status, nil
}

// Request dispatches an operator request and returns the correlation token
// its requested events carry.
func (s *Service) Request(ctx context.Context, cmd es.Command) (CorrelationToken, []es.Envelope, error) {
	res, err := s.router.Dispatch(ctx, cmd)
	if err != nil {
		return "", nil, err
	}
	var token CorrelationToken
	if mc, ok := cmd.(es.MetaCarrier); ok {
		token = CorrelationToken(mc.Meta()[es.MetaCorrelationToken])
	}
	return token, res.Envelopes, nil
}

func (s *Service) inform(ctx context.Context, cmd es.Command, err error) error {
	if err != nil {
		return err
	}
	_, err = s.router.Dispatch(ctx, cmd)
	return err
}

func (s *Service) InformConnectorUnlocked(ctx context.Context, id ChargingStationID, connector ConnectorID, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformConnectorUnlockedCommand(id, connector, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformCacheCleared(ctx context.Context, id ChargingStationID, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformCacheClearedCommand(id, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformConfigurationItemChanged(ctx context.Context, id ChargingStationID, item ConfigurationItem, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformConfigurationItemChangedCommand(id, item, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformResetAccepted(ctx context.Context, id ChargingStationID, t ResetType, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformResetAcceptedCommand(id, t, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformAvailabilityChanged(ctx context.Context, id ChargingStationID, connector ConnectorID, a Availability, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformAvailabilityChangedCommand(id, connector, a, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformDataTransferResponse(ctx context.Context, id ChargingStationID, data string, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformDataTransferResponseCommand(id, data, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformReservationStatus(ctx context.Context, id ChargingStationID, reservation ReservationID, status ReservationStatus, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformReservationStatusCommand(id, reservation, status, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformReservationCancelled(ctx context.Context, id ChargingStationID, reservation ReservationID, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformReservationCancelledCommand(id, reservation, token, addOn)
	return s.inform(ctx, cmd, err)
}

func (s *Service) InformConfigurationItemsReceived(ctx context.Context, id ChargingStationID, items []ConfigurationItem, token CorrelationToken, addOn AddOnIdentity) error {
	cmd, err := NewInformConfigurationItemsReceivedCommand(id, items, token, addOn)
	return s.inform(ctx, cmd, err)
}
