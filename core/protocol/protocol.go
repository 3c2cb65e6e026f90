// Package protocol is the bridge between requested station events and the
// wire protocols that carry them to the station.
//
// A binding implements [Operations], one method per requested event, and is
// attached to the event bus with [Bind]. Every method either performs the
// wire call or returns an [UnsupportedOperationError]. Results travel back
// into the domain through [DomainService] tagged with the correlation token
// of the triggering event and the binding's add-on identity.
package protocol

import (
	"context"

	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// Operation names as used in logs, metrics and errors.
const (
	OpUnlockConnector     = "UnlockConnector"
	OpClearCache          = "ClearCache"
	OpChangeConfiguration = "ChangeConfiguration"
	OpReset               = "Reset"
	OpChangeAvailability  = "ChangeAvailability"
	OpDataTransfer        = "DataTransfer"
	OpReserveNow          = "ReserveNow"
	OpCancelReservation   = "CancelReservation"
	OpGetConfiguration    = "GetConfiguration"
)

// Operations covers every requested event. Adding a requested event adds a
// method here, so no binding can silently ignore it.
type Operations interface {
	UnlockConnector(ctx context.Context, ev *cs.UnlockConnectorRequested, token cs.CorrelationToken) error
	ClearCache(ctx context.Context, ev *cs.ClearCacheRequested, token cs.CorrelationToken) error
	ChangeConfiguration(ctx context.Context, ev *cs.ChangeConfigurationItemRequested, token cs.CorrelationToken) error
	Reset(ctx context.Context, ev *cs.ResetRequested, token cs.CorrelationToken) error
	ChangeAvailability(ctx context.Context, ev *cs.ChangeAvailabilityRequested, token cs.CorrelationToken) error
	DataTransfer(ctx context.Context, ev *cs.DataTransferRequested, token cs.CorrelationToken) error
	ReserveNow(ctx context.Context, ev *cs.ReserveNowRequested, token cs.CorrelationToken) error
	CancelReservation(ctx context.Context, ev *cs.CancelReservationRequested, token cs.CorrelationToken) error
	GetConfiguration(ctx context.Context, ev *cs.ConfigurationItemsRequested, token cs.CorrelationToken) error
}

// Handler is a bound protocol: its identifier plus its operations.
type Handler interface {
	Operations
	Protocol() string
	AddOn() cs.AddOnIdentity
}

// DomainService is how bindings report results.
type DomainService interface {
	InformConnectorUnlocked(ctx context.Context, id cs.ChargingStationID, connector cs.ConnectorID, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformCacheCleared(ctx context.Context, id cs.ChargingStationID, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformConfigurationItemChanged(ctx context.Context, id cs.ChargingStationID, item cs.ConfigurationItem, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformResetAccepted(ctx context.Context, id cs.ChargingStationID, t cs.ResetType, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformAvailabilityChanged(ctx context.Context, id cs.ChargingStationID, connector cs.ConnectorID, a cs.Availability, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformDataTransferResponse(ctx context.Context, id cs.ChargingStationID, data string, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformReservationStatus(ctx context.Context, id cs.ChargingStationID, reservation cs.ReservationID, status cs.ReservationStatus, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformReservationCancelled(ctx context.Context, id cs.ChargingStationID, reservation cs.ReservationID, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
	InformConfigurationItemsReceived(ctx context.Context, id cs.ChargingStationID, items []cs.ConfigurationItem, token cs.CorrelationToken, addOn cs.AddOnIdentity) error
}

var _ DomainService = (*cs.Service)(nil)

// OperationOf names the operation a requested event asks for.
func OperationOf(ev cs.RequestedEvent) string {
	switch ev.(type) {
	case *cs.UnlockConnectorRequested:
		return OpUnlockConnector
	case *cs.ClearCacheRequested:
		return OpClearCache
	case *cs.ChangeConfigurationItemRequested:
		return OpChangeConfiguration
	case *cs.ResetRequested:
		return OpReset
	case *cs.ChangeAvailabilityRequested:
		return OpChangeAvailability
	case *cs.DataTransferRequested:
		return OpDataTransfer
	case *cs.ReserveNowRequested:
		return OpReserveNow
	case *cs.CancelReservationRequested:
		return OpCancelReservation
	case *cs.ConfigurationItemsRequested:
		return OpGetConfiguration
	}
	return ev.EventType()
}

// Handle routes ev to the matching method of ops.
func Handle(ctx context.Context, h Handler, ev cs.RequestedEvent, token cs.CorrelationToken) error {
	switch e := ev.(type) {
	case *cs.UnlockConnectorRequested:
		return h.UnlockConnector(ctx, e, token)
	case *cs.ClearCacheRequested:
		return h.ClearCache(ctx, e, token)
	case *cs.ChangeConfigurationItemRequested:
		return h.ChangeConfiguration(ctx, e, token)
	case *cs.ResetRequested:
		return h.Reset(ctx, e, token)
	case *cs.ChangeAvailabilityRequested:
		return h.ChangeAvailability(ctx, e, token)
	case *cs.DataTransferRequested:
		return h.DataTransfer(ctx, e, token)
	case *cs.ReserveNowRequested:
		return h.ReserveNow(ctx, e, token)
	case *cs.CancelReservationRequested:
		return h.CancelReservation(ctx, e, token)
	case *cs.ConfigurationItemsRequested:
		return h.GetConfiguration(ctx, e, token)
	}
	return Unsupported(h.Protocol(), ev.EventType())
}
