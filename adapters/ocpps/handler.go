// Package ocpps holds the request handling shared by the OCPP/S (SOAP)
// bindings. The version packages decide which operations are supported.
package ocpps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// ChargePoint is the SOAP client surface the handler needs. Statuses are the
// raw wire values.
type ChargePoint interface {
	UnlockConnector(ctx context.Context, id cs.ChargingStationID, connector int) (string, error)
	ClearCache(ctx context.Context, id cs.ChargingStationID) (string, error)
	ChangeConfiguration(ctx context.Context, id cs.ChargingStationID, key, value string) (string, error)
	Reset(ctx context.Context, id cs.ChargingStationID, resetType string) (string, error)
	ChangeAvailability(ctx context.Context, id cs.ChargingStationID, connector int, availability string) (string, error)
	DataTransfer(ctx context.Context, id cs.ChargingStationID, vendorID, messageID, data string) (status, reply string, err error)
	ReserveNow(ctx context.Context, id cs.ChargingStationID, connector int, expiry time.Time, idTag string, reservationID int) (string, error)
	CancelReservation(ctx context.Context, id cs.ChargingStationID, reservationID int) (string, error)
	GetConfiguration(ctx context.Context, id cs.ChargingStationID, keys []string) ([]cs.ConfigurationItem, error)
}

type Config struct {
	Protocol    string
	ChargePoint ChargePoint
	Service     protocol.DomainService
	AddOn       cs.AddOnIdentity
	Log         *slog.Logger
}

// Handler performs every OCPP/S operation synchronously: the wire call and
// the resulting inform happen within one Handle call.
type Handler struct {
	protocol string
	cp       ChargePoint
	svc      protocol.DomainService
	addOn    cs.AddOnIdentity
	log      *slog.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.ChargePoint == nil {
		return nil, fmt.Errorf("%s: charge point client is nil", cfg.Protocol)
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("%s: domain service is nil", cfg.Protocol)
	}
	if err := cfg.AddOn.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Protocol, err)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Handler{
		protocol: cfg.Protocol,
		cp:       cfg.ChargePoint,
		svc:      cfg.Service,
		addOn:    cfg.AddOn,
		log:      cfg.Log.With(slog.String("protocol", cfg.Protocol)),
	}, nil
}

func (h *Handler) Protocol() string        { return h.protocol }
func (h *Handler) AddOn() cs.AddOnIdentity { return h.addOn }

func (h *Handler) normalize(op, raw string, table protocol.ResultTable[protocol.RequestResult]) (protocol.RequestResult, error) {
	return protocol.Normalize(h.protocol, op, table, raw)
}

func (h *Handler) UnlockConnector(ctx context.Context, ev *cs.UnlockConnectorRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.UnlockConnector(ctx, ev.StationID, int(ev.ConnectorID))
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpUnlockConnector, raw, protocol.AcceptedRejected)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformConnectorUnlocked(ctx, ev.StationID, ev.ConnectorID, token, h.addOn)
	}, slog.String("operation", protocol.OpUnlockConnector), slog.String("station_id", ev.StationID.String()), slog.Int("connector_id", int(ev.ConnectorID)))
}

func (h *Handler) ClearCache(ctx context.Context, ev *cs.ClearCacheRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.ClearCache(ctx, ev.StationID)
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpClearCache, raw, protocol.AcceptedRejected)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformCacheCleared(ctx, ev.StationID, token, h.addOn)
	}, slog.String("operation", protocol.OpClearCache), slog.String("station_id", ev.StationID.String()))
}

func (h *Handler) ChangeConfiguration(ctx context.Context, ev *cs.ChangeConfigurationItemRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.ChangeConfiguration(ctx, ev.StationID, ev.Item.Key, ev.Item.Value)
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpChangeConfiguration, raw, protocol.ChangeConfigurationResults)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformConfigurationItemChanged(ctx, ev.StationID, ev.Item, token, h.addOn)
	}, slog.String("operation", protocol.OpChangeConfiguration), slog.String("station_id", ev.StationID.String()), slog.String("key", ev.Item.Key))
}

func (h *Handler) Reset(ctx context.Context, ev *cs.ResetRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.Reset(ctx, ev.StationID, protocol.WireReset(ev.Type))
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpReset, raw, protocol.AcceptedRejected)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformResetAccepted(ctx, ev.StationID, ev.Type, token, h.addOn)
	}, slog.String("operation", protocol.OpReset), slog.String("station_id", ev.StationID.String()))
}

func (h *Handler) ChangeAvailability(ctx context.Context, ev *cs.ChangeAvailabilityRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.ChangeAvailability(ctx, ev.StationID, int(ev.ConnectorID), protocol.WireAvailability(ev.Availability))
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpChangeAvailability, raw, protocol.ChangeAvailabilityResults)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformAvailabilityChanged(ctx, ev.StationID, ev.ConnectorID, ev.Availability, token, h.addOn)
	}, slog.String("operation", protocol.OpChangeAvailability), slog.String("station_id", ev.StationID.String()))
}

func (h *Handler) DataTransfer(ctx context.Context, ev *cs.DataTransferRequested, token cs.CorrelationToken) error {
	raw, data, err := h.cp.DataTransfer(ctx, ev.StationID, ev.VendorID, ev.MessageID, ev.Data)
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpDataTransfer, raw, protocol.DataTransferResults)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformDataTransferResponse(ctx, ev.StationID, data, token, h.addOn)
	}, slog.String("operation", protocol.OpDataTransfer), slog.String("station_id", ev.StationID.String()), slog.String("status", raw))
}

// ReserveNow informs every known reservation status, not only acceptance.
func (h *Handler) ReserveNow(ctx context.Context, ev *cs.ReserveNowRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.ReserveNow(ctx, ev.StationID, int(ev.ConnectorID), ev.ExpiresAt, ev.IDTag, int(ev.ReservationID))
	if err != nil {
		return err
	}
	status, err := protocol.Normalize(h.protocol, protocol.OpReserveNow, protocol.ReservationResults, raw)
	if err != nil {
		return err
	}
	return h.svc.InformReservationStatus(ctx, ev.StationID, ev.ReservationID, status, token, h.addOn)
}

func (h *Handler) CancelReservation(ctx context.Context, ev *cs.CancelReservationRequested, token cs.CorrelationToken) error {
	raw, err := h.cp.CancelReservation(ctx, ev.StationID, int(ev.ReservationID))
	if err != nil {
		return err
	}
	r, err := h.normalize(protocol.OpCancelReservation, raw, protocol.AcceptedRejected)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
		return h.svc.InformReservationCancelled(ctx, ev.StationID, ev.ReservationID, token, h.addOn)
	}, slog.String("operation", protocol.OpCancelReservation), slog.String("station_id", ev.StationID.String()))
}

func (h *Handler) GetConfiguration(ctx context.Context, ev *cs.ConfigurationItemsRequested, token cs.CorrelationToken) error {
	items, err := h.cp.GetConfiguration(ctx, ev.StationID, ev.Keys)
	if err != nil {
		return err
	}
	return h.svc.InformConfigurationItemsReceived(ctx, ev.StationID, items, token, h.addOn)
}

var _ protocol.Handler = (*Handler)(nil)
