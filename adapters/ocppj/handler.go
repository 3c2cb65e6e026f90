// Package ocppj binds OCPP-J 1.5 stations, connected over websocket, to the
// domain.
//
// Requests are sent as CALL frames with a fresh message id. The correlation
// token and everything needed to settle the reply are parked in a
// correlation registry under that id until the CALLRESULT arrives or the
// request times out. A single requested event may share its token with
// sibling events (unlocking all connectors), so the token itself cannot
// serve as message id.
package ocppj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/codewandler/chargebridge/core/correlation"
	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
	"github.com/codewandler/chargebridge/ports/kv"
)

const AddOnType = "OCPPJ15"

// Service is the domain surface used by the binding: result informs plus
// boot notifications from connected stations.
type Service interface {
	protocol.DomainService
	Boot(ctx context.Context, id cs.ChargingStationID, protocol string, attributes map[string]string) (cs.RegistrationStatus, error)
}

type Config struct {
	Service    Service
	InstanceID string
	// Pending stores outstanding requests. Defaults to an in-memory store.
	Pending kv.Store
	// Timeout bounds the wait for a reply. Defaults to 30s.
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	// Relay reaches stations connected to other instances. Optional.
	Relay   Relay
	Metrics protocol.Metrics
	Log     *slog.Logger
}

// pendingRequest is what the binding needs to turn a reply into an inform.
type pendingRequest struct {
	StationID     cs.ChargingStationID `json:"station_id"`
	Operation     string               `json:"operation"`
	Token         cs.CorrelationToken  `json:"token"`
	SentAt        time.Time            `json:"sent_at"`
	ConnectorID   cs.ConnectorID       `json:"connector_id,omitempty"`
	Item          cs.ConfigurationItem `json:"item,omitzero"`
	ResetType     cs.ResetType         `json:"reset_type,omitempty"`
	Availability  cs.Availability      `json:"availability,omitempty"`
	ReservationID cs.ReservationID     `json:"reservation_id,omitempty"`
}

type Handler struct {
	svc       Service
	addOn     cs.AddOnIdentity
	hub       *Hub
	pending   *correlation.Registry[pendingRequest]
	timeout   time.Duration
	heartbeat time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func New(cfg Config) (*Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("ocppj: domain service is nil")
	}
	addOn := cs.AddOnIdentity{Type: AddOnType, InstanceID: cfg.InstanceID}
	if err := addOn.Validate(); err != nil {
		return nil, fmt.Errorf("ocppj: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = correlation.DefaultTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = protocol.NopMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	log := cfg.Log.With(slog.String("protocol", cs.ProtocolOCPPJ15))
	h := &Handler{
		svc:       cfg.Service,
		addOn:     addOn,
		timeout:   cfg.Timeout,
		heartbeat: cfg.HeartbeatInterval,
		log:       log,
		now:       time.Now,
	}
	h.pending = correlation.New(correlation.Options[pendingRequest]{
		Store:          cfg.Pending,
		Prefix:         "ocppj.",
		DefaultTimeout: cfg.Timeout,
		OnExpire:       h.expired,
		Log:            log,
		Expired:        cfg.Metrics.RequestExpired(cs.ProtocolOCPPJ15),
	})
	h.hub = NewHub(h.onMessage, cfg.Relay, cfg.WriteTimeout, log)
	return h, nil
}

func (h *Handler) Protocol() string        { return cs.ProtocolOCPPJ15 }
func (h *Handler) AddOn() cs.AddOnIdentity { return h.addOn }

// Register mounts the websocket endpoint.
func (h *Handler) Register(router *httprouter.Router) { h.hub.Register(router) }

func (h *Handler) Connected(id cs.ChargingStationID) bool { return h.hub.Connected(id) }

// Pending returns the number of requests waiting for a reply.
func (h *Handler) Pending() int { return h.pending.Pending() }

func (h *Handler) Close() {
	h.hub.Close()
	h.pending.Close()
}

func (h *Handler) expired(id string, p pendingRequest) {
	h.log.Info("station did not answer in time",
		slog.String("message_id", id),
		slog.String("operation", p.Operation),
		slog.String("station_id", p.StationID.String()),
		slog.String("token", p.Token.String()),
		slog.Duration("waited", h.now().Sub(p.SentAt)),
	)
}

// call registers p and sends the CALL. A request that could not be sent is
// withdrawn again.
func (h *Handler) call(ctx context.Context, p pendingRequest, payload any) error {
	id := uuid.NewString()
	f, err := NewCall(id, p.Operation, payload)
	if err != nil {
		return err
	}
	p.SentAt = h.now()
	if err := h.pending.Register(ctx, id, p, h.timeout); err != nil {
		return err
	}
	if err := h.hub.Send(ctx, p.StationID, f); err != nil {
		if _, rerr := h.pending.Resolve(ctx, id); rerr != nil {
			h.log.Warn("withdraw unsent request", slog.String("message_id", id), slog.Any("error", rerr))
		}
		return err
	}
	return nil
}

func (h *Handler) UnlockConnector(ctx context.Context, ev *cs.UnlockConnectorRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{
		StationID:   ev.StationID,
		Operation:   protocol.OpUnlockConnector,
		Token:       token,
		ConnectorID: ev.ConnectorID,
	}, unlockConnectorRequest{ConnectorID: int(ev.ConnectorID)})
}

func (h *Handler) ClearCache(ctx context.Context, ev *cs.ClearCacheRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{StationID: ev.StationID, Operation: protocol.OpClearCache, Token: token}, clearCacheRequest{})
}

func (h *Handler) ChangeConfiguration(ctx context.Context, ev *cs.ChangeConfigurationItemRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{
		StationID: ev.StationID,
		Operation: protocol.OpChangeConfiguration,
		Token:     token,
		Item:      ev.Item,
	}, changeConfigurationRequest{Key: ev.Item.Key, Value: ev.Item.Value})
}

func (h *Handler) Reset(ctx context.Context, ev *cs.ResetRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{
		StationID: ev.StationID,
		Operation: protocol.OpReset,
		Token:     token,
		ResetType: ev.Type,
	}, resetRequest{Type: protocol.WireReset(ev.Type)})
}

func (h *Handler) ChangeAvailability(ctx context.Context, ev *cs.ChangeAvailabilityRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{
		StationID:    ev.StationID,
		Operation:    protocol.OpChangeAvailability,
		Token:        token,
		ConnectorID:  ev.ConnectorID,
		Availability: ev.Availability,
	}, changeAvailabilityRequest{ConnectorID: int(ev.ConnectorID), Type: protocol.WireAvailability(ev.Availability)})
}

func (h *Handler) DataTransfer(ctx context.Context, ev *cs.DataTransferRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{StationID: ev.StationID, Operation: protocol.OpDataTransfer, Token: token},
		dataTransferRequest{VendorID: ev.VendorID, MessageID: ev.MessageID, Data: ev.Data})
}

func (h *Handler) ReserveNow(ctx context.Context, ev *cs.ReserveNowRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{
		StationID:     ev.StationID,
		Operation:     protocol.OpReserveNow,
		Token:         token,
		ConnectorID:   ev.ConnectorID,
		ReservationID: ev.ReservationID,
	}, reserveNowRequest{
		ConnectorID:   int(ev.ConnectorID),
		ExpiryDate:    ev.ExpiresAt.UTC(),
		IDTag:         ev.IDTag,
		ReservationID: int(ev.ReservationID),
	})
}

func (h *Handler) CancelReservation(ctx context.Context, ev *cs.CancelReservationRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{
		StationID:     ev.StationID,
		Operation:     protocol.OpCancelReservation,
		Token:         token,
		ReservationID: ev.ReservationID,
	}, cancelReservationRequest{ReservationID: int(ev.ReservationID)})
}

func (h *Handler) GetConfiguration(ctx context.Context, ev *cs.ConfigurationItemsRequested, token cs.CorrelationToken) error {
	return h.call(ctx, pendingRequest{StationID: ev.StationID, Operation: protocol.OpGetConfiguration, Token: token},
		getConfigurationRequest{Key: ev.Keys})
}

var _ protocol.Handler = (*Handler)(nil)
