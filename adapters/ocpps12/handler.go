// Package ocpps12 binds OCPP/S 1.2 stations to the domain. OCPP 1.2 has no
// data transfer, reservations or configuration listing; those requests are
// rejected with an UnsupportedOperationError and never reach the station.
package ocpps12

import (
	"context"
	"log/slog"

	"github.com/codewandler/chargebridge/adapters/ocpps"
	"github.com/codewandler/chargebridge/adapters/soap"
	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

const AddOnType = "OCPPS12"

type Config struct {
	// ChargePoint overrides the SOAP client built from SOAP.
	ChargePoint ocpps.ChargePoint
	SOAP        soap.Config
	Service     protocol.DomainService
	InstanceID  string
	Log         *slog.Logger
}

type Handler struct {
	*ocpps.Handler
}

func New(cfg Config) (*Handler, error) {
	cp := cfg.ChargePoint
	if cp == nil {
		cfg.SOAP.Namespace = soap.NamespaceOCPP12
		if cfg.SOAP.Log == nil {
			cfg.SOAP.Log = cfg.Log
		}
		client, err := soap.NewClient(cfg.SOAP)
		if err != nil {
			return nil, err
		}
		cp = soap.NewChargePoint(client)
	}
	h, err := ocpps.NewHandler(ocpps.Config{
		Protocol:    cs.ProtocolOCPPS12,
		ChargePoint: cp,
		Service:     cfg.Service,
		AddOn:       cs.AddOnIdentity{Type: AddOnType, InstanceID: cfg.InstanceID},
		Log:         cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	return &Handler{Handler: h}, nil
}

func (h *Handler) DataTransfer(context.Context, *cs.DataTransferRequested, cs.CorrelationToken) error {
	return protocol.Unsupported(cs.ProtocolOCPPS12, protocol.OpDataTransfer)
}

func (h *Handler) ReserveNow(context.Context, *cs.ReserveNowRequested, cs.CorrelationToken) error {
	return protocol.Unsupported(cs.ProtocolOCPPS12, protocol.OpReserveNow)
}

func (h *Handler) CancelReservation(context.Context, *cs.CancelReservationRequested, cs.CorrelationToken) error {
	return protocol.Unsupported(cs.ProtocolOCPPS12, protocol.OpCancelReservation)
}

func (h *Handler) GetConfiguration(context.Context, *cs.ConfigurationItemsRequested, cs.CorrelationToken) error {
	return protocol.Unsupported(cs.ProtocolOCPPS12, protocol.OpGetConfiguration)
}

var _ protocol.Handler = (*Handler)(nil)
