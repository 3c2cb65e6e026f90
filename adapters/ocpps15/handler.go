// Package ocpps15 binds OCPP/S 1.5 stations to the domain. Every operation
// the domain can request is supported.
package ocpps15

import (
	"log/slog"

	"github.com/codewandler/chargebridge/adapters/ocpps"
	"github.com/codewandler/chargebridge/adapters/soap"
	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// AddOnType identifies this binding in the identity stamped on informs.
const AddOnType = "OCPPS15"

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
		cfg.SOAP.Namespace = soap.NamespaceOCPP15
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
		Protocol:    cs.ProtocolOCPPS15,
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
