package chargingstation

import (
	"fmt"
	"strings"
)

// ConnectorID numbers a connector from 1. AllConnectors addresses every
// connector of a station; as a component id it means the station itself.
type ConnectorID int

const AllConnectors ConnectorID = 0

func (c ConnectorID) IsAll() bool { return c == AllConnectors }

type Connector struct {
	ID     ConnectorID `json:"id"`
	Type   string      `json:"type"`
	MaxAmp int         `json:"max_amp"`
}

type ConfigurationItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ResetType string

const (
	ResetSoft ResetType = "soft"
	ResetHard ResetType = "hard"
)

type Availability string

const (
	Operative   Availability = "operative"
	Inoperative Availability = "inoperative"
)

type RegistrationStatus string

const (
	Unregistered RegistrationStatus = "UNREGISTERED"
	Registered   RegistrationStatus = "REGISTERED"
)

// ReservationStatus is the normalized answer of a station to a reservation.
type ReservationStatus string

const (
	ReservationAccepted    ReservationStatus = "accepted"
	ReservationFaulted     ReservationStatus = "faulted"
	ReservationOccupied    ReservationStatus = "occupied"
	ReservationRejected    ReservationStatus = "rejected"
	ReservationUnavailable ReservationStatus = "unavailable"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationAccepted, ReservationFaulted, ReservationOccupied, ReservationRejected, ReservationUnavailable:
		return true
	}
	return false
}

type ReservationID int

// DataTransfer is a vendor specific message exchanged with a station.
type DataTransfer struct {
	VendorID  string `json:"vendor_id"`
	MessageID string `json:"message_id,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Known protocol identifiers. A station's protocol decides which binding
// reacts to its requested events.
const (
	ProtocolOCPPS12 = "OCPPS12"
	ProtocolOCPPS15 = "OCPPS15"
	ProtocolOCPPJ15 = "OCPPJ15"
)

func validateConnectors(cs []Connector) error {
	if len(cs) == 0 {
		return validationErr("connectors", "is empty")
	}
	for i, c := range cs {
		if c.ID != ConnectorID(i+1) {
			return validationErr("connectors", fmt.Sprintf("connector %d has id %d, want %d", i, c.ID, i+1))
		}
		if c.MaxAmp < 0 {
			return validationErr("connectors", fmt.Sprintf("connector %d has negative max amp", c.ID))
		}
	}
	return nil
}

func validateConnectorID(field string, c ConnectorID, allowAll bool) error {
	if c < 0 || (!allowAll && c.IsAll()) {
		return validationErr(field, fmt.Sprintf("invalid connector id %d", c))
	}
	return nil
}

func validateProtocol(p string) error {
	if strings.TrimSpace(p) == "" {
		return validationErr("protocol", "is empty")
	}
	return nil
}
