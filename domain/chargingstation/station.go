package chargingstation

import (
	"fmt"

	"github.com/codewandler/chargebridge/core/es"
)

const AggregateType = "charging_station"

// Station is the folded state of one charging station stream.
type Station struct {
	ID         ChargingStationID
	Protocol   string
	Connectors []Connector
	Registered bool
	Attributes map[string]string

	// Configuration holds the last known value per configuration key.
	Configuration map[string]string
	// Availability per connector; AllConnectors is the station itself.
	Availability map[ConnectorID]Availability
	Reservations map[ReservationID]ReservationStatus
}

func NewStation() *Station { return &Station{} }

// Created reports whether the stream holds a Created event.
func (s *Station) Created() bool { return s.ID != "" }

func (s *Station) RegistrationStatus() RegistrationStatus {
	if s.Registered {
		return Registered
	}
	return Unregistered
}

func (s *Station) HasConnector(id ConnectorID) bool {
	return id >= 1 && int(id) <= len(s.Connectors)
}

func (s *Station) Apply(ev es.Event) error {
	switch e := ev.(type) {
	case *Created:
		s.ID = e.StationID
		s.Protocol = e.Protocol
		s.Connectors = append([]Connector(nil), e.Connectors...)
		s.Attributes = e.Attributes
	case *Booted:
		if e.Protocol != "" {
			s.Protocol = e.Protocol
		}
	case *StationRegistered:
		s.Registered = true
	case *ConfigurationItemChanged:
		s.setConfig(e.Item)
	case *ConfigurationItemsReceived:
		for _, item := range e.Items {
			s.setConfig(item)
		}
	case *AvailabilityChanged:
		if s.Availability == nil {
			s.Availability = map[ConnectorID]Availability{}
		}
		s.Availability[e.ConnectorID] = e.Availability
	case *ReservationStatusChanged:
		if s.Reservations == nil {
			s.Reservations = map[ReservationID]ReservationStatus{}
		}
		s.Reservations[e.ReservationID] = e.Status
	case *ReservationCancelled:
		delete(s.Reservations, e.ReservationID)
	case *ConnectorNotFound,
		*UnlockConnectorRequested,
		*ClearCacheRequested,
		*ChangeConfigurationItemRequested,
		*ResetRequested,
		*ChangeAvailabilityRequested,
		*DataTransferRequested,
		*ReserveNowRequested,
		*CancelReservationRequested,
		*ConfigurationItemsRequested,
		*ConnectorUnlocked,
		*CacheCleared,
		*ResetAccepted,
		*DataTransferResponded:
		// facts without a state delta
	default:
		return fmt.Errorf("station: unexpected event %T", ev)
	}
	return nil
}

func (s *Station) setConfig(item ConfigurationItem) {
	if s.Configuration == nil {
		s.Configuration = map[string]string{}
	}
	s.Configuration[item.Key] = item.Value
}

func (s *Station) requested() Requested {
	return Requested{StationID: s.ID, Protocol: s.Protocol}
}
