package chargingstation

import (
	"time"

	"github.com/codewandler/chargebridge/core/es"
)

// Event type tags. These are persisted; never rename them.
const (
	EvtCreated           = "charging_station_created"
	EvtBooted            = "charging_station_booted"
	EvtRegistered        = "charging_station_registered"
	EvtConnectorNotFound = "connector_not_found"

	EvtUnlockConnectorRequested         = "unlock_connector_requested"
	EvtClearCacheRequested              = "clear_cache_requested"
	EvtChangeConfigurationItemRequested = "change_configuration_item_requested"
	EvtResetRequested                   = "reset_requested"
	EvtChangeAvailabilityRequested      = "change_availability_requested"
	EvtDataTransferRequested            = "data_transfer_requested"
	EvtReserveNowRequested              = "reserve_now_requested"
	EvtCancelReservationRequested       = "cancel_reservation_requested"
	EvtConfigurationItemsRequested      = "configuration_items_requested"

	EvtConnectorUnlocked          = "connector_unlocked"
	EvtCacheCleared               = "cache_cleared"
	EvtConfigurationItemChanged   = "configuration_item_changed"
	EvtResetAccepted              = "reset_accepted"
	EvtAvailabilityChanged        = "availability_changed"
	EvtDataTransferResponded      = "data_transfer_responded"
	EvtReservationStatusChanged   = "reservation_status_changed"
	EvtReservationCancelled       = "reservation_cancelled"
	EvtConfigurationItemsReceived = "configuration_items_received"
)

type Created struct {
	StationID  ChargingStationID `json:"station_id"`
	Protocol   string            `json:"protocol"`
	Connectors []Connector       `json:"connectors"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Booted struct {
	StationID  ChargingStationID `json:"station_id"`
	Protocol   string            `json:"protocol,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type StationRegistered struct {
	StationID ChargingStationID `json:"station_id"`
}

type ConnectorNotFound struct {
	StationID   ChargingStationID `json:"station_id"`
	ConnectorID ConnectorID       `json:"connector_id"`
}

func (Created) EventType() string           { return EvtCreated }
func (Booted) EventType() string            { return EvtBooted }
func (StationRegistered) EventType() string { return EvtRegistered }
func (ConnectorNotFound) EventType() string { return EvtConnectorNotFound }

// RequestedEvent asks the protocol binding of a station to perform an
// action on the physical device.
type RequestedEvent interface {
	es.Event
	ChargingStation() ChargingStationID
	StationProtocol() string
}

// Requested is embedded by every requested event.
type Requested struct {
	StationID ChargingStationID `json:"station_id"`
	Protocol  string            `json:"protocol"`
}

func (r Requested) ChargingStation() ChargingStationID { return r.StationID }
func (r Requested) StationProtocol() string            { return r.Protocol }

type UnlockConnectorRequested struct {
	Requested
	ConnectorID ConnectorID `json:"connector_id"`
}

type ClearCacheRequested struct {
	Requested
}

type ChangeConfigurationItemRequested struct {
	Requested
	Item ConfigurationItem `json:"item"`
}

type ResetRequested struct {
	Requested
	Type ResetType `json:"type"`
}

// ChangeAvailabilityRequested targets the whole station when ConnectorID is
// AllConnectors.
type ChangeAvailabilityRequested struct {
	Requested
	ConnectorID  ConnectorID  `json:"connector_id"`
	Availability Availability `json:"availability"`
}

type DataTransferRequested struct {
	Requested
	DataTransfer
}

type ReserveNowRequested struct {
	Requested
	ConnectorID   ConnectorID   `json:"connector_id"`
	ReservationID ReservationID `json:"reservation_id"`
	IDTag         string        `json:"id_tag"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

type CancelReservationRequested struct {
	Requested
	ReservationID ReservationID `json:"reservation_id"`
}

type ConfigurationItemsRequested struct {
	Requested
	Keys []string `json:"keys,omitempty"`
}

func (UnlockConnectorRequested) EventType() string         { return EvtUnlockConnectorRequested }
func (ClearCacheRequested) EventType() string              { return EvtClearCacheRequested }
func (ChangeConfigurationItemRequested) EventType() string { return EvtChangeConfigurationItemRequested }
func (ResetRequested) EventType() string                   { return EvtResetRequested }
func (ChangeAvailabilityRequested) EventType() string      { return EvtChangeAvailabilityRequested }
func (DataTransferRequested) EventType() string            { return EvtDataTransferRequested }
func (ReserveNowRequested) EventType() string              { return EvtReserveNowRequested }
func (CancelReservationRequested) EventType() string       { return EvtCancelReservationRequested }
func (ConfigurationItemsRequested) EventType() string      { return EvtConfigurationItemsRequested }

// RequestedEventTypes lists the tags of all requested events.
var RequestedEventTypes = []string{
	EvtUnlockConnectorRequested,
	EvtClearCacheRequested,
	EvtChangeConfigurationItemRequested,
	EvtResetRequested,
	EvtChangeAvailabilityRequested,
	EvtDataTransferRequested,
	EvtReserveNowRequested,
	EvtCancelReservationRequested,
	EvtConfigurationItemsRequested,
}

// === results ===

type ConnectorUnlocked struct {
	StationID   ChargingStationID `json:"station_id"`
	ConnectorID ConnectorID       `json:"connector_id"`
}

type CacheCleared struct {
	StationID ChargingStationID `json:"station_id"`
}

type ConfigurationItemChanged struct {
	StationID ChargingStationID `json:"station_id"`
	Item      ConfigurationItem `json:"item"`
}

type ResetAccepted struct {
	StationID ChargingStationID `json:"station_id"`
	Type      ResetType         `json:"type"`
}

type AvailabilityChanged struct {
	StationID    ChargingStationID `json:"station_id"`
	ConnectorID  ConnectorID       `json:"connector_id"`
	Availability Availability      `json:"availability"`
}

type DataTransferResponded struct {
	StationID ChargingStationID `json:"station_id"`
	Data      string            `json:"data,omitempty"`
}

type ReservationStatusChanged struct {
	StationID     ChargingStationID `json:"station_id"`
	ReservationID ReservationID     `json:"reservation_id"`
	Status        ReservationStatus `json:"status"`
}

type ReservationCancelled struct {
	StationID     ChargingStationID `json:"station_id"`
	ReservationID ReservationID     `json:"reservation_id"`
}

type ConfigurationItemsReceived struct {
	StationID ChargingStationID   `json:"station_id"`
	Items     []ConfigurationItem `json:"items"`
}

func (ConnectorUnlocked) EventType() string          { return EvtConnectorUnlocked }
func (CacheCleared) EventType() string               { return EvtCacheCleared }
func (ConfigurationItemChanged) EventType() string   { return EvtConfigurationItemChanged }
func (ResetAccepted) EventType() string              { return EvtResetAccepted }
func (AvailabilityChanged) EventType() string        { return EvtAvailabilityChanged }
func (DataTransferResponded) EventType() string      { return EvtDataTransferResponded }
func (ReservationStatusChanged) EventType() string   { return EvtReservationStatusChanged }
func (ReservationCancelled) EventType() string       { return EvtReservationCancelled }
func (ConfigurationItemsReceived) EventType() string { return EvtConfigurationItemsReceived }

// NewEventRegistry returns a registry that decodes every station event.
func NewEventRegistry() *es.EventRegistry {
	r := es.NewRegistry()
	r.Register(
		es.Ctor[Created](),
		es.Ctor[Booted](),
		es.Ctor[StationRegistered](),
		es.Ctor[ConnectorNotFound](),
		es.Ctor[UnlockConnectorRequested](),
		es.Ctor[ClearCacheRequested](),
		es.Ctor[ChangeConfigurationItemRequested](),
		es.Ctor[ResetRequested](),
		es.Ctor[ChangeAvailabilityRequested](),
		es.Ctor[DataTransferRequested](),
		es.Ctor[ReserveNowRequested](),
		es.Ctor[CancelReservationRequested](),
		es.Ctor[ConfigurationItemsRequested](),
		es.Ctor[ConnectorUnlocked](),
		es.Ctor[CacheCleared](),
		es.Ctor[ConfigurationItemChanged](),
		es.Ctor[ResetAccepted](),
		es.Ctor[AvailabilityChanged](),
		es.Ctor[DataTransferResponded](),
		es.Ctor[ReservationStatusChanged](),
		es.Ctor[ReservationCancelled](),
		es.Ctor[ConfigurationItemsReceived](),
	)
	return r
}
