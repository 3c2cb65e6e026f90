package chargingstation

import (
	"time"

	"github.com/codewandler/chargebridge/core/es"
)

// Command type tags.
const (
	CmdCreate   = "create_charging_station"
	CmdBoot     = "boot_charging_station"
	CmdRegister = "register_charging_station"

	CmdRequestUnlockConnector         = "request_unlock_connector"
	CmdRequestClearCache              = "request_clear_cache"
	CmdRequestChangeConfigurationItem = "request_change_configuration_item"
	CmdRequestReset                   = "request_reset"
	CmdRequestChangeAvailability      = "request_change_availability"
	CmdRequestDataTransfer            = "request_data_transfer"
	CmdRequestReserveNow              = "request_reserve_now"
	CmdRequestCancelReservation       = "request_cancel_reservation"
	CmdRequestConfigurationItems      = "request_configuration_items"

	CmdInformConnectorUnlocked          = "inform_connector_unlocked"
	CmdInformCacheCleared               = "inform_cache_cleared"
	CmdInformConfigurationItemChanged   = "inform_configuration_item_changed"
	CmdInformResetAccepted              = "inform_reset_accepted"
	CmdInformAvailabilityChanged        = "inform_availability_changed"
	CmdInformDataTransferResponse       = "inform_data_transfer_response"
	CmdInformReservationStatus          = "inform_reservation_status"
	CmdInformReservationCancelled       = "inform_reservation_cancelled"
	CmdInformConfigurationItemsReceived = "inform_configuration_items_received"
)

// header is shared by all commands. Token and AddOn are only required on
// results reported by a protocol add-on.
type header struct {
	StationID ChargingStationID
	Identity  IdentityContext
	Token     CorrelationToken
	AddOn     AddOnIdentity
}

func (h header) AggregateID() string { return h.StationID.String() }

func (h header) Meta() map[string]string {
	m := map[string]string{es.MetaIdentity: h.Identity.String()}
	if h.Token != "" {
		m[es.MetaCorrelationToken] = h.Token.String()
	}
	if !h.AddOn.IsZero() {
		m[es.MetaAddOn] = h.AddOn.String()
	}
	return m
}

func (h header) validate() error {
	if err := h.StationID.Validate(); err != nil {
		return err
	}
	return h.Identity.Validate()
}

func (h header) validateResult() error {
	if err := h.validate(); err != nil {
		return err
	}
	if h.Token == "" {
		return validationErr("correlation_token", "is empty")
	}
	return h.AddOn.Validate()
}

func build[C es.Command](c C) (C, error) {
	if err := c.Validate(); err != nil {
		var zero C
		return zero, err
	}
	return c, nil
}

// === lifecycle ===

type CreateCommand struct {
	header
	Protocol   string
	Connectors []Connector
	Attributes map[string]string
}

func NewCreateCommand(id ChargingStationID, protocol string, connectors []Connector, attributes map[string]string, identity IdentityContext) (CreateCommand, error) {
	return build(CreateCommand{
		header:     header{StationID: id, Identity: identity},
		Protocol:   protocol,
		Connectors: connectors,
		Attributes: attributes,
	})
}

func (CreateCommand) CommandType() string { return CmdCreate }
func (c CreateCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if err := validateProtocol(c.Protocol); err != nil {
		return err
	}
	return validateConnectors(c.Connectors)
}

// BootCommand is sent by a station announcing it is alive. Protocol may be
// empty when the transport does not tell.
type BootCommand struct {
	header
	Protocol   string
	Attributes map[string]string
}

func NewBootCommand(id ChargingStationID, protocol string, attributes map[string]string, identity IdentityContext) (BootCommand, error) {
	return build(BootCommand{
		header:     header{StationID: id, Identity: identity},
		Protocol:   protocol,
		Attributes: attributes,
	})
}

func (BootCommand) CommandType() string { return CmdBoot }
func (c BootCommand) Validate() error   { return c.validate() }

type RegisterCommand struct {
	header
}

func NewRegisterCommand(id ChargingStationID, identity IdentityContext) (RegisterCommand, error) {
	return build(RegisterCommand{header: header{StationID: id, Identity: identity}})
}

func (RegisterCommand) CommandType() string { return CmdRegister }
func (c RegisterCommand) Validate() error   { return c.validate() }

// === requests ===
//
// Request constructors mint a fresh correlation token. It is attached to
// every requested event the command produces.

func requestHeader(id ChargingStationID, identity IdentityContext) header {
	return header{StationID: id, Identity: identity, Token: NewCorrelationToken()}
}

type RequestUnlockConnectorCommand struct {
	header
	ConnectorID ConnectorID
}

func NewRequestUnlockConnectorCommand(id ChargingStationID, connector ConnectorID, identity IdentityContext) (RequestUnlockConnectorCommand, error) {
	return build(RequestUnlockConnectorCommand{header: requestHeader(id, identity), ConnectorID: connector})
}

func (RequestUnlockConnectorCommand) CommandType() string { return CmdRequestUnlockConnector }
func (c RequestUnlockConnectorCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	return validateConnectorID("connector_id", c.ConnectorID, true)
}

type RequestClearCacheCommand struct {
	header
}

func NewRequestClearCacheCommand(id ChargingStationID, identity IdentityContext) (RequestClearCacheCommand, error) {
	return build(RequestClearCacheCommand{header: requestHeader(id, identity)})
}

func (RequestClearCacheCommand) CommandType() string { return CmdRequestClearCache }
func (c RequestClearCacheCommand) Validate() error   { return c.validate() }

type RequestChangeConfigurationItemCommand struct {
	header
	Item ConfigurationItem
}

func NewRequestChangeConfigurationItemCommand(id ChargingStationID, item ConfigurationItem, identity IdentityContext) (RequestChangeConfigurationItemCommand, error) {
	return build(RequestChangeConfigurationItemCommand{header: requestHeader(id, identity), Item: item})
}

func (RequestChangeConfigurationItemCommand) CommandType() string {
	return CmdRequestChangeConfigurationItem
}
func (c RequestChangeConfigurationItemCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Item.Key == "" {
		return validationErr("item.key", "is empty")
	}
	return nil
}

type RequestResetCommand struct {
	header
	Type ResetType
}

func NewRequestResetCommand(id ChargingStationID, t ResetType, identity IdentityContext) (RequestResetCommand, error) {
	return build(RequestResetCommand{header: requestHeader(id, identity), Type: t})
}

func (RequestResetCommand) CommandType() string { return CmdRequestReset }
func (c RequestResetCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Type != ResetSoft && c.Type != ResetHard {
		return validationErr("reset_type", string(c.Type))
	}
	return nil
}

// RequestChangeAvailabilityCommand targets one connector, or the whole
// station with AllConnectors.
type RequestChangeAvailabilityCommand struct {
	header
	ConnectorID  ConnectorID
	Availability Availability
}

func NewRequestChangeAvailabilityCommand(id ChargingStationID, connector ConnectorID, a Availability, identity IdentityContext) (RequestChangeAvailabilityCommand, error) {
	return build(RequestChangeAvailabilityCommand{header: requestHeader(id, identity), ConnectorID: connector, Availability: a})
}

func (RequestChangeAvailabilityCommand) CommandType() string { return CmdRequestChangeAvailability }
func (c RequestChangeAvailabilityCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if err := validateConnectorID("connector_id", c.ConnectorID, true); err != nil {
		return err
	}
	return validateAvailability(c.Availability)
}

type RequestDataTransferCommand struct {
	header
	DataTransfer DataTransfer
}

func NewRequestDataTransferCommand(id ChargingStationID, dt DataTransfer, identity IdentityContext) (RequestDataTransferCommand, error) {
	return build(RequestDataTransferCommand{header: requestHeader(id, identity), DataTransfer: dt})
}

func (RequestDataTransferCommand) CommandType() string { return CmdRequestDataTransfer }
func (c RequestDataTransferCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.DataTransfer.VendorID == "" {
		return validationErr("vendor_id", "is empty")
	}
	return nil
}

type RequestReserveNowCommand struct {
	header
	ConnectorID   ConnectorID
	ReservationID ReservationID
	IDTag         string
	ExpiresAt     time.Time
}

func NewRequestReserveNowCommand(
	id ChargingStationID,
	connector ConnectorID,
	reservation ReservationID,
	idTag string,
	expiresAt time.Time,
	identity IdentityContext,
) (RequestReserveNowCommand, error) {
	return build(RequestReserveNowCommand{
		header:        requestHeader(id, identity),
		ConnectorID:   connector,
		ReservationID: reservation,
		IDTag:         idTag,
		ExpiresAt:     expiresAt,
	})
}

func (RequestReserveNowCommand) CommandType() string { return CmdRequestReserveNow }
func (c RequestReserveNowCommand) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if err := validateConnectorID("connector_id", c.ConnectorID, true); err != nil {
		return err
	}
	if c.IDTag == "" {
		return validationErr("id_tag", "is empty")
	}
	if c.ExpiresAt.IsZero() {
		return validationErr("expires_at", "is zero")
	}
	return nil
}

type RequestCancelReservationCommand struct {
	header
	ReservationID ReservationID
}

func NewRequestCancelReservationCommand(id ChargingStationID, reservation ReservationID, identity IdentityContext) (RequestCancelReservationCommand, error) {
	return build(RequestCancelReservationCommand{header: requestHeader(id, identity), ReservationID: reservation})
}

func (RequestCancelReservationCommand) CommandType() string { return CmdRequestCancelReservation }
func (c RequestCancelReservationCommand) Validate() error   { return c.validate() }

// RequestConfigurationItemsCommand asks for the given keys, or for all
// configuration when Keys is empty.
type RequestConfigurationItemsCommand struct {
	header
	Keys []string
}

func NewRequestConfigurationItemsCommand(id ChargingStationID, keys []string, identity IdentityContext) (RequestConfigurationItemsCommand, error) {
	return build(RequestConfigurationItemsCommand{header: requestHeader(id, identity), Keys: keys})
}

func (RequestConfigurationItemsCommand) CommandType() string { return CmdRequestConfigurationItems }
func (c RequestConfigurationItemsCommand) Validate() error   { return c.validate() }

// === results ===

func resultHeader(id ChargingStationID, token CorrelationToken, addOn AddOnIdentity) header {
	return header{StationID: id, Identity: AddOnIdentityContext(addOn), Token: token, AddOn: addOn}
}

type InformConnectorUnlockedCommand struct {
	header
	ConnectorID ConnectorID
}

func NewInformConnectorUnlockedCommand(id ChargingStationID, connector ConnectorID, token CorrelationToken, addOn AddOnIdentity) (InformConnectorUnlockedCommand, error) {
	return build(InformConnectorUnlockedCommand{header: resultHeader(id, token, addOn), ConnectorID: connector})
}

func (InformConnectorUnlockedCommand) CommandType() string { return CmdInformConnectorUnlocked }
func (c InformConnectorUnlockedCommand) Validate() error {
	if err := c.validateResult(); err != nil {
		return err
	}
	return validateConnectorID("connector_id", c.ConnectorID, false)
}

type InformCacheClearedCommand struct {
	header
}

func NewInformCacheClearedCommand(id ChargingStationID, token CorrelationToken, addOn AddOnIdentity) (InformCacheClearedCommand, error) {
	return build(InformCacheClearedCommand{header: resultHeader(id, token, addOn)})
}

func (InformCacheClearedCommand) CommandType() string { return CmdInformCacheCleared }
func (c InformCacheClearedCommand) Validate() error   { return c.validateResult() }

type InformConfigurationItemChangedCommand struct {
	header
	Item ConfigurationItem
}

func NewInformConfigurationItemChangedCommand(id ChargingStationID, item ConfigurationItem, token CorrelationToken, addOn AddOnIdentity) (InformConfigurationItemChangedCommand, error) {
	return build(InformConfigurationItemChangedCommand{header: resultHeader(id, token, addOn), Item: item})
}

func (InformConfigurationItemChangedCommand) CommandType() string {
	return CmdInformConfigurationItemChanged
}
func (c InformConfigurationItemChangedCommand) Validate() error {
	if err := c.validateResult(); err != nil {
		return err
	}
	if c.Item.Key == "" {
		return validationErr("item.key", "is empty")
	}
	return nil
}

type InformResetAcceptedCommand struct {
	header
	Type ResetType
}

func NewInformResetAcceptedCommand(id ChargingStationID, t ResetType, token CorrelationToken, addOn AddOnIdentity) (InformResetAcceptedCommand, error) {
	return build(InformResetAcceptedCommand{header: resultHeader(id, token, addOn), Type: t})
}

func (InformResetAcceptedCommand) CommandType() string { return CmdInformResetAccepted }
func (c InformResetAcceptedCommand) Validate() error   { return c.validateResult() }

type InformAvailabilityChangedCommand struct {
	header
	ConnectorID  ConnectorID
	Availability Availability
}

func NewInformAvailabilityChangedCommand(id ChargingStationID, connector ConnectorID, a Availability, token CorrelationToken, addOn AddOnIdentity) (InformAvailabilityChangedCommand, error) {
	return build(InformAvailabilityChangedCommand{header: resultHeader(id, token, addOn), ConnectorID: connector, Availability: a})
}

func (InformAvailabilityChangedCommand) CommandType() string { return CmdInformAvailabilityChanged }
func (c InformAvailabilityChangedCommand) Validate() error {
	if err := c.validateResult(); err != nil {
		return err
	}
	if err := validateConnectorID("connector_id", c.ConnectorID, true); err != nil {
		return err
	}
	return validateAvailability(c.Availability)
}

type InformDataTransferResponseCommand struct {
	header
	Data string
}

func NewInformDataTransferResponseCommand(id ChargingStationID, data string, token CorrelationToken, addOn AddOnIdentity) (InformDataTransferResponseCommand, error) {
	return build(InformDataTransferResponseCommand{header: resultHeader(id, token, addOn), Data: data})
}

func (InformDataTransferResponseCommand) CommandType() string { return CmdInformDataTransferResponse }
func (c InformDataTransferResponseCommand) Validate() error   { return c.validateResult() }

type InformReservationStatusCommand struct {
	header
	ReservationID ReservationID
	Status        ReservationStatus
}

func NewInformReservationStatusCommand(id ChargingStationID, reservation ReservationID, status ReservationStatus, token CorrelationToken, addOn AddOnIdentity) (InformReservationStatusCommand, error) {
	return build(InformReservationStatusCommand{header: resultHeader(id, token, addOn), ReservationID: reservation, Status: status})
}

func (InformReservationStatusCommand) CommandType() string { return CmdInformReservationStatus }
func (c InformReservationStatusCommand) Validate() error {
	if err := c.validateResult(); err != nil {
		return err
	}
	if !c.Status.Valid() {
		return validationErr("reservation_status", string(c.Status))
	}
	return nil
}

type InformReservationCancelledCommand struct {
	header
	ReservationID ReservationID
}

func NewInformReservationCancelledCommand(id ChargingStationID, reservation ReservationID, token CorrelationToken, addOn AddOnIdentity) (InformReservationCancelledCommand, error) {
	return build(InformReservationCancelledCommand{header: resultHeader(id, token, addOn), ReservationID: reservation})
}

func (InformReservationCancelledCommand) CommandType() string { return CmdInformReservationCancelled }
func (c InformReservationCancelledCommand) Validate() error   { return c.validateResult() }

type InformConfigurationItemsReceivedCommand struct {
	header
	Items []ConfigurationItem
}

func NewInformConfigurationItemsReceivedCommand(id ChargingStationID, items []ConfigurationItem, token CorrelationToken, addOn AddOnIdentity) (InformConfigurationItemsReceivedCommand, error) {
	return build(InformConfigurationItemsReceivedCommand{header: resultHeader(id, token, addOn), Items: items})
}

func (InformConfigurationItemsReceivedCommand) CommandType() string {
	return CmdInformConfigurationItemsReceived
}
func (c InformConfigurationItemsReceivedCommand) Validate() error { return c.validateResult() }

func validateAvailability(a Availability) error {
	if a != Operative && a != Inoperative {
		return validationErr("availability", string(a))
	}
	return nil
}
