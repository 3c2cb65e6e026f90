package soap

import (
	"context"
	"time"

	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// OCPP/S charge point namespaces.
const (
	NamespaceOCPP12 = "urn://Ocpp/Cp/2010/08/"
	NamespaceOCPP15 = "urn://Ocpp/Cp/2012/06/"
)

type (
	unlockConnectorRequest struct {
		ConnectorID int `xml:"connectorId"`
	}
	clearCacheRequest          struct{}
	changeConfigurationRequest struct {
		Key   string `xml:"key"`
		Value string `xml:"value"`
	}
	resetRequest struct {
		Type string `xml:"type"`
	}
	changeAvailabilityRequest struct {
		ConnectorID int    `xml:"connectorId"`
		Type        string `xml:"type"`
	}
	dataTransferRequest struct {
		VendorID  string `xml:"vendorId"`
		MessageID string `xml:"messageId,omitempty"`
		Data      string `xml:"data,omitempty"`
	}
	reserveNowRequest struct {
		ConnectorID   int       `xml:"connectorId"`
		ExpiryDate    time.Time `xml:"expiryDate"`
		IDTag         string    `xml:"idTag"`
		ReservationID int       `xml:"reservationId"`
	}
	cancelReservationRequest struct {
		ReservationID int `xml:"reservationId"`
	}
	getConfigurationRequest struct {
		Keys []string `xml:"key"`
	}

	statusResponse struct {
		Status string `xml:"status"`
	}
	dataTransferResponse struct {
		Status string `xml:"status"`
		Data   string `xml:"data"`
	}
	getConfigurationResponse struct {
		ConfigurationKeys []struct {
			Key      string `xml:"key"`
			Readonly bool   `xml:"readonly"`
			Value    string `xml:"value"`
		} `xml:"configurationKey"`
		UnknownKeys []string `xml:"unknownKey"`
	}
)

// ChargePoint issues OCPP/S charge point operations. Status values are
// returned verbatim; the protocol handler normalizes them.
type ChargePoint struct {
	client *Client
}

func NewChargePoint(client *Client) *ChargePoint {
	return &ChargePoint{client: client}
}

func (cp *ChargePoint) status(ctx context.Context, id cs.ChargingStationID, action, element string, req any) (string, error) {
	var resp statusResponse
	if err := cp.client.Call(ctx, id, action, element, req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (cp *ChargePoint) UnlockConnector(ctx context.Context, id cs.ChargingStationID, connector int) (string, error) {
	return cp.status(ctx, id, "UnlockConnector", "unlockConnectorRequest", unlockConnectorRequest{ConnectorID: connector})
}

func (cp *ChargePoint) ClearCache(ctx context.Context, id cs.ChargingStationID) (string, error) {
	return cp.status(ctx, id, "ClearCache", "clearCacheRequest", clearCacheRequest{})
}

func (cp *ChargePoint) ChangeConfiguration(ctx context.Context, id cs.ChargingStationID, key, value string) (string, error) {
	return cp.status(ctx, id, "ChangeConfiguration", "changeConfigurationRequest", changeConfigurationRequest{Key: key, Value: value})
}

// Reset takes the wire reset type, "Soft" or "Hard".
func (cp *ChargePoint) Reset(ctx context.Context, id cs.ChargingStationID, resetType string) (string, error) {
	return cp.status(ctx, id, "Reset", "resetRequest", resetRequest{Type: resetType})
}

// ChangeAvailability takes the wire availability, "Operative" or
// "Inoperative". Connector 0 addresses the whole station.
func (cp *ChargePoint) ChangeAvailability(ctx context.Context, id cs.ChargingStationID, connector int, availability string) (string, error) {
	return cp.status(ctx, id, "ChangeAvailability", "changeAvailabilityRequest", changeAvailabilityRequest{ConnectorID: connector, Type: availability})
}

func (cp *ChargePoint) DataTransfer(ctx context.Context, id cs.ChargingStationID, vendorID, messageID, data string) (status, reply string, err error) {
	var resp dataTransferResponse
	req := dataTransferRequest{VendorID: vendorID, MessageID: messageID, Data: data}
	if err := cp.client.Call(ctx, id, "DataTransfer", "dataTransferRequest", req, &resp); err != nil {
		return "", "", err
	}
	return resp.Status, resp.Data, nil
}

func (cp *ChargePoint) ReserveNow(ctx context.Context, id cs.ChargingStationID, connector int, expiry time.Time, idTag string, reservationID int) (string, error) {
	return cp.status(ctx, id, "ReserveNow", "reserveNowRequest", reserveNowRequest{
		ConnectorID:   connector,
		ExpiryDate:    expiry.UTC(),
		IDTag:         idTag,
		ReservationID: reservationID,
	})
}

func (cp *ChargePoint) CancelReservation(ctx context.Context, id cs.ChargingStationID, reservationID int) (string, error) {
	return cp.status(ctx, id, "CancelReservation", "cancelReservationRequest", cancelReservationRequest{ReservationID: reservationID})
}

// GetConfiguration returns the known items; unknown keys are dropped.
func (cp *ChargePoint) GetConfiguration(ctx context.Context, id cs.ChargingStationID, keys []string) ([]cs.ConfigurationItem, error) {
	var resp getConfigurationResponse
	if err := cp.client.Call(ctx, id, "GetConfiguration", "getConfigurationRequest", getConfigurationRequest{Keys: keys}, &resp); err != nil {
		return nil, err
	}
	items := make([]cs.ConfigurationItem, 0, len(resp.ConfigurationKeys))
	for _, k := range resp.ConfigurationKeys {
		items = append(items, cs.ConfigurationItem{Key: k.Key, Value: k.Value})
	}
	return items, nil
}
