package ocppj

import "time"

// Station initiated actions handled by the hub.
const (
	ActionBootNotification = "BootNotification"
	ActionHeartbeat        = "Heartbeat"
)

// OCPP 1.5 JSON payloads.
type (
	bootNotificationRequest struct {
		ChargePointVendor       string `json:"chargePointVendor"`
		ChargePointModel        string `json:"chargePointModel"`
		ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
		ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
		FirmwareVersion         string `json:"firmwareVersion,omitempty"`
		Iccid                   string `json:"iccid,omitempty"`
		Imsi                    string `json:"imsi,omitempty"`
		MeterType               string `json:"meterType,omitempty"`
		MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
	}
	bootNotificationResponse struct {
		Status            string    `json:"status"`
		CurrentTime       time.Time `json:"currentTime"`
		HeartbeatInterval int       `json:"heartbeatInterval"`
	}
	heartbeatResponse struct {
		CurrentTime time.Time `json:"currentTime"`
	}

	unlockConnectorRequest struct {
		ConnectorID int `json:"connectorId"`
	}
	clearCacheRequest          struct{}
	changeConfigurationRequest struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	resetRequest struct {
		Type string `json:"type"`
	}
	changeAvailabilityRequest struct {
		ConnectorID int    `json:"connectorId"`
		Type        string `json:"type"`
	}
	dataTransferRequest struct {
		VendorID  string `json:"vendorId"`
		MessageID string `json:"messageId,omitempty"`
		Data      string `json:"data,omitempty"`
	}
	reserveNowRequest struct {
		ConnectorID   int       `json:"connectorId"`
		ExpiryDate    time.Time `json:"expiryDate"`
		IDTag         string    `json:"idTag"`
		ReservationID int       `json:"reservationId"`
	}
	cancelReservationRequest struct {
		ReservationID int `json:"reservationId"`
	}
	getConfigurationRequest struct {
		Key []string `json:"key,omitempty"`
	}

	statusResponse struct {
		Status string `json:"status"`
	}
	dataTransferResponse struct {
		Status string `json:"status"`
		Data   string `json:"data,omitempty"`
	}
	getConfigurationResponse struct {
		ConfigurationKey []struct {
			Key      string `json:"key"`
			Readonly bool   `json:"readonly"`
			Value    string `json:"value,omitempty"`
		} `json:"configurationKey,omitempty"`
		UnknownKey []string `json:"unknownKey,omitempty"`
	}
)

// attributes flattens a boot notification into the attributes recorded on
// the Booted event. Empty values are left out.
func (r bootNotificationRequest) attributes() map[string]string {
	attrs := map[string]string{}
	for k, v := range map[string]string{
		"vendor":              r.ChargePointVendor,
		"model":               r.ChargePointModel,
		"charge_point_serial": r.ChargePointSerialNumber,
		"charge_box_serial":   r.ChargeBoxSerialNumber,
		"firmware_version":    r.FirmwareVersion,
		"iccid":               r.Iccid,
		"imsi":                r.Imsi,
		"meter_type":          r.MeterType,
		"meter_serial":        r.MeterSerialNumber,
	} {
		if v != "" {
			attrs[k] = v
		}
	}
	return attrs
}
