package protocol

import cs "github.com/codewandler/chargebridge/domain/chargingstation"

// OCPP 1.x status tables. SOAP and JSON bindings share the same enumerations.
var (
	ChangeConfigurationResults = ResultTable[RequestResult]{
		"Accepted":     Success,
		"Rejected":     Failure,
		"NotSupported": Failure,
	}
	ChangeAvailabilityResults = ResultTable[RequestResult]{
		"Accepted":  Success,
		"Scheduled": Success,
		"Rejected":  Failure,
	}
	DataTransferResults = ResultTable[RequestResult]{
		"Accepted":         Success,
		"Rejected":         Failure,
		"UnknownMessageId": Failure,
		"UnknownVendorId":  Failure,
	}
	ReservationResults = ResultTable[cs.ReservationStatus]{
		"Accepted":    cs.ReservationAccepted,
		"Faulted":     cs.ReservationFaulted,
		"Occupied":    cs.ReservationOccupied,
		"Rejected":    cs.ReservationRejected,
		"Unavailable": cs.ReservationUnavailable,
	}
)

// WireReset maps a reset type onto the OCPP ResetType enumeration.
func WireReset(t cs.ResetType) string {
	if t == cs.ResetHard {
		return "Hard"
	}
	return "Soft"
}

func WireAvailability(a cs.Availability) string {
	if a == cs.Inoperative {
		return "Inoperative"
	}
	return "Operative"
}
