package chargingstation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChargingStationID identifies a charging station. It is also the aggregate
// id of the station's event stream.
type ChargingStationID string

func (id ChargingStationID) String() string { return string(id) }

func (id ChargingStationID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return validationErr("charging_station_id", "is empty")
	}
	if strings.ContainsAny(string(id), " \t\r\n/") {
		return validationErr("charging_station_id", "contains whitespace or '/'")
	}
	return nil
}

// CorrelationToken links an outbound request to the result that eventually
// comes back for it. Tokens are never reused.
type CorrelationToken string

func NewCorrelationToken() CorrelationToken { return CorrelationToken(uuid.NewString()) }

func (t CorrelationToken) String() string { return string(t) }

// AddOnIdentity names the protocol adapter instance that produced a result.
type AddOnIdentity struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

func NewAddOnIdentity(addOnType, instanceID string) (AddOnIdentity, error) {
	a := AddOnIdentity{Type: addOnType, InstanceID: instanceID}
	return a, a.Validate()
}

func (a AddOnIdentity) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Type + ":" + a.InstanceID
}

func (a AddOnIdentity) IsZero() bool { return a == AddOnIdentity{} }

func (a AddOnIdentity) Validate() error {
	if a.Type == "" {
		return validationErr("add_on.type", "is empty")
	}
	if a.InstanceID == "" {
		return validationErr("add_on.instance_id", "is empty")
	}
	return nil
}

type IdentityKind string

const (
	IdentityOperator IdentityKind = "operator"
	IdentityAddOn    IdentityKind = "addon"
	IdentityStation  IdentityKind = "station"
)

// IdentityContext is the actor a command was issued for. It is carried on
// every event the command produces for audit.
type IdentityContext struct {
	Kind      IdentityKind `json:"kind"`
	Principal string       `json:"principal"`
}

func OperatorIdentity(name string) IdentityContext {
	return IdentityContext{Kind: IdentityOperator, Principal: name}
}

func AddOnIdentityContext(a AddOnIdentity) IdentityContext {
	return IdentityContext{Kind: IdentityAddOn, Principal: a.String()}
}

func StationIdentity(id ChargingStationID) IdentityContext {
	return IdentityContext{Kind: IdentityStation, Principal: id.String()}
}

func (c IdentityContext) String() string { return fmt.Sprintf("%s:%s", c.Kind, c.Principal) }

func (c IdentityContext) Validate() error {
	switch c.Kind {
	case IdentityOperator, IdentityAddOn, IdentityStation:
	case "":
		return validationErr("identity", "is missing")
	default:
		return validationErr("identity.kind", fmt.Sprintf("unknown kind %q", c.Kind))
	}
	if c.Principal == "" {
		return validationErr("identity.principal", "is empty")
	}
	return nil
}
