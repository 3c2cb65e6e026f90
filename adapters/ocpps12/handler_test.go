package ocpps12_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/adapters/ocpps"
	"github.com/codewandler/chargebridge/adapters/ocpps12"
	"github.com/codewandler/chargebridge/adapters/soap"
	"github.com/codewandler/chargebridge/core/protocol"
	"github.com/codewandler/chargebridge/core/protocol/protocoltest"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// unlockOnly implements UnlockConnector; any other wire call panics on the
// nil embedded interface.
type unlockOnly struct {
	ocpps.ChargePoint
	status string
	calls  int
}

func (u *unlockOnly) UnlockConnector(context.Context, cs.ChargingStationID, int) (string, error) {
	u.calls++
	return u.status, nil
}

func newHandler(t *testing.T, status string) (*ocpps12.Handler, *unlockOnly, *protocoltest.Service) {
	t.Helper()
	cp := &unlockOnly{status: status}
	svc := &protocoltest.Service{}
	h, err := ocpps12.New(ocpps12.Config{ChargePoint: cp, Service: svc, InstanceID: "a"})
	require.NoError(t, err)
	return h, cp, svc
}

func requested() cs.Requested {
	return cs.Requested{StationID: "CS-12", Protocol: cs.ProtocolOCPPS12}
}

func TestHandler_Identity(t *testing.T) {
	h, _, _ := newHandler(t, "Accepted")
	require.Equal(t, cs.ProtocolOCPPS12, h.Protocol())
	require.Equal(t, cs.AddOnIdentity{Type: "OCPPS12", InstanceID: "a"}, h.AddOn())
}

func TestHandler_UnsupportedOperations(t *testing.T) {
	events := []cs.RequestedEvent{
		&cs.DataTransferRequested{Requested: requested(), DataTransfer: cs.DataTransfer{VendorID: "acme"}},
		&cs.ReserveNowRequested{Requested: requested(), ConnectorID: 1, ReservationID: 1},
		&cs.CancelReservationRequested{Requested: requested(), ReservationID: 1},
		&cs.ConfigurationItemsRequested{Requested: requested()},
	}
	for _, ev := range events {
		t.Run(protocol.OperationOf(ev), func(t *testing.T) {
			h, _, svc := newHandler(t, "Accepted")
			err := protocol.Handle(t.Context(), h, ev, "tok")

			var unsupported *protocol.UnsupportedOperationError
			require.ErrorAs(t, err, &unsupported)
			require.Equal(t, cs.ProtocolOCPPS12, unsupported.Protocol)
			require.Equal(t, protocol.OperationOf(ev), unsupported.Operation)
			require.Empty(t, svc.Informs())
		})
	}
}

func TestHandler_UnlockConnector(t *testing.T) {
	ev := &cs.UnlockConnectorRequested{Requested: requested(), ConnectorID: 1}

	h, cp, svc := newHandler(t, "Accepted")
	require.NoError(t, h.UnlockConnector(t.Context(), ev, "tok-1"))
	require.Equal(t, 1, cp.calls)
	informs := svc.Informs()
	require.Len(t, informs, 1)
	require.Equal(t, cs.CorrelationToken("tok-1"), informs[0].Token)
	require.Equal(t, "OCPPS12", informs[0].AddOn.Type)

	h, _, svc = newHandler(t, "Rejected")
	require.NoError(t, h.UnlockConnector(t.Context(), ev, "tok-2"))
	require.Empty(t, svc.Informs())
}

func TestNew_BuildsSOAPClient(t *testing.T) {
	_, err := ocpps12.New(ocpps12.Config{Service: &protocoltest.Service{}, InstanceID: "a"})
	require.Error(t, err, "no endpoint resolver")

	h, err := ocpps12.New(ocpps12.Config{
		SOAP:       soap.Config{Endpoints: soap.TemplateEndpoints("http://stations/{id}")},
		Service:    &protocoltest.Service{},
		InstanceID: "a",
	})
	require.NoError(t, err)
	require.NotNil(t, h)
}
