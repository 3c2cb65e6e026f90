package ocppj_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/adapters/ocppj"
	"github.com/codewandler/chargebridge/core/metrics"
	"github.com/codewandler/chargebridge/core/protocol"
	"github.com/codewandler/chargebridge/core/protocol/protocoltest"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

type service struct {
	protocoltest.Service

	mu      sync.Mutex
	boots   []map[string]string
	status  cs.RegistrationStatus
	bootErr error
}

func (s *service) Boot(_ context.Context, _ cs.ChargingStationID, _ string, attrs map[string]string) (cs.RegistrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boots = append(s.boots, attrs)
	return s.status, s.bootErr
}

type expiredCounter struct{ n atomic.Int64 }

func (c *expiredCounter) Inc()          { c.n.Add(1) }
func (c *expiredCounter) Add(v float64) { c.n.Add(int64(v)) }

type testMetrics struct {
	expired *expiredCounter
}

func (m testMetrics) RequestDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (m testMetrics) RequestHandled(string, string, string)        {}
func (m testMetrics) RequestExpired(string) metrics.Counter        { return m.expired }

type harness struct {
	h       *ocppj.Handler
	svc     *service
	expired *expiredCounter
	url     string
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	hs := &harness{svc: &service{status: cs.Registered}, expired: &expiredCounter{}}

	h, err := ocppj.New(ocppj.Config{
		Service:    hs.svc,
		InstanceID: "test",
		Timeout:    timeout,
		Metrics:    testMetrics{expired: hs.expired},
	})
	require.NoError(t, err)
	hs.h = h

	router := httprouter.New()
	h.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	hs.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ocpp/"
	return hs
}

// station is the device end of a websocket.
type station struct {
	t    *testing.T
	conn *websocket.Conn
}

func (hs *harness) connect(t *testing.T, id cs.ChargingStationID) *station {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{ocppj.Subprotocol}}
	conn, resp, err := dialer.Dial(hs.url+id.String(), nil)
	require.NoError(t, err)
	require.Equal(t, ocppj.Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hs.h.Connected(id) }, 2*time.Second, 5*time.Millisecond)
	return &station{t: t, conn: conn}
}

func (s *station) read() ocppj.Frame {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := s.conn.ReadMessage()
	require.NoError(s.t, err)
	f, err := ocppj.ParseFrame(data)
	require.NoError(s.t, err)
	return f
}

func (s *station) write(raw string) {
	s.t.Helper()
	require.NoError(s.t, s.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (s *station) reply(id, payload string) {
	s.t.Helper()
	s.write(`[3,"` + id + `",` + payload + `]`)
}

func requested(id cs.ChargingStationID) cs.Requested {
	return cs.Requested{StationID: id, Protocol: cs.ProtocolOCPPJ15}
}

func TestNew_Validation(t *testing.T) {
	_, err := ocppj.New(ocppj.Config{InstanceID: "a"})
	require.Error(t, err)

	_, err = ocppj.New(ocppj.Config{Service: &service{}})
	require.ErrorIs(t, err, cs.ErrValidation)
}

func TestHandler_UnlockConnectorRoundTrip(t *testing.T) {
	hs := newHarness(t, time.Second)
	st := hs.connect(t, "CS-J")

	ev := &cs.UnlockConnectorRequested{Requested: requested("CS-J"), ConnectorID: 2}
	require.NoError(t, hs.h.UnlockConnector(t.Context(), ev, "tok-1"))

	call := st.read()
	require.Equal(t, ocppj.Call, call.Type)
	require.Equal(t, protocol.OpUnlockConnector, call.Action)
	require.NotEqual(t, "tok-1", call.ID, "message ids are not correlation tokens")
	require.JSONEq(t, `{"connectorId":2}`, string(call.Payload))
	require.Equal(t, 1, hs.h.Pending())

	st.reply(call.ID, `{"status":"Accepted"}`)

	require.Eventually(t, func() bool { return len(hs.svc.Informs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	inform := hs.svc.Informs()[0]
	require.Equal(t, cs.CorrelationToken("tok-1"), inform.Token)
	require.Equal(t, cs.ConnectorID(2), inform.Payload)
	require.Equal(t, cs.AddOnIdentity{Type: ocppj.AddOnType, InstanceID: "test"}, inform.AddOn)
	require.Equal(t, 0, hs.h.Pending())
}

func TestHandler_SharedTokenGetsDistinctMessages(t *testing.T) {
	hs := newHarness(t, time.Second)
	st := hs.connect(t, "CS-J")

	for _, c := range []cs.ConnectorID{1, 2} {
		ev := &cs.UnlockConnectorRequested{Requested: requested("CS-J"), ConnectorID: c}
		require.NoError(t, hs.h.UnlockConnector(t.Context(), ev, "tok-all"))
	}
	first, second := st.read(), st.read()
	require.NotEqual(t, first.ID, second.ID)

	st.reply(second.ID, `{"status":"Accepted"}`)
	st.reply(first.ID, `{"status":"Accepted"}`)

	require.Eventually(t, func() bool { return len(hs.svc.Informs()) == 2 }, 2*time.Second, 5*time.Millisecond)
	for _, inform := range hs.svc.Informs() {
		require.Equal(t, cs.CorrelationToken("tok-all"), inform.Token)
	}
}

func TestHandler_RejectedAndUnknownResults(t *testing.T) {
	hs := newHarness(t, time.Second)
	st := hs.connect(t, "CS-J")

	require.NoError(t, hs.h.ClearCache(t.Context(), &cs.ClearCacheRequested{Requested: requested("CS-J")}, "tok-1"))
	st.reply(st.read().ID, `{"status":"Rejected"}`)

	require.NoError(t, hs.h.Reset(t.Context(), &cs.ResetRequested{Requested: requested("CS-J"), Type: cs.ResetSoft}, "tok-2"))
	call := st.read()
	require.JSONEq(t, `{"type":"Soft"}`, string(call.Payload))
	st.reply(call.ID, `{"status":"Maybe"}`)

	require.NoError(t, hs.h.ChangeAvailability(t.Context(), &cs.ChangeAvailabilityRequested{
		Requested: requested("CS-J"), ConnectorID: 1, Availability: cs.Inoperative,
	}, "tok-3"))
	call = st.read()
	st.write(`[4,"` + call.ID + `","InternalError","busy",{}]`)

	require.Eventually(t, func() bool { return hs.h.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, hs.svc.Informs())
}

func TestHandler_ReplyFromOtherStationIsIgnored(t *testing.T) {
	hs := newHarness(t, time.Second)
	addressed := hs.connect(t, "CS-1")
	other := hs.connect(t, "CS-2")

	ev := &cs.UnlockConnectorRequested{Requested: requested("CS-1"), ConnectorID: 1}
	require.NoError(t, hs.h.UnlockConnector(t.Context(), ev, "tok-1"))
	call := addressed.read()

	other.reply(call.ID, `{"status":"Accepted"}`)
	require.Never(t, func() bool { return len(hs.svc.Informs()) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 1, hs.h.Pending(), "the request still waits for its station")

	addressed.reply(call.ID, `{"status":"Accepted"}`)
	require.Eventually(t, func() bool { return len(hs.svc.Informs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, cs.CorrelationToken("tok-1"), hs.svc.Informs()[0].Token)
	require.Equal(t, 0, hs.h.Pending())
}

func TestHandler_Operations(t *testing.T) {
	hs := newHarness(t, time.Second)
	st := hs.connect(t, "CS-J")
	ctx := t.Context()
	req := requested("CS-J")

	tests := []struct {
		name    string
		send    func() error
		payload string
		reply   string
		want    any
	}{
		{
			name: "change configuration",
			send: func() error {
				return hs.h.ChangeConfiguration(ctx, &cs.ChangeConfigurationItemRequested{Requested: req, Item: cs.ConfigurationItem{Key: "k", Value: "v"}}, "tok")
			},
			payload: `{"key":"k","value":"v"}`,
			reply:   `{"status":"Accepted"}`,
			want:    cs.ConfigurationItem{Key: "k", Value: "v"},
		},
		{
			name: "data transfer",
			send: func() error {
				return hs.h.DataTransfer(ctx, &cs.DataTransferRequested{Requested: req, DataTransfer: cs.DataTransfer{VendorID: "acme", Data: "ping"}}, "tok")
			},
			payload: `{"vendorId":"acme","data":"ping"}`,
			reply:   `{"status":"Accepted","data":"pong"}`,
			want:    "pong",
		},
		{
			name: "reserve now",
			send: func() error {
				return hs.h.ReserveNow(ctx, &cs.ReserveNowRequested{
					Requested: req, ConnectorID: 1, ReservationID: 9, IDTag: "tag",
					ExpiresAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
				}, "tok")
			},
			payload: `{"connectorId":1,"expiryDate":"2026-03-01T10:00:00Z","idTag":"tag","reservationId":9}`,
			reply:   `{"status":"Unavailable"}`,
			want:    cs.ReservationUnavailable,
		},
		{
			name: "cancel reservation",
			send: func() error {
				return hs.h.CancelReservation(ctx, &cs.CancelReservationRequested{Requested: req, ReservationID: 9}, "tok")
			},
			payload: `{"reservationId":9}`,
			reply:   `{"status":"Accepted"}`,
			want:    cs.ReservationID(9),
		},
		{
			name: "get configuration",
			send: func() error {
				return hs.h.GetConfiguration(ctx, &cs.ConfigurationItemsRequested{Requested: req, Keys: []string{"k"}}, "tok")
			},
			payload: `{"key":["k"]}`,
			reply:   `{"configurationKey":[{"key":"k","readonly":true,"value":"v"}],"unknownKey":["x"]}`,
			want:    []cs.ConfigurationItem{{Key: "k", Value: "v"}},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.send())
			call := st.read()
			require.JSONEq(t, tt.payload, string(call.Payload))
			st.reply(call.ID, tt.reply)

			require.Eventually(t, func() bool { return len(hs.svc.Informs()) == i+1 }, 2*time.Second, 5*time.Millisecond)
			require.Equal(t, tt.want, hs.svc.Informs()[i].Payload)
		})
	}
}

func TestHandler_Timeout(t *testing.T) {
	hs := newHarness(t, 50*time.Millisecond)
	st := hs.connect(t, "CS-J")

	ev := &cs.UnlockConnectorRequested{Requested: requested("CS-J"), ConnectorID: 1}
	require.NoError(t, hs.h.UnlockConnector(t.Context(), ev, "tok-1"))
	call := st.read()

	require.Eventually(t, func() bool { return hs.expired.n.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0, hs.h.Pending())

	// a late reply is dropped
	st.reply(call.ID, `{"status":"Accepted"}`)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, hs.svc.Informs())
}

func TestHandler_NotConnected(t *testing.T) {
	hs := newHarness(t, time.Second)

	ev := &cs.UnlockConnectorRequested{Requested: requested("CS-offline"), ConnectorID: 1}
	err := hs.h.UnlockConnector(t.Context(), ev, "tok-1")
	require.ErrorIs(t, err, ocppj.ErrNotConnected)
	require.Equal(t, 0, hs.h.Pending())
}

func TestHandler_BootNotification(t *testing.T) {
	hs := newHarness(t, time.Second)
	st := hs.connect(t, "CS-J")

	st.write(`[2,"b-1","BootNotification",{"chargePointVendor":"acme","chargePointModel":"m1","firmwareVersion":"1.0"}]`)
	res := st.read()
	require.Equal(t, ocppj.CallResult, res.Type)
	require.Equal(t, "b-1", res.ID)

	var body struct {
		Status            string `json:"status"`
		HeartbeatInterval int    `json:"heartbeatInterval"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &body))
	require.Equal(t, "Accepted", body.Status)
	require.Equal(t, 300, body.HeartbeatInterval)

	hs.svc.mu.Lock()
	require.Equal(t, []map[string]string{{"vendor": "acme", "model": "m1", "firmware_version": "1.0"}}, hs.svc.boots)
	hs.svc.status, hs.svc.bootErr = "", cs.ErrNotFound
	hs.svc.mu.Unlock()

	st.write(`[2,"b-2","BootNotification",{"chargePointVendor":"acme","chargePointModel":"m1"}]`)
	res = st.read()
	require.NoError(t, json.Unmarshal(res.Payload, &body))
	require.Equal(t, "Rejected", body.Status)
}

func TestHandler_StationCalls(t *testing.T) {
	hs := newHarness(t, time.Second)
	st := hs.connect(t, "CS-J")

	st.write(`[2,"h-1","Heartbeat",{}]`)
	res := st.read()
	require.Equal(t, ocppj.CallResult, res.Type)
	require.Contains(t, string(res.Payload), "currentTime")

	st.write(`[2,"x-1","StartTransaction",{}]`)
	res = st.read()
	require.Equal(t, ocppj.CallError, res.Type)
	require.Equal(t, ocppj.ErrorNotImplemented, res.ErrorCode)

	st.write(`[2,"b-1","BootNotification",{"chargePointVendor":1}]`)
	res = st.read()
	require.Equal(t, ocppj.CallError, res.Type)
	require.Equal(t, ocppj.ErrorFormationViolation, res.ErrorCode)
}

func TestHub_RequiresSubprotocol(t *testing.T) {
	hs := newHarness(t, time.Second)
	_, resp, err := websocket.DefaultDialer.Dial(hs.url+"CS-J", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_ReconnectReplacesConnection(t *testing.T) {
	hs := newHarness(t, time.Second)
	first := hs.connect(t, "CS-J")
	second := hs.connect(t, "CS-J")

	// the hub closes the replaced connection
	require.NoError(t, first.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.conn.ReadMessage()
	require.Error(t, err)

	require.NoError(t, hs.h.ClearCache(t.Context(), &cs.ClearCacheRequested{Requested: requested("CS-J")}, "tok"))
	call := second.read()
	require.Equal(t, protocol.OpClearCache, call.Action)
}

func TestHub_CloseWhileStationsConnect(t *testing.T) {
	hs := newHarness(t, time.Second)
	dialer := websocket.Dialer{Subprotocols: []string{ocppj.Subprotocol}, HandshakeTimeout: 2 * time.Second}

	ids := make([]cs.ChargingStationID, 20)
	var wg sync.WaitGroup
	for i := range ids {
		ids[i] = cs.ChargingStationID("CS-" + strconv.Itoa(i))
		wg.Add(1)
		go func(id cs.ChargingStationID) {
			defer wg.Done()
			conn, _, err := dialer.Dial(hs.url+id.String(), nil)
			if err == nil {
				_ = conn.Close()
			}
		}(ids[i])
	}
	hs.h.Close()
	wg.Wait()

	for _, id := range ids {
		require.False(t, hs.h.Connected(id), id)
	}

	_, resp, err := dialer.Dial(hs.url+"CS-late", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
