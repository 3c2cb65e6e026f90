package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/adapters/httpapi"
	"github.com/codewandler/chargebridge/core/es"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

type api struct {
	t   *testing.T
	url string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	bus := es.NewBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	router, err := cs.NewRouter(cs.RouterConfig{Store: es.NewInMemoryStore(), Bus: bus})
	require.NoError(t, err)
	t.Cleanup(router.Close)

	view := cs.NewStationView()
	t.Cleanup(view.Subscribe(bus))

	srv, err := httpapi.New(httpapi.Config{
		Service:  cs.NewService(router),
		Stations: view,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	require.NoError(t, err)

	r := httprouter.New()
	srv.Register(r)
	hs := httptest.NewServer(r)
	t.Cleanup(hs.Close)
	return &api{t: t, url: hs.URL}
}

func (a *api) do(method, path, operator, body string) (int, map[string]any) {
	a.t.Helper()
	req, err := http.NewRequest(method, a.url+path, strings.NewReader(body))
	require.NoError(a.t, err)
	if operator != "" {
		req.Header.Set(httpapi.HeaderOperator, operator)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(a.t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func (a *api) create(id string, connectors int) {
	a.t.Helper()
	var conns []string
	for i := 1; i <= connectors; i++ {
		conns = append(conns, `{"id":`+string(rune('0'+i))+`,"type":"TYPE2","max_amp":32}`)
	}
	status, body := a.do(http.MethodPost, "/stations", "alice",
		`{"id":"`+id+`","protocol":"OCPPJ15","connectors":[`+strings.Join(conns, ",")+`]}`)
	require.Equal(a.t, http.StatusCreated, status, body)
}

func TestNew_Validation(t *testing.T) {
	_, err := httpapi.New(httpapi.Config{})
	require.Error(t, err)
}

func TestCreateStation(t *testing.T) {
	a := newAPI(t)

	status, body := a.do(http.MethodPost, "/stations", "alice",
		`{"id":"CS-1","protocol":"OCPPJ15","connectors":[{"id":1,"type":"TYPE2","max_amp":32}]}`)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, []any{cs.EvtCreated}, body["events"])
	require.EqualValues(t, 1, body["version"])

	status, _ = a.do(http.MethodPost, "/stations", "alice",
		`{"id":"CS-1","protocol":"OCPPJ15","connectors":[{"id":1}]}`)
	require.Equal(t, http.StatusConflict, status)

	t.Run("operator required", func(t *testing.T) {
		status, body := a.do(http.MethodPost, "/stations", "", `{"id":"CS-2","protocol":"OCPPJ15","connectors":[{"id":1}]}`)
		require.Equal(t, http.StatusBadRequest, status)
		require.Contains(t, body["error"], "identity")
	})

	t.Run("malformed body", func(t *testing.T) {
		status, _ := a.do(http.MethodPost, "/stations", "alice", `{"id":`)
		require.Equal(t, http.StatusBadRequest, status)
		status, _ = a.do(http.MethodPost, "/stations", "alice", `{"nope":1}`)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("connectors out of order", func(t *testing.T) {
		status, _ := a.do(http.MethodPost, "/stations", "alice", `{"id":"CS-3","protocol":"OCPPJ15","connectors":[{"id":2}]}`)
		require.Equal(t, http.StatusBadRequest, status)
	})
}

func TestGetAndListStations(t *testing.T) {
	a := newAPI(t)
	a.create("CS-B", 1)
	a.create("CS-A", 2)

	// the view is fed asynchronously from the bus
	require.Eventually(t, func() bool {
		status, _ := a.do(http.MethodGet, "/stations/CS-A", "", "")
		return status == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	status, body := a.do(http.MethodPost, "/stations/CS-A/register", "alice", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []any{cs.EvtRegistered}, body["events"])

	require.Eventually(t, func() bool {
		_, st := a.do(http.MethodGet, "/stations/CS-A", "", "")
		return st["registered"] == true
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(a.url + "/stations")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []cs.StationSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	require.Equal(t, cs.ChargingStationID("CS-A"), list[0].ID)
	require.Len(t, list[0].Connectors, 2)

	status, _ = a.do(http.MethodGet, "/stations/CS-X", "", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestRequests(t *testing.T) {
	a := newAPI(t)
	a.create("CS-1", 2)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		events []any
	}{
		{"unlock all", http.MethodPost, "/unlock", `{"connector_id":0}`, http.StatusAccepted,
			[]any{cs.EvtUnlockConnectorRequested, cs.EvtUnlockConnectorRequested}},
		{"unlock one", http.MethodPost, "/unlock", `{"connector_id":2}`, http.StatusAccepted,
			[]any{cs.EvtUnlockConnectorRequested}},
		{"unlock missing connector", http.MethodPost, "/unlock", `{"connector_id":5}`, http.StatusAccepted,
			[]any{cs.EvtConnectorNotFound}},
		{"clear cache", http.MethodPost, "/clear-cache", ``, http.StatusAccepted,
			[]any{cs.EvtClearCacheRequested}},
		{"change configuration", http.MethodPost, "/configuration", `{"key":"HeartbeatInterval","value":"60"}`, http.StatusAccepted,
			[]any{cs.EvtChangeConfigurationItemRequested}},
		{"get configuration", http.MethodPost, "/configuration/query", `{"keys":["HeartbeatInterval"]}`, http.StatusAccepted,
			[]any{cs.EvtConfigurationItemsRequested}},
		{"reset", http.MethodPost, "/reset", `{"type":"soft"}`, http.StatusAccepted,
			[]any{cs.EvtResetRequested}},
		{"reset bad type", http.MethodPost, "/reset", `{"type":"gentle"}`, http.StatusBadRequest, nil},
		{"availability", http.MethodPost, "/availability", `{"connector_id":1,"availability":"inoperative"}`, http.StatusAccepted,
			[]any{cs.EvtChangeAvailabilityRequested}},
		{"data transfer", http.MethodPost, "/data-transfer", `{"vendor_id":"acme","data":"x"}`, http.StatusAccepted,
			[]any{cs.EvtDataTransferRequested}},
		{"reserve", http.MethodPost, "/reservations",
			`{"connector_id":1,"reservation_id":7,"id_tag":"TAG","expires_at":"2030-01-01T00:00:00Z"}`, http.StatusAccepted,
			[]any{cs.EvtReserveNowRequested}},
		{"cancel reservation", http.MethodDelete, "/reservations/7", ``, http.StatusAccepted,
			[]any{cs.EvtCancelReservationRequested}},
		{"cancel bad reservation", http.MethodDelete, "/reservations/seven", ``, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := a.do(tt.method, "/stations/CS-1"+tt.path, "alice", tt.body)
			require.Equal(t, tt.status, status, body)
			if tt.status != http.StatusAccepted {
				require.NotEmpty(t, body["error"])
				return
			}
			require.NotEmpty(t, body["token"])
			require.Equal(t, tt.events, body["events"])
		})
	}

	t.Run("tokens are fresh per request", func(t *testing.T) {
		_, first := a.do(http.MethodPost, "/stations/CS-1/clear-cache", "alice", "")
		_, second := a.do(http.MethodPost, "/stations/CS-1/clear-cache", "alice", "")
		require.NotEqual(t, first["token"], second["token"])
	})

	t.Run("unknown station", func(t *testing.T) {
		status, _ := a.do(http.MethodPost, "/stations/CS-X/clear-cache", "alice", "")
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	status, body := a.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	resp, err := http.Get(a.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	require.Equal(t, "# metrics\n", string(data))
}
