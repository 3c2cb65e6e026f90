package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codewandler/chargebridge/core/es"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

var errBadBody = errors.New("malformed request body")

const maxBody = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	return nil
}

func operator(r *http.Request) cs.IdentityContext {
	return cs.OperatorIdentity(r.Header.Get(HeaderOperator))
}

func stationID(p httprouter.Params) cs.ChargingStationID {
	return cs.ChargingStationID(p.ByName("id"))
}

type stationBody struct {
	ID         cs.ChargingStationID `json:"id"`
	Protocol   string               `json:"protocol"`
	Connectors []cs.Connector       `json:"connectors"`
	Attributes map[string]string    `json:"attributes,omitempty"`
}

// commandResponse lists what a command wrote.
type commandResponse struct {
	Token   cs.CorrelationToken `json:"token,omitempty"`
	Version es.Version          `json:"version"`
	Events  []string            `json:"events"`
}

func eventTypes(envs []es.Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

func (s *Server) listStations(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.stations.List())
}

func (s *Server) getStation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	st, ok := s.stations.Get(stationID(p))
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", cs.ErrNotFound, stationID(p)))
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) createStation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body stationBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd, err := cs.NewCreateCommand(body.ID, body.Protocol, body.Connectors, body.Attributes, operator(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Dispatch(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/stations/"+body.ID.String())
	s.writeJSON(w, http.StatusCreated, commandResponse{Version: res.Version, Events: eventTypes(res.Envelopes)})
}

func (s *Server) registerStation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	cmd, err := cs.NewRegisterCommand(stationID(p), operator(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Dispatch(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, commandResponse{Version: res.Version, Events: eventTypes(res.Envelopes)})
}

// request dispatches a request command built by build from the decoded body.
// Requests are answered with 202: the station is only asked afterwards.
func request[B any](s *Server, build func(id cs.ChargingStationID, body B, identity cs.IdentityContext) (es.Command, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var body B
		if err := decode(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		cmd, err := build(stationID(p), body, operator(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		token, envs, err := s.svc.Request(r.Context(), cmd)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := commandResponse{Token: token, Events: eventTypes(envs)}
		if n := len(envs); n > 0 {
			resp.Version = envs[n-1].Version
		}
		s.writeJSON(w, http.StatusAccepted, resp)
	}
}

type (
	unlockBody struct {
		ConnectorID cs.ConnectorID `json:"connector_id"`
	}
	configurationBody struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	configurationQueryBody struct {
		Keys []string `json:"keys"`
	}
	resetBody struct {
		Type cs.ResetType `json:"type"`
	}
	availabilityBody struct {
		ConnectorID  cs.ConnectorID  `json:"connector_id"`
		Availability cs.Availability `json:"availability"`
	}
	reserveBody struct {
		ConnectorID   cs.ConnectorID   `json:"connector_id"`
		ReservationID cs.ReservationID `json:"reservation_id"`
		IDTag         string           `json:"id_tag"`
		ExpiresAt     time.Time        `json:"expires_at"`
	}
)

func (s *Server) unlockConnector(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b unlockBody, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestUnlockConnectorCommand(id, b.ConnectorID, who)
	})(w, r, p)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, _ struct{}, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestClearCacheCommand(id, who)
	})(w, r, p)
}

func (s *Server) changeConfiguration(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b configurationBody, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestChangeConfigurationItemCommand(id, cs.ConfigurationItem{Key: b.Key, Value: b.Value}, who)
	})(w, r, p)
}

func (s *Server) getConfiguration(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b configurationQueryBody, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestConfigurationItemsCommand(id, b.Keys, who)
	})(w, r, p)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b resetBody, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestResetCommand(id, b.Type, who)
	})(w, r, p)
}

func (s *Server) changeAvailability(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b availabilityBody, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestChangeAvailabilityCommand(id, b.ConnectorID, b.Availability, who)
	})(w, r, p)
}

func (s *Server) dataTransfer(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b cs.DataTransfer, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestDataTransferCommand(id, b, who)
	})(w, r, p)
}

func (s *Server) reserveNow(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	request(s, func(id cs.ChargingStationID, b reserveBody, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestReserveNowCommand(id, b.ConnectorID, b.ReservationID, b.IDTag, b.ExpiresAt, who)
	})(w, r, p)
}

func (s *Server) cancelReservation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	reservation, err := strconv.Atoi(p.ByName("reservation"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: reservation id %q", errBadBody, p.ByName("reservation")))
		return
	}
	request(s, func(id cs.ChargingStationID, _ struct{}, who cs.IdentityContext) (es.Command, error) {
		return cs.NewRequestCancelReservationCommand(id, cs.ReservationID(reservation), who)
	})(w, r, p)
}
