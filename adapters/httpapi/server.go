// Package httpapi is the operator facing HTTP ingress. It turns requests
// into charging station commands and serves the station read model.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/codewandler/chargebridge/core/es"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// HeaderOperator names the operator a command is issued for.
const HeaderOperator = "X-Operator"

// Service is the domain surface the API drives.
type Service interface {
	Dispatch(ctx context.Context, cmd es.Command) (es.Result[*cs.Station], error)
	Request(ctx context.Context, cmd es.Command) (cs.CorrelationToken, []es.Envelope, error)
}

// Stations is the read model the API lists.
type Stations interface {
	Get(id cs.ChargingStationID) (cs.StationSummary, bool)
	List() []cs.StationSummary
}

type Config struct {
	Service  Service
	Stations Stations
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Log     *slog.Logger
}

type Server struct {
	svc      Service
	stations Stations
	metrics  http.Handler
	log      *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("httpapi: service is nil")
	}
	if cfg.Stations == nil {
		return nil, errors.New("httpapi: stations view is nil")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Server{
		svc:      cfg.Service,
		stations: cfg.Stations,
		metrics:  cfg.Metrics,
		log:      cfg.Log.With(slog.String("component", "httpapi")),
	}, nil
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET("/healthz", s.healthz)
	if s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics)
	}

	router.GET("/stations", s.listStations)
	router.POST("/stations", s.createStation)
	router.GET("/stations/:id", s.getStation)
	router.POST("/stations/:id/register", s.registerStation)

	router.POST("/stations/:id/unlock", s.unlockConnector)
	router.POST("/stations/:id/clear-cache", s.clearCache)
	router.POST("/stations/:id/configuration", s.changeConfiguration)
	router.POST("/stations/:id/configuration/query", s.getConfiguration)
	router.POST("/stations/:id/reset", s.reset)
	router.POST("/stations/:id/availability", s.changeAvailability)
	router.POST("/stations/:id/data-transfer", s.dataTransfer)
	router.POST("/stations/:id/reservations", s.reserveNow)
	router.DELETE("/stations/:id/reservations/:reservation", s.cancelReservation)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", slog.Any("error", err))
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, cs.ErrValidation), errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, cs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cs.ErrAlreadyExists), errors.Is(err, es.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, es.ErrRouterClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		s.log.Debug("request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
