package ocppj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/chargebridge/core/correlation"
	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

func (h *Handler) onMessage(ctx context.Context, c *Conn, f Frame) {
	switch f.Type {
	case Call:
		h.handleCall(ctx, c, f)
	case CallResult, CallError:
		h.handleReply(ctx, c, f)
	}
}

func (h *Handler) respond(c *Conn, f Frame) {
	if err := c.Write(f); err != nil {
		h.log.Warn("write response", slog.String("station_id", c.StationID().String()), slog.Any("error", err))
	}
}

// handleCall answers requests initiated by the station.
func (h *Handler) handleCall(ctx context.Context, c *Conn, f Frame) {
	var (
		res any
		err error
	)
	switch f.Action {
	case ActionBootNotification:
		res, err = h.boot(ctx, c.StationID(), f.Payload)
	case ActionHeartbeat:
		res = heartbeatResponse{CurrentTime: h.now().UTC()}
	default:
		h.respond(c, NewCallError(f.ID, ErrorNotImplemented, fmt.Sprintf("action %s is not implemented", f.Action)))
		return
	}

	if err != nil {
		code := ErrorInternalError
		var syntax *json.SyntaxError
		var typ *json.UnmarshalTypeError
		if errors.As(err, &syntax) || errors.As(err, &typ) {
			code = ErrorFormationViolation
		}
		h.log.Error("station call failed",
			slog.String("station_id", c.StationID().String()),
			slog.String("action", f.Action),
			slog.Any("error", err),
		)
		h.respond(c, NewCallError(f.ID, code, err.Error()))
		return
	}

	out, err := NewCallResult(f.ID, res)
	if err != nil {
		h.respond(c, NewCallError(f.ID, ErrorInternalError, err.Error()))
		return
	}
	h.respond(c, out)
}

// boot records the notification. Only registered stations are accepted;
// unknown stations are rejected without an error.
func (h *Handler) boot(ctx context.Context, id cs.ChargingStationID, payload json.RawMessage) (bootNotificationResponse, error) {
	var req bootNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return bootNotificationResponse{}, err
	}

	res := bootNotificationResponse{
		Status:            "Rejected",
		CurrentTime:       h.now().UTC(),
		HeartbeatInterval: int(h.heartbeat.Seconds()),
	}
	status, err := h.svc.Boot(ctx, id, cs.ProtocolOCPPJ15, req.attributes())
	switch {
	case errors.Is(err, cs.ErrNotFound):
		h.log.Info("boot from unknown station", slog.String("station_id", id.String()))
	case err != nil:
		return bootNotificationResponse{}, err
	case status == cs.Registered:
		res.Status = "Accepted"
	}
	return res, nil
}

// handleReply settles the pending request a CALLRESULT or CALLERROR answers.
func (h *Handler) handleReply(ctx context.Context, c *Conn, f Frame) {
	log := h.log.With(slog.String("station_id", c.StationID().String()), slog.String("message_id", f.ID))

	// only the addressed station may settle a request
	p, err := h.pending.ResolveIf(ctx, f.ID, func(p pendingRequest) bool { return p.StationID == c.StationID() })
	switch {
	case errors.Is(err, correlation.ErrRejected):
		log.Warn("reply from a different station than addressed", slog.String("addressed", p.StationID.String()))
		return
	case errors.Is(err, correlation.ErrUnknownToken):
		log.Warn("reply to unknown or expired request")
		return
	case err != nil:
		log.Error("resolve pending request", slog.Any("error", err))
		return
	}
	log = log.With(slog.String("operation", p.Operation), slog.String("token", p.Token.String()))

	if f.Type == CallError {
		log.Info("station answered with call error",
			slog.String("code", f.ErrorCode),
			slog.String("description", f.ErrorDescription),
		)
		return
	}

	if err := h.settle(ctx, p, f.Payload); err != nil {
		if errors.Is(err, protocol.ErrUnknownResult) {
			log.Error("unknown wire result", slog.Any("error", err))
			return
		}
		log.Error("settle reply", slog.Any("error", err))
		return
	}
	log.Debug("settled", slog.Duration("latency", h.now().Sub(p.SentAt)))
}

func (h *Handler) settle(ctx context.Context, p pendingRequest, payload json.RawMessage) error {
	switch p.Operation {
	case protocol.OpUnlockConnector:
		return h.settleStatus(ctx, p, payload, protocol.AcceptedRejected, func(ctx context.Context) error {
			return h.svc.InformConnectorUnlocked(ctx, p.StationID, p.ConnectorID, p.Token, h.addOn)
		})
	case protocol.OpClearCache:
		return h.settleStatus(ctx, p, payload, protocol.AcceptedRejected, func(ctx context.Context) error {
			return h.svc.InformCacheCleared(ctx, p.StationID, p.Token, h.addOn)
		})
	case protocol.OpChangeConfiguration:
		return h.settleStatus(ctx, p, payload, protocol.ChangeConfigurationResults, func(ctx context.Context) error {
			return h.svc.InformConfigurationItemChanged(ctx, p.StationID, p.Item, p.Token, h.addOn)
		})
	case protocol.OpReset:
		return h.settleStatus(ctx, p, payload, protocol.AcceptedRejected, func(ctx context.Context) error {
			return h.svc.InformResetAccepted(ctx, p.StationID, p.ResetType, p.Token, h.addOn)
		})
	case protocol.OpChangeAvailability:
		return h.settleStatus(ctx, p, payload, protocol.ChangeAvailabilityResults, func(ctx context.Context) error {
			return h.svc.InformAvailabilityChanged(ctx, p.StationID, p.ConnectorID, p.Availability, p.Token, h.addOn)
		})
	case protocol.OpCancelReservation:
		return h.settleStatus(ctx, p, payload, protocol.AcceptedRejected, func(ctx context.Context) error {
			return h.svc.InformReservationCancelled(ctx, p.StationID, p.ReservationID, p.Token, h.addOn)
		})

	case protocol.OpDataTransfer:
		var res dataTransferResponse
		if err := json.Unmarshal(payload, &res); err != nil {
			return err
		}
		r, err := protocol.Normalize(cs.ProtocolOCPPJ15, p.Operation, protocol.DataTransferResults, res.Status)
		if err != nil {
			return err
		}
		return protocol.Settle(ctx, h.log, r, func(ctx context.Context) error {
			return h.svc.InformDataTransferResponse(ctx, p.StationID, res.Data, p.Token, h.addOn)
		}, slog.String("operation", p.Operation), slog.String("station_id", p.StationID.String()), slog.String("status", res.Status))

	case protocol.OpReserveNow:
		var res statusResponse
		if err := json.Unmarshal(payload, &res); err != nil {
			return err
		}
		status, err := protocol.Normalize(cs.ProtocolOCPPJ15, p.Operation, protocol.ReservationResults, res.Status)
		if err != nil {
			return err
		}
		return h.svc.InformReservationStatus(ctx, p.StationID, p.ReservationID, status, p.Token, h.addOn)

	case protocol.OpGetConfiguration:
		var res getConfigurationResponse
		if err := json.Unmarshal(payload, &res); err != nil {
			return err
		}
		items := make([]cs.ConfigurationItem, 0, len(res.ConfigurationKey))
		for _, k := range res.ConfigurationKey {
			items = append(items, cs.ConfigurationItem{Key: k.Key, Value: k.Value})
		}
		return h.svc.InformConfigurationItemsReceived(ctx, p.StationID, items, p.Token, h.addOn)

	default:
		return fmt.Errorf("no reply handler for %q", p.Operation)
	}
}

func (h *Handler) settleStatus(
	ctx context.Context,
	p pendingRequest,
	payload json.RawMessage,
	table protocol.ResultTable[protocol.RequestResult],
	inform func(ctx context.Context) error,
) error {
	var res statusResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return err
	}
	r, err := protocol.Normalize(cs.ProtocolOCPPJ15, p.Operation, table, res.Status)
	if err != nil {
		return err
	}
	return protocol.Settle(ctx, h.log, r, inform,
		slog.String("operation", p.Operation),
		slog.String("station_id", p.StationID.String()),
		slog.String("token", p.Token.String()),
	)
}
