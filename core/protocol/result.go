package protocol

import (
	"context"
	"log/slog"
)

// RequestResult is the protocol independent outcome of a wire request.
type RequestResult string

const (
	Success RequestResult = "SUCCESS"
	Failure RequestResult = "FAILURE"
)

// ResultTable maps wire status codes to a normalized value.
type ResultTable[T any] map[string]T

// Normalize looks up raw in table. Codes missing from the table yield an
// *UnknownResultError.
func Normalize[T any](protocol, operation string, table ResultTable[T], raw string) (T, error) {
	v, ok := table[raw]
	if !ok {
		var zero T
		return zero, &UnknownResultError{Protocol: protocol, Operation: operation, Result: raw}
	}
	return v, nil
}

// AcceptedRejected is the status table shared by most OCPP operations.
var AcceptedRejected = ResultTable[RequestResult]{
	"Accepted": Success,
	"Rejected": Failure,
}

// Settle acts on a normalized result. Success runs inform; Failure is logged
// and nothing is dispatched.
func Settle(ctx context.Context, log *slog.Logger, r RequestResult, inform func(ctx context.Context) error, attrs ...any) error {
	switch r {
	case Success:
		return inform(ctx)
	case Failure:
		log.Info("station rejected request", attrs...)
		return nil
	default:
		return &UnknownResultError{Operation: "settle", Result: string(r)}
	}
}
