package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrUnknownResult        = errors.New("unknown wire result")
)

// UnsupportedOperationError is returned when a binding cannot perform a
// requested operation. It is a configuration error and is never retried.
type UnsupportedOperationError struct {
	Protocol  string
	Operation string
}

func Unsupported(protocol, operation string) error {
	return &UnsupportedOperationError{Protocol: protocol, Operation: operation}
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s not supported in %s", e.Operation, e.Protocol)
}

func (e *UnsupportedOperationError) Unwrap() error { return ErrUnsupportedOperation }

// UnknownResultError means a station answered with a result code the binding
// does not know. The wire schema and the binding are out of sync.
type UnknownResultError struct {
	Protocol  string
	Operation string
	Result    string
}

func (e *UnknownResultError) Error() string {
	return fmt.Sprintf("%s %s: unknown result %q", e.Protocol, e.Operation, e.Result)
}

func (e *UnknownResultError) Unwrap() error { return ErrUnknownResult }
