package ocppj

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidFrame = errors.New("invalid ocpp-j frame")

type MessageType int

const (
	Call       MessageType = 2
	CallResult MessageType = 3
	CallError  MessageType = 4
)

// CALLERROR codes defined by OCPP-J 1.5.
const (
	ErrorNotImplemented     = "NotImplemented"
	ErrorProtocolError      = "ProtocolError"
	ErrorFormationViolation = "FormationViolation"
	ErrorInternalError      = "InternalError"
	ErrorGenericError       = "GenericError"
)

// Frame is one OCPP-J message:
//
//	CALL       [2, id, action, payload]
//	CALLRESULT [3, id, payload]
//	CALLERROR  [4, id, code, description, details]
type Frame struct {
	Type             MessageType
	ID               string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func NewCall(id, action string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", action, err)
	}
	return Frame{Type: Call, ID: id, Action: action, Payload: data}, nil
}

func NewCallResult(id string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode result payload: %w", err)
	}
	return Frame{Type: CallResult, ID: id, Payload: data}, nil
}

func NewCallError(id, code, description string) Frame {
	return Frame{Type: CallError, ID: id, ErrorCode: code, ErrorDescription: description}
}

func (f Frame) MarshalJSON() ([]byte, error) {
	payload := f.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	switch f.Type {
	case Call:
		return json.Marshal([]any{f.Type, f.ID, f.Action, payload})
	case CallResult:
		return json.Marshal([]any{f.Type, f.ID, payload})
	case CallError:
		details := f.ErrorDetails
		if len(details) == 0 {
			details = json.RawMessage(`{}`)
		}
		return json.Marshal([]any{f.Type, f.ID, f.ErrorCode, f.ErrorDescription, details})
	default:
		return nil, fmt.Errorf("%w: message type %d", ErrInvalidFrame, f.Type)
	}
}

// ParseFrame decodes a websocket text message.
func ParseFrame(data []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if len(parts) < 3 {
		return Frame{}, fmt.Errorf("%w: %d elements", ErrInvalidFrame, len(parts))
	}

	var f Frame
	if err := json.Unmarshal(parts[0], &f.Type); err != nil {
		return Frame{}, fmt.Errorf("%w: message type: %w", ErrInvalidFrame, err)
	}
	if err := json.Unmarshal(parts[1], &f.ID); err != nil || f.ID == "" {
		return Frame{}, fmt.Errorf("%w: message id", ErrInvalidFrame)
	}

	switch f.Type {
	case Call:
		if len(parts) != 4 {
			return Frame{}, fmt.Errorf("%w: call has %d elements", ErrInvalidFrame, len(parts))
		}
		if err := json.Unmarshal(parts[2], &f.Action); err != nil || f.Action == "" {
			return Frame{}, fmt.Errorf("%w: action", ErrInvalidFrame)
		}
		f.Payload = parts[3]
	case CallResult:
		if len(parts) != 3 {
			return Frame{}, fmt.Errorf("%w: call result has %d elements", ErrInvalidFrame, len(parts))
		}
		f.Payload = parts[2]
	case CallError:
		if len(parts) < 4 {
			return Frame{}, fmt.Errorf("%w: call error has %d elements", ErrInvalidFrame, len(parts))
		}
		if err := json.Unmarshal(parts[2], &f.ErrorCode); err != nil {
			return Frame{}, fmt.Errorf("%w: error code", ErrInvalidFrame)
		}
		if err := json.Unmarshal(parts[3], &f.ErrorDescription); err != nil {
			return Frame{}, fmt.Errorf("%w: error description", ErrInvalidFrame)
		}
		if len(parts) > 4 {
			f.ErrorDetails = parts[4]
		}
	default:
		return Frame{}, fmt.Errorf("%w: message type %d", ErrInvalidFrame, f.Type)
	}
	return f, nil
}
