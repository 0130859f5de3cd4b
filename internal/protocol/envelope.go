package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that cannot be parsed or that lack a
	// required field.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownType is returned for a well-formed envelope whose type is not
	// an inbound event.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func malformed(t Type, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, t, reason)
}

// decodeInbound turns an envelope's type and raw JSON data into a typed event.
func decodeInbound(t Type, data json.RawMessage) (Inbound, error) {
	switch t {
	case TypeJoinRoom:
		var roomID string
		if len(data) == 0 || json.Unmarshal(data, &roomID) != nil || roomID == "" {
			return nil, malformed(t, "room id must be a non-empty string")
		}
		return JoinRoom{RoomID: roomID}, nil

	case TypeSignal:
		var body struct {
			Target string          `json:"target"`
			Signal json.RawMessage `json:"signal"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, malformed(t, err.Error())
		}
		if body.Target == "" {
			return nil, malformed(t, "missing target")
		}
		if len(body.Signal) == 0 || string(body.Signal) == "null" {
			return nil, malformed(t, "missing signal")
		}
		return Signal{Target: body.Target, Payload: body.Signal}, nil

	case TypeChat:
		var body struct {
			Message  *string `json:"message"`
			Username string  `json:"username"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, malformed(t, err.Error())
		}
		if body.Message == nil {
			return nil, malformed(t, "missing message")
		}
		return Chat{Message: *body.Message, Username: body.Username}, nil

	case TypeLeaveRoom:
		return LeaveRoom{}, nil

	case TypeGetRoomInfo:
		return GetRoomInfo{}, nil

	case "":
		return nil, malformed(t, "missing type")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// encodeOutboundData renders the data member of an outbound envelope.
func encodeOutboundData(msg Outbound) (json.RawMessage, error) {
	var v any
	switch m := msg.(type) {
	case Welcome:
		v = m
	case UserConnected:
		v = m.ID
	case UserDisconnected:
		v = m.ID
	case SignalFrom:
		v = m
	case Chat:
		v = m
	case RoomInfo:
		rooms := m.Rooms
		if rooms == nil {
			rooms = map[string][]string{}
		}
		v = rooms
	default:
		return nil, fmt.Errorf("protocol: unsupported outbound event %T", msg)
	}
	return json.Marshal(v)
}
