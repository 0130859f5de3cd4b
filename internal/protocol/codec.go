package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket subprotocols selecting a codec. A client that offers none gets
// SubprotocolJSON.
const (
	SubprotocolJSON    = "signal.v1.json"
	SubprotocolMsgpack = "signal.v1.msgpack"
)

// Codec converts between wire frames and events for one connection.
type Codec interface {
	Name() string
	// Binary reports whether frames are sent as binary (true) or text (false).
	Binary() bool
	Decode(frame []byte) (Inbound, error)
	Encode(msg Outbound) ([]byte, error)
}

// Subprotocols lists the supported subprotocols in server preference order.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolMsgpack}
}

// CodecFor returns the codec negotiated for subprotocol, defaulting to JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return SubprotocolJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Decode(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decodeInbound(env.Type, env.Data)
}

func (JSONCodec) Encode(msg Outbound) ([]byte, error) {
	data, err := encodeOutboundData(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msg.OutboundType(), Data: data})
}

// MsgpackCodec carries the same envelope as MessagePack maps. Payloads are
// transcoded through their JSON form, so a MessagePack client and a JSON
// client can signal each other. Numbers inside opaque payloads come out as
// float64.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Type Type `msgpack:"type"`
	Data any  `msgpack:"data,omitempty"`
}

func (MsgpackCodec) Name() string { return SubprotocolMsgpack }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Decode(frame []byte) (Inbound, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var data json.RawMessage
	if env.Data != nil {
		b, err := json.Marshal(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = b
	}
	return decodeInbound(env.Type, data)
}

func (MsgpackCodec) Encode(msg Outbound) ([]byte, error) {
	data, err := encodeOutboundData(msg)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackEnvelope{Type: msg.OutboundType(), Data: v})
}
