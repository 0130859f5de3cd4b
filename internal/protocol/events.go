package protocol

import "encoding/json"

type Type string

// Inbound event types.
const (
	TypeJoinRoom    Type = "join-room"
	TypeSignal      Type = "signal"
	TypeChat        Type = "chat"
	TypeLeaveRoom   Type = "leave-room"
	TypeGetRoomInfo Type = "get-room-info"
)

// Outbound event types. "signal" and "chat" are shared with the inbound set.
const (
	TypeWelcome          Type = "welcome"
	TypeUserConnected    Type = "user-connected"
	TypeUserDisconnected Type = "user-disconnected"
	TypeRoomInfo         Type = "room-info"
)

// Inbound is an event sent by a client: JoinRoom, Signal, Chat, LeaveRoom or
// GetRoomInfo.
type Inbound interface {
	InboundType() Type
}

// Outbound is an event the relay delivers to a client: Welcome,
// UserConnected, UserDisconnected, SignalFrom, Chat or RoomInfo.
type Outbound interface {
	OutboundType() Type
}

type JoinRoom struct {
	RoomID string
}

// Signal asks the relay to forward Payload to the connection named by Target.
// Payload is opaque to the relay.
type Signal struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"signal"`
}

type Chat struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

type LeaveRoom struct{}

// GetRoomInfo requests a diagnostic snapshot of every live room.
type GetRoomInfo struct{}

// Welcome tells a freshly accepted client its own connection identifier.
type Welcome struct {
	ID string `json:"id"`
}

type UserConnected struct {
	ID string
}

type UserDisconnected struct {
	ID string
}

// SignalFrom is the relayed form of a Signal, stamped with the sender.
type SignalFrom struct {
	Payload json.RawMessage `json:"signal"`
	From    string          `json:"from"`
}

type RoomInfo struct {
	Rooms map[string][]string
}

func (JoinRoom) InboundType() Type    { return TypeJoinRoom }
func (Signal) InboundType() Type      { return TypeSignal }
func (Chat) InboundType() Type        { return TypeChat }
func (LeaveRoom) InboundType() Type   { return TypeLeaveRoom }
func (GetRoomInfo) InboundType() Type { return TypeGetRoomInfo }

func (Welcome) OutboundType() Type          { return TypeWelcome }
func (UserConnected) OutboundType() Type    { return TypeUserConnected }
func (UserDisconnected) OutboundType() Type { return TypeUserDisconnected }
func (SignalFrom) OutboundType() Type       { return TypeSignal }
func (Chat) OutboundType() Type             { return TypeChat }
func (RoomInfo) OutboundType() Type         { return TypeRoomInfo }
