package hub

import "github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"

// Peer is the transport side of one accepted connection.
type Peer interface {
	ID() string
	// Send enqueues msg for delivery without blocking. It returns false when
	// the message was dropped (queue full or connection gone).
	Send(msg protocol.Outbound) bool
}

type State int

const (
	StateIdle State = iota
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the hub's view of one connection. Its state and room are only
// mutated by the Hub that created it, under that Hub's lock.
type Session struct {
	hub  *Hub
	peer Peer
	id   string

	state State
	room  string
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.state
}

// Room returns the session's current room, or "" when it is not in one.
func (s *Session) Room() string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.room
}
