package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/rooms"
)

var (
	ErrTooManyConnections  = errors.New("too many connections")
	ErrDuplicateConnection = errors.New("duplicate connection id")
	ErrClosed              = errors.New("hub closed")
)

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// MaxConnections caps concurrently accepted sessions. 0 means unlimited.
	MaxConnections int
}

type Hub struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	maxConns int

	mu       sync.Mutex
	rooms    *rooms.Registry
	sessions map[string]*Session
	closed   bool
}

func New(cfg Config) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		metrics:  cfg.Metrics,
		maxConns: cfg.MaxConnections,
		rooms:    rooms.NewRegistry(),
		sessions: make(map[string]*Session),
	}
}

// Accept registers peer as a new idle session and sends it a welcome event
// carrying its own identifier.
func (h *Hub) Accept(peer Peer) (*Session, error) {
	id := peer.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if _, ok := h.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}
	if h.maxConns > 0 && len(h.sessions) >= h.maxConns {
		h.metrics.Inc(metrics.ConnectionsRejected)
		return nil, ErrTooManyConnections
	}

	s := &Session{hub: h, peer: peer, id: id, state: StateIdle}
	h.sessions[id] = s
	h.metrics.Inc(metrics.ConnectionsAccepted)
	h.log.Debug("connection accepted", "conn_id", id, "connections", len(h.sessions))

	peer.Send(protocol.Welcome{ID: id})
	return s, nil
}

// Dispatch applies one inbound event from s. Events from a closed session
// are ignored.
func (h *Hub) Dispatch(s *Session, ev protocol.Inbound) {
	switch e := ev.(type) {
	case protocol.JoinRoom:
		h.Join(s, e.RoomID)
	case protocol.Signal:
		h.Relay(s, e.Target, e.Payload)
	case protocol.Chat:
		h.Chat(s, e)
	case protocol.LeaveRoom:
		h.Leave(s)
	case protocol.GetRoomInfo:
		h.sendRoomInfo(s)
	default:
		h.metrics.Inc(metrics.EventsUnknownType)
		h.log.Debug("ignoring unsupported event", "conn_id", s.id, "event", fmt.Sprintf("%T", ev))
	}
}

// Join moves s into roomID, leaving its previous room first. Every other
// member of roomID is told about the newcomer. It returns false if s is closed
// or roomID is empty.
func (h *Hub) Join(s *Session, roomID string) bool {
	if roomID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if s.state == StateClosed {
		h.metrics.Inc(metrics.EventsIgnored)
		return false
	}
	if s.state == StateInRoom {
		h.leaveLocked(s)
	}

	if h.rooms.Add(roomID, s.id) {
		h.metrics.Inc(metrics.RoomsCreated)
	}
	s.state = StateInRoom
	s.room = roomID
	h.metrics.Inc(metrics.RoomJoins)

	notified := h.broadcastLocked(roomID, s.id, protocol.UserConnected{ID: s.id})
	h.log.Debug("joined room", "conn_id", s.id, "room_id", roomID, "members", h.rooms.Size(roomID), "notified", notified)
	return true
}

// Leave removes s from its current room. It returns false if s was not in a
// room.
func (h *Hub) Leave(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.state != StateInRoom {
		return false
	}
	h.leaveLocked(s)
	return true
}

// Disconnect leaves s's room, if any, and releases the session. It is
// idempotent and reports whether this call closed the session.
func (h *Hub) Disconnect(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	if s.state == StateInRoom {
		h.leaveLocked(s)
	}
	s.state = StateClosed
	if h.sessions[s.id] == s {
		delete(h.sessions, s.id)
	}
	h.metrics.Inc(metrics.ConnectionsClosed)
	h.log.Debug("connection closed", "conn_id", s.id, "connections", len(h.sessions))
	return true
}

func (h *Hub) leaveLocked(s *Session) {
	roomID := s.room
	_, deleted := h.rooms.Remove(roomID, s.id)
	s.state = StateIdle
	s.room = ""
	h.metrics.Inc(metrics.RoomLeaves)

	if deleted {
		h.metrics.Inc(metrics.RoomsDeleted)
		h.log.Debug("left room", "conn_id", s.id, "room_id", roomID, "room_deleted", true)
		return
	}
	notified := h.broadcastLocked(roomID, s.id, protocol.UserDisconnected{ID: s.id})
	h.log.Debug("left room", "conn_id", s.id, "room_id", roomID, "notified", notified)
}

// Relay delivers payload from s to the live session named target. Unknown
// targets are dropped silently; sender and target need not share a room. It
// reports whether the message was handed to the target.
func (h *Hub) Relay(from *Session, target string, payload json.RawMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if from.state == StateClosed {
		h.metrics.Inc(metrics.EventsIgnored)
		return false
	}

	kind := protocol.ClassifySignal(payload)
	to, ok := h.sessions[target]
	if !ok {
		h.metrics.Inc(metrics.SignalsDroppedUnknownTarget)
		h.log.Debug("dropping signal for unknown target", "conn_id", from.id, "target", target, "signal_kind", kind)
		return false
	}

	h.metrics.Inc(metrics.SignalsRelayed)
	h.metrics.Inc(metrics.SignalKind(string(kind)))
	h.log.Debug("relaying signal", "conn_id", from.id, "target", target, "signal_kind", kind)
	return to.peer.Send(protocol.SignalFrom{Payload: payload, From: from.id})
}

// Chat broadcasts msg to the other members of the sender's own room. A
// sender with no room has its message discarded. It returns the number of
// members the message was handed to.
func (h *Hub) Chat(s *Session, msg protocol.Chat) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.state != StateInRoom {
		if s.state == StateClosed {
			h.metrics.Inc(metrics.EventsIgnored)
			return 0
		}
		h.metrics.Inc(metrics.ChatDroppedNoRoom)
		h.log.Debug("dropping chat from connection without a room", "conn_id", s.id)
		return 0
	}

	h.metrics.Inc(metrics.ChatBroadcast)
	return h.broadcastLocked(s.room, s.id, msg)
}

// Broadcast delivers ev to every member of roomID except exclude. An unknown
// room is a no-op.
func (h *Hub) Broadcast(roomID, exclude string, ev protocol.Outbound) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(roomID, exclude, ev)
}

func (h *Hub) broadcastLocked(roomID, exclude string, ev protocol.Outbound) int {
	delivered := 0
	for _, id := range h.rooms.Members(roomID) {
		if id == exclude {
			continue
		}
		s, ok := h.sessions[id]
		if !ok {
			continue
		}
		if s.peer.Send(ev) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) sendRoomInfo(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.state == StateClosed {
		h.metrics.Inc(metrics.EventsIgnored)
		return
	}
	h.metrics.Inc(metrics.RoomInfoRequests)
	s.peer.Send(protocol.RoomInfo{Rooms: h.rooms.Snapshot()})
}

// RoomInfo returns a snapshot of every live room and its sorted members.
func (h *Hub) RoomInfo() protocol.RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return protocol.RoomInfo{Rooms: h.rooms.Snapshot()}
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Len()
}

func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) RoomExists(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Exists(roomID)
}

// Close stops the hub from accepting new sessions. Live sessions are left to
// the transport, which disconnects each one as its socket closes.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}
