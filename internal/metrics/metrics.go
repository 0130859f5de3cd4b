package metrics

import "sync"

// Event counter names.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsRejected = "connections_rejected"
	ConnectionsClosed   = "connections_closed"

	RoomJoins    = "room_joins"
	RoomLeaves   = "room_leaves"
	RoomsCreated = "rooms_created"
	RoomsDeleted = "rooms_deleted"

	SignalsRelayed              = "signals_relayed"
	SignalsDroppedUnknownTarget = "signals_dropped_unknown_target"

	ChatBroadcast     = "chat_broadcast"
	ChatDroppedNoRoom = "chat_dropped_no_room"

	RoomInfoRequests = "room_info_requests"

	EventsMalformed   = "events_malformed"
	EventsUnknownType = "events_unknown_type"
	EventsIgnored     = "events_ignored"
)

// Drop reasons for outbound deliveries and inbound frames.
const (
	DropReasonRateLimited    = "rate_limited"
	DropReasonSendQueueFull  = "send_queue_full"
	DropReasonTooLarge       = "message_too_large"
	DropReasonWrongFrameType = "wrong_frame_type"
)

// SignalKind returns the per-kind relay counter name, e.g.
// "signals_relayed_offer".
func SignalKind(kind string) string { return SignalsRelayed + "_" + kind }

// Metrics is a concurrency-safe counter registry. A nil *Metrics is valid and
// discards every update.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
