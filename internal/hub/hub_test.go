package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

type fakePeer struct {
	id string

	mu   sync.Mutex
	msgs []protocol.Outbound
	full bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg protocol.Outbound) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

// take returns and clears everything received so far.
func (p *fakePeer) take() []protocol.Outbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.msgs
	p.msgs = nil
	return out
}

func newTestHub(t *testing.T, maxConns int) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := New(Config{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:        m,
		MaxConnections: maxConns,
	})
	return h, m
}

// accept registers a fake peer and discards its welcome.
func accept(t *testing.T, h *Hub, id string) (*Session, *fakePeer) {
	t.Helper()
	p := &fakePeer{id: id}
	s, err := h.Accept(p)
	if err != nil {
		t.Fatalf("Accept(%q): %v", id, err)
	}
	p.take()
	return s, p
}

func checkInvariants(t *testing.T, h *Hub) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]string)
	for roomID, members := range h.rooms.Snapshot() {
		if len(members) == 0 {
			t.Fatalf("room %q persisted with no members", roomID)
		}
		for _, id := range members {
			if other, ok := seen[id]; ok {
				t.Fatalf("connection %q is a member of both %q and %q", id, other, roomID)
			}
			seen[id] = roomID
			s, ok := h.sessions[id]
			if !ok {
				t.Fatalf("room %q lists unknown connection %q", roomID, id)
			}
			if s.state != StateInRoom || s.room != roomID {
				t.Fatalf("session %q state=%v room=%q, registry says %q", id, s.state, s.room, roomID)
			}
		}
	}
	for id, s := range h.sessions {
		if s.state == StateInRoom && seen[id] != s.room {
			t.Fatalf("session %q claims room %q but registry disagrees", id, s.room)
		}
		if s.state == StateClosed {
			t.Fatalf("closed session %q still registered", id)
		}
	}
}

func TestHub_AcceptSendsWelcome(t *testing.T) {
	h, m := newTestHub(t, 0)
	p := &fakePeer{id: "x"}

	s, err := h.Accept(p)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if s.ID() != "x" || s.State() != StateIdle || s.Room() != "" {
		t.Fatalf("session=%q state=%v room=%q, want x idle no room", s.ID(), s.State(), s.Room())
	}

	msgs := p.take()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if w, ok := msgs[0].(protocol.Welcome); !ok || w.ID != "x" {
		t.Fatalf("got %#v, want welcome for x", msgs[0])
	}
	if h.ConnectionCount() != 1 || h.RoomCount() != 0 {
		t.Fatalf("connections=%d rooms=%d, want 1 and 0", h.ConnectionCount(), h.RoomCount())
	}
	if got := m.Get(metrics.ConnectionsAccepted); got != 1 {
		t.Fatalf("connections_accepted=%d, want 1", got)
	}
}

func TestHub_AcceptRejectsDuplicateID(t *testing.T) {
	h, _ := newTestHub(t, 0)
	accept(t, h, "x")

	_, err := h.Accept(&fakePeer{id: "x"})
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("err=%v, want %v", err, ErrDuplicateConnection)
	}
}

func TestHub_AcceptEnforcesMaxConnections(t *testing.T) {
	h, m := newTestHub(t, 2)
	a, _ := accept(t, h, "a")
	accept(t, h, "b")

	if _, err := h.Accept(&fakePeer{id: "c"}); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("err=%v, want %v", err, ErrTooManyConnections)
	}
	if got := m.Get(metrics.ConnectionsRejected); got != 1 {
		t.Fatalf("connections_rejected=%d, want 1", got)
	}

	h.Disconnect(a)
	if _, err := h.Accept(&fakePeer{id: "c"}); err != nil {
		t.Fatalf("Accept after disconnect: %v", err)
	}
}

func TestHub_AcceptAfterClose(t *testing.T) {
	h, _ := newTestHub(t, 0)
	h.Close()
	if _, err := h.Accept(&fakePeer{id: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want %v", err, ErrClosed)
	}
}

func TestHub_JoinNotifiesExistingMembers(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, px := accept(t, h, "x")
	y, py := accept(t, h, "y")

	h.Join(x, "r1")
	if msgs := px.take(); len(msgs) != 0 {
		t.Fatalf("first joiner got %v, want nothing", msgs)
	}

	h.Join(y, "r1")
	msgs := px.take()
	if len(msgs) != 1 {
		t.Fatalf("x got %d messages, want 1", len(msgs))
	}
	if ev, ok := msgs[0].(protocol.UserConnected); !ok || ev.ID != "y" {
		t.Fatalf("x got %#v, want user-connected(y)", msgs[0])
	}
	if msgs := py.take(); len(msgs) != 0 {
		t.Fatalf("joiner was notified of itself: %v", msgs)
	}
	checkInvariants(t, h)
}

func TestHub_JoinEmptyRoomIDIsIgnored(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")

	if h.Join(x, "") {
		t.Fatalf("Join with empty room id succeeded")
	}
	if x.State() != StateIdle || h.RoomCount() != 0 {
		t.Fatalf("state=%v rooms=%d, want idle and 0", x.State(), h.RoomCount())
	}
}

func TestHub_RoomIDsAreCaseSensitive(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")

	h.Join(x, "Room")
	h.Join(y, "room")
	if msgs := py.take(); len(msgs) != 0 {
		t.Fatalf("y got %v, want nothing", msgs)
	}
	if h.RoomCount() != 2 {
		t.Fatalf("rooms=%d, want 2", h.RoomCount())
	}
}

func TestHub_RelayDeliversToTarget(t *testing.T) {
	h, m := newTestHub(t, 0)
	x, px := accept(t, h, "x")
	_, py := accept(t, h, "y")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if !h.Relay(x, "y", payload) {
		t.Fatalf("Relay returned false")
	}

	msgs := py.take()
	if len(msgs) != 1 {
		t.Fatalf("y got %d messages, want 1", len(msgs))
	}
	ev, ok := msgs[0].(protocol.SignalFrom)
	if !ok || ev.From != "x" || string(ev.Payload) != string(payload) {
		t.Fatalf("y got %#v, want signal from x", msgs[0])
	}
	if msgs := px.take(); len(msgs) != 0 {
		t.Fatalf("sender got %v", msgs)
	}
	if got := m.Get(metrics.SignalKind("offer")); got != 1 {
		t.Fatalf("signals_relayed_offer=%d, want 1", got)
	}
}

func TestHub_RelayIgnoresRooms(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(x, "a")
	h.Join(y, "b")
	py.take()

	if !h.Relay(x, "y", json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)) {
		t.Fatalf("Relay across rooms returned false")
	}
	if msgs := py.take(); len(msgs) != 1 {
		t.Fatalf("y got %d messages, want 1", len(msgs))
	}
}

func TestHub_RelayUnknownTargetIsDropped(t *testing.T) {
	h, m := newTestHub(t, 0)
	x, px := accept(t, h, "x")
	y, _ := accept(t, h, "y")
	h.Disconnect(y)

	for _, target := range []string{"nobody", "y"} {
		if h.Relay(x, target, json.RawMessage(`{"type":"offer"}`)) {
			t.Fatalf("Relay to %q returned true", target)
		}
	}
	if msgs := px.take(); len(msgs) != 0 {
		t.Fatalf("sender got %v, want nothing", msgs)
	}
	if got := m.Get(metrics.SignalsDroppedUnknownTarget); got != 2 {
		t.Fatalf("signals_dropped_unknown_target=%d, want 2", got)
	}
}

func TestHub_ChatBroadcastsToOthers(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, px := accept(t, h, "x")
	y, py := accept(t, h, "y")
	z, pz := accept(t, h, "z")
	h.Join(x, "r1")
	h.Join(y, "r1")
	h.Join(z, "other")
	px.take()
	py.take()
	pz.take()

	msg := protocol.Chat{Message: "hi", Username: "alice"}
	if n := h.Chat(x, msg); n != 1 {
		t.Fatalf("Chat delivered to %d, want 1", n)
	}

	msgs := py.take()
	if len(msgs) != 1 || msgs[0] != protocol.Outbound(msg) {
		t.Fatalf("y got %#v, want %#v", msgs, msg)
	}
	if msgs := px.take(); len(msgs) != 0 {
		t.Fatalf("sender got %v", msgs)
	}
	if msgs := pz.take(); len(msgs) != 0 {
		t.Fatalf("other room got %v", msgs)
	}
}

func TestHub_ChatWithoutRoomIsDropped(t *testing.T) {
	h, m := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(y, "r1")

	if n := h.Chat(x, protocol.Chat{Message: "hi"}); n != 0 {
		t.Fatalf("Chat delivered to %d, want 0", n)
	}
	if msgs := py.take(); len(msgs) != 0 {
		t.Fatalf("y got %v", msgs)
	}
	if got := m.Get(metrics.ChatDroppedNoRoom); got != 1 {
		t.Fatalf("chat_dropped_no_room=%d, want 1", got)
	}
}

func TestHub_DisconnectSoleMemberDeletesRoom(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(x, "r1")

	h.Disconnect(x)
	if h.RoomExists("r1") {
		t.Fatalf("r1 still exists after sole member disconnected")
	}

	h.Dispatch(y, protocol.GetRoomInfo{})
	msgs := py.take()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	info, ok := msgs[0].(protocol.RoomInfo)
	if !ok {
		t.Fatalf("got %#v, want room-info", msgs[0])
	}
	if _, ok := info.Rooms["r1"]; ok {
		t.Fatalf("room-info still lists r1: %v", info.Rooms)
	}
	checkInvariants(t, h)
}

func TestHub_DisconnectNotifiesRemainingMembers(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(y, "r1")
	h.Join(x, "r1")
	py.take()

	h.Disconnect(x)
	msgs := py.take()
	if len(msgs) != 1 {
		t.Fatalf("y got %d messages, want 1", len(msgs))
	}
	if ev, ok := msgs[0].(protocol.UserDisconnected); !ok || ev.ID != "x" {
		t.Fatalf("y got %#v, want user-disconnected(x)", msgs[0])
	}
	if x.State() != StateClosed {
		t.Fatalf("state=%v, want closed", x.State())
	}
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	h, m := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(y, "r1")
	h.Join(x, "r1")
	py.take()

	if !h.Disconnect(x) {
		t.Fatalf("first Disconnect returned false")
	}
	first := py.take()
	if h.Disconnect(x) {
		t.Fatalf("second Disconnect returned true")
	}
	if msgs := py.take(); len(msgs) != 0 {
		t.Fatalf("second Disconnect produced %v", msgs)
	}
	if len(first) != 1 || h.ConnectionCount() != 1 {
		t.Fatalf("first=%v connections=%d", first, h.ConnectionCount())
	}
	if got := m.Get(metrics.ConnectionsClosed); got != 1 {
		t.Fatalf("connections_closed=%d, want 1", got)
	}
}

func TestHub_JoinSecondRoomLeavesFirst(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	w, pw := accept(t, h, "w")
	h.Join(w, "a")
	h.Join(x, "a")
	pw.take()

	h.Join(x, "b")

	msgs := pw.take()
	if len(msgs) != 1 {
		t.Fatalf("remaining member got %d messages, want exactly 1", len(msgs))
	}
	if ev, ok := msgs[0].(protocol.UserDisconnected); !ok || ev.ID != "x" {
		t.Fatalf("remaining member got %#v, want user-disconnected(x)", msgs[0])
	}
	info := h.RoomInfo().Rooms
	if fmt.Sprint(info["a"]) != "[w]" || fmt.Sprint(info["b"]) != "[x]" {
		t.Fatalf("rooms=%v, want a=[w] b=[x]", info)
	}
	checkInvariants(t, h)
}

func TestHub_JoinWithoutLeavingDeletesEmptiedRoom(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")

	h.Join(x, "r1")
	h.Join(x, "r2")

	if h.RoomExists("r1") {
		t.Fatalf("r1 still exists")
	}
	info := h.RoomInfo().Rooms
	if len(info) != 1 || fmt.Sprint(info["r2"]) != "[x]" {
		t.Fatalf("rooms=%v, want only r2=[x]", info)
	}
	if x.Room() != "r2" {
		t.Fatalf("room=%q, want r2", x.Room())
	}
	checkInvariants(t, h)
}

func TestHub_RejoinSameRoomCyclesPresence(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(y, "r1")
	h.Join(x, "r1")
	py.take()

	h.Join(x, "r1")

	msgs := py.take()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if _, ok := msgs[0].(protocol.UserDisconnected); !ok {
		t.Fatalf("first=%#v, want user-disconnected", msgs[0])
	}
	if _, ok := msgs[1].(protocol.UserConnected); !ok {
		t.Fatalf("second=%#v, want user-connected", msgs[1])
	}
	checkInvariants(t, h)
}

func TestHub_LeaveWhileIdleIsNoop(t *testing.T) {
	h, m := newTestHub(t, 0)
	x, _ := accept(t, h, "x")

	if h.Leave(x) {
		t.Fatalf("Leave while idle returned true")
	}
	if got := m.Get(metrics.RoomLeaves); got != 0 {
		t.Fatalf("room_leaves=%d, want 0", got)
	}
}

func TestHub_ExplicitLeave(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	h.Join(y, "r1")
	h.Join(x, "r1")
	py.take()

	h.Dispatch(x, protocol.LeaveRoom{})

	if x.State() != StateIdle || x.Room() != "" {
		t.Fatalf("state=%v room=%q, want idle", x.State(), x.Room())
	}
	msgs := py.take()
	if len(msgs) != 1 {
		t.Fatalf("y got %d messages, want 1", len(msgs))
	}
	if _, ok := msgs[0].(protocol.UserDisconnected); !ok {
		t.Fatalf("y got %#v", msgs[0])
	}
	checkInvariants(t, h)
}

func TestHub_EventsAfterDisconnectAreIgnored(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, px := accept(t, h, "x")
	_, py := accept(t, h, "y")
	h.Disconnect(x)

	h.Dispatch(x, protocol.JoinRoom{RoomID: "r1"})
	h.Dispatch(x, protocol.Signal{Target: "y", Payload: json.RawMessage(`{}`)})
	h.Dispatch(x, protocol.GetRoomInfo{})

	if h.RoomCount() != 0 {
		t.Fatalf("closed session created a room")
	}
	if msgs := py.take(); len(msgs) != 0 {
		t.Fatalf("y got %v", msgs)
	}
	if msgs := px.take(); len(msgs) != 0 {
		t.Fatalf("closed session got %v", msgs)
	}
	if x.State() != StateClosed {
		t.Fatalf("state=%v, want closed", x.State())
	}
}

func TestHub_BroadcastUnknownRoomIsNoop(t *testing.T) {
	h, _ := newTestHub(t, 0)
	if n := h.Broadcast("missing", "", protocol.Chat{Message: "hi"}); n != 0 {
		t.Fatalf("Broadcast delivered to %d, want 0", n)
	}
}

func TestHub_BroadcastSkipsFullPeers(t *testing.T) {
	h, _ := newTestHub(t, 0)
	x, _ := accept(t, h, "x")
	y, py := accept(t, h, "y")
	z, _ := accept(t, h, "z")
	h.Join(x, "r1")
	h.Join(y, "r1")
	h.Join(z, "r1")

	py.mu.Lock()
	py.full = true
	py.mu.Unlock()

	if n := h.Chat(x, protocol.Chat{Message: "hi"}); n != 1 {
		t.Fatalf("Chat delivered to %d, want 1", n)
	}
}

func TestHub_ConcurrentTransitionsKeepInvariants(t *testing.T) {
	h, _ := newTestHub(t, 0)
	const conns = 32
	roomIDs := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		s, _ := accept(t, h, fmt.Sprintf("c%d", i))
		wg.Add(1)
		go func(s *Session, seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 200; j++ {
				switch rng.Intn(5) {
				case 0, 1:
					h.Join(s, roomIDs[rng.Intn(len(roomIDs))])
				case 2:
					h.Leave(s)
				case 3:
					h.Chat(s, protocol.Chat{Message: "m"})
				case 4:
					h.Relay(s, fmt.Sprintf("c%d", rng.Intn(conns)), json.RawMessage(`{"type":"answer"}`))
				}
			}
			if rng.Intn(2) == 0 {
				h.Disconnect(s)
			}
		}(s, int64(i))
	}
	wg.Wait()

	checkInvariants(t, h)
}
