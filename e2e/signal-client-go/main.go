// Command signal-client-go drives two WebSocket clients through a running
// relay: both join a room, exchange a real SDP offer/answer pair, chat and
// query room info. It exits non-zero on the first unexpected event.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type client struct {
	name string
	ws   *websocket.Conn
	id   string
}

func main() {
	url := flag.String("url", envOrDefault("SIGNAL_RELAY_URL", "ws://127.0.0.1:8080/ws"), "relay WebSocket URL")
	origin := flag.String("origin", os.Getenv("SIGNAL_RELAY_ORIGIN"), "Origin header to send (empty for none)")
	room := flag.String("room", "", "room to join (random when empty)")
	timeout := flag.Duration("timeout", 5*time.Second, "per-event read timeout")
	flag.Parse()

	if *room == "" {
		*room = "e2e-" + uuid.NewString()
	}

	if err := run(*url, *origin, *room, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func run(url, origin, room string, timeout time.Duration) error {
	a, err := dial("a", url, origin, timeout)
	if err != nil {
		return err
	}
	defer a.ws.Close()
	b, err := dial("b", url, origin, timeout)
	if err != nil {
		return err
	}
	defer b.ws.Close()

	if err := a.send(protocol.TypeJoinRoom, room); err != nil {
		return err
	}
	if err := b.send(protocol.TypeJoinRoom, room); err != nil {
		return err
	}
	var joined string
	if err := a.expect(protocol.TypeUserConnected, timeout, &joined); err != nil {
		return err
	}
	if joined != b.id {
		return fmt.Errorf("a saw user-connected %q, want %q", joined, b.id)
	}

	offer, answer, err := offerAnswer()
	if err != nil {
		return err
	}

	if err := a.send(protocol.TypeSignal, map[string]any{"target": b.id, "signal": offer}); err != nil {
		return err
	}
	var gotOffer struct {
		Signal webrtc.SessionDescription `json:"signal"`
		From   string                    `json:"from"`
	}
	if err := b.expect(protocol.TypeSignal, timeout, &gotOffer); err != nil {
		return err
	}
	if gotOffer.From != a.id || gotOffer.Signal.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("b got signal from=%q type=%s", gotOffer.From, gotOffer.Signal.Type)
	}

	if err := b.send(protocol.TypeSignal, map[string]any{"target": a.id, "signal": answer}); err != nil {
		return err
	}
	var gotAnswer struct {
		Signal webrtc.SessionDescription `json:"signal"`
		From   string                    `json:"from"`
	}
	if err := a.expect(protocol.TypeSignal, timeout, &gotAnswer); err != nil {
		return err
	}
	if gotAnswer.From != b.id || gotAnswer.Signal.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("a got signal from=%q type=%s", gotAnswer.From, gotAnswer.Signal.Type)
	}

	if err := a.send(protocol.TypeChat, protocol.Chat{Message: "hello", Username: "a"}); err != nil {
		return err
	}
	var chat protocol.Chat
	if err := b.expect(protocol.TypeChat, timeout, &chat); err != nil {
		return err
	}
	if chat.Message != "hello" {
		return fmt.Errorf("b got chat %+v", chat)
	}

	if err := a.send(protocol.TypeGetRoomInfo, nil); err != nil {
		return err
	}
	var info map[string][]string
	if err := a.expect(protocol.TypeRoomInfo, timeout, &info); err != nil {
		return err
	}
	if len(info[room]) != 2 {
		return fmt.Errorf("room-info for %q = %v, want two members", room, info[room])
	}

	if err := b.send(protocol.TypeLeaveRoom, nil); err != nil {
		return err
	}
	var left string
	if err := a.expect(protocol.TypeUserDisconnected, timeout, &left); err != nil {
		return err
	}
	if left != b.id {
		return fmt.Errorf("a saw user-disconnected %q, want %q", left, b.id)
	}
	return nil
}

func dial(name, url, origin string, timeout time.Duration) (*client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{protocol.SubprotocolJSON},
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, resp, err := dialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%s: dial %s: %w (status %d)", name, url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: dial %s: %w", name, url, err)
	}

	c := &client{name: name, ws: ws}
	var welcome protocol.Welcome
	if err := c.expect(protocol.TypeWelcome, timeout, &welcome); err != nil {
		ws.Close()
		return nil, err
	}
	if welcome.ID == "" {
		ws.Close()
		return nil, errors.New(name + ": empty welcome id")
	}
	c.id = welcome.ID
	return c, nil
}

func (c *client) send(typ protocol.Type, data any) error {
	env := envelope{Type: string(typ)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = raw
	}
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("%s: send %s: %w", c.name, typ, err)
	}
	return nil
}

func (c *client) expect(typ protocol.Type, timeout time.Duration, out any) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	var env envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return fmt.Errorf("%s: waiting for %s: %w", c.name, typ, err)
	}
	if env.Type != string(typ) {
		return fmt.Errorf("%s: got %s (%s), want %s", c.name, env.Type, env.Data, typ)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, typ, err)
	}
	return nil
}

// offerAnswer builds a genuine offer and answer without gathering candidates,
// so the smoke run needs no network beyond the relay itself.
func offerAnswer() (offer, answer webrtc.SessionDescription, err error) {
	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return offer, answer, err
	}
	defer offerer.Close()
	if _, err = offerer.CreateDataChannel("e2e", nil); err != nil {
		return offer, answer, err
	}
	if offer, err = offerer.CreateOffer(nil); err != nil {
		return offer, answer, err
	}

	answerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return offer, answer, err
	}
	defer answerer.Close()
	if err = answerer.SetRemoteDescription(offer); err != nil {
		return offer, answer, err
	}
	answer, err = answerer.CreateAnswer(nil)
	return offer, answer, err
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
