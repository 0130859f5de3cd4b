package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
)

const wsWriteWait = 10 * time.Second

// conn is one signaling socket. It implements hub.Peer.
type conn struct {
	srv     *Server
	ws      *websocket.Conn
	id      string
	codec   protocol.Codec
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.TokenBucket

	send chan protocol.Outbound
	// done is closed once the connection starts shutting down. send is never
	// closed, so Send is safe from any goroutine at any time.
	done      chan struct{}
	closeOnce sync.Once

	closeCode   int
	closeReason string
}

var _ hub.Peer = (*conn)(nil)

func newConn(s *Server, ws *websocket.Conn, id string, codec protocol.Codec) *conn {
	return &conn{
		srv:     s,
		ws:      ws,
		id:      id,
		codec:   codec,
		log:     s.log.With("conn_id", id),
		metrics: s.cfg.Metrics,
		limiter: ratelimit.NewTokenBucket(s.cfg.Clock, s.cfg.MaxMessagesPerSecond, s.cfg.MaxMessagesPerSecond),
		send:    make(chan protocol.Outbound, s.cfg.SendQueueLength),
		done:    make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Send enqueues msg without blocking. A full queue drops the message.
func (c *conn) Send(msg protocol.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.metrics.Inc(metrics.DropReasonSendQueueFull)
		c.log.Warn("send queue full, dropping message", "type", msg.OutboundType())
		return false
	}
}

// closeWith starts shutdown. The writer sends a close frame with code and
// reason, then closes the socket. Only the first call has any effect.
func (c *conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *conn) readPump(sess *hub.Session) {
	c.ws.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	idle := c.srv.cfg.IdleTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	wantType := websocket.TextMessage
	if c.codec.Binary() {
		wantType = websocket.BinaryMessage
	}

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.metrics.Inc(metrics.DropReasonTooLarge)
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				c.log.Debug("closing idle connection")
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Debug("read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))

		// The message is read before the limit is applied so the close frame is
		// not lost to an abortive close over unread data.
		if !c.limiter.Allow() {
			c.metrics.Inc(metrics.DropReasonRateLimited)
			c.log.Warn("closing connection over message rate limit")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != wantType {
			c.metrics.Inc(metrics.DropReasonWrongFrameType)
			c.log.Debug("ignoring frame of wrong type", "frame_type", msgType)
			continue
		}

		ev, err := c.codec.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				c.metrics.Inc(metrics.EventsUnknownType)
			} else {
				c.metrics.Inc(metrics.EventsMalformed)
			}
			c.log.Debug("ignoring inbound message", "err", err)
			continue
		}
		c.srv.cfg.Hub.Dispatch(sess, ev)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case msg := <-c.send:
			frame, err := c.codec.Encode(msg)
			if err != nil {
				c.log.Error("failed to encode outbound message", "type", msg.OutboundType(), "err", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(frameType, frame); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(wsWriteWait))
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
