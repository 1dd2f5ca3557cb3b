package hub

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendQueueSize = 256
)

// Client owns one live WebSocket connection. The read pump forwards raw
// frames into the hub's event loop; the write pump drains the buffered
// send channel. The hub loop is the only goroutine that sends on or
// closes the send channel.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	addr      string
	limiter   *rateLimiter

	// Set by the hub loop before it closes send; read by the write pump
	// only after the channel close, so no lock is needed.
	closeCode int
	closeText string
}

func newClient(h *Hub, conn *websocket.Conn, sessionID, addr string) *Client {
	conn.SetReadLimit(h.maxMessageSize)
	return &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		sessionID: sessionID,
		addr:      addr,
		limiter:   newRateLimiter(h.rateBurst, h.rateRefill),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.post(hubEvent{kind: eventDisconnect, sessionID: c.sessionID})
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			slog.Debug("rate limit exceeded, frame dropped", "addr", c.addr)
			continue
		}

		c.hub.post(hubEvent{kind: eventFrame, sessionID: c.sessionID, raw: raw})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, c.closeText))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					slog.Debug("write failed", "addr", c.addr, "err", err)
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closePolicyViolation closes the connection with the policy-violation
// close code, distinguishable by the client from a normal closure. Only
// safe before the pumps have started; once the write pump owns the
// connection, set closeCode and close the send channel instead.
func (c *Client) closePolicyViolation(reason string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	_ = c.conn.Close()
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("frame exceeded maximum size", "addr", c.addr)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		slog.Debug("client disconnected", "addr", c.addr)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		slog.Debug("connection closed", "addr", c.addr)
	default:
		slog.Warn("websocket read error", "addr", c.addr, "err", err)
	}
}

// isExpectedCloseError reports whether an error is routine noise from a
// connection being torn down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
