package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write to a peer.
const writeWait = 10 * time.Second

// Principal is who a connection was verified to be at accept time. The set
// of implementations is closed: Anonymous and Staff.
type Principal interface {
	principal()
}

// Anonymous is any connection without a verified staff session. Visitors and
// signed-in non-staff users both land here.
type Anonymous struct{}

// Staff is a connection whose session cookie resolved to an admin or agent.
type Staff struct {
	UserID      string
	DisplayName string
}

func (Anonymous) principal() {}
func (Staff) principal()     {}

// clientConn is one open WebSocket. principal and sessionValidated are fixed
// at accept time; the remaining mutable fields are guarded by Router.mu.
type clientConn struct {
	id               string
	principal        Principal
	sessionValidated bool

	visitorID            string
	visitorName          string
	asStaff              bool
	activeConversationID string
	closed               bool

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	limiter tokenBucket
}

func newClientConn(id string, p Principal, validated bool, queue int) *clientConn {
	_, staff := p.(Staff)
	return &clientConn{
		id:               id,
		principal:        p,
		sessionValidated: validated,
		asStaff:          staff,
		send:             make(chan []byte, queue),
		done:             make(chan struct{}),
	}
}

// verifiedStaff returns the staff identity when the connection is currently
// acting as staff on a validated session.
func (c *clientConn) verifiedStaff() (Staff, bool) {
	st, ok := c.principal.(Staff)
	if !ok || !c.sessionValidated || !c.asStaff {
		return Staff{}, false
	}
	return st, true
}

// IsStaff reports whether the connection may perform staff actions.
func (c *clientConn) IsStaff() bool {
	_, ok := c.verifiedStaff()
	return ok
}

// enqueue queues a frame without blocking. It reports false when the frame
// was dropped because the queue is full or the connection is closed.
func (c *clientConn) enqueue(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown stops the write pump. Safe to call more than once.
func (c *clientConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// writePump drains the send queue to the socket until the connection is shut down.
func (c *clientConn) writePump(logger *slog.Logger) {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("write failed, closing connection", "conn_id", c.id, "error", err)
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// tokenBucket limits inbound envelopes per connection. Only the read loop
// touches it.
type tokenBucket struct {
	rate, burst float64
	tokens      float64
	last        time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	if b.last.IsZero() {
		b.tokens = b.burst
		b.last = now
	}

	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
