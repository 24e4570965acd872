// Package router is the chat relay: it accepts WebSocket connections from
// visitors and staff dashboards, tracks which conversation each connection is
// viewing, and fans chat, typing, read and presence frames out to the right
// peers. It holds no durable state.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eventdesk/chatrelay/internal/auth"
	"github.com/eventdesk/chatrelay/internal/metrics"
	"github.com/eventdesk/chatrelay/pkg/protocol"
)

// adminAuthRequired is sent back when a connection claims staff without a staff session.
const adminAuthRequired = "Authentication required for admin access"

// SessionResolver resolves the raw Cookie header of an upgrade request.
type SessionResolver interface {
	ResolveSession(ctx context.Context, cookieHeader string) (*auth.Identity, error)
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Options configures the Router.
type Options struct {
	AllowedOrigins  []string      // for WebSocket origin check
	MaxMessageBytes int64         // max inbound frame size (default 64KB)
	SendQueue       int           // per-connection outbound buffer (default 256)
	PingInterval    time.Duration // default 30s
	PongWait        time.Duration // default 60s
	MessageRate     float64       // inbound envelopes per second (default 30)
	MessageBurst    float64       // inbound burst (default 50)
}

// Router owns the connection registry and the subscription index. Every
// mutation of either, and the queueing of the frames it causes, happens
// under mu, so frames for one conversation leave in processing order.
type Router struct {
	sessions SessionResolver
	logger   *slog.Logger
	upgrader websocket.Upgrader
	opts     Options

	mu      sync.Mutex
	reg     *registry
	index   *subscriptionIndex
	closing bool
}

// New creates a new Router.
func New(sessions SessionResolver, logger *slog.Logger, opts Options) *Router {
	if opts.MaxMessageBytes == 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if opts.SendQueue == 0 {
		opts.SendQueue = 256
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongWait == 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.MessageRate == 0 {
		opts.MessageRate = 30
	}
	if opts.MessageBurst == 0 {
		opts.MessageBurst = 50
	}

	return &Router{
		sessions: sessions,
		logger:   logger.With("component", "router"),
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
		reg:      newRegistry(),
		index:    newSubscriptionIndex(),
	}
}

// HandleWS accepts a chat connection. The session cookie is resolved once,
// before the upgrade completes, and fixes the connection's principal for its
// whole lifetime.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	principal, validated := r.resolvePrincipal(req)

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	ws.SetReadLimit(r.opts.MaxMessageBytes)

	c := newClientConn(newConnID(), principal, validated, r.opts.SendQueue)
	c.ws = ws
	c.limiter = tokenBucket{rate: r.opts.MessageRate, burst: r.opts.MessageBurst}

	if !r.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer r.unregister(c.id)

	go c.writePump(r.logger)
	cancel := startWSKeepalive(ws, r.opts.PingInterval, r.opts.PongWait)
	defer cancel()

	_, staff := principal.(Staff)
	r.logger.Info("client connected", "conn_id", c.id, "session_validated", validated, "staff", staff)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			r.logger.Debug("client read error", "conn_id", c.id, "error", err)
			return
		}

		if !c.limiter.allow(time.Now()) {
			metrics.DroppedEnvelopes.WithLabelValues(metrics.ReasonRateLimited).Inc()
			r.logger.Debug("client message rate limited", "conn_id", c.id)
			continue
		}

		r.handleFrame(c, data)
	}
}

// resolvePrincipal runs the session authenticator against the upgrade request.
// Any failure yields an anonymous, unvalidated principal.
func (r *Router) resolvePrincipal(req *http.Request) (Principal, bool) {
	cookieHeader := strings.Join(req.Header.Values("Cookie"), "; ")

	id, err := r.sessions.ResolveSession(req.Context(), cookieHeader)
	switch {
	case errors.Is(err, auth.ErrNoSession):
		metrics.AuthOutcomes.WithLabelValues(metrics.AuthAnonymous).Inc()
		return Anonymous{}, false
	case err != nil || id == nil:
		metrics.AuthOutcomes.WithLabelValues(metrics.AuthError).Inc()
		if err != nil && !errors.Is(err, auth.ErrUnauthorized) {
			r.logger.Warn("session lookup failed", "error", err)
		}
		return Anonymous{}, false
	case id.IsStaff():
		metrics.AuthOutcomes.WithLabelValues(metrics.AuthStaff).Inc()
		return Staff{UserID: id.UserID, DisplayName: id.DisplayName}, true
	default:
		metrics.AuthOutcomes.WithLabelValues(metrics.AuthNonStaff).Inc()
		return Anonymous{}, true
	}
}

func newConnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// register inserts c and queues its handshake frame. It returns false once
// Shutdown has started.
func (r *Router) register(c *clientConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.reg.insert(c)
	metrics.OpenConnections.Inc()
	r.deliver(c, r.encode(protocol.Connected(c.id)), protocol.TypeConnected)
	return true
}

// unregister removes a connection and its subscription. Unknown ids are a no-op.
func (r *Router) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.reg.lookup(id)
	if !ok {
		return
	}
	if c.activeConversationID != "" {
		r.index.unsubscribe(c, c.activeConversationID)
	}
	r.reg.remove(id)
	c.closed = true
	c.shutdown()
	metrics.OpenConnections.Dec()
	r.logger.Info("client disconnected", "conn_id", id)
}

// handleFrame decodes one inbound frame and dispatches it. Decode failures
// are logged and dropped; the connection stays open.
func (r *Router) handleFrame(c *clientConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		reason := metrics.ReasonInvalid
		switch {
		case errors.Is(err, protocol.ErrMalformed):
			reason = metrics.ReasonMalformed
		case errors.Is(err, protocol.ErrUnknownType):
			reason = metrics.ReasonUnknownType
		}
		metrics.DroppedEnvelopes.WithLabelValues(reason).Inc()
		r.logger.Warn("invalid envelope from client", "conn_id", c.id, "error", err)
		return
	}
	r.dispatch(c, msg)
}

// dispatch applies one decoded envelope. The whole handler runs under mu.
func (r *Router) dispatch(c *clientConn, msg protocol.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeJoin).Inc()
		r.handleJoin(c, m)

	case protocol.Subscribe:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeSubscribe).Inc()
		r.index.subscribe(c, m.ConversationID)
		r.logger.Debug("subscribed", "conn_id", c.id, "conversation_id", m.ConversationID)

	case protocol.ChatMessage:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeMessage).Inc()
		r.handleMessage(c, m)

	case protocol.Typing:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeTyping).Inc()
		id, typ, name := r.sender(c, m.SenderID, m.SenderName)
		r.fanOut(m.ConversationID, c.id, protocol.TypingEvent(m.ConversationID, id, typ, name))

	case protocol.TypingStop:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeTypingStop).Inc()
		id, typ, name := r.sender(c, m.SenderID, m.SenderName)
		r.fanOut(m.ConversationID, c.id, protocol.TypingStopEvent(m.ConversationID, id, typ, name))

	case protocol.Read:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeRead).Inc()
		id, _, _ := r.sender(c, m.SenderID, "")
		r.fanOut(m.ConversationID, c.id, protocol.ReadEvent(m.ConversationID, m.MessageID, id))

	case protocol.AgentStatus:
		metrics.EnvelopesReceived.WithLabelValues(protocol.TypeAgentStatus).Inc()
		r.handleAgentStatus(c, m)

	default:
		r.logger.Warn("unhandled envelope", "conn_id", c.id, "type", fmt.Sprintf("%T", msg))
	}
}

func (r *Router) handleJoin(c *clientConn, m protocol.Join) {
	if !m.WantsStaff() {
		if m.VisitorID != "" {
			c.visitorID = m.VisitorID
		}
		if m.SenderName != "" {
			c.visitorName = m.SenderName
		}
		c.asStaff = false
		return
	}

	if st, ok := c.principal.(Staff); ok && c.sessionValidated {
		c.asStaff = true
		r.logger.Info("staff joined", "conn_id", c.id, "user_id", st.UserID)
		return
	}

	c.asStaff = false
	metrics.DroppedEnvelopes.WithLabelValues(metrics.ReasonForbidden).Inc()
	r.logger.Warn("staff join rejected", "conn_id", c.id, "session_validated", c.sessionValidated)
	r.deliver(c, r.encode(protocol.Error(adminAuthRequired)), protocol.TypeError)
}

func (r *Router) handleMessage(c *clientConn, m protocol.ChatMessage) {
	id, typ, name := r.sender(c, m.SenderID, m.SenderName)
	ev := protocol.MessageEvent{
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		Content:        m.Content,
		SenderID:       id,
		SenderType:     typ,
		SenderName:     name,
	}
	if ev.MessageID == "" {
		ev.MessageID = uuid.New().String()
	}

	r.fanOut(m.ConversationID, c.id, protocol.Message(ev))
	r.notifyStaff(c.id, ev)
}

// sender picks the identity stamped on a relayed frame: the verified staff
// identity when the connection is acting as staff, the claimed one otherwise.
func (r *Router) sender(c *clientConn, claimedID, claimedName string) (id, senderType, name string) {
	if st, ok := c.verifiedStaff(); ok {
		return st.UserID, protocol.SenderAgent, st.DisplayName
	}
	id, name = claimedID, claimedName
	if id == "" {
		id = c.visitorID
	}
	if name == "" {
		name = c.visitorName
	}
	return id, protocol.SenderVisitor, name
}

// BroadcastMessage relays a message persisted by server-side code to every
// subscriber of its conversation and notifies all staff connections.
func (r *Router) BroadcastMessage(ev protocol.MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanOut(ev.ConversationID, "", protocol.Message(ev))
	r.notifyStaff("", ev)
}

// fanOut queues env to every subscriber of conversationID except exceptID.
// Must be called with mu held.
func (r *Router) fanOut(conversationID, exceptID string, env protocol.Envelope) {
	ids := r.index.subscribersOf(conversationID)
	if len(ids) == 0 {
		return
	}
	data := r.encode(env)
	for _, id := range ids {
		if id == exceptID {
			continue
		}
		if c, ok := r.reg.lookup(id); ok {
			r.deliver(c, data, env.Type)
		}
	}
}

// notifyStaff queues a message notification to every staff connection except
// exceptID, whether or not it is viewing the conversation. Must be called
// with mu held.
func (r *Router) notifyStaff(exceptID string, ev protocol.MessageEvent) {
	var data []byte
	r.reg.each(func(c *clientConn) {
		if c.id == exceptID || !c.IsStaff() {
			return
		}
		if data == nil {
			data = r.encode(protocol.MessageNotification(ev))
		}
		r.deliver(c, data, protocol.TypeMessageNotification)
	})
}

// deliver queues one frame; a full or closed queue drops it.
func (r *Router) deliver(c *clientConn, data []byte, frameType string) {
	if data == nil {
		return
	}
	if !c.enqueue(data) {
		metrics.DroppedSends.Inc()
		r.logger.Debug("send queue full, frame dropped", "conn_id", c.id, "type", frameType)
		return
	}
	metrics.FramesSent.WithLabelValues(frameType).Inc()
}

func (r *Router) encode(env protocol.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Warn("marshal error", "type", env.Type, "error", err)
		return nil
	}
	return data
}

// ConnCount returns the number of registered connections.
func (r *Router) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.len()
}

// SubscribersOf returns the ids of the connections viewing conversationID.
func (r *Router) SubscribersOf(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.subscribersOf(conversationID)
}

// Shutdown closes every connection with a going-away frame and waits for
// their handlers to unregister, or for ctx to end.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	var conns []*clientConn
	r.reg.each(func(c *clientConn) { conns = append(conns, c) })
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.ConnCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
