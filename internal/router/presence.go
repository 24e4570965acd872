package router

import (
	"github.com/eventdesk/chatrelay/internal/metrics"
	"github.com/eventdesk/chatrelay/pkg/protocol"
)

// handleAgentStatus relays a presence change from a staff connection using
// the identity verified at accept time. Claimed sender fields are ignored.
func (r *Router) handleAgentStatus(c *clientConn, m protocol.AgentStatus) {
	st, ok := c.verifiedStaff()
	if !ok || st.UserID == "" {
		metrics.DroppedEnvelopes.WithLabelValues(metrics.ReasonForbidden).Inc()
		r.logger.Warn("agent_status from non-staff connection dropped",
			"conn_id", c.id, "claimed_sender_id", m.ClaimedSenderID)
		return
	}
	r.broadcastAll(protocol.AgentStatusEvent(st.UserID, st.DisplayName, m.Status, m.StatusMessage))
}

// BroadcastAgentStatus announces a presence change made outside the socket,
// e.g. through the HTTP API. The caller is trusted.
func (r *Router) BroadcastAgentStatus(userID, userName, status, statusMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastAll(protocol.AgentStatusEvent(userID, userName, status, statusMessage))
}

// broadcastAll queues env to every open connection. Must be called with mu held.
func (r *Router) broadcastAll(env protocol.Envelope) {
	data := r.encode(env)
	r.reg.each(func(c *clientConn) {
		r.deliver(c, data, env.Type)
	})
}
