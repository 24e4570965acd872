// Package protocol defines the wire protocol spoken on the chat relay's
// WebSocket endpoint between site visitors, staff dashboards and the relay.
//
// Every frame is a single JSON object. The "type" field determines which of
// the remaining fields are meaningful; inbound frames are decoded once into
// the closed Inbound variant set (see Decode) and outbound frames are built
// with the constructors in this file, which always stamp a server timestamp.
package protocol

import (
	"time"
	"unicode/utf8"
)

// Envelope is the top-level wire format for all frames in both directions.
type Envelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	Content        string `json:"content,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	SenderType     string `json:"senderType,omitempty"`
	SenderName     string `json:"senderName,omitempty"`
	VisitorID      string `json:"visitorId,omitempty"`
	AgentStatus    string `json:"agentStatus,omitempty"`
	StatusMessage  string `json:"statusMessage,omitempty"`
	ClientType     string `json:"clientType,omitempty"` // only meaningful on "join"

	// Server-originated only.
	Timestamp string `json:"timestamp,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Frame types shared by both directions.
const (
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeTypingStop  = "typing_stop"
	TypeRead        = "read"
	TypeAgentStatus = "agent_status"
)

// Client -> relay only.
const (
	TypeJoin      = "join"
	TypeSubscribe = "subscribe"
)

// Relay -> client only.
const (
	TypeConnected           = "connected"
	TypeError               = "error"
	TypeMessageNotification = "new_message_notification"
)

// Client types carried on "join".
const (
	ClientAdmin   = "admin"
	ClientVisitor = "visitor"
)

// Sender types stamped on relayed messages.
const (
	SenderVisitor = "visitor"
	SenderAgent   = "agent"
)

// Agent presence states.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// ValidAgentStatus reports whether s is a known presence state.
func ValidAgentStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// previewRunes is the maximum length of a staff notification preview.
const previewRunes = 100

// Preview truncates content for the staff notification badge.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "…"
}

// Now returns the server timestamp format used on every outbound frame.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// --- Outbound frames ---

// Connected is the handshake frame sent to a freshly registered connection.
func Connected(clientID string) Envelope {
	return Envelope{Type: TypeConnected, ClientID: clientID, Timestamp: Now()}
}

// Error carries a human-readable error back to a single connection.
func Error(msg string) Envelope {
	return Envelope{Type: TypeError, Message: msg, Timestamp: Now()}
}

// MessageEvent is a chat message as relayed to conversation subscribers.
type MessageEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Content        string `json:"content"`
	SenderID       string `json:"senderId,omitempty"`
	SenderType     string `json:"senderType"`
	SenderName     string `json:"senderName,omitempty"`
}

// Message builds the "message" frame for ev.
func Message(ev MessageEvent) Envelope {
	return Envelope{
		Type:           TypeMessage,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Content:        ev.Content,
		SenderID:       ev.SenderID,
		SenderType:     ev.SenderType,
		SenderName:     ev.SenderName,
		Timestamp:      Now(),
	}
}

// MessageNotification builds the lightweight staff badge frame for ev.
func MessageNotification(ev MessageEvent) Envelope {
	return Envelope{
		Type:           TypeMessageNotification,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Content:        Preview(ev.Content),
		SenderType:     ev.SenderType,
		SenderName:     ev.SenderName,
		Timestamp:      Now(),
	}
}

// TypingEvent builds a "typing" frame.
func TypingEvent(conversationID, senderID, senderType, senderName string) Envelope {
	return Envelope{
		Type:           TypeTyping,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     senderType,
		SenderName:     senderName,
		Timestamp:      Now(),
	}
}

// TypingStopEvent builds a "typing_stop" frame.
func TypingStopEvent(conversationID, senderID, senderType, senderName string) Envelope {
	env := TypingEvent(conversationID, senderID, senderType, senderName)
	env.Type = TypeTypingStop
	return env
}

// ReadEvent builds a "read" receipt frame.
func ReadEvent(conversationID, messageID, senderID string) Envelope {
	return Envelope{
		Type:           TypeRead,
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderID:       senderID,
		Timestamp:      Now(),
	}
}

// AgentStatusEvent builds the presence frame broadcast to every connection.
func AgentStatusEvent(userID, userName, status, statusMessage string) Envelope {
	return Envelope{
		Type:          TypeAgentStatus,
		SenderID:      userID,
		SenderName:    userName,
		SenderType:    SenderAgent,
		AgentStatus:   status,
		StatusMessage: statusMessage,
		Timestamp:     Now(),
	}
}
