package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed     = errors.New("malformed envelope")
	ErrUnknownType   = errors.New("unknown envelope type")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidStatus = errors.New("invalid agent status")
)

// Inbound is a decoded client frame. The set of implementations is closed:
// Join, Subscribe, ChatMessage, Typing, TypingStop, Read and AgentStatus.
type Inbound interface {
	inbound()
}

// Join declares who the remote end claims to be.
type Join struct {
	VisitorID  string
	ClientType string // ClientAdmin or ClientVisitor
	SenderName string
}

// WantsStaff reports whether the join claims staff status.
func (j Join) WantsStaff() bool { return j.ClientType == ClientAdmin }

// Subscribe moves the connection into a conversation.
type Subscribe struct {
	ConversationID string
}

// ChatMessage is a message posted into a conversation.
type ChatMessage struct {
	ConversationID string
	MessageID      string
	Content        string
	SenderID       string
	SenderType     string
	SenderName     string
}

// Typing signals that the sender started typing.
type Typing struct {
	ConversationID string
	SenderID       string
	SenderType     string
	SenderName     string
}

// TypingStop signals that the sender stopped typing.
type TypingStop struct {
	ConversationID string
	SenderID       string
	SenderType     string
	SenderName     string
}

// Read is a read receipt for a message.
type Read struct {
	ConversationID string
	MessageID      string
	SenderID       string
}

// AgentStatus is a presence change. The claimed sender fields are carried
// for logging only and are never relayed.
type AgentStatus struct {
	Status          string
	StatusMessage   string
	ClaimedSenderID string
	ClaimedName     string
}

func (Join) inbound()        {}
func (Subscribe) inbound()   {}
func (ChatMessage) inbound() {}
func (Typing) inbound()      {}
func (TypingStop) inbound()  {}
func (Read) inbound()        {}
func (AgentStatus) inbound() {}

// Decode parses a client frame into its Inbound variant. Errors wrap
// ErrMalformed, ErrUnknownType, ErrMissingField or ErrInvalidStatus.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeJoin:
		return Join{VisitorID: env.VisitorID, ClientType: env.ClientType, SenderName: env.SenderName}, nil

	case TypeSubscribe:
		if env.ConversationID == "" {
			return nil, missing(env.Type, "conversationId")
		}
		return Subscribe{ConversationID: env.ConversationID}, nil

	case TypeMessage:
		if env.ConversationID == "" {
			return nil, missing(env.Type, "conversationId")
		}
		return ChatMessage{
			ConversationID: env.ConversationID,
			MessageID:      env.MessageID,
			Content:        env.Content,
			SenderID:       env.SenderID,
			SenderType:     env.SenderType,
			SenderName:     env.SenderName,
		}, nil

	case TypeTyping, TypeTypingStop:
		if env.ConversationID == "" {
			return nil, missing(env.Type, "conversationId")
		}
		if env.Type == TypeTyping {
			return Typing{env.ConversationID, env.SenderID, env.SenderType, env.SenderName}, nil
		}
		return TypingStop{env.ConversationID, env.SenderID, env.SenderType, env.SenderName}, nil

	case TypeRead:
		if env.ConversationID == "" {
			return nil, missing(env.Type, "conversationId")
		}
		return Read{ConversationID: env.ConversationID, MessageID: env.MessageID, SenderID: env.SenderID}, nil

	case TypeAgentStatus:
		if !ValidAgentStatus(env.AgentStatus) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, env.AgentStatus)
		}
		return AgentStatus{
			Status:          env.AgentStatus,
			StatusMessage:   env.StatusMessage,
			ClaimedSenderID: env.SenderID,
			ClaimedName:     env.SenderName,
		}, nil

	case "":
		return nil, missing("envelope", "type")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func missing(msgType, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingField, msgType, field)
}
