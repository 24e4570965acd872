package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventdesk/chatrelay/internal/store"
	"github.com/eventdesk/chatrelay/pkg/protocol"
)

const maxContentBytes = 16 * 1024

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		VisitorID   string `json:"visitorId"`
		VisitorName string `json:"visitorName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VisitorID == "" {
		req.VisitorID = uuid.New().String()
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:          uuid.New().String(),
		VisitorID:   req.VisitorID,
		VisitorName: req.VisitorName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	s.logger.Info("conversation created", "conversation_id", conv.ID, "visitor_id", conv.VisitorID)

	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	convs, err := s.store.ListConversations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	limit := queryInt(r, "limit", 100, 500)
	afterSeq := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			afterSeq = n
		}
	}

	messages, err := s.store.GetMessages(r.Context(), conversationID, afterSeq, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// handlePostMessage persists a message and hands it to the relay. A request
// carrying a staff session posts as that agent; anything else posts as the
// conversation's visitor.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Content    string `json:"content"`
		SenderID   string `json:"senderId"`
		SenderName string `json:"senderName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" || len(req.Content) > maxContentBytes {
		writeError(w, http.StatusBadRequest, "content must be 1-16384 bytes")
		return
	}

	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if identity := getIdentityFromContext(r.Context()); identity.IsStaff() {
		msg.SenderID = identity.UserID
		msg.SenderName = identity.DisplayName
		msg.SenderType = protocol.SenderAgent
	} else {
		msg.SenderID = req.SenderID
		if msg.SenderID == "" {
			msg.SenderID = conv.VisitorID
		}
		msg.SenderName = req.SenderName
		if msg.SenderName == "" {
			msg.SenderName = conv.VisitorName
		}
		msg.SenderType = protocol.SenderVisitor
	}

	seq, err := s.store.AppendMessage(r.Context(), msg)
	if err != nil {
		s.logger.Error("append message", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	msg.Seq = seq
	if err := s.store.TouchConversation(r.Context(), conversationID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch conversation", "conversation_id", conversationID, "error", err)
	}

	s.relay.BroadcastMessage(protocol.MessageEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		SenderType:     msg.SenderType,
		SenderName:     msg.SenderName,
	})

	writeJSON(w, http.StatusCreated, msg)
}

// queryInt parses a positive integer query parameter, clamped to ceiling.
func queryInt(r *http.Request, key string, def, ceiling int) int {
	n := def
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if n > ceiling {
		n = ceiling
	}
	return n
}
