package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/eventdesk/chatrelay/internal/store"
	"github.com/eventdesk/chatrelay/pkg/protocol"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.ListAgentStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if statuses == nil {
		statuses = []store.AgentStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleSetAgentStatus records the caller's presence and announces it on
// every open chat connection.
func (s *Server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Status        string `json:"status"`
		StatusMessage string `json:"statusMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !protocol.ValidAgentStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "status must be online, away or offline")
		return
	}

	status := &store.AgentStatus{
		UserID:        identity.UserID,
		DisplayName:   identity.DisplayName,
		Status:        req.Status,
		StatusMessage: req.StatusMessage,
		UpdatedAt:     time.Now(),
	}
	if err := s.store.SetAgentStatus(r.Context(), status); err != nil {
		s.logger.Error("set agent status", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set status")
		return
	}

	s.relay.BroadcastAgentStatus(identity.UserID, identity.DisplayName, req.Status, req.StatusMessage)
	writeJSON(w, http.StatusOK, status)
}
