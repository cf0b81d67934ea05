package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"bridgebot/internal/bridge"
	"bridgebot/internal/logging"

	"github.com/google/uuid"
)

const maxRequestBytes = 1 << 20

type messageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
	Stream         bool   `json:"stream,omitempty"`
}

type messageResponse struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type doneEvent struct {
	ConversationID string `json:"conversation_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func conversationOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		logging.Get(logging.CategoryServer).Warn("bad message request from %s: %v", r.RemoteAddr, err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	in := bridge.Inbound{
		ConversationID: conversationOrNew(req.ConversationID),
		Text:           req.Text,
		Stream:         req.Stream,
	}
	seq := s.dispatcher.Handle(r.Context(), in)

	if !req.Stream {
		text := bridge.Transcript(seq)
		writeJSON(w, http.StatusOK, messageResponse{ConversationID: in.ConversationID, Text: text})
		return
	}

	writer, err := startSSEWriter(w)
	if err != nil {
		logging.ServerError("sse unavailable: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unavailable"})
		return
	}
	runSSEStream(r, writer, sseStreamConfig{
		Output:            pump(r.Context(), seq),
		HeartbeatInterval: s.heartbeat,
		Done:              doneEvent{ConversationID: in.ConversationID},
	})
}
