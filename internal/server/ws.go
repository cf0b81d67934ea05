package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bridgebot/internal/bridge"
	"bridgebot/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 1 << 20
)

// wsInbound is one client frame. Stream defaults to true on websockets.
type wsInbound struct {
	Text   string `json:"text"`
	Stream *bool  `json:"stream,omitempty"`
}

// wsFrame is one server frame: "fragment", "done" or "error".
type wsFrame struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Fragment       *bridge.Fragment `json:"fragment,omitempty"`
	Message        string           `json:"message,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.allowedOrigins)
		},
	}
}

// handleWebSocket serves one conversation per connection. Messages are handled in the
// order received; each message's fragments are followed by a "done" frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Get(logging.CategoryServer).Warn("websocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	conversationID := conversationOrNew(r.URL.Query().Get("conversation_id"))
	logging.Server("websocket open: conversation=%s remote=%s", conversationID, r.RemoteAddr)
	defer logging.Server("websocket closed: conversation=%s", conversationID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.ServerDebug("websocket read ended: %v", err)
			}
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			if err := writeFrame(conn, wsFrame{Type: "error", Message: "invalid frame: expected {\"text\": ...}"}); err != nil {
				return
			}
			continue
		}

		stream := true
		if in.Stream != nil {
			stream = *in.Stream
		}
		seq := s.dispatcher.Handle(r.Context(), bridge.Inbound{ConversationID: conversationID, Text: in.Text, Stream: stream})
		for f := range seq {
			if err := writeFrame(conn, wsFrame{Type: "fragment", Fragment: &f}); err != nil {
				return
			}
		}
		if err := writeFrame(conn, wsFrame{Type: "done", ConversationID: conversationID}); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}

	if len(allowed) > 0 {
		for _, allowedOrigin := range allowed {
			if allowedOrigin == "*" || strings.EqualFold(origin, allowedOrigin) || strings.EqualFold(originHost, allowedOrigin) {
				return true
			}
		}
		return false
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.EqualFold(originHost, strings.Trim(host, "[]"))
}
