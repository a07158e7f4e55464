package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castellanhq/castellan/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsRequest is one inbound chat message on a WebSocket session. The
// user is bound at upgrade time via the user_id query parameter.
type wsRequest struct {
	Message string `json:"message"`
}

// handleChatWS serves chat over a WebSocket. Each inbound message
// produces the same event sequence as the SSE endpoint: one routing
// event, token events, then a done event. The connection stays open
// for further messages until the client closes it.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket session opened", "user_id", userID)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "user_id", userID)
			} else {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		if req.Message == "" {
			if err := conn.WriteJSON(map[string]string{"type": "error", "message": "message is required"}); err != nil {
				return
			}
			continue
		}

		for event := range s.orch.HandleStream(r.Context(), userID, req.Message) {
			conn.SetWriteDeadline(time.Now().Add(120 * time.Second))

			if event.Type == orchestrator.EventError {
				s.logger.Error("websocket chat failed", "error", event.Err)
				if err := conn.WriteJSON(map[string]string{"type": "error", "message": "chat failed"}); err != nil {
					return
				}
				break
			}
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Warn("websocket write error", "error", err)
				return
			}
		}
	}
}
