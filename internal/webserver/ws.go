package webserver

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zsprackett/cursor-balance/internal/messages"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS answers each Message frame with a Reply frame, in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	for {
		var m messages.Message
		if err := conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		reply := s.dispatcher.Handle(r.Context(), m)
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Debug("websocket write failed", "err", err)
			return
		}
	}
}
