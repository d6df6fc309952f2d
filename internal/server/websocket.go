package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // deployed behind a trusted reverse proxy
	},
}

// wsIncoming is a control message from the client: stdin for the running
// script or a kill request.
type wsIncoming struct {
	Type string `json:"type"` // "input" or "kill"
	Text string `json:"text"`
}

// handleEvents upgrades the connection and forwards every bus event to the
// client until it disconnects. Clients may also steer the running script
// through the same socket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.bus.Subscribe()
	defer cancel()

	// Mutex for thread-safe writes to the WebSocket connection
	var wsMu sync.Mutex

	// Reader: control messages in, until the client goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsIncoming
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("websocket read error: %v", err)
				}
				return
			}
			switch msg.Type {
			case "input":
				if err := s.engine.SendInput(msg.Text); err != nil {
					wsMu.Lock()
					wsWriteJSON(conn, map[string]string{"type": "error", "text": err.Error()})
					wsMu.Unlock()
				}
			case "kill":
				if err := s.engine.Kill(); err != nil {
					wsMu.Lock()
					wsWriteJSON(conn, map[string]string{"type": "error", "text": err.Error()})
					wsMu.Unlock()
				}
			}
		}
	}()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			wsMu.Lock()
			wsWriteJSON(conn, e)
			wsMu.Unlock()
		case <-done:
			return
		}
	}
}

func wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
