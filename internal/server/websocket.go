package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev tool, no cross-origin concerns
	},
}

// wsLine is one task output line pushed to clients.
type wsLine struct {
	Task string `json:"task"`
	Line string `json:"line"`
}

// hub tracks connected WebSocket clients and fans task output out to
// them.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	log   *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		conns: make(map[*websocket.Conn]struct{}),
		log:   log,
	}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// broadcast sends one line to every client. Writes happen under the hub
// lock so concurrent monitored tasks cannot interleave frames.
func (h *hub) broadcast(task, line string) {
	data, err := json.Marshal(wsLine{Task: task, Line: line})
	if err != nil {
		h.log.Warn("marshaling ws line", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("dropping ws client", zap.Error(err))
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	s.hub.add(conn)

	// Drain control frames until the client goes away; all data flows
	// server to client.
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
