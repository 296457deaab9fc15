package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/bpasse/patine/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to localhost; the desktop shell is the only client.
		return true
	},
}

// wsMessage is the broadcast envelope.
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WebSocketHandler pushes job and queue changes to connected UI clients.
// Purely observational: the UI still polls GET /jobs for liveness.
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex

	// Progress updates can arrive per step per job; cap the burst rate so a
	// busy queue does not flood slow clients.
	statusThrottler *rate.Limiter
}

// NewWebSocketHandler creates the handler and wires it to the event bus.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:          logger,
		eventService:    eventService,
		clients:         make(map[*websocket.Conn]bool),
		clientMutex:     make(map[*websocket.Conn]*sync.Mutex),
		statusThrottler: rate.NewLimiter(rate.Every(50*time.Millisecond), 20),
	}

	eventService.Subscribe(interfaces.EventJobStatus, h.onEvent)
	eventService.Subscribe(interfaces.EventQueueChanged, h.onEvent)

	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// peer goes away.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("WebSocket client connected")

	// Reader loop only detects disconnects; clients never send messages.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	count := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Info().Int("clients", count).Msg("WebSocket client disconnected")
}

// onEvent relays a bus event to every connected client.
func (h *WebSocketHandler) onEvent(_ context.Context, event interfaces.Event) error {
	if event.Type == interfaces.EventJobStatus && !h.statusThrottler.Allow() {
		return nil
	}

	data, err := json.Marshal(wsMessage{Type: string(event.Type), Payload: event.Payload})
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *WebSocketHandler) broadcast(data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.mu.RLock()
		mu := h.clientMutex[conn]
		h.mu.RUnlock()
		if mu == nil {
			continue
		}

		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			h.removeClient(conn)
		}
	}
}
