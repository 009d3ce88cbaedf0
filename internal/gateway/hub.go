package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub tracks connected UI clients and fans engine events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex // conn -> write lock
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logger,
	}
}

// Add registers a connection.
func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &sync.Mutex{}
	h.logger.Info("ui client connected", zap.Int("clients", len(h.clients)))
}

// Remove unregisters a connection.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	h.logger.Info("ui client disconnected", zap.Int("clients", len(h.clients)))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event frame to every connected client. A failed
// write drops the client; it is expected to reconnect.
func (h *Hub) Broadcast(frame EventFrame) {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, l := range h.clients {
		conns[c] = l
	}
	h.mu.RUnlock()

	for conn, lock := range conns {
		lock.Lock()
		err := conn.WriteJSON(frame)
		lock.Unlock()
		if err != nil {
			h.logger.Warn("broadcast write failed", zap.Error(err))
			_ = conn.Close()
			h.Remove(conn)
		}
	}
}

// Send writes a frame to a single client, serialized against broadcasts.
func (h *Hub) Send(conn *websocket.Conn, v any) error {
	h.mu.RLock()
	lock := h.clients[conn]
	h.mu.RUnlock()
	if lock == nil {
		return websocket.ErrCloseSent
	}
	lock.Lock()
	defer lock.Unlock()
	return conn.WriteJSON(v)
}
