package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"safescan/internal/scan"
)

// Hub manages WebSocket connections of passive scan observers and fans
// scan events out to them. It subscribes to the scanner's event bus as a
// handler, so events are serialized in publish order.
type Hub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// Register adds an observer connection
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Observer registered (total: %d)", total)
}

// Unregister removes an observer connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("[WS] Observer unregistered (remaining: %d)", len(h.clients))
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected observers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every connected observer. A connection
// that fails to write is dropped.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Error sending to observer: %v", err)
			h.Unregister(conn)
			conn.Close()
		}
	}
}

// OnScanEvent implements scan.EventHandler: shapes the event into its
// wire message and broadcasts it
func (h *Hub) OnScanEvent(event *scan.Event) {
	if h.ClientCount() == 0 {
		return
	}

	msg := newMessage(event)
	if msg == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling scan event: %v", err)
		return
	}
	h.Broadcast(data)
}

// Close drops all observer connections
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// Ensure Hub can subscribe to the scanner's event bus
var _ scan.EventHandler = (*Hub)(nil)
