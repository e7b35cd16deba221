// Package ws pushes queue and sync events to connected UI clients.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creelapp/creel/internal/logging"
	"github.com/creelapp/creel/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local-only app: accept loopback hosts.
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// Envelope wraps every message pushed to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// =====================================================
// Event Types
// =====================================================

const (
	EventSyncStarted      = "sync.started"
	EventSyncProgress     = "sync.progress"
	EventSyncCompleted    = "sync.completed"
	EventSyncFailed       = "sync.failed"
	EventSyncItemTerminal = "sync.item_terminal"

	EventQueueWarning = "queue.warning"
	EventQueueFull    = "queue.full"

	EventConnectivityChanged = "connectivity.changed"

	EventExportStarted   = "export.started"
	EventExportCompleted = "export.completed"
	EventExportFailed    = "export.failed"
)

// Client is one WebSocket connection.
type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *Hub
	subscriptions map[string]bool
}

// Hub maintains active client connections and broadcasts envelopes. It
// satisfies the event interfaces of the queue and sync packages so the
// engine never imports this package.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	hub := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop the connection.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an envelope to every connected client.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket envelope", err,
			map[string]interface{}{"event": eventType})
		return
	}

	h.broadcast <- bytes
}

// =====================================================
// Sync Event Broadcasters
// =====================================================

// SyncStarted notifies clients that a drain has begun.
func (h *Hub) SyncStarted(pending int) {
	h.Broadcast(EventSyncStarted, map[string]interface{}{
		"pending": pending,
	})
}

// SyncProgress notifies clients that one item was replayed.
func (h *Hub) SyncProgress(done, total int, itemID string) {
	percent := 0
	if total > 0 {
		percent = done * 100 / total
	}
	h.Broadcast(EventSyncProgress, map[string]interface{}{
		"done":         done,
		"total":        total,
		"percent":      percent,
		"current_item": itemID,
	})
}

// SyncCompleted notifies clients that the queue drained fully.
func (h *Hub) SyncCompleted(synced int, duration time.Duration) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"synced":      synced,
		"duration_ms": duration.Milliseconds(),
	})
}

// SyncFailed notifies clients that a drain stopped early.
func (h *Hub) SyncFailed(reason string) {
	h.Broadcast(EventSyncFailed, map[string]interface{}{
		"reason": reason,
	})
}

// SyncItemTerminal notifies clients that an item needs manual resolution.
func (h *Hub) SyncItemTerminal(itemID, lastError string) {
	h.Broadcast(EventSyncItemTerminal, map[string]interface{}{
		"item_id": itemID,
		"error":   lastError,
	})
}

// =====================================================
// Queue Event Broadcasters
// =====================================================

// QueueWarning notifies clients that the queue is nearing capacity.
func (h *Hub) QueueWarning(pending, capacity int) {
	h.Broadcast(EventQueueWarning, map[string]interface{}{
		"pending":  pending,
		"capacity": capacity,
	})
}

// QueueFull notifies clients that a mutation was rejected.
func (h *Hub) QueueFull(capacity int) {
	h.Broadcast(EventQueueFull, map[string]interface{}{
		"capacity": capacity,
	})
}

// ConnectivityChanged notifies clients of an online/offline transition.
func (h *Hub) ConnectivityChanged(online bool) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"online": online,
	})
}

// =====================================================
// Export Event Broadcasters
// =====================================================

// ExportStarted notifies clients that a backup export has begun.
func (h *Hub) ExportStarted() {
	h.Broadcast(EventExportStarted, map[string]interface{}{})
}

// ExportCompleted notifies clients of a finished backup archive.
func (h *Hub) ExportCompleted(path string, sizeBytes int64, recordCount int, checksum string) {
	h.Broadcast(EventExportCompleted, map[string]interface{}{
		"file_path":    path,
		"size_bytes":   sizeBytes,
		"record_count": recordCount,
		"checksum":     checksum,
	})
}

// ExportFailed notifies clients that a backup export failed.
func (h *Hub) ExportFailed(errMsg string) {
	h.Broadcast(EventExportFailed, map[string]interface{}{
		"error": errMsg,
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read error",
					map[string]interface{}{"client_id": c.id, "error": err.Error()})
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		action, ok := msg["action"].(string)
		if !ok {
			continue
		}

		switch action {
		case "subscribe":
			if events, ok := msg["events"].([]interface{}); ok {
				for _, e := range events {
					if eventStr, ok := e.(string); ok {
						c.subscriptions[eventStr] = true
					}
				}
				c.sendControl("subscribe_ack", map[string]interface{}{"subscribed": events})
			}

		case "unsubscribe":
			if events, ok := msg["events"].([]interface{}); ok {
				for _, e := range events {
					if eventStr, ok := e.(string); ok {
						delete(c.subscriptions, eventStr)
					}
				}
			}

		case "ping":
			c.sendControl("pong", nil)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendControl(action string, extra map[string]interface{}) {
	envelope := map[string]interface{}{
		"action":    action,
		"timestamp": time.Now().Unix(),
	}
	for k, v := range extra {
		envelope[k] = v
	}

	bytes, _ := json.Marshal(envelope)
	select {
	case c.send <- bytes:
	default:
	}
}

// Handler upgrades HTTP requests to WebSocket connections.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed",
				map[string]interface{}{"error": err.Error()})
			return
		}

		client := &Client{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
