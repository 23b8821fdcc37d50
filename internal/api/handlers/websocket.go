// Package handlers provides HTTP request handlers for the mapperctl backend.
// This file implements the WebSocket feed that pushes scan status changes to
// connected clients as they happen.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/mapperctl/internal/api/middleware"
	"github.com/anstrom/mapperctl/internal/launcher"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 256                                                // Size of the broadcast channel buffer
	clientQueueSize = 16                                                 // Messages queued per client before it is dropped
)

// MessageTypeScanStatus tags status messages.
const MessageTypeScanStatus = "scan_status"

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// client is one connection. Only its writePump writes to conn.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	requestID string
}

// StatusHub fans scan status changes out to WebSocket clients. Every client
// receives the current status on connect, then each change in order.
type StatusHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	current  func() launcher.Status

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
}

// NewStatusHub creates a hub and starts its goroutine. current supplies the
// status sent to newly connected clients.
func NewStatusHub(current func() launcher.Status, logger *slog.Logger) *StatusHub {
	hub := &StatusHub{
		logger:  logger.With("handler", "websocket"),
		current: current,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origins are already restricted by the CORS layer
				return true
			},
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
	}

	go hub.run()

	return hub
}

// ServeStatus upgrades the request and streams status messages to it.
func (h *StatusHub) ServeStatus(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	h.logger.Info("New status WebSocket connection", "request_id", requestID, "remote_addr", r.RemoteAddr)

	c := &client{
		conn:      conn,
		send:      make(chan []byte, clientQueueSize),
		requestID: requestID,
	}

	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// Publish queues a status change for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *StatusHub) Publish(status launcher.Status) {
	data, err := encodeStatus(status)
	if err != nil {
		h.logger.Error("Failed to encode status message", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Status broadcast channel full, dropping message")
	}
}

func encodeStatus(status launcher.Status) ([]byte, error) {
	data, err := json.Marshal(WebSocketMessage{
		Type:      MessageTypeScanStatus,
		Timestamp: time.Now().UTC(),
		Data:      status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status message: %w", err)
	}
	return data, nil
}

// run manages client connections and broadcasts.
func (h *StatusHub) run() {
	for {
		select {
		case <-h.shutdown:
			h.mutex.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mutex.Unlock()
			h.logger.Debug("WebSocket hub shutting down")
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()

			if data, err := encodeStatus(h.current()); err == nil {
				h.deliver(c, data)
			}
			h.logger.Debug("Client registered", "request_id", c.requestID, "total_clients", h.ClientCount())

		case c := <-h.unregister:
			h.drop(c)
			h.logger.Debug("Client unregistered", "request_id", c.requestID, "total_clients", h.ClientCount())

		case message := <-h.broadcast:
			h.mutex.RLock()
			targets := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mutex.RUnlock()

			for _, c := range targets {
				h.deliver(c, message)
			}
		}
	}
}

// deliver queues data for c, dropping clients that cannot keep up.
// Only called from run.
func (h *StatusHub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Client too slow, closing connection", "request_id", c.requestID)
		h.drop(c)
	}
}

func (h *StatusHub) drop(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump reads until the peer goes away. Incoming messages are ignored;
// reading keeps pong handling alive.
func (h *StatusHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		if err := c.conn.Close(); err != nil {
			h.logger.Debug("Error closing connection in readPump", "request_id", c.requestID, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", c.requestID, "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket unexpected close", "request_id", c.requestID, "error", err)
			}
			return
		}
	}
}

// writePump is the only writer of c.conn. It sends queued messages and pings.
func (h *StatusHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", c.requestID, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", c.requestID, "error", err)
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *StatusHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects all clients and stops the hub.
func (h *StatusHub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
	})
}
