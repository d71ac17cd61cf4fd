package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/tracerama/internal/api/middleware"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriodRatio = 0.9
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // must be < pongWait
	maxMessageSize  = 512
	sendBufferSize  = 64
)

// Message types pushed to websocket clients.
const (
	MessageScanComplete        = "scan_complete"
	MessageReachabilityChanged = "reachability_changed"
	MessageSustainedFailure    = "sustained_failure"
)

// WebSocketMessage is the envelope of every pushed message.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ScanUpdate is the payload of a scan_complete message.
type ScanUpdate struct {
	ResultID      string            `json:"result_id"`
	TargetReached bool              `json:"target_reached"`
	Hops          int               `json:"hops"`
	Duration      string            `json:"duration"`
	Failure       string            `json:"failure,omitempty"`
	AverageRTT    scanning.RTTValue `json:"average_rtt_ms"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub fans monitor events out to connected clients. Slow clients
// whose buffer is full are disconnected.
type WebSocketHub struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewWebSocketHub creates a hub. An empty origins list accepts any origin.
func NewWebSocketHub(origins []string, logger *logging.Logger) *WebSocketHub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &WebSocketHub{
		logger:  logger.WithComponent("api.websocket"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
	}
}

// ServeHTTP upgrades the connection and streams events until the client leaves.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBufferSize)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("WebSocket client connected", "request_id", requestID, "clients", h.ClientCount())

	go h.writePump(c)
	h.readPump(c)
}

func (h *WebSocketHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *WebSocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and detects disconnects.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Write failed, closing connection", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues msg for every client.
func (h *WebSocketHub) Broadcast(msg WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal websocket message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("WebSocket client too slow, disconnecting", "type", msg.Type)
			delete(h.clients, c)
			close(c.send)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Hooks returns monitor hooks that broadcast the events of key.
func (h *WebSocketHub) Hooks(key scanning.Key) monitor.Hooks {
	name := key.String()
	return monitor.Hooks{
		OnScanComplete: func(r *scanning.ScanResult) error {
			stats := scanning.ComputeStatistics(r)
			return h.Broadcast(WebSocketMessage{
				Type:      MessageScanComplete,
				Key:       name,
				Timestamp: time.Now().UTC(),
				Data: ScanUpdate{
					ResultID:      r.ID,
					TargetReached: r.TargetReached,
					Hops:          len(r.Hops),
					Duration:      r.Duration.String(),
					Failure:       string(r.Failure),
					AverageRTT:    stats.AverageRTT,
				},
			})
		},
		OnReachabilityChanged: func(reached bool) error {
			return h.Broadcast(WebSocketMessage{
				Type:      MessageReachabilityChanged,
				Key:       name,
				Timestamp: time.Now().UTC(),
				Data:      map[string]bool{"reached": reached},
			})
		},
		OnSustainedFailure: func(consecutive int) error {
			return h.Broadcast(WebSocketMessage{
				Type:      MessageSustainedFailure,
				Key:       name,
				Timestamp: time.Now().UTC(),
				Data:      map[string]int{"consecutive_failures": consecutive},
			})
		},
	}
}
