package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carrental-backend/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Event is the frame pushed to connected clients.
type Event struct {
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

type client struct {
	customerID int64
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
}

// Hub tracks the open websocket connections per customer and pushes
// notifications to them. It is also a Sink; a customer with no open
// connection is skipped.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	upgrader websocket.Upgrader
}

func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{clients: make(map[int64]map[*client]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Deliver(ctx context.Context, msg Message) error {
	frame, err := json.Marshal(Event{
		Type:    string(msg.EventType),
		Title:   msg.Title,
		Message: msg.Body,
		Data:    msg.Payload,
	})
	if err != nil {
		return err
	}
	h.SendToCustomer(msg.CustomerID, frame)
	return nil
}

// SendToCustomer queues the frame on every connection of the customer. A
// connection whose buffer is full is dropped.
func (h *Hub) SendToCustomer(customerID int64, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients[customerID] {
		select {
		case c.send <- frame:
			sent++
		default:
			h.removeLocked(c)
		}
	}
	return sent
}

// Connected returns the number of open connections of a customer.
func (h *Hub) Connected(customerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[customerID])
}

// ServeWS upgrades the request and registers the connection for the
// customer. The caller has already authenticated the customer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, customerID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "customerID", customerID, "error", err)
		return
	}

	c := &client{customerID: customerID, conn: conn, send: make(chan []byte, sendBuffer), hub: h}
	h.register(c)
	logger.Info("WebSocket client connected", "customerID", customerID)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.customerID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.customerID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.customerID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.customerID)
	}
}

// readPump only services control frames; clients do not send commands.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		logger.Info("WebSocket client disconnected", "customerID", c.customerID)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", "customerID", c.customerID, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Warn("WebSocket write error", "customerID", c.customerID, "error", err)
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
