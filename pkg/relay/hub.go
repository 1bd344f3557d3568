package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	clientBuffer   = 32
	maxInboundSize = 512
)

// Hub routes bus events to connected websocket clients. Delivery is
// best-effort: a client whose buffer is full is disconnected and must
// re-fetch state over the query API when it reconnects.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
}

type client struct {
	conn       *websocket.Conn
	send       chan models.DeliveryEvent
	userID     string
	deliveryID string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The gateway in front of this service owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Hub) Register(router *mux.Router) {
	router.HandleFunc("/ws", h.ServeWS).Methods("GET")
}

// ServeWS upgrades the connection. user_id scopes the stream; an optional
// delivery_id narrows it to a single delivery's events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		conn:       conn,
		send:       make(chan models.DeliveryEvent, clientBuffer),
		userID:     userID,
		deliveryID: r.URL.Query().Get("delivery_id"),
	}
	h.add(c)

	logger.WithFields(map[string]interface{}{
		"user_id":     userID,
		"delivery_id": c.deliveryID,
	}).Info("websocket client connected")

	go c.writePump(h)
	go c.readPump(h)
}

// Dispatch fans one bus event out to the owning user's clients. It
// satisfies the kafka consumer's handler signature and never returns an
// error: fan-out problems affect single clients, not the consumer group.
func (h *Hub) Dispatch(_ context.Context, event models.DeliveryEvent) error {
	h.mu.RLock()
	var targets []*client
	for c := range h.clients[event.UserID] {
		if c.deliveryID != "" && c.deliveryID != event.DeliveryID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- event:
		default:
			// Slow client; drop it rather than stall the stream.
			logger.WithField("user_id", c.userID).Warn("dropping slow websocket client")
			h.remove(c)
		}
	}
	return nil
}

// ClientCount reports connected clients, for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

// remove deregisters the client and closes its connection. The send
// channel is never closed, so a concurrent Dispatch can always enqueue;
// the pumps exit when the dead connection surfaces a write or read error.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump drains client frames. Clients send nothing meaningful; the read
// loop exists to notice disconnects and answer pings.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
