package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ErrHubBacklog is returned when the hub cannot accept another batch.
var ErrHubBacklog = errors.New("live hub backlog full")

// Hub fans transition batches out to the websocket clients of the user
// they belong to. It is a domain.TransitionPublisher.
type Hub struct {
	log        *zap.Logger
	clients    map[string]map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan domain.TransitionBatch
	done       chan struct{}
	count      atomic.Int64
	upgrader   websocket.Upgrader
	origins    []string // set before serving; empty allows any
}

type wsClient struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:        log,
		clients:    make(map[string]map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan domain.TransitionBatch, 256),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// SetAllowedOrigins restricts which browser origins may open a socket.
// Empty allows any.
func (h *Hub) SetAllowedOrigins(origins []string) { h.origins = origins }

// checkOrigin admits requests without an Origin header, which only
// non-browser clients send.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || originAllowed(h.origins, origin)
}

// Clients returns the number of connected sockets.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Run owns the client table until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*wsClient]bool)
			h.count.Store(0)
			metrics.LiveClients.Set(0)
			return nil

		case c := <-h.register:
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*wsClient]bool)
				h.clients[c.userID] = set
			}
			set[c] = true
			h.count.Add(1)
			metrics.LiveClients.Inc()

		case c := <-h.unregister:
			h.remove(c)

		case batch := <-h.broadcast:
			set := h.clients[batch.UserID]
			if len(set) == 0 {
				continue
			}
			msg, err := json.Marshal(batch)
			if err != nil {
				h.log.Warn("encode transition batch", zap.Error(err))
				continue
			}
			for c := range set {
				select {
				case c.send <- msg:
				default:
					// Slow consumer.
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	set := h.clients[c.userID]
	if !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	h.count.Add(-1)
	metrics.LiveClients.Dec()
}

// Publish queues batch for delivery. It never blocks the caller.
func (h *Hub) Publish(ctx context.Context, batch domain.TransitionBatch) error {
	select {
	case h.broadcast <- batch:
		metrics.TransitionsPublished.WithLabelValues("hub").Inc()
		return nil
	default:
		return ErrHubBacklog
	}
}

// Deliver relays a batch received from another instance.
func (h *Hub) Deliver(batch domain.TransitionBatch) {
	if err := h.Publish(context.Background(), batch); err != nil {
		h.log.Warn("relay transition batch", zap.String("event", batch.EventID), zap.Error(err))
	}
}

// ServeWS upgrades the request and streams userID's batches to it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{hub: h, userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump discards client frames and notices disconnects.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read", zap.String("user", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
