package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vreid/minefield/internal/pkg/events"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
)

type client struct {
	playerID string
	conn     *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(playerID string, conn *websocket.Conn) *client {
	return &client{
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue never blocks; a client that cannot keep up loses the message.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))

			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			err := c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				return
			}
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		}
	}
}

// Hub tracks open sockets per player and delivers events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	log *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: map[string]map[*client]struct{}{},
		log:     logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sockets, ok := h.clients[c.playerID]
	if !ok {
		sockets = map[*client]struct{}{}
		h.clients[c.playerID] = sockets
	}

	sockets[c] = struct{}{}
}

// unregister reports whether c was the player's last socket.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sockets, ok := h.clients[c.playerID]
	if !ok {
		return false
	}

	if _, ok := sockets[c]; !ok {
		return false
	}

	delete(sockets, c)

	if len(sockets) > 0 {
		return false
	}

	delete(h.clients, c.playerID)

	return true
}

func (h *Hub) Connected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[playerID]) > 0
}

// Publish sends event to its recipients, or to every socket when it has none.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Kind, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(sockets map[*client]struct{}) {
		for c := range sockets {
			if !c.enqueue(data) {
				h.log.Warn("dropped event for slow socket",
					zap.String("player_id", c.playerID),
					zap.String("kind", string(event.Kind)),
					zap.String("match_id", event.MatchID))
			}
		}
	}

	if len(event.Recipients) == 0 {
		for _, sockets := range h.clients {
			deliver(sockets)
		}

		return nil
	}

	for _, playerID := range event.Recipients {
		deliver(h.clients[playerID])
	}

	return nil
}
