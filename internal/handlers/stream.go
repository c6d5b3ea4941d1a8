package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/cronflow/cronflow/internal/models"
)

// Hub fans execution records out to connected websocket clients. It
// implements the dispatch coordinator's observer hook; Notify never blocks
// on a slow client, late messages are simply dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: map[*websocket.Conn]chan []byte{}}
}

func (h *Hub) Notify(log *models.ExecutionLog) {
	payload, err := json.Marshal(log)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
}

// UpgradeCheck is middleware that only lets websocket upgrades through.
func (h *Hub) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleStream serves one client's live feed of execution records.
func (h *Hub) HandleStream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ch := h.register(conn)
		defer h.unregister(conn)

		slog.Debug("Log stream client connected", "remote", conn.RemoteAddr())

		// Drain incoming frames so close handshakes are noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					conn.Close()
					return
				}
			}
		}()

		for payload := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	})
}
