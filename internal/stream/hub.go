package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/report"
)

// Hub broadcasts delivered records to every connected watcher. It is a
// report.Sink and an http.Handler.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	clientsMu  sync.RWMutex
	writeMu    sync.Mutex
	maxClients int
	log        *zap.Logger
}

// NewHub creates a hub accepting up to maxClients watchers.
func NewHub(maxClients int, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if maxClients <= 0 {
		maxClients = 100
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients:    make(map[*websocket.Conn]bool),
		maxClients: maxClients,
		log:        log.Named("hub"),
	}
}

// Clients returns the number of connected watchers.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP registers a watcher and keeps it until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Clients() >= h.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()
	defer h.remove(conn)

	// Reads only detect disconnects; watchers send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Deliver implements report.Sink by broadcasting rec. Watchers that fail
// a write are dropped; the record is still considered delivered.
func (h *Hub) Deliver(_ context.Context, rec report.Record) error {
	h.clientsMu.RLock()
	if len(h.clients) == 0 {
		h.clientsMu.RUnlock()
		return nil
	}
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("hub: marshal record: %w", err)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("dropping watcher", zap.Error(err))
			h.remove(c)
			c.Close()
		}
	}
	return nil
}

func (h *Hub) remove(c *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	h.clientsMu.Unlock()
}
