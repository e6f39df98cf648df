// Package gateway streams published signals to websocket clients. The hub
// subscribes to the Redis pub:signal:* channels and fans each message out to
// every connected client whose subscription matches; new clients get the
// latest known signal per channel on connect.
package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub manages websocket clients and signal fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry

	// Optional metric hooks.
	OnBroadcast   func()
	OnSendFailure func()
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
	}
}

// Broadcast wraps a signal payload in an envelope and sends it to every
// matching client. Slow clients are skipped, never waited on.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now()
	envelope, err := json.Marshal(map[string]interface{}{
		"channel": channel,
		"data":    json.RawMessage(data),
		"ts":      now.Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("[gateway] envelope marshal for %s: %v", channel, err)
		return
	}

	h.mu.Lock()
	h.latest[channel] = latestEntry{Data: append([]byte(nil), data...), TS: now}
	h.mu.Unlock()

	if h.OnBroadcast != nil {
		h.OnBroadcast()
	}

	// The read lock is held across the sends: RemoveClient needs the write
	// lock before it may close a send channel, so every channel seen here
	// stays open until the walk finishes.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matchesChannel(channel) {
			continue
		}
		select {
		case c.send <- envelope:
		default:
			if h.OnSendFailure != nil {
				h.OnSendFailure()
			}
		}
	}
}

// HandleWS registers an upgraded websocket connection and starts its pumps.
func (h *Hub) HandleWS(conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient drops a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// LatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
