package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single websocket peer. With no subscription message it
// receives every signal; a SUBSCRIBE narrows it to chosen symbols and
// timeframes.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu      sync.RWMutex
	symbols    map[string]bool
	timeframes map[string]bool
}

// subscribeMsg is the client -> server subscription message.
type subscribeMsg struct {
	Type       string   `json:"type"`
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
	Ping       int64    `json:"ping"`
}

// sendInitialState replays the latest signal per channel so a fresh client
// renders immediately instead of waiting for the next cycle. It sends under
// the hub's read lock and only while the client is still registered, so a
// concurrent RemoveClient cannot close the channel mid-replay.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if !c.hub.clients[c] {
		return
	}
	for channel, entry := range c.hub.latest {
		if !c.matchesChannel(channel) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    entry.Data,
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
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
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
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

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var m subscribeMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch {
		case m.Type == "SUBSCRIBE":
			c.setSubscription(m.Symbols, m.Timeframes)
			log.Printf("[gateway] client subscribed: symbols=%v tfs=%v", m.Symbols, m.Timeframes)
		case m.Ping > 0:
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      m.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (c *Client) setSubscription(symbols, timeframes []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.symbols, c.timeframes = nil, nil
	if len(symbols) > 0 {
		c.symbols = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			c.symbols[s] = true
		}
	}
	if len(timeframes) > 0 {
		c.timeframes = make(map[string]bool, len(timeframes))
		for _, tf := range timeframes {
			c.timeframes[tf] = true
		}
	}
}

// matchesChannel reports whether this client wants a pubsub channel like
// "pub:signal:BTC/USDT:1h". Unparseable channels are always delivered.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if c.symbols == nil && c.timeframes == nil {
		return true
	}

	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "pub" || parts[1] != "signal" {
		return true
	}
	symbol, tf := parts[2], parts[3]

	if c.symbols != nil && !c.symbols[symbol] {
		return false
	}
	if c.timeframes != nil && !c.timeframes[tf] {
		return false
	}
	return true
}
