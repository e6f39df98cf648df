package gateway

import (
	"encoding/json"
	"sync"
	"testing"
)

func newTestClient(hub *Hub) *Client {
	c := &Client{hub: hub, send: make(chan []byte, 8)}
	hub.mu.Lock()
	hub.clients[c] = true
	hub.mu.Unlock()
	return c
}

func TestBroadcast_StoresLatestAndDelivers(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub)

	payload := []byte(`{"symbol":"BTC/USDT","direction":"LONG"}`)
	hub.Broadcast("pub:signal:BTC/USDT:1h", payload)

	latest := hub.LatestAll()
	if string(latest["pub:signal:BTC/USDT:1h"]) != string(payload) {
		t.Error("latest entry not stored")
	}

	select {
	case msg := <-client.send:
		var envelope struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if envelope.Channel != "pub:signal:BTC/USDT:1h" {
			t.Errorf("wrong channel: %s", envelope.Channel)
		}
		if string(envelope.Data) != string(payload) {
			t.Errorf("payload mangled: %s", envelope.Data)
		}
	default:
		t.Fatal("client received nothing")
	}
}

func TestBroadcast_SlowClientSkipped(t *testing.T) {
	hub := NewHub()
	client := &Client{hub: hub, send: make(chan []byte)} // zero buffer, never read
	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()

	dropped := 0
	hub.OnSendFailure = func() { dropped++ }

	hub.Broadcast("pub:signal:ETH/USDT:4h", []byte(`{}`))
	if dropped != 1 {
		t.Errorf("expected 1 dropped send, got %d", dropped)
	}
}

func TestMatchesChannel_Filtering(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub)

	// No subscription: receives everything.
	if !client.matchesChannel("pub:signal:BTC/USDT:1h") {
		t.Error("unfiltered client must match all signal channels")
	}

	client.setSubscription([]string{"BTC/USDT"}, []string{"1h", "4h"})

	cases := []struct {
		channel string
		want    bool
	}{
		{"pub:signal:BTC/USDT:1h", true},
		{"pub:signal:BTC/USDT:4h", true},
		{"pub:signal:BTC/USDT:1d", false},
		{"pub:signal:ETH/USDT:1h", false},
		{"not:a:signal", true}, // unparseable channels always delivered
	}
	for _, tc := range cases {
		if got := client.matchesChannel(tc.channel); got != tc.want {
			t.Errorf("matchesChannel(%q) = %v, want %v", tc.channel, got, tc.want)
		}
	}
}

func TestBroadcast_ConcurrentRemoveDoesNotPanic(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.Broadcast("pub:signal:BTC/USDT:1h", []byte(`{}`))
		}
	}()

	// Clients disconnecting mid-broadcast must never leave the fan-out
	// sending on a closed channel.
	for i := 0; i < 500; i++ {
		c := newTestClient(hub)
		c.setSubscription([]string{"BTC/USDT"}, nil)
		hub.RemoveClient(c)
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestSendInitialState_AfterRemoveDoesNotPanic(t *testing.T) {
	hub := NewHub()
	hub.Broadcast("pub:signal:BTC/USDT:1h", []byte(`{"direction":"LONG"}`))

	client := newTestClient(hub)
	hub.RemoveClient(client)

	// The replay races the disconnect in HandleWS; once the client is gone
	// its closed send channel must not be touched.
	client.sendInitialState()

	select {
	case msg, ok := <-client.send:
		if ok {
			t.Errorf("removed client received replay message: %s", msg)
		}
	default:
	}
}

func TestRemoveClient_Idempotent(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub)

	hub.RemoveClient(client)
	hub.RemoveClient(client) // second remove must not double-close

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}
