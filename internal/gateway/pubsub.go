package gateway

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// SignalSource provides the pattern subscription to signal publishes.
type SignalSource interface {
	SubscribeSignals(ctx context.Context) *goredis.PubSub
}

// RunPubSub pumps pub:signal:* messages from Redis into the hub until ctx
// is cancelled.
func RunPubSub(ctx context.Context, hub *Hub, source SignalSource) {
	pubsub := source.SubscribeSignals(ctx)
	defer pubsub.Close()

	log.Println("[gateway] subscribed to signal pubsub")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
