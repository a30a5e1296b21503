package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quadrant/api/internal/util"
)

const channelPrefix = "events:"

// Bridge extends a Hub across instances over Redis pub/sub. Local
// publishes go to the hub immediately and to Redis for the other
// instances; inbound Redis messages are replayed into the hub unless
// this instance published them.
type Bridge struct {
	hub      *Hub
	client   *redis.Client
	instance string
}

func NewBridge(hub *Hub, redisURL string) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewBridgeWithClient(hub, client), nil
}

// NewBridgeWithClient creates a bridge from an existing Redis client.
func NewBridgeWithClient(hub *Hub, client *redis.Client) *Bridge {
	return &Bridge{
		hub:      hub,
		client:   client,
		instance: util.NewID("node"),
	}
}

// Publish fans out locally, then to the other instances. A Redis
// failure is logged, not returned: local subscribers already have the
// event and remote ones recover on reconnect resync.
func (b *Bridge) Publish(ev Event) {
	ev.Origin = b.instance
	b.hub.Publish(ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("broadcast: marshal event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, channelPrefix+ev.ProjectID, payload).Err(); err != nil {
		log.Printf("broadcast: publish to redis: %v", err)
	}
}

// Subscribe passes through to the local hub; remote events arrive there
// via Run.
func (b *Bridge) Subscribe(projectID string) *Subscription {
	return b.hub.Subscribe(projectID)
}

// Run consumes the Redis side until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("broadcast: bad event payload on %s: %v", msg.Channel, err)
				continue
			}
			if ev.Origin == b.instance {
				continue
			}
			// The channel name is authoritative for scoping; a payload
			// claiming another project is discarded, not trusted.
			if ev.ProjectID != strings.TrimPrefix(msg.Channel, channelPrefix) {
				log.Printf("broadcast: event project %q does not match channel %q", ev.ProjectID, msg.Channel)
				continue
			}
			b.hub.Publish(ev)
		}
	}
}

func (b *Bridge) Close() error {
	return b.client.Close()
}
