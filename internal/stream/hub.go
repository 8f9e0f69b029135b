package stream

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "tracking:"
	channelSuffix  = ":broadcast"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub fans tracking events out to the websocket clients of a user. With
// Redis configured every event travels through pub/sub, so clients attached
// to any replica receive it exactly once.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	UserID string
	Send   chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx := context.Background()
		h.pubsub = redisClient.PSubscribe(ctx, channelPattern)
		if _, err := h.pubsub.Receive(ctx); err != nil {
			log.Printf("redis subscribe error, falling back to local fan-out: %v", err)
			_ = h.pubsub.Close()
			h.pubsub = nil
			h.redis = nil
		} else {
			go h.subscribeRedis(h.pubsub)
		}
	}
	return h
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userClients, ok := h.clients[client.UserID]; ok {
		if _, registered := userClients[client]; !registered {
			return
		}
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, client.UserID)
		}
		close(client.Send)
	}
}

// Broadcast satisfies tracking.Publisher.
func (h *Hub) Broadcast(userID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(userID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(userID, payload)
}

func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	return h.pubsub.Close()
}

// deliver never blocks; a slow client misses events.
func (h *Hub) deliver(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		userID := userIDFromChannel(msg.Channel)
		if userID == "" {
			continue
		}
		h.deliver(userID, []byte(msg.Payload))
	}
}

func redisChannel(userID string) string {
	return channelPrefix + userID + channelSuffix
}

func userIDFromChannel(ch string) string {
	// tracking:{user}:broadcast
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
