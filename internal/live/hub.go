package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBuffer      = 100
)

// SessionKey is the hub key session changes are published under.
const SessionKey = "session"

// ConversationKey is the hub key of one contact's conversation.
func ConversationKey(contactID string) string {
	return "conversation:" + contactID
}

// Event is what the bridge streams to its subscribers.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Key    string
	Events chan Event
	Done   chan struct{}
}

// Hub fans events out to every subscriber of a key, typically a contact id.
type Hub struct {
	clients map[string]map[*Client]bool
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]bool)}
}

func (h *Hub) Subscribe(key string) *Client {
	client := &Client{
		Key:    key,
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[key] == nil {
		h.clients[key] = make(map[*Client]bool)
	}
	h.clients[key][client] = true
	clientCount := len(h.clients[key])
	h.mu.Unlock()

	log.Debug().
		Str("key", key).
		Int("clientCount", clientCount).
		Msg("live client subscribed")

	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.Key]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)
	if len(clients) == 0 {
		delete(h.clients, client.Key)
	}

	log.Debug().
		Str("key", client.Key).
		Int("clientCount", len(clients)).
		Msg("live client unsubscribed")
}

// Publish marshals data and delivers it to every subscriber of key. Slow
// subscribers lose events rather than block the publisher.
func (h *Hub) Publish(key, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	h.broadcast(key, Event{Type: eventType, Data: raw})
	return nil
}

func (h *Hub) broadcast(key string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[key] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("key", key).
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

// Disconnect ends every subscription of key.
func (h *Hub) Disconnect(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[key] {
		close(client.Done)
	}
	delete(h.clients, key)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
}

func (h *Hub) ClientCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}
