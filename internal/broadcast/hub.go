// Package broadcast fans out newly persisted messages to live subscribers of
// a conversation. Delivery is best effort: a slow subscriber drops events
// rather than blocking the publisher or other subscribers.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// subscriberBuffer sizes each subscriber channel. A full buffer means the
// client is not draining; further events for it are dropped.
const subscriberBuffer = 16

// Subscription is a live listener on one conversation.
type Subscription struct {
	C <-chan *models.Message

	conversationID string
	ch             chan *models.Message
}

// Hub routes published messages to the subscribers of their conversation.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{} // conversationID -> subs
	logger      *slog.Logger
	metrics     *observability.Metrics
}

func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		logger:      logger,
		metrics:     metrics,
	}
}

// Subscribe registers a listener for a conversation. The caller must call
// Unsubscribe when done or the subscription leaks.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	sub := &Subscription{
		conversationID: conversationID,
		ch:             make(chan *models.Message, subscriberBuffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	set, ok := h.subscribers[conversationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subscribers[conversationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel. Empty subscriber
// sets are pruned so the map does not grow with dead conversations.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	set, ok := h.subscribers[sub.conversationID]
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			close(sub.ch)
		}
		if len(set) == 0 {
			delete(h.subscribers, sub.conversationID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers a message to every subscriber of its conversation.
// Publishing never blocks: a subscriber with a full buffer misses the event.
// Sends happen under the read lock so Unsubscribe, which closes the channel
// under the write lock, cannot interleave with a send.
func (h *Hub) Publish(msg *models.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[msg.ConversationID] {
		select {
		case sub.ch <- msg:
			if h.metrics != nil {
				h.metrics.BroadcastDeliveries.WithLabelValues("delivered").Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.BroadcastDeliveries.WithLabelValues("dropped").Inc()
			}
			h.logger.Warn("broadcast dropped for slow subscriber",
				"conversation_id", msg.ConversationID)
		}
	}
}

// SubscriberCount reports live subscribers for a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[conversationID])
}
