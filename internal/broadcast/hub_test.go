package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/pkg/models"
)

func newTestHub() *Hub {
	return NewHub(observability.NopLogger(), nil)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := newTestHub()
	a := h.Subscribe("c1")
	b := h.Subscribe("c1")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(&models.Message{ID: "m1", ConversationID: "c1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case msg := <-sub.C:
			if msg.ID != "m1" {
				t.Fatalf("got message %q, want m1", msg.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestPublishScopedToConversation(t *testing.T) {
	h := newTestHub()
	other := h.Subscribe("c2")
	defer h.Unsubscribe(other)

	h.Publish(&models.Message{ID: "m1", ConversationID: "c1"})

	select {
	case msg := <-other.C:
		t.Fatalf("subscriber of c2 received %q", msg.ID)
	default:
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := newTestHub()
	slow := h.Subscribe("c1")
	defer h.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(&models.Message{ConversationID: "c1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}
}

func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	h := newTestHub()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Publish(&models.Message{ConversationID: "c1"})
				}
			}
		}()
	}

	// Churn subscribers while publishes are in flight. A send racing a close
	// panics, which fails the whole test binary.
	for i := 0; i < 500; i++ {
		sub := h.Subscribe("c1")
		h.Unsubscribe(sub)
	}
	close(stop)
	wg.Wait()
}

func TestUnsubscribePrunesConversation(t *testing.T) {
	h := newTestHub()
	a := h.Subscribe("c1")
	b := h.Subscribe("c1")

	h.Unsubscribe(a)
	if got := h.SubscriberCount("c1"); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	h.Unsubscribe(b)
	if got := h.SubscriberCount("c1"); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}

	if _, ok := h.subscribers["c1"]; ok {
		t.Fatal("empty subscriber set not pruned")
	}

	// Double unsubscribe must not panic on a closed channel.
	h.Unsubscribe(b)
}
