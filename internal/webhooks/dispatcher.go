// Package webhooks delivers conversation events to tenant-registered HTTP
// endpoints. Failed deliveries are retried by a periodic sweep with a bounded
// attempt count; delivery is at-most-five-tries, not guaranteed.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

const (
	maxAttempts    = 5
	requestTimeout = 10 * time.Second
)

// Event names emitted by the conversation layer.
const (
	EventMessageCreated      = "message.created"
	EventConversationCreated = "conversation.created"
)

type delivery struct {
	webhook  models.Webhook
	event    string
	body     []byte
	attempts int
	nextTry  time.Time
}

// Dispatcher fans conversation events out to registered webhooks.
type Dispatcher struct {
	store  storage.WebhookStore
	client *http.Client
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	pending []*delivery
}

func NewDispatcher(store storage.WebhookStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
		cron:   cron.New(),
	}
}

// Start begins the retry sweep. Call Stop on shutdown.
func (d *Dispatcher) Start() {
	d.cron.AddFunc("@every 1m", d.sweep)
	d.cron.Start()
}

// Stop halts the retry sweep without waiting for pending retries.
func (d *Dispatcher) Stop() {
	d.cron.Stop()
}

// Dispatch sends an event to every active webhook of the tenant subscribed
// to it. First delivery attempts run inline; failures go to the retry queue.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, event string, payload any) {
	hooks, err := d.store.ListActive(ctx, tenantID)
	if err != nil {
		d.logger.Warn("list webhooks failed", "tenant_id", tenantID, "error", err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(map[string]any{
		"event":     event,
		"tenant_id": tenantID,
		"data":      payload,
		"sent_at":   time.Now().UTC(),
	})
	if err != nil {
		d.logger.Error("encode webhook payload failed", "event", event, "error", err)
		return
	}

	for _, hook := range hooks {
		if !subscribed(hook, event) {
			continue
		}
		del := &delivery{webhook: *hook, event: event, body: body}
		if err := d.attempt(ctx, del); err != nil {
			d.scheduleRetry(del, err)
		}
	}
}

// PendingRetries reports queued redeliveries.
func (d *Dispatcher) PendingRetries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// sweep retries due deliveries, dropping those past the attempt bound.
func (d *Dispatcher) sweep() {
	d.mu.Lock()
	due := d.pending
	d.pending = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now()
	for _, del := range due {
		if now.Before(del.nextTry) {
			d.requeue(del)
			continue
		}
		if err := d.attempt(ctx, del); err != nil {
			d.scheduleRetry(del, err)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, del *delivery) error {
	del.attempts++

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.webhook.URL, bytes.NewReader(del.body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Crosswind-Event", del.event)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) scheduleRetry(del *delivery, cause error) {
	if del.attempts >= maxAttempts {
		d.logger.Error("webhook delivery abandoned",
			"url", del.webhook.URL,
			"event", del.event,
			"attempts", del.attempts,
			"error", cause)
		return
	}
	// Linear backoff, one sweep interval per prior attempt.
	del.nextTry = time.Now().Add(time.Duration(del.attempts) * time.Minute)
	d.logger.Warn("webhook delivery failed, queued for retry",
		"url", del.webhook.URL,
		"event", del.event,
		"attempt", del.attempts,
		"error", cause)
	d.requeue(del)
}

func (d *Dispatcher) requeue(del *delivery) {
	d.mu.Lock()
	d.pending = append(d.pending, del)
	d.mu.Unlock()
}

func subscribed(hook *models.Webhook, event string) bool {
	if len(hook.Events) == 0 {
		return true
	}
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
