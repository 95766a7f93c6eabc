// Package memory provides the ephemeral key-value layer used to carry
// short-lived conversation context (recent facts, tool breadcrumbs) between
// agent turns. Entries are namespaced per tenant and expire on a TTL; the
// durable record lives in the conversation store, never here.
package memory

import (
	"context"
	"time"
)

// Store is the ephemeral memory contract. Keys are caller-namespaced
// (tenant + conversation); values are opaque strings.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Append pushes an entry onto a list key, most recent first.
	Append(ctx context.Context, key, value string, ttl time.Duration) error
	// List returns up to n most recent entries for a list key.
	List(ctx context.Context, key string, n int) ([]string, error)
}

// Key builds the canonical namespaced key for a tenant-scoped memory slot.
func Key(tenantID, conversationID, slot string) string {
	return "mem:" + tenantID + ":" + conversationID + ":" + slot
}
