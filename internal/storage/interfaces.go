package storage

import (
	"context"
	"errors"
	"time"

	"github.com/crosswindhq/crosswind/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// TenantStore resolves tenant records.
type TenantStore interface {
	// GetByIDOrSlug resolves a tenant from a UUID or a slug.
	GetByIDOrSlug(ctx context.Context, identifier string) (*models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
}

// ConversationStore persists conversations and their messages. Message reads
// are ordered by insertion; that order is the only serialization used to
// rebuild model context.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, tenantID, id string) (*models.Conversation, error)
	// List returns conversations for a tenant sorted by most recent activity,
	// computed from the last message timestamp.
	List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Conversation, error)
	Update(ctx context.Context, conv *models.Conversation) error
	// Delete removes a conversation and cascades to its messages first.
	Delete(ctx context.Context, tenantID, id string) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	History(ctx context.Context, conversationID string) ([]*models.Message, error)
	Touch(ctx context.Context, conversationID string, at time.Time) error
}

// IntegrationStore persists tenant-scoped provider credentials.
type IntegrationStore interface {
	Create(ctx context.Context, integration *models.Integration) error
	// ActiveKey returns the newest active credential for tenant+provider,
	// or ErrNotFound.
	ActiveKey(ctx context.Context, tenantID, provider string) (string, error)
}

// UserCredentialStore persists per-user personal API keys.
type UserCredentialStore interface {
	Key(ctx context.Context, userID, provider string) (string, error)
	Set(ctx context.Context, userID, provider, apiKey string) error
}

// SettingsStore is a process-wide key/value settings table.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// CRMStore persists the business entities. Every query is tenant-scoped;
// this is the data-layer half of tenant isolation.
type CRMStore interface {
	ListAccounts(ctx context.Context, tenantID string, limit int) ([]*models.Account, error)
	SearchAccounts(ctx context.Context, tenantID, query string, limit int) ([]*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, tenantID, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error

	ListLeads(ctx context.Context, tenantID string, limit int) ([]*models.Lead, error)
	SearchLeads(ctx context.Context, tenantID, query string, limit int) ([]*models.Lead, error)
	CreateLead(ctx context.Context, lead *models.Lead) error
	GetLead(ctx context.Context, tenantID, id string) (*models.Lead, error)
	UpdateLead(ctx context.Context, lead *models.Lead) error

	ListContacts(ctx context.Context, tenantID string, limit int) ([]*models.Contact, error)
	SearchContacts(ctx context.Context, tenantID, query string, limit int) ([]*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) error
	GetContact(ctx context.Context, tenantID, id string) (*models.Contact, error)
	UpdateContact(ctx context.Context, contact *models.Contact) error

	ListOpportunities(ctx context.Context, tenantID string, limit int) ([]*models.Opportunity, error)
	CreateOpportunity(ctx context.Context, opp *models.Opportunity) error
	GetOpportunity(ctx context.Context, tenantID, id string) (*models.Opportunity, error)
	UpdateOpportunity(ctx context.Context, opp *models.Opportunity) error

	ListActivities(ctx context.Context, tenantID string, limit int) ([]*models.Activity, error)
	CreateActivity(ctx context.Context, activity *models.Activity) error
}

// WebhookStore persists tenant webhook registrations.
type WebhookStore interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	List(ctx context.Context, tenantID string) ([]*models.Webhook, error)
	ListActive(ctx context.Context, tenantID string) ([]*models.Webhook, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// StoreSet groups the storage dependencies handed to the server.
type StoreSet struct {
	Tenants         TenantStore
	Conversations   ConversationStore
	Integrations    IntegrationStore
	UserCredentials UserCredentialStore
	Settings        SettingsStore
	CRM             CRMStore
	Webhooks        WebhookStore

	closer func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
