package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// NewMemoryStores returns a store set backed by in-process maps. Used for
// tests and dev mode; not durable.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Tenants:         NewMemoryTenantStore(),
		Conversations:   NewMemoryConversationStore(),
		Integrations:    NewMemoryIntegrationStore(),
		UserCredentials: NewMemoryUserCredentialStore(),
		Settings:        NewMemorySettingsStore(),
		CRM:             NewMemoryCRMStore(),
		Webhooks:        NewMemoryWebhookStore(),
	}
}

// MemoryTenantStore implements TenantStore in memory.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*models.Tenant // keyed by id
}

func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]*models.Tenant)}
}

func (s *MemoryTenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; ok {
		return ErrAlreadyExists
	}
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

func (s *MemoryTenantStore) GetByIDOrSlug(ctx context.Context, identifier string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.ID == identifier || t.Slug == identifier {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// MemoryConversationStore implements ConversationStore in memory. Messages
// are kept in append order per conversation.
type MemoryConversationStore struct {
	mu       sync.RWMutex
	convs    map[string]*models.Conversation
	messages map[string][]*models.Message
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		convs:    make(map[string]*models.Conversation),
		messages: make(map[string][]*models.Message),
	}
}

func (s *MemoryConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; ok {
		return ErrAlreadyExists
	}
	copied := *conv
	s.convs[conv.ID] = &copied
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok || conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryConversationStore) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastActivity := func(conv *models.Conversation) time.Time {
		msgs := s.messages[conv.ID]
		if len(msgs) > 0 {
			return msgs[len(msgs)-1].CreatedAt
		}
		return conv.UpdatedAt
	}

	var result []*models.Conversation
	for _, conv := range s.convs {
		if conv.TenantID == tenantID {
			copied := *conv
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return lastActivity(result[i]).After(lastActivity(result[j]))
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.convs[conv.ID]
	if !ok || existing.TenantID != conv.TenantID {
		return ErrNotFound
	}
	copied := *conv
	s.convs[conv.ID] = &copied
	return nil
}

func (s *MemoryConversationStore) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.messages, id)
	delete(s.convs, id)
	return nil
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copied)
	return nil
}

func (s *MemoryConversationStore) History(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	result := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		copied := *m
		result[i] = &copied
	}
	return result, nil
}

func (s *MemoryConversationStore) Touch(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[conversationID]; ok {
		conv.UpdatedAt = at
	}
	return nil
}

// MemoryIntegrationStore implements IntegrationStore in memory.
type MemoryIntegrationStore struct {
	mu           sync.RWMutex
	integrations []*models.Integration
}

func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{}
}

func (s *MemoryIntegrationStore) Create(ctx context.Context, integration *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *integration
	s.integrations = append(s.integrations, &copied)
	return nil
}

func (s *MemoryIntegrationStore) ActiveKey(ctx context.Context, tenantID, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.Integration
	for _, in := range s.integrations {
		if in.TenantID != tenantID || in.Provider != provider || !in.Active {
			continue
		}
		if newest == nil || in.CreatedAt.After(newest.CreatedAt) {
			newest = in
		}
	}
	if newest == nil {
		return "", ErrNotFound
	}
	return newest.APIKey, nil
}

// MemoryUserCredentialStore implements UserCredentialStore in memory.
type MemoryUserCredentialStore struct {
	mu   sync.RWMutex
	keys map[string]string // user_id + "\x00" + provider
}

func NewMemoryUserCredentialStore() *MemoryUserCredentialStore {
	return &MemoryUserCredentialStore{keys: make(map[string]string)}
}

func (s *MemoryUserCredentialStore) Key(ctx context.Context, userID, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[userID+"\x00"+provider]
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}

func (s *MemoryUserCredentialStore) Set(ctx context.Context, userID, provider, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[userID+"\x00"+provider] = apiKey
	return nil
}

// MemorySettingsStore implements SettingsStore in memory.
type MemorySettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{values: make(map[string]string)}
}

func (s *MemorySettingsStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemorySettingsStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// MemoryCRMStore implements CRMStore in memory.
type MemoryCRMStore struct {
	mu            sync.RWMutex
	accounts      []*models.Account
	leads         []*models.Lead
	contacts      []*models.Contact
	opportunities []*models.Opportunity
	activities    []*models.Activity
}

func NewMemoryCRMStore() *MemoryCRMStore {
	return &MemoryCRMStore{}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (s *MemoryCRMStore) ListAccounts(ctx context.Context, tenantID string, limit int) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Account
	for _, a := range s.accounts {
		if a.TenantID == tenantID {
			copied := *a
			result = append(result, &copied)
		}
	}
	return capAccounts(result, limit), nil
}

func (s *MemoryCRMStore) SearchAccounts(ctx context.Context, tenantID, query string, limit int) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Account
	for _, a := range s.accounts {
		if a.TenantID == tenantID && containsFold(a.Name, query) {
			copied := *a
			result = append(result, &copied)
		}
	}
	return capAccounts(result, limit), nil
}

func (s *MemoryCRMStore) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *account
	s.accounts = append(s.accounts, &copied)
	return nil
}

func (s *MemoryCRMStore) GetAccount(ctx context.Context, tenantID, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.TenantID == tenantID && a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryCRMStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.accounts {
		if a.TenantID == account.TenantID && a.ID == account.ID {
			copied := *account
			s.accounts[i] = &copied
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryCRMStore) ListLeads(ctx context.Context, tenantID string, limit int) ([]*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Lead
	for _, l := range s.leads {
		if l.TenantID == tenantID {
			copied := *l
			result = append(result, &copied)
		}
	}
	return capLeads(result, limit), nil
}

func (s *MemoryCRMStore) SearchLeads(ctx context.Context, tenantID, query string, limit int) ([]*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Lead
	for _, l := range s.leads {
		if l.TenantID == tenantID && (containsFold(l.Name, query) || containsFold(l.Company, query)) {
			copied := *l
			result = append(result, &copied)
		}
	}
	return capLeads(result, limit), nil
}

func (s *MemoryCRMStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lead
	s.leads = append(s.leads, &copied)
	return nil
}

func (s *MemoryCRMStore) GetLead(ctx context.Context, tenantID, id string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leads {
		if l.TenantID == tenantID && l.ID == id {
			copied := *l
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryCRMStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.leads {
		if l.TenantID == lead.TenantID && l.ID == lead.ID {
			copied := *lead
			s.leads[i] = &copied
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryCRMStore) ListContacts(ctx context.Context, tenantID string, limit int) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Contact
	for _, c := range s.contacts {
		if c.TenantID == tenantID {
			copied := *c
			result = append(result, &copied)
		}
	}
	return capContacts(result, limit), nil
}

func (s *MemoryCRMStore) SearchContacts(ctx context.Context, tenantID, query string, limit int) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Contact
	for _, c := range s.contacts {
		if c.TenantID == tenantID && (containsFold(c.Name, query) || containsFold(c.Email, query)) {
			copied := *c
			result = append(result, &copied)
		}
	}
	return capContacts(result, limit), nil
}

func (s *MemoryCRMStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *contact
	s.contacts = append(s.contacts, &copied)
	return nil
}

func (s *MemoryCRMStore) GetContact(ctx context.Context, tenantID, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if c.TenantID == tenantID && c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryCRMStore) UpdateContact(ctx context.Context, contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.contacts {
		if c.TenantID == contact.TenantID && c.ID == contact.ID {
			copied := *contact
			s.contacts[i] = &copied
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryCRMStore) ListOpportunities(ctx context.Context, tenantID string, limit int) ([]*models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Opportunity
	for _, o := range s.opportunities {
		if o.TenantID == tenantID {
			copied := *o
			result = append(result, &copied)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryCRMStore) CreateOpportunity(ctx context.Context, opp *models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *opp
	s.opportunities = append(s.opportunities, &copied)
	return nil
}

func (s *MemoryCRMStore) GetOpportunity(ctx context.Context, tenantID, id string) (*models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.opportunities {
		if o.TenantID == tenantID && o.ID == id {
			copied := *o
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryCRMStore) UpdateOpportunity(ctx context.Context, opp *models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.opportunities {
		if o.TenantID == opp.TenantID && o.ID == opp.ID {
			copied := *opp
			s.opportunities[i] = &copied
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryCRMStore) ListActivities(ctx context.Context, tenantID string, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Activity
	for _, a := range s.activities {
		if a.TenantID == tenantID {
			copied := *a
			result = append(result, &copied)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryCRMStore) CreateActivity(ctx context.Context, activity *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *activity
	s.activities = append(s.activities, &copied)
	return nil
}

func capAccounts(in []*models.Account, limit int) []*models.Account {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func capLeads(in []*models.Lead, limit int) []*models.Lead {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func capContacts(in []*models.Contact, limit int) []*models.Contact {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// MemoryWebhookStore implements WebhookStore in memory.
type MemoryWebhookStore struct {
	mu    sync.RWMutex
	hooks []*models.Webhook
}

func NewMemoryWebhookStore() *MemoryWebhookStore {
	return &MemoryWebhookStore{}
}

func (s *MemoryWebhookStore) Create(ctx context.Context, webhook *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *webhook
	s.hooks = append(s.hooks, &copied)
	return nil
}

func (s *MemoryWebhookStore) List(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	return s.list(tenantID, false), nil
}

func (s *MemoryWebhookStore) ListActive(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	return s.list(tenantID, true), nil
}

func (s *MemoryWebhookStore) list(tenantID string, activeOnly bool) []*models.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Webhook
	for _, w := range s.hooks {
		if w.TenantID != tenantID {
			continue
		}
		if activeOnly && !w.Active {
			continue
		}
		copied := *w
		result = append(result, &copied)
	}
	return result
}

func (s *MemoryWebhookStore) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.hooks {
		if w.TenantID == tenantID && w.ID == id {
			s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
