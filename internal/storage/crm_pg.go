package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// PostgresCRMStore implements CRMStore on Postgres. Every query filters by
// tenant_id; callers pass the gate-resolved tenant UUID only.
type PostgresCRMStore struct {
	db *sql.DB
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// ListAccounts returns the newest accounts for a tenant.
func (s *PostgresCRMStore) ListAccounts(ctx context.Context, tenantID string, limit int) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, industry, website, created_at, updated_at
		FROM accounts WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, tenantID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// SearchAccounts matches by name, case-insensitively.
func (s *PostgresCRMStore) SearchAccounts(ctx context.Context, tenantID, query string, limit int) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, industry, website, created_at, updated_at
		FROM accounts WHERE tenant_id = $1 AND name ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC LIMIT $3
	`, tenantID, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// CreateAccount inserts an account row.
func (s *PostgresCRMStore) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, tenant_id, name, industry, website, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.TenantID, account.Name, account.Industry, account.Website, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount fetches an account scoped to a tenant.
func (s *PostgresCRMStore) GetAccount(ctx context.Context, tenantID, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, industry, website, created_at, updated_at
		FROM accounts WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	var a models.Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Industry, &a.Website, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// UpdateAccount persists account field changes.
func (s *PostgresCRMStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET name = $1, industry = $2, website = $3, updated_at = $4
		WHERE tenant_id = $5 AND id = $6
	`, account.Name, account.Industry, account.Website, account.UpdatedAt, account.TenantID, account.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLeads returns the newest leads for a tenant.
func (s *PostgresCRMStore) ListLeads(ctx context.Context, tenantID string, limit int) ([]*models.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, company, email, status, source, created_at, updated_at
		FROM leads WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, tenantID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()
	return scanLeads(rows)
}

// SearchLeads matches by name or company, case-insensitively.
func (s *PostgresCRMStore) SearchLeads(ctx context.Context, tenantID, query string, limit int) ([]*models.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, company, email, status, source, created_at, updated_at
		FROM leads WHERE tenant_id = $1 AND (name ILIKE '%' || $2 || '%' OR company ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC LIMIT $3
	`, tenantID, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search leads: %w", err)
	}
	defer rows.Close()
	return scanLeads(rows)
}

// CreateLead inserts a lead row.
func (s *PostgresCRMStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, tenant_id, name, company, email, status, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, lead.ID, lead.TenantID, lead.Name, lead.Company, lead.Email, lead.Status, lead.Source, lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// GetLead fetches a lead scoped to a tenant.
func (s *PostgresCRMStore) GetLead(ctx context.Context, tenantID, id string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, company, email, status, source, created_at, updated_at
		FROM leads WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	var l models.Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Company, &l.Email, &l.Status, &l.Source, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	return &l, nil
}

// UpdateLead persists lead field changes.
func (s *PostgresCRMStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE leads SET name = $1, company = $2, email = $3, status = $4, source = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8
	`, lead.Name, lead.Company, lead.Email, lead.Status, lead.Source, lead.UpdatedAt, lead.TenantID, lead.ID)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListContacts returns the newest contacts for a tenant.
func (s *PostgresCRMStore) ListContacts(ctx context.Context, tenantID string, limit int) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, account_id, name, email, phone, title, created_at, updated_at
		FROM contacts WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, tenantID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// SearchContacts matches by name or email, case-insensitively.
func (s *PostgresCRMStore) SearchContacts(ctx context.Context, tenantID, query string, limit int) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, account_id, name, email, phone, title, created_at, updated_at
		FROM contacts WHERE tenant_id = $1 AND (name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC LIMIT $3
	`, tenantID, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// CreateContact inserts a contact row.
func (s *PostgresCRMStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, tenant_id, account_id, name, email, phone, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, contact.ID, contact.TenantID, contact.AccountID, contact.Name, contact.Email, contact.Phone, contact.Title, contact.CreatedAt, contact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// GetContact fetches a contact scoped to a tenant.
func (s *PostgresCRMStore) GetContact(ctx context.Context, tenantID, id string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, account_id, name, email, phone, title, created_at, updated_at
		FROM contacts WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	var c models.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	return &c, nil
}

// UpdateContact persists contact field changes.
func (s *PostgresCRMStore) UpdateContact(ctx context.Context, contact *models.Contact) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET account_id = $1, name = $2, email = $3, phone = $4, title = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8
	`, contact.AccountID, contact.Name, contact.Email, contact.Phone, contact.Title, contact.UpdatedAt, contact.TenantID, contact.ID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOpportunities returns the newest opportunities for a tenant.
func (s *PostgresCRMStore) ListOpportunities(ctx context.Context, tenantID string, limit int) ([]*models.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, account_id, name, stage, amount, close_date, created_at, updated_at
		FROM opportunities WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, tenantID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []*models.Opportunity
	for rows.Next() {
		var o models.Opportunity
		if err := rows.Scan(&o.ID, &o.TenantID, &o.AccountID, &o.Name, &o.Stage, &o.Amount, &o.CloseDate, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		opps = append(opps, &o)
	}
	return opps, rows.Err()
}

// CreateOpportunity inserts an opportunity row.
func (s *PostgresCRMStore) CreateOpportunity(ctx context.Context, opp *models.Opportunity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (id, tenant_id, account_id, name, stage, amount, close_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, opp.ID, opp.TenantID, opp.AccountID, opp.Name, opp.Stage, opp.Amount, opp.CloseDate, opp.CreatedAt, opp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create opportunity: %w", err)
	}
	return nil
}

// GetOpportunity fetches an opportunity scoped to a tenant.
func (s *PostgresCRMStore) GetOpportunity(ctx context.Context, tenantID, id string) (*models.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, account_id, name, stage, amount, close_date, created_at, updated_at
		FROM opportunities WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	var o models.Opportunity
	err := row.Scan(&o.ID, &o.TenantID, &o.AccountID, &o.Name, &o.Stage, &o.Amount, &o.CloseDate, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan opportunity: %w", err)
	}
	return &o, nil
}

// UpdateOpportunity persists opportunity field changes.
func (s *PostgresCRMStore) UpdateOpportunity(ctx context.Context, opp *models.Opportunity) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE opportunities SET account_id = $1, name = $2, stage = $3, amount = $4, close_date = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8
	`, opp.AccountID, opp.Name, opp.Stage, opp.Amount, opp.CloseDate, opp.UpdatedAt, opp.TenantID, opp.ID)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActivities returns the newest activities for a tenant.
func (s *PostgresCRMStore) ListActivities(ctx context.Context, tenantID string, limit int) ([]*models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, subject, due_at, done, created_at
		FROM activities WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, tenantID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Kind, &a.Subject, &a.DueAt, &a.Done, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// CreateActivity inserts an activity row.
func (s *PostgresCRMStore) CreateActivity(ctx context.Context, activity *models.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, tenant_id, kind, subject, due_at, done, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, activity.ID, activity.TenantID, activity.Kind, activity.Subject, activity.DueAt, activity.Done, activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func scanAccounts(rows *sql.Rows) ([]*models.Account, error) {
	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Industry, &a.Website, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

func scanLeads(rows *sql.Rows) ([]*models.Lead, error) {
	var leads []*models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Name, &l.Company, &l.Email, &l.Status, &l.Source, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, &l)
	}
	return leads, rows.Err()
}

func scanContacts(rows *sql.Rows) ([]*models.Contact, error) {
	var contacts []*models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}
