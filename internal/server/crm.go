package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// crmListLimit caps collection reads through the REST surface.
const crmListLimit = 100

func (s *Server) crmLimit(r *http.Request) int {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > crmListLimit {
		limit = 50
	}
	return limit
}

func crmID(r *http.Request, prefix string) string {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		var (
			accounts []*models.Account
			err      error
		)
		if q := r.URL.Query().Get("q"); q != "" {
			accounts, err = s.deps.Stores.CRM.SearchAccounts(r.Context(), tnt.ID, q, s.crmLimit(r))
		} else {
			accounts, err = s.deps.Stores.CRM.ListAccounts(r.Context(), tnt.ID, s.crmLimit(r))
		}
		if err != nil {
			s.crmError(w, "accounts", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})

	case http.MethodPost:
		var account models.Account
		if !s.decodeJSON(w, r, &account) {
			return
		}
		if strings.TrimSpace(account.Name) == "" {
			s.jsonError(w, "name is required", http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		account.ID = uuid.NewString()
		account.TenantID = tnt.ID
		account.CreatedAt = now
		account.UpdatedAt = now
		if err := s.deps.Stores.CRM.CreateAccount(r.Context(), &account); err != nil {
			s.crmError(w, "accounts", err)
			return
		}
		s.writeJSON(w, http.StatusCreated, account)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAccountByID(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}
	id := crmID(r, "/api/crm/accounts/")
	if id == "" {
		s.jsonError(w, "account id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		account, err := s.deps.Stores.CRM.GetAccount(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "accounts", err)
			return
		}
		s.writeJSON(w, http.StatusOK, account)

	case http.MethodPut:
		account, err := s.deps.Stores.CRM.GetAccount(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "accounts", err)
			return
		}
		var patch struct {
			Name     *string `json:"name"`
			Industry *string `json:"industry"`
			Website  *string `json:"website"`
		}
		if !s.decodeJSON(w, r, &patch) {
			return
		}
		if patch.Name != nil {
			account.Name = *patch.Name
		}
		if patch.Industry != nil {
			account.Industry = *patch.Industry
		}
		if patch.Website != nil {
			account.Website = *patch.Website
		}
		account.UpdatedAt = time.Now().UTC()
		if err := s.deps.Stores.CRM.UpdateAccount(r.Context(), account); err != nil {
			s.crmError(w, "accounts", err)
			return
		}
		s.writeJSON(w, http.StatusOK, account)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		var (
			leads []*models.Lead
			err   error
		)
		if q := r.URL.Query().Get("q"); q != "" {
			leads, err = s.deps.Stores.CRM.SearchLeads(r.Context(), tnt.ID, q, s.crmLimit(r))
		} else {
			leads, err = s.deps.Stores.CRM.ListLeads(r.Context(), tnt.ID, s.crmLimit(r))
		}
		if err != nil {
			s.crmError(w, "leads", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"leads": leads})

	case http.MethodPost:
		var lead models.Lead
		if !s.decodeJSON(w, r, &lead) {
			return
		}
		if strings.TrimSpace(lead.Name) == "" {
			s.jsonError(w, "name is required", http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		lead.ID = uuid.NewString()
		lead.TenantID = tnt.ID
		if lead.Status == "" {
			lead.Status = "new"
		}
		lead.CreatedAt = now
		lead.UpdatedAt = now
		if err := s.deps.Stores.CRM.CreateLead(r.Context(), &lead); err != nil {
			s.crmError(w, "leads", err)
			return
		}
		s.writeJSON(w, http.StatusCreated, lead)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLeadByID(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}
	id := crmID(r, "/api/crm/leads/")
	if id == "" {
		s.jsonError(w, "lead id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		lead, err := s.deps.Stores.CRM.GetLead(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "leads", err)
			return
		}
		s.writeJSON(w, http.StatusOK, lead)

	case http.MethodPut:
		lead, err := s.deps.Stores.CRM.GetLead(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "leads", err)
			return
		}
		var patch struct {
			Name    *string `json:"name"`
			Company *string `json:"company"`
			Email   *string `json:"email"`
			Status  *string `json:"status"`
			Source  *string `json:"source"`
		}
		if !s.decodeJSON(w, r, &patch) {
			return
		}
		if patch.Name != nil {
			lead.Name = *patch.Name
		}
		if patch.Company != nil {
			lead.Company = *patch.Company
		}
		if patch.Email != nil {
			lead.Email = *patch.Email
		}
		if patch.Status != nil {
			lead.Status = *patch.Status
		}
		if patch.Source != nil {
			lead.Source = *patch.Source
		}
		lead.UpdatedAt = time.Now().UTC()
		if err := s.deps.Stores.CRM.UpdateLead(r.Context(), lead); err != nil {
			s.crmError(w, "leads", err)
			return
		}
		s.writeJSON(w, http.StatusOK, lead)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		var (
			contacts []*models.Contact
			err      error
		)
		if q := r.URL.Query().Get("q"); q != "" {
			contacts, err = s.deps.Stores.CRM.SearchContacts(r.Context(), tnt.ID, q, s.crmLimit(r))
		} else {
			contacts, err = s.deps.Stores.CRM.ListContacts(r.Context(), tnt.ID, s.crmLimit(r))
		}
		if err != nil {
			s.crmError(w, "contacts", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})

	case http.MethodPost:
		var contact models.Contact
		if !s.decodeJSON(w, r, &contact) {
			return
		}
		if strings.TrimSpace(contact.Name) == "" {
			s.jsonError(w, "name is required", http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		contact.ID = uuid.NewString()
		contact.TenantID = tnt.ID
		contact.CreatedAt = now
		contact.UpdatedAt = now
		if err := s.deps.Stores.CRM.CreateContact(r.Context(), &contact); err != nil {
			s.crmError(w, "contacts", err)
			return
		}
		s.writeJSON(w, http.StatusCreated, contact)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleContactByID(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}
	id := crmID(r, "/api/crm/contacts/")
	if id == "" {
		s.jsonError(w, "contact id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		contact, err := s.deps.Stores.CRM.GetContact(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "contacts", err)
			return
		}
		s.writeJSON(w, http.StatusOK, contact)

	case http.MethodPut:
		contact, err := s.deps.Stores.CRM.GetContact(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "contacts", err)
			return
		}
		var patch struct {
			AccountID *string `json:"account_id"`
			Name      *string `json:"name"`
			Email     *string `json:"email"`
			Phone     *string `json:"phone"`
			Title     *string `json:"title"`
		}
		if !s.decodeJSON(w, r, &patch) {
			return
		}
		if patch.AccountID != nil {
			contact.AccountID = *patch.AccountID
		}
		if patch.Name != nil {
			contact.Name = *patch.Name
		}
		if patch.Email != nil {
			contact.Email = *patch.Email
		}
		if patch.Phone != nil {
			contact.Phone = *patch.Phone
		}
		if patch.Title != nil {
			contact.Title = *patch.Title
		}
		contact.UpdatedAt = time.Now().UTC()
		if err := s.deps.Stores.CRM.UpdateContact(r.Context(), contact); err != nil {
			s.crmError(w, "contacts", err)
			return
		}
		s.writeJSON(w, http.StatusOK, contact)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		opps, err := s.deps.Stores.CRM.ListOpportunities(r.Context(), tnt.ID, s.crmLimit(r))
		if err != nil {
			s.crmError(w, "opportunities", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})

	case http.MethodPost:
		var opp models.Opportunity
		if !s.decodeJSON(w, r, &opp) {
			return
		}
		if strings.TrimSpace(opp.Name) == "" {
			s.jsonError(w, "name is required", http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		opp.ID = uuid.NewString()
		opp.TenantID = tnt.ID
		if opp.Stage == "" {
			opp.Stage = "qualify"
		}
		opp.CreatedAt = now
		opp.UpdatedAt = now
		if err := s.deps.Stores.CRM.CreateOpportunity(r.Context(), &opp); err != nil {
			s.crmError(w, "opportunities", err)
			return
		}
		s.writeJSON(w, http.StatusCreated, opp)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOpportunityByID(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}
	id := crmID(r, "/api/crm/opportunities/")
	if id == "" {
		s.jsonError(w, "opportunity id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		opp, err := s.deps.Stores.CRM.GetOpportunity(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "opportunities", err)
			return
		}
		s.writeJSON(w, http.StatusOK, opp)

	case http.MethodPut:
		opp, err := s.deps.Stores.CRM.GetOpportunity(r.Context(), tnt.ID, id)
		if err != nil {
			s.crmError(w, "opportunities", err)
			return
		}
		var patch struct {
			Name      *string    `json:"name"`
			Stage     *string    `json:"stage"`
			Amount    *float64   `json:"amount"`
			CloseDate *time.Time `json:"close_date"`
		}
		if !s.decodeJSON(w, r, &patch) {
			return
		}
		if patch.Name != nil {
			opp.Name = *patch.Name
		}
		if patch.Stage != nil {
			opp.Stage = *patch.Stage
		}
		if patch.Amount != nil {
			opp.Amount = *patch.Amount
		}
		if patch.CloseDate != nil {
			opp.CloseDate = *patch.CloseDate
		}
		opp.UpdatedAt = time.Now().UTC()
		if err := s.deps.Stores.CRM.UpdateOpportunity(r.Context(), opp); err != nil {
			s.crmError(w, "opportunities", err)
			return
		}
		s.writeJSON(w, http.StatusOK, opp)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		activities, err := s.deps.Stores.CRM.ListActivities(r.Context(), tnt.ID, s.crmLimit(r))
		if err != nil {
			s.crmError(w, "activities", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"activities": activities})

	case http.MethodPost:
		var activity models.Activity
		if !s.decodeJSON(w, r, &activity) {
			return
		}
		if strings.TrimSpace(activity.Subject) == "" {
			s.jsonError(w, "subject is required", http.StatusBadRequest)
			return
		}
		if activity.Kind == "" {
			activity.Kind = "task"
		}
		activity.ID = uuid.NewString()
		activity.TenantID = tnt.ID
		activity.CreatedAt = time.Now().UTC()
		if err := s.deps.Stores.CRM.CreateActivity(r.Context(), &activity); err != nil {
			s.crmError(w, "activities", err)
			return
		}
		s.writeJSON(w, http.StatusCreated, activity)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// crmError maps storage failures onto HTTP responses.
func (s *Server) crmError(w http.ResponseWriter, entity string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error("crm operation failed", "entity", entity, "error", err)
	s.jsonError(w, "operation failed", http.StatusInternalServerError)
}
