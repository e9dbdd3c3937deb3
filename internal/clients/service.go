package clients

import (
	"context"
	"errors"
	"fmt"
)

// ErrValidation covers malformed client input.
var ErrValidation = errors.New("clients: validation failed")

// Service provides directory business logic.
type Service struct {
	repo *Repository
}

// NewService constructs a clients service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// CreateClient registers a new counterparty.
func (s *Service) CreateClient(ctx context.Context, req CreateClientRequest) (*Client, error) {
	if req.CompanyID <= 0 {
		return nil, fmt.Errorf("%w: company required", ErrValidation)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrValidation)
	}
	if req.TaxID == "" {
		return nil, fmt.Errorf("%w: tax id required", ErrValidation)
	}
	if len(req.DefaultCurrency) != 3 {
		return nil, fmt.Errorf("%w: default currency must be a 3-letter code", ErrValidation)
	}
	id, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// UpdateClient applies partial field updates.
func (s *Service) UpdateClient(ctx context.Context, companyID, id int64, req UpdateClientRequest) (*Client, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.CompanyID != companyID {
		return nil, ErrNotFound
	}

	updates := make(map[string]any)
	if req.Name != nil {
		if *req.Name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		updates["name"] = *req.Name
	}
	if req.TaxID != nil {
		updates["tax_id"] = *req.TaxID
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.AddressLine1 != nil {
		updates["address_line1"] = *req.AddressLine1
	}
	if req.AddressLine2 != nil {
		updates["address_line2"] = *req.AddressLine2
	}
	if req.City != nil {
		updates["city"] = *req.City
	}
	if req.PostalCode != nil {
		updates["postal_code"] = *req.PostalCode
	}
	if req.Country != nil {
		updates["country"] = *req.Country
	}
	if req.DefaultCurrency != nil {
		if len(*req.DefaultCurrency) != 3 {
			return nil, fmt.Errorf("%w: default currency must be a 3-letter code", ErrValidation)
		}
		updates["default_currency"] = *req.DefaultCurrency
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return existing, nil
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// GetClient loads a company-scoped client.
func (s *Service) GetClient(ctx context.Context, companyID, id int64) (*Client, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListClients returns a filtered page of clients.
func (s *Service) ListClients(ctx context.Context, req ListClientsRequest) ([]Client, int, error) {
	return s.repo.List(ctx, req)
}

// ClientExists satisfies the billing engine's directory port.
func (s *Service) ClientExists(ctx context.Context, companyID, clientID int64) (bool, error) {
	return s.repo.Exists(ctx, companyID, clientID)
}
