package clients

import "time"

// Client is a billable counterparty in the company's directory.
type Client struct {
	ID              int64
	CompanyID       int64
	Name            string
	TaxID           string
	Email           *string
	Phone           *string
	AddressLine1    *string
	AddressLine2    *string
	City            *string
	PostalCode      *string
	Country         *string
	DefaultCurrency string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateClientRequest carries the fields accepted at creation.
type CreateClientRequest struct {
	CompanyID       int64
	Name            string
	TaxID           string
	Email           *string
	Phone           *string
	AddressLine1    *string
	AddressLine2    *string
	City            *string
	PostalCode      *string
	Country         *string
	DefaultCurrency string
}

// UpdateClientRequest carries optional field updates.
type UpdateClientRequest struct {
	Name            *string
	TaxID           *string
	Email           *string
	Phone           *string
	AddressLine1    *string
	AddressLine2    *string
	City            *string
	PostalCode      *string
	Country         *string
	DefaultCurrency *string
	IsActive        *bool
}

// ListClientsRequest filters the directory listing.
type ListClientsRequest struct {
	CompanyID int64
	Search    *string
	IsActive  *bool
	Limit     int
	Offset    int
}
