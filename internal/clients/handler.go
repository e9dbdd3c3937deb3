package clients

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/facturio/facturio/internal/platform/httpx"
)

// Handler exposes the client directory as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers client directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/clients", h.createClient)
	r.Get("/clients", h.listClients)
	r.Get("/clients/{id}", h.getClient)
	r.Put("/clients/{id}", h.updateClient)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("clients request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func companyID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.Header.Get("X-Company-ID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("X-Company-ID header required")
	}
	return id, nil
}

type clientPayload struct {
	Name            string  `json:"name" validate:"required"`
	TaxID           string  `json:"tax_id" validate:"required"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	AddressLine1    *string `json:"address_line1"`
	AddressLine2    *string `json:"address_line2"`
	City            *string `json:"city"`
	PostalCode      *string `json:"postal_code"`
	Country         *string `json:"country"`
	DefaultCurrency string  `json:"default_currency" validate:"required,len=3"`
}

type clientResponse struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	TaxID           string  `json:"tax_id"`
	Email           *string `json:"email,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	AddressLine1    *string `json:"address_line1,omitempty"`
	AddressLine2    *string `json:"address_line2,omitempty"`
	City            *string `json:"city,omitempty"`
	PostalCode      *string `json:"postal_code,omitempty"`
	Country         *string `json:"country,omitempty"`
	DefaultCurrency string  `json:"default_currency"`
	IsActive        bool    `json:"is_active"`
}

func toClientResponse(c *Client) clientResponse {
	return clientResponse{
		ID:              c.ID,
		Name:            c.Name,
		TaxID:           c.TaxID,
		Email:           c.Email,
		Phone:           c.Phone,
		AddressLine1:    c.AddressLine1,
		AddressLine2:    c.AddressLine2,
		City:            c.City,
		PostalCode:      c.PostalCode,
		Country:         c.Country,
		DefaultCurrency: c.DefaultCurrency,
		IsActive:        c.IsActive,
	}
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var payload clientPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	c, err := h.service.CreateClient(r.Context(), CreateClientRequest{
		CompanyID:       company,
		Name:            payload.Name,
		TaxID:           payload.TaxID,
		Email:           payload.Email,
		Phone:           payload.Phone,
		AddressLine1:    payload.AddressLine1,
		AddressLine2:    payload.AddressLine2,
		City:            payload.City,
		PostalCode:      payload.PostalCode,
		Country:         payload.Country,
		DefaultCurrency: payload.DefaultCurrency,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toClientResponse(c))
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req := ListClientsRequest{CompanyID: company}
	q := r.URL.Query()
	if v := q.Get("search"); v != "" {
		req.Search = &v
	}
	if v := q.Get("is_active"); v != "" {
		active := v == "true"
		req.IsActive = &active
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			req.Offset = n
		}
	}

	list, total, err := h.service.ListClients(r.Context(), req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	items := make([]clientResponse, 0, len(list))
	for i := range list {
		items = append(items, toClientResponse(&list[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"clients": items, "total": total})
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid client id")
		return
	}
	c, err := h.service.GetClient(r.Context(), company, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toClientResponse(c))
}

type updateClientPayload struct {
	Name            *string `json:"name"`
	TaxID           *string `json:"tax_id"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	AddressLine1    *string `json:"address_line1"`
	AddressLine2    *string `json:"address_line2"`
	City            *string `json:"city"`
	PostalCode      *string `json:"postal_code"`
	Country         *string `json:"country"`
	DefaultCurrency *string `json:"default_currency"`
	IsActive        *bool   `json:"is_active"`
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid client id")
		return
	}
	var payload updateClientPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}

	c, err := h.service.UpdateClient(r.Context(), company, id, UpdateClientRequest{
		Name:            payload.Name,
		TaxID:           payload.TaxID,
		Email:           payload.Email,
		Phone:           payload.Phone,
		AddressLine1:    payload.AddressLine1,
		AddressLine2:    payload.AddressLine2,
		City:            payload.City,
		PostalCode:      payload.PostalCode,
		Country:         payload.Country,
		DefaultCurrency: payload.DefaultCurrency,
		IsActive:        payload.IsActive,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toClientResponse(c))
}
