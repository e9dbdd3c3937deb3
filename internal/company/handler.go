package company

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facturio/facturio/internal/platform/httpx"
)

// Handler exposes company profile and exercise endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers company routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/company", h.getCompany)
	r.Get("/company/exercises", h.listExercises)
	r.Post("/company/exercises/{year}/close", h.closeExercise)
	r.Post("/company/exercises/{year}/reopen", h.reopenExercise)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("company request failed", slog.Any("error", err))
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

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	c, err := h.service.GetCompany(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":            c.ID,
		"name":          c.Name,
		"tax_id":        c.TaxID,
		"address":       c.Address,
		"city":          c.City,
		"postal_code":   c.PostalCode,
		"country":       c.Country,
		"home_currency": c.HomeCurrency,
	})
}

type exerciseResponse struct {
	FiscalYear int        `json:"fiscal_year"`
	Status     string     `json:"status"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

func (h *Handler) listExercises(w http.ResponseWriter, r *http.Request) {
	id, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	list, err := h.service.ListExercises(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	items := make([]exerciseResponse, 0, len(list))
	for _, e := range list {
		items = append(items, exerciseResponse{FiscalYear: e.FiscalYear, Status: string(e.Status), ClosedAt: e.ClosedAt})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"exercises": items})
}

func (h *Handler) closeExercise(w http.ResponseWriter, r *http.Request) {
	h.setExercise(w, r, h.service.CloseExercise)
}

func (h *Handler) reopenExercise(w http.ResponseWriter, r *http.Request) {
	h.setExercise(w, r, h.service.ReopenExercise)
}

func (h *Handler) setExercise(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, companyID int64, year int) error) {
	id, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid fiscal year")
		return
	}
	if err := fn(r.Context(), id, year); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
