package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/money"
	"github.com/facturio/facturio/internal/observability"
	"github.com/facturio/facturio/internal/platform/httpx"
	"github.com/facturio/facturio/internal/shared"
)

// Handler exposes the billing engine as a JSON API.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idem,
		metrics:     metrics,
		validator:   validator.New(),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.createDocument)
	r.Get("/documents", h.listDocuments)
	r.Get("/documents/{id}", h.getDocument)
	r.Put("/documents/{id}", h.editDocument)
	r.Delete("/documents/{id}", h.deleteDocument)
	r.Post("/documents/{id}/validate", h.validateDocument)
	r.Post("/documents/{id}/duplicate", h.duplicateDocument)
	r.Post("/documents/{id}/credit-notes", h.createCreditNote)
	r.Post("/documents/{id}/rectify", h.createRectificative)
	r.Post("/documents/{id}/payments", h.recordPayment)
	r.Get("/documents/{id}/payments", h.listPayments)
}

// respondErr maps the billing taxonomy onto HTTP statuses. Concurrency
// conflicts carry Retry-After so clients re-issue the whole operation.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrStateConflict):
		httpx.Problem(w, http.StatusConflict, "State Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrExerciseClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Exercise Closed", err.Error())
	case errors.Is(err, ErrConcurrency):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusServiceUnavailable, "Concurrent Conflict", err.Error())
	default:
		h.logger.Error("billing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func companyID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-Company-ID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("X-Company-ID header required")
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// checkIdempotency claims the request key, if one was supplied. The returned
// release func rolls the claim back when processing fails.
func (h *Handler) checkIdempotency(r *http.Request, module string) (func(failed bool), error) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return func(bool) {}, nil
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		return nil, err
	}
	return func(failed bool) {
		if failed {
			_ = h.idempotency.Delete(r.Context(), key)
		}
	}, nil
}

// ============================================================================
// PAYLOADS
// ============================================================================

type linePayload struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

type suspensionPayload struct {
	AuthorizationNumber string    `json:"authorization_number" validate:"required"`
	ValidUntil          time.Time `json:"valid_until" validate:"required"`
	PurchaseOrderRef    string    `json:"purchase_order_ref" validate:"required"`
}

type createDocumentPayload struct {
	ClientID     int64              `json:"client_id" validate:"required,gt=0"`
	InvoiceKind  string             `json:"invoice_kind" validate:"required"`
	FiscalYear   int                `json:"fiscal_year" validate:"required"`
	Currency     string             `json:"currency" validate:"required,len=3"`
	ExchangeRate *decimal.Decimal   `json:"exchange_rate"`
	Suspension   *suspensionPayload `json:"suspension"`
	IssueDate    *time.Time         `json:"issue_date"`
	Lines        []linePayload      `json:"lines" validate:"required,min=1,dive"`
	ValidateNow  bool               `json:"validate_now"`
}

type creditNotePayload struct {
	Mode       string `json:"mode" validate:"required,oneof=TOTAL PARTIAL"`
	Selections []struct {
		LineID   int64           `json:"line_id" validate:"required,gt=0"`
		Quantity decimal.Decimal `json:"quantity" validate:"required"`
	} `json:"selections" validate:"dive"`
}

type rectifyPayload struct {
	ValidateNow bool `json:"validate_now"`
}

type paymentPayload struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Method string          `json:"method" validate:"required"`
	PaidAt *time.Time      `json:"paid_at"`
	Note   *string         `json:"note"`
}

func (p *suspensionPayload) toDomain() *SuspensionInfo {
	if p == nil {
		return nil
	}
	return &SuspensionInfo{
		AuthorizationNumber: p.AuthorizationNumber,
		ValidUntil:          p.ValidUntil,
		PurchaseOrderRef:    p.PurchaseOrderRef,
	}
}

func toLineRequests(payloads []linePayload) []LineRequest {
	lines := make([]LineRequest, 0, len(payloads))
	for _, lp := range payloads {
		lines = append(lines, LineRequest{
			Description: lp.Description,
			Quantity:    lp.Quantity,
			Unit:        lp.Unit,
			UnitPrice:   lp.UnitPrice,
			DiscountPct: lp.DiscountPct,
			VATRate:     lp.VATRate,
		})
	}
	return lines
}

// ============================================================================
// RESPONSES
// ============================================================================

type lineResponse struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Unit        string `json:"unit,omitempty"`
	UnitPrice   string `json:"unit_price"`
	DiscountPct string `json:"discount_pct"`
	VATRate     string `json:"vat_rate"`
	ExclTax     string `json:"excl_tax"`
	Tax         string `json:"tax"`
	InclTax     string `json:"incl_tax"`
	CreditedQty string `json:"credited_qty"`
}

type documentResponse struct {
	ID                  int64              `json:"id"`
	DocumentNumber      string             `json:"document_number"`
	DocumentType        string             `json:"document_type"`
	InvoiceKind         string             `json:"invoice_kind"`
	FiscalYear          int                `json:"fiscal_year"`
	ClientID            int64              `json:"client_id"`
	Currency            string             `json:"currency"`
	ExchangeRate        string             `json:"exchange_rate"`
	TotalExclTax        string             `json:"total_excl_tax"`
	TotalTax            string             `json:"total_tax"`
	StampDuty           string             `json:"stamp_duty"`
	TotalInclTax        string             `json:"total_incl_tax"`
	LifecycleState      string             `json:"lifecycle_state"`
	PaymentState        string             `json:"payment_state"`
	ParentDocumentID    *int64             `json:"parent_document_id,omitempty"`
	RectifiesDocumentID *int64             `json:"rectifies_document_id,omitempty"`
	Suspension          *suspensionPayload `json:"suspension,omitempty"`
	IssueDate           time.Time          `json:"issue_date"`
	ValidatedAt         *time.Time         `json:"validated_at,omitempty"`
	Lines               []lineResponse     `json:"lines,omitempty"`
}

func toDocumentResponse(doc *Document) documentResponse {
	resp := documentResponse{
		ID:                  doc.ID,
		DocumentNumber:      doc.DocumentNumber,
		DocumentType:        string(doc.DocumentType),
		InvoiceKind:         string(doc.InvoiceKind),
		FiscalYear:          doc.FiscalYear,
		ClientID:            doc.ClientID,
		Currency:            doc.Currency,
		ExchangeRate:        doc.ExchangeRate.String(),
		TotalExclTax:        doc.TotalExclTax.StringFixed(money.ScaleAmount),
		TotalTax:            doc.TotalTax.StringFixed(money.ScaleAmount),
		StampDuty:           doc.StampDuty.StringFixed(money.ScaleAmount),
		TotalInclTax:        doc.TotalInclTax.StringFixed(money.ScaleAmount),
		LifecycleState:      string(doc.LifecycleState),
		PaymentState:        string(doc.PaymentState),
		ParentDocumentID:    doc.ParentDocumentID,
		RectifiesDocumentID: doc.RectifiesDocumentID,
		IssueDate:           doc.IssueDate,
		ValidatedAt:         doc.ValidatedAt,
	}
	if doc.Suspension != nil {
		resp.Suspension = &suspensionPayload{
			AuthorizationNumber: doc.Suspension.AuthorizationNumber,
			ValidUntil:          doc.Suspension.ValidUntil,
			PurchaseOrderRef:    doc.Suspension.PurchaseOrderRef,
		}
	}
	for _, l := range doc.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:          l.ID,
			Description: l.Description,
			Quantity:    l.Quantity.StringFixed(money.ScaleQuantity),
			Unit:        l.Unit,
			UnitPrice:   l.UnitPrice.String(),
			DiscountPct: l.DiscountPct.String(),
			VATRate:     l.VATRate.String(),
			ExclTax:     l.ExclTax.StringFixed(money.ScaleAmount),
			Tax:         l.Tax.StringFixed(money.ScaleAmount),
			InclTax:     l.InclTax.StringFixed(money.ScaleAmount),
			CreditedQty: l.CreditedQty.StringFixed(money.ScaleQuantity),
		})
	}
	return resp
}

type warningResponse struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func toWarningResponses(warnings []money.Warning) []warningResponse {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]warningResponse, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, warningResponse{Line: w.Line, Message: w.Message})
	}
	return out
}

// ============================================================================
// HANDLERS
// ============================================================================

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var payload createDocumentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	release, err := h.checkIdempotency(r, "billing.document")
	if err != nil {
		h.respondErr(w, err)
		return
	}

	req := CreateDocumentRequest{
		CompanyID:    company,
		ClientID:     payload.ClientID,
		InvoiceKind:  InvoiceKind(payload.InvoiceKind),
		FiscalYear:   payload.FiscalYear,
		Currency:     payload.Currency,
		ExchangeRate: payload.ExchangeRate,
		Suspension:   payload.Suspension.toDomain(),
		Lines:        toLineRequests(payload.Lines),
		ValidateNow:  payload.ValidateNow,
	}
	if payload.IssueDate != nil {
		req.IssueDate = *payload.IssueDate
	}

	result, err := h.service.CreateDocument(r.Context(), req)
	release(err != nil)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.metrics.DocumentCreated(string(TypeInvoice))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"document_id":     result.DocumentID,
		"document_number": result.DocumentNumber,
		"warnings":        toWarningResponses(result.Warnings),
	})
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req := ListDocumentsRequest{CompanyID: company}
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		t := DocumentType(v)
		req.DocumentType = &t
	}
	if v := q.Get("state"); v != "" {
		s := LifecycleState(v)
		req.State = &s
	}
	if v := q.Get("fiscal_year"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			req.FiscalYear = &year
		}
	}
	if v := q.Get("client_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.ClientID = &id
		}
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

	docs, total, err := h.service.ListDocuments(r.Context(), req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	items := make([]documentResponse, 0, len(docs))
	for i := range docs {
		items = append(items, toDocumentResponse(&docs[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": items, "total": total})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	doc, err := h.service.GetDocument(r.Context(), company, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

type editDocumentPayload struct {
	ClientID     int64              `json:"client_id" validate:"required,gt=0"`
	InvoiceKind  string             `json:"invoice_kind" validate:"required"`
	Currency     string             `json:"currency" validate:"required,len=3"`
	ExchangeRate *decimal.Decimal   `json:"exchange_rate"`
	Suspension   *suspensionPayload `json:"suspension"`
	IssueDate    *time.Time         `json:"issue_date"`
	Lines        []linePayload      `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) editDocument(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	var payload editDocumentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	req := EditDocumentRequest{
		ClientID:     payload.ClientID,
		InvoiceKind:  InvoiceKind(payload.InvoiceKind),
		Currency:     payload.Currency,
		ExchangeRate: payload.ExchangeRate,
		Suspension:   payload.Suspension.toDomain(),
		Lines:        toLineRequests(payload.Lines),
	}
	if payload.IssueDate != nil {
		req.IssueDate = *payload.IssueDate
	}

	doc, warnings, err := h.service.EditDocument(r.Context(), company, id, req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"document": toDocumentResponse(doc),
		"warnings": toWarningResponses(warnings),
	})
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	if err := h.service.DeleteDocument(r.Context(), company, id); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateDocument(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	doc, err := h.service.ValidateDocument(r.Context(), company, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) duplicateDocument(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	result, err := h.service.DuplicateDocument(r.Context(), company, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.metrics.DocumentCreated(string(TypeInvoice))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"document_id":     result.DocumentID,
		"document_number": result.DocumentNumber,
	})
}

func (h *Handler) createCreditNote(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	var payload creditNotePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	release, err := h.checkIdempotency(r, "billing.creditnote")
	if err != nil {
		h.respondErr(w, err)
		return
	}

	req := CreateCreditNoteRequest{
		CompanyID:  company,
		DocumentID: id,
		Mode:       CreditNoteMode(payload.Mode),
	}
	for _, sel := range payload.Selections {
		req.Selections = append(req.Selections, CreditSelection{LineID: sel.LineID, Quantity: sel.Quantity})
	}

	result, err := h.service.CreateCreditNote(r.Context(), req)
	release(err != nil)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.metrics.DocumentCreated(string(TypeCreditNote))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"credit_note_id":     result.CreditNoteID,
		"credit_note_number": result.CreditNoteNumber,
	})
}

func (h *Handler) createRectificative(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	var payload rectifyPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}

	result, err := h.service.CreateRectificative(r.Context(), CreateRectificativeRequest{
		CompanyID:   company,
		DocumentID:  id,
		ValidateNow: payload.ValidateNow,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.metrics.DocumentCreated(string(TypeInvoice))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"document_id":     result.DocumentID,
		"document_number": result.DocumentNumber,
	})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	var payload paymentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	release, err := h.checkIdempotency(r, "billing.payment")
	if err != nil {
		h.respondErr(w, err)
		return
	}

	req := RecordPaymentRequest{
		CompanyID:  company,
		DocumentID: id,
		Amount:     payload.Amount,
		Method:     PaymentMethod(payload.Method),
		Note:       payload.Note,
	}
	if payload.PaidAt != nil {
		req.PaidAt = *payload.PaidAt
	}

	payment, err := h.service.RecordPayment(r.Context(), req)
	release(err != nil)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"payment_id":    payment.ID,
		"reference":     payment.Reference,
		"payment_state": string(PaymentPaid),
	})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	company, err := companyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), company, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	type paymentResponse struct {
		ID        int64     `json:"id"`
		Reference string    `json:"reference"`
		Amount    string    `json:"amount"`
		Method    string    `json:"method"`
		PaidAt    time.Time `json:"paid_at"`
		Note      *string   `json:"note,omitempty"`
	}
	items := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, paymentResponse{
			ID:        p.ID,
			Reference: p.Reference,
			Amount:    p.Amount.StringFixed(money.ScaleAmount),
			Method:    string(p.Method),
			PaidAt:    p.PaidAt,
			Note:      p.Note,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": items})
}
