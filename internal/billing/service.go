package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/money"
	"github.com/facturio/facturio/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (*Document, error)
	ListDocuments(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error)
	ListPayments(ctx context.Context, documentID int64) ([]Payment, error)
}

// ClientDirectory resolves client references before a document is created.
type ClientDirectory interface {
	ClientExists(ctx context.Context, companyID, clientID int64) (bool, error)
}

// ExerciseGate reports whether a company's fiscal exercise accepts new
// validated documents.
type ExerciseGate interface {
	ExerciseOpen(ctx context.Context, companyID int64, fiscalYear int) (bool, error)
}

// Service implements the document lifecycle, credit-note and rectificative
// derivations and the payment ledger.
type Service struct {
	repo      RepositoryPort
	clients   ClientDirectory
	exercises ExerciseGate
	audit     *shared.AuditLogger
	policy    money.StampPolicy
}

// NewService constructs a billing service.
func NewService(repo RepositoryPort, clients ClientDirectory, exercises ExerciseGate, audit *shared.AuditLogger, policy money.StampPolicy) *Service {
	return &Service{
		repo:      repo,
		clients:   clients,
		exercises: exercises,
		audit:     audit,
		policy:    policy,
	}
}

// documentContent holds derived lines and totals ready for persistence.
type documentContent struct {
	lines        []DocumentLine
	totalExcl    decimal.Decimal
	totalTax     decimal.Decimal
	stampDuty    decimal.Decimal
	totalInclTax decimal.Decimal
	warnings     []money.Warning
}

// validateHeader checks the classification fields shared by create and edit,
// returning the normalized exchange rate.
func (s *Service) validateHeader(kind InvoiceKind, currency string, rate *decimal.Decimal, susp *SuspensionInfo) (decimal.Decimal, error) {
	if !kind.Valid() {
		return decimal.Decimal{}, fmt.Errorf("%w: unknown invoice kind %q", ErrValidation, kind)
	}
	if len(currency) != 3 {
		return decimal.Decimal{}, fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	if kind == KindVATSuspended {
		if susp == nil || susp.AuthorizationNumber == "" || susp.ValidUntil.IsZero() || susp.PurchaseOrderRef == "" {
			return decimal.Decimal{}, fmt.Errorf("%w: VAT suspension requires authorization number, validity date and purchase order reference", ErrValidation)
		}
	} else if susp != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: suspension fields only apply to VAT_SUSPENDED documents", ErrValidation)
	}

	if currency == s.policy.HomeCurrency {
		if rate != nil && !rate.Equal(decimal.NewFromInt(1)) {
			return decimal.Decimal{}, fmt.Errorf("%w: exchange rate must be 1 for %s documents", ErrValidation, currency)
		}
		return decimal.NewFromInt(1), nil
	}
	if rate == nil || !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: positive exchange rate required for currency %s", ErrValidation, currency)
	}
	return *rate, nil
}

// computeContent runs the calculator over the request lines and derives the
// document totals, including stamp duty.
func (s *Service) computeContent(kind InvoiceKind, currency string, reqs []LineRequest) (*documentContent, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: document requires at least one line", ErrValidation)
	}
	inputs := make([]money.LineInput, 0, len(reqs))
	for i, lr := range reqs {
		if lr.Description == "" {
			return nil, fmt.Errorf("%w: line %d missing description", ErrValidation, i)
		}
		if !lr.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i)
		}
		inputs = append(inputs, money.LineInput{
			Quantity:    money.RoundQuantity(lr.Quantity),
			UnitPrice:   lr.UnitPrice,
			DiscountPct: lr.DiscountPct,
			VATRate:     lr.VATRate,
		})
	}

	amounts, warnings, err := money.ComputeLines(kind, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	lines := make([]DocumentLine, 0, len(reqs))
	for i, lr := range reqs {
		lines = append(lines, DocumentLine{
			Description: lr.Description,
			Quantity:    inputs[i].Quantity,
			Unit:        lr.Unit,
			UnitPrice:   lr.UnitPrice,
			DiscountPct: lr.DiscountPct,
			VATRate:     amounts[i].VATRate,
			ExclTax:     amounts[i].ExclTax,
			Tax:         amounts[i].Tax,
			InclTax:     amounts[i].InclTax,
			CreditedQty: decimal.Zero,
			LineOrder:   i + 1,
		})
	}

	excl, tax := money.DocumentTotals(amounts)
	stamp := s.policy.StampDuty(kind, currency)
	return &documentContent{
		lines:        lines,
		totalExcl:    excl,
		totalTax:     tax,
		stampDuty:    stamp,
		totalInclTax: excl.Add(tax).Add(stamp),
		warnings:     warnings,
	}, nil
}

// requireOpenExercise enforces the fiscal gate on any transition into
// VALIDATED.
func (s *Service) requireOpenExercise(ctx context.Context, companyID int64, fiscalYear int) error {
	open, err := s.exercises.ExerciseOpen(ctx, companyID, fiscalYear)
	if err != nil {
		return fmt.Errorf("check exercise: %w", err)
	}
	if !open {
		return fmt.Errorf("%w: exercise %d", ErrExerciseClosed, fiscalYear)
	}
	return nil
}

// recordAudit is best effort; a failed audit write never fails the operation.
func (s *Service) recordAudit(ctx context.Context, action string, documentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "billing_document",
		EntityID: strconv.FormatInt(documentID, 10),
		Meta:     meta,
		At:       time.Now(),
	})
}

// ============================================================================
// DOCUMENT LIFECYCLE
// ============================================================================

// CreateDocument creates an invoice as DRAFT, or directly VALIDATED when
// requested. The sequence number is allocated inside the insert transaction,
// so an aborted create never consumes a number.
func (s *Service) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*CreateDocumentResult, error) {
	if req.CompanyID <= 0 {
		return nil, fmt.Errorf("%w: company required", ErrValidation)
	}
	if req.ClientID <= 0 {
		return nil, fmt.Errorf("%w: client required", ErrValidation)
	}
	if req.FiscalYear < 2000 || req.FiscalYear > 2100 {
		return nil, fmt.Errorf("%w: fiscal year %d out of range", ErrValidation, req.FiscalYear)
	}
	rate, err := s.validateHeader(req.InvoiceKind, req.Currency, req.ExchangeRate, req.Suspension)
	if err != nil {
		return nil, err
	}
	content, err := s.computeContent(req.InvoiceKind, req.Currency, req.Lines)
	if err != nil {
		return nil, err
	}

	exists, err := s.clients.ClientExists(ctx, req.CompanyID, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("verify client: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: client %d", ErrNotFound, req.ClientID)
	}

	if req.ValidateNow {
		if err := s.requireOpenExercise(ctx, req.CompanyID, req.FiscalYear); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}
	doc := Document{
		DocumentType:   TypeInvoice,
		InvoiceKind:    req.InvoiceKind,
		FiscalYear:     req.FiscalYear,
		CompanyID:      req.CompanyID,
		ClientID:       req.ClientID,
		Currency:       req.Currency,
		ExchangeRate:   rate,
		TotalExclTax:   content.totalExcl,
		TotalTax:       content.totalTax,
		StampDuty:      content.stampDuty,
		TotalInclTax:   content.totalInclTax,
		LifecycleState: StateDraft,
		PaymentState:   PaymentUnpaid,
		Suspension:     req.Suspension,
		IssueDate:      issueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.ValidateNow {
		doc.LifecycleState = StateValidated
		validatedAt := now
		doc.ValidatedAt = &validatedAt
	}

	result := &CreateDocumentResult{Warnings: content.warnings}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.AllocateNumber(ctx, req.CompanyID, req.FiscalYear, FamilyInvoice)
		if err != nil {
			return fmt.Errorf("allocate number: %w", err)
		}
		doc.DocumentNumber = FormatNumber(FamilyInvoice, req.FiscalYear, n)
		id, err := tx.InsertDocument(ctx, &doc)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if err := tx.InsertLines(ctx, id, content.lines); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		result.DocumentID = id
		result.DocumentNumber = doc.DocumentNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "billing.document.created", result.DocumentID, map[string]any{
		"number": result.DocumentNumber, "state": string(doc.LifecycleState),
	})
	return result, nil
}

// EditDocument replaces a DRAFT document's content wholesale and recomputes
// its totals. The document number never changes.
func (s *Service) EditDocument(ctx context.Context, companyID, id int64, req EditDocumentRequest) (*Document, []money.Warning, error) {
	if req.ClientID <= 0 {
		return nil, nil, fmt.Errorf("%w: client required", ErrValidation)
	}
	rate, err := s.validateHeader(req.InvoiceKind, req.Currency, req.ExchangeRate, req.Suspension)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.computeContent(req.InvoiceKind, req.Currency, req.Lines)
	if err != nil {
		return nil, nil, err
	}
	exists, err := s.clients.ClientExists(ctx, companyID, req.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("verify client: %w", err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("%w: client %d", ErrNotFound, req.ClientID)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get document: %w", translateErr(err))
		}
		if existing.CompanyID != companyID {
			return fmt.Errorf("%w: document %d", ErrNotFound, id)
		}
		if existing.LifecycleState != StateDraft {
			return fmt.Errorf("%w: only DRAFT documents can be edited", ErrStateConflict)
		}

		existing.ClientID = req.ClientID
		existing.InvoiceKind = req.InvoiceKind
		existing.Currency = req.Currency
		existing.ExchangeRate = rate
		existing.Suspension = req.Suspension
		if !req.IssueDate.IsZero() {
			existing.IssueDate = req.IssueDate
		}
		existing.TotalExclTax = content.totalExcl
		existing.TotalTax = content.totalTax
		existing.StampDuty = content.stampDuty
		existing.TotalInclTax = content.totalInclTax
		existing.UpdatedAt = time.Now()

		if err := tx.UpdateDocument(ctx, existing); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		if err := tx.InsertLines(ctx, id, content.lines); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.recordAudit(ctx, "billing.document.edited", id, nil)
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, content.warnings, nil
}

// DeleteDocument removes a DRAFT document and its lines. The consumed number
// is never reissued.
func (s *Service) DeleteDocument(ctx context.Context, companyID, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get document: %w", translateErr(err))
		}
		if existing.CompanyID != companyID {
			return fmt.Errorf("%w: document %d", ErrNotFound, id)
		}
		if existing.LifecycleState != StateDraft {
			return fmt.Errorf("%w: only DRAFT documents can be deleted", ErrStateConflict)
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		if err := tx.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "billing.document.deleted", id, nil)
	return nil
}

// ValidateDocument performs the DRAFT to VALIDATED transition. Irreversible;
// requires the document's fiscal exercise to be open.
func (s *Service) ValidateDocument(ctx context.Context, companyID, id int64) (*Document, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get document: %w", translateErr(err))
		}
		if existing.CompanyID != companyID {
			return fmt.Errorf("%w: document %d", ErrNotFound, id)
		}
		if existing.LifecycleState != StateDraft {
			return fmt.Errorf("%w: document already validated", ErrStateConflict)
		}
		if err := s.requireOpenExercise(ctx, companyID, existing.FiscalYear); err != nil {
			return err
		}
		return tx.SetValidated(ctx, id, time.Now())
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "billing.document.validated", id, nil)
	return s.repo.GetDocument(ctx, id)
}

// DuplicateDocument copies a DRAFT document into a brand-new DRAFT with a
// freshly allocated number, dated now. Back-references are not carried over.
func (s *Service) DuplicateDocument(ctx context.Context, companyID, id int64) (*CreateDocumentResult, error) {
	result := &CreateDocumentResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get document: %w", translateErr(err))
		}
		if source.CompanyID != companyID {
			return fmt.Errorf("%w: document %d", ErrNotFound, id)
		}
		if source.LifecycleState != StateDraft {
			return fmt.Errorf("%w: only DRAFT documents can be duplicated", ErrStateConflict)
		}
		sourceLines, err := tx.GetLinesForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get lines: %w", err)
		}

		now := time.Now()
		copyDoc := Document{
			DocumentType:   TypeInvoice,
			InvoiceKind:    source.InvoiceKind,
			FiscalYear:     source.FiscalYear,
			CompanyID:      source.CompanyID,
			ClientID:       source.ClientID,
			Currency:       source.Currency,
			ExchangeRate:   source.ExchangeRate,
			TotalExclTax:   source.TotalExclTax,
			TotalTax:       source.TotalTax,
			StampDuty:      source.StampDuty,
			TotalInclTax:   source.TotalInclTax,
			LifecycleState: StateDraft,
			PaymentState:   PaymentUnpaid,
			Suspension:     source.Suspension,
			IssueDate:      now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		lines := make([]DocumentLine, 0, len(sourceLines))
		for _, l := range sourceLines {
			l.ID = 0
			l.DocumentID = 0
			l.CreditedQty = decimal.Zero
			lines = append(lines, l)
		}

		n, err := tx.AllocateNumber(ctx, companyID, source.FiscalYear, FamilyInvoice)
		if err != nil {
			return fmt.Errorf("allocate number: %w", err)
		}
		copyDoc.DocumentNumber = FormatNumber(FamilyInvoice, source.FiscalYear, n)
		newID, err := tx.InsertDocument(ctx, &copyDoc)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if err := tx.InsertLines(ctx, newID, lines); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		result.DocumentID = newID
		result.DocumentNumber = copyDoc.DocumentNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "billing.document.duplicated", result.DocumentID, map[string]any{"source_id": id})
	return result, nil
}

// GetDocument loads a company-scoped document with its lines.
func (s *Service) GetDocument(ctx context.Context, companyID, id int64) (*Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.CompanyID != companyID {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return doc, nil
}

// ListDocuments returns a filtered page of documents and the total count.
func (s *Service) ListDocuments(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	if req.CompanyID <= 0 {
		return nil, 0, fmt.Errorf("%w: company required", ErrValidation)
	}
	return s.repo.ListDocuments(ctx, req)
}
