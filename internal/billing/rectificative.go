package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CreateRectificativeRequest derives a corrected replacement invoice from a
// validated source.
type CreateRectificativeRequest struct {
	CompanyID   int64
	DocumentID  int64
	ValidateNow bool
}

// CreateRectificative snapshots a validated invoice into a fresh DRAFT (or
// directly VALIDATED) invoice with rectifiesDocumentRef set. Unlike a credit
// note it is not a negation: the copy is fully editable through the normal
// lifecycle before being finalized. The source is read-only input and is
// never mutated.
func (s *Service) CreateRectificative(ctx context.Context, req CreateRectificativeRequest) (*CreateDocumentResult, error) {
	source, err := s.repo.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	if source.CompanyID != req.CompanyID {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, req.DocumentID)
	}
	if source.DocumentType != TypeInvoice {
		return nil, fmt.Errorf("%w: only invoices can be rectified", ErrStateConflict)
	}
	if source.LifecycleState != StateValidated {
		return nil, fmt.Errorf("%w: source invoice must be validated", ErrStateConflict)
	}
	if req.ValidateNow {
		if err := s.requireOpenExercise(ctx, req.CompanyID, source.FiscalYear); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	sourceID := source.ID
	doc := Document{
		DocumentType:        TypeInvoice,
		InvoiceKind:         source.InvoiceKind,
		FiscalYear:          source.FiscalYear,
		CompanyID:           source.CompanyID,
		ClientID:            source.ClientID,
		Currency:            source.Currency,
		ExchangeRate:        source.ExchangeRate,
		TotalExclTax:        source.TotalExclTax,
		TotalTax:            source.TotalTax,
		StampDuty:           source.StampDuty,
		TotalInclTax:        source.TotalInclTax,
		LifecycleState:      StateDraft,
		PaymentState:        PaymentUnpaid,
		RectifiesDocumentID: &sourceID,
		Suspension:          source.Suspension,
		IssueDate:           now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.ValidateNow {
		doc.LifecycleState = StateValidated
		validatedAt := now
		doc.ValidatedAt = &validatedAt
	}
	lines := make([]DocumentLine, 0, len(source.Lines))
	for _, l := range source.Lines {
		l.ID = 0
		l.DocumentID = 0
		l.CreditedQty = decimal.Zero
		lines = append(lines, l)
	}

	result := &CreateDocumentResult{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.AllocateNumber(ctx, req.CompanyID, source.FiscalYear, FamilyInvoice)
		if err != nil {
			return fmt.Errorf("allocate number: %w", err)
		}
		doc.DocumentNumber = FormatNumber(FamilyInvoice, source.FiscalYear, n)
		id, err := tx.InsertDocument(ctx, &doc)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if err := tx.InsertLines(ctx, id, lines); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		result.DocumentID = id
		result.DocumentNumber = doc.DocumentNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "billing.rectificative.created", result.DocumentID, map[string]any{"source_id": req.DocumentID})
	return result, nil
}
