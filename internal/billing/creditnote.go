package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/money"
)

// CreateCreditNote derives a negating CREDIT_NOTE document from a validated
// invoice. The credit note is created VALIDATED immediately, numbered from
// its own sequence family, with parentDocumentRef set to the source. The
// source document itself is never mutated beyond its lines' credited-quantity
// counters.
func (s *Service) CreateCreditNote(ctx context.Context, req CreateCreditNoteRequest) (*CreditNoteResult, error) {
	switch req.Mode {
	case CreditTotal, CreditPartial:
	default:
		return nil, fmt.Errorf("%w: unknown credit mode %q", ErrValidation, req.Mode)
	}
	if req.Mode == CreditPartial && len(req.Selections) == 0 {
		return nil, fmt.Errorf("%w: partial credit note requires at least one selected line", ErrValidation)
	}

	result := &CreditNoteResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetDocumentForUpdate(ctx, req.DocumentID)
		if err != nil {
			return fmt.Errorf("get source: %w", translateErr(err))
		}
		if source.CompanyID != req.CompanyID {
			return fmt.Errorf("%w: document %d", ErrNotFound, req.DocumentID)
		}
		if source.DocumentType != TypeInvoice {
			return fmt.Errorf("%w: credit notes can only target invoices", ErrStateConflict)
		}
		if source.LifecycleState != StateValidated {
			return fmt.Errorf("%w: source invoice must be validated", ErrStateConflict)
		}
		if err := s.requireOpenExercise(ctx, req.CompanyID, source.FiscalYear); err != nil {
			return err
		}

		sourceLines, err := tx.GetLinesForUpdate(ctx, req.DocumentID)
		if err != nil {
			return fmt.Errorf("get source lines: %w", err)
		}

		var lines []DocumentLine
		var credited []CreditSelection
		var stamp decimal.Decimal
		switch req.Mode {
		case CreditTotal:
			lines, credited, err = totalCreditLines(sourceLines)
			if err != nil {
				return err
			}
			// Negate the duty only when the source actually owed one.
			stamp = source.StampDuty.Neg()
		case CreditPartial:
			lines, credited, err = partialCreditLines(sourceLines, req.Selections)
			if err != nil {
				return err
			}
			stamp = decimal.Zero
		}

		var amounts []money.LineAmounts
		for _, l := range lines {
			amounts = append(amounts, money.LineAmounts{ExclTax: l.ExclTax, Tax: l.Tax})
		}
		excl, tax := money.DocumentTotals(amounts)

		now := time.Now()
		parentID := source.ID
		note := Document{
			DocumentType:     TypeCreditNote,
			InvoiceKind:      source.InvoiceKind,
			FiscalYear:       source.FiscalYear,
			CompanyID:        source.CompanyID,
			ClientID:         source.ClientID,
			Currency:         source.Currency,
			ExchangeRate:     source.ExchangeRate,
			TotalExclTax:     excl,
			TotalTax:         tax,
			StampDuty:        stamp,
			TotalInclTax:     excl.Add(tax).Add(stamp),
			LifecycleState:   StateValidated,
			PaymentState:     PaymentUnpaid,
			ParentDocumentID: &parentID,
			Suspension:       source.Suspension,
			IssueDate:        now,
			CreatedAt:        now,
			UpdatedAt:        now,
			ValidatedAt:      &now,
		}

		n, err := tx.AllocateNumber(ctx, req.CompanyID, source.FiscalYear, FamilyCreditNote)
		if err != nil {
			return fmt.Errorf("allocate number: %w", err)
		}
		note.DocumentNumber = FormatNumber(FamilyCreditNote, source.FiscalYear, n)

		noteID, err := tx.InsertDocument(ctx, &note)
		if err != nil {
			return fmt.Errorf("insert credit note: %w", err)
		}
		if err := tx.InsertLines(ctx, noteID, lines); err != nil {
			return fmt.Errorf("insert credit note lines: %w", err)
		}
		for _, c := range credited {
			if err := tx.AddCreditedQty(ctx, c.LineID, c.Quantity); err != nil {
				return fmt.Errorf("update credited quantity: %w", err)
			}
		}
		result.CreditNoteID = noteID
		result.CreditNoteNumber = note.DocumentNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "billing.creditnote.created", result.CreditNoteID, map[string]any{
		"source_id": req.DocumentID, "mode": string(req.Mode),
	})
	return result, nil
}

// totalCreditLines negates every source line in full: quantity and all three
// stored amounts flip sign. Fails when any line was already partially
// credited, since a further total negation would over-credit it.
func totalCreditLines(sourceLines []DocumentLine) ([]DocumentLine, []CreditSelection, error) {
	lines := make([]DocumentLine, 0, len(sourceLines))
	credited := make([]CreditSelection, 0, len(sourceLines))
	for _, src := range sourceLines {
		if !src.CreditedQty.IsZero() {
			return nil, nil, fmt.Errorf("%w: line %d already partially credited", ErrStateConflict, src.ID)
		}
		lines = append(lines, DocumentLine{
			Description: src.Description,
			Quantity:    src.Quantity.Neg(),
			Unit:        src.Unit,
			UnitPrice:   src.UnitPrice,
			DiscountPct: src.DiscountPct,
			VATRate:     src.VATRate,
			ExclTax:     src.ExclTax.Neg(),
			Tax:         src.Tax.Neg(),
			InclTax:     src.InclTax.Neg(),
			CreditedQty: decimal.Zero,
			LineOrder:   src.LineOrder,
		})
		credited = append(credited, CreditSelection{LineID: src.ID, Quantity: src.Quantity})
	}
	return lines, credited, nil
}

// partialCreditLines negates a proportional share of the selected lines. The
// ratio applies to the stored, already-rounded line amounts rather than being
// recomputed from unit price, so the credit always reconciles with what the
// source invoice actually carried.
func partialCreditLines(sourceLines []DocumentLine, selections []CreditSelection) ([]DocumentLine, []CreditSelection, error) {
	byID := make(map[int64]DocumentLine, len(sourceLines))
	for _, l := range sourceLines {
		byID[l.ID] = l
	}

	lines := make([]DocumentLine, 0, len(selections))
	credited := make([]CreditSelection, 0, len(selections))
	seen := make(map[int64]bool, len(selections))
	for i, sel := range selections {
		src, ok := byID[sel.LineID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: line %d not on source invoice", ErrValidation, sel.LineID)
		}
		if seen[sel.LineID] {
			return nil, nil, fmt.Errorf("%w: line %d selected twice", ErrValidation, sel.LineID)
		}
		seen[sel.LineID] = true
		qty := money.RoundQuantity(sel.Quantity)
		if !qty.IsPositive() {
			return nil, nil, fmt.Errorf("%w: selection %d credit quantity must be positive", ErrValidation, i)
		}
		remaining := src.Quantity.Sub(src.CreditedQty)
		if qty.GreaterThan(remaining) {
			return nil, nil, fmt.Errorf("%w: selection %d credit quantity %s exceeds remaining %s", ErrValidation, i, qty, remaining)
		}

		ratio := qty.Div(src.Quantity)
		excl := money.RoundAmount(src.ExclTax.Mul(ratio)).Neg()
		tax := money.RoundAmount(src.Tax.Mul(ratio)).Neg()
		lines = append(lines, DocumentLine{
			Description: src.Description,
			Quantity:    qty.Neg(),
			Unit:        src.Unit,
			UnitPrice:   src.UnitPrice,
			DiscountPct: src.DiscountPct,
			VATRate:     src.VATRate,
			ExclTax:     excl,
			Tax:         tax,
			InclTax:     excl.Add(tax),
			CreditedQty: decimal.Zero,
			LineOrder:   len(lines) + 1,
		})
		credited = append(credited, CreditSelection{LineID: src.ID, Quantity: qty})
	}
	return lines, credited, nil
}
