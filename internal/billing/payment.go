package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordPayment appends a payment event to a validated document and flips its
// payment state to PAID in the same transaction. Amounts are deliberately not
// reconciled against the document total: partial and overpayments are
// recorded as-is for the audit trail.
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, req.Method)
	}
	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	payment := Payment{
		DocumentID: req.DocumentID,
		Reference:  uuid.NewString(),
		Amount:     req.Amount,
		Method:     req.Method,
		PaidAt:     paidAt,
		Note:       req.Note,
		CreatedAt:  time.Now(),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, req.DocumentID)
		if err != nil {
			return fmt.Errorf("get document: %w", translateErr(err))
		}
		if doc.CompanyID != req.CompanyID {
			return fmt.Errorf("%w: document %d", ErrNotFound, req.DocumentID)
		}
		if doc.LifecycleState != StateValidated {
			return fmt.Errorf("%w: payments require a validated document", ErrStateConflict)
		}

		id, err := tx.InsertPayment(ctx, &payment)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		payment.ID = id

		if doc.PaymentState != PaymentPaid {
			if err := tx.SetPaymentState(ctx, req.DocumentID, PaymentPaid); err != nil {
				return fmt.Errorf("set payment state: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "billing.payment.recorded", req.DocumentID, map[string]any{
		"amount": req.Amount.String(), "method": string(req.Method),
	})
	return &payment, nil
}

// ListPayments returns the payment events for a company-scoped document.
func (s *Service) ListPayments(ctx context.Context, companyID, documentID int64) ([]Payment, error) {
	if _, err := s.GetDocument(ctx, companyID, documentID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, documentID)
}
