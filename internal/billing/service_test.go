package billing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/money"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// memoryRepo implements RepositoryPort and TxRepository over maps. WithTx
// serializes callbacks under a mutex, standing in for the repeatable-read
// transaction plus row lock the real repository takes.
type memoryRepo struct {
	mu         sync.Mutex
	docs       map[int64]*Document
	lines      map[int64][]DocumentLine
	payments   map[int64][]Payment
	sequences  map[string]int64
	nextDocID  int64
	nextLineID int64
	nextPayID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		docs:      make(map[int64]*Document),
		lines:     make(map[int64][]DocumentLine),
		payments:  make(map[int64][]Payment),
		sequences: make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, r)
}

func (r *memoryRepo) AllocateNumber(ctx context.Context, companyID int64, fiscalYear int, family SequenceFamily) (int64, error) {
	key := fmt.Sprintf("%d/%d/%s", companyID, fiscalYear, family)
	r.sequences[key]++
	return r.sequences[key], nil
}

// GetDocument takes the lock twice, matching the two separate pool queries
// the real repository issues for the header and the lines.
func (r *memoryRepo) GetDocument(ctx context.Context, id int64) (*Document, error) {
	r.mu.Lock()
	doc, ok := r.docs[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	out := *doc
	r.mu.Unlock()

	r.mu.Lock()
	out.Lines = append([]DocumentLine(nil), r.lines[id]...)
	r.mu.Unlock()
	return &out, nil
}

func (r *memoryRepo) GetDocumentForUpdate(ctx context.Context, id int64) (*Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *doc
	return &out, nil
}

func (r *memoryRepo) GetLinesForUpdate(ctx context.Context, documentID int64) ([]DocumentLine, error) {
	return append([]DocumentLine(nil), r.lines[documentID]...), nil
}

func (r *memoryRepo) InsertDocument(ctx context.Context, doc *Document) (int64, error) {
	r.nextDocID++
	stored := *doc
	stored.ID = r.nextDocID
	r.docs[stored.ID] = &stored
	return stored.ID, nil
}

func (r *memoryRepo) InsertLines(ctx context.Context, documentID int64, lines []DocumentLine) error {
	for i, l := range lines {
		r.nextLineID++
		l.ID = r.nextLineID
		l.DocumentID = documentID
		l.LineOrder = i + 1
		r.lines[documentID] = append(r.lines[documentID], l)
	}
	return nil
}

func (r *memoryRepo) UpdateDocument(ctx context.Context, doc *Document) error {
	stored, ok := r.docs[doc.ID]
	if !ok {
		return ErrNotFound
	}
	updated := *doc
	updated.Lines = nil
	updated.LifecycleState = stored.LifecycleState
	updated.PaymentState = stored.PaymentState
	r.docs[doc.ID] = &updated
	return nil
}

func (r *memoryRepo) DeleteLines(ctx context.Context, documentID int64) error {
	delete(r.lines, documentID)
	return nil
}

func (r *memoryRepo) DeleteDocument(ctx context.Context, id int64) error {
	delete(r.docs, id)
	return nil
}

func (r *memoryRepo) SetValidated(ctx context.Context, id int64, validatedAt time.Time) error {
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.LifecycleState = StateValidated
	doc.ValidatedAt = &validatedAt
	return nil
}

func (r *memoryRepo) SetPaymentState(ctx context.Context, id int64, state PaymentState) error {
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.PaymentState = state
	return nil
}

func (r *memoryRepo) AddCreditedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	for docID, lines := range r.lines {
		for i, l := range lines {
			if l.ID == lineID {
				r.lines[docID][i].CreditedQty = l.CreditedQty.Add(qty)
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) InsertPayment(ctx context.Context, p *Payment) (int64, error) {
	r.nextPayID++
	stored := *p
	stored.ID = r.nextPayID
	r.payments[p.DocumentID] = append(r.payments[p.DocumentID], stored)
	return stored.ID, nil
}

func (r *memoryRepo) ListDocuments(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Document
	for _, doc := range r.docs {
		if doc.CompanyID != req.CompanyID {
			continue
		}
		if req.DocumentType != nil && doc.DocumentType != *req.DocumentType {
			continue
		}
		if req.State != nil && doc.LifecycleState != *req.State {
			continue
		}
		out = append(out, *doc)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, documentID int64) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Payment(nil), r.payments[documentID]...), nil
}

type stubClients struct {
	exists bool
}

func (s stubClients) ClientExists(ctx context.Context, companyID, clientID int64) (bool, error) {
	return s.exists, nil
}

type stubExercises struct {
	closed map[int]bool
}

func (s *stubExercises) ExerciseOpen(ctx context.Context, companyID int64, fiscalYear int) (bool, error) {
	return !s.closed[fiscalYear], nil
}

func newTestService() (*Service, *memoryRepo, *stubExercises) {
	repo := newMemoryRepo()
	exercises := &stubExercises{closed: make(map[int]bool)}
	svc := NewService(repo, stubClients{exists: true}, exercises, nil, money.DefaultStampPolicy)
	return svc, repo, exercises
}

func localInvoiceRequest() CreateDocumentRequest {
	return CreateDocumentRequest{
		CompanyID:   1,
		ClientID:    10,
		InvoiceKind: KindLocal,
		FiscalYear:  2026,
		Currency:    "TND",
		Lines: []LineRequest{
			{Description: "Consulting", Quantity: dec("2"), UnitPrice: dec("50.00"), VATRate: dec("19")},
		},
	}
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateDocumentDraft(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-00001", res.DocumentNumber)
	require.Empty(t, res.Warnings)

	doc := repo.docs[res.DocumentID]
	require.Equal(t, StateDraft, doc.LifecycleState)
	require.Equal(t, PaymentUnpaid, doc.PaymentState)
	require.Nil(t, doc.ValidatedAt)
	require.Equal(t, "100.00", doc.TotalExclTax.StringFixed(2))
	require.Equal(t, "19.00", doc.TotalTax.StringFixed(2))
	require.Equal(t, "1.00", doc.StampDuty.StringFixed(2))
	require.Equal(t, "120.00", doc.TotalInclTax.StringFixed(2))
	require.Len(t, repo.lines[res.DocumentID], 1)
}

func TestCreateDocumentValidateNow(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	req := localInvoiceRequest()
	req.ValidateNow = true
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)

	doc := repo.docs[res.DocumentID]
	require.Equal(t, StateValidated, doc.LifecycleState)
	require.NotNil(t, doc.ValidatedAt)
}

func TestCreateDocumentValidateNowClosedExercise(t *testing.T) {
	ctx := context.Background()
	svc, _, exercises := newTestService()
	exercises.closed[2026] = true

	req := localInvoiceRequest()
	req.ValidateNow = true
	_, err := svc.CreateDocument(ctx, req)
	require.ErrorIs(t, err, ErrExerciseClosed)
}

func TestCreateDocumentExportForcesZeroVAT(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	req := localInvoiceRequest()
	req.InvoiceKind = KindExport
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	doc := repo.docs[res.DocumentID]
	require.Equal(t, "100.00", doc.TotalExclTax.StringFixed(2))
	require.Equal(t, "0.00", doc.TotalTax.StringFixed(2))
	require.Equal(t, "0.00", doc.StampDuty.StringFixed(2))
	require.Equal(t, "100.00", doc.TotalInclTax.StringFixed(2))
}

func TestCreateDocumentForeignCurrencyRequiresRate(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	req := localInvoiceRequest()
	req.Currency = "EUR"
	_, err := svc.CreateDocument(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	rate := dec("3.35")
	req.ExchangeRate = &rate
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)

	// Foreign currency documents owe no stamp duty.
	doc := repo.docs[res.DocumentID]
	require.Equal(t, "0.00", doc.StampDuty.StringFixed(2))
	require.Equal(t, "119.00", doc.TotalInclTax.StringFixed(2))
}

func TestCreateDocumentSuspensionRules(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	req := localInvoiceRequest()
	req.InvoiceKind = KindVATSuspended
	_, err := svc.CreateDocument(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req.Suspension = &SuspensionInfo{
		AuthorizationNumber: "AUT-2026-889",
		ValidUntil:          time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		PurchaseOrderRef:    "PO-1441",
	}
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	// Suspension fields are rejected outside VAT_SUSPENDED.
	bad := localInvoiceRequest()
	bad.Suspension = req.Suspension
	_, err = svc.CreateDocument(ctx, bad)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateDocumentUnknownClient(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo, stubClients{exists: false}, &stubExercises{closed: map[int]bool{}}, nil, money.DefaultStampPolicy)

	_, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDocumentRequiresLines(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	req := localInvoiceRequest()
	req.Lines = nil
	_, err := svc.CreateDocument(ctx, req)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSequenceNumbersPerYearAndFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	first, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)
	second, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-00001", first.DocumentNumber)
	require.Equal(t, "FAC-2026-00002", second.DocumentNumber)

	prior := localInvoiceRequest()
	prior.FiscalYear = 2025
	third, err := svc.CreateDocument(ctx, prior)
	require.NoError(t, err)
	require.Equal(t, "FAC-2025-00001", third.DocumentNumber)
}

// ============================================================================
// EDIT / DELETE / VALIDATE / DUPLICATE
// ============================================================================

func editRequestFrom(req CreateDocumentRequest) EditDocumentRequest {
	return EditDocumentRequest{
		ClientID:     req.ClientID,
		InvoiceKind:  req.InvoiceKind,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
		Suspension:   req.Suspension,
		Lines:        req.Lines,
	}
}

func TestEditDocumentRecomputesTotals(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)

	edit := editRequestFrom(localInvoiceRequest())
	edit.Lines = []LineRequest{
		{Description: "Consulting", Quantity: dec("3"), UnitPrice: dec("40.00"), VATRate: dec("19")},
	}
	doc, warnings, err := svc.EditDocument(ctx, 1, res.DocumentID, edit)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "120.00", doc.TotalExclTax.StringFixed(2))
	require.Equal(t, "22.80", doc.TotalTax.StringFixed(2))
	require.Equal(t, "143.80", doc.TotalInclTax.StringFixed(2))

	// The number assigned at creation never changes.
	require.Equal(t, res.DocumentNumber, doc.DocumentNumber)
	require.Len(t, repo.lines[res.DocumentID], 1)
}

func TestEditValidatedDocumentFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	req := localInvoiceRequest()
	req.ValidateNow = true
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)

	_, _, err = svc.EditDocument(ctx, 1, res.DocumentID, editRequestFrom(localInvoiceRequest()))
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestEditDocumentWrongCompany(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)

	_, _, err = svc.EditDocument(ctx, 99, res.DocumentID, editRequestFrom(localInvoiceRequest()))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDraftDocument(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, 1, res.DocumentID))
	require.NotContains(t, repo.docs, res.DocumentID)
	require.NotContains(t, repo.lines, res.DocumentID)
}

func TestDeleteValidatedDocumentFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	req := localInvoiceRequest()
	req.ValidateNow = true
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)

	err = svc.DeleteDocument(ctx, 1, res.DocumentID)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestDeletedNumberIsNotReissued(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	first, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteDocument(ctx, 1, first.DocumentID))

	second, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-00002", second.DocumentNumber)
}

func TestValidateDocument(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)

	doc, err := svc.ValidateDocument(ctx, 1, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, StateValidated, doc.LifecycleState)
	require.NotNil(t, doc.ValidatedAt)

	_, err = svc.ValidateDocument(ctx, 1, res.DocumentID)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestValidateDocumentClosedExercise(t *testing.T) {
	ctx := context.Background()
	svc, _, exercises := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)

	exercises.closed[2026] = true
	_, err = svc.ValidateDocument(ctx, 1, res.DocumentID)
	require.ErrorIs(t, err, ErrExerciseClosed)
}

func TestDuplicateDraftDocument(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	res, err := svc.CreateDocument(ctx, localInvoiceRequest())
	require.NoError(t, err)

	dup, err := svc.DuplicateDocument(ctx, 1, res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-00002", dup.DocumentNumber)

	copied := repo.docs[dup.DocumentID]
	require.Equal(t, StateDraft, copied.LifecycleState)
	require.Nil(t, copied.ParentDocumentID)
	require.Nil(t, copied.RectifiesDocumentID)
	require.Equal(t, "120.00", copied.TotalInclTax.StringFixed(2))
}

func TestDuplicateValidatedDocumentFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	req := localInvoiceRequest()
	req.ValidateNow = true
	res, err := svc.CreateDocument(ctx, req)
	require.NoError(t, err)

	_, err = svc.DuplicateDocument(ctx, 1, res.DocumentID)
	require.ErrorIs(t, err, ErrStateConflict)
}

// ============================================================================
// CREDIT NOTES
// ============================================================================

func validatedInvoice(t *testing.T, svc *Service, lines []LineRequest) *CreateDocumentResult {
	t.Helper()
	req := localInvoiceRequest()
	req.ValidateNow = true
	if lines != nil {
		req.Lines = lines
	}
	res, err := svc.CreateDocument(context.Background(), req)
	require.NoError(t, err)
	return res
}


func TestCreateCreditNoteTotal(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, nil)

	res, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditTotal,
	})
	require.NoError(t, err)
	require.Equal(t, "AVR-2026-00001", res.CreditNoteNumber)

	note := repo.docs[res.CreditNoteID]
	require.Equal(t, TypeCreditNote, note.DocumentType)
	require.Equal(t, StateValidated, note.LifecycleState)
	require.NotNil(t, note.ParentDocumentID)
	require.Equal(t, src.DocumentID, *note.ParentDocumentID)
	require.Equal(t, "-100.00", note.TotalExclTax.StringFixed(2))
	require.Equal(t, "-19.00", note.TotalTax.StringFixed(2))
	require.Equal(t, "-1.00", note.StampDuty.StringFixed(2))
	require.Equal(t, "-120.00", note.TotalInclTax.StringFixed(2))

	noteLines := repo.lines[res.CreditNoteID]
	require.Len(t, noteLines, 1)
	require.Equal(t, "-2.000", noteLines[0].Quantity.StringFixed(3))
	require.Equal(t, "-119.00", noteLines[0].InclTax.StringFixed(2))

	// The source stays VALIDATED and untouched apart from credited quantities.
	source := repo.docs[src.DocumentID]
	require.Equal(t, StateValidated, source.LifecycleState)
	require.Equal(t, "100.00", source.TotalExclTax.StringFixed(2))
	require.Equal(t, "2.000", repo.lines[src.DocumentID][0].CreditedQty.StringFixed(3))
}

func TestCreateCreditNotePartial(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, []LineRequest{
		{Description: "Widgets", Quantity: dec("5"), UnitPrice: dec("20.00"), VATRate: dec("19")},
	})
	lineID := repo.lines[src.DocumentID][0].ID

	res, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
		Selections: []CreditSelection{{LineID: lineID, Quantity: dec("2")}},
	})
	require.NoError(t, err)

	note := repo.docs[res.CreditNoteID]
	require.Equal(t, "-40.00", note.TotalExclTax.StringFixed(2))
	require.Equal(t, "-7.60", note.TotalTax.StringFixed(2))
	require.Equal(t, "0.00", note.StampDuty.StringFixed(2))
	require.Equal(t, "-47.60", note.TotalInclTax.StringFixed(2))

	require.Equal(t, "2.000", repo.lines[src.DocumentID][0].CreditedQty.StringFixed(3))
}

func TestCreateCreditNotePartialOverCredit(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, []LineRequest{
		{Description: "Widgets", Quantity: dec("5"), UnitPrice: dec("20.00"), VATRate: dec("19")},
	})
	lineID := repo.lines[src.DocumentID][0].ID

	_, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
		Selections: []CreditSelection{{LineID: lineID, Quantity: dec("6")}},
	})
	require.ErrorIs(t, err, ErrValidation)

	// Credit 3, leaving 2; a further credit of 3 must be refused.
	_, err = svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
		Selections: []CreditSelection{{LineID: lineID, Quantity: dec("3")}},
	})
	require.NoError(t, err)
	_, err = svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
		Selections: []CreditSelection{{LineID: lineID, Quantity: dec("3")}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateCreditNotePartialDuplicateSelection(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, []LineRequest{
		{Description: "Widgets", Quantity: dec("5"), UnitPrice: dec("20.00"), VATRate: dec("19")},
	})
	lineID := repo.lines[src.DocumentID][0].ID

	_, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
		Selections: []CreditSelection{
			{LineID: lineID, Quantity: dec("2")},
			{LineID: lineID, Quantity: dec("2")},
		},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateCreditNoteTotalAfterPartialFails(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, []LineRequest{
		{Description: "Widgets", Quantity: dec("5"), UnitPrice: dec("20.00"), VATRate: dec("19")},
	})
	lineID := repo.lines[src.DocumentID][0].ID

	_, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
		Selections: []CreditSelection{{LineID: lineID, Quantity: dec("1")}},
	})
	require.NoError(t, err)

	_, err = svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditTotal,
	})
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestCreateCreditNoteRequiresValidatedSource(t *testing.T) {
	svc, _, _ := newTestService()

	draft, err := svc.CreateDocument(context.Background(), localInvoiceRequest())
	require.NoError(t, err)

	_, err = svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: draft.DocumentID,
		Mode:       CreditTotal,
	})
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestCreateCreditNotePartialRequiresSelection(t *testing.T) {
	svc, _, _ := newTestService()
	src := validatedInvoice(t, svc, nil)

	_, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditPartial,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateCreditNoteClosedExercise(t *testing.T) {
	svc, _, exercises := newTestService()
	src := validatedInvoice(t, svc, nil)

	exercises.closed[2026] = true
	_, err := svc.CreateCreditNote(context.Background(), CreateCreditNoteRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Mode:       CreditTotal,
	})
	require.ErrorIs(t, err, ErrExerciseClosed)
}

// ============================================================================
// RECTIFICATIVES
// ============================================================================

func TestCreateRectificative(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, nil)

	res, err := svc.CreateRectificative(context.Background(), CreateRectificativeRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
	})
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-00002", res.DocumentNumber)

	rect := repo.docs[res.DocumentID]
	require.Equal(t, TypeInvoice, rect.DocumentType)
	require.Equal(t, StateDraft, rect.LifecycleState)
	require.NotNil(t, rect.RectifiesDocumentID)
	require.Equal(t, src.DocumentID, *rect.RectifiesDocumentID)
	require.Nil(t, rect.ParentDocumentID)

	// Snapshot, not negation.
	require.Equal(t, "120.00", rect.TotalInclTax.StringFixed(2))

	// The copy goes through the normal lifecycle.
	_, _, err = svc.EditDocument(context.Background(), 1, res.DocumentID, editRequestFrom(localInvoiceRequest()))
	require.NoError(t, err)
	_, err = svc.ValidateDocument(context.Background(), 1, res.DocumentID)
	require.NoError(t, err)
}

func TestCreateRectificativeValidateNow(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, nil)

	res, err := svc.CreateRectificative(context.Background(), CreateRectificativeRequest{
		CompanyID:   1,
		DocumentID:  src.DocumentID,
		ValidateNow: true,
	})
	require.NoError(t, err)
	require.Equal(t, StateValidated, repo.docs[res.DocumentID].LifecycleState)
}

func TestCreateRectificativeRequiresValidatedSource(t *testing.T) {
	svc, _, _ := newTestService()

	draft, err := svc.CreateDocument(context.Background(), localInvoiceRequest())
	require.NoError(t, err)

	_, err = svc.CreateRectificative(context.Background(), CreateRectificativeRequest{
		CompanyID:  1,
		DocumentID: draft.DocumentID,
	})
	require.ErrorIs(t, err, ErrStateConflict)
}

// ============================================================================
// PAYMENTS
// ============================================================================

func TestRecordPayment(t *testing.T) {
	svc, repo, _ := newTestService()
	src := validatedInvoice(t, svc, nil)

	pay, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Amount:     dec("120.00"),
		Method:     MethodTransfer,
	})
	require.NoError(t, err)
	require.NotEmpty(t, pay.Reference)
	require.Equal(t, PaymentPaid, repo.docs[src.DocumentID].PaymentState)

	// Further payments are recorded as-is; the state simply stays PAID.
	_, err = svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Amount:     dec("5.00"),
		Method:     MethodCash,
	})
	require.NoError(t, err)

	payments, err := svc.ListPayments(context.Background(), 1, src.DocumentID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestRecordPaymentOnDraftFails(t *testing.T) {
	svc, _, _ := newTestService()

	draft, err := svc.CreateDocument(context.Background(), localInvoiceRequest())
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CompanyID:  1,
		DocumentID: draft.DocumentID,
		Amount:     dec("50.00"),
		Method:     MethodCash,
	})
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestRecordPaymentValidation(t *testing.T) {
	svc, _, _ := newTestService()
	src := validatedInvoice(t, svc, nil)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Amount:     dec("0"),
		Method:     MethodCash,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CompanyID:  1,
		DocumentID: src.DocumentID,
		Amount:     dec("10.00"),
		Method:     PaymentMethod("BARTER"),
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateDocumentConcurrentNumbering(t *testing.T) {
	svc, repo, _ := newTestService()

	const n = 25
	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.CreateDocument(context.Background(), localInvoiceRequest())
			if err != nil {
				errs[i] = err
				return
			}
			numbers[i] = res.DocumentNumber
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.False(t, seen[numbers[i]], "number %s issued twice", numbers[i])
		seen[numbers[i]] = true
	}
	require.EqualValues(t, n, repo.sequences["1/2026/INVOICE"])
}

func TestCreateDocumentTotalsReconcile(t *testing.T) {
	lineSets := [][]LineRequest{
		{
			{Description: "A", Quantity: dec("3"), UnitPrice: dec("19.99"), VATRate: dec("19")},
			{Description: "B", Quantity: dec("1.5"), UnitPrice: dec("7.33"), VATRate: dec("7")},
		},
		{
			{Description: "C", Quantity: dec("12"), UnitPrice: dec("0.125"), DiscountPct: dec("10"), VATRate: dec("19")},
		},
		{
			{Description: "D", Quantity: dec("2"), UnitPrice: dec("1000.01"), VATRate: dec("13")},
			{Description: "E", Quantity: dec("0.333"), UnitPrice: dec("99.99"), DiscountPct: dec("5"), VATRate: dec("19")},
			{Description: "F", Quantity: dec("7"), UnitPrice: dec("14.50"), VATRate: dec("7")},
		},
	}

	for _, lines := range lineSets {
		svc, repo, _ := newTestService()
		req := localInvoiceRequest()
		req.Lines = lines

		res, err := svc.CreateDocument(context.Background(), req)
		require.NoError(t, err)

		doc := repo.docs[res.DocumentID]
		sum := decimal.Zero
		for _, line := range repo.lines[res.DocumentID] {
			sum = sum.Add(line.InclTax)
		}
		require.True(t, doc.TotalInclTax.Equal(sum.Add(doc.StampDuty)),
			"incl %s != lines %s + stamp %s", doc.TotalInclTax, sum, doc.StampDuty)
		require.True(t, doc.TotalInclTax.Equal(doc.TotalExclTax.Add(doc.TotalTax).Add(doc.StampDuty)))
	}
}

func TestDuplicateDocumentConsistentUnderConcurrentEdit(t *testing.T) {
	svc, repo, _ := newTestService()

	res, err := svc.CreateDocument(context.Background(), localInvoiceRequest())
	require.NoError(t, err)

	editSmall := EditDocumentRequest{
		ClientID:    10,
		InvoiceKind: KindLocal,
		Currency:    "TND",
		Lines: []LineRequest{
			{Description: "Consulting", Quantity: dec("2"), UnitPrice: dec("50.00"), VATRate: dec("19")},
		},
	}
	editLarge := EditDocumentRequest{
		ClientID:    10,
		InvoiceKind: KindLocal,
		Currency:    "TND",
		Lines: []LineRequest{
			{Description: "Consulting", Quantity: dec("3"), UnitPrice: dec("40.00"), VATRate: dec("19")},
		},
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			req := editSmall
			if i%2 == 1 {
				req = editLarge
			}
			if _, _, err := svc.EditDocument(context.Background(), 1, res.DocumentID, req); err != nil {
				return
			}
		}
	}()

	ids := make([]int64, 0, 50)
	for i := 0; i < 50; i++ {
		dup, err := svc.DuplicateDocument(context.Background(), 1, res.DocumentID)
		require.NoError(t, err)
		ids = append(ids, dup.DocumentID)
	}
	close(stop)
	wg.Wait()

	// Each copy must be internally consistent: the header totals were
	// snapshotted in the same transaction as the lines, so an interleaved
	// edit can never mix pre-edit totals with post-edit lines.
	for _, id := range ids {
		doc := repo.docs[id]
		sum := decimal.Zero
		for _, line := range repo.lines[id] {
			sum = sum.Add(line.InclTax)
		}
		require.True(t, doc.TotalInclTax.Equal(sum.Add(doc.StampDuty)),
			"copy %d: incl %s != lines %s + stamp %s", id, doc.TotalInclTax, sum, doc.StampDuty)
	}
}

func TestCreateDocumentTotalsReconcileRandomLines(t *testing.T) {
	rng := rand.New(rand.NewSource(20260830))
	vatRates := []string{"0", "7", "13", "19"}

	svc, repo, _ := newTestService()
	for i := 0; i < 100; i++ {
		lineCount := 1 + rng.Intn(6)
		lines := make([]LineRequest, 0, lineCount)
		for j := 0; j < lineCount; j++ {
			qty := dec(fmt.Sprintf("%d.%03d", 1+rng.Intn(20), rng.Intn(1000)))
			price := dec(fmt.Sprintf("%d.%02d", rng.Intn(500), rng.Intn(100)))
			discount := decimal.Zero
			if rng.Intn(2) == 1 {
				discount = decimal.NewFromInt(int64(rng.Intn(51)))
			}
			lines = append(lines, LineRequest{
				Description: fmt.Sprintf("Item %d", j+1),
				Quantity:    qty,
				UnitPrice:   price,
				DiscountPct: discount,
				VATRate:     dec(vatRates[rng.Intn(len(vatRates))]),
			})
		}

		req := localInvoiceRequest()
		req.Lines = lines
		res, err := svc.CreateDocument(context.Background(), req)
		require.NoError(t, err)

		doc := repo.docs[res.DocumentID]
		sum := decimal.Zero
		for _, line := range repo.lines[res.DocumentID] {
			sum = sum.Add(line.InclTax)
		}
		require.True(t, doc.TotalInclTax.Equal(sum.Add(doc.StampDuty)),
			"doc %d: incl %s != lines %s + stamp %s", res.DocumentID, doc.TotalInclTax, sum, doc.StampDuty)
		require.True(t, doc.TotalInclTax.Equal(doc.TotalExclTax.Add(doc.TotalTax).Add(doc.StampDuty)))
	}
}
