package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a transaction.
type TxRepository interface {
	AllocateNumber(ctx context.Context, companyID int64, fiscalYear int, family SequenceFamily) (int64, error)
	GetDocumentForUpdate(ctx context.Context, id int64) (*Document, error)
	GetLinesForUpdate(ctx context.Context, documentID int64) ([]DocumentLine, error)
	InsertDocument(ctx context.Context, doc *Document) (int64, error)
	InsertLines(ctx context.Context, documentID int64, lines []DocumentLine) error
	UpdateDocument(ctx context.Context, doc *Document) error
	DeleteLines(ctx context.Context, documentID int64) error
	DeleteDocument(ctx context.Context, id int64) error
	SetValidated(ctx context.Context, id int64, validatedAt time.Time) error
	SetPaymentState(ctx context.Context, id int64, state PaymentState) error
	AddCreditedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error
	InsertPayment(ctx context.Context, p *Payment) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. Serialization
// failures surface as ErrConcurrency so callers can retry.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return translateErr(err)
}

// translateErr maps driver errors onto the billing taxonomy. 23505 covers
// unique collisions (document numbers), 40001/40P01 serialization failures
// and deadlocks. All three are retryable.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConcurrency, pgErr.Code)
		}
	}
	return err
}

const documentColumns = `id, document_number, document_type, invoice_kind, fiscal_year, company_id, client_id,
currency, exchange_rate, total_excl_tax, total_tax, stamp_duty, total_incl_tax,
lifecycle_state, payment_state, parent_document_id, rectifies_document_id,
suspension_authorization, suspension_valid_until, suspension_po_ref,
issue_date, created_at, updated_at, validated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	var suspAuth, suspPO *string
	var suspUntil *time.Time
	err := row.Scan(
		&doc.ID, &doc.DocumentNumber, &doc.DocumentType, &doc.InvoiceKind, &doc.FiscalYear, &doc.CompanyID, &doc.ClientID,
		&doc.Currency, &doc.ExchangeRate, &doc.TotalExclTax, &doc.TotalTax, &doc.StampDuty, &doc.TotalInclTax,
		&doc.LifecycleState, &doc.PaymentState, &doc.ParentDocumentID, &doc.RectifiesDocumentID,
		&suspAuth, &suspUntil, &suspPO,
		&doc.IssueDate, &doc.CreatedAt, &doc.UpdatedAt, &doc.ValidatedAt,
	)
	if err != nil {
		return nil, err
	}
	if suspAuth != nil {
		doc.Suspension = &SuspensionInfo{AuthorizationNumber: *suspAuth}
		if suspUntil != nil {
			doc.Suspension.ValidUntil = *suspUntil
		}
		if suspPO != nil {
			doc.Suspension.PurchaseOrderRef = *suspPO
		}
	}
	return &doc, nil
}

const lineColumns = `id, document_id, description, quantity, unit, unit_price, discount_pct, vat_rate,
excl_tax, tax, incl_tax, credited_qty, line_order`

func scanLines(rows pgx.Rows) ([]DocumentLine, error) {
	defer rows.Close()
	var lines []DocumentLine
	for rows.Next() {
		var l DocumentLine
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.Description, &l.Quantity, &l.Unit, &l.UnitPrice, &l.DiscountPct, &l.VATRate,
			&l.ExclTax, &l.Tax, &l.InclTax, &l.CreditedQty, &l.LineOrder); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// GetDocument loads a document with its lines.
func (r *Repository) GetDocument(ctx context.Context, id int64) (*Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM billing_documents WHERE id=$1`, id))
	if err != nil {
		return nil, translateErr(err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM billing_document_lines WHERE document_id=$1 ORDER BY line_order`, id)
	if err != nil {
		return nil, err
	}
	doc.Lines, err = scanLines(rows)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns filtered documents without their lines, newest first,
// plus the unpaginated total.
func (r *Repository) ListDocuments(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	where := []string{"company_id=$1"}
	args := []any{req.CompanyID}
	if req.DocumentType != nil {
		args = append(args, *req.DocumentType)
		where = append(where, fmt.Sprintf("document_type=$%d", len(args)))
	}
	if req.State != nil {
		args = append(args, *req.State)
		where = append(where, fmt.Sprintf("lifecycle_state=$%d", len(args)))
	}
	if req.FiscalYear != nil {
		args = append(args, *req.FiscalYear)
		where = append(where, fmt.Sprintf("fiscal_year=$%d", len(args)))
	}
	if req.ClientID != nil {
		args = append(args, *req.ClientID)
		where = append(where, fmt.Sprintf("client_id=$%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM billing_documents WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	q := fmt.Sprintf(`SELECT `+documentColumns+` FROM billing_documents WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListPayments returns the payment events recorded against a document.
func (r *Repository) ListPayments(ctx context.Context, documentID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, reference, amount, method, paid_at, note, created_at
FROM billing_payments WHERE document_id=$1 ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Reference, &p.Amount, &p.Method, &p.PaidAt, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// AllocateNumber increments the counter for (company, year, family) and
// returns the new value. The upsert-increment is a single statement, so the
// number is only consumed if the surrounding transaction commits.
func (tx *txRepo) AllocateNumber(ctx context.Context, companyID int64, fiscalYear int, family SequenceFamily) (int64, error) {
	var n int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO billing_sequences (company_id, fiscal_year, family, last_issued)
VALUES ($1, $2, $3, 1)
ON CONFLICT (company_id, fiscal_year, family)
DO UPDATE SET last_issued = billing_sequences.last_issued + 1
RETURNING last_issued`, companyID, fiscalYear, family).Scan(&n)
	return n, err
}

func (tx *txRepo) GetDocumentForUpdate(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(tx.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM billing_documents WHERE id=$1 FOR UPDATE`, id))
}

func (tx *txRepo) GetLinesForUpdate(ctx context.Context, documentID int64) ([]DocumentLine, error) {
	rows, err := tx.tx.Query(ctx, `SELECT `+lineColumns+` FROM billing_document_lines WHERE document_id=$1 ORDER BY line_order FOR UPDATE`, documentID)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func (tx *txRepo) InsertDocument(ctx context.Context, doc *Document) (int64, error) {
	var suspAuth, suspPO *string
	var suspUntil *time.Time
	if doc.Suspension != nil {
		suspAuth = &doc.Suspension.AuthorizationNumber
		suspUntil = &doc.Suspension.ValidUntil
		suspPO = &doc.Suspension.PurchaseOrderRef
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO billing_documents
(document_number, document_type, invoice_kind, fiscal_year, company_id, client_id,
 currency, exchange_rate, total_excl_tax, total_tax, stamp_duty, total_incl_tax,
 lifecycle_state, payment_state, parent_document_id, rectifies_document_id,
 suspension_authorization, suspension_valid_until, suspension_po_ref,
 issue_date, created_at, updated_at, validated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
RETURNING id`,
		doc.DocumentNumber, doc.DocumentType, doc.InvoiceKind, doc.FiscalYear, doc.CompanyID, doc.ClientID,
		doc.Currency, doc.ExchangeRate, doc.TotalExclTax, doc.TotalTax, doc.StampDuty, doc.TotalInclTax,
		doc.LifecycleState, doc.PaymentState, doc.ParentDocumentID, doc.RectifiesDocumentID,
		suspAuth, suspUntil, suspPO,
		doc.IssueDate, doc.CreatedAt, doc.UpdatedAt, doc.ValidatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLines(ctx context.Context, documentID int64, lines []DocumentLine) error {
	for i, l := range lines {
		_, err := tx.tx.Exec(ctx, `INSERT INTO billing_document_lines
(document_id, description, quantity, unit, unit_price, discount_pct, vat_rate,
 excl_tax, tax, incl_tax, credited_qty, line_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			documentID, l.Description, l.Quantity, l.Unit, l.UnitPrice, l.DiscountPct, l.VATRate,
			l.ExclTax, l.Tax, l.InclTax, l.CreditedQty, i+1)
		if err != nil {
			return err
		}
	}
	return nil
}

func (tx *txRepo) UpdateDocument(ctx context.Context, doc *Document) error {
	var suspAuth, suspPO *string
	var suspUntil *time.Time
	if doc.Suspension != nil {
		suspAuth = &doc.Suspension.AuthorizationNumber
		suspUntil = &doc.Suspension.ValidUntil
		suspPO = &doc.Suspension.PurchaseOrderRef
	}
	_, err := tx.tx.Exec(ctx, `UPDATE billing_documents SET
client_id=$1, invoice_kind=$2, currency=$3, exchange_rate=$4,
total_excl_tax=$5, total_tax=$6, stamp_duty=$7, total_incl_tax=$8,
suspension_authorization=$9, suspension_valid_until=$10, suspension_po_ref=$11,
issue_date=$12, updated_at=$13
WHERE id=$14`,
		doc.ClientID, doc.InvoiceKind, doc.Currency, doc.ExchangeRate,
		doc.TotalExclTax, doc.TotalTax, doc.StampDuty, doc.TotalInclTax,
		suspAuth, suspUntil, suspPO,
		doc.IssueDate, doc.UpdatedAt, doc.ID)
	return err
}

func (tx *txRepo) DeleteLines(ctx context.Context, documentID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM billing_document_lines WHERE document_id=$1`, documentID)
	return err
}

func (tx *txRepo) DeleteDocument(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM billing_documents WHERE id=$1`, id)
	return err
}

func (tx *txRepo) SetValidated(ctx context.Context, id int64, validatedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE billing_documents SET lifecycle_state=$1, validated_at=$2, updated_at=$2 WHERE id=$3`,
		StateValidated, validatedAt, id)
	return err
}

func (tx *txRepo) SetPaymentState(ctx context.Context, id int64, state PaymentState) error {
	_, err := tx.tx.Exec(ctx, `UPDATE billing_documents SET payment_state=$1, updated_at=now() WHERE id=$2`, state, id)
	return err
}

func (tx *txRepo) AddCreditedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	_, err := tx.tx.Exec(ctx, `UPDATE billing_document_lines SET credited_qty = credited_qty + $1 WHERE id=$2`, qty, lineID)
	return err
}

func (tx *txRepo) InsertPayment(ctx context.Context, p *Payment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO billing_payments (document_id, reference, amount, method, paid_at, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		p.DocumentID, p.Reference, p.Amount, p.Method, p.PaidAt, p.Note, p.CreatedAt).Scan(&id)
	return id, err
}
