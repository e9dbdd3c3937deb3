package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/money"
)

// DocumentType distinguishes the two billing document families.
type DocumentType string

const (
	TypeInvoice    DocumentType = "INVOICE"
	TypeCreditNote DocumentType = "CREDIT_NOTE"
)

// LifecycleState is the document lifecycle axis.
type LifecycleState string

const (
	StateDraft     LifecycleState = "DRAFT"
	StateValidated LifecycleState = "VALIDATED"
)

// PaymentState is the payment axis, orthogonal to the lifecycle.
type PaymentState string

const (
	PaymentUnpaid PaymentState = "UNPAID"
	PaymentPaid   PaymentState = "PAID"
)

// PaymentMethod enumerates accepted payment instruments.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCheque   PaymentMethod = "CHEQUE"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodCard     PaymentMethod = "CARD"
	MethodOther    PaymentMethod = "OTHER"
)

// Valid reports whether the method is one of the closed set.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheque, MethodTransfer, MethodCard, MethodOther:
		return true
	}
	return false
}

// InvoiceKind re-exports the calculator's classification so callers only
// import one package.
type InvoiceKind = money.InvoiceKind

const (
	KindLocal        = money.KindLocal
	KindExport       = money.KindExport
	KindVATSuspended = money.KindVATSuspended
)

// SuspensionInfo carries the VAT-suspension authorization attached to
// VAT_SUSPENDED documents. The three fields are required together.
type SuspensionInfo struct {
	AuthorizationNumber string
	ValidUntil          time.Time
	PurchaseOrderRef    string
}

// Document is the central billing record. Invoices, credit notes and
// rectificative invoices share this shape and are distinguished by
// DocumentType and the back-reference fields.
type Document struct {
	ID             int64
	DocumentNumber string
	DocumentType   DocumentType
	InvoiceKind    InvoiceKind
	FiscalYear     int
	CompanyID      int64
	ClientID       int64

	Currency     string
	ExchangeRate decimal.Decimal

	TotalExclTax decimal.Decimal
	TotalTax     decimal.Decimal
	StampDuty    decimal.Decimal
	TotalInclTax decimal.Decimal

	LifecycleState LifecycleState
	PaymentState   PaymentState

	ParentDocumentID    *int64
	RectifiesDocumentID *int64
	Suspension          *SuspensionInfo

	IssueDate   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ValidatedAt *time.Time

	Lines []DocumentLine
}

// DocumentLine is owned by exactly one document. On DRAFT edits lines are
// deleted and recreated wholesale, never patched. CreditedQty accumulates
// the quantity already consumed by partial credit notes against this line.
type DocumentLine struct {
	ID          int64
	DocumentID  int64
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	VATRate     decimal.Decimal
	ExclTax     decimal.Decimal
	Tax         decimal.Decimal
	InclTax     decimal.Decimal
	CreditedQty decimal.Decimal
	LineOrder   int
}

// Payment records a payment event against a validated document. Amounts are
// deliberately not reconciled against the document total.
type Payment struct {
	ID         int64
	DocumentID int64
	Reference  string
	Amount     decimal.Decimal
	Method     PaymentMethod
	PaidAt     time.Time
	Note       *string
	CreatedAt  time.Time
}

// ============================================================================
// REQUESTS
// ============================================================================

// LineRequest is the caller-supplied input for one line.
type LineRequest struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	VATRate     decimal.Decimal
}

// CreateDocumentRequest creates an invoice, as DRAFT or directly VALIDATED.
type CreateDocumentRequest struct {
	CompanyID    int64
	ClientID     int64
	InvoiceKind  InvoiceKind
	FiscalYear   int
	Currency     string
	ExchangeRate *decimal.Decimal
	Suspension   *SuspensionInfo
	IssueDate    time.Time
	Lines        []LineRequest
	ValidateNow  bool
}

// EditDocumentRequest replaces a DRAFT document's content wholesale.
type EditDocumentRequest struct {
	ClientID     int64
	InvoiceKind  InvoiceKind
	Currency     string
	ExchangeRate *decimal.Decimal
	Suspension   *SuspensionInfo
	IssueDate    time.Time
	Lines        []LineRequest
}

// CreditNoteMode selects total or partial negation.
type CreditNoteMode string

const (
	CreditTotal   CreditNoteMode = "TOTAL"
	CreditPartial CreditNoteMode = "PARTIAL"
)

// CreditSelection picks a source line and the quantity to credit from it.
type CreditSelection struct {
	LineID   int64
	Quantity decimal.Decimal
}

// CreateCreditNoteRequest derives a negating document from an invoice.
type CreateCreditNoteRequest struct {
	CompanyID  int64
	DocumentID int64
	Mode       CreditNoteMode
	Selections []CreditSelection
}

// RecordPaymentRequest appends a payment event to a validated document.
type RecordPaymentRequest struct {
	CompanyID  int64
	DocumentID int64
	Amount     decimal.Decimal
	Method     PaymentMethod
	PaidAt     time.Time
	Note       *string
}

// ListDocumentsRequest filters the document listing.
type ListDocumentsRequest struct {
	CompanyID    int64
	DocumentType *DocumentType
	State        *LifecycleState
	FiscalYear   *int
	ClientID     *int64
	Limit        int
	Offset       int
}

// ============================================================================
// RESULTS
// ============================================================================

// CreateDocumentResult reports the identity assigned at creation, plus any
// calculator coercion warnings for the caller to surface.
type CreateDocumentResult struct {
	DocumentID     int64
	DocumentNumber string
	Warnings       []money.Warning
}

// CreditNoteResult reports the derived credit note's identity.
type CreditNoteResult struct {
	CreditNoteID     int64
	CreditNoteNumber string
}
