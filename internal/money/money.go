// Package money implements the pure monetary calculations behind billing
// documents: per-line amounts, document totals and the stamp-duty policy.
// It performs no I/O and stores every amount as a fixed-point decimal.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Decimal scales used across the engine. Quantities and unit amounts keep
// three fractional digits, currency totals keep two.
const (
	ScaleQuantity = 3
	ScaleAmount   = 2
)

// ErrInvalidLine indicates a line input outside the accepted domain.
var ErrInvalidLine = errors.New("invalid line input")

var (
	hundred = decimal.NewFromInt(100)
)

// InvoiceKind classifies a document for VAT and stamp-duty policy.
type InvoiceKind string

const (
	KindLocal        InvoiceKind = "LOCAL"
	KindExport       InvoiceKind = "EXPORT"
	KindVATSuspended InvoiceKind = "VAT_SUSPENDED"
)

// Valid reports whether the kind is one of the closed set.
func (k InvoiceKind) Valid() bool {
	switch k {
	case KindLocal, KindExport, KindVATSuspended:
		return true
	}
	return false
}

// ZeroRated reports whether the kind forces a zero VAT rate on every line.
func (k InvoiceKind) ZeroRated() bool {
	return k == KindExport || k == KindVATSuspended
}

// RoundQuantity rounds to quantity scale, half away from zero.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(ScaleQuantity)
}

// RoundAmount rounds to currency scale, half away from zero.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(ScaleAmount)
}

// LineInput carries the caller-supplied values for one document line.
type LineInput struct {
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	VATRate     decimal.Decimal
}

// LineAmounts holds the three derived amounts stored with a line.
type LineAmounts struct {
	ExclTax decimal.Decimal
	Tax     decimal.Decimal
	InclTax decimal.Decimal
	VATRate decimal.Decimal
}

// Warning reports a coercion the calculator applied to caller input.
type Warning struct {
	Line    int
	Message string
}
