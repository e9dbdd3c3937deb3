package billing

import "fmt"

// SequenceFamily names an independent gapless numbering stream. Invoices and
// rectificative invoices share one stream; credit notes get their own.
type SequenceFamily string

const (
	FamilyInvoice    SequenceFamily = "INVOICE"
	FamilyCreditNote SequenceFamily = "CREDIT_NOTE"
)

// Display prefixes per family.
const (
	prefixInvoice    = "FAC"
	prefixCreditNote = "AVR"
)

// sequenceWidth is the zero-padded counter width. Counters past 99999 keep
// widening naturally.
const sequenceWidth = 5

// FamilyFor maps a document type to its numbering stream.
func FamilyFor(t DocumentType) SequenceFamily {
	if t == TypeCreditNote {
		return FamilyCreditNote
	}
	return FamilyInvoice
}

// Prefix returns the display prefix for the family.
func (f SequenceFamily) Prefix() string {
	if f == FamilyCreditNote {
		return prefixCreditNote
	}
	return prefixInvoice
}

// FormatNumber renders a document number, e.g. FAC-2026-00042.
func FormatNumber(family SequenceFamily, fiscalYear int, n int64) string {
	return fmt.Sprintf("%s-%d-%0*d", family.Prefix(), fiscalYear, sequenceWidth, n)
}
