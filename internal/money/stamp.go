package money

import "github.com/shopspring/decimal"

// StampPolicy holds the statutory stamp-duty parameters for a company.
type StampPolicy struct {
	HomeCurrency string
	Duty         decimal.Decimal
}

// DefaultStampPolicy matches the Tunisian timbre fiscal: 1.00 TND per
// qualifying local-currency document.
var DefaultStampPolicy = StampPolicy{
	HomeCurrency: "TND",
	Duty:         decimal.New(100, -2),
}

// StampDuty resolves the duty owed for a document kind and currency.
// Export documents and foreign-currency documents owe none; local and
// VAT-suspended documents in the home currency owe the fixed duty.
func (p StampPolicy) StampDuty(kind InvoiceKind, currency string) decimal.Decimal {
	if kind == KindExport {
		return decimal.Zero
	}
	if currency != p.HomeCurrency {
		return decimal.Zero
	}
	return p.Duty
}
