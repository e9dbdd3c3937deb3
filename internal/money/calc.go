package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeLine derives the stored amounts for a single line.
//
// base = quantity × unitPrice; discounted = base × (1 − discountPct/100);
// tax = discounted × vatRate/100; inclTax = discounted + tax. Each stored
// field is rounded exactly once, from unrounded intermediates, so repeated
// derivations cannot drift.
func ComputeLine(in LineInput) (LineAmounts, error) {
	if in.DiscountPct.IsNegative() || in.DiscountPct.GreaterThan(hundred) {
		return LineAmounts{}, fmt.Errorf("%w: discount percent %s out of [0,100]", ErrInvalidLine, in.DiscountPct)
	}
	if in.VATRate.IsNegative() {
		return LineAmounts{}, fmt.Errorf("%w: negative vat rate %s", ErrInvalidLine, in.VATRate)
	}
	if in.UnitPrice.IsNegative() {
		return LineAmounts{}, fmt.Errorf("%w: negative unit price %s", ErrInvalidLine, in.UnitPrice)
	}
	if in.Quantity.IsZero() {
		return LineAmounts{}, fmt.Errorf("%w: zero quantity", ErrInvalidLine)
	}

	base := in.Quantity.Mul(in.UnitPrice)
	discounted := base.Mul(hundred.Sub(in.DiscountPct)).Div(hundred)
	tax := discounted.Mul(in.VATRate).Div(hundred)

	excl := RoundAmount(discounted)
	taxAmt := RoundAmount(tax)
	return LineAmounts{
		ExclTax: excl,
		Tax:     taxAmt,
		InclTax: excl.Add(taxAmt),
		VATRate: in.VATRate,
	}, nil
}

// ComputeLines derives amounts for every line under the document's kind.
// Export and VAT-suspended documents are zero rated: a non-zero VAT rate is
// coerced to zero and reported as a warning so the caller can surface it.
func ComputeLines(kind InvoiceKind, inputs []LineInput) ([]LineAmounts, []Warning, error) {
	var warnings []Warning
	amounts := make([]LineAmounts, 0, len(inputs))
	for i, in := range inputs {
		if kind.ZeroRated() && !in.VATRate.IsZero() {
			warnings = append(warnings, Warning{
				Line:    i,
				Message: fmt.Sprintf("vat rate %s forced to 0 for %s document", in.VATRate, kind),
			})
			in.VATRate = decimal.Zero
		}
		a, err := ComputeLine(in)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", i, err)
		}
		amounts = append(amounts, a)
	}
	return amounts, warnings, nil
}

// DocumentTotals sums the stored line amounts. Totals are never recomputed
// from quantities so they always reconcile with the persisted lines.
func DocumentTotals(lines []LineAmounts) (exclTax, tax decimal.Decimal) {
	exclTax, tax = decimal.Zero, decimal.Zero
	for _, l := range lines {
		exclTax = exclTax.Add(l.ExclTax)
		tax = tax.Add(l.Tax)
	}
	return exclTax, tax
}
