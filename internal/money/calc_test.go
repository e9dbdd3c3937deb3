package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeLine(t *testing.T) {
	a, err := ComputeLine(LineInput{
		Quantity:  dec("2"),
		UnitPrice: dec("50.00"),
		VATRate:   dec("19"),
	})
	require.NoError(t, err)
	require.Equal(t, "100.00", a.ExclTax.StringFixed(2))
	require.Equal(t, "19.00", a.Tax.StringFixed(2))
	require.Equal(t, "119.00", a.InclTax.StringFixed(2))
}

func TestComputeLineWithDiscount(t *testing.T) {
	a, err := ComputeLine(LineInput{
		Quantity:    dec("3"),
		UnitPrice:   dec("10.00"),
		DiscountPct: dec("10"),
		VATRate:     dec("19"),
	})
	require.NoError(t, err)
	require.Equal(t, "27.00", a.ExclTax.StringFixed(2))
	require.Equal(t, "5.13", a.Tax.StringFixed(2))
	require.Equal(t, "32.13", a.InclTax.StringFixed(2))
}

func TestComputeLineRoundsHalfAwayFromZero(t *testing.T) {
	a, err := ComputeLine(LineInput{
		Quantity:  dec("1"),
		UnitPrice: dec("0.125"),
	})
	require.NoError(t, err)
	require.Equal(t, "0.13", a.ExclTax.StringFixed(2))

	// Incl-tax is the sum of the two rounded parts, not a third rounding.
	b, err := ComputeLine(LineInput{
		Quantity:  dec("1"),
		UnitPrice: dec("10.05"),
		VATRate:   dec("7"),
	})
	require.NoError(t, err)
	require.Equal(t, "10.05", b.ExclTax.StringFixed(2))
	require.Equal(t, "0.70", b.Tax.StringFixed(2))
	require.Equal(t, "10.75", b.InclTax.StringFixed(2))
}

func TestComputeLineRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   LineInput
	}{
		{"negative discount", LineInput{Quantity: dec("1"), UnitPrice: dec("10"), DiscountPct: dec("-5")}},
		{"discount above 100", LineInput{Quantity: dec("1"), UnitPrice: dec("10"), DiscountPct: dec("101")}},
		{"negative vat rate", LineInput{Quantity: dec("1"), UnitPrice: dec("10"), VATRate: dec("-19")}},
		{"negative unit price", LineInput{Quantity: dec("1"), UnitPrice: dec("-10")}},
		{"zero quantity", LineInput{Quantity: dec("0"), UnitPrice: dec("10")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeLine(tc.in)
			require.ErrorIs(t, err, ErrInvalidLine)
		})
	}
}

func TestComputeLinesForcesZeroVATOnExport(t *testing.T) {
	amounts, warnings, err := ComputeLines(KindExport, []LineInput{
		{Quantity: dec("2"), UnitPrice: dec("50.00"), VATRate: dec("19")},
		{Quantity: dec("1"), UnitPrice: dec("30.00")},
	})
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	require.True(t, amounts[0].Tax.IsZero())
	require.True(t, amounts[0].VATRate.IsZero())
	require.Equal(t, "100.00", amounts[0].ExclTax.StringFixed(2))

	require.Len(t, warnings, 1)
	require.Equal(t, 0, warnings[0].Line)
}

func TestComputeLinesForcesZeroVATOnSuspended(t *testing.T) {
	amounts, warnings, err := ComputeLines(KindVATSuspended, []LineInput{
		{Quantity: dec("1"), UnitPrice: dec("100.00"), VATRate: dec("19")},
	})
	require.NoError(t, err)
	require.True(t, amounts[0].Tax.IsZero())
	require.Equal(t, "100.00", amounts[0].InclTax.StringFixed(2))
	require.Len(t, warnings, 1)
}

func TestComputeLinesLocalKeepsVAT(t *testing.T) {
	amounts, warnings, err := ComputeLines(KindLocal, []LineInput{
		{Quantity: dec("1"), UnitPrice: dec("100.00"), VATRate: dec("19")},
	})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "19.00", amounts[0].Tax.StringFixed(2))
}

func TestDocumentTotals(t *testing.T) {
	excl, tax := DocumentTotals([]LineAmounts{
		{ExclTax: dec("100.00"), Tax: dec("19.00")},
		{ExclTax: dec("27.00"), Tax: dec("5.13")},
	})
	require.Equal(t, "127.00", excl.StringFixed(2))
	require.Equal(t, "24.13", tax.StringFixed(2))
}

func TestDocumentTotalsOfNegatedLines(t *testing.T) {
	excl, tax := DocumentTotals([]LineAmounts{
		{ExclTax: dec("-100.00"), Tax: dec("-19.00")},
	})
	require.Equal(t, "-100.00", excl.StringFixed(2))
	require.Equal(t, "-19.00", tax.StringFixed(2))
}

func TestInvoiceKindValid(t *testing.T) {
	require.True(t, KindLocal.Valid())
	require.True(t, KindExport.Valid())
	require.True(t, KindVATSuspended.Valid())
	require.False(t, InvoiceKind("DOMESTIC").Valid())
}
