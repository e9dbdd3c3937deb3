package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	require.Equal(t, "FAC-2026-00001", FormatNumber(FamilyInvoice, 2026, 1))
	require.Equal(t, "FAC-2026-00042", FormatNumber(FamilyInvoice, 2026, 42))
	require.Equal(t, "AVR-2025-00007", FormatNumber(FamilyCreditNote, 2025, 7))
}

func TestFormatNumberWidensPastPadding(t *testing.T) {
	require.Equal(t, "FAC-2026-99999", FormatNumber(FamilyInvoice, 2026, 99999))
	require.Equal(t, "FAC-2026-100000", FormatNumber(FamilyInvoice, 2026, 100000))
}

func TestFamilyFor(t *testing.T) {
	require.Equal(t, FamilyInvoice, FamilyFor(TypeInvoice))
	require.Equal(t, FamilyCreditNote, FamilyFor(TypeCreditNote))
}
