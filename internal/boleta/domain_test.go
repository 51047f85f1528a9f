package boleta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplenishQty(t *testing.T) {
	cases := []struct {
		name     string
		maxStock float64
		counted  float64
		want     float64
	}{
		{"normal refill", 50, 20, 30},
		{"nothing counted", 50, 0, 50},
		{"at ceiling", 10, 10, 0},
		{"over ceiling", 10, 15, 0},
		{"zero ceiling disables", 0, 5, 0},
		{"negative ceiling disables", -5, 2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReplenishQty(tc.maxStock, tc.counted))
		})
	}
}

func TestFormatCode(t *testing.T) {
	require.Equal(t, "ACME-0001", FormatCode("ACME", 1))
	require.Equal(t, "ACME-0042", FormatCode("ACME", 42))
	require.Equal(t, "SURCO-12345", FormatCode("SURCO", 12345))
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusReview, StatusPending},
		{StatusPending, StatusApproved},
		{StatusPending, StatusCanceled},
		{StatusApproved, StatusSent},
		{StatusApproved, StatusCanceled},
		{StatusSent, StatusInvoiced},
		{StatusSent, StatusCanceled},
		{StatusInvoiced, StatusSent},
	}
	for _, tc := range allowed {
		_, ok := edgeFor(tc.from, tc.to)
		require.True(t, ok, "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to Status
	}{
		{StatusReview, StatusApproved},
		{StatusReview, StatusCanceled},
		{StatusPending, StatusReview},
		{StatusApproved, StatusInvoiced},
		{StatusInvoiced, StatusCanceled},
		{StatusCanceled, StatusReview},
		{StatusCanceled, StatusPending},
	}
	for _, tc := range denied {
		_, ok := edgeFor(tc.from, tc.to)
		require.False(t, ok, "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, StatusReview.Editable())
	require.True(t, StatusPending.Editable())
	require.False(t, StatusApproved.Editable())
	require.False(t, StatusSent.Editable())
	require.False(t, StatusInvoiced.Editable())
	require.False(t, StatusCanceled.Editable())

	require.True(t, StatusCanceled.IsTerminal())
	require.False(t, StatusInvoiced.IsTerminal())

	require.False(t, Status("DRAFT").IsValid())
	require.True(t, StatusSent.IsValid())
}
