package schedule

import (
	"testing"
	"time"

	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(amort models.AmortizationMethod, method models.InterestMethod) Terms {
	return Terms{
		Principal:          decimal.NewFromInt(10_000),
		Currency:           money.USD,
		AnnualInterestRate: decimal.NewFromInt(12),
		NumberOfRepayments: 12,
		RepaymentEvery:     1,
		Amortization:       amort,
		InterestMethod:     method,
		StartDate:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sum(insts []models.Installment, f func(models.Installment) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, i := range insts {
		total = total.Add(f(i))
	}
	return total
}

func principalOf(i models.Installment) decimal.Decimal { return i.Principal }
func interestOf(i models.Installment) decimal.Decimal  { return i.Interest }

func TestGenerate_DecliningEqualInstallments(t *testing.T) {
	insts, err := Generate(terms(models.AmortizationEqualInstallments, models.InterestDecliningBalance))
	require.NoError(t, err)
	require.Len(t, insts, 12)

	first := insts[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), first.DueDate)
	// 10,000 at 1% a month for 12 months pays 888.49 a month.
	assert.True(t, first.Interest.Equal(decimal.NewFromInt(100)), "first interest %s", first.Interest)
	assert.True(t, first.Principal.Add(first.Interest).Equal(decimal.RequireFromString("888.49")))

	for _, inst := range insts[:11] {
		assert.True(t, inst.Principal.Add(inst.Interest).Equal(decimal.RequireFromString("888.49")), "installment %d", inst.Number)
		assert.False(t, inst.IsFullyCompleted())
	}
	assert.True(t, sum(insts, principalOf).Equal(decimal.NewFromInt(10_000)))
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), insts[11].DueDate)
}

func TestGenerate_DecliningEqualPrincipal(t *testing.T) {
	tm := terms(models.AmortizationEqualPrincipal, models.InterestDecliningBalance)
	tm.NumberOfRepayments = 3
	tm.Principal = decimal.NewFromInt(1000)
	insts, err := Generate(tm)
	require.NoError(t, err)

	assert.True(t, insts[0].Principal.Equal(decimal.RequireFromString("333.33")))
	assert.True(t, insts[2].Principal.Equal(decimal.RequireFromString("333.34")))
	assert.True(t, insts[0].Interest.Equal(decimal.NewFromInt(10)))
	assert.True(t, insts[1].Interest.Equal(decimal.RequireFromString("6.67")))
	assert.True(t, insts[2].Interest.Equal(decimal.RequireFromString("3.33")))
}

func TestGenerate_Flat(t *testing.T) {
	insts, err := Generate(terms(models.AmortizationEqualInstallments, models.InterestFlat))
	require.NoError(t, err)

	assert.True(t, sum(insts, interestOf).Equal(decimal.NewFromInt(1200)))
	assert.True(t, sum(insts, principalOf).Equal(decimal.NewFromInt(10_000)))
	for _, inst := range insts {
		assert.True(t, inst.Interest.Equal(decimal.NewFromInt(100)))
	}
}

func TestGenerate_ZeroRate(t *testing.T) {
	tm := terms(models.AmortizationEqualInstallments, models.InterestDecliningBalance)
	tm.AnnualInterestRate = decimal.Zero
	insts, err := Generate(tm)
	require.NoError(t, err)

	assert.True(t, sum(insts, interestOf).IsZero())
	assert.True(t, sum(insts, principalOf).Equal(decimal.NewFromInt(10_000)))
}

func TestGenerate_SmallAmountsNeverGoNegative(t *testing.T) {
	tm := terms(models.AmortizationEqualPrincipal, models.InterestFlat)
	tm.Principal = decimal.RequireFromString("0.15")
	tm.NumberOfRepayments = 10
	insts, err := Generate(tm)
	require.NoError(t, err)

	for _, inst := range insts {
		assert.False(t, inst.Principal.IsNegative())
		assert.False(t, inst.Interest.IsNegative())
	}
	assert.True(t, sum(insts, principalOf).Equal(tm.Principal))
}

func TestGenerate_InvalidTerms(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Terms)
	}{
		{"zero principal", func(t *Terms) { t.Principal = decimal.Zero }},
		{"negative rate", func(t *Terms) { t.AnnualInterestRate = decimal.NewFromInt(-1) }},
		{"no repayments", func(t *Terms) { t.NumberOfRepayments = 0 }},
		{"no frequency", func(t *Terms) { t.RepaymentEvery = 0 }},
		{"no currency", func(t *Terms) { t.Currency = money.Currency{} }},
		{"no start", func(t *Terms) { t.StartDate = time.Time{} }},
		{"bad method", func(t *Terms) { t.InterestMethod = "compound" }},
		{"bad amortization", func(t *Terms) { t.Amortization = "balloon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := terms(models.AmortizationEqualInstallments, models.InterestDecliningBalance)
			tt.mutate(&tm)
			_, err := Generate(tm)
			assert.Error(t, err)
		})
	}
}
