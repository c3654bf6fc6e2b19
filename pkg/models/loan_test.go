package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoan_TotalRepaidIgnoresReversals(t *testing.T) {
	loan := &Loan{ID: uuid.New()}
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	kept := NewTransaction(loan.ID, TransactionTypeRepayment, day, decimal.NewFromInt(40), day)
	wrong := NewTransaction(loan.ID, TransactionTypeRepayment, day, decimal.NewFromInt(400), day)
	wrong.Reversed = true
	contra := wrong.Contra(day)
	loan.Transactions = []Transaction{kept, wrong, contra}

	assert.True(t, loan.TotalRepaid().Equal(decimal.NewFromInt(40)))
	assert.Len(t, loan.ActiveRepayments(), 1)

	require.NotNil(t, contra.ContraID)
	assert.Equal(t, wrong.ID, *contra.ContraID)
	assert.True(t, contra.Amount.Equal(decimal.NewFromInt(-400)))
	assert.False(t, contra.IsActive())
	assert.False(t, contra.AffectsSchedule())
}

func TestLoan_SortTransactionsIsStable(t *testing.T) {
	loan := &Loan{ID: uuid.New()}
	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	a := NewTransaction(loan.ID, TransactionTypeRepayment, d2, decimal.NewFromInt(1), d1)
	b := NewTransaction(loan.ID, TransactionTypeRepayment, d1, decimal.NewFromInt(2), d1)
	c := NewTransaction(loan.ID, TransactionTypeWaiver, d1, decimal.NewFromInt(3), d2)
	loan.Transactions = []Transaction{a, b, c}

	loan.SortTransactions()

	assert.Equal(t, []uuid.UUID{b.ID, c.ID, a.ID}, []uuid.UUID{loan.Transactions[0].ID, loan.Transactions[1].ID, loan.Transactions[2].ID})
	idx, ok := loan.FindTransaction(a.ID)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Equal(t, d2, loan.LastActiveTransactionDate())
}

func TestLoan_CompletionQueries(t *testing.T) {
	loan := &Loan{}
	assert.False(t, loan.IsFullyRepaid())
	assert.True(t, loan.MaturityDate().IsZero())

	first := newInstallment()
	second := newInstallment()
	second.Number = 2
	second.DueDate = first.DueDate.AddDate(0, 1, 0)
	loan.Installments = []Installment{first, second}

	assert.True(t, loan.ScheduledInterest().Equal(decimal.NewFromInt(20)))
	assert.True(t, loan.TotalOutstanding().Equal(decimal.NewFromInt(220)))
	assert.Equal(t, second.DueDate, loan.MaturityDate())

	paidOn := second.DueDate.AddDate(0, 0, -2)
	for i := range loan.Installments {
		loan.Installments[i].PayInterest(paidOn, decimal.NewFromInt(10))
		loan.Installments[i].PayPrincipal(paidOn, decimal.NewFromInt(100))
	}
	assert.True(t, loan.IsFullyRepaid())
	require.NotNil(t, loan.ObligationsMetOn())
	assert.Equal(t, paidOn, *loan.ObligationsMetOn())
}

func TestParseEnums(t *testing.T) {
	f, err := ParseAllocationFamily("creocore")
	require.NoError(t, err)
	assert.Equal(t, AllocationCreocore, f)
	_, err = ParseAllocationFamily("heavens")
	assert.Error(t, err)

	m, err := ParseInterestMethod("flat")
	require.NoError(t, err)
	assert.Equal(t, InterestFlat, m)
	_, err = ParseInterestMethod("compound")
	assert.Error(t, err)

	a, err := ParseAmortizationMethod("equal_principal")
	require.NoError(t, err)
	assert.Equal(t, AmortizationEqualPrincipal, a)
	_, err = ParseAmortizationMethod("")
	assert.Error(t, err)
}
