package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstallment() Installment {
	inst := Installment{
		Number:    1,
		DueDate:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		Principal: decimal.NewFromInt(100),
		Interest:  decimal.NewFromInt(10),
	}
	inst.ResetDerived()
	return inst
}

func TestInstallment_PaymentsNeverExceedDue(t *testing.T) {
	inst := newInstallment()
	on := inst.DueDate

	assert.True(t, inst.PayInterest(on, decimal.NewFromInt(25)).Equal(decimal.NewFromInt(10)))
	assert.True(t, inst.PayInterest(on, decimal.NewFromInt(5)).IsZero())
	assert.True(t, inst.PayPrincipal(on, decimal.NewFromInt(60)).Equal(decimal.NewFromInt(60)))
	assert.False(t, inst.IsFullyCompleted())
	assert.Nil(t, inst.ObligationsMetOn)

	assert.True(t, inst.PayPrincipal(on, decimal.NewFromInt(60)).Equal(decimal.NewFromInt(40)))
	assert.True(t, inst.IsFullyCompleted())
	require.NotNil(t, inst.ObligationsMetOn)
	assert.Equal(t, on, *inst.ObligationsMetOn)
	assert.True(t, inst.TotalOutstanding().IsZero())
}

func TestInstallment_NonPositiveAmountsIgnored(t *testing.T) {
	inst := newInstallment()
	assert.True(t, inst.PayPrincipal(inst.DueDate, decimal.NewFromInt(-5)).IsZero())
	assert.True(t, inst.WaiveInterest(inst.DueDate, decimal.Zero).IsZero())
	assert.True(t, inst.TotalOutstanding().Equal(decimal.NewFromInt(110)))
}

func TestInstallment_WaiveAndWriteOff(t *testing.T) {
	inst := newInstallment()
	on := inst.DueDate.AddDate(0, 1, 0)

	assert.True(t, inst.WaiveInterest(on, decimal.NewFromInt(4)).Equal(decimal.NewFromInt(4)))
	assert.True(t, inst.InterestOutstanding().Equal(decimal.NewFromInt(6)))

	p, i := inst.WriteOff(on)
	assert.True(t, p.Equal(decimal.NewFromInt(100)))
	assert.True(t, i.Equal(decimal.NewFromInt(6)))
	assert.True(t, inst.IsWrittenOff())
	assert.True(t, inst.IsFullyCompleted())
	assert.True(t, inst.PrincipalPaid.IsZero())
}

func TestInstallment_ResetDerived(t *testing.T) {
	inst := newInstallment()
	inst.PayInterest(inst.DueDate, decimal.NewFromInt(10))
	inst.PayPrincipal(inst.DueDate, decimal.NewFromInt(100))
	require.True(t, inst.IsFullyCompleted())

	inst.ResetDerived()

	assert.False(t, inst.IsFullyCompleted())
	assert.Nil(t, inst.ObligationsMetOn)
	assert.True(t, inst.TotalOutstanding().Equal(decimal.NewFromInt(110)))
	assert.True(t, inst.Principal.Equal(decimal.NewFromInt(100)), "due amounts survive a reset")
}
