package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Installment is one scheduled due period of a loan. Number, DueDate,
// Principal and Interest come from schedule generation and never change;
// every other field is derived during replay.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"due_date"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`

	PrincipalPaid       decimal.Decimal `json:"principal_paid"`
	InterestPaid        decimal.Decimal `json:"interest_paid"`
	InterestWaived      decimal.Decimal `json:"interest_waived"`
	PrincipalWrittenOff decimal.Decimal `json:"principal_written_off"`
	InterestWrittenOff  decimal.Decimal `json:"interest_written_off"`
	Completed           bool            `json:"completed"`
	ObligationsMetOn    *time.Time      `json:"obligations_met_on,omitempty"`
}

// ResetDerived zeroes everything replay computes.
func (i *Installment) ResetDerived() {
	i.PrincipalPaid = decimal.Zero
	i.InterestPaid = decimal.Zero
	i.InterestWaived = decimal.Zero
	i.PrincipalWrittenOff = decimal.Zero
	i.InterestWrittenOff = decimal.Zero
	i.Completed = false
	i.ObligationsMetOn = nil
	i.refresh(time.Time{})
}

func (i *Installment) PrincipalOutstanding() decimal.Decimal {
	return i.Principal.Sub(i.PrincipalPaid).Sub(i.PrincipalWrittenOff)
}

func (i *Installment) InterestOutstanding() decimal.Decimal {
	return i.Interest.Sub(i.InterestPaid).Sub(i.InterestWaived).Sub(i.InterestWrittenOff)
}

func (i *Installment) TotalOutstanding() decimal.Decimal {
	return i.PrincipalOutstanding().Add(i.InterestOutstanding())
}

func (i *Installment) IsPrincipalCompleted() bool {
	return i.PrincipalOutstanding().IsZero()
}

// IsFullyCompleted reports whether nothing remains outstanding.
func (i *Installment) IsFullyCompleted() bool {
	return i.Completed
}

// IsWrittenOff reports whether a write-off closed part of this installment.
func (i *Installment) IsWrittenOff() bool {
	return i.PrincipalWrittenOff.IsPositive() || i.InterestWrittenOff.IsPositive()
}

// PayInterest applies up to amount to the outstanding interest and returns
// the portion applied.
func (i *Installment) PayInterest(on time.Time, amount decimal.Decimal) decimal.Decimal {
	applied := capped(amount, i.InterestOutstanding())
	i.InterestPaid = i.InterestPaid.Add(applied)
	i.refresh(on)
	return applied
}

// PayPrincipal applies up to amount to the outstanding principal and
// returns the portion applied.
func (i *Installment) PayPrincipal(on time.Time, amount decimal.Decimal) decimal.Decimal {
	applied := capped(amount, i.PrincipalOutstanding())
	i.PrincipalPaid = i.PrincipalPaid.Add(applied)
	i.refresh(on)
	return applied
}

// WaiveInterest forgives up to amount of the outstanding interest and
// returns the portion waived.
func (i *Installment) WaiveInterest(on time.Time, amount decimal.Decimal) decimal.Decimal {
	applied := capped(amount, i.InterestOutstanding())
	i.InterestWaived = i.InterestWaived.Add(applied)
	i.refresh(on)
	return applied
}

// WriteOff collapses whatever is outstanding without recording it as paid.
func (i *Installment) WriteOff(on time.Time) (principal, interest decimal.Decimal) {
	principal = i.PrincipalOutstanding()
	interest = i.InterestOutstanding()
	i.PrincipalWrittenOff = i.PrincipalWrittenOff.Add(principal)
	i.InterestWrittenOff = i.InterestWrittenOff.Add(interest)
	i.refresh(on)
	return principal, interest
}

func (i *Installment) refresh(on time.Time) {
	done := i.TotalOutstanding().IsZero()
	if done && !i.Completed && !on.IsZero() {
		d := on
		i.ObligationsMetOn = &d
	}
	if !done {
		i.ObligationsMetOn = nil
	}
	i.Completed = done
}

func capped(amount, limit decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || !limit.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(amount, limit)
}
