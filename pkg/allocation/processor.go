// Package allocation splits loan transactions across a repayment schedule.
//
// A Processor walks the installments in schedule order and, for every
// installment that is not yet completed, classifies the transaction as an
// advance, late or on-time payment of it. The family the processor was built
// for decides both the advance test and what an advance payment does; late
// and on-time payments are settled interest first by every family. Money an
// installment cannot absorb carries to the next one, and whatever is left
// after the final installment is a loan overpayment.
package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/shopspring/decimal"
)

// ErrUnknownFamily is returned for an allocation family this package does
// not implement.
var ErrUnknownFamily = errors.New("unknown allocation family")

// Processor allocates transactions for one allocation family.
type Processor struct {
	family models.AllocationFamily
}

// NewProcessor returns the processor for family.
func NewProcessor(family models.AllocationFamily) (*Processor, error) {
	switch family {
	case models.AllocationHeavensFamily, models.AllocationCreocore, models.AllocationStandard:
		return &Processor{family: family}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
}

// Family returns the family the processor implements.
func (p *Processor) Family() models.AllocationFamily {
	return p.family
}

// Result summarises a replay.
type Result struct {
	// Overpayment is the repayment money no installment could absorb.
	Overpayment money.Money
}

// Reprocess resets every installment and replays txs, which must already be
// in chronological order, from scratch. Disbursements, reversals and
// reversed transactions are skipped. Replaying an unchanged log always
// produces the same installment and transaction state.
func (p *Processor) Reprocess(txs []models.Transaction, currency money.Currency, installments []models.Installment) Result {
	for i := range installments {
		installments[i].ResetDerived()
	}

	overpaid := decimal.Zero
	for i := range txs {
		tx := &txs[i]
		tx.ResetDerived()
		if !tx.AffectsSchedule() {
			continue
		}
		if tx.Type == models.TransactionTypeWriteOff {
			p.WriteOff(tx, installments)
			continue
		}
		overpaid = overpaid.Add(p.Apply(tx, currency, installments).Amount())
	}
	return Result{Overpayment: money.New(overpaid, currency)}
}

// Apply allocates one repayment or waiver on top of the current installment
// state and returns the loan overpayment it produced. The ledger uses it
// directly when tx is the chronologically latest transaction.
func (p *Processor) Apply(tx *models.Transaction, currency money.Currency, installments []models.Installment) money.Money {
	remaining := tx.Amount
	for idx := range installments {
		if !remaining.IsPositive() {
			break
		}
		inst := &installments[idx]
		if inst.IsFullyCompleted() {
			continue
		}
		switch {
		case p.isAdvance(idx, installments, tx.Date):
			remaining = p.payInAdvance(inst, tx, remaining)
		case isLate(inst, tx.Date):
			remaining = payLate(inst, tx, remaining)
		default:
			remaining = payOnTime(inst, tx, remaining)
		}
	}

	// Unused waiver money is simply not waived.
	if !remaining.IsPositive() || tx.Type != models.TransactionTypeRepayment {
		return money.Zero(currency)
	}
	tx.Overpayment = tx.Overpayment.Add(remaining)
	return money.New(remaining, currency)
}

// WriteOff closes every outstanding installment and records the written-off
// totals on tx.
func (p *Processor) WriteOff(tx *models.Transaction, installments []models.Installment) {
	principal, interest := decimal.Zero, decimal.Zero
	for i := range installments {
		inst := &installments[i]
		if inst.IsFullyCompleted() {
			continue
		}
		pr, in := inst.WriteOff(tx.Date)
		principal = principal.Add(pr)
		interest = interest.Add(in)
	}
	tx.Principal = principal
	tx.Interest = interest
}

// isAdvance reports whether a payment on date counts as paid ahead for the
// installment at idx. HeavensFamily requires a date strictly before the
// previous installment's due date, so paying on that due date is on time.
func (p *Processor) isAdvance(idx int, installments []models.Installment, date time.Time) bool {
	switch p.family {
	case models.AllocationHeavensFamily:
		// Advance means paid before the previous installment fell due; the
		// first installment is compared against its own due date.
		prev := idx - 1
		if prev < 0 {
			prev = 0
		}
		return date.Before(installments[prev].DueDate)
	case models.AllocationCreocore, models.AllocationStandard:
		return date.Before(installments[idx].DueDate)
	}
	panic(fmt.Sprintf("allocation: unhandled family %q", p.family))
}

func (p *Processor) payInAdvance(inst *models.Installment, tx *models.Transaction, remaining decimal.Decimal) decimal.Decimal {
	switch p.family {
	case models.AllocationHeavensFamily:
		return payPrincipalFirst(inst, tx, remaining)
	case models.AllocationCreocore, models.AllocationStandard:
		return payOnTime(inst, tx, remaining)
	}
	panic(fmt.Sprintf("allocation: unhandled family %q", p.family))
}

func isLate(inst *models.Installment, date time.Time) bool {
	return date.After(inst.DueDate)
}

// payLate has no penalty handling; penalties are charged elsewhere.
func payLate(inst *models.Installment, tx *models.Transaction, remaining decimal.Decimal) decimal.Decimal {
	return payOnTime(inst, tx, remaining)
}

func payOnTime(inst *models.Installment, tx *models.Transaction, remaining decimal.Decimal) decimal.Decimal {
	if tx.Type == models.TransactionTypeWaiver {
		return waive(inst, tx, remaining)
	}
	interest := inst.PayInterest(tx.Date, remaining)
	remaining = remaining.Sub(interest)
	principal := inst.PayPrincipal(tx.Date, remaining)
	remaining = remaining.Sub(principal)

	tx.AddComponents(principal, interest, decimal.Zero)
	return remaining
}

// payPrincipalFirst settles principal and, once it is complete, forgives the
// installment's remaining interest. The forgiven interest is not charged to
// the transaction.
func payPrincipalFirst(inst *models.Installment, tx *models.Transaction, remaining decimal.Decimal) decimal.Decimal {
	if tx.Type == models.TransactionTypeWaiver {
		return waive(inst, tx, remaining)
	}
	principal := inst.PayPrincipal(tx.Date, remaining)
	remaining = remaining.Sub(principal)
	if inst.IsPrincipalCompleted() {
		inst.WaiveInterest(tx.Date, inst.InterestOutstanding())
	}

	tx.AddComponents(principal, decimal.Zero, decimal.Zero)
	return remaining
}

func waive(inst *models.Installment, tx *models.Transaction, remaining decimal.Decimal) decimal.Decimal {
	waived := inst.WaiveInterest(tx.Date, remaining)
	tx.AddComponents(decimal.Zero, decimal.Zero, waived)
	return remaining.Sub(waived)
}
