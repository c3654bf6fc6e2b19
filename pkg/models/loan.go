package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/shopspring/decimal"
)

// Loan is the aggregate root. It owns its installments and transactions by
// value; only the ledger mutates Status, through the lifecycle package.
type Loan struct {
	ID          uuid.UUID      `json:"id"`
	CustomerKey string         `json:"customer_key"` // Link to external customer system
	Currency    money.Currency `json:"currency"`

	Principal          decimal.Decimal    `json:"principal"`
	AnnualInterestRate decimal.Decimal    `json:"annual_interest_rate"` // nominal, percent per year
	NumberOfRepayments int                `json:"number_of_repayments"`
	RepaymentEvery     int                `json:"repayment_every"` // months between installments
	AmortizationMethod AmortizationMethod `json:"amortization_method"`
	InterestMethod     InterestMethod     `json:"interest_method"`
	AllocationFamily   AllocationFamily   `json:"allocation_family"`
	ArrearsTolerance   decimal.Decimal    `json:"arrears_tolerance"`

	Status                   lifecycle.Status `json:"status"`
	SubmittedOn              time.Time        `json:"submitted_on"`
	ExpectedDisbursementDate time.Time        `json:"expected_disbursement_date"`
	ApprovedOn               *time.Time       `json:"approved_on,omitempty"`
	DisbursedOn              *time.Time       `json:"disbursed_on,omitempty"`
	ClosedOn                 *time.Time       `json:"closed_on,omitempty"`

	OverpaidAmount decimal.Decimal `json:"overpaid_amount"`
	RebateOwed     decimal.Decimal `json:"rebate_owed"`

	Installments []Installment `json:"installments"`
	Transactions []Transaction `json:"transactions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SortTransactions orders the log by transaction date; transactions on the
// same date keep the order they were recorded in.
func (l *Loan) SortTransactions() {
	sort.SliceStable(l.Transactions, func(a, b int) bool {
		return l.Transactions[a].Date.Before(l.Transactions[b].Date)
	})
}

// FindTransaction returns the index of the transaction with the given id.
func (l *Loan) FindTransaction(id uuid.UUID) (int, bool) {
	for i := range l.Transactions {
		if l.Transactions[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// TotalRepaid sums active repayments; reversed repayments and their contras
// are ignored.
func (l *Loan) TotalRepaid() decimal.Decimal {
	total := decimal.Zero
	for i := range l.Transactions {
		if l.Transactions[i].IsActiveRepayment() {
			total = total.Add(l.Transactions[i].Amount)
		}
	}
	return total
}

// TotalOutstanding sums what remains due across the schedule.
func (l *Loan) TotalOutstanding() decimal.Decimal {
	total := decimal.Zero
	for i := range l.Installments {
		total = total.Add(l.Installments[i].TotalOutstanding())
	}
	return total
}

// ScheduledInterest is the interest the schedule was generated with.
func (l *Loan) ScheduledInterest() decimal.Decimal {
	total := decimal.Zero
	for i := range l.Installments {
		total = total.Add(l.Installments[i].Interest)
	}
	return total
}

// IsFullyRepaid reports whether every installment is completed.
func (l *Loan) IsFullyRepaid() bool {
	if len(l.Installments) == 0 {
		return false
	}
	for i := range l.Installments {
		if !l.Installments[i].IsFullyCompleted() {
			return false
		}
	}
	return true
}

// ObligationsMetOn is the latest date on which an installment was
// completed, or nil while the loan is not fully repaid.
func (l *Loan) ObligationsMetOn() *time.Time {
	if !l.IsFullyRepaid() {
		return nil
	}
	var last *time.Time
	for i := range l.Installments {
		d := l.Installments[i].ObligationsMetOn
		if d != nil && (last == nil || d.After(*last)) {
			last = d
		}
	}
	return last
}

// MaturityDate is the due date of the final installment.
func (l *Loan) MaturityDate() time.Time {
	if len(l.Installments) == 0 {
		return time.Time{}
	}
	return l.Installments[len(l.Installments)-1].DueDate
}

// LastActiveTransactionDate is the date of the latest transaction that
// still takes part in allocation, disbursement included.
func (l *Loan) LastActiveTransactionDate() time.Time {
	var last time.Time
	for i := range l.Transactions {
		t := &l.Transactions[i]
		if t.IsActive() && t.Date.After(last) {
			last = t.Date
		}
	}
	return last
}

// HasActive reports whether an active transaction of the given type exists.
func (l *Loan) HasActive(typ TransactionType) bool {
	for i := range l.Transactions {
		if l.Transactions[i].IsActive() && l.Transactions[i].Type == typ {
			return true
		}
	}
	return false
}

// ActiveRepayments returns copies of the active repayments in log order.
func (l *Loan) ActiveRepayments() []Transaction {
	var out []Transaction
	for i := range l.Transactions {
		if l.Transactions[i].IsActiveRepayment() {
			out = append(out, l.Transactions[i])
		}
	}
	return out
}
