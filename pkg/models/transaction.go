package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDisbursement TransactionType = "disbursement"
	TransactionTypeRepayment    TransactionType = "repayment"
	TransactionTypeWaiver       TransactionType = "waiver"
	TransactionTypeWriteOff     TransactionType = "writeoff"
	TransactionTypeReversal     TransactionType = "reversal"
)

// Transaction is a monetary event against a loan. Type, Date and Amount are
// fixed when it is recorded; the portion fields are recomputed on every
// replay.
type Transaction struct {
	ID     uuid.UUID       `json:"id"`
	LoanID uuid.UUID       `json:"loan_id"`
	Type   TransactionType `json:"type"`
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`

	Principal      decimal.Decimal `json:"principal_portion"`
	Interest       decimal.Decimal `json:"interest_portion"`
	InterestWaived decimal.Decimal `json:"interest_waived_portion"`
	Overpayment    decimal.Decimal `json:"overpayment_portion"`

	Reversed  bool       `json:"reversed"`
	ContraID  *uuid.UUID `json:"contra_id,omitempty"` // set on a reversal: the transaction it reverses
	CreatedAt time.Time  `json:"created_at"`
}

// NewTransaction builds an unallocated transaction.
func NewTransaction(loanID uuid.UUID, typ TransactionType, date time.Time, amount decimal.Decimal, createdAt time.Time) Transaction {
	return Transaction{
		ID:             uuid.New(),
		LoanID:         loanID,
		Type:           typ,
		Date:           date,
		Amount:         amount,
		Principal:      decimal.Zero,
		Interest:       decimal.Zero,
		InterestWaived: decimal.Zero,
		Overpayment:    decimal.Zero,
		CreatedAt:      createdAt,
	}
}

// Contra builds the reversal of t: same date, negated amount, linked back.
func (t *Transaction) Contra(createdAt time.Time) Transaction {
	c := NewTransaction(t.LoanID, TransactionTypeReversal, t.Date, t.Amount.Neg(), createdAt)
	original := t.ID
	c.ContraID = &original
	return c
}

func (t *Transaction) ResetDerived() {
	t.Principal = decimal.Zero
	t.Interest = decimal.Zero
	t.InterestWaived = decimal.Zero
	t.Overpayment = decimal.Zero
}

// AddComponents accumulates one installment's share of the transaction.
func (t *Transaction) AddComponents(principal, interest, waived decimal.Decimal) {
	t.Principal = t.Principal.Add(principal)
	t.Interest = t.Interest.Add(interest)
	t.InterestWaived = t.InterestWaived.Add(waived)
}

// Allocated is the part of Amount consumed by installments or overpayment.
func (t *Transaction) Allocated() decimal.Decimal {
	return t.Principal.Add(t.Interest).Add(t.InterestWaived).Add(t.Overpayment)
}

// IsActive reports whether the transaction takes part in allocation: it is
// not a reversal and has not been reversed.
func (t *Transaction) IsActive() bool {
	return !t.Reversed && t.Type != TransactionTypeReversal
}

func (t *Transaction) IsActiveRepayment() bool {
	return t.IsActive() && t.Type == TransactionTypeRepayment
}

// AffectsSchedule reports whether replay allocates the transaction against
// installments.
func (t *Transaction) AffectsSchedule() bool {
	if !t.IsActive() {
		return false
	}
	switch t.Type {
	case TransactionTypeRepayment, TransactionTypeWaiver, TransactionTypeWriteOff:
		return true
	}
	return false
}
