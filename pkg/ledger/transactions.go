package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/mcclellann/loanservicing/pkg/rebate"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MakeRepayment records a repayment and replays the loan. Repayments are
// accepted while the loan is being serviced, including after it closed by
// repayment, in which case the money becomes an overpayment.
func (l *Ledger) MakeRepayment(loanID uuid.UUID, amount money.Money, date, asOf time.Time) (*models.Transaction, error) {
	const op = "repayment"

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if err := validateTransaction(loan, amount, date, asOf); err != nil {
		return nil, l.rejected(op, loanID, err)
	}

	tx, err := l.appendTransaction(loan, models.NewTransaction(loan.ID, models.TransactionTypeRepayment, date, amount.Amount(), asOf))
	if err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if err := l.deriveStatus(op, loan); err != nil {
		return nil, err
	}
	if err := l.save(op, loan, asOf); err != nil {
		return nil, err
	}

	l.logger.Info("repayment recorded",
		zap.String("op", op),
		zap.Stringer("loan_id", loanID),
		zap.Stringer("transaction_id", tx.ID),
		zap.Stringer("amount", amount),
		zap.Time("date", date),
		zap.String("principal_portion", tx.Principal.String()),
		zap.String("interest_portion", tx.Interest.String()),
		zap.String("status", string(loan.Status)),
	)
	return tx, nil
}

// WaiveInterest forgives interest on an active loan. A waiver larger than the
// outstanding interest plus the loan's arrears tolerance is rejected.
func (l *Ledger) WaiveInterest(loanID uuid.UUID, amount money.Money, date, asOf time.Time) (*models.Transaction, error) {
	const op = "waiver"

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != lifecycle.StatusActive {
		return nil, l.rejected(op, loanID, reject(fmt.Sprintf("interest cannot be waived on a %s loan", loan.Status)))
	}
	if err := validateTransaction(loan, amount, date, asOf); err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if err := checkWaiver(loan, amount, date); err != nil {
		return nil, l.rejected(op, loanID, err)
	}

	tx, err := l.appendTransaction(loan, models.NewTransaction(loan.ID, models.TransactionTypeWaiver, date, amount.Amount(), asOf))
	if err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if err := l.deriveStatus(op, loan); err != nil {
		return nil, err
	}
	if err := l.save(op, loan, asOf); err != nil {
		return nil, err
	}

	l.logger.Info("interest waived",
		zap.String("op", op),
		zap.Stringer("loan_id", loanID),
		zap.Stringer("transaction_id", tx.ID),
		zap.Stringer("amount", amount),
		zap.String("waived", tx.InterestWaived.String()),
		zap.Time("date", date),
	)
	return tx, nil
}

func checkWaiver(loan *models.Loan, amount money.Money, date time.Time) error {
	interest := decimal.Zero
	for i := range loan.Installments {
		interest = interest.Add(loan.Installments[i].InterestOutstanding())
	}
	excess, err := amount.Sub(money.New(interest, loan.Currency))
	if err != nil {
		return &RejectedError{Reason: err.Error(), Date: date, Amount: amount.Amount()}
	}
	if excess.Amount().GreaterThan(loan.ArrearsTolerance) {
		return &RejectedError{Reason: "waiver exceeds outstanding interest", Date: date, Amount: amount.Amount()}
	}
	return nil
}

// WriteOff closes an active loan, writing off everything still outstanding.
// The write-off must be the latest transaction of the loan.
func (l *Ledger) WriteOff(loanID uuid.UUID, date, asOf time.Time) (*models.Transaction, error) {
	const op = "writeoff"

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Fire(loan.Status, lifecycle.EventWriteOff)
	if err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if err := checkServicingDate(loan, date, asOf); err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if date.Before(loan.LastActiveTransactionDate()) {
		return nil, l.rejected(op, loanID, &RejectedError{Reason: "write-off precedes the latest transaction", Date: date})
	}
	outstanding := loan.TotalOutstanding()
	if !outstanding.IsPositive() {
		return nil, l.rejected(op, loanID, reject("nothing is outstanding"))
	}

	tx, err := l.appendTransaction(loan, models.NewTransaction(loan.ID, models.TransactionTypeWriteOff, date, outstanding, asOf))
	if err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	loan.Status = next
	loan.ClosedOn = &date
	if err := l.save(op, loan, asOf); err != nil {
		return nil, err
	}

	l.logger.Info("loan written off",
		zap.String("op", op),
		zap.Stringer("loan_id", loanID),
		zap.String("principal", tx.Principal.String()),
		zap.String("interest", tx.Interest.String()),
		zap.Time("date", date),
	)
	return tx, nil
}

// CloseAsRescheduled closes an active loan whose debt moved to a new loan.
func (l *Ledger) CloseAsRescheduled(loanID uuid.UUID, date, asOf time.Time) (*models.Loan, error) {
	return l.transition("reschedule", loanID, lifecycle.EventReschedule, asOf, func(loan *models.Loan) error {
		if err := checkServicingDate(loan, date, asOf); err != nil {
			return err
		}
		loan.ClosedOn = &date
		return nil
	})
}

// AdjustTransaction reverses a repayment or waiver with a contra entry and,
// when amount is positive, records a correcting transaction of the same type
// on date. The original stays in the log marked as reversed. It returns the
// correcting transaction, or nil when the original was only reversed.
func (l *Ledger) AdjustTransaction(loanID, txID uuid.UUID, amount money.Money, date, asOf time.Time) (*models.Transaction, error) {
	const op = "adjust"

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	idx, ok := loan.FindTransaction(txID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if err := checkServicing(loan); err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	original := &loan.Transactions[idx]
	switch {
	case original.Reversed:
		return nil, l.rejected(op, loanID, reject("transaction is already reversed"))
	case original.Type != models.TransactionTypeRepayment && original.Type != models.TransactionTypeWaiver:
		return nil, l.rejected(op, loanID, reject(fmt.Sprintf("a %s cannot be adjusted", original.Type)))
	case amount.IsNegative():
		return nil, l.rejected(op, loanID, &RejectedError{Reason: "amount must not be negative", Amount: amount.Amount()})
	}
	typ := original.Type
	if amount.IsPositive() {
		if err := validateTransaction(loan, amount, date, asOf); err != nil {
			return nil, l.rejected(op, loanID, err)
		}
	}

	original.Reversed = true
	loan.Transactions = append(loan.Transactions, original.Contra(asOf))

	var correction *models.Transaction
	if amount.IsPositive() {
		if typ == models.TransactionTypeWaiver {
			if err := l.replayAll(loan); err != nil {
				return nil, l.rejected(op, loanID, err)
			}
			if err := checkWaiver(loan, amount, date); err != nil {
				return nil, l.rejected(op, loanID, err)
			}
		}
		loan.Transactions = append(loan.Transactions, models.NewTransaction(loan.ID, typ, date, amount.Amount(), asOf))
		correction = &loan.Transactions[len(loan.Transactions)-1]
	}
	var correctionID uuid.UUID
	if correction != nil {
		correctionID = correction.ID
	}

	if err := l.replayAll(loan); err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if err := l.deriveStatus(op, loan); err != nil {
		return nil, err
	}
	if err := l.save(op, loan, asOf); err != nil {
		return nil, err
	}

	l.logger.Info("transaction adjusted",
		zap.String("op", op),
		zap.Stringer("loan_id", loanID),
		zap.Stringer("reversed_id", txID),
		zap.Stringer("amount", amount),
		zap.String("status", string(loan.Status)),
	)
	if correction == nil {
		return nil, nil
	}
	i, _ := loan.FindTransaction(correctionID)
	out := loan.Transactions[i]
	return &out, nil
}

// QuoteRebate returns the interest rebate owed if the loan were settled on
// payoff. It does not change the loan.
func (l *Ledger) QuoteRebate(loanID uuid.UUID, payoff time.Time) (money.Money, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return money.Money{}, err
	}
	if loan.DisbursedOn == nil {
		return money.Money{}, reject("loan has not been disbursed")
	}
	calc, err := rebate.ForMethod(loan.InterestMethod)
	if err != nil {
		return money.Money{}, err
	}
	return calc.Calculate(rebate.InputFor(loan, payoff)), nil
}

// validateTransaction checks a monetary command against the loan before any
// allocation happens.
func validateTransaction(loan *models.Loan, amount money.Money, date, asOf time.Time) error {
	if err := checkServicing(loan); err != nil {
		return err
	}
	if _, err := money.Zero(loan.Currency).Add(amount); err != nil {
		return &RejectedError{Reason: err.Error(), Date: date, Amount: amount.Amount()}
	}
	if !amount.IsPositive() {
		return &RejectedError{Reason: "amount must be positive", Date: date, Amount: amount.Amount()}
	}
	return checkServicingDate(loan, date, asOf)
}

// checkServicing reports whether the loan accepts transactions: it is active
// or overpaid, or closed by repayment.
func checkServicing(loan *models.Loan) error {
	if loan.HasActive(models.TransactionTypeWriteOff) {
		return reject("loan has been written off")
	}
	switch loan.Status {
	case lifecycle.StatusActive, lifecycle.StatusOverpaid:
		return nil
	case lifecycle.StatusClosed:
		if loan.IsFullyRepaid() {
			return nil
		}
	}
	return reject(fmt.Sprintf("loan is %s", loan.Status))
}

func checkServicingDate(loan *models.Loan, date, asOf time.Time) error {
	if loan.DisbursedOn == nil {
		return reject("loan has not been disbursed")
	}
	switch {
	case date.IsZero():
		return reject("date is required")
	case date.Before(*loan.DisbursedOn):
		return &RejectedError{Reason: "date precedes disbursement", Date: date, DisbursedOn: *loan.DisbursedOn}
	case date.After(asOf):
		return &RejectedError{Reason: "date is in the future", Date: date, AsOf: asOf}
	}
	return nil
}
