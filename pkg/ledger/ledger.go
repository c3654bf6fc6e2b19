// Package ledger services loans: it validates commands against the loan
// lifecycle, records transactions, replays the transaction log against the
// repayment schedule and persists the result.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanservicing/pkg/allocation"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/mcclellann/loanservicing/pkg/rebate"
	"github.com/mcclellann/loanservicing/pkg/schedule"
	"github.com/mcclellann/loanservicing/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductDefaults fill in the product settings an application leaves empty.
type ProductDefaults struct {
	AllocationFamily   models.AllocationFamily
	InterestMethod     models.InterestMethod
	AmortizationMethod models.AmortizationMethod
}

// DefaultProduct is used when NewLedger is given zero defaults.
var DefaultProduct = ProductDefaults{
	AllocationFamily:   models.AllocationHeavensFamily,
	InterestMethod:     models.InterestDecliningBalance,
	AmortizationMethod: models.AmortizationEqualInstallments,
}

// Ledger handles the business logic for loans and transactions.
//
// Commands load the whole loan aggregate, change it in memory and write it
// back. Callers must serialize commands against the same loan.
type Ledger struct {
	storage  store.Storage
	logger   *zap.Logger
	defaults ProductDefaults
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *zap.Logger, defaults ProductDefaults) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults == (ProductDefaults{}) {
		defaults = DefaultProduct
	}
	return &Ledger{storage: s, logger: logger, defaults: defaults}
}

// Application is a loan request. Empty product settings take the ledger's
// defaults.
type Application struct {
	CustomerKey              string
	Principal                money.Money
	AnnualInterestRate       decimal.Decimal // percent per year
	NumberOfRepayments       int
	RepaymentEvery           int // months
	AmortizationMethod       models.AmortizationMethod
	InterestMethod           models.InterestMethod
	AllocationFamily         models.AllocationFamily
	ArrearsTolerance         decimal.Decimal
	SubmittedOn              time.Time
	ExpectedDisbursementDate time.Time
}

// CreateLoan submits a new loan for approval and generates its schedule from
// the expected disbursement date.
func (l *Ledger) CreateLoan(app Application, asOf time.Time) (*models.Loan, error) {
	const op = "create"

	loan, err := l.newLoan(app, asOf)
	if err != nil {
		return nil, l.rejected(op, uuid.Nil, err)
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		l.logger.Error("failed to store loan", zap.String("op", op), zap.Stringer("loan_id", loan.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan submitted",
		zap.String("op", op),
		zap.Stringer("loan_id", loan.ID),
		zap.String("customer_key", loan.CustomerKey),
		zap.Stringer("principal", money.New(loan.Principal, loan.Currency)),
		zap.Int("installments", len(loan.Installments)),
	)
	return loan, nil
}

func (l *Ledger) newLoan(app Application, asOf time.Time) (*models.Loan, error) {
	switch {
	case app.CustomerKey == "":
		return nil, reject("customer key is required")
	case app.SubmittedOn.IsZero():
		return nil, reject("submission date is required")
	case app.SubmittedOn.After(asOf):
		return nil, &RejectedError{Reason: "submission date is in the future", Date: app.SubmittedOn, AsOf: asOf}
	case app.ExpectedDisbursementDate.Before(app.SubmittedOn):
		return nil, &RejectedError{Reason: "expected disbursement precedes submission", Date: app.ExpectedDisbursementDate}
	case app.ArrearsTolerance.IsNegative():
		return nil, &RejectedError{Reason: "arrears tolerance must not be negative", Amount: app.ArrearsTolerance}
	}

	product := l.defaults
	if app.AllocationFamily != "" {
		product.AllocationFamily = app.AllocationFamily
	}
	if app.InterestMethod != "" {
		product.InterestMethod = app.InterestMethod
	}
	if app.AmortizationMethod != "" {
		product.AmortizationMethod = app.AmortizationMethod
	}
	if _, err := allocation.NewProcessor(product.AllocationFamily); err != nil {
		return nil, reject(err.Error())
	}
	if _, err := rebate.ForMethod(product.InterestMethod); err != nil {
		return nil, reject(err.Error())
	}
	if _, err := models.ParseAmortizationMethod(string(product.AmortizationMethod)); err != nil {
		return nil, reject(err.Error())
	}

	status, err := lifecycle.Fire(lifecycle.StatusNone, lifecycle.EventCreate)
	if err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:                       uuid.New(),
		CustomerKey:              app.CustomerKey,
		Currency:                 app.Principal.Currency(),
		Principal:                app.Principal.Amount(),
		AnnualInterestRate:       app.AnnualInterestRate,
		NumberOfRepayments:       app.NumberOfRepayments,
		RepaymentEvery:           app.RepaymentEvery,
		AmortizationMethod:       product.AmortizationMethod,
		InterestMethod:           product.InterestMethod,
		AllocationFamily:         product.AllocationFamily,
		ArrearsTolerance:         app.ArrearsTolerance,
		Status:                   status,
		SubmittedOn:              app.SubmittedOn,
		ExpectedDisbursementDate: app.ExpectedDisbursementDate,
		OverpaidAmount:           decimal.Zero,
		RebateOwed:               decimal.Zero,
		CreatedAt:                asOf,
		UpdatedAt:                asOf,
	}
	if err := regenerateSchedule(loan, app.ExpectedDisbursementDate); err != nil {
		return nil, err
	}
	return loan, nil
}

func regenerateSchedule(loan *models.Loan, start time.Time) error {
	installments, err := schedule.Generate(schedule.TermsFor(loan, start))
	if err != nil {
		return reject(err.Error())
	}
	loan.Installments = installments
	return nil
}

// Approve moves a submitted loan to APPROVED.
func (l *Ledger) Approve(loanID uuid.UUID, on, asOf time.Time) (*models.Loan, error) {
	return l.transition("approve", loanID, lifecycle.EventApprove, asOf, func(loan *models.Loan) error {
		if err := checkDate(on, loan.SubmittedOn, asOf); err != nil {
			return err
		}
		loan.ApprovedOn = &on
		return nil
	})
}

// Reject refuses a submitted loan.
func (l *Ledger) Reject(loanID uuid.UUID, on, asOf time.Time) (*models.Loan, error) {
	return l.transition("reject", loanID, lifecycle.EventReject, asOf, func(loan *models.Loan) error {
		if err := checkDate(on, loan.SubmittedOn, asOf); err != nil {
			return err
		}
		loan.ClosedOn = &on
		return nil
	})
}

// Withdraw records that the applicant withdrew a loan that was not yet
// disbursed.
func (l *Ledger) Withdraw(loanID uuid.UUID, on, asOf time.Time) (*models.Loan, error) {
	return l.transition("withdraw", loanID, lifecycle.EventWithdraw, asOf, func(loan *models.Loan) error {
		if err := checkDate(on, loan.SubmittedOn, asOf); err != nil {
			return err
		}
		loan.ClosedOn = &on
		return nil
	})
}

// UndoApproval returns an approved loan to PENDING_APPROVAL.
func (l *Ledger) UndoApproval(loanID uuid.UUID, asOf time.Time) (*models.Loan, error) {
	return l.transition("undo-approval", loanID, lifecycle.EventUndoApproval, asOf, func(loan *models.Loan) error {
		loan.ApprovedOn = nil
		return nil
	})
}

// Disburse activates an approved loan. The schedule is regenerated when the
// money goes out on a different day than expected.
func (l *Ledger) Disburse(loanID uuid.UUID, on, asOf time.Time) (*models.Loan, error) {
	return l.transition("disburse", loanID, lifecycle.EventDisburse, asOf, func(loan *models.Loan) error {
		notBefore := loan.SubmittedOn
		if loan.ApprovedOn != nil {
			notBefore = *loan.ApprovedOn
		}
		if err := checkDate(on, notBefore, asOf); err != nil {
			return err
		}
		if !on.Equal(loan.ExpectedDisbursementDate) {
			if err := regenerateSchedule(loan, on); err != nil {
				return err
			}
		}
		tx := models.NewTransaction(loan.ID, models.TransactionTypeDisbursement, on, loan.Principal, asOf)
		loan.Transactions = append(loan.Transactions, tx)
		loan.DisbursedOn = &on
		return nil
	})
}

// UndoDisbursal reverses the disbursement of a loan that has no active
// repayment, waiver or write-off and returns it to APPROVED.
func (l *Ledger) UndoDisbursal(loanID uuid.UUID, asOf time.Time) (*models.Loan, error) {
	return l.transition("undo-disbursal", loanID, lifecycle.EventUndoDisbursal, asOf, func(loan *models.Loan) error {
		for _, typ := range []models.TransactionType{models.TransactionTypeRepayment, models.TransactionTypeWaiver, models.TransactionTypeWriteOff} {
			if loan.HasActive(typ) {
				return reject(fmt.Sprintf("loan has an active %s", typ))
			}
		}
		for i := range loan.Transactions {
			tx := &loan.Transactions[i]
			if tx.IsActive() && tx.Type == models.TransactionTypeDisbursement {
				tx.Reversed = true
				loan.Transactions = append(loan.Transactions, tx.Contra(asOf))
				break
			}
		}
		loan.DisbursedOn = nil
		return regenerateSchedule(loan, loan.ExpectedDisbursementDate)
	})
}

// transition loads the loan, checks that ev is legal from its status, lets
// mutate update the loan and persists it with the new status.
func (l *Ledger) transition(op string, loanID uuid.UUID, ev lifecycle.Event, asOf time.Time, mutate func(*models.Loan) error) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	from := loan.Status
	next, err := lifecycle.Fire(from, ev)
	if err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	if err := mutate(loan); err != nil {
		return nil, l.rejected(op, loanID, err)
	}
	loan.Status = next
	if err := l.save(op, loan, asOf); err != nil {
		return nil, err
	}

	l.logger.Info("loan status changed",
		zap.String("op", op),
		zap.Stringer("loan_id", loanID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
	return loan, nil
}

func (l *Ledger) save(op string, loan *models.Loan, asOf time.Time) error {
	loan.UpdatedAt = asOf
	if err := l.storage.UpdateLoan(loan); err != nil {
		l.logger.Error("failed to update loan", zap.String("op", op), zap.Stringer("loan_id", loan.ID), zap.Error(err))
		return fmt.Errorf("failed to update loan %s: %w", loan.ID, err)
	}
	return nil
}

func (l *Ledger) rejected(op string, loanID uuid.UUID, err error) error {
	l.logger.Warn("command rejected", zap.String("op", op), zap.Stringer("loan_id", loanID), zap.Error(err))
	return err
}

// checkDate rejects a date before notBefore or after asOf.
func checkDate(date, notBefore, asOf time.Time) error {
	switch {
	case date.IsZero():
		return reject("date is required")
	case date.After(asOf):
		return &RejectedError{Reason: "date is in the future", Date: date, AsOf: asOf}
	case date.Before(notBefore):
		return &RejectedError{Reason: "date precedes an earlier loan event", Date: date}
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// DeleteLoan deletes a loan that was never disbursed.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.DisbursedOn != nil || len(loan.Transactions) > 0 {
		return l.rejected("delete", id, reject("a loan with transactions cannot be deleted"))
	}
	if err := l.storage.DeleteLoan(id); err != nil {
		return fmt.Errorf("failed to delete loan %s: %w", id, err)
	}
	l.logger.Info("loan deleted", zap.String("op", "delete"), zap.Stringer("loan_id", id))
	return nil
}
