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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// appendTransaction adds tx to the log and brings the derived state up to
// date. A transaction dated on or after every active one is applied on top
// of the current state; a backdated one triggers a full replay.
func (l *Ledger) appendTransaction(loan *models.Loan, tx models.Transaction) (*models.Transaction, error) {
	proc, err := allocation.NewProcessor(loan.AllocationFamily)
	if err != nil {
		return nil, err
	}
	latest := !tx.Date.Before(loan.LastActiveTransactionDate())
	loan.Transactions = append(loan.Transactions, tx)

	if !latest {
		l.logger.Debug("backdated transaction, replaying",
			zap.Stringer("loan_id", loan.ID), zap.Time("date", tx.Date))
		replay(proc, loan)
		i, _ := loan.FindTransaction(tx.ID)
		out := loan.Transactions[i]
		return &out, nil
	}

	appended := &loan.Transactions[len(loan.Transactions)-1]
	switch appended.Type {
	case models.TransactionTypeWriteOff:
		proc.WriteOff(appended, loan.Installments)
	case models.TransactionTypeRepayment, models.TransactionTypeWaiver:
		over := proc.Apply(appended, loan.Currency, loan.Installments)
		total, err := money.New(loan.OverpaidAmount, loan.Currency).Add(over)
		if err != nil {
			return nil, err
		}
		loan.OverpaidAmount = total.Amount()
	}
	out := *appended
	return &out, nil
}

// replayAll recomputes every derived field of the loan from its log.
func (l *Ledger) replayAll(loan *models.Loan) error {
	proc, err := allocation.NewProcessor(loan.AllocationFamily)
	if err != nil {
		return err
	}
	replay(proc, loan)
	return nil
}

func replay(proc *allocation.Processor, loan *models.Loan) {
	loan.SortTransactions()
	res := proc.Reprocess(loan.Transactions, loan.Currency, loan.Installments)
	loan.OverpaidAmount = res.Overpayment.Amount()
}

// deriveStatus moves the loan through the lifecycle to match its replayed
// state. A closed loan that is no longer fully repaid reopens; a repaid loan
// closes, as OVERPAID when money is left over, and is checked for an early
// settlement rebate.
func (l *Ledger) deriveStatus(op string, loan *models.Loan) error {
	if loan.HasActive(models.TransactionTypeWriteOff) {
		return nil
	}
	from := loan.Status
	repaid := loan.IsFullyRepaid()
	overpaid := loan.OverpaidAmount.IsPositive()

	fire := func(ev lifecycle.Event) error {
		next, err := lifecycle.Fire(loan.Status, ev)
		if err != nil {
			return fmt.Errorf("loan %s: %w", loan.ID, err)
		}
		loan.Status = next
		return nil
	}

	switch loan.Status {
	case lifecycle.StatusClosed, lifecycle.StatusOverpaid:
		reopen := !repaid || (loan.Status == lifecycle.StatusOverpaid && !overpaid)
		if reopen {
			if err := fire(lifecycle.EventRepayment); err != nil {
				return err
			}
			loan.ClosedOn = nil
			loan.RebateOwed = decimal.Zero
		} else if loan.Status == lifecycle.StatusClosed && overpaid {
			if err := fire(lifecycle.EventOverpayment); err != nil {
				return err
			}
		}
	}
	// No rebate is owed while money is held over.
	if loan.Status == lifecycle.StatusOverpaid {
		loan.RebateOwed = decimal.Zero
	}

	if loan.Status == lifecycle.StatusActive && repaid {
		ev := lifecycle.EventRepaidInFull
		if overpaid {
			ev = lifecycle.EventOverpayment
		}
		if err := fire(ev); err != nil {
			return err
		}
		loan.ClosedOn = loan.ObligationsMetOn()
		if err := l.applyRebate(loan, fire); err != nil {
			return err
		}
	}

	if loan.Status != from {
		l.logger.Info("loan status derived",
			zap.String("op", op),
			zap.Stringer("loan_id", loan.ID),
			zap.String("from", string(from)),
			zap.String("to", string(loan.Status)),
			zap.String("overpaid", loan.OverpaidAmount.String()),
			zap.String("rebate_owed", loan.RebateOwed.String()),
		)
	}
	return nil
}

// applyRebate records the interest owed back on a loan that closed before
// maturity.
func (l *Ledger) applyRebate(loan *models.Loan, fire func(lifecycle.Event) error) error {
	loan.RebateOwed = decimal.Zero
	if loan.Status != lifecycle.StatusClosed || loan.ClosedOn == nil {
		return nil
	}
	if !loan.ClosedOn.Before(loan.MaturityDate()) {
		return nil
	}
	calc, err := rebate.ForMethod(loan.InterestMethod)
	if err != nil {
		return err
	}
	owed := calc.Calculate(rebate.InputFor(loan, *loan.ClosedOn))
	if !owed.IsPositive() {
		return nil
	}
	loan.RebateOwed = owed.Amount()
	return fire(lifecycle.EventRebateOwed)
}

// ReconcileReport summarises a reconcile run.
type ReconcileReport struct {
	Checked int
	Drifted []uuid.UUID
	Failed  int
}

// ReconcileActiveLoans replays every ACTIVE and OVERPAID loan from scratch
// and stores the loans whose stored derived state differed from the replay.
func (l *Ledger) ReconcileActiveLoans(asOf time.Time) (ReconcileReport, error) {
	const op = "reconcile"
	var report ReconcileReport

	loans, err := l.storage.GetLoansByStatus(lifecycle.StatusActive, lifecycle.StatusOverpaid)
	if err != nil {
		l.logger.Error("failed to list loans", zap.String("op", op), zap.Error(err))
		return report, fmt.Errorf("failed to list loans for reconcile: %w", err)
	}

	for _, loan := range loans {
		report.Checked++
		before := snapshot(loan)
		if err := l.replayAll(loan); err != nil {
			report.Failed++
			l.logger.Error("replay failed", zap.String("op", op), zap.Stringer("loan_id", loan.ID), zap.Error(err))
			continue
		}
		if err := l.deriveStatus(op, loan); err != nil {
			report.Failed++
			l.logger.Error("status derivation failed", zap.String("op", op), zap.Stringer("loan_id", loan.ID), zap.Error(err))
			continue
		}
		if before.matches(loan) {
			continue
		}
		l.logger.Warn("derived state drifted", zap.String("op", op), zap.Stringer("loan_id", loan.ID))
		if err := l.save(op, loan, asOf); err != nil {
			report.Failed++
			continue
		}
		report.Drifted = append(report.Drifted, loan.ID)
	}

	l.logger.Info("reconcile finished",
		zap.String("op", op),
		zap.Int("checked", report.Checked),
		zap.Int("drifted", len(report.Drifted)),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

type loanState struct {
	status       lifecycle.Status
	overpaid     money.Money
	rebate       decimal.Decimal
	installments []models.Installment
	portions     map[uuid.UUID][4]decimal.Decimal
}

func snapshot(loan *models.Loan) loanState {
	s := loanState{
		status:       loan.Status,
		overpaid:     money.New(loan.OverpaidAmount, loan.Currency),
		rebate:       loan.RebateOwed,
		installments: append([]models.Installment(nil), loan.Installments...),
		portions:     make(map[uuid.UUID][4]decimal.Decimal, len(loan.Transactions)),
	}
	for _, tx := range loan.Transactions {
		s.portions[tx.ID] = portionsOf(tx)
	}
	return s
}

func portionsOf(tx models.Transaction) [4]decimal.Decimal {
	return [4]decimal.Decimal{tx.Principal, tx.Interest, tx.InterestWaived, tx.Overpayment}
}

func (s loanState) matches(loan *models.Loan) bool {
	if s.status != loan.Status || !s.overpaid.Equal(money.New(loan.OverpaidAmount, loan.Currency)) || !s.rebate.Equal(loan.RebateOwed) {
		return false
	}
	if len(s.installments) != len(loan.Installments) {
		return false
	}
	for i, a := range s.installments {
		b := loan.Installments[i]
		if a.Completed != b.Completed ||
			!a.PrincipalPaid.Equal(b.PrincipalPaid) ||
			!a.InterestPaid.Equal(b.InterestPaid) ||
			!a.InterestWaived.Equal(b.InterestWaived) ||
			!a.PrincipalWrittenOff.Equal(b.PrincipalWrittenOff) ||
			!a.InterestWrittenOff.Equal(b.InterestWrittenOff) {
			return false
		}
	}
	for _, tx := range loan.Transactions {
		was, ok := s.portions[tx.ID]
		if !ok {
			return false
		}
		now := portionsOf(tx)
		for k := range now {
			if !was[k].Equal(now[k]) {
				return false
			}
		}
	}
	return true
}
