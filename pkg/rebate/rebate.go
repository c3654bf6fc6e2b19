// Package rebate computes the interest refunded to a borrower who settles a
// loan before its maturity date.
//
// Both calculators recompute the interest the borrower would have owed
// under a daily-equivalent rate for the days the money was actually out,
// and rebate the difference to the scheduled interest. They are pure
// functions of their input.
package rebate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/shopspring/decimal"
)

// dailyRatePrecision is the number of fractional digits the daily rate is
// rounded to.
const dailyRatePrecision = 9

var daysInYearPercent = decimal.NewFromInt(36500)

// ErrUnknownInterestMethod is returned by ForMethod.
var ErrUnknownInterestMethod = errors.New("unknown interest method")

// Input is everything a calculator needs about the loan.
type Input struct {
	Currency           money.Currency
	DisbursementDate   time.Time
	PayoffDate         time.Time
	Principal          decimal.Decimal
	AnnualInterestRate decimal.Decimal // percent per year
	Installments       []models.Installment
	Repayments         []models.Transaction
}

// InputFor collects the input for loan settled on payoff.
func InputFor(loan *models.Loan, payoff time.Time) Input {
	in := Input{
		Currency:           loan.Currency,
		PayoffDate:         payoff,
		Principal:          loan.Principal,
		AnnualInterestRate: loan.AnnualInterestRate,
		Installments:       loan.Installments,
		Repayments:         loan.ActiveRepayments(),
	}
	if loan.DisbursedOn != nil {
		in.DisbursementDate = *loan.DisbursedOn
	}
	return in
}

// Calculator computes an early settlement rebate. The result is never
// negative.
type Calculator interface {
	Calculate(in Input) money.Money
}

// ForMethod returns the calculator matching the loan's interest method.
func ForMethod(m models.InterestMethod) (Calculator, error) {
	switch m {
	case models.InterestDecliningBalance:
		return DecliningBalance{}, nil
	case models.InterestFlat:
		return Flat{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownInterestMethod, m)
}

// DecliningBalance replays the repayments against a balance that accrues
// interest daily.
type DecliningBalance struct{}

func (DecliningBalance) Calculate(in Input) money.Money {
	if !settlesEarly(in) {
		return money.Zero(in.Currency)
	}
	dailyRate := DailyRate(in.AnnualInterestRate)

	repayments := repaymentsUntil(in.Repayments, in.PayoffDate)
	balanceDate := in.DisbursementDate
	outstanding := in.Principal
	recomputed := decimal.Zero

	accrue := func(until time.Time) decimal.Decimal {
		if !outstanding.IsPositive() {
			return decimal.Zero
		}
		periodRate := dailyRate.Mul(decimal.NewFromInt(daysBetween(balanceDate, until)))
		return in.Currency.Round(outstanding.Mul(periodRate))
	}

	for _, r := range repayments {
		interestDue := accrue(r.Date)
		outstanding = outstanding.Sub(r.Amount.Sub(interestDue))
		recomputed = recomputed.Add(interestDue)
		balanceDate = r.Date
	}
	recomputed = recomputed.Add(accrue(in.PayoffDate))

	return rebateOf(in, recomputed)
}

// Flat scales the scheduled interest by the share of the term that
// actually elapsed.
type Flat struct{}

func (Flat) Calculate(in Input) money.Money {
	if !settlesEarly(in) || !in.Principal.IsPositive() {
		return money.Zero(in.Currency)
	}
	termDays := daysBetween(in.DisbursementDate, maturity(in.Installments))
	if termDays <= 0 {
		return money.Zero(in.Currency)
	}

	periodicRate := scheduledInterest(in.Installments).Div(in.Principal.Mul(decimal.NewFromInt(termDays)))
	elapsed := decimal.NewFromInt(daysBetween(in.DisbursementDate, in.PayoffDate))
	recomputed := in.Currency.Round(in.Principal.Mul(periodicRate).Mul(elapsed))

	return rebateOf(in, recomputed)
}

// DailyRate converts an annual percentage rate to a daily fraction.
func DailyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.Div(daysInYearPercent).RoundBank(dailyRatePrecision)
}

// settlesEarly guards against settlement on or after maturity, settlement
// before disbursement and empty schedules.
func settlesEarly(in Input) bool {
	if len(in.Installments) == 0 || in.DisbursementDate.IsZero() {
		return false
	}
	if in.PayoffDate.Before(in.DisbursementDate) {
		return false
	}
	return daysBetween(in.PayoffDate, maturity(in.Installments)) > 0
}

func rebateOf(in Input, recomputed decimal.Decimal) money.Money {
	original := money.New(scheduledInterest(in.Installments), in.Currency)
	owed, err := original.Sub(money.New(recomputed, in.Currency))
	if err != nil || !recomputed.IsPositive() || !owed.IsPositive() {
		return money.Zero(in.Currency)
	}
	return owed
}

func scheduledInterest(installments []models.Installment) decimal.Decimal {
	total := decimal.Zero
	for i := range installments {
		total = total.Add(installments[i].Interest)
	}
	return total
}

func maturity(installments []models.Installment) time.Time {
	return installments[len(installments)-1].DueDate
}

func repaymentsUntil(txs []models.Transaction, payoff time.Time) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.IsActiveRepayment() && !tx.Date.After(payoff) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Date.Before(out[b].Date) })
	return out
}

func daysBetween(from, to time.Time) int64 {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int64(t.Sub(f) / (24 * time.Hour))
}
