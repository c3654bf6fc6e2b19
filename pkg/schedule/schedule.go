// Package schedule generates the repayment schedule a loan is serviced
// against.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/shopspring/decimal"
)

// factorPrecision bounds the digits kept while compounding (1+r)^n.
const factorPrecision = 20

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// Terms are the inputs of schedule generation.
type Terms struct {
	Principal          decimal.Decimal
	Currency           money.Currency
	AnnualInterestRate decimal.Decimal // percent per year
	NumberOfRepayments int
	RepaymentEvery     int // months
	Amortization       models.AmortizationMethod
	InterestMethod     models.InterestMethod
	StartDate          time.Time
}

// TermsFor reads the terms of loan, counting periods from start.
func TermsFor(loan *models.Loan, start time.Time) Terms {
	return Terms{
		Principal:          loan.Principal,
		Currency:           loan.Currency,
		AnnualInterestRate: loan.AnnualInterestRate,
		NumberOfRepayments: loan.NumberOfRepayments,
		RepaymentEvery:     loan.RepaymentEvery,
		Amortization:       loan.AmortizationMethod,
		InterestMethod:     loan.InterestMethod,
		StartDate:          start,
	}
}

func (t Terms) validate() error {
	switch {
	case !t.Principal.IsPositive():
		return errors.New("principal must be positive")
	case t.Currency.IsZero():
		return errors.New("currency is required")
	case t.AnnualInterestRate.IsNegative():
		return errors.New("interest rate must not be negative")
	case t.NumberOfRepayments <= 0:
		return errors.New("number of repayments must be positive")
	case t.RepaymentEvery <= 0:
		return errors.New("repayment frequency must be positive")
	case t.StartDate.IsZero():
		return errors.New("start date is required")
	}
	return nil
}

// periodicRate is the interest rate of one repayment period as a fraction.
func (t Terms) periodicRate() decimal.Decimal {
	return t.AnnualInterestRate.Div(hundred).
		Mul(decimal.NewFromInt(int64(t.RepaymentEvery))).
		Div(monthsInYear)
}

// Generate builds the installments for t. Principal always sums exactly to
// the loan principal; the final installment absorbs rounding.
func Generate(t Terms) ([]models.Installment, error) {
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule terms: %w", err)
	}

	var principals, interests []decimal.Decimal
	switch t.InterestMethod {
	case models.InterestFlat:
		principals, interests = flat(t)
	case models.InterestDecliningBalance:
		switch t.Amortization {
		case models.AmortizationEqualInstallments:
			principals, interests = decliningEqualInstallments(t)
		case models.AmortizationEqualPrincipal:
			principals, interests = decliningEqualPrincipal(t)
		default:
			return nil, fmt.Errorf("unsupported amortization method %q", t.Amortization)
		}
	default:
		return nil, fmt.Errorf("unsupported interest method %q", t.InterestMethod)
	}

	out := make([]models.Installment, t.NumberOfRepayments)
	for k := range out {
		out[k] = models.Installment{
			Number:    k + 1,
			DueDate:   t.StartDate.AddDate(0, t.RepaymentEvery*(k+1), 0),
			Principal: principals[k],
			Interest:  interests[k],
		}
		out[k].ResetDerived()
	}
	return out, nil
}

// flat charges interest on the original principal for the whole term and
// spreads both principal and interest evenly, so the installment total is
// the same for either amortization method.
func flat(t Terms) (principals, interests []decimal.Decimal) {
	n := decimal.NewFromInt(int64(t.NumberOfRepayments))
	totalInterest := t.Currency.Round(t.Principal.Mul(t.periodicRate()).Mul(n))

	principals = evenSplit(t.Currency, t.Principal, t.NumberOfRepayments)
	interests = evenSplit(t.Currency, totalInterest, t.NumberOfRepayments)
	return principals, interests
}

func decliningEqualPrincipal(t Terms) (principals, interests []decimal.Decimal) {
	rate := t.periodicRate()
	principals = evenSplit(t.Currency, t.Principal, t.NumberOfRepayments)
	interests = make([]decimal.Decimal, t.NumberOfRepayments)

	remaining := t.Principal
	for k := range principals {
		interests[k] = t.Currency.Round(remaining.Mul(rate))
		remaining = remaining.Sub(principals[k])
	}
	return principals, interests
}

// decliningEqualInstallments is the annuity schedule:
//
//	payment = P * r * (1+r)^n / ((1+r)^n - 1)
func decliningEqualInstallments(t Terms) (principals, interests []decimal.Decimal) {
	rate := t.periodicRate()
	if rate.IsZero() {
		return decliningEqualPrincipal(t)
	}

	factor := decimal.NewFromInt(1)
	onePlusRate := rate.Add(factor)
	for k := 0; k < t.NumberOfRepayments; k++ {
		factor = factor.Mul(onePlusRate).Round(factorPrecision)
	}
	payment := t.Currency.Round(t.Principal.Mul(rate).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1))))

	principals = make([]decimal.Decimal, t.NumberOfRepayments)
	interests = make([]decimal.Decimal, t.NumberOfRepayments)
	remaining := t.Principal
	for k := range principals {
		interests[k] = t.Currency.Round(remaining.Mul(rate))
		principal := payment.Sub(interests[k])
		if k == t.NumberOfRepayments-1 || principal.GreaterThan(remaining) {
			principal = remaining
		}
		principals[k] = principal
		remaining = remaining.Sub(principal)
	}
	return principals, interests
}

// evenSplit truncates each share so the final one is never negative.
func evenSplit(c money.Currency, total decimal.Decimal, n int) []decimal.Decimal {
	part := total.Div(decimal.NewFromInt(int64(n))).Truncate(int32(c.Digits()))
	out := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for k := 0; k < n-1; k++ {
		out[k] = part
		allocated = allocated.Add(part)
	}
	out[n-1] = total.Sub(allocated)
	return out
}
