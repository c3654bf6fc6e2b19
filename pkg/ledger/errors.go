package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrTransactionNotFound is returned when a loan has no transaction with
	// the requested id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrRejected is matched by every *RejectedError.
	ErrRejected = errors.New("command rejected")
)

// RejectedError reports a command whose content or ordering is invalid for
// the loan. It carries the offending dates and amount so the caller can
// explain the rejection.
type RejectedError struct {
	Reason      string
	Date        time.Time
	DisbursedOn time.Time
	AsOf        time.Time
	Amount      decimal.Decimal
}

func (e *RejectedError) Error() string {
	var details []string
	if !e.Date.IsZero() {
		details = append(details, "date "+e.Date.Format(dateLayout))
	}
	if !e.DisbursedOn.IsZero() {
		details = append(details, "disbursed on "+e.DisbursedOn.Format(dateLayout))
	}
	if !e.AsOf.IsZero() {
		details = append(details, "as of "+e.AsOf.Format(dateLayout))
	}
	if !e.Amount.IsZero() {
		details = append(details, "amount "+e.Amount.String())
	}
	if len(details) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (%s)", e.Reason, strings.Join(details, ", "))
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

const dateLayout = "2006-01-02"

func reject(reason string) *RejectedError {
	return &RejectedError{Reason: reason}
}
