package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanservicing/pkg/ledger"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"
	"github.com/mcclellann/loanservicing/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type createLoanRequest struct {
	CustomerKey              string          `json:"customer_key"`
	Currency                 string          `json:"currency"`
	CurrencyDigits           *int            `json:"currency_digits"`
	Principal                decimal.Decimal `json:"principal"`
	AnnualInterestRate       decimal.Decimal `json:"annual_interest_rate"`
	NumberOfRepayments       int             `json:"number_of_repayments"`
	RepaymentEvery           int             `json:"repayment_every"`
	AmortizationMethod       string          `json:"amortization_method"`
	InterestMethod           string          `json:"interest_method"`
	AllocationFamily         string          `json:"allocation_family"`
	ArrearsTolerance         decimal.Decimal `json:"arrears_tolerance"`
	SubmittedOn              string          `json:"submitted_on"`
	ExpectedDisbursementDate string          `json:"expected_disbursement_date"`
}

type datedRequest struct {
	Date string `json:"date"`
}

type monetaryRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Date     string          `json:"date"`
}

type rebateResponse struct {
	LoanID     uuid.UUID   `json:"loan_id"`
	PayoffDate string      `json:"payoff_date"`
	Rebate     money.Money `json:"rebate"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asOf := s.now()
	digits := 2
	if req.CurrencyDigits != nil {
		digits = *req.CurrencyDigits
	}
	currency, err := money.NewCurrency(req.Currency, digits)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	submitted, err := parseDate(req.SubmittedOn, asOf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	expected, err := parseDate(req.ExpectedDisbursementDate, submitted)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(ledger.Application{
		CustomerKey:              req.CustomerKey,
		Principal:                money.New(req.Principal, currency),
		AnnualInterestRate:       req.AnnualInterestRate,
		NumberOfRepayments:       req.NumberOfRepayments,
		RepaymentEvery:           req.RepaymentEvery,
		AmortizationMethod:       models.AmortizationMethod(req.AmortizationMethod),
		InterestMethod:           models.InterestMethod(req.InterestMethod),
		AllocationFamily:         models.AllocationFamily(req.AllocationFamily),
		ArrearsTolerance:         req.ArrearsTolerance,
		SubmittedOn:              submitted,
		ExpectedDisbursementDate: expected,
	}, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var (
		loans []*models.Loan
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, perr := lifecycle.ParseStatus(raw)
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		loans, err = s.storage.GetLoansByStatus(status)
	} else {
		loans, err = s.ledger.GetAllLoans()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(loanID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// datedCommandHandler serves a status command that takes an effective date,
// defaulting to today.
func (s *Server) datedCommandHandler(cmd func(id uuid.UUID, on, asOf time.Time) (*models.Loan, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req datedRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		asOf := s.now()
		on, err := parseDate(req.Date, asOf)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		loan, err := cmd(loanID, on, asOf)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}

func (s *Server) commandHandler(cmd func(id uuid.UUID, asOf time.Time) (*models.Loan, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		loan, err := cmd(loanID, s.now())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}

// monetaryHandler serves repayments and waivers. The currency defaults to
// the loan's.
func (s *Server) monetaryHandler(cmd func(id uuid.UUID, amount money.Money, date, asOf time.Time) (*models.Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req monetaryRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		asOf := s.now()
		amount, date, err := s.parseMonetary(loanID, req, asOf)
		if err != nil {
			s.writeError(w, err)
			return
		}
		tx, err := cmd(loanID, amount, date, asOf)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	}
}

func (s *Server) writeOffHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req datedRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asOf := s.now()
	date, err := parseDate(req.Date, asOf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tx, err := s.ledger.WriteOff(loanID, date, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// adjustTransactionHandler reverses a transaction and, for a positive
// amount, records its correction. It answers with the updated loan.
func (s *Server) adjustTransactionHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}
	var req monetaryRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asOf := s.now()
	amount, date, err := s.parseMonetary(loanID, req, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.ledger.AdjustTransaction(loanID, txID, amount, date, asOf); err != nil {
		s.writeError(w, err)
		return
	}
	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) rebateHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	payoff, err := parseDate(r.URL.Query().Get("payoff"), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	quote, err := s.ledger.QuoteRebate(loanID, payoff)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebateResponse{
		LoanID:     loanID,
		PayoffDate: payoff.Format(dateLayout),
		Rebate:     quote,
	})
}

func (s *Server) parseMonetary(loanID uuid.UUID, req monetaryRequest, asOf time.Time) (money.Money, time.Time, error) {
	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		return money.Money{}, time.Time{}, err
	}
	currency := loan.Currency
	if req.Currency != "" && req.Currency != currency.Code() {
		c, err := money.NewCurrency(req.Currency, currency.Digits())
		if err != nil {
			return money.Money{}, time.Time{}, &ledger.RejectedError{Reason: err.Error()}
		}
		currency = c
	}
	date, err := parseDate(req.Date, asOf)
	if err != nil {
		return money.Money{}, time.Time{}, &ledger.RejectedError{Reason: err.Error()}
	}
	return money.New(req.Amount, currency), date, nil
}

// writeError maps ledger and store errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrRejected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s", key), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// parseDate reads a YYYY-MM-DD date; an empty string means the day of
// fallback.
func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := fallback.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
