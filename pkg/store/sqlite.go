package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/money"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		currency_digits INTEGER NOT NULL,
		principal TEXT NOT NULL,
		annual_interest_rate TEXT NOT NULL,
		number_of_repayments INTEGER NOT NULL,
		repayment_every INTEGER NOT NULL,
		amortization_method TEXT NOT NULL,
		interest_method TEXT NOT NULL,
		allocation_family TEXT NOT NULL,
		arrears_tolerance TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		submitted_on DATETIME NOT NULL,
		expected_disbursement_date DATETIME NOT NULL,
		approved_on DATETIME,
		disbursed_on DATETIME,
		closed_on DATETIME,
		overpaid_amount TEXT NOT NULL DEFAULT '0',
		rebate_owed TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		principal_paid TEXT NOT NULL,
		interest_paid TEXT NOT NULL,
		interest_waived TEXT NOT NULL,
		principal_written_off TEXT NOT NULL,
		interest_written_off TEXT NOT NULL,
		completed BOOLEAN NOT NULL,
		obligations_met_on DATETIME,
		PRIMARY KEY (loan_id, number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		principal_portion TEXT NOT NULL,
		interest_portion TEXT NOT NULL,
		interest_waived_portion TEXT NOT NULL,
		overpayment_portion TEXT NOT NULL,
		reversed BOOLEAN NOT NULL,
		contra_id TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_loan ON transactions(loan_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, customer_key, currency_code, currency_digits, principal, annual_interest_rate, number_of_repayments, repayment_every, amortization_method, interest_method, allocation_family, arrears_tolerance, status, submitted_on, expected_disbursement_date, approved_on, disbursed_on, closed_on, overpaid_amount, rebate_owed, created_at, updated_at`

// CreateLoan inserts a new loan with its schedule and transactions.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.Currency.Code(), loan.Currency.Digits(), loan.Principal, loan.AnnualInterestRate,
		loan.NumberOfRepayments, loan.RepaymentEvery, loan.AmortizationMethod, loan.InterestMethod, loan.AllocationFamily, loan.ArrearsTolerance,
		loan.Status, loan.SubmittedOn, loan.ExpectedDisbursementDate, loan.ApprovedOn, loan.DisbursedOn, loan.ClosedOn,
		loan.OverpaidAmount, loan.RebateOwed, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	if err := writeChildren(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateLoan rewrites the loan row, its installments and its transactions
// in one database transaction, so a replay is persisted all or nothing.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE loans SET customer_key = ?, currency_code = ?, currency_digits = ?, principal = ?, annual_interest_rate = ?, number_of_repayments = ?, repayment_every = ?, amortization_method = ?, interest_method = ?, allocation_family = ?, arrears_tolerance = ?, status = ?, submitted_on = ?, expected_disbursement_date = ?, approved_on = ?, disbursed_on = ?, closed_on = ?, overpaid_amount = ?, rebate_owed = ?, updated_at = ? WHERE id = ?`,
		loan.CustomerKey, loan.Currency.Code(), loan.Currency.Digits(), loan.Principal, loan.AnnualInterestRate, loan.NumberOfRepayments, loan.RepaymentEvery,
		loan.AmortizationMethod, loan.InterestMethod, loan.AllocationFamily, loan.ArrearsTolerance, loan.Status, loan.SubmittedOn, loan.ExpectedDisbursementDate,
		loan.ApprovedOn, loan.DisbursedOn, loan.ClosedOn, loan.OverpaidAmount, loan.RebateOwed, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	if _, err := tx.Exec(`DELETE FROM installments WHERE loan_id = ?`, loan.ID.String()); err != nil {
		return fmt.Errorf("failed to clear installments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM transactions WHERE loan_id = ?`, loan.ID.String()); err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}
	if err := writeChildren(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

func writeChildren(tx *sql.Tx, loan *models.Loan) error {
	for _, inst := range loan.Installments {
		_, err := tx.Exec(
			`INSERT INTO installments (loan_id, number, due_date, principal, interest, principal_paid, interest_paid, interest_waived, principal_written_off, interest_written_off, completed, obligations_met_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			loan.ID.String(), inst.Number, inst.DueDate, inst.Principal, inst.Interest, inst.PrincipalPaid, inst.InterestPaid, inst.InterestWaived,
			inst.PrincipalWrittenOff, inst.InterestWrittenOff, inst.Completed, inst.ObligationsMetOn,
		)
		if err != nil {
			return fmt.Errorf("failed to store installment %d: %w", inst.Number, err)
		}
	}
	for seq, t := range loan.Transactions {
		var contra sql.NullString
		if t.ContraID != nil {
			contra = sql.NullString{String: t.ContraID.String(), Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO transactions (id, loan_id, seq, type, date, amount, principal_portion, interest_portion, interest_waived_portion, overpayment_portion, reversed, contra_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), loan.ID.String(), seq, t.Type, t.Date, t.Amount, t.Principal, t.Interest, t.InterestWaived, t.Overpayment,
			t.Reversed, contra, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

// GetLoan retrieves a loan with its schedule and transactions.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if err := s.loadChildren(loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// DeleteLoan removes a loan, its installments and its transactions within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM transactions WHERE loan_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated transactions: %w", err)
	}
	_, err = tx.Exec(`DELETE FROM installments WHERE loan_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated installments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return s.scanLoans(rows)
}

// GetLoansByStatus retrieves the loans in any of the given statuses.
func (s *SQLiteStore) GetLoansByStatus(statuses ...lifecycle.Status) ([]*models.Loan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans by status: %w", err)
	}
	defer rows.Close()

	return s.scanLoans(rows)
}

func (s *SQLiteStore) scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	// Children are loaded once the loan cursor is closed.
	rows.Close()
	for _, loan := range loans {
		if err := s.loadChildren(loan); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, currencyCode, status string
	var currencyDigits int
	var approvedOn, disbursedOn, closedOn sql.NullTime

	err := row.Scan(&idStr, &loan.CustomerKey, &currencyCode, &currencyDigits, &loan.Principal, &loan.AnnualInterestRate,
		&loan.NumberOfRepayments, &loan.RepaymentEvery, &loan.AmortizationMethod, &loan.InterestMethod, &loan.AllocationFamily,
		&loan.ArrearsTolerance, &status, &loan.SubmittedOn, &loan.ExpectedDisbursementDate, &approvedOn, &disbursedOn, &closedOn,
		&loan.OverpaidAmount, &loan.RebateOwed, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}

	loan.ID = uuid.MustParse(idStr)
	if loan.Currency, err = money.NewCurrency(currencyCode, currencyDigits); err != nil {
		return nil, fmt.Errorf("loan %s: %w", idStr, err)
	}
	if loan.Status, err = lifecycle.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("loan %s: %w", idStr, err)
	}
	loan.ApprovedOn = nullTime(approvedOn)
	loan.DisbursedOn = nullTime(disbursedOn)
	loan.ClosedOn = nullTime(closedOn)
	return &loan, nil
}

func (s *SQLiteStore) loadChildren(loan *models.Loan) error {
	rows, err := s.db.Query(`SELECT number, due_date, principal, interest, principal_paid, interest_paid, interest_waived, principal_written_off, interest_written_off, completed, obligations_met_on
		FROM installments WHERE loan_id = ? ORDER BY number ASC`, loan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to get installments for loan %s: %w", loan.ID, err)
	}
	loan.Installments = nil
	for rows.Next() {
		var inst models.Installment
		var metOn sql.NullTime
		if err := rows.Scan(&inst.Number, &inst.DueDate, &inst.Principal, &inst.Interest, &inst.PrincipalPaid, &inst.InterestPaid, &inst.InterestWaived,
			&inst.PrincipalWrittenOff, &inst.InterestWrittenOff, &inst.Completed, &metOn); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.ObligationsMetOn = nullTime(metOn)
		loan.Installments = append(loan.Installments, inst)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT id, type, date, amount, principal_portion, interest_portion, interest_waived_portion, overpayment_portion, reversed, contra_id, created_at
		FROM transactions WHERE loan_id = ? ORDER BY seq ASC`, loan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to get transactions for loan %s: %w", loan.ID, err)
	}
	defer rows.Close()

	loan.Transactions = nil
	for rows.Next() {
		var t models.Transaction
		var txIDStr string
		var contra sql.NullString
		if err := rows.Scan(&txIDStr, &t.Type, &t.Date, &t.Amount, &t.Principal, &t.Interest, &t.InterestWaived, &t.Overpayment,
			&t.Reversed, &contra, &t.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan transaction row: %w", err)
		}
		t.ID = uuid.MustParse(txIDStr)
		t.LoanID = loan.ID
		if contra.Valid {
			original := uuid.MustParse(contra.String)
			t.ContraID = &original
		}
		loan.Transactions = append(loan.Transactions, t)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
