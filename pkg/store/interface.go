package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/models"
)

// ErrLoanNotFound is returned when no loan has the requested id.
var ErrLoanNotFound = errors.New("loan not found")

// Storage defines the interface for database operations on the loan
// aggregate. A loan is always read and written whole: its installments and
// transactions travel with it.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByStatus(statuses ...lifecycle.Status) ([]*models.Loan, error)

	Close() error
}
