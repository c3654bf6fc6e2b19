package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/loanservicing/pkg/ledger"
	"github.com/mcclellann/loanservicing/pkg/lifecycle"
	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/mcclellann/loanservicing/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test_api.db")

	s, err := store.NewSQLiteStore(dbFile)
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { s.Close() })

	server := NewServer(s, zap.NewNop(), ledger.DefaultProduct)
	server.now = func() time.Time { return testNow }
	return server, server.NewRouter()
}

func do(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), "body: %s", rr.Body.String())
}

func createLoan(t *testing.T, router *mux.Router) models.Loan {
	t.Helper()
	rr := do(t, router, "POST", "/loans", map[string]interface{}{
		"customer_key":               "test_cust",
		"currency":                   "USD",
		"principal":                  "300",
		"annual_interest_rate":       "40",
		"number_of_repayments":       3,
		"repayment_every":            1,
		"interest_method":            "flat",
		"allocation_family":          "standard",
		"submitted_on":               "2025-01-01",
		"expected_disbursement_date": "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var loan models.Loan
	decode(t, rr, &loan)
	return loan
}

func activate(t *testing.T, router *mux.Router, id string) {
	t.Helper()
	rr := do(t, router, "POST", "/loans/"+id+"/approve", map[string]string{"date": "2025-01-01"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(t, router, "POST", "/loans/"+id+"/disburse", map[string]string{"date": "2025-01-01"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	_, router := setupTestServer(t)

	created := createLoan(t, router)
	assert.Equal(t, lifecycle.StatusPendingApproval, created.Status)
	assert.Equal(t, "USD", created.Currency.Code())
	require.Len(t, created.Installments, 3)

	rr := do(t, router, "GET", "/loans/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched models.Loan
	decode(t, rr, &fetched)
	assert.Equal(t, created.ID, fetched.ID)
	assert.True(t, fetched.Principal.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, models.AllocationStandard, fetched.AllocationFamily)

	rr = do(t, router, "GET", "/loans", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []models.Loan
	decode(t, rr, &all)
	assert.Len(t, all, 1)

	rr = do(t, router, "GET", "/loans?status=ACTIVE", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &all)
	assert.Empty(t, all)
}

func TestAPI_CreateLoan_BadRequests(t *testing.T) {
	_, router := setupTestServer(t)

	rr := do(t, router, "POST", "/loans", map[string]interface{}{"currency": "usd", "principal": "100"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "invalid currency code")

	rr = do(t, router, "POST", "/loans", map[string]interface{}{
		"customer_key": "c", "currency": "USD", "principal": "100",
		"number_of_repayments": 3, "repayment_every": 1, "submitted_on": "01/01/2025",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "invalid date")

	rr = do(t, router, "POST", "/loans", map[string]interface{}{
		"customer_key": "c", "currency": "USD", "principal": "100",
		"number_of_repayments": 0, "repayment_every": 1, "submitted_on": "2025-01-01",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "invalid terms")
}

func TestAPI_RepaymentsCloseLoan(t *testing.T) {
	_, router := setupTestServer(t)
	loan := createLoan(t, router)
	id := loan.ID.String()
	activate(t, router, id)

	var tx models.Transaction
	for _, date := range []string{"2025-02-01", "2025-03-01", "2025-04-01"} {
		rr := do(t, router, "POST", "/loans/"+id+"/repayments", map[string]string{"amount": "110", "date": date})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		decode(t, rr, &tx)
	}
	assert.True(t, tx.Principal.Equal(decimal.NewFromInt(100)))
	assert.True(t, tx.Interest.Equal(decimal.NewFromInt(10)))

	rr := do(t, router, "GET", "/loans/"+id, nil)
	var fetched models.Loan
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusClosed, fetched.Status)
	assert.True(t, fetched.IsFullyRepaid())
	assert.Len(t, fetched.Transactions, 4)
}

func TestAPI_AdjustAndRebate(t *testing.T) {
	_, router := setupTestServer(t)
	loan := createLoan(t, router)
	id := loan.ID.String()
	activate(t, router, id)

	rr := do(t, router, "GET", "/loans/"+id+"/rebate?payoff=2025-02-01", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var quote struct {
		PayoffDate string `json:"payoff_date"`
		Rebate     struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"rebate"`
	}
	decode(t, rr, &quote)
	assert.Equal(t, "2025-02-01", quote.PayoffDate)
	assert.Equal(t, "19.67", quote.Rebate.Amount)

	rr = do(t, router, "POST", "/loans/"+id+"/repayments", map[string]string{"amount": "400", "date": "2025-02-01"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var tx models.Transaction
	decode(t, rr, &tx)

	rr = do(t, router, "GET", "/loans/"+id, nil)
	var fetched models.Loan
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusOverpaid, fetched.Status)

	rr = do(t, router, "POST", "/loans/"+id+"/transactions/"+tx.ID.String()+"/adjust", map[string]string{"amount": "330", "date": "2025-02-01"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusClosed, fetched.Status)
	assert.True(t, fetched.RebateOwed.Equal(decimal.RequireFromString("19.67")))
	assert.True(t, fetched.OverpaidAmount.IsZero())
	assert.Len(t, fetched.Transactions, 4, "disbursement, reversed original, contra and correction")
}

func TestAPI_ErrorMapping(t *testing.T) {
	_, router := setupTestServer(t)
	loan := createLoan(t, router)
	id := loan.ID.String()

	rr := do(t, router, "POST", "/loans/"+id+"/repayments", map[string]string{"amount": "10", "date": "2025-02-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "pending loan")

	rr = do(t, router, "POST", "/loans/"+id+"/disburse", nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "disburse before approval")

	rr = do(t, router, "GET", "/loans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/loans/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	activate(t, router, id)

	rr = do(t, router, "POST", "/loans/"+id+"/repayments", map[string]string{"amount": "10", "date": "2025-07-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "future date")

	rr = do(t, router, "POST", "/loans/"+id+"/repayments", map[string]string{"amount": "10", "currency": "EUR", "date": "2025-02-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "currency mismatch")

	rr = do(t, router, "POST", "/loans/"+id+"/transactions/00000000-0000-0000-0000-000000000001/adjust", map[string]string{"amount": "0"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "DELETE", "/loans/"+id, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "disbursed loans stay")
}

func TestAPI_StatusCommands(t *testing.T) {
	_, router := setupTestServer(t)
	loan := createLoan(t, router)
	id := loan.ID.String()
	activate(t, router, id)

	rr := do(t, router, "POST", "/loans/"+id+"/undo-disbursal", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var fetched models.Loan
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusApproved, fetched.Status)

	rr = do(t, router, "POST", "/loans/"+id+"/undo-approval", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusPendingApproval, fetched.Status)

	rr = do(t, router, "POST", "/loans/"+id+"/reject", map[string]string{"date": "2025-01-05"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusRejected, fetched.Status)

	other := createLoan(t, router)
	rr = do(t, router, "POST", "/loans/"+other.ID.String()+"/withdraw", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(t, router, "DELETE", "/loans/"+other.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	third := createLoan(t, router)
	tid := third.ID.String()
	activate(t, router, tid)
	rr = do(t, router, "POST", "/loans/"+tid+"/waivers", map[string]string{"amount": "10", "date": "2025-01-15"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = do(t, router, "POST", "/loans/"+tid+"/writeoff", map[string]string{"date": "2025-02-15"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var tx models.Transaction
	decode(t, rr, &tx)
	assert.True(t, tx.Principal.Equal(decimal.NewFromInt(300)))
	assert.True(t, tx.Interest.Equal(decimal.NewFromInt(20)))

	fourth := createLoan(t, router)
	activate(t, router, fourth.ID.String())
	rr = do(t, router, "POST", "/loans/"+fourth.ID.String()+"/reschedule", map[string]string{"date": "2025-03-01"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decode(t, rr, &fetched)
	assert.Equal(t, lifecycle.StatusClosed, fetched.Status)
}

func TestRunReconciler_StopsOnCancel(t *testing.T) {
	server, router := setupTestServer(t)
	loan := createLoan(t, router)
	activate(t, router, loan.ID.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.runReconciler(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
