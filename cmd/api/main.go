package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mcclellann/loanservicing/pkg/config"
	"github.com/mcclellann/loanservicing/pkg/ledger"
	"github.com/mcclellann/loanservicing/pkg/store"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *zap.Logger
	now     func() time.Time
}

func NewServer(s store.Storage, logger *zap.Logger, defaults ledger.ProductDefaults) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, logger, defaults),
		storage: s,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewRouter registers every loan route on a gorilla/mux router.
func (s *Server) NewRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")

	router.HandleFunc("/loans/{id}/approve", s.datedCommandHandler(s.ledger.Approve)).Methods("POST")
	router.HandleFunc("/loans/{id}/reject", s.datedCommandHandler(s.ledger.Reject)).Methods("POST")
	router.HandleFunc("/loans/{id}/withdraw", s.datedCommandHandler(s.ledger.Withdraw)).Methods("POST")
	router.HandleFunc("/loans/{id}/disburse", s.datedCommandHandler(s.ledger.Disburse)).Methods("POST")
	router.HandleFunc("/loans/{id}/reschedule", s.datedCommandHandler(s.ledger.CloseAsRescheduled)).Methods("POST")
	router.HandleFunc("/loans/{id}/undo-approval", s.commandHandler(s.ledger.UndoApproval)).Methods("POST")
	router.HandleFunc("/loans/{id}/undo-disbursal", s.commandHandler(s.ledger.UndoDisbursal)).Methods("POST")

	router.HandleFunc("/loans/{id}/repayments", s.monetaryHandler(s.ledger.MakeRepayment)).Methods("POST")
	router.HandleFunc("/loans/{id}/waivers", s.monetaryHandler(s.ledger.WaiveInterest)).Methods("POST")
	router.HandleFunc("/loans/{id}/writeoff", s.writeOffHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/transactions/{txId}/adjust", s.adjustTransactionHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/rebate", s.rebateHandler).Methods("GET")

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// runReconciler replays active loans every interval until ctx is done.
func (s *Server) runReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Debug("running reconcile")
			if _, err := s.ledger.ReconcileActiveLoans(s.now()); err != nil {
				s.logger.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error)")
	flag.Parse()

	// LOANSERVICING_* variables may come from a local .env file.
	envErr := godotenv.Load()

	conf, err := config.LoadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}

	defaults, err := conf.Servicing.Defaults()
	if err != nil {
		logger.Fatal("invalid servicing defaults", zap.Error(err))
	}

	sqliteStore, err := store.NewSQLiteStore(conf.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize SQLite store", zap.String("path", conf.Database.Path), zap.Error(err))
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, logger, ledger.ProductDefaults(defaults))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go server.runReconciler(ctx, conf.Servicing.ReconcileInterval)

	httpServer := &http.Server{
		Addr:              conf.Server.Address,
		Handler:           server.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("server starting",
		zap.String("address", conf.Server.Address),
		zap.String("database", conf.Database.Path),
		zap.Duration("reconcile_interval", conf.Servicing.ReconcileInterval),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
