package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/simaogato/stockledger-backend/internal/adapter/repository/gormstore"
	"github.com/simaogato/stockledger-backend/internal/adapter/repository/memory"
	"github.com/simaogato/stockledger-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/stockledger-backend/internal/config"
	"github.com/simaogato/stockledger-backend/internal/domain"
	"github.com/simaogato/stockledger-backend/internal/logger"
	"github.com/simaogato/stockledger-backend/internal/usecase/audit"
	"github.com/simaogato/stockledger-backend/internal/usecase/dashboard"
)

func main() {
	// 1. Load configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)

	// Cancel on SIGTERM or SIGINT
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx = logger.ToContext(ctx, logger.L.With("store", cfg.Store))

	// 2. Open the configured store
	accountRepo, closeStore, err := openStore(cfg)
	if err != nil {
		logger.L.Error("Failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// 3. Initialize Services (Use Cases)
	auditService := audit.NewAuditService(accountRepo, cfg.MathContext())
	dashboardService := dashboard.NewDashboardService(accountRepo, cfg.MathContext())

	// 4. Replay every audit trail
	reports, err := auditService.ReconcileAll(ctx)
	if err != nil {
		logger.L.Error("Reconciliation failed", "error", err)
		closeStore()
		os.Exit(1)
	}

	unbalanced := 0
	for _, report := range reports {
		summary, err := dashboardService.GetSummary(ctx, report.AccountID)
		if err != nil {
			logger.L.Error("Failed to summarize account", "account_id", report.AccountID.String(), "error", err)
			continue
		}

		logger.L.Info("Account reconciled",
			"account_id", report.AccountID.String(),
			"owner", summary.OwnerName,
			"transactions", report.Transactions,
			"cash_balance", report.RecordedBalance.String(),
			"book_value", summary.BookValue.String(),
			"balanced", report.Balanced(),
		)
		if report.Balanced() {
			continue
		}

		unbalanced++
		for _, d := range report.Discrepancies {
			logger.L.Warn("Discrepancy", "account_id", report.AccountID.String(), "transaction_id", d.TransactionID.String(), "detail", d.Message)
		}
	}

	logger.L.Info("Reconciliation finished", "accounts", len(reports), "unbalanced", unbalanced)
	if unbalanced > 0 {
		closeStore()
		os.Exit(2)
	}
}

// openStore returns the repository selected by LEDGER_STORE, migrating its schema first
func openStore(cfg *config.AppConfig) (domain.AccountRepository, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.NewDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewAccountRepository(db), func() { db.Close() }, nil

	case config.StoreSQLite:
		db, err := gormstore.Open(cfg.SQLitePath, cfg.DBLogMode)
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewAccountRepository(db), func() { gormstore.Close(db) }, nil

	default:
		logger.L.Warn("In-memory store selected; there is nothing persisted to reconcile")
		return memory.NewAccountRepository(), func() {}, nil
	}
}
