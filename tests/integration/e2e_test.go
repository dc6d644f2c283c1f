//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/stockledger-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/stockledger-backend/internal/config"
	"github.com/simaogato/stockledger-backend/internal/domain"
	"github.com/simaogato/stockledger-backend/internal/usecase/audit"
	"github.com/simaogato/stockledger-backend/internal/usecase/dashboard"
	"github.com/simaogato/stockledger-backend/internal/usecase/ledger"
)

var (
	db          *postgres.DB
	accountRepo domain.AccountRepository
)

// TestMain connects to PostgreSQL and applies the schema before running the suite
func TestMain(m *testing.M) {
	cfg, err := config.FromEnv()
	if err != nil {
		panic(fmt.Sprintf("Failed to read configuration: %v", err))
	}

	db, err = postgres.NewDB(cfg.PostgresDSN)
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to database: %v", err))
	}

	if err := postgres.Migrate(db); err != nil {
		panic(fmt.Sprintf("Failed to migrate database: %v", err))
	}
	// Running twice is a no-op
	if err := postgres.Migrate(db); err != nil {
		panic(fmt.Sprintf("Second migration run failed: %v", err))
	}

	accountRepo = postgres.NewAccountRepository(db)

	code := m.Run()

	db.Close()
	os.Exit(code)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestE2E_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	service := ledger.NewLedgerService(accountRepo)

	account, err := service.CreateAccount(ctx, "Alice", dec("10000.00"))
	require.NoError(t, err)

	_, err = service.Deposit(ctx, account.ID, dec("500.00"))
	require.NoError(t, err)

	_, err = service.ExecuteTrade(ctx, account.ID, ledger.TradeInput{
		Side: domain.TradeSideBuy, Symbol: "aapl", Exchange: "NASDAQ", Quantity: dec("5"), PricePerShare: dec("150.00"),
	})
	require.NoError(t, err)

	account, err = service.ExecuteTrade(ctx, account.ID, ledger.TradeInput{
		Side: domain.TradeSideSell, Symbol: "AAPL", Exchange: "NASDAQ", Quantity: dec("2"), PricePerShare: dec("160.00"),
	})
	require.NoError(t, err)
	assert.True(t, account.CashBalance.Equal(dec("10070.00")))

	stored, err := service.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.CashBalance.Equal(dec("10070.00")))
	holding, ok := stored.FindHolding("AAPL")
	require.True(t, ok)
	assert.True(t, holding.Quantity.Equal(dec("3")))
	assert.True(t, holding.AverageCost.Equal(dec("150.00")))
	assert.Equal(t, int64(4), stored.Version)

	history, err := service.GetTransactions(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.True(t, history[0].CashBalanceAfter.Equal(dec("10070.00")))
	trade, ok := history[0].Trade()
	require.True(t, ok)
	assert.Equal(t, domain.TradeSideSell, trade.Side)

	report, err := audit.NewAuditService(accountRepo, domain.DefaultMathContext()).Reconcile(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced(), "discrepancies: %v", report.Discrepancies)

	summary, err := dashboard.NewDashboardService(accountRepo, domain.DefaultMathContext()).GetSummary(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, summary.BookValue.Equal(dec("10520.00")))
}

func TestE2E_RejectedBuyLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	service := ledger.NewLedgerService(accountRepo)

	account, err := service.CreateAccount(ctx, "Eve", dec("100.00"))
	require.NoError(t, err)

	_, err = service.ExecuteTrade(ctx, account.ID, ledger.TradeInput{
		Side: domain.TradeSideBuy, Symbol: "SHOP", Exchange: "NYSE", Quantity: dec("10"), PricePerShare: dec("50.00"),
	})
	var fundsErr *domain.InsufficientFundsError
	require.True(t, errors.As(err, &fundsErr))
	assert.True(t, fundsErr.Required.Equal(dec("500.00")))

	stored, err := service.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.CashBalance.Equal(dec("100.00")))
	assert.Empty(t, stored.Holdings)

	history, err := service.GetTransactions(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestE2E_ConcurrentTrades(t *testing.T) {
	ctx := context.Background()
	service := ledger.NewLedgerService(accountRepo)

	account, err := service.CreateAccount(ctx, "Concurrent", dec("1000"))
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ExecuteTrade(ctx, account.ID, ledger.TradeInput{
				Side: domain.TradeSideBuy, Symbol: "VOO", Exchange: "NYSE", Quantity: dec("1"), PricePerShare: dec("10"),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := service.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.CashBalance.Equal(dec("800")))
	holding, ok := stored.FindHolding("VOO")
	require.True(t, ok)
	assert.True(t, holding.Quantity.Equal(dec("20")))
}

func TestE2E_ExternalWriterCausesVersionConflict(t *testing.T) {
	ctx := context.Background()
	service := ledger.NewLedgerService(accountRepo)

	account, err := service.CreateAccount(ctx, "Stale", dec("50"))
	require.NoError(t, err)

	stale, err := accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)

	_, err = service.Deposit(ctx, account.ID, dec("1"))
	require.NoError(t, err)

	stale.CashBalance = dec("0")
	err = accountRepo.Save(ctx, stale, domain.NewWithdrawalTransaction(stale.ID, dec("50"), dec("0"), time.Now()))
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))

	stored, err := service.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.CashBalance.Equal(dec("51")))
}

func TestE2E_ReadsDuringTradesAreConsistent(t *testing.T) {
	ctx := context.Background()
	service := ledger.NewLedgerService(accountRepo)

	account, err := service.CreateAccount(ctx, "Snapshot", dec("100"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := service.ExecuteTrade(ctx, account.ID, ledger.TradeInput{
				Side: domain.TradeSideBuy, Symbol: "VTI", Exchange: "NYSE", Quantity: dec("1"), PricePerShare: dec("1"),
			})
			assert.NoError(t, err)
		}
	}()

	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}

		loaded, err := accountRepo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		total := loaded.CashBalance
		if holding, ok := loaded.FindHolding("VTI"); ok {
			total = total.Add(holding.Quantity)
		}
		require.True(t, total.Equal(dec("100")), "torn read at version %d", loaded.Version)
	}

	report, err := audit.NewAuditService(accountRepo, domain.DefaultMathContext()).Reconcile(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
}
