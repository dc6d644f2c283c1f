package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/stockledger-backend/internal/domain"
	"github.com/simaogato/stockledger-backend/internal/usecase/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) domain.AccountRepository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	return NewAccountRepository(db)
}

func TestAccountRepository_RoundTripsAccountAndTrail(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	created := time.Date(2025, 4, 1, 8, 30, 0, 0, time.UTC)
	account := domain.NewAccount("Alice", decimal.RequireFromString("10000.00"), created)
	opening := domain.NewDepositTransaction(account.ID, account.CashBalance, account.CashBalance, created)
	require.NoError(t, repo.Save(ctx, account, opening))
	assert.Equal(t, int64(1), account.Version)
	assert.NotZero(t, opening.Sequence)

	trade := domain.Trade{
		Side:          domain.TradeSideBuy,
		Symbol:        "AAPL",
		Exchange:      "NASDAQ",
		Quantity:      decimal.RequireFromString("5"),
		PricePerShare: decimal.RequireFromString("150.00"),
		GrossAmount:   decimal.RequireFromString("750.00"),
	}
	account.CashBalance = decimal.RequireFromString("9250.00")
	account.Holdings["AAPL"] = domain.Holding{
		Symbol:      "AAPL",
		Exchange:    "NASDAQ",
		Quantity:    trade.Quantity,
		AverageCost: trade.PricePerShare,
	}
	buy := domain.NewTradeTransaction(account.ID, trade, account.CashBalance, created.Add(time.Minute))
	require.NoError(t, repo.Save(ctx, account, buy))
	assert.Equal(t, int64(2), account.Version)
	assert.Greater(t, buy.Sequence, opening.Sequence)

	loaded, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", loaded.OwnerName)
	assert.True(t, loaded.CashBalance.Equal(decimal.RequireFromString("9250")))
	assert.True(t, loaded.CreatedAt.Equal(created))
	assert.Equal(t, int64(2), loaded.Version)
	require.Contains(t, loaded.Holdings, "AAPL")
	assert.True(t, loaded.Holdings["AAPL"].Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, loaded.Holdings["AAPL"].AverageCost.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "NASDAQ", loaded.Holdings["AAPL"].Exchange)

	history, err := repo.ListTransactions(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, buy.ID, history[0].ID)
	storedTrade, ok := history[0].Trade()
	require.True(t, ok)
	assert.Equal(t, domain.TradeSideBuy, storedTrade.Side)
	assert.True(t, storedTrade.GrossAmount.Equal(decimal.NewFromInt(750)))
	assert.True(t, history[0].CashAmount.Equal(decimal.NewFromInt(-750)))
	assert.True(t, history[0].OccurredAt.Equal(created.Add(time.Minute)))

	assert.Equal(t, domain.TransactionTypeDeposit, history[1].Type())
	_, ok = history[1].Trade()
	assert.False(t, ok)
}

func TestAccountRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	missing := domain.NewAccount("ghost", decimal.Zero, time.Now())

	_, err := repo.GetByID(ctx, missing.ID)
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))

	_, err = repo.ListTransactions(ctx, missing.ID)
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))

	missing.Version = 4
	err = repo.Save(ctx, missing, nil)
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))
}

func TestAccountRepository_VersionConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	account := domain.NewAccount("Carol", decimal.NewFromInt(100), time.Now())
	require.NoError(t, repo.Save(ctx, account, nil))

	duplicate := account.Clone()
	duplicate.Version = 0
	assert.True(t, errors.Is(repo.Save(ctx, duplicate, nil), domain.ErrVersionConflict))

	first, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	stale, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)

	first.CashBalance = decimal.NewFromInt(150)
	require.NoError(t, repo.Save(ctx, first, domain.NewDepositTransaction(account.ID, decimal.NewFromInt(50), first.CashBalance, time.Now())))

	stale.CashBalance = decimal.NewFromInt(50)
	stale.Holdings["MSFT"] = domain.Holding{Symbol: "MSFT", Quantity: decimal.NewFromInt(1), AverageCost: decimal.NewFromInt(50)}
	err = repo.Save(ctx, stale, domain.NewWithdrawalTransaction(account.ID, decimal.NewFromInt(50), stale.CashBalance, time.Now()))
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
	assert.Equal(t, int64(1), stale.Version, "a failed save leaves the version untouched")

	loaded, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, loaded.CashBalance.Equal(decimal.NewFromInt(150)))
	assert.Empty(t, loaded.Holdings)

	history, err := repo.ListTransactions(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the conflicting transaction must not be recorded")
}

func TestAccountRepository_HoldingsAreReplaced(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	account := domain.NewAccount("Dana", decimal.NewFromInt(100), time.Now())
	account.Holdings["TSM"] = domain.Holding{Symbol: "TSM", Quantity: decimal.NewFromInt(3), AverageCost: decimal.NewFromInt(10)}
	account.Holdings["BABA"] = domain.Holding{Symbol: "BABA", Quantity: decimal.NewFromInt(1), AverageCost: decimal.NewFromInt(80)}
	require.NoError(t, repo.Save(ctx, account, nil))

	delete(account.Holdings, "BABA")
	require.NoError(t, repo.Save(ctx, account, nil))

	loaded, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Holdings, 1)
	assert.Contains(t, loaded.Holdings, "TSM")
}

func TestAccountRepository_ListOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	names := []string{"first", "second", "third"}
	for _, name := range names {
		require.NoError(t, repo.Save(ctx, domain.NewAccount(name, decimal.Zero, time.Now()), nil))
	}

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	for i, name := range names {
		assert.Equal(t, name, accounts[i].OwnerName)
	}

	// Same timestamp: the later insertion comes first
	account := accounts[0]
	at := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	for _, amount := range []int64{1, 2} {
		account.CashBalance = account.CashBalance.Add(decimal.NewFromInt(amount))
		require.NoError(t, repo.Save(ctx, account, domain.NewDepositTransaction(account.ID, decimal.NewFromInt(amount), account.CashBalance, at)))
	}

	history, err := repo.ListTransactions(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].CashAmount.Equal(decimal.NewFromInt(2)))
	assert.True(t, history[1].CashAmount.Equal(decimal.NewFromInt(1)))
}

func TestAccountRepository_ReadsNeverSeeHalfAppliedTrades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	service := ledger.NewLedgerService(repo)

	opening := decimal.NewFromInt(400)
	account, err := service.CreateAccount(ctx, "Reader", opening)
	require.NoError(t, err)

	const buys = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < buys; i++ {
			_, err := service.ExecuteTrade(ctx, account.ID, ledger.TradeInput{
				Side:          domain.TradeSideBuy,
				Symbol:        "VOO",
				Quantity:      decimal.NewFromInt(1),
				PricePerShare: decimal.NewFromInt(1),
			})
			assert.NoError(t, err)
		}
	}()

	// Each buy moves one unit of cash into one share, so cash plus shares is constant
	total := func(a *domain.Account) decimal.Decimal {
		sum := a.CashBalance
		if holding, ok := a.FindHolding("VOO"); ok {
			sum = sum.Add(holding.Quantity)
		}
		return sum
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	reads := 0
	for finished := false; !finished; reads++ {
		select {
		case <-done:
			finished = true
		default:
		}

		loaded, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.True(t, total(loaded).Equal(opening), "torn read at version %d: cash %s", loaded.Version, loaded.CashBalance)

		listed, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		require.True(t, total(listed[0]).Equal(opening), "torn list at version %d", listed[0].Version)
	}
	assert.Positive(t, reads)

	final, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, final.CashBalance.Equal(decimal.NewFromInt(400-buys)))
	assert.Equal(t, int64(buys+1), final.Version)
}
