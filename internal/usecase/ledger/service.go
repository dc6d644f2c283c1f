package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/stockledger-backend/internal/domain"
	"github.com/simaogato/stockledger-backend/internal/logger"
)

// TradeInput represents the input for executing a trade
type TradeInput struct {
	Side          domain.TradeSide
	Symbol        string
	Exchange      string
	Quantity      decimal.Decimal
	PricePerShare decimal.Decimal
}

// LedgerService applies cash movements and trade executions to accounts.
// Mutations on the same account are serialized; different accounts run in parallel.
type LedgerService struct {
	AccountRepo domain.AccountRepository

	math  domain.MathContext
	now   func() time.Time
	locks *keyedMutex
}

// Option configures a LedgerService
type Option func(*LedgerService)

// WithMathContext overrides the default 12 significant digit arithmetic
func WithMathContext(mc domain.MathContext) Option {
	return func(s *LedgerService) {
		s.math = mc
	}
}

// WithClock overrides the time source used for CreatedAt and OccurredAt
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		s.now = now
	}
}

// NewLedgerService creates a new LedgerService instance
func NewLedgerService(accountRepo domain.AccountRepository, opts ...Option) *LedgerService {
	s := &LedgerService{
		AccountRepo: accountRepo,
		math:        domain.DefaultMathContext(),
		now:         time.Now,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount opens an account with an optional initial deposit (zero means none).
// A positive initial deposit is recorded as the account's first DEPOSIT transaction.
func (s *LedgerService) CreateAccount(ctx context.Context, ownerName string, initialDeposit decimal.Decimal) (*domain.Account, error) {
	if strings.TrimSpace(ownerName) == "" {
		return nil, fmt.Errorf("%w: owner name cannot be empty", domain.ErrInvalidInput)
	}

	opening := s.math.Cash(initialDeposit)
	if opening.IsNegative() {
		return nil, fmt.Errorf("%w: initial deposit cannot be negative", domain.ErrInvalidInput)
	}

	now := s.now()
	account := domain.NewAccount(ownerName, opening, now)

	unlock := s.locks.Lock(account.ID)
	defer unlock()

	var tx *domain.Transaction
	if opening.IsPositive() {
		tx = domain.NewDepositTransaction(account.ID, opening, account.CashBalance, now)
	}

	if err := s.AccountRepo.Save(ctx, account, tx); err != nil {
		logger.FromContext(ctx).Error("Failed to create account", "error", err)
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	logger.FromContext(ctx).Info("Account created",
		"account_id", account.ID.String(),
		"cash_balance", account.CashBalance.String(),
	)

	return account.Clone(), nil
}

// GetAccount retrieves an account snapshot by its ID
func (s *LedgerService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.AccountRepo.GetByID(ctx, id)
}

// ListAccounts retrieves every account with its holdings; callers must not rely on ordering
func (s *LedgerService) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.AccountRepo.List(ctx)
}

// GetTransactions retrieves the audit trail of an account, newest first
func (s *LedgerService) GetTransactions(ctx context.Context, id uuid.UUID) ([]*domain.Transaction, error) {
	if _, err := s.AccountRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.AccountRepo.ListTransactions(ctx, id)
}

// Deposit adds a positive amount to the account's cash balance
func (s *LedgerService) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	amount = s.math.Cash(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidInput)
	}

	return s.mutate(ctx, id, domain.TransactionTypeDeposit, func(account *domain.Account, now time.Time) (*domain.Transaction, error) {
		account.CashBalance = s.math.Add(account.CashBalance, amount)
		return domain.NewDepositTransaction(account.ID, amount, account.CashBalance, now), nil
	})
}

// Withdraw removes a positive amount from the account's cash balance.
// Withdrawing exactly the full balance is allowed.
func (s *LedgerService) Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	amount = s.math.Cash(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrInvalidInput)
	}

	return s.mutate(ctx, id, domain.TransactionTypeWithdrawal, func(account *domain.Account, now time.Time) (*domain.Transaction, error) {
		if amount.GreaterThan(account.CashBalance) {
			return nil, &domain.InsufficientFundsError{
				AccountID: account.ID,
				Required:  amount,
				Available: account.CashBalance,
			}
		}
		account.CashBalance = s.math.Sub(account.CashBalance, amount)
		return domain.NewWithdrawalTransaction(account.ID, amount, account.CashBalance, now), nil
	})
}

// ExecuteTrade applies a buy or sell execution
// Logic:
//   - BUY: debit price x quantity, then create the holding or recompute its weighted-average cost
//   - SELL: credit price x quantity, reduce the holding and remove it when it reaches zero
//
// Average cost is unchanged by sells.
func (s *LedgerService) ExecuteTrade(ctx context.Context, id uuid.UUID, input TradeInput) (*domain.Account, error) {
	if !input.Quantity.IsPositive() || !input.PricePerShare.IsPositive() {
		return nil, fmt.Errorf("%w: quantity and price must be positive", domain.ErrInvalidTrade)
	}

	symbol := domain.NormalizeSymbol(input.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol cannot be empty", domain.ErrInvalidTrade)
	}

	if input.Side != domain.TradeSideBuy && input.Side != domain.TradeSideSell {
		return nil, fmt.Errorf("%w: trade side must be BUY or SELL, got %q", domain.ErrInvalidTrade, input.Side)
	}

	grossAmount := s.math.Cash(s.math.Mul(input.PricePerShare, input.Quantity))
	if !grossAmount.IsPositive() {
		return nil, fmt.Errorf("%w: gross amount of %s x %s rounds to zero", domain.ErrInvalidTrade, input.Quantity, input.PricePerShare)
	}

	trade := domain.Trade{
		Side:          input.Side,
		Symbol:        symbol,
		Exchange:      input.Exchange,
		Quantity:      input.Quantity,
		PricePerShare: input.PricePerShare,
		GrossAmount:   grossAmount,
	}

	return s.mutate(ctx, id, domain.TransactionTypeTrade, func(account *domain.Account, now time.Time) (*domain.Transaction, error) {
		var err error
		if trade.Side == domain.TradeSideBuy {
			err = s.applyBuy(account, trade)
		} else {
			err = s.applySell(account, trade)
		}
		if err != nil {
			return nil, err
		}
		return domain.NewTradeTransaction(account.ID, trade, account.CashBalance, now), nil
	})
}

// applyBuy debits the gross amount and folds the purchase into the weighted-average cost
func (s *LedgerService) applyBuy(account *domain.Account, trade domain.Trade) error {
	if trade.GrossAmount.GreaterThan(account.CashBalance) {
		return &domain.InsufficientFundsError{
			AccountID: account.ID,
			Required:  trade.GrossAmount,
			Available: account.CashBalance,
		}
	}

	account.CashBalance = s.math.Sub(account.CashBalance, trade.GrossAmount)

	existing, ok := account.Holdings[trade.Symbol]
	if !ok {
		account.Holdings[trade.Symbol] = domain.Holding{
			Symbol:      trade.Symbol,
			Exchange:    trade.Exchange,
			Quantity:    trade.Quantity,
			AverageCost: trade.PricePerShare,
		}
		return nil
	}

	// newAverage = (oldAverage * oldQuantity + price * quantity) / newQuantity
	newQuantity := s.math.Add(existing.Quantity, trade.Quantity)
	totalCost := s.math.Add(
		s.math.Mul(existing.AverageCost, existing.Quantity),
		s.math.Mul(trade.PricePerShare, trade.Quantity),
	)

	account.Holdings[trade.Symbol] = domain.Holding{
		Symbol:      trade.Symbol,
		Exchange:    trade.Exchange,
		Quantity:    newQuantity,
		AverageCost: s.math.Div(totalCost, newQuantity),
	}
	return nil
}

// applySell credits the gross amount and reduces the holding; no partial fills
func (s *LedgerService) applySell(account *domain.Account, trade domain.Trade) error {
	existing, ok := account.Holdings[trade.Symbol]
	if !ok {
		return fmt.Errorf("%w: cannot sell %s, no holding exists", domain.ErrInvalidTrade, trade.Symbol)
	}
	if trade.Quantity.GreaterThan(existing.Quantity) {
		return fmt.Errorf("%w: cannot sell %s %s, only %s held", domain.ErrInvalidTrade,
			trade.Quantity.String(), trade.Symbol, existing.Quantity.String())
	}

	account.CashBalance = s.math.Add(account.CashBalance, trade.GrossAmount)

	remaining := s.math.Sub(existing.Quantity, trade.Quantity)
	if remaining.IsZero() {
		delete(account.Holdings, trade.Symbol)
		return nil
	}

	existing.Quantity = remaining
	account.Holdings[trade.Symbol] = existing
	return nil
}

// mutate runs one read-check-mutate-save unit while holding the account's lock.
// apply works on a private copy; nothing is visible to readers until Save commits.
func (s *LedgerService) mutate(
	ctx context.Context,
	id uuid.UUID,
	kind domain.TransactionType,
	apply func(account *domain.Account, now time.Time) (*domain.Transaction, error),
) (*domain.Account, error) {
	log := logger.FromContext(ctx).With("account_id", id.String(), "type", string(kind))

	unlock := s.locks.Lock(id)
	defer unlock()

	stored, err := s.AccountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	account := stored.Clone()

	tx, err := apply(account, s.now())
	if err != nil {
		log.Warn("Ledger operation rejected", "error", err)
		return nil, err
	}

	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("ledger invariant violated for account %s: %w", id, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("ledger produced an invalid transaction for account %s: %w", id, err)
	}

	if err := s.AccountRepo.Save(ctx, account, tx); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			log.Warn("Account modified concurrently outside the ledger", "error", err)
		} else {
			log.Error("Failed to save account", "error", err)
		}
		return nil, fmt.Errorf("failed to save account %s: %w", id, err)
	}

	log.Info("Ledger operation applied",
		"transaction_id", tx.ID.String(),
		"cash_amount", tx.CashAmount.String(),
		"cash_balance_after", tx.CashBalanceAfter.String(),
	)

	return account.Clone(), nil
}
