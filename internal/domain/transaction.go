package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of event recorded in the audit trail
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTrade      TransactionType = "TRADE"
)

// TradeSide represents the direction of a trade
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// ParseTradeSide converts a stored side into a TradeSide
func ParseTradeSide(s string) (TradeSide, error) {
	switch TradeSide(s) {
	case TradeSideBuy, TradeSideSell:
		return TradeSide(s), nil
	default:
		return "", fmt.Errorf("%w: unknown trade side %q", ErrInvalidTrade, s)
	}
}

// Transaction represents an immutable audit record in the domain layer.
// Fields shared by every kind live here; the kind-specific payload is Details.
type Transaction struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	Sequence         int64           // Insertion order, assigned by the repository
	CashAmount       decimal.Decimal // Positive when money enters the account, negative when it leaves
	CashBalanceAfter decimal.Decimal // Snapshot, never recomputed
	OccurredAt       time.Time
	Details          Details
}

// Details is the closed set of transaction payloads: Deposit, Withdrawal and Trade
type Details interface {
	Type() TransactionType
	isDetails()
}

// Deposit is the payload of a cash deposit
type Deposit struct{}

// Withdrawal is the payload of a cash withdrawal
type Withdrawal struct{}

// Trade is the payload of a buy or sell execution
type Trade struct {
	Side          TradeSide
	Symbol        string
	Exchange      string
	Quantity      decimal.Decimal
	PricePerShare decimal.Decimal
	GrossAmount   decimal.Decimal // Price times quantity, before sign adjustment
}

func (Deposit) Type() TransactionType    { return TransactionTypeDeposit }
func (Withdrawal) Type() TransactionType { return TransactionTypeWithdrawal }
func (Trade) Type() TransactionType      { return TransactionTypeTrade }

func (Deposit) isDetails()    {}
func (Withdrawal) isDetails() {}
func (Trade) isDetails()      {}

// NewDepositTransaction records money entering the account
func NewDepositTransaction(accountID uuid.UUID, amount, balanceAfter decimal.Decimal, at time.Time) *Transaction {
	return &Transaction{
		ID:               uuid.New(),
		AccountID:        accountID,
		CashAmount:       amount,
		CashBalanceAfter: balanceAfter,
		OccurredAt:       at,
		Details:          Deposit{},
	}
}

// NewWithdrawalTransaction records money leaving the account; amount is the positive withdrawn value
func NewWithdrawalTransaction(accountID uuid.UUID, amount, balanceAfter decimal.Decimal, at time.Time) *Transaction {
	return &Transaction{
		ID:               uuid.New(),
		AccountID:        accountID,
		CashAmount:       amount.Neg(),
		CashBalanceAfter: balanceAfter,
		OccurredAt:       at,
		Details:          Withdrawal{},
	}
}

// NewTradeTransaction records an execution. Buys debit the gross amount, sells credit it.
func NewTradeTransaction(accountID uuid.UUID, trade Trade, balanceAfter decimal.Decimal, at time.Time) *Transaction {
	cashAmount := trade.GrossAmount
	if trade.Side == TradeSideBuy {
		cashAmount = cashAmount.Neg()
	}
	return &Transaction{
		ID:               uuid.New(),
		AccountID:        accountID,
		CashAmount:       cashAmount,
		CashBalanceAfter: balanceAfter,
		OccurredAt:       at,
		Details:          trade,
	}
}

// Type returns the kind of the transaction, or "" when Details is missing
func (t *Transaction) Type() TransactionType {
	if t.Details == nil {
		return ""
	}
	return t.Details.Type()
}

// Trade returns the trade payload when the transaction is a trade
func (t *Transaction) Trade() (Trade, bool) {
	trade, ok := t.Details.(Trade)
	return trade, ok
}

// Validate ensures the transaction adheres to domain rules
// Returns an error if validation fails
func (t *Transaction) Validate() error {
	if t.Details == nil {
		return errors.New("transaction must have details")
	}

	if t.CashBalanceAfter.IsNegative() {
		return errors.New("cash balance after transaction cannot be negative")
	}

	switch d := t.Details.(type) {
	case Deposit:
		if !t.CashAmount.IsPositive() {
			return errors.New("deposit cash amount must be positive")
		}
	case Withdrawal:
		if !t.CashAmount.IsNegative() {
			return errors.New("withdrawal cash amount must be negative")
		}
	case Trade:
		return validateTrade(d, t.CashAmount)
	default:
		return fmt.Errorf("unknown transaction details %T", d)
	}

	return nil
}

// validateTrade checks the trade payload and the sign of its cash movement
func validateTrade(trade Trade, cashAmount decimal.Decimal) error {
	if trade.Symbol == "" {
		return errors.New("trade symbol cannot be empty")
	}

	if !trade.Quantity.IsPositive() || !trade.PricePerShare.IsPositive() {
		return errors.New("trade quantity and price must be positive")
	}

	if !cashAmount.Abs().Equal(trade.GrossAmount) {
		return errors.New("trade cash amount must equal the gross amount")
	}

	switch trade.Side {
	case TradeSideBuy:
		if !cashAmount.IsNegative() {
			return errors.New("buy cash amount must be negative")
		}
	case TradeSideSell:
		if !cashAmount.IsPositive() {
			return errors.New("sell cash amount must be positive")
		}
	default:
		return fmt.Errorf("trade side must be BUY or SELL, got %q", trade.Side)
	}

	return nil
}
