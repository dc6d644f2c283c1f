package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a brokerage account entity in the domain layer
type Account struct {
	ID          uuid.UUID
	OwnerName   string
	CashBalance decimal.Decimal    // Always >= 0
	Holdings    map[string]Holding // Keyed by normalized (uppercase) symbol
	CreatedAt   time.Time
	Version     int64 // 0 until first persisted, incremented on every save
}

// Holding represents an account's position in a single symbol
type Holding struct {
	Symbol      string
	Exchange    string          // Updated to the most recent buy's exchange
	Quantity    decimal.Decimal // Always > 0 while the holding exists
	AverageCost decimal.Decimal // Quantity-weighted average price paid per unit
}

// NewAccount creates an account with an opening cash balance and no holdings
func NewAccount(ownerName string, openingBalance decimal.Decimal, createdAt time.Time) *Account {
	return &Account{
		ID:          uuid.New(),
		OwnerName:   ownerName,
		CashBalance: openingBalance,
		Holdings:    make(map[string]Holding),
		CreatedAt:   createdAt,
	}
}

// NormalizeSymbol returns the key under which a ticker is stored
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// FindHolding looks up the position for a symbol (case-insensitive)
func (a *Account) FindHolding(symbol string) (Holding, bool) {
	h, ok := a.Holdings[NormalizeSymbol(symbol)]
	return h, ok
}

// Clone returns a deep copy so callers can never mutate ledger state through a snapshot
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Holdings = make(map[string]Holding, len(a.Holdings))
	for symbol, h := range a.Holdings {
		clone.Holdings[symbol] = h
	}
	return &clone
}

// Validate ensures the account adheres to domain rules
// Returns an error if validation fails
func (a *Account) Validate() error {
	if strings.TrimSpace(a.OwnerName) == "" {
		return errors.New("owner name cannot be empty")
	}

	if a.CashBalance.IsNegative() {
		return fmt.Errorf("cash balance cannot be negative: %s", a.CashBalance.String())
	}

	for symbol, h := range a.Holdings {
		if symbol != NormalizeSymbol(h.Symbol) {
			return fmt.Errorf("holding %q is stored under key %q", h.Symbol, symbol)
		}
		if !h.Quantity.IsPositive() {
			return fmt.Errorf("holding %s quantity must be positive", symbol)
		}
		if h.AverageCost.IsNegative() {
			return fmt.Errorf("holding %s average cost cannot be negative", symbol)
		}
	}

	return nil
}
