package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Error kinds surfaced by the ledger. Callers classify failures with errors.Is.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTrade      = errors.New("invalid trade")
	ErrInvalidInput      = errors.New("invalid input")
	ErrVersionConflict   = errors.New("account version conflict")
)

// InsufficientFundsError reports a withdrawal or buy that would drive the cash balance negative
type InsufficientFundsError struct {
	AccountID uuid.UUID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for account %s: required=%s, available=%s",
		e.AccountID, e.Required.String(), e.Available.String())
}

// Unwrap lets errors.Is match ErrInsufficientFunds
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// NewAccountNotFoundError wraps ErrAccountNotFound with the missing identifier
func NewAccountNotFoundError(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}
