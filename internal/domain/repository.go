package domain

import (
	"context"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for account and audit trail persistence operations.
// Implementations hand out deep copies: nothing returned may alias stored state.
type AccountRepository interface {
	// GetByID retrieves an account with its holdings
	// Returns an error wrapping ErrAccountNotFound if no account has that ID
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// List retrieves every account with its holdings
	List(ctx context.Context) ([]*Account, error)

	// Save writes the account snapshot and, if tx is not nil, appends tx in one atomic unit.
	// An account with Version 0 is inserted and must not exist yet.
	// Otherwise the stored version must equal account.Version (ErrVersionConflict if not).
	// On success account.Version is incremented and tx.Sequence is assigned.
	Save(ctx context.Context, account *Account, tx *Transaction) error

	// ListTransactions retrieves the audit trail of an account, newest first
	// (OccurredAt descending, ties broken by Sequence descending).
	// Returns an error wrapping ErrAccountNotFound if no account has that ID
	ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*Transaction, error)
}
