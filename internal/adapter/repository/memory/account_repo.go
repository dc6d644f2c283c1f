package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/simaogato/stockledger-backend/internal/domain"
)

// accountRepository implements domain.AccountRepository on in-process maps.
// All values are copied on the way in and out.
type accountRepository struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*domain.Account
	order        []uuid.UUID // creation order, used by List
	transactions map[uuid.UUID][]*domain.Transaction
	sequence     int64
}

// NewAccountRepository creates a new in-memory account repository
func NewAccountRepository() domain.AccountRepository {
	return &accountRepository{
		accounts:     make(map[uuid.UUID]*domain.Account),
		transactions: make(map[uuid.UUID][]*domain.Transaction),
	}
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, domain.NewAccountNotFoundError(id)
	}
	return account.Clone(), nil
}

// List retrieves every account in creation order
func (r *accountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id].Clone())
	}
	return out, nil
}

// Save stores the account snapshot and appends tx under one write lock
func (r *accountRepository) Save(ctx context.Context, account *domain.Account, tx *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.accounts[account.ID]
	switch {
	case account.Version == 0 && exists:
		return fmt.Errorf("account %s already exists: %w", account.ID, domain.ErrVersionConflict)
	case account.Version != 0 && !exists:
		return domain.NewAccountNotFoundError(account.ID)
	case exists && current.Version != account.Version:
		return fmt.Errorf("account %s: expected version %d, found %d: %w",
			account.ID, account.Version, current.Version, domain.ErrVersionConflict)
	}

	if tx != nil && tx.AccountID != account.ID {
		return fmt.Errorf("transaction %s belongs to account %s, not %s", tx.ID, tx.AccountID, account.ID)
	}

	account.Version++
	r.accounts[account.ID] = account.Clone()
	if !exists {
		r.order = append(r.order, account.ID)
	}

	if tx != nil {
		r.sequence++
		tx.Sequence = r.sequence
		stored := *tx
		r.transactions[account.ID] = append(r.transactions[account.ID], &stored)
	}

	return nil
}

// ListTransactions retrieves the audit trail of an account, newest first
func (r *accountRepository) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.accounts[accountID]; !ok {
		return nil, domain.NewAccountNotFoundError(accountID)
	}

	pool := r.transactions[accountID]
	out := make([]*domain.Transaction, 0, len(pool))
	for _, tx := range pool {
		copied := *tx
		out = append(out, &copied)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].Sequence > out[j].Sequence
	})

	return out, nil
}
