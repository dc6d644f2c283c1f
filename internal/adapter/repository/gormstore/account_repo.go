package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/simaogato/stockledger-backend/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// accountRepository implements domain.AccountRepository on GORM
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new GORM-backed account repository
func NewAccountRepository(db *gorm.DB) domain.AccountRepository {
	return &accountRepository{db: db}
}

// GetByID retrieves an account with its holdings.
// Both reads share one transaction so a concurrent Save is seen entirely or not at all.
func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account *domain.Account
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var row accountRow
		if err := db.Where("id = ?", id.String()).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewAccountNotFoundError(id)
			}
			return fmt.Errorf("failed to get account by ID: %w", err)
		}

		var holdings []holdingRow
		if err := db.Where("account_id = ?", row.ID).Find(&holdings).Error; err != nil {
			return fmt.Errorf("failed to query holdings: %w", err)
		}

		var err error
		account, err = row.toDomain(holdings)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// List retrieves every account with its holdings in creation order, from one consistent read
func (r *accountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	var rows []accountRow
	var holdings []holdingRow
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Order("position ASC").Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to query accounts: %w", err)
		}
		if err := db.Find(&holdings).Error; err != nil {
			return fmt.Errorf("failed to query holdings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	byAccount := make(map[string][]holdingRow)
	for _, h := range holdings {
		byAccount[h.AccountID] = append(byAccount[h.AccountID], h)
	}

	accounts := make([]*domain.Account, 0, len(rows))
	for _, row := range rows {
		account, err := row.toDomain(byAccount[row.ID])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Save writes the account row, replaces its holdings and appends tx in one database transaction
func (r *accountRepository) Save(ctx context.Context, account *domain.Account, tx *domain.Transaction) error {
	if tx != nil && tx.AccountID != account.ID {
		return fmt.Errorf("transaction %s belongs to account %s, not %s", tx.ID, tx.AccountID, account.ID)
	}

	var txRow *transactionRow
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if account.Version == 0 {
			if err := insertAccount(db, account); err != nil {
				return err
			}
		} else {
			if err := updateAccount(db, account); err != nil {
				return err
			}
		}

		if err := db.Where("account_id = ?", account.ID.String()).Delete(&holdingRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}
		if rows := toHoldingRows(account); len(rows) > 0 {
			if err := db.Omit(clause.Associations).Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to insert holdings: %w", err)
			}
		}

		if tx == nil {
			return nil
		}

		row := toTransactionRow(tx)
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		txRow = &row
		return nil
	})
	if err != nil {
		return err
	}

	account.Version++
	if txRow != nil {
		tx.Sequence = txRow.Seq
	}
	return nil
}

// ListTransactions retrieves the audit trail of an account, newest first
func (r *accountRepository) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	var rows []transactionRow
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("occurred_at DESC").
		Order("seq DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	if len(rows) == 0 {
		var existing int64
		if err := r.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", accountID.String()).Count(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to check account existence: %w", err)
		}
		if existing == 0 {
			return nil, domain.NewAccountNotFoundError(accountID)
		}
	}

	transactions := make([]*domain.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

func insertAccount(db *gorm.DB, account *domain.Account) error {
	var existing int64
	if err := db.Model(&accountRow{}).Where("id = ?", account.ID.String()).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check account existence: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: account %s already exists", domain.ErrVersionConflict, account.ID)
	}

	var position int64
	if err := db.Model(&accountRow{}).Select("COALESCE(MAX(position), 0)").Scan(&position).Error; err != nil {
		return fmt.Errorf("failed to read account position: %w", err)
	}

	row := accountRow{
		ID:          account.ID.String(),
		Position:    position + 1,
		OwnerName:   account.OwnerName,
		CashBalance: account.CashBalance.String(),
		CreatedAt:   account.CreatedAt.UTC(),
		Version:     1,
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// updateAccount bumps the version only when nobody else has written since account was read
func updateAccount(db *gorm.DB, account *domain.Account) error {
	result := db.Model(&accountRow{}).
		Where("id = ? AND version = ?", account.ID.String(), account.Version).
		Updates(map[string]interface{}{
			"cash_balance": account.CashBalance.String(),
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update account: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var existing int64
	if err := db.Model(&accountRow{}).Where("id = ?", account.ID.String()).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check account existence: %w", err)
	}
	if existing == 0 {
		return domain.NewAccountNotFoundError(account.ID)
	}
	return fmt.Errorf("%w: account %s is no longer at version %d", domain.ErrVersionConflict, account.ID, account.Version)
}
