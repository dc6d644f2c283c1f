package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/simaogato/stockledger-backend/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key
const uniqueViolation = "23505"

// accountRepository implements domain.AccountRepository
type accountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) domain.AccountRepository {
	return &accountRepository{db: db}
}

// GetByID retrieves an account with its holdings.
// Both reads share one snapshot so a concurrent Save is seen entirely or not at all.
func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT id, owner_name, cash_balance, created_at, version
		FROM accounts
		WHERE id = $1
	`

	var account *domain.Account
	err := r.db.withTx(ctx, snapshotRead, func(dbTx *sql.Tx) error {
		var err error
		account, err = scanAccount(dbTx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NewAccountNotFoundError(id)
			}
			return fmt.Errorf("failed to get account by ID: %w", err)
		}

		holdingsQuery := `
			SELECT account_id, symbol, exchange, quantity, average_cost
			FROM holdings
			WHERE account_id = $1
		`
		return loadHoldings(ctx, dbTx, map[uuid.UUID]*domain.Account{account.ID: account}, holdingsQuery, id)
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// List retrieves every account with its holdings in creation order, from one snapshot
func (r *accountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := r.db.withTx(ctx, snapshotRead, func(dbTx *sql.Tx) error {
		var err error
		accounts, err = loadAccounts(ctx, dbTx)
		if err != nil {
			return err
		}

		byID := make(map[uuid.UUID]*domain.Account, len(accounts))
		for _, account := range accounts {
			byID[account.ID] = account
		}

		holdingsQuery := `
			SELECT account_id, symbol, exchange, quantity, average_cost
			FROM holdings
		`
		return loadHoldings(ctx, dbTx, byID, holdingsQuery)
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

// Save writes the account row, replaces its holdings and appends tx in one database transaction
func (r *accountRepository) Save(ctx context.Context, account *domain.Account, tx *domain.Transaction) error {
	if tx != nil && tx.AccountID != account.ID {
		return fmt.Errorf("transaction %s belongs to account %s, not %s", tx.ID, tx.AccountID, account.ID)
	}

	var sequence int64
	err := r.db.withTx(ctx, nil, func(dbTx *sql.Tx) error {
		if account.Version == 0 {
			if err := insertAccount(ctx, dbTx, account); err != nil {
				return err
			}
		} else {
			if err := updateAccount(ctx, dbTx, account); err != nil {
				return err
			}
		}

		if err := replaceHoldings(ctx, dbTx, account); err != nil {
			return err
		}

		if tx == nil {
			return nil
		}

		seq, err := insertTransaction(ctx, dbTx, tx)
		if err != nil {
			return err
		}
		sequence = seq
		return nil
	})
	if err != nil {
		return err
	}

	// Only reflect the new state once the commit succeeded
	account.Version++
	if tx != nil {
		tx.Sequence = sequence
	}
	return nil
}

// ListTransactions retrieves the audit trail of an account, newest first.
// Returns an error wrapping ErrAccountNotFound if no account has that ID.
func (r *accountRepository) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	query := `
		SELECT id, seq, account_id, type, cash_amount, cash_balance_after, occurred_at,
		       side, symbol, exchange, quantity, price_per_share, gross_amount
		FROM transactions
		WHERE account_id = $1
		ORDER BY occurred_at DESC, seq DESC
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	if len(transactions) == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check account existence: %w", err)
		}
		if !exists {
			return nil, domain.NewAccountNotFoundError(accountID)
		}
	}

	return transactions, nil
}

func insertAccount(ctx context.Context, dbTx *sql.Tx, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_name, cash_balance, created_at, version)
		VALUES ($1, $2, $3, $4, 1)
	`

	_, err := dbTx.ExecContext(ctx, query,
		account.ID,
		account.OwnerName,
		account.CashBalance.String(),
		account.CreatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: account %s already exists", domain.ErrVersionConflict, account.ID)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// updateAccount bumps the version only when nobody else has written since account was read
func updateAccount(ctx context.Context, dbTx *sql.Tx, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET cash_balance = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`

	result, err := dbTx.ExecContext(ctx, query, account.CashBalance.String(), account.ID, account.Version)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := dbTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, account.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check account existence: %w", err)
	}
	if !exists {
		return domain.NewAccountNotFoundError(account.ID)
	}
	return fmt.Errorf("%w: account %s is no longer at version %d", domain.ErrVersionConflict, account.ID, account.Version)
}

func replaceHoldings(ctx context.Context, dbTx *sql.Tx, account *domain.Account) error {
	if _, err := dbTx.ExecContext(ctx, `DELETE FROM holdings WHERE account_id = $1`, account.ID); err != nil {
		return fmt.Errorf("failed to clear holdings: %w", err)
	}

	insertQuery := `
		INSERT INTO holdings (account_id, symbol, exchange, quantity, average_cost)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, holding := range account.Holdings {
		_, err := dbTx.ExecContext(ctx, insertQuery,
			account.ID,
			holding.Symbol,
			holding.Exchange,
			holding.Quantity.String(),
			holding.AverageCost.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert holding %s: %w", holding.Symbol, err)
		}
	}
	return nil
}

// insertTransaction appends the audit record and returns its sequence number
func insertTransaction(ctx context.Context, dbTx *sql.Tx, tx *domain.Transaction) (int64, error) {
	query := `
		INSERT INTO transactions (id, account_id, type, cash_amount, cash_balance_after, occurred_at,
		                          side, symbol, exchange, quantity, price_per_share, gross_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`

	// Trade columns stay NULL for cash movements
	var side, symbol, exchange, quantity, price, gross interface{}
	if trade, ok := tx.Trade(); ok {
		side = string(trade.Side)
		symbol = trade.Symbol
		exchange = trade.Exchange
		quantity = trade.Quantity.String()
		price = trade.PricePerShare.String()
		gross = trade.GrossAmount.String()
	}

	var seq int64
	err := dbTx.QueryRowContext(ctx, query,
		tx.ID,
		tx.AccountID,
		string(tx.Type()),
		tx.CashAmount.String(),
		tx.CashBalanceAfter.String(),
		tx.OccurredAt.UTC(),
		side, symbol, exchange, quantity, price, gross,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return seq, nil
}

// loadAccounts reads every account row in creation order; the result set is closed on return
func loadAccounts(ctx context.Context, dbTx *sql.Tx) ([]*domain.Account, error) {
	query := `
		SELECT id, owner_name, cash_balance, created_at, version
		FROM accounts
		ORDER BY position ASC
	`

	rows, err := dbTx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// loadHoldings runs a holdings query and attaches each row to its account in byID
func loadHoldings(ctx context.Context, dbTx *sql.Tx, byID map[uuid.UUID]*domain.Account, query string, args ...interface{}) error {
	rows, err := dbTx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows, byID)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	if err := row.Scan(&account.ID, &account.OwnerName, &balanceStr, &account.CreatedAt, &account.Version); err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cash_balance: %w", err)
	}
	account.CashBalance = balance
	account.CreatedAt = account.CreatedAt.UTC()
	account.Holdings = make(map[string]domain.Holding)

	return &account, nil
}

// scanHoldings attaches each holding row to its account in byID
func scanHoldings(rows *sql.Rows, byID map[uuid.UUID]*domain.Account) error {
	for rows.Next() {
		var accountID uuid.UUID
		var holding domain.Holding
		var quantityStr, averageCostStr string

		if err := rows.Scan(&accountID, &holding.Symbol, &holding.Exchange, &quantityStr, &averageCostStr); err != nil {
			return fmt.Errorf("failed to scan holding: %w", err)
		}

		quantity, err := decimal.NewFromString(quantityStr)
		if err != nil {
			return fmt.Errorf("failed to parse quantity: %w", err)
		}
		averageCost, err := decimal.NewFromString(averageCostStr)
		if err != nil {
			return fmt.Errorf("failed to parse average_cost: %w", err)
		}
		holding.Quantity = quantity
		holding.AverageCost = averageCost

		if account, ok := byID[accountID]; ok {
			account.Holdings[holding.Symbol] = holding
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating holdings: %w", err)
	}
	return nil
}

func scanTransaction(rows *sql.Rows) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, cashAmountStr, balanceAfterStr string
	var side, symbol, exchange, quantityStr, priceStr, grossStr sql.NullString

	err := rows.Scan(
		&tx.ID,
		&tx.Sequence,
		&tx.AccountID,
		&txType,
		&cashAmountStr,
		&balanceAfterStr,
		&tx.OccurredAt,
		&side, &symbol, &exchange, &quantityStr, &priceStr, &grossStr,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.OccurredAt = tx.OccurredAt.UTC()

	if tx.CashAmount, err = decimal.NewFromString(cashAmountStr); err != nil {
		return nil, fmt.Errorf("failed to parse cash_amount: %w", err)
	}
	if tx.CashBalanceAfter, err = decimal.NewFromString(balanceAfterStr); err != nil {
		return nil, fmt.Errorf("failed to parse cash_balance_after: %w", err)
	}

	switch domain.TransactionType(txType) {
	case domain.TransactionTypeDeposit:
		tx.Details = domain.Deposit{}
	case domain.TransactionTypeWithdrawal:
		tx.Details = domain.Withdrawal{}
	case domain.TransactionTypeTrade:
		trade, err := parseTrade(side, symbol, exchange, quantityStr, priceStr, grossStr)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		tx.Details = trade
	default:
		return nil, fmt.Errorf("transaction %s has unknown type %q", tx.ID, txType)
	}

	return &tx, nil
}

func parseTrade(side, symbol, exchange, quantityStr, priceStr, grossStr sql.NullString) (domain.Trade, error) {
	tradeSide, err := domain.ParseTradeSide(side.String)
	if err != nil {
		return domain.Trade{}, err
	}

	quantity, err := decimal.NewFromString(quantityStr.String)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("failed to parse quantity: %w", err)
	}
	price, err := decimal.NewFromString(priceStr.String)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("failed to parse price_per_share: %w", err)
	}
	gross, err := decimal.NewFromString(grossStr.String)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("failed to parse gross_amount: %w", err)
	}

	return domain.Trade{
		Side:          tradeSide,
		Symbol:        symbol.String,
		Exchange:      exchange.String,
		Quantity:      quantity,
		PricePerShare: price,
		GrossAmount:   gross,
	}, nil
}
