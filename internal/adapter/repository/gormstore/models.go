package gormstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/stockledger-backend/internal/domain"
)

// accountRow is the persisted account header. Decimals are stored as text to keep full precision.
type accountRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Position    int64     `gorm:"uniqueIndex;not null"` // creation order
	OwnerName   string    `gorm:"not null"`
	CashBalance string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	Version     int64     `gorm:"not null"`
}

func (accountRow) TableName() string {
	return "accounts"
}

// holdingRow is one position of an account, keyed by (account, symbol)
type holdingRow struct {
	AccountID   string `gorm:"primaryKey;size:36"`
	Symbol      string `gorm:"primaryKey;size:32"`
	Exchange    string
	Quantity    string `gorm:"not null"`
	AverageCost string `gorm:"not null"`

	Account accountRow `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

func (holdingRow) TableName() string {
	return "holdings"
}

// transactionRow is one audit record. Trade columns are NULL for cash movements.
type transactionRow struct {
	Seq              int64     `gorm:"primaryKey;autoIncrement"`
	ID               string    `gorm:"uniqueIndex;size:36;not null"`
	AccountID        string    `gorm:"index:idx_transactions_account;size:36;not null"`
	Type             string    `gorm:"size:16;not null"`
	CashAmount       string    `gorm:"not null"`
	CashBalanceAfter string    `gorm:"not null"`
	OccurredAt       time.Time `gorm:"index:idx_transactions_account;not null"`

	Side          *string `gorm:"size:8"`
	Symbol        *string `gorm:"size:32"`
	Exchange      *string
	Quantity      *string
	PricePerShare *string
	GrossAmount   *string
}

func (transactionRow) TableName() string {
	return "transactions"
}

func toHoldingRows(account *domain.Account) []holdingRow {
	rows := make([]holdingRow, 0, len(account.Holdings))
	for _, holding := range account.Holdings {
		rows = append(rows, holdingRow{
			AccountID:   account.ID.String(),
			Symbol:      holding.Symbol,
			Exchange:    holding.Exchange,
			Quantity:    holding.Quantity.String(),
			AverageCost: holding.AverageCost.String(),
		})
	}
	return rows
}

func toTransactionRow(tx *domain.Transaction) transactionRow {
	row := transactionRow{
		ID:               tx.ID.String(),
		AccountID:        tx.AccountID.String(),
		Type:             string(tx.Type()),
		CashAmount:       tx.CashAmount.String(),
		CashBalanceAfter: tx.CashBalanceAfter.String(),
		OccurredAt:       tx.OccurredAt.UTC(),
	}

	if trade, ok := tx.Trade(); ok {
		side := string(trade.Side)
		quantity := trade.Quantity.String()
		price := trade.PricePerShare.String()
		gross := trade.GrossAmount.String()
		row.Side = &side
		row.Symbol = &trade.Symbol
		row.Exchange = &trade.Exchange
		row.Quantity = &quantity
		row.PricePerShare = &price
		row.GrossAmount = &gross
	}

	return row
}

func (r accountRow) toDomain(holdings []holdingRow) (*domain.Account, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account id: %w", err)
	}
	balance, err := decimal.NewFromString(r.CashBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cash_balance: %w", err)
	}

	account := &domain.Account{
		ID:          id,
		OwnerName:   r.OwnerName,
		CashBalance: balance,
		Holdings:    make(map[string]domain.Holding, len(holdings)),
		CreatedAt:   r.CreatedAt.UTC(),
		Version:     r.Version,
	}

	for _, h := range holdings {
		quantity, err := decimal.NewFromString(h.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to parse quantity of %s: %w", h.Symbol, err)
		}
		averageCost, err := decimal.NewFromString(h.AverageCost)
		if err != nil {
			return nil, fmt.Errorf("failed to parse average_cost of %s: %w", h.Symbol, err)
		}
		account.Holdings[h.Symbol] = domain.Holding{
			Symbol:      h.Symbol,
			Exchange:    h.Exchange,
			Quantity:    quantity,
			AverageCost: averageCost,
		}
	}

	return account, nil
}

func (r transactionRow) toDomain() (*domain.Transaction, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction id: %w", err)
	}
	accountID, err := uuid.Parse(r.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account id: %w", err)
	}

	tx := &domain.Transaction{
		ID:         id,
		AccountID:  accountID,
		Sequence:   r.Seq,
		OccurredAt: r.OccurredAt.UTC(),
	}
	if tx.CashAmount, err = decimal.NewFromString(r.CashAmount); err != nil {
		return nil, fmt.Errorf("failed to parse cash_amount: %w", err)
	}
	if tx.CashBalanceAfter, err = decimal.NewFromString(r.CashBalanceAfter); err != nil {
		return nil, fmt.Errorf("failed to parse cash_balance_after: %w", err)
	}

	switch domain.TransactionType(r.Type) {
	case domain.TransactionTypeDeposit:
		tx.Details = domain.Deposit{}
	case domain.TransactionTypeWithdrawal:
		tx.Details = domain.Withdrawal{}
	case domain.TransactionTypeTrade:
		trade, err := r.trade()
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", r.ID, err)
		}
		tx.Details = trade
	default:
		return nil, fmt.Errorf("transaction %s has unknown type %q", r.ID, r.Type)
	}

	return tx, nil
}

func (r transactionRow) trade() (domain.Trade, error) {
	if r.Side == nil || r.Symbol == nil || r.Quantity == nil || r.PricePerShare == nil || r.GrossAmount == nil {
		return domain.Trade{}, errors.New("trade columns are incomplete")
	}

	side, err := domain.ParseTradeSide(*r.Side)
	if err != nil {
		return domain.Trade{}, err
	}
	quantity, err := decimal.NewFromString(*r.Quantity)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("failed to parse quantity: %w", err)
	}
	price, err := decimal.NewFromString(*r.PricePerShare)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("failed to parse price_per_share: %w", err)
	}
	gross, err := decimal.NewFromString(*r.GrossAmount)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("failed to parse gross_amount: %w", err)
	}

	trade := domain.Trade{
		Side:          side,
		Symbol:        *r.Symbol,
		Quantity:      quantity,
		PricePerShare: price,
		GrossAmount:   gross,
	}
	if r.Exchange != nil {
		trade.Exchange = *r.Exchange
	}
	return trade, nil
}
