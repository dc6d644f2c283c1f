package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/stockledger-backend/internal/domain"
)

// HoldingView represents one position of an account summary
type HoldingView struct {
	Symbol      string
	Exchange    string
	Quantity    decimal.Decimal
	AverageCost decimal.Decimal
	CostBasis   decimal.Decimal // Quantity x AverageCost
}

// AccountSummary represents an account with its positions ordered by symbol
type AccountSummary struct {
	ID          uuid.UUID
	OwnerName   string
	CashBalance decimal.Decimal
	Holdings    []HoldingView
	CreatedAt   time.Time

	CostBasis decimal.Decimal // Sum of holding cost bases
	BookValue decimal.Decimal // CashBalance + CostBasis
}

// DashboardService handles read-only portfolio views
type DashboardService struct {
	AccountRepo domain.AccountRepository

	math domain.MathContext
}

// NewDashboardService creates a new DashboardService instance
func NewDashboardService(accountRepo domain.AccountRepository, mc domain.MathContext) *DashboardService {
	return &DashboardService{
		AccountRepo: accountRepo,
		math:        mc,
	}
}

// GetSummary builds the summary of one account
// Logic:
//   - Holdings: sorted by symbol ascending
//   - CostBasis: sum of quantity x average cost over all holdings
//   - BookValue: cash balance + cost basis
func (s *DashboardService) GetSummary(ctx context.Context, id uuid.UUID) (*AccountSummary, error) {
	account, err := s.AccountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.summarize(account), nil
}

// ListSummaries builds the summary of every account
func (s *DashboardService) ListSummaries(ctx context.Context) ([]*AccountSummary, error) {
	accounts, err := s.AccountRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	summaries := make([]*AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, s.summarize(account))
	}
	return summaries, nil
}

func (s *DashboardService) summarize(account *domain.Account) *AccountSummary {
	// 1. Flatten and sort positions
	holdings := make([]HoldingView, 0, len(account.Holdings))
	for _, holding := range account.Holdings {
		holdings = append(holdings, HoldingView{
			Symbol:      holding.Symbol,
			Exchange:    holding.Exchange,
			Quantity:    holding.Quantity,
			AverageCost: holding.AverageCost,
			CostBasis:   s.math.Mul(holding.Quantity, holding.AverageCost),
		})
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Symbol < holdings[j].Symbol
	})

	// 2. Sum cost basis
	costBasis := decimal.Zero
	for _, holding := range holdings {
		costBasis = s.math.Add(costBasis, holding.CostBasis)
	}

	// 3. Book value
	return &AccountSummary{
		ID:          account.ID,
		OwnerName:   account.OwnerName,
		CashBalance: account.CashBalance,
		Holdings:    holdings,
		CreatedAt:   account.CreatedAt,
		CostBasis:   costBasis,
		BookValue:   s.math.Add(account.CashBalance, costBasis),
	}
}
