package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/stockledger-backend/internal/domain"
	"github.com/simaogato/stockledger-backend/internal/logger"
)

// Discrepancy describes one point where the audit trail and the stored account disagree
type Discrepancy struct {
	TransactionID uuid.UUID // uuid.Nil for account-level findings
	Message       string
}

// Report is the outcome of replaying one account's audit trail
type Report struct {
	AccountID       uuid.UUID
	Transactions    int
	ReplayedBalance decimal.Decimal
	RecordedBalance decimal.Decimal
	Discrepancies   []Discrepancy
}

// Balanced reports whether the replay found nothing wrong
func (r *Report) Balanced() bool {
	return len(r.Discrepancies) == 0
}

func (r *Report) add(txID uuid.UUID, format string, args ...interface{}) {
	r.Discrepancies = append(r.Discrepancies, Discrepancy{TransactionID: txID, Message: fmt.Sprintf(format, args...)})
}

const readAttempts = 3

// AuditService replays audit trails from zero and compares them with stored accounts
type AuditService struct {
	AccountRepo domain.AccountRepository

	math domain.MathContext
}

// NewAuditService creates a new AuditService. mc must match the context the ledger ran with.
func NewAuditService(accountRepo domain.AccountRepository, mc domain.MathContext) *AuditService {
	return &AuditService{
		AccountRepo: accountRepo,
		math:        mc,
	}
}

// Reconcile replays one account's trail oldest first and checks:
//  1. every transaction is well formed
//  2. each CashBalanceAfter equals the running sum of cash amounts
//  3. the final running balance equals the stored cash balance
//  4. quantities and average costs rebuilt from trades equal the stored holdings
//
// The account and its trail are read at the same version; writes landing in between
// cause a re-read, and ErrVersionConflict is returned if the account never settles.
func (s *AuditService) Reconcile(ctx context.Context, id uuid.UUID) (*Report, error) {
	account, trail, err := s.readConsistent(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &Report{
		AccountID:       id,
		Transactions:    len(trail),
		RecordedBalance: account.CashBalance,
	}

	if err := account.Validate(); err != nil {
		report.add(uuid.Nil, "account invariant violated: %v", err)
	}

	running := decimal.Zero
	holdings := make(map[string]domain.Holding)

	// The trail comes newest first
	for i := len(trail) - 1; i >= 0; i-- {
		tx := trail[i]

		if tx.AccountID != id {
			report.add(tx.ID, "transaction belongs to account %s", tx.AccountID)
			continue
		}
		if err := tx.Validate(); err != nil {
			report.add(tx.ID, "malformed transaction: %v", err)
			continue
		}

		running = s.math.Add(running, tx.CashAmount)
		if !running.Equal(tx.CashBalanceAfter) {
			report.add(tx.ID, "balance after is %s, replay gives %s", tx.CashBalanceAfter, running)
			// Resynchronise so one bad record is reported once
			running = tx.CashBalanceAfter
		}

		if trade, ok := tx.Trade(); ok {
			if msg := s.replayTrade(holdings, trade); msg != "" {
				report.add(tx.ID, "%s", msg)
			}
		}
	}

	report.ReplayedBalance = running
	if !running.Equal(account.CashBalance) {
		report.add(uuid.Nil, "stored cash balance is %s, replay gives %s", account.CashBalance, running)
	}

	s.compareHoldings(report, account.Holdings, holdings)

	if !report.Balanced() {
		logger.FromContext(ctx).Warn("Audit trail does not reconcile",
			"account_id", id.String(),
			"discrepancies", len(report.Discrepancies),
		)
	}

	return report, nil
}

// readConsistent loads an account and its trail, retrying until no Save landed between the reads.
// Every Save bumps the version together with its trail append, so equal versions mean a matching pair.
func (s *AuditService) readConsistent(ctx context.Context, id uuid.UUID) (*domain.Account, []*domain.Transaction, error) {
	for attempt := 1; attempt <= readAttempts; attempt++ {
		account, err := s.AccountRepo.GetByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		trail, err := s.AccountRepo.ListTransactions(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load transactions for account %s: %w", id, err)
		}

		after, err := s.AccountRepo.GetByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if after.Version == account.Version {
			return account, trail, nil
		}

		logger.FromContext(ctx).Debug("Account changed during audit read, retrying",
			"account_id", id.String(),
			"attempt", attempt,
		)
	}

	return nil, nil, fmt.Errorf("%w: account %s kept changing during audit", domain.ErrVersionConflict, id)
}

// ReconcileAll reconciles every account in the store
func (s *AuditService) ReconcileAll(ctx context.Context) ([]*Report, error) {
	accounts, err := s.AccountRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	reports := make([]*Report, 0, len(accounts))
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report, err := s.Reconcile(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// replayTrade applies a recorded trade to the rebuilt holdings, returning a message on inconsistency
func (s *AuditService) replayTrade(holdings map[string]domain.Holding, trade domain.Trade) string {
	existing, ok := holdings[trade.Symbol]

	if trade.Side == domain.TradeSideBuy {
		if !ok {
			holdings[trade.Symbol] = domain.Holding{
				Symbol:      trade.Symbol,
				Exchange:    trade.Exchange,
				Quantity:    trade.Quantity,
				AverageCost: trade.PricePerShare,
			}
			return ""
		}

		newQuantity := s.math.Add(existing.Quantity, trade.Quantity)
		totalCost := s.math.Add(
			s.math.Mul(existing.AverageCost, existing.Quantity),
			s.math.Mul(trade.PricePerShare, trade.Quantity),
		)
		holdings[trade.Symbol] = domain.Holding{
			Symbol:      trade.Symbol,
			Exchange:    trade.Exchange,
			Quantity:    newQuantity,
			AverageCost: s.math.Div(totalCost, newQuantity),
		}
		return ""
	}

	if !ok || trade.Quantity.GreaterThan(existing.Quantity) {
		return fmt.Sprintf("sell of %s %s exceeds the replayed position", trade.Quantity, trade.Symbol)
	}

	remaining := s.math.Sub(existing.Quantity, trade.Quantity)
	if remaining.IsZero() {
		delete(holdings, trade.Symbol)
		return ""
	}
	existing.Quantity = remaining
	holdings[trade.Symbol] = existing
	return ""
}

func (s *AuditService) compareHoldings(report *Report, stored, replayed map[string]domain.Holding) {
	for symbol, want := range replayed {
		got, ok := stored[symbol]
		if !ok {
			report.add(uuid.Nil, "holding %s missing, replay gives %s shares", symbol, want.Quantity)
			continue
		}
		if !got.Quantity.Equal(want.Quantity) {
			report.add(uuid.Nil, "holding %s quantity is %s, replay gives %s", symbol, got.Quantity, want.Quantity)
		}
		if !got.AverageCost.Equal(want.AverageCost) {
			report.add(uuid.Nil, "holding %s average cost is %s, replay gives %s", symbol, got.AverageCost, want.AverageCost)
		}
	}

	for symbol, got := range stored {
		if _, ok := replayed[symbol]; !ok {
			report.add(uuid.Nil, "holding %s of %s shares has no trades behind it", symbol, got.Quantity)
		}
	}
}
