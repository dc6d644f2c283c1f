package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account *Account
		wantErr bool
		errMsg  string
	}{
		{
			name:    "Fresh account should pass",
			account: NewAccount("Alice", decimal.NewFromInt(1000), time.Now()),
			wantErr: false,
		},
		{
			name:    "Account with empty owner should fail",
			account: NewAccount("  ", decimal.Zero, time.Now()),
			wantErr: true,
			errMsg:  "owner name cannot be empty",
		},
		{
			name:    "Account with negative cash should fail",
			account: NewAccount("Bob", decimal.NewFromInt(-1), time.Now()),
			wantErr: true,
			errMsg:  "cash balance cannot be negative",
		},
		{
			name: "Holding with zero quantity should fail",
			account: func() *Account {
				a := NewAccount("Carol", decimal.Zero, time.Now())
				a.Holdings["AAPL"] = Holding{Symbol: "AAPL", Exchange: "NASDAQ", Quantity: decimal.Zero, AverageCost: decimal.NewFromInt(150)}
				return a
			}(),
			wantErr: true,
			errMsg:  "quantity must be positive",
		},
		{
			name: "Holding stored under a non-normalized key should fail",
			account: func() *Account {
				a := NewAccount("Dana", decimal.Zero, time.Now())
				a.Holdings["aapl"] = Holding{Symbol: "aapl", Exchange: "NASDAQ", Quantity: decimal.NewFromInt(1), AverageCost: decimal.NewFromInt(150)}
				return a
			}(),
			wantErr: true,
			errMsg:  "is stored under key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAccount_CloneIsIndependent(t *testing.T) {
	original := NewAccount("Eve", decimal.NewFromInt(500), time.Now())
	original.Holdings["MSFT"] = Holding{Symbol: "MSFT", Exchange: "NASDAQ", Quantity: decimal.NewFromInt(4), AverageCost: decimal.NewFromInt(320)}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original.ID, clone.ID)

	// Mutating the clone must not leak back into the original
	clone.Holdings["MSFT"] = Holding{Symbol: "MSFT", Exchange: "NASDAQ", Quantity: decimal.NewFromInt(1), AverageCost: decimal.NewFromInt(1)}
	delete(clone.Holdings, "MSFT")
	clone.Holdings["TSLA"] = Holding{Symbol: "TSLA", Exchange: "NASDAQ", Quantity: decimal.NewFromInt(1), AverageCost: decimal.NewFromInt(1)}
	clone.CashBalance = decimal.Zero

	assert.Len(t, original.Holdings, 1)
	assert.True(t, original.Holdings["MSFT"].Quantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, original.CashBalance.Equal(decimal.NewFromInt(500)))
}

func TestAccount_FindHoldingIsCaseInsensitive(t *testing.T) {
	a := NewAccount("Frank", decimal.Zero, time.Now())
	a.Holdings["SONY"] = Holding{Symbol: "SONY", Exchange: "TYO", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(95)}

	h, ok := a.FindHolding("sony")
	assert.True(t, ok)
	assert.Equal(t, "TYO", h.Exchange)

	_, ok = a.FindHolding("BABA")
	assert.False(t, ok)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("aapl"))
	assert.Equal(t, "BRK.B", NormalizeSymbol(" brk.b "))
}
