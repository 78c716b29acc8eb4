package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func amount(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBalanceEffect(t *testing.T) {
	cases := []struct {
		name          string
		trans         WalletTransaction
		wantAvailable string
		wantFrozen    string
	}{
		{"credit", WalletTransaction{Direction: DirectionIn, Status: TxStatusAvailable, Amount: amount("100")}, "100", "0"},
		{"freeze", WalletTransaction{Direction: DirectionIn, Status: TxStatusFrozen, Amount: amount("100")}, "0", "100"},
		{"debit", WalletTransaction{Direction: DirectionOut, Status: TxStatusAvailable, Amount: amount("30")}, "-30", "0"},
		{"frozen debit", WalletTransaction{Direction: DirectionOut, Status: TxStatusFrozen, Amount: amount("30")}, "0", "-30"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			available, frozen := tc.trans.BalanceEffect()
			if !available.Equal(amount(tc.wantAvailable)) || !frozen.Equal(amount(tc.wantFrozen)) {
				t.Fatalf("effect = (%s, %s), want (%s, %s)", available, frozen, tc.wantAvailable, tc.wantFrozen)
			}
		})
	}
}

// 冲正必须恰好抵消原流水的余额影响：(原, 冲正) 净效果为零
func TestReversalNetsToZero(t *testing.T) {
	originals := []WalletTransaction{
		{ID: 1, UserID: 7, Direction: DirectionIn, Status: TxStatusAvailable, Amount: amount("300")},
		{ID: 2, UserID: 7, Direction: DirectionIn, Status: TxStatusFrozen, Amount: amount("123.45")},
		{ID: 3, UserID: 7, Direction: DirectionOut, Status: TxStatusAvailable, Amount: amount("50")},
	}
	for _, original := range originals {
		reversal := ReversalOf(&original, "TXN-test")

		oa, of := original.BalanceEffect()
		ra, rf := reversal.BalanceEffect()
		if !oa.Add(ra).IsZero() || !of.Add(rf).IsZero() {
			t.Fatalf("tx %d: net effect = (%s, %s), want zero", original.ID, oa.Add(ra), of.Add(rf))
		}

		if reversal.ReversalOfTxID == nil || *reversal.ReversalOfTxID != original.ID {
			t.Fatalf("tx %d: reversal back reference = %v", original.ID, reversal.ReversalOfTxID)
		}
		if reversal.UserID != original.UserID {
			t.Fatalf("reversal must stay on the same account")
		}
		if reversal.BizType != BizTypeRefundReversal {
			t.Fatalf("reversal biz type = %s", reversal.BizType)
		}
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusCreated, OrderStatusDispatched, true},
		{OrderStatusCompleted, OrderStatusArchived, true},
		{OrderStatusCompleted, OrderStatusRefunding, true},
		{OrderStatusArchived, OrderStatusRefunding, true},
		{OrderStatusRefunding, OrderStatusRefunded, true},
		{OrderStatusRefunded, OrderStatusCompleted, false}, // REFUNDED 是终态
		{OrderStatusArchived, OrderStatusCompleted, false},
		{OrderStatusCancelled, OrderStatusDispatched, false},
	}
	for _, tc := range cases {
		if got := CanTransitionTo(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransitionTo(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
