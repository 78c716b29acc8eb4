package service

import (
	"testing"
	"time"

	"dispatchpay/internal/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// 分片聚合必须等于整体聚合，k 取 1 / 7 / 1000 验证
func TestChunkInt64sSumEqualsWhole(t *testing.T) {
	ids := make([]int64, 2500)
	var want int64
	for i := range ids {
		ids[i] = int64(i + 1)
		want += ids[i]
	}

	for _, size := range []int{1, 7, 1000} {
		var got int64
		var count int
		for _, chunk := range chunkInt64s(ids, size) {
			if len(chunk) > size {
				t.Fatalf("size=%d: chunk len %d exceeds size", size, len(chunk))
			}
			for _, id := range chunk {
				got += id
				count++
			}
		}
		if got != want || count != len(ids) {
			t.Fatalf("size=%d: sum over chunks = %d (%d ids), want %d (%d ids)",
				size, got, count, want, len(ids))
		}
	}
}

func TestChunkInt64sEmpty(t *testing.T) {
	if chunks := chunkInt64s(nil, 1000); chunks != nil {
		t.Fatalf("empty input should produce no chunks, got %v", chunks)
	}
}

func TestCanAudit(t *testing.T) {
	cases := []struct {
		role string
		want bool
	}{
		{model.RoleFinance, true},
		{model.RoleSuperAdmin, true},
		{"DISPATCHER", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := model.CanAudit(tc.role); got != tc.want {
			t.Fatalf("CanAudit(%q) = %v, want %v", tc.role, got, tc.want)
		}
	}
}

// 冲正判定：REFUND_REVERSAL 业务类型或带冲正回溯引用都算
func TestHasReversalMark(t *testing.T) {
	if hasReversalMark(&model.WalletTransaction{BizType: model.BizTypeSettleEarning}) {
		t.Fatal("plain earning should not count as reversal")
	}
	if !hasReversalMark(&model.WalletTransaction{BizType: model.BizTypeRefundReversal}) {
		t.Fatal("refund reversal biz type should count")
	}
	ref := int64(42)
	if !hasReversalMark(&model.WalletTransaction{BizType: model.BizTypeManualAdjust, ReversalOfTxID: &ref}) {
		t.Fatal("reversal back reference should count")
	}
}

func paidOrder(id int64, amount string) *model.DispatchOrder {
	now := time.Now()
	return &model.DispatchOrder{
		ID:          id,
		OrderNo:     "DSP-TEST",
		IsPaid:      true,
		PaidAmount:  d(amount),
		Status:      model.OrderStatusArchived,
		PaymentTime: &now,
	}
}

func TestBuildOrderRowNormal(t *testing.T) {
	order := paidOrder(1, "1000")
	settlements := []*model.OrderSettlement{
		{OrderID: 1, FinalEarnings: d("540"), CSEarnings: d("10")},
		{OrderID: 1, FinalEarnings: d("360")},
	}

	row := buildOrderRow(order, settlements, nil)

	if row.Abnormal {
		t.Fatalf("unexpected abnormal: %s", row.AbnormalReason)
	}
	if !row.TotalExpense.Equal(d("910")) {
		t.Fatalf("totalExpense = %s, want 910", row.TotalExpense)
	}
	if !row.Profit.Equal(d("90")) {
		t.Fatalf("profit = %s, want 90", row.Profit)
	}
}

func TestBuildOrderRowExpenseExceedsPaid(t *testing.T) {
	order := paidOrder(1, "100")
	settlements := []*model.OrderSettlement{
		{OrderID: 1, FinalEarnings: d("150")},
	}

	row := buildOrderRow(order, settlements, nil)

	if !row.Abnormal {
		t.Fatal("payout exceeding receipt should be abnormal")
	}
	if !row.Profit.Equal(d("-50")) {
		t.Fatalf("profit = %s, want -50", row.Profit)
	}
}

func TestBuildOrderRowUnpaid(t *testing.T) {
	order := paidOrder(1, "100")
	order.IsPaid = false

	if row := buildOrderRow(order, nil, nil); !row.Abnormal {
		t.Fatal("unpaid order should be abnormal")
	}
}

// 已退款但没有冲正流水的订单必须标异常（退款永远不能在没有冲正流水时算完成）
func TestBuildOrderRowRefundedWithoutReversal(t *testing.T) {
	order := paidOrder(1, "100")
	order.Status = model.OrderStatusRefunded
	orderID := order.ID
	earning := &model.WalletTransaction{
		BizType: model.BizTypeSettleEarning,
		OrderID: &orderID,
		Status:  model.TxStatusFrozen,
	}

	row := buildOrderRow(order, nil, []*model.WalletTransaction{earning})
	if !row.Abnormal {
		t.Fatal("refunded order without reversal should be abnormal")
	}

	ref := int64(1)
	reversal := &model.WalletTransaction{
		BizType:        model.BizTypeRefundReversal,
		OrderID:        &orderID,
		ReversalOfTxID: &ref,
	}
	row = buildOrderRow(order, nil, []*model.WalletTransaction{earning, reversal})
	if row.Abnormal {
		t.Fatalf("refunded order with reversal flagged abnormal: %s", row.AbnormalReason)
	}
}
