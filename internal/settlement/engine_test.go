package settlement

import (
	"testing"

	"github.com/shopspring/decimal"

	"dispatchpay/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// 固定抽成：1000 元订单，俱乐部抽 10%，两个主力按 0.6/0.4 分 900
func TestComputeEarningsFixedRate(t *testing.T) {
	rate := d("0.1")
	result := ComputeEarnings(d("1000"), decimal.Zero, &rate, []Contribution{
		{WorkerID: 1, RatingRate: d("0.6")},
		{WorkerID: 2, RatingRate: d("0.4")},
	}, decimal.Zero)

	if result.SplitMode != SplitModeFixed {
		t.Fatalf("splitMode = %s, want FIXED", result.SplitMode)
	}
	if !result.ClubEarnings.Equal(d("100")) {
		t.Fatalf("clubEarnings = %s, want 100", result.ClubEarnings)
	}
	if !result.TotalDistribution.Equal(d("900")) {
		t.Fatalf("totalDistribution = %s, want 900", result.TotalDistribution)
	}
	if !result.PerWorker[0].FinalEarnings.Equal(d("540")) {
		t.Fatalf("worker1 = %s, want 540", result.PerWorker[0].FinalEarnings)
	}
	if !result.PerWorker[1].FinalEarnings.Equal(d("360")) {
		t.Fatalf("worker2 = %s, want 360", result.PerWorker[1].FinalEarnings)
	}
}

// 按评级分成 + 补单：补单者扣 -(100/(500/1000)) = -200，主力分整个 1100 池
func TestComputeEarningsSupplement(t *testing.T) {
	result := ComputeEarnings(d("1000"), d("500"), nil, []Contribution{
		{WorkerID: 1, RatingRate: d("1")},
		{WorkerID: 2, IsSupplement: true},
	}, d("100"))

	if result.SplitMode != SplitModeRatingBased {
		t.Fatalf("splitMode = %s, want RATING_BASED", result.SplitMode)
	}
	if !result.ClubEarnings.IsZero() {
		t.Fatalf("clubEarnings = %s, want 0", result.ClubEarnings)
	}
	if !result.TotalDistribution.Equal(d("1100")) {
		t.Fatalf("totalDistribution = %s, want 1100", result.TotalDistribution)
	}
	if !result.PerWorker[0].FinalEarnings.Equal(d("1100")) {
		t.Fatalf("main worker = %s, want 1100", result.PerWorker[0].FinalEarnings)
	}
	if !result.PerWorker[1].FinalEarnings.Equal(d("-200")) {
		t.Fatalf("supplement worker = %s, want -200", result.PerWorker[1].FinalEarnings)
	}
	if !result.PerWorker[1].BaseEarnings.IsZero() {
		t.Fatalf("supplement worker baseEarnings = %s, want 0", result.PerWorker[1].BaseEarnings)
	}
}

// 没有主力参与者时分配表为空，不能除零
func TestComputeEarningsNoMainWorkers(t *testing.T) {
	result := ComputeEarnings(d("1000"), decimal.Zero, nil, []Contribution{
		{WorkerID: 9, IsSupplement: true},
	}, decimal.Zero)

	if len(result.PerWorker) != 1 {
		t.Fatalf("perWorker len = %d, want 1", len(result.PerWorker))
	}
	if !result.PerWorker[0].FinalEarnings.IsZero() {
		t.Fatalf("earnings = %s, want 0", result.PerWorker[0].FinalEarnings)
	}
}

// baseAmount 为 0 或补单金额非正时，跳过补单扣减
func TestComputeEarningsSupplementSkipped(t *testing.T) {
	cases := []struct {
		name       string
		baseAmount decimal.Decimal
		supplement decimal.Decimal
	}{
		{"zero base", decimal.Zero, d("100")},
		{"zero supplement", d("500"), decimal.Zero},
		{"negative supplement", d("500"), d("-50")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := ComputeEarnings(d("1000"), tc.baseAmount, nil, []Contribution{
				{WorkerID: 1, RatingRate: d("1")},
				{WorkerID: 2, IsSupplement: true},
			}, tc.supplement)
			if !result.PerWorker[1].SupplementEarnings.IsZero() {
				t.Fatalf("supplementEarnings = %s, want 0", result.PerWorker[1].SupplementEarnings)
			}
		})
	}
}

// 相同输入必须产出逐字段相等的结果
func TestComputeEarningsDeterministic(t *testing.T) {
	rate := d("0.1")
	contribs := []Contribution{
		{WorkerID: 1, RatingRate: d("0.37")},
		{WorkerID: 2, RatingRate: d("0.63")},
		{WorkerID: 3, IsSupplement: true},
	}
	a := ComputeEarnings(d("333.33"), d("200"), &rate, contribs, d("66.67"))
	b := ComputeEarnings(d("333.33"), d("200"), &rate, contribs, d("66.67"))

	if !a.ClubEarnings.Equal(b.ClubEarnings) || !a.TotalDistribution.Equal(b.TotalDistribution) {
		t.Fatalf("non-deterministic aggregate: %+v vs %+v", a, b)
	}
	for i := range a.PerWorker {
		if a.PerWorker[i].FinalEarnings.String() != b.PerWorker[i].FinalEarnings.String() {
			t.Fatalf("non-deterministic worker %d: %s vs %s",
				i, a.PerWorker[i].FinalEarnings, b.PerWorker[i].FinalEarnings)
		}
	}
}

func TestValidateTotalEarnings(t *testing.T) {
	within := []WorkerEarnings{
		{FinalEarnings: d("540")},
		{FinalEarnings: d("360")},
	}
	if !ValidateTotalEarnings(d("100"), within, d("1000")) {
		t.Fatal("exact split should pass")
	}
	// 1010 恰好等于上限 1000*1.01，允许
	if !ValidateTotalEarnings(d("110"), within, d("1000")) {
		t.Fatal("split at 1% tolerance boundary should pass")
	}
	if ValidateTotalEarnings(d("110.01"), within, d("1000")) {
		t.Fatal("split beyond 1% tolerance should fail")
	}
}

func TestSplitPolicyFor(t *testing.T) {
	if p := SplitPolicyFor(model.OrderTypeExperience); p.ClubRate == nil || !p.ClubRate.Equal(d("0.1")) {
		t.Fatalf("experience policy = %+v", p)
	}
	if p := SplitPolicyFor(model.OrderTypeBlindBox); p.ClubRate == nil || !p.ClubRate.Equal(d("0.2")) {
		t.Fatalf("blind box policy = %+v", p)
	}
	if p := SplitPolicyFor("SOMETHING_NEW"); p.ClubRate != nil {
		t.Fatalf("unknown type should fall back to rating based, got %+v", p)
	}
	if p := SplitPolicyFor(model.OrderTypeNormal); p.ClubRate != nil {
		t.Fatalf("normal type should be rating based, got %+v", p)
	}
}

// 结算+冲正反复叠加后不允许出现累计取整漂移
func TestNoRoundingDriftAcrossChainedOperations(t *testing.T) {
	rate := d("0.07")
	contribs := []Contribution{
		{WorkerID: 1, RatingRate: d("0.333")},
		{WorkerID: 2, RatingRate: d("0.667")},
	}

	balance := decimal.Zero
	for i := 0; i < 1000; i++ {
		result := ComputeEarnings(d("99.99"), decimal.Zero, &rate, contribs, decimal.Zero)
		for _, w := range result.PerWorker {
			credited := w.FinalEarnings.Round(2) // 入库口径
			balance = balance.Add(credited)      // 结算入账
			balance = balance.Sub(credited)      // 等额冲正
		}
	}
	if !balance.IsZero() {
		t.Fatalf("drift after chained settle+reverse: %s", balance)
	}
}
