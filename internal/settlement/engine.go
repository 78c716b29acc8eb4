package settlement

import (
	"github.com/shopspring/decimal"

	"dispatchpay/internal/model"
)

// ============================================================================
// 收益分成引擎
// ============================================================================
//
// 纯计算，不碰数据库。输入是订单金额与上游解析好的参与记录
// （{workerId, contribution, ratingRate, isSupplement}），输出每个参与者
// 的收益拆分与俱乐部抽成。相同输入必须得到完全相同的输出。
//
// 金额全程使用 decimal，入库前才按 2 位小数取整。
// ============================================================================

const (
	SplitModeFixed       = "FIXED"        // 固定俱乐部抽成
	SplitModeRatingBased = "RATING_BASED" // 按评级比例分成
)

// Contribution 上游贡献解析器产出的结构化参与记录
type Contribution struct {
	WorkerID     int64
	Contribution decimal.Decimal // 贡献值（展示用，不参与分成计算）
	RatingRate   decimal.Decimal // 评级分成系数
	IsSupplement bool            // 补单（炸单补偿）参与者
}

// WorkerEarnings 单个参与者的收益拆分
type WorkerEarnings struct {
	WorkerID           int64
	IsSupplement       bool
	BaseEarnings       decimal.Decimal // 按评级分到的基础收益（补单者恒为 0）
	SupplementEarnings decimal.Decimal // 补单扣减（负数，主力恒为 0）
	FinalEarnings      decimal.Decimal // BaseEarnings + SupplementEarnings
}

// Result 一次分成计算的完整输出
type Result struct {
	ClubEarnings      decimal.Decimal
	PerWorker         []WorkerEarnings
	SplitMode         string
	TotalDistribution decimal.Decimal // 参与评级分配的总池 = 剩余池 + |补单金额|
}

// SplitPolicy 订单类型对应的默认分成策略
type SplitPolicy struct {
	ClubRate    *decimal.Decimal // nil 表示按评级分成
	Description string
}

var (
	experienceRate = decimal.NewFromFloat(0.10)
	blindBoxRate   = decimal.NewFromFloat(0.20)
)

// SplitPolicyFor 按订单类型查默认分成策略
// 体验单、盲盒单走固定抽成；未知类型一律回落到按评级分成
func SplitPolicyFor(orderType string) SplitPolicy {
	switch orderType {
	case model.OrderTypeExperience:
		return SplitPolicy{ClubRate: &experienceRate, Description: "体验单固定抽成"}
	case model.OrderTypeBlindBox:
		return SplitPolicy{ClubRate: &blindBoxRate, Description: "盲盒单固定抽成"}
	default:
		return SplitPolicy{ClubRate: nil, Description: "按评级分成"}
	}
}

// ComputeEarnings 计算一个订单的收益拆分
//
// 步骤：
//  1. clubRate 非空时先抽俱乐部分成，剩余进入分配池；为空则整单进入分配池
//  2. 参与者按 isSupplement 分为主力与补单
//  3. 补单扣减：perSupplementEarning = -(supplementAmount / (baseAmount/orderAmount)) / 补单人数
//     （补单是对池子的成本扣减，不在本环节回补——成本被吸收进放大后的分配池）
//  4. 分配池 totalDistribution = 剩余池 + |supplementAmount|，主力按 ratingRate 占比分配
//  5. 合并：finalEarnings = baseEarnings + supplementEarnings
func ComputeEarnings(
	orderAmount decimal.Decimal,
	baseAmount decimal.Decimal,
	clubRate *decimal.Decimal,
	contributions []Contribution,
	supplementAmount decimal.Decimal,
) Result {
	clubEarnings := decimal.Zero
	pool := orderAmount
	splitMode := SplitModeRatingBased
	if clubRate != nil {
		clubEarnings = orderAmount.Mul(*clubRate)
		pool = orderAmount.Sub(clubEarnings)
		splitMode = SplitModeFixed
	}

	var mains, supplements []Contribution
	for _, c := range contributions {
		if c.IsSupplement {
			supplements = append(supplements, c)
		} else {
			mains = append(mains, c)
		}
	}

	// 补单扣减。baseAmount 为 0 或补单金额非正时整段跳过，视为 0
	perSupplementEarning := decimal.Zero
	if supplementAmount.IsPositive() && baseAmount.IsPositive() && len(supplements) > 0 && !orderAmount.IsZero() {
		quota := baseAmount.Div(orderAmount)
		perSupplementEarning = supplementAmount.Div(quota).
			Div(decimal.NewFromInt(int64(len(supplements)))).
			Abs().Neg()
	}

	totalDistribution := pool.Add(supplementAmount.Abs())

	totalRatingRate := decimal.Zero
	for _, c := range mains {
		totalRatingRate = totalRatingRate.Add(c.RatingRate)
	}

	perWorker := make([]WorkerEarnings, 0, len(contributions))
	for _, c := range contributions {
		e := WorkerEarnings{WorkerID: c.WorkerID, IsSupplement: c.IsSupplement}
		if c.IsSupplement {
			e.SupplementEarnings = perSupplementEarning
		} else if totalRatingRate.IsPositive() {
			e.BaseEarnings = totalDistribution.Mul(c.RatingRate).Div(totalRatingRate)
		}
		e.FinalEarnings = e.BaseEarnings.Add(e.SupplementEarnings)
		perWorker = append(perWorker, e)
	}

	return Result{
		ClubEarnings:      clubEarnings,
		PerWorker:         perWorker,
		SplitMode:         splitMode,
		TotalDistribution: totalDistribution,
	}
}

var toleranceRate = decimal.NewFromFloat(1.01)

// ValidateTotalEarnings 校验分成总额不超过订单金额（留 1% 取整余量）
// 校验失败必须拒绝结算落库，这是硬性不变量而不是告警
func ValidateTotalEarnings(clubEarnings decimal.Decimal, perWorker []WorkerEarnings, orderAmount decimal.Decimal) bool {
	total := clubEarnings
	for _, e := range perWorker {
		total = total.Add(e.FinalEarnings)
	}
	return !total.GreaterThan(orderAmount.Mul(toleranceRate))
}
