package policy

import (
	"math/big"
	"math/rand"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

// Sizer 动态仓位计算器。
// 基础金额在 [min, max] 区间内均匀随机取值，按累计盈亏分桶缩放，
// 再按 RSI 微调，最后钳制到 [floor, cap]。
type Sizer struct {
	min float64 // 随机基数下界（人类单位）
	max float64 // 随机基数上界

	floor *big.Int // 钳制下限（18 位定点）
	cap   *big.Int // 钳制上限

	oversold   float64
	overbought float64

	rng *rand.Rand
}

// NewSizer 创建仓位计算器。rng 为 nil 时固定取区间中点（测试可复现）。
func NewSizer(min, max float64, floor, cap *big.Int, oversold, overbought float64, rng *rand.Rand) *Sizer {
	if min <= 0 {
		min = 0.5
	}
	if max < min {
		max = min
	}
	if oversold <= 0 {
		oversold = 40
	}
	if overbought <= 0 {
		overbought = 60
	}
	return &Sizer{
		min:        min,
		max:        max,
		floor:      floor,
		cap:        cap,
		oversold:   oversold,
		overbought: overbought,
		rng:        rng,
	}
}

// NextSwapAmount 计算下一笔 swap 的输入金额。
//
// 盈亏分桶：netProfit > +15 POL 时放大 1.5 倍（赚了就加注），
// netProfit < 0 时缩到 0.8 倍（亏损收缩），其余 1.0 倍。
// RSI：超卖 ×1.2，超买 ×0.8；RSI 未定义时不调整。
// 结果钳制在 [floor, cap]。低于最小成交额时是否放弃本轮由调用方判断。
func (s *Sizer) NextSwapAmount(pnl, rsi float64, rsiOK bool) *big.Int {
	amount := (s.min + s.max) / 2
	if s.rng != nil {
		amount = s.min + s.rng.Float64()*(s.max-s.min)
	}

	switch {
	case pnl > 15:
		amount *= 1.5
	case pnl < 0:
		amount *= 0.8
	}

	if rsiOK {
		switch {
		case rsi < s.oversold:
			amount *= 1.2
		case rsi > s.overbought:
			amount *= 0.8
		}
	}

	out := fixedpoint.FromFloat(amount)
	if s.floor != nil && out.Cmp(s.floor) < 0 {
		return new(big.Int).Set(s.floor)
	}
	if s.cap != nil && out.Cmp(s.cap) > 0 {
		return new(big.Int).Set(s.cap)
	}
	return out
}

// LiquidityPlanner 流动性补撤计划
type LiquidityPlanner struct {
	minLiq  *big.Int // 自有头寸流动性低水位
	maxLiq  *big.Int // 自有头寸流动性高水位
	mintPol *big.Int // 单次补充 POL
	mintXin *big.Int // 单次补充 XIN
	burnPct int64    // 单次撤出百分比
}

// NewLiquidityPlanner 创建流动性计划器
func NewLiquidityPlanner(minLiq, maxLiq, mintPol, mintXin *big.Int, burnPct int64) *LiquidityPlanner {
	if burnPct <= 0 || burnPct > 100 {
		burnPct = 10
	}
	return &LiquidityPlanner{
		minLiq:  minLiq,
		maxLiq:  maxLiq,
		mintPol: mintPol,
		mintXin: mintXin,
		burnPct: burnPct,
	}
}

// Plan 根据自有头寸的流动性给出动作。
// 水位盯的是机器人自己的头寸，不是池子总余额：没有头寸时流动性为零，
// 低于低水位 => 补充（没有头寸时即建仓）；高于高水位 => 撤出；其余不动。
// 头寸流动性未知（nil）时不动。
// 补充受钱包余额约束：钱包不足单次补充量时按余额的一半补充，仍为零则放弃。
func (p *LiquidityPlanner) Plan(snapshot domain.BalanceSnapshot) (domain.Action, bool) {
	liq := snapshot.PositionLiquidity
	if liq == nil {
		return domain.Action{}, false
	}

	if p.minLiq != nil && liq.Cmp(p.minLiq) < 0 {
		addPol := p.mintPol
		addXin := p.mintXin
		if snapshot.Pol != nil && snapshot.Pol.Cmp(addPol) < 0 {
			addPol = new(big.Int).Div(snapshot.Pol, big.NewInt(2))
		}
		if snapshot.Xin != nil && snapshot.Xin.Cmp(addXin) < 0 {
			addXin = new(big.Int).Div(snapshot.Xin, big.NewInt(2))
		}
		if fixedpoint.IsZero(addPol) || fixedpoint.IsZero(addXin) {
			return domain.Action{}, false
		}
		return domain.Action{
			Kind:      domain.ActionAddLiquidity,
			AmountPol: addPol,
			AmountXin: addXin,
			Reason:    "头寸流动性低于低水位",
		}, true
	}

	if p.maxLiq != nil && liq.Cmp(p.maxLiq) > 0 {
		return domain.Action{
			Kind:    domain.ActionPullLiquidity,
			BurnPct: p.burnPct,
			Reason:  "头寸流动性高于高水位",
		}, true
	}

	return domain.Action{}, false
}
