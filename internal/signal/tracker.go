package signal

import (
	"math/big"
	"sync"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

// windowSize 价格窗口大小，RSI 需要满窗才有定义
const windowSize = 14

// Tracker 价格序列跟踪器。
// 每个 tick 调用 Observe 记录一次 XIN 报价，最多保留 14 个样本。
// 报价失败的 tick 不产生样本（调用方复用上一次成功报价），
// 指标在样本不足时保持未定义。
type Tracker struct {
	mu     sync.Mutex
	prices []float64 // 仅用于比值计算的 float 序列，不回流到金额
}

// NewTracker 创建价格跟踪器
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe 记录一次报价（18 位定点）。nil 或非正值直接忽略。
func (t *Tracker) Observe(price *big.Int) {
	if price == nil || price.Sign() <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prices = append(t.prices, fixedpoint.ToFloat(price))
	if len(t.prices) > windowSize {
		t.prices = t.prices[len(t.prices)-windowSize:]
	}
}

// SampleCount 当前样本数
func (t *Tracker) SampleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prices)
}

// RSI 计算窗口 RSI。样本不足 windowSize 时返回 0, false。
// 无下跌样本且有上涨样本时 RSI = 100；窗口完全无波动时 RSI = 50。
func (t *Tracker) RSI() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.prices) < windowSize {
		return 0, false
	}

	var gains, losses float64
	for i := 1; i < len(t.prices); i++ {
		diff := t.prices[i] - t.prices[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	if losses == 0 {
		if gains == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}

// PriceChangePercent 两次报价之间的涨跌幅（%）。prev 非正时无定义。
func PriceChangePercent(prev, cur *big.Int) (float64, bool) {
	if prev == nil || prev.Sign() <= 0 || cur == nil || cur.Sign() <= 0 {
		return 0, false
	}
	p := fixedpoint.ToFloat(prev)
	c := fixedpoint.ToFloat(cur)
	return (c - p) / p * 100, true
}

// ClassifyPhase 按涨跌幅给市场阶段分类。
// 涨幅 ≥ pumpThr 进入 pump，跌幅 ≤ -dumpThr 进入 dump，
// 落在阈值带内时沿用上一阶段（滞回，避免在阈值附近来回切换）。
func ClassifyPhase(changePct, pumpThr, dumpThr float64, prev domain.MarketPhase) domain.MarketPhase {
	switch {
	case changePct >= pumpThr:
		return domain.PhasePump
	case changePct <= -dumpThr:
		return domain.PhaseDump
	}
	if prev == "" {
		return domain.PhaseNeutral
	}
	return prev
}
