package stats

import (
	"math/big"
	"sync"

	"github.com/xibot/xibot/internal/domain"
)

// Tracker 本机 RunningStats 的唯一持有者。
// 执行器在动作完结时更新，报告协程只读快照，锁粒度保持在单次更新。
type Tracker struct {
	mu    sync.Mutex
	stats *domain.RunningStats
}

// NewTracker 创建统计跟踪器
func NewTracker() *Tracker {
	return &Tracker{stats: domain.NewRunningStats()}
}

// Restore 用持久化快照恢复
func (t *Tracker) Restore(s *domain.RunningStats) {
	if s == nil {
		return
	}
	s.Normalize()
	t.mu.Lock()
	t.stats = s
	t.mu.Unlock()
}

// Snapshot 深拷贝当前统计
func (t *Tracker) Snapshot() *domain.RunningStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Clone()
}

// RecordBuy 买入成交：花掉 polIn，得到 xinOut
func (t *Tracker) RecordBuy(polIn, xinOut *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.PolUsed.Add(t.stats.PolUsed, polIn)
	t.stats.XinBought.Add(t.stats.XinBought, xinOut)
	t.stats.SuccessfulTrades++
}

// RecordSell 卖出成交：卖掉 xinIn，换回 polOut
func (t *Tracker) RecordSell(xinIn, polOut *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.XinSold.Add(t.stats.XinSold, xinIn)
	t.stats.PolGained.Add(t.stats.PolGained, polOut)
	t.stats.SuccessfulTrades++
}

// RecordFailure 一次执行失败
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.FailedTrades++
}

// RecordStopLoss 止损触发（在 RecordSell 之外额外计数）
func (t *Tracker) RecordStopLoss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.StopLossCount++
}

// RecordTakeProfit 止盈触发
func (t *Tracker) RecordTakeProfit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TakeProfitCount++
}

// RecordLiquidityAdd 补充流动性一次
func (t *Tracker) RecordLiquidityAdd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LiquidityAdds++
}

// RecordLiquidityPull 撤出流动性一次
func (t *Tracker) RecordLiquidityPull() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LiquidityPulls++
}

// RecordFees 归集手续费（按 POL 计）
func (t *Tracker) RecordFees(pol *big.Int) {
	if pol == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.FeesHarvested.Add(t.stats.FeesHarvested, pol)
}
