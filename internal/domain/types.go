package domain

import (
	"math/big"
	"time"
)

// SwapDirection 成交方向
type SwapDirection string

const (
	// SwapPolToXin 用 POL 买入 XIN（拉升）
	SwapPolToXin SwapDirection = "pol_to_xin"
	// SwapXinToPol 卖出 XIN 换回 POL（抛售）
	SwapXinToPol SwapDirection = "xin_to_pol"
)

// Opposite 返回相反方向
func (d SwapDirection) Opposite() SwapDirection {
	if d == SwapPolToXin {
		return SwapXinToPol
	}
	return SwapPolToXin
}

// ActionKind 决策动作类型
type ActionKind string

const (
	ActionHold          ActionKind = "hold"           // 本轮不动
	ActionSwap          ActionKind = "swap"           // 常规换仓
	ActionStopLoss      ActionKind = "stop_loss"      // 止损卖出
	ActionTakeProfit    ActionKind = "take_profit"    // 止盈卖出
	ActionAddLiquidity  ActionKind = "add_liquidity"  // 补充流动性
	ActionPullLiquidity ActionKind = "pull_liquidity" // 撤出流动性
	ActionHarvestFees   ActionKind = "harvest_fees"   // 归集手续费
)

// Action 决策引擎输出的一个动作。
// Kind 为 swap/stop_loss/take_profit 时 Direction/Amount 有效；
// add_liquidity 时 AmountPol/AmountXin 有效；pull_liquidity 时 BurnPct 有效。
type Action struct {
	Kind      ActionKind
	Direction SwapDirection
	Amount    *big.Int // 输入侧金额（18 位定点）
	AmountPol *big.Int
	AmountXin *big.Int
	BurnPct   int64
	Reason    string // 人类可读的触发原因，进日志和通知
}

// HoldAction 构造一个 hold 动作
func HoldAction(reason string) Action {
	return Action{Kind: ActionHold, Reason: reason}
}

// IsTrade swap 类动作（与流动性动作互斥判定用）
func (a Action) IsTrade() bool {
	switch a.Kind {
	case ActionSwap, ActionStopLoss, ActionTakeProfit:
		return true
	}
	return false
}

// BalanceSnapshot 一次 tick 开始时的账户与池子快照
type BalanceSnapshot struct {
	Pol               *big.Int // 钱包 POL 余额
	Xin               *big.Int // 钱包 XIN 余额
	PoolPol           *big.Int // 池内 POL 余额
	PoolXin           *big.Int // 池内 XIN 余额
	PositionLiquidity *big.Int // 自有头寸的流动性，没有头寸时为零，读取失败时为 nil
	XinPrice          *big.Int // 1 XIN 对应的 POL 报价（18 位定点），报价失败时为 nil
	Timestamp         time.Time
}

// MarketPhase 市场阶段分类（按窗口涨跌幅判定）
type MarketPhase string

const (
	PhaseNeutral MarketPhase = "neutral"
	PhasePump    MarketPhase = "pump" // 窗口涨幅超过拉升阈值
	PhaseDump    MarketPhase = "dump" // 窗口跌幅超过抛售阈值
)

// RunningStats 累计运行统计，定期上报到协调库并用于动态金额
type RunningStats struct {
	PolUsed          *big.Int `json:"polUsed"`    // 买入 XIN 花掉的 POL 总量
	PolGained        *big.Int `json:"polGained"`  // 卖出 XIN 换回的 POL 总量
	XinBought        *big.Int `json:"xinBought"`  // 买入的 XIN 总量
	XinSold          *big.Int `json:"xinSold"`    // 卖出的 XIN 总量
	SuccessfulTrades int64    `json:"successfulTrades"`
	FailedTrades     int64    `json:"failedTrades"`
	StopLossCount    int64    `json:"stopLossCount"`
	TakeProfitCount  int64    `json:"takeProfitCount"`
	LiquidityAdds    int64    `json:"liquidityAdds"`
	LiquidityPulls   int64    `json:"liquidityPulls"`
	FeesHarvested    *big.Int `json:"feesHarvested"`
}

// NewRunningStats 创建零值统计
func NewRunningStats() *RunningStats {
	return &RunningStats{
		PolUsed:       big.NewInt(0),
		PolGained:     big.NewInt(0),
		XinBought:     big.NewInt(0),
		XinSold:       big.NewInt(0),
		FeesHarvested: big.NewInt(0),
	}
}

// Normalize 补齐反序列化后可能为 nil 的金额字段
func (s *RunningStats) Normalize() {
	if s.PolUsed == nil {
		s.PolUsed = big.NewInt(0)
	}
	if s.PolGained == nil {
		s.PolGained = big.NewInt(0)
	}
	if s.XinBought == nil {
		s.XinBought = big.NewInt(0)
	}
	if s.XinSold == nil {
		s.XinSold = big.NewInt(0)
	}
	if s.FeesHarvested == nil {
		s.FeesHarvested = big.NewInt(0)
	}
}

// NetProfit polGained - polUsed，可能为负
func (s *RunningStats) NetProfit() *big.Int {
	return new(big.Int).Sub(s.PolGained, s.PolUsed)
}

// Clone 深拷贝，周期报告计算增量用
func (s *RunningStats) Clone() *RunningStats {
	c := &RunningStats{
		PolUsed:          new(big.Int).Set(s.PolUsed),
		PolGained:        new(big.Int).Set(s.PolGained),
		XinBought:        new(big.Int).Set(s.XinBought),
		XinSold:          new(big.Int).Set(s.XinSold),
		SuccessfulTrades: s.SuccessfulTrades,
		FailedTrades:     s.FailedTrades,
		StopLossCount:    s.StopLossCount,
		TakeProfitCount:  s.TakeProfitCount,
		LiquidityAdds:    s.LiquidityAdds,
		LiquidityPulls:   s.LiquidityPulls,
		FeesHarvested:    new(big.Int).Set(s.FeesHarvested),
	}
	return c
}

// Position 当前 XIN 持仓成本信息，用于止损/止盈判定
type Position struct {
	EntryPrice *big.Int  `json:"entryPrice"` // 买入时的加权成本价（POL/XIN，18 位定点）
	Amount     *big.Int  `json:"amount"`     // 持仓数量
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasEntry 是否有有效的成本价
func (p *Position) HasEntry() bool {
	return p != nil && p.EntryPrice != nil && p.EntryPrice.Sign() > 0 &&
		p.Amount != nil && p.Amount.Sign() > 0
}

// PnLPercent 按当前价计算持仓浮动盈亏（%）。没有成本价时返回 0, false。
func (p *Position) PnLPercent(currentPrice *big.Int) (float64, bool) {
	if !p.HasEntry() || currentPrice == nil || currentPrice.Sign() <= 0 {
		return 0, false
	}
	diff := new(big.Int).Sub(currentPrice, p.EntryPrice)
	diff.Mul(diff, big.NewInt(10000))
	diff.Div(diff, p.EntryPrice)
	return float64(diff.Int64()) / 100, true
}

// TradeRecord 一笔已完成（或失败）的交易记录
type TradeRecord struct {
	ID        string        `json:"id"`
	BotID     string        `json:"botId"`
	Direction SwapDirection `json:"direction"`
	Kind      ActionKind    `json:"kind"`
	AmountIn  *big.Int      `json:"amountIn"`
	AmountOut *big.Int      `json:"amountOut"`
	MinOut    *big.Int      `json:"minOut"`
	TxHash    string        `json:"txHash"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ScheduleState 调度截止时间状态（持久化，重启后恢复）
type ScheduleState struct {
	NextPump    time.Time `json:"nextPump"`    // 下一次拉升窗口
	NextDump    time.Time `json:"nextDump"`    // 下一次抛售窗口
	NextReport  time.Time `json:"nextReport"`  // 下一次全局报告
	NextHarvest time.Time `json:"nextHarvest"` // 下一次手续费归集
}
