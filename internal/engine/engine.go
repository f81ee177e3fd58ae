package engine

import (
	"fmt"
	"math/big"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/policy"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

// Input 一次决策需要的全部事实。
// 决策引擎是纯函数：不读时钟、不发网络请求，调度判定和链上快照都由调用方备好。
type Input struct {
	Snapshot domain.BalanceSnapshot

	PumpDue          bool // 拉升窗口到期（已含角色归属判定）
	DumpDue          bool // 抛售窗口到期
	HarvestDue       bool // 手续费归集到期
	LiquidityDue     bool // 流动性巡检到期
	OpportunisticDue bool // 机会性交易间隔已过
	MyTurn           bool // 轮转令牌为空或属于其他机器人

	RSI   float64
	RSIOK bool
	Phase domain.MarketPhase

	NetProfit *big.Int         // 累计净利（polGained - polUsed）
	Position  *domain.Position // 当前持仓成本，可能为 nil
}

// Config 决策阈值
type Config struct {
	StopLossPct   float64  // 止损阈值（%）
	TakeProfitPct float64  // 止盈阈值（%）
	RSIOversold   float64  // 超卖线
	RSIOverbought float64  // 超买线
	PolFloor      *big.Int // POL 安全垫，余额必须严格大于该值才动用
	XinFloor      *big.Int // XIN 安全垫
}

// Engine 决策引擎。
// 每个 tick 最多产出一个交易类动作（先命中先得），
// 手续费归集不占交易槽位，可与交易动作同轮返回。
type Engine struct {
	cfg       Config
	sizer     *policy.Sizer
	liquidity *policy.LiquidityPlanner
}

// New 创建决策引擎
func New(cfg Config, sizer *policy.Sizer, liquidity *policy.LiquidityPlanner) *Engine {
	return &Engine{cfg: cfg, sizer: sizer, liquidity: liquidity}
}

// Decide 产出本轮动作序列。永不返回空切片：没有可做的事时返回单个 hold。
func (e *Engine) Decide(in Input) []domain.Action {
	var actions []domain.Action

	if trade, ok := e.pickTrade(in); ok {
		actions = append(actions, trade)
	}

	if in.HarvestDue {
		actions = append(actions, domain.Action{
			Kind:   domain.ActionHarvestFees,
			Reason: "归集周期到期",
		})
	}

	if len(actions) == 0 {
		actions = append(actions, domain.HoldAction("无触发条件"))
	}
	return actions
}

// pickTrade 交易槽位：按优先级取第一个命中的动作
func (e *Engine) pickTrade(in Input) (domain.Action, bool) {
	// 1. 计划拉升
	if in.PumpDue && e.abovePolFloor(in.Snapshot.Pol) {
		return domain.Action{
			Kind:      domain.ActionSwap,
			Direction: domain.SwapPolToXin,
			Amount:    e.sized(in),
			Reason:    "计划拉升窗口到期",
		}, true
	}

	// 2. 计划抛售
	if in.DumpDue && e.aboveXinFloor(in.Snapshot.Xin) {
		return domain.Action{
			Kind:      domain.ActionSwap,
			Direction: domain.SwapXinToPol,
			Amount:    e.sized(in),
			Reason:    "计划抛售窗口到期",
		}, true
	}

	// 3/4. 止损、止盈：清空全部 XIN 持仓
	if pnl, ok := in.Position.PnLPercent(in.Snapshot.XinPrice); ok {
		if pnl <= -e.cfg.StopLossPct && e.aboveXinFloor(in.Snapshot.Xin) {
			return domain.Action{
				Kind:      domain.ActionStopLoss,
				Direction: domain.SwapXinToPol,
				Amount:    new(big.Int).Set(in.Snapshot.Xin),
				Reason:    fmt.Sprintf("浮亏 %.2f%% 触发止损", pnl),
			}, true
		}
		if pnl >= e.cfg.TakeProfitPct && e.aboveXinFloor(in.Snapshot.Xin) {
			return domain.Action{
				Kind:      domain.ActionTakeProfit,
				Direction: domain.SwapXinToPol,
				Amount:    new(big.Int).Set(in.Snapshot.Xin),
				Reason:    fmt.Sprintf("浮盈 %.2f%% 触发止盈", pnl),
			}, true
		}
	}

	// 5. 机会性交易：轮到我、间隔已过且信号明确
	if in.MyTurn && in.OpportunisticDue && in.RSIOK {
		if (in.RSI < e.cfg.RSIOversold || in.Phase == domain.PhaseDump) && e.abovePolFloor(in.Snapshot.Pol) {
			return domain.Action{
				Kind:      domain.ActionSwap,
				Direction: domain.SwapPolToXin,
				Amount:    e.sized(in),
				Reason:    fmt.Sprintf("超卖买入 (RSI %.1f, phase %s)", in.RSI, in.Phase),
			}, true
		}
		if (in.RSI > e.cfg.RSIOverbought || in.Phase == domain.PhasePump) && e.aboveXinFloor(in.Snapshot.Xin) {
			return domain.Action{
				Kind:      domain.ActionSwap,
				Direction: domain.SwapXinToPol,
				Amount:    e.sized(in),
				Reason:    fmt.Sprintf("超买卖出 (RSI %.1f, phase %s)", in.RSI, in.Phase),
			}, true
		}
	}

	// 6. 流动性维护
	if in.LiquidityDue && e.liquidity != nil {
		if action, ok := e.liquidity.Plan(in.Snapshot); ok {
			return action, true
		}
	}

	return domain.Action{}, false
}

func (e *Engine) sized(in Input) *big.Int {
	return e.sizer.NextSwapAmount(fixedpoint.ToFloat(in.NetProfit), in.RSI, in.RSIOK)
}

// abovePolFloor 安全垫判定是严格大于
func (e *Engine) abovePolFloor(balance *big.Int) bool {
	if balance == nil {
		return false
	}
	floor := e.cfg.PolFloor
	if floor == nil {
		floor = big.NewInt(0)
	}
	return balance.Cmp(floor) > 0
}

func (e *Engine) aboveXinFloor(balance *big.Int) bool {
	if balance == nil {
		return false
	}
	floor := e.cfg.XinFloor
	if floor == nil {
		floor = big.NewInt(0)
	}
	return balance.Cmp(floor) > 0
}
