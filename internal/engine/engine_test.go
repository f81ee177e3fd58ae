package engine

import (
	"testing"
	"time"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/policy"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

func newTestEngine() *Engine {
	sizer := policy.NewSizer(0.5, 1.5,
		fixedpoint.MustParse("0.15"), fixedpoint.MustParse("2"),
		40, 60, nil)
	planner := policy.NewLiquidityPlanner(
		fixedpoint.MustParse("20"), fixedpoint.MustParse("250"),
		fixedpoint.MustParse("10"), fixedpoint.MustParse("10"),
		10)
	return New(Config{
		StopLossPct:   20,
		TakeProfitPct: 50,
		RSIOversold:   40,
		RSIOverbought: 60,
		PolFloor:      fixedpoint.MustParse("10"),
		XinFloor:      fixedpoint.MustParse("0"),
	}, sizer, planner)
}

func baseInput() Input {
	return Input{
		Snapshot: domain.BalanceSnapshot{
			Pol:               fixedpoint.MustParse("100"),
			Xin:               fixedpoint.MustParse("100"),
			PoolPol:           fixedpoint.MustParse("100"),
			PoolXin:           fixedpoint.MustParse("100"),
			PositionLiquidity: fixedpoint.MustParse("100"),
			XinPrice:          fixedpoint.MustParse("1"),
		},
		NetProfit: fixedpoint.MustParse("0"),
		Phase:     domain.PhaseNeutral,
	}
}

func position(entry string) *domain.Position {
	return &domain.Position{
		EntryPrice: fixedpoint.MustParse(entry),
		Amount:     fixedpoint.MustParse("50"),
		UpdatedAt:  time.Now(),
	}
}

func TestDecide_HoldWhenNothingDue(t *testing.T) {
	e := newTestEngine()
	actions := e.Decide(baseInput())
	if len(actions) != 1 || actions[0].Kind != domain.ActionHold {
		t.Fatalf("expected single hold, got %+v", actions)
	}
}

func TestDecide_PumpBeatsStopLoss(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.PumpDue = true
	// 同时满足止损条件（成本 2，现价 1 => -50%）
	in.Position = position("2")

	actions := e.Decide(in)
	if len(actions) != 1 {
		t.Fatalf("expected single action, got %d", len(actions))
	}
	if actions[0].Kind != domain.ActionSwap || actions[0].Direction != domain.SwapPolToXin {
		t.Fatalf("pump should win the trade slot, got %+v", actions[0])
	}
}

func TestDecide_PumpBlockedByPolFloor(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.PumpDue = true
	// 余额正好等于安全垫：严格大于才放行
	in.Snapshot.Pol = fixedpoint.MustParse("10")

	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionHold {
		t.Fatalf("pol floor should block pump, got %+v", actions[0])
	}
}

func TestDecide_DumpSellsXin(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.DumpDue = true

	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionSwap || actions[0].Direction != domain.SwapXinToPol {
		t.Fatalf("expected xin->pol swap, got %+v", actions[0])
	}
}

func TestDecide_StopLossLiquidatesAll(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	// 成本 1.5，现价 1 => -33%，越过 -20% 止损线
	in.Position = position("1.5")

	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionStopLoss {
		t.Fatalf("expected stop_loss, got %+v", actions[0])
	}
	// 清空全部 XIN，而不是动态仓位
	if actions[0].Amount.Cmp(in.Snapshot.Xin) != 0 {
		t.Fatalf("stop loss should liquidate full balance, got=%s", fixedpoint.Format(actions[0].Amount))
	}
	if actions[0].Direction != domain.SwapXinToPol {
		t.Fatalf("stop loss direction got=%s", actions[0].Direction)
	}
}

func TestDecide_TakeProfit(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	// 成本 0.5，现价 1 => +100%，越过 +50% 止盈线
	in.Position = position("0.5")

	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionTakeProfit {
		t.Fatalf("expected take_profit, got %+v", actions[0])
	}
	if actions[0].Amount.Cmp(in.Snapshot.Xin) != 0 {
		t.Fatalf("take profit should liquidate full balance")
	}
}

func TestDecide_NoStopLossWithoutEntry(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.Position = &domain.Position{} // 没有成本价
	// 价格任意，不该触发止损/止盈
	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionHold {
		t.Fatalf("no entry should mean no stop/take, got %+v", actions[0])
	}
}

func TestDecide_OpportunisticRequiresTurnAndSignal(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.OpportunisticDue = true
	in.RSI = 30
	in.RSIOK = true

	// 不是我的轮次：不动
	in.MyTurn = false
	if actions := e.Decide(in); actions[0].Kind != domain.ActionHold {
		t.Fatalf("not my turn should hold, got %+v", actions[0])
	}

	// 我的轮次 + 超卖 => 买入
	in.MyTurn = true
	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionSwap || actions[0].Direction != domain.SwapPolToXin {
		t.Fatalf("oversold should buy, got %+v", actions[0])
	}

	// RSI 无定义时机会性交易不触发
	in.RSIOK = false
	if actions := e.Decide(in); actions[0].Kind != domain.ActionHold {
		t.Fatalf("undefined RSI should hold, got %+v", actions[0])
	}
}

func TestDecide_OpportunisticSellOnPumpPhase(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.OpportunisticDue = true
	in.MyTurn = true
	in.RSI = 50
	in.RSIOK = true
	in.Phase = domain.PhasePump

	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionSwap || actions[0].Direction != domain.SwapXinToPol {
		t.Fatalf("pump phase should sell, got %+v", actions[0])
	}
}

func TestDecide_LiquidityMaintenance(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.LiquidityDue = true
	in.Snapshot.PositionLiquidity = fixedpoint.MustParse("15")

	actions := e.Decide(in)
	if actions[0].Kind != domain.ActionAddLiquidity {
		t.Fatalf("expected add_liquidity, got %+v", actions[0])
	}
}

func TestDecide_HarvestDoesNotBlockTrade(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.PumpDue = true
	in.HarvestDue = true

	actions := e.Decide(in)
	if len(actions) != 2 {
		t.Fatalf("expected trade + harvest, got %d actions", len(actions))
	}
	if actions[0].Kind != domain.ActionSwap || actions[1].Kind != domain.ActionHarvestFees {
		t.Fatalf("got %+v", actions)
	}
}

func TestDecide_HarvestAlone(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	in.HarvestDue = true

	actions := e.Decide(in)
	if len(actions) != 1 || actions[0].Kind != domain.ActionHarvestFees {
		t.Fatalf("expected single harvest, got %+v", actions)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	// 相同输入重复决策必须得到相同动作序列
	e := newTestEngine()
	in := baseInput()
	in.DumpDue = true
	in.HarvestDue = true

	first := e.Decide(in)
	for i := 0; i < 10; i++ {
		again := e.Decide(in)
		if len(again) != len(first) {
			t.Fatalf("action count changed: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j].Kind != first[j].Kind || again[j].Direction != first[j].Direction {
				t.Fatalf("decision not deterministic at %d: %+v vs %+v", j, again[j], first[j])
			}
			if again[j].Amount != nil && again[j].Amount.Cmp(first[j].Amount) != 0 {
				t.Fatalf("amount not deterministic: %s vs %s",
					fixedpoint.Format(again[j].Amount), fixedpoint.Format(first[j].Amount))
			}
		}
	}
}
