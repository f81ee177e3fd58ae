package stats

import (
	"testing"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

func TestBuySellAccounting(t *testing.T) {
	tr := NewTracker()

	tr.RecordBuy(fixedpoint.MustParse("10"), fixedpoint.MustParse("9"))
	tr.RecordSell(fixedpoint.MustParse("9"), fixedpoint.MustParse("12"))

	s := tr.Snapshot()
	if s.SuccessfulTrades != 2 {
		t.Fatalf("trades got=%d want=2", s.SuccessfulTrades)
	}
	if s.NetProfit().Cmp(fixedpoint.MustParse("2")) != 0 {
		t.Fatalf("net profit got=%s want=2", fixedpoint.Format(s.NetProfit()))
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	tr := NewTracker()
	tr.RecordBuy(fixedpoint.MustParse("1"), fixedpoint.MustParse("1"))

	snap := tr.Snapshot()
	snap.PolUsed.SetInt64(0)

	if tr.Snapshot().PolUsed.Cmp(fixedpoint.MustParse("1")) != 0 {
		t.Fatalf("snapshot must not share backing with tracker")
	}
}

func TestRestoreNormalizes(t *testing.T) {
	tr := NewTracker()
	// 反序列化可能带 nil 金额字段
	tr.Restore(&domain.RunningStats{SuccessfulTrades: 5})

	s := tr.Snapshot()
	if s.SuccessfulTrades != 5 {
		t.Fatalf("restore lost counters")
	}
	if s.PolUsed == nil || s.NetProfit().Sign() != 0 {
		t.Fatalf("restore must normalize nil amounts")
	}

	// 恢复后还能继续累计
	tr.RecordFees(fixedpoint.MustParse("0.5"))
	if tr.Snapshot().FeesHarvested.Cmp(fixedpoint.MustParse("0.5")) != 0 {
		t.Fatalf("accumulation after restore broken")
	}
}

func TestRestoreNilIgnored(t *testing.T) {
	tr := NewTracker()
	tr.RecordFailure()
	tr.Restore(nil)
	if tr.Snapshot().FailedTrades != 1 {
		t.Fatalf("nil restore must not reset stats")
	}
}

func TestCounters(t *testing.T) {
	tr := NewTracker()
	tr.RecordStopLoss()
	tr.RecordTakeProfit()
	tr.RecordLiquidityAdd()
	tr.RecordLiquidityPull()
	tr.RecordFailure()
	tr.RecordFees(nil) // nil 不计

	s := tr.Snapshot()
	if s.StopLossCount != 1 || s.TakeProfitCount != 1 || s.LiquidityAdds != 1 ||
		s.LiquidityPulls != 1 || s.FailedTrades != 1 {
		t.Fatalf("counters mismatch: %+v", s)
	}
	if s.FeesHarvested.Sign() != 0 {
		t.Fatalf("nil fees must not count")
	}
}
