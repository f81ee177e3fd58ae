package signal

import (
	"testing"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

func TestRSIUndefinedUntilFullWindow(t *testing.T) {
	tr := NewTracker()

	// 13 个样本：RSI 无定义
	for i := 0; i < 13; i++ {
		tr.Observe(fixedpoint.MustParse("1.0"))
	}
	if _, ok := tr.RSI(); ok {
		t.Fatalf("expected RSI undefined at 13 samples")
	}

	// 第 14 个样本后有定义
	tr.Observe(fixedpoint.MustParse("1.0"))
	rsi, ok := tr.RSI()
	if !ok {
		t.Fatalf("expected RSI defined at 14 samples")
	}
	// 完全无波动 => 50
	if rsi != 50 {
		t.Fatalf("flat window RSI got=%v want=50", rsi)
	}
}

func TestRSIAllGains(t *testing.T) {
	tr := NewTracker()
	// 单调上涨 => 无下跌样本，RSI = 100
	for i := 1; i <= 14; i++ {
		tr.Observe(fixedpoint.FromFloat(float64(i)))
	}
	rsi, ok := tr.RSI()
	if !ok || rsi != 100 {
		t.Fatalf("monotonic rise RSI got=%v ok=%v want=100", rsi, ok)
	}
}

func TestRSIBounded(t *testing.T) {
	tr := NewTracker()
	prices := []float64{1.0, 1.2, 0.9, 1.1, 1.0, 1.3, 1.2, 1.4, 1.1, 1.2, 1.0, 1.3, 1.2, 1.1}
	for _, p := range prices {
		tr.Observe(fixedpoint.FromFloat(p))
	}
	rsi, ok := tr.RSI()
	if !ok {
		t.Fatalf("expected RSI defined")
	}
	if rsi < 0 || rsi > 100 {
		t.Fatalf("RSI out of range: %v", rsi)
	}
}

func TestObserveIgnoresInvalid(t *testing.T) {
	tr := NewTracker()
	tr.Observe(nil)
	tr.Observe(fixedpoint.MustParse("0"))
	if tr.SampleCount() != 0 {
		t.Fatalf("invalid samples should be ignored, count=%d", tr.SampleCount())
	}
}

func TestWindowSlides(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 30; i++ {
		tr.Observe(fixedpoint.MustParse("1.0"))
	}
	if tr.SampleCount() != 14 {
		t.Fatalf("window should cap at 14, got %d", tr.SampleCount())
	}
}

func TestPriceChangePercent(t *testing.T) {
	change, ok := PriceChangePercent(fixedpoint.MustParse("1.0"), fixedpoint.MustParse("1.1"))
	if !ok {
		t.Fatalf("expected defined change")
	}
	if change < 9.99 || change > 10.01 {
		t.Fatalf("change got=%v want≈10", change)
	}

	if _, ok := PriceChangePercent(nil, fixedpoint.MustParse("1.0")); ok {
		t.Fatalf("nil prev should be undefined")
	}
	if _, ok := PriceChangePercent(fixedpoint.MustParse("0"), fixedpoint.MustParse("1.0")); ok {
		t.Fatalf("zero prev should be undefined")
	}
}

func TestClassifyPhaseHysteresis(t *testing.T) {
	// 涨 6% 进入 pump
	phase := ClassifyPhase(6, 5, 5, domain.PhaseNeutral)
	if phase != domain.PhasePump {
		t.Fatalf("got=%s want=pump", phase)
	}
	// 回落到阈值带内：沿用 pump
	phase = ClassifyPhase(1, 5, 5, phase)
	if phase != domain.PhasePump {
		t.Fatalf("hysteresis broken: got=%s want=pump", phase)
	}
	// 跌 6% 切换到 dump
	phase = ClassifyPhase(-6, 5, 5, phase)
	if phase != domain.PhaseDump {
		t.Fatalf("got=%s want=dump", phase)
	}
	// 空的上一阶段按 neutral 处理
	if got := ClassifyPhase(0, 5, 5, ""); got != domain.PhaseNeutral {
		t.Fatalf("empty prev got=%s want=neutral", got)
	}
}
