package schedule

import (
	"testing"
	"time"

	"github.com/xibot/xibot/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func testIntervals() Intervals {
	return Intervals{
		Pump:          2 * time.Hour,
		Dump:          4 * time.Hour,
		Harvest:       6 * time.Hour,
		GlobalReport:  5 * time.Minute,
		Liquidity:     30 * time.Second,
		Opportunistic: 10 * time.Minute,
	}
}

func TestPumpOwnership(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	bot1 := NewScheduler("bot1", testIntervals(), clk.Now)
	bot2 := NewScheduler("bot2", testIntervals(), clk.Now)

	clk.Advance(3 * time.Hour)

	// 拉升窗口只对 bot1 到期
	if !bot1.PumpDue() {
		t.Fatalf("bot1 pump should be due")
	}
	if bot2.PumpDue() {
		t.Fatalf("bot2 must never see pump due")
	}
	// 抛售窗口 4h 还没到
	if bot2.DumpDue() {
		t.Fatalf("dump not due yet")
	}

	clk.Advance(2 * time.Hour)
	if !bot2.DumpDue() {
		t.Fatalf("bot2 dump should be due at 5h")
	}
	if bot1.DumpDue() {
		t.Fatalf("bot1 must never see dump due")
	}
}

func TestMarkPumpDoneAdvancesMonotonically(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewScheduler("bot1", testIntervals(), clk.Now)

	first := s.State().NextPump

	clk.Advance(2 * time.Hour)
	if !s.PumpDue() {
		t.Fatalf("pump should be due")
	}
	s.MarkPumpDone()

	next := s.State().NextPump
	if !next.After(first) {
		t.Fatalf("deadline must move forward: %v -> %v", first, next)
	}
	if !next.After(clk.Now()) {
		t.Fatalf("deadline must be in the future")
	}
	if s.PumpDue() {
		t.Fatalf("pump should not be due right after advancing")
	}
}

func TestAdvanceSkipsMissedCycles(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewScheduler("bot1", testIntervals(), clk.Now)

	// 停机 7 小时：错过 3 个拉升周期，只补一次并推进到未来
	clk.Advance(7 * time.Hour)
	if !s.PumpDue() {
		t.Fatalf("pump should be due after downtime")
	}
	s.MarkPumpDone()

	next := s.State().NextPump
	if !next.After(clk.Now()) {
		t.Fatalf("missed cycles must collapse into one, next=%v now=%v", next, clk.Now())
	}
	if next.Sub(clk.Now()) > 2*time.Hour {
		t.Fatalf("next deadline too far: %v", next.Sub(clk.Now()))
	}
}

func TestRestoreExpiredDeadline(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler("bot1", testIntervals(), clk.Now)

	// 快照里的截止时间已经过期 10 小时
	s.Restore(domain.ScheduleState{
		NextPump: clk.Now().Add(-10 * time.Hour),
	})

	next := s.State().NextPump
	if !next.After(clk.Now()) {
		t.Fatalf("restored deadline must be advanced past now, got %v", next)
	}
}

func TestRestoreFutureDeadlineKept(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler("bot1", testIntervals(), clk.Now)

	future := clk.Now().Add(90 * time.Minute)
	s.Restore(domain.ScheduleState{NextPump: future})

	if got := s.State().NextPump; !got.Equal(future) {
		t.Fatalf("future deadline should be kept as-is: got=%v want=%v", got, future)
	}
}

func TestRestoreZeroValueIgnored(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler("bot1", testIntervals(), clk.Now)

	before := s.State()
	s.Restore(domain.ScheduleState{})
	after := s.State()

	if !after.NextPump.Equal(before.NextPump) || !after.NextDump.Equal(before.NextDump) {
		t.Fatalf("zero snapshot should not touch deadlines")
	}
}

func TestLiquidityAndOpportunisticTimers(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewScheduler("bot1", testIntervals(), clk.Now)

	if s.LiquidityDue() {
		t.Fatalf("liquidity not due at start")
	}
	clk.Advance(time.Minute)
	if !s.LiquidityDue() {
		t.Fatalf("liquidity due after 1min")
	}
	s.MarkLiquidityDone()
	if s.LiquidityDue() {
		t.Fatalf("liquidity deadline should have advanced")
	}

	if s.OpportunisticDue() {
		t.Fatalf("opportunistic not due after 1min")
	}
	clk.Advance(10 * time.Minute)
	if !s.OpportunisticDue() {
		t.Fatalf("opportunistic due after interval")
	}
}
