package schedule

import (
	"sync"
	"time"

	"github.com/xibot/xibot/internal/domain"
)

// 角色划分：bot1 负责拉升窗口，bot2 负责抛售窗口。
// 两个机器人各自只推进自己拥有的窗口，互相通过协调库上的轮转令牌避让。
const (
	RolePump = "bot1"
	RoleDump = "bot2"
)

// Clock 可注入时钟，测试用
type Clock func() time.Time

// Scheduler 周期窗口调度器。
// 窗口截止时间只会单调前移：错过多个周期时一次性推进到未来，
// 不会为补偿而连续触发。
type Scheduler struct {
	mu    sync.Mutex
	botID string
	clock Clock

	pumpInterval       time.Duration
	dumpInterval       time.Duration
	harvestInterval    time.Duration
	reportInterval     time.Duration
	liquidityEvery     time.Duration
	opportunisticEvery time.Duration

	state             domain.ScheduleState
	nextLiquidity     time.Time
	nextOpportunistic time.Time
}

// Intervals 各窗口周期
type Intervals struct {
	Pump          time.Duration // 拉升，默认 2h
	Dump          time.Duration // 抛售，默认 4h
	Harvest       time.Duration // 手续费归集，默认 6h
	GlobalReport  time.Duration // 全局统计报告，默认 5min
	Liquidity     time.Duration // 流动性巡检，默认 30s
	Opportunistic time.Duration // 机会性交易最小间隔，默认 10min
}

// NewScheduler 创建调度器并把所有窗口初始化为 now+interval
func NewScheduler(botID string, iv Intervals, clock Clock) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return &Scheduler{
		botID:              botID,
		clock:              clock,
		pumpInterval:       iv.Pump,
		dumpInterval:       iv.Dump,
		harvestInterval:    iv.Harvest,
		reportInterval:     iv.GlobalReport,
		liquidityEvery:     iv.Liquidity,
		opportunisticEvery: iv.Opportunistic,
		state: domain.ScheduleState{
			NextPump:    now.Add(iv.Pump),
			NextDump:    now.Add(iv.Dump),
			NextHarvest: now.Add(iv.Harvest),
			NextReport:  now.Add(iv.GlobalReport),
		},
		nextLiquidity:     now.Add(iv.Liquidity),
		nextOpportunistic: now.Add(iv.Opportunistic),
	}
}

// Restore 用持久化快照恢复截止时间。
// 已过期的截止时间推进到未来最近的一个周期点，保持单调。
func (s *Scheduler) Restore(state domain.ScheduleState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if !state.NextPump.IsZero() {
		s.state.NextPump = advance(state.NextPump, s.pumpInterval, now)
	}
	if !state.NextDump.IsZero() {
		s.state.NextDump = advance(state.NextDump, s.dumpInterval, now)
	}
	if !state.NextHarvest.IsZero() {
		s.state.NextHarvest = advance(state.NextHarvest, s.harvestInterval, now)
	}
	if !state.NextReport.IsZero() {
		s.state.NextReport = advance(state.NextReport, s.reportInterval, now)
	}
}

// State 当前截止时间快照，持久化用
func (s *Scheduler) State() domain.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OwnsPump 本机是否拥有拉升窗口
func (s *Scheduler) OwnsPump() bool { return s.botID == RolePump }

// OwnsDump 本机是否拥有抛售窗口
func (s *Scheduler) OwnsDump() bool { return s.botID == RoleDump }

// PumpDue 拉升窗口是否到期（仅对拥有者有意义）
func (s *Scheduler) PumpDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OwnsPump() && !s.clock().Before(s.state.NextPump)
}

// DumpDue 抛售窗口是否到期
func (s *Scheduler) DumpDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OwnsDump() && !s.clock().Before(s.state.NextDump)
}

// HarvestDue 手续费归集是否到期
func (s *Scheduler) HarvestDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clock().Before(s.state.NextHarvest)
}

// ReportDue 全局报告是否到期
func (s *Scheduler) ReportDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clock().Before(s.state.NextReport)
}

// MarkPumpDone 拉升完成，推进下一个窗口
func (s *Scheduler) MarkPumpDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.NextPump = advance(s.state.NextPump, s.pumpInterval, s.clock())
}

// MarkDumpDone 抛售完成，推进下一个窗口
func (s *Scheduler) MarkDumpDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.NextDump = advance(s.state.NextDump, s.dumpInterval, s.clock())
}

// MarkHarvestDone 归集完成
func (s *Scheduler) MarkHarvestDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.NextHarvest = advance(s.state.NextHarvest, s.harvestInterval, s.clock())
}

// MarkReportDone 报告完成
func (s *Scheduler) MarkReportDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.NextReport = advance(s.state.NextReport, s.reportInterval, s.clock())
}

// LiquidityDue 流动性巡检是否到期
func (s *Scheduler) LiquidityDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clock().Before(s.nextLiquidity)
}

// MarkLiquidityDone 巡检完成
func (s *Scheduler) MarkLiquidityDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLiquidity = advance(s.nextLiquidity, s.liquidityEvery, s.clock())
}

// OpportunisticDue 距上次机会性交易是否已超过最小间隔
func (s *Scheduler) OpportunisticDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clock().Before(s.nextOpportunistic)
}

// MarkOpportunisticDone 机会性交易完成
func (s *Scheduler) MarkOpportunisticDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOpportunistic = advance(s.nextOpportunistic, s.opportunisticEvery, s.clock())
}

// advance 把截止时间推进到 now 之后最近的周期点
func advance(deadline time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return deadline
	}
	for !deadline.After(now) {
		deadline = deadline.Add(interval)
	}
	return deadline
}
