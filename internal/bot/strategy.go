package bot

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/xibot/xibot/internal/coordination"
	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/engine"
	"github.com/xibot/xibot/internal/executor"
	"github.com/xibot/xibot/internal/history"
	"github.com/xibot/xibot/internal/ledger"
	"github.com/xibot/xibot/internal/metrics"
	"github.com/xibot/xibot/internal/notify"
	"github.com/xibot/xibot/internal/policy"
	"github.com/xibot/xibot/internal/risk"
	"github.com/xibot/xibot/internal/schedule"
	"github.com/xibot/xibot/internal/signal"
	"github.com/xibot/xibot/internal/stats"
	"github.com/xibot/xibot/internal/watchdog"
	"github.com/xibot/xibot/pkg/cache"
	"github.com/xibot/xibot/pkg/config"
	"github.com/xibot/xibot/pkg/fixedpoint"
	"github.com/xibot/xibot/pkg/logger"
	"github.com/xibot/xibot/pkg/persistence"
)

// ID 策略标识
const ID = "xibot"

const stateTag = "state"

// persistedState 本地持久化快照，重启后恢复
type persistedState struct {
	Stats      *domain.RunningStats `json:"stats"`
	Position   *domain.Position     `json:"position"`
	Schedule   domain.ScheduleState `json:"schedule"`
	PositionID string               `json:"positionId,omitempty"`
}

// Strategy 做市机器人主策略。
// 单线程 tick 循环：快照 → 信号 → 决策 → 执行 → 记账，
// 网络调用都是挂起点，同一实例不会有两个账本调用并发进行。
type Strategy struct {
	cfg *config.Config

	client    ledger.Client
	board     *coordination.Board
	scheduler *schedule.Scheduler
	tracker   *stats.Tracker
	reporter  *stats.Reporter
	exec      *executor.Executor
	decider   *engine.Engine
	signals   *signal.Tracker
	quotes    *cache.QuoteCache
	notifier  notify.Notifier
	breaker   *risk.CircuitBreaker
	dog       *watchdog.Watchdog
	store     persistence.Store

	mu        sync.Mutex
	phase     domain.MarketPhase
	lastPrice *big.Int
	errStreak int
}

// Deps 外部装配好的依赖
type Deps struct {
	Client   ledger.Client
	Board    *coordination.Board
	Repo     *history.Repo
	Notifier notify.Notifier
	Persist  persistence.Service
	Watchdog *watchdog.Watchdog
}

// New 装配策略
func New(cfg *config.Config, deps Deps) (*Strategy, error) {
	minSwapPol := fixedpoint.MustParse(cfg.Trading.MinSwapPol)
	minSwapXin := fixedpoint.MustParse(cfg.Trading.MinSwapXin)
	floorAmount := fixedpoint.MustParse(cfg.Trading.MinAmountFloor)
	capAmount := fixedpoint.MustParse(cfg.Trading.MaxAmountCap)
	polFloor := fixedpoint.MustParse(cfg.Trading.PolFloor)
	xinFloor := fixedpoint.MustParse(cfg.Trading.XinFloor)

	sizer := policy.NewSizer(
		cfg.Trading.RandBaseMin, cfg.Trading.RandBaseMax,
		floorAmount, capAmount,
		cfg.Trading.RSIOversold, cfg.Trading.RSIOverbought,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)
	planner := policy.NewLiquidityPlanner(
		fixedpoint.MustParse(cfg.Liquidity.MinPolInPool),
		fixedpoint.MustParse(cfg.Liquidity.MaxPolInPool),
		fixedpoint.MustParse(cfg.Liquidity.MintPolStep),
		fixedpoint.MustParse(cfg.Liquidity.MintXinStep),
		cfg.Liquidity.BurnPct,
	)
	decider := engine.New(engine.Config{
		StopLossPct:   cfg.Trading.StopLossPct,
		TakeProfitPct: cfg.Trading.TakeProfitPct,
		RSIOversold:   cfg.Trading.RSIOversold,
		RSIOverbought: cfg.Trading.RSIOverbought,
		PolFloor:      polFloor,
		XinFloor:      xinFloor,
	}, sizer, planner)

	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: int64(cfg.Risk.MaxConsecutiveErrors),
		DailyLossLimitMilli:  dailyLossMilli(cfg.Risk.MaxDailyLossPol),
		Cooldown:             time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
	})

	tracker := stats.NewTracker()
	exec := executor.New(executor.Config{
		BotID:            cfg.BotID,
		PolAddress:       addr(cfg.Chain.PolAddress),
		XinAddress:       addr(cfg.Chain.XinAddress),
		RouterAddress:    addr(cfg.Chain.RouterAddress),
		PositionManager:  addr(cfg.Chain.PositionManager),
		PoolFee:          cfg.Chain.PoolFee,
		SlippageBps:      cfg.Trading.SlippageBps,
		DeadlineSeconds:  cfg.Trading.DeadlineSeconds,
		MinSwapPol:       minSwapPol,
		MinSwapXin:       minSwapXin,
		ApproveThreshold: fixedpoint.MustParse(cfg.Trading.ApproveThreshold),
	}, deps.Client, tracker, deps.Repo, deps.Board, deps.Notifier, breaker)

	scheduler := schedule.NewScheduler(cfg.BotID, schedule.Intervals{
		Pump:          time.Duration(cfg.Schedule.PumpIntervalHours) * time.Hour,
		Dump:          time.Duration(cfg.Schedule.DumpIntervalHours) * time.Hour,
		Harvest:       time.Duration(cfg.Schedule.HarvestIntervalMinutes) * time.Minute,
		GlobalReport:  time.Duration(cfg.Schedule.GlobalReportMinutes) * time.Minute,
		Liquidity:     time.Duration(cfg.Schedule.LiquidityCheckSeconds) * time.Second,
		Opportunistic: time.Duration(cfg.Schedule.OpportunisticMinutes) * time.Minute,
	}, nil)

	s := &Strategy{
		cfg:       cfg,
		client:    deps.Client,
		board:     deps.Board,
		scheduler: scheduler,
		tracker:   tracker,
		exec:      exec,
		decider:   decider,
		signals:   signal.NewTracker(),
		quotes:    cache.NewQuoteCache(5 * time.Minute),
		notifier:  deps.Notifier,
		breaker:   breaker,
		dog:       deps.Watchdog,
		phase:     domain.PhaseNeutral,
	}
	s.reporter = stats.NewReporter(cfg.BotID, tracker, deps.Board, deps.Notifier, s.walletBalances)
	if deps.Persist != nil {
		s.store = deps.Persist.NewStore(cfg.BotID, stateTag)
	}
	return s, nil
}

// ID 策略名
func (s *Strategy) ID() string { return ID }

// Validate 校验装配结果
func (s *Strategy) Validate() error {
	if s.client == nil {
		return fmt.Errorf("账本客户端不能为空")
	}
	if s.board == nil {
		return fmt.Errorf("协调库不能为空")
	}
	return nil
}

// Run 主循环，阻塞直到 ctx 取消
func (s *Strategy) Run(ctx context.Context) error {
	s.restoreState()

	go s.reporter.Run(ctx)

	logger.Infof("🤖 [%s] 启动，tick 间隔 %s，仿真=%v", s.cfg.BotID, s.cfg.TickDuration(), s.cfg.Simulation)
	s.notifier.Send(fmt.Sprintf("🤖 [%s] 已启动", s.cfg.BotID))

	ticker := time.NewTicker(s.cfg.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// safeTick tick 级监督：捕获 panic，失败做有界退避，循环永不中断
func (s *Strategy) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("💥 tick panic: %v", r)
			s.backoff(ctx)
		}
	}()

	if err := s.tick(ctx); err != nil {
		s.mu.Lock()
		s.errStreak++
		streak := s.errStreak
		s.mu.Unlock()
		logger.Errorf("tick 失败（连续 %d 次）: %v", streak, err)
		s.backoff(ctx)
		return
	}

	s.mu.Lock()
	s.errStreak = 0
	s.mu.Unlock()
}

// backoff 有界退避：5s × 连续失败次数，封顶 60s
func (s *Strategy) backoff(ctx context.Context) {
	s.mu.Lock()
	streak := s.errStreak
	s.mu.Unlock()
	delay := time.Duration(streak) * 5 * time.Second
	if delay < 5*time.Second {
		delay = 5 * time.Second
	}
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// tick 单次循环：快照 → 信号 → 决策 → 执行 → 记账
func (s *Strategy) tick(ctx context.Context) error {
	metrics.Ticks.Add(1)
	metrics.LastTickUnixMS.Set(time.Now().UnixMilli())

	// 协调库上的共享状态：轮转令牌
	lastBot, err := s.board.LastBot(ctx)
	if err != nil {
		logger.Warnf("读取轮转令牌失败，本轮按非我方轮次处理: %v", err)
		lastBot = s.cfg.BotID
	}
	myTurn := lastBot == "" || lastBot != s.cfg.BotID

	snapshot, err := s.takeSnapshot(ctx)
	if err != nil {
		return err
	}

	// 信号
	rsi, rsiOK := s.signals.RSI()
	s.mu.Lock()
	prevPrice := s.lastPrice
	prevPhase := s.phase
	s.mu.Unlock()

	phase := prevPhase
	if change, ok := signal.PriceChangePercent(prevPrice, snapshot.XinPrice); ok {
		phase = signal.ClassifyPhase(change, s.cfg.Trading.PumpThresholdPct, s.cfg.Trading.DumpThresholdPct, prevPhase)
	}

	liquidityDue := s.scheduler.LiquidityDue()
	input := engine.Input{
		Snapshot:         snapshot,
		PumpDue:          s.scheduler.PumpDue(),
		DumpDue:          s.scheduler.DumpDue(),
		HarvestDue:       s.scheduler.HarvestDue(),
		LiquidityDue:     liquidityDue,
		OpportunisticDue: s.scheduler.OpportunisticDue(),
		MyTurn:           myTurn,
		RSI:              rsi,
		RSIOK:            rsiOK,
		Phase:            phase,
		NetProfit:        s.tracker.Snapshot().NetProfit(),
		Position:         s.exec.Position(),
	}

	actions := s.decider.Decide(input)
	for _, action := range actions {
		s.dispatch(ctx, input, action)
	}
	if liquidityDue {
		s.scheduler.MarkLiquidityDone()
	}

	// 全局报告
	if s.scheduler.ReportDue() {
		if err := s.reporter.Global(ctx); err != nil {
			logger.Warnf("全局报告失败: %v", err)
		}
		s.scheduler.MarkReportDone()
	}

	// 发布本机统计 + 共享阶段
	if err := s.board.PublishStats(ctx, s.tracker.Snapshot()); err != nil {
		logger.Warnf("发布统计失败: %v", err)
	}
	s.publishStrategyState(ctx, phase)

	s.mu.Lock()
	s.phase = phase
	if snapshot.XinPrice != nil {
		s.lastPrice = snapshot.XinPrice
	}
	s.mu.Unlock()

	s.saveState()
	return nil
}

// dispatch 执行单个动作并处理调度推进与轮转令牌
func (s *Strategy) dispatch(ctx context.Context, input engine.Input, action domain.Action) {
	if action.Kind == domain.ActionHold {
		logger.Debugf("[%s] hold: %s", s.cfg.BotID, action.Reason)
		return
	}

	logger.Infof("⚙️ [%s] 执行 %s: %s", s.cfg.BotID, action.Kind, action.Reason)
	result := s.exec.Execute(ctx, action)
	if result.State == executor.StateSkipped {
		// 跳过也推进调度，否则每个 tick 都会重试
		if action.Kind == domain.ActionHarvestFees {
			s.scheduler.MarkHarvestDone()
		}
		return
	}
	if result.State != executor.StateRecorded {
		return
	}

	s.dog.Touch()

	switch action.Kind {
	case domain.ActionSwap:
		switch {
		case input.PumpDue && action.Direction == domain.SwapPolToXin:
			s.scheduler.MarkPumpDone()
		case input.DumpDue && action.Direction == domain.SwapXinToPol:
			s.scheduler.MarkDumpDone()
		default:
			s.scheduler.MarkOpportunisticDone()
		}
		if err := s.board.ClaimTurn(ctx); err != nil {
			logger.Warnf("写入轮转令牌失败: %v", err)
		}
	case domain.ActionStopLoss, domain.ActionTakeProfit:
		if err := s.board.ClaimTurn(ctx); err != nil {
			logger.Warnf("写入轮转令牌失败: %v", err)
		}
	case domain.ActionHarvestFees:
		s.scheduler.MarkHarvestDone()
	}
}

// takeSnapshot 拉取钱包与池子余额、XIN 报价。
// 报价失败时退回最近一次成功报价，不往信号序列里塞哨兵值。
func (s *Strategy) takeSnapshot(ctx context.Context) (domain.BalanceSnapshot, error) {
	var snap domain.BalanceSnapshot
	snap.Timestamp = time.Now()

	wallet := s.client.WalletAddress()
	pol := addr(s.cfg.Chain.PolAddress)
	xin := addr(s.cfg.Chain.XinAddress)

	var err error
	if snap.Pol, err = s.client.BalanceOf(ctx, pol, wallet); err != nil {
		return snap, fmt.Errorf("读取 POL 余额失败: %w", err)
	}
	if snap.Xin, err = s.client.BalanceOf(ctx, xin, wallet); err != nil {
		return snap, fmt.Errorf("读取 XIN 余额失败: %w", err)
	}

	pool, err := s.client.PoolState(ctx)
	if err != nil {
		return snap, fmt.Errorf("读取池子状态失败: %w", err)
	}
	snap.PoolPol = pool.PolBalance
	snap.PoolXin = pool.XinBalance

	if liq, err := s.client.PositionLiquidity(ctx); err != nil {
		logger.Warnf("读取头寸流动性失败，本轮跳过流动性判定: %v", err)
	} else {
		snap.PositionLiquidity = liq
	}

	price, err := s.client.Quote(ctx, xin, pol, s.cfg.Chain.PoolFee, fixedpoint.One)
	if err != nil {
		metrics.QuoteFailures.Add(1)
		if cached, ok := s.quotes.Get("xin/pol"); ok {
			logger.Warnf("报价失败，沿用缓存价格 %s: %v", fixedpoint.Format(cached), err)
			snap.XinPrice = cached
		} else {
			logger.Warnf("报价失败且无缓存，本轮无价格信号: %v", err)
		}
		return snap, nil
	}

	snap.XinPrice = price
	s.quotes.Set("xin/pol", price)
	s.signals.Observe(price)
	return snap, nil
}

// publishStrategyState 把阶段与窗口截止时间镜像到协调库
func (s *Strategy) publishStrategyState(ctx context.Context, phase domain.MarketPhase) {
	st, err := s.board.LoadStrategy(ctx)
	if err != nil {
		logger.Warnf("读取共享策略状态失败: %v", err)
		return
	}
	sched := s.scheduler.State()
	if s.scheduler.OwnsPump() {
		st.NextPump = sched.NextPump.UnixMilli()
	}
	if s.scheduler.OwnsDump() {
		st.NextDump = sched.NextDump.UnixMilli()
	}
	st.MarketPhase = string(phase)
	if err := s.board.SaveStrategy(ctx, st); err != nil {
		logger.Warnf("写入共享策略状态失败: %v", err)
	}
}

// walletBalances 报告用余额快照
func (s *Strategy) walletBalances() (*big.Int, *big.Int, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pol, err := s.client.BalanceOf(ctx, addr(s.cfg.Chain.PolAddress), s.client.WalletAddress())
	if err != nil {
		return nil, nil, false
	}
	xin, err := s.client.BalanceOf(ctx, addr(s.cfg.Chain.XinAddress), s.client.WalletAddress())
	if err != nil {
		return nil, nil, false
	}
	return pol, xin, true
}

// restoreState 重启后恢复统计、持仓成本、调度截止时间与头寸 ID
func (s *Strategy) restoreState() {
	if s.store == nil {
		return
	}
	var st persistedState
	if err := s.store.Load(&st); err != nil {
		if err != persistence.ErrNotExists {
			logger.Warnf("加载状态快照失败: %v", err)
		}
		return
	}

	s.tracker.Restore(st.Stats)
	s.exec.RestorePosition(st.Position)
	s.scheduler.Restore(st.Schedule)
	if st.PositionID != "" {
		if id, ok := new(big.Int).SetString(st.PositionID, 10); ok {
			s.client.RestorePositionID(id)
		}
	}
	logger.Infof("♻️ [%s] 已恢复状态快照", s.cfg.BotID)
}

// saveState 尽力而为地落盘状态快照
func (s *Strategy) saveState() {
	if s.store == nil {
		return
	}
	st := persistedState{
		Stats:    s.tracker.Snapshot(),
		Position: s.exec.Position(),
		Schedule: s.scheduler.State(),
	}
	if id := s.client.PositionID(); id != nil {
		st.PositionID = id.String()
	}
	if err := s.store.Save(st); err != nil {
		logger.Warnf("保存状态快照失败: %v", err)
	}
}

// HealthSnapshot 健康端点数据
func (s *Strategy) HealthSnapshot() (botID string, lastUpdate time.Time, statsMap map[string]interface{}) {
	cur := s.tracker.Snapshot()
	return s.cfg.BotID, s.dog.LastActivity(), map[string]interface{}{
		"netProfit":        fixedpoint.Format(cur.NetProfit()),
		"successfulTrades": cur.SuccessfulTrades,
		"failedTrades":     cur.FailedTrades,
		"stopLossCount":    cur.StopLossCount,
		"takeProfitCount":  cur.TakeProfitCount,
	}
}

// Shutdown 落盘并通知。wg.Done 由 shutdown.Manager 统一调用，这里不要再调。
func (s *Strategy) Shutdown(ctx context.Context, wg *sync.WaitGroup) {
	s.saveState()
	s.notifier.Send(fmt.Sprintf("🛑 [%s] 已停止", s.cfg.BotID))
	logger.Infof("🛑 [%s] 策略已关闭", s.cfg.BotID)
}
