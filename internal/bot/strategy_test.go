package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xibot/xibot/internal/coordination"
	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/engine"
	"github.com/xibot/xibot/internal/ledger"
	"github.com/xibot/xibot/internal/notify"
	"github.com/xibot/xibot/internal/schedule"
	"github.com/xibot/xibot/internal/watchdog"
	"github.com/xibot/xibot/pkg/config"
	"github.com/xibot/xibot/pkg/fixedpoint"
	"github.com/xibot/xibot/pkg/persistence"
	"github.com/xibot/xibot/pkg/shutdown"
)

func testConfig(botID string) *config.Config {
	cfg := &config.Config{}
	cfg.Defaults()
	cfg.BotID = botID
	cfg.Simulation = true
	cfg.Chain.PolAddress = "0x0000000000000000000000000000000000000101"
	cfg.Chain.XinAddress = "0x0000000000000000000000000000000000000102"
	return cfg
}

func newTestStrategy(t *testing.T, botID string, store coordination.Store) (*Strategy, *ledger.SimulationClient) {
	t.Helper()
	cfg := testConfig(botID)
	client := ledger.NewSimulationClient(
		addr(cfg.Chain.PolAddress), addr(cfg.Chain.XinAddress),
		fixedpoint.MustParse("100"), fixedpoint.MustParse("100"),
		fixedpoint.MustParse("100"), fixedpoint.MustParse("100"),
	)
	s, err := New(cfg, Deps{
		Client:   client,
		Board:    coordination.NewBoard(store, botID),
		Notifier: notify.NopNotifier{},
		Persist:  persistence.NewMemoryService(),
		Watchdog: watchdog.New(0),
	})
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	return s, client
}

func TestTickRunsClean(t *testing.T) {
	store := coordination.NewMemoryStore()
	s, _ := newTestStrategy(t, "bot1", store)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.tick(ctx))
	}

	// tick 后统计与共享策略状态都已发布
	var stats map[string]interface{}
	require.NoError(t, store.Get(ctx, "xibot/bots/bot1/stats", &stats))

	st, err := coordination.NewBoard(store, "bot1").LoadStrategy(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, st.MarketPhase)
}

func TestTickObservesPrices(t *testing.T) {
	s, _ := newTestStrategy(t, "bot1", coordination.NewMemoryStore())

	ctx := context.Background()
	require.Equal(t, 0, s.signals.SampleCount())
	require.NoError(t, s.tick(ctx))
	require.Equal(t, 1, s.signals.SampleCount())

	// 缓存里有最近一次成功报价
	_, ok := s.quotes.Get("xin/pol")
	require.True(t, ok)
}

func TestStateRoundTrip(t *testing.T) {
	store := coordination.NewMemoryStore()
	persist := persistence.NewMemoryService()

	cfg := testConfig("bot1")
	client := ledger.NewSimulationClient(
		addr(cfg.Chain.PolAddress), addr(cfg.Chain.XinAddress),
		fixedpoint.MustParse("100"), fixedpoint.MustParse("100"),
		fixedpoint.MustParse("100"), fixedpoint.MustParse("100"),
	)
	deps := Deps{
		Client:   client,
		Board:    coordination.NewBoard(store, "bot1"),
		Notifier: notify.NopNotifier{},
		Persist:  persist,
		Watchdog: watchdog.New(0),
	}

	s1, err := New(cfg, deps)
	require.NoError(t, err)
	s1.tracker.RecordBuy(fixedpoint.MustParse("10"), fixedpoint.MustParse("9"))
	s1.saveState()

	// 重启：新实例从持久化恢复统计
	s2, err := New(cfg, deps)
	require.NoError(t, err)
	s2.restoreState()

	snap := s2.tracker.Snapshot()
	require.Zero(t, snap.PolUsed.Cmp(fixedpoint.MustParse("10")))
	require.Equal(t, int64(1), snap.SuccessfulTrades)
}

func TestTurnTokenFromBoard(t *testing.T) {
	store := coordination.NewMemoryStore()
	ctx := context.Background()

	s, _ := newTestStrategy(t, "bot1", store)

	// 令牌为空：轮到我
	last, err := s.board.LastBot(ctx)
	require.NoError(t, err)
	require.Equal(t, "", last)

	// bot1 成交后令牌归 bot1，下轮不再轮到 bot1
	require.NoError(t, s.board.ClaimTurn(ctx))
	last, err = s.board.LastBot(ctx)
	require.NoError(t, err)
	require.Equal(t, "bot1", last)
}

func TestHarvestSkippedAdvancesSchedule(t *testing.T) {
	s, _ := newTestStrategy(t, "bot1", coordination.NewMemoryStore())

	// 假时钟把归集窗口推到过期
	now := time.Now()
	s.scheduler = schedule.NewScheduler("bot1", schedule.Intervals{
		Harvest: time.Hour,
	}, func() time.Time { return now })
	now = now.Add(2 * time.Hour)
	require.True(t, s.scheduler.HarvestDue())

	// 没有头寸：归集被跳过，但截止时间照常推进，不计失败
	s.dispatch(context.Background(), engine.Input{}, domain.Action{Kind: domain.ActionHarvestFees})
	require.False(t, s.scheduler.HarvestDue())
	require.Zero(t, s.tracker.Snapshot().FailedTrades)
}

func TestShutdownViaManager(t *testing.T) {
	// wg.Done 由 Manager 统一收尾；回调里多调一次会把计数打成负数直接 panic
	s, _ := newTestStrategy(t, "bot1", coordination.NewMemoryStore())

	m := shutdown.NewManager()
	m.OnShutdown(s.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Shutdown(ctx)
	require.NoError(t, ctx.Err())
}
