package stats

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xibot/xibot/internal/coordination"
	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/notify"
	"github.com/xibot/xibot/pkg/fixedpoint"
	"github.com/xibot/xibot/pkg/logger"
)

// BalanceFunc 报告时拉取当前余额。不可用时 ok 返回 false。
type BalanceFunc func() (pol, xin *big.Int, ok bool)

// Reporter 周期报告器。
// 30 分钟 / 1 小时 / 24 小时三档各自对上一档快照算增量，
// 全局报告（默认 5 分钟）由调度器驱动，汇总协调库上所有机器人。
type Reporter struct {
	botID    string
	tracker  *Tracker
	board    *coordination.Board
	notifier notify.Notifier
	balances BalanceFunc

	mu        sync.Mutex
	snapshots map[string]*domain.RunningStats
}

// NewReporter 创建报告器
func NewReporter(botID string, tracker *Tracker, board *coordination.Board, notifier notify.Notifier, balances BalanceFunc) *Reporter {
	return &Reporter{
		botID:     botID,
		tracker:   tracker,
		board:     board,
		notifier:  notifier,
		balances:  balances,
		snapshots: make(map[string]*domain.RunningStats),
	}
}

// Run 启动三档周期报告，阻塞直到 ctx 取消
func (r *Reporter) Run(ctx context.Context) {
	halfHour := time.NewTicker(30 * time.Minute)
	hourly := time.NewTicker(1 * time.Hour)
	daily := time.NewTicker(24 * time.Hour)
	defer halfHour.Stop()
	defer hourly.Stop()
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-halfHour.C:
			r.periodic("30分钟")
		case <-hourly.C:
			r.periodic("1小时")
		case <-daily.C:
			r.periodic("24小时")
		}
	}
}

// periodic 输出一档周期报告并更新该档快照
func (r *Reporter) periodic(label string) {
	cur := r.tracker.Snapshot()

	r.mu.Lock()
	prev := r.snapshots[label]
	r.snapshots[label] = cur.Clone()
	r.mu.Unlock()

	if prev == nil {
		prev = domain.NewRunningStats()
	}

	deltaTrades := cur.SuccessfulTrades - prev.SuccessfulTrades
	deltaFailed := cur.FailedTrades - prev.FailedTrades
	deltaUsed := fixedpoint.Sub(cur.PolUsed, prev.PolUsed)
	deltaGained := fixedpoint.Sub(cur.PolGained, prev.PolGained)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>[%s] %s报告</b>\n", r.botID, label)
	fmt.Fprintf(&sb, "成交: %d 笔，失败: %d 笔\n", deltaTrades, deltaFailed)
	fmt.Fprintf(&sb, "买入花费: %s POL，卖出回收: %s POL\n",
		fixedpoint.Format(deltaUsed), fixedpoint.Format(deltaGained))
	fmt.Fprintf(&sb, "累计净利: %s POL\n", fixedpoint.Format(cur.NetProfit()))

	total := deltaTrades + deltaFailed
	if total > 0 {
		fmt.Fprintf(&sb, "成功率: %.1f%%\n", float64(deltaTrades)/float64(total)*100)
	}
	if deltaTrades > 0 {
		avg := new(big.Int).Div(fixedpoint.Add(deltaUsed, deltaGained), big.NewInt(deltaTrades))
		fmt.Fprintf(&sb, "平均单笔: %s POL\n", fixedpoint.Format(avg))
	}
	fmt.Fprintf(&sb, "止损: %d 次，止盈: %d 次\n", cur.StopLossCount, cur.TakeProfitCount)

	if r.balances != nil {
		if pol, xin, ok := r.balances(); ok {
			fmt.Fprintf(&sb, "余额: %s POL / %s XIN\n",
				fixedpoint.Format(pol), fixedpoint.Format(xin))
		}
	}

	msg := sb.String()
	logger.Info(msg)
	r.notifier.Send(msg)
}

// Global 汇总协调库上所有机器人的统计并播报
func (r *Reporter) Global(ctx context.Context) error {
	all, err := r.board.GlobalStats(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("🌐 <b>全局统计</b>\n")
	var totalProfit float64
	for _, id := range ids {
		s := all[id]
		totalProfit += s.NetProfit
		age := "未知"
		if s.LastUpdate > 0 {
			age = time.Since(time.UnixMilli(s.LastUpdate)).Truncate(time.Second).String()
		}
		fmt.Fprintf(&sb, "%s: 净利 %.4f POL，成交 %d/%d，更新于 %s 前\n",
			id, s.NetProfit, s.SuccessfulTrades, s.SuccessfulTrades+s.FailedTrades, age)
	}
	fmt.Fprintf(&sb, "合计净利: %.4f POL", totalProfit)

	msg := sb.String()
	logger.Info(msg)
	r.notifier.Send(msg)
	return nil
}
