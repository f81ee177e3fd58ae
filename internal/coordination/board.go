package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

const rootPath = "xibot"

// Board 协调库上的业务视图：轮转令牌、统计发布、历史追加。
// 路径布局沿用 "<root>/strategy/lastBot" 和 "<root>/bots/<botID>/..."。
type Board struct {
	store Store
	botID string
}

// NewBoard 创建协调面板
func NewBoard(store Store, botID string) *Board {
	return &Board{store: store, botID: botID}
}

// LastBot 读取轮转令牌：上一个完成 swap 的机器人 ID。
// 令牌不存在（首次运行）时返回空串。
func (b *Board) LastBot(ctx context.Context) (string, error) {
	st, err := b.LoadStrategy(ctx)
	if err != nil {
		return "", err
	}
	return st.LastBot, nil
}

// ClaimTurn 成交后写入轮转令牌。
// 读-改-写没有事务保护，两个机器人同窗口成交时后写者覆盖先写者。
func (b *Board) ClaimTurn(ctx context.Context) error {
	st, err := b.LoadStrategy(ctx)
	if err != nil {
		return err
	}
	st.LastBot = b.botID
	return b.SaveStrategy(ctx, st)
}

// StrategyState 协调库上的共享策略状态
type StrategyState struct {
	NextPump    int64  `json:"nextPump"` // Unix 毫秒
	NextDump    int64  `json:"nextDump"`
	LastBot     string `json:"lastBot"`
	MarketPhase string `json:"marketPhase"`
}

// LoadStrategy 读取共享策略状态。不存在时返回零值。
func (b *Board) LoadStrategy(ctx context.Context) (StrategyState, error) {
	var st StrategyState
	err := b.store.Get(ctx, rootPath+"/strategy", &st)
	if errors.Is(err, ErrNotFound) {
		return StrategyState{}, nil
	}
	if err != nil {
		return StrategyState{}, err
	}
	return st, nil
}

// SaveStrategy 覆盖写共享策略状态
func (b *Board) SaveStrategy(ctx context.Context, st StrategyState) error {
	return b.store.Set(ctx, rootPath+"/strategy", st)
}

// statsPayload 发布到协调库的统计快照（人类单位）
type statsPayload struct {
	PolUsed          float64 `json:"polUsed"`
	PolGained        float64 `json:"polGained"`
	XinBought        float64 `json:"xinBought"`
	XinSold          float64 `json:"xinSold"`
	NetProfit        float64 `json:"netProfit"`
	SuccessfulTrades int64   `json:"successfulTrades"`
	FailedTrades     int64   `json:"failedTrades"`
	StopLossCount    int64   `json:"stopLossCount"`
	TakeProfitCount  int64   `json:"takeProfitCount"`
	LiquidityAdds    int64   `json:"liquidityAdds"`
	LiquidityPulls   int64   `json:"liquidityPulls"`
	FeesHarvested    float64 `json:"feesHarvested"`
	LastUpdate       int64   `json:"lastUpdate"` // Unix 毫秒
}

// PublishStats 发布本机统计到 "<root>/bots/<botID>/stats"
func (b *Board) PublishStats(ctx context.Context, stats *domain.RunningStats) error {
	stats.Normalize()
	payload := statsPayload{
		PolUsed:          fixedpoint.ToFloat(stats.PolUsed),
		PolGained:        fixedpoint.ToFloat(stats.PolGained),
		XinBought:        fixedpoint.ToFloat(stats.XinBought),
		XinSold:          fixedpoint.ToFloat(stats.XinSold),
		NetProfit:        fixedpoint.ToFloat(stats.NetProfit()),
		SuccessfulTrades: stats.SuccessfulTrades,
		FailedTrades:     stats.FailedTrades,
		StopLossCount:    stats.StopLossCount,
		TakeProfitCount:  stats.TakeProfitCount,
		LiquidityAdds:    stats.LiquidityAdds,
		LiquidityPulls:   stats.LiquidityPulls,
		FeesHarvested:    fixedpoint.ToFloat(stats.FeesHarvested),
		LastUpdate:       time.Now().UnixMilli(),
	}
	return b.store.Set(ctx, fmt.Sprintf("%s/bots/%s/stats", rootPath, b.botID), payload)
}

// historyPayload 历史记录条目
type historyPayload struct {
	Direction string  `json:"direction"`
	Kind      string  `json:"kind"`
	AmountIn  float64 `json:"amountIn"`
	AmountOut float64 `json:"amountOut"`
	TxHash    string  `json:"txHash,omitempty"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// PushHistory 把一笔交易追加到 "<root>/bots/<botID>/history"
func (b *Board) PushHistory(ctx context.Context, rec domain.TradeRecord) error {
	payload := historyPayload{
		Direction: string(rec.Direction),
		Kind:      string(rec.Kind),
		AmountIn:  fixedpoint.ToFloat(rec.AmountIn),
		AmountOut: fixedpoint.ToFloat(rec.AmountOut),
		TxHash:    rec.TxHash,
		Success:   rec.Success,
		Error:     rec.Error,
		Timestamp: rec.Timestamp.UnixMilli(),
	}
	_, err := b.store.Push(ctx, fmt.Sprintf("%s/bots/%s/history", rootPath, b.botID), payload)
	return err
}

// BotStats 读取到的某个机器人的统计
type BotStats struct {
	PolUsed          float64 `json:"polUsed"`
	PolGained        float64 `json:"polGained"`
	NetProfit        float64 `json:"netProfit"`
	SuccessfulTrades int64   `json:"successfulTrades"`
	FailedTrades     int64   `json:"failedTrades"`
	LastUpdate       int64   `json:"lastUpdate"`
}

// GlobalStats 读取所有机器人的统计，汇总报告用
func (b *Board) GlobalStats(ctx context.Context) (map[string]BotStats, error) {
	var raw map[string]struct {
		Stats BotStats `json:"stats"`
	}
	err := b.store.Get(ctx, rootPath+"/bots", &raw)
	if errors.Is(err, ErrNotFound) {
		return map[string]BotStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]BotStats, len(raw))
	for id, node := range raw {
		out[id] = node.Stats
	}
	return out, nil
}
