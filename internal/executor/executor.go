package executor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xibot/xibot/internal/coordination"
	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/history"
	"github.com/xibot/xibot/internal/ledger"
	"github.com/xibot/xibot/internal/metrics"
	"github.com/xibot/xibot/internal/notify"
	"github.com/xibot/xibot/internal/risk"
	"github.com/xibot/xibot/internal/stats"
	"github.com/xibot/xibot/pkg/fixedpoint"
	"github.com/xibot/xibot/pkg/logger"
)

// State 一次动作执行的终态
type State string

const (
	StateAbandoned State = "abandoned" // 前置检查不过，未提交
	StateSkipped   State = "skipped"   // 本轮无事可做，调度照常推进
	StateRecorded  State = "recorded"  // 提交并确认成功，已入账
	StateFailed    State = "failed"    // 提交后回滚/超时
)

// Result 执行结果
type Result struct {
	State     State
	Reason    string
	Receipt   *ledger.Receipt
	AmountOut *big.Int // 成交输出估计（按提交前报价）
}

// maxUint256 无限授权额度
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Config 执行参数
type Config struct {
	BotID            string
	PolAddress       common.Address
	XinAddress       common.Address
	RouterAddress    common.Address
	PositionManager  common.Address
	PoolFee          int64
	SlippageBps      int64
	DeadlineSeconds  int64
	MinSwapPol       *big.Int // POL 侧最小成交额
	MinSwapXin       *big.Int // XIN 侧最小成交额
	ApproveThreshold *big.Int // 授权低于该值时重新授权 MaxUint256
}

// Executor 执行适配器。
// 决策动作经过 前置检查 → 提交 → 入账 三段，任何分支都不会 panic 到主循环；
// 失败不在本 tick 内重试，下一个 tick 自然重试。
type Executor struct {
	cfg      Config
	client   ledger.Client
	tracker  *stats.Tracker
	repo     *history.Repo
	board    *coordination.Board
	notifier notify.Notifier
	breaker  *risk.CircuitBreaker

	mu       sync.Mutex
	position *domain.Position
}

// New 创建执行适配器。repo 和 board 可以为 nil（仿真/测试）。
func New(cfg Config, client ledger.Client, tracker *stats.Tracker, repo *history.Repo,
	board *coordination.Board, notifier notify.Notifier, breaker *risk.CircuitBreaker) *Executor {
	return &Executor{
		cfg:      cfg,
		client:   client,
		tracker:  tracker,
		repo:     repo,
		board:    board,
		notifier: notifier,
		breaker:  breaker,
		position: &domain.Position{},
	}
}

// Position 当前持仓成本快照
func (e *Executor) Position() *domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.position
	return &cp
}

// RestorePosition 重启后恢复持仓成本
func (e *Executor) RestorePosition(p *domain.Position) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.position = p
	e.mu.Unlock()
}

// Execute 执行一个动作
func (e *Executor) Execute(ctx context.Context, action domain.Action) Result {
	switch action.Kind {
	case domain.ActionSwap, domain.ActionStopLoss, domain.ActionTakeProfit:
		return e.executeSwap(ctx, action)
	case domain.ActionAddLiquidity:
		return e.executeAddLiquidity(ctx, action)
	case domain.ActionPullLiquidity:
		return e.executePullLiquidity(ctx, action)
	case domain.ActionHarvestFees:
		return e.executeHarvest(ctx)
	case domain.ActionHold:
		return Result{State: StateAbandoned, Reason: "hold"}
	default:
		return Result{State: StateAbandoned, Reason: fmt.Sprintf("未知动作: %s", action.Kind)}
	}
}

func (e *Executor) executeSwap(ctx context.Context, action domain.Action) Result {
	if err := e.breaker.AllowTrading(); err != nil {
		return e.abandon("熔断器已打开")
	}

	tokenIn, tokenOut, minNotional := e.sideOf(action.Direction)

	// 前置检查：金额、最小成交额、余额
	if fixedpoint.IsZero(action.Amount) {
		return e.abandon("金额为零")
	}
	if minNotional != nil && action.Amount.Cmp(minNotional) < 0 {
		return e.abandon(fmt.Sprintf("低于最小成交额: %s < %s",
			fixedpoint.Format(action.Amount), fixedpoint.Format(minNotional)))
	}
	balance, err := e.client.BalanceOf(ctx, tokenIn, e.client.WalletAddress())
	if err != nil {
		return e.abandon(fmt.Sprintf("读取余额失败: %v", err))
	}
	if balance.Cmp(action.Amount) < 0 {
		return e.abandon(fmt.Sprintf("余额不足: %s < %s",
			fixedpoint.Format(balance), fixedpoint.Format(action.Amount)))
	}

	// 新鲜报价 + 滑点保护
	quote, err := e.client.Quote(ctx, tokenIn, tokenOut, e.cfg.PoolFee, action.Amount)
	if err != nil {
		metrics.QuoteFailures.Add(1)
		return e.abandon(fmt.Sprintf("询价失败: %v", err))
	}
	minOut := fixedpoint.ApplySlippage(quote, e.cfg.SlippageBps)
	if minOut.Sign() <= 0 {
		return e.abandon("滑点折算后最小输出为零")
	}

	// 授权不足时透明插入一次无限授权
	if err := e.ensureAllowance(ctx, tokenIn, e.cfg.RouterAddress); err != nil {
		return e.fail(action, nil, fmt.Sprintf("授权失败: %v", err))
	}

	deadline := time.Now().Unix() + e.cfg.DeadlineSeconds
	receipt, err := e.client.Swap(ctx, ledger.SwapParams{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		Fee:      e.cfg.PoolFee,
		Deadline: deadline,
		AmountIn: action.Amount,
		MinOut:   minOut,
	})
	if err != nil {
		return e.fail(action, nil, fmt.Sprintf("提交失败: %v", err))
	}
	if !receipt.Success {
		return e.fail(action, receipt, "交易回滚")
	}

	return e.record(action, receipt, quote, minOut)
}

// record 成交入账：统计、持仓成本、历史、协调库、通知
func (e *Executor) record(action domain.Action, receipt *ledger.Receipt, amountOut, minOut *big.Int) Result {
	e.breaker.OnSuccess()

	var emoji, verb string
	switch {
	case action.Kind == domain.ActionStopLoss:
		emoji, verb = "🛑", "止损卖出"
		e.tracker.RecordStopLoss()
	case action.Kind == domain.ActionTakeProfit:
		emoji, verb = "🎯", "止盈卖出"
		e.tracker.RecordTakeProfit()
	case action.Direction == domain.SwapPolToXin:
		emoji, verb = "🚀", "买入"
	default:
		emoji, verb = "💰", "卖出"
	}

	if action.Direction == domain.SwapPolToXin {
		e.tracker.RecordBuy(action.Amount, amountOut)
		e.updateEntryOnBuy(action.Amount, amountOut)
		e.addDailyPnL(new(big.Int).Neg(action.Amount))
	} else {
		e.tracker.RecordSell(action.Amount, amountOut)
		e.updateEntryOnSell(action)
		e.addDailyPnL(amountOut)
	}
	metrics.TradesOK.Add(1)

	rec := domain.TradeRecord{
		BotID:     e.cfg.BotID,
		Direction: action.Direction,
		Kind:      action.Kind,
		AmountIn:  action.Amount,
		AmountOut: amountOut,
		MinOut:    minOut,
		TxHash:    receipt.TxHash,
		Success:   true,
		Timestamp: time.Now(),
	}
	e.persistRecord(rec)

	msg := fmt.Sprintf("%s [%s] %s %s → %s (tx %s)",
		emoji, e.cfg.BotID, verb,
		fixedpoint.Format(action.Amount), fixedpoint.Format(amountOut), shortHash(receipt.TxHash))
	logger.Info(msg)
	e.notifier.Send(msg)

	return Result{State: StateRecorded, Receipt: receipt, AmountOut: amountOut, Reason: action.Reason}
}

func (e *Executor) executeAddLiquidity(ctx context.Context, action domain.Action) Result {
	if err := e.breaker.AllowTrading(); err != nil {
		return e.abandon("熔断器已打开")
	}
	if fixedpoint.IsZero(action.AmountPol) || fixedpoint.IsZero(action.AmountXin) {
		return e.abandon("流动性金额为零")
	}

	for _, token := range []common.Address{e.cfg.PolAddress, e.cfg.XinAddress} {
		if err := e.ensureAllowance(ctx, token, e.cfg.PositionManager); err != nil {
			return e.fail(action, nil, fmt.Sprintf("授权失败: %v", err))
		}
	}

	deadline := time.Now().Unix() + e.cfg.DeadlineSeconds
	receipt, err := e.client.IncreaseLiquidity(ctx, ledger.LiquidityParams{
		AmountPol: action.AmountPol,
		AmountXin: action.AmountXin,
		Deadline:  deadline,
	})
	if err != nil {
		return e.fail(action, nil, fmt.Sprintf("补充流动性失败: %v", err))
	}
	if !receipt.Success {
		return e.fail(action, receipt, "补充流动性交易回滚")
	}

	e.breaker.OnSuccess()
	e.tracker.RecordLiquidityAdd()
	metrics.LiquidityOps.Add(1)
	e.persistRecord(domain.TradeRecord{
		BotID:     e.cfg.BotID,
		Kind:      domain.ActionAddLiquidity,
		AmountIn:  action.AmountPol,
		AmountOut: action.AmountXin,
		TxHash:    receipt.TxHash,
		Success:   true,
		Timestamp: time.Now(),
	})

	msg := fmt.Sprintf("🌊 [%s] 补充流动性 %s POL + %s XIN",
		e.cfg.BotID, fixedpoint.Format(action.AmountPol), fixedpoint.Format(action.AmountXin))
	logger.Info(msg)
	e.notifier.Send(msg)
	return Result{State: StateRecorded, Receipt: receipt, Reason: action.Reason}
}

func (e *Executor) executePullLiquidity(ctx context.Context, action domain.Action) Result {
	if err := e.breaker.AllowTrading(); err != nil {
		return e.abandon("熔断器已打开")
	}

	deadline := time.Now().Unix() + e.cfg.DeadlineSeconds
	receipt, err := e.client.DecreaseLiquidity(ctx, action.BurnPct, deadline)
	if err != nil {
		return e.fail(action, nil, fmt.Sprintf("撤出流动性失败: %v", err))
	}
	if !receipt.Success {
		return e.fail(action, receipt, "撤出流动性交易回滚")
	}

	// 撤出的份额还挂在头寸上，collect 把它转回钱包
	if _, _, _, err := e.client.CollectFees(ctx); err != nil {
		logger.Warnf("撤出后归集失败（份额仍在头寸上，下次归集补收）: %v", err)
	}

	e.breaker.OnSuccess()
	e.tracker.RecordLiquidityPull()
	metrics.LiquidityOps.Add(1)
	e.persistRecord(domain.TradeRecord{
		BotID:     e.cfg.BotID,
		Kind:      domain.ActionPullLiquidity,
		TxHash:    receipt.TxHash,
		Success:   true,
		Timestamp: time.Now(),
	})

	msg := fmt.Sprintf("🏖 [%s] 撤出流动性 %d%%", e.cfg.BotID, action.BurnPct)
	logger.Info(msg)
	e.notifier.Send(msg)
	return Result{State: StateRecorded, Receipt: receipt, Reason: action.Reason}
}

func (e *Executor) executeHarvest(ctx context.Context) Result {
	// 没有头寸就没有手续费可收：跳过而不是记失败，不喂熔断器
	if e.client.PositionID() == nil {
		logger.Debugf("🍯 [%s] 没有流动性头寸，本轮跳过归集", e.cfg.BotID)
		return Result{State: StateSkipped, Reason: "没有流动性头寸"}
	}

	receipt, polFees, _, err := e.client.CollectFees(ctx)
	if err != nil {
		return e.fail(domain.Action{Kind: domain.ActionHarvestFees}, nil, fmt.Sprintf("归集手续费失败: %v", err))
	}
	if !receipt.Success {
		return e.fail(domain.Action{Kind: domain.ActionHarvestFees}, receipt, "归集交易回滚")
	}

	e.breaker.OnSuccess()
	e.tracker.RecordFees(polFees)
	msg := fmt.Sprintf("🍯 [%s] 归集手续费 %s POL", e.cfg.BotID, fixedpoint.Format(polFees))
	logger.Info(msg)
	e.notifier.Send(msg)
	return Result{State: StateRecorded, Receipt: receipt}
}

// ensureAllowance 授权额度低于阈值时授权 MaxUint256（懒惰、一次到位）
func (e *Executor) ensureAllowance(ctx context.Context, token, spender common.Address) error {
	allowance, err := e.client.Allowance(ctx, token, e.client.WalletAddress(), spender)
	if err != nil {
		return fmt.Errorf("读取授权额度失败: %w", err)
	}
	threshold := e.cfg.ApproveThreshold
	if threshold == nil {
		threshold = big.NewInt(0)
	}
	if allowance.Cmp(threshold) >= 0 {
		return nil
	}

	logger.Infof("🔓 授权额度不足（%s），重新授权 MaxUint256", fixedpoint.Format(allowance))
	receipt, err := e.client.Approve(ctx, token, spender, maxUint256)
	if err != nil {
		return err
	}
	if !receipt.Success {
		return fmt.Errorf("approve 交易回滚")
	}
	return nil
}

// updateEntryOnBuy 买入后按加权平均更新成本价
func (e *Executor) updateEntryOnBuy(polIn, xinOut *big.Int) {
	if fixedpoint.IsZero(xinOut) {
		return
	}
	// price = polIn * 1e18 / xinOut
	price := new(big.Int).Mul(polIn, fixedpoint.One)
	price.Div(price, xinOut)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.position.HasEntry() {
		e.position = &domain.Position{
			EntryPrice: price,
			Amount:     new(big.Int).Set(xinOut),
			UpdatedAt:  time.Now(),
		}
		return
	}
	// 加权平均：(entry*oldAmount + price*newAmount) / (oldAmount+newAmount)
	num := new(big.Int).Mul(e.position.EntryPrice, e.position.Amount)
	num.Add(num, new(big.Int).Mul(price, xinOut))
	total := new(big.Int).Add(e.position.Amount, xinOut)
	e.position = &domain.Position{
		EntryPrice: num.Div(num, total),
		Amount:     total,
		UpdatedAt:  time.Now(),
	}
}

// updateEntryOnSell 卖出后收缩持仓；止损/止盈或清仓时清除成本价
func (e *Executor) updateEntryOnSell(action domain.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if action.Kind == domain.ActionStopLoss || action.Kind == domain.ActionTakeProfit {
		e.position = &domain.Position{}
		return
	}
	if !e.position.HasEntry() {
		return
	}
	remaining := new(big.Int).Sub(e.position.Amount, action.Amount)
	if remaining.Sign() <= 0 {
		e.position = &domain.Position{}
		return
	}
	e.position = &domain.Position{
		EntryPrice: e.position.EntryPrice,
		Amount:     remaining,
		UpdatedAt:  time.Now(),
	}
}

func (e *Executor) sideOf(direction domain.SwapDirection) (tokenIn, tokenOut common.Address, minNotional *big.Int) {
	if direction == domain.SwapPolToXin {
		return e.cfg.PolAddress, e.cfg.XinAddress, e.cfg.MinSwapPol
	}
	return e.cfg.XinAddress, e.cfg.PolAddress, e.cfg.MinSwapXin
}

// addDailyPnL 把成交现金流折算进当日风控 PnL（毫 POL）
func (e *Executor) addDailyPnL(deltaPol *big.Int) {
	milli := new(big.Int).Div(deltaPol, new(big.Int).Div(fixedpoint.One, big.NewInt(1000)))
	e.breaker.AddPnLMilli(milli.Int64())
}

func (e *Executor) abandon(reason string) Result {
	logger.Infof("⏭ [%s] 放弃动作: %s", e.cfg.BotID, reason)
	return Result{State: StateAbandoned, Reason: reason}
}

func (e *Executor) fail(action domain.Action, receipt *ledger.Receipt, reason string) Result {
	e.breaker.OnError()
	e.tracker.RecordFailure()
	metrics.TradesFailed.Add(1)

	txHash := ""
	if receipt != nil {
		txHash = receipt.TxHash
	}
	e.persistRecord(domain.TradeRecord{
		BotID:     e.cfg.BotID,
		Direction: action.Direction,
		Kind:      action.Kind,
		AmountIn:  action.Amount,
		TxHash:    txHash,
		Success:   false,
		Error:     reason,
		Timestamp: time.Now(),
	})

	msg := fmt.Sprintf("❌ [%s] 执行失败: %s", e.cfg.BotID, reason)
	logger.Errorf("❌ [%s] 执行失败: %s", e.cfg.BotID, reason)
	e.notifier.Send(msg)
	return Result{State: StateFailed, Receipt: receipt, Reason: reason}
}

// persistRecord 历史与协调库都是尽力而为，失败不影响执行结果
func (e *Executor) persistRecord(rec domain.TradeRecord) {
	if e.repo != nil {
		if err := e.repo.Append(rec); err != nil {
			logger.Warnf("写入交易历史失败: %v", err)
		}
	}
	if e.board != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.board.PushHistory(ctx, rec); err != nil {
			logger.Warnf("推送交易历史到协调库失败: %v", err)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12] + "…"
	}
	return h
}
