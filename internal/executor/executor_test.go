package executor

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/internal/ledger"
	"github.com/xibot/xibot/internal/notify"
	"github.com/xibot/xibot/internal/risk"
	"github.com/xibot/xibot/internal/stats"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

var (
	polAddr    = common.HexToAddress("0x0000000000000000000000000000000000000101")
	xinAddr    = common.HexToAddress("0x0000000000000000000000000000000000000102")
	routerAddr = common.HexToAddress("0x0000000000000000000000000000000000000201")
	pmAddr     = common.HexToAddress("0x0000000000000000000000000000000000000202")
	walletAddr = common.HexToAddress("0x0000000000000000000000000000000000000301")
)

// fakeClient 可编程的账本假实现
type fakeClient struct {
	balance    *big.Int
	allowance  *big.Int
	quote      *big.Int
	quoteErr   error
	swapOK     bool
	swapErr    error
	positionID *big.Int

	approveCalls int
	swapCalls    int
	collectCalls int
	lastSwap     ledger.SwapParams
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		balance:   fixedpoint.MustParse("100"),
		allowance: maxUint256,
		quote:     fixedpoint.MustParse("0.9"),
		swapOK:    true,
	}
}

func (f *fakeClient) WalletAddress() common.Address { return walletAddr }
func (f *fakeClient) PositionID() *big.Int          { return f.positionID }
func (f *fakeClient) RestorePositionID(id *big.Int) {}

func (f *fakeClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*ledger.Receipt, error) {
	f.approveCalls++
	f.allowance = new(big.Int).Set(amount)
	return &ledger.Receipt{TxHash: "0xapprove", Success: true}, nil
}

func (f *fakeClient) Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int64, amountIn *big.Int) (*big.Int, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return new(big.Int).Set(f.quote), nil
}

func (f *fakeClient) Swap(ctx context.Context, p ledger.SwapParams) (*ledger.Receipt, error) {
	f.swapCalls++
	f.lastSwap = p
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	return &ledger.Receipt{TxHash: "0xswap", GasUsed: 21000, Success: f.swapOK}, nil
}

func (f *fakeClient) MintPosition(ctx context.Context, p ledger.LiquidityParams) (*ledger.Receipt, error) {
	return &ledger.Receipt{TxHash: "0xmint", Success: true}, nil
}

func (f *fakeClient) IncreaseLiquidity(ctx context.Context, p ledger.LiquidityParams) (*ledger.Receipt, error) {
	return &ledger.Receipt{TxHash: "0xincrease", Success: true}, nil
}

func (f *fakeClient) DecreaseLiquidity(ctx context.Context, liquidityPct int64, deadline int64) (*ledger.Receipt, error) {
	return &ledger.Receipt{TxHash: "0xdecrease", Success: true}, nil
}

func (f *fakeClient) CollectFees(ctx context.Context) (*ledger.Receipt, *big.Int, *big.Int, error) {
	f.collectCalls++
	return &ledger.Receipt{TxHash: "0xcollect", Success: true}, big.NewInt(0), big.NewInt(0), nil
}

func (f *fakeClient) PositionLiquidity(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeClient) PoolState(ctx context.Context) (ledger.PoolState, error) {
	return ledger.PoolState{}, nil
}

func newTestExecutor(client ledger.Client) (*Executor, *risk.CircuitBreaker) {
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: 5,
		DailyLossLimitMilli:  50000,
		Cooldown:             30 * time.Minute,
	})
	e := New(Config{
		BotID:            "bot1",
		PolAddress:       polAddr,
		XinAddress:       xinAddr,
		RouterAddress:    routerAddr,
		PositionManager:  pmAddr,
		PoolFee:          3000,
		SlippageBps:      200,
		DeadlineSeconds:  600,
		MinSwapPol:       fixedpoint.MustParse("0.1"),
		MinSwapXin:       fixedpoint.MustParse("0.15"),
		ApproveThreshold: fixedpoint.MustParse("1000"),
	}, client, stats.NewTracker(), nil, nil, notify.NopNotifier{}, breaker)
	return e, breaker
}

func buyAction(amount string) domain.Action {
	return domain.Action{
		Kind:      domain.ActionSwap,
		Direction: domain.SwapPolToXin,
		Amount:    fixedpoint.MustParse(amount),
		Reason:    "test",
	}
}

func TestExecuteSwap_Recorded(t *testing.T) {
	client := newFakeClient()
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateRecorded, result.State)
	require.Equal(t, 1, client.swapCalls)

	// minOut = quote * 9800/10000
	wantMinOut := fixedpoint.ApplySlippage(client.quote, 200)
	require.Zero(t, client.lastSwap.MinOut.Cmp(wantMinOut))
	require.Equal(t, polAddr, client.lastSwap.TokenIn)
	require.Equal(t, xinAddr, client.lastSwap.TokenOut)
}

func TestExecuteSwap_AbandonBelowMinNotional(t *testing.T) {
	client := newFakeClient()
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("0.05"))
	require.Equal(t, StateAbandoned, result.State)
	require.Equal(t, 0, client.swapCalls)
}

func TestExecuteSwap_AbandonInsufficientBalance(t *testing.T) {
	client := newFakeClient()
	client.balance = fixedpoint.MustParse("0.5")
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateAbandoned, result.State)
	require.Equal(t, 0, client.swapCalls)
}

func TestExecuteSwap_AbandonZeroAmount(t *testing.T) {
	client := newFakeClient()
	e, _ := newTestExecutor(client)

	action := buyAction("1")
	action.Amount = big.NewInt(0)
	result := e.Execute(context.Background(), action)
	require.Equal(t, StateAbandoned, result.State)
	require.Equal(t, 0, client.swapCalls)
}

func TestExecuteSwap_AbandonOnQuoteFailure(t *testing.T) {
	client := newFakeClient()
	client.quoteErr = fmt.Errorf("rpc timeout")
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateAbandoned, result.State)
	require.Equal(t, 0, client.swapCalls)
}

func TestExecuteSwap_FailOnRevert(t *testing.T) {
	client := newFakeClient()
	client.swapOK = false
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateFailed, result.State)
}

func TestEnsureAllowance_LazyApprove(t *testing.T) {
	client := newFakeClient()
	// 授权额度低于阈值 1000 => 触发一次 MaxUint256 授权
	client.allowance = fixedpoint.MustParse("500")
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateRecorded, result.State)
	require.Equal(t, 1, client.approveCalls)
	require.Zero(t, client.allowance.Cmp(maxUint256))

	// 第二次：额度已是 MaxUint256，不再授权
	result = e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateRecorded, result.State)
	require.Equal(t, 1, client.approveCalls)
}

func TestEnsureAllowance_SkipWhenSufficient(t *testing.T) {
	client := newFakeClient()
	client.allowance = fixedpoint.MustParse("1000") // 正好等于阈值：不触发
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateRecorded, result.State)
	require.Equal(t, 0, client.approveCalls)
}

func TestCircuitBreakerBlocksSwap(t *testing.T) {
	client := newFakeClient()
	e, breaker := newTestExecutor(client)
	breaker.Halt()

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateAbandoned, result.State)
	require.Equal(t, 0, client.swapCalls)
}

func TestEntryPriceOnBuyAndStopLoss(t *testing.T) {
	client := newFakeClient()
	// 1 POL 换 0.9 XIN => 成本价 ≈ 1.1111 POL/XIN
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateRecorded, result.State)

	pos := e.Position()
	require.True(t, pos.HasEntry())
	require.Zero(t, pos.Amount.Cmp(fixedpoint.MustParse("0.9")))

	wantEntry := new(big.Int).Mul(fixedpoint.MustParse("1"), fixedpoint.One)
	wantEntry.Div(wantEntry, fixedpoint.MustParse("0.9"))
	require.Zero(t, pos.EntryPrice.Cmp(wantEntry))

	// 止损清仓后成本价清除
	stop := domain.Action{
		Kind:      domain.ActionStopLoss,
		Direction: domain.SwapXinToPol,
		Amount:    fixedpoint.MustParse("0.9"),
		Reason:    "test",
	}
	result = e.Execute(context.Background(), stop)
	require.Equal(t, StateRecorded, result.State)
	require.False(t, e.Position().HasEntry())
}

func TestEntryPriceWeightedAverage(t *testing.T) {
	client := newFakeClient()
	e, _ := newTestExecutor(client)

	// 两次买入：1 POL -> 0.9 XIN，再 1 POL -> 0.9 XIN（同价）
	require.Equal(t, StateRecorded, e.Execute(context.Background(), buyAction("1")).State)
	require.Equal(t, StateRecorded, e.Execute(context.Background(), buyAction("1")).State)

	pos := e.Position()
	require.Zero(t, pos.Amount.Cmp(fixedpoint.MustParse("1.8")))

	// 同价加仓：加权平均价不变
	wantEntry := new(big.Int).Mul(fixedpoint.One, fixedpoint.One)
	wantEntry.Div(wantEntry, fixedpoint.MustParse("0.9"))
	require.Zero(t, pos.EntryPrice.Cmp(wantEntry))
}

func TestPartialSellShrinksPosition(t *testing.T) {
	client := newFakeClient()
	e, _ := newTestExecutor(client)

	require.Equal(t, StateRecorded, e.Execute(context.Background(), buyAction("1")).State)

	sell := domain.Action{
		Kind:      domain.ActionSwap,
		Direction: domain.SwapXinToPol,
		Amount:    fixedpoint.MustParse("0.4"),
		Reason:    "test",
	}
	require.Equal(t, StateRecorded, e.Execute(context.Background(), sell).State)

	pos := e.Position()
	require.True(t, pos.HasEntry())
	require.Zero(t, pos.Amount.Cmp(fixedpoint.MustParse("0.5")))
}

func TestAddLiquidityRecorded(t *testing.T) {
	client := newFakeClient()
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), domain.Action{
		Kind:      domain.ActionAddLiquidity,
		AmountPol: fixedpoint.MustParse("10"),
		AmountXin: fixedpoint.MustParse("10"),
		Reason:    "test",
	})
	require.Equal(t, StateRecorded, result.State)
}

func TestHarvestRecorded(t *testing.T) {
	client := newFakeClient()
	client.positionID = big.NewInt(1)
	e, _ := newTestExecutor(client)

	result := e.Execute(context.Background(), domain.Action{Kind: domain.ActionHarvestFees})
	require.Equal(t, StateRecorded, result.State)
	require.Equal(t, 1, client.collectCalls)
}

func TestHarvestWithoutPositionSkipped(t *testing.T) {
	// 没有头寸时归集是无事可做，不是失败：
	// 反复跳过不得累积失败计数，更不得把熔断器顶开
	client := newFakeClient()
	e, breaker := newTestExecutor(client)

	for i := 0; i < 5; i++ {
		result := e.Execute(context.Background(), domain.Action{Kind: domain.ActionHarvestFees})
		require.Equal(t, StateSkipped, result.State)
	}
	require.Equal(t, 0, client.collectCalls)
	require.Zero(t, e.tracker.Snapshot().FailedTrades)
	require.NoError(t, breaker.AllowTrading())

	// 常规交易照常通过
	result := e.Execute(context.Background(), buyAction("1"))
	require.Equal(t, StateRecorded, result.State)
}
