package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt 一次链上操作的结果
type Receipt struct {
	TxHash  string
	GasUsed uint64
	Success bool
}

// PoolState 池子状态快照
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int64
	Liquidity    *big.Int
	PolBalance   *big.Int // 池内 POL 余额
	XinBalance   *big.Int // 池内 XIN 余额
}

// SwapParams swap 参数
type SwapParams struct {
	TokenIn  common.Address
	TokenOut common.Address
	Fee      int64
	Deadline int64 // Unix 秒
	AmountIn *big.Int
	MinOut   *big.Int
}

// LiquidityParams 流动性补充参数（mint / increase 共用）
type LiquidityParams struct {
	AmountPol *big.Int
	AmountXin *big.Int
	MinPol    *big.Int
	MinXin    *big.Int
	Deadline  int64
}

// Client 账本客户端。
// 所有金额都是 18 位定点整数；所有调用都可能因网络或合约回滚失败。
// 同一实例的调用不会并发进行（主循环单线程）。
type Client interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*Receipt, error)

	// Quote 询价：amountIn 个 tokenIn 能换多少 tokenOut
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int64, amountIn *big.Int) (*big.Int, error)
	Swap(ctx context.Context, p SwapParams) (*Receipt, error)

	// 流动性操作都作用于单一跟踪头寸：
	// 没有头寸时 MintPosition 创建并记住 tokenId，之后 Increase/Decrease/Collect 复用它。
	MintPosition(ctx context.Context, p LiquidityParams) (*Receipt, error)
	IncreaseLiquidity(ctx context.Context, p LiquidityParams) (*Receipt, error)
	DecreaseLiquidity(ctx context.Context, liquidityPct int64, deadline int64) (*Receipt, error)
	// CollectFees 归集手续费，返回 POL/XIN 两侧的归集量（估计值，可能为 nil）
	CollectFees(ctx context.Context) (*Receipt, *big.Int, *big.Int, error)
	// PositionLiquidity 当前跟踪头寸的流动性，没有头寸时返回零
	PositionLiquidity(ctx context.Context) (*big.Int, error)

	PoolState(ctx context.Context) (PoolState, error)

	// PositionID 当前跟踪的头寸 ID，没有时返回 nil
	PositionID() *big.Int
	// RestorePositionID 重启后恢复头寸 ID
	RestorePositionID(id *big.Int)

	WalletAddress() common.Address
}
