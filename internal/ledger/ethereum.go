package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xibot/xibot/pkg/logger"
)

// EthereumConfig 链上客户端配置
type EthereumConfig struct {
	RPCURL          string
	ChainID         int64
	PrivateKey      *ecdsa.PrivateKey
	PolAddress      common.Address
	XinAddress      common.Address
	RouterAddress   common.Address
	QuoterAddress   common.Address
	PoolAddress     common.Address
	PositionManager common.Address
	PoolFee         int64
	TickLower       int64
	TickUpper       int64
	ConfirmTimeout  time.Duration // 0 = 无限等待确认
	GasLimitSwap    uint64        // 0 = 使用估算值
	GasPriceBumpPct int64
}

// EthereumClient 基于 go-ethereum 的账本客户端
type EthereumClient struct {
	client  *ethclient.Client
	chainID *big.Int
	privKey *ecdsa.PrivateKey
	from    common.Address

	cfg EthereumConfig

	erc20  abi.ABI
	quoter abi.ABI
	router abi.ABI
	posmgr abi.ABI
	pool   abi.ABI

	mu         sync.Mutex
	positionID *big.Int
}

// NewEthereumClient 连接 RPC 并解析 ABI
func NewEthereumClient(cfg EthereumConfig) (*EthereumClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接 RPC 失败: %w", err)
	}

	c := &EthereumClient{
		client:  client,
		chainID: big.NewInt(cfg.ChainID),
		privKey: cfg.PrivateKey,
		from:    crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		cfg:     cfg,
	}

	for _, p := range []struct {
		raw string
		dst *abi.ABI
	}{
		{erc20ABI, &c.erc20},
		{quoterABI, &c.quoter},
		{routerABI, &c.router},
		{positionManagerABI, &c.posmgr},
		{poolABI, &c.pool},
	} {
		parsed, err := abi.JSON(strings.NewReader(p.raw))
		if err != nil {
			return nil, fmt.Errorf("解析 ABI 失败: %w", err)
		}
		*p.dst = parsed
	}

	return c, nil
}

// Close 关闭 RPC 连接
func (c *EthereumClient) Close() {
	c.client.Close()
}

// WalletAddress 签名钱包地址
func (c *EthereumClient) WalletAddress() common.Address {
	return c.from
}

// PositionID 当前跟踪的头寸 ID
func (c *EthereumClient) PositionID() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.positionID == nil {
		return nil
	}
	return new(big.Int).Set(c.positionID)
}

// RestorePositionID 重启后恢复头寸 ID
func (c *EthereumClient) RestorePositionID(id *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != nil && id.Sign() > 0 {
		c.positionID = new(big.Int).Set(id)
	}
}

// BalanceOf ERC-20 余额
func (c *EthereumClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, c.erc20, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Allowance ERC-20 授权额度
func (c *EthereumClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, c.erc20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Approve 设置授权额度
func (c *EthereumClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*Receipt, error) {
	data, err := c.erc20.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("打包 approve 参数失败: %w", err)
	}
	return c.transact(ctx, token, data, 0)
}

// Quote 询价（eth_call，不上链）
func (c *EthereumClient) Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int64, amountIn *big.Int) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.QuoterAddress, c.quoter, "quoteExactInputSingle",
		tokenIn, tokenOut, big.NewInt(fee), amountIn, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("询价失败: %w", err)
	}
	return out[0].(*big.Int), nil
}

// exactInputSingleParams 与 router ABI 的 tuple 对应
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Swap 通过路由合约执行 exactInputSingle
func (c *EthereumClient) Swap(ctx context.Context, p SwapParams) (*Receipt, error) {
	data, err := c.router.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(p.Fee),
		Recipient:         c.from,
		Deadline:          big.NewInt(p.Deadline),
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.MinOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("打包 exactInputSingle 参数失败: %w", err)
	}
	return c.transact(ctx, c.cfg.RouterAddress, data, c.cfg.GasLimitSwap)
}

// token0/token1 按地址排序（池子的标准排序）
func (c *EthereumClient) sortedTokens() (token0, token1 common.Address, polIsToken0 bool) {
	if c.cfg.PolAddress.Cmp(c.cfg.XinAddress) < 0 {
		return c.cfg.PolAddress, c.cfg.XinAddress, true
	}
	return c.cfg.XinAddress, c.cfg.PolAddress, false
}

type mintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

// MintPosition 创建流动性头寸并记住 tokenId
func (c *EthereumClient) MintPosition(ctx context.Context, p LiquidityParams) (*Receipt, error) {
	token0, token1, polIsToken0 := c.sortedTokens()
	amount0, amount1 := p.AmountPol, p.AmountXin
	min0, min1 := p.MinPol, p.MinXin
	if !polIsToken0 {
		amount0, amount1 = amount1, amount0
		min0, min1 = min1, min0
	}
	params := mintParams{
		Token0:         token0,
		Token1:         token1,
		Fee:            big.NewInt(c.cfg.PoolFee),
		TickLower:      big.NewInt(c.cfg.TickLower),
		TickUpper:      big.NewInt(c.cfg.TickUpper),
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     orZero(min0),
		Amount1Min:     orZero(min1),
		Recipient:      c.from,
		Deadline:       big.NewInt(p.Deadline),
	}
	data, err := c.posmgr.Pack("mint", params)
	if err != nil {
		return nil, fmt.Errorf("打包 mint 参数失败: %w", err)
	}

	// 先用 eth_call 模拟拿到将要分配的 tokenId，再真正提交
	sim, err := c.client.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.cfg.PositionManager,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("模拟 mint 失败: %w", err)
	}
	simOut, err := c.posmgr.Unpack("mint", sim)
	if err != nil {
		return nil, fmt.Errorf("解析 mint 模拟结果失败: %w", err)
	}
	tokenID := simOut[0].(*big.Int)

	receipt, err := c.transact(ctx, c.cfg.PositionManager, data, 0)
	if err != nil {
		return nil, err
	}
	if receipt.Success {
		c.mu.Lock()
		c.positionID = new(big.Int).Set(tokenID)
		c.mu.Unlock()
		logger.Infof("🌊 新建流动性头寸 tokenId=%s", tokenID.String())
	}
	return receipt, nil
}

type increaseParams struct {
	TokenId        *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Deadline       *big.Int
}

// IncreaseLiquidity 向已有头寸追加流动性
func (c *EthereumClient) IncreaseLiquidity(ctx context.Context, p LiquidityParams) (*Receipt, error) {
	id := c.PositionID()
	if id == nil {
		// 没有头寸时直接走 mint
		return c.MintPosition(ctx, p)
	}

	_, _, polIsToken0 := c.sortedTokens()
	amount0, amount1 := p.AmountPol, p.AmountXin
	min0, min1 := p.MinPol, p.MinXin
	if !polIsToken0 {
		amount0, amount1 = amount1, amount0
		min0, min1 = min1, min0
	}
	data, err := c.posmgr.Pack("increaseLiquidity", increaseParams{
		TokenId:        id,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     orZero(min0),
		Amount1Min:     orZero(min1),
		Deadline:       big.NewInt(p.Deadline),
	})
	if err != nil {
		return nil, fmt.Errorf("打包 increaseLiquidity 参数失败: %w", err)
	}
	return c.transact(ctx, c.cfg.PositionManager, data, 0)
}

type decreaseParams struct {
	TokenId    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

// DecreaseLiquidity 按百分比撤出头寸流动性
func (c *EthereumClient) DecreaseLiquidity(ctx context.Context, liquidityPct int64, deadline int64) (*Receipt, error) {
	id := c.PositionID()
	if id == nil {
		return nil, fmt.Errorf("没有可撤出的流动性头寸")
	}
	if liquidityPct <= 0 || liquidityPct > 100 {
		return nil, fmt.Errorf("撤出百分比非法: %d", liquidityPct)
	}

	liquidity, err := c.positionLiquidity(ctx, id)
	if err != nil {
		return nil, err
	}
	part := new(big.Int).Mul(liquidity, big.NewInt(liquidityPct))
	part.Div(part, big.NewInt(100))
	if part.Sign() == 0 {
		return nil, fmt.Errorf("头寸流动性为零")
	}

	data, err := c.posmgr.Pack("decreaseLiquidity", decreaseParams{
		TokenId:    id,
		Liquidity:  part,
		Amount0Min: big.NewInt(0),
		Amount1Min: big.NewInt(0),
		Deadline:   big.NewInt(deadline),
	})
	if err != nil {
		return nil, fmt.Errorf("打包 decreaseLiquidity 参数失败: %w", err)
	}
	return c.transact(ctx, c.cfg.PositionManager, data, 0)
}

type collectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// CollectFees 归集头寸累计的手续费
func (c *EthereumClient) CollectFees(ctx context.Context) (*Receipt, *big.Int, *big.Int, error) {
	id := c.PositionID()
	if id == nil {
		return nil, nil, nil, fmt.Errorf("没有可归集的流动性头寸")
	}

	maxUint128 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	data, err := c.posmgr.Pack("collect", collectParams{
		TokenId:    id,
		Recipient:  c.from,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("打包 collect 参数失败: %w", err)
	}

	// 模拟一次拿到预计归集量，进统计
	sim, err := c.client.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.cfg.PositionManager,
		Data: data,
	}, nil)
	var amount0, amount1 *big.Int
	if err == nil {
		if out, uerr := c.posmgr.Unpack("collect", sim); uerr == nil {
			amount0 = out[0].(*big.Int)
			amount1 = out[1].(*big.Int)
		}
	}

	receipt, err := c.transact(ctx, c.cfg.PositionManager, data, 0)
	if err != nil {
		return nil, nil, nil, err
	}

	polFees, xinFees := amount0, amount1
	if _, _, polIsToken0 := c.sortedTokens(); !polIsToken0 {
		polFees, xinFees = amount1, amount0
	}
	return receipt, polFees, xinFees, nil
}

// PoolState 读取池子价格、流动性与两侧余额
func (c *EthereumClient) PoolState(ctx context.Context) (PoolState, error) {
	var st PoolState

	out, err := c.call(ctx, c.cfg.PoolAddress, c.pool, "slot0")
	if err != nil {
		return st, fmt.Errorf("读取 slot0 失败: %w", err)
	}
	st.SqrtPriceX96 = out[0].(*big.Int)
	st.Tick = out[1].(*big.Int).Int64()

	out, err = c.call(ctx, c.cfg.PoolAddress, c.pool, "liquidity")
	if err != nil {
		return st, fmt.Errorf("读取 liquidity 失败: %w", err)
	}
	st.Liquidity = out[0].(*big.Int)

	if st.PolBalance, err = c.BalanceOf(ctx, c.cfg.PolAddress, c.cfg.PoolAddress); err != nil {
		return st, err
	}
	if st.XinBalance, err = c.BalanceOf(ctx, c.cfg.XinAddress, c.cfg.PoolAddress); err != nil {
		return st, err
	}
	return st, nil
}

// PositionLiquidity 当前跟踪头寸的流动性，没有头寸时返回零
func (c *EthereumClient) PositionLiquidity(ctx context.Context) (*big.Int, error) {
	id := c.PositionID()
	if id == nil {
		return big.NewInt(0), nil
	}
	return c.positionLiquidity(ctx, id)
}

// positionLiquidity 读取头寸当前流动性
func (c *EthereumClient) positionLiquidity(ctx context.Context, id *big.Int) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.PositionManager, c.posmgr, "positions", id)
	if err != nil {
		return nil, fmt.Errorf("读取头寸失败: %w", err)
	}
	return out[7].(*big.Int), nil
}

// call 只读合约调用
func (c *EthereumClient) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("打包 %s 参数失败: %w", method, err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	return parsed.Unpack(method, result)
}

// transact 打包好的 calldata 走 nonce/gas/签名/发送/等待确认的标准流程
func (c *EthereumClient) transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*Receipt, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("获取 nonce 失败: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	if c.cfg.GasPriceBumpPct > 0 {
		gasPrice.Mul(gasPrice, big.NewInt(100+c.cfg.GasPriceBumpPct))
		gasPrice.Div(gasPrice, big.NewInt(100))
	}

	if gasLimit == 0 {
		gasLimit, err = c.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.from,
			To:    &to,
			Data:  data,
			Value: big.NewInt(0),
		})
		if err != nil {
			return nil, fmt.Errorf("估算 gas 失败: %w", err)
		}
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privKey)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	logger.Infof("📤 交易已提交 hash=%s nonce=%d gas=%d", signedTx.Hash().Hex(), nonce, gasLimit)

	waitCtx := ctx
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}
	mined, err := bind.WaitMined(waitCtx, c.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("等待确认失败 hash=%s: %w", signedTx.Hash().Hex(), err)
	}

	return &Receipt{
		TxHash:  signedTx.Hash().Hex(),
		GasUsed: mined.GasUsed,
		Success: mined.Status == ethtypes.ReceiptStatusSuccessful,
	}, nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return x
}
