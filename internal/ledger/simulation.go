package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/xibot/xibot/pkg/fixedpoint"
	"github.com/xibot/xibot/pkg/logger"
)

// SimulationClient 仿真账本。
// 内存里维护钱包与池子余额，报价走恒定乘积公式，
// 所有写操作只记录意图并返回伪造回执，不产生任何网络调用。
type SimulationClient struct {
	mu sync.Mutex

	pol common.Address
	xin common.Address

	walletPol *big.Int
	walletXin *big.Int
	poolPol   *big.Int
	poolXin   *big.Int

	positionID  *big.Int
	positionLiq *big.Int // 自有头寸流动性，以投入的 POL 计
	address     common.Address
}

// NewSimulationClient 创建仿真账本并注入初始余额
func NewSimulationClient(pol, xin common.Address, walletPol, walletXin, poolPol, poolXin *big.Int) *SimulationClient {
	return &SimulationClient{
		pol:         pol,
		xin:         xin,
		walletPol:   new(big.Int).Set(walletPol),
		walletXin:   new(big.Int).Set(walletXin),
		poolPol:     new(big.Int).Set(poolPol),
		poolXin:     new(big.Int).Set(poolXin),
		positionLiq: big.NewInt(0),
		address:     common.HexToAddress("0x00000000000000000000000000000000005e1f00"),
	}
}

// WalletAddress 仿真钱包地址
func (s *SimulationClient) WalletAddress() common.Address { return s.address }

// PositionID 当前跟踪的头寸 ID
func (s *SimulationClient) PositionID() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positionID == nil {
		return nil
	}
	return new(big.Int).Set(s.positionID)
}

// RestorePositionID 恢复头寸 ID
func (s *SimulationClient) RestorePositionID(id *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != nil && id.Sign() > 0 {
		s.positionID = new(big.Int).Set(id)
	}
}

// BalanceOf 余额查询
func (s *SimulationClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner == s.address {
		if token == s.pol {
			return new(big.Int).Set(s.walletPol), nil
		}
		return new(big.Int).Set(s.walletXin), nil
	}
	if token == s.pol {
		return new(big.Int).Set(s.poolPol), nil
	}
	return new(big.Int).Set(s.poolXin), nil
}

// Allowance 仿真模式下授权永远充足
func (s *SimulationClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), nil
}

// Approve 只记录意图
func (s *SimulationClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*Receipt, error) {
	logger.Infof("🧪 [SIM] approve token=%s spender=%s", token.Hex(), spender.Hex())
	return s.fakeReceipt(), nil
}

// Quote 恒定乘积报价：out = in * reserveOut / (reserveIn + in)
func (s *SimulationClient) Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int64, amountIn *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteLocked(tokenIn, amountIn)
}

func (s *SimulationClient) quoteLocked(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amountIn 非法")
	}
	reserveIn, reserveOut := s.poolPol, s.poolXin
	if tokenIn == s.xin {
		reserveIn, reserveOut = s.poolXin, s.poolPol
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("池子没有流动性")
	}
	out := new(big.Int).Mul(amountIn, reserveOut)
	out.Div(out, new(big.Int).Add(reserveIn, amountIn))
	return out, nil
}

// Swap 在内存余额上完成换仓
func (s *SimulationClient) Swap(ctx context.Context, p SwapParams) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.quoteLocked(p.TokenIn, p.AmountIn)
	if err != nil {
		return nil, err
	}
	if p.MinOut != nil && out.Cmp(p.MinOut) < 0 {
		return nil, fmt.Errorf("滑点超出容忍: out=%s minOut=%s",
			fixedpoint.Format(out), fixedpoint.Format(p.MinOut))
	}

	if p.TokenIn == s.pol {
		if s.walletPol.Cmp(p.AmountIn) < 0 {
			return nil, fmt.Errorf("POL 余额不足")
		}
		s.walletPol.Sub(s.walletPol, p.AmountIn)
		s.poolPol.Add(s.poolPol, p.AmountIn)
		s.poolXin.Sub(s.poolXin, out)
		s.walletXin.Add(s.walletXin, out)
	} else {
		if s.walletXin.Cmp(p.AmountIn) < 0 {
			return nil, fmt.Errorf("XIN 余额不足")
		}
		s.walletXin.Sub(s.walletXin, p.AmountIn)
		s.poolXin.Add(s.poolXin, p.AmountIn)
		s.poolPol.Sub(s.poolPol, out)
		s.walletPol.Add(s.walletPol, out)
	}

	logger.Infof("🧪 [SIM] swap in=%s out=%s", fixedpoint.Format(p.AmountIn), fixedpoint.Format(out))
	return s.fakeReceipt(), nil
}

// MintPosition 仿真建仓
func (s *SimulationClient) MintPosition(ctx context.Context, p LiquidityParams) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.walletPol.Cmp(p.AmountPol) < 0 || s.walletXin.Cmp(p.AmountXin) < 0 {
		return nil, fmt.Errorf("余额不足以建仓")
	}
	s.walletPol.Sub(s.walletPol, p.AmountPol)
	s.walletXin.Sub(s.walletXin, p.AmountXin)
	s.poolPol.Add(s.poolPol, p.AmountPol)
	s.poolXin.Add(s.poolXin, p.AmountXin)
	s.positionID = big.NewInt(1)
	s.positionLiq = new(big.Int).Set(p.AmountPol)

	logger.Infof("🧪 [SIM] mint position pol=%s xin=%s", fixedpoint.Format(p.AmountPol), fixedpoint.Format(p.AmountXin))
	return s.fakeReceipt(), nil
}

// IncreaseLiquidity 仿真追加
func (s *SimulationClient) IncreaseLiquidity(ctx context.Context, p LiquidityParams) (*Receipt, error) {
	s.mu.Lock()
	hasPosition := s.positionID != nil
	s.mu.Unlock()
	if !hasPosition {
		return s.MintPosition(ctx, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.walletPol.Cmp(p.AmountPol) < 0 || s.walletXin.Cmp(p.AmountXin) < 0 {
		return nil, fmt.Errorf("余额不足以追加流动性")
	}
	s.walletPol.Sub(s.walletPol, p.AmountPol)
	s.walletXin.Sub(s.walletXin, p.AmountXin)
	s.poolPol.Add(s.poolPol, p.AmountPol)
	s.poolXin.Add(s.poolXin, p.AmountXin)
	s.positionLiq.Add(s.positionLiq, p.AmountPol)

	logger.Infof("🧪 [SIM] increase liquidity pol=%s xin=%s", fixedpoint.Format(p.AmountPol), fixedpoint.Format(p.AmountXin))
	return s.fakeReceipt(), nil
}

// DecreaseLiquidity 仿真按百分比撤出
func (s *SimulationClient) DecreaseLiquidity(ctx context.Context, liquidityPct int64, deadline int64) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.positionID == nil {
		return nil, fmt.Errorf("没有可撤出的流动性头寸")
	}
	if liquidityPct <= 0 || liquidityPct > 100 {
		return nil, fmt.Errorf("撤出百分比非法: %d", liquidityPct)
	}

	outPol := new(big.Int).Mul(s.poolPol, big.NewInt(liquidityPct))
	outPol.Div(outPol, big.NewInt(100))
	outXin := new(big.Int).Mul(s.poolXin, big.NewInt(liquidityPct))
	outXin.Div(outXin, big.NewInt(100))

	s.poolPol.Sub(s.poolPol, outPol)
	s.poolXin.Sub(s.poolXin, outXin)
	s.walletPol.Add(s.walletPol, outPol)
	s.walletXin.Add(s.walletXin, outXin)

	burned := new(big.Int).Mul(s.positionLiq, big.NewInt(liquidityPct))
	burned.Div(burned, big.NewInt(100))
	s.positionLiq.Sub(s.positionLiq, burned)

	logger.Infof("🧪 [SIM] decrease liquidity %d%% pol=%s xin=%s",
		liquidityPct, fixedpoint.Format(outPol), fixedpoint.Format(outXin))
	return s.fakeReceipt(), nil
}

// CollectFees 仿真归集：返回零手续费
func (s *SimulationClient) CollectFees(ctx context.Context) (*Receipt, *big.Int, *big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positionID == nil {
		return nil, nil, nil, fmt.Errorf("没有可归集的流动性头寸")
	}
	logger.Info("🧪 [SIM] collect fees")
	return s.fakeReceipt(), big.NewInt(0), big.NewInt(0), nil
}

// PositionLiquidity 自有头寸流动性，没有头寸时为零
func (s *SimulationClient) PositionLiquidity(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positionID == nil || s.positionLiq == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(s.positionLiq), nil
}

// PoolState 池子状态
func (s *SimulationClient) PoolState(ctx context.Context) (PoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PoolState{
		SqrtPriceX96: big.NewInt(0),
		Liquidity:    new(big.Int).Add(s.poolPol, s.poolXin),
		PolBalance:   new(big.Int).Set(s.poolPol),
		XinBalance:   new(big.Int).Set(s.poolXin),
	}, nil
}

func (s *SimulationClient) fakeReceipt() *Receipt {
	return &Receipt{
		TxHash:  "0xsim-" + uuid.NewString(),
		GasUsed: 21000,
		Success: true,
	}
}
