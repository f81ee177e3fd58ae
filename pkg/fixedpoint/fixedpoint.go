package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// 链上 ERC-20 金额统一使用 18 位小数定点整数（wei 风格）。
// 本包只做人类单位 <-> 定点整数的转换，所有金额比较/加减都直接用 *big.Int，
// 避免 float 截断漂移。

// One 1 个代币对应的定点值（10^18）
var One = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var oneDecimal = decimal.NewFromBigInt(big.NewInt(1), 18)

// Parse 把人类单位字符串（如 "1.5"）转换为 18 位定点整数
func Parse(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("解析金额失败: %w", err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("金额不能为负: %s", s)
	}
	return d.Mul(oneDecimal).BigInt(), nil
}

// MustParse Parse 的 panic 版本，仅用于常量初始化
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromFloat 把 float 人类单位转换为定点整数（只用于随机金额等派生值，精度截断到 1e-6）
func FromFloat(f float64) *big.Int {
	d := decimal.NewFromFloat(f).Round(6)
	if d.IsNegative() {
		return big.NewInt(0)
	}
	return d.Mul(oneDecimal).BigInt()
}

// Format 把定点整数格式化为 4 位小数的人类单位字符串
func Format(x *big.Int) string {
	if x == nil {
		return "0.0000"
	}
	return decimal.NewFromBigInt(x, -18).StringFixed(4)
}

// ToFloat 把定点整数转换为 float 人类单位。
// 只允许用于比值/阈值类的展示与信号计算，绝不能再转回金额。
func ToFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(x, -18).Float64()
	return f
}

// MulFrac 计算 x * num / den（整数精确运算，用于滑点等比例折算）
func MulFrac(x *big.Int, num, den int64) *big.Int {
	if x == nil || den == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(x, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}

// ApplySlippage 对报价应用滑点容忍度（万分比），返回最小可接受输出。
// 例如 slippageBps=200 表示 2%：minOut = quote * 9800 / 10000。
func ApplySlippage(quote *big.Int, slippageBps int64) *big.Int {
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps > 10000 {
		slippageBps = 10000
	}
	return MulFrac(quote, 10000-slippageBps, 10000)
}

// Add 返回 x + y（不修改入参）
func Add(x, y *big.Int) *big.Int {
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return new(big.Int).Add(x, y)
}

// Sub 返回 x - y，结果为负时归零（金额语义下不存在负值）
func Sub(x, y *big.Int) *big.Int {
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	out := new(big.Int).Sub(x, y)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// IsZero x == nil 或 x == 0
func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

// Cmp 空值安全的比较
func Cmp(x, y *big.Int) int {
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return x.Cmp(y)
}
