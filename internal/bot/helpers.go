package bot

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xibot/xibot/pkg/fixedpoint"
)

func addr(hex string) common.Address {
	return common.HexToAddress(hex)
}

// dailyLossMilli 把 POL 数量字符串换算成毫 POL（熔断器的日亏损口径）
func dailyLossMilli(polAmount string) int64 {
	wei := fixedpoint.MustParse(polAmount)
	milli := new(big.Int).Div(new(big.Int).Mul(wei, big.NewInt(1000)), fixedpoint.One)
	return milli.Int64()
}
