package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续交易。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续执行失败上限
	MaxConsecutiveErrors int64

	// DailyLossLimitMilli 当日最大亏损（毫 POL，1e-3）。达到或超过时立即熔断。
	DailyLossLimitMilli int64

	// Cooldown 熔断后自动恢复的冷却时间。0 = 只能手动恢复。
	Cooldown time.Duration
}

// CircuitBreaker 高频快路径使用原子变量。
type CircuitBreaker struct {
	halted        atomic.Bool
	trippedAtNano atomic.Int64

	consecutiveErrors atomic.Int64
	dailyPnlMilli     atomic.Int64
	dayKey            atomic.Int64 // YYYYMMDD

	maxConsecutiveErrors atomic.Int64
	dailyLossLimitMilli  atomic.Int64
	cooldownNano         atomic.Int64
}

// NewCircuitBreaker 创建断路器
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

// SetConfig 更新配置
func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.dailyLossLimitMilli.Store(cfg.DailyLossLimitMilli)
	cb.cooldownNano.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
	cb.trippedAtNano.Store(time.Now().UnixNano())
}

// Resume 手动恢复（同时清空连续错误计数）
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// AllowTrading 快路径检查是否允许交易
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		// 冷却到期后自动恢复
		cooldown := cb.cooldownNano.Load()
		if cooldown > 0 && time.Now().UnixNano()-cb.trippedAtNano.Load() >= cooldown {
			cb.Resume()
		} else {
			return ErrCircuitBreakerOpen
		}
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.Halt()
		return ErrCircuitBreakerOpen
	}

	limit := cb.dailyLossLimitMilli.Load()
	if limit > 0 {
		cb.rollDayIfNeeded()
		if cb.dailyPnlMilli.Load() <= -limit {
			cb.Halt()
			return ErrCircuitBreakerOpen
		}
	}

	return nil
}

// OnSuccess 一次关键执行成功后清空连续错误计数
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 一次关键执行失败后累计连续错误计数
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// AddPnLMilli 增量更新当日 PnL（毫 POL）。负数表示亏损。
func (cb *CircuitBreaker) AddPnLMilli(delta int64) {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.dailyPnlMilli.Add(delta)
}

func (cb *CircuitBreaker) rollDayIfNeeded() {
	// YYYYMMDD（本地时间即可；风控用途不要求跨时区精确）
	now := time.Now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := cb.dayKey.Load()
	if prev == key {
		return
	}
	// 切换成功者负责清零当日 PnL
	if cb.dayKey.CompareAndSwap(prev, key) {
		cb.dailyPnlMilli.Store(0)
	}
}
