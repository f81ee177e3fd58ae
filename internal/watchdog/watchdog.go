package watchdog

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/xibot/xibot/pkg/logger"
)

// Watchdog 活动看门狗。
// 成功动作后调用 Touch；超过窗口没有任何活动视为卡死，
// 主动退出进程，交给外部进程管理器重启。
type Watchdog struct {
	timeout      time.Duration
	lastActivity atomic.Int64 // Unix 纳秒

	// exit 可注入，测试时替换掉 os.Exit
	exit func(code int)
}

// New 创建看门狗
func New(timeout time.Duration) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		exit:    os.Exit,
	}
	w.Touch()
	return w
}

// Touch 记录一次活动
func (w *Watchdog) Touch() {
	w.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity 最近一次活动时间
func (w *Watchdog) LastActivity() time.Time {
	return time.Unix(0, w.lastActivity.Load())
}

// Expired 是否已超时
func (w *Watchdog) Expired() bool {
	if w.timeout <= 0 {
		return false
	}
	return time.Since(w.LastActivity()) > w.timeout
}

// Run 周期巡检，超时则退出进程。阻塞直到 ctx 取消。
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Expired() {
				logger.Errorf("🐶 看门狗超时：%s 内没有任何活动，退出进程等待重启", w.timeout)
				w.exit(1)
				return
			}
		}
	}
}
