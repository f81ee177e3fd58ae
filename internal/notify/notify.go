package notify

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/xibot/xibot/pkg/logger"
)

// Notifier 通知通道。
// 发送是 fire-and-forget：失败只记日志，绝不阻塞或影响核心逻辑。
type Notifier interface {
	Send(text string)
	SendPhoto(photo []byte, caption string)
}

// TelegramNotifier Telegram Bot API 实现
type TelegramNotifier struct {
	client *resty.Client
	chatID string
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", botToken)).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &TelegramNotifier{
		client: client,
		chatID: chatID,
	}
}

// Send 发送文本消息（异步，不等待结果）
func (t *TelegramNotifier) Send(text string) {
	go func() {
		if err := t.send(text); err != nil {
			logger.Warnf("📨 Telegram 发送失败: %v", err)
		}
	}()
}

func (t *TelegramNotifier) send(text string) error {
	resp, err := t.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		return errors.Wrap(err, "sendMessage")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("sendMessage: http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// SendPhoto 发送图片消息（异步）
func (t *TelegramNotifier) SendPhoto(photo []byte, caption string) {
	go func() {
		resp, err := t.client.R().
			SetFileReader("photo", "chart.png", bytes.NewReader(photo)).
			SetFormData(map[string]string{
				"chat_id": t.chatID,
				"caption": caption,
			}).
			Post("/sendPhoto")
		if err != nil {
			logger.Warnf("📨 Telegram 图片发送失败: %v", err)
			return
		}
		if !resp.IsSuccess() {
			logger.Warnf("📨 Telegram 图片发送失败: http %d", resp.StatusCode())
		}
	}()
}

// NopNotifier 空实现，未配置 Telegram 时使用
type NopNotifier struct{}

// Send 丢弃消息
func (NopNotifier) Send(text string) {}

// SendPhoto 丢弃图片
func (NopNotifier) SendPhoto(photo []byte, caption string) {}
