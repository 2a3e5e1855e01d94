package notify

import (
	"context"
	"crypto-signal-bot/internal/model"
)

// Notifier 消息推送。实现方不得阻塞交易周期，发送失败只记录日志。
type Notifier interface {
	// NotifySignal 接收每个周期的决策 (包括 neutral/hold)，由实现方决定是否推送
	NotifySignal(ctx context.Context, symbol string, signal model.Signal, price float64)
	NotifyTrade(ctx context.Context, trade model.TradeRecord)
	NotifyError(ctx context.Context, err error)
	// Close 等待已提交的消息发送完成
	Close() error
}

// Nop 不发送任何消息
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) NotifySignal(context.Context, string, model.Signal, float64) {}
func (Nop) NotifyTrade(context.Context, model.TradeRecord)              {}
func (Nop) NotifyError(context.Context, error)                          {}
func (Nop) Close() error                                                { return nil }
