package notify

import (
	"bytes"
	"context"
	"crypto-signal-bot/internal/model"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultTelegramAPI = "https://api.telegram.org"
	telegramMaxRetries = 3
)

// TelegramConfig Telegram 机器人配置；Token 与 ChatID 通常来自 .env
type TelegramConfig struct {
	Token      string
	ChatID     string
	APIBaseURL string
	RetryDelay time.Duration // 退避起始间隔
	Timeout    time.Duration
}

// Telegram 通过 sendMessage 推送 MarkdownV2 消息。发送在独立 goroutine 中进行，
// 同一交易对与上一周期相同的信号不重复推送；错误消息总是推送。
type Telegram struct {
	cfg    TelegramConfig
	http   *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	lastSent map[string]model.Signal
	wg       sync.WaitGroup
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram token or chat id is not set")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultTelegramAPI
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With(zap.String("component", "telegram")),
		lastSent: make(map[string]model.Signal),
	}, nil
}

var signalTitles = map[model.Signal]string{
	model.SignalStrongBuy:  "🚀 *Strong Buy Signal\\!*",
	model.SignalBuy:        "📈 *Buy Signal*",
	model.SignalNeutral:    "⚖️ *Neutral Signal*",
	model.SignalHold:       "⏸ *Hold*",
	model.SignalSell:       "📉 *Sell Signal*",
	model.SignalStrongSell: "⚠️ *Strong Sell Signal\\!*",
}

// NotifySignal 每个周期的决策都会记入 lastSent，只有 buy/sell 方向且与上次不同时才推送。
// 中间出现 neutral/hold 后同一方向的信号会再次推送。
func (t *Telegram) NotifySignal(ctx context.Context, symbol string, signal model.Signal, price float64) {
	t.mu.Lock()
	last, seen := t.lastSent[symbol]
	t.lastSent[symbol] = signal
	t.mu.Unlock()
	if seen && last == signal {
		return
	}
	if !signal.IsBuy() && !signal.IsSell() {
		return
	}

	title, ok := signalTitles[signal]
	if !ok {
		title = "*Signal*"
	}
	text := fmt.Sprintf("%s\n🔹 Pair: `%s`\n🔹 Signal: `%s`\n🔹 Price: `%s`",
		title, EscapeMarkdown(symbol), EscapeMarkdown(signal.String()), EscapeMarkdown(fmt.Sprintf("%.8g", price)))
	t.send(ctx, text)
}

func (t *Telegram) NotifyTrade(ctx context.Context, trade model.TradeRecord) {
	title := "📈 *Market Buy Order Executed\\!*"
	if trade.Side == model.SideSell {
		title = "📉 *Market Sell Order Executed\\!*"
	}
	text := fmt.Sprintf("%s\n🔹 Pair: `%s`\n🔹 Qty: `%s`\n🔹 Price: `%s`\n🔹 Fee: `%s`\n🔹 PnL: `%s`\n🔹 Reason: `%s`",
		title,
		EscapeMarkdown(trade.Symbol),
		EscapeMarkdown(fmt.Sprintf("%.8f", trade.Quantity)),
		EscapeMarkdown(fmt.Sprintf("%.8g", trade.Price)),
		EscapeMarkdown(fmt.Sprintf("%.6f", trade.Fee)),
		EscapeMarkdown(fmt.Sprintf("%.4f", trade.RealizedPnL)),
		EscapeMarkdown(trade.TriggerReason))
	t.send(ctx, text)
}

func (t *Telegram) NotifyError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	t.send(ctx, fmt.Sprintf("❌ *Error in trading bot:* `%s`", EscapeMarkdown(err.Error())))
}

func (t *Telegram) Close() error {
	t.wg.Wait()
	t.http.CloseIdleConnections()
	return nil
}

// send 异步发送；不随调用方的 ctx 取消
func (t *Telegram) send(ctx context.Context, text string) {
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.sendNow(ctx, text); err != nil {
			t.logger.Error("Failed to send Telegram notification", zap.Error(err))
		}
	}()
}

func (t *Telegram) sendNow(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.cfg.ChatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBaseURL, t.cfg.Token)

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.http.Do(req)
		if err != nil {
			t.logger.Warn("Telegram send failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("telegram 404, check bot token and chat id"))
		case resp.StatusCode == http.StatusBadRequest:
			return backoff.Permanent(fmt.Errorf("telegram rejected message: %s", strings.TrimSpace(string(body))))
		case resp.StatusCode >= 300:
			err := fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			t.logger.Warn("Telegram send failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, telegramMaxRetries-1), ctx)); err != nil {
		return err
	}
	t.logger.Debug("Telegram message sent", zap.Int("attempt", attempt))
	return nil
}

var markdownReplacer = func() *strings.Replacer {
	reserved := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	pairs := make([]string, 0, 2*len(reserved))
	for _, r := range reserved {
		pairs = append(pairs, r, "\\"+r)
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeMarkdown 转义 Telegram MarkdownV2 保留字符
func EscapeMarkdown(text string) string {
	return markdownReplacer.Replace(text)
}
