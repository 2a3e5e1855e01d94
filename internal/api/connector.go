package api

import (
	"context"
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/service"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultOkxWSURL = "wss://ws.okx.com:8443/ws/v5/public"

// OkxWsData 适用于 Okx V5 的通用推送结构
type OkxWsData struct {
	Arg struct {
		Channel string `json:"channel"`
		InstId  string `json:"instId"`
	} `json:"arg"`
	Data  json.RawMessage `json:"data"` // 按 channel 延迟解析
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
}

// OkxTradeData trades 频道数据
type OkxTradeData struct {
	Timestamp string `json:"ts"` // 成交时间 (毫秒字符串)
	Price     string `json:"px"`
	Size      string `json:"sz"`
	Side      string `json:"side"`
	TradeId   string `json:"tradeId"`
	InstId    string `json:"instId"`
}

// OkxTickerData tickers 频道数据
type OkxTickerData struct {
	LastPrice string `json:"last"`
	Timestamp string `json:"ts"`
	InstId    string `json:"instId"`
}

// Connector 订阅 Okx 公共行情 (现货 trades + tickers)，转为 model.Ticker 输出
type Connector struct {
	wsURL          string
	instToSymbol   map[string]string // InstID -> Symbol
	tickerChannel  chan model.Ticker
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *zap.Logger
}

func NewConnector(wsURL string, symbols []string, logger *zap.Logger) *Connector {
	if wsURL == "" {
		wsURL = DefaultOkxWSURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	instToSymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		instToSymbol[InstID(symbol)] = symbol
	}
	logger.Info("Connector initialized", zap.Strings("symbols", symbols))

	return &Connector{
		wsURL:          wsURL,
		instToSymbol:   instToSymbol,
		tickerChannel:  make(chan model.Ticker, 2048), // 应对高频成交
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		logger:         logger.With(zap.String("component", "connector")),
	}
}

// TickerChannel Run 退出后关闭
func (c *Connector) TickerChannel() <-chan model.Ticker {
	return c.tickerChannel
}

// Run 连接并持续读取，断线后按 reconnectDelay 重连，直到 ctx 取消
func (c *Connector) Run(ctx context.Context) error {
	defer close(c.tickerChannel)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Connector stopped")
			return nil
		}
		c.logger.Error("WS session ended, reconnecting", zap.Error(err), zap.Duration("delay", c.reconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Connector) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	defer conn.Close()

	// ReadMessage 阻塞时通过关闭连接退出
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(c.subscription()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("Subscribed to Okx trades and tickers", zap.Int("instruments", len(c.instToSymbol)))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tickers, err := c.decodeMessage(message)
		if err != nil {
			c.logger.Warn("Dropping undecodable WS message", zap.Error(err))
			continue
		}
		for _, t := range tickers {
			// 不阻塞读循环
			select {
			case c.tickerChannel <- t:
			default:
				c.logger.Warn("Ticker channel full, dropping", zap.String("symbol", t.Symbol))
			}
		}
	}
}

func (c *Connector) subscription() map[string]any {
	instIDs := make([]string, 0, len(c.instToSymbol))
	for id := range c.instToSymbol {
		instIDs = append(instIDs, id)
	}
	sort.Strings(instIDs)

	args := make([]map[string]string, 0, 2*len(instIDs))
	for _, id := range instIDs {
		args = append(args,
			map[string]string{"channel": "trades", "instId": id},
			map[string]string{"channel": "tickers", "instId": id})
	}
	return map[string]any{"op": "subscribe", "args": args}
}

// decodeMessage 解析一条推送；事件消息和未订阅的 instId 返回空
func (c *Connector) decodeMessage(message []byte) ([]model.Ticker, error) {
	var resp OkxWsData
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, err
	}
	if resp.Event == "error" {
		return nil, fmt.Errorf("okx ws error %s: %s", resp.Code, resp.Msg)
	}
	if resp.Event != "" || len(resp.Data) == 0 {
		return nil, nil
	}
	symbol, ok := c.instToSymbol[resp.Arg.InstId]
	if !ok {
		return nil, nil
	}

	switch resp.Arg.Channel {
	case "trades":
		var trades []OkxTradeData
		if err := json.Unmarshal(resp.Data, &trades); err != nil {
			return nil, fmt.Errorf("trades data: %w", err)
		}
		out := make([]model.Ticker, 0, len(trades))
		for _, tr := range trades {
			price, err1 := service.StringToFloat(tr.Price)
			volume, err2 := service.StringToFloat(tr.Size)
			ts, err3 := service.StringToInt64(tr.Timestamp)
			if err := errors.Join(err1, err2, err3); err != nil {
				continue
			}
			out = append(out, model.Ticker{Symbol: symbol, Timestamp: ts, Price: price, Volume: volume})
		}
		return out, nil

	case "tickers":
		var tickers []OkxTickerData
		if err := json.Unmarshal(resp.Data, &tickers); err != nil {
			return nil, fmt.Errorf("tickers data: %w", err)
		}
		if len(tickers) == 0 {
			return nil, nil
		}
		// 仅取最新快照；价格快照成交量为 0
		price, err := service.StringToFloat(tickers[0].LastPrice)
		if err != nil {
			return nil, nil
		}
		ts, _ := service.StringToInt64(tickers[0].Timestamp)
		return []model.Ticker{{Symbol: symbol, Timestamp: ts, Price: price}}, nil
	}
	return nil, nil
}
