package api

import (
	"context"
	"crypto-signal-bot/internal/model"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderUnconfirmed 订单已被交易所接受，但成交情况未能确认
	ErrOrderUnconfirmed = errors.New("order placed but fill not confirmed")
	// ErrOrderNotFound 按客户端订单号查不到订单
	ErrOrderNotFound = errors.New("order not found")
)

// UnconfirmedOrderError 下单成功后查询成交失败。持仓状态未知，
// 调用方需要用 FetchOrder 按 ClientOrderID 对账后才能继续交易。
type UnconfirmedOrderError struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Err           error
}

func (e *UnconfirmedOrderError) Error() string {
	return fmt.Sprintf("%s: %s order %s (client %s): %v", ErrOrderUnconfirmed, e.Symbol, e.OrderID, e.ClientOrderID, e.Err)
}

func (e *UnconfirmedOrderError) Unwrap() error {
	return e.Err
}

func (e *UnconfirmedOrderError) Is(target error) bool {
	return target == ErrOrderUnconfirmed
}

// Balance 账户余额，按币种索引
type Balance struct {
	Free  map[string]float64
	Total map[string]float64
}

// OrderRequest 下单请求；Price 为 0 表示市价单
type OrderRequest struct {
	Symbol        string
	Side          model.Side
	Amount        float64
	Price         float64
	Type          model.OrderType
	ClientOrderID string
}

// Client 交易所客户端。实现方负责鉴权、限频和网络层重试，
// 业务层的重试与熔断由 executor 负责。
type Client interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.KLine, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	FetchBalance(ctx context.Context) (*Balance, error)
	// SubmitOrder 只有在返回的 Fill.Filled > 0 时才视为成交。
	// 已下单但成交未确认时返回 *UnconfirmedOrderError。
	SubmitOrder(ctx context.Context, req OrderRequest) (*model.Fill, error)
	// FetchOrder 按 SubmitOrder 使用的 ClientOrderID 查询订单的累计成交
	FetchOrder(ctx context.Context, symbol, clientOrderID string) (*model.Fill, error)
	Close() error
}

// SplitSymbol "BTC/USDT" -> ("BTC", "USDT")
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q, expected BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// InstID 交易对转为 Okx 现货 instId，例如 BTC/USDT -> BTC-USDT
func InstID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

// SymbolFromInstID Okx instId 转回交易对
func SymbolFromInstID(instID string) string {
	return strings.ReplaceAll(instID, "-", "/")
}
