package executor

import (
	"context"
	"crypto-signal-bot/internal/model"
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen 熔断器已打开，本次会话停止交易
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrOrderSubmission 下单在重试预算内全部失败
	ErrOrderSubmission = errors.New("order submission failed")
	// errNoTrade 调整后数量为 0，不下单
	errNoTrade = errors.New("order amount is zero after fees")
)

// OrderSubmissionError 重试耗尽后的下单失败
type OrderSubmissionError struct {
	Symbol   string
	Side     model.Side
	Attempts int
	Err      error
}

func (e *OrderSubmissionError) Error() string {
	return fmt.Sprintf("%s: %s %s after %d attempt(s): %v", ErrOrderSubmission, e.Side, e.Symbol, e.Attempts, e.Err)
}

func (e *OrderSubmissionError) Unwrap() error {
	return e.Err
}

func (e *OrderSubmissionError) Is(target error) bool {
	return target == ErrOrderSubmission
}

// Executor 是交易执行器的通用接口
type Executor interface {
	// 接收组合信号，并尝试执行交易 (开仓、平仓、移动止损)
	ExecuteSignal(ctx context.Context, symbol string, signal model.Signal) (*model.ExecutionResult, error)

	// 查询当前持仓
	Position(symbol string) model.Position

	// 熔断器是否打开
	Halted() bool

	// 返回已完成的成交记录
	GetTradeHistory() []model.TradeRecord
}
