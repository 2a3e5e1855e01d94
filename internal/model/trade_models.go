package model

import (
	"fmt"
	"time"
)

// Signal 策略层输出的分类交易建议
type Signal string

const (
	SignalStrongBuy  Signal = "strong_buy"
	SignalBuy        Signal = "buy"
	SignalNeutral    Signal = "neutral"
	SignalHold       Signal = "hold"
	SignalSell       Signal = "sell"
	SignalStrongSell Signal = "strong_sell"
)

// signalWeights 固定的信号权重表
var signalWeights = map[Signal]int{
	SignalStrongBuy:  3,
	SignalBuy:        2,
	SignalNeutral:    0,
	SignalHold:       0,
	SignalSell:       -2,
	SignalStrongSell: -3,
}

// Weight 返回信号对应的整数权重，未知信号按 0 处理
func (s Signal) Weight() int {
	return signalWeights[s]
}

func (s Signal) String() string {
	return string(s)
}

// Valid 是否为已定义的信号
func (s Signal) Valid() bool {
	_, ok := signalWeights[s]
	return ok
}

// IsBuy 对应开多方向 (buy / strong_buy)
func (s Signal) IsBuy() bool {
	return s == SignalBuy || s == SignalStrongBuy
}

// IsSell 对应平多方向 (sell / strong_sell)
func (s Signal) IsSell() bool {
	return s == SignalSell || s == SignalStrongSell
}

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) String() string {
	return string(s)
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type Direction string

const (
	DirLong Direction = "long" // 多
	DirFlat Direction = "flat" // 空仓
)

func (d Direction) String() string {
	return string(d)
}

// OrderIntent 策略决策转化后的下单意图
type OrderIntent struct {
	Symbol          string
	Side            Side
	RequestedAmount float64
}

// OrderParams 经过滑点和手续费调整后的实际下单参数
type OrderParams struct {
	Amount         float64 // 实际下单数量，满足 0 <= Amount <= OriginalAmount
	Price          float64 // 滑点调整后的价格
	Fee            float64 // 预估手续费 (计价货币)
	OriginalAmount float64
}

// Fill 交易所返回的成交确认
type Fill struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Filled        float64 // 成交数量，0 表示未成交
	Price         float64 // 成交均价
	Fee           float64
	Timestamp     time.Time
}

// Position 单个交易对的持仓状态
type Position struct {
	Symbol       string
	Direction    Direction
	Quantity     float64 // 仓位数量 (0 则为 FLAT)
	EntryPrice   float64
	TrailingStop float64 // 0 表示未设置
	EntryTime    time.Time
	EntryFee     float64
}

// IsFlat 是否空仓
func (p Position) IsFlat() bool {
	return p.Direction != DirLong || p.Quantity <= 0
}

// TradeRecord 记录一次成交 (开仓或平仓)
type TradeRecord struct {
	ID            string
	Symbol        string
	Side          Side
	Quantity      float64
	Price         float64
	Fee           float64
	RealizedPnL   float64 // 仅平仓时有值
	TriggerReason string  // "signal", "trailing_stop"
	Signal        Signal
	Timestamp     time.Time
}

func (t TradeRecord) String() string {
	return fmt.Sprintf("TRADE [%s %s] %.6f @ %.4f | Fee: %.4f | PnL: %.4f | Reason: %s",
		t.Side, t.Symbol, t.Quantity, t.Price, t.Fee, t.RealizedPnL, t.TriggerReason)
}

// ExecutionResult 执行层对一次决策的处理结果
type ExecutionResult struct {
	Symbol  string
	Action  string // "open", "close", "none"
	Reason  string
	Params  *OrderParams
	Fill    *Fill
	Trade   *TradeRecord
	Attempt int
}

// CycleResult 单个交易对在一个周期内的结果
type CycleResult struct {
	CycleID   string
	Symbol    string
	Decision  Signal
	Price     float64
	Execution *ExecutionResult
	Err       error
	Timestamp time.Time
}
