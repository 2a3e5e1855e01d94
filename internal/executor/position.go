package executor

import (
	"crypto-signal-bot/internal/model"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PositionBook 按交易对保存持仓，只在成交后更新
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]model.Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]model.Position)}
}

// Get 返回持仓副本，不存在时为空仓
func (b *PositionBook) Get(symbol string) model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[symbol]; ok {
		return p
	}
	return model.Position{Symbol: symbol, Direction: model.DirFlat}
}

// Open 买单成交后建立或加仓，均价按成交量加权
func (b *PositionBook) Open(symbol string, qty, price, fee float64, at time.Time) model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || p.IsFlat() {
		p = model.Position{Symbol: symbol, Direction: model.DirLong, EntryTime: at}
	}
	oldQty := decimal.NewFromFloat(p.Quantity)
	addQty := decimal.NewFromFloat(qty)
	total := oldQty.Add(addQty)
	if total.IsPositive() {
		cost := oldQty.Mul(decimal.NewFromFloat(p.EntryPrice)).Add(addQty.Mul(decimal.NewFromFloat(price)))
		p.EntryPrice = cost.Div(total).InexactFloat64()
	}
	p.Quantity = total.InexactFloat64()
	p.EntryFee += fee
	b.positions[symbol] = p
	return p
}

// Reduce 卖单成交后减仓；full 为 true 或剩余数量不为正时归零为空仓。
// 返回本次平掉部分的已实现盈亏 (已扣除按比例分摊的开仓手续费和本次手续费)。
func (b *PositionBook) Reduce(symbol string, qty, price, fee float64, full bool) (model.Position, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || p.IsFlat() {
		return model.Position{Symbol: symbol, Direction: model.DirFlat}, 0
	}

	held := decimal.NewFromFloat(p.Quantity)
	closed := decimal.Min(decimal.NewFromFloat(qty), held)
	share := closed.Div(held)
	if full {
		share = decimal.NewFromInt(1)
	}
	entryFee := decimal.NewFromFloat(p.EntryFee).Mul(share)
	pnl := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice)).Mul(closed).
		Sub(entryFee).
		Sub(decimal.NewFromFloat(fee))

	remaining := held.Sub(closed)
	if full || !remaining.IsPositive() {
		delete(b.positions, symbol)
		return model.Position{Symbol: symbol, Direction: model.DirFlat}, pnl.InexactFloat64()
	}
	p.Quantity = remaining.InexactFloat64()
	p.EntryFee = decimal.NewFromFloat(p.EntryFee).Sub(entryFee).InexactFloat64()
	b.positions[symbol] = p
	return p, pnl.InexactFloat64()
}

// UpdateTrailingStop 多头时上移移动止损：新止损 = price*(1-trail)，只升不降。
// 返回当前止损价以及是否发生了移动。
func (b *PositionBook) UpdateTrailingStop(symbol string, price, trailDistance float64) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || p.IsFlat() {
		return 0, false
	}
	candidate := price * (1 - trailDistance)
	if p.TrailingStop == 0 || candidate > p.TrailingStop {
		p.TrailingStop = candidate
		b.positions[symbol] = p
		return candidate, true
	}
	return p.TrailingStop, false
}

// Symbols 当前非空仓的交易对
func (b *PositionBook) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.positions))
	for s, p := range b.positions {
		if !p.IsFlat() {
			out = append(out, s)
		}
	}
	return out
}
