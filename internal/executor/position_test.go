package executor

import (
	"crypto-signal-bot/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionLifecycle(t *testing.T) {
	book := NewPositionBook()
	assert.True(t, book.Get("BTC/USDT").IsFlat())

	p := book.Open("BTC/USDT", 1, 100, 0.1, time.Now())
	assert.Equal(t, model.DirLong, p.Direction)
	assert.Equal(t, 1.0, p.Quantity)

	p = book.Open("BTC/USDT", 1, 110, 0.11, time.Now())
	assert.InDelta(t, 105, p.EntryPrice, 1e-9)
	assert.InDelta(t, 2, p.Quantity, 1e-9)

	left, pnl := book.Reduce("BTC/USDT", 1, 120, 0.12, false)
	assert.InDelta(t, 1, left.Quantity, 1e-9)
	// (120-105)*1 - 0.105 (一半开仓费) - 0.12
	assert.InDelta(t, 14.775, pnl, 1e-9)

	left, _ = book.Reduce("BTC/USDT", 0.999, 120, 0, true)
	assert.True(t, left.IsFlat())
	assert.True(t, book.Get("BTC/USDT").IsFlat())
	assert.Empty(t, book.Symbols())
}

func TestTrailingStopRatchetsUp(t *testing.T) {
	book := NewPositionBook()

	stop, moved := book.UpdateTrailingStop("ETH/USDT", 100, 0.02)
	assert.False(t, moved, "flat positions have no stop")
	assert.Zero(t, stop)

	book.Open("ETH/USDT", 1, 100, 0, time.Now())
	stop, moved = book.UpdateTrailingStop("ETH/USDT", 100, 0.02)
	assert.True(t, moved)
	assert.InDelta(t, 98, stop, 1e-9)

	stop, moved = book.UpdateTrailingStop("ETH/USDT", 90, 0.02)
	assert.False(t, moved)
	assert.InDelta(t, 98, stop, 1e-9)

	stop, moved = book.UpdateTrailingStop("ETH/USDT", 120, 0.02)
	assert.True(t, moved)
	assert.InDelta(t, 117.6, stop, 1e-9)
	assert.InDelta(t, 117.6, book.Get("ETH/USDT").TrailingStop, 1e-9)
}
