package executor

import (
	"context"
	"crypto-signal-bot/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeOrderParams(t *testing.T) {
	exec := NewLiveExecutor(newFakeClient(100, 0), LiveConfig{Slippage: 0.001, FeeRate: 0.001}, nil, nil, nil)

	p, err := exec.ComputeOrderParams(context.Background(), model.OrderIntent{Symbol: "BTC/USDT", Side: model.SideBuy, RequestedAmount: 1.0})
	require.NoError(t, err)
	assert.InDelta(t, 100.1, p.Price, 1e-9)
	assert.InDelta(t, 0.1001, p.Fee, 1e-9)
	assert.InDelta(t, 0.999, p.Amount, 1e-9)
	assert.Equal(t, 1.0, p.OriginalAmount)
}

func TestComputeOrderParamsTickerFailure(t *testing.T) {
	client := newFakeClient(100, 0)
	client.failTicker = true
	exec := NewLiveExecutor(client, LiveConfig{}, nil, nil, nil)
	_, err := exec.ComputeOrderParams(context.Background(), model.OrderIntent{Symbol: "BTC/USDT", Side: model.SideBuy, RequestedAmount: 1})
	assert.ErrorIs(t, err, errExchangeDown)
}

func TestAdjustOrderSell(t *testing.T) {
	p := AdjustOrder(100, model.SideSell, 2, 0.001, 0.001)
	assert.InDelta(t, 99.9, p.Price, 1e-9)
	assert.InDelta(t, 2*99.9*0.001, p.Fee, 1e-9)
	assert.InDelta(t, 1.998, p.Amount, 1e-9)
	assert.LessOrEqual(t, p.Amount, p.OriginalAmount)
}

func TestAdjustOrderClampsToZero(t *testing.T) {
	p := AdjustOrder(100, model.SideBuy, 1, 0, 1.5)
	assert.Zero(t, p.Amount)
	assert.Equal(t, 1.0, p.OriginalAmount)

	p = AdjustOrder(100, model.SideBuy, 0, 0.001, 0.001)
	assert.Zero(t, p.Amount)
	assert.Zero(t, p.Fee)
}

func TestSizePosition(t *testing.T) {
	limits := SizingLimits{MinNotional: 10}

	// 5 * 0.02 / 100 = 0.001 -> 抬升到 10/100
	assert.InDelta(t, 0.1, SizePosition(5, 0.02, 100, limits), 1e-12)

	// 余额充足时按风险比例
	assert.InDelta(t, 0.2, SizePosition(1000, 0.02, 100, limits), 1e-12)

	// 最小下单数量
	assert.InDelta(t, 0.5, SizePosition(1000, 0.02, 100, SizingLimits{MinNotional: 10, MinOrderSize: 0.5}), 1e-12)
}

func TestSizePositionBalanceFloor(t *testing.T) {
	limits := SizingLimits{MinNotional: 10, EnforceBalance: true}
	assert.Zero(t, SizePosition(5, 0.02, 100, limits))
	assert.InDelta(t, 0.1, SizePosition(10, 0.02, 100, limits), 1e-12)

	// 保留 20 的余额底线
	limits.BalanceFloor = 20
	assert.Zero(t, SizePosition(25, 0.02, 100, limits))
	assert.InDelta(t, 0.1, SizePosition(30, 0.02, 100, limits), 1e-12)
}

func TestSizePositionInvalidInputs(t *testing.T) {
	assert.Zero(t, SizePosition(1000, 0.02, 0, SizingLimits{}))
	assert.Zero(t, SizePosition(0, 0.02, 100, SizingLimits{}))
	assert.Zero(t, SizePosition(1000, 0, 100, SizingLimits{}))
}
