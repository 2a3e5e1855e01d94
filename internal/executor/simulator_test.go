package executor

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSimulator(t *testing.T, market *fakeClient) *Simulator {
	t.Helper()
	return NewSimulator(SimulatorConfig{
		InitialBalances: map[string]float64{"USDT": 1000},
		FeeRate:         0.001,
	}, market, zaptest.NewLogger(t).Sugar())
}

func TestSimulatorBuyAndSell(t *testing.T) {
	market := newFakeClient(100, 0)
	sim := newTestSimulator(t, market)
	ctx := context.Background()

	fill, err := sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideBuy, Amount: 1, ClientOrderID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", fill.ClientOrderID)
	assert.InDelta(t, 1, fill.Filled, 1e-12)
	assert.InDelta(t, 0.1, fill.Fee, 1e-12)

	bal, err := sim.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 899.9, bal.Free["USDT"], 1e-9)
	assert.InDelta(t, 1, bal.Free["BTC"], 1e-12)

	market.setPrice(110)
	equity, err := sim.Equity(ctx, "USDT", []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.InDelta(t, 1009.9, equity, 1e-9)

	_, err = sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideSell, Amount: 1})
	require.NoError(t, err)
	bal, err = sim.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 899.9+110-0.11, bal.Free["USDT"], 1e-9)
	assert.InDelta(t, 0, bal.Free["BTC"], 1e-12)
	assert.Len(t, sim.Fills(), 2)
}

func TestSimulatorFetchOrder(t *testing.T) {
	sim := newTestSimulator(t, newFakeClient(100, 0))
	ctx := context.Background()

	placed, err := sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideBuy, Amount: 1, ClientOrderID: "c1"})
	require.NoError(t, err)

	got, err := sim.FetchOrder(ctx, "BTC/USDT", "c1")
	require.NoError(t, err)
	assert.Equal(t, *placed, *got)

	_, err = sim.FetchOrder(ctx, "BTC/USDT", "nope")
	assert.ErrorIs(t, err, api.ErrOrderNotFound)
	_, err = sim.FetchOrder(ctx, "ETH/USDT", "c1")
	assert.ErrorIs(t, err, api.ErrOrderNotFound)
}

func TestSimulatorLimitPriceIsUsed(t *testing.T) {
	sim := newTestSimulator(t, newFakeClient(100, 0))
	fill, err := sim.SubmitOrder(context.Background(), api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideBuy, Amount: 1, Price: 95})
	require.NoError(t, err)
	assert.Equal(t, 95.0, fill.Price)
}

func TestSimulatorRejectsInsufficientFunds(t *testing.T) {
	sim := newTestSimulator(t, newFakeClient(100, 0))
	ctx := context.Background()

	_, err := sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideBuy, Amount: 10})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideSell, Amount: 0.5})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, sim.Fills())
}

func TestSimulatorRejectsBadRequests(t *testing.T) {
	sim := newTestSimulator(t, newFakeClient(100, 0))
	ctx := context.Background()

	_, err := sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideBuy, Amount: 0})
	assert.Error(t, err)
	_, err = sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTCUSDT", Side: model.SideBuy, Amount: 1})
	assert.Error(t, err)

	require.NoError(t, sim.Close())
	_, err = sim.SubmitOrder(ctx, api.OrderRequest{Symbol: "BTC/USDT", Side: model.SideBuy, Amount: 1})
	assert.Error(t, err)
}

// 执行器跑在模拟器之上：一次完整的开平仓
func TestLiveExecutorOnSimulator(t *testing.T) {
	market := newFakeClient(100, 0)
	sim := newTestSimulator(t, market)
	logger := zaptest.NewLogger(t)
	exec := NewLiveExecutor(sim, testConfig(), NewCircuitBreaker(5, logger), nil, logger)
	ctx := context.Background()

	res, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalStrongBuy)
	require.NoError(t, err)
	assert.Equal(t, "open", res.Action)

	market.setPrice(120)
	res, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalStrongSell)
	require.NoError(t, err)
	assert.Equal(t, "close", res.Action)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())

	bal, err := sim.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Greater(t, bal.Free["USDT"], 1000.0)
	assert.Len(t, exec.GetTradeHistory(), 2)
}
