package executor

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type memRecorder struct {
	mu     sync.Mutex
	trades []model.TradeRecord
}

func (m *memRecorder) SaveTrade(_ context.Context, rec model.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, rec)
	return nil
}

func testConfig() LiveConfig {
	return LiveConfig{
		Slippage:      0.001,
		FeeRate:       0.001,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		RiskPct:       0.02,
		Limits:        SizingLimits{MinNotional: 10, EnforceBalance: true},
		TrailDistance: 0.02,
	}
}

func newTestExecutor(t *testing.T, client *fakeClient, threshold int) (*LiveExecutor, *memRecorder) {
	t.Helper()
	rec := &memRecorder{}
	logger := zaptest.NewLogger(t)
	return NewLiveExecutor(client, testConfig(), NewCircuitBreaker(threshold, logger), rec, logger), rec
}

func TestExecuteBuyOpensPosition(t *testing.T) {
	client := newFakeClient(100, 1000)
	exec, rec := newTestExecutor(t, client, 5)

	res, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, "open", res.Action)
	require.NotNil(t, res.Params)
	assert.InDelta(t, 0.2, res.Params.OriginalAmount, 1e-12)
	assert.InDelta(t, 0.1998, res.Params.Amount, 1e-12)

	pos := exec.Position("BTC/USDT")
	assert.Equal(t, model.DirLong, pos.Direction)
	assert.InDelta(t, 0.1998, pos.Quantity, 1e-12)
	assert.InDelta(t, 98, pos.TrailingStop, 1e-9)

	require.Len(t, rec.trades, 1)
	assert.Equal(t, model.SideBuy, rec.trades[0].Side)
	assert.NotEmpty(t, rec.trades[0].ID)
	assert.Len(t, exec.GetTradeHistory(), 1)
}

func TestExecuteNeutralWhenFlatDoesNothing(t *testing.T) {
	client := newFakeClient(100, 1000)
	exec, _ := newTestExecutor(t, client, 5)

	for _, sig := range []model.Signal{model.SignalNeutral, model.SignalHold, model.SignalSell, model.SignalStrongSell} {
		res, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", sig)
		require.NoError(t, err)
		assert.Equal(t, "none", res.Action)
	}
	assert.Zero(t, client.submitCount())
}

func TestExecuteSkipsWhenBalanceTooSmall(t *testing.T) {
	client := newFakeClient(100, 5)
	exec, _ := newTestExecutor(t, client, 5)

	res, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalStrongBuy)
	require.NoError(t, err)
	assert.Equal(t, "none", res.Action)
	assert.Equal(t, "insufficient balance", res.Reason)
	assert.Zero(t, client.submitCount())
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	client := newFakeClient(100, 1000)
	client.failSubmit = 2
	exec, _ := newTestExecutor(t, client, 5)

	res, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempt)
	assert.Equal(t, 2, exec.Breaker().Failures())
	assert.False(t, exec.Halted())

	// 同一订单的重试共用一个 client order id
	client.mu.Lock()
	ids := map[string]bool{}
	for _, s := range client.submits {
		ids[s.ClientOrderID] = true
	}
	client.mu.Unlock()
	assert.Len(t, ids, 1)
}

func TestSubmitExhaustsRetries(t *testing.T) {
	client := newFakeClient(100, 1000)
	client.failSubmit = 100
	exec, _ := newTestExecutor(t, client, 10)

	_, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
	require.ErrorIs(t, err, ErrOrderSubmission)
	var ose *OrderSubmissionError
	require.ErrorAs(t, err, &ose)
	assert.Equal(t, 3, ose.Attempts)
	assert.Equal(t, 3, exec.Breaker().Failures())
	assert.True(t, exec.Position("BTC/USDT").IsFlat(), "no fill, no position")
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	client := newFakeClient(100, 1000)
	client.failSubmit = 100
	exec, _ := newTestExecutor(t, client, 5)

	_, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
	require.ErrorIs(t, err, ErrOrderSubmission)
	assert.False(t, exec.Halted())

	// 第二笔订单在第 2 次尝试后达到阈值 5，停止重试
	_, err = exec.ExecuteSignal(context.Background(), "ETH/USDT", model.SignalBuy)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, exec.Halted())
	assert.Equal(t, 5, client.submitCount())

	// 之后所有调用都被拒绝，且不再触达交易所
	client.failSubmit = 0
	for i := 0; i < 3; i++ {
		_, err = exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
		require.ErrorIs(t, err, ErrCircuitOpen)
		assert.True(t, exec.Halted())
	}
	assert.Equal(t, 5, client.submitCount())
}

func TestExecuteSellClosesPosition(t *testing.T) {
	client := newFakeClient(100, 1000)
	exec, rec := newTestExecutor(t, client, 5)

	_, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)

	client.setPrice(110)
	res, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalSell)
	require.NoError(t, err)
	assert.Equal(t, "close", res.Action)
	assert.Equal(t, "signal", res.Reason)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())

	require.Len(t, rec.trades, 2)
	assert.Equal(t, model.SideSell, rec.trades[1].Side)
	assert.Greater(t, rec.trades[1].RealizedPnL, 0.0)

	// 空仓后再次卖出信号不下单
	before := client.submitCount()
	res, err = exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalStrongSell)
	require.NoError(t, err)
	assert.Equal(t, "none", res.Action)
	assert.Equal(t, before, client.submitCount())
}

func TestTrailingStopExit(t *testing.T) {
	client := newFakeClient(100, 1000)
	exec, _ := newTestExecutor(t, client, 5)
	ctx := context.Background()

	_, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)

	client.setPrice(110)
	res, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalHold)
	require.NoError(t, err)
	assert.Equal(t, "holding", res.Reason)
	assert.InDelta(t, 107.8, exec.Position("BTC/USDT").TrailingStop, 1e-9)

	client.setPrice(108)
	res, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalNeutral)
	require.NoError(t, err)
	assert.Equal(t, "holding", res.Reason)
	assert.InDelta(t, 107.8, exec.Position("BTC/USDT").TrailingStop, 1e-9, "stop never moves down")

	client.setPrice(107)
	res, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalNeutral)
	require.NoError(t, err)
	assert.Equal(t, "close", res.Action)
	assert.Equal(t, "trailing_stop", res.Reason)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())
}

func TestUnfilledOrderLeavesPositionFlat(t *testing.T) {
	client := newFakeClient(100, 1000)
	client.noFill = true
	exec, rec := newTestExecutor(t, client, 5)

	res, err := exec.ExecuteSignal(context.Background(), "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, "not filled", res.Reason)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())
	assert.Empty(t, rec.trades)
}

func TestConcurrentSymbolsShareBreaker(t *testing.T) {
	client := newFakeClient(100, 100000)
	client.failSubmit = 100
	exec, _ := newTestExecutor(t, client, 100)

	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}
	var wg sync.WaitGroup
	for _, s := range symbols {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			_, err := exec.ExecuteSignal(context.Background(), s, model.SignalBuy)
			assert.Error(t, err)
		}(s)
	}
	wg.Wait()
	assert.Equal(t, 12, exec.Breaker().Failures())
}

func TestUnconfirmedEntryBlocksUntilReconciled(t *testing.T) {
	client := newFakeClient(100, 1000)
	client.unconfirmed = 1
	client.lookupErr = errExchangeDown
	exec, rec := newTestExecutor(t, client, 5)
	ctx := context.Background()

	_, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.ErrorIs(t, err, api.ErrOrderUnconfirmed)
	assert.ErrorIs(t, err, ErrOrderSubmission)
	assert.Equal(t, 1, client.submitCount(), "an accepted order is never retried")
	assert.Equal(t, 1, exec.Breaker().Failures())
	assert.True(t, exec.Position("BTC/USDT").IsFlat())
	clientID, pending := exec.PendingOrder("BTC/USDT")
	require.True(t, pending)

	// 查询仍失败：不下第二笔开仓单
	res, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalStrongBuy)
	require.ErrorIs(t, err, ErrOrderSubmission)
	assert.Equal(t, "order unconfirmed", res.Reason)
	assert.Equal(t, 1, client.submitCount())

	// 其他交易对不受影响
	_, err = exec.ExecuteSignal(ctx, "ETH/USDT", model.SignalNeutral)
	require.NoError(t, err)

	client.mu.Lock()
	client.lookupErr = nil
	client.mu.Unlock()
	res, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, "open", res.Action)
	assert.Equal(t, "reconciled", res.Reason)
	assert.InDelta(t, 0.1998, exec.Position("BTC/USDT").Quantity, 1e-12)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, clientID, rec.trades[0].ID)
	_, pending = exec.PendingOrder("BTC/USDT")
	assert.False(t, pending)

	res, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, "holding", res.Reason)
	assert.Equal(t, 1, client.submitCount())
}

func TestUnconfirmedOrderMissingOnExchangeIsUnfilled(t *testing.T) {
	client := newFakeClient(100, 1000)
	client.unconfirmed = 1
	client.loseOrders = true
	exec, rec := newTestExecutor(t, client, 5)
	ctx := context.Background()

	_, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.ErrorIs(t, err, api.ErrOrderUnconfirmed)

	res, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, "not filled", res.Reason)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())
	assert.Empty(t, rec.trades)

	_, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	assert.Equal(t, 2, client.submitCount())
	assert.False(t, exec.Position("BTC/USDT").IsFlat())
}

func TestUnconfirmedExitIsReconciled(t *testing.T) {
	client := newFakeClient(100, 1000)
	exec, rec := newTestExecutor(t, client, 5)
	ctx := context.Background()

	_, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)

	client.mu.Lock()
	client.unconfirmed = 1
	client.price = 110
	client.mu.Unlock()
	_, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalSell)
	require.ErrorIs(t, err, api.ErrOrderUnconfirmed)
	assert.False(t, exec.Position("BTC/USDT").IsFlat(), "book unchanged until confirmed")

	res, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalHold)
	require.NoError(t, err)
	assert.Equal(t, "close", res.Action)
	assert.Equal(t, "reconciled", res.Reason)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())
	require.Len(t, rec.trades, 2)
	assert.Equal(t, "signal", rec.trades[1].TriggerReason)
	assert.Greater(t, rec.trades[1].RealizedPnL, 0.0)
	assert.Equal(t, 2, client.submitCount())
}

func TestExitLogsDust(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	client := newFakeClient(100, 1000)
	exec := NewLiveExecutor(client, testConfig(), NewCircuitBreaker(5, nil), nil, zap.New(core))
	ctx := context.Background()

	_, err := exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalBuy)
	require.NoError(t, err)
	_, err = exec.ExecuteSignal(ctx, "BTC/USDT", model.SignalSell)
	require.NoError(t, err)
	assert.True(t, exec.Position("BTC/USDT").IsFlat())

	entries := logs.FilterMessage("Position reduced").All()
	require.Len(t, entries, 1)
	// 持仓 0.1998，卖单扣除手续费后为 0.1998*0.999
	assert.InDelta(t, 0.1998*0.001, entries[0].ContextMap()["dust"], 1e-12)
}
