package store

import (
	"context"
	"crypto-signal-bot/internal/model"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func trade(id, symbol string, side model.Side, at time.Time, pnl float64) model.TradeRecord {
	return model.TradeRecord{
		ID: id, Symbol: symbol, Side: side,
		Quantity: 0.1998, Price: 100.1, Fee: 0.02, RealizedPnL: pnl,
		TriggerReason: "signal", Signal: model.SignalBuy, Timestamp: at,
	}
}

func TestSaveAndListTrades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveTrade(ctx, trade("a", "BTC/USDT", model.SideBuy, t0, 0)))
	require.NoError(t, s.SaveTrade(ctx, trade("b", "ETH/USDT", model.SideBuy, t0.Add(time.Minute), 0)))
	require.NoError(t, s.SaveTrade(ctx, trade("c", "BTC/USDT", model.SideSell, t0.Add(2*time.Minute), 1.1)))
	// 重复 ID 被忽略
	require.NoError(t, s.SaveTrade(ctx, trade("c", "BTC/USDT", model.SideSell, t0.Add(3*time.Minute), 99)))

	all, err := s.ListTrades(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	btc, err := s.ListTrades(ctx, "BTC/USDT", 1)
	require.NoError(t, err)
	require.Len(t, btc, 1)
	got := btc[0]
	assert.Equal(t, "c", got.ID)
	assert.Equal(t, model.SideSell, got.Side)
	assert.Equal(t, 0.1998, got.Quantity)
	assert.Equal(t, 100.1, got.Price)
	assert.Equal(t, 1.1, got.RealizedPnL)
	assert.Equal(t, model.SignalBuy, got.Signal)
	assert.True(t, got.Timestamp.Equal(t0.Add(2*time.Minute)))
}

func TestRealizedPnLIsExact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"x", "y", "z"} {
		require.NoError(t, s.SaveTrade(ctx, trade(id, "BTC/USDT", model.SideSell, time.UnixMilli(int64(i)), 0.1)))
	}
	total, err := s.RealizedPnL(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "0.3", total.String())

	none, err := s.RealizedPnL(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestSaveDecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDecision(ctx, model.CycleResult{
		CycleID: "c1", Symbol: "BTC/USDT", Decision: model.SignalBuy, Price: 100,
		Execution: &model.ExecutionResult{Action: "open", Reason: "signal"},
	}))
	require.NoError(t, s.SaveDecision(ctx, model.CycleResult{
		CycleID: "c2", Symbol: "BTC/USDT", Decision: model.SignalNeutral, Err: errors.New("fetch failed"),
	}))

	n, err := s.CountDecisions(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountDecisions(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveTrade(ctx, trade("a", "BTC/USDT", model.SideBuy, time.Now(), 0)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	trades, err := s.ListTrades(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}
