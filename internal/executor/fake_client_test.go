package executor

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/model"
	"errors"
	"sync"
	"time"
)

var errExchangeDown = errors.New("exchange unavailable")

// fakeClient 可控的交易所客户端
type fakeClient struct {
	mu         sync.Mutex
	price      float64
	free       map[string]float64
	failSubmit int // 前 N 次下单失败
	failTicker bool
	noFill     bool
	submits    []api.OrderRequest

	unconfirmed int   // 接下来 N 次下单被接受但返回未确认
	loseOrders  bool  // 未确认的订单在交易所查不到
	lookupErr   error // FetchOrder 返回的错误
	orders      map[string]model.Fill
}

func newFakeClient(price float64, quote float64) *fakeClient {
	return &fakeClient{price: price, free: map[string]float64{"USDT": quote}}
}

func (f *fakeClient) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeClient) FetchOHLCV(context.Context, string, string, int) ([]model.KLine, error) {
	return nil, nil
}

func (f *fakeClient) FetchTicker(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTicker {
		return 0, errExchangeDown
	}
	return f.price, nil
}

func (f *fakeClient) FetchBalance(context.Context) (*api.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal := &api.Balance{Free: map[string]float64{}, Total: map[string]float64{}}
	for k, v := range f.free {
		bal.Free[k] = v
		bal.Total[k] = v
	}
	return bal, nil
}

func (f *fakeClient) SubmitOrder(_ context.Context, req api.OrderRequest) (*model.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.failSubmit > 0 {
		f.failSubmit--
		return nil, errExchangeDown
	}
	filled := req.Amount
	if f.noFill {
		filled = 0
	}
	fill := model.Fill{
		OrderID:       "ord",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Filled:        filled,
		Price:         f.price,
		Fee:           filled * f.price * 0.001,
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if f.unconfirmed > 0 {
		f.unconfirmed--
		if !f.loseOrders {
			f.storeOrder(fill)
		}
		return nil, &api.UnconfirmedOrderError{Symbol: req.Symbol, OrderID: "ord", ClientOrderID: req.ClientOrderID, Err: errExchangeDown}
	}
	f.storeOrder(fill)
	return &fill, nil
}

func (f *fakeClient) storeOrder(fill model.Fill) {
	if f.orders == nil {
		f.orders = make(map[string]model.Fill)
	}
	f.orders[fill.ClientOrderID] = fill
}

func (f *fakeClient) FetchOrder(_ context.Context, symbol, clientOrderID string) (*model.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	fill, ok := f.orders[clientOrderID]
	if !ok || fill.Symbol != symbol {
		return nil, api.ErrOrderNotFound
	}
	return &fill, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}
