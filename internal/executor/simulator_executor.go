package executor

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/model"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInsufficientFunds 模拟账户余额不足
var ErrInsufficientFunds = errors.New("insufficient funds")

// MarketData 行情来源 (K 线窗口和最新价)
type MarketData interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.KLine, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
}

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	InitialBalances map[string]float64 // 初始资金，例如 {"USDT": 1000}
	FeeRate         float64            // 交易手续费率 (例如 0.001)
}

// Simulator 现货模拟交易所：行情来自 MarketData，订单按请求价 (或最新价) 立即全部成交，
// 手续费以计价货币收取。实现 api.Client，用于 paper 模式和测试。
type Simulator struct {
	cfg    SimulatorConfig
	market MarketData
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	balances map[string]float64
	fills    []model.Fill
	closed   bool
}

var _ api.Client = (*Simulator)(nil)

func NewSimulator(cfg SimulatorConfig, market MarketData, logger *zap.SugaredLogger) *Simulator {
	balances := make(map[string]float64, len(cfg.InitialBalances))
	for ccy, amt := range cfg.InitialBalances {
		balances[ccy] = amt
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Simulator{
		cfg:      cfg,
		market:   market,
		logger:   logger,
		balances: balances,
	}
}

func (s *Simulator) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.KLine, error) {
	return s.market.FetchOHLCV(ctx, symbol, timeframe, limit)
}

func (s *Simulator) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	return s.market.FetchTicker(ctx, symbol)
}

// FetchBalance 模拟账户无挂单，free 与 total 相同
func (s *Simulator) FetchBalance(_ context.Context) (*api.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal := &api.Balance{Free: make(map[string]float64), Total: make(map[string]float64)}
	for ccy, amt := range s.balances {
		bal.Free[ccy] = amt
		bal.Total[ccy] = amt
	}
	return bal, nil
}

// SubmitOrder 模拟下单和执行
func (s *Simulator) SubmitOrder(ctx context.Context, req api.OrderRequest) (*model.Fill, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid order amount %v", req.Amount)
	}
	base, quote, err := api.SplitSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	price := req.Price
	if price <= 0 {
		if price, err = s.market.FetchTicker(ctx, req.Symbol); err != nil {
			return nil, fmt.Errorf("sim price %s: %w", req.Symbol, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("simulator closed")
	}

	notional := req.Amount * price
	fee := notional * s.cfg.FeeRate

	switch req.Side {
	case model.SideBuy:
		if s.balances[quote] < notional+fee {
			s.logger.Infof("Sim Rejected: Insufficient balance. Need: %.4f %s, Have: %.4f", notional+fee, quote, s.balances[quote])
			return nil, fmt.Errorf("%w: need %.4f %s", ErrInsufficientFunds, notional+fee, quote)
		}
		s.balances[quote] -= notional + fee
		s.balances[base] += req.Amount
	case model.SideSell:
		if s.balances[base] < req.Amount {
			s.logger.Infof("Sim Rejected: Insufficient %s. Need: %.8f, Have: %.8f", base, req.Amount, s.balances[base])
			return nil, fmt.Errorf("%w: need %.8f %s", ErrInsufficientFunds, req.Amount, base)
		}
		s.balances[base] -= req.Amount
		s.balances[quote] += notional - fee
	default:
		return nil, fmt.Errorf("unsupported side %q", req.Side)
	}

	fill := model.Fill{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Filled:        req.Amount,
		Price:         price,
		Fee:           fee,
		Timestamp:     time.Now(),
	}
	s.fills = append(s.fills, fill)

	s.logger.Infof("Sim ORDER FILLED: %s %s %.8f @ %.4f. Fee: %.4f %s. Balance: %.4f %s / %.8f %s",
		req.Side, req.Symbol, req.Amount, price, fee, quote, s.balances[quote], quote, s.balances[base], base)
	return &fill, nil
}

// FetchOrder 模拟成交总是即时确认，按客户端订单号查找历史成交
func (s *Simulator) FetchOrder(_ context.Context, symbol, clientOrderID string) (*model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.fills) - 1; i >= 0; i-- {
		if f := s.fills[i]; f.Symbol == symbol && clientOrderID != "" && f.ClientOrderID == clientOrderID {
			return &f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", api.ErrOrderNotFound, symbol, clientOrderID)
}

// Fills 返回所有成交的副本
func (s *Simulator) Fills() []model.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Fill(nil), s.fills...)
}

// Equity 按最新价折算的计价货币净值
func (s *Simulator) Equity(ctx context.Context, quote string, symbols []string) (float64, error) {
	s.mu.RLock()
	equity := s.balances[quote]
	held := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		base, q, err := api.SplitSymbol(sym)
		if err != nil || q != quote {
			continue
		}
		held[sym] = s.balances[base]
	}
	s.mu.RUnlock()

	for sym, qty := range held {
		if qty == 0 {
			continue
		}
		price, err := s.market.FetchTicker(ctx, sym)
		if err != nil {
			return 0, err
		}
		equity += qty * price
	}
	return equity, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
