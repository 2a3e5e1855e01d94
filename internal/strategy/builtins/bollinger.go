package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var _ strategy.Strategy = (*Bollinger)(nil)

// RoleVolatilityFilter 布林带策略可选的波动率过滤依赖
const RoleVolatilityFilter = "volatility_filter"

var bollingerSchema = strategy.Schema{
	strategy.Int("window", 20).Gt(5).Le(100),
	strategy.Float("num_std", 2.0).Gt(1).Le(3),
}

type BollingerParams struct {
	Window int
	NumStd float64
}

// Bollinger 基于典型价格的布林带均值回归：
// 收盘价突破上轨卖出，跌破下轨买入。
// 配置了 volatility_filter 时，过滤器投 hold/neutral 则本策略也保持 hold。
type Bollinger struct {
	p      BollingerParams
	filter strategy.Strategy
}

func newBollinger(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	b := &Bollinger{p: BollingerParams{
		Window: params.Int("window"),
		NumStd: params.Float("num_std"),
	}}
	for role, dep := range deps {
		if role != RoleVolatilityFilter {
			return nil, fmt.Errorf("bollinger_bands: unsupported dependency role %q", role)
		}
		b.filter = dep
	}
	return b, nil
}

func (s *Bollinger) Name() string {
	return fmt.Sprintf("bollinger_bands(%d,%.1f)", s.p.Window, s.p.NumStd)
}

func (s *Bollinger) GenerateSignal(window []model.KLine) (model.Signal, error) {
	if s.filter != nil {
		gate, err := s.filter.GenerateSignal(window)
		if err != nil {
			return model.SignalNeutral, fmt.Errorf("volatility filter: %w", err)
		}
		if gate == model.SignalHold || gate == model.SignalNeutral {
			return model.SignalHold, nil
		}
	}

	upper, _, lower, err := ta.BBands(model.TypicalPrices(window), s.p.Window, s.p.NumStd)
	if err != nil {
		return model.SignalNeutral, err
	}
	price := window[len(window)-1].Close
	switch {
	case price > upper:
		return model.SignalSell, nil
	case price < lower:
		return model.SignalBuy, nil
	}
	return model.SignalHold, nil
}
