package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var _ strategy.Strategy = (*Stochastic)(nil)

var stochasticSchema = strategy.Schema{
	strategy.Int("k_period", 14).Gt(1).Le(100),
	strategy.Int("d_period", 3).Gt(1).Le(50),
	strategy.Float("oversold", 20).Ge(0).Le(100),
	strategy.Float("overbought", 80).Ge(0).Le(100),
}

type StochasticParams struct {
	KPeriod    int
	DPeriod    int
	Oversold   float64
	Overbought float64
}

// Stochastic %K 与 %D 同时超卖为 strong_buy，同时超买为 strong_sell
type Stochastic struct {
	p StochasticParams
}

func newStochastic(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("stochastic", deps); err != nil {
		return nil, err
	}
	p := StochasticParams{
		KPeriod:    params.Int("k_period"),
		DPeriod:    params.Int("d_period"),
		Oversold:   params.Float("oversold"),
		Overbought: params.Float("overbought"),
	}
	if p.Oversold >= p.Overbought {
		return nil, &strategy.InvalidParameterError{Strategy: "stochastic", Field: "oversold", Reason: "must be below overbought"}
	}
	return &Stochastic{p: p}, nil
}

func (s *Stochastic) Name() string {
	return fmt.Sprintf("stochastic(%d,%d)", s.p.KPeriod, s.p.DPeriod)
}

func (s *Stochastic) GenerateSignal(window []model.KLine) (model.Signal, error) {
	k, d, err := ta.Stochastic(model.Highs(window), model.Lows(window), model.Closes(window), s.p.KPeriod, s.p.DPeriod)
	if err != nil {
		return model.SignalNeutral, err
	}
	switch {
	case k < s.p.Oversold && d < s.p.Oversold:
		return model.SignalStrongBuy, nil
	case k > s.p.Overbought && d > s.p.Overbought:
		return model.SignalStrongSell, nil
	}
	return model.SignalNeutral, nil
}
