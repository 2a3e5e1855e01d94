package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var _ strategy.Strategy = (*RSI)(nil)

var rsiSchema = strategy.Schema{
	strategy.Int("period", 14).Gt(1).Le(100),
	strategy.Float("oversold", 30).Ge(0).Le(100),
	strategy.Float("overbought", 70).Ge(0).Le(100),
}

type RSIParams struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// RSI 超卖买入，超买卖出
type RSI struct {
	p RSIParams
}

func newRSI(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("rsi", deps); err != nil {
		return nil, err
	}
	p := RSIParams{
		Period:     params.Int("period"),
		Oversold:   params.Float("oversold"),
		Overbought: params.Float("overbought"),
	}
	if p.Oversold >= p.Overbought {
		return nil, &strategy.InvalidParameterError{Strategy: "rsi", Field: "oversold", Reason: "must be below overbought"}
	}
	return &RSI{p: p}, nil
}

func (s *RSI) Name() string {
	return fmt.Sprintf("rsi(%d)", s.p.Period)
}

func (s *RSI) GenerateSignal(window []model.KLine) (model.Signal, error) {
	rsi, err := ta.RSI(model.Closes(window), s.p.Period)
	if err != nil {
		return model.SignalNeutral, err
	}
	switch {
	case rsi < s.p.Oversold:
		return model.SignalBuy, nil
	case rsi > s.p.Overbought:
		return model.SignalSell, nil
	}
	return model.SignalNeutral, nil
}
