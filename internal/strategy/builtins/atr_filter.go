package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var _ strategy.Strategy = (*ATRFilter)(nil)

var atrFilterSchema = strategy.Schema{
	strategy.Int("period", 14).Gt(5).Le(50),
	strategy.Float("threshold", 1.5).Ge(0.5).Le(5),
}

type ATRFilterParams struct {
	Period    int
	Threshold float64
}

// ATRFilter 收盘价相对 ATR*threshold 的波动率过滤器
type ATRFilter struct {
	p ATRFilterParams
}

func newATRFilter(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("atr_filter", deps); err != nil {
		return nil, err
	}
	return &ATRFilter{p: ATRFilterParams{
		Period:    params.Int("period"),
		Threshold: params.Float("threshold"),
	}}, nil
}

func (s *ATRFilter) Name() string {
	return fmt.Sprintf("atr_filter(%d,%.2f)", s.p.Period, s.p.Threshold)
}

func (s *ATRFilter) GenerateSignal(window []model.KLine) (model.Signal, error) {
	atr, err := ta.ATR(model.Highs(window), model.Lows(window), model.Closes(window), s.p.Period)
	if err != nil {
		return model.SignalNeutral, err
	}
	band := atr * s.p.Threshold
	price := window[len(window)-1].Close
	switch {
	case price > band:
		return model.SignalBuy, nil
	case price < -band:
		return model.SignalSell, nil
	}
	return model.SignalHold, nil
}
