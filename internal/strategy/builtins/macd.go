package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var _ strategy.Strategy = (*MACD)(nil)

var macdSchema = strategy.Schema{
	strategy.Int("short_window", 12).Gt(5).Le(50),
	strategy.Int("long_window", 26).Gt(10).Le(100),
	strategy.Int("signal_window", 9).Gt(3).Le(30),
}

type MACDParams struct {
	ShortWindow  int
	LongWindow   int
	SignalWindow int
}

// MACD 线在信号线之上为 strong_buy，之下为 strong_sell
type MACD struct {
	p MACDParams
}

func newMACD(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("macd", deps); err != nil {
		return nil, err
	}
	p := MACDParams{
		ShortWindow:  params.Int("short_window"),
		LongWindow:   params.Int("long_window"),
		SignalWindow: params.Int("signal_window"),
	}
	if p.ShortWindow >= p.LongWindow {
		return nil, &strategy.InvalidParameterError{Strategy: "macd", Field: "short_window", Reason: "must be below long_window"}
	}
	return &MACD{p: p}, nil
}

func (s *MACD) Name() string {
	return fmt.Sprintf("macd(%d,%d,%d)", s.p.ShortWindow, s.p.LongWindow, s.p.SignalWindow)
}

func (s *MACD) GenerateSignal(window []model.KLine) (model.Signal, error) {
	macd, sig, _, err := ta.MACD(model.Closes(window), s.p.ShortWindow, s.p.LongWindow, s.p.SignalWindow)
	if err != nil {
		return model.SignalNeutral, err
	}
	switch {
	case macd > sig:
		return model.SignalStrongBuy, nil
	case macd < sig:
		return model.SignalStrongSell, nil
	}
	return model.SignalNeutral, nil
}
