package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var (
	_ strategy.Strategy = (*MACrossover)(nil)
	_ strategy.Strategy = (*SMACrossover)(nil)
)

var maCrossoverSchema = strategy.Schema{
	strategy.Int("short_window", 50).Gt(5).Le(100),
	strategy.Int("long_window", 200).Gt(50).Le(300),
	strategy.Int("rsi_period", 14).Gt(5).Le(50),
	strategy.Float("rsi_threshold", 30).Ge(10).Le(50),
}

type MACrossoverParams struct {
	ShortWindow  int
	LongWindow   int
	RSIPeriod    int
	RSIThreshold float64
}

// MACrossover 均线多头排列且 RSI 高于阈值时买入，空头排列且 RSI 低于 100-阈值时卖出
type MACrossover struct {
	p MACrossoverParams
}

func newMACrossover(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("moving_average_crossover", deps); err != nil {
		return nil, err
	}
	p := MACrossoverParams{
		ShortWindow:  params.Int("short_window"),
		LongWindow:   params.Int("long_window"),
		RSIPeriod:    params.Int("rsi_period"),
		RSIThreshold: params.Float("rsi_threshold"),
	}
	if p.ShortWindow >= p.LongWindow {
		return nil, &strategy.InvalidParameterError{Strategy: "moving_average_crossover", Field: "short_window", Reason: "must be below long_window"}
	}
	return &MACrossover{p: p}, nil
}

func (s *MACrossover) Name() string {
	return fmt.Sprintf("moving_average_crossover(%d,%d)", s.p.ShortWindow, s.p.LongWindow)
}

func (s *MACrossover) GenerateSignal(window []model.KLine) (model.Signal, error) {
	closes := model.Closes(window)
	short, err := ta.SMA(closes, s.p.ShortWindow)
	if err != nil {
		return model.SignalNeutral, err
	}
	long, err := ta.SMA(closes, s.p.LongWindow)
	if err != nil {
		return model.SignalNeutral, err
	}
	rsi, err := ta.RSI(closes, s.p.RSIPeriod)
	if err != nil {
		return model.SignalNeutral, err
	}

	switch {
	case short > long && rsi > s.p.RSIThreshold:
		return model.SignalBuy, nil
	case short < long && rsi < 100-s.p.RSIThreshold:
		return model.SignalSell, nil
	}
	return model.SignalHold, nil
}

var smaCrossoverSchema = strategy.Schema{
	strategy.Int("short_window", 10).Gt(1).Le(200),
	strategy.Int("long_window", 50).Gt(1).Le(400),
}

// SMACrossover 短均线在长均线之上 strong_buy，之下 strong_sell
type SMACrossover struct {
	short, long int
}

func newSMACrossover(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("sma_crossover", deps); err != nil {
		return nil, err
	}
	s := &SMACrossover{short: params.Int("short_window"), long: params.Int("long_window")}
	if s.short >= s.long {
		return nil, &strategy.InvalidParameterError{Strategy: "sma_crossover", Field: "short_window", Reason: "must be below long_window"}
	}
	return s, nil
}

func (s *SMACrossover) Name() string {
	return fmt.Sprintf("sma_crossover(%d,%d)", s.short, s.long)
}

func (s *SMACrossover) GenerateSignal(window []model.KLine) (model.Signal, error) {
	closes := model.Closes(window)
	short, err := ta.SMA(closes, s.short)
	if err != nil {
		return model.SignalNeutral, err
	}
	long, err := ta.SMA(closes, s.long)
	if err != nil {
		return model.SignalNeutral, err
	}
	switch {
	case short > long:
		return model.SignalStrongBuy, nil
	case short < long:
		return model.SignalStrongSell, nil
	}
	return model.SignalNeutral, nil
}
