package strategy

import (
	"crypto-signal-bot/internal/model"
)

type stubStrategy struct {
	name   string
	signal model.Signal
	err    error
	panics bool
	deps   map[string]Strategy
	params Params
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) GenerateSignal(_ []model.KLine) (model.Signal, error) {
	if s.panics {
		panic("boom")
	}
	return s.signal, s.err
}

func stubFactory(name string) Factory {
	return func(p Params, deps map[string]Strategy) (Strategy, error) {
		return &stubStrategy{name: name, signal: model.SignalHold, deps: deps, params: p}, nil
	}
}

func fixed(sig model.Signal) Strategy {
	return &stubStrategy{name: string(sig), signal: sig}
}
