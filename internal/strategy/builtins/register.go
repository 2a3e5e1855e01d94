// Package builtins 内置策略实现及启动时的显式注册表
package builtins

import (
	"crypto-signal-bot/internal/strategy"
	"fmt"

	"go.uber.org/zap"
)

type registration struct {
	name, version string
	factory       strategy.Factory
	schema        strategy.Schema
}

func registrations(logger *zap.Logger) []registration {
	return []registration{
		{"rsi", "1.0.0", newRSI, rsiSchema},
		{"macd", "1.0.0", newMACD, macdSchema},
		{"bollinger_bands", "2.1.0", newBollinger, bollingerSchema},
		{"atr_filter", "1.2.0", newATRFilter, atrFilterSchema},
		{"moving_average_crossover", "1.0.0", newMACrossover, maCrossoverSchema},
		{"sma_crossover", "1.0.0", newSMACrossover, smaCrossoverSchema},
		{"stochastic", "1.0.0", newStochastic, stochasticSchema},
		{"market_regime", "1.0.0", newMarketRegime, marketRegimeSchema},
		{"combined", "1.0.0", combinedFactory(logger), combinedSchema},
	}
}

// RegisterAll 把全部内置策略注册到 reg
func RegisterAll(reg *strategy.Registry, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, r := range registrations(logger) {
		if err := reg.Register(r.name, r.version, r.factory, r.schema); err != nil {
			return fmt.Errorf("register builtin %s@%s: %w", r.name, r.version, err)
		}
	}
	return nil
}

func noDeps(name string, deps map[string]strategy.Strategy) error {
	if len(deps) > 0 {
		return fmt.Errorf("%s takes no dependencies, got %d", name, len(deps))
	}
	return nil
}
