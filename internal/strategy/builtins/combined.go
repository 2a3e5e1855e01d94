package builtins

import (
	"crypto-signal-bot/internal/strategy"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

var combinedSchema = strategy.Schema{
	strategy.Int("strong_threshold", strategy.DefaultStrongThreshold).Ge(1).Le(30),
	strategy.Int("history_length", strategy.DefaultHistoryLength).Ge(1).Le(100),
}

// combinedFactory 依赖即成员，按角色名排序
func combinedFactory(logger *zap.Logger) strategy.Factory {
	return func(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
		if len(deps) == 0 {
			return nil, fmt.Errorf("combined: at least one member strategy is required")
		}
		roles := make([]string, 0, len(deps))
		for role := range deps {
			roles = append(roles, role)
		}
		sort.Strings(roles)

		members := make([]strategy.Member, 0, len(roles))
		for _, role := range roles {
			members = append(members, strategy.Member{Role: role, Strategy: deps[role]})
		}
		return strategy.NewAggregator(members,
			params.Int("strong_threshold"),
			params.Int("history_length"),
			logger.With(zap.String("strategy", "combined"))), nil
	}
}
