package strategy

import (
	"crypto-signal-bot/internal/model"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	DefaultStrongThreshold = 3
	DefaultHistoryLength   = 5
)

// Member 聚合器中的一个投票策略
type Member struct {
	Role     string
	Strategy Strategy
}

// Aggregator 组合策略：成员信号按权重求和，强信号直接输出，
// 否则写入滚动历史，用历史多数决平滑 buy/sell/neutral 的来回切换
type Aggregator struct {
	members         []Member
	strongThreshold int
	historyLength   int
	logger          *zap.Logger

	mu      sync.Mutex
	history []int
}

// NewAggregator 构造聚合器；阈值和历史长度非正时使用默认值
func NewAggregator(members []Member, strongThreshold, historyLength int, logger *zap.Logger) *Aggregator {
	if strongThreshold <= 0 {
		strongThreshold = DefaultStrongThreshold
	}
	if historyLength <= 0 {
		historyLength = DefaultHistoryLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		members:         append([]Member(nil), members...),
		strongThreshold: strongThreshold,
		historyLength:   historyLength,
		logger:          logger,
		history:         make([]int, 0, historyLength),
	}
}

func (a *Aggregator) Name() string {
	return "combined"
}

// GenerateSignal 让聚合器本身也满足 Strategy 接口
func (a *Aggregator) GenerateSignal(window []model.KLine) (model.Signal, error) {
	return a.Decide(window), nil
}

// Clone 历史清空的副本，每个交易对持有自己的一份。
// 嵌套的聚合器成员递归复制，其余成员策略无状态，直接共享。
func (a *Aggregator) Clone(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = a.logger
	}
	members := make([]Member, len(a.members))
	for i, m := range a.members {
		if inner, ok := m.Strategy.(*Aggregator); ok {
			m.Strategy = inner.Clone(logger.With(zap.String("role", m.Role)))
		}
		members[i] = m
	}
	return NewAggregator(members, a.strongThreshold, a.historyLength, logger)
}

// Members 成员列表副本
func (a *Aggregator) Members() []Member {
	return append([]Member(nil), a.members...)
}

// History 当前历史权重副本 (旧 -> 新)
func (a *Aggregator) History() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.history...)
}

// Decide 计算本周期的组合信号
func (a *Aggregator) Decide(window []model.KLine) model.Signal {
	total := 0
	for _, m := range a.members {
		sig, err := evaluate(m.Strategy, window)
		if err != nil {
			a.logger.Warn("Member strategy failed, counting as neutral",
				zap.String("role", m.Role), zap.Error(err))
			sig = model.SignalNeutral
		}
		total += sig.Weight()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if total >= a.strongThreshold {
		a.logger.Debug("Strong buy consensus", zap.Int("total_weight", total))
		return model.SignalStrongBuy
	}
	if total <= -a.strongThreshold {
		a.logger.Debug("Strong sell consensus", zap.Int("total_weight", total))
		return model.SignalStrongSell
	}

	a.history = append(a.history, total)
	if len(a.history) > a.historyLength {
		a.history = a.history[len(a.history)-a.historyLength:]
	}

	positive, negative := 0, 0
	for _, w := range a.history {
		switch {
		case w > 0:
			positive++
		case w < 0:
			negative++
		}
	}

	// 多数决基于当前历史长度，历史未满时早期周期更敏感
	half := float64(len(a.history)) / 2
	decision := model.SignalNeutral
	if float64(positive) > half {
		decision = model.SignalBuy
	} else if float64(negative) > half {
		decision = model.SignalSell
	}

	a.logger.Debug("Aggregated signal",
		zap.Int("total_weight", total),
		zap.Ints("history", a.history),
		zap.String("decision", decision.String()))
	return decision
}

// evaluate 调用成员策略，错误、panic 和未知信号都转成 StrategyEvaluationError
func evaluate(s Strategy, window []model.KLine) (sig model.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = model.SignalNeutral
			err = &StrategyEvaluationError{Strategy: s.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	sig, err = s.GenerateSignal(window)
	if err != nil {
		return model.SignalNeutral, &StrategyEvaluationError{Strategy: s.Name(), Err: err}
	}
	if !sig.Valid() {
		return model.SignalNeutral, &StrategyEvaluationError{Strategy: s.Name(), Err: fmt.Errorf("unknown signal %q", sig)}
	}
	return sig, nil
}
