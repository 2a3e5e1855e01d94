package executor

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// 连续亏损 N 笔后触发收缩
	LossStreakThreshold = 3

	// 最大允许回撤，超过这个值，因子收缩到最小
	MaxAllowedDrawdown = 0.15

	// 仓位缩放因子的边界
	MaxScaleFactor = 1.5
	MinScaleFactor = 0.3
)

// RiskScaler 根据已实现盈亏的连胜/连亏和余额回撤自适应调整风险比例
type RiskScaler struct {
	mu         sync.Mutex
	factor     float64
	lossStreak int
	winStreak  int
	peak       float64
	drawdown   float64
	logger     *zap.Logger
}

func NewRiskScaler(logger *zap.Logger) *RiskScaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskScaler{factor: 1.0, logger: logger.With(zap.String("component", "risk_scaler"))}
}

// ObserveBalance 记录余额，用于计算相对历史峰值的回撤
func (s *RiskScaler) ObserveBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance > s.peak {
		s.peak = balance
	}
	if s.peak > 0 {
		s.drawdown = (s.peak - balance) / s.peak
	}
	s.adjust()
}

// ObserveTrade 记录一笔平仓的已实现盈亏
func (s *RiskScaler) ObserveTrade(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pnl < 0 {
		s.lossStreak++
		s.winStreak = 0
	} else {
		s.winStreak++
		s.lossStreak = 0
	}
	s.adjust()
}

func (s *RiskScaler) adjust() {
	old := s.factor
	switch {
	case s.drawdown >= MaxAllowedDrawdown:
		// 严重回撤，紧急收缩
		s.factor = MinScaleFactor
	case s.lossStreak >= LossStreakThreshold:
		s.factor = max(s.factor*0.8, MinScaleFactor)
		s.lossStreak = 0
	case s.winStreak >= LossStreakThreshold && s.drawdown < MaxAllowedDrawdown/3:
		s.factor = min(s.factor*1.1, MaxScaleFactor)
		s.winStreak = 0
	}
	if s.factor != old {
		s.logger.Info("Position scale factor adjusted",
			zap.Float64("from", old),
			zap.Float64("to", s.factor),
			zap.Float64("drawdown", s.drawdown))
	}
}

// Factor 当前缩放因子
func (s *RiskScaler) Factor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factor
}
