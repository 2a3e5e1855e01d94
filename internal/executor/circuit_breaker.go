package executor

import (
	"sync"

	"go.uber.org/zap"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	BreakerClosed BreakerState = "CLOSED"
	BreakerOpen   BreakerState = "OPEN"
)

const DefaultBreakerThreshold = 5

// CircuitBreaker 累计下单失败次数，达到阈值后进入 OPEN。
// OPEN 在本进程内不会自动恢复，需要人工重启。
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	state     BreakerState
	logger    *zap.Logger
}

func NewCircuitBreaker(threshold int, logger *zap.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		threshold: threshold,
		state:     BreakerClosed,
		logger:    logger.With(zap.String("component", "circuit_breaker")),
	}
}

// RecordFailure 记录一次失败，返回记录后是否处于 OPEN
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == BreakerClosed && cb.failures >= cb.threshold {
		cb.state = BreakerOpen
		cb.logger.Error("!!! CIRCUIT BREAKER OPEN, trading halted for this session !!!",
			zap.String("severity", "critical"),
			zap.Int("failures", cb.failures),
			zap.Int("threshold", cb.threshold))
	} else if cb.state == BreakerClosed {
		cb.logger.Warn("Order failure recorded",
			zap.Int("failures", cb.failures),
			zap.Int("threshold", cb.threshold))
	}
	return cb.state == BreakerOpen
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == BreakerOpen
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) Threshold() int {
	return cb.threshold
}
