package strategy

import (
	"errors"
	"fmt"
)

// 配置期错误 (启动失败) 与运行期的单策略评估错误
var (
	ErrDuplicateStrategy  = errors.New("strategy already registered")
	ErrUnknownStrategy    = errors.New("unknown strategy")
	ErrInvalidParameter   = errors.New("invalid strategy parameter")
	ErrDisabledDependency = errors.New("strategy is disabled")
	ErrCyclicDependency   = errors.New("cyclic strategy dependency")
	ErrStrategyEvaluation = errors.New("strategy evaluation failed")
)

// InvalidParameterError 指明出错的策略和字段
type InvalidParameterError struct {
	Strategy string
	Field    string
	Reason   string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %s", ErrInvalidParameter, e.Strategy, e.Field, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// StrategyEvaluationError 单个成员策略在某个周期的失败，聚合器把它当作 neutral 票
type StrategyEvaluationError struct {
	Strategy string
	Err      error
}

func (e *StrategyEvaluationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStrategyEvaluation, e.Strategy, e.Err)
}

func (e *StrategyEvaluationError) Unwrap() error {
	return e.Err
}

func (e *StrategyEvaluationError) Is(target error) bool {
	return target == ErrStrategyEvaluation
}
