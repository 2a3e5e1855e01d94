package builtins

import (
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/pkg/ta"
	"fmt"
)

var _ strategy.Strategy = (*MarketRegime)(nil)

// MarketState 市场状态
type MarketState string

const (
	// 趋势模式 (Up or Down)
	StateStrongUpTrend   MarketState = "STRONG_UP_TREND"
	StateStrongDownTrend MarketState = "STRONG_DOWN_TREND"

	// 震荡模式
	StateHighVolRanging MarketState = "HIGH_VOL_RANGING"
	StateLowVolRanging  MarketState = "LOW_VOL_RANGING"
)

var marketRegimeSchema = strategy.Schema{
	strategy.Int("ma_period", 20).Gt(1).Le(200),
	strategy.Int("rsi_period", 14).Gt(1).Le(100),
	strategy.Int("atr_period", 14).Gt(1).Le(100),
	strategy.Float("trend_threshold", 60).Ge(50).Le(90),
	strategy.Float("atr_vol_threshold", 0.0005).Gt(0).Le(1),
}

type MarketRegimeParams struct {
	MAPeriod        int
	RSIPeriod       int
	ATRPeriod       int
	TrendThreshold  float64 // RSI 超过该值视为强势，低于 100-该值视为弱势
	ATRVolThreshold float64 // ATR/价格 的高低波动分界
}

// MarketRegime 按趋势和波动率把市场分为四种状态，
// 强上涨趋势跟随买入，强下跌趋势卖出，震荡期不开新仓。
type MarketRegime struct {
	p MarketRegimeParams
}

func newMarketRegime(params strategy.Params, deps map[string]strategy.Strategy) (strategy.Strategy, error) {
	if err := noDeps("market_regime", deps); err != nil {
		return nil, err
	}
	return &MarketRegime{p: MarketRegimeParams{
		MAPeriod:        params.Int("ma_period"),
		RSIPeriod:       params.Int("rsi_period"),
		ATRPeriod:       params.Int("atr_period"),
		TrendThreshold:  params.Float("trend_threshold"),
		ATRVolThreshold: params.Float("atr_vol_threshold"),
	}}, nil
}

func (s *MarketRegime) Name() string {
	return fmt.Sprintf("market_regime(%d)", s.p.MAPeriod)
}

// Classify 返回窗口末端的市场状态
func (s *MarketRegime) Classify(window []model.KLine) (MarketState, error) {
	data, err := ta.Snapshot(window, s.p.MAPeriod, s.p.RSIPeriod, s.p.ATRPeriod)
	if err != nil {
		return StateLowVolRanging, err
	}
	price := data.LastClose()

	// 趋势判断：价格相对均线 + RSI 动量确认
	if price > data.MA && data.RSI >= s.p.TrendThreshold {
		return StateStrongUpTrend, nil
	}
	if price < data.MA && data.RSI <= 100-s.p.TrendThreshold {
		return StateStrongDownTrend, nil
	}

	// 非趋势：按百分比 ATR 区分震荡模式
	if price <= 0 {
		return StateLowVolRanging, nil
	}
	if data.ATR/price >= s.p.ATRVolThreshold {
		return StateHighVolRanging, nil
	}
	return StateLowVolRanging, nil
}

func (s *MarketRegime) GenerateSignal(window []model.KLine) (model.Signal, error) {
	state, err := s.Classify(window)
	if err != nil {
		return model.SignalNeutral, err
	}
	switch state {
	case StateStrongUpTrend:
		return model.SignalBuy, nil
	case StateStrongDownTrend:
		return model.SignalSell, nil
	case StateHighVolRanging:
		return model.SignalHold, nil
	}
	return model.SignalNeutral, nil
}
