package ta

import (
	"crypto-signal-bot/internal/model"
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

// ErrNotEnoughData K 线窗口长度不足以计算指标
var ErrNotEnoughData = errors.New("not enough history for indicator")

// TAData 一个 K 线窗口上计算出的最新指标快照
type TAData struct {
	Symbol string
	Close  []float64 // 收盘价序列
	High   []float64 // 最高价序列
	Low    []float64 // 最低价序列

	MA       float64
	RSI      float64
	BBandsUp float64
	BBandsDn float64
	ATR      float64
	MACD     float64
	MACDHist float64
}

// LastClose 最新收盘价
func (d *TAData) LastClose() float64 {
	if len(d.Close) == 0 {
		return 0
	}
	return d.Close[len(d.Close)-1]
}

// Snapshot 计算窗口上的 MA/RSI/BBands/ATR/MACD
func Snapshot(bars []model.KLine, maPeriod, rsiPeriod, atrPeriod int) (*TAData, error) {
	if len(bars) == 0 {
		return nil, ErrNotEnoughData
	}
	data := &TAData{
		Symbol: bars[0].Symbol,
		Close:  model.Closes(bars),
		High:   model.Highs(bars),
		Low:    model.Lows(bars),
	}

	var err error
	if data.MA, err = SMA(data.Close, maPeriod); err != nil {
		return nil, err
	}
	if data.RSI, err = RSI(data.Close, rsiPeriod); err != nil {
		return nil, err
	}
	if data.BBandsUp, _, data.BBandsDn, err = BBands(data.Close, maPeriod, 2); err != nil {
		return nil, err
	}
	if data.ATR, err = ATR(data.High, data.Low, data.Close, atrPeriod); err != nil {
		return nil, err
	}
	// MACD 只在历史足够时计算，不足时保持 0
	if m, _, hist, err := MACD(data.Close, 12, 26, 9); err == nil {
		data.MACD, data.MACDHist = m, hist
	}
	return data, nil
}

func needBars(name string, have, want int) error {
	if want <= 0 {
		return fmt.Errorf("%s: period must be positive, got %d", name, want)
	}
	if have < want {
		return fmt.Errorf("%w: %s needs %d bars, have %d", ErrNotEnoughData, name, want, have)
	}
	return nil
}

func last(name string, series []float64) (float64, error) {
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: non-finite result", name)
	}
	return v, nil
}

// SMA 简单移动平均的最新值
func SMA(closes []float64, period int) (float64, error) {
	if err := needBars("SMA", len(closes), period); err != nil {
		return 0, err
	}
	return last("SMA", talib.Sma(closes, period))
}

// EMA 指数移动平均的最新值
func EMA(closes []float64, period int) (float64, error) {
	if err := needBars("EMA", len(closes), period); err != nil {
		return 0, err
	}
	return last("EMA", talib.Ema(closes, period))
}

// RSI 相对强弱指数 (Wilder)，需要 period+1 根 K 线
func RSI(closes []float64, period int) (float64, error) {
	if err := needBars("RSI", len(closes), period+1); err != nil {
		return 0, err
	}
	return last("RSI", talib.Rsi(closes, period))
}

// BBands 布林带 (SMA 中轨, numStd 倍标准差)
func BBands(series []float64, period int, numStd float64) (upper, middle, lower float64, err error) {
	if err = needBars("BBands", len(series), period); err != nil {
		return 0, 0, 0, err
	}
	up, mid, dn := talib.BBands(series, period, numStd, numStd, talib.SMA)
	if upper, err = last("BBands", up); err != nil {
		return 0, 0, 0, err
	}
	if middle, err = last("BBands", mid); err != nil {
		return 0, 0, 0, err
	}
	if lower, err = last("BBands", dn); err != nil {
		return 0, 0, 0, err
	}
	return upper, middle, lower, nil
}

// MACD 返回 MACD 线、信号线和柱状图的最新值
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64, err error) {
	if fast >= slow {
		return 0, 0, 0, fmt.Errorf("MACD: fast period %d must be below slow period %d", fast, slow)
	}
	if err = needBars("MACD", len(closes), slow+signal); err != nil {
		return 0, 0, 0, err
	}
	m, s, h := talib.Macd(closes, fast, slow, signal)
	if macd, err = last("MACD", m); err != nil {
		return 0, 0, 0, err
	}
	if sig, err = last("MACD", s); err != nil {
		return 0, 0, 0, err
	}
	if hist, err = last("MACD", h); err != nil {
		return 0, 0, 0, err
	}
	return macd, sig, hist, nil
}

// ATR 平均真实波动范围，需要 High, Low, Close 三条序列
func ATR(high, low, closes []float64, period int) (float64, error) {
	if len(high) != len(closes) || len(low) != len(closes) {
		return 0, fmt.Errorf("ATR: series length mismatch")
	}
	if err := needBars("ATR", len(closes), period+1); err != nil {
		return 0, err
	}
	return last("ATR", talib.Atr(high, low, closes, period))
}

// Stochastic 快速随机指标 %K / %D (%D 为 %K 的 SMA)
func Stochastic(high, low, closes []float64, kPeriod, dPeriod int) (k, d float64, err error) {
	if len(high) != len(closes) || len(low) != len(closes) {
		return 0, 0, fmt.Errorf("Stochastic: series length mismatch")
	}
	if err = needBars("Stochastic", len(closes), kPeriod+dPeriod); err != nil {
		return 0, 0, err
	}
	ks, ds := talib.StochF(high, low, closes, kPeriod, dPeriod, talib.SMA)
	if k, err = last("Stochastic", ks); err != nil {
		return 0, 0, err
	}
	if d, err = last("Stochastic", ds); err != nil {
		return 0, 0, err
	}
	return k, d, nil
}
