package model

import "time"

// Ticker 代表最小粒度的市场数据（成交或价格快照）
type Ticker struct {
	Symbol    string  // 所属交易对，例如 "BTC/USDT"
	Timestamp int64   // 毫秒时间戳
	Price     float64 // 价格
	Volume    float64 // 交易量 (0 表示价格快照)
}

// KLine 代表聚合后的 K 线数据 (OHLCV)
type KLine struct {
	Symbol    string // 所属交易对
	Interval  string // 周期，例如 "1m", "5m", "1h"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	StartTime time.Time
	EndTime   time.Time
}

// Closes 提取收盘价序列
func Closes(bars []KLine) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs 提取最高价序列
func Highs(bars []KLine) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows 提取最低价序列
func Lows(bars []KLine) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// TypicalPrices 典型价格 (H+L+C)/3
func TypicalPrices(bars []KLine) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = (b.High + b.Low + b.Close) / 3
	}
	return out
}
