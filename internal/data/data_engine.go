package data

import (
	"context"
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/service"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownSymbol 未被 DataEngine 跟踪的交易对
	ErrUnknownSymbol = errors.New("symbol not tracked")
	// ErrNoPrice 尚未收到任何价格
	ErrNoPrice = errors.New("no price received yet")
)

// DataEngine 消费 Ticker 流，按单一周期为每个交易对聚合 K 线，
// 保留最近 window 根已收盘 K 线和最新价，为 paper 模式提供行情。
type DataEngine struct {
	tickerChan  <-chan model.Ticker
	klineChan   chan model.KLine
	interval    time.Duration
	intervalStr string
	window      int
	logger      *zap.Logger

	mu          sync.RWMutex
	aggregators map[string]*KlineAggregator
	bars        map[string][]model.KLine
	lastPrice   map[string]float64
}

// NewDataEngine 创建并初始化 DataEngine
func NewDataEngine(tickerChan <-chan model.Ticker, symbols []string, timeframe string, window int, logger *zap.Logger) (*DataEngine, error) {
	interval, err := service.ParseIntervalDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	de := &DataEngine{
		tickerChan:  tickerChan,
		klineChan:   make(chan model.KLine, 100),
		interval:    interval,
		intervalStr: service.FormatInterval(interval),
		window:      window,
		logger:      logger.With(zap.String("component", "data_engine"), zap.String("interval", timeframe)),
		aggregators: make(map[string]*KlineAggregator, len(symbols)),
		bars:        make(map[string][]model.KLine, len(symbols)),
		lastPrice:   make(map[string]float64, len(symbols)),
	}
	for _, symbol := range symbols {
		de.aggregators[symbol] = NewKlineAggregator(symbol, de.intervalStr, interval)
	}
	return de, nil
}

// Run 主循环：接收原始 Ticker 直到通道关闭或 ctx 取消
func (de *DataEngine) Run(ctx context.Context) error {
	de.logger.Info("Data Engine started, monitoring ticker stream...")
	defer close(de.klineChan)
	for {
		select {
		case <-ctx.Done():
			de.logger.Info("Data Engine stopped")
			return nil
		case ticker, ok := <-de.tickerChan:
			if !ok {
				de.logger.Info("Ticker stream closed, Data Engine stopped")
				return nil
			}
			de.ProcessTicker(ticker)
		}
	}
}

// ProcessTicker 更新最新价并聚合 K 线；K 线收盘时追加到窗口并转发
func (de *DataEngine) ProcessTicker(ticker model.Ticker) {
	agg, ok := de.aggregators[ticker.Symbol]
	if !ok || ticker.Price <= 0 || math.IsNaN(ticker.Price) {
		return
	}

	de.mu.Lock()
	de.lastPrice[ticker.Symbol] = ticker.Price
	completed, closed := agg.ProcessTicker(ticker)
	if closed {
		de.appendBarLocked(completed)
	}
	de.mu.Unlock()

	if closed {
		select {
		case de.klineChan <- completed:
		default:
			de.logger.Debug("KLine output channel full, dropping", zap.String("symbol", completed.Symbol))
		}
	}
}

// Seed 预热历史 K 线 (例如启动时从 REST 拉取)；只接受本周期的 K 线
func (de *DataEngine) Seed(symbol string, bars []model.KLine) error {
	if _, ok := de.aggregators[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	de.mu.Lock()
	defer de.mu.Unlock()
	for _, b := range bars {
		if b.Symbol != symbol {
			continue
		}
		de.appendBarLocked(b)
	}
	if n := len(de.bars[symbol]); n > 0 {
		if _, ok := de.lastPrice[symbol]; !ok {
			de.lastPrice[symbol] = de.bars[symbol][n-1].Close
		}
	}
	return nil
}

func (de *DataEngine) appendBarLocked(b model.KLine) {
	bars := de.bars[b.Symbol]
	if n := len(bars); n > 0 && !b.StartTime.After(bars[n-1].StartTime) {
		return
	}
	bars = append(bars, b)
	if len(bars) > de.window {
		bars = append([]model.KLine(nil), bars[len(bars)-de.window:]...)
	}
	de.bars[b.Symbol] = bars
}

// FetchOHLCV 返回最近 limit 根已收盘 K 线 (升序)
func (de *DataEngine) FetchOHLCV(_ context.Context, symbol, timeframe string, limit int) ([]model.KLine, error) {
	if _, ok := de.aggregators[symbol]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if d, err := service.ParseIntervalDuration(timeframe); err != nil || d != de.interval {
		return nil, fmt.Errorf("timeframe %q not served, engine aggregates %s", timeframe, de.intervalStr)
	}
	de.mu.RLock()
	defer de.mu.RUnlock()
	bars := de.bars[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]model.KLine(nil), bars...), nil
}

func (de *DataEngine) FetchTicker(_ context.Context, symbol string) (float64, error) {
	if _, ok := de.aggregators[symbol]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	de.mu.RLock()
	defer de.mu.RUnlock()
	price, ok := de.lastPrice[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return price, nil
}

// KlineChannel 已收盘 K 线流，Run 退出后关闭
func (de *DataEngine) KlineChannel() <-chan model.KLine {
	return de.klineChan
}

// KlineAggregator 按 Ticker 时间戳聚合单个交易对、单个周期的 K 线
type KlineAggregator struct {
	Symbol   string
	Interval string
	Current  model.KLine // 正在构建的 K 线，StartTime 为零值表示未初始化
	duration time.Duration
}

func NewKlineAggregator(symbol, intervalStr string, duration time.Duration) *KlineAggregator {
	return &KlineAggregator{
		Symbol:   symbol,
		Interval: intervalStr,
		duration: duration,
		Current:  model.KLine{Symbol: symbol, Interval: intervalStr},
	}
}

// ProcessTicker 将 Ticker 聚合到 Current；跨入新周期时返回上一根已完成的 K 线。
// 早于当前 K 线的 Ticker 被忽略。调用方负责同步。
func (agg *KlineAggregator) ProcessTicker(ticker model.Ticker) (model.KLine, bool) {
	if ticker.Timestamp <= 0 {
		return model.KLine{}, false
	}
	tickerTime := time.UnixMilli(ticker.Timestamp).UTC()
	start := tickerTime.Truncate(agg.duration)

	var (
		completed model.KLine
		closed    bool
	)
	switch {
	case agg.Current.StartTime.IsZero():
		agg.reset(start, ticker.Price)
	case start.After(agg.Current.StartTime):
		completed, closed = agg.Current, true
		agg.reset(start, ticker.Price)
	case start.Before(agg.Current.StartTime):
		return model.KLine{}, false
	}

	agg.Current.Close = ticker.Price
	agg.Current.High = math.Max(agg.Current.High, ticker.Price)
	agg.Current.Low = math.Min(agg.Current.Low, ticker.Price)
	agg.Current.Volume += ticker.Volume
	return completed, closed
}

func (agg *KlineAggregator) reset(start time.Time, price float64) {
	agg.Current = model.KLine{
		Symbol:    agg.Symbol,
		Interval:  agg.Interval,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		StartTime: start,
		EndTime:   start.Add(agg.duration - time.Millisecond),
	}
}
