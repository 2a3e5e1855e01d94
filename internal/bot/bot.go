// Package bot 把策略解析、信号聚合和执行安全层串成交易周期
package bot

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/data"
	"crypto-signal-bot/internal/executor"
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/notify"
	"crypto-signal-bot/internal/service"
	"crypto-signal-bot/internal/strategy"
	"crypto-signal-bot/internal/strategy/builtins"
	"crypto-signal-bot/internal/trace"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidData 拉取到的 K 线未通过校验，本周期不做决策
var ErrInvalidData = errors.New("invalid ohlcv window")

// Ledger 成交与决策持久化
type Ledger interface {
	executor.TradeRecorder
	SaveDecision(ctx context.Context, r model.CycleResult) error
}

// Deps 外部协作者。Client 必填，其余可选。
type Deps struct {
	Client   api.Client
	Notifier notify.Notifier
	Ledger   Ledger
	Registry *strategy.Registry // 为空时注册全部内置策略
	Logger   *zap.Logger
}

// Bot 单进程交易机器人
type Bot struct {
	cfg      *service.Config
	client   api.Client
	resolver *strategy.Resolver
	root     strategy.Strategy
	exec     *executor.LiveExecutor
	notifier notify.Notifier
	ledger   Ledger
	logger   *zap.Logger
	now      func() time.Time

	// 每个交易对独立的聚合器 (历史窗口互不影响)
	aggregators map[string]*strategy.Aggregator

	shutdownOnce sync.Once
	shutdownErr  error
}

// Initialize 构建注册表、解析顶层策略并创建执行安全层。配置错误直接返回，机器人不启动。
func Initialize(cfg *service.Config, deps Deps) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Client == nil {
		return nil, errors.New("exchange client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	reg := deps.Registry
	if reg == nil {
		reg = strategy.NewRegistry()
		if err := builtins.RegisterAll(reg, logger); err != nil {
			return nil, err
		}
	}
	resolver := strategy.NewResolver(reg, logger)

	strategyCfg := cfg.Strategy.StrategyConfig()
	root, err := resolver.Resolve(strategyCfg)
	if err != nil {
		return nil, fmt.Errorf("resolve strategy %s: %w", strategyCfg.Key(), err)
	}

	// 非 combined 策略包装成单成员聚合器，统一走历史平滑
	proto, ok := root.(*strategy.Aggregator)
	if !ok {
		proto = strategy.NewAggregator(
			[]strategy.Member{{Role: strategyCfg.Name, Strategy: root}},
			cfg.Aggregator.StrongThreshold, cfg.Aggregator.HistoryLength, logger)
	}
	aggregators := make(map[string]*strategy.Aggregator, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		aggregators[symbol] = proto.Clone(logger.With(zap.String("symbol", symbol)))
	}

	var recorder executor.TradeRecorder
	if deps.Ledger != nil {
		recorder = deps.Ledger
	}
	breaker := executor.NewCircuitBreaker(cfg.Execution.BreakerThreshold, logger)
	exec := executor.NewLiveExecutor(deps.Client, executor.LiveConfig{
		Slippage:   cfg.Execution.Slippage,
		FeeRate:    cfg.Execution.FeeRate,
		MaxRetries: cfg.Execution.MaxRetries,
		RetryDelay: cfg.Execution.RetryDelay,
		RiskPct:    cfg.Risk.RiskPct,
		Limits: executor.SizingLimits{
			MinOrderSize:   cfg.Risk.MinOrderSize,
			MinNotional:    cfg.Risk.MinNotional,
			EnforceBalance: cfg.Risk.EnforceBalance,
			BalanceFloor:   cfg.Risk.BalanceFloor,
		},
		TrailDistance: cfg.Risk.TrailingDistance,
		AdaptiveRisk:  cfg.Risk.Adaptive,
		OrderType:     model.OrderType(cfg.Execution.OrderType),
	}, breaker, recorder, logger)

	logger.Info("Bot initialized",
		zap.String("mode", cfg.Mode),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("strategy", strategyCfg.Key()),
		zap.Int("members", len(proto.Members())),
		zap.String("timeframe", cfg.Timeframe))

	return &Bot{
		cfg:         cfg,
		client:      deps.Client,
		resolver:    resolver,
		root:        root,
		exec:        exec,
		notifier:    notifier,
		ledger:      deps.Ledger,
		logger:      logger,
		now:         time.Now,
		aggregators: aggregators,
	}, nil
}

// Strategy 解析后的顶层策略 (resolver 缓存中的实例)
func (b *Bot) Strategy() strategy.Strategy {
	return b.root
}

// Executor 执行层 (持仓、熔断状态、成交历史)
func (b *Bot) Executor() *executor.LiveExecutor {
	return b.exec
}

// RunCycle 一个周期：每个交易对并发执行 拉取窗口 → 决策 → (可能) 下单，全部完成后返回。
// 结果按交易对排序。熔断打开时返回 ErrCircuitOpen；任一交易对出错时返回合并后的错误。
func (b *Bot) RunCycle(ctx context.Context) ([]model.CycleResult, error) {
	if b.exec.Halted() {
		return nil, fmt.Errorf("%w: trading halted after %d failures", executor.ErrCircuitOpen, b.exec.Breaker().Failures())
	}

	cycleID := uuid.NewString()
	ctx, span := trace.StartSpan(ctx, "bot.run_cycle", oteltrace.WithAttributes(
		attribute.String("cycle_id", cycleID),
		attribute.Int("symbols", len(b.cfg.Symbols)),
	))
	defer span.End()

	p := pool.NewWithResults[model.CycleResult]().WithMaxGoroutines(max(1, len(b.cfg.Symbols)))
	for _, symbol := range b.cfg.Symbols {
		symbol := symbol
		p.Go(func() model.CycleResult {
			return b.processSymbol(ctx, cycleID, symbol)
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Symbol, r.Err))
		}
	}
	err := errors.Join(errs...)
	if b.exec.Halted() && !errors.Is(err, executor.ErrCircuitOpen) {
		err = errors.Join(executor.ErrCircuitOpen, err)
	}
	trace.RecordError(span, err)
	return results, err
}

func (b *Bot) processSymbol(ctx context.Context, cycleID, symbol string) model.CycleResult {
	ctx, span := trace.StartSpan(ctx, "bot.process_symbol", oteltrace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()
	log := b.logger.With(zap.String("symbol", symbol), zap.String("cycle_id", cycleID))

	result := model.CycleResult{CycleID: cycleID, Symbol: symbol, Decision: model.SignalNeutral, Timestamp: b.now()}
	defer func() {
		trace.RecordError(span, result.Err)
		b.saveDecision(ctx, log, result)
	}()

	bars, err := b.client.FetchOHLCV(ctx, symbol, b.cfg.Timeframe, b.cfg.Window)
	if err != nil {
		log.Error("Failed to fetch OHLCV", zap.Error(err))
		result.Err = fmt.Errorf("fetch ohlcv: %w", err)
		return result
	}
	ok, cleaned := data.ValidateBars(bars)
	if !ok {
		log.Warn("OHLCV window failed validation, skipping", zap.Int("bars", len(bars)), zap.Int("cleaned", len(cleaned)))
		result.Err = fmt.Errorf("%w: %d bars, %d after cleaning", ErrInvalidData, len(bars), len(cleaned))
		return result
	}

	decision := b.aggregators[symbol].Decide(cleaned)
	result.Decision = decision
	result.Price = cleaned[len(cleaned)-1].Close
	span.SetAttributes(attribute.String("decision", decision.String()))
	log.Info("Decision", zap.String("signal", decision.String()), zap.Float64("close", result.Price))

	b.notifier.NotifySignal(ctx, symbol, decision, result.Price)

	// 下单一旦开始必须跑完，不随周期 ctx 取消
	execResult, err := b.exec.ExecuteSignal(context.WithoutCancel(ctx), symbol, decision)
	result.Execution = execResult
	if err != nil {
		result.Err = err
		fields := []zap.Field{
			zap.String("signal", decision.String()),
			zap.String("breaker_state", string(b.exec.Breaker().State())),
			zap.Int("breaker_failures", b.exec.Breaker().Failures()),
			zap.Error(err),
		}
		if errors.Is(err, executor.ErrCircuitOpen) {
			log.Error("Execution halted by circuit breaker", fields...)
		} else {
			log.Error("Execution failed", fields...)
		}
		b.notifier.NotifyError(ctx, fmt.Errorf("%s %s: %w", symbol, decision, err))
		return result
	}
	if execResult != nil && execResult.Trade != nil {
		b.notifier.NotifyTrade(ctx, *execResult.Trade)
	}
	return result
}

func (b *Bot) saveDecision(ctx context.Context, log *zap.Logger, r model.CycleResult) {
	if b.ledger == nil {
		return
	}
	if err := b.ledger.SaveDecision(context.WithoutCancel(ctx), r); err != nil {
		log.Warn("Failed to persist decision", zap.Error(err))
	}
}

// Run 每 loop_interval 执行一次 RunCycle；周期出错后等待 error_retry_delay。
// ctx 取消时在周期之间退出并返回 nil；熔断打开时停止交易并返回 ErrCircuitOpen。
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Trading loop started",
		zap.Duration("loop_interval", b.cfg.LoopInterval),
		zap.Duration("error_retry_delay", b.cfg.ErrorRetryDelay))

	for {
		if ctx.Err() != nil {
			b.logger.Info("Trading loop stopped")
			return nil
		}

		_, err := b.RunCycle(ctx)
		delay := b.cfg.LoopInterval
		switch {
		case errors.Is(err, executor.ErrCircuitOpen):
			b.logger.Error("Circuit breaker open, trading stopped for this session",
				zap.String("breaker_state", string(b.exec.Breaker().State())),
				zap.Int("breaker_failures", b.exec.Breaker().Failures()),
				zap.Error(err))
			b.notifier.NotifyError(ctx, err)
			return err
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			b.logger.Warn("Cycle finished with errors", zap.Error(err), zap.Duration("retry_in", b.cfg.ErrorRetryDelay))
			delay = b.cfg.ErrorRetryDelay
		}

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

// Shutdown 释放交易所客户端并等待通知发送完成，可重复调用
func (b *Bot) Shutdown() error {
	b.shutdownOnce.Do(func() {
		b.shutdownErr = errors.Join(b.notifier.Close(), b.client.Close())
		b.logger.Info("Bot shut down", zap.Int("trades", len(b.exec.GetTradeHistory())))
	})
	return b.shutdownErr
}
