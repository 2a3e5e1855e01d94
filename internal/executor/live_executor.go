package executor

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/trace"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TradeRecorder 成交持久化 (可选)
type TradeRecorder interface {
	SaveTrade(ctx context.Context, rec model.TradeRecord) error
}

// LiveConfig 执行层参数
type LiveConfig struct {
	Slippage      float64
	FeeRate       float64
	MaxRetries    int           // 每笔订单最多尝试次数
	RetryDelay    time.Duration // 指数退避的起始间隔
	RiskPct       float64
	Limits        SizingLimits
	TrailDistance float64
	AdaptiveRisk  bool
	OrderType     model.OrderType
}

// LiveExecutor 在交易所客户端之上提供熔断、滑点/手续费调整、
// 风险仓位计算、带退避的下单重试和按交易对的持仓管理。
type LiveExecutor struct {
	client    api.Client
	cfg       LiveConfig
	breaker   *CircuitBreaker
	positions *PositionBook
	scaler    *RiskScaler
	recorder  TradeRecorder
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	history []model.TradeRecord
	pending map[string]pendingOrder // 已提交但成交未确认，按交易对
}

// pendingOrder 交易所已接受但成交未确认的订单。对账完成前该交易对不再下新单。
type pendingOrder struct {
	clientOrderID string
	side          model.Side
	signal        model.Signal
	reason        string
	params        *model.OrderParams
	attempts      int
}

var _ Executor = (*LiveExecutor)(nil)

func NewLiveExecutor(client api.Client, cfg LiveConfig, breaker *CircuitBreaker, recorder TradeRecorder, logger *zap.Logger) *LiveExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultBreakerThreshold, logger)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.OrderType == "" {
		cfg.OrderType = model.OrderTypeMarket
	}
	return &LiveExecutor{
		client:    client,
		cfg:       cfg,
		breaker:   breaker,
		positions: NewPositionBook(),
		scaler:    NewRiskScaler(logger),
		recorder:  recorder,
		logger:    logger.With(zap.String("executor", "live")),
		now:       time.Now,
		pending:   make(map[string]pendingOrder),
	}
}

func (e *LiveExecutor) Breaker() *CircuitBreaker {
	return e.breaker
}

func (e *LiveExecutor) Halted() bool {
	return e.breaker.IsOpen()
}

func (e *LiveExecutor) Position(symbol string) model.Position {
	return e.positions.Get(symbol)
}

// PendingOrder 该交易对未确认订单的客户端订单号
func (e *LiveExecutor) PendingOrder(symbol string) (string, bool) {
	p, ok := e.pendingOrder(symbol)
	return p.clientOrderID, ok
}

func (e *LiveExecutor) pendingOrder(symbol string) (pendingOrder, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pending[symbol]
	return p, ok
}

func (e *LiveExecutor) setPending(symbol string, p pendingOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[symbol] = p
}

func (e *LiveExecutor) clearPending(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, symbol)
}

func (e *LiveExecutor) GetTradeHistory() []model.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.TradeRecord(nil), e.history...)
}

// ComputeOrderParams 获取参考价并应用滑点和手续费
func (e *LiveExecutor) ComputeOrderParams(ctx context.Context, intent model.OrderIntent) (model.OrderParams, error) {
	price, err := e.client.FetchTicker(ctx, intent.Symbol)
	if err != nil {
		return model.OrderParams{}, fmt.Errorf("fetch ticker %s: %w", intent.Symbol, err)
	}
	if price <= 0 {
		return model.OrderParams{}, fmt.Errorf("fetch ticker %s: invalid price %v", intent.Symbol, price)
	}
	return AdjustOrder(price, intent.Side, intent.RequestedAmount, e.cfg.Slippage, e.cfg.FeeRate), nil
}

// ExecuteSignal 根据组合信号和当前持仓决定开仓、平仓或只移动止损
func (e *LiveExecutor) ExecuteSignal(ctx context.Context, symbol string, signal model.Signal) (*model.ExecutionResult, error) {
	log := e.logger.With(zap.String("symbol", symbol), zap.String("signal", signal.String()))

	if e.breaker.IsOpen() {
		log.Error("Refusing to trade, circuit breaker open",
			zap.String("breaker_state", string(e.breaker.State())),
			zap.Int("failures", e.breaker.Failures()))
		return nil, fmt.Errorf("%w: %s refused for %s", ErrCircuitOpen, signal, symbol)
	}

	if p, ok := e.pendingOrder(symbol); ok {
		return e.reconcile(ctx, log, symbol, p)
	}

	price, err := e.client.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	pos := e.positions.Get(symbol)
	if !pos.IsFlat() {
		stop, moved := e.positions.UpdateTrailingStop(symbol, price, e.cfg.TrailDistance)
		if moved {
			log.Info("Trailing stop raised", zap.Float64("stop", stop), zap.Float64("price", price))
		}
		switch {
		case signal.IsSell():
			return e.exit(ctx, log, symbol, signal, pos, "signal")
		case price <= stop:
			log.Warn("Trailing stop hit", zap.Float64("stop", stop), zap.Float64("price", price))
			return e.exit(ctx, log, symbol, signal, pos, "trailing_stop")
		}
		return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "holding"}, nil
	}

	if !signal.IsBuy() {
		return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "flat"}, nil
	}
	return e.enter(ctx, log, symbol, signal, price)
}

func (e *LiveExecutor) enter(ctx context.Context, log *zap.Logger, symbol string, signal model.Signal, price float64) (*model.ExecutionResult, error) {
	_, quote, err := api.SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}
	bal, err := e.client.FetchBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	free := bal.Free[quote]

	risk := e.cfg.RiskPct
	if e.cfg.AdaptiveRisk {
		e.scaler.ObserveBalance(bal.Total[quote])
		risk *= e.scaler.Factor()
	}

	qty := SizePosition(free, risk, price, e.cfg.Limits)
	if qty <= 0 {
		log.Info("Position size is zero, skipping entry",
			zap.Float64("free_balance", free),
			zap.Float64("min_notional", e.cfg.Limits.MinNotional))
		return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "insufficient balance"}, nil
	}

	clientID := uuid.NewString()
	fill, params, attempts, err := e.submit(ctx, log, symbol, model.SideBuy, qty, clientID)
	if err != nil {
		if errors.Is(err, errNoTrade) {
			return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "amount below fees", Params: params}, nil
		}
		if errors.Is(err, api.ErrOrderUnconfirmed) {
			e.setPending(symbol, pendingOrder{clientOrderID: clientID, side: model.SideBuy, signal: signal, reason: "signal", params: params, attempts: attempts})
		}
		return &model.ExecutionResult{Symbol: symbol, Action: "open", Params: params, Attempt: attempts}, err
	}
	return e.applyEntry(ctx, log, symbol, signal, fill, params, attempts), nil
}

// applyEntry 按成交开仓并设置初始移动止损
func (e *LiveExecutor) applyEntry(ctx context.Context, log *zap.Logger, symbol string, signal model.Signal, fill *model.Fill, params *model.OrderParams, attempts int) *model.ExecutionResult {
	result := &model.ExecutionResult{Symbol: symbol, Action: "open", Params: params, Fill: fill, Attempt: attempts}
	if fill == nil || fill.Filled <= 0 {
		log.Warn("Order accepted without fill, position unchanged")
		result.Action, result.Reason = "none", "not filled"
		return result
	}

	p := e.positions.Open(symbol, fill.Filled, fill.Price, fill.Fee, fill.Timestamp)
	stop, _ := e.positions.UpdateTrailingStop(symbol, fill.Price, e.cfg.TrailDistance)
	log.Info("Position opened",
		zap.Float64("qty", p.Quantity),
		zap.Float64("entry", p.EntryPrice),
		zap.Float64("trailing_stop", stop))

	result.Trade = e.record(ctx, model.TradeRecord{
		ID:            fill.ClientOrderID,
		Symbol:        symbol,
		Side:          model.SideBuy,
		Quantity:      fill.Filled,
		Price:         fill.Price,
		Fee:           fill.Fee,
		TriggerReason: "signal",
		Signal:        signal,
		Timestamp:     fill.Timestamp,
	})
	result.Reason = "signal"
	return result
}

func (e *LiveExecutor) exit(ctx context.Context, log *zap.Logger, symbol string, signal model.Signal, pos model.Position, reason string) (*model.ExecutionResult, error) {
	clientID := uuid.NewString()
	fill, params, attempts, err := e.submit(ctx, log, symbol, model.SideSell, pos.Quantity, clientID)
	if err != nil {
		if errors.Is(err, errNoTrade) {
			return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "amount below fees", Params: params}, nil
		}
		if errors.Is(err, api.ErrOrderUnconfirmed) {
			e.setPending(symbol, pendingOrder{clientOrderID: clientID, side: model.SideSell, signal: signal, reason: reason, params: params, attempts: attempts})
		}
		return &model.ExecutionResult{Symbol: symbol, Action: "close", Reason: reason, Params: params, Attempt: attempts}, err
	}
	return e.applyExit(ctx, log, symbol, signal, pos, reason, fill, params, attempts), nil
}

// applyExit 按成交减仓。下单数量已扣除手续费，成交达到下单数量即视为全部平仓，
// 持仓与成交的差额 (dust) 留在交易所，不再由持仓簿跟踪。
func (e *LiveExecutor) applyExit(ctx context.Context, log *zap.Logger, symbol string, signal model.Signal, pos model.Position, reason string, fill *model.Fill, params *model.OrderParams, attempts int) *model.ExecutionResult {
	result := &model.ExecutionResult{Symbol: symbol, Action: "close", Reason: reason, Params: params, Fill: fill, Attempt: attempts}
	if fill == nil || fill.Filled <= 0 {
		log.Warn("Exit order accepted without fill, position unchanged")
		result.Action, result.Reason = "none", "not filled"
		return result
	}

	full := params != nil && fill.Filled >= params.Amount*(1-1e-9)
	dust := 0.0
	if full {
		dust = math.Max(pos.Quantity-fill.Filled, 0)
	}
	remaining, pnl := e.positions.Reduce(symbol, fill.Filled, fill.Price, fill.Fee, full)
	if e.cfg.AdaptiveRisk {
		e.scaler.ObserveTrade(pnl)
	}
	log.Info("Position reduced",
		zap.String("reason", reason),
		zap.Float64("filled", fill.Filled),
		zap.Float64("price", fill.Price),
		zap.Float64("pnl", pnl),
		zap.Float64("remaining", remaining.Quantity),
		zap.Float64("dust", dust))

	result.Trade = e.record(ctx, model.TradeRecord{
		ID:            fill.ClientOrderID,
		Symbol:        symbol,
		Side:          model.SideSell,
		Quantity:      fill.Filled,
		Price:         fill.Price,
		Fee:           fill.Fee,
		RealizedPnL:   pnl,
		TriggerReason: reason,
		Signal:        signal,
		Timestamp:     fill.Timestamp,
	})
	return result
}

// reconcile 查询未确认订单的最终成交并补记到持仓簿。查询失败时继续阻止该交易对下单；
// 交易所确认订单不存在时视为未成交。
func (e *LiveExecutor) reconcile(ctx context.Context, log *zap.Logger, symbol string, p pendingOrder) (*model.ExecutionResult, error) {
	log = log.With(zap.String("client_order_id", p.clientOrderID), zap.String("side", p.side.String()))

	fill, err := e.client.FetchOrder(ctx, symbol, p.clientOrderID)
	switch {
	case errors.Is(err, api.ErrOrderNotFound):
		e.clearPending(symbol)
		log.Warn("Pending order not found on exchange, treating as unfilled", zap.Error(err))
		return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "not filled", Params: p.params, Attempt: p.attempts}, nil
	case err != nil:
		log.Error("Pending order still unconfirmed, symbol blocked", zap.Error(err))
		return &model.ExecutionResult{Symbol: symbol, Action: "none", Reason: "order unconfirmed", Params: p.params, Attempt: p.attempts},
			&OrderSubmissionError{Symbol: symbol, Side: p.side, Attempts: p.attempts, Err: err}
	}

	e.clearPending(symbol)
	if fill.ClientOrderID == "" {
		fill.ClientOrderID = p.clientOrderID
	}
	if fill.Timestamp.IsZero() {
		fill.Timestamp = e.now()
	}
	log.Info("Pending order reconciled", zap.Float64("filled", fill.Filled), zap.Float64("price", fill.Price))

	var result *model.ExecutionResult
	if p.side == model.SideBuy {
		result = e.applyEntry(ctx, log, symbol, p.signal, fill, p.params, p.attempts)
	} else {
		result = e.applyExit(ctx, log, symbol, p.signal, e.positions.Get(symbol), p.reason, fill, p.params, p.attempts)
	}
	if result.Action != "none" {
		result.Reason = "reconciled"
	}
	return result, nil
}

// submit 带指数退避地提交订单。每次失败都计入熔断器，熔断打开后立即停止重试。
// 同一笔订单的所有重试共用 clientID；下单结果未确认时不再重试，避免重复下单。
func (e *LiveExecutor) submit(ctx context.Context, log *zap.Logger, symbol string, side model.Side, qty float64, clientID string) (*model.Fill, *model.OrderParams, int, error) {
	attempts := 0
	var (
		fill   *model.Fill
		params *model.OrderParams
	)

	op := func() error {
		if e.breaker.IsOpen() {
			return backoff.Permanent(ErrCircuitOpen)
		}
		attempts++

		spanCtx, span := trace.StartSpan(ctx, "executor.submit_order", oteltrace.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("side", side.String()),
			attribute.Int("attempt", attempts),
		))
		defer span.End()

		p, err := e.ComputeOrderParams(spanCtx, model.OrderIntent{Symbol: symbol, Side: side, RequestedAmount: qty})
		if err != nil {
			trace.RecordError(span, err)
			e.breaker.RecordFailure()
			log.Warn("Order pricing failed", zap.Int("attempt", attempts), zap.Error(err))
			return err
		}
		params = &p
		if p.Amount <= 0 {
			return backoff.Permanent(errNoTrade)
		}

		price := 0.0
		if e.cfg.OrderType == model.OrderTypeLimit {
			price = p.Price
		}
		f, err := e.client.SubmitOrder(spanCtx, api.OrderRequest{
			Symbol:        symbol,
			Side:          side,
			Amount:        p.Amount,
			Price:         price,
			Type:          e.cfg.OrderType,
			ClientOrderID: clientID,
		})
		if err != nil {
			trace.RecordError(span, err)
			e.breaker.RecordFailure()
			if errors.Is(err, api.ErrOrderUnconfirmed) {
				log.Error("Order state unknown, not retrying", zap.Int("attempt", attempts), zap.Error(err))
				return backoff.Permanent(err)
			}
			log.Warn("Order submission failed",
				append(trace.Fields(spanCtx),
					zap.Int("attempt", attempts),
					zap.Int("max_attempts", e.cfg.MaxRetries),
					zap.Error(err))...)
			return err
		}
		if f != nil && f.ClientOrderID == "" {
			f.ClientOrderID = clientID
		}
		if f != nil && f.Timestamp.IsZero() {
			f.Timestamp = e.now()
		}
		fill = f
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 16 * e.cfg.RetryDelay
	b.MaxElapsedTime = 0
	if e.cfg.RetryDelay <= 0 {
		b.InitialInterval = time.Millisecond
		b.MaxInterval = time.Millisecond
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries-1)), ctx))
	switch {
	case err == nil:
		return fill, params, attempts, nil
	case errors.Is(err, errNoTrade):
		return nil, params, attempts, err
	case errors.Is(err, ErrCircuitOpen) || e.breaker.IsOpen():
		log.Error("Order aborted, circuit breaker open",
			zap.String("side", side.String()),
			zap.Int("attempts", attempts),
			zap.Int("failures", e.breaker.Failures()),
			zap.Error(err))
		return nil, params, attempts, fmt.Errorf("%w: %w", ErrCircuitOpen, &OrderSubmissionError{Symbol: symbol, Side: side, Attempts: attempts, Err: err})
	}
	log.Error("Order submission exhausted retries",
		zap.String("side", side.String()),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return nil, params, attempts, &OrderSubmissionError{Symbol: symbol, Side: side, Attempts: attempts, Err: err}
}

func (e *LiveExecutor) record(ctx context.Context, rec model.TradeRecord) *model.TradeRecord {
	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.SaveTrade(ctx, rec); err != nil {
			e.logger.Error("Failed to persist trade", zap.String("trade_id", rec.ID), zap.Error(err))
		}
	}
	e.logger.Info(rec.String())
	return &rec
}
