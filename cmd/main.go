package main

import (
	"context"
	"crypto-signal-bot/internal/api"
	"crypto-signal-bot/internal/bot"
	"crypto-signal-bot/internal/data"
	"crypto-signal-bot/internal/executor"
	"crypto-signal-bot/internal/notify"
	"crypto-signal-bot/internal/service"
	"crypto-signal-bot/internal/store"
	"crypto-signal-bot/internal/trace"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config", "config directory or file")
	flag.Parse()

	// .env 可选，缺失时只用环境变量
	_ = godotenv.Load()

	cfg, err := service.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := service.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Bot exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *service.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Trace.Enabled {
		if err := trace.Init(version, cfg.Trace.Pretty); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := trace.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Trace shutdown failed", zap.Error(err))
			}
		}()
	}

	deps := bot.Deps{Logger: logger}

	if cfg.Store.Path != "" {
		ledger, err := store.NewSQLiteStore(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer ledger.Close()
		deps.Ledger = ledger
	}

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID}, logger)
		if err != nil {
			return err
		}
		deps.Notifier = tg
	}

	okx := api.NewOkxClient(api.OkxConfig{
		APIKey:     cfg.Exchange.APIKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Passphrase: cfg.Exchange.Passphrase,
		RESTURL:    cfg.Exchange.RESTURL,
		Simulated:  cfg.Exchange.Simulated,
	}, logger)

	switch cfg.Mode {
	case service.ModeLive:
		deps.Client = okx
	default:
		client, err := startPaperMarket(ctx, cfg, okx, logger)
		if err != nil {
			return err
		}
		deps.Client = client
	}

	b, err := bot.Initialize(cfg, deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Shutdown(); err != nil {
			logger.Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	err = b.Run(ctx)
	if errors.Is(err, executor.ErrCircuitOpen) {
		// 熔断后保持进程存活以便排查，等待人工停止
		logger.Error("Trading halted, waiting for signal to exit")
		<-ctx.Done()
		return nil
	}
	return err
}

// startPaperMarket 启动公共行情流并返回基于它的模拟交易所
func startPaperMarket(ctx context.Context, cfg *service.Config, okx *api.OkxClient, logger *zap.Logger) (*executor.Simulator, error) {
	connector := api.NewConnector(cfg.Exchange.WSURL, cfg.Symbols, logger)
	engine, err := data.NewDataEngine(connector.TickerChannel(), cfg.Symbols, cfg.Timeframe, cfg.Window, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Paper.Warmup {
		for _, symbol := range cfg.Symbols {
			bars, err := okx.FetchOHLCV(ctx, symbol, cfg.Timeframe, cfg.Window)
			if err != nil {
				logger.Warn("Warmup failed, starting with empty window", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			if err := engine.Seed(symbol, bars); err != nil {
				return nil, err
			}
			logger.Info("Warmup loaded", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
		}
	}

	go func() {
		if err := connector.Run(ctx); err != nil {
			logger.Error("Connector stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("Data engine stopped", zap.Error(err))
		}
	}()
	// 已收盘 K 线已进入窗口，这里只需排空通道
	go func() {
		for range engine.KlineChannel() {
		}
	}()

	balances := make(map[string]float64)
	for _, symbol := range cfg.Symbols {
		_, quote, err := api.SplitSymbol(symbol)
		if err != nil {
			return nil, err
		}
		balances[quote] = cfg.Paper.InitialBalance
	}
	return executor.NewSimulator(executor.SimulatorConfig{
		InitialBalances: balances,
		FeeRate:         cfg.Execution.FeeRate,
	}, engine, logger.Sugar()), nil
}
