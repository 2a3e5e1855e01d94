// internal/service/config.go
package service

import (
	"crypto-signal-bot/internal/strategy"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config 机器人全局配置
type Config struct {
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"log_level"`
	Symbols         []string      `mapstructure:"symbols"`
	Timeframe       string        `mapstructure:"timeframe"`
	Window          int           `mapstructure:"window"` // 每周期拉取的 K 线数量
	LoopInterval    time.Duration `mapstructure:"loop_interval"`
	ErrorRetryDelay time.Duration `mapstructure:"error_retry_delay"`

	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Strategy   StrategyNode     `mapstructure:"strategy"`
	Paper      PaperConfig      `mapstructure:"paper"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Store      StoreConfig      `mapstructure:"store"`
	Trace      TraceConfig      `mapstructure:"trace"`
}

// ExchangeConfig 定义了交易所的连接信息；密钥从环境变量注入
type ExchangeConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Passphrase string `mapstructure:"passphrase"` // Okx 独有
	WSURL      string `mapstructure:"ws_url"`
	RESTURL    string `mapstructure:"rest_url"`
	Simulated  bool   `mapstructure:"simulated"`
}

// RiskConfig 仓位与止损
type RiskConfig struct {
	RiskPct          float64 `mapstructure:"risk_pct"` // 每笔交易风险占可用余额比例
	MinOrderSize     float64 `mapstructure:"min_order_size"`
	MinNotional      float64 `mapstructure:"min_notional"`
	EnforceBalance   bool    `mapstructure:"enforce_balance"`
	BalanceFloor     float64 `mapstructure:"balance_floor"` // 下单后至少保留的计价货币
	TrailingDistance float64 `mapstructure:"trailing_distance"`
	Adaptive         bool    `mapstructure:"adaptive"` // 按连亏和回撤缩放风险
}

// ExecutionConfig 下单与熔断
type ExecutionConfig struct {
	Slippage         float64       `mapstructure:"slippage"`
	FeeRate          float64       `mapstructure:"fee_rate"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	OrderType        string        `mapstructure:"order_type"`
}

type AggregatorConfig struct {
	StrongThreshold int `mapstructure:"strong_threshold"`
	HistoryLength   int `mapstructure:"history_length"`
}

// StrategyNode 策略树配置节点；Enabled 省略时视为 true
type StrategyNode struct {
	Name         string                  `mapstructure:"name"`
	Version      string                  `mapstructure:"version"`
	Enabled      *bool                   `mapstructure:"enabled"`
	Parameters   map[string]any          `mapstructure:"parameters"`
	Dependencies map[string]StrategyNode `mapstructure:"dependencies"`
}

// PaperConfig paper 模式的模拟账户
type PaperConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	Warmup         bool    `mapstructure:"warmup"` // 启动时从公共 REST 预热历史 K 线
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chat_id"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"` // 为空则不落盘
}

type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Pretty  bool `mapstructure:"pretty"`
}

// DefaultStrategy 默认策略：带 ATR 波动过滤的布林带
func DefaultStrategy() StrategyNode {
	return StrategyNode{
		Name:       "bollinger_bands",
		Version:    "2.1.0",
		Parameters: map[string]any{"window": 20, "num_std": 2.0},
		Dependencies: map[string]StrategyNode{
			"volatility_filter": {
				Name:       "atr_filter",
				Version:    "1.2.0",
				Parameters: map[string]any{"period": 14, "threshold": 1.5},
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModePaper)
	v.SetDefault("log_level", "info")
	v.SetDefault("symbols", []string{"BTC/USDT"})
	v.SetDefault("timeframe", "1h")
	v.SetDefault("window", 200)
	v.SetDefault("loop_interval", 60*time.Second)
	v.SetDefault("error_retry_delay", 10*time.Second)

	v.SetDefault("exchange.name", "okx")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.secret_key", "")
	v.SetDefault("exchange.passphrase", "")
	v.SetDefault("exchange.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("exchange.rest_url", "https://www.okx.com")
	v.SetDefault("exchange.simulated", false)

	v.SetDefault("risk.risk_pct", 0.02)
	v.SetDefault("risk.min_order_size", 0.0001)
	v.SetDefault("risk.min_notional", 10.0)
	v.SetDefault("risk.enforce_balance", true)
	v.SetDefault("risk.balance_floor", 0.0)
	v.SetDefault("risk.trailing_distance", 0.02)
	v.SetDefault("risk.adaptive", false)

	v.SetDefault("execution.slippage", 0.001)
	v.SetDefault("execution.fee_rate", 0.001)
	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.retry_delay", 2*time.Second)
	v.SetDefault("execution.breaker_threshold", 5)
	v.SetDefault("execution.order_type", "market")

	v.SetDefault("aggregator.strong_threshold", strategy.DefaultStrongThreshold)
	v.SetDefault("aggregator.history_length", strategy.DefaultHistoryLength)

	v.SetDefault("paper.initial_balance", 1000.0)
	v.SetDefault("paper.warmup", true)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("store.path", "data/ledger.db")

	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.pretty", true)
}

// LoadConfig 读取并解析配置。path 可以是目录 (查找 config.yaml) 或文件；
// 目录下没有配置文件时使用默认值。环境变量 TRADER_<KEY> 覆盖配置，例如
// TRADER_EXCHANGE_API_KEY、TRADER_RISK_RISK_PCT。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容常见的 Telegram 环境变量名
	_ = v.BindEnv("telegram.token", "TRADER_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "TRADER_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 文件名是 config
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if cfg.Strategy.Name == "" {
		cfg.Strategy = DefaultStrategy()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Mode == ModePaper || c.Mode == ModeLive, "mode must be %q or %q, got %q", ModePaper, ModeLive, c.Mode)
	check(len(c.Symbols) > 0, "at least one symbol is required")
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		parts := strings.Split(s, "/")
		check(len(parts) == 2 && parts[0] != "" && parts[1] != "", "invalid symbol %q, expected BASE/QUOTE", s)
		check(!seen[s], "duplicate symbol %q", s)
		seen[s] = true
	}
	_, err := ParseIntervalDuration(c.Timeframe)
	check(err == nil, "invalid timeframe %q", c.Timeframe)
	check(c.Window > 0, "window must be positive")
	check(c.LoopInterval > 0, "loop_interval must be positive")
	check(c.ErrorRetryDelay >= 0, "error_retry_delay must not be negative")

	check(c.Risk.RiskPct > 0 && c.Risk.RiskPct <= 1, "risk.risk_pct must be in (0, 1], got %v", c.Risk.RiskPct)
	check(c.Risk.MinOrderSize >= 0, "risk.min_order_size must not be negative")
	check(c.Risk.MinNotional >= 0, "risk.min_notional must not be negative")
	check(c.Risk.BalanceFloor >= 0, "risk.balance_floor must not be negative")
	check(c.Risk.TrailingDistance > 0 && c.Risk.TrailingDistance < 1, "risk.trailing_distance must be in (0, 1), got %v", c.Risk.TrailingDistance)

	check(c.Execution.Slippage >= 0 && c.Execution.Slippage < 1, "execution.slippage must be in [0, 1)")
	check(c.Execution.FeeRate >= 0 && c.Execution.FeeRate < 1, "execution.fee_rate must be in [0, 1)")
	check(c.Execution.MaxRetries >= 1, "execution.max_retries must be at least 1")
	check(c.Execution.RetryDelay >= 0, "execution.retry_delay must not be negative")
	check(c.Execution.BreakerThreshold >= 1, "execution.breaker_threshold must be at least 1")
	check(c.Execution.OrderType == "market" || c.Execution.OrderType == "limit", "execution.order_type must be market or limit")

	check(c.Aggregator.StrongThreshold >= 1, "aggregator.strong_threshold must be at least 1")
	check(c.Aggregator.HistoryLength >= 1, "aggregator.history_length must be at least 1")

	if c.Mode == ModeLive {
		check(c.Exchange.APIKey != "" && c.Exchange.SecretKey != "" && c.Exchange.Passphrase != "",
			"live mode requires exchange api_key, secret_key and passphrase")
	} else {
		check(c.Paper.InitialBalance > 0, "paper.initial_balance must be positive")
	}
	if c.Telegram.Enabled {
		check(c.Telegram.Token != "" && c.Telegram.ChatID != "", "telegram enabled but token or chat_id missing")
	}
	check(c.Strategy.Name != "" && c.Strategy.Version != "", "strategy name and version are required")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StrategyConfig 转为 Resolver 使用的配置树
func (s StrategyNode) StrategyConfig() strategy.Config {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	cfg := strategy.Config{
		Name:       s.Name,
		Version:    s.Version,
		Enabled:    enabled,
		Parameters: s.Parameters,
	}
	if len(s.Dependencies) > 0 {
		cfg.Dependencies = make(map[string]strategy.Config, len(s.Dependencies))
		for role, dep := range s.Dependencies {
			cfg.Dependencies[role] = dep.StrategyConfig()
		}
	}
	return cfg
}
