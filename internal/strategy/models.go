package strategy

import (
	"crypto-signal-bot/internal/model"
	"fmt"
)

// Strategy 把一段 K 线窗口转换为交易信号
type Strategy interface {
	Name() string
	GenerateSignal(window []model.KLine) (model.Signal, error)
}

// Factory 使用校验后的参数和已解析的依赖 (按角色名索引) 构造策略实例
type Factory func(params Params, deps map[string]Strategy) (Strategy, error)

// Descriptor 注册表中的一条策略定义，注册后不可变
type Descriptor struct {
	Name    string
	Version string
	Factory Factory
	Schema  Schema
}

// Key 返回 name@version
func (d Descriptor) Key() string {
	return Key(d.Name, d.Version)
}

// Key 注册表键
func Key(name, version string) string {
	return fmt.Sprintf("%s@%s", name, version)
}

// Config 策略配置树，依赖本身也是 Config
type Config struct {
	Name         string
	Version      string
	Parameters   map[string]any
	Dependencies map[string]Config
	Enabled      bool
}

// Key 返回 name@version
func (c Config) Key() string {
	return Key(c.Name, c.Version)
}
