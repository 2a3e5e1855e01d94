package strategy

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// maxDepth 依赖嵌套层数上限，超过即按循环依赖处理
const maxDepth = 16

// Resolver 校验配置、递归解析依赖并缓存实例
// 缓存键为配置的规范化序列化，结构相同的配置共享同一个实例
type Resolver struct {
	registry *Registry
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]Strategy
}

func NewResolver(registry *Registry, logger *zap.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		logger:   logger.With(zap.String("component", "resolver")),
		cache:    make(map[string]Strategy),
	}
}

// Resolve 返回配置对应的策略实例。失败时不缓存任何实例。
func (r *Resolver) Resolve(cfg Config) (Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]Strategy)
	s, err := r.resolve(cfg, cfg.Key(), pending)
	if err != nil {
		r.logger.Error("Strategy resolution failed", zap.String("strategy", cfg.Key()), zap.Error(err))
		return nil, err
	}
	for key, inst := range pending {
		r.cache[key] = inst
	}
	return s, nil
}

// CacheSize 当前缓存的实例数
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Resolver) resolve(cfg Config, path string, pending map[string]Strategy) (Strategy, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %s (at %s)", ErrDisabledDependency, cfg.Key(), path)
	}

	key, err := CacheKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if inst, ok := r.cache[key]; ok {
		r.logger.Debug("Strategy cache hit", zap.String("strategy", cfg.Key()))
		return inst, nil
	}
	if inst, ok := pending[key]; ok {
		return inst, nil
	}

	factory, schema, err := r.registry.Lookup(cfg.Name, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	params, err := schema.Validate(cfg.Key(), cfg.Parameters)
	if err != nil {
		return nil, err
	}

	deps := make(map[string]Strategy, len(cfg.Dependencies))
	for _, role := range sortedRoles(cfg.Dependencies) {
		dep, err := r.resolve(cfg.Dependencies[role], path+"."+role, pending)
		if err != nil {
			return nil, err
		}
		deps[role] = dep
	}

	inst, err := factory(params, deps)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", cfg.Key(), err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instantiate %s: factory returned nil", cfg.Key())
	}

	r.logger.Info("Strategy resolved",
		zap.String("strategy", cfg.Key()),
		zap.String("path", path),
		zap.Int("dependencies", len(deps)))
	pending[key] = inst
	return inst, nil
}

type canonicalConfig struct {
	Name         string                     `json:"name"`
	Version      string                     `json:"version"`
	Enabled      bool                       `json:"enabled"`
	Parameters   map[string]any             `json:"parameters"`
	Dependencies map[string]json.RawMessage `json:"dependencies"`
}

// CacheKey 配置的规范化 JSON；map 键按字典序输出，字段顺序固定
func CacheKey(cfg Config) (string, error) {
	raw, err := canonical(cfg, nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// canonical 沿当前路径记录依赖 map 的地址，同一个 map 在路径上再次出现即为循环
func canonical(cfg Config, path []uintptr) (json.RawMessage, error) {
	if len(path) > maxDepth {
		return nil, fmt.Errorf("%w: %s nested deeper than %d levels", ErrCyclicDependency, cfg.Key(), maxDepth)
	}

	c := canonicalConfig{
		Name:         cfg.Name,
		Version:      cfg.Version,
		Enabled:      cfg.Enabled,
		Parameters:   cfg.Parameters,
		Dependencies: map[string]json.RawMessage{},
	}
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}

	if len(cfg.Dependencies) > 0 {
		id := reflect.ValueOf(cfg.Dependencies).Pointer()
		for _, seen := range path {
			if seen == id {
				return nil, fmt.Errorf("%w: %s is reachable from itself", ErrCyclicDependency, cfg.Key())
			}
		}
		next := append(path[:len(path):len(path)], id)
		for _, role := range sortedRoles(cfg.Dependencies) {
			dep, err := canonical(cfg.Dependencies[role], next)
			if err != nil {
				return nil, err
			}
			c.Dependencies[role] = dep
		}
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, &InvalidParameterError{Strategy: cfg.Key(), Field: "parameters", Reason: err.Error()}
	}
	return raw, nil
}

func sortedRoles(deps map[string]Config) []string {
	roles := make([]string, 0, len(deps))
	for role := range deps {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
