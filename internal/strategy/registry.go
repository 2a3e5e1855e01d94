package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 以 name@version 为键保存策略定义
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register 注册一个策略实现；同一 name@version 只能注册一次
func (r *Registry) Register(name, version string, factory Factory, schema Schema) error {
	if name == "" || version == "" {
		return fmt.Errorf("register strategy: name and version are required (got %q@%q)", name, version)
	}
	if factory == nil {
		return fmt.Errorf("register strategy %s: nil factory", Key(name, version))
	}

	key := Key(name, version)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descriptors[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, key)
	}
	r.descriptors[key] = Descriptor{
		Name:    name,
		Version: version,
		Factory: factory,
		Schema:  append(Schema(nil), schema...),
	}
	return nil
}

func (r *Registry) IsRegistered(name, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[Key(name, version)]
	return ok
}

// Lookup 返回策略工厂和参数 Schema
func (r *Registry) Lookup(name, version string) (Factory, Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[Key(name, version)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, Key(name, version))
	}
	return d.Factory, d.Schema, nil
}

// List 按键排序返回所有已注册的 name@version
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.descriptors))
	for k := range r.descriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
