package strategy

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind 参数类型
type Kind int

const (
	KindInt Kind = iota
	KindFloat
)

func (k Kind) String() string {
	if k == KindInt {
		return "int"
	}
	return "float"
}

// Field 参数字段定义：类型、默认值和上下界
type Field struct {
	Name     string
	Kind     Kind
	Default  any // nil 表示必填
	min, max float64
	hasMin   bool
	hasMax   bool
	minOpen  bool // true: 下界为开区间 (gt)
	maxOpen  bool // true: 上界为开区间 (lt)
}

// Int 带默认值的整数参数
func Int(name string, def int) Field {
	return Field{Name: name, Kind: KindInt, Default: def}
}

// Float 带默认值的浮点参数
func Float(name string, def float64) Field {
	return Field{Name: name, Kind: KindFloat, Default: def}
}

// RequiredInt 必填整数参数
func RequiredInt(name string) Field {
	return Field{Name: name, Kind: KindInt}
}

// RequiredFloat 必填浮点参数
func RequiredFloat(name string) Field {
	return Field{Name: name, Kind: KindFloat}
}

// Gt 下界 (不含)
func (f Field) Gt(v float64) Field {
	f.min, f.hasMin, f.minOpen = v, true, true
	return f
}

// Ge 下界 (含)
func (f Field) Ge(v float64) Field {
	f.min, f.hasMin, f.minOpen = v, true, false
	return f
}

// Lt 上界 (不含)
func (f Field) Lt(v float64) Field {
	f.max, f.hasMax, f.maxOpen = v, true, true
	return f
}

// Le 上界 (含)
func (f Field) Le(v float64) Field {
	f.max, f.hasMax, f.maxOpen = v, true, false
	return f
}

func (f Field) checkBounds(v float64) string {
	if f.hasMin {
		if f.minOpen && v <= f.min {
			return fmt.Sprintf("must be > %v, got %v", f.min, v)
		}
		if !f.minOpen && v < f.min {
			return fmt.Sprintf("must be >= %v, got %v", f.min, v)
		}
	}
	if f.hasMax {
		if f.maxOpen && v >= f.max {
			return fmt.Sprintf("must be < %v, got %v", f.max, v)
		}
		if !f.maxOpen && v > f.max {
			return fmt.Sprintf("must be <= %v, got %v", f.max, v)
		}
	}
	return ""
}

// Schema 一个策略的全部参数定义
type Schema []Field

// Params 校验后的参数，int 字段存 int，float 字段存 float64
type Params map[string]any

// Int 读取整数参数，字段不存在时返回 0
func (p Params) Int(name string) int {
	v, _ := p[name].(int)
	return v
}

// Float 读取浮点参数，字段不存在时返回 0
func (p Params) Float(name string) float64 {
	v, _ := p[name].(float64)
	return v
}

// Validate 按 Schema 校验原始参数：拒绝未知字段，补默认值，检查必填和上下界
func (s Schema) Validate(strategy string, raw map[string]any) (Params, error) {
	known := make(map[string]Field, len(s))
	for _, f := range s {
		known[f.Name] = f
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return nil, &InvalidParameterError{Strategy: strategy, Field: name, Reason: "unknown field"}
		}
	}

	out := make(Params, len(s))
	for _, f := range s {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			if f.Default == nil {
				return nil, &InvalidParameterError{Strategy: strategy, Field: f.Name, Reason: "field required"}
			}
			out[f.Name] = f.Default
			continue
		}

		num, err := toFloat(v)
		if err != nil {
			return nil, &InvalidParameterError{Strategy: strategy, Field: f.Name, Reason: err.Error()}
		}
		if f.Kind == KindInt && num != math.Trunc(num) {
			return nil, &InvalidParameterError{Strategy: strategy, Field: f.Name, Reason: fmt.Sprintf("expected int, got %v", v)}
		}
		if reason := f.checkBounds(num); reason != "" {
			return nil, &InvalidParameterError{Strategy: strategy, Field: f.Name, Reason: reason}
		}
		if f.Kind == KindInt {
			out[f.Name] = int(num)
		} else {
			out[f.Name] = num
		}
	}
	return out, nil
}

// toFloat 接受 yaml/env 解码出来的各种数值表示
func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected finite number, got %v", f)
	}
	return f, nil
}
