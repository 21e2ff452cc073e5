package transform

import (
	"fmt"
	"sort"
	"strings"
)

// Params holds operation parameters. Values are normalised to float64,
// []float64 or string by NormalizeParams.
type Params map[string]any

// NormalizeParams converts decoded YAML or JSON values into Params. Any Go
// numeric kind becomes float64 and any list of numbers becomes []float64.
func NormalizeParams(raw map[string]any) (Params, error) {
	p := make(Params, len(raw))
	for k, v := range raw {
		norm, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidParameter, k, err)
		}
		if norm != nil {
			p[k] = norm
		}
	}
	return p, nil
}

func normalizeValue(v any) (any, error) {
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case []float64:
		return append([]float64(nil), x...), nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("list element %d has type %T", i, e)
			}
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out, nil
	case []float32:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns a scalar parameter. ok is false when the key is absent.
func (p Params) Float(key string) (v float64, ok bool, err error) {
	raw, present := p[key]
	if !present {
		return 0, false, nil
	}
	switch x := raw.(type) {
	case float64:
		return x, true, nil
	case []float64:
		if len(x) == 1 {
			return x[0], true, nil
		}
	}
	return 0, true, fmt.Errorf("%w: %q must be a number, got %v", ErrInvalidParameter, key, raw)
}

// FloatOr returns a scalar parameter or def when absent.
func (p Params) FloatOr(key string, def float64) (float64, error) {
	v, ok, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Floats returns a parameter that may be a scalar or a list. A scalar is
// returned as a one-element list.
func (p Params) Floats(key string) (v []float64, ok bool, err error) {
	raw, present := p[key]
	if !present {
		return nil, false, nil
	}
	switch x := raw.(type) {
	case float64:
		return []float64{x}, true, nil
	case []float64:
		if len(x) == 0 {
			return nil, true, fmt.Errorf("%w: %q is an empty list", ErrInvalidParameter, key)
		}
		return x, true, nil
	}
	return nil, true, fmt.Errorf("%w: %q must be a number or list of numbers, got %v", ErrInvalidParameter, key, raw)
}

// String returns a string parameter, lower-cased and trimmed.
func (p Params) String(key string) (v string, ok bool, err error) {
	raw, present := p[key]
	if !present {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", true, fmt.Errorf("%w: %q must be a string, got %v", ErrInvalidParameter, key, raw)
	}
	return strings.ToLower(strings.TrimSpace(s)), true, nil
}
