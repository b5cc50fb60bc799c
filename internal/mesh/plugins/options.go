package plugins

import (
	"fmt"
	"math"

	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// Options are the free-form settings of one plugin section. JSON and YAML
// decode numbers differently, so accessors accept any integral number.
type Options map[string]any

// Int returns the integer option key, or def when it is absent.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("option %q must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("option %q must be an integer, got %T", key, v)
	}
}

// Strings returns the string list option key, or nil when it is absent.
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok {
		return nil, nil
	}
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...), nil
	case []any:
		out := make([]string, len(l))
		for i, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("option %q[%d] must be a string, got %T", key, i, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %q must be a list of strings, got %T", key, v)
	}
}

// upstream reads a value an earlier stage must have produced. Its absence
// or a wrong type is a contract violation, not bad data.
func upstream[T any](args l3views.Args, key string) (T, error) {
	var zero T
	if args.Result == nil {
		return zero, fmt.Errorf("%w: no result available for %q", l3views.ErrPluginContract, key)
	}
	v, ok := args.Result.Get(key)
	if !ok {
		return zero, fmt.Errorf("%w: %q was not produced by an earlier stage", l3views.ErrPluginContract, key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T, want %T", l3views.ErrPluginContract, key, v, zero)
	}
	return t, nil
}

// optional is upstream for values that may legitimately be absent.
func optional[T any](args l3views.Args, key string) (T, bool, error) {
	var zero T
	if args.Result == nil {
		return zero, false, nil
	}
	if _, ok := args.Result.Get(key); !ok {
		return zero, false, nil
	}
	t, err := upstream[T](args, key)
	return t, err == nil, err
}
