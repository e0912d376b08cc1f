package memstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/store"
)

// matches reports whether any value reached by the lookup path satisfies it.
func matches(r Record, st step) (bool, error) {
	l := st.lookup
	for _, v := range values(r, strings.Split(l.Field, ".")) {
		ok, err := test(v, l, st)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func test(v any, l store.Lookup, st step) (bool, error) {
	if l.Operator == store.OpIsNull {
		want, err := store.NullValue(l.Value)
		if err != nil {
			return false, err
		}
		return (v == nil) == want, nil
	}
	if l.Operator == store.OpExact && l.Value == nil {
		return v == nil, nil
	}
	if v == nil {
		return false, nil
	}

	switch l.Operator {
	case store.OpIn:
		key, err := store.Keys([]any{v})
		if err != nil || len(key) == 0 {
			return false, nil
		}
		for _, k := range l.Value.([]int64) {
			if k == key[0] {
				return true, nil
			}
		}
		return false, nil
	case store.OpExact:
		c, ok := compare(v, l.Value)
		return ok && c == 0, nil
	case store.OpIExact:
		return strings.EqualFold(text(v), text(l.Value)), nil
	case store.OpContains:
		return strings.Contains(text(v), text(l.Value)), nil
	case store.OpIContains:
		return strings.Contains(strings.ToLower(text(v)), strings.ToLower(text(l.Value))), nil
	case store.OpStartsWith:
		return strings.HasPrefix(text(v), text(l.Value)), nil
	case store.OpIStartsWith:
		return strings.HasPrefix(strings.ToLower(text(v)), strings.ToLower(text(l.Value))), nil
	case store.OpEndsWith:
		return strings.HasSuffix(text(v), text(l.Value)), nil
	case store.OpIEndsWith:
		return strings.HasSuffix(strings.ToLower(text(v)), strings.ToLower(text(l.Value))), nil
	case store.OpRegex, store.OpIRegex:
		return st.re.MatchString(text(v)), nil
	case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
		c, ok := compare(v, l.Value)
		if !ok {
			return false, nil
		}
		switch l.Operator {
		case store.OpGt:
			return c > 0, nil
		case store.OpGte:
			return c >= 0, nil
		case store.OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, appErrors.NewConfigurationError(l.Field, "unsupported operator "+string(l.Operator))
}

// compare orders a stored value against a lookup value, coercing the lookup
// value to the stored value's type. ok is false when the two cannot be ordered.
func compare(field, value any) (int, bool) {
	if field == nil || value == nil {
		return 0, false
	}
	switch f := field.(type) {
	case time.Time:
		var t time.Time
		switch v := value.(type) {
		case time.Time:
			t = v
		case string:
			parsed, ok := store.ParseTime(v)
			if !ok {
				return 0, false
			}
			t = parsed
		default:
			return 0, false
		}
		return f.Compare(t), true
	case bool:
		var b bool
		switch v := value.(type) {
		case bool:
			b = v
		case string:
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return 0, false
			}
			b = parsed
		default:
			return 0, false
		}
		switch {
		case f == b:
			return 0, true
		case !f:
			return -1, true
		default:
			return 1, true
		}
	}
	if _, isText := field.(string); !isText {
		if a, ok := toFloat(field); ok {
			b, ok := toFloat(value)
			if !ok {
				return 0, false
			}
			switch {
			case a < b:
				return -1, true
			case a > b:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	// text columns compare as text even when both sides look numeric
	return strings.Compare(text(field), text(value)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// aggregate computes a per-record aggregate over a relation path. SUM, MIN, MAX
// and AVG of an empty relation are nil, COUNT is 0.
func aggregate(r Record, a store.Aggregate) (any, error) {
	path := strings.Split(a.Field, ".")
	if raw, ok := r[path[0]]; ok && raw != nil {
		if _, isRel := raw.([]Record); !isRel {
			return nil, appErrors.NewConfigurationError(a.Field, "aggregation requires a relation")
		}
	}

	var present []any
	for _, v := range values(r, path) {
		if v != nil {
			present = append(present, v)
		}
	}
	if a.Func == store.Count {
		return int64(len(present)), nil
	}
	if len(present) == 0 {
		return nil, nil
	}

	switch a.Func {
	case store.Min, store.Max:
		best := present[0]
		for _, v := range present[1:] {
			c, ok := compare(v, best)
			if !ok {
				return nil, appErrors.NewConfigurationError(a.Field, "values are not comparable")
			}
			if (a.Func == store.Min && c < 0) || (a.Func == store.Max && c > 0) {
				best = v
			}
		}
		return best, nil
	}

	var sum float64
	for _, v := range present {
		f, ok := toFloat(v)
		if !ok {
			return nil, appErrors.NewConfigurationError(a.Field, fmt.Sprintf("cannot %s non-numeric value %v", a.Func, v))
		}
		sum += f
	}
	if a.Func == store.Avg {
		return sum / float64(len(present)), nil
	}
	return sum, nil
}
