// Package store describes the entity store the rule engine queries: lookups,
// aggregates and lazily composed populations.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
)

// Operator is a field lookup understood by every store implementation.
type Operator string

const (
	OpExact       Operator = "exact"
	OpIExact      Operator = "iexact"
	OpContains    Operator = "contains"
	OpIContains   Operator = "icontains"
	OpRegex       Operator = "regex"
	OpIRegex      Operator = "iregex"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpStartsWith  Operator = "startswith"
	OpIStartsWith Operator = "istartswith"
	OpEndsWith    Operator = "endswith"
	OpIEndsWith   Operator = "iendswith"
	OpIsNull      Operator = "isnull"

	// OpIn matches a field against a set of int64 keys. It is used for
	// subquery joins and pruning and cannot be authored in a rule.
	OpIn Operator = "in"
)

var ruleOperators = map[Operator]bool{
	OpExact: true, OpIExact: true, OpContains: true, OpIContains: true,
	OpRegex: true, OpIRegex: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpStartsWith: true, OpIStartsWith: true, OpEndsWith: true, OpIEndsWith: true,
	OpIsNull: true,
}

// ParseOperator maps a stored lookup type to an Operator. An empty lookup type is exact.
func ParseOperator(s string) (Operator, error) {
	if s == "" {
		return OpExact, nil
	}
	op := Operator(s)
	if !ruleOperators[op] {
		return "", appErrors.NewConfigurationError("lookup type "+strconv.Quote(s), "unsupported operator")
	}
	return op, nil
}

// CaseInsensitive reports whether the operator is the i-variant of another one.
func (o Operator) CaseInsensitive() bool {
	switch o {
	case OpIExact, OpIContains, OpIRegex, OpIStartsWith, OpIEndsWith:
		return true
	}
	return false
}

// Lookup is a single predicate: Field <Operator> Value.
type Lookup struct {
	Field    string
	Operator Operator
	Value    any
}

func (l Lookup) String() string {
	return fmt.Sprintf("%s.%s=%v", l.Field, l.Operator, l.Value)
}

// In builds the key-set lookup used to join populations.
func In(field string, keys []int64) Lookup {
	return Lookup{Field: field, Operator: OpIn, Value: keys}
}

// AggregateFunc is one of the supported aggregate functions.
type AggregateFunc string

const (
	Sum   AggregateFunc = "sum"
	Count AggregateFunc = "count"
	Min   AggregateFunc = "min"
	Max   AggregateFunc = "max"
	Avg   AggregateFunc = "avg"
)

// Aggregate attaches Func(Field), computed per entity, under the column As.
type Aggregate struct {
	Func  AggregateFunc
	Field string
	As    string
}

// NullValue interprets the value of an isnull lookup.
func NullValue(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no", "":
			return false, nil
		}
	case int:
		return b != 0, nil
	case int64:
		return b != 0, nil
	}
	return false, appErrors.NewParseError(fmt.Sprint(v), "isnull expects a boolean")
}

// Keys converts distinct values returned by a store into int64 keys.
func Keys(values []any) ([]int64, error) {
	keys := make([]int64, 0, len(values))
	for _, v := range values {
		switch k := v.(type) {
		case nil:
			continue
		case int:
			keys = append(keys, int64(k))
		case int32:
			keys = append(keys, int64(k))
		case int64:
			keys = append(keys, k)
		case float64:
			keys = append(keys, int64(k))
		case []byte:
			n, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return nil, appErrors.NewParseError(string(k), "key is not an integer")
			}
			keys = append(keys, n)
		case string:
			n, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, appErrors.NewParseError(k, "key is not an integer")
			}
			keys = append(keys, n)
		default:
			return nil, appErrors.NewParseError(fmt.Sprint(v), fmt.Sprintf("unsupported key type %T", v))
		}
	}
	return keys, nil
}

// ParseTime accepts the literal date formats a rule may carry.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
