// Package rules turns stored drip rules into population restrictions.
package rules

import (
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/store"
	"github.com/unclebandit/drip-service/internal/timeexpr"
)

var aggregates = map[model.Aggregation]store.AggregateFunc{
	model.AggregateSum:   store.Sum,
	model.AggregateCount: store.Count,
	model.AggregateMin:   store.Min,
	model.AggregateMax:   store.Max,
	model.AggregateAvg:   store.Avg,
}

// AnnotationName is the derived column an aggregating rule compares against.
// It embeds the rule id so two rules aggregating the same field never collide.
func AnnotationName(r model.Rule) string {
	return fmt.Sprintf("%s__annotate%d", strings.ReplaceAll(r.FieldName, ".", "__"), r.ID)
}

// Lookup builds the predicate a rule describes, resolving relative time
// values against now.
func Lookup(r model.Rule, now time.Time) (store.Lookup, error) {
	op, err := store.ParseOperator(r.LookupType)
	if err != nil {
		return store.Lookup{}, err
	}
	value, err := timeexpr.Resolve(r.FieldValue, now)
	if err != nil {
		return store.Lookup{}, err
	}
	field := r.FieldName
	if r.Aggregated() {
		field = AnnotationName(r)
	}
	return store.Lookup{Field: field, Operator: op, Value: value}, nil
}

// Apply restricts pop with one rule.
func Apply(pop store.Population, r model.Rule, now time.Time) (store.Population, error) {
	if strings.TrimSpace(r.FieldName) == "" {
		return nil, appErrors.NewConfigurationError(fmt.Sprintf("rule %d", r.ID), "field name is empty")
	}

	method := r.MethodType
	if method == "" {
		method = model.MethodFilter
	}
	if method != model.MethodFilter && method != model.MethodExclude {
		return nil, appErrors.NewConfigurationError(fmt.Sprintf("rule %d", r.ID), "unknown method type "+string(r.MethodType))
	}

	if r.Aggregated() {
		fn, ok := aggregates[r.Aggregation]
		if !ok {
			return nil, appErrors.NewConfigurationError(fmt.Sprintf("rule %d", r.ID), "unknown aggregation "+string(r.Aggregation))
		}
		annotated, err := pop.Annotate(store.Aggregate{Func: fn, Field: r.FieldName, As: AnnotationName(r)})
		if err != nil {
			return nil, err
		}
		pop = annotated
	}

	lookup, err := Lookup(r, now)
	if err != nil {
		return nil, err
	}
	if method == model.MethodExclude {
		return pop.Exclude(lookup)
	}
	return pop.Filter(lookup)
}
