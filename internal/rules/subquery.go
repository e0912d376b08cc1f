package rules

import (
	"context"
	"sort"
	"time"

	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/store"
)

// Group is a set of subquery rules sharing one foreign relationship. Its rules
// are chained against a single foreign population so they constrain the same
// related row.
type Group struct {
	Key   model.ForeignKey
	Rules []model.Rule
}

// GroupRules groups rules by foreign key in order of first appearance and
// sorts each group in authored order.
func GroupRules(rules []model.Rule) []Group {
	var groups []Group
	index := make(map[model.ForeignKey]int)
	for _, r := range rules {
		key := r.ForeignKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Rules = append(groups[i].Rules, r)
	}
	for i := range groups {
		sort.SliceStable(groups[i].Rules, func(a, b int) bool {
			ra, rb := groups[i].Rules[a], groups[i].Rules[b]
			if ra.Position != rb.Position {
				return ra.Position < rb.Position
			}
			return ra.ID < rb.ID
		})
	}
	return groups
}

// UserKeys evaluates a group against its foreign entity and returns the
// distinct user ids of the rows that satisfy every rule in it.
func (g Group) UserKeys(ctx context.Context, src store.Source, now time.Time) ([]int64, error) {
	pop, err := src.Entity(g.Key.Namespace, g.Key.Entity)
	if err != nil {
		return nil, err
	}
	for _, r := range g.Rules {
		pop, err = Apply(pop, r, now)
		if err != nil {
			return nil, &groupRuleError{rule: r, err: err}
		}
	}
	values, err := pop.Distinct(ctx, g.Key.UserField)
	if err != nil {
		return nil, err
	}
	return store.Keys(values)
}

// groupRuleError keeps track of which rule of a group failed.
type groupRuleError struct {
	rule model.Rule
	err  error
}

func (e *groupRuleError) Error() string { return e.err.Error() }
func (e *groupRuleError) Unwrap() error { return e.err }
