package rules

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/store"
)

// Evaluator applies a drip's rule set to a base population.
type Evaluator struct {
	Source store.Source
}

func NewEvaluator(src store.Source) *Evaluator {
	return &Evaluator{Source: src}
}

// Evaluate applies queryset rules, then intersects subquery groups, then
// subtracts exclude-subquery groups. Subquery groups are resolved to key sets
// here, so Evaluate reads from the store even though the returned population
// is still lazy.
func (e *Evaluator) Evaluate(ctx context.Context, drip *model.Drip, base store.Population, rs model.RuleSet, now time.Time) (store.Population, error) {
	pop := base
	var err error
	for _, r := range rs.QuerySet {
		pop, err = Apply(pop, r, now)
		if err != nil {
			return nil, appErrors.NewRuleError(drip.Name, r.ID, err)
		}
	}

	for _, g := range GroupRules(rs.Subquery) {
		pop, err = e.applyGroup(ctx, drip, pop, g, now, false)
		if err != nil {
			return nil, err
		}
	}
	for _, g := range GroupRules(rs.ExcludeSubquery) {
		pop, err = e.applyGroup(ctx, drip, pop, g, now, true)
		if err != nil {
			return nil, err
		}
	}
	return pop, nil
}

func (e *Evaluator) applyGroup(ctx context.Context, drip *model.Drip, pop store.Population, g Group, now time.Time, exclude bool) (store.Population, error) {
	keys, err := g.UserKeys(ctx, e.Source, now)
	if err != nil {
		var gre *groupRuleError
		if errors.As(err, &gre) {
			return nil, appErrors.NewRuleError(drip.Name, gre.rule.ID, gre.err)
		}
		return nil, appErrors.NewRuleError(drip.Name, g.Rules[0].ID, err)
	}
	if exclude {
		return pop.Exclude(store.In("id", keys))
	}
	return pop.Filter(store.In("id", keys))
}
