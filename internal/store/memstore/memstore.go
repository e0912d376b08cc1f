// Package memstore is an in-process entity store. Records are plain maps; a
// related collection is stored as a []Record under the relation name.
package memstore

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/store"
)

// Record is one entity. The primary key lives under "id".
type Record map[string]any

type entityRef struct {
	namespace string
	name      string
}

// Store holds collections keyed by namespace and entity name.
type Store struct {
	mu          sync.RWMutex
	collections map[entityRef][]Record
	users       entityRef
}

// New creates an empty store whose user collection is auth.user.
func New() *Store {
	return &Store{
		collections: make(map[entityRef][]Record),
		users:       entityRef{namespace: "auth", name: "user"},
	}
}

// Put appends records to a collection, registering it if needed.
func (s *Store) Put(namespace, name string, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := entityRef{namespace: namespace, name: name}
	s.collections[ref] = append(s.collections[ref], records...)
}

// PutUsers appends records to the user collection.
func (s *Store) PutUsers(records ...Record) {
	s.Put(s.users.namespace, s.users.name, records...)
}

func (s *Store) Users() store.Population {
	return &population{store: s, ref: s.users}
}

func (s *Store) Entity(namespace, name string) (store.Population, error) {
	ref := entityRef{namespace: namespace, name: name}
	s.mu.RLock()
	_, ok := s.collections[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.NewConfigurationError(namespace+"."+name, "entity is not registered")
	}
	return &population{store: s, ref: ref}, nil
}

func (s *Store) snapshot(ref entityRef) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.collections[ref]
	out := make([]Record, len(rows))
	copy(out, rows)
	return out
}

type stepKind int

const (
	stepFilter stepKind = iota
	stepExclude
	stepAnnotate
)

type step struct {
	kind   stepKind
	lookup store.Lookup
	agg    store.Aggregate
	re     *regexp.Regexp
}

type population struct {
	store *Store
	ref   entityRef
	steps []step
}

func (p *population) with(st step) *population {
	steps := make([]step, len(p.steps), len(p.steps)+1)
	copy(steps, p.steps)
	return &population{store: p.store, ref: p.ref, steps: append(steps, st)}
}

func (p *population) Filter(l store.Lookup) (store.Population, error) {
	st, err := lookupStep(stepFilter, l)
	if err != nil {
		return nil, err
	}
	return p.with(st), nil
}

func (p *population) Exclude(l store.Lookup) (store.Population, error) {
	st, err := lookupStep(stepExclude, l)
	if err != nil {
		return nil, err
	}
	return p.with(st), nil
}

func (p *population) Annotate(a store.Aggregate) (store.Population, error) {
	switch a.Func {
	case store.Sum, store.Count, store.Min, store.Max, store.Avg:
	default:
		return nil, appErrors.NewConfigurationError("aggregate "+string(a.Func), "unsupported aggregate")
	}
	if a.As == "" || a.Field == "" {
		return nil, appErrors.NewConfigurationError("aggregate "+string(a.Func), "field and alias are required")
	}
	return p.with(step{kind: stepAnnotate, agg: a}), nil
}

func lookupStep(kind stepKind, l store.Lookup) (step, error) {
	st := step{kind: kind, lookup: l}
	switch l.Operator {
	case store.OpRegex, store.OpIRegex:
		pattern := text(l.Value)
		if l.Operator == store.OpIRegex {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return step{}, appErrors.NewParseError(text(l.Value), err.Error())
		}
		st.re = re
	case store.OpIn:
		if _, ok := l.Value.([]int64); !ok {
			return step{}, appErrors.NewConfigurationError(l.Field, "in lookup expects []int64")
		}
	case store.OpIsNull:
		if _, err := store.NullValue(l.Value); err != nil {
			return step{}, err
		}
	default:
		if _, err := store.ParseOperator(string(l.Operator)); err != nil {
			return step{}, err
		}
	}
	return st, nil
}

func (p *population) rows() ([]Record, error) {
	rows := p.store.snapshot(p.ref)
	for _, st := range p.steps {
		next := rows[:0:0]
		for _, r := range rows {
			switch st.kind {
			case stepAnnotate:
				v, err := aggregate(r, st.agg)
				if err != nil {
					return nil, err
				}
				clone := make(Record, len(r)+1)
				for k, val := range r {
					clone[k] = val
				}
				clone[st.agg.As] = v
				next = append(next, clone)
			case stepFilter, stepExclude:
				ok, err := matches(r, st)
				if err != nil {
					return nil, err
				}
				if ok == (st.kind == stepFilter) {
					next = append(next, r)
				}
			}
		}
		rows = next
	}
	return rows, nil
}

func (p *population) Distinct(_ context.Context, field string) ([]any, error) {
	rows, err := p.rows()
	if err != nil {
		return nil, err
	}
	seen := make(map[any]bool)
	var out []any
	for _, r := range rows {
		for _, v := range values(r, strings.Split(field, ".")) {
			if v == nil {
				continue
			}
			if _, nested := v.(Record); nested {
				continue
			}
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *population) IDs(ctx context.Context) ([]int64, error) {
	vals, err := p.Distinct(ctx, "id")
	if err != nil {
		return nil, err
	}
	ids, err := store.Keys(vals)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (p *population) Count(_ context.Context) (int, error) {
	rows, err := p.rows()
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// values walks a dotted path. Relations fan out, so a path can yield several
// values; a missing value or an empty relation yields a single nil.
func values(r Record, path []string) []any {
	if len(path) == 0 {
		return []any{r}
	}
	v, ok := r[path[0]]
	if !ok || v == nil {
		return []any{nil}
	}
	switch rel := v.(type) {
	case []Record:
		if len(rel) == 0 {
			return []any{nil}
		}
		var out []any
		for _, child := range rel {
			out = append(out, values(child, path[1:])...)
		}
		return out
	case Record:
		return values(rel, path[1:])
	case map[string]any:
		return values(Record(rel), path[1:])
	}
	if len(path) > 1 {
		return []any{nil}
	}
	return []any{v}
}
