package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/store"
)

// Store is a store.Source over a PostgreSQL database.
type Store struct {
	DB       *sql.DB
	registry Registry
	users    EntityRef
}

// New validates the registry and returns a store whose user population is
// DefaultUsers.
func New(db *sql.DB, registry Registry) (*Store, error) {
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	if _, ok := registry[DefaultUsers]; !ok {
		return nil, appErrors.NewConfigurationError(DefaultUsers.String(), "user table is not registered")
	}
	return &Store{DB: db, registry: registry, users: DefaultUsers}, nil
}

func (s *Store) Users() store.Population {
	return &population{db: s.DB, ref: s.users, table: s.registry[s.users]}
}

func (s *Store) Entity(namespace, name string) (store.Population, error) {
	ref := EntityRef{Namespace: namespace, Name: name}
	t, ok := s.registry[ref]
	if !ok {
		return nil, appErrors.NewConfigurationError(ref.String(), "entity is not registered")
	}
	return &population{db: s.DB, ref: ref, table: t}, nil
}

type condition struct {
	lookup store.Lookup
	negate bool
}

type population struct {
	db          *sql.DB
	ref         EntityRef
	table       Table
	conds       []condition
	annotations map[string]store.Aggregate
}

func (p *population) clone() *population {
	c := *p
	c.conds = append([]condition(nil), p.conds...)
	c.annotations = make(map[string]store.Aggregate, len(p.annotations)+1)
	for k, v := range p.annotations {
		c.annotations[k] = v
	}
	return &c
}

func (p *population) Filter(l store.Lookup) (store.Population, error) {
	return p.where(l, false)
}

func (p *population) Exclude(l store.Lookup) (store.Population, error) {
	return p.where(l, true)
}

func (p *population) where(l store.Lookup, negate bool) (store.Population, error) {
	if err := p.checkLookup(l); err != nil {
		return nil, err
	}
	c := p.clone()
	c.conds = append(c.conds, condition{lookup: l, negate: negate})
	return c, nil
}

func (p *population) Annotate(a store.Aggregate) (store.Population, error) {
	subject := p.ref.String() + "." + a.Field
	switch a.Func {
	case store.Sum, store.Count, store.Min, store.Max, store.Avg:
	default:
		return nil, appErrors.NewConfigurationError(subject, "unsupported aggregate "+string(a.Func))
	}
	if !identRe.MatchString(a.As) {
		return nil, appErrors.NewConfigurationError(subject, "invalid alias "+a.As)
	}
	parts := strings.Split(a.Field, ".")
	if len(parts) > 2 {
		return nil, appErrors.NewConfigurationError(subject, "only one relation level can be aggregated")
	}
	if _, ok := p.table.Relations[parts[0]]; !ok {
		return nil, appErrors.NewConfigurationError(subject, "aggregation requires a relation")
	}
	if len(parts) == 1 && a.Func != store.Count {
		return nil, appErrors.NewConfigurationError(subject, string(a.Func)+" needs a column of the relation")
	}
	if len(parts) == 2 && !identRe.MatchString(parts[1]) {
		return nil, appErrors.NewConfigurationError(subject, "invalid column")
	}
	c := p.clone()
	c.annotations[a.As] = a
	return c, nil
}

func (p *population) checkLookup(l store.Lookup) error {
	subject := p.ref.String() + "." + l.Field
	switch l.Operator {
	case store.OpIn:
		if _, ok := l.Value.([]int64); !ok {
			return appErrors.NewConfigurationError(subject, "in lookup expects []int64")
		}
	case store.OpIsNull:
		if _, err := store.NullValue(l.Value); err != nil {
			return err
		}
	default:
		if _, err := store.ParseOperator(string(l.Operator)); err != nil {
			return err
		}
	}

	if _, ok := p.annotations[l.Field]; ok {
		return nil
	}
	parts := strings.Split(l.Field, ".")
	switch len(parts) {
	case 1:
		if !identRe.MatchString(parts[0]) {
			return appErrors.NewConfigurationError(subject, "invalid field name")
		}
	case 2:
		if _, ok := p.table.Relations[parts[0]]; !ok {
			return appErrors.NewConfigurationError(subject, "unknown relation "+parts[0])
		}
		if !identRe.MatchString(parts[1]) {
			return appErrors.NewConfigurationError(subject, "invalid field name")
		}
	default:
		return appErrors.NewConfigurationError(subject, "only one relation level can be traversed")
	}
	return nil
}

// SQL renders the population as a query selecting expr.
func (p *population) SQL(selectExpr string) (string, []any, error) {
	b := &builder{}
	where := []string{"1=1"}
	for _, c := range p.conds {
		pred, err := p.predicate(b, c.lookup)
		if err != nil {
			return "", nil, err
		}
		if c.negate {
			pred = "NOT COALESCE((" + pred + "), FALSE)"
		}
		where = append(where, pred)
	}
	query := fmt.Sprintf("SELECT %s FROM %s t WHERE %s", selectExpr, p.table.Name, strings.Join(where, " AND "))
	return query, b.args, nil
}

func (p *population) Distinct(ctx context.Context, field string) ([]any, error) {
	if !identRe.MatchString(field) {
		return nil, appErrors.NewConfigurationError(p.ref.String()+"."+field, "distinct needs a plain column")
	}
	query, args, err := p.SQL("DISTINCT t." + field)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", p.ref, field, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *population) IDs(ctx context.Context) ([]int64, error) {
	key := p.table.key()
	query, args, err := p.SQL("t." + key)
	if err != nil {
		return nil, err
	}
	query += " ORDER BY t." + key

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ids of %s: %w", p.ref, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *population) Count(ctx context.Context) (int, error) {
	query, args, err := p.SQL("COUNT(*)")
	if err != nil {
		return 0, err
	}
	var n int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", p.ref, err)
	}
	return n, nil
}
