package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/store"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s, err := New(db, DefaultRegistry())
	require.NoError(t, err)
	return s, mock, func() { db.Close() }
}

func render(t *testing.T, p store.Population) (string, []any) {
	t.Helper()
	q, args, err := p.(*population).SQL("t.id")
	require.NoError(t, err)
	return q, args
}

func TestPopulation_SQL(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		lookup store.Lookup
		negate bool
		where  string
		args   []any
	}{
		{"exact", store.Lookup{Field: "first_name", Operator: store.OpExact, Value: "Ada"}, false,
			"t.first_name = $1", []any{"Ada"}},
		{"exact nil", store.Lookup{Field: "last_login", Operator: store.OpExact, Value: nil}, false,
			"t.last_login IS NULL", nil},
		{"iexact", store.Lookup{Field: "email", Operator: store.OpIExact, Value: "A@B.C"}, false,
			"UPPER(t.email::text) = UPPER($1)", []any{"A@B.C"}},
		{"contains escapes", store.Lookup{Field: "email", Operator: store.OpContains, Value: "50%_off"}, false,
			"t.email::text LIKE $1", []any{`%50\%\_off%`}},
		{"icontains", store.Lookup{Field: "email", Operator: store.OpIContains, Value: "spam"}, false,
			"UPPER(t.email::text) LIKE UPPER($1)", []any{"%spam%"}},
		{"istartswith", store.Lookup{Field: "email", Operator: store.OpIStartsWith, Value: "ad"}, false,
			"UPPER(t.email::text) LIKE UPPER($1)", []any{"ad%"}},
		{"endswith", store.Lookup{Field: "email", Operator: store.OpEndsWith, Value: ".org"}, false,
			"t.email::text LIKE $1", []any{"%.org"}},
		{"regex", store.Lookup{Field: "email", Operator: store.OpRegex, Value: "^a"}, false,
			"t.email::text ~ $1", []any{"^a"}},
		{"iregex", store.Lookup{Field: "email", Operator: store.OpIRegex, Value: "^a"}, false,
			"t.email::text ~* $1", []any{"^a"}},
		{"lt time", store.Lookup{Field: "date_joined", Operator: store.OpLt, Value: cutoff}, false,
			"t.date_joined < $1", []any{cutoff}},
		{"isnull", store.Lookup{Field: "last_login", Operator: store.OpIsNull, Value: false}, false,
			"t.last_login IS NOT NULL", nil},
		{"exclude gte", store.Lookup{Field: "age", Operator: store.OpGte, Value: "18"}, true,
			"NOT COALESCE((t.age >= $1), FALSE)", []any{"18"}},
		{"relation", store.Lookup{Field: "orders.status", Operator: store.OpExact, Value: "paid"}, false,
			"EXISTS (SELECT 1 FROM orders r WHERE r.user_id = t.id AND r.status = $1)", []any{"paid"}},
		{"relation isnull", store.Lookup{Field: "orders.amount", Operator: store.OpIsNull, Value: true}, false,
			"(NOT EXISTS (SELECT 1 FROM orders r WHERE r.user_id = t.id) OR EXISTS (SELECT 1 FROM orders r WHERE r.user_id = t.id AND r.amount IS NULL))", nil},
		{"in", store.In("id", []int64{1, 2}), false,
			"t.id = ANY($1)", []any{pq.Array([]int64{1, 2})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p store.Population
			var err error
			if tt.negate {
				p, err = s.Users().Exclude(tt.lookup)
			} else {
				p, err = s.Users().Filter(tt.lookup)
			}
			require.NoError(t, err)
			q, args := render(t, p)
			assert.Equal(t, "SELECT t.id FROM auth_user t WHERE 1=1 AND "+tt.where, q)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestPopulation_AnnotateSQL(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	p, err := s.Users().Annotate(store.Aggregate{Func: store.Sum, Field: "orders.amount", As: "orders__amount__annotate4"})
	require.NoError(t, err)
	p, err = p.Filter(store.Lookup{Field: "orders__amount__annotate4", Operator: store.OpGt, Value: "100"})
	require.NoError(t, err)
	p, err = p.Annotate(store.Aggregate{Func: store.Count, Field: "orders", As: "orders__annotate5"})
	require.NoError(t, err)
	p, err = p.Exclude(store.Lookup{Field: "orders__annotate5", Operator: store.OpLt, Value: "2"})
	require.NoError(t, err)

	q, args := render(t, p)
	assert.Equal(t, "SELECT t.id FROM auth_user t WHERE 1=1"+
		" AND (SELECT SUM(r.amount) FROM orders r WHERE r.user_id = t.id) > $1"+
		" AND NOT COALESCE(((SELECT COUNT(*) FROM orders r WHERE r.user_id = t.id) < $2), FALSE)", q)
	assert.Equal(t, []any{"100", "2"}, args)
}

func TestPopulation_FilterDoesNotMutateReceiver(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()

	base, err := s.Users().Filter(store.Lookup{Field: "is_active", Operator: store.OpExact, Value: true})
	require.NoError(t, err)
	_, err = base.Filter(store.Lookup{Field: "age", Operator: store.OpGt, Value: "1"})
	require.NoError(t, err)

	q, _ := render(t, base)
	assert.Equal(t, "SELECT t.id FROM auth_user t WHERE 1=1 AND t.is_active = $1", q)
}

func TestPopulation_ConfigurationErrors(t *testing.T) {
	s, _, cleanup := setupStore(t)
	defer cleanup()
	users := s.Users()

	_, err := users.Filter(store.Lookup{Field: "email; DROP TABLE x", Operator: store.OpExact, Value: "a"})
	assertConfigErr(t, err)
	_, err = users.Filter(store.Lookup{Field: "payments.amount", Operator: store.OpExact, Value: "1"})
	assertConfigErr(t, err)
	_, err = users.Filter(store.Lookup{Field: "orders.items.sku", Operator: store.OpExact, Value: "1"})
	assertConfigErr(t, err)
	_, err = users.Filter(store.Lookup{Field: "email", Operator: "between", Value: "1"})
	assertConfigErr(t, err)
	_, err = users.Annotate(store.Aggregate{Func: store.Sum, Field: "age", As: "age__annotate1"})
	assertConfigErr(t, err)
	_, err = users.Annotate(store.Aggregate{Func: store.Sum, Field: "orders", As: "orders__annotate1"})
	assertConfigErr(t, err)
	_, err = s.Entity("billing", "invoice")
	assertConfigErr(t, err)
}

func assertConfigErr(t *testing.T, err error) {
	t.Helper()
	var ce *appErrors.ConfigurationError
	assert.True(t, errors.As(err, &ce), "want ConfigurationError, got %v", err)
}

func TestPopulation_IDs(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	p, err := s.Users().Filter(store.Lookup{Field: "age", Operator: store.OpGte, Value: "18"})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT t.id FROM auth_user t WHERE 1=1 AND t.age >= $1 ORDER BY t.id")).
		WithArgs("18").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	got, err := p.IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPopulation_DistinctAndCount(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	orders, err := s.Entity("shop", "order")
	require.NoError(t, err)
	paid, err := orders.Filter(store.Lookup{Field: "status", Operator: store.OpExact, Value: "paid"})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT t.user_id FROM orders t WHERE 1=1 AND t.status = $1")).
		WithArgs("paid").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(7)).AddRow(int64(9)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders t WHERE 1=1 AND t.status = $1")).
		WithArgs("paid").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	vals, err := paid.Distinct(context.Background(), "user_id")
	require.NoError(t, err)
	keys, err := store.Keys(vals)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, keys)

	n, err := paid.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPopulation_QueryError(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT t.id FROM auth_user t").WillReturnError(sql.ErrConnDone)
	_, err := s.Users().IDs(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestRegistry_Validate(t *testing.T) {
	assert.NoError(t, DefaultRegistry().Validate())

	bad := Registry{{Namespace: "x", Name: "y"}: {Name: "bad name"}}
	assertConfigErr(t, bad.Validate())

	_, err := New(nil, Registry{{Namespace: "shop", Name: "order"}: {Name: "orders"}})
	assertConfigErr(t, err)
}
