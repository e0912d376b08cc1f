package pgstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/store"
)

// builder collects positional arguments while a query is rendered.
type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (p *population) predicate(b *builder, l store.Lookup) (string, error) {
	if a, ok := p.annotations[l.Field]; ok {
		return compareSQL(b, p.aggregateExpr(a), l)
	}

	parts := strings.Split(l.Field, ".")
	if len(parts) == 1 {
		return compareSQL(b, "t."+parts[0], l)
	}

	rel := p.table.Relations[parts[0]]
	related := fmt.Sprintf("SELECT 1 FROM %s r WHERE r.%s = t.%s", rel.Table, rel.ForeignKey, p.table.key())
	inner, err := compareSQL(b, "r."+parts[1], l)
	if err != nil {
		return "", err
	}
	if wantsNull(l) {
		// an entity without related rows counts as NULL
		return fmt.Sprintf("(NOT EXISTS (%s) OR EXISTS (%s AND %s))", related, related, inner), nil
	}
	return fmt.Sprintf("EXISTS (%s AND %s)", related, inner), nil
}

func wantsNull(l store.Lookup) bool {
	switch l.Operator {
	case store.OpExact:
		return l.Value == nil
	case store.OpIsNull:
		want, _ := store.NullValue(l.Value)
		return want
	}
	return false
}

func (p *population) aggregateExpr(a store.Aggregate) string {
	parts := strings.Split(a.Field, ".")
	rel := p.table.Relations[parts[0]]
	col := "*"
	if len(parts) == 2 {
		col = "r." + parts[1]
	}
	return fmt.Sprintf("(SELECT %s(%s) FROM %s r WHERE r.%s = t.%s)",
		strings.ToUpper(string(a.Func)), col, rel.Table, rel.ForeignKey, p.table.key())
}

// compareSQL maps one operator to its PostgreSQL predicate over col.
func compareSQL(b *builder, col string, l store.Lookup) (string, error) {
	switch l.Operator {
	case store.OpExact:
		if l.Value == nil {
			return col + " IS NULL", nil
		}
		return fmt.Sprintf("%s = %s", col, b.arg(l.Value)), nil
	case store.OpIExact:
		return fmt.Sprintf("UPPER(%s::text) = UPPER(%s)", col, b.arg(text(l.Value))), nil
	case store.OpContains:
		return fmt.Sprintf("%s::text LIKE %s", col, b.arg("%"+likeEscaper.Replace(text(l.Value))+"%")), nil
	case store.OpIContains:
		return fmt.Sprintf("UPPER(%s::text) LIKE UPPER(%s)", col, b.arg("%"+likeEscaper.Replace(text(l.Value))+"%")), nil
	case store.OpStartsWith:
		return fmt.Sprintf("%s::text LIKE %s", col, b.arg(likeEscaper.Replace(text(l.Value))+"%")), nil
	case store.OpIStartsWith:
		return fmt.Sprintf("UPPER(%s::text) LIKE UPPER(%s)", col, b.arg(likeEscaper.Replace(text(l.Value))+"%")), nil
	case store.OpEndsWith:
		return fmt.Sprintf("%s::text LIKE %s", col, b.arg("%"+likeEscaper.Replace(text(l.Value)))), nil
	case store.OpIEndsWith:
		return fmt.Sprintf("UPPER(%s::text) LIKE UPPER(%s)", col, b.arg("%"+likeEscaper.Replace(text(l.Value)))), nil
	case store.OpRegex:
		return fmt.Sprintf("%s::text ~ %s", col, b.arg(text(l.Value))), nil
	case store.OpIRegex:
		return fmt.Sprintf("%s::text ~* %s", col, b.arg(text(l.Value))), nil
	case store.OpGt:
		return fmt.Sprintf("%s > %s", col, b.arg(l.Value)), nil
	case store.OpGte:
		return fmt.Sprintf("%s >= %s", col, b.arg(l.Value)), nil
	case store.OpLt:
		return fmt.Sprintf("%s < %s", col, b.arg(l.Value)), nil
	case store.OpLte:
		return fmt.Sprintf("%s <= %s", col, b.arg(l.Value)), nil
	case store.OpIsNull:
		want, err := store.NullValue(l.Value)
		if err != nil {
			return "", err
		}
		if want {
			return col + " IS NULL", nil
		}
		return col + " IS NOT NULL", nil
	case store.OpIn:
		return fmt.Sprintf("%s = ANY(%s)", col, b.arg(pq.Array(l.Value.([]int64)))), nil
	}
	return "", appErrors.NewConfigurationError(col, "unsupported operator "+string(l.Operator))
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
