// Package pgstore evaluates populations as composed PostgreSQL queries.
package pgstore

import (
	"regexp"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Relation is a one-to-many collection whose rows point back at the parent
// through ForeignKey.
type Relation struct {
	Table      string
	ForeignKey string
}

// Table describes one entity type.
type Table struct {
	Name      string
	Key       string
	Relations map[string]Relation
}

func (t Table) key() string {
	if t.Key == "" {
		return "id"
	}
	return t.Key
}

// EntityRef names an entity type the way rules do: namespace plus entity name.
type EntityRef struct {
	Namespace string
	Name      string
}

func (r EntityRef) String() string { return r.Namespace + "." + r.Name }

// Registry maps entity references to tables. It replaces any dynamic model
// lookup: rules can only reach what was registered here.
type Registry map[EntityRef]Table

// DefaultUsers is the reference used for the user population.
var DefaultUsers = EntityRef{Namespace: "auth", Name: "user"}

// DefaultRegistry covers the tables created by db/schema.sql.
func DefaultRegistry() Registry {
	return Registry{
		DefaultUsers: {
			Name: "auth_user",
			Relations: map[string]Relation{
				"orders":     {Table: "orders", ForeignKey: "user_id"},
				"sent_drips": {Table: "sent_drips", ForeignKey: "user_id"},
			},
		},
		{Namespace: "shop", Name: "order"}: {
			Name: "orders",
		},
		{Namespace: "drip", Name: "sentdrip"}: {
			Name: "sent_drips",
		},
	}
}

// Validate checks every identifier so that field names coming from rules can be
// spliced into SQL safely.
func (r Registry) Validate() error {
	for ref, t := range r {
		if !identRe.MatchString(t.Name) || !identRe.MatchString(t.key()) {
			return appErrors.NewConfigurationError(ref.String(), "invalid table or key name")
		}
		for name, rel := range t.Relations {
			if !identRe.MatchString(name) || !identRe.MatchString(rel.Table) || !identRe.MatchString(rel.ForeignKey) {
				return appErrors.NewConfigurationError(ref.String()+"."+name, "invalid relation")
			}
		}
	}
	return nil
}
