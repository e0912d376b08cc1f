// internal/model/rule.go
package model

import (
	"fmt"
	"time"
)

type RuleKind string

const (
	KindQuerySet        RuleKind = "queryset"
	KindSubquery        RuleKind = "subquery"
	KindExcludeSubquery RuleKind = "exclude_subquery"
)

type MethodType string

const (
	MethodFilter  MethodType = "filter"
	MethodExclude MethodType = "exclude"
)

type Aggregation string

const (
	AggregateNone  Aggregation = "none"
	AggregateSum   Aggregation = "sum"
	AggregateCount Aggregation = "count"
	AggregateMin   Aggregation = "min"
	AggregateMax   Aggregation = "max"
	AggregateAvg   Aggregation = "avg"
)

const DefaultUserField = "user_id"

// Rule is one stored predicate of a drip. Subquery kinds also name the foreign
// entity and the field on it that points back to the user.
type Rule struct {
	ID          int64       `db:"id" json:"id"`
	DripID      int64       `db:"drip_id" json:"drip_id"`
	Kind        RuleKind    `db:"kind" json:"kind"`
	MethodType  MethodType  `db:"method_type" json:"method_type"`
	FieldName   string      `db:"field_name" json:"field_name"`
	Aggregation Aggregation `db:"annotate" json:"annotate"`
	LookupType  string      `db:"lookup_type" json:"lookup_type"`
	FieldValue  string      `db:"field_value" json:"field_value"`

	ForeignNamespace string `db:"app_name" json:"app_name,omitempty"`
	ForeignEntity    string `db:"model_name" json:"model_name,omitempty"`
	UserField        string `db:"user_field" json:"user_field,omitempty"`

	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ForeignKey identifies the related-entity relationship a subquery rule belongs to.
type ForeignKey struct {
	Namespace string
	Entity    string
	UserField string
}

func (k ForeignKey) String() string {
	return fmt.Sprintf("%s.%s(%s)", k.Namespace, k.Entity, k.UserField)
}

func (r Rule) ForeignKey() ForeignKey {
	userField := r.UserField
	if userField == "" {
		userField = DefaultUserField
	}
	return ForeignKey{Namespace: r.ForeignNamespace, Entity: r.ForeignEntity, UserField: userField}
}

// Aggregated reports whether the rule compares an aggregate instead of the raw field.
func (r Rule) Aggregated() bool {
	return r.Aggregation != "" && r.Aggregation != AggregateNone
}

// RuleSet is the ordered rule collection of one drip, split by kind.
type RuleSet struct {
	QuerySet        []Rule
	Subquery        []Rule
	ExcludeSubquery []Rule
}

// NewRuleSet splits rules by kind, keeping their relative order.
func NewRuleSet(rules []Rule) RuleSet {
	var rs RuleSet
	for _, r := range rules {
		switch r.Kind {
		case KindSubquery:
			rs.Subquery = append(rs.Subquery, r)
		case KindExcludeSubquery:
			rs.ExcludeSubquery = append(rs.ExcludeSubquery, r)
		default:
			rs.QuerySet = append(rs.QuerySet, r)
		}
	}
	return rs
}
