package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/store"
)

// Definitions is the YAML file the seeder loads drips from.
type Definitions struct {
	Drips []DripDefinition `yaml:"drips"`
}

type DripDefinition struct {
	Name    string           `yaml:"name"`
	Enabled bool             `yaml:"enabled"`
	Subject string           `yaml:"subject"`
	Body    string           `yaml:"body"`
	Rules   []RuleDefinition `yaml:"rules"`
}

// RuleDefinition mirrors model.Rule with shorter keys. Entity is written as
// "namespace.name" and is only used by subquery kinds.
type RuleDefinition struct {
	Kind      string `yaml:"kind"`
	Method    string `yaml:"method"`
	Field     string `yaml:"field"`
	Aggregate string `yaml:"aggregate"`
	Lookup    string `yaml:"lookup"`
	Value     string `yaml:"value"`
	Entity    string `yaml:"entity"`
	UserField string `yaml:"user_field"`
}

func LoadDefinitions(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDefinitions(f)
}

// ParseDefinitions decodes and validates a definitions document. Unknown keys
// are rejected so typos do not silently drop a rule.
func ParseDefinitions(r io.Reader) (*Definitions, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var defs Definitions
	if err := dec.Decode(&defs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode drip definitions: %w", err)
	}

	seen := map[string]bool{}
	for _, d := range defs.Drips {
		if strings.TrimSpace(d.Name) == "" {
			return nil, appErrors.NewConfigurationError("drip definitions", "drip without a name")
		}
		if seen[d.Name] {
			return nil, appErrors.NewConfigurationError("drip "+d.Name, "defined twice")
		}
		seen[d.Name] = true
		if _, err := d.ModelRules(); err != nil {
			return nil, err
		}
	}
	return &defs, nil
}

func (d DripDefinition) Drip() *model.Drip {
	return &model.Drip{Name: d.Name, Enabled: d.Enabled, SubjectTemplate: d.Subject, BodyTemplate: d.Body}
}

// ModelRules converts the rule definitions, filling defaults and checking
// every enum. Positions follow file order.
func (d DripDefinition) ModelRules() ([]model.Rule, error) {
	rules := make([]model.Rule, 0, len(d.Rules))
	for i, rd := range d.Rules {
		subject := fmt.Sprintf("drip %s rule %d", d.Name, i)
		r := model.Rule{
			Kind:        model.RuleKind(orDefault(rd.Kind, string(model.KindQuerySet))),
			MethodType:  model.MethodType(orDefault(rd.Method, string(model.MethodFilter))),
			FieldName:   rd.Field,
			Aggregation: model.Aggregation(orDefault(rd.Aggregate, string(model.AggregateNone))),
			LookupType:  orDefault(rd.Lookup, string(store.OpExact)),
			FieldValue:  rd.Value,
			Position:    i,
		}
		if strings.TrimSpace(r.FieldName) == "" {
			return nil, appErrors.NewConfigurationError(subject, "field is required")
		}
		switch r.Kind {
		case model.KindQuerySet:
			if rd.Entity != "" {
				return nil, appErrors.NewConfigurationError(subject, "entity is only valid for subquery rules")
			}
		case model.KindSubquery, model.KindExcludeSubquery:
			ns, name, ok := strings.Cut(rd.Entity, ".")
			if !ok || ns == "" || name == "" {
				return nil, appErrors.NewConfigurationError(subject, "entity must be namespace.name")
			}
			r.ForeignNamespace, r.ForeignEntity = ns, name
			r.UserField = orDefault(rd.UserField, model.DefaultUserField)
		default:
			return nil, appErrors.NewConfigurationError(subject, "unknown kind "+rd.Kind)
		}
		if r.MethodType != model.MethodFilter && r.MethodType != model.MethodExclude {
			return nil, appErrors.NewConfigurationError(subject, "unknown method "+rd.Method)
		}
		switch r.Aggregation {
		case model.AggregateNone, model.AggregateSum, model.AggregateCount,
			model.AggregateMin, model.AggregateMax, model.AggregateAvg:
		default:
			return nil, appErrors.NewConfigurationError(subject, "unknown aggregate "+rd.Aggregate)
		}
		if _, err := store.ParseOperator(r.LookupType); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
