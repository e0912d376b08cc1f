package store

import "context"

// Population is a lazily evaluated set of entities. Filter, Exclude and Annotate
// return a new handle and never touch the receiver; nothing is read from the
// backing store until Distinct, IDs or Count is called.
type Population interface {
	Filter(l Lookup) (Population, error)
	Exclude(l Lookup) (Population, error)
	Annotate(a Aggregate) (Population, error)

	Distinct(ctx context.Context, field string) ([]any, error)
	IDs(ctx context.Context) ([]int64, error)
	Count(ctx context.Context) (int, error)
}

// Source resolves the populations rules run against. Entity returns a
// ConfigurationError when the namespace/name pair is not registered.
type Source interface {
	Users() Population
	Entity(namespace, name string) (Population, error)
}
