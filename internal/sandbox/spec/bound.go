package spec

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const unboundedKeyword = "unbounded"

// Quantity is the set of types a Bound can limit.
type Quantity interface {
	~int64
}

// Bound is an optional limit. The zero value is unbounded.
type Bound[T Quantity] struct {
	value   T
	limited bool
}

// TimeBound limits CPU time.
type TimeBound = Bound[time.Duration]

// ByteBound limits a size in bytes.
type ByteBound = Bound[int64]

// CountBound limits a number of things.
type CountBound = Bound[int64]

// Unbounded returns a bound that never trips.
func Unbounded[T Quantity]() Bound[T] {
	return Bound[T]{}
}

// Limited returns a finite bound of v.
func Limited[T Quantity](v T) Bound[T] {
	return Bound[T]{value: v, limited: true}
}

// Value returns the limit and whether it is finite.
func (b Bound[T]) Value() (T, bool) {
	return b.value, b.limited
}

// IsUnbounded reports whether no limit applies.
func (b Bound[T]) IsUnbounded() bool {
	return !b.limited
}

// Exceeds reports whether v is strictly above a finite limit.
func (b Bound[T]) Exceeds(v T) bool {
	return b.limited && v > b.value
}

// Valid reports whether the bound is unbounded or non-negative.
func (b Bound[T]) Valid() bool {
	return !b.limited || b.value >= 0
}

func (b Bound[T]) String() string {
	if !b.limited {
		return unboundedKeyword
	}
	if d, ok := any(b.value).(time.Duration); ok {
		return d.String()
	}
	return fmt.Sprintf("%d", int64(b.value))
}

// UnmarshalYAML accepts "unbounded" or a value decodable into T.
func (b *Bound[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && strings.EqualFold(strings.TrimSpace(node.Value), unboundedKeyword) {
		*b = Unbounded[T]()
		return nil
	}
	var v T
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("decode bound %q: %w", node.Value, err)
	}
	*b = Limited(v)
	return nil
}

// MarshalYAML writes "unbounded" or the limit value.
func (b Bound[T]) MarshalYAML() (interface{}, error) {
	if !b.limited {
		return unboundedKeyword, nil
	}
	if d, ok := any(b.value).(time.Duration); ok {
		return d.String(), nil
	}
	return int64(b.value), nil
}
