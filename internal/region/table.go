package region

import (
	"errors"
	"fmt"
	"strings"
)

// Table is a total mapping from every Region to a value.
//
// The only ways to build one are NewTable, which rejects partial maps, and
// Fill, so Get never has a missing entry.
type Table[T any] struct {
	vals [Count]T
}

// NewTable builds a Table from m. Every region must be present.
func NewTable[T any](m map[Region]T) (Table[T], error) {
	var t Table[T]
	var missing []string
	for _, r := range all {
		v, ok := m[r]
		if !ok {
			missing = append(missing, r.String())
			continue
		}
		t.vals[r.index()] = v
	}
	for r := range m {
		if !r.Valid() {
			return Table[T]{}, fmt.Errorf("region table: invalid key %s", r)
		}
	}
	if len(missing) > 0 {
		return Table[T]{}, errors.New("region table: missing " + strings.Join(missing, ", "))
	}
	return t, nil
}

// Fill returns a Table holding v for every region.
func Fill[T any](v T) Table[T] {
	var t Table[T]
	for i := range t.vals {
		t.vals[i] = v
	}
	return t
}

// Get returns the value for r. It panics on an invalid Region, which can
// only be produced by a conversion outside this package.
func (t Table[T]) Get(r Region) T {
	if !r.Valid() {
		panic("region: invalid region " + r.String())
	}
	return t.vals[r.index()]
}

// With returns a copy of t with r set to v.
func (t Table[T]) With(r Region, v T) Table[T] {
	if !r.Valid() {
		panic("region: invalid region " + r.String())
	}
	t.vals[r.index()] = v
	return t
}

// Map returns the table as a plain map (for JSON output).
func (t Table[T]) Map() map[Region]T {
	out := make(map[Region]T, Count)
	for _, r := range all {
		out[r] = t.vals[r.index()]
	}
	return out
}

// Paths returns the default API path suffix of every region's moment feed.
func Paths() Table[string] {
	t, _ := NewTable(map[Region]string{
		EU: "bereal/moments/last/europe-west",
		US: "bereal/moments/last/us-central",
		AW: "bereal/moments/last/asia-west",
		AE: "bereal/moments/last/asia-east",
	})
	return t
}
