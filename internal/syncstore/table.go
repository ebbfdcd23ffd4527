// Package syncstore holds the client-side replica of the control plane's
// state: the observed-event reducer, the synced store, the per-subscription
// cursor tracker, and memoized selectors.
package syncstore

import "sort"

// Table is an immutable id-keyed sub-map of the synced state. Mutation
// helpers return a new Table; the old value is never touched, so downstream
// memoization can compare tables by pointer identity.
type Table[T any] struct {
	items map[string]T
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{items: map[string]T{}}
}

// Get returns the value for id.
func (t *Table[T]) Get(id string) (T, bool) {
	v, ok := t.items[id]
	return v, ok
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	return len(t.items)
}

// IDs returns all ids in lexicographic order.
func (t *Table[T]) IDs() []string {
	ids := make([]string, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Range calls fn for every entry until fn returns false. Iteration order is
// unspecified.
func (t *Table[T]) Range(fn func(id string, v T) bool) {
	for id, v := range t.items {
		if !fn(id, v) {
			return
		}
	}
}

// with returns a new table with id set to v.
func (t *Table[T]) with(id string, v T) *Table[T] {
	next := make(map[string]T, len(t.items)+1)
	for k, existing := range t.items {
		next[k] = existing
	}
	next[id] = v
	return &Table[T]{items: next}
}

// without returns a new table with the given ids removed. Returns the
// receiver unchanged (same identity) when none of the ids are present.
func (t *Table[T]) without(ids ...string) *Table[T] {
	any := false
	for _, id := range ids {
		if _, ok := t.items[id]; ok {
			any = true
			break
		}
	}
	if !any {
		return t
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	next := make(map[string]T, len(t.items))
	for k, v := range t.items {
		if _, gone := drop[k]; !gone {
			next[k] = v
		}
	}
	return &Table[T]{items: next}
}
