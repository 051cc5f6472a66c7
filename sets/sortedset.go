// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package sets

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
)

// Sorted is a set ordered by cmp.Less. The zero value is an empty
// set. Iteration visits elements in ascending order, which is what
// the closure builder relies on for its name-ordered upvalue lists.
type Sorted[T cmp.Ordered] struct {
	elems []T
}

// NewSorted returns a sorted set containing the given elements.
func NewSorted[T cmp.Ordered](elem ...T) *Sorted[T] {
	s := new(Sorted[T])
	s.Add(elem...)
	return s
}

// Add inserts the given elements.
func (s *Sorted[T]) Add(elem ...T) {
	s.elems = slices.Grow(s.elems, len(elem))
	for _, e := range elem {
		i, present := slices.BinarySearch(s.elems, e)
		if !present {
			s.elems = slices.Insert(s.elems, i, e)
		}
	}
}

// Has reports whether x is in the set.
func (s *Sorted[T]) Has(x T) bool {
	if s == nil {
		return false
	}
	_, present := slices.BinarySearch(s.elems, x)
	return present
}

// Len returns the number of elements.
func (s *Sorted[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.elems)
}

// At returns the i'th element in ascending order.
func (s *Sorted[T]) At(i int) T {
	return s.elems[i]
}

// All iterates over the elements with their indices, in ascending
// order.
func (s *Sorted[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		if s == nil {
			return
		}
		for i, e := range s.elems {
			if !yield(i, e) {
				return
			}
		}
	}
}

// Delete removes x from the set, if present.
func (s *Sorted[T]) Delete(x T) {
	i, present := slices.BinarySearch(s.elems, x)
	if present {
		s.elems = slices.Delete(s.elems, i, i+1)
	}
}

// Format implements [fmt.Formatter], rendering the set as a
// space-separated element list in braces.
func (s *Sorted[T]) Format(f fmt.State, verb rune) {
	format(f, verb, func(yield func(T) bool) {
		for _, e := range s.All() {
			if !yield(e) {
				return
			}
		}
	})
}
