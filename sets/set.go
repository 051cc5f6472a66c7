// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package sets provides the small set types the interpreter's
// analyses use: an unordered hash set and an ordered set backed by a
// sorted slice.
package sets

import (
	"fmt"
	"iter"
	"strings"
)

// Set is an unordered set with O(1) lookup, insertion, and deletion.
// The zero value is an empty set.
type Set[T comparable] map[T]struct{}

// New returns a set containing the given elements.
func New[T comparable](elem ...T) Set[T] {
	s := make(Set[T], len(elem))
	s.Add(elem...)
	return s
}

// Add inserts the given elements.
func (s Set[T]) Add(elem ...T) {
	for _, e := range elem {
		s[e] = struct{}{}
	}
}

// Has reports whether x is in the set.
func (s Set[T]) Has(x T) bool {
	_, ok := s[x]
	return ok
}

// Delete removes x from the set, if present.
func (s Set[T]) Delete(x T) {
	delete(s, x)
}

// Len returns the number of elements.
func (s Set[T]) Len() int {
	return len(s)
}

// All iterates over the elements in no particular order.
func (s Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for e := range s {
			if !yield(e) {
				return
			}
		}
	}
}

// Format implements [fmt.Formatter], rendering the set as a
// space-separated element list in braces.
func (s Set[T]) Format(f fmt.State, verb rune) {
	format(f, verb, s.All())
}

func format[T any](f fmt.State, verb rune, seq iter.Seq[T]) {
	sb := new(strings.Builder)
	sb.WriteString("{")
	first := true
	for e := range seq {
		if !first {
			sb.WriteString(" ")
		}
		fmt.Fprintf(sb, "%"+string(verb), e)
		first = false
	}
	sb.WriteString("}")
	f.Write([]byte(sb.String()))
}
