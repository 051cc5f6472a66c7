// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package sets

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSet(t *testing.T) {
	s := New("b", "a")
	s.Add("c", "a")
	if got, want := s.Len(), 3; got != want {
		t.Errorf("Len() = %d; want %d", got, want)
	}
	for _, e := range []string{"a", "b", "c"} {
		if !s.Has(e) {
			t.Errorf("Has(%q) = false; want true", e)
		}
	}
	if s.Has("d") {
		t.Error(`Has("d") = true; want false`)
	}

	s.Delete("b")
	if s.Has("b") {
		t.Error(`Has("b") after Delete = true; want false`)
	}
	s.Delete("missing")

	got := slices.Collect(s.All())
	slices.Sort(got)
	if diff := cmp.Diff([]string{"a", "c"}, got); diff != "" {
		t.Errorf("All() (-want +got):\n%s", diff)
	}
}

func TestSetZeroValue(t *testing.T) {
	var s Set[int]
	if s.Len() != 0 {
		t.Errorf("Len() = %d; want 0", s.Len())
	}
	if s.Has(1) {
		t.Error("Has(1) = true; want false")
	}
	if got := slices.Collect(s.All()); len(got) > 0 {
		t.Errorf("All() = %v; want empty", got)
	}
}

func TestSorted(t *testing.T) {
	s := NewSorted(3, 1)
	s.Add(2, 1)
	if got, want := s.Len(), 3; got != want {
		t.Errorf("Len() = %d; want %d", got, want)
	}

	var got []int
	for i, e := range s.All() {
		if s.At(i) != e {
			t.Errorf("At(%d) = %v; want %v", i, s.At(i), e)
		}
		got = append(got, e)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("All() (-want +got):\n%s", diff)
	}

	s.Delete(2)
	if s.Has(2) {
		t.Error("Has(2) after Delete = true; want false")
	}
	if got, want := s.Len(), 2; got != want {
		t.Errorf("Len() after Delete = %d; want %d", got, want)
	}
}

func TestSortedNil(t *testing.T) {
	var s *Sorted[string]
	if s.Len() != 0 {
		t.Errorf("Len() = %d; want 0", s.Len())
	}
	if s.Has("x") {
		t.Error(`Has("x") = true; want false`)
	}
	count := 0
	for range s.All() {
		count++
	}
	if count != 0 {
		t.Errorf("All() yielded %d elements; want 0", count)
	}
}

func TestSortedFormat(t *testing.T) {
	s := NewSorted("c", "a", "b")
	if got, want := fmt.Sprintf("%v", s), "{a b c}"; got != want {
		t.Errorf("Sprintf = %q; want %q", got, want)
	}
}
