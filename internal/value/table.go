// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package value

import (
	"slices"
	"sort"
	"sync/atomic"
)

// Table is a Lua table: a mapping from Value keys to Value values,
// stored as a key-sorted slice rather than a Go map so that iteration
// order (for the subset that next/pairs promise, i.e. none beyond
// "every key is eventually visited once") is deterministic and so
// that the integer-indexed array part used by the length operator can
// be found by binary search instead of a parallel structure.
type Table struct {
	id      uint64
	entries []tableEntry
	meta    *Table
}

type tableEntry struct {
	key, value Value
}

var nextTableID atomic.Uint64

// NewTable returns a new, empty table with room for capacity entries
// before the first reallocation.
func NewTable(capacity int) *Table {
	tab := &Table{id: nextTableID.Add(1)}
	if capacity > 0 {
		tab.entries = make([]tableEntry, 0, capacity)
	}
	return tab
}

func (*Table) Type() Type { return TypeTable }

// ID returns a process-local, monotonically increasing identifier
// for the table, used for display ("table: 0x...") and as a cheap
// substitute for pointer identity in contexts (like DebugJSON's
// seen-set) where comparing *Table pointers directly is inconvenient.
func (tab *Table) ID() uint64 {
	if tab == nil {
		return 0
	}
	return tab.id
}

// Metatable returns the table's associated metatable, or nil if none
// has been set.
func (tab *Table) Metatable() *Table {
	if tab == nil {
		return nil
	}
	return tab.meta
}

// SetMetatable replaces the table's metatable. Passing nil removes it.
func (tab *Table) SetMetatable(meta *Table) {
	tab.meta = meta
}

// Len returns a border of the table (see spec.md §3): an index n such
// that t[n] is non-nil and t[n+1] is nil, or 0 if t[1] is nil.
func (tab *Table) Len() int64 {
	if tab == nil {
		return 0
	}
	start, ok := findEntry(tab.entries, Integer(1))
	if !ok {
		return 0
	}

	maxKey := len(tab.entries) - start
	searchSpace := tab.entries[start+1:]
	n := sort.Search(len(searchSpace), func(i int) bool {
		switch k := searchSpace[i].key.(type) {
		case Integer:
			return k > Integer(maxKey)
		case Float:
			return k > Float(maxKey)
		default:
			return true
		}
	})
	searchSpace = searchSpace[:n]
	maxKey = n + 1

	i := sort.Search(maxKey, func(i int) bool {
		_, found := findEntry(searchSpace, Integer(i)+2)
		return !found
	})
	return int64(i) + 1
}

// Get returns the raw value stored at key, or nil if absent. Get does
// not consult __index; that is package interp's concern (the
// raw-then-metamethod protocol of spec.md §4.1).
func (tab *Table) Get(key Value) Value {
	if tab == nil {
		return nil
	}
	i, found := findEntry(tab.entries, NormalizeKey(key))
	if !found {
		return nil
	}
	return tab.entries[i].value
}

// rawSetError is returned by Set when key is nil or NaN.
type rawSetError string

func (e rawSetError) Error() string { return string(e) }

// Set assigns the raw value at key, deleting the entry when v is nil.
// It reports an error for a nil or NaN key; all other validation (the
// __newindex protocol) is package interp's concern.
func (tab *Table) Set(key, v Value) error {
	key = NormalizeKey(key)
	if key == nil {
		return rawSetError("table index is nil")
	}
	if f, ok := key.(Float); ok && f != f {
		return rawSetError("table index is NaN")
	}

	i, found := findEntry(tab.entries, key)
	switch {
	case found && v != nil:
		tab.entries[i].value = v
	case found && v == nil:
		tab.entries = slices.Delete(tab.entries, i, i+1)
	case !found && v != nil:
		tab.entries = slices.Insert(tab.entries, i, tableEntry{key: key, value: v})
	}
	return nil
}

// SetExisting changes or removes the value for an already-present key
// and reports whether key was found; it never inserts. Used by
// __newindex dispatch, which only takes the raw-assignment path when
// the key already exists in the raw table.
func (tab *Table) SetExisting(key, v Value) bool {
	if tab == nil {
		return false
	}
	key = NormalizeKey(key)
	i, found := findEntry(tab.entries, key)
	if !found {
		return false
	}
	if v == nil {
		tab.entries = slices.Delete(tab.entries, i, i+1)
	} else {
		tab.entries[i].value = v
	}
	return true
}

// Next implements the iteration protocol behind next/pairs: given a
// key previously returned by Next (or nil to start iteration), it
// returns the following key/value pair, or (nil, nil, true) when
// iteration is complete. An unknown, non-nil key is reported via ok=false.
func (tab *Table) Next(key Value) (nextKey, nextValue Value, ok bool) {
	if tab == nil {
		return nil, nil, true
	}
	if key == nil {
		if len(tab.entries) == 0 {
			return nil, nil, true
		}
		e := tab.entries[0]
		return e.key, e.value, true
	}
	i, found := findEntry(tab.entries, NormalizeKey(key))
	if !found {
		return nil, nil, false
	}
	if i+1 >= len(tab.entries) {
		return nil, nil, true
	}
	e := tab.entries[i+1]
	return e.key, e.value, true
}

// Clear removes every entry but keeps the allocated backing array and
// the metatable association.
func (tab *Table) Clear() {
	clear(tab.entries)
	tab.entries = tab.entries[:0]
}

func findEntry(entries []tableEntry, key Value) (int, bool) {
	return slices.BinarySearchFunc(entries, key, func(e tableEntry, key Value) int {
		return Compare(e.key, key)
	})
}
