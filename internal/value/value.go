// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package value implements the Lua 5.4 value model: the tagged union of
// runtime data, table semantics, numeric coercion, and the raw half of
// the raw-then-metamethod operator protocol. Everything above a single
// Value (scoping, calls, coroutines) lives in package interp.
package value

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"

	"treewalk.zombiezen.dev/lua/internal/lualex"
)

// Type is an enumeration of Lua data types, mirroring lua_type's values
// in the reference implementation.
type Type int

const (
	TypeNil Type = iota
	TypeBoolean
	TypeNumber
	TypeString
	TypeTable
	TypeFunction
	TypeThread
	TypeUserdata
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeFunction:
		return "function"
	case TypeThread:
		return "thread"
	case TypeUserdata:
		return "userdata"
	default:
		return fmt.Sprintf("value.Type(%d)", int(t))
	}
}

// Value is the interface implemented by every representable Lua datum
// except nil, which is represented by the untyped Go nil of this
// interface type. Concrete implementations are Boolean, Integer,
// Float, String, *Table, and whatever Function/Coroutine types package
// interp defines (Value itself does not know about closures or
// coroutines — it only requires that they report a Type).
type Value interface {
	Type() Type
}

// TypeOf returns the [Type] of v, handling the nil-Value-means-Lua-nil
// convention used throughout this package.
func TypeOf(v Value) Type {
	if v == nil {
		return TypeNil
	}
	return v.Type()
}

// Truthy reports whether v is true in a Lua boolean context: everything
// except nil and the boolean false is truthy.
func Truthy(v Value) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(Boolean); ok {
		return bool(b)
	}
	return true
}

// Boolean is a Lua boolean value.
type Boolean bool

func (Boolean) Type() Type { return TypeBoolean }

// Integer is a Lua integer value: 64-bit signed, wrapping on overflow
// per Go's normal int64 arithmetic (which already matches Lua 5.4's
// two's-complement wraparound semantics).
type Integer int64

func (Integer) Type() Type { return TypeNumber }

// Float is a Lua floating-point value (IEEE-754 double).
type Float float64

func (Float) Type() Type { return TypeNumber }

// String is an immutable Lua string: a raw byte sequence, not
// necessarily valid UTF-8 or any other text encoding.
type String string

func (String) Type() Type { return TypeString }

// Multi is the internal carrier for expressions that can yield more
// than one value: function calls, varargs, and (when expanded) the
// last element of a table constructor or argument list. Multi is
// deliberately not a Value: it must be collapsed or spread by its
// calling context and can never be stored in a table slot, assigned to
// a single local, or otherwise observed as a first-class Lua datum.
type Multi []Value

// First collapses m to its first value, or nil if m is empty. This is
// the standard "truncate to one value" rule applied everywhere a Multi
// appears in a single-value context.
func (m Multi) First() Value {
	if len(m) == 0 {
		return nil
	}
	return m[0]
}

// At returns the i'th value of m, or nil if out of range. Used when
// binding fixed-arity parameter lists and multiple-assignment targets,
// where Lua pads missing values with nil rather than erroring.
func (m Multi) At(i int) Value {
	if i < 0 || i >= len(m) {
		return nil
	}
	return m[i]
}

// RawEqual reports whether v1 and v2 are equal under Lua's raw
// equality (no __eq dispatch): numbers compare by mathematical value
// across the int/float boundary, strings by content, everything else
// (tables, functions, coroutines, booleans) by identity.
func RawEqual(v1, v2 Value) bool {
	if v1 == nil || v2 == nil {
		return v1 == nil && v2 == nil
	}
	switch a := v1.(type) {
	case Boolean:
		b, ok := v2.(Boolean)
		return ok && a == b
	case Integer:
		switch b := v2.(type) {
		case Integer:
			return a == b
		case Float:
			return float64(a) == float64(b)
		default:
			return false
		}
	case Float:
		switch b := v2.(type) {
		case Integer:
			return float64(a) == float64(b)
		case Float:
			return a == b
		default:
			return false
		}
	case String:
		b, ok := v2.(String)
		return ok && a == b
	default:
		return v1 == v2
	}
}

// Compare orders v1 and v2 for table-key storage (not for Lua's `<`
// operator, which is user-overridable and operand-restricted). Values
// of differing [Type] sort by Type; NaN sorts below every other float
// and equal to itself so that it can occupy a well-defined slice
// position even though Lua forbids it as a table key.
func Compare(v1, v2 Value) int {
	t1, t2 := TypeOf(v1), TypeOf(v2)
	if t1 != t2 {
		return cmp.Compare(t1, t2)
	}
	switch a := v1.(type) {
	case nil:
		return 0
	case Boolean:
		b := v2.(Boolean)
		switch {
		case a == b:
			return 0
		case bool(a):
			return 1
		default:
			return -1
		}
	case Integer:
		switch b := v2.(type) {
		case Integer:
			return cmp.Compare(a, b)
		case Float:
			return cmp.Compare(float64(a), float64(b))
		}
	case Float:
		af := float64(a)
		var bf float64
		switch b := v2.(type) {
		case Integer:
			bf = float64(b)
		case Float:
			bf = float64(b)
		}
		switch {
		case math.IsNaN(af) && math.IsNaN(bf):
			return 0
		case math.IsNaN(af):
			return -1
		case math.IsNaN(bf):
			return 1
		default:
			return cmp.Compare(af, bf)
		}
	case String:
		b := v2.(String)
		return strings.Compare(string(a), string(b))
	}
	// Tables, functions, coroutines, userdata: order by identity so
	// that a sorted table's entries have a total, if arbitrary, order.
	return cmp.Compare(fmt.Sprintf("%p", v1), fmt.Sprintf("%p", v2))
}

// NormalizeKey canonicalizes v for use as a table key: a Float holding
// an exactly-representable integer becomes the equivalent Integer, and
// -0.0 becomes +0.0, matching §3's Table invariants.
func NormalizeKey(v Value) Value {
	f, ok := v.(Float)
	if !ok {
		return v
	}
	if f == 0 {
		// Covers -0.0 as well: both zeros collapse to integer 0.
		return Integer(0)
	}
	if i := int64(f); Float(i) == f && !math.IsInf(float64(f), 0) {
		return Integer(i)
	}
	return v
}

// ToString renders v the way Lua's tostring (absent a __tostring
// metamethod, which is package interp's concern since it requires a
// call) would: booleans as "true"/"false", nil as "nil", integers in
// base 10, floats with Lua's "%.14g" convention (so 2.0 prints as
// "2.0", not "2"), strings verbatim, and everything else as
// "type: 0xADDRESS".
func ToString(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case Boolean:
		if v {
			return "true"
		}
		return "false"
	case Integer:
		return strconv.FormatInt(int64(v), 10)
	case Float:
		return formatFloat(float64(v))
	case String:
		return string(v)
	case *Table:
		return fmt.Sprintf("table: %p", v)
	default:
		return fmt.Sprintf("%s: %p", TypeOf(v), v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// ToNumber implements Lua's numeric coercion used by arithmetic and by
// the tonumber builtin: numbers pass through, strings are parsed with
// the same numeral grammar the lexer uses (lualex.ParseInt and
// lualex.ParseNumber), and everything else fails. An integral string
// stays an Integer; only strings with a radix point or exponent
// coerce to Float.
func ToNumber(v Value) (Value, bool) {
	switch v := v.(type) {
	case Integer, Float:
		return v, true
	case String:
		if i, err := lualex.ParseInt(string(v)); err == nil {
			return Integer(i), true
		}
		if f, err := lualex.ParseNumber(string(v)); err == nil {
			return Float(f), true
		}
		return nil, false
	default:
		return nil, false
	}
}

// ToFloat64 extracts a float64 from a Value already known to be a
// number (Integer or Float), used by arithmetic that must promote to
// float.
func ToFloat64(v Value) (float64, bool) {
	switch v := v.(type) {
	case Integer:
		return float64(v), true
	case Float:
		return float64(v), true
	default:
		return 0, false
	}
}

// ToInt64 extracts an int64 from a Value, succeeding for an Integer or
// for a Float that holds an exactly representable integer (the rule
// used by bitwise operators and table-length indexing).
func ToInt64(v Value) (int64, bool) {
	switch v := v.(type) {
	case Integer:
		return int64(v), true
	case Float:
		i := int64(v)
		if Float(i) == v && !math.IsInf(float64(v), 0) {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}
