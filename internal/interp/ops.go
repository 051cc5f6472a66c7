// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp

import (
	"context"
	"errors"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/value"
)

// Metamethod field names (§ GLOSSARY "Metatable"). Named individually
// rather than as an enum, unlike the teacher's bytecode-era TagMethod
// type: this core never needs to index a fixed-size fast-access array
// by tag method the way a register VM's per-opcode dispatch does.
const (
	metaIndex     = "__index"
	metaNewIndex  = "__newindex"
	metaCall      = "__call"
	metaEq        = "__eq"
	metaLt        = "__lt"
	metaLe        = "__le"
	metaConcat    = "__concat"
	metaLen       = "__len"
	metaClose     = "__close"
	metaToString  = "__tostring"
	metaName      = "__name"
	metaMetatable = "__metatable"

	maxIndexChainDepth = 2000
)

var arithMetaNames = map[value.ArithOp]string{
	value.ArithAdd:        "__add",
	value.ArithSub:        "__sub",
	value.ArithMul:        "__mul",
	value.ArithDiv:        "__div",
	value.ArithIDiv:       "__idiv",
	value.ArithMod:        "__mod",
	value.ArithPow:        "__pow",
	value.ArithBAnd:       "__band",
	value.ArithBOr:        "__bor",
	value.ArithBXor:       "__bxor",
	value.ArithShiftLeft:  "__shl",
	value.ArithShiftRight: "__shr",
	value.ArithUnaryMinus: "__unm",
	value.ArithBNot:       "__bnot",
}

// Metatable returns v's associated metatable: a table's own, or the
// shared string metatable if v is a string (so string literals can
// expose methods like ("x"):upper() through __index), or nil.
func (s *State) Metatable(v value.Value) *value.Table {
	switch vv := v.(type) {
	case *value.Table:
		return vv.Metatable()
	case value.String:
		return s.stringMetatable
	default:
		return nil
	}
}

func (s *State) metamethod(v value.Value, name string) value.Value {
	mt := s.Metatable(v)
	if mt == nil {
		return nil
	}
	return mt.Get(value.String(name))
}

// SetStringMetatable installs the metatable shared by every string
// value, letting a stdlib package (out of this core's scope) expose
// e.g. ("x"):upper() via __index = stringlib.
func (s *State) SetStringMetatable(mt *value.Table) { s.stringMetatable = mt }

// call1 invokes callee with args and collapses the result to its
// first value, the rule metamethods are called under (§4.1 point 5).
func (s *State) call1(ctx context.Context, span ast.Span, callee value.Value, args value.Multi) (value.Value, error) {
	r, err := s.Call(ctx, span, callee, args)
	if err != nil {
		return nil, err
	}
	return r.First(), nil
}

// Call invokes callee with args, following §4.1's __call-chain
// flattening: if callee is not itself callable but has a __call
// metamethod, it is rebound to that metamethod with callee prepended
// to args, repeating until something directly callable is reached.
// This never pushes more than one call frame per hop, so a chain of
// callable tables cannot grow the call stack.
func (s *State) Call(ctx context.Context, span ast.Span, callee value.Value, args value.Multi) (value.Multi, error) {
	for depth := 0; ; depth++ {
		if depth > maxIndexChainDepth {
			return nil, s.errorf(span, "'__call' chain too long; possible loop")
		}
		switch f := callee.(type) {
		case *GoFunction:
			return s.callGo(ctx, span, f, args)
		case *Closure:
			return s.callClosure(ctx, span, f, args)
		default:
			mm := s.metamethod(callee, metaCall)
			if mm == nil {
				return nil, s.errorf(span, "attempt to call a %s value", value.TypeOf(callee))
			}
			newArgs := make(value.Multi, 0, len(args)+1)
			newArgs = append(newArgs, callee)
			newArgs = append(newArgs, args...)
			callee, args = mm, newArgs
		}
	}
}

func (s *State) callGo(ctx context.Context, span ast.Span, f *GoFunction, args value.Multi) (value.Multi, error) {
	if err := s.pushFrame(&Frame{Name: f.Name, Span: span}); err != nil {
		return nil, err
	}
	defer s.popFrame()
	r, err := f.Fn(ctx, s, args)
	if err != nil {
		return nil, s.wrapGoError(span, err)
	}
	return r, nil
}

// wrapGoError turns an error returned by a host callable into an
// *EvalError positioned at the call site. Errors from this State,
// coroutine teardown, and host cancellation pass through untouched so
// errors.Is checks above still see them.
func (s *State) wrapGoError(span ast.Span, err error) error {
	if _, ok := s.sameState(err); ok {
		return err
	}
	if errors.Is(err, ErrCoroutineClosing) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return s.errorf(span, "%v", err)
}

// Index implements t[k] per §4.1's raw-then-__index protocol.
func (s *State) Index(ctx context.Context, span ast.Span, t, k value.Value) (value.Value, error) {
	for depth := 0; ; depth++ {
		if depth > maxIndexChainDepth {
			return nil, s.errorf(span, "'__index' chain too long; possible loop")
		}
		if tab, ok := t.(*value.Table); ok {
			if v := tab.Get(k); v != nil {
				return v, nil
			}
			mm := s.metamethod(t, metaIndex)
			if mm == nil {
				return nil, nil
			}
			if _, isTable := mm.(*value.Table); isTable {
				t = mm
				continue
			}
			return s.call1(ctx, span, mm, value.Multi{t, k})
		}
		mm := s.metamethod(t, metaIndex)
		if mm == nil {
			return nil, s.errorf(span, "attempt to index a %s value", value.TypeOf(t))
		}
		if _, isTable := mm.(*value.Table); isTable {
			t = mm
			continue
		}
		return s.call1(ctx, span, mm, value.Multi{t, k})
	}
}

// NewIndex implements t[k] = v per §4.1's raw-then-__newindex
// protocol.
func (s *State) NewIndex(ctx context.Context, span ast.Span, t, k, v value.Value) error {
	for depth := 0; ; depth++ {
		if depth > maxIndexChainDepth {
			return s.errorf(span, "'__newindex' chain too long; possible loop")
		}
		tab, ok := t.(*value.Table)
		if !ok {
			mm := s.metamethod(t, metaNewIndex)
			if mm == nil {
				return s.errorf(span, "attempt to index a %s value", value.TypeOf(t))
			}
			if _, isTable := mm.(*value.Table); isTable {
				t = mm
				continue
			}
			_, err := s.Call(ctx, span, mm, value.Multi{t, k, v})
			return err
		}
		if tab.SetExisting(k, v) {
			return nil
		}
		mm := s.metamethod(t, metaNewIndex)
		if mm == nil {
			if err := tab.Set(k, v); err != nil {
				return s.errorf(span, "%s", err)
			}
			return nil
		}
		if nextTab, isTable := mm.(*value.Table); isTable {
			t = nextTab
			continue
		}
		_, err := s.Call(ctx, span, mm, value.Multi{t, k, v})
		return err
	}
}

// Arith implements a binary/unary arithmetic or bitwise operator per
// §4.1's raw-then-metamethod protocol.
func (s *State) Arith(ctx context.Context, span ast.Span, op value.ArithOp, a, b value.Value) (value.Value, error) {
	v, ok, err := value.Arithmetic(op, a, b)
	if ok {
		if err != nil {
			return nil, s.errorf(span, "%s", err)
		}
		return v, nil
	}
	name := arithMetaNames[op]
	mmArgs := value.Multi{a, b}
	if op.IsUnary() {
		// Unary metamethods receive the operand twice.
		mmArgs = value.Multi{a, a}
	}
	if mm := s.metamethod(a, name); mm != nil {
		return s.call1(ctx, span, mm, mmArgs)
	}
	if !op.IsUnary() {
		if mm := s.metamethod(b, name); mm != nil {
			return s.call1(ctx, span, mm, mmArgs)
		}
	}
	bad := a
	if _, isNum := value.ToNumber(a); isNum {
		bad = b
	}
	verb := "perform arithmetic on"
	if op.IsBitwise() {
		verb = "perform bitwise operation on"
	}
	return nil, s.errorf(span, "attempt to %s a %s value", verb, value.TypeOf(bad))
}

// Concat implements `..` per §4.1.
func (s *State) Concat(ctx context.Context, span ast.Span, a, b value.Value) (value.Value, error) {
	if v, ok := value.Concat(a, b); ok {
		return v, nil
	}
	if mm := s.metamethod(a, metaConcat); mm != nil {
		return s.call1(ctx, span, mm, value.Multi{a, b})
	}
	if mm := s.metamethod(b, metaConcat); mm != nil {
		return s.call1(ctx, span, mm, value.Multi{a, b})
	}
	bad := a
	switch a.(type) {
	case value.String, value.Integer, value.Float:
		bad = b
	}
	return nil, s.errorf(span, "attempt to concatenate a %s value", value.TypeOf(bad))
}

// Len implements `#` per §4.1: strings always use their raw byte
// length; tables defer to __len if present, else the raw border.
func (s *State) Len(ctx context.Context, span ast.Span, v value.Value) (value.Value, error) {
	if str, ok := v.(value.String); ok {
		return value.Integer(len(str)), nil
	}
	if mm := s.metamethod(v, metaLen); mm != nil {
		return s.call1(ctx, span, mm, value.Multi{v})
	}
	if tab, ok := v.(*value.Table); ok {
		return value.Integer(tab.Len()), nil
	}
	return nil, s.errorf(span, "attempt to get length of a %s value", value.TypeOf(v))
}

// LessThan implements `<` per §4.1's raw-then-__lt protocol.
func (s *State) LessThan(ctx context.Context, span ast.Span, a, b value.Value) (bool, error) {
	if r, ok := value.LessThan(a, b); ok {
		return r, nil
	}
	if mm := s.metamethod(a, metaLt); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{a, b})
		return value.Truthy(r), err
	}
	if mm := s.metamethod(b, metaLt); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{a, b})
		return value.Truthy(r), err
	}
	return false, s.compareError(span, a, b)
}

func (s *State) compareError(span ast.Span, a, b value.Value) *EvalError {
	ta, tb := value.TypeOf(a), value.TypeOf(b)
	if ta == tb {
		return s.errorf(span, "attempt to compare two %s values", ta)
	}
	return s.errorf(span, "attempt to compare %s with %s", ta, tb)
}

// LessEqual implements `<=` per §4.1, falling back to `not (b < a)`
// only when neither operand has __le (the fallback chain §4.1 point2
// describes).
func (s *State) LessEqual(ctx context.Context, span ast.Span, a, b value.Value) (bool, error) {
	if r, ok := value.LessEqual(a, b); ok {
		return r, nil
	}
	if mm := s.metamethod(a, metaLe); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{a, b})
		return value.Truthy(r), err
	}
	if mm := s.metamethod(b, metaLe); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{a, b})
		return value.Truthy(r), err
	}
	rawLT, rawOK := value.LessThan(b, a)
	if rawOK {
		return !rawLT, nil
	}
	if mm := s.metamethod(b, metaLt); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{b, a})
		return !value.Truthy(r), err
	}
	if mm := s.metamethod(a, metaLt); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{b, a})
		return !value.Truthy(r), err
	}
	return false, s.compareError(span, a, b)
}

// Equals implements `==` per §4.1 point 3: __eq is only consulted
// when both operands are tables and raw equality fails.
func (s *State) Equals(ctx context.Context, span ast.Span, a, b value.Value) (bool, error) {
	if value.RawEqual(a, b) {
		return true, nil
	}
	ta, aIsTable := a.(*value.Table)
	tb, bIsTable := b.(*value.Table)
	if !aIsTable || !bIsTable {
		return false, nil
	}
	mm := s.metamethod(ta, metaEq)
	if mm == nil {
		mm = s.metamethod(tb, metaEq)
	}
	if mm == nil {
		return false, nil
	}
	r, err := s.call1(ctx, span, mm, value.Multi{a, b})
	return value.Truthy(r), err
}

// ToDisplayString implements tostring()'s metamethod-aware rendering:
// __tostring (if present) wins, else __name supplies the type label
// for tables/userdata, else value.ToString's default formatting.
func (s *State) ToDisplayString(ctx context.Context, span ast.Span, v value.Value) (string, error) {
	if mm := s.metamethod(v, metaToString); mm != nil {
		r, err := s.call1(ctx, span, mm, value.Multi{v})
		if err != nil {
			return "", err
		}
		str, ok := r.(value.String)
		if !ok {
			return "", s.errorf(span, "'__tostring' must return a string")
		}
		return string(str), nil
	}
	if tab, ok := v.(*value.Table); ok {
		if name, ok := s.metamethod(tab, metaName).(value.String); ok {
			return string(name) + formatAddr(tab), nil
		}
	}
	return value.ToString(v), nil
}
