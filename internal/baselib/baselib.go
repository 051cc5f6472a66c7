// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package baselib provides the minimal base library the evaluation
// core needs to be testable: protected calls, raw table access,
// metatable management, iteration, and the coroutine surface over the
// scheduler. The full Lua standard library is out of scope; this is
// the subset the core's own semantics reference.
package baselib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/interp"
	"treewalk.zombiezen.dev/lua/internal/parser"
	"treewalk.zombiezen.dev/lua/internal/value"
)

// Version is the value installed as _VERSION.
const Version = "Lua 5.4"

// BaseOptions configures OpenBase.
type BaseOptions struct {
	// Output is where print writes. nil discards.
	Output io.Writer
	// LoadBinary, if set, is consulted by load for chunks whose first
	// byte is 0x1B (§6's binary chunk contract). The default rejects
	// binary chunks.
	LoadBinary func(ctx context.Context, s *interp.State, data string) (value.Value, error)
}

// OpenBase installs the base library into s's globals.
func OpenBase(s *interp.State, opts *BaseOptions) {
	if opts == nil {
		opts = new(BaseOptions)
	}
	g := s.Globals
	reg := func(name string, fn interp.GoFunc) {
		g.Set(value.String(name), interp.NewGoFunction(name, fn))
	}

	reg("assert", baseAssert)
	reg("error", baseError)
	reg("getmetatable", baseGetMetatable)
	reg("ipairs", baseIPairs)
	reg("load", newBaseLoad(opts.LoadBinary))
	reg("next", baseNext)
	reg("pairs", basePairs)
	reg("pcall", basePCall)
	reg("print", newBasePrint(opts.Output))
	reg("rawequal", baseRawEqual)
	reg("rawget", baseRawGet)
	reg("rawlen", baseRawLen)
	reg("rawset", baseRawSet)
	reg("select", baseSelect)
	reg("setmetatable", baseSetMetatable)
	reg("tonumber", baseToNumber)
	reg("tostring", baseToString)
	reg("type", baseType)
	reg("xpcall", baseXPCall)

	co := value.NewTable(8)
	coreg := func(name string, fn interp.GoFunc) {
		co.Set(value.String(name), interp.NewGoFunction("coroutine."+name, fn))
	}
	coreg("close", coroutineClose)
	coreg("create", coroutineCreate)
	coreg("isyieldable", coroutineIsYieldable)
	coreg("resume", coroutineResume)
	coreg("running", coroutineRunning)
	coreg("status", coroutineStatus)
	coreg("wrap", coroutineWrap)
	coreg("yield", coroutineYield)
	g.Set(value.String("coroutine"), co)

	g.Set(value.String("_G"), g)
	g.Set(value.String("_VERSION"), value.String(Version))
}

// NewArgError returns the standard bad-argument error for argument
// arg of fname.
func NewArgError(fname string, arg int, msg string) error {
	return fmt.Errorf("bad argument #%d to '%s' (%s)", arg, fname, msg)
}

// NewTypeError is NewArgError with the standard expected-versus-got
// message.
func NewTypeError(fname string, arg int, tname string, got value.Value) error {
	return NewArgError(fname, arg, fmt.Sprintf("%s expected, got %s", tname, value.TypeOf(got)))
}

func checkTable(fname string, args value.Multi, arg int) (*value.Table, error) {
	t, ok := args.At(arg - 1).(*value.Table)
	if !ok {
		return nil, NewTypeError(fname, arg, "table", args.At(arg-1))
	}
	return t, nil
}

func checkString(fname string, args value.Multi, arg int) (string, error) {
	switch v := args.At(arg - 1).(type) {
	case value.String:
		return string(v), nil
	case value.Integer, value.Float:
		return value.ToString(v), nil
	default:
		return "", NewTypeError(fname, arg, "string", v)
	}
}

func checkInteger(fname string, args value.Multi, arg int) (int64, error) {
	n, ok := value.ToInt64(args.At(arg - 1))
	if !ok {
		return 0, NewTypeError(fname, arg, "number", args.At(arg-1))
	}
	return n, nil
}

func baseAssert(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	if len(args) == 0 {
		return nil, NewArgError("assert", 1, "value expected")
	}
	if value.Truthy(args.At(0)) {
		return args, nil
	}
	if len(args) >= 2 {
		return nil, s.NewUserError(args.At(1), 0)
	}
	return nil, s.NewUserError(value.String("assertion failed!"), 0)
}

func baseError(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	level := int64(1)
	if len(args) >= 2 {
		n, err := checkInteger("error", args, 2)
		if err != nil {
			return nil, err
		}
		level = n
	}
	return nil, s.NewUserError(args.At(0), int(level))
}

func baseGetMetatable(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	mt := s.Metatable(args.At(0))
	if mt == nil {
		return value.Multi{nil}, nil
	}
	if protected := mt.Get(value.String("__metatable")); protected != nil {
		return value.Multi{protected}, nil
	}
	return value.Multi{mt}, nil
}

func baseSetMetatable(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	t, err := checkTable("setmetatable", args, 1)
	if err != nil {
		return nil, err
	}
	var mt *value.Table
	switch m := args.At(1).(type) {
	case nil:
	case *value.Table:
		mt = m
	default:
		return nil, NewTypeError("setmetatable", 2, "nil or table", m)
	}
	if cur := t.Metatable(); cur != nil && cur.Get(value.String("__metatable")) != nil {
		return nil, errors.New("cannot change a protected metatable")
	}
	t.SetMetatable(mt)
	return value.Multi{t}, nil
}

func baseRawEqual(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	return value.Multi{value.Boolean(value.RawEqual(args.At(0), args.At(1)))}, nil
}

func baseRawGet(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	t, err := checkTable("rawget", args, 1)
	if err != nil {
		return nil, err
	}
	return value.Multi{t.Get(args.At(1))}, nil
}

func baseRawSet(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	t, err := checkTable("rawset", args, 1)
	if err != nil {
		return nil, err
	}
	if err := t.Set(args.At(1), args.At(2)); err != nil {
		return nil, err
	}
	return value.Multi{t}, nil
}

func baseRawLen(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	switch v := args.At(0).(type) {
	case value.String:
		return value.Multi{value.Integer(len(v))}, nil
	case *value.Table:
		return value.Multi{value.Integer(v.Len())}, nil
	default:
		return nil, NewArgError("rawlen", 1, "table or string expected")
	}
}

func baseSelect(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	rest := args[min(len(args), 1):]
	if str, ok := args.At(0).(value.String); ok && str == "#" {
		return value.Multi{value.Integer(len(rest))}, nil
	}
	n, err := checkInteger("select", args, 1)
	if err != nil {
		return nil, err
	}
	switch {
	case n < 0:
		n += int64(len(rest))
		if n < 0 {
			return nil, NewArgError("select", 1, "index out of range")
		}
	case n == 0:
		return nil, NewArgError("select", 1, "index out of range")
	default:
		n--
	}
	if n >= int64(len(rest)) {
		return nil, nil
	}
	return rest[n:], nil
}

func baseType(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	if len(args) == 0 {
		return nil, NewArgError("type", 1, "value expected")
	}
	return value.Multi{value.String(value.TypeOf(args.At(0)).String())}, nil
}

func baseToString(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	str, err := s.ToDisplayString(ctx, ast.Span{}, args.At(0))
	if err != nil {
		return nil, err
	}
	return value.Multi{value.String(str)}, nil
}

func baseToNumber(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	if len(args) < 2 || args.At(1) == nil {
		n, ok := value.ToNumber(args.At(0))
		if !ok {
			return value.Multi{nil}, nil
		}
		return value.Multi{n}, nil
	}
	base, err := checkInteger("tonumber", args, 2)
	if err != nil {
		return nil, err
	}
	if base < 2 || base > 36 {
		return nil, NewArgError("tonumber", 2, "base out of range")
	}
	str, err := checkString("tonumber", args, 1)
	if err != nil {
		return nil, err
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(strings.ToLower(str)), int(base), 64)
	if perr != nil {
		return value.Multi{nil}, nil
	}
	return value.Multi{value.Integer(n)}, nil
}

func baseNext(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	t, err := checkTable("next", args, 1)
	if err != nil {
		return nil, err
	}
	k, v, ok := t.Next(args.At(1))
	if !ok {
		return nil, NewArgError("next", 2, "invalid key to 'next'")
	}
	if k == nil {
		return value.Multi{nil}, nil
	}
	return value.Multi{k, v}, nil
}

func basePairs(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	t, err := checkTable("pairs", args, 1)
	if err != nil {
		return nil, err
	}
	return value.Multi{interp.NewGoFunction("next", baseNext), t, nil}, nil
}

func baseIPairs(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	t := args.At(0)
	if t == nil {
		return nil, NewArgError("ipairs", 1, "table expected, got no value")
	}
	iter := interp.NewGoFunction("ipairs_iterator", func(ctx context.Context, s *interp.State, iargs value.Multi) (value.Multi, error) {
		i, _ := value.ToInt64(iargs.At(1))
		i++
		v, err := s.Index(ctx, ast.Span{}, iargs.At(0), value.Integer(i))
		if err != nil {
			return nil, err
		}
		if v == nil {
			return value.Multi{nil}, nil
		}
		return value.Multi{value.Integer(i), v}, nil
	})
	return value.Multi{iter, t, value.Integer(0)}, nil
}

func basePCall(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	if len(args) == 0 {
		return nil, NewArgError("pcall", 1, "value expected")
	}
	r, err := s.Call(ctx, ast.Span{}, args.At(0), args[1:])
	if err != nil {
		if isUncatchable(ctx, err) {
			return nil, err
		}
		return value.Multi{value.Boolean(false), s.ErrorValue(err)}, nil
	}
	out := make(value.Multi, 0, len(r)+1)
	out = append(out, value.Boolean(true))
	return append(out, r...), nil
}

func baseXPCall(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	if len(args) < 2 {
		return nil, NewArgError("xpcall", 2, "value expected")
	}
	handler := args.At(1)
	r, err := s.Call(ctx, ast.Span{}, args.At(0), args[2:])
	if err != nil {
		if isUncatchable(ctx, err) {
			return nil, err
		}
		hr, herr := s.Call(ctx, ast.Span{}, handler, value.Multi{s.ErrorValue(err)})
		if herr != nil {
			// The handler itself failed; report without unwinding
			// through another handler (§4.5).
			return value.Multi{value.Boolean(false), value.String("error in error handling")}, nil
		}
		return value.Multi{value.Boolean(false), hr.First()}, nil
	}
	out := make(value.Multi, 0, len(r)+1)
	out = append(out, value.Boolean(true))
	return append(out, r...), nil
}

// isUncatchable reports errors that must pass through a protected
// boundary: coroutine teardown and host cancellation are not Lua
// errors.
func isUncatchable(ctx context.Context, err error) bool {
	return errors.Is(err, interp.ErrCoroutineClosing) || errors.Is(err, ctx.Err())
}

func newBasePrint(out io.Writer) interp.GoFunc {
	return func(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
		if out == nil {
			return nil, nil
		}
		sb := new(strings.Builder)
		for i, v := range args {
			if i > 0 {
				sb.WriteByte('\t')
			}
			str, err := s.ToDisplayString(ctx, ast.Span{}, v)
			if err != nil {
				return nil, err
			}
			sb.WriteString(str)
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(out, sb.String()); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func newBaseLoad(loadBinary func(ctx context.Context, s *interp.State, data string) (value.Value, error)) interp.GoFunc {
	return func(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
		chunk, err := checkString("load", args, 1)
		if err != nil {
			return nil, err
		}
		chunkName := "=(load)"
		if name, ok := args.At(1).(value.String); ok {
			chunkName = string(name)
		}
		mode := "bt"
		if m, ok := args.At(2).(value.String); ok {
			mode = string(m)
		}
		var envTable *value.Table
		if t, ok := args.At(3).(*value.Table); ok {
			envTable = t
		}

		// Mode "t" must reject binary chunks, recognizable by their
		// 0x1B first byte (§6).
		if len(chunk) > 0 && chunk[0] == 0x1B {
			if !strings.Contains(mode, "b") {
				return value.Multi{nil, value.String("attempt to load a binary chunk (mode is '" + mode + "')")}, nil
			}
			if loadBinary == nil {
				return value.Multi{nil, value.String("binary chunks not supported")}, nil
			}
			f, err := loadBinary(ctx, s, chunk)
			if err != nil {
				return value.Multi{nil, value.String(err.Error())}, nil
			}
			return value.Multi{f}, nil
		}
		if !strings.Contains(mode, "t") {
			return value.Multi{nil, value.String("attempt to load a text chunk (mode is '" + mode + "')")}, nil
		}

		parsed, err := parser.Parse(chunkName, strings.NewReader(chunk))
		if err != nil {
			return value.Multi{nil, value.String(err.Error())}, nil
		}
		return value.Multi{s.LoadChunk(parsed, chunkName, envTable)}, nil
	}
}

// ---- coroutine library ----

func checkCoroutine(fname string, args value.Multi, arg int) (*interp.Coroutine, error) {
	co, ok := args.At(arg - 1).(*interp.Coroutine)
	if !ok {
		return nil, NewTypeError(fname, arg, "coroutine", args.At(arg-1))
	}
	return co, nil
}

func coroutineCreate(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	f := args.At(0)
	if value.TypeOf(f) != value.TypeFunction {
		return nil, NewTypeError("create", 1, "function", f)
	}
	return value.Multi{s.NewCoroutine(f)}, nil
}

func coroutineResume(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	co, err := checkCoroutine("resume", args, 1)
	if err != nil {
		return nil, err
	}
	r, err := s.Resume(ctx, co, args[1:])
	if err != nil {
		if isUncatchable(ctx, err) {
			return nil, err
		}
		return value.Multi{value.Boolean(false), s.ErrorValue(err)}, nil
	}
	out := make(value.Multi, 0, len(r)+1)
	out = append(out, value.Boolean(true))
	return append(out, r...), nil
}

func coroutineYield(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	return s.Yield(ctx, args)
}

func coroutineStatus(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	co, err := checkCoroutine("status", args, 1)
	if err != nil {
		return nil, err
	}
	return value.Multi{value.String(co.Status().String())}, nil
}

func coroutineRunning(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	co := s.Current()
	return value.Multi{co, value.Boolean(co.IsMain())}, nil
}

func coroutineIsYieldable(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	return value.Multi{value.Boolean(s.IsYieldable())}, nil
}

func coroutineClose(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	co, err := checkCoroutine("close", args, 1)
	if err != nil {
		return nil, err
	}
	if err := s.CloseCoroutine(ctx, co); err != nil {
		return value.Multi{value.Boolean(false), s.ErrorValue(err)}, nil
	}
	return value.Multi{value.Boolean(true)}, nil
}

func coroutineWrap(ctx context.Context, s *interp.State, args value.Multi) (value.Multi, error) {
	f := args.At(0)
	if value.TypeOf(f) != value.TypeFunction {
		return nil, NewTypeError("wrap", 1, "function", f)
	}
	co := s.NewCoroutine(f)
	wrapped := interp.NewGoFunction("wrapped_coroutine", func(ctx context.Context, s *interp.State, wargs value.Multi) (value.Multi, error) {
		return s.Resume(ctx, co, wargs)
	})
	return value.Multi{wrapped}, nil
}
