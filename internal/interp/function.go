// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp

import (
	"context"
	"sync/atomic"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/value"
)

var nextFunctionID atomic.Uint64

// GoFunc is a host callable (§6 Stdlib interface): it receives an
// argument vector and returns a result vector or an error. A GoFunc
// may call back into the interpreter via State.Call, and may itself
// be a coroutine-yield point if it awaits something suspending (§5).
type GoFunc func(ctx context.Context, s *State, args value.Multi) (value.Multi, error)

// GoFunction is a host callable wrapped as a Lua value.Value.
type GoFunction struct {
	id   uint64
	Name string
	Fn   GoFunc
}

// NewGoFunction wraps fn as a callable Lua value named name (used in
// error messages and stack traces).
func NewGoFunction(name string, fn GoFunc) *GoFunction {
	return &GoFunction{id: nextFunctionID.Add(1), Name: name, Fn: fn}
}

func (*GoFunction) Type() value.Type { return value.TypeFunction }

// Closure is a Lua function value: an AST body plus the upvalues
// captured when the function literal was evaluated (§3 Value,
// "Function"). Upvalues are ordered by name with _ENV last, per
// §4.2's upvalue analysis.
type Closure struct {
	id       uint64
	Body     *ast.FunctionBody
	Upvalues []*Upvalue
	// Source is the chunk name the closure was defined in, used for
	// error positions and stack traces.
	Source string
	// isolated is set when the closure was defined inside a chunk
	// loaded with a custom _ENV (§3's isLoadIsolated); calls to it
	// mark their root scope the same way, and the flag follows into
	// coroutines whose body closure carries it.
	isolated bool
}

func (*Closure) Type() value.Type { return value.TypeFunction }

// Name returns the closure's declared name for error messages, or
// "?" if it is anonymous.
func (c *Closure) Name() string {
	if c.Body.Name == "" {
		return "?"
	}
	return c.Body.Name
}

// upvalue looks up one of the closure's captured upvalues by name.
func (c *Closure) upvalue(name string) (*Upvalue, bool) {
	for _, uv := range c.Upvalues {
		if uv.Name == name {
			return uv, true
		}
	}
	return nil, false
}

// envUpvalue returns the closure's synthetic _ENV upvalue, which
// every closure that performs global access carries (§4.2).
func (c *Closure) envUpvalue() *Upvalue {
	uv, _ := c.upvalue("_ENV")
	return uv
}
