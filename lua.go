// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package lua embeds the tree-walking Lua 5.4 interpreter: a State
// wraps the evaluation core with the base library installed and
// exposes chunk loading, running, and binary chunk serialization.
package lua

import (
	"context"
	"fmt"
	"io"
	"strings"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/baselib"
	"treewalk.zombiezen.dev/lua/internal/interp"
	"treewalk.zombiezen.dev/lua/internal/parser"
	"treewalk.zombiezen.dev/lua/internal/value"
)

// Value is a Lua datum. See package value for the concrete
// representations.
type Value = value.Value

// Options configures New.
type Options struct {
	// MaxCallDepth overrides the call-depth limit for non-tail calls.
	// Zero keeps the default.
	MaxCallDepth int
	// Output is where print writes. nil discards.
	Output io.Writer
}

// State is an interpreter instance with the base library installed.
type State struct {
	in *interp.State
}

// New returns a ready-to-use interpreter.
func New(opts *Options) *State {
	in := interp.NewState()
	l := &State{in: in}
	var out io.Writer
	if opts != nil {
		if opts.MaxCallDepth > 0 {
			in.MaxCallDepth = opts.MaxCallDepth
		}
		out = opts.Output
	}
	baselib.OpenBase(in, &baselib.BaseOptions{
		Output: out,
		LoadBinary: func(ctx context.Context, s *interp.State, data string) (value.Value, error) {
			f, err := l.loadBinary(data)
			if err != nil {
				return nil, err
			}
			return f.closure, nil
		},
	})
	return l
}

// Interp exposes the underlying evaluation core, for embedders that
// register their own host functions.
func (l *State) Interp() *interp.State { return l.in }

// Close tears down the interpreter, closing live coroutines and
// waiting for their goroutines to exit.
func (l *State) Close() error {
	return l.in.Close(context.Background())
}

// Function is a loaded chunk: a zero-argument variadic closure plus
// the source text it came from, which Dump serializes.
type Function struct {
	closure *interp.Closure
	name    string
	source  string
}

// Name returns the chunk name the function was loaded under.
func (f *Function) Name() string { return f.name }

// Value returns the function as a Lua value, e.g. to store in a
// table or pass to Lua code.
func (f *Function) Value() Value { return f.closure }

// LoadString loads a chunk from source text or a binary chunk.
// mode is "b", "t", or "bt" (§6): "t" rejects chunks whose first byte
// is 0x1B, "b" rejects anything else. env supplies a custom _ENV
// table for the chunk; nil inherits the standard globals.
func (l *State) LoadString(chunk, name, mode string, env *value.Table) (*Function, error) {
	if mode == "" {
		mode = "bt"
	}
	if len(chunk) > 0 && chunk[0] == 0x1B {
		if !strings.Contains(mode, "b") {
			return nil, fmt.Errorf("load %s: attempt to load a binary chunk (mode is '%s')", name, mode)
		}
		return l.loadBinary(chunk)
	}
	if !strings.Contains(mode, "t") {
		return nil, fmt.Errorf("load %s: attempt to load a text chunk (mode is '%s')", name, mode)
	}
	parsed, err := parser.Parse(name, strings.NewReader(chunk))
	if err != nil {
		return nil, err
	}
	return &Function{
		closure: l.in.LoadChunk(parsed, name, env),
		name:    name,
		source:  chunk,
	}, nil
}

// Run calls a loaded chunk with the given arguments and returns its
// results.
func (l *State) Run(ctx context.Context, f *Function, args ...Value) ([]Value, error) {
	r, err := l.in.Call(ctx, ast.Span{}, f.closure, value.Multi(args))
	return []Value(r), err
}

// DoString loads and runs source in one step.
func (l *State) DoString(ctx context.Context, chunk, name string) ([]Value, error) {
	f, err := l.LoadString(chunk, name, "t", nil)
	if err != nil {
		return nil, err
	}
	return l.Run(ctx, f)
}

// ErrorTrace formats err the way the embedding CLI reports an
// uncaught error (§7): message first, then the synthesized stack
// trace.
func (l *State) ErrorTrace(err error) string {
	return l.in.StackTraceString(err)
}
