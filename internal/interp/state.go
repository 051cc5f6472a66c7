// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package interp implements the Lua 5.4 evaluation core: the
// Environment/Box/Upvalue scope system, the metamethod-dispatching
// operator protocol, the AST-visitor Evaluator (calls, tail calls,
// control flow, to-be-closed variables), and the coroutine scheduler.
// It is the tree-walking analogue of 256lights-zb's internal/mylua,
// generalized from a register VM to an AST visitor per spec.md §9.
package interp

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/value"
)

// DefaultMaxCallDepth is the call-depth limit enforced on non-tail
// calls (§5's "maximum call depth (default 128)"). spec.md §9 flags
// the reference's fixed 128 cap as lower than stock Lua and asks
// implementers to make it configurable; State.MaxCallDepth does so.
const DefaultMaxCallDepth = 128

var nextGeneration atomic.Uint64

// Frame is one entry of the call stack (§2 component 4,
// CallStack/EvalStack): the running closure's display name and
// current source position, used for stack-overflow accounting and
// for EvalError's synthesized trace. The tree-walking evaluator has
// no separate EvalStack of intermediate results — Go's own call stack
// plays that role directly, per spec.md §9's guidance to replace
// exception-based control flow with ordinary typed returns rather
// than inventing a parallel operand stack.
type Frame struct {
	Name   string
	Span   ast.Span
	IsTail bool
}

// Loader is the thin interface the core consumes from the (out of
// scope) module resolver, per §6 "Module loader". The core only
// relies on the existence of a search-and-read function; baselib does
// not implement `require` itself (that is stdlib surface, excluded by
// spec.md's non-goals), but State carries the hook so an embedder's
// stdlib package can wire one in.
type Loader interface {
	ResolveModule(ctx context.Context, name string) (source string, loaded value.Value, err error)
	RegisterLoaded(name string, v value.Value)
}

// State is the interpreter instance: the evaluator's global table,
// call stack, current coroutine, and the handful of cross-cutting
// knobs (max call depth, logging context, module loader) described in
// §2 and §5. There is exactly one State per running program; exactly
// one of its coroutines is ever "running" at a time (§5).
type State struct {
	Globals      *value.Table
	MaxCallDepth int
	Loader       Loader

	generation uint64
	callStack  []*Frame

	main    *Coroutine
	current *Coroutine

	// group supervises the goroutine backing every non-main coroutine
	// ever started on this State, so Close can wait for clean
	// teardown instead of leaking them.
	group      errgroup.Group
	coroutines []*Coroutine

	globalsBox      *Box
	stringMetatable *value.Table

	// internPool shares interned literal strings across every
	// coroutine of this State (§5: "global across coroutines of a
	// single interpreter, read-only after insertion").
	internPool map[string]value.String
}

// NewState returns a new interpreter with an empty global table and
// the default call-depth limit. The returned State's main coroutine
// is immediately "running".
func NewState() *State {
	s := &State{
		Globals:      value.NewTable(0),
		MaxCallDepth: DefaultMaxCallDepth,
		generation:   nextGeneration.Add(1),
		internPool:   make(map[string]value.String),
	}
	s.globalsBox = &Box{Value: s.Globals, Name: "_ENV"}
	s.main = &Coroutine{
		id:     uuid.New(),
		status: CoroutineRunning,
		isMain: true,
	}
	s.current = s.main
	return s
}

// Intern returns the canonical value.String for s, so that two string
// literals with identical raw bytes from chunks loaded by this State
// compare equal by identity where that matters for display purposes
// (§3: "literal strings from the same chunk share identity via an
// intern pool keyed on raw bytes"). Go string values already compare
// by content, so this mostly exists to bound memory for repeated
// literals the way the corpus's own value model calls out explicitly.
func (s *State) Intern(raw string) value.String {
	if v, ok := s.internPool[raw]; ok {
		return v
	}
	v := value.String(raw)
	s.internPool[raw] = v
	return v
}

// Main returns the State's distinguished main coroutine.
func (s *State) Main() *Coroutine { return s.main }

// Current returns the coroutine currently running on this State.
func (s *State) Current() *Coroutine { return s.current }

func (s *State) pushFrame(fr *Frame) error {
	if len(s.callStack) >= s.MaxCallDepth {
		return s.errorf(fr.Span, "stack overflow")
	}
	s.callStack = append(s.callStack, fr)
	return nil
}

func (s *State) popFrame() {
	s.callStack = s.callStack[:len(s.callStack)-1]
}

func (s *State) frame() *Frame {
	if len(s.callStack) == 0 {
		return nil
	}
	return s.callStack[len(s.callStack)-1]
}

// StackTraceString renders err's trace (if it carries one from this
// State) the way the embedding CLI formats an uncaught error (§7):
// "<file>:<line>: <msg>" followed by one "in function" line per frame.
func (s *State) StackTraceString(err error) string {
	ee, ok := s.sameState(err)
	if !ok {
		return err.Error()
	}
	out := ee.Error()
	for _, f := range ee.Trace {
		out += "\n\t" + f.String()
	}
	return out
}
