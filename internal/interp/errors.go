// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp

import (
	"fmt"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/value"
)

// traceLimit is the number of most-recent frames kept in an
// EvalError's synthesized stack trace (§4.5, §7: "~20 frames from a
// bounded circular trace buffer").
const traceLimit = 20

// TraceFrame is one entry of an EvalError's stack trace.
type TraceFrame struct {
	Name string
	Span ast.Span
}

func (f TraceFrame) String() string {
	return fmt.Sprintf("%s: in function '%s'", f.Span, f.Name)
}

// EvalError is the opaque error carrier every Lua-level runtime error
// is reported as (§7): a Value payload, a source position, and a
// bounded stack trace. It is generation-guarded the way the teacher's
// cgo-facing internal/lua/errors.go guards *errorObject against
// cross-State confusion: an EvalError produced by one *State's call is
// never mistaken for one produced by another, even after both States'
// memory is reused.
type EvalError struct {
	state      *State
	generation uint64
	Payload    value.Value
	Pos        ast.Span
	Trace      []TraceFrame
}

func (e *EvalError) Error() string {
	return value.ToString(e.Payload)
}

// sameState reports whether err is an *EvalError produced by s's
// current generation, i.e. safe to unwrap without risk of aliasing an
// error object from a stale or foreign interpreter.
func (s *State) sameState(err error) (*EvalError, bool) {
	ee, ok := err.(*EvalError)
	if !ok || ee.state != s || ee.generation != s.generation {
		return nil, false
	}
	return ee, true
}

// newError builds an *EvalError carrying payload, positioned at pos,
// with a trace snapshotted from the current call stack.
func (s *State) newError(payload value.Value, pos ast.Span) *EvalError {
	return &EvalError{
		state:      s,
		generation: s.generation,
		Payload:    payload,
		Pos:        pos,
		Trace:      s.snapshotTrace(),
	}
}

// errorf is a convenience for newError with a formatted string
// payload, the common case for internally raised type/arithmetic
// errors (§7's Runtime type error / Arithmetic error / Table index
// error / Const violation / Stack overflow / Goto-label error kinds).
// The position is baked into the payload string itself, so a pcall
// that catches the error observes "file:line: message" the way
// reference Lua reports runtime errors.
func (s *State) errorf(pos ast.Span, format string, args ...any) *EvalError {
	msg := fmt.Sprintf(format, args...)
	if prefix := positionPrefix(pos); prefix != "" {
		msg = prefix + ": " + msg
	}
	return s.newError(value.String(msg), pos)
}

// positionPrefix renders pos as the "file:line" prefix Lua error
// messages carry; column information stays in the Span for traces.
func positionPrefix(pos ast.Span) string {
	if !pos.Start.IsValid() {
		return ""
	}
	if pos.Source == "" {
		return fmt.Sprintf("?:%d", pos.Start.Line)
	}
	return fmt.Sprintf("%s:%d", pos.Source, pos.Start.Line)
}

// Where returns the "file:line" position of the level-th frame from
// the top of the call stack (level 1 is the immediate caller), or ""
// when the level is out of range or carries no position. It mirrors
// luaL_where and feeds error()'s message rewriting (§4.5).
func (s *State) Where(level int) string {
	idx := len(s.callStack) - level
	if level <= 0 || idx < 0 || idx >= len(s.callStack) {
		return ""
	}
	return positionPrefix(s.callStack[idx].Span)
}

// NewUserError builds the error raised by the error() builtin: any
// payload passes through untouched, except that a string payload with
// level > 0 is rewritten to carry the "file:line: " prefix of the
// level-th caller (§4.5; level 0 suppresses rewriting).
func (s *State) NewUserError(payload value.Value, level int) *EvalError {
	if str, ok := payload.(value.String); ok && level > 0 {
		if w := s.Where(level); w != "" {
			payload = value.String(w + ": " + string(str))
		}
	}
	return s.newError(payload, ast.Span{})
}

// ErrorValue converts err into the Lua value a protected boundary
// reports (§4.5): an *EvalError's own payload if it came from this
// State, or a string of err.Error() for Go-level plumbing errors.
func (s *State) ErrorValue(err error) value.Value {
	return s.errorToValue(err)
}

// errorToValue converts any error into the Lua value it should be
// reported as: an *EvalError's own payload if it came from this same
// State and generation, or a plain string of err.Error() otherwise
// (e.g. a Go-level plumbing error from the module loader).
func (s *State) errorToValue(err error) value.Value {
	if err == nil {
		return nil
	}
	if ee, ok := s.sameState(err); ok {
		return ee.Payload
	}
	return value.String(err.Error())
}

func (s *State) snapshotTrace() []TraceFrame {
	n := len(s.callStack)
	start := 0
	if n > traceLimit {
		start = n - traceLimit
	}
	trace := make([]TraceFrame, 0, n-start)
	for i := n - 1; i >= start; i-- {
		fr := s.callStack[i]
		trace = append(trace, TraceFrame{Name: fr.Name, Span: fr.Span})
	}
	return trace
}
