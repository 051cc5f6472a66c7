// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp

import "treewalk.zombiezen.dev/lua/internal/value"

// Box is a heap cell holding one local variable's current value plus
// the const/close attributes recorded on it at declaration (§3,
// GLOSSARY "Box"). Boxes are shared by pointer: an [Upvalue] and every
// Scope.lookup that finds the same binding observe one another's
// writes, which is how closures over mutable locals work (§8's
// closure-capture invariant).
type Box struct {
	Value   value.Value
	Name    string
	IsConst bool
}

// Upvalue is a named reference from a closure to a Box in an
// enclosing function's scope, captured at closure-creation time by
// upvalue analysis (§4.2) so that a call never needs to re-walk a
// lexical environment that may have already been torn down.
type Upvalue struct {
	Name string
	Box  *Box
}

// Scope is one node of the Environment tree (§3): an ordered
// name-to-Box mapping, linked to its parent. A closure's call-time
// scope chain is rooted with parent nil — free names that aren't
// locals of the call are resolved through the closure's upvalue list
// instead of walking past the call boundary into the definition-site
// lexical environment (§4.3's "filtered" parent).
type Scope struct {
	parent         *Scope
	vars           map[string]*Box
	order          []*Box // declaration order, for toBeClosed unwind
	isLoadIsolated bool
	toBeClosed     []*Box
}

// NewScope creates a child scope of parent. Pass nil for parent to
// start a fresh call-time root (the boundary described above).
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, vars: make(map[string]*Box)}
}

// IsLoadIsolated reports whether this scope, or any ancestor, was
// created for a chunk loaded with a custom _ENV (§3).
func (s *Scope) IsLoadIsolated() bool {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.isLoadIsolated {
			return true
		}
	}
	return false
}

// MarkLoadIsolated flags s (normally the root scope of a loaded
// chunk) as load-isolated; the flag is inherited by every descendant
// via IsLoadIsolated's walk.
func (s *Scope) MarkLoadIsolated() { s.isLoadIsolated = true }

// Declare creates a new Box for name in this scope and returns it,
// shadowing any outer binding of the same name. attrib close
// additionally appends the Box to the scope's to-be-closed list in
// declaration order (§3, §4.5).
func (s *Scope) Declare(name string, v value.Value, isConst, isClose bool) *Box {
	b := &Box{Value: v, Name: name, IsConst: isConst}
	s.vars[name] = b
	s.order = append(s.order, b)
	if isClose {
		s.toBeClosed = append(s.toBeClosed, b)
	}
	return b
}

// Lookup walks the scope chain from s upward for a local binding of
// name, per §4.2 step 1.
func (s *Scope) Lookup(name string) (*Box, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if b, ok := sc.vars[name]; ok {
			return b, true
		}
	}
	return nil, false
}

// ToBeClosed returns this scope's to-be-closed bindings in reverse
// declaration order, the order §4.5 requires __close to run in.
func (s *Scope) ToBeClosed() []*Box {
	if len(s.toBeClosed) == 0 {
		return nil
	}
	out := make([]*Box, len(s.toBeClosed))
	for i, b := range s.toBeClosed {
		out[len(s.toBeClosed)-1-i] = b
	}
	return out
}
