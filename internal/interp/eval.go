// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp

import (
	"context"
	"fmt"
	"slices"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/value"
	"treewalk.zombiezen.dev/lua/sets"
)

// signalKind discriminates the control-flow results a statement can
// produce. Per spec.md §9, break/return/goto/tail-call travel as
// ordinary typed returns from statement evaluation; the error path is
// reserved for actual errors.
type signalKind int

const (
	sigNone signalKind = iota
	sigBreak
	sigReturn
	sigGoto
)

// signal is a statement's control-flow result. The zero value means
// fall-through to the next statement.
type signal struct {
	kind   signalKind
	values value.Multi // sigReturn
	label  string      // sigGoto
	span   ast.Span

	// tail is set on a sigReturn produced by `return f(...)`: the call
	// has not been made, and callee/tailArgs are handed to the
	// enclosing call loop so it can reuse the current frame (§4.3).
	tail     bool
	callee   value.Value
	tailArgs value.Multi
}

var noSignal = signal{}

// env is the evaluation context threaded through every statement and
// expression: the current scope, the enclosing closure (for upvalue
// resolution), and the current function's varargs.
type env struct {
	scope   *Scope
	closure *Closure
	varargs value.Multi
}

// LoadChunk wraps a parsed chunk as a zero-argument variadic closure
// (GLOSSARY "Chunk"). envTable supplies a custom _ENV for the chunk;
// passing nil (or the State's own globals) inherits the standard
// environment. A custom _ENV marks the chunk load-isolated, and the
// flag follows into every closure and coroutine created inside it.
func (s *State) LoadChunk(chunk *ast.Chunk, name string, envTable *value.Table) *Closure {
	body := &ast.FunctionBody{
		SourceSpan: chunk.SourceSpan,
		IsVariadic: true,
		Body:       chunk.Body,
		Name:       name,
	}
	envBox := s.globalsBox
	isolated := false
	if envTable != nil && envTable != s.Globals {
		envBox = &Box{Value: envTable, Name: "_ENV"}
		isolated = true
	}
	return &Closure{
		id:       nextFunctionID.Add(1),
		Body:     body,
		Upvalues: []*Upvalue{{Name: "_ENV", Box: envBox}},
		Source:   chunk.SourceSpan.Source,
		isolated: isolated,
	}
}

func (s *State) callClosure(ctx context.Context, span ast.Span, f *Closure, args value.Multi) (value.Multi, error) {
	fr := &Frame{Name: f.Name(), Span: span}
	if err := s.pushFrame(fr); err != nil {
		return nil, err
	}
	defer s.popFrame()

invoke:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scope := NewScope(nil)
		if f.isolated {
			scope.MarkLoadIsolated()
		}
		for i, p := range f.Body.Params {
			scope.Declare(p, args.At(i), false, false)
		}
		var varargs value.Multi
		if f.Body.IsVariadic && len(args) > len(f.Body.Params) {
			varargs = slices.Clone(args[len(f.Body.Params):])
		}
		e := &env{scope: scope, closure: f, varargs: varargs}
		sig, err := s.execBlock(ctx, e, f.Body.Body)
		if err != nil {
			return nil, err
		}
		switch sig.kind {
		case sigNone:
			return nil, nil
		case sigBreak:
			return nil, s.errorf(sig.span, "break outside a loop")
		case sigGoto:
			return nil, s.errorf(sig.span, "no visible label '%s' for goto", sig.label)
		}
		if !sig.tail {
			return sig.values, nil
		}

		// Tail call: rebind the current frame instead of pushing a new
		// one (§4.3), and flatten __call chains so callable-table hops
		// cannot grow the stack either (§4.1).
		callee, targs := sig.callee, sig.tailArgs
		for depth := 0; ; depth++ {
			if depth > maxIndexChainDepth {
				return nil, s.errorf(sig.span, "'__call' chain too long; possible loop")
			}
			switch c := callee.(type) {
			case *Closure:
				f, args = c, targs
				fr.Name, fr.Span, fr.IsTail = f.Name(), sig.span, true
				continue invoke
			case *GoFunction:
				fr.Name, fr.Span, fr.IsTail = c.Name, sig.span, true
				r, err := c.Fn(ctx, s, targs)
				if err != nil {
					return nil, s.wrapGoError(sig.span, err)
				}
				return r, nil
			default:
				mm := s.metamethod(callee, metaCall)
				if mm == nil {
					return nil, s.errorf(sig.span, "attempt to call a %s value", value.TypeOf(callee))
				}
				newArgs := make(value.Multi, 0, len(targs)+1)
				newArgs = append(newArgs, callee)
				newArgs = append(newArgs, targs...)
				callee, targs = mm, newArgs
			}
		}
	}
}

// execBlock runs b in a fresh child scope and closes the scope's
// to-be-closed variables on every exit path.
func (s *State) execBlock(ctx context.Context, e *env, b *ast.Block) (signal, error) {
	scope := NewScope(e.scope)
	sub := &env{scope: scope, closure: e.closure, varargs: e.varargs}
	sig, err := s.execStmts(ctx, sub, b.Stmts)
	err = s.closeScope(ctx, b.SourceSpan, scope, err)
	if err != nil {
		return noSignal, err
	}
	return sig, nil
}

// execStmts runs stmts in e's scope, resolving goto targets against a
// label map built by scanning the list once before execution (§4.4).
// A goto whose label is not in this list propagates to the enclosing
// statement list.
func (s *State) execStmts(ctx context.Context, e *env, stmts []ast.Stmt) (signal, error) {
	var labels map[string]int
	for i, st := range stmts {
		if l, ok := st.(*ast.LabelStmt); ok {
			if labels == nil {
				labels = make(map[string]int)
			}
			labels[l.Name] = i
		}
	}
	for i := 0; i < len(stmts); i++ {
		sig, err := s.execStmt(ctx, e, stmts[i])
		if err != nil {
			return noSignal, err
		}
		if sig.kind == sigGoto {
			if target, ok := labels[sig.label]; ok {
				i = target
				continue
			}
		}
		if sig.kind != sigNone {
			return sig, nil
		}
	}
	return noSignal, nil
}

func (s *State) execStmt(ctx context.Context, e *env, st ast.Stmt) (signal, error) {
	switch st := st.(type) {
	case *ast.LocalStmt:
		return noSignal, s.execLocal(ctx, e, st)
	case *ast.AssignStmt:
		return noSignal, s.execAssign(ctx, e, st)
	case *ast.ExprStmt:
		_, err := s.evalMulti(ctx, e, st.Call)
		return noSignal, err
	case *ast.DoStmt:
		return s.execBlock(ctx, e, st.Body)
	case *ast.WhileStmt:
		return s.execWhile(ctx, e, st)
	case *ast.RepeatStmt:
		return s.execRepeat(ctx, e, st)
	case *ast.IfStmt:
		for _, clause := range st.Clauses {
			cond, err := s.evalExpr(ctx, e, clause.Cond)
			if err != nil {
				return noSignal, err
			}
			if value.Truthy(cond) {
				return s.execBlock(ctx, e, clause.Body)
			}
		}
		if st.Else != nil {
			return s.execBlock(ctx, e, st.Else)
		}
		return noSignal, nil
	case *ast.NumericForStmt:
		return s.execNumericFor(ctx, e, st)
	case *ast.GenericForStmt:
		return s.execGenericFor(ctx, e, st)
	case *ast.FunctionStmt:
		return noSignal, s.execFunctionStmt(ctx, e, st)
	case *ast.LocalFunctionStmt:
		// The box is declared before the closure is built so the
		// function can capture itself for recursion.
		b := e.scope.Declare(st.Name, nil, false, false)
		b.Value = s.makeClosure(e, st.Body)
		return noSignal, nil
	case *ast.ReturnStmt:
		return s.execReturn(ctx, e, st)
	case *ast.BreakStmt:
		return signal{kind: sigBreak, span: st.SourceSpan}, nil
	case *ast.GotoStmt:
		return signal{kind: sigGoto, label: st.Label, span: st.SourceSpan}, nil
	case *ast.LabelStmt:
		return noSignal, nil
	default:
		panic(fmt.Sprintf("unhandled statement type %T", st))
	}
}

func (s *State) execLocal(ctx context.Context, e *env, st *ast.LocalStmt) error {
	vals, err := s.evalExprList(ctx, e, st.Exprs, len(st.Names))
	if err != nil {
		return err
	}
	for i, name := range st.Names {
		attrib := ast.AttribNone
		if i < len(st.Attribs) {
			attrib = st.Attribs[i]
		}
		v := vals.At(i)
		if attrib == ast.AttribClose {
			if err := s.checkClosable(st.SourceSpan, name, v); err != nil {
				return err
			}
		}
		e.scope.Declare(name, v, attrib == ast.AttribConst, attrib == ast.AttribClose)
	}
	return nil
}

// checkClosable validates a value bound with the close attribute:
// nil, false, or anything carrying a __close metamethod (§4.2).
func (s *State) checkClosable(span ast.Span, name string, v value.Value) error {
	if v == nil {
		return nil
	}
	if b, ok := v.(value.Boolean); ok && !bool(b) {
		return nil
	}
	if s.metamethod(v, metaClose) == nil {
		return s.errorf(span, "variable '%s' got a non-closable value", name)
	}
	return nil
}

func (s *State) execAssign(ctx context.Context, e *env, st *ast.AssignStmt) error {
	vals, err := s.evalExprList(ctx, e, st.Exprs, len(st.Targets))
	if err != nil {
		return err
	}
	for i, target := range st.Targets {
		v := vals.At(i)
		switch t := target.(type) {
		case *ast.Identifier:
			if err := s.assignName(ctx, e, t, v); err != nil {
				return err
			}
		case *ast.IndexExpr:
			obj, err := s.evalExpr(ctx, e, t.Object)
			if err != nil {
				return err
			}
			key, err := s.evalExpr(ctx, e, t.Key)
			if err != nil {
				return err
			}
			if err := s.NewIndex(ctx, t.SourceSpan, obj, key, v); err != nil {
				return err
			}
		case *ast.FieldExpr:
			obj, err := s.evalExpr(ctx, e, t.Object)
			if err != nil {
				return err
			}
			if err := s.NewIndex(ctx, t.SourceSpan, obj, s.Intern(t.Name), v); err != nil {
				return err
			}
		default:
			return s.errorf(target.Span(), "cannot assign to this expression")
		}
	}
	return nil
}

// assignName implements §4.2's assignment routing: local box, then
// upvalue, then _ENV[<name>] through the newindex protocol.
func (s *State) assignName(ctx context.Context, e *env, id *ast.Identifier, v value.Value) error {
	if b, ok := e.scope.Lookup(id.Name); ok {
		if b.IsConst {
			return s.errorf(id.SourceSpan, "attempt to assign to const variable '%s'", id.Name)
		}
		b.Value = v
		return nil
	}
	if e.closure != nil {
		if uv, ok := e.closure.upvalue(id.Name); ok {
			if uv.Box.IsConst {
				return s.errorf(id.SourceSpan, "attempt to assign to const variable '%s'", id.Name)
			}
			uv.Box.Value = v
			return nil
		}
	}
	return s.NewIndex(ctx, id.SourceSpan, s.currentEnv(e), s.Intern(id.Name), v)
}

// currentEnv resolves the _ENV in effect at e by direct scope walk
// then upvalue lookup; _ENV never routes through itself (§4.2).
func (s *State) currentEnv(e *env) value.Value {
	if b, ok := e.scope.Lookup("_ENV"); ok {
		return b.Value
	}
	if e.closure != nil {
		if uv := e.closure.envUpvalue(); uv != nil {
			return uv.Box.Value
		}
	}
	return s.Globals
}

func (s *State) execWhile(ctx context.Context, e *env, st *ast.WhileStmt) (signal, error) {
	for {
		if err := ctx.Err(); err != nil {
			return noSignal, err
		}
		cond, err := s.evalExpr(ctx, e, st.Cond)
		if err != nil {
			return noSignal, err
		}
		if !value.Truthy(cond) {
			return noSignal, nil
		}
		sig, err := s.execBlock(ctx, e, st.Body)
		if err != nil {
			return noSignal, err
		}
		switch sig.kind {
		case sigBreak:
			return noSignal, nil
		case sigReturn, sigGoto:
			return sig, nil
		}
	}
}

func (s *State) execRepeat(ctx context.Context, e *env, st *ast.RepeatStmt) (signal, error) {
	for {
		if err := ctx.Err(); err != nil {
			return noSignal, err
		}
		// The until condition is evaluated inside the body's scope, so
		// the block is not closed until after the test.
		scope := NewScope(e.scope)
		sub := &env{scope: scope, closure: e.closure, varargs: e.varargs}
		sig, err := s.execStmts(ctx, sub, st.Body.Stmts)
		if err != nil {
			return noSignal, s.closeScope(ctx, st.SourceSpan, scope, err)
		}
		switch sig.kind {
		case sigBreak:
			return noSignal, s.closeScope(ctx, st.SourceSpan, scope, nil)
		case sigReturn, sigGoto:
			if cerr := s.closeScope(ctx, st.SourceSpan, scope, nil); cerr != nil {
				return noSignal, cerr
			}
			return sig, nil
		}
		cond, err := s.evalExpr(ctx, sub, st.Cond)
		if cerr := s.closeScope(ctx, st.SourceSpan, scope, err); cerr != nil {
			return noSignal, cerr
		}
		if value.Truthy(cond) {
			return noSignal, nil
		}
	}
}

func (s *State) execNumericFor(ctx context.Context, e *env, st *ast.NumericForStmt) (signal, error) {
	startV, err := s.evalExpr(ctx, e, st.Start)
	if err != nil {
		return noSignal, err
	}
	stopV, err := s.evalExpr(ctx, e, st.Stop)
	if err != nil {
		return noSignal, err
	}
	stepV := value.Value(value.Integer(1))
	if st.Step != nil {
		stepV, err = s.evalExpr(ctx, e, st.Step)
		if err != nil {
			return noSignal, err
		}
	}
	// Loop bounds must already be numbers; no string coercion here.
	for _, check := range []struct {
		v    value.Value
		what string
	}{{startV, "initial value"}, {stopV, "limit"}, {stepV, "step"}} {
		switch check.v.(type) {
		case value.Integer, value.Float:
		default:
			return noSignal, s.errorf(st.SourceSpan, "'for' %s must be a number", check.what)
		}
	}

	_, startInt := startV.(value.Integer)
	_, stopInt := stopV.(value.Integer)
	_, stepInt := stepV.(value.Integer)
	if startInt && stopInt && stepInt {
		start := int64(startV.(value.Integer))
		stop := int64(stopV.(value.Integer))
		step := int64(stepV.(value.Integer))
		if step == 0 {
			return noSignal, s.errorf(st.SourceSpan, "'for' step is zero")
		}
		for i := start; ; {
			if step > 0 && i > stop || step < 0 && i < stop {
				return noSignal, nil
			}
			sig, done, err := s.runForBody(ctx, e, st.Body, []string{st.Name}, value.Multi{value.Integer(i)})
			if err != nil || done {
				return sig, err
			}
			// Overflow-checked increment terminates the loop instead
			// of wrapping past the limit (§4.4).
			next := i + step
			if step > 0 && next < i || step < 0 && next > i {
				return noSignal, nil
			}
			i = next
		}
	}

	start, _ := value.ToFloat64(startV)
	stop, _ := value.ToFloat64(stopV)
	step, _ := value.ToFloat64(stepV)
	if step == 0 {
		return noSignal, s.errorf(st.SourceSpan, "'for' step is zero")
	}
	for f := start; step > 0 && f <= stop || step < 0 && f >= stop; f += step {
		sig, done, err := s.runForBody(ctx, e, st.Body, []string{st.Name}, value.Multi{value.Float(f)})
		if err != nil || done {
			return sig, err
		}
	}
	return noSignal, nil
}

// runForBody executes one loop iteration with fresh bindings for the
// loop variables, so closures created in the body capture a distinct
// variable per iteration (§4.4). done reports that the loop should
// stop, either because of a break (sig is empty) or because sig must
// propagate further out.
func (s *State) runForBody(ctx context.Context, e *env, body *ast.Block, names []string, vals value.Multi) (sig signal, done bool, err error) {
	if err := ctx.Err(); err != nil {
		return noSignal, true, err
	}
	scope := NewScope(e.scope)
	for i, n := range names {
		scope.Declare(n, vals.At(i), false, false)
	}
	sub := &env{scope: scope, closure: e.closure, varargs: e.varargs}
	sig, err = s.execBlock(ctx, sub, body)
	if err != nil {
		return noSignal, true, err
	}
	switch sig.kind {
	case sigBreak:
		return noSignal, true, nil
	case sigReturn, sigGoto:
		return sig, true, nil
	}
	return noSignal, false, nil
}

func (s *State) execGenericFor(ctx context.Context, e *env, st *ast.GenericForStmt) (signal, error) {
	// Exactly four values: iterator, state, control, closing (§4.4).
	vals, err := s.evalExprList(ctx, e, st.Exprs, 4)
	if err != nil {
		return noSignal, err
	}
	iter, state, control, closing := vals.At(0), vals.At(1), vals.At(2), vals.At(3)
	if err := s.checkClosable(st.SourceSpan, "(for state)", closing); err != nil {
		return noSignal, err
	}
	sig, err := s.runGenericFor(ctx, e, st, iter, state, control)
	// The closing value is closed on every exit path from the loop.
	err = s.closeValue(ctx, st.SourceSpan, closing, err)
	if err != nil {
		return noSignal, err
	}
	return sig, nil
}

func (s *State) runGenericFor(ctx context.Context, e *env, st *ast.GenericForStmt, iter, state, control value.Value) (signal, error) {
	for {
		rets, err := s.Call(ctx, st.SourceSpan, iter, value.Multi{state, control})
		if err != nil {
			return noSignal, err
		}
		first := rets.First()
		if first == nil {
			return noSignal, nil
		}
		control = first
		vals := make(value.Multi, len(st.Names))
		for i := range st.Names {
			vals[i] = rets.At(i)
		}
		sig, done, err := s.runForBody(ctx, e, st.Body, st.Names, vals)
		if err != nil || done {
			return sig, err
		}
	}
}

func (s *State) execFunctionStmt(ctx context.Context, e *env, st *ast.FunctionStmt) error {
	cl := s.makeClosure(e, st.Body)
	if len(st.Target) == 1 {
		return s.assignName(ctx, e, &ast.Identifier{SourceSpan: st.SourceSpan, Name: st.Target[0]}, cl)
	}
	obj, err := s.evalIdentifier(ctx, e, &ast.Identifier{SourceSpan: st.SourceSpan, Name: st.Target[0]})
	if err != nil {
		return err
	}
	for _, part := range st.Target[1 : len(st.Target)-1] {
		obj, err = s.Index(ctx, st.SourceSpan, obj, s.Intern(part))
		if err != nil {
			return err
		}
	}
	return s.NewIndex(ctx, st.SourceSpan, obj, s.Intern(st.Target[len(st.Target)-1]), cl)
}

func (s *State) execReturn(ctx context.Context, e *env, st *ast.ReturnStmt) (signal, error) {
	// A return whose sole expression is a call is a tail call: the
	// callee and arguments are evaluated here, but the call itself is
	// deferred to the enclosing call loop so the current frame can be
	// reused (§4.3). Enclosing scopes run their to-be-closed handlers
	// while the signal propagates out, before the callee runs.
	if len(st.Exprs) == 1 {
		switch call := st.Exprs[0].(type) {
		case *ast.CallExpr:
			callee, err := s.evalExpr(ctx, e, call.Callee)
			if err != nil {
				return noSignal, err
			}
			args, err := s.evalExprList(ctx, e, call.Args, -1)
			if err != nil {
				return noSignal, err
			}
			return signal{kind: sigReturn, tail: true, callee: callee, tailArgs: args, span: call.SourceSpan}, nil
		case *ast.MethodCallExpr:
			obj, err := s.evalExpr(ctx, e, call.Object)
			if err != nil {
				return noSignal, err
			}
			m, err := s.Index(ctx, call.SourceSpan, obj, s.Intern(call.Method))
			if err != nil {
				return noSignal, err
			}
			args, err := s.evalExprList(ctx, e, call.Args, -1)
			if err != nil {
				return noSignal, err
			}
			full := make(value.Multi, 0, len(args)+1)
			full = append(full, obj)
			full = append(full, args...)
			return signal{kind: sigReturn, tail: true, callee: m, tailArgs: full, span: call.SourceSpan}, nil
		}
	}
	vals, err := s.evalExprList(ctx, e, st.Exprs, -1)
	if err != nil {
		return noSignal, err
	}
	return signal{kind: sigReturn, values: vals, span: st.SourceSpan}, nil
}

// closeScope runs the scope's to-be-closed handlers in reverse
// declaration order (§4.5). inFlight is the error unwinding through
// this scope, or nil on a normal exit; an error raised by a __close
// handler replaces it, and when several handlers raise, the first one
// prevails.
func (s *State) closeScope(ctx context.Context, span ast.Span, sc *Scope, inFlight error) error {
	tbc := sc.ToBeClosed()
	if len(tbc) == 0 {
		return inFlight
	}
	current := inFlight
	var closeErr error
	for _, b := range tbc {
		err := s.closeValue(ctx, span, b.Value, current)
		if err != current && closeErr == nil {
			closeErr = err
			current = err
		}
	}
	if closeErr != nil {
		return closeErr
	}
	return inFlight
}

// closeValue invokes v's __close with (v, errorOrNil) if v is
// closable and non-false. It returns inFlight unchanged unless the
// handler itself raised.
func (s *State) closeValue(ctx context.Context, span ast.Span, v value.Value, inFlight error) error {
	if v == nil {
		return inFlight
	}
	if b, ok := v.(value.Boolean); ok && !bool(b) {
		return inFlight
	}
	mm := s.metamethod(v, metaClose)
	if mm == nil {
		return inFlight
	}
	var errVal value.Value
	if inFlight != nil {
		errVal = s.errorToValue(inFlight)
	}
	if _, err := s.Call(ctx, span, mm, value.Multi{v, errVal}); err != nil {
		return err
	}
	return inFlight
}

// ---- Expressions ----

// evalExpr evaluates expr to a single value, collapsing any
// multi-valued result to its first value (§3's Multi rule).
func (s *State) evalExpr(ctx context.Context, e *env, expr ast.Expr) (value.Value, error) {
	switch x := expr.(type) {
	case *ast.NilExpr:
		return nil, nil
	case *ast.TrueExpr:
		return value.Boolean(true), nil
	case *ast.FalseExpr:
		return value.Boolean(false), nil
	case *ast.IntegerExpr:
		return value.Integer(x.Value), nil
	case *ast.FloatExpr:
		return value.Float(x.Value), nil
	case *ast.StringExpr:
		return s.Intern(x.Raw), nil
	case *ast.VarargExpr:
		return e.varargs.First(), nil
	case *ast.Identifier:
		return s.evalIdentifier(ctx, e, x)
	case *ast.GroupExpr:
		return s.evalExpr(ctx, e, x.Inner)
	case *ast.IndexExpr:
		obj, err := s.evalExpr(ctx, e, x.Object)
		if err != nil {
			return nil, err
		}
		key, err := s.evalExpr(ctx, e, x.Key)
		if err != nil {
			return nil, err
		}
		return s.Index(ctx, x.SourceSpan, obj, key)
	case *ast.FieldExpr:
		obj, err := s.evalExpr(ctx, e, x.Object)
		if err != nil {
			return nil, err
		}
		return s.Index(ctx, x.SourceSpan, obj, s.Intern(x.Name))
	case *ast.CallExpr, *ast.MethodCallExpr:
		m, err := s.evalMulti(ctx, e, expr)
		if err != nil {
			return nil, err
		}
		return m.First(), nil
	case *ast.FunctionExpr:
		return s.makeClosure(e, x.Body), nil
	case *ast.TableExpr:
		return s.evalTable(ctx, e, x)
	case *ast.BinaryExpr:
		return s.evalBinary(ctx, e, x)
	case *ast.UnaryExpr:
		return s.evalUnary(ctx, e, x)
	default:
		panic(fmt.Sprintf("unhandled expression type %T", expr))
	}
}

// evalMulti evaluates expr preserving multiple results for the three
// expansion-capable forms (calls, method calls, varargs); everything
// else yields exactly one value.
func (s *State) evalMulti(ctx context.Context, e *env, expr ast.Expr) (value.Multi, error) {
	switch x := expr.(type) {
	case *ast.VarargExpr:
		return slices.Clone(e.varargs), nil
	case *ast.CallExpr:
		callee, err := s.evalExpr(ctx, e, x.Callee)
		if err != nil {
			return nil, err
		}
		args, err := s.evalExprList(ctx, e, x.Args, -1)
		if err != nil {
			return nil, err
		}
		return s.Call(ctx, x.SourceSpan, callee, args)
	case *ast.MethodCallExpr:
		// The receiver is evaluated once (§4.3).
		obj, err := s.evalExpr(ctx, e, x.Object)
		if err != nil {
			return nil, err
		}
		m, err := s.Index(ctx, x.SourceSpan, obj, s.Intern(x.Method))
		if err != nil {
			return nil, err
		}
		args, err := s.evalExprList(ctx, e, x.Args, -1)
		if err != nil {
			return nil, err
		}
		full := make(value.Multi, 0, len(args)+1)
		full = append(full, obj)
		full = append(full, args...)
		return s.Call(ctx, x.SourceSpan, m, full)
	default:
		v, err := s.evalExpr(ctx, e, expr)
		if err != nil {
			return nil, err
		}
		return value.Multi{v}, nil
	}
}

// evalExprList evaluates an expression list with Lua's adjustment
// rules (§4.3): non-last expressions collapse to one value, the last
// spreads if multi-valued. want >= 0 pads with nils or truncates the
// result to exactly want values; want < 0 keeps the natural length.
func (s *State) evalExprList(ctx context.Context, e *env, exprs []ast.Expr, want int) (value.Multi, error) {
	var out value.Multi
	for i, ex := range exprs {
		if i == len(exprs)-1 {
			m, err := s.evalMulti(ctx, e, ex)
			if err != nil {
				return nil, err
			}
			out = append(out, m...)
		} else {
			v, err := s.evalExpr(ctx, e, ex)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	if want >= 0 {
		for len(out) < want {
			out = append(out, nil)
		}
		out = out[:want]
	}
	return out, nil
}

// evalIdentifier implements §4.2's name lookup: local scope walk,
// then the enclosing function's upvalues, then _ENV[<name>] through
// the indexing protocol. _ENV and _G bypass the last step.
func (s *State) evalIdentifier(ctx context.Context, e *env, id *ast.Identifier) (value.Value, error) {
	if b, ok := e.scope.Lookup(id.Name); ok {
		return b.Value, nil
	}
	if e.closure != nil {
		if uv, ok := e.closure.upvalue(id.Name); ok {
			return uv.Box.Value, nil
		}
	}
	envv := s.currentEnv(e)
	switch id.Name {
	case "_ENV":
		return envv, nil
	case "_G":
		if t, ok := envv.(*value.Table); ok {
			return t.Get(value.String("_G")), nil
		}
	}
	return s.Index(ctx, id.SourceSpan, envv, s.Intern(id.Name))
}

func (s *State) evalTable(ctx context.Context, e *env, x *ast.TableExpr) (value.Value, error) {
	t := value.NewTable(len(x.Fields))
	n := int64(0)
	for i, f := range x.Fields {
		if f.Key != nil {
			k, err := s.evalExpr(ctx, e, f.Key)
			if err != nil {
				return nil, err
			}
			v, err := s.evalExpr(ctx, e, f.Value)
			if err != nil {
				return nil, err
			}
			if err := t.Set(k, v); err != nil {
				return nil, s.errorf(x.SourceSpan, "%s", err)
			}
			continue
		}
		if i == len(x.Fields)-1 && isMultiExpr(f.Value) {
			m, err := s.evalMulti(ctx, e, f.Value)
			if err != nil {
				return nil, err
			}
			for _, v := range m {
				n++
				t.Set(value.Integer(n), v)
			}
			continue
		}
		v, err := s.evalExpr(ctx, e, f.Value)
		if err != nil {
			return nil, err
		}
		n++
		t.Set(value.Integer(n), v)
	}
	return t, nil
}

func isMultiExpr(ex ast.Expr) bool {
	switch ex.(type) {
	case *ast.CallExpr, *ast.MethodCallExpr, *ast.VarargExpr:
		return true
	default:
		return false
	}
}

var binaryArithOps = map[ast.BinaryOp]value.ArithOp{
	ast.OpAdd:        value.ArithAdd,
	ast.OpSub:        value.ArithSub,
	ast.OpMul:        value.ArithMul,
	ast.OpDiv:        value.ArithDiv,
	ast.OpIDiv:       value.ArithIDiv,
	ast.OpMod:        value.ArithMod,
	ast.OpPow:        value.ArithPow,
	ast.OpBitAnd:     value.ArithBAnd,
	ast.OpBitOr:      value.ArithBOr,
	ast.OpBitXor:     value.ArithBXor,
	ast.OpShiftLeft:  value.ArithShiftLeft,
	ast.OpShiftRight: value.ArithShiftRight,
}

func (s *State) evalBinary(ctx context.Context, e *env, x *ast.BinaryExpr) (value.Value, error) {
	switch x.Op {
	case ast.OpAnd:
		l, err := s.evalExpr(ctx, e, x.Left)
		if err != nil || !value.Truthy(l) {
			return l, err
		}
		return s.evalExpr(ctx, e, x.Right)
	case ast.OpOr:
		l, err := s.evalExpr(ctx, e, x.Left)
		if err != nil || value.Truthy(l) {
			return l, err
		}
		return s.evalExpr(ctx, e, x.Right)
	}
	l, err := s.evalExpr(ctx, e, x.Left)
	if err != nil {
		return nil, err
	}
	r, err := s.evalExpr(ctx, e, x.Right)
	if err != nil {
		return nil, err
	}
	span := x.SourceSpan
	switch x.Op {
	case ast.OpConcat:
		return s.Concat(ctx, span, l, r)
	case ast.OpEq:
		b, err := s.Equals(ctx, span, l, r)
		return value.Boolean(b), err
	case ast.OpNotEq:
		b, err := s.Equals(ctx, span, l, r)
		return value.Boolean(!b), err
	case ast.OpLess:
		b, err := s.LessThan(ctx, span, l, r)
		return value.Boolean(b), err
	case ast.OpLessEq:
		b, err := s.LessEqual(ctx, span, l, r)
		return value.Boolean(b), err
	case ast.OpGreater:
		// a > b is b < a with swapped operands (§4.1's fallback chain).
		b, err := s.LessThan(ctx, span, r, l)
		return value.Boolean(b), err
	case ast.OpGreaterEq:
		b, err := s.LessEqual(ctx, span, r, l)
		return value.Boolean(b), err
	default:
		op, ok := binaryArithOps[x.Op]
		if !ok {
			panic(fmt.Sprintf("unhandled binary operator %d", x.Op))
		}
		return s.Arith(ctx, span, op, l, r)
	}
}

func (s *State) evalUnary(ctx context.Context, e *env, x *ast.UnaryExpr) (value.Value, error) {
	v, err := s.evalExpr(ctx, e, x.Operand)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case ast.OpNot:
		return value.Boolean(!value.Truthy(v)), nil
	case ast.OpLen:
		return s.Len(ctx, x.SourceSpan, v)
	case ast.OpNeg:
		return s.Arith(ctx, x.SourceSpan, value.ArithUnaryMinus, v, nil)
	case ast.OpBitNot:
		return s.Arith(ctx, x.SourceSpan, value.ArithBNot, v, nil)
	default:
		panic(fmt.Sprintf("unhandled unary operator %d", x.Op))
	}
}

// ---- Closure construction ----

// makeClosure constructs a closure for body, running §4.2's upvalue
// analysis: every free name is resolved against the current scope
// chain and the enclosing function's own upvalues, and a synthetic
// _ENV upvalue is appended when any name falls through to global
// routing. Upvalues are ordered by name with _ENV last.
func (s *State) makeClosure(e *env, body *ast.FunctionBody) *Closure {
	var ups []*Upvalue
	needsEnv := false
	for _, name := range freeNames(body) {
		if name == "_ENV" {
			needsEnv = true
			continue
		}
		if b, ok := e.scope.Lookup(name); ok {
			ups = append(ups, &Upvalue{Name: name, Box: b})
			continue
		}
		if e.closure != nil {
			if uv, ok := e.closure.upvalue(name); ok && uv.Name != "_ENV" {
				ups = append(ups, &Upvalue{Name: name, Box: uv.Box})
				continue
			}
		}
		needsEnv = true
	}
	if needsEnv {
		envBox := s.globalsBox
		if b, ok := e.scope.Lookup("_ENV"); ok {
			envBox = b
		} else if e.closure != nil {
			if uv := e.closure.envUpvalue(); uv != nil {
				envBox = uv.Box
			}
		}
		ups = append(ups, &Upvalue{Name: "_ENV", Box: envBox})
	}
	return &Closure{
		id:       nextFunctionID.Add(1),
		Body:     body,
		Upvalues: ups,
		Source:   body.SourceSpan.Source,
		isolated: e.scope.IsLoadIsolated(),
	}
}

// freeNames collects, in sorted order, the names body references that
// are bound neither by its parameters nor by a local declaration in
// scope at the point of reference. Nested function literals are
// traversed too (their parameters and locals shadow), so a
// grandchild's capture forces every intermediate closure to carry the
// upvalue as well.
func freeNames(body *ast.FunctionBody) []string {
	sc := &freeScanner{free: sets.NewSorted[string]()}
	sc.fn(body)
	names := make([]string, 0, sc.free.Len())
	for _, name := range sc.free.All() {
		names = append(names, name)
	}
	return names
}

type freeScanner struct {
	bound []sets.Set[string]
	free  *sets.Sorted[string]
}

func (sc *freeScanner) push() { sc.bound = append(sc.bound, sets.New[string]()) }
func (sc *freeScanner) pop()  { sc.bound = sc.bound[:len(sc.bound)-1] }

func (sc *freeScanner) bind(name string) { sc.bound[len(sc.bound)-1].Add(name) }

func (sc *freeScanner) ref(name string) {
	for i := len(sc.bound) - 1; i >= 0; i-- {
		if sc.bound[i].Has(name) {
			return
		}
	}
	sc.free.Add(name)
}

func (sc *freeScanner) fn(body *ast.FunctionBody) {
	sc.push()
	for _, p := range body.Params {
		sc.bind(p)
	}
	sc.block(body.Body)
	sc.pop()
}

func (sc *freeScanner) block(b *ast.Block) {
	sc.push()
	sc.stmts(b.Stmts)
	sc.pop()
}

func (sc *freeScanner) stmts(stmts []ast.Stmt) {
	for _, st := range stmts {
		sc.stmt(st)
	}
}

func (sc *freeScanner) stmt(st ast.Stmt) {
	switch st := st.(type) {
	case *ast.LocalStmt:
		// `local x = x` reads the outer x: initializers are scanned
		// before the names bind.
		sc.exprs(st.Exprs)
		for _, n := range st.Names {
			sc.bind(n)
		}
	case *ast.AssignStmt:
		sc.exprs(st.Targets)
		sc.exprs(st.Exprs)
	case *ast.ExprStmt:
		sc.expr(st.Call)
	case *ast.DoStmt:
		sc.block(st.Body)
	case *ast.WhileStmt:
		sc.expr(st.Cond)
		sc.block(st.Body)
	case *ast.RepeatStmt:
		// The until condition sees the body's locals.
		sc.push()
		sc.stmts(st.Body.Stmts)
		sc.expr(st.Cond)
		sc.pop()
	case *ast.IfStmt:
		for _, c := range st.Clauses {
			sc.expr(c.Cond)
			sc.block(c.Body)
		}
		if st.Else != nil {
			sc.block(st.Else)
		}
	case *ast.NumericForStmt:
		sc.expr(st.Start)
		sc.expr(st.Stop)
		if st.Step != nil {
			sc.expr(st.Step)
		}
		sc.push()
		sc.bind(st.Name)
		sc.block(st.Body)
		sc.pop()
	case *ast.GenericForStmt:
		sc.exprs(st.Exprs)
		sc.push()
		for _, n := range st.Names {
			sc.bind(n)
		}
		sc.block(st.Body)
		sc.pop()
	case *ast.FunctionStmt:
		sc.ref(st.Target[0])
		sc.fn(st.Body)
	case *ast.LocalFunctionStmt:
		sc.bind(st.Name)
		sc.fn(st.Body)
	case *ast.ReturnStmt:
		sc.exprs(st.Exprs)
	}
}

func (sc *freeScanner) exprs(list []ast.Expr) {
	for _, e := range list {
		sc.expr(e)
	}
}

func (sc *freeScanner) expr(ex ast.Expr) {
	switch ex := ex.(type) {
	case *ast.Identifier:
		sc.ref(ex.Name)
	case *ast.BinaryExpr:
		sc.expr(ex.Left)
		sc.expr(ex.Right)
	case *ast.UnaryExpr:
		sc.expr(ex.Operand)
	case *ast.GroupExpr:
		sc.expr(ex.Inner)
	case *ast.IndexExpr:
		sc.expr(ex.Object)
		sc.expr(ex.Key)
	case *ast.FieldExpr:
		sc.expr(ex.Object)
	case *ast.CallExpr:
		sc.expr(ex.Callee)
		sc.exprs(ex.Args)
	case *ast.MethodCallExpr:
		sc.expr(ex.Object)
		sc.exprs(ex.Args)
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			if f.Key != nil {
				sc.expr(f.Key)
			}
			sc.expr(f.Value)
		}
	case *ast.FunctionExpr:
		sc.fn(ex.Body)
	}
}

// formatAddr renders the identity suffix used when __name supplies a
// display label for a table.
func formatAddr(v value.Value) string {
	if t, ok := v.(*value.Table); ok {
		return fmt.Sprintf(": 0x%08x", t.ID())
	}
	return fmt.Sprintf(": %p", v)
}
