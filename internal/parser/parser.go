// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package parser turns a byte stream into an [ast.Chunk] using
// package lualex for tokenization. It is retargeted from
// 256lights-zb's internal/luacode parser (which emits register-machine
// bytecode directly) to build an AST instead; the operator precedence
// table and error-reporting conventions are ported from there, the
// bytecode emission is not.
package parser

import (
	"errors"
	"fmt"
	"io"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/lualex"
)

// depthLimit bounds recursive-descent recursion for pathological
// input, mirroring luacode's LUAI_MAXCCALLS-derived depthLimit.
const depthLimit = 200

var errDepthExceeded = errors.New("chunk has too many syntax levels")

// SyntaxError is returned for any parse failure; it carries the
// source name and position so the caller can format it the way
// spec.md §7 expects runtime errors to be formatted.
type SyntaxError struct {
	Source   string
	Position lualex.Position
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%v: %s", e.Source, e.Position, e.Message)
}

// Parse reads a complete Lua chunk named source from r.
func Parse(source string, r io.ByteScanner) (*ast.Chunk, error) {
	p := &parser{source: source, scanner: lualex.NewScanner(r)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lualex.ErrorToken {
		return nil, p.errorf("'%v' expected near '%v'", lualex.ErrorToken, p.tok)
	}
	if err := validateGotos(source, body); err != nil {
		return nil, err
	}
	return &ast.Chunk{
		SourceSpan: ast.Span{Source: source, Start: lualex.Pos(1, 1), End: p.tok.Position},
		Body:       body,
	}, nil
}

type parser struct {
	source       string
	scanner      *lualex.Scanner
	tok          lualex.Token
	hasLookahead bool
	lookahead    lualex.Token
	depth        int
}

// peek returns the token following p.tok without consuming it,
// buffering it for the next call to advance. This is the one-token
// lookahead real Lua's lexer exposes as luaX_lookahead, needed to
// disambiguate a table constructor field "name = expr" from a
// positional field that merely starts with a name.
func (p *parser) peek() (lualex.Token, error) {
	if p.hasLookahead {
		return p.lookahead, nil
	}
	tok, err := p.scanner.Scan()
	if err != nil && !errors.Is(err, io.EOF) {
		return lualex.Token{}, &SyntaxError{Source: p.source, Position: tok.Position, Message: err.Error()}
	}
	p.lookahead = tok
	p.hasLookahead = true
	return tok, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Source: p.source, Position: p.tok.Position, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) advance() error {
	if p.hasLookahead {
		p.tok = p.lookahead
		p.hasLookahead = false
		return nil
	}
	tok, err := p.scanner.Scan()
	if err != nil && !errors.Is(err, io.EOF) {
		return &SyntaxError{Source: p.source, Position: tok.Position, Message: err.Error()}
	}
	p.tok = tok
	return nil
}

func (p *parser) span(start lualex.Position) ast.Span {
	return ast.Span{Source: p.source, Start: start, End: p.tok.Position}
}

func (p *parser) expect(kind lualex.TokenKind) (lualex.Token, error) {
	if p.tok.Kind != kind {
		return lualex.Token{}, p.errorf("'%v' expected near '%v'", kind, p.tok)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return lualex.Token{}, err
	}
	return tok, nil
}

func (p *parser) accept(kind lualex.TokenKind) (bool, error) {
	if p.tok.Kind != kind {
		return false, nil
	}
	return true, p.advance()
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > depthLimit {
		return p.errorf("%v", errDepthExceeded)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// blockEnd reports whether the current token cannot start a
// statement, i.e. it closes the enclosing block.
func (p *parser) blockEnd() bool {
	switch p.tok.Kind {
	case lualex.ErrorToken, lualex.EndToken, lualex.ElseToken, lualex.ElseifToken, lualex.UntilToken:
		return true
	default:
		return false
	}
}

func (p *parser) block() (*ast.Block, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	start := p.tok.Position
	var stmts []ast.Stmt
	for !p.blockEnd() {
		if p.tok.Kind == lualex.ReturnToken {
			s, err := p.returnStmt()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
			break
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	return &ast.Block{SourceSpan: p.span(start), Stmts: stmts}, nil
}

func (p *parser) statement() (ast.Stmt, error) {
	start := p.tok.Position
	switch p.tok.Kind {
	case lualex.SemiToken:
		return nil, p.advance()
	case lualex.IfToken:
		return p.ifStmt()
	case lualex.WhileToken:
		return p.whileStmt()
	case lualex.DoToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.EndToken); err != nil {
			return nil, err
		}
		return &ast.DoStmt{SourceSpan: p.span(start), Body: body}, nil
	case lualex.ForToken:
		return p.forStmt()
	case lualex.RepeatToken:
		return p.repeatStmt()
	case lualex.FunctionToken:
		return p.functionStmt()
	case lualex.LocalToken:
		return p.localStmt()
	case lualex.LabelToken:
		return p.labelStmt()
	case lualex.BreakToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.BreakStmt{SourceSpan: p.span(start)}, nil
	case lualex.GotoToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		return &ast.GotoStmt{SourceSpan: p.span(start), Label: name.Value}, nil
	default:
		return p.exprStmt()
	}
}

func (p *parser) labelStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(lualex.IdentifierToken)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.LabelToken); err != nil {
		return nil, err
	}
	return &ast.LabelStmt{SourceSpan: p.span(start), Name: name.Value}, nil
}

func (p *parser) ifStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	var clauses []ast.IfClause
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.ThenToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	clauses = append(clauses, ast.IfClause{Cond: cond, Body: body})
	for p.tok.Kind == lualex.ElseifToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.ThenToken); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, ast.IfClause{Cond: cond, Body: body})
	}
	var elseBlock *ast.Block
	if p.tok.Kind == lualex.ElseToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		elseBlock, err = p.block()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return &ast.IfStmt{SourceSpan: p.span(start), Clauses: clauses, Else: elseBlock}, nil
}

func (p *parser) whileStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return &ast.WhileStmt{SourceSpan: p.span(start), Cond: cond, Body: body}, nil
}

func (p *parser) repeatStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.UntilToken); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ast.RepeatStmt{SourceSpan: p.span(start), Body: body, Cond: cond}, nil
}

func (p *parser) forStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	firstName, err := p.expect(lualex.IdentifierToken)
	if err != nil {
		return nil, err
	}
	if p.tok.Kind == lualex.AssignToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		from, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.CommaToken); err != nil {
			return nil, err
		}
		to, err := p.expr()
		if err != nil {
			return nil, err
		}
		var step ast.Expr
		if ok, err := p.accept(lualex.CommaToken); err != nil {
			return nil, err
		} else if ok {
			step, err = p.expr()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(lualex.DoToken); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.EndToken); err != nil {
			return nil, err
		}
		return &ast.NumericForStmt{
			SourceSpan: p.span(start), Name: firstName.Value,
			Start: from, Stop: to, Step: step, Body: body,
		}, nil
	}
	names := []string{firstName.Value}
	for p.tok.Kind == lualex.CommaToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		names = append(names, name.Value)
	}
	if _, err := p.expect(lualex.InToken); err != nil {
		return nil, err
	}
	exprs, err := p.exprList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return &ast.GenericForStmt{SourceSpan: p.span(start), Names: names, Exprs: exprs, Body: body}, nil
}

func (p *parser) functionStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	first, err := p.expect(lualex.IdentifierToken)
	if err != nil {
		return nil, err
	}
	target := []string{first.Value}
	method := false
	for p.tok.Kind == lualex.DotToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		target = append(target, name.Value)
	}
	if p.tok.Kind == lualex.ColonToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		target = append(target, name.Value)
		method = true
	}
	fullName := target[0]
	for _, part := range target[1:] {
		fullName += "." + part
	}
	body, err := p.functionBody(fullName, method)
	if err != nil {
		return nil, err
	}
	return &ast.FunctionStmt{SourceSpan: p.span(start), Target: target, Method: method, Body: body}, nil
}

func (p *parser) localStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.Kind == lualex.FunctionToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		body, err := p.functionBody(name.Value, false)
		if err != nil {
			return nil, err
		}
		return &ast.LocalFunctionStmt{SourceSpan: p.span(start), Name: name.Value, Body: body}, nil
	}
	var names []string
	var attribs []ast.Attrib
	for {
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		names = append(names, name.Value)
		attrib := ast.AttribNone
		if ok, err := p.accept(lualex.LessToken); err != nil {
			return nil, err
		} else if ok {
			attribName, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			switch attribName.Value {
			case "const":
				attrib = ast.AttribConst
			case "close":
				attrib = ast.AttribClose
			default:
				return nil, p.errorf("unknown attribute '%s'", attribName.Value)
			}
			if _, err := p.expect(lualex.GreaterToken); err != nil {
				return nil, err
			}
		}
		attribs = append(attribs, attrib)
		if ok, err := p.accept(lualex.CommaToken); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	var exprs []ast.Expr
	if ok, err := p.accept(lualex.AssignToken); err != nil {
		return nil, err
	} else if ok {
		exprs, err = p.exprList()
		if err != nil {
			return nil, err
		}
	}
	return &ast.LocalStmt{SourceSpan: p.span(start), Names: names, Attribs: attribs, Exprs: exprs}, nil
}

func (p *parser) returnStmt() (ast.Stmt, error) {
	start := p.tok.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	var exprs []ast.Expr
	if !p.blockEnd() && p.tok.Kind != lualex.SemiToken {
		var err error
		exprs, err = p.exprList()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.accept(lualex.SemiToken); err != nil {
		return nil, err
	}
	return &ast.ReturnStmt{SourceSpan: p.span(start), Exprs: exprs}, nil
}

// exprStmt parses either an assignment (a, b.c = 1, 2) or a bare call
// expression statement.
func (p *parser) exprStmt() (ast.Stmt, error) {
	start := p.tok.Position
	first, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lualex.AssignToken && p.tok.Kind != lualex.CommaToken {
		if !isCallExpr(first) {
			return nil, p.errorf("syntax error near '%v'", p.tok)
		}
		return &ast.ExprStmt{SourceSpan: p.span(start), Call: first}, nil
	}
	targets := []ast.Expr{first}
	for p.tok.Kind == lualex.CommaToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		next, err := p.suffixedExpr()
		if err != nil {
			return nil, err
		}
		targets = append(targets, next)
	}
	for _, t := range targets {
		if !isAssignableExpr(t) {
			return nil, p.errorf("syntax error (cannot assign)")
		}
	}
	if _, err := p.expect(lualex.AssignToken); err != nil {
		return nil, err
	}
	exprs, err := p.exprList()
	if err != nil {
		return nil, err
	}
	return &ast.AssignStmt{SourceSpan: p.span(start), Targets: targets, Exprs: exprs}, nil
}

func isCallExpr(e ast.Expr) bool {
	switch e.(type) {
	case *ast.CallExpr, *ast.MethodCallExpr:
		return true
	default:
		return false
	}
}

func isAssignableExpr(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Identifier, *ast.IndexExpr, *ast.FieldExpr:
		return true
	default:
		return false
	}
}

func (p *parser) functionBody(name string, implicitSelf bool) (*ast.FunctionBody, error) {
	start := p.tok.Position
	if _, err := p.expect(lualex.LParenToken); err != nil {
		return nil, err
	}
	var params []string
	if implicitSelf {
		params = append(params, "self")
	}
	variadic := false
	if p.tok.Kind != lualex.RParenToken {
		for {
			if p.tok.Kind == lualex.VarargToken {
				if err := p.advance(); err != nil {
					return nil, err
				}
				variadic = true
				break
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			params = append(params, name.Value)
			if ok, err := p.accept(lualex.CommaToken); err != nil {
				return nil, err
			} else if !ok {
				break
			}
		}
	}
	if _, err := p.expect(lualex.RParenToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return &ast.FunctionBody{
		SourceSpan: p.span(start), Params: params, IsVariadic: variadic,
		Body: body, ImplicitSelf: implicitSelf, Name: name,
	}, nil
}

// ---- Expressions ----

func (p *parser) exprList() ([]ast.Expr, error) {
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	exprs := []ast.Expr{e}
	for p.tok.Kind == lualex.CommaToken {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

// precedence levels, low to high; unary sits between concat and pow.
const (
	precOr = iota + 1
	precAnd
	precCompare
	precBitOr
	precBitXor
	precBitAnd
	precShift
	precConcat
	precAdd
	precMul
	precUnary
	precPow
)

func binOpFor(kind lualex.TokenKind) (ast.BinaryOp, int, int, bool) {
	// returns op, left precedence, right precedence (right < left for
	// right-associative operators), ok
	switch kind {
	case lualex.OrToken:
		return ast.OpOr, precOr, precOr, true
	case lualex.AndToken:
		return ast.OpAnd, precAnd, precAnd, true
	case lualex.LessToken:
		return ast.OpLess, precCompare, precCompare, true
	case lualex.GreaterToken:
		return ast.OpGreater, precCompare, precCompare, true
	case lualex.LessEqualToken:
		return ast.OpLessEq, precCompare, precCompare, true
	case lualex.GreaterEqualToken:
		return ast.OpGreaterEq, precCompare, precCompare, true
	case lualex.NotEqualToken:
		return ast.OpNotEq, precCompare, precCompare, true
	case lualex.EqualToken:
		return ast.OpEq, precCompare, precCompare, true
	case lualex.BitOrToken:
		return ast.OpBitOr, precBitOr, precBitOr, true
	case lualex.BitXorToken:
		return ast.OpBitXor, precBitXor, precBitXor, true
	case lualex.BitAndToken:
		return ast.OpBitAnd, precBitAnd, precBitAnd, true
	case lualex.LShiftToken:
		return ast.OpShiftLeft, precShift, precShift, true
	case lualex.RShiftToken:
		return ast.OpShiftRight, precShift, precShift, true
	case lualex.ConcatToken:
		// right-associative
		return ast.OpConcat, precConcat, precConcat - 1, true
	case lualex.AddToken:
		return ast.OpAdd, precAdd, precAdd, true
	case lualex.SubToken:
		return ast.OpSub, precAdd, precAdd, true
	case lualex.MulToken:
		return ast.OpMul, precMul, precMul, true
	case lualex.DivToken:
		return ast.OpDiv, precMul, precMul, true
	case lualex.IntDivToken:
		return ast.OpIDiv, precMul, precMul, true
	case lualex.ModToken:
		return ast.OpMod, precMul, precMul, true
	case lualex.PowToken:
		// right-associative, binds tighter than unary
		return ast.OpPow, precPow, precPow - 1, true
	default:
		return 0, 0, 0, false
	}
}

func (p *parser) expr() (ast.Expr, error) {
	return p.subExpr(0)
}

func (p *parser) subExpr(limit int) (ast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	var left ast.Expr
	var err error
	start := p.tok.Position
	switch p.tok.Kind {
	case lualex.NotToken, lualex.SubToken, lualex.LenToken, lualex.BitXorToken:
		var op ast.UnaryOp
		switch p.tok.Kind {
		case lualex.NotToken:
			op = ast.OpNot
		case lualex.SubToken:
			op = ast.OpNeg
		case lualex.LenToken:
			op = ast.OpLen
		case lualex.BitXorToken:
			op = ast.OpBitNot
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.subExpr(precUnary)
		if err != nil {
			return nil, err
		}
		left = &ast.UnaryExpr{SourceSpan: p.span(start), Op: op, Operand: operand}
	default:
		left, err = p.simpleExpr()
		if err != nil {
			return nil, err
		}
	}

	for {
		op, leftPrec, rightPrec, ok := binOpFor(p.tok.Kind)
		if !ok || leftPrec <= limit {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.subExpr(rightPrec)
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{SourceSpan: p.span(start), Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) simpleExpr() (ast.Expr, error) {
	start := p.tok.Position
	switch p.tok.Kind {
	case lualex.NumeralToken:
		tok := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		return parseNumeral(p.source, start, p.span(start), tok.Value)
	case lualex.StringToken:
		tok := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.StringExpr{SourceSpan: p.span(start), Raw: tok.Value, Display: tok.String()}, nil
	case lualex.NilToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.NilExpr{SourceSpan: p.span(start)}, nil
	case lualex.TrueToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.TrueExpr{SourceSpan: p.span(start)}, nil
	case lualex.FalseToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.FalseExpr{SourceSpan: p.span(start)}, nil
	case lualex.VarargToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.VarargExpr{SourceSpan: p.span(start)}, nil
	case lualex.FunctionToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.functionBody("", false)
		if err != nil {
			return nil, err
		}
		return &ast.FunctionExpr{SourceSpan: p.span(start), Body: body}, nil
	case lualex.LBraceToken:
		return p.tableExpr()
	default:
		return p.suffixedExpr()
	}
}

func (p *parser) primaryExpr() (ast.Expr, error) {
	start := p.tok.Position
	switch p.tok.Kind {
	case lualex.LParenToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.RParenToken); err != nil {
			return nil, err
		}
		return &ast.GroupExpr{SourceSpan: p.span(start), Inner: inner}, nil
	case lualex.IdentifierToken:
		tok := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Identifier{SourceSpan: p.span(start), Name: tok.Value}, nil
	default:
		return nil, p.errorf("unexpected symbol near '%v'", p.tok)
	}
}

// suffixedExpr parses a primary expression followed by any number of
// field/index/call/method-call suffixes.
func (p *parser) suffixedExpr() (ast.Expr, error) {
	start := p.tok.Position
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.Kind {
		case lualex.DotToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			e = &ast.FieldExpr{SourceSpan: p.span(start), Object: e, Name: name.Value}
		case lualex.LBracketToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			e = &ast.IndexExpr{SourceSpan: p.span(start), Object: e, Key: key}
		case lualex.ColonToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &ast.MethodCallExpr{SourceSpan: p.span(start), Object: e, Method: name.Value, Args: args}
		case lualex.LParenToken, lualex.StringToken, lualex.LBraceToken:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &ast.CallExpr{SourceSpan: p.span(start), Callee: e, Args: args}
		default:
			return e, nil
		}
	}
}

func (p *parser) callArgs() ([]ast.Expr, error) {
	switch p.tok.Kind {
	case lualex.StringToken:
		tok := p.tok
		start := p.tok.Position
		if err := p.advance(); err != nil {
			return nil, err
		}
		return []ast.Expr{&ast.StringExpr{SourceSpan: p.span(start), Raw: tok.Value, Display: tok.String()}}, nil
	case lualex.LBraceToken:
		t, err := p.tableExpr()
		if err != nil {
			return nil, err
		}
		return []ast.Expr{t}, nil
	case lualex.LParenToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []ast.Expr
		if p.tok.Kind != lualex.RParenToken {
			var err error
			args, err = p.exprList()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(lualex.RParenToken); err != nil {
			return nil, err
		}
		return args, nil
	default:
		return nil, p.errorf("function arguments expected near '%v'", p.tok)
	}
}

func (p *parser) tableExpr() (ast.Expr, error) {
	start := p.tok.Position
	if _, err := p.expect(lualex.LBraceToken); err != nil {
		return nil, err
	}
	var fields []ast.TableField
	for p.tok.Kind != lualex.RBraceToken {
		switch {
		case p.tok.Kind == lualex.LBracketToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.AssignToken); err != nil {
				return nil, err
			}
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, ast.TableField{Key: key, Value: val})
		case p.tok.Kind == lualex.IdentifierToken:
			// Could be `name = expr` or a positional expression
			// starting with an identifier; one-token lookahead
			// disambiguates without backtracking.
			save := p.tok
			next, err := p.peek()
			if err != nil {
				return nil, err
			}
			if next.Kind == lualex.AssignToken {
				if err := p.advance(); err != nil { // consume name
					return nil, err
				}
				if err := p.advance(); err != nil { // consume '='
					return nil, err
				}
				val, err := p.expr()
				if err != nil {
					return nil, err
				}
				fields = append(fields, ast.TableField{
					Key:   &ast.StringExpr{SourceSpan: ast.Span{Source: p.source, Start: save.Position}, Raw: save.Value},
					Value: val,
				})
			} else {
				val, err := p.expr()
				if err != nil {
					return nil, err
				}
				fields = append(fields, ast.TableField{Value: val, Spread: isMultiValued(val)})
			}
		default:
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, ast.TableField{Value: val, Spread: isMultiValued(val)})
		}
		if p.tok.Kind == lualex.CommaToken || p.tok.Kind == lualex.SemiToken {
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else {
			break
		}
	}
	if _, err := p.expect(lualex.RBraceToken); err != nil {
		return nil, err
	}
	// Only the last positional field may spread.
	for i := range fields {
		if i != len(fields)-1 {
			fields[i].Spread = false
		}
	}
	return &ast.TableExpr{SourceSpan: p.span(start), Fields: fields}, nil
}

// isMultiValued reports whether e syntactically can produce more than
// one value (a bare call or varargs, not wrapped in parens).
func isMultiValued(e ast.Expr) bool {
	switch e.(type) {
	case *ast.CallExpr, *ast.MethodCallExpr, *ast.VarargExpr:
		return true
	default:
		return false
	}
}

func parseNumeral(source string, pos lualex.Position, span ast.Span, text string) (ast.Expr, error) {
	if i, err := lualex.ParseInt(text); err == nil {
		return &ast.IntegerExpr{SourceSpan: span, Value: i}, nil
	}
	f, err := lualex.ParseNumber(text)
	if err != nil {
		return nil, &SyntaxError{Source: source, Position: pos, Message: "malformed number near '" + text + "'"}
	}
	return &ast.FloatExpr{SourceSpan: span, Value: f}, nil
}
