// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package ast defines the abstract syntax tree produced by package
// parser and consumed by package interp. No teacher package in the
// example corpus has an AST (256lights-zb's luacode parses straight
// to register-machine bytecode); this package's shapes are grounded
// on lualex.Position/Token's span conventions and on luacode's
// enum-naming style (operators named like tag methods).
package ast

import "treewalk.zombiezen.dev/lua/internal/lualex"

// Span records the source extent of a node: the chunk name plus the
// start and end positions lualex reports for its tokens.
type Span struct {
	Source string
	Start  lualex.Position
	End    lualex.Position
}

func (s Span) String() string {
	if s.Source == "" {
		return s.Start.String()
	}
	return s.Source + ":" + s.Start.String()
}

// Node is implemented by every AST node.
type Node interface {
	Span() Span
}

// BinaryOp names the binary operators of §4.1.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpIDiv
	OpMod
	OpPow
	OpConcat
	OpEq
	OpNotEq
	OpLess
	OpLessEq
	OpGreater
	OpGreaterEq
	OpAnd
	OpOr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShiftLeft
	OpShiftRight
)

// UnaryOp names the unary operators of §4.1.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
	OpLen
	OpBitNot
)

// ---- Expressions ----

// Expr is implemented by every expression node.
type Expr interface {
	Node
	exprNode()
}

type NilExpr struct{ SourceSpan Span }
type TrueExpr struct{ SourceSpan Span }
type FalseExpr struct{ SourceSpan Span }
type VarargExpr struct{ SourceSpan Span }

type IntegerExpr struct {
	SourceSpan Span
	Value      int64
}

type FloatExpr struct {
	SourceSpan Span
	Value      float64
}

// StringExpr is a string literal. Raw holds the literal's decoded
// byte content; Display, when non-empty, is the original source text
// (used for error messages that quote the literal as written).
type StringExpr struct {
	SourceSpan Span
	Raw        string
	Display    string
}

// Identifier is a bare name reference, resolved at evaluation time by
// the scope-walk / upvalue / _ENV routing of §4.2.
type Identifier struct {
	SourceSpan Span
	Name       string
}

// TableField is one entry of a table constructor: a positional entry
// (Key == nil), a keyed entry (Key non-nil, computed with brackets or
// a bare name), or the final spread entry (Spread == true, the
// expression is expected to be multi-valued).
type TableField struct {
	Key    Expr // nil for positional entries
	Value  Expr
	Spread bool
}

type TableExpr struct {
	SourceSpan Span
	Fields     []TableField
}

type BinaryExpr struct {
	SourceSpan Span
	Op         BinaryOp
	Left       Expr
	Right      Expr
}

type UnaryExpr struct {
	SourceSpan Span
	Op         UnaryOp
	Operand    Expr
}

// GroupExpr is a parenthesized expression; it truncates a
// multi-valued operand to its first value (§4.3).
type GroupExpr struct {
	SourceSpan Span
	Inner      Expr
}

type IndexExpr struct {
	SourceSpan Span
	Object     Expr
	Key        Expr
}

// FieldExpr is sugar for IndexExpr with a string-literal key written
// as object.name.
type FieldExpr struct {
	SourceSpan Span
	Object     Expr
	Name       string
}

// CallExpr is a function call f(args...). The last argument, if it is
// itself multi-valued, is spread per §4.3; non-last arguments are
// truncated to one value by the evaluator.
type CallExpr struct {
	SourceSpan Span
	Callee     Expr
	Args       []Expr
}

// MethodCallExpr is o:m(args...) sugar: o is evaluated once, method
// lookup uses the indexing protocol, and o is prepended to Args.
type MethodCallExpr struct {
	SourceSpan Span
	Object     Expr
	Method     string
	Args       []Expr
}

// FunctionBody is shared by function literals, function statements,
// and local function statements.
type FunctionBody struct {
	SourceSpan Span
	Params     []string
	IsVariadic bool
	Body       *Block
	// ImplicitSelf is set for method definitions (function t:m() ... end),
	// which prepend "self" to Params.
	ImplicitSelf bool
	// Name is used only for error messages / stack traces; it does
	// not affect scoping.
	Name string
}

type FunctionExpr struct {
	SourceSpan Span
	Body       *FunctionBody
}

func (e *NilExpr) Span() Span        { return e.SourceSpan }
func (e *TrueExpr) Span() Span       { return e.SourceSpan }
func (e *FalseExpr) Span() Span      { return e.SourceSpan }
func (e *VarargExpr) Span() Span     { return e.SourceSpan }
func (e *IntegerExpr) Span() Span    { return e.SourceSpan }
func (e *FloatExpr) Span() Span      { return e.SourceSpan }
func (e *StringExpr) Span() Span     { return e.SourceSpan }
func (e *Identifier) Span() Span     { return e.SourceSpan }
func (e *TableExpr) Span() Span      { return e.SourceSpan }
func (e *BinaryExpr) Span() Span     { return e.SourceSpan }
func (e *UnaryExpr) Span() Span      { return e.SourceSpan }
func (e *GroupExpr) Span() Span      { return e.SourceSpan }
func (e *IndexExpr) Span() Span      { return e.SourceSpan }
func (e *FieldExpr) Span() Span      { return e.SourceSpan }
func (e *CallExpr) Span() Span       { return e.SourceSpan }
func (e *MethodCallExpr) Span() Span { return e.SourceSpan }
func (e *FunctionExpr) Span() Span   { return e.SourceSpan }

func (*NilExpr) exprNode()        {}
func (*TrueExpr) exprNode()       {}
func (*FalseExpr) exprNode()      {}
func (*VarargExpr) exprNode()     {}
func (*IntegerExpr) exprNode()    {}
func (*FloatExpr) exprNode()      {}
func (*StringExpr) exprNode()     {}
func (*Identifier) exprNode()     {}
func (*TableExpr) exprNode()      {}
func (*BinaryExpr) exprNode()     {}
func (*UnaryExpr) exprNode()      {}
func (*GroupExpr) exprNode()      {}
func (*IndexExpr) exprNode()      {}
func (*FieldExpr) exprNode()      {}
func (*CallExpr) exprNode()       {}
func (*MethodCallExpr) exprNode() {}
func (*FunctionExpr) exprNode()   {}

// ---- Statements ----

// Stmt is implemented by every statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Block is an ordered statement list. The evaluator resolves goto
// targets (§4.4) by scanning the list for labels each time it runs it.
type Block struct {
	SourceSpan Span
	Stmts      []Stmt
}

// Attrib is a local variable attribute: none, <const>, or <close>.
type Attrib int

const (
	AttribNone Attrib = iota
	AttribConst
	AttribClose
)

type LocalStmt struct {
	SourceSpan Span
	Names      []string
	Attribs    []Attrib
	Exprs      []Expr
}

type AssignStmt struct {
	SourceSpan Span
	Targets    []Expr // Identifier, IndexExpr, or FieldExpr
	Exprs      []Expr
}

// ExprStmt is a call expression used as a statement (the only
// expression form Lua allows standalone).
type ExprStmt struct {
	SourceSpan Span
	Call       Expr
}

type DoStmt struct {
	SourceSpan Span
	Body       *Block
}

type WhileStmt struct {
	SourceSpan Span
	Cond       Expr
	Body       *Block
}

type RepeatStmt struct {
	SourceSpan Span
	Body       *Block
	Cond       Expr
}

type IfClause struct {
	Cond Expr
	Body *Block
}

type IfStmt struct {
	SourceSpan Span
	Clauses    []IfClause // first is the `if`, rest are `elseif`
	Else       *Block     // nil if no else clause
}

type NumericForStmt struct {
	SourceSpan Span
	Name       string
	Start      Expr
	Stop       Expr
	Step       Expr // nil means literal 1
	Body       *Block
}

type GenericForStmt struct {
	SourceSpan Span
	Names      []string
	Exprs      []Expr
	Body       *Block
}

type FunctionStmt struct {
	SourceSpan Span
	// Target is the full dotted/colon path being assigned, e.g.
	// {"a","b","c"} for both "function a.b.c()" and "function a.b:c()"
	// (Method tells them apart), or a single-element path for a bare
	// name. The last element is the key that receives the function.
	Target []string
	Method bool
	Body   *FunctionBody
}

type LocalFunctionStmt struct {
	SourceSpan Span
	Name       string
	Body       *FunctionBody
}

type ReturnStmt struct {
	SourceSpan Span
	Exprs      []Expr
}

type BreakStmt struct{ SourceSpan Span }

type GotoStmt struct {
	SourceSpan Span
	Label      string
}

type LabelStmt struct {
	SourceSpan Span
	Name       string
}

func (s *Block) Span() Span             { return s.SourceSpan }
func (s *LocalStmt) Span() Span         { return s.SourceSpan }
func (s *AssignStmt) Span() Span        { return s.SourceSpan }
func (s *ExprStmt) Span() Span          { return s.SourceSpan }
func (s *DoStmt) Span() Span            { return s.SourceSpan }
func (s *WhileStmt) Span() Span         { return s.SourceSpan }
func (s *RepeatStmt) Span() Span        { return s.SourceSpan }
func (s *IfStmt) Span() Span            { return s.SourceSpan }
func (s *NumericForStmt) Span() Span    { return s.SourceSpan }
func (s *GenericForStmt) Span() Span    { return s.SourceSpan }
func (s *FunctionStmt) Span() Span      { return s.SourceSpan }
func (s *LocalFunctionStmt) Span() Span { return s.SourceSpan }
func (s *ReturnStmt) Span() Span        { return s.SourceSpan }
func (s *BreakStmt) Span() Span         { return s.SourceSpan }
func (s *GotoStmt) Span() Span          { return s.SourceSpan }
func (s *LabelStmt) Span() Span         { return s.SourceSpan }

func (*LocalStmt) stmtNode()         {}
func (*AssignStmt) stmtNode()        {}
func (*ExprStmt) stmtNode()          {}
func (*DoStmt) stmtNode()            {}
func (*WhileStmt) stmtNode()         {}
func (*RepeatStmt) stmtNode()        {}
func (*IfStmt) stmtNode()            {}
func (*NumericForStmt) stmtNode()    {}
func (*GenericForStmt) stmtNode()    {}
func (*FunctionStmt) stmtNode()      {}
func (*LocalFunctionStmt) stmtNode() {}
func (*ReturnStmt) stmtNode()        {}
func (*BreakStmt) stmtNode()         {}
func (*GotoStmt) stmtNode()          {}
func (*LabelStmt) stmtNode()         {}

// Chunk is a fully parsed top-level program: a zero-argument variadic
// function body (§ Chunk in GLOSSARY).
type Chunk struct {
	SourceSpan Span
	Body       *Block
}
