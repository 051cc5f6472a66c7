// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package parser

import (
	"fmt"

	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/lualex"
)

// validateGotos rejects, at load time, a goto that jumps forward past
// a local declaration in the same statement list (entering the scope
// of a local that is not in scope at the goto). A label that merely
// closes the block (followed only by other labels) is exempt, which
// keeps the common `goto continue ... ::continue::` pattern legal.
// Jumps to labels in enclosing lists always exit scopes and need no
// check here; undefined labels surface at run time when the signal
// reaches function scope.
func validateGotos(source string, block *ast.Block) error {
	if err := checkGotoList(source, block.Stmts); err != nil {
		return err
	}
	for _, st := range block.Stmts {
		if err := validateGotoStmt(source, st); err != nil {
			return err
		}
	}
	return nil
}

func validateGotoStmt(source string, st ast.Stmt) error {
	switch st := st.(type) {
	case *ast.DoStmt:
		return validateGotos(source, st.Body)
	case *ast.WhileStmt:
		return validateGotos(source, st.Body)
	case *ast.RepeatStmt:
		return validateGotos(source, st.Body)
	case *ast.IfStmt:
		for _, c := range st.Clauses {
			if err := validateGotos(source, c.Body); err != nil {
				return err
			}
		}
		if st.Else != nil {
			return validateGotos(source, st.Else)
		}
	case *ast.NumericForStmt:
		return validateGotos(source, st.Body)
	case *ast.GenericForStmt:
		return validateGotos(source, st.Body)
	case *ast.FunctionStmt:
		return validateGotos(source, st.Body.Body)
	case *ast.LocalFunctionStmt:
		return validateGotos(source, st.Body.Body)
	case *ast.LocalStmt:
		for _, e := range st.Exprs {
			if err := validateGotoExpr(source, e); err != nil {
				return err
			}
		}
	case *ast.AssignStmt:
		for _, e := range st.Exprs {
			if err := validateGotoExpr(source, e); err != nil {
				return err
			}
		}
	case *ast.ExprStmt:
		return validateGotoExpr(source, st.Call)
	case *ast.ReturnStmt:
		for _, e := range st.Exprs {
			if err := validateGotoExpr(source, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateGotoExpr(source string, ex ast.Expr) error {
	switch ex := ex.(type) {
	case *ast.FunctionExpr:
		return validateGotos(source, ex.Body.Body)
	case *ast.BinaryExpr:
		if err := validateGotoExpr(source, ex.Left); err != nil {
			return err
		}
		return validateGotoExpr(source, ex.Right)
	case *ast.UnaryExpr:
		return validateGotoExpr(source, ex.Operand)
	case *ast.GroupExpr:
		return validateGotoExpr(source, ex.Inner)
	case *ast.IndexExpr:
		if err := validateGotoExpr(source, ex.Object); err != nil {
			return err
		}
		return validateGotoExpr(source, ex.Key)
	case *ast.FieldExpr:
		return validateGotoExpr(source, ex.Object)
	case *ast.CallExpr:
		if err := validateGotoExpr(source, ex.Callee); err != nil {
			return err
		}
		for _, a := range ex.Args {
			if err := validateGotoExpr(source, a); err != nil {
				return err
			}
		}
	case *ast.MethodCallExpr:
		if err := validateGotoExpr(source, ex.Object); err != nil {
			return err
		}
		for _, a := range ex.Args {
			if err := validateGotoExpr(source, a); err != nil {
				return err
			}
		}
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			if f.Key != nil {
				if err := validateGotoExpr(source, f.Key); err != nil {
					return err
				}
			}
			if err := validateGotoExpr(source, f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkGotoList(source string, stmts []ast.Stmt) error {
	var labels map[string]int
	for i, st := range stmts {
		if l, ok := st.(*ast.LabelStmt); ok {
			if labels == nil {
				labels = make(map[string]int)
			}
			labels[l.Name] = i
		}
	}
	if labels == nil {
		return nil
	}
	for i, st := range stmts {
		g, ok := st.(*ast.GotoStmt)
		if !ok {
			continue
		}
		labelIdx, ok := labels[g.Label]
		if !ok || labelIdx <= i {
			continue
		}
		for k := i + 1; k < labelIdx; k++ {
			name, isLocal := localDeclName(stmts[k])
			if !isLocal {
				continue
			}
			if labelClosesBlock(stmts[labelIdx+1:]) {
				continue
			}
			return gotoScopeError(source, g, name)
		}
	}
	return nil
}

func localDeclName(st ast.Stmt) (string, bool) {
	switch st := st.(type) {
	case *ast.LocalStmt:
		return st.Names[len(st.Names)-1], true
	case *ast.LocalFunctionStmt:
		return st.Name, true
	default:
		return "", false
	}
}

// labelClosesBlock reports whether only labels follow, making the
// jump target a void position at the end of the block.
func labelClosesBlock(rest []ast.Stmt) bool {
	for _, st := range rest {
		if _, ok := st.(*ast.LabelStmt); !ok {
			return false
		}
	}
	return true
}

func gotoScopeError(source string, g *ast.GotoStmt, local string) error {
	pos := g.SourceSpan.Start
	if !pos.IsValid() {
		pos = lualex.Pos(1, 1)
	}
	return &SyntaxError{
		Source:   source,
		Position: pos,
		Message:  fmt.Sprintf("<goto %s> jumps into the scope of local '%s'", g.Label, local),
	}
}
