/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package ir

import (
	"fmt"
)

// MutateExpr rewrites an expression bottom-up: children are rewritten first,
// then f is applied to the rebuilt node. Unchanged subtrees are shared, never
// copied, so rewrites preserve the DAG property.
func MutateExpr(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch node := e.(type) {
	case *Var, *IntImm, *FloatImm, *StringImm:
		// Leaves.
	case *Cast:
		if value := MutateExpr(node.Value, f); value != node.Value {
			e = &Cast{Dtype: node.Dtype, Value: value}
		}
	case *Binary:
		a, b := MutateExpr(node.A, f), MutateExpr(node.B, f)
		if a != node.A || b != node.B {
			e = &Binary{Kind: node.Kind, A: a, B: b, Dtype: node.Dtype}
		}
	case *Compare:
		a, b := MutateExpr(node.A, f), MutateExpr(node.B, f)
		if a != node.A || b != node.B {
			e = &Compare{Kind: node.Kind, A: a, B: b}
		}
	case *Not:
		if value := MutateExpr(node.Value, f); value != node.Value {
			e = &Not{Value: value}
		}
	case *And:
		a, b := MutateExpr(node.A, f), MutateExpr(node.B, f)
		if a != node.A || b != node.B {
			e = &And{A: a, B: b}
		}
	case *Or:
		a, b := MutateExpr(node.A, f), MutateExpr(node.B, f)
		if a != node.A || b != node.B {
			e = &Or{A: a, B: b}
		}
	case *Select:
		cond := MutateExpr(node.Cond, f)
		tv, fv := MutateExpr(node.TrueValue, f), MutateExpr(node.FalseValue, f)
		if cond != node.Cond || tv != node.TrueValue || fv != node.FalseValue {
			e = &Select{Cond: cond, TrueValue: tv, FalseValue: fv}
		}
	case *Call:
		if args, changed := mutateExprs(node.Args, f); changed {
			e = &Call{Dtype: node.Dtype, Name: node.Name, Args: args, Type: node.Type}
		}
	case *Let:
		value, body := MutateExpr(node.Value, f), MutateExpr(node.Body, f)
		if value != node.Value || body != node.Body {
			e = &Let{Var: node.Var, Value: value, Body: body}
		}
	case *Ramp:
		base, stride := MutateExpr(node.Base, f), MutateExpr(node.Stride, f)
		if base != node.Base || stride != node.Stride {
			e = &Ramp{Base: base, Stride: stride, Lanes: node.Lanes}
		}
	case *Broadcast:
		if value := MutateExpr(node.Value, f); value != node.Value {
			e = &Broadcast{Value: value, Lanes: node.Lanes}
		}
	case *Load:
		if index := MutateExpr(node.Index, f); index != node.Index {
			e = &Load{Dtype: node.Dtype, Buffer: node.Buffer, Index: index}
		}
	case *TensorRead:
		if indices, changed := mutateExprs(node.Indices, f); changed {
			e = &TensorRead{Op: node.Op, OutputIndex: node.OutputIndex, Indices: indices}
		}
	default:
		panic(fmt.Sprintf("MutateExpr: unhandled expression node %T", e))
	}
	return f(e)
}

func mutateExprs(exprs []Expr, f func(Expr) Expr) ([]Expr, bool) {
	changed := false
	result := exprs
	for i, e := range exprs {
		mutated := MutateExpr(e, f)
		if mutated != e && !changed {
			changed = true
			result = make([]Expr, len(exprs))
			copy(result, exprs[:i])
		}
		if changed {
			result[i] = mutated
		}
	}
	return result, changed
}

// MutateStmt rewrites a statement tree bottom-up. fExpr is applied (via
// MutateExpr) to every expression in the tree; fStmt to every rebuilt
// statement. Either may be nil for the identity.
func MutateStmt(s Stmt, fExpr func(Expr) Expr, fStmt func(Stmt) Stmt) Stmt {
	if s == nil {
		return nil
	}
	if fExpr == nil {
		fExpr = func(e Expr) Expr { return e }
	}
	if fStmt == nil {
		fStmt = func(s Stmt) Stmt { return s }
	}
	me := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return MutateExpr(e, fExpr)
	}
	switch node := s.(type) {
	case *LetStmt:
		value, body := me(node.Value), MutateStmt(node.Body, fExpr, fStmt)
		if value != node.Value || body != node.Body {
			s = &LetStmt{Var: node.Var, Value: value, Body: body}
		}
	case *AttrStmt:
		value, body := me(node.Value), MutateStmt(node.Body, fExpr, fStmt)
		if value != node.Value || body != node.Body {
			s = &AttrStmt{Node: node.Node, Key: node.Key, Value: value, Body: body}
		}
	case *AssertStmt:
		cond, msg := me(node.Cond), me(node.Message)
		body := MutateStmt(node.Body, fExpr, fStmt)
		if cond != node.Cond || msg != node.Message || body != node.Body {
			s = &AssertStmt{Cond: cond, Message: msg, Body: body}
		}
	case *For:
		min, extent := me(node.Min), me(node.Extent)
		body := MutateStmt(node.Body, fExpr, fStmt)
		if min != node.Min || extent != node.Extent || body != node.Body {
			s = &For{LoopVar: node.LoopVar, Min: min, Extent: extent, Kind: node.Kind, Body: body}
		}
	case *Store:
		value, index := me(node.Value), me(node.Index)
		if value != node.Value || index != node.Index {
			s = &Store{Buffer: node.Buffer, Value: value, Index: index}
		}
	case *Provide:
		value := me(node.Value)
		indices, changed := mutateExprs(node.Indices, fExpr)
		if value != node.Value || changed {
			s = &Provide{Op: node.Op, OutputIndex: node.OutputIndex, Value: value, Indices: indices}
		}
	case *Realize:
		bounds, bchanged := mutateRanges(node.Bounds, fExpr)
		body := MutateStmt(node.Body, fExpr, fStmt)
		if bchanged || body != node.Body {
			s = &Realize{Op: node.Op, OutputIndex: node.OutputIndex, Dtype: node.Dtype,
				Bounds: bounds, Body: body}
		}
	case *Allocate:
		extents, echanged := mutateExprs(node.Extents, fExpr)
		body := MutateStmt(node.Body, fExpr, fStmt)
		if echanged || body != node.Body {
			s = &Allocate{Buffer: node.Buffer, Dtype: node.Dtype, Extents: extents, Body: body}
		}
	case *IfThenElse:
		cond := me(node.Cond)
		then := MutateStmt(node.Then, fExpr, fStmt)
		els := MutateStmt(node.Else, fExpr, fStmt)
		if cond != node.Cond || then != node.Then || els != node.Else {
			s = &IfThenElse{Cond: cond, Then: then, Else: els}
		}
	case *Evaluate:
		if value := me(node.Value); value != node.Value {
			s = &Evaluate{Value: value}
		}
	case *Seq:
		changed := false
		stmts := node.Stmts
		for i, sub := range node.Stmts {
			mutated := MutateStmt(sub, fExpr, fStmt)
			if mutated != sub && !changed {
				changed = true
				stmts = make([]Stmt, len(node.Stmts))
				copy(stmts, node.Stmts[:i])
			}
			if changed {
				stmts[i] = mutated
			}
		}
		if changed {
			s = &Seq{Stmts: stmts}
		}
	case *Prefetch:
		if bounds, changed := mutateRanges(node.Bounds, fExpr); changed {
			s = &Prefetch{Op: node.Op, OutputIndex: node.OutputIndex, Dtype: node.Dtype, Bounds: bounds}
		}
	default:
		panic(fmt.Sprintf("MutateStmt: unhandled statement node %T", s))
	}
	return fStmt(s)
}

func mutateRanges(bounds []Range, fExpr func(Expr) Expr) ([]Range, bool) {
	changed := false
	result := bounds
	for i, r := range bounds {
		min, extent := MutateExpr(r.Min, fExpr), MutateExpr(r.Extent, fExpr)
		if (min != r.Min || extent != r.Extent) && !changed {
			changed = true
			result = make([]Range, len(bounds))
			copy(result, bounds[:i])
		}
		if changed {
			result[i] = Range{Min: min, Extent: extent}
		}
	}
	return result, changed
}

// SubstituteVars returns expr with every variable in m replaced by its
// mapped expression.
func SubstituteVars(e Expr, m map[*Var]Expr) Expr {
	if len(m) == 0 {
		return e
	}
	return MutateExpr(e, func(node Expr) Expr {
		if v, ok := node.(*Var); ok {
			if repl, found := m[v]; found {
				return repl
			}
		}
		return node
	})
}

// SubstituteVarsStmt returns the statement tree with every variable in m
// replaced by its mapped expression.
func SubstituteVarsStmt(s Stmt, m map[*Var]Expr) Stmt {
	if len(m) == 0 {
		return s
	}
	return MutateStmt(s, func(node Expr) Expr {
		if v, ok := node.(*Var); ok {
			if repl, found := m[v]; found {
				return repl
			}
		}
		return node
	}, nil)
}

// WalkExprs calls f on every expression in the statement tree (pre-order).
func WalkExprs(s Stmt, f func(Expr)) {
	MutateStmt(s, func(e Expr) Expr {
		f(e)
		return e
	}, nil)
}

// WalkStmts calls f on every statement in the tree (post-order).
func WalkStmts(s Stmt, f func(Stmt)) {
	MutateStmt(s, nil, func(node Stmt) Stmt {
		f(node)
		return node
	})
}
