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

package lower

import (
	"github.com/tech-ascent/tvm-go/ir"
	"k8s.io/klog/v2"
)

// injectPrefetch replaces prefetch-scope attributes with Prefetch statements
// ahead of the annotated body.
func injectPrefetch(stmt ir.Stmt) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrPrefetchScope {
			return s
		}
		op, ok := attr.Node.(ir.Operation)
		if !ok {
			return s
		}
		shape := op.OutputShape(0)
		bounds := make([]ir.Range, len(shape))
		for i, extent := range shape {
			bounds[i] = ir.RangeFromExtent(extent)
		}
		prefetch := &ir.Prefetch{Op: op, OutputIndex: 0, Dtype: op.OutputDType(0), Bounds: bounds}
		return ir.SeqOf(prefetch, attr.Body)
	})
}

// partitionLoops narrows loops whose body is fully guarded by an upper bound
// on the loop variable itself: the guard comes off and the loop extent drops
// to the bound. The general region-splitting partition is left to the
// backend's code generator.
func partitionLoops(stmt ir.Stmt, cfg *BuildConfig) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		loop, ok := s.(*ir.For)
		if !ok || !isIntValue(loop.Min, 0) {
			return s
		}
		if _, isConst := loop.Extent.(*ir.IntImm); isConst && !cfg.PartitionConstLoop {
			return s
		}
		guard, ok := loop.Body.(*ir.IfThenElse)
		if !ok || guard.Else != nil {
			return s
		}
		cmp, ok := guard.Cond.(*ir.Compare)
		if !ok || cmp.Kind != ir.CmpLT || cmp.A != ir.Expr(loop.LoopVar) {
			return s
		}
		return &ir.For{
			LoopVar: loop.LoopVar,
			Min:     loop.Min,
			Extent:  ir.Min(loop.Extent, cmp.B),
			Kind:    loop.Kind,
			Body:    guard.Then,
		}
	})
}

// vectorizeLoops turns loops marked vectorized into vector expressions: the
// loop variable becomes a ramp, loads and stores become vector accesses, and
// scalar operands are broadcast. Loops the vectorizer cannot handle (no
// constant extent, vector-dependent control flow) stay as loops.
func vectorizeLoops(stmt ir.Stmt) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		loop, ok := s.(*ir.For)
		if !ok || loop.Kind != ir.ForVectorized {
			return s
		}
		extent, ok := loop.Extent.(*ir.IntImm)
		if !ok {
			klog.Warningf("vectorize: loop over %q has non-constant extent, keeping the loop",
				loop.LoopVar.Name)
			return s
		}
		v := &vectorizer{
			loopVar: loop.LoopVar,
			ramp:    &ir.Ramp{Base: loop.Min, Stride: ir.Int(1), Lanes: int(extent.Value)},
			lanes:   int(extent.Value),
		}
		body, ok := v.stmt(loop.Body)
		if !ok {
			klog.Warningf("vectorize: loop over %q has vector-dependent control flow, keeping the loop",
				loop.LoopVar.Name)
			return s
		}
		return body
	})
}

type vectorizer struct {
	loopVar *ir.Var
	ramp    *ir.Ramp
	lanes   int
}

func (v *vectorizer) broadcast(e ir.Expr) ir.Expr {
	if e.DType().IsVector() {
		return e
	}
	return &ir.Broadcast{Value: e, Lanes: v.lanes}
}

// expr vectorizes an expression. The second result reports whether the value
// depends on the loop variable (and so became a vector).
func (v *vectorizer) expr(e ir.Expr) (ir.Expr, bool) {
	switch node := e.(type) {
	case *ir.Var:
		if node == v.loopVar {
			return v.ramp, true
		}
		return e, false
	case *ir.IntImm, *ir.FloatImm, *ir.StringImm, *ir.Ramp, *ir.Broadcast:
		return e, false
	case *ir.Cast:
		value, vec := v.expr(node.Value)
		if value == nil {
			return nil, true
		}
		if !vec {
			return e, false
		}
		return &ir.Cast{Dtype: node.Dtype.VectorOf(v.lanes), Value: value}, true
	case *ir.Binary:
		a, va := v.expr(node.A)
		b, vb := v.expr(node.B)
		if a == nil || b == nil {
			return nil, true
		}
		if !va && !vb {
			return e, false
		}
		return &ir.Binary{Kind: node.Kind, A: v.broadcast(a), B: v.broadcast(b),
			Dtype: node.Dtype.VectorOf(v.lanes)}, true
	case *ir.Compare:
		a, va := v.expr(node.A)
		b, vb := v.expr(node.B)
		if a == nil || b == nil {
			return nil, true
		}
		if !va && !vb {
			return e, false
		}
		return &ir.Compare{Kind: node.Kind, A: v.broadcast(a), B: v.broadcast(b)}, true
	case *ir.Select:
		cond, vc := v.expr(node.Cond)
		tv, vt := v.expr(node.TrueValue)
		fv, vf := v.expr(node.FalseValue)
		if cond == nil || tv == nil || fv == nil {
			return nil, true
		}
		if !vc && !vt && !vf {
			return e, false
		}
		return &ir.Select{Cond: v.broadcast(cond), TrueValue: v.broadcast(tv),
			FalseValue: v.broadcast(fv)}, true
	case *ir.Call:
		args := make([]ir.Expr, len(node.Args))
		anyVec := false
		for i, arg := range node.Args {
			vectorized, vec := v.expr(arg)
			if vectorized == nil {
				return nil, true
			}
			args[i] = vectorized
			anyVec = anyVec || vec
		}
		if !anyVec {
			return e, false
		}
		for i := range args {
			args[i] = v.broadcast(args[i])
		}
		return &ir.Call{Dtype: node.Dtype.VectorOf(v.lanes), Name: node.Name,
			Args: args, Type: node.Type}, true
	case *ir.Load:
		index, vec := v.expr(node.Index)
		if index == nil {
			return nil, true
		}
		if !vec {
			return e, false
		}
		return &ir.Load{Dtype: node.Dtype.VectorOf(v.lanes), Buffer: node.Buffer, Index: index}, true
	}
	// Anything else (Let, Not, And, Or) stays scalar only if it does not
	// mention the loop variable.
	mentions := false
	ir.MutateExpr(e, func(sub ir.Expr) ir.Expr {
		if sub == ir.Expr(v.loopVar) {
			mentions = true
		}
		return sub
	})
	if mentions {
		return nil, true // caller treats nil as not vectorizable
	}
	return e, false
}

func (v *vectorizer) stmt(s ir.Stmt) (ir.Stmt, bool) {
	switch node := s.(type) {
	case *ir.Store:
		value, _ := v.expr(node.Value)
		index, vecIndex := v.expr(node.Index)
		if value == nil || index == nil {
			return nil, false
		}
		if !vecIndex {
			return nil, false // scatter through a scalar index is not vectorizable
		}
		return &ir.Store{Buffer: node.Buffer, Value: v.broadcast(value), Index: index}, true
	case *ir.Evaluate:
		value, _ := v.expr(node.Value)
		if value == nil {
			return nil, false
		}
		return &ir.Evaluate{Value: value}, true
	case *ir.Seq:
		stmts := make([]ir.Stmt, len(node.Stmts))
		for i, sub := range node.Stmts {
			vectorized, ok := v.stmt(sub)
			if !ok {
				return nil, false
			}
			stmts[i] = vectorized
		}
		return &ir.Seq{Stmts: stmts}, true
	}
	return nil, false
}

// injectVirtualThreads serializes virtual-thread annotations into loops over
// the virtual-thread extent.
func injectVirtualThreads(stmt ir.Stmt) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrVirtualThread {
			return s
		}
		thread, ok := attr.Node.(*ir.IterVar)
		if !ok {
			return s
		}
		return &ir.For{LoopVar: thread.Var, Min: ir.Int(0), Extent: attr.Value,
			Kind: ir.ForSerial, Body: attr.Body}
	})
}

// injectDoubleBuffer consumes the double-buffer annotations emitted for
// stages marked with Stage.DoubleBuffer. Pipelining the producer one
// iteration ahead only pays off in generated code; the backends here execute
// allocations serialized, so the annotated storage stays single-buffered and
// the annotation is dropped. DoubleBufferSplitLoop is reserved for backends
// that apply the rewrite.
func injectDoubleBuffer(stmt ir.Stmt, cfg *BuildConfig) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrDoubleBuffer {
			return s
		}
		klog.V(1).Infof("double buffering requested (split factor %d): keeping single-buffered storage",
			cfg.DoubleBufferSplitLoop)
		return attr.Body
	})
}

// rewriteStorage removes allocations whose buffer is never read or written,
// together with their storage-scope attributes.
func rewriteStorage(stmt ir.Stmt) ir.Stmt {
	used := make(map[*ir.Var]bool)
	ir.WalkExprs(stmt, func(e ir.Expr) {
		if load, ok := e.(*ir.Load); ok {
			used[load.Buffer] = true
		}
	})
	ir.WalkStmts(stmt, func(s ir.Stmt) {
		if store, ok := s.(*ir.Store); ok {
			used[store.Buffer] = true
		}
	})
	dead := make(map[*ir.Var]bool)
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		switch node := s.(type) {
		case *ir.Allocate:
			if !used[node.Buffer] {
				dead[node.Buffer] = true
				klog.V(1).Infof("storage rewrite: eliding unused allocation %q", node.Buffer.Name)
				return node.Body
			}
		case *ir.AttrStmt:
			if node.Key == ir.AttrStorageScope {
				if buffer, ok := node.Node.(*ir.Var); ok && dead[buffer] {
					return node.Body
				}
			}
		}
		return s
	})
}

// unrollLoops replicates the bodies of loops marked unrolled, plus small
// constant loops under the auto-unroll thresholds. When UnrollExplicit is off
// the mark is left for the backend.
func unrollLoops(stmt ir.Stmt, cfg *BuildConfig) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		loop, ok := s.(*ir.For)
		if !ok {
			return s
		}
		extent, isConst := loop.Extent.(*ir.IntImm)
		if !isConst {
			return s
		}
		auto := cfg.AutoUnrollMaxStep > 0 && extent.Value <= int64(cfg.AutoUnrollMaxStep) &&
			(cfg.AutoUnrollMaxExtent == 0 || extent.Value <= int64(cfg.AutoUnrollMaxExtent)) &&
			loop.Kind == ir.ForSerial
		if loop.Kind != ir.ForUnrolled && !auto {
			return s
		}
		if !cfg.UnrollExplicit {
			if loop.Kind != ir.ForUnrolled {
				return &ir.For{LoopVar: loop.LoopVar, Min: loop.Min, Extent: loop.Extent,
					Kind: ir.ForUnrolled, Body: loop.Body}
			}
			return s
		}
		unrolled := make([]ir.Stmt, extent.Value)
		for i := range unrolled {
			value := simplifyExpr(ir.Add(loop.Min, ir.Int(i)))
			unrolled[i] = ir.SubstituteVarsStmt(loop.Body, map[*ir.Var]ir.Expr{loop.LoopVar: value})
		}
		return ir.SeqOf(unrolled...)
	})
}

// lowerStorageAccessInfo drops storage-scope attributes left dangling after
// storage rewriting and normalizes the default scope name.
func lowerStorageAccessInfo(stmt ir.Stmt) ir.Stmt {
	allocated := make(map[*ir.Var]bool)
	ir.WalkStmts(stmt, func(s ir.Stmt) {
		if alloc, ok := s.(*ir.Allocate); ok {
			allocated[alloc.Buffer] = true
		}
	})
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrStorageScope {
			return s
		}
		buffer, ok := attr.Node.(*ir.Var)
		if !ok || allocated[buffer] {
			return s
		}
		return attr.Body
	})
}

// removeNoOps strips no-op statements and the scaffolding left empty around
// them.
func removeNoOps(stmt ir.Stmt) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		switch node := s.(type) {
		case *ir.Seq:
			return ir.SeqOf(node.Stmts...)
		case *ir.For:
			if ir.IsNopStmt(node.Body) {
				return ir.NopStmt()
			}
		case *ir.IfThenElse:
			if ir.IsNopStmt(node.Then) && (node.Else == nil || ir.IsNopStmt(node.Else)) {
				return ir.NopStmt()
			}
		case *ir.LetStmt:
			if ir.IsNopStmt(node.Body) {
				return ir.NopStmt()
			}
		case *ir.AttrStmt:
			if ir.IsNopStmt(node.Body) {
				return ir.NopStmt()
			}
		case *ir.Allocate:
			if ir.IsNopStmt(node.Body) {
				return ir.NopStmt()
			}
		}
		return s
	})
}

// exprHasSideEffectRisk reports whether evaluating e unconditionally could
// fault or trap: memory reads and integer division qualify.
func exprHasSideEffectRisk(e ir.Expr) bool {
	risky := false
	ir.MutateExpr(e, func(sub ir.Expr) ir.Expr {
		switch node := sub.(type) {
		case *ir.Load:
			risky = true
		case *ir.Binary:
			if (node.Kind == ir.BinDiv || node.Kind == ir.BinMod) && node.Dtype.IsInt() {
				risky = true
			}
		case *ir.Call:
			if node.Type != ir.CallPureIntrinsic {
				risky = true
			}
		}
		return sub
	})
	return risky
}

// rewriteUnsafeSelects turns Select nodes whose branches could fault into lazy
// if_then_else intrinsic calls, so only the selected branch is evaluated.
func rewriteUnsafeSelects(stmt ir.Stmt) ir.Stmt {
	return ir.MutateStmt(stmt, func(e ir.Expr) ir.Expr {
		sel, ok := e.(*ir.Select)
		if !ok {
			return e
		}
		if !exprHasSideEffectRisk(sel.TrueValue) && !exprHasSideEffectRisk(sel.FalseValue) {
			return e
		}
		return ir.NewCall(sel.TrueValue.DType(), ir.IntrinIfThenElse, ir.CallPureIntrinsic,
			sel.Cond, sel.TrueValue, sel.FalseValue)
	}, nil)
}
