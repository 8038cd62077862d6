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

package build

import (
	"fmt"

	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/types/dtypes"
	"k8s.io/klog/v2"
)

// splitHostDevice splits one mixed function into a host function plus one
// device kernel per outermost thread-extent region. Each region is replaced
// in the host body by a packed call launching the kernel with the variables
// the region captures.
func splitHostDevice(fn *ir.LoweredFunc) (host *ir.LoweredFunc, kernels []*ir.LoweredFunc) {
	s := &splitter{fnName: fn.Name}
	body := s.rewrite(fn.Body)
	host = &ir.LoweredFunc{
		Name:       fn.Name,
		Args:       fn.Args,
		Body:       body,
		Type:       ir.FuncTypeHost,
		Restricted: fn.Restricted,
	}
	return host, s.kernels
}

type splitter struct {
	fnName  string
	kernels []*ir.LoweredFunc
}

// rewrite walks the host body top-down, cutting at the outermost
// thread-extent attribute.
func (s *splitter) rewrite(stmt ir.Stmt) ir.Stmt {
	switch node := stmt.(type) {
	case *ir.AttrStmt:
		if node.Key == ir.AttrThreadExtent {
			return s.extractKernel(node)
		}
		return &ir.AttrStmt{Node: node.Node, Key: node.Key, Value: node.Value, Body: s.rewrite(node.Body)}
	case *ir.LetStmt:
		return &ir.LetStmt{Var: node.Var, Value: node.Value, Body: s.rewrite(node.Body)}
	case *ir.AssertStmt:
		return &ir.AssertStmt{Cond: node.Cond, Message: node.Message, Body: s.rewrite(node.Body)}
	case *ir.For:
		return &ir.For{LoopVar: node.LoopVar, Min: node.Min, Extent: node.Extent,
			Kind: node.Kind, Body: s.rewrite(node.Body)}
	case *ir.Allocate:
		return &ir.Allocate{Buffer: node.Buffer, Dtype: node.Dtype, Extents: node.Extents,
			Body: s.rewrite(node.Body)}
	case *ir.IfThenElse:
		var els ir.Stmt
		if node.Else != nil {
			els = s.rewrite(node.Else)
		}
		return &ir.IfThenElse{Cond: node.Cond, Then: s.rewrite(node.Then), Else: els}
	case *ir.Seq:
		stmts := make([]ir.Stmt, len(node.Stmts))
		for i, sub := range node.Stmts {
			stmts[i] = s.rewrite(sub)
		}
		return &ir.Seq{Stmts: stmts}
	}
	return stmt
}

// extractKernel turns one thread-extent region into a device kernel and
// returns the packed call launching it.
func (s *splitter) extractKernel(region *ir.AttrStmt) ir.Stmt {
	name := fmt.Sprintf("%s_kernel%d", s.fnName, len(s.kernels))
	captured, threadAxes := capturedVars(region)

	args := make([]ir.Arg, len(captured))
	callArgs := make([]ir.Expr, len(captured))
	for i, v := range captured {
		args[i] = ir.Arg{Var: v}
		callArgs[i] = v
	}
	s.kernels = append(s.kernels, &ir.LoweredFunc{
		Name:       name,
		Args:       args,
		Body:       region,
		Type:       ir.FuncTypeDevice,
		ThreadAxes: threadAxes,
	})
	launch := ir.NewCall(dtypes.Int32, name, ir.CallPacked, callArgs...)
	return &ir.Evaluate{Value: launch}
}

// capturedVars returns the free variables of a kernel region in first-use
// order, plus the thread axes the region binds.
func capturedVars(region ir.Stmt) ([]*ir.Var, []*ir.IterVar) {
	defined := make(map[*ir.Var]bool)
	var threadAxes []*ir.IterVar
	ir.WalkStmts(region, func(s ir.Stmt) {
		switch node := s.(type) {
		case *ir.AttrStmt:
			if node.Key != ir.AttrThreadExtent && node.Key != ir.AttrVirtualThread {
				return
			}
			if axis, ok := node.Node.(*ir.IterVar); ok {
				defined[axis.Var] = true
				if node.Key == ir.AttrThreadExtent {
					threadAxes = append(threadAxes, axis)
				}
			}
		case *ir.For:
			defined[node.LoopVar] = true
		case *ir.LetStmt:
			defined[node.Var] = true
		case *ir.Allocate:
			defined[node.Buffer] = true
		}
	})
	ir.WalkExprs(region, func(e ir.Expr) {
		if let, ok := e.(*ir.Let); ok {
			defined[let.Var] = true
		}
	})

	seen := make(map[*ir.Var]bool)
	var captured []*ir.Var
	record := func(v *ir.Var) {
		if defined[v] || seen[v] {
			return
		}
		seen[v] = true
		captured = append(captured, v)
	}
	ir.WalkExprs(region, func(e ir.Expr) {
		switch node := e.(type) {
		case *ir.Var:
			record(node)
		case *ir.Load:
			record(node.Buffer)
		}
	})
	ir.WalkStmts(region, func(s ir.Stmt) {
		if store, ok := s.(*ir.Store); ok {
			record(store.Buffer)
		}
	})

	// Thread axes bound inside come innermost first; launches list them
	// outermost first.
	for i, j := 0, len(threadAxes)-1; i < j; i, j = i+1, j-1 {
		threadAxes[i], threadAxes[j] = threadAxes[j], threadAxes[i]
	}
	return captured, threadAxes
}

// lowerThreadAllreduce lowers cross-thread reduction intrinsics for the given
// warp size. The warp-shuffle form needs codegen support the backends do not
// have yet, so the intrinsic collapses to its operand, which is correct under
// serialized thread semantics.
func lowerThreadAllreduce(fn *ir.LoweredFunc, warpSize int) *ir.LoweredFunc {
	body := ir.MutateStmt(fn.Body, func(e ir.Expr) ir.Expr {
		call, ok := e.(*ir.Call)
		if !ok || call.Name != ir.IntrinThreadAllreduce {
			return e
		}
		if warpSize > 1 {
			klog.V(1).Infof("thread allreduce in %q: serializing (warp size %d)", fn.Name, warpSize)
		}
		return call.Args[0]
	}, nil)
	if body == fn.Body {
		return fn
	}
	out := *fn
	out.Body = body
	return &out
}
