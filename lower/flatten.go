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
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/ir"
)

// bufferKey identifies one output tensor of an operation.
type bufferKey struct {
	op    ir.Operation
	index int
}

// flattenStorage rewrites the tensor-level statement tree into flat-memory
// form: Provide becomes Store, TensorRead becomes Load, and each Realize of a
// non-argument tensor becomes an Allocate wrapped in its storage-scope
// attribute. Realizes of tensors bound to argument buffers disappear; their
// accesses address the bound buffer directly.
func flattenStorage(stmt ir.Stmt, binds map[bufferKey]*ir.Buffer) ir.Stmt {
	f := &flattener{buffers: make(map[bufferKey]*ir.Buffer), external: binds}
	f.collectScopes(stmt)
	f.declareRealized(stmt)
	return ir.MutateStmt(stmt, f.flattenExpr, f.flattenStmt)
}

type flattener struct {
	buffers  map[bufferKey]*ir.Buffer
	external map[bufferKey]*ir.Buffer
	scopes   map[ir.Operation]string
}

func (f *flattener) collectScopes(stmt ir.Stmt) {
	f.scopes = make(map[ir.Operation]string)
	ir.WalkStmts(stmt, func(s ir.Stmt) {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrRealizeScope {
			return
		}
		op, ok := attr.Node.(ir.Operation)
		if !ok {
			return
		}
		f.scopes[op] = attr.Value.(*ir.StringImm).Value
	})
}

func (f *flattener) bufferFor(key bufferKey) *ir.Buffer {
	if buf, ok := f.external[key]; ok {
		return buf
	}
	buf, ok := f.buffers[key]
	if !ok {
		exceptions.Panicf("storage flattening: tensor %q.%d accessed outside its realize scope",
			key.op.OpName(), key.index)
	}
	return buf
}

// flatIndex folds tensor indices into a flat offset. A scalar access (no
// indices) of a one-element buffer addresses element zero.
func flatIndex(buf *ir.Buffer, indices []ir.Expr) ir.Expr {
	if len(indices) == 0 && len(buf.Shape) == 1 {
		indices = []ir.Expr{ir.Int(0)}
	}
	return buf.FlatIndex(indices)
}

func (f *flattener) flattenExpr(e ir.Expr) ir.Expr {
	read, ok := e.(*ir.TensorRead)
	if !ok {
		return e
	}
	buf := f.bufferFor(bufferKey{read.Op, read.OutputIndex})
	return &ir.Load{Dtype: buf.Dtype, Buffer: buf.Data, Index: flatIndex(buf, read.Indices)}
}

func (f *flattener) flattenStmt(s ir.Stmt) ir.Stmt {
	switch node := s.(type) {
	case *ir.AttrStmt:
		// Realize scopes were collected up front and reappear as the
		// storage-scope attribute on the allocation.
		if node.Key == ir.AttrRealizeScope {
			return node.Body
		}
	case *ir.Provide:
		buf := f.bufferFor(bufferKey{node.Op, node.OutputIndex})
		return &ir.Store{Buffer: buf.Data, Value: node.Value, Index: flatIndex(buf, node.Indices)}
	case *ir.Realize:
		key := bufferKey{node.Op, node.OutputIndex}
		if _, isArg := f.external[key]; isArg {
			return node.Body
		}
		buf := f.buffers[key]
		extents := make([]ir.Expr, len(node.Bounds))
		for i, b := range node.Bounds {
			extents[i] = b.Extent
		}
		scope := f.scopes[node.Op]
		if scope == "" {
			scope = "global"
		}
		var body ir.Stmt = &ir.Allocate{Buffer: buf.Data, Dtype: node.Dtype, Extents: extents, Body: node.Body}
		return &ir.AttrStmt{Node: buf.Data, Key: ir.AttrStorageScope, Value: &ir.StringImm{Value: scope}, Body: body}
	}
	return s
}

// declareRealized pre-declares a buffer for every realized (non-argument)
// tensor, so accesses inside the realize body can resolve before the Realize
// node itself is rewritten (statement mutation runs bottom-up).
func (f *flattener) declareRealized(stmt ir.Stmt) {
	ir.WalkStmts(stmt, func(s ir.Stmt) {
		realize, ok := s.(*ir.Realize)
		if !ok {
			return
		}
		key := bufferKey{realize.Op, realize.OutputIndex}
		if _, isArg := f.external[key]; isArg {
			return
		}
		if _, seen := f.buffers[key]; seen {
			return
		}
		name := realize.Op.OpName()
		if realize.Op.NumOutputs() > 1 {
			name = fmt.Sprintf("%s.v%d", name, realize.OutputIndex)
		}
		shape := make([]ir.Expr, len(realize.Bounds))
		for i, b := range realize.Bounds {
			shape[i] = b.Extent
		}
		buf := ir.DeclBuffer(shape, realize.Dtype, name)
		buf.Scope = f.scopes[realize.Op]
		buf.DataAlignment = cacheLineSize
		f.buffers[key] = buf
	})
}
