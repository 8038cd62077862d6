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

// Package te builds tensor expressions: operations that define the values of
// tensors point-wise, from an index-indexed rule (Compute) or a commutative
// fold (CommutativeReduce), plus Placeholder inputs.
//
// A Tensor is a lightweight reference to one output of a producing operation;
// many tensors may share one operation. Operations and the expressions inside
// them are immutable once built; scheduling state lives in package schedule,
// never on the operation graph.
//
// Builders validate eagerly and throw (panic) with an error carrying a stack
// trace on user errors, in the style of the rest of the frontend; see
// ir.CatchError to convert to a returned error.
package te

import (
	"fmt"
	"sync/atomic"

	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// Tensor references one output of a producing operation. Its shape and dtype
// derive from the operation.
type Tensor struct {
	Op    ir.Operation
	Index int
}

// Shape returns the tensor's shape as ordered extents.
func (t Tensor) Shape() []ir.Expr { return t.Op.OutputShape(t.Index) }

// DType returns the tensor's element type.
func (t Tensor) DType() dtypes.DType { return t.Op.OutputDType(t.Index) }

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape()) }

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, shape=[%s], %s)", t.Op.OpName(), joinShape(t.Shape()), t.DType())
}

func joinShape(shape []ir.Expr) string {
	out := ""
	for i, d := range shape {
		if i > 0 {
			out += ", "
		}
		out += d.String()
	}
	return out
}

// Get returns the expression reading the tensor at the given indices. Each
// index must be an *ir.IterVar or an ir.Expr; the number of indices must
// equal the tensor's rank.
func (t Tensor) Get(indices ...any) ir.Expr {
	if len(indices) != t.Rank() {
		ir.Throwf(ir.ErrShapeRankMismatch,
			"tensor %q has rank %d, accessed with %d indices",
			t.Op.OpName(), t.Rank(), len(indices))
	}
	exprs := make([]ir.Expr, len(indices))
	for i, index := range indices {
		switch idx := index.(type) {
		case *ir.IterVar:
			exprs[i] = idx.Var
		case ir.Expr:
			exprs[i] = idx
		default:
			ir.Throwf(ir.ErrInvalidIndex,
				"index %d of tensor %q is a %T; want an iteration variable or an expression",
				i, t.Op.OpName(), index)
		}
	}
	return &ir.TensorRead{Op: t.Op, OutputIndex: t.Index, Indices: exprs}
}

// Shape converts integer dimensions to the []ir.Expr form the builders take.
func Shape(dims ...int) []ir.Expr {
	shape := make([]ir.Expr, len(dims))
	for i, d := range dims {
		shape[i] = ir.Int(d)
	}
	return shape
}

// PlaceholderOp is an input tensor: an operation with no body whose values
// are provided at execution time.
type PlaceholderOp struct {
	Name  string
	Shp   []ir.Expr
	Dtype dtypes.DType
}

// Placeholder declares an input tensor with the given shape, name and dtype.
func Placeholder(shape []ir.Expr, name string, dtype dtypes.DType) Tensor {
	if name == "" {
		name = uniqueName("placeholder")
	}
	return Tensor{Op: &PlaceholderOp{Name: name, Shp: shape, Dtype: dtype}}
}

func (op *PlaceholderOp) OpName() string               { return op.Name }
func (op *PlaceholderOp) NumOutputs() int              { return 1 }
func (op *PlaceholderOp) OutputDType(int) dtypes.DType { return op.Dtype }
func (op *PlaceholderOp) OutputShape(int) []ir.Expr    { return op.Shp }
func (op *PlaceholderOp) InputOps() []ir.Operation     { return nil }

var nameCounter atomic.Int64

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, nameCounter.Add(1))
}

// inputOpsOf collects the distinct producing operations read by the given
// expressions, in first-seen order.
func inputOpsOf(exprs []ir.Expr) []ir.Operation {
	seen := make(map[ir.Operation]bool)
	var ops []ir.Operation
	for _, e := range exprs {
		ir.MutateExpr(e, func(node ir.Expr) ir.Expr {
			if read, ok := node.(*ir.TensorRead); ok && !seen[read.Op] {
				seen[read.Op] = true
				ops = append(ops, read.Op)
			}
			return node
		})
	}
	return ops
}
