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

package te

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// Rule is an index-to-expression rule for Compute: Fn is evaluated once,
// symbolically, over one data-parallel iteration variable per output
// dimension. Arity declares how many dimensions the rule indexes; it must
// equal the rank of the shape Compute is called with.
type Rule struct {
	Arity int
	Fn    func(axes []*ir.IterVar) []ir.Expr
}

// Elementwise wraps a single-output rule body as a Rule.
func Elementwise(arity int, fn func(axes []*ir.IterVar) ir.Expr) Rule {
	return Rule{
		Arity: arity,
		Fn: func(axes []*ir.IterVar) []ir.Expr {
			return []ir.Expr{fn(axes)}
		},
	}
}

// ComputeOp defines tensor values point-wise: one data-parallel iteration
// variable per output dimension, and one body expression per output tensor.
type ComputeOp struct {
	Name string
	Tag  string

	// Axes has one data-parallel IterVar per output dimension.
	Axes []*ir.IterVar

	// Body has one expression per output tensor.
	Body []ir.Expr
}

// Compute builds a ComputeOp over the given shape and returns one Tensor per
// body expression the rule produced. The rule's declared arity must equal the
// shape's rank.
func Compute(shape []ir.Expr, rule Rule, name string) []Tensor {
	if rule.Arity != len(shape) {
		ir.Throwf(ir.ErrArityMismatch,
			"compute %q: rule indexes %d dimensions but the shape has rank %d",
			name, rule.Arity, len(shape))
	}
	if name == "" {
		name = uniqueName("compute")
	}
	axes := make([]*ir.IterVar, len(shape))
	for i, extent := range shape {
		domain := ir.RangeFromExtent(extent)
		axes[i] = ir.NewIterVar(&domain, fmt.Sprintf("i%d", i), ir.IterDataParallel, "")
	}
	body := rule.Fn(axes)
	if len(body) == 0 {
		exceptions.Panicf("compute %q: rule returned no body expressions", name)
	}
	for i, e := range body {
		if e == nil {
			exceptions.Panicf("compute %q: body expression %d is nil", name, i)
		}
	}
	checkFreeVars(name, body, axes)
	op := &ComputeOp{Name: name, Axes: axes, Body: body}
	tensors := make([]Tensor, len(body))
	for i := range body {
		tensors[i] = Tensor{Op: op, Index: i}
	}
	return tensors
}

// checkFreeVars verifies the only free variables in the body are the op's own
// iteration variables (let-bound variables are fine).
func checkFreeVars(name string, body []ir.Expr, axes []*ir.IterVar) {
	allowed := make(map[*ir.Var]bool, len(axes))
	for _, axis := range axes {
		allowed[axis.Var] = true
	}
	for _, e := range body {
		// Let-bound variables first: the walk is bottom-up, so occurrences
		// inside a let body are visited before the Let node itself.
		ir.MutateExpr(e, func(node ir.Expr) ir.Expr {
			if let, ok := node.(*ir.Let); ok {
				allowed[let.Var] = true
			}
			return node
		})
	}
	for _, e := range body {
		ir.MutateExpr(e, func(node ir.Expr) ir.Expr {
			if v, ok := node.(*ir.Var); ok && !allowed[v] {
				exceptions.Panicf(
					"compute %q: body references variable %q which is not one of the op's iteration variables",
					name, v.Name)
			}
			return node
		})
	}
}

func (op *ComputeOp) OpName() string { return op.Name }

func (op *ComputeOp) NumOutputs() int { return len(op.Body) }

func (op *ComputeOp) OutputDType(i int) dtypes.DType { return op.Body[i].DType() }

func (op *ComputeOp) OutputShape(int) []ir.Expr {
	shape := make([]ir.Expr, len(op.Axes))
	for i, axis := range op.Axes {
		shape[i] = axis.Domain.Extent
	}
	return shape
}

func (op *ComputeOp) InputOps() []ir.Operation { return inputOpsOf(op.Body) }
