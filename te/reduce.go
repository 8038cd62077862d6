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

// CombineRule is the binary combine function of a commutative reduction. Fn
// is invoked once, symbolically, with the accumulator variable and one input
// variable per source expression; Arity declares 1 (accumulator) + number of
// inputs and must match the reduction's source count.
type CombineRule struct {
	Arity int
	Fn    func(acc *ir.Var, inputs []*ir.Var) ir.Expr
}

// ReduceOp folds a combine function over the Cartesian product of its
// reduction axes' domains, starting from an identity value. The output is a
// scalar tensor.
type ReduceOp struct {
	Name  string
	Dtype dtypes.DType

	// Reducer holds the captured combine expression, its accumulator and
	// input variables, and the identity value.
	Reducer *ir.CommReducer

	// Sources are evaluated at each reduction point and fed to the combine
	// function, one per input variable.
	Sources []ir.Expr

	// Axes are the reduction axes, all of communicative-reduce kind.
	Axes []*ir.IterVar
}

// ReduceAxis returns a communicative-reduce iteration variable over
// [0, extent), for use as a CommutativeReduce axis.
func ReduceAxis(extent int, name string) *ir.IterVar {
	domain := ir.RangeFromExtent(ir.Int(extent))
	return ir.NewIterVar(&domain, name, ir.IterCommReduce, "")
}

// CommutativeReduce builds a reduction: conceptually, an accumulator is
// initialized to identity and combine(accumulator, sources...) is folded over
// every point of the reduction axes' domains, in unspecified order.
//
// The combine function must be associative and commutative; that is the
// caller's obligation and is not checked: there is no equality oracle for
// arbitrary symbolic expressions.
func CommutativeReduce(combine CombineRule, identity ir.Expr, dtype dtypes.DType,
	sources []ir.Expr, axes []*ir.IterVar, name string) Tensor {
	if combine.Arity != 1+len(sources) {
		ir.Throwf(ir.ErrArityMismatch,
			"reduction %q: combine function has arity %d, want 1 accumulator + %d inputs",
			name, combine.Arity, len(sources))
	}
	if len(sources) == 0 {
		exceptions.Panicf("reduction %q: no source expressions", name)
	}
	if len(axes) == 0 {
		exceptions.Panicf("reduction %q: no reduction axes", name)
	}
	if identity.DType() != dtype {
		exceptions.Panicf("reduction %q: identity value has dtype %s, want the reduction dtype %s",
			name, identity.DType(), dtype)
	}
	for i, axis := range axes {
		if axis.Kind != ir.IterCommReduce {
			ir.Throwf(ir.ErrIllegalTransform,
				"reduction %q: axis %d (%q) has kind %s, want %s",
				name, i, axis.Var.Name, axis.Kind, ir.IterCommReduce)
		}
	}
	if name == "" {
		name = uniqueName("reduce")
	}

	// Capture the combine expression symbolically, once.
	acc := ir.NewVar(name+".acc", dtype)
	inputs := make([]*ir.Var, len(sources))
	castSources := make([]ir.Expr, len(sources))
	for i, src := range sources {
		inputs[i] = ir.NewVar(fmt.Sprintf("%s.in%d", name, i), dtype)
		castSources[i] = ir.CastTo(dtype, src)
	}
	result := combine.Fn(acc, inputs)
	if result.DType() != dtype {
		exceptions.Panicf("reduction %q: combine function produces dtype %s, want %s",
			name, result.DType(), dtype)
	}

	op := &ReduceOp{
		Name:  name,
		Dtype: dtype,
		Reducer: &ir.CommReducer{
			LHS:      acc,
			RHS:      inputs,
			Result:   result,
			Identity: identity,
		},
		Sources: castSources,
		Axes:    axes,
	}
	return Tensor{Op: op}
}

// SumCombine is the addition combine rule for a single source.
func SumCombine() CombineRule {
	return CombineRule{
		Arity: 2,
		Fn: func(acc *ir.Var, inputs []*ir.Var) ir.Expr {
			return ir.Add(acc, inputs[0])
		},
	}
}

// Sum reduces source by addition over the given axes.
func Sum(source ir.Expr, name string, axes ...*ir.IterVar) Tensor {
	dtype := source.DType()
	return CommutativeReduce(SumCombine(), ir.Const(dtype, 0), dtype,
		[]ir.Expr{source}, axes, name)
}

func (op *ReduceOp) OpName() string { return op.Name }

func (op *ReduceOp) NumOutputs() int { return 1 }

func (op *ReduceOp) OutputDType(int) dtypes.DType { return op.Dtype }

// OutputShape of a reduction is scalar: every axis is folded away.
func (op *ReduceOp) OutputShape(int) []ir.Expr { return nil }

func (op *ReduceOp) InputOps() []ir.Operation { return inputOpsOf(op.Sources) }
