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
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

func TestPlaceholderAndGet(t *testing.T) {
	a := Placeholder(Shape(3, 4), "a", dtypes.Float32)
	require.Equal(t, 2, a.Rank())
	require.Equal(t, dtypes.Float32, a.DType())
	require.Equal(t, "a", a.Op.OpName())

	i := ir.NewVar("i", dtypes.Int32)
	read := a.Get(i, ir.Int(0))
	require.Equal(t, dtypes.Float32, read.DType())

	// Rank mismatch.
	err := ir.CatchError(func() { a.Get(i) })
	require.ErrorIs(t, err, ir.ErrShapeRankMismatch)

	// Index of an unsupported type.
	err = ir.CatchError(func() { a.Get(i, "zero") })
	require.ErrorIs(t, err, ir.ErrInvalidIndex)

	// Placeholders get a unique name when none is given.
	p1 := Placeholder(Shape(2), "", dtypes.Int32)
	p2 := Placeholder(Shape(2), "", dtypes.Int32)
	require.NotEqual(t, p1.Op.OpName(), p2.Op.OpName())
}

func TestCompute(t *testing.T) {
	a := Placeholder(Shape(3, 4), "a", dtypes.Float32)
	outs := Compute(Shape(3, 4), Elementwise(2, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(a.Get(axes[0], axes[1]), ir.ConstFloat(dtypes.Float32, 2))
	}), "double")
	require.Len(t, outs, 1)
	out := outs[0]

	require.Equal(t, dtypes.Float32, out.DType())
	require.Equal(t, 2, out.Rank())
	op := out.Op.(*ComputeOp)
	require.Len(t, op.Axes, 2)
	for _, axis := range op.Axes {
		require.Equal(t, ir.IterDataParallel, axis.Kind)
	}
	require.Equal(t, []ir.Operation{a.Op}, op.InputOps())
}

func TestComputeMultiOutput(t *testing.T) {
	a := Placeholder(Shape(8), "a", dtypes.Float32)
	outs := Compute(Shape(8), Rule{
		Arity: 1,
		Fn: func(axes []*ir.IterVar) []ir.Expr {
			v := a.Get(axes[0])
			return []ir.Expr{v, ir.Mul(v, v)}
		},
	}, "dup")
	require.Len(t, outs, 2)
	require.Equal(t, outs[0].Op, outs[1].Op)
	require.Equal(t, 0, outs[0].Index)
	require.Equal(t, 1, outs[1].Index)
}

func TestComputeArityMismatch(t *testing.T) {
	err := ir.CatchError(func() {
		Compute(Shape(3, 4), Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
			return ir.Int(0)
		}), "bad")
	})
	require.ErrorIs(t, err, ir.ErrArityMismatch)
}

func TestComputeRejectsFreeVariables(t *testing.T) {
	stray := ir.NewVar("stray", dtypes.Int32)
	err := ir.CatchError(func() {
		Compute(Shape(4), Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
			return ir.Add(axes[0].Var, stray)
		}), "bad")
	})
	require.Error(t, err)

	// Let-bound variables are fine.
	bound := ir.NewVar("b", dtypes.Int32)
	require.NoError(t, ir.CatchError(func() {
		Compute(Shape(4), Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
			return &ir.Let{Var: bound, Value: axes[0].Var, Body: ir.Add(bound, ir.Int(1))}
		}), "ok")
	}))
}

func TestCommutativeReduce(t *testing.T) {
	a := Placeholder(Shape(16), "a", dtypes.Float32)
	k := ReduceAxis(16, "k")
	out := Sum(a.Get(k), "total", k)

	require.Equal(t, dtypes.Float32, out.DType())
	require.Equal(t, 0, out.Rank(), "reductions produce scalars")
	op := out.Op.(*ReduceOp)
	require.Len(t, op.Reducer.RHS, 1)
	require.Equal(t, []ir.Operation{a.Op}, op.InputOps())
}

func TestReduceValidation(t *testing.T) {
	a := Placeholder(Shape(16), "a", dtypes.Float32)
	k := ReduceAxis(16, "k")

	// Combine arity must be 1 accumulator + #sources.
	err := ir.CatchError(func() {
		CommutativeReduce(CombineRule{
			Arity: 3,
			Fn:    func(acc *ir.Var, inputs []*ir.Var) ir.Expr { return acc },
		}, ir.ConstFloat(dtypes.Float32, 0), dtypes.Float32,
			[]ir.Expr{a.Get(k)}, []*ir.IterVar{k}, "bad")
	})
	require.ErrorIs(t, err, ir.ErrArityMismatch)

	// Identity must have the reduction dtype.
	err = ir.CatchError(func() {
		CommutativeReduce(SumCombine(), ir.Int(0), dtypes.Float32,
			[]ir.Expr{a.Get(k)}, []*ir.IterVar{k}, "bad")
	})
	require.Error(t, err)

	// Axes must be communicative-reduce kind.
	domain := ir.RangeFromExtent(ir.Int(16))
	dataAxis := ir.NewIterVar(&domain, "i", ir.IterDataParallel, "")
	err = ir.CatchError(func() {
		Sum(a.Get(dataAxis), "bad", dataAxis)
	})
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestReduceCastsSourcesToDType(t *testing.T) {
	a := Placeholder(Shape(4), "a", dtypes.Int32)
	k := ReduceAxis(4, "k")
	out := CommutativeReduce(SumCombine(), ir.ConstFloat(dtypes.Float64, 0), dtypes.Float64,
		[]ir.Expr{a.Get(k)}, []*ir.IterVar{k}, "acc64")
	op := out.Op.(*ReduceOp)
	require.Equal(t, dtypes.Float64, op.Sources[0].DType())
}
