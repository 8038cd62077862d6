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
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

func TestBinaryPromotion(t *testing.T) {
	i := NewVar("i", dtypes.Int32)
	x := NewVar("x", dtypes.Float32)

	sum := Add(i, Int(1))
	require.Equal(t, dtypes.Int32, sum.DType())

	// Mixed int/float promotes to float and casts the int side.
	mixed := Mul(x, i)
	require.Equal(t, dtypes.Float32, mixed.DType())
	binary := mixed.(*Binary)
	cast, ok := binary.B.(*Cast)
	require.True(t, ok, "int operand must be cast to the promoted dtype")
	require.Equal(t, dtypes.Float32, cast.Dtype)

	// Incompatible dtypes throw.
	b := NewVar("b", dtypes.Bool)
	err := CatchError(func() { Add(b, i) })
	require.Error(t, err)
}

func TestCastToFoldsImmediates(t *testing.T) {
	require.Equal(t, Int(7), CastTo(dtypes.Int32, Int(7)), "same dtype is the identity")

	folded := CastTo(dtypes.Float32, Int(7))
	imm, ok := folded.(*FloatImm)
	require.True(t, ok)
	require.Equal(t, 7.0, imm.Value)

	truncated := CastTo(dtypes.Int32, ConstFloat(dtypes.Float64, 2.9))
	iimm, ok := truncated.(*IntImm)
	require.True(t, ok)
	require.Equal(t, int64(2), iimm.Value)

	v := NewVar("x", dtypes.Float32)
	cast := CastTo(dtypes.Float64, v)
	require.IsType(t, &Cast{}, cast)
}

func TestFloatImmStoragePrecision(t *testing.T) {
	imm := ConstFloat(dtypes.Float16, 1.1)
	require.Equal(t, dtypes.TruncateToStorage(dtypes.Float16, 1.1), imm.Value)
}

func TestLogicalOpsRequireBool(t *testing.T) {
	i := NewVar("i", dtypes.Int32)
	cond := Lt(i, Int(10))
	require.Equal(t, dtypes.Bool, cond.DType())

	require.NoError(t, CatchError(func() { LogicalAnd(cond, Ne(i, Int(3))) }))
	require.Error(t, CatchError(func() { LogicalNot(i) }))
	require.Error(t, CatchError(func() { NewSelect(i, Int(1), Int(2)) }))
}

func TestSelectBranchDTypes(t *testing.T) {
	cond := Lt(Int(1), Int(2))
	require.NoError(t, CatchError(func() { NewSelect(cond, Int(1), Int(2)) }))
	err := CatchError(func() {
		NewSelect(cond, Int(1), ConstFloat(dtypes.Float32, 2))
	})
	require.Error(t, err)
}

func TestIntrinsicDTypeChecks(t *testing.T) {
	x := NewVar("x", dtypes.Float32)
	i := NewVar("i", dtypes.Int32)

	require.Equal(t, dtypes.Float32, Exp(x).DType())
	require.Equal(t, dtypes.Int32, Popcount(i).DType())
	require.Error(t, CatchError(func() { Sqrt(i) }))
	require.Error(t, CatchError(func() { Popcount(x) }))
	require.Equal(t, dtypes.Float32, Pow(x, x).DType())
}

func TestLetSeq(t *testing.T) {
	a := NewVar("a", dtypes.Int32)
	b := NewVar("b", dtypes.Int32)
	expr := LetSeq([]Binding{
		{Var: a, Value: Int(1)},
		{Var: b, Value: Add(a, Int(2))}, // may reference the earlier binding
	}, Add(a, b))

	outer, ok := expr.(*Let)
	require.True(t, ok)
	require.Same(t, a, outer.Var, "first binding is outermost")
	inner, ok := outer.Body.(*Let)
	require.True(t, ok)
	require.Same(t, b, inner.Var)
}

func TestIterVarValidation(t *testing.T) {
	domain := RangeFromExtent(Int(8))
	iv := NewIterVar(&domain, "i", IterDataParallel, "")
	extent, ok := iv.ExtentInt()
	require.True(t, ok)
	require.Equal(t, int64(8), extent)

	// Unknown kinds throw ErrInvalidIterationKind.
	err := CatchError(func() { NewIterVar(&domain, "bad", IterKind(99), "") })
	require.ErrorIs(t, err, ErrInvalidIterationKind)

	// A nil domain is only allowed for kinds bound externally.
	err = CatchError(func() { NewIterVar(nil, "i", IterDataParallel, "") })
	require.ErrorIs(t, err, ErrInvalidIterationKind)
	require.NotPanics(t, func() { ThreadAxis("threadIdx.x") })
	require.Equal(t, "threadIdx.x", ThreadAxis("threadIdx.x").ThreadTag)
}

func TestBufferFlatIndex(t *testing.T) {
	buf := DeclBuffer([]Expr{Int(4), Int(5)}, dtypes.Float32, "a")
	i := NewVar("i", dtypes.Int32)
	j := NewVar("j", dtypes.Int32)

	// Row-major: i*5 + j.
	idx := buf.FlatIndex([]Expr{i, j})
	require.Equal(t, "((i * 5) + j)", idx.String())

	err := CatchError(func() { buf.FlatIndex([]Expr{i}) })
	require.ErrorIs(t, err, ErrShapeRankMismatch)

	// Declared strides win over row-major.
	buf.Strides = []Expr{Int(1), Int(4)} // column-major
	idx = buf.FlatIndex([]Expr{i, j})
	require.Equal(t, "((i * 1) + (j * 4))", idx.String())

	// Scalars get a one-element buffer.
	scalar := DeclBuffer(nil, dtypes.Float32, "s")
	require.Len(t, scalar.Shape, 1)
}

func TestSeqOfFlattensAndDropsNops(t *testing.T) {
	s1 := &Evaluate{Value: NewVar("x", dtypes.Int32)}
	s2 := &Evaluate{Value: NewVar("y", dtypes.Int32)}

	require.True(t, IsNopStmt(NopStmt()))
	require.True(t, IsNopStmt(SeqOf()))
	require.Equal(t, s1, SeqOf(nil, NopStmt(), s1))

	seq := SeqOf(s1, SeqOf(s2, NopStmt())).(*Seq)
	require.Len(t, seq.Stmts, 2)
}

func TestSubstituteVarsSharesUnchangedSubtrees(t *testing.T) {
	i := NewVar("i", dtypes.Int32)
	j := NewVar("j", dtypes.Int32)
	k := NewVar("k", dtypes.Int32)

	left := Add(j, Int(1))
	expr := Mul(left, i)
	got := SubstituteVars(expr, map[*Var]Expr{i: k})
	require.Equal(t, "((j + 1) * k)", got.String())
	require.Same(t, left, got.(*Binary).A, "untouched subtree must be shared, not copied")

	require.Same(t, expr, SubstituteVars(expr, nil), "empty substitution is the identity")
}

func TestPrinter(t *testing.T) {
	i := NewVar("i", dtypes.Int32)
	domain := RangeFromExtent(Int(4))
	loop := &For{
		LoopVar: i,
		Min:     domain.Min,
		Extent:  domain.Extent,
		Kind:    ForParallel,
		Body:    &Evaluate{Value: Add(i, Int(1))},
	}
	out := loop.String()
	require.Contains(t, out, "parallel")
	require.Contains(t, out, "(i + 1)")

	sel := NewSelect(Lt(i, Int(2)), Int(1), Int(0))
	require.Contains(t, sel.String(), "select")
}

func TestThrowfCarriesKindAndMessage(t *testing.T) {
	err := CatchError(func() {
		Throwf(ErrIllegalTransform, "axis %q gone", "i0")
	})
	require.ErrorIs(t, err, ErrIllegalTransform)
	require.Contains(t, err.Error(), `axis "i0" gone`)

	require.NoError(t, CatchError(func() {}))
}
