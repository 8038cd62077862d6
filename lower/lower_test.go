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
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/schedule"
	"github.com/tech-ascent/tvm-go/te"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// vecAdd builds c[i] = a[i] + b[i] over n elements.
func vecAdd(n int) (a, b, c te.Tensor) {
	a = te.Placeholder(te.Shape(n), "a", dtypes.Float32)
	b = te.Placeholder(te.Shape(n), "b", dtypes.Float32)
	c = te.Compute(te.Shape(n), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), b.Get(axes[0]))
	}), "c")[0]
	return
}

func TestLowerInjectiveCPUSimpleMode(t *testing.T) {
	a := te.Placeholder(te.Shape(8, 8), "a", dtypes.Float32)
	c := te.Compute(te.Shape(8, 8), te.Elementwise(2, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0], axes[1]), ir.ConstFloat(dtypes.Float32, 1))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	schedule.InjectiveCPU(sched.For(c))

	fn, err := Lower(sched, []any{a, c}, "plusone", &Options{SimpleMode: true})
	require.NoError(t, err)
	require.Equal(t, ir.FuncTypeHost, fn.Type)
	require.Len(t, fn.Args, 2)

	out := fn.Stmt().String()
	require.NotEmpty(t, out)
	require.Contains(t, out, "parallel (")
	require.Contains(t, out, "c[")
	require.Contains(t, out, "a[")

	// Simple mode on a CPU schedule: no GPU or vector artifacts.
	require.NotContains(t, out, "threadIdx")
	require.NotContains(t, out, "blockIdx")
	require.NotContains(t, out, "ramp(")
	require.NotContains(t, out, "thread_extent")
}

func TestLowerIsIdempotent(t *testing.T) {
	a, b, c := vecAdd(8)
	sched := schedule.Create(c.Op)
	schedule.InjectiveCPU(sched.For(c))

	args := []any{a, b, c}
	first, err := Lower(sched, args, "vecadd", &Options{SimpleMode: true})
	require.NoError(t, err)
	second, err := Lower(sched, args, "vecadd", &Options{SimpleMode: true})
	require.NoError(t, err)
	require.Equal(t, first.String(), second.String())
	require.True(t, sched.Normalized())
}

func TestLowerReduction(t *testing.T) {
	a := te.Placeholder(te.Shape(4), "a", dtypes.Float32)
	b := te.Placeholder(te.Shape(4), "b", dtypes.Float32)
	k := te.ReduceAxis(4, "k")
	out := te.Sum(ir.Mul(a.Get(k), b.Get(k)), "out", k)
	sched := schedule.Create(out.Op)

	fn, err := Lower(sched, []any{a, b, out}, "dot", &Options{SimpleMode: true})
	require.NoError(t, err)

	body := fn.Stmt().String()
	require.Contains(t, body, "out[0] = 0f", "accumulator initialized to the identity")
	require.Contains(t, body, "out[0] = (out[0] + ", "update folds into the accumulator")
	require.Contains(t, body, "for (k, 0, 4)")
}

func TestLowerSplitGuard(t *testing.T) {
	a, b, c := vecAdd(10)
	sched := schedule.Create(c.Op)
	stage := sched.For(c)
	stage.Split(stage.Axes[0], 4) // 10 is not divisible by 4

	fn, err := Lower(sched, []any{a, b, c}, "vecadd", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.Contains(t, body, "if (", "non-divisible split keeps its bound guard")
	require.Contains(t, body, "< 10")
}

func TestLowerDivisibleSplitHasNoGuard(t *testing.T) {
	a, b, c := vecAdd(8)
	sched := schedule.Create(c.Op)
	stage := sched.For(c)
	stage.Split(stage.Axes[0], 4)

	fn, err := Lower(sched, []any{a, b, c}, "vecadd", &Options{SimpleMode: true})
	require.NoError(t, err)
	require.NotContains(t, fn.Stmt().String(), "if (")
}

func TestLowerVectorize(t *testing.T) {
	a, b, c := vecAdd(4)
	sched := schedule.Create(c.Op)
	stage := sched.For(c)
	stage.Vectorize(stage.Axes[0])

	fn, err := Lower(sched, []any{a, b, c}, "vecadd", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.Contains(t, body, "ramp(0, 1, 4)")
	require.NotContains(t, body, "vectorized (", "the loop itself is gone")
}

func TestLowerUnroll(t *testing.T) {
	a, b, c := vecAdd(4)
	sched := schedule.Create(c.Op)
	stage := sched.For(c)
	stage.Unroll(stage.Axes[0])

	fn, err := Lower(sched, []any{a, b, c}, "vecadd", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.Contains(t, body, "c[0]")
	require.Contains(t, body, "c[3]")
	require.NotContains(t, body, "unrolled (")
}

func TestLowerGPUInjective(t *testing.T) {
	a, b, c := vecAdd(8)
	sched := schedule.Create(c.Op)
	schedule.InjectiveGPU(sched.For(c), 4)

	fn, err := Lower(sched, []any{a, b, c}, "vecadd", nil)
	require.NoError(t, err)
	require.Equal(t, ir.FuncTypeMixed, fn.Type)
	require.Len(t, fn.ThreadAxes, 2)
	require.Equal(t, "blockIdx.x", fn.ThreadAxes[0].ThreadTag, "outermost launch axis first")
	require.Equal(t, "threadIdx.x", fn.ThreadAxes[1].ThreadTag)

	body := fn.Body.String()
	require.Contains(t, body, "thread_extent")
	require.Contains(t, body, "blockIdx.x")
	require.NotContains(t, body, "for (", "both axes are thread-bound")
}

func TestLowerComputeInline(t *testing.T) {
	a := te.Placeholder(te.Shape(8), "a", dtypes.Float32)
	b := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 2))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	sched.For(b).ComputeInline()

	fn, err := Lower(sched, []any{a, c}, "inline", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.NotContains(t, body, "b[", "inlined stage must not materialize")
	require.NotContains(t, body, "allocate")
	require.Contains(t, body, "(a[")
}

func TestLowerComputeAt(t *testing.T) {
	a := te.Placeholder(te.Shape(8), "a", dtypes.Float32)
	b := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 2))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	cStage := sched.For(c)
	sched.For(b).ComputeAt(cStage, cStage.Axes[0])

	fn, err := Lower(sched, []any{a, c}, "fused", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.Contains(t, body, "allocate b", "attached stage materializes inside the consumer loop")
	require.Contains(t, body, "b[")
}

func TestLowerDoubleBuffer(t *testing.T) {
	a := te.Placeholder(te.Shape(8), "a", dtypes.Float32)
	b := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 2))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	cStage := sched.For(c)
	bStage := sched.For(b)
	bStage.ComputeAt(cStage, cStage.Axes[0])
	bStage.DoubleBuffer()

	// Realization carries the mark as an allocation annotation.
	sched.Normalize()
	stmt := realizeSchedule(sched, inferBounds(sched))
	require.Contains(t, stmt.String(), ir.AttrDoubleBuffer)

	// The pipeline consumes the annotation; the storage itself stays.
	fn, err := Lower(sched, []any{a, c}, "dbuf", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.NotContains(t, body, ir.AttrDoubleBuffer)
	require.Contains(t, body, "allocate b")
}

func TestLowerCacheWrite(t *testing.T) {
	a, b, c := vecAdd(8)
	sched := schedule.Create(c.Op)
	sched.CacheWrite(c, "local")

	fn, err := Lower(sched, []any{a, b, c}, "cached", &Options{SimpleMode: true})
	require.NoError(t, err)
	body := fn.Stmt().String()
	require.Contains(t, body, "allocate c.local")
	require.Contains(t, body, "c.local[")
	require.Contains(t, body, "c[", "the original tensor copies from the cache")
}

func TestLowerRejectsBadArgument(t *testing.T) {
	_, _, c := vecAdd(4)
	sched := schedule.Create(c.Op)
	_, err := Lower(sched, []any{"not a tensor"}, "bad", &Options{SimpleMode: true})
	require.Error(t, err)
}

func TestSimplify(t *testing.T) {
	i := ir.NewVar("i", dtypes.Int32)
	require.Equal(t, "i", simplifyExpr(ir.Add(i, ir.Int(0))).String())
	require.Equal(t, "i", simplifyExpr(ir.Mul(i, ir.Int(1))).String())
	require.Equal(t, "0", simplifyExpr(ir.Mul(i, ir.Int(0))).String())

	folded := simplifyExpr(ir.Add(ir.Int(2), ir.Int(3)))
	require.Equal(t, int64(5), folded.(*ir.IntImm).Value)

	// Division by a zero immediate is left for run time.
	div := ir.Div(ir.Int(1), ir.Int(0))
	require.Equal(t, div, simplifyExpr(div))
}

func TestDefaultBuildConfig(t *testing.T) {
	cfg := DefaultBuildConfig()
	require.True(t, cfg.UnrollExplicit)
	require.True(t, cfg.RestrictedFunc)
	require.Equal(t, 8, cfg.AutoUnrollMaxDepth)
	require.Equal(t, 0, cfg.AutoUnrollMaxStep)
}
