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

package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/te"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// double builds a 2-D element-wise compute over the given shape, for use as a
// scheduling guinea pig.
func double(t *testing.T, dims ...int) (te.Tensor, *Schedule, *Stage) {
	t.Helper()
	a := te.Placeholder(te.Shape(dims...), "a", dtypes.Float32)
	rule := te.Elementwise(len(dims), func(axes []*ir.IterVar) ir.Expr {
		indices := make([]any, len(axes))
		for i, axis := range axes {
			indices[i] = axis
		}
		return ir.Mul(a.Get(indices...), ir.ConstFloat(dtypes.Float32, 2))
	})
	c := te.Compute(te.Shape(dims...), rule, "c")[0]
	sched := Create(c.Op)
	return c, sched, sched.For(c)
}

func extentOf(t *testing.T, axis *ir.IterVar) int64 {
	t.Helper()
	extent, ok := axis.ExtentInt()
	require.True(t, ok, "axis %s must have a constant extent", axis)
	return extent
}

func TestCreateOrdersProducersFirst(t *testing.T) {
	a := te.Placeholder(te.Shape(4), "a", dtypes.Float32)
	b := te.Compute(te.Shape(4), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(4), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), b.Get(axes[0]))
	}), "c")[0]

	sched := Create(c.Op)
	require.Len(t, sched.Stages, 3)
	require.Equal(t, a.Op, sched.Stages[0].Op)
	require.Equal(t, b.Op, sched.Stages[1].Op)
	require.Equal(t, c.Op, sched.Stages[2].Op)

	// Operations outside the schedule throw.
	other := te.Placeholder(te.Shape(1), "other", dtypes.Float32)
	err := ir.CatchError(func() { sched.For(other) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestSplit(t *testing.T) {
	_, _, stage := double(t, 10)
	axis := stage.Axes[0]
	outer, inner := stage.Split(axis, 4)

	require.Equal(t, []*ir.IterVar{outer, inner}, stage.Axes)
	require.Equal(t, int64(3), extentOf(t, outer), "ceil(10/4)")
	require.Equal(t, int64(4), extentOf(t, inner))
	require.Equal(t, axis.Kind, outer.Kind)
	require.Len(t, stage.Relations, 1)

	// The split-off parent is no longer a leaf.
	err := ir.CatchError(func() { stage.Split(axis, 2) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)

	err = ir.CatchError(func() { stage.Split(outer, 0) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestFuseExtentIsProduct(t *testing.T) {
	_, _, stage := double(t, 3, 5)
	fused := stage.Fuse(stage.Axes...)
	require.Equal(t, []*ir.IterVar{fused}, stage.Axes)
	require.Equal(t, int64(15), extentOf(t, fused))
}

func TestFuseSingleAxisIsIdentity(t *testing.T) {
	_, _, stage := double(t, 8)
	axis := stage.Axes[0]
	require.Same(t, axis, stage.Fuse(axis))
	require.Empty(t, stage.Relations, "identity fuse records no relation")
}

func TestFuseRequiresConsecutiveAxes(t *testing.T) {
	_, _, stage := double(t, 2, 3)
	i, j := stage.Axes[0], stage.Axes[1]
	err := ir.CatchError(func() { stage.Fuse(j, i) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestReorder(t *testing.T) {
	_, _, stage := double(t, 2, 3)
	i, j := stage.Axes[0], stage.Axes[1]
	stage.Reorder(j, i)
	require.Equal(t, []*ir.IterVar{j, i}, stage.Axes)

	err := ir.CatchError(func() { stage.Reorder(i, i) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestTileExtentsMultiplyBack(t *testing.T) {
	_, _, stage := double(t, 12, 8)
	i, j := stage.Axes[0], stage.Axes[1]
	iOuter, jOuter, iInner, jInner := stage.Tile(i, j, 4, 2)

	require.Equal(t, []*ir.IterVar{iOuter, jOuter, iInner, jInner}, stage.Axes)
	require.Equal(t, int64(12), extentOf(t, iOuter)*extentOf(t, iInner))
	require.Equal(t, int64(8), extentOf(t, jOuter)*extentOf(t, jInner))
}

func TestFuseAllAxesKeepsOriginalInputs(t *testing.T) {
	// Passing st.Axes itself variadically must not let the axis-list splice
	// clobber the recorded fuse inputs.
	_, _, stage := double(t, 3, 4)
	i0, i1 := stage.Axes[0], stage.Axes[1]

	fused := stage.Fuse(stage.Axes...)
	require.Equal(t, []*ir.IterVar{fused}, stage.Axes)

	rel := stage.Relations[len(stage.Relations)-1].(*FuseRel)
	require.Same(t, fused, rel.Fused)
	require.Len(t, rel.Inputs, 2)
	require.Same(t, i0, rel.Inputs[0])
	require.Same(t, i1, rel.Inputs[1])
}

func TestTileIsAtomic(t *testing.T) {
	_, _, stage := double(t, 12, 8)
	before := append([]*ir.IterVar(nil), stage.Axes...)

	err := ir.CatchError(func() { stage.Tile(stage.Axes[0], stage.Axes[1], 4, 0) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
	require.Equal(t, before, stage.Axes, "failed tile must leave the stage untouched")
	require.Empty(t, stage.Relations)

	err = ir.CatchError(func() { stage.Tile(stage.Axes[0], stage.Axes[0], 4, 4) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
	require.Equal(t, before, stage.Axes)
}

func TestDoubleBuffer(t *testing.T) {
	a := te.Placeholder(te.Shape(8), "a", dtypes.Float32)
	b := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 2))
	}), "c")[0]
	sched := Create(c.Op)

	bStage := sched.For(b)
	bStage.DoubleBuffer()
	require.True(t, bStage.DoubleBuffered)

	// Outputs cannot be double buffered.
	err := ir.CatchError(func() { sched.For(c).DoubleBuffer() })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestMarks(t *testing.T) {
	_, _, stage := double(t, 16)
	axis := stage.Axes[0]
	stage.Parallel(axis)
	require.Equal(t, ir.ForParallel, stage.Marks[axis])
	stage.Vectorize(axis)
	require.Equal(t, ir.ForVectorized, stage.Marks[axis])
	stage.Unroll(axis)
	require.Equal(t, ir.ForUnrolled, stage.Marks[axis])
}

func TestReduceAxisCannotBeParallelized(t *testing.T) {
	a := te.Placeholder(te.Shape(16), "a", dtypes.Float32)
	k := te.ReduceAxis(16, "k")
	out := te.Sum(a.Get(k), "total", k)
	sched := Create(out.Op)
	stage := sched.For(out)

	err := ir.CatchError(func() { stage.Parallel(stage.Axes[0]) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
	err = ir.CatchError(func() { stage.Vectorize(stage.Axes[0]) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)

	// Unroll is fine on reduce axes.
	require.NoError(t, ir.CatchError(func() { stage.Unroll(stage.Axes[0]) }))
}

func TestBindGPUAxisNames(t *testing.T) {
	for _, test := range []struct {
		dims      []int
		wantNames []string
	}{
		{[]int{4}, []string{"threadIdx.x"}},
		{[]int{4, 4}, []string{"threadIdx.y", "threadIdx.x"}},
		{[]int{4, 4, 4}, []string{"threadIdx.z", "threadIdx.y", "threadIdx.x"}},
	} {
		_, _, stage := double(t, test.dims...)
		stage.BindGPU(nil, stage.Axes)
		for i, axis := range stage.Axes {
			require.Equal(t, test.wantNames[i], stage.Binds[axis].ThreadTag,
				"dims=%v axis=%d", test.dims, i)
		}
	}
}

func TestBindGPUTooManyAxes(t *testing.T) {
	_, _, stage := double(t, 2, 2, 2, 2)
	err := ir.CatchError(func() { stage.BindGPU(nil, stage.Axes) })
	require.ErrorIs(t, err, ir.ErrTooManyAxes)
	require.Empty(t, stage.Binds, "failed bind_gpu must not bind anything")
}

func TestThreadIndexAxesAreImmutable(t *testing.T) {
	_, _, stage := double(t, 16)
	axis := stage.Axes[0]
	stage.Bind(axis, ir.ThreadAxis("threadIdx.x"))

	// The bound leaf axis itself can still be addressed, but thread-index
	// variables may never be split, fused, reordered or re-bound.
	thread := ir.ThreadAxis("blockIdx.x")
	stage.Axes = append(stage.Axes, thread) // simulate a thread axis leaking into the leaves
	err := ir.CatchError(func() { stage.Split(thread, 2) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
	err = ir.CatchError(func() { stage.Fuse(stage.Axes...) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
	err = ir.CatchError(func() { stage.Reorder(thread) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
	err = ir.CatchError(func() { stage.Parallel(thread) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestComputeAtAndInline(t *testing.T) {
	a := te.Placeholder(te.Shape(8), "a", dtypes.Float32)
	b := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(8), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 2))
	}), "c")[0]
	sched := Create(c.Op)

	bStage, cStage := sched.For(b), sched.For(c)
	bStage.ComputeAt(cStage, cStage.Axes[0])
	require.Equal(t, AttachAt, bStage.Attach)
	require.Equal(t, cStage, bStage.AttachStage)

	bStage.ComputeInline()
	require.Equal(t, AttachInline, bStage.Attach)

	// Reductions cannot be inlined.
	k := te.ReduceAxis(8, "k")
	total := te.Sum(a.Get(k), "total", k)
	rs := Create(total.Op)
	err := ir.CatchError(func() { rs.For(total).ComputeInline() })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestCacheWrite(t *testing.T) {
	c, sched, stage := double(t, 8)
	cache := sched.CacheWrite(c, "local")

	cacheStage := sched.For(cache)
	require.Equal(t, "local", cacheStage.Scope)
	require.Equal(t, "c.local", cache.Op.OpName())

	// The cache stage is inserted before the original.
	var cacheIdx, origIdx int
	for i, st := range sched.Stages {
		switch st {
		case cacheStage:
			cacheIdx = i
		case stage:
			origIdx = i
		}
	}
	require.Less(t, cacheIdx, origIdx)

	// The original stage now copies from the cache.
	override := stage.EffectiveBody(c.Op.(*te.ComputeOp))
	read, ok := override[0].(*ir.TensorRead)
	require.True(t, ok)
	require.Equal(t, cache.Op, read.Op)

	// Cache axes are fresh: scheduling the cache must not touch the original.
	require.NotSame(t, stage.Axes[0], cacheStage.Axes[0])
}

func TestCacheReadUnsupported(t *testing.T) {
	c, sched, _ := double(t, 8)
	err := ir.CatchError(func() { sched.CacheRead(c, "shared", nil) })
	require.ErrorIs(t, err, ir.ErrUnsupportedOperation)
}

func TestInjectivePolicies(t *testing.T) {
	_, _, cpuStage := double(t, 6, 7)
	fused := InjectiveCPU(cpuStage)
	require.Equal(t, []*ir.IterVar{fused}, cpuStage.Axes)
	require.Equal(t, ir.ForParallel, cpuStage.Marks[fused])
	require.Equal(t, int64(42), extentOf(t, fused))

	_, _, gpuStage := double(t, 6, 7)
	block, thread := InjectiveGPU(gpuStage, 8)
	require.Equal(t, "blockIdx.x", gpuStage.Binds[block].ThreadTag)
	require.Equal(t, "threadIdx.x", gpuStage.Binds[thread].ThreadTag)
	require.Equal(t, int64(8), extentOf(t, thread))
	require.Equal(t, int64(6), extentOf(t, block), "ceil(42/8)")

	// The policies reject reductions.
	a := te.Placeholder(te.Shape(4), "a", dtypes.Float32)
	k := te.ReduceAxis(4, "k")
	total := te.Sum(a.Get(k), "total", k)
	rs := Create(total.Op)
	err := ir.CatchError(func() { InjectiveCPU(rs.For(total)) })
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	_, sched, _ := double(t, 4)
	require.False(t, sched.Normalized())
	sched.Normalize()
	require.True(t, sched.Normalized())
	sched.Normalize()
	require.True(t, sched.Normalized())
}
