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
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tech-ascent/tvm-go/backends/gosim"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/lower"
	"github.com/tech-ascent/tvm-go/schedule"
	"github.com/tech-ascent/tvm-go/target"
	"github.com/tech-ascent/tvm-go/te"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// lowerVecAdd lowers c[i] = a[i] + b[i] over n elements, scheduled for the
// given target.
func lowerVecAdd(t *testing.T, n int, tgt *target.Target, numThreads int) *ir.LoweredFunc {
	a := te.Placeholder(te.Shape(n), "a", dtypes.Float32)
	b := te.Placeholder(te.Shape(n), "b", dtypes.Float32)
	c := te.Compute(te.Shape(n), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), b.Get(axes[0]))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	if tgt.IsGPU() {
		schedule.InjectiveGPU(sched.For(c), numThreads)
	} else {
		schedule.InjectiveCPU(sched.For(c))
	}
	fn, err := lower.Lower(sched, []any{a, b, c}, "vecadd", nil)
	require.NoError(t, err)
	return fn
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func TestBuildAndRunVecAddCPU(t *testing.T) {
	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	fn := lowerVecAdd(t, 16, tgt, 0)

	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)
	require.Len(t, m.Host, 1)
	require.Empty(t, m.Device, "a CPU schedule has no kernels to split out")

	a := gosim.FromFlat(dtypes.Float32, ramp(16), 16)
	b := gosim.FromFlat(dtypes.Float32, ramp(16), 16)
	c := gosim.NewArray(dtypes.Float32, 16)
	require.NoError(t, m.Entry("vecadd")(a, b, c))
	for i, got := range c.Float64s() {
		require.Equal(t, float64(2*(i+1)), got, "c[%d]", i)
	}
}

func TestBuildAndRunVecAddGPU(t *testing.T) {
	tgt, err := target.Resolve("cuda")
	require.NoError(t, err)
	fn := lowerVecAdd(t, 8, tgt, 4)
	require.Equal(t, ir.FuncTypeMixed, fn.Type)

	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)

	// The mixed function splits into a host launcher and one kernel.
	require.Contains(t, m.Host, "vecadd")
	require.Contains(t, m.Device, "vecadd_kernel0")
	require.Equal(t, ir.FuncTypeDevice, m.Device["vecadd_kernel0"].Type)

	a := gosim.FromFlat(dtypes.Float32, ramp(8), 8)
	b := gosim.FromFlat(dtypes.Float32, ramp(8), 8)
	c := gosim.NewArray(dtypes.Float32, 8)
	require.NoError(t, m.Entry("vecadd")(a, b, c))
	for i, got := range c.Float64s() {
		require.Equal(t, float64(2*(i+1)), got, "c[%d]", i)
	}
}

func TestBuildAndRunDotProduct(t *testing.T) {
	a := te.Placeholder(te.Shape(4), "a", dtypes.Float32)
	b := te.Placeholder(te.Shape(4), "b", dtypes.Float32)
	k := te.ReduceAxis(4, "k")
	out := te.Sum(ir.Mul(a.Get(k), b.Get(k)), "out", k)
	sched := schedule.Create(out.Op)
	fn, err := lower.Lower(sched, []any{a, b, out}, "dot", nil)
	require.NoError(t, err)

	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)

	aArr := gosim.FromFlat(dtypes.Float32, []float32{1, 2, 3, 4}, 4)
	bArr := gosim.FromFlat(dtypes.Float32, []float32{5, 6, 7, 8}, 4)
	outArr := gosim.NewArray(dtypes.Float32, 1)
	require.NoError(t, m.Entry("dot")(aArr, bArr, outArr))
	require.Equal(t, 70.0, outArr.Float64s()[0])
}

func TestBuildAndRunFusedMatrix(t *testing.T) {
	a := te.Placeholder(te.Shape(4, 8), "a", dtypes.Float32)
	c := te.Compute(te.Shape(4, 8), te.Elementwise(2, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0], axes[1]), ir.ConstFloat(dtypes.Float32, 1))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	stage := sched.For(c)
	schedule.InjectiveCPU(stage) // fuses both axes into one parallel loop

	rel, ok := stage.Relations[0].(*schedule.FuseRel)
	require.True(t, ok)
	require.Len(t, rel.Inputs, 2)
	require.NotEqual(t, rel.Inputs[0], rel.Fused, "fused axis must not replace its first input")

	fn, err := lower.Lower(sched, []any{a, c}, "plusone", nil)
	require.NoError(t, err)
	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)

	aArr := gosim.FromFlat(dtypes.Float32, ramp(32), 4, 8)
	cArr := gosim.NewArray(dtypes.Float32, 4, 8)
	require.NoError(t, m.Entry("plusone")(aArr, cArr))
	for i, got := range cArr.Float64s() {
		require.Equal(t, float64(i+2), got, "c[%d]", i)
	}
}

func TestBuildAndRunParallelWithLocalProducer(t *testing.T) {
	a := te.Placeholder(te.Shape(32), "a", dtypes.Float32)
	b := te.Compute(te.Shape(32), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Add(a.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 1))
	}), "b")[0]
	c := te.Compute(te.Shape(32), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		return ir.Mul(b.Get(axes[0]), ir.ConstFloat(dtypes.Float32, 2))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	cStage := sched.For(c)
	sched.For(b).ComputeAt(cStage, cStage.Axes[0])
	cStage.Parallel(cStage.Axes[0])

	fn, err := lower.Lower(sched, []any{a, c}, "staged", nil)
	require.NoError(t, err)
	// The producer allocates inside the parallel loop, once per iteration.
	body := fn.Stmt().String()
	require.Contains(t, body, "parallel (")
	require.Contains(t, body, "allocate b")

	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)

	aArr := gosim.FromFlat(dtypes.Float32, ramp(32), 32)
	cArr := gosim.NewArray(dtypes.Float32, 32)
	require.NoError(t, m.Entry("staged")(aArr, cArr))
	for i, got := range cArr.Float64s() {
		require.Equal(t, float64(2*(i+2)), got, "c[%d]", i)
	}
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	fn := lowerVecAdd(t, 4, tgt, 0)
	_, err = Build([]*ir.LoweredFunc{fn, fn}, tgt, gosim.BackendName)
	require.ErrorIs(t, err, ir.ErrDuplicateFunctionName)
}

func TestBuildRejectsDuplicateDeviceNames(t *testing.T) {
	tgt, err := target.Resolve("cuda")
	require.NoError(t, err)
	kernel := &ir.LoweredFunc{Name: "k", Type: ir.FuncTypeDevice, Body: ir.NopStmt()}

	_, err = Build([]*ir.LoweredFunc{kernel, kernel}, tgt, gosim.BackendName)
	require.ErrorIs(t, err, ir.ErrDuplicateFunctionName)

	// Names collide across the host and device tables too.
	host := &ir.LoweredFunc{Name: "k", Type: ir.FuncTypeHost, Body: ir.NopStmt()}
	_, err = Build([]*ir.LoweredFunc{host, kernel}, tgt, gosim.BackendName)
	require.ErrorIs(t, err, ir.ErrDuplicateFunctionName)
}

func TestBuildChecksLaunchExtents(t *testing.T) {
	tgt, err := target.Resolve("cuda") // allows 512 threads per block
	require.NoError(t, err)
	fn := lowerVecAdd(t, 2048, tgt, 1024)
	_, err = Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.ErrorIs(t, err, ir.ErrIllegalTransform)
}

func TestEntryArityAndTypeChecks(t *testing.T) {
	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	fn := lowerVecAdd(t, 4, tgt, 0)
	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)

	a := gosim.NewArray(dtypes.Float32, 4)
	err = m.Entry("vecadd")(a, a)
	require.ErrorIs(t, err, ir.ErrArityMismatch)

	wrong := gosim.NewArray(dtypes.Int32, 4)
	err = m.Entry("vecadd")(a, a, wrong)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dtype")
}

func TestModuleFinalize(t *testing.T) {
	tgt, err := target.Resolve("cpu")
	require.NoError(t, err)
	fn := lowerVecAdd(t, 4, tgt, 0)
	m, err := Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName)
	require.NoError(t, err)

	require.NotNil(t, m.Entry("vecadd"))
	require.Nil(t, m.Entry("no_such_function"))
	m.Finalize()
	require.Nil(t, m.Entry("vecadd"))
}

func TestSplitHostDeviceCapturesBuffers(t *testing.T) {
	tgt, err := target.Resolve("cuda")
	require.NoError(t, err)
	fn := lowerVecAdd(t, 8, tgt, 4)

	host, kernels := splitHostDevice(fn)
	require.Len(t, kernels, 1)
	kernel := kernels[0]

	// The kernel receives every buffer the region touches as a handle.
	names := make([]string, len(kernel.Args))
	for i, arg := range kernel.Args {
		names[i] = arg.Name()
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, names)

	// The host body launches the kernel through a packed call.
	require.Contains(t, host.Body.String(), "vecadd_kernel0")
	require.NotContains(t, host.Body.String(), "thread_extent")
	require.Contains(t, kernel.Body.String(), "thread_extent")
}
