// tvmgo-lower builds one of the demo schedules, runs it through the lowering
// pipeline and prints the result. With -run it also executes the function on
// the gosim backend and prints the output values.
//
// Examples:
//
//	tvmgo-lower -fn=vecadd -n=16
//	tvmgo-lower -fn=dot -simple=false -run
//	tvmgo-lower -fn=vecadd -target=cuda -simple=false
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/janpfeifer/must"
	"github.com/tech-ascent/tvm-go/backends/gosim"
	"github.com/tech-ascent/tvm-go/build"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/lower"
	"github.com/tech-ascent/tvm-go/schedule"
	"github.com/tech-ascent/tvm-go/target"
	"github.com/tech-ascent/tvm-go/te"
	"github.com/tech-ascent/tvm-go/types/dtypes"
	"k8s.io/klog/v2"
)

var (
	flagFn     = flag.String("fn", "vecadd", "Demo function to lower: \"vecadd\" or \"dot\".")
	flagN      = flag.Int("n", 16, "Length of the demo vectors.")
	flagTarget = flag.String("target", "cpu", "Target family to lower for.")
	flagSimple = flag.Bool("simple", true, "Lower in simple mode: bare statement tree, no argument wrapper.")
	flagRun    = flag.Bool("run", false, "Also execute on the gosim backend and print the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	tgt := must.M1(target.Resolve(*flagTarget))

	var sched *schedule.Schedule
	var args []any
	switch *flagFn {
	case "vecadd":
		sched, args = vecAdd(*flagN, tgt)
	case "dot":
		sched, args = dot(*flagN)
	default:
		klog.Errorf("Unknown -fn=%q; want \"vecadd\" or \"dot\". See 'tvmgo-lower -help'.", *flagFn)
		os.Exit(1)
	}

	fn := must.M1(lower.Lower(sched, args, *flagFn, &lower.Options{SimpleMode: *flagSimple}))
	fmt.Print(fn)

	if *flagRun {
		run(fn, tgt, args)
	}
}

// vecAdd returns the schedule of c[i] = a[i] + b[i], scheduled with the
// injective policy for the target.
func vecAdd(n int, tgt *target.Target) (*schedule.Schedule, []any) {
	a := te.Placeholder(te.Shape(n), "a", dtypes.Float32)
	b := te.Placeholder(te.Shape(n), "b", dtypes.Float32)
	c := te.Compute(te.Shape(n), te.Elementwise(1, func(axes []*ir.IterVar) ir.Expr {
		i := axes[0]
		return ir.Add(a.Get(i), b.Get(i))
	}), "c")[0]
	sched := schedule.Create(c.Op)
	stage := sched.For(c)
	if tgt.IsGPU() {
		schedule.InjectiveGPU(stage, tgt.MaxNumThreads)
	} else {
		schedule.InjectiveCPU(stage)
	}
	return sched, []any{a, b, c}
}

// dot returns the schedule of out = sum_k a[k]*b[k].
func dot(n int) (*schedule.Schedule, []any) {
	a := te.Placeholder(te.Shape(n), "a", dtypes.Float32)
	b := te.Placeholder(te.Shape(n), "b", dtypes.Float32)
	k := te.ReduceAxis(n, "k")
	out := te.Sum(ir.Mul(a.Get(k), b.Get(k)), "out", k)
	sched := schedule.Create(out.Op)
	return sched, []any{a, b, out}
}

func run(fn *ir.LoweredFunc, tgt *target.Target, args []any) {
	module := must.M1(build.Build([]*ir.LoweredFunc{fn}, tgt, gosim.BackendName))
	defer module.Finalize()

	arrays := make([]any, len(args))
	for i, arg := range args {
		tensor := arg.(te.Tensor)
		n := constExtent(tensor)
		array := gosim.NewArray(tensor.DType(), n)
		// Inputs ramp 1, 2, 3, ... so the output is easy to eyeball.
		data := array.Flat().([]float32)
		if i < len(args)-1 {
			for j := range data {
				data[j] = float32(j + 1)
			}
		}
		arrays[i] = array
	}
	must.M(module.Entry(fn.Name)(arrays...))
	fmt.Printf("output: %v\n", arrays[len(arrays)-1].(*gosim.Array).Float64s())
}

func constExtent(t te.Tensor) int {
	shape := t.Shape()
	if len(shape) == 0 {
		return 1
	}
	n := 1
	for _, dim := range shape {
		n *= int(dim.(*ir.IntImm).Value)
	}
	return n
}
