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

// Package lower runs the lowering pipeline: it turns a schedule over tensor
// expressions into a LoweredFunc whose body is a flat-memory statement tree,
// through a fixed sequence of phases (realization, storage flattening,
// vectorization, unrolling, simplification, cleanup).
//
// Lower is the pipeline entry point and returns errors; the phases themselves
// throw (panic with an error) like the rest of the frontend.
package lower

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/schedule"
	"github.com/tech-ascent/tvm-go/te"
	"k8s.io/klog/v2"
)

// Options configures one Lower call.
type Options struct {
	// Config is the pipeline configuration; nil means DefaultBuildConfig().
	Config *BuildConfig

	// Binds maps argument tensors to explicit buffer layouts. Tensors without
	// a binding get a compact row-major buffer declared for them.
	Binds map[te.Tensor]*ir.Buffer

	// SimpleMode stops the pipeline before loop partitioning and the
	// argument-checking wrapper, returning the bare statement tree in a host
	// function. Meant for inspecting schedules and for tests.
	SimpleMode bool
}

// Lower runs the pipeline over a schedule and returns the lowered function.
//
// args lists the function's arguments in order: te.Tensor values (inputs and
// outputs of the computation) and *ir.Var scalars. Every tensor read or
// written by the schedule that is not realized internally must appear in args.
func Lower(sched *schedule.Schedule, args []any, name string, opts *Options) (f *ir.LoweredFunc, err error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultBuildConfig()
	}
	err = ir.CatchError(func() {
		f = lowerInternal(sched, args, name, cfg, opts)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "lowering function %q", name)
	}
	return f, nil
}

func lowerInternal(sched *schedule.Schedule, args []any, name string, cfg *BuildConfig, opts *Options) *ir.LoweredFunc {
	sched.Normalize()

	fnArgs, external := bindArgs(args, cfg, opts.Binds)

	bounds := inferBounds(sched)
	stmt := realizeSchedule(sched, bounds)
	logPhase(name, "schedule ops", stmt)

	stmt = injectPrefetch(stmt)
	logPhase(name, "inject prefetch", stmt)

	stmt = flattenStorage(stmt, external)
	logPhase(name, "storage flatten", stmt)

	stmt = simplifyStmt(stmt)
	logPhase(name, "canonical simplify", stmt)

	if !opts.SimpleMode {
		stmt = partitionLoops(stmt, cfg)
		logPhase(name, "loop partition", stmt)
	}

	stmt = vectorizeLoops(stmt)
	logPhase(name, "vectorize", stmt)

	stmt = injectVirtualThreads(stmt)
	logPhase(name, "inject virtual threads", stmt)

	stmt = injectDoubleBuffer(stmt, cfg)
	logPhase(name, "inject double buffer", stmt)

	stmt = rewriteStorage(stmt)
	logPhase(name, "storage rewrite", stmt)

	stmt = unrollLoops(stmt, cfg)
	logPhase(name, "unroll", stmt)

	stmt = simplifyStmt(stmt)
	logPhase(name, "simplify", stmt)

	stmt = lowerStorageAccessInfo(stmt)
	logPhase(name, "lower storage access info", stmt)

	stmt = removeNoOps(stmt)
	logPhase(name, "remove no-op", stmt)

	stmt = rewriteUnsafeSelects(stmt)
	logPhase(name, "rewrite unsafe select", stmt)

	if opts.SimpleMode {
		return &ir.LoweredFunc{Name: name, Args: fnArgs, Body: stmt, Type: ir.FuncTypeHost,
			Restricted: cfg.RestrictedFunc}
	}
	return makeAPI(name, fnArgs, stmt, cfg)
}

func logPhase(name, phase string, stmt ir.Stmt) {
	if klog.V(1).Enabled() {
		klog.Infof("lower %q: %s done", name, phase)
	}
	if klog.V(3).Enabled() {
		klog.Infof("lower %q after %s:\n%s", name, phase, stmt)
	}
}

// bindArgs builds the function's argument list and the tensor-to-buffer
// binding the flattening phase addresses argument tensors through.
func bindArgs(args []any, cfg *BuildConfig, binds map[te.Tensor]*ir.Buffer) ([]ir.Arg, map[bufferKey]*ir.Buffer) {
	fnArgs := make([]ir.Arg, 0, len(args))
	external := make(map[bufferKey]*ir.Buffer, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case te.Tensor:
			buf := binds[a]
			if buf == nil {
				buf = ir.DeclBuffer(a.Shape(), a.DType(), a.Op.OpName())
				buf.OffsetFactor = cfg.OffsetFactor
				buf.DataAlignment = cfg.DataAlignment
			}
			external[bufferKey{a.Op, a.Index}] = buf
			fnArgs = append(fnArgs, ir.Arg{Buffer: buf})
		case *ir.Buffer:
			fnArgs = append(fnArgs, ir.Arg{Buffer: a})
		case *ir.Var:
			fnArgs = append(fnArgs, ir.Arg{Var: a})
		default:
			exceptions.Panicf("argument %d is a %T; want a te.Tensor, an *ir.Buffer or an *ir.Var", i, arg)
		}
	}
	return fnArgs, external
}

// makeAPI wraps the lowered body into the callable function record: it tags
// the function host or mixed from the thread axes its body launches, and
// carries the no-alias declaration from the configuration.
func makeAPI(name string, args []ir.Arg, body ir.Stmt, cfg *BuildConfig) *ir.LoweredFunc {
	var threadAxes []*ir.IterVar
	seen := make(map[*ir.IterVar]bool)
	ir.WalkStmts(body, func(s ir.Stmt) {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrThreadExtent {
			return
		}
		if axis, ok := attr.Node.(*ir.IterVar); ok && !seen[axis] {
			seen[axis] = true
			threadAxes = append(threadAxes, axis)
		}
	})
	// The walk visits inner attributes first; binding order is outermost
	// first.
	for i, j := 0, len(threadAxes)-1; i < j; i, j = i+1, j-1 {
		threadAxes[i], threadAxes[j] = threadAxes[j], threadAxes[i]
	}
	funcType := ir.FuncTypeHost
	if len(threadAxes) > 0 {
		funcType = ir.FuncTypeMixed
	}
	return &ir.LoweredFunc{
		Name:       name,
		Args:       args,
		Body:       body,
		Type:       funcType,
		ThreadAxes: threadAxes,
		Restricted: cfg.RestrictedFunc,
	}
}
