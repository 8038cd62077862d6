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

// Package schedule attaches scheduling state to a finalized operation graph
// and transforms it: loop splitting, fusion, reordering, tiling, execution
// strategy marks, GPU axis binding, attachment (compute_at), inlining and
// write caching.
//
// A Schedule owns one Stage per operation reachable from its outputs. Stages
// are mutated in place by the transform methods; the operation graph itself
// is never touched. A transform call either fully applies or throws leaving
// the Stage exactly as it was: validation happens before any mutation.
//
// Schedules are not safe for concurrent mutation. Building independent
// Schedules from the same (immutable) operation graph is safe.
package schedule

import (
	"strings"

	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/te"
)

// AttachType says where a stage's computation is materialized.
type AttachType int8

const (
	// AttachRoot stages materialize their full tensor at the top level.
	AttachRoot AttachType = iota

	// AttachInline stages are substituted into every use site.
	AttachInline

	// AttachAt stages compute on demand at a loop level of another stage.
	AttachAt
)

// Relation records how transformed axes derive from their parents, for bound
// inference and index reconstruction.
type Relation interface {
	relation()
}

// SplitRel : Parent was split by Factor into Outer*Factor + Inner.
type SplitRel struct {
	Parent *ir.IterVar
	Outer  *ir.IterVar
	Inner  *ir.IterVar
	Factor int
}

func (*SplitRel) relation() {}

// FuseRel : Inputs (outermost first) were collapsed into Fused.
type FuseRel struct {
	Fused  *ir.IterVar
	Inputs []*ir.IterVar
}

func (*FuseRel) relation() {}

// Stage is the scheduling state of exactly one operation inside exactly one
// Schedule.
type Stage struct {
	// Op is the operation this stage schedules.
	Op ir.Operation

	// Axes is the current leaf axis list, in loop-nest order, after any
	// splits and fusions.
	Axes []*ir.IterVar

	// Relations records the split/fuse derivations applied so far.
	Relations []Relation

	// Attach, AttachStage and AttachAxis describe where the computation is
	// materialized.
	Attach      AttachType
	AttachStage *Stage
	AttachAxis  *ir.IterVar

	// Binds maps leaf axes to the GPU thread/block axes they are bound to.
	Binds map[*ir.IterVar]*ir.IterVar

	// Marks maps leaf axes to an execution strategy (parallel, vectorized,
	// unrolled).
	Marks map[*ir.IterVar]ir.ForKind

	// Scope is the storage scope the stage's output is realized in; empty
	// means global memory.
	Scope string

	// DoubleBuffered marks the stage's storage for double buffering during
	// lowering.
	DoubleBuffered bool

	sched *Schedule

	// bodyOverride replaces the op's body during realization; set by
	// CacheWrite so the original op copies from its cache stage.
	bodyOverride []ir.Expr
}

// Schedule is the set of Stages for an operation graph's outputs and their
// transitive dependencies.
type Schedule struct {
	// Outputs are the operations the schedule was created for.
	Outputs []ir.Operation

	// Stages in producer-before-consumer order.
	Stages []*Stage

	byOp       map[ir.Operation]*Stage
	normalized bool
}

// Create builds one Stage per operation reachable from the given output
// operations (including transitive inputs), producers first.
func Create(outputs ...ir.Operation) *Schedule {
	sched := &Schedule{
		Outputs: outputs,
		byOp:    make(map[ir.Operation]*Stage),
	}
	var visit func(op ir.Operation)
	visit = func(op ir.Operation) {
		if _, done := sched.byOp[op]; done {
			return
		}
		// Mark before recursing: the graph is a DAG, so this only guards
		// against diamond re-visits.
		sched.byOp[op] = nil
		for _, input := range op.InputOps() {
			visit(input)
		}
		stage := &Stage{
			Op:    op,
			Axes:  opAxes(op),
			Binds: make(map[*ir.IterVar]*ir.IterVar),
			Marks: make(map[*ir.IterVar]ir.ForKind),
			sched: sched,
		}
		sched.byOp[op] = stage
		sched.Stages = append(sched.Stages, stage)
	}
	for _, op := range outputs {
		visit(op)
	}
	return sched
}

func opAxes(op ir.Operation) []*ir.IterVar {
	switch o := op.(type) {
	case *te.ComputeOp:
		return append([]*ir.IterVar(nil), o.Axes...)
	case *te.ReduceOp:
		return append([]*ir.IterVar(nil), o.Axes...)
	}
	return nil
}

// StageFor returns the Stage scheduling the given operation. Operations not
// part of the schedule throw ErrIllegalTransform.
func (s *Schedule) StageFor(op ir.Operation) *Stage {
	stage, ok := s.byOp[op]
	if !ok || stage == nil {
		ir.Throwf(ir.ErrIllegalTransform, "operation %q is not part of this schedule", op.OpName())
	}
	return stage
}

// For returns the Stage scheduling the tensor's producing operation.
func (s *Schedule) For(t te.Tensor) *Stage {
	return s.StageFor(t.Op)
}

// Normalized reports whether the schedule has been normalized by a lowering
// run; further transforms after that are undefined.
func (s *Schedule) Normalized() bool { return s.normalized }

// Normalize prepares the schedule for lowering. The first call fixes the
// schedule's form; it is destructive in the sense that the schedule must not
// be transformed afterwards. Repeated calls are no-ops.
func (s *Schedule) Normalize() {
	s.normalized = true
}

// EffectiveBody returns the expressions realized for a compute stage: the
// operation's body, unless CacheWrite redirected it.
func (st *Stage) EffectiveBody(op *te.ComputeOp) []ir.Expr {
	if st.bodyOverride != nil {
		return st.bodyOverride
	}
	return op.Body
}

func (st *Stage) axisIndex(axis *ir.IterVar) int {
	for i, a := range st.Axes {
		if a == axis {
			return i
		}
	}
	return -1
}

// requireOwned throws unless the axis is a current leaf axis of the stage.
func (st *Stage) requireOwned(transform string, axis *ir.IterVar) int {
	idx := st.axisIndex(axis)
	if idx < 0 {
		ir.Throwf(ir.ErrIllegalTransform, "%s: axis %q is not an axis of stage %q",
			transform, axis.Var.Name, st.Op.OpName())
	}
	return idx
}

func (st *Stage) requireNotThreadIndex(transform string, axis *ir.IterVar) {
	if axis.Kind == ir.IterThreadIndex {
		ir.Throwf(ir.ErrIllegalTransform,
			"%s: axis %q is a thread index, already bound externally", transform, axis.Var.Name)
	}
}

// Split divides axis into (outer, inner) with inner extent = factor and
// outer extent = ceil(extent/factor). The stage's axis list is updated in
// place; the returned axes are the new handles.
func (st *Stage) Split(axis *ir.IterVar, factor int) (outer, inner *ir.IterVar) {
	idx := st.requireOwned("split", axis)
	st.requireNotThreadIndex("split", axis)
	if factor <= 0 {
		ir.Throwf(ir.ErrIllegalTransform, "split: factor must be positive, got %d", factor)
	}

	outerExtent := splitOuterExtent(axis.Domain.Extent, factor)
	outerDomain := ir.RangeFromExtent(outerExtent)
	innerDomain := ir.RangeFromExtent(ir.Int(factor))
	outer = ir.NewIterVar(&outerDomain, axis.Var.Name+".outer", axis.Kind, "")
	inner = ir.NewIterVar(&innerDomain, axis.Var.Name+".inner", axis.Kind, "")

	st.Axes = append(st.Axes[:idx], append([]*ir.IterVar{outer, inner}, st.Axes[idx+1:]...)...)
	st.Relations = append(st.Relations, &SplitRel{Parent: axis, Outer: outer, Inner: inner, Factor: factor})
	return outer, inner
}

func splitOuterExtent(extent ir.Expr, factor int) ir.Expr {
	if imm, ok := extent.(*ir.IntImm); ok {
		return ir.ConstInt(imm.Dtype, (imm.Value+int64(factor)-1)/int64(factor))
	}
	return ir.Div(ir.Add(extent, ir.Int(factor-1)), ir.Int(factor))
}

// Fuse collapses consecutive axes (outermost first) into a single axis whose
// extent is the product of the inputs'. Fusing a single axis is a no-op that
// returns the axis unchanged.
func (st *Stage) Fuse(axes ...*ir.IterVar) *ir.IterVar {
	if len(axes) == 0 {
		ir.Throwf(ir.ErrIllegalTransform, "fuse: no axes given for stage %q", st.Op.OpName())
	}
	if len(axes) == 1 {
		st.requireOwned("fuse", axes[0])
		return axes[0]
	}
	first := st.requireOwned("fuse", axes[0])
	kind := axes[0].Kind
	for i, axis := range axes {
		idx := st.requireOwned("fuse", axis)
		st.requireNotThreadIndex("fuse", axis)
		if idx != first+i {
			ir.Throwf(ir.ErrIllegalTransform,
				"fuse: axes must be consecutive in the stage's current order, %q is out of place",
				axis.Var.Name)
		}
		if axis.Kind != kind {
			ir.Throwf(ir.ErrIllegalTransform,
				"fuse: axes %q and %q have different iteration kinds (%s vs %s)",
				axes[0].Var.Name, axis.Var.Name, kind, axis.Kind)
		}
	}

	// Callers may pass st.Axes itself variadically, so the splice below would
	// write through the same backing array; keep a private copy.
	inputs := append([]*ir.IterVar(nil), axes...)

	extent := fusedExtent(inputs)
	domain := ir.RangeFromExtent(extent)
	names := make([]string, len(inputs))
	for i, axis := range inputs {
		names[i] = axis.Var.Name
	}
	fused := ir.NewIterVar(&domain, strings.Join(names, ".")+".fused", kind, "")

	st.Axes = append(st.Axes[:first], append([]*ir.IterVar{fused}, st.Axes[first+len(inputs):]...)...)
	st.Relations = append(st.Relations, &FuseRel{Fused: fused, Inputs: inputs})
	return fused
}

func fusedExtent(axes []*ir.IterVar) ir.Expr {
	product := int64(1)
	allConst := true
	for _, axis := range axes {
		if n, ok := axis.ExtentInt(); ok {
			product *= n
		} else {
			allConst = false
			break
		}
	}
	if allConst {
		return ir.Int(int(product))
	}
	extent := axes[0].Domain.Extent
	for _, axis := range axes[1:] {
		extent = ir.Mul(extent, axis.Domain.Extent)
	}
	return extent
}

// Reorder rearranges the stage's loop nest so the listed axes appear in the
// given order (in the slots they currently occupy).
func (st *Stage) Reorder(axes ...*ir.IterVar) {
	positions := make([]int, len(axes))
	seen := make(map[*ir.IterVar]bool, len(axes))
	for i, axis := range axes {
		positions[i] = st.requireOwned("reorder", axis)
		st.requireNotThreadIndex("reorder", axis)
		if seen[axis] {
			ir.Throwf(ir.ErrIllegalTransform, "reorder: axis %q listed twice", axis.Var.Name)
		}
		seen[axis] = true
	}
	sorted := append([]int(nil), positions...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	for i, axis := range axes {
		st.Axes[sorted[i]] = axis
	}
}

// Tile splits both axes and reorders so the two outer axes precede the two
// inner axes: (a, b) becomes (aOuter, bOuter, aInner, bInner).
func (st *Stage) Tile(a, b *ir.IterVar, aFactor, bFactor int) (aOuter, bOuter, aInner, bInner *ir.IterVar) {
	// Validate everything the two splits will check before the first one
	// mutates the stage, so a failing tile leaves the stage untouched.
	st.requireOwned("tile", a)
	st.requireOwned("tile", b)
	st.requireNotThreadIndex("tile", a)
	st.requireNotThreadIndex("tile", b)
	if a == b {
		ir.Throwf(ir.ErrIllegalTransform, "tile: axes must be distinct, got %q twice", a.Var.Name)
	}
	if aFactor <= 0 || bFactor <= 0 {
		ir.Throwf(ir.ErrIllegalTransform, "tile: factors must be positive, got %d and %d", aFactor, bFactor)
	}
	aOuter, aInner = st.Split(a, aFactor)
	bOuter, bInner = st.Split(b, bFactor)
	st.Reorder(aOuter, bOuter, aInner, bInner)
	return
}

func (st *Stage) mark(transform string, axis *ir.IterVar, kind ir.ForKind, forbidden ...ir.IterKind) {
	st.requireOwned(transform, axis)
	st.requireNotThreadIndex(transform, axis)
	for _, bad := range forbidden {
		if axis.Kind == bad {
			ir.Throwf(ir.ErrIllegalTransform, "%s: illegal on axis %q of kind %s",
				transform, axis.Var.Name, axis.Kind)
		}
	}
	st.Marks[axis] = kind
}

// Parallel marks axis for parallel execution. Illegal on communicative-reduce
// and ordered axes.
func (st *Stage) Parallel(axis *ir.IterVar) {
	st.mark("parallel", axis, ir.ForParallel, ir.IterCommReduce, ir.IterOrdered)
}

// Vectorize marks axis for SIMD execution. Illegal on communicative-reduce
// and ordered axes.
func (st *Stage) Vectorize(axis *ir.IterVar) {
	st.mark("vectorize", axis, ir.ForVectorized, ir.IterCommReduce, ir.IterOrdered)
}

// Unroll marks axis for unrolling.
func (st *Stage) Unroll(axis *ir.IterVar) {
	st.mark("unroll", axis, ir.ForUnrolled)
}

// DoubleBuffer marks the stage's storage for double buffering, so a producer
// attached inside a consumer loop can run one iteration ahead. The mark is
// carried to lowering as an allocation annotation; it is meaningful only for
// stages materialized inside another stage's loop nest, never for outputs.
func (st *Stage) DoubleBuffer() {
	for _, out := range st.sched.Outputs {
		if out == st.Op {
			ir.Throwf(ir.ErrIllegalTransform,
				"double_buffer: %q is an output, only intermediate storage can be double buffered",
				st.Op.OpName())
		}
	}
	st.DoubleBuffered = true
}

// Bind binds axis to a GPU thread/block axis (a thread-index IterVar built
// with ir.ThreadAxis).
func (st *Stage) Bind(axis, thread *ir.IterVar) {
	st.requireOwned("bind", axis)
	st.requireNotThreadIndex("bind", axis)
	if thread.Kind != ir.IterThreadIndex {
		ir.Throwf(ir.ErrIllegalTransform,
			"bind: %q is not a thread-index iteration variable (kind %s)",
			thread.Var.Name, thread.Kind)
	}
	st.Binds[axis] = thread
}

// gpuAxisNames returns the trailing n names of (z, y, x): one axis is always
// x, two are (y, x), three are (z, y, x).
func gpuAxisNames(n int) []string {
	names := []string{"z", "y", "x"}
	return names[3-n:]
}

// BindGPU binds up to 3 block axes and up to 3 thread axes to
// blockIdx.{x,y,z} / threadIdx.{x,y,z}, innermost-first. More than 3 axes in
// either group throws ErrTooManyAxes.
func (st *Stage) BindGPU(blockAxes, threadAxes []*ir.IterVar) {
	if len(blockAxes) > 3 {
		ir.Throwf(ir.ErrTooManyAxes, "bind_gpu: %d block axes, at most 3 supported", len(blockAxes))
	}
	if len(threadAxes) > 3 {
		ir.Throwf(ir.ErrTooManyAxes, "bind_gpu: %d thread axes, at most 3 supported", len(threadAxes))
	}
	// Validate everything before binding anything: a failed call must leave
	// the stage untouched.
	for _, axis := range append(append([]*ir.IterVar(nil), blockAxes...), threadAxes...) {
		st.requireOwned("bind_gpu", axis)
		st.requireNotThreadIndex("bind_gpu", axis)
	}
	for i, name := range gpuAxisNames(len(blockAxes)) {
		st.Bind(blockAxes[i], ir.ThreadAxis("blockIdx."+name))
	}
	for i, name := range gpuAxisNames(len(threadAxes)) {
		st.Bind(threadAxes[i], ir.ThreadAxis("threadIdx."+name))
	}
}

// ComputeAt attaches this stage's computation to run at the given loop level
// of another stage, computing values on demand instead of materializing the
// full tensor.
func (st *Stage) ComputeAt(dst *Stage, axis *ir.IterVar) {
	dst.requireOwned("compute_at", axis)
	if dst.sched != st.sched {
		ir.Throwf(ir.ErrIllegalTransform, "compute_at: stages belong to different schedules")
	}
	st.Attach = AttachAt
	st.AttachStage = dst
	st.AttachAxis = axis
}

// ComputeInline marks the stage's operation to be substituted at every use
// site rather than materialized. Only injective compute stages can be
// inlined.
func (st *Stage) ComputeInline() {
	op, ok := st.Op.(*te.ComputeOp)
	if !ok {
		ir.Throwf(ir.ErrIllegalTransform,
			"compute_inline: operation %q is not an injective compute operation", st.Op.OpName())
	}
	if op.NumOutputs() != 1 {
		ir.Throwf(ir.ErrIllegalTransform,
			"compute_inline: operation %q has %d outputs, only single-output ops can be inlined",
			op.Name, op.NumOutputs())
	}
	st.Attach = AttachInline
}

// CacheWrite introduces an intermediate tensor in the given storage scope
// that the tensor's writes flow through: a new cache stage computes the
// original body, and the original stage becomes a copy from the cache. It
// returns the cache tensor; the schedule object is unchanged in identity.
func (s *Schedule) CacheWrite(t te.Tensor, scope string) te.Tensor {
	stage := s.StageFor(t.Op)
	op, ok := t.Op.(*te.ComputeOp)
	if !ok {
		ir.Throwf(ir.ErrUnsupportedOperation,
			"cache_write: only compute operations are supported, %q is not one", t.Op.OpName())
	}
	if scope == "" {
		ir.Throwf(ir.ErrIllegalTransform, "cache_write: empty storage scope")
	}

	// The cache op gets its own iteration variables; the body is rewritten
	// onto them so the two stages can be scheduled independently.
	cacheAxes := make([]*ir.IterVar, len(op.Axes))
	subst := make(map[*ir.Var]ir.Expr, len(op.Axes))
	for i, axis := range op.Axes {
		domain := *axis.Domain
		cacheAxes[i] = ir.NewIterVar(&domain, axis.Var.Name+".c", axis.Kind, "")
		subst[axis.Var] = cacheAxes[i].Var
	}
	body := stage.EffectiveBody(op)
	cacheBody := make([]ir.Expr, len(body))
	for i, e := range body {
		cacheBody[i] = ir.SubstituteVars(e, subst)
	}
	cacheOp := &te.ComputeOp{
		Name: op.Name + "." + scope,
		Axes: cacheAxes,
		Body: cacheBody,
	}
	// Original op now copies element-wise from the cache.
	override := make([]ir.Expr, op.NumOutputs())
	indices := make([]ir.Expr, len(op.Axes))
	for i, axis := range op.Axes {
		indices[i] = axis.Var
	}
	for i := range override {
		override[i] = &ir.TensorRead{Op: cacheOp, OutputIndex: i, Indices: indices}
	}
	stage.bodyOverride = override

	cacheStage := &Stage{
		Op:    cacheOp,
		Axes:  opAxes(cacheOp),
		Binds: make(map[*ir.IterVar]*ir.IterVar),
		Marks: make(map[*ir.IterVar]ir.ForKind),
		Scope: scope,
		sched: s,
	}
	// Insert the cache stage just before the stage it feeds.
	for i, existing := range s.Stages {
		if existing == stage {
			s.Stages = append(s.Stages[:i], append([]*Stage{cacheStage}, s.Stages[i:]...)...)
			break
		}
	}
	s.byOp[cacheOp] = cacheStage
	return te.Tensor{Op: cacheOp, Index: t.Index}
}

// CacheRead is declared for API symmetry but not implemented.
func (s *Schedule) CacheRead(t te.Tensor, scope string, readers []ir.Operation) te.Tensor {
	ir.Throwf(ir.ErrUnsupportedOperation, "cache_read is not implemented")
	return te.Tensor{}
}
