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
	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/schedule"
	"github.com/tech-ascent/tvm-go/te"
)

// realizeSchedule turns the schedule into a single statement tree: one
// realize+loop nest per materialized stage, producers before consumers,
// attached stages injected at their attachment loop, inlined stages
// substituted into their use sites.
func realizeSchedule(sched *schedule.Schedule, bounds map[*schedule.Stage]stageBounds) ir.Stmt {
	r := &realizer{sched: sched, bounds: bounds}
	r.indexAttachments()

	var roots []ir.Stmt
	for _, stage := range sched.Stages {
		if r.skipAtRoot(stage) {
			continue
		}
		roots = append(roots, r.stageStmt(stage))
	}
	root := ir.SeqOf(roots...)
	return r.applyInline(root)
}

type realizer struct {
	sched  *schedule.Schedule
	bounds map[*schedule.Stage]stageBounds

	// attached[consumer][axis] lists the stages computed at that loop level,
	// in schedule order.
	attached map[*schedule.Stage]map[*ir.IterVar][]*schedule.Stage
}

func (r *realizer) indexAttachments() {
	r.attached = make(map[*schedule.Stage]map[*ir.IterVar][]*schedule.Stage)
	for _, stage := range r.sched.Stages {
		if stage.Attach != schedule.AttachAt {
			continue
		}
		perAxis := r.attached[stage.AttachStage]
		if perAxis == nil {
			perAxis = make(map[*ir.IterVar][]*schedule.Stage)
			r.attached[stage.AttachStage] = perAxis
		}
		perAxis[stage.AttachAxis] = append(perAxis[stage.AttachAxis], stage)
	}
}

func (r *realizer) skipAtRoot(stage *schedule.Stage) bool {
	if _, isPlaceholder := stage.Op.(*te.PlaceholderOp); isPlaceholder {
		return true
	}
	return stage.Attach != schedule.AttachRoot
}

// stageStmt builds the full realize+loop nest of one stage.
func (r *realizer) stageStmt(stage *schedule.Stage) ir.Stmt {
	values, guards := r.axisValues(stage)

	var body ir.Stmt
	switch op := stage.Op.(type) {
	case *te.ComputeOp:
		body = r.computeBody(stage, op, values)
	case *te.ReduceOp:
		body = r.reduceUpdate(op, values)
	default:
		exceptions.Panicf("cannot realize operation %q of type %T", stage.Op.OpName(), stage.Op)
	}
	for _, guard := range guards {
		body = &ir.IfThenElse{Cond: guard, Then: body}
	}

	body = r.wrapLoops(stage, body)

	// A reduction initializes its accumulator once, before the loops.
	if op, isReduce := stage.Op.(*te.ReduceOp); isReduce {
		body = ir.SeqOf(r.reduceInit(op), body)
	}

	return r.wrapRealize(stage, body)
}

// axisValues maps every original (pre-transform) axis of the stage to its
// value in terms of the leaf loop variables, reconstructing split and fused
// indices from the stage's relations. It also returns the guard conditions
// needed where a split overruns its parent's extent.
func (r *realizer) axisValues(stage *schedule.Stage) (map[*ir.IterVar]ir.Expr, []ir.Expr) {
	values := make(map[*ir.IterVar]ir.Expr, len(stage.Axes))
	for _, axis := range stage.Axes {
		values[axis] = axis.Var
	}
	var guards []ir.Expr
	for i := len(stage.Relations) - 1; i >= 0; i-- {
		switch rel := stage.Relations[i].(type) {
		case *schedule.SplitRel:
			outer, inner := values[rel.Outer], values[rel.Inner]
			values[rel.Parent] = ir.Add(ir.Mul(outer, ir.Int(rel.Factor)), inner)
			extent := rel.Parent.Domain.Extent
			if n, ok := extent.(*ir.IntImm); !ok || n.Value%int64(rel.Factor) != 0 {
				guards = append(guards, ir.Lt(values[rel.Parent], extent))
			}
		case *schedule.FuseRel:
			v := values[rel.Fused]
			for j := len(rel.Inputs) - 1; j > 0; j-- {
				extent := rel.Inputs[j].Domain.Extent
				values[rel.Inputs[j]] = ir.Mod(v, extent)
				v = ir.Div(v, extent)
			}
			values[rel.Inputs[0]] = v
		}
	}
	return values, guards
}

func substitutionFor(axes []*ir.IterVar, values map[*ir.IterVar]ir.Expr) map[*ir.Var]ir.Expr {
	subst := make(map[*ir.Var]ir.Expr, len(axes))
	for _, axis := range axes {
		if value, ok := values[axis]; ok && value != axis.Var {
			subst[axis.Var] = value
		}
	}
	return subst
}

func (r *realizer) computeBody(stage *schedule.Stage, op *te.ComputeOp, values map[*ir.IterVar]ir.Expr) ir.Stmt {
	subst := substitutionFor(op.Axes, values)
	indices := make([]ir.Expr, len(op.Axes))
	for i, axis := range op.Axes {
		indices[i] = values[axis]
		if indices[i] == nil {
			indices[i] = axis.Var
		}
	}
	body := stage.EffectiveBody(op)
	provides := make([]ir.Stmt, len(body))
	for i, value := range body {
		provides[i] = &ir.Provide{
			Op:          op,
			OutputIndex: i,
			Value:       ir.SubstituteVars(value, subst),
			Indices:     indices,
		}
	}
	return ir.SeqOf(provides...)
}

// reduceInit writes the reduction's identity value to the accumulator.
func (r *realizer) reduceInit(op *te.ReduceOp) ir.Stmt {
	return &ir.Provide{Op: op, OutputIndex: 0, Value: op.Reducer.Identity}
}

// reduceUpdate folds one reduction point into the accumulator: the combine
// expression with the accumulator variable replaced by a read of the output
// and each input variable replaced by its source expression.
func (r *realizer) reduceUpdate(op *te.ReduceOp, values map[*ir.IterVar]ir.Expr) ir.Stmt {
	axisSubst := substitutionFor(op.Axes, values)
	subst := map[*ir.Var]ir.Expr{
		op.Reducer.LHS: &ir.TensorRead{Op: op, OutputIndex: 0},
	}
	for i, input := range op.Reducer.RHS {
		subst[input] = ir.SubstituteVars(op.Sources[i], axisSubst)
	}
	update := ir.SubstituteVars(op.Reducer.Result, subst)
	return &ir.Provide{Op: op, OutputIndex: 0, Value: update}
}

// wrapLoops nests the stage's leaf axes around body, innermost last in
// stage.Axes first. Thread-bound axes become thread-extent attributes instead
// of loops; attached stages are injected at their attachment level.
func (r *realizer) wrapLoops(stage *schedule.Stage, body ir.Stmt) ir.Stmt {
	sb := r.bounds[stage]
	for i := len(stage.Axes) - 1; i >= 0; i-- {
		axis := stage.Axes[i]
		if att := r.attached[stage][axis]; att != nil {
			stmts := make([]ir.Stmt, 0, len(att)+1)
			for _, attachedStage := range att {
				stmts = append(stmts, r.stageStmt(attachedStage))
			}
			body = ir.SeqOf(append(stmts, body)...)
		}
		rng := sb[axis]
		if thread := stage.Binds[axis]; thread != nil {
			body = ir.SubstituteVarsStmt(body, map[*ir.Var]ir.Expr{axis.Var: thread.Var})
			body = &ir.AttrStmt{Node: thread, Key: ir.AttrThreadExtent, Value: rng.Extent, Body: body}
			continue
		}
		body = &ir.For{
			LoopVar: axis.Var,
			Min:     rng.Min,
			Extent:  rng.Extent,
			Kind:    loopKind(stage, axis),
			Body:    body,
		}
	}
	return body
}

func loopKind(stage *schedule.Stage, axis *ir.IterVar) ir.ForKind {
	if kind, marked := stage.Marks[axis]; marked {
		return kind
	}
	switch axis.Kind {
	case ir.IterParallelized:
		return ir.ForParallel
	case ir.IterVectorized:
		return ir.ForVectorized
	case ir.IterUnrolled:
		return ir.ForUnrolled
	}
	return ir.ForSerial
}

// wrapRealize brings the stage's outputs into existence around body, with
// the storage scope carried as an attribute.
func (r *realizer) wrapRealize(stage *schedule.Stage, body ir.Stmt) ir.Stmt {
	op := stage.Op
	for i := op.NumOutputs() - 1; i >= 0; i-- {
		shape := op.OutputShape(i)
		realizeBounds := make([]ir.Range, len(shape))
		for j, extent := range shape {
			realizeBounds[j] = ir.RangeFromExtent(extent)
		}
		if len(realizeBounds) == 0 {
			// Scalar outputs occupy a single element.
			realizeBounds = []ir.Range{ir.RangeFromExtent(ir.Int(1))}
		}
		body = &ir.Realize{Op: op, OutputIndex: i, Dtype: op.OutputDType(i), Bounds: realizeBounds, Body: body}
	}
	if stage.Scope != "" {
		body = &ir.AttrStmt{Node: op, Key: ir.AttrRealizeScope, Value: &ir.StringImm{Value: stage.Scope}, Body: body}
	}
	if stage.DoubleBuffered {
		body = &ir.AttrStmt{Node: op, Key: ir.AttrDoubleBuffer, Value: ir.Int(1), Body: body}
	}
	return body
}

// applyInline substitutes the bodies of inlined stages into every use site.
// Stages are processed consumers-first so chains of inlined producers
// resolve.
func (r *realizer) applyInline(root ir.Stmt) ir.Stmt {
	for i := len(r.sched.Stages) - 1; i >= 0; i-- {
		stage := r.sched.Stages[i]
		if stage.Attach != schedule.AttachInline {
			continue
		}
		op := stage.Op.(*te.ComputeOp)
		body := stage.EffectiveBody(op)[0]
		root = ir.MutateStmt(root, func(e ir.Expr) ir.Expr {
			read, ok := e.(*ir.TensorRead)
			if !ok || read.Op != ir.Operation(op) {
				return e
			}
			subst := make(map[*ir.Var]ir.Expr, len(op.Axes))
			for j, axis := range op.Axes {
				subst[axis.Var] = read.Indices[j]
			}
			return ir.SubstituteVars(body, subst)
		}, nil)
	}
	return root
}
