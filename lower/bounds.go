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
	"k8s.io/klog/v2"
)

// stageBounds holds, per stage, the inferred iteration range of every leaf
// axis and of every original (pre-transform) axis.
type stageBounds map[*ir.IterVar]ir.Range

// inferBounds walks the schedule consumer-to-producer and resolves the
// iteration range of every axis of every stage.
//
// Leaf ranges come from the axis domains established when the axes were
// created or derived (split/fuse record exact derived domains). Ranges of
// parent axes are reconstructed from the stage's relations. Attached stages
// keep their full producer domain: the realization is conservative and
// computes the complete region at the attachment point.
func inferBounds(sched *schedule.Schedule) map[*schedule.Stage]stageBounds {
	bounds := make(map[*schedule.Stage]stageBounds, len(sched.Stages))
	// Consumers first, for symmetry with how narrowing inference would
	// propagate demands; with conservative full-domain ranges the order only
	// affects logging.
	for i := len(sched.Stages) - 1; i >= 0; i-- {
		stage := sched.Stages[i]
		sb := make(stageBounds)
		for _, axis := range stage.Axes {
			if axis.Domain == nil {
				exceptions.Panicf("bound inference: axis %q of stage %q has no domain",
					axis.Var.Name, stage.Op.OpName())
			}
			sb[axis] = *axis.Domain
		}
		// Reconstruct parent-axis ranges from the relations, newest first,
		// so chained transforms resolve.
		for j := len(stage.Relations) - 1; j >= 0; j-- {
			switch rel := stage.Relations[j].(type) {
			case *schedule.SplitRel:
				sb[rel.Parent] = *rel.Parent.Domain
			case *schedule.FuseRel:
				for _, input := range rel.Inputs {
					sb[input] = *input.Domain
				}
			}
		}
		bounds[stage] = sb
		if klog.V(2).Enabled() {
			klog.Infof("bound inference: stage %q has %d ranges", stage.Op.OpName(), len(sb))
		}
	}
	return bounds
}
