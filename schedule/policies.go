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
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/te"
)

// Canned scheduling policies for injective (element-wise, no reduction)
// operations.

func requireInjective(policy string, st *Stage) {
	if _, ok := st.Op.(*te.ComputeOp); !ok {
		ir.Throwf(ir.ErrIllegalTransform,
			"%s: operation %q is not an injective compute operation", policy, st.Op.OpName())
	}
}

// InjectiveCPU fuses all of the stage's axes into one and parallelizes it.
// It returns the fused axis.
func InjectiveCPU(st *Stage) *ir.IterVar {
	requireInjective("injective CPU policy", st)
	fused := st.Fuse(st.Axes...)
	st.Parallel(fused)
	return fused
}

// InjectiveGPU fuses all of the stage's axes into one, splits it by the
// thread-count factor, and binds the outer axis to blockIdx.x and the inner
// axis to threadIdx.x. It returns (block axis, thread axis).
func InjectiveGPU(st *Stage, numThreads int) (block, thread *ir.IterVar) {
	requireInjective("injective GPU policy", st)
	fused := st.Fuse(st.Axes...)
	block, thread = st.Split(fused, numThreads)
	st.BindGPU([]*ir.IterVar{block}, []*ir.IterVar{thread})
	return block, thread
}
