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
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// IterKind classifies an iteration variable. The kind restricts which
// schedule transforms are legal on the axis: communicative-reduce axes may
// not be parallelized or vectorized, thread-index axes are bound externally
// and may not be split, fused or reordered.
type IterKind int8

//go:generate go tool enumer -type=IterKind -trimprefix=Iter -output=gen_iterkind_enumer.go itervar.go

const (
	// IterDataParallel axes iterate independently over output elements.
	IterDataParallel IterKind = iota

	// IterThreadIndex axes are bound to a GPU grid/block axis; their extent
	// comes from the launch configuration.
	IterThreadIndex

	// IterCommReduce axes fold a commutative combine function over their
	// domain, in unspecified order.
	IterCommReduce

	// IterOrdered axes must execute in order.
	IterOrdered

	// IterOpaque axes carry no iteration semantics the scheduler may exploit.
	IterOpaque

	// IterUnrolled, IterVectorized, IterParallelized and IterTensorized are
	// data-parallel axes already marked with an execution strategy.
	IterUnrolled
	IterVectorized
	IterParallelized
	IterTensorized
)

// kindsWithoutDomain are the kinds whose IterVar may have a nil domain: their
// loop extent is not part of the variable (e.g. thread indices are bound
// externally by the launch configuration).
var kindsWithoutDomain = map[IterKind]bool{
	IterThreadIndex: true,
	IterOpaque:      true,
	IterTensorized:  true,
}

// IterVar is a bounded iteration variable: a loop axis of an operation or of
// a schedule stage.
type IterVar struct {
	// Domain is the half-open range the variable iterates over. It may be
	// nil only for kinds that do not require a concrete loop extent.
	Domain *Range

	// Var is the variable the loop body references.
	Var *Var

	// Kind restricts the transforms legal on this axis.
	Kind IterKind

	// ThreadTag names the GPU axis ("blockIdx.x", "threadIdx.y", ...) for
	// thread-index variables; empty otherwise.
	ThreadTag string
}

// NewIterVar builds an iteration variable over domain with the given kind.
// An unknown kind throws ErrInvalidIterationKind; a nil domain throws unless
// the kind permits it.
func NewIterVar(domain *Range, name string, kind IterKind, threadTag string) *IterVar {
	if !kind.IsAIterKind() {
		Throwf(ErrInvalidIterationKind, "iteration variable %q created with kind %d", name, kind)
	}
	if domain == nil && !kindsWithoutDomain[kind] {
		Throwf(ErrInvalidIterationKind,
			"iteration variable %q of kind %s requires a concrete domain", name, kind)
	}
	return &IterVar{
		Domain:    domain,
		Var:       NewVar(name, dtypes.Int32),
		Kind:      kind,
		ThreadTag: threadTag,
	}
}

// ThreadAxis builds a thread-index iteration variable directly from a GPU
// axis name such as "blockIdx.x" or "threadIdx.y"; both the variable name and
// the thread tag are set to it.
func ThreadAxis(name string) *IterVar {
	return NewIterVar(nil, name, IterThreadIndex, name)
}

// ExtentInt returns the constant extent of the variable's domain and whether
// it is a known constant.
func (iv *IterVar) ExtentInt() (int64, bool) {
	if iv.Domain == nil {
		return 0, false
	}
	imm, ok := iv.Domain.Extent.(*IntImm)
	if !ok {
		return 0, false
	}
	return imm.Value, true
}

func (iv *IterVar) String() string {
	if iv.Domain == nil {
		return "iter(" + iv.Var.Name + ", " + iv.Kind.String() + ")"
	}
	return "iter(" + iv.Var.Name + ", " + iv.Domain.String() + ", " + iv.Kind.String() + ")"
}
