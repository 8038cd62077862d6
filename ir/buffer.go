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
	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// Buffer is a memory-layout descriptor binding an abstract tensor to concrete
// storage: a data pointer, a shape, per-dimension strides and an element
// offset. The frontend only declares layouts; allocating and copying the
// memory behind Data is the buffer layer's contract.
type Buffer struct {
	// Data is the handle variable holding the buffer's base pointer.
	Data *Var

	// Dtype is the element type.
	Dtype dtypes.DType

	// Shape holds the extent of each dimension.
	Shape []Expr

	// Strides holds the per-dimension stride in elements. Empty means
	// compact row-major.
	Strides []Expr

	// ElemOffset is the offset in elements of the first addressable element.
	ElemOffset Expr

	// Name of the buffer, used in diagnostics.
	Name string

	// Scope is the storage scope; empty means global memory.
	Scope string

	// DataAlignment is the byte alignment of Data, or -1 for the default.
	DataAlignment int

	// OffsetFactor is the required divisibility of ElemOffset, or 0 for none.
	OffsetFactor int
}

// DeclBuffer declares a compact, row-major buffer for a tensor-shaped value.
// It is how tensor arguments without an explicit buffer binding are rewritten
// during lowering.
func DeclBuffer(shape []Expr, dtype dtypes.DType, name string) *Buffer {
	if len(shape) == 0 {
		// Scalars get a one-element buffer.
		shape = []Expr{Int(1)}
	}
	if !dtype.Ok() {
		exceptions.Panicf("cannot declare buffer %q with invalid dtype", name)
	}
	return &Buffer{
		Data:          NewVar(name, dtypes.Handle),
		Dtype:         dtype,
		Shape:         shape,
		ElemOffset:    Int(0),
		Name:          name,
		DataAlignment: -1,
	}
}

// FlatIndex folds a multi-dimensional index into a flat element offset using
// the buffer's strides (row-major when no strides are declared).
func (b *Buffer) FlatIndex(indices []Expr) Expr {
	if len(indices) != len(b.Shape) {
		Throwf(ErrShapeRankMismatch, "buffer %q has rank %d, indexed with %d indices",
			b.Name, len(b.Shape), len(indices))
	}
	var index Expr
	if len(b.Strides) > 0 {
		for i, idx := range indices {
			term := Mul(idx, b.Strides[i])
			if index == nil {
				index = term
			} else {
				index = Add(index, term)
			}
		}
	} else {
		// Row-major: ((i0*d1 + i1)*d2 + i2)...
		for i, idx := range indices {
			if index == nil {
				index = idx
				continue
			}
			index = Add(Mul(index, b.Shape[i]), idx)
		}
	}
	if index == nil {
		index = Int(0)
	}
	if imm, ok := b.ElemOffset.(*IntImm); !ok || imm.Value != 0 {
		index = Add(index, b.ElemOffset)
	}
	return index
}
