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
	"github.com/pkg/errors"
)

// Error kinds reported by the frontend. They are wrapped (with context) in
// the errors thrown by builders and returned by the pipeline, and can be
// tested with errors.Is.
var (
	// ErrShapeRankMismatch : an index or argument count differs from the
	// declared rank of a tensor or shape.
	ErrShapeRankMismatch = errors.New("ShapeRankMismatch")

	// ErrInvalidIterationKind : an iteration-variable kind token outside the
	// enumerated set.
	ErrInvalidIterationKind = errors.New("InvalidIterationKind")

	// ErrInvalidIndex : a tensor access index that is neither an iteration
	// variable nor an expression.
	ErrInvalidIndex = errors.New("InvalidIndex")

	// ErrIllegalTransform : a schedule transform incompatible with an axis's
	// iteration kind, or applied to an axis the stage does not own.
	ErrIllegalTransform = errors.New("IllegalTransform")

	// ErrTooManyAxes : more than 3 GPU block or thread axes.
	ErrTooManyAxes = errors.New("TooManyAxes")

	// ErrArityMismatch : a rule function's arity differs from the shape rank
	// or operand count it is applied to.
	ErrArityMismatch = errors.New("ArityMismatch")

	// ErrUnknownTarget : an unresolvable target family name.
	ErrUnknownTarget = errors.New("UnknownTarget")

	// ErrDuplicateFunctionName : two lowered functions with the same name
	// given to the module assembler.
	ErrDuplicateFunctionName = errors.New("DuplicateFunctionName")

	// ErrUnsupportedOperation : an explicitly unimplemented transform.
	ErrUnsupportedOperation = errors.New("UnsupportedOperation")

	// ErrBackendCallFailure : the external code-generation backend reported
	// an error; the wrapping message carries its diagnostic and the
	// originating function name.
	ErrBackendCallFailure = errors.New("BackendCallFailure")
)

// Throwf panics with kind wrapped in a formatted message and a stack trace.
// Builder APIs use it to report user errors; CatchError converts the panic
// back to an error at API boundaries.
func Throwf(kind error, format string, args ...any) {
	panic(errors.Wrapf(kind, format, args...))
}

// CatchError runs fn and returns the error it threw (see Throwf), or nil.
// Panics with non-error values are not caught.
func CatchError(fn func()) error {
	return exceptions.TryCatch[error](fn)
}
