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

// Package ir defines the intermediate representation of the compiler
// frontend: typed, immutable expression and statement nodes.
//
// The node set is closed: every expression is one of the Expr implementations
// in this package, and every statement one of the Stmt implementations, so
// rewrite passes dispatch with a type switch and the compiler checks
// exhaustiveness where it matters.
//
// Nodes are built bottom-up and never mutated after construction, so a node may
// only reference nodes created before it, so the graph is always a DAG.
// Rewrites (see MutateExpr, MutateStmt) build new nodes and share unchanged
// subtrees.
//
// ## Error handling
//
// Expression constructors validate their operands and, like the op builders
// in the rest of the frontend, report user errors by throwing (panicking)
// with an error value that carries a stack trace; see package
// github.com/gomlx/exceptions and Throwf in this package. The top-level
// pipeline entry points catch those and return them as ordinary errors.
package ir

import (
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// Expr is a typed expression node. All implementations live in this package.
type Expr interface {
	// DType returns the resolved scalar datatype of the expression.
	DType() dtypes.DType

	// String returns a readable rendering of the expression.
	String() string

	exprNode()
}

// Stmt is a statement node of lowered (or partially lowered) code.
type Stmt interface {
	// String returns a readable rendering of the statement, one line per
	// nested statement.
	String() string

	stmtNode()
}

// Operation produces one or more tensors. The concrete operation types
// (placeholder, compute, reduce) live in package te; the IR only needs this
// view of them to type tensor reads and to realize storage.
type Operation interface {
	// OpName returns the operation's name, used in diagnostics and to name
	// storage.
	OpName() string

	// NumOutputs returns how many tensors the operation produces.
	NumOutputs() int

	// OutputDType returns the dtype of the i-th output tensor.
	OutputDType(i int) dtypes.DType

	// OutputShape returns the shape (ordered extents) of the i-th output.
	OutputShape(i int) []Expr

	// InputOps returns the operations whose outputs this operation reads.
	InputOps() []Operation
}

// Range is a half-open interval [Min, Min+Extent).
type Range struct {
	Min    Expr
	Extent Expr
}

// MakeRange returns the range [min, min+extent).
func MakeRange(min, extent Expr) Range {
	return Range{Min: min, Extent: extent}
}

// RangeFromExtent returns the range [0, extent).
func RangeFromExtent(extent Expr) Range {
	return Range{Min: Int(0), Extent: extent}
}
