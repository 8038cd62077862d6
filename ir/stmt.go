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

// LetStmt binds Var to Value for the scope of Body.
type LetStmt struct {
	Var   *Var
	Value Expr
	Body  Stmt
}

func (s *LetStmt) stmtNode() {}

// Attribute keys used on AttrStmt nodes during lowering.
const (
	// AttrThreadExtent marks Body as running under a GPU thread axis; Node is
	// the bound *IterVar and Value its extent.
	AttrThreadExtent = "thread_extent"

	// AttrVirtualThread marks a virtual-thread axis, expanded by the
	// virtual-thread injection phase.
	AttrVirtualThread = "virtual_thread"

	// AttrRealizeScope carries the storage scope of a Realize'd operation;
	// empty value means global memory.
	AttrRealizeScope = "realize_scope"

	// AttrStorageScope carries the storage scope of an Allocate'd buffer
	// after flattening.
	AttrStorageScope = "storage_scope"

	// AttrDoubleBuffer marks an allocation for double buffering.
	AttrDoubleBuffer = "double_buffer_scope"

	// AttrDeviceType binds the device type of the launch context on host
	// functions.
	AttrDeviceType = "device_type"

	// AttrPrefetchScope marks a loop level where a producer region should be
	// prefetched.
	AttrPrefetchScope = "prefetch_scope"
)

// AttrStmt attaches a (Node, Key, Value) annotation over Body. The lowering
// phases use attributes to carry scheduling facts (thread extents, storage
// scopes) down to where they are consumed.
type AttrStmt struct {
	Node  any
	Key   string
	Value Expr
	Body  Stmt
}

func (s *AttrStmt) stmtNode() {}

// AssertStmt checks Cond before Body executes.
type AssertStmt struct {
	Cond    Expr
	Message Expr
	Body    Stmt
}

func (s *AssertStmt) stmtNode() {}

// ForKind is the execution strategy of a loop.
type ForKind int8

const (
	ForSerial ForKind = iota
	ForParallel
	ForVectorized
	ForUnrolled
)

var forKindName = [...]string{"for", "parallel", "vectorized", "unrolled"}

// For iterates LoopVar over [Min, Min+Extent).
type For struct {
	LoopVar *Var
	Min     Expr
	Extent  Expr
	Kind    ForKind
	Body    Stmt
}

func (s *For) stmtNode() {}

// Store writes Value at Index of a flat buffer. Only present after storage
// flattening.
type Store struct {
	Buffer *Var
	Value  Expr
	Index  Expr
}

func (s *Store) stmtNode() {}

// Provide writes Value at the multi-dimensional Indices of an operation's
// output tensor, before storage flattening.
type Provide struct {
	Op          Operation
	OutputIndex int
	Value       Expr
	Indices     []Expr
}

func (s *Provide) stmtNode() {}

// Realize brings an operation's output region into existence for the scope
// of Body; storage flattening turns it into an Allocate (or nothing, for
// function arguments).
type Realize struct {
	Op          Operation
	OutputIndex int
	Dtype       dtypes.DType
	Bounds      []Range
	Body        Stmt
}

func (s *Realize) stmtNode() {}

// Allocate declares a flat buffer of Extents elements for the scope of Body.
type Allocate struct {
	Buffer  *Var
	Dtype   dtypes.DType
	Extents []Expr
	Body    Stmt
}

func (s *Allocate) stmtNode() {}

// IfThenElse branches on Cond; Else may be nil.
type IfThenElse struct {
	Cond Expr
	Then Stmt
	Else Stmt
}

func (s *IfThenElse) stmtNode() {}

// Evaluate evaluates Value for its side effects (e.g. a packed call).
type Evaluate struct {
	Value Expr
}

func (s *Evaluate) stmtNode() {}

// Seq runs its statements in order.
type Seq struct {
	Stmts []Stmt
}

func (s *Seq) stmtNode() {}

// Prefetch hints that a region of an operation's output will be needed.
type Prefetch struct {
	Op          Operation
	OutputIndex int
	Dtype       dtypes.DType
	Bounds      []Range
}

func (s *Prefetch) stmtNode() {}

// NopStmt returns the canonical no-op statement, Evaluate(0). The no-op
// removal phase strips them.
func NopStmt() Stmt {
	return &Evaluate{Value: Int(0)}
}

// IsNopStmt reports whether s is a no-op: Evaluate of a constant, or an empty
// Seq.
func IsNopStmt(s Stmt) bool {
	switch stmt := s.(type) {
	case *Evaluate:
		switch stmt.Value.(type) {
		case *IntImm, *FloatImm, *StringImm:
			return true
		}
	case *Seq:
		return len(stmt.Stmts) == 0
	}
	return false
}

// SeqOf joins statements into a single statement, flattening nested Seqs and
// dropping no-ops. An empty result collapses to a no-op.
func SeqOf(stmts ...Stmt) Stmt {
	var flat []Stmt
	for _, s := range stmts {
		if s == nil || IsNopStmt(s) {
			continue
		}
		if seq, ok := s.(*Seq); ok {
			flat = append(flat, seq.Stmts...)
			continue
		}
		flat = append(flat, s)
	}
	switch len(flat) {
	case 0:
		return NopStmt()
	case 1:
		return flat[0]
	}
	return &Seq{Stmts: flat}
}
