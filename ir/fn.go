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
	"strings"
)

// FuncType tags where a lowered function runs.
type FuncType int8

//go:generate go tool enumer -type=FuncType -trimprefix=FuncType -output=gen_functype_enumer.go fn.go

const (
	// FuncTypeHost functions run on the host only.
	FuncTypeHost FuncType = iota

	// FuncTypeDevice functions are device kernels.
	FuncTypeDevice

	// FuncTypeMixed functions contain both host control code and device
	// regions; the module assembler splits them.
	FuncTypeMixed
)

// Arg is one argument of a LoweredFunc: exactly one of Buffer or Var is set.
type Arg struct {
	Buffer *Buffer
	Var    *Var
}

// Name returns the argument's name.
func (a Arg) Name() string {
	if a.Buffer != nil {
		return a.Buffer.Name
	}
	return a.Var.Name
}

// LoweredFunc is one output of the lowering pipeline: a named function with
// an ordered argument list and a statement-tree body. It is immutable once
// produced.
type LoweredFunc struct {
	// Name is the entry-point name the module will expose.
	Name string

	// Args is the ordered argument list.
	Args []Arg

	// Body is the lowered statement tree.
	Body Stmt

	// Type tags the function host, device or mixed.
	Type FuncType

	// ThreadAxes lists the GPU launch axes referenced by the body, in the
	// order they were bound. Empty for pure host functions.
	ThreadAxes []*IterVar

	// Restricted reports that buffer arguments do not alias, from the build
	// configuration.
	Restricted bool
}

// Stmt returns the function's body statement tree, for inspection and
// printing.
func (f *LoweredFunc) Stmt() Stmt { return f.Body }

func (f *LoweredFunc) String() string {
	var b strings.Builder
	b.WriteString(f.Type.String())
	b.WriteString(" func ")
	b.WriteString(f.Name)
	b.WriteString("(")
	for i, arg := range f.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.Name())
	}
	b.WriteString(") {\n")
	b.WriteString(indentLines(f.Body.String(), "  "))
	b.WriteString("}\n")
	return b.String()
}
