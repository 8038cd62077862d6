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
	"fmt"
	"strconv"
	"strings"

	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// Readable renderings of the IR, used for inspection, logging and tests.
// Statements render one per line, nested statements indented by two spaces.

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s+%s)", r.Min, r.Min, r.Extent)
}

func (v *Var) String() string { return v.Name }

func (e *IntImm) String() string {
	if e.Dtype == dtypes.Int32 {
		return strconv.FormatInt(e.Value, 10)
	}
	return fmt.Sprintf("(%s)%d", e.Dtype, e.Value)
}

func (e *FloatImm) String() string {
	return fmt.Sprintf("%gf", e.Value)
}

func (e *StringImm) String() string { return strconv.Quote(e.Value) }

func (e *Cast) String() string {
	return fmt.Sprintf("%s(%s)", e.Dtype, e.Value)
}

func (e *Binary) String() string {
	if e.Kind == BinMin || e.Kind == BinMax {
		return fmt.Sprintf("%s(%s, %s)", binaryKindSymbol[e.Kind], e.A, e.B)
	}
	return fmt.Sprintf("(%s %s %s)", e.A, binaryKindSymbol[e.Kind], e.B)
}

func (e *Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", e.A, compareKindSymbol[e.Kind], e.B)
}

func (e *Not) String() string { return fmt.Sprintf("!(%s)", e.Value) }
func (e *And) String() string { return fmt.Sprintf("(%s && %s)", e.A, e.B) }
func (e *Or) String() string  { return fmt.Sprintf("(%s || %s)", e.A, e.B) }

func (e *Select) String() string {
	return fmt.Sprintf("select(%s, %s, %s)", e.Cond, e.TrueValue, e.FalseValue)
}

func (e *Call) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Name + "(" + strings.Join(args, ", ") + ")"
}

func (e *Let) String() string {
	return fmt.Sprintf("(let %s = %s in %s)", e.Var.Name, e.Value, e.Body)
}

func (e *Ramp) String() string {
	return fmt.Sprintf("ramp(%s, %s, %d)", e.Base, e.Stride, e.Lanes)
}

func (e *Broadcast) String() string {
	return fmt.Sprintf("x%d(%s)", e.Lanes, e.Value)
}

func (e *Load) String() string {
	return fmt.Sprintf("%s[%s]", e.Buffer.Name, e.Index)
}

func (e *TensorRead) String() string {
	return e.Op.OpName() + outputSuffix(e.Op, e.OutputIndex) + "(" + joinExprs(e.Indices) + ")"
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func outputSuffix(op Operation, index int) string {
	if op.NumOutputs() == 1 {
		return ""
	}
	return ".v" + strconv.Itoa(index)
}

func indentLines(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n") + "\n"
}

func (s *LetStmt) String() string {
	return fmt.Sprintf("let %s = %s\n%s", s.Var.Name, s.Value, s.Body)
}

func (s *AttrStmt) String() string {
	node := ""
	if named, ok := s.Node.(fmt.Stringer); ok && named != nil {
		node = " " + named.String()
	}
	return fmt.Sprintf("// attr [%s]%s = %s\n%s", s.Key, node, s.Value, s.Body)
}

func (s *AssertStmt) String() string {
	return fmt.Sprintf("assert(%s, %s)\n%s", s.Cond, s.Message, s.Body)
}

func (s *For) String() string {
	return fmt.Sprintf("%s (%s, %s, %s) {\n%s}\n",
		forKindName[s.Kind], s.LoopVar.Name, s.Min, s.Extent, indentLines(s.Body.String(), "  "))
}

func (s *Store) String() string {
	return fmt.Sprintf("%s[%s] = %s\n", s.Buffer.Name, s.Index, s.Value)
}

func (s *Provide) String() string {
	return fmt.Sprintf("%s%s(%s) = %s\n",
		s.Op.OpName(), outputSuffix(s.Op, s.OutputIndex), joinExprs(s.Indices), s.Value)
}

func (s *Realize) String() string {
	bounds := make([]string, len(s.Bounds))
	for i, b := range s.Bounds {
		bounds[i] = b.String()
	}
	return fmt.Sprintf("realize %s%s(%s) {\n%s}\n",
		s.Op.OpName(), outputSuffix(s.Op, s.OutputIndex), strings.Join(bounds, ", "),
		indentLines(s.Body.String(), "  "))
}

func (s *Allocate) String() string {
	return fmt.Sprintf("allocate %s[%s x %s] {\n%s}\n",
		s.Buffer.Name, s.Dtype, joinExprs(s.Extents), indentLines(s.Body.String(), "  "))
}

func (s *IfThenElse) String() string {
	out := fmt.Sprintf("if (%s) {\n%s}", s.Cond, indentLines(s.Then.String(), "  "))
	if s.Else != nil {
		out += fmt.Sprintf(" else {\n%s}", indentLines(s.Else.String(), "  "))
	}
	return out + "\n"
}

func (s *Evaluate) String() string {
	return s.Value.String() + "\n"
}

func (s *Seq) String() string {
	var b strings.Builder
	for _, stmt := range s.Stmts {
		b.WriteString(stmt.String())
	}
	return b.String()
}

func (s *Prefetch) String() string {
	bounds := make([]string, len(s.Bounds))
	for i, b := range s.Bounds {
		bounds[i] = b.String()
	}
	return fmt.Sprintf("prefetch %s%s(%s)\n",
		s.Op.OpName(), outputSuffix(s.Op, s.OutputIndex), strings.Join(bounds, ", "))
}
