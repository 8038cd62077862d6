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
	"math"

	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// simplifyStmt folds constants and strips trivially-true guards and
// single-iteration loops throughout the statement tree.
func simplifyStmt(stmt ir.Stmt) ir.Stmt {
	return ir.MutateStmt(stmt, simplifyExpr, func(s ir.Stmt) ir.Stmt {
		switch node := s.(type) {
		case *ir.IfThenElse:
			if cond, ok := node.Cond.(*ir.IntImm); ok {
				if cond.Value != 0 {
					return node.Then
				}
				if node.Else != nil {
					return node.Else
				}
				return ir.NopStmt()
			}
		case *ir.For:
			// A single-iteration loop is its body with the loop variable pinned.
			if extent, ok := node.Extent.(*ir.IntImm); ok && extent.Value == 1 {
				pinned := ir.SubstituteVarsStmt(node.Body, map[*ir.Var]ir.Expr{node.LoopVar: node.Min})
				return ir.MutateStmt(pinned, simplifyExpr, nil)
			}
		}
		return s
	})
}

// simplifyExpr is the per-node rewrite of the simplification pass: constant
// folding plus the usual algebraic identities.
func simplifyExpr(e ir.Expr) ir.Expr {
	switch node := e.(type) {
	case *ir.Binary:
		return simplifyBinary(node)
	case *ir.Compare:
		if folded := foldCompare(node); folded != nil {
			return folded
		}
	case *ir.Select:
		if cond, ok := node.Cond.(*ir.IntImm); ok {
			if cond.Value != 0 {
				return node.TrueValue
			}
			return node.FalseValue
		}
	case *ir.Not:
		if v, ok := node.Value.(*ir.IntImm); ok {
			return boolImm(v.Value == 0)
		}
	case *ir.And:
		if a, ok := node.A.(*ir.IntImm); ok {
			if a.Value == 0 {
				return boolImm(false)
			}
			return node.B
		}
		if b, ok := node.B.(*ir.IntImm); ok && b.Value != 0 {
			return node.A
		}
	case *ir.Or:
		if a, ok := node.A.(*ir.IntImm); ok {
			if a.Value != 0 {
				return boolImm(true)
			}
			return node.B
		}
		if b, ok := node.B.(*ir.IntImm); ok && b.Value == 0 {
			return node.A
		}
	}
	return e
}

func boolImm(value bool) *ir.IntImm {
	if value {
		return ir.ConstInt(dtypes.Bool, 1)
	}
	return ir.ConstInt(dtypes.Bool, 0)
}

func isIntValue(e ir.Expr, value int64) bool {
	imm, ok := e.(*ir.IntImm)
	return ok && imm.Value == value
}

func simplifyBinary(node *ir.Binary) ir.Expr {
	if folded := foldBinary(node); folded != nil {
		return folded
	}
	switch node.Kind {
	case ir.BinAdd:
		if isIntValue(node.A, 0) {
			return node.B
		}
		if isIntValue(node.B, 0) {
			return node.A
		}
	case ir.BinSub:
		if isIntValue(node.B, 0) {
			return node.A
		}
	case ir.BinMul:
		if isIntValue(node.A, 0) || isIntValue(node.B, 0) {
			return ir.ConstInt(node.Dtype, 0)
		}
		if isIntValue(node.A, 1) {
			return node.B
		}
		if isIntValue(node.B, 1) {
			return node.A
		}
	case ir.BinDiv:
		if isIntValue(node.B, 1) {
			return node.A
		}
	case ir.BinMod:
		if isIntValue(node.B, 1) {
			return ir.ConstInt(node.Dtype, 0)
		}
	}
	return node
}

// foldBinary folds a binary over two immediates, or nil when not applicable.
func foldBinary(node *ir.Binary) ir.Expr {
	if a, ok := node.A.(*ir.IntImm); ok {
		if b, ok := node.B.(*ir.IntImm); ok {
			if (node.Kind == ir.BinDiv || node.Kind == ir.BinMod) && b.Value == 0 {
				return nil // leave the division by zero to fail at run time
			}
			return ir.ConstInt(node.Dtype, foldInt(node.Kind, a.Value, b.Value))
		}
	}
	if a, ok := node.A.(*ir.FloatImm); ok {
		if b, ok := node.B.(*ir.FloatImm); ok {
			return ir.ConstFloat(node.Dtype, foldFloat(node.Kind, a.Value, b.Value))
		}
	}
	return nil
}

func foldInt(kind ir.BinaryKind, a, b int64) int64 {
	switch kind {
	case ir.BinAdd:
		return a + b
	case ir.BinSub:
		return a - b
	case ir.BinMul:
		return a * b
	case ir.BinDiv:
		return a / b
	case ir.BinMod:
		return a % b
	case ir.BinMin:
		return min(a, b)
	}
	return max(a, b)
}

func foldFloat(kind ir.BinaryKind, a, b float64) float64 {
	switch kind {
	case ir.BinAdd:
		return a + b
	case ir.BinSub:
		return a - b
	case ir.BinMul:
		return a * b
	case ir.BinDiv:
		return a / b
	case ir.BinMod:
		return math.Mod(a, b)
	case ir.BinMin:
		return math.Min(a, b)
	}
	return math.Max(a, b)
}

func foldCompare(node *ir.Compare) ir.Expr {
	if a, ok := node.A.(*ir.IntImm); ok {
		if b, ok := node.B.(*ir.IntImm); ok {
			return boolImm(compareInt(node.Kind, a.Value, b.Value))
		}
	}
	if a, ok := node.A.(*ir.FloatImm); ok {
		if b, ok := node.B.(*ir.FloatImm); ok {
			return boolImm(compareFloat(node.Kind, a.Value, b.Value))
		}
	}
	return nil
}

func compareInt(kind ir.CompareKind, a, b int64) bool {
	switch kind {
	case ir.CmpEQ:
		return a == b
	case ir.CmpNE:
		return a != b
	case ir.CmpLT:
		return a < b
	case ir.CmpLE:
		return a <= b
	case ir.CmpGT:
		return a > b
	}
	return a >= b
}

func compareFloat(kind ir.CompareKind, a, b float64) bool {
	switch kind {
	case ir.CmpEQ:
		return a == b
	case ir.CmpNE:
		return a != b
	case ir.CmpLT:
		return a < b
	case ir.CmpLE:
		return a <= b
	case ir.CmpGT:
		return a > b
	}
	return a >= b
}
