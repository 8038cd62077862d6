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

// Var is a scalar variable reference.
type Var struct {
	Name  string
	Dtype dtypes.DType
}

// NewVar returns a variable with the given name and dtype.
func NewVar(name string, dtype dtypes.DType) *Var {
	if !dtype.Ok() {
		exceptions.Panicf("variable %q created with invalid dtype", name)
	}
	return &Var{Name: name, Dtype: dtype}
}

func (v *Var) DType() dtypes.DType { return v.Dtype }
func (v *Var) exprNode() {}

// IntImm is an integer immediate.
type IntImm struct {
	Dtype dtypes.DType
	Value int64
}

func (e *IntImm) DType() dtypes.DType { return e.Dtype }
func (e *IntImm) exprNode() {}

// FloatImm is a floating-point immediate. Its value is stored rounded to the
// precision of its dtype (see dtypes.TruncateToStorage).
type FloatImm struct {
	Dtype dtypes.DType
	Value float64
}

func (e *FloatImm) DType() dtypes.DType { return e.Dtype }
func (e *FloatImm) exprNode() {}

// StringImm is a string immediate, of dtype handle. Used for intrinsic and
// packed-call arguments, never for arithmetic.
type StringImm struct {
	Value string
}

func (e *StringImm) DType() dtypes.DType { return dtypes.Handle }
func (e *StringImm) exprNode() {}

// Int returns an int32 immediate, the dtype of loop bounds and indices.
func Int(value int) *IntImm {
	return &IntImm{Dtype: dtypes.Int32, Value: int64(value)}
}

// ConstInt returns an integer immediate of the given dtype.
func ConstInt(dtype dtypes.DType, value int64) *IntImm {
	if !dtype.IsInt() && !dtype.IsBool() {
		exceptions.Panicf("ConstInt: dtype %s is not an integer type", dtype)
	}
	return &IntImm{Dtype: dtype, Value: value}
}

// ConstFloat returns a float immediate of the given dtype, rounded to the
// dtype's storage precision.
func ConstFloat(dtype dtypes.DType, value float64) *FloatImm {
	if !dtype.IsFloat() {
		exceptions.Panicf("ConstFloat: dtype %s is not a float type", dtype)
	}
	return &FloatImm{Dtype: dtype, Value: dtypes.TruncateToStorage(dtype, value)}
}

// Const returns an immediate of the given dtype: IntImm for integer and bool
// dtypes, FloatImm for float dtypes.
func Const(dtype dtypes.DType, value float64) Expr {
	if dtype.IsFloat() {
		return ConstFloat(dtype, value)
	}
	return ConstInt(dtype, int64(value))
}

// BinaryKind enumerates the arithmetic binary operators.
type BinaryKind int8

const (
	BinAdd BinaryKind = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinMin
	BinMax
)

var binaryKindSymbol = [...]string{"+", "-", "*", "/", "%", "min", "max"}

// Binary is an arithmetic binary operation. Both operands have the node's
// dtype; mixed-dtype operands are promoted (with casts) at construction.
type Binary struct {
	Kind  BinaryKind
	A, B  Expr
	Dtype dtypes.DType
}

func (e *Binary) DType() dtypes.DType { return e.Dtype }
func (e *Binary) exprNode() {}

// NewBinary builds an arithmetic binary node, promoting operand dtypes per
// dtypes.Promote and inserting casts where needed. Incompatible dtypes throw.
func NewBinary(kind BinaryKind, a, b Expr) *Binary {
	dtype, err := dtypes.Promote(a.DType(), b.DType())
	if err != nil {
		exceptions.Panicf("operator %q: %v", binaryKindSymbol[kind], err)
	}
	return &Binary{Kind: kind, A: CastTo(dtype, a), B: CastTo(dtype, b), Dtype: dtype}
}

// Add returns a+b.
func Add(a, b Expr) Expr { return NewBinary(BinAdd, a, b) }

// Sub returns a-b.
func Sub(a, b Expr) Expr { return NewBinary(BinSub, a, b) }

// Mul returns a*b.
func Mul(a, b Expr) Expr { return NewBinary(BinMul, a, b) }

// Div returns a/b (integer division truncates).
func Div(a, b Expr) Expr { return NewBinary(BinDiv, a, b) }

// Mod returns a%b.
func Mod(a, b Expr) Expr { return NewBinary(BinMod, a, b) }

// Min returns min(a, b).
func Min(a, b Expr) Expr { return NewBinary(BinMin, a, b) }

// Max returns max(a, b).
func Max(a, b Expr) Expr { return NewBinary(BinMax, a, b) }

// CompareKind enumerates the comparison operators.
type CompareKind int8

const (
	CmpEQ CompareKind = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

var compareKindSymbol = [...]string{"==", "!=", "<", "<=", ">", ">="}

// Compare is a comparison; its dtype is bool (with the operands' lane count).
type Compare struct {
	Kind CompareKind
	A, B Expr
}

func (e *Compare) DType() dtypes.DType {
	return dtypes.Bool.VectorOf(int(e.A.DType().Lanes))
}
func (e *Compare) exprNode() {}

// NewCompare builds a comparison node, promoting operands like NewBinary.
func NewCompare(kind CompareKind, a, b Expr) *Compare {
	dtype, err := dtypes.Promote(a.DType(), b.DType())
	if err != nil {
		exceptions.Panicf("comparison %q: %v", compareKindSymbol[kind], err)
	}
	return &Compare{Kind: kind, A: CastTo(dtype, a), B: CastTo(dtype, b)}
}

// Eq returns a==b.
func Eq(a, b Expr) Expr { return NewCompare(CmpEQ, a, b) }

// Ne returns a!=b.
func Ne(a, b Expr) Expr { return NewCompare(CmpNE, a, b) }

// Lt returns a<b.
func Lt(a, b Expr) Expr { return NewCompare(CmpLT, a, b) }

// Le returns a<=b.
func Le(a, b Expr) Expr { return NewCompare(CmpLE, a, b) }

// Gt returns a>b.
func Gt(a, b Expr) Expr { return NewCompare(CmpGT, a, b) }

// Ge returns a>=b.
func Ge(a, b Expr) Expr { return NewCompare(CmpGE, a, b) }

// Not is boolean negation.
type Not struct {
	Value Expr
}

func (e *Not) DType() dtypes.DType { return e.Value.DType() }
func (e *Not) exprNode() {}

// And is boolean conjunction.
type And struct {
	A, B Expr
}

func (e *And) DType() dtypes.DType { return e.A.DType() }
func (e *And) exprNode() {}

// Or is boolean disjunction.
type Or struct {
	A, B Expr
}

func (e *Or) DType() dtypes.DType { return e.A.DType() }
func (e *Or) exprNode() {}

func checkBool(op string, values ...Expr) {
	for _, v := range values {
		if !v.DType().IsBool() {
			exceptions.Panicf("operator %q requires bool operands, got %s", op, v.DType())
		}
	}
}

// LogicalNot returns !a. The operand must be bool.
func LogicalNot(a Expr) Expr {
	checkBool("!", a)
	return &Not{Value: a}
}

// LogicalAnd returns a&&b. Operands must be bool.
func LogicalAnd(a, b Expr) Expr {
	checkBool("&&", a, b)
	return &And{A: a, B: b}
}

// LogicalOr returns a||b. Operands must be bool.
func LogicalOr(a, b Expr) Expr {
	checkBool("||", a, b)
	return &Or{A: a, B: b}
}

// Select evaluates to TrueValue where Cond holds, FalseValue elsewhere. Both
// branches are (notionally) evaluated; the unsafe-select rewrite phase turns
// selects with side-effecting branches into conditional intrinsic calls.
type Select struct {
	Cond       Expr
	TrueValue  Expr
	FalseValue Expr
}

func (e *Select) DType() dtypes.DType { return e.TrueValue.DType() }
func (e *Select) exprNode() {}

// NewSelect builds a select node. Cond must be bool and the branches must
// have the same dtype.
func NewSelect(cond, trueValue, falseValue Expr) *Select {
	checkBool("select", cond)
	if trueValue.DType() != falseValue.DType() {
		exceptions.Panicf("select branches have different dtypes: %s vs %s",
			trueValue.DType(), falseValue.DType())
	}
	return &Select{Cond: cond, TrueValue: trueValue, FalseValue: falseValue}
}

// Cast reinterprets Value as Dtype.
type Cast struct {
	Dtype dtypes.DType
	Value Expr
}

func (e *Cast) DType() dtypes.DType { return e.Dtype }
func (e *Cast) exprNode() {}

// CastTo returns expr cast to dtype. Casting to the same dtype is the
// identity; constant immediates are folded in place.
func CastTo(dtype dtypes.DType, expr Expr) Expr {
	if expr.DType() == dtype {
		return expr
	}
	if dtype.Lanes != expr.DType().Lanes {
		exceptions.Panicf("cannot cast %s to %s: lane counts differ", expr.DType(), dtype)
	}
	switch imm := expr.(type) {
	case *IntImm:
		if dtype.IsFloat() {
			return ConstFloat(dtype, float64(imm.Value))
		}
		if dtype.IsInt() || dtype.IsBool() {
			return ConstInt(dtype, imm.Value)
		}
	case *FloatImm:
		if dtype.IsFloat() {
			return ConstFloat(dtype, imm.Value)
		}
		if dtype.IsInt() {
			return ConstInt(dtype, int64(imm.Value))
		}
	}
	return &Cast{Dtype: dtype, Value: expr}
}

// CallType distinguishes how a Call is resolved.
type CallType int8

const (
	// CallPureIntrinsic is a pure math function resolved by the target's
	// intrinsic-lowering rules (exp, log, sqrt, ...).
	CallPureIntrinsic CallType = iota

	// CallExtern is an opaque call to an external symbol.
	CallExtern

	// CallPacked is a call through the packed calling convention, used by
	// host code to launch device kernels.
	CallPacked
)

// Call is a function-call expression.
type Call struct {
	Dtype dtypes.DType
	Name  string
	Args  []Expr
	Type  CallType
}

func (e *Call) DType() dtypes.DType { return e.Dtype }
func (e *Call) exprNode() {}

// NewCall builds a call node.
func NewCall(dtype dtypes.DType, name string, callType CallType, args ...Expr) *Call {
	return &Call{Dtype: dtype, Name: name, Args: args, Type: callType}
}

// Names of the pure intrinsics understood by the frontend and the reference
// backend. Target-specific intrinsic lowering may rename them.
const (
	IntrinExp      = "exp"
	IntrinLog      = "log"
	IntrinSqrt     = "sqrt"
	IntrinFloor    = "floor"
	IntrinCeil     = "ceil"
	IntrinRound    = "round"
	IntrinPow      = "pow"
	IntrinPopcount = "popcount"

	// IntrinIfThenElse is the lazy conditional the unsafe-select rewrite
	// lowers Select nodes to: only the selected branch is evaluated.
	IntrinIfThenElse = "if_then_else"

	// IntrinThreadAllreduce is the placeholder for a cross-thread reduction,
	// lowered by the module assembler using the target's warp size.
	IntrinThreadAllreduce = "thread_allreduce"
)

func pureUnary(name string, a Expr) Expr {
	if !a.DType().IsFloat() {
		exceptions.Panicf("intrinsic %q requires a float operand, got %s", name, a.DType())
	}
	return NewCall(a.DType(), name, CallPureIntrinsic, a)
}

// Exp returns e^a.
func Exp(a Expr) Expr { return pureUnary(IntrinExp, a) }

// Log returns the natural logarithm of a.
func Log(a Expr) Expr { return pureUnary(IntrinLog, a) }

// Sqrt returns the square root of a.
func Sqrt(a Expr) Expr { return pureUnary(IntrinSqrt, a) }

// Floor rounds a towards negative infinity.
func Floor(a Expr) Expr { return pureUnary(IntrinFloor, a) }

// Ceil rounds a towards positive infinity.
func Ceil(a Expr) Expr { return pureUnary(IntrinCeil, a) }

// Round rounds a to the nearest integer, half away from zero.
func Round(a Expr) Expr { return pureUnary(IntrinRound, a) }

// Pow returns a^b.
func Pow(a, b Expr) Expr {
	dtype, err := dtypes.Promote(a.DType(), b.DType())
	if err != nil {
		exceptions.Panicf("intrinsic %q: %v", IntrinPow, err)
	}
	if !dtype.IsFloat() {
		exceptions.Panicf("intrinsic %q requires float operands, got %s", IntrinPow, dtype)
	}
	return NewCall(dtype, IntrinPow, CallPureIntrinsic, CastTo(dtype, a), CastTo(dtype, b))
}

// Popcount returns the number of set bits of an integer operand.
func Popcount(a Expr) Expr {
	if !a.DType().IsInt() {
		exceptions.Panicf("intrinsic %q requires an integer operand, got %s", IntrinPopcount, a.DType())
	}
	return NewCall(a.DType(), IntrinPopcount, CallPureIntrinsic, a)
}

// Let binds Var to Value inside Body.
type Let struct {
	Var   *Var
	Value Expr
	Body  Expr
}

func (e *Let) DType() dtypes.DType { return e.Body.DType() }
func (e *Let) exprNode() {}

// Binding is one (variable, value) pair for LetSeq.
type Binding struct {
	Var   *Var
	Value Expr
}

// LetSeq folds an ordered list of bindings right-to-left into nested Let
// nodes around body: the first binding ends up outermost, so later bindings
// may reference earlier ones.
func LetSeq(bindings []Binding, body Expr) Expr {
	result := body
	for i := len(bindings) - 1; i >= 0; i-- {
		result = &Let{Var: bindings[i].Var, Value: bindings[i].Value, Body: result}
	}
	return result
}

// Ramp is the vector [Base, Base+Stride, ..., Base+(Lanes-1)*Stride].
type Ramp struct {
	Base   Expr
	Stride Expr
	Lanes  int
}

func (e *Ramp) DType() dtypes.DType { return e.Base.DType().VectorOf(e.Lanes) }
func (e *Ramp) exprNode() {}

// Broadcast replicates a scalar Value over Lanes vector lanes.
type Broadcast struct {
	Value Expr
	Lanes int
}

func (e *Broadcast) DType() dtypes.DType { return e.Value.DType().VectorOf(e.Lanes) }
func (e *Broadcast) exprNode() {}

// Load reads one value (or a vector of values) from a flat buffer. Only
// present after the storage-flattening phase.
type Load struct {
	Dtype  dtypes.DType
	Buffer *Var
	Index  Expr
}

func (e *Load) DType() dtypes.DType { return e.Dtype }
func (e *Load) exprNode() {}

// TensorRead reads one element of an operation's output tensor, before
// storage flattening. The index-list length always equals the output's rank.
type TensorRead struct {
	Op          Operation
	OutputIndex int
	Indices     []Expr
}

func (e *TensorRead) DType() dtypes.DType { return e.Op.OutputDType(e.OutputIndex) }
func (e *TensorRead) exprNode() {}

// CommReducer is the combine rule of a commutative reduction: Result is the
// combine expression over the accumulator variable LHS and one input variable
// per source, and Identity is the fold's initial value.
type CommReducer struct {
	LHS      *Var
	RHS      []*Var
	Result   Expr
	Identity Expr
}
